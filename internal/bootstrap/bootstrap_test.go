package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/lesson-notifier/config"
	"github.com/jwalitptl/lesson-notifier/internal/service/orchestrator"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\nworker:\n  delay_between_batches: 10ms\n"), 0o600))
	t.Setenv("ENCRYPTION_KEY", "test-key")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestNew_MemoryPipeline(t *testing.T) {
	app, err := New(context.Background(), memoryConfig(t), logger.Nop())
	require.NoError(t, err)
	defer func() { assert.NoError(t, app.Close()) }()

	assert.Nil(t, app.Pinger())
	assert.Equal(t, 20, app.Worker.Config().BatchSize)
	assert.Equal(t, 5, app.Worker.Config().MaxConcurrency)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result := app.Orchestrator.Run(ctx, orchestrator.Request{})

	assert.Equal(t, orchestrator.PhaseCompleted, result.Phase)
	assert.Empty(t, result.Errors)
	assert.Zero(t, result.NotificationsCreated)

	n, err := testutil.GatherAndCount(app.Registry, "lesson_notifier_run_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
