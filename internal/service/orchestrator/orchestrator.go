// Package orchestrator runs one creation pass followed by one delivery pass
// and folds both into a single result.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/lesson-notifier/internal/service/creator"
	"github.com/jwalitptl/lesson-notifier/internal/worker"
	"github.com/jwalitptl/lesson-notifier/pkg/errors"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/metrics"
)

const (
	PhaseCreating   = "creating"
	PhaseConfirming = "confirming"
	PhaseSending    = "sending"
	PhaseCompleted  = "completed"
	PhaseError      = "error"
)

// DeliveryConfig is the worker tuning used for orchestrated runs.
func DeliveryConfig() worker.DeliveryConfig {
	cfg := worker.DefaultDeliveryConfig()
	cfg.BatchSize = 20
	cfg.MaxConcurrency = 5
	cfg.MaxExecutionTime = 2 * time.Minute
	return cfg
}

type Config struct {
	// SettleTimeout bounds the wait for created rows to become visible.
	SettleTimeout time.Duration
	SettlePoll    time.Duration
}

func DefaultConfig() Config {
	return Config{
		SettleTimeout: 2 * time.Second,
		SettlePoll:    100 * time.Millisecond,
	}
}

type Creator interface {
	Run(ctx context.Context, opts creator.Options) (creator.Result, error)
}

type Deliverer interface {
	Run(ctx context.Context) (worker.DeliveryResult, error)
}

// Confirmer reports how many of the given notifications are visible to readers.
type Confirmer interface {
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
}

type Request struct {
	Reset      bool   `json:"reset"`
	TemplateID string `json:"templateId,omitempty"`
}

type Result struct {
	Phase                string   `json:"phase"`
	NotificationsCreated int      `json:"notificationsCreated"`
	NotificationsSent    int      `json:"notificationsSent"`
	NotificationsFailed  int      `json:"notificationsFailed"`
	DeletedNotifications int64    `json:"deletedNotifications"`
	Errors               []string `json:"errors"`
	ExecutionTimeMs      int64    `json:"executionTimeMs"`
}

type Orchestrator struct {
	cfg       Config
	creator   Creator
	deliverer Deliverer
	confirmer Confirmer
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func New(cfg Config, c Creator, d Deliverer, confirmer Confirmer, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	def := DefaultConfig()
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.SettlePoll <= 0 {
		cfg.SettlePoll = def.SettlePoll
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		cfg:       cfg,
		creator:   c,
		deliverer: d,
		confirmer: confirmer,
		logger:    log,
		metrics:   m,
	}
}

// Run never panics and never fails. Everything that goes wrong ends up in
// Result.Errors.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	result.Errors = []string{}

	defer func() {
		if p := recover(); p != nil {
			err := errors.Critical(fmt.Errorf("%v", p))
			o.logger.Error(err, "notification run panicked", "phase", result.Phase, "stack", string(debug.Stack()))
			result.Errors = append(result.Errors, err.Error())
			result.Phase = PhaseError
			if o.metrics != nil {
				o.metrics.RunErrors.Inc()
			}
		}
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
		if o.metrics != nil {
			o.metrics.RunDuration.WithLabelValues(result.Phase).Observe(time.Since(start).Seconds())
		}
		o.logger.Info("notification run finished",
			"phase", result.Phase,
			"created", result.NotificationsCreated,
			"sent", result.NotificationsSent,
			"failed", result.NotificationsFailed,
			"deleted", result.DeletedNotifications,
			"errors", len(result.Errors),
			"execution_time_ms", result.ExecutionTimeMs,
		)
	}()

	result.Phase = PhaseCreating
	o.logger.Info("notification run started", "reset", req.Reset, "template_id", req.TemplateID)

	created, err := o.creator.Run(ctx, creator.Options{Reset: req.Reset, TemplateID: req.TemplateID})
	if err != nil {
		o.logger.Error(err, "notification creation failed")
		result.Errors = append(result.Errors, err.Error())
	}
	result.NotificationsCreated = created.Created
	result.DeletedNotifications = created.Deleted
	result.Errors = append(result.Errors, created.Errors...)

	result.Phase = PhaseConfirming
	if err := o.confirm(ctx, created.CreatedIDs); err != nil {
		o.logger.Warn("created notifications not confirmed", "error", err.Error())
		result.Errors = append(result.Errors, err.Error())
	}

	result.Phase = PhaseSending
	delivered, err := o.deliverer.Run(ctx)
	if err != nil {
		o.logger.Error(err, "notification delivery failed")
		result.Errors = append(result.Errors, err.Error())
	}
	result.NotificationsSent = delivered.Successful
	result.NotificationsFailed = delivered.Failed

	result.Phase = PhaseCompleted
	return result
}

// confirm waits until every created id is readable, so the delivery poll
// sees the rows this run just wrote.
func (o *Orchestrator) confirm(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 || o.confirmer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.SettleTimeout)
	defer cancel()

	ticker := time.NewTicker(o.cfg.SettlePoll)
	defer ticker.Stop()

	var (
		visible int
		lastErr error
	)
	for {
		visible, lastErr = o.confirmer.CountExisting(ctx, ids)
		if lastErr == nil && visible >= len(ids) {
			return nil
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("confirming created notifications: %w", lastErr)
			}
			return fmt.Errorf("only %d of %d created notifications visible after %s", visible, len(ids), o.cfg.SettleTimeout)
		case <-ticker.C:
		}
	}
}
