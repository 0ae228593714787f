package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jwalitptl/lesson-notifier/config"
	"github.com/jwalitptl/lesson-notifier/internal/bootstrap"
	"github.com/jwalitptl/lesson-notifier/internal/handler/health"
	"github.com/jwalitptl/lesson-notifier/internal/handler/prometheus"
	"github.com/jwalitptl/lesson-notifier/internal/router"
	"github.com/jwalitptl/lesson-notifier/internal/service/orchestrator"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
)

func setupHealthCheck(app *bootstrap.App, port int, log *logger.Logger) *http.Server {
	r := router.NewRouter(
		router.RouterConfig{Mode: app.Config.Server.Mode},
		log,
		nil,
		health.NewHandler(app.Pinger()),
		prometheus.New(app.Registry, "lesson_notifier_worker"),
	)
	r.Setup()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r.Engine(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load config")
	}

	log := logger.NewLogger(cfg.ToLoggerConfig()).WithFields(map[string]interface{}{"service": "worker"})

	app, err := bootstrap.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialize application")
	}

	loc, _ := cfg.Location()
	healthSrv := setupHealthCheck(app, cfg.Scheduler.HealthPort, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cronLog := log.WithFields(map[string]interface{}{"component": "scheduler"})
	scheduler := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	if cfg.Scheduler.Enabled {
		_, err := scheduler.AddFunc(cfg.Scheduler.Spec, func() {
			result := app.Orchestrator.Run(ctx, orchestrator.Request{})
			log.Info("scheduled run finished",
				"phase", result.Phase,
				"created", result.NotificationsCreated,
				"sent", result.NotificationsSent,
				"failed", result.NotificationsFailed,
				"errors", len(result.Errors),
				"execution_time_ms", result.ExecutionTimeMs,
			)
		})
		if err != nil {
			log.Fatal(err, "invalid scheduler spec", "spec", cfg.Scheduler.Spec)
		}
		scheduler.Start()
		log.Info("scheduler started", "spec", cfg.Scheduler.Spec, "timezone", loc.String())
	} else {
		log.Warn("scheduler disabled, serving health checks only")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	// The worker notices cancellation between batches.
	cancel()
	<-scheduler.Stop().Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "health check server forced to shutdown")
	}
	if err := app.Close(); err != nil {
		log.Error(err, "failed to release resources")
	}
}
