package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwalitptl/lesson-notifier/config"
	"github.com/jwalitptl/lesson-notifier/internal/bootstrap"
	"github.com/jwalitptl/lesson-notifier/internal/handler/health"
	"github.com/jwalitptl/lesson-notifier/internal/handler/notification"
	"github.com/jwalitptl/lesson-notifier/internal/handler/prometheus"
	"github.com/jwalitptl/lesson-notifier/internal/middleware"
	"github.com/jwalitptl/lesson-notifier/internal/router"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "failed to load configuration")
	}

	log := logger.NewLogger(cfg.ToLoggerConfig()).WithFields(map[string]interface{}{"service": "api"})

	app, err := bootstrap.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal(err, "failed to initialize application")
	}

	if cfg.Secrets.CronSecret == "" {
		log.Warn("CRON_SECRET not set, trigger routes are unauthenticated")
	}

	loc, _ := cfg.Location()
	notificationHandler := notification.NewHandler(
		app.Orchestrator,
		app.Repos.Notifications,
		loc,
		middleware.CronAuth(cfg.Secrets.CronSecret),
	)

	rateLimit, rateBurst := cfg.HTTPRateLimit()
	r := router.NewRouter(
		router.RouterConfig{
			Mode:      cfg.Server.Mode,
			RateLimit: rateLimit,
			RateBurst: rateBurst,
		},
		log,
		notificationHandler,
		health.NewHandler(app.Pinger()),
		prometheus.New(app.Registry, "lesson_notifier_api"),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "server forced to shutdown")
	}
	if err := app.Close(); err != nil {
		log.Error(err, "failed to release resources")
	}

	log.Info("server exited properly")
}
