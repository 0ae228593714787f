// Package bootstrap wires configuration into a running notification pipeline.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/lesson-notifier/config"
	"github.com/jwalitptl/lesson-notifier/internal/channel"
	"github.com/jwalitptl/lesson-notifier/internal/handler/health"
	"github.com/jwalitptl/lesson-notifier/internal/repository"
	"github.com/jwalitptl/lesson-notifier/internal/repository/memory"
	"github.com/jwalitptl/lesson-notifier/internal/repository/postgres"
	"github.com/jwalitptl/lesson-notifier/internal/service/creator"
	"github.com/jwalitptl/lesson-notifier/internal/service/notification"
	"github.com/jwalitptl/lesson-notifier/internal/service/orchestrator"
	"github.com/jwalitptl/lesson-notifier/internal/worker"
	"github.com/jwalitptl/lesson-notifier/pkg/line"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/messaging"
	"github.com/jwalitptl/lesson-notifier/pkg/messaging/redis"
	"github.com/jwalitptl/lesson-notifier/pkg/metrics"
	"github.com/jwalitptl/lesson-notifier/pkg/security"
	"github.com/jwalitptl/lesson-notifier/pkg/validator"
)

const metricsNamespace = "lesson_notifier"

// Repositories groups the storage the pipeline reads and writes.
type Repositories struct {
	Notifications repository.NotificationRepository
	Templates     repository.TemplateRepository
	Directory     repository.RecipientDirectory
	Channels      repository.ChannelRepository
}

type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Repos        Repositories
	Channels     *channel.Registry
	Worker       *worker.DeliveryWorker
	Orchestrator *orchestrator.Orchestrator

	db     *sqlx.DB
	broker messaging.Broker
}

// New opens storage and builds every component. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	app := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.NewMetrics(metricsNamespace, "", app.Registry)

	if err := app.openStorage(ctx); err != nil {
		return nil, err
	}

	var enc security.Encryptor
	if cfg.Secrets.EncryptionKey != "" {
		var err error
		enc, err = security.NewEncryptorFromSecret(cfg.Secrets.EncryptionKey)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to build credential encryptor: %w", err)
		}
	} else {
		log.Warn("ENCRYPTION_KEY not set, channel credentials are read as plaintext")
	}

	app.Channels = channel.NewRegistry(channel.RegistryConfig{
		CacheTTL: cfg.Channel.CacheTTL,
		Fallback: cfg.FallbackChannel(),
	}, app.Repos.Channels, enc, log.WithFields(map[string]interface{}{"component": "channel_registry"}))

	workerOpts := []worker.Option{worker.WithMetrics(app.Metrics)}
	if cfg.Redis.Enabled {
		broker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), log)
		if err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("failed to create Redis broker: %w", err)
		}
		app.broker = broker
		workerOpts = append(workerOpts, worker.WithPublisher(broker))
	}

	v := validator.New()
	notifSvc := notification.NewService(app.Repos.Notifications, v)

	c := creator.New(
		cfg.ToCreatorConfig(),
		app.Repos.Templates,
		app.Repos.Directory,
		notifSvc,
		v,
		log.WithFields(map[string]interface{}{"component": "creator"}),
		creator.WithMetrics(app.Metrics),
	)

	app.Worker = worker.NewDeliveryWorker(
		app.Repos.Notifications,
		app.Repos.Directory,
		app.Channels,
		channel.NewLineSender(line.NewClient(cfg.ToLineConfig())),
		cfg.ToDeliveryConfig(),
		log.WithFields(map[string]interface{}{"component": "delivery_worker"}),
		workerOpts...,
	)

	app.Orchestrator = orchestrator.New(
		cfg.ToOrchestratorConfig(),
		c,
		app.Worker,
		app.Repos.Notifications,
		log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		app.Metrics,
	)

	return app, nil
}

func (a *App) openStorage(ctx context.Context) error {
	if a.Config.Database.Driver == config.DriverMemory {
		a.Logger.Warn("using in-memory storage, nothing is persisted")
		a.Repos = Repositories{
			Notifications: memory.NewNotificationStore(),
			Templates:     memory.NewTemplateStore(),
			Directory:     memory.NewDirectory(),
			Channels:      memory.NewChannelStore(),
		}
		return nil
	}

	db, err := postgres.NewDB(a.Config.Database)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return err
		}
	}

	base := postgres.NewBaseRepository(db)
	a.Repos = Repositories{
		Notifications: postgres.NewNotificationRepository(base),
		Templates:     postgres.NewTemplateRepository(base),
		Directory:     postgres.NewDirectoryRepository(base),
		Channels:      postgres.NewChannelRepository(base),
	}
	return nil
}

// Pinger returns the readiness check target, nil when storage is in memory.
func (a *App) Pinger() health.Pinger {
	if a.db == nil {
		return nil
	}
	return a.db
}

// Close releases the broker and the database, reporting every failure.
func (a *App) Close() error {
	var result *multierror.Error
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close broker: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
	}
	return result.ErrorOrNil()
}
