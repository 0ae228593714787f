package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/lesson-notifier/internal/model"
	"github.com/jwalitptl/lesson-notifier/internal/schedule"
	"github.com/jwalitptl/lesson-notifier/internal/service/creator"
	"github.com/jwalitptl/lesson-notifier/internal/service/orchestrator"
	"github.com/jwalitptl/lesson-notifier/internal/worker"
	"github.com/jwalitptl/lesson-notifier/pkg/line"
	"github.com/jwalitptl/lesson-notifier/pkg/logger"
	"github.com/jwalitptl/lesson-notifier/pkg/messaging/redis"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	envPrefix = "NOTIFIER"
)

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LineConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type NotificationConfig struct {
	Timezone   string `mapstructure:"timezone"`
	DailyGuard bool   `mapstructure:"daily_guard"`
}

type WorkerConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	MaxConcurrency      int           `mapstructure:"max_concurrency"`
	MaxExecutionTime    time.Duration `mapstructure:"max_execution_time"`
	DelayBetweenBatches time.Duration `mapstructure:"delay_between_batches"`
	SendTimeout         time.Duration `mapstructure:"send_timeout"`
}

type OrchestratorConfig struct {
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	SettlePoll    time.Duration `mapstructure:"settle_poll"`
}

type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Spec       string `mapstructure:"spec"`
	HealthPort int    `mapstructure:"health_port"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type ChannelConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Secrets never live in the config file.
type Secrets struct {
	CronSecret             string `envconfig:"CRON_SECRET"`
	EncryptionKey          string `envconfig:"ENCRYPTION_KEY"`
	LineChannelAccessToken string `envconfig:"LINE_CHANNEL_ACCESS_TOKEN"`
	LineChannelSecret      string `envconfig:"LINE_CHANNEL_SECRET"`
	DBPassword             string `envconfig:"DB_PASSWORD"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Line         LineConfig         `mapstructure:"line"`
	Notification NotificationConfig `mapstructure:"notification"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Channel      ChannelConfig      `mapstructure:"channel"`
	Log          LogConfig          `mapstructure:"log"`

	Secrets Secrets `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "school")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrate", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "notifications")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)

	v.SetDefault("line.base_url", line.DefaultBaseURL)
	v.SetDefault("line.timeout", 10*time.Second)
	v.SetDefault("line.rate_per_second", 50.0)
	v.SetDefault("line.burst", 10)
	v.SetDefault("line.breaker_failures", 5)
	v.SetDefault("line.breaker_timeout", 30*time.Second)

	v.SetDefault("notification.timezone", schedule.DefaultTimezone)
	v.SetDefault("notification.daily_guard", true)

	d := orchestrator.DeliveryConfig()
	v.SetDefault("worker.batch_size", d.BatchSize)
	v.SetDefault("worker.max_concurrency", d.MaxConcurrency)
	v.SetDefault("worker.max_execution_time", d.MaxExecutionTime)
	v.SetDefault("worker.delay_between_batches", d.DelayBetweenBatches)
	v.SetDefault("worker.send_timeout", d.SendTimeout)

	o := orchestrator.DefaultConfig()
	v.SetDefault("orchestrator.settle_timeout", o.SettleTimeout)
	v.SetDefault("orchestrator.settle_poll", o.SettlePoll)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.spec", "*/5 * * * *")
	v.SetDefault("scheduler.health_port", 8081)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 1.0)
	v.SetDefault("rate_limit.burst", 5)

	v.SetDefault("channel.cache_ttl", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads config.yml from path, or from the usual search paths when path
// is empty. A missing file on the search paths is not an error; every key has a
// default and can be overridden with NOTIFIER_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app")
		v.AddConfigPath("/app/config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}
	if cfg.Secrets.DBPassword != "" {
		cfg.Database.Password = cfg.Secrets.DBPassword
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid notification timezone %q: %w", c.Notification.Timezone, err)
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.Spec) == "" {
		return fmt.Errorf("scheduler spec is required when the scheduler is enabled")
	}
	return nil
}

// Location is the school's time zone.
func (c *Config) Location() (*time.Location, error) {
	return schedule.LoadLocation(c.Notification.Timezone)
}

func (c *Config) ToCreatorConfig() creator.Config {
	loc, err := c.Location()
	if err != nil {
		loc = creator.DefaultConfig().Location
	}
	return creator.Config{
		Location:   loc,
		DailyGuard: c.Notification.DailyGuard,
	}
}

func (c *Config) ToDeliveryConfig() worker.DeliveryConfig {
	return worker.DeliveryConfig{
		BatchSize:           c.Worker.BatchSize,
		MaxConcurrency:      c.Worker.MaxConcurrency,
		MaxExecutionTime:    c.Worker.MaxExecutionTime,
		DelayBetweenBatches: c.Worker.DelayBetweenBatches,
		SendTimeout:         c.Worker.SendTimeout,
	}
}

func (c *Config) ToOrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		SettleTimeout: c.Orchestrator.SettleTimeout,
		SettlePoll:    c.Orchestrator.SettlePoll,
	}
}

func (c *Config) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.Redis.URL,
		Channel:      c.Redis.Channel,
		MaxRetries:   c.Redis.MaxRetries,
		RetryBackoff: c.Redis.RetryBackoff,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
	}
}

func (c *Config) ToLineConfig() line.Config {
	return line.Config{
		BaseURL:         c.Line.BaseURL,
		Timeout:         c.Line.Timeout,
		RatePerSecond:   c.Line.RatePerSecond,
		Burst:           c.Line.Burst,
		BreakerFailures: c.Line.BreakerFailures,
		BreakerTimeout:  c.Line.BreakerTimeout,
	}
}

func (c *Config) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      logger.ParseLevel(c.Log.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		Pretty:     c.Log.Pretty,
	}
}

// FallbackChannel returns the env-provided channel used when neither the
// branch nor the default channel is configured in the database.
func (c *Config) FallbackChannel() *model.ChannelCredentials {
	if c.Secrets.LineChannelAccessToken == "" {
		return nil
	}
	return &model.ChannelCredentials{
		ChannelID:          "env",
		ChannelAccessToken: c.Secrets.LineChannelAccessToken,
		ChannelSecret:      c.Secrets.LineChannelSecret,
	}
}

// HTTPRateLimit returns the trigger route limit, zero when disabled.
func (c *Config) HTTPRateLimit() (rate.Limit, int) {
	if !c.RateLimit.Enabled || c.RateLimit.RequestsPerSecond <= 0 {
		return 0, 0
	}
	return rate.Limit(c.RateLimit.RequestsPerSecond), c.RateLimit.Burst
}
