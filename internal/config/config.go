// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-news-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-news-crawler/internal/publisher/nats"
	"github.com/JakeFAU/realtime-news-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-news-crawler/internal/publisher/rabbitmq"
	"github.com/JakeFAU/realtime-news-crawler/internal/scheduler"
	"github.com/JakeFAU/realtime-news-crawler/internal/sources"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage/gcs"
	"github.com/JakeFAU/realtime-news-crawler/internal/storage/local"
)

// EnvPrefix namespaces environment overrides, e.g. NEWSCRAWLER_SERVER_PORT.
const EnvPrefix = "NEWSCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig                  `mapstructure:"server"`
	Logging   LoggingConfig                 `mapstructure:"logging"`
	Database  DatabaseConfig                `mapstructure:"database"`
	Queue     QueueConfig                   `mapstructure:"queue"`
	Executor  ExecutorConfig                `mapstructure:"executor"`
	Storage   StorageConfig                 `mapstructure:"storage"`
	Events    EventsConfig                  `mapstructure:"events"`
	Progress  ProgressConfig                `mapstructure:"progress"`
	RateLimit ratelimit.Config              `mapstructure:"ratelimit"`
	Schedule  []scheduler.Entry             `mapstructure:"schedule"`
	Tracing   TracingConfig                 `mapstructure:"tracing"`
	Sources   map[string]sources.Definition `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	APIKey          string        `mapstructure:"api_key"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig selects the article store.
type DatabaseConfig struct {
	// Driver is one of memory, postgres, sqlite.
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// QueueConfig controls job persistence, retries, and retention.
type QueueConfig struct {
	// Backend is memory or badger.
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	SyncWrites    bool          `mapstructure:"sync_writes"`
	Attempts      int           `mapstructure:"attempts"`
	Backoff       time.Duration `mapstructure:"backoff"`
	KeepCompleted int           `mapstructure:"keep_completed"`
	KeepFailed    int           `mapstructure:"keep_failed"`
	MaxStalls     int           `mapstructure:"max_stalls"`
}

// ExecutorConfig controls how scraper processes run.
type ExecutorConfig struct {
	Command        []string            `mapstructure:"command"`
	Commands       map[string][]string `mapstructure:"commands"`
	WorkDir        string              `mapstructure:"work_dir"`
	MaxOutputBytes int64               `mapstructure:"max_output_bytes"`
	Timeout        time.Duration       `mapstructure:"timeout"`
	Archive        bool                `mapstructure:"archive"`
	ArchivePrefix  string              `mapstructure:"archive_prefix"`
}

// StorageConfig selects where raw scraper output is archived.
type StorageConfig struct {
	// Backend is memory, local, or gcs.
	Backend string       `mapstructure:"backend"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// EventsConfig selects the lifecycle event bus.
type EventsConfig struct {
	// Backend is none, memory, pubsub, nats, or rabbitmq.
	Backend  string          `mapstructure:"backend"`
	Topic    string          `mapstructure:"topic"`
	Stages   []string        `mapstructure:"stages"`
	PubSub   pubsub.Config   `mapstructure:"pubsub"`
	NATS     nats.Config     `mapstructure:"nats"`
	RabbitMQ rabbitmq.Config `mapstructure:"rabbitmq"`
}

// ProgressConfig tunes the lifecycle event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
}

// TracingConfig controls OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load reads an optional .env file, then builds a Config from defaults, the
// optional file at path, and NEWSCRAWLER_* environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database.dsn", EnvPrefix+"_DATABASE_DSN", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind env: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.path", "newscrawler.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.path", "data/queue")
	v.SetDefault("queue.sync_writes", true)
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff", 5*time.Second)
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 200)
	v.SetDefault("queue.max_stalls", 1)
	v.SetDefault("executor.command", []string{"node", "scripts/scrape-fxstreet.js"})
	v.SetDefault("executor.work_dir", "")
	v.SetDefault("executor.max_output_bytes", 10<<20)
	v.SetDefault("executor.timeout", 5*time.Minute)
	v.SetDefault("executor.archive", false)
	v.SetDefault("executor.archive_prefix", "raw")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.local.base_dir", "data/raw")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.topic", "crawl-events")
	v.SetDefault("events.pubsub.project_id", "")
	v.SetDefault("events.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("events.nats.subject_prefix", "newscrawler")
	v.SetDefault("events.rabbitmq.url", "")
	v.SetDefault("events.rabbitmq.exchange", "newscrawler.events")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
	v.SetDefault("ratelimit.default.per_minute", 6)
	v.SetDefault("ratelimit.default.burst", 1)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "news-crawler")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Events.Backend = strings.ToLower(strings.TrimSpace(c.Events.Backend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if len(c.Sources) == 0 {
		c.Sources = sources.DefaultDefinitions()
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn must be set for the postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path must be set for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of memory, postgres, sqlite", c.Database.Driver)
	}
	switch c.Queue.Backend {
	case "memory":
	case "badger":
		if c.Queue.Path == "" {
			return errors.New("queue.path must be set for the badger backend")
		}
	default:
		return fmt.Errorf("queue.backend %q is not one of memory, badger", c.Queue.Backend)
	}
	if c.Queue.Attempts < 1 {
		return errors.New("queue.attempts must be >= 1")
	}
	if c.Queue.MaxStalls < 1 {
		return errors.New("queue.max_stalls must be >= 1")
	}
	if c.Queue.Backoff <= 0 {
		return errors.New("queue.backoff must be > 0")
	}
	if len(c.Executor.Command) == 0 && len(c.Executor.Commands) == 0 {
		return errors.New("executor.command or executor.commands must be set")
	}
	if c.Executor.MaxOutputBytes <= 0 {
		return errors.New("executor.max_output_bytes must be > 0")
	}
	if c.Executor.Archive {
		switch c.Storage.Backend {
		case "memory":
		case "local":
			if c.Storage.Local.BaseDir == "" {
				return errors.New("storage.local.base_dir must be set for the local backend")
			}
		case "gcs":
			if c.Storage.GCS.Bucket == "" {
				return errors.New("storage.gcs.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
		}
	}
	switch c.Events.Backend {
	case "", "none", "memory":
	case "pubsub":
		if c.Events.PubSub.ProjectID == "" {
			return errors.New("events.pubsub.project_id must be set for the pubsub backend")
		}
	case "nats":
		if c.Events.NATS.URL == "" {
			return errors.New("events.nats.url must be set for the nats backend")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url must be set for the rabbitmq backend")
		}
	default:
		return fmt.Errorf("events.backend %q is not one of none, memory, pubsub, nats, rabbitmq", c.Events.Backend)
	}
	if c.Events.Backend != "" && c.Events.Backend != "none" && c.Events.Topic == "" {
		return errors.New("events.topic must be set when an event backend is enabled")
	}
	if c.RateLimit.Default.PerMinute < 0 {
		return errors.New("ratelimit.default.per_minute must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be between 0 and 1")
	}
	for i, entry := range c.Schedule {
		if strings.TrimSpace(entry.Spec) == "" {
			return fmt.Errorf("schedule[%d].spec must be set", i)
		}
		if _, ok := c.Sources[strings.ToLower(entry.Source)]; !ok {
			return fmt.Errorf("schedule[%d].source %q is not a configured source", i, entry.Source)
		}
	}
	return nil
}
