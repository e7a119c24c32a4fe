// Package config loads and validates worker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	localstorage "github.com/JakeFAU/git-clone-worker/internal/storage/local"
)

// Config captures all worker configuration knobs loaded via Viper.
type Config struct {
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Checkout    CheckoutConfig    `mapstructure:"checkout"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Database    DatabaseConfig    `mapstructure:"database"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Manifest    ManifestConfig    `mapstructure:"manifest"`
}

// CoordinatorConfig describes the DDP endpoint.
type CoordinatorConfig struct {
	Host                    string `mapstructure:"host"`
	Port                    int    `mapstructure:"port"`
	UseSSL                  bool   `mapstructure:"use_ssl"`
	Path                    string `mapstructure:"path"`
	HandshakeTimeoutSeconds int    `mapstructure:"handshake_timeout_seconds"`
}

// QueueConfig names the job collection and controls the claim loop.
type QueueConfig struct {
	Root                string `mapstructure:"root"`
	JobType             string `mapstructure:"job_type"`
	Collection          string `mapstructure:"collection"`
	Subscription        string `mapstructure:"subscription"`
	UserID              string `mapstructure:"user_id"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	WorkTimeoutSeconds  int    `mapstructure:"work_timeout_seconds"`
	// LocalRepos switches to an in-process coordinator seeded with these
	// repositories instead of dialing the DDP server.
	LocalRepos []string `mapstructure:"local_repos"`
	MaxRetries int      `mapstructure:"max_retries"`
}

// CheckoutConfig controls where and how repositories are fetched.
type CheckoutConfig struct {
	BasePath    string `mapstructure:"base_path"`
	SizeLimitKB int64  `mapstructure:"size_limit_kb"`
	URLTemplate string `mapstructure:"url_template"`
	Depth       int    `mapstructure:"depth"`
}

// ServerConfig controls the health/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ProgressConfig controls job lifecycle event fan-out.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig bounds hub batches.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// DatabaseConfig controls the job run ledger.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ManifestConfig selects where checkout manifests are written.
type ManifestConfig struct {
	Backend string              `mapstructure:"backend"`
	Bucket  string              `mapstructure:"bucket"`
	Prefix  string              `mapstructure:"prefix"`
	Local   localstorage.Config `mapstructure:"local"`
}

// Manifest backends.
const (
	ManifestNone   = "none"
	ManifestLocal  = "local"
	ManifestGCS    = "gcs"
	ManifestMemory = "memory"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GITWORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("coordinator.host", "localhost")
	v.SetDefault("coordinator.port", 3000)
	v.SetDefault("coordinator.use_ssl", false)
	v.SetDefault("coordinator.path", "/websocket")
	v.SetDefault("coordinator.handshake_timeout_seconds", 10)
	v.SetDefault("queue.root", "repos")
	v.SetDefault("queue.job_type", "clone")
	v.SetDefault("queue.collection", "repos.jobs")
	v.SetDefault("queue.subscription", "allJobs")
	v.SetDefault("queue.user_id", "")
	v.SetDefault("queue.poll_interval_seconds", 30)
	v.SetDefault("queue.work_timeout_seconds", 600)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("checkout.base_path", "./checkouts")
	v.SetDefault("checkout.size_limit_kb", 500)
	v.SetDefault("checkout.url_template", "https://github.com/%s.git")
	v.SetDefault("checkout.depth", 0)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8081)
	v.SetDefault("logging.development", true)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.batch.max_events", 64)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("database.table", "job_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("manifest.backend", ManifestNone)
	v.SetDefault("manifest.prefix", "manifests")
	v.SetDefault("manifest.local.base_dir", "./manifests")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Queue.LocalRepos) == 0 {
		if c.Coordinator.Host == "" {
			return fmt.Errorf("coordinator.host is required")
		}
		if c.Coordinator.Port <= 0 {
			return fmt.Errorf("coordinator.port must be > 0")
		}
	}
	if strings.TrimSpace(c.Checkout.BasePath) == "" {
		return fmt.Errorf("checkout.base_path is required")
	}
	if c.Checkout.SizeLimitKB <= 0 {
		return fmt.Errorf("checkout.size_limit_kb must be > 0")
	}
	if c.Queue.Root == "" || c.Queue.JobType == "" {
		return fmt.Errorf("queue.root and queue.job_type are required")
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		return fmt.Errorf("queue.poll_interval_seconds must be > 0")
	}
	switch c.Manifest.Backend {
	case "", ManifestNone, ManifestLocal, ManifestMemory:
	case ManifestGCS:
		if c.Manifest.Bucket == "" {
			return fmt.Errorf("manifest.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("manifest.backend %q is not supported", c.Manifest.Backend)
	}
	return nil
}

// SizeLimitBytes converts the configured limit to bytes.
func (c Config) SizeLimitBytes() int64 {
	return c.Checkout.SizeLimitKB * 1024
}

// PollInterval is the idle claim interval.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalSeconds) * time.Second
}

// WorkTimeout is how long the coordinator may hold a claimed job.
func (c Config) WorkTimeout() time.Duration {
	return time.Duration(c.Queue.WorkTimeoutSeconds) * time.Second
}

// HandshakeTimeout bounds the DDP connect exchange.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Coordinator.HandshakeTimeoutSeconds) * time.Second
}
