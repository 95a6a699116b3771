// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fetchpipe/fetchpipe/internal/transport"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transport TransportConfig `mapstructure:"transport"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	RuleSets  RuleSetsConfig  `mapstructure:"rulesets"`
	Store     StoreConfig     `mapstructure:"store"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TransportConfig configures the HTTP transport and identity profiles.
type TransportConfig struct {
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int64               `mapstructure:"max_body_bytes"`
	BlockKeywords  []string            `mapstructure:"block_keywords"`
	Profiles       []transport.Profile `mapstructure:"profiles"`
	// ReplayFile, when set, swaps the live transport for recorded captures.
	ReplayFile string `mapstructure:"replay_file"`
}

// GovernorConfig tunes per-host budgets and the retry policy.
type GovernorConfig struct {
	PerHostMax         int64 `mapstructure:"per_host_max"`
	MinIntervalMs      int   `mapstructure:"min_interval_ms"`
	BackoffInitialMs   int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs       int   `mapstructure:"backoff_max_ms"`
	MaxTLSRotations    int   `mapstructure:"max_tls_rotations"`
	ForbiddenThreshold int   `mapstructure:"forbidden_threshold"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// RuleSetsConfig points at selector ruleset files.
type RuleSetsConfig struct {
	Paths []string `mapstructure:"paths"`
}

// StoreConfig controls the document store backend.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver            string `mapstructure:"driver"`
	DSN               string `mapstructure:"dsn"`
	DocumentsTable    string `mapstructure:"documents_table"`
	FingerprintsTable string `mapstructure:"fingerprints_table"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
}

// ArchiveConfig controls where raw response bodies are kept.
type ArchiveConfig struct {
	// Driver is "none", "memory", "local" or "gcs".
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PublisherConfig holds metadata for outcome notifications.
type PublisherConfig struct {
	// Driver is "memory" or "pubsub".
	Driver    string `mapstructure:"driver"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// PipelineConfig governs coordinator fan-out and task defaults.
type PipelineConfig struct {
	Workers         int  `mapstructure:"workers"`
	QueueDepth      int  `mapstructure:"queue_depth"`
	MaxAttempts     int  `mapstructure:"max_attempts"`
	ArchiveFailures bool `mapstructure:"archive_failures"`
	ArchiveAll      bool `mapstructure:"archive_all"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHPIPE")
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

	if len(cfg.Transport.Profiles) == 0 {
		cfg.Transport.Profiles = defaultProfiles()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("transport.timeout_seconds", 15)
	v.SetDefault("transport.max_body_bytes", 5*1024*1024)
	v.SetDefault("governor.per_host_max", 2)
	v.SetDefault("governor.min_interval_ms", 500)
	v.SetDefault("governor.backoff_initial_ms", 250)
	v.SetDefault("governor.backoff_max_ms", 5000)
	v.SetDefault("governor.max_tls_rotations", 1)
	v.SetDefault("governor.forbidden_threshold", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.documents_table", "documents")
	v.SetDefault("store.fingerprints_table", "fingerprints")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "bodies")
	v.SetDefault("publisher.driver", "memory")
	v.SetDefault("publisher.topic", "fetchpipe-outcomes")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_depth", 64)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.archive_failures", true)
}

func defaultProfiles() []transport.Profile {
	return []transport.Profile{
		{
			Name:      "chrome",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "en-US,en;q=0.9",
			},
			TLSMinVersion: "1.2",
			ForceHTTP2:    true,
		},
		{
			Name:      "firefox",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
			Headers: map[string]string{
				"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
				"Accept-Language": "en-US,en;q=0.5",
			},
			TLSMinVersion: "1.2",
		},
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Transport.TimeoutSeconds <= 0 {
		return fmt.Errorf("transport.timeout_seconds must be > 0")
	}
	if len(c.Transport.Profiles) == 0 {
		return fmt.Errorf("transport.profiles must not be empty")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.QueueDepth <= 0 {
		return fmt.Errorf("pipeline.queue_depth must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Archive.Driver {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set for the local driver")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs driver")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}
	switch c.Publisher.Driver {
	case "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id must be set for the pubsub driver")
		}
	default:
		return fmt.Errorf("unknown publisher.driver %q", c.Publisher.Driver)
	}
	return nil
}

// RequestTimeout converts the transport timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Transport.TimeoutSeconds) * time.Second
}
