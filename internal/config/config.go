// Package config loads and validates bulk-checker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ozgrid/bulkcheck/internal/geo"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Run       RunConfig       `mapstructure:"run"`
	Region    geo.BBox        `mapstructure:"region"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Lookup    LookupConfig    `mapstructure:"lookup"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RunConfig governs scheduler behavior.
type RunConfig struct {
	Mode               string `mapstructure:"mode"`
	MaxSubjects        int    `mapstructure:"max_subjects"`
	WorkerCount        int    `mapstructure:"worker_count"`
	BatchSize          int    `mapstructure:"batch_size"`
	InterBatchDelaySec int    `mapstructure:"inter_batch_delay_seconds"`
	MaxAttempts        int    `mapstructure:"max_attempts"`
	RetryBackoffBaseMs int    `mapstructure:"retry_backoff_base_ms"`
}

// DiscoveryConfig controls the Overpass client.
type DiscoveryConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	StateSuffix    string `mapstructure:"state_suffix"`
}

// LookupConfig controls the headless qualification checker.
type LookupConfig struct {
	Provider        string  `mapstructure:"provider"`
	ServiceURL      string  `mapstructure:"service_url"`
	WaitSeconds     int     `mapstructure:"wait_seconds"`
	MaxParallel     int     `mapstructure:"max_parallel"`
	QPS             float64 `mapstructure:"qps"`
	UserAgent       string  `mapstructure:"user_agent"`
	AvailablePhrase string  `mapstructure:"available_phrase"`
}

// StorageConfig selects and parameterizes the stores.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	ResultsPath  string `mapstructure:"results_path"`
	FailuresPath string `mapstructure:"failures_path"`
}

// DBConfig controls the Postgres-backed stores.
type DBConfig struct {
	DSN           string `mapstructure:"dsn"`
	ResultsTable  string `mapstructure:"results_table"`
	FailuresTable string `mapstructure:"failures_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion-event publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the ops HTTP endpoint (health + metrics).
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BULKCHECK")
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
	v.SetDefault("run.mode", "normal")
	v.SetDefault("run.max_subjects", 1000)
	v.SetDefault("run.worker_count", 3)
	v.SetDefault("run.batch_size", 50)
	v.SetDefault("run.inter_batch_delay_seconds", 30)
	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.retry_backoff_base_ms", 1000)

	// Melbourne CBD.
	v.SetDefault("region.south", -37.8265)
	v.SetDefault("region.west", 144.9475)
	v.SetDefault("region.north", -37.8060)
	v.SetDefault("region.east", 144.9835)

	v.SetDefault("discovery.endpoint", "https://overpass-api.de/api/interpreter")
	v.SetDefault("discovery.user_agent", "bulkcheck/1.0")
	v.SetDefault("discovery.timeout_seconds", 120)
	v.SetDefault("discovery.state_suffix", "VIC")

	v.SetDefault("lookup.provider", "chromedp")
	v.SetDefault("lookup.service_url", "https://www.telstra.com.au/internet/5g-home-internet")
	v.SetDefault("lookup.wait_seconds", 25)
	v.SetDefault("lookup.max_parallel", 3)
	v.SetDefault("lookup.qps", 0.5)
	v.SetDefault("lookup.user_agent", "bulkcheck/1.0")

	v.SetDefault("storage.provider", "csv")
	v.SetDefault("storage.results_path", "data/results.csv")
	v.SetDefault("storage.failures_path", "data/failed_addresses.json")

	v.SetDefault("db.results_table", "evaluations")
	v.SetDefault("db.failures_table", "failures")
	v.SetDefault("db.max_conns", 4)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Run.Mode {
	case "normal", "dry-run", "retry-failed":
	default:
		return fmt.Errorf("run.mode must be one of normal, dry-run, retry-failed")
	}
	if c.Run.WorkerCount <= 0 {
		return fmt.Errorf("run.worker_count must be > 0")
	}
	if c.Run.BatchSize <= 0 {
		return fmt.Errorf("run.batch_size must be > 0")
	}
	if c.Run.MaxAttempts <= 0 {
		return fmt.Errorf("run.max_attempts must be > 0")
	}
	if err := c.Region.Validate(); err != nil {
		return fmt.Errorf("region: %w", err)
	}
	switch c.Storage.Provider {
	case "csv":
		if c.Storage.ResultsPath == "" || c.Storage.FailuresPath == "" {
			return fmt.Errorf("storage.results_path and storage.failures_path are required for the csv provider")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage provider: %s", c.Storage.Provider)
	}
	switch c.Lookup.Provider {
	case "chromedp":
		if c.Lookup.ServiceURL == "" {
			return fmt.Errorf("lookup.service_url is required for the chromedp provider")
		}
	case "noop":
	default:
		return fmt.Errorf("unknown lookup provider: %s", c.Lookup.Provider)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the ops server is enabled")
	}
	return nil
}

// InterBatchDelay converts the configured cooldown into a duration.
func (c Config) InterBatchDelay() time.Duration {
	return time.Duration(c.Run.InterBatchDelaySec) * time.Second
}

// RetryBackoffBase converts the configured backoff unit into a duration.
func (c Config) RetryBackoffBase() time.Duration {
	return time.Duration(c.Run.RetryBackoffBaseMs) * time.Millisecond
}

// LookupWait converts the lookup navigation budget into a duration.
func (c Config) LookupWait() time.Duration {
	return time.Duration(c.Lookup.WaitSeconds) * time.Second
}

// DiscoveryTimeout converts the discovery budget into a duration.
func (c Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.TimeoutSeconds) * time.Second
}
