// Package config loads and validates enricher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ENRICHER_STORE_DSN.
const EnvPrefix = "ENRICHER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Store    StoreConfig    `mapstructure:"store"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrokerConfig points at the Redis list holding jobs.
type BrokerConfig struct {
	Addr              string        `mapstructure:"addr"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	Key               string        `mapstructure:"key"`
	PopTimeout        time.Duration `mapstructure:"pop_timeout"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
}

// StoreConfig controls access to the results table.
type StoreConfig struct {
	DSN           string        `mapstructure:"dsn"`
	Table         string        `mapstructure:"table"`
	DomainColumn  string        `mapstructure:"domain_column"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryPause    time.Duration `mapstructure:"retry_pause"`
	RedialBackoff time.Duration `mapstructure:"redial_backoff"`
}

// WorkerConfig governs the pool and each worker's pacing.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	HardTimeout    time.Duration `mapstructure:"hard_timeout"`
	JitterMin      time.Duration `mapstructure:"jitter_min"`
	JitterMax      time.Duration `mapstructure:"jitter_max"`
	MilestoneEvery int64         `mapstructure:"milestone_every"`
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`
}

// HTTPConfig configures the shared homepage client.
type HTTPConfig struct {
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxDownloadBytes   int64         `mapstructure:"max_download_bytes"`
	MaxRedirects       int           `mapstructure:"max_redirects"`
	UserAgent          string        `mapstructure:"user_agent"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
}

// AnalyzerConfig overrides extraction data.
type AnalyzerConfig struct {
	SignaturesFile string `mapstructure:"signatures_file"`
}

// FeedConfig controls the queue loader.
type FeedConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// MetricsConfig enables the ops HTTP listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoadDotEnv exports the variables in path into the process environment
// without overriding ones already set. An empty path is a no-op.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("logging.development", false)

	v.SetDefault("broker.addr", "localhost:6379")
	v.SetDefault("broker.password", "")
	v.SetDefault("broker.db", 0)
	v.SetDefault("broker.key", "cola_dominios")
	v.SetDefault("broker.pop_timeout", 5*time.Second)
	v.SetDefault("broker.reconnect_backoff", 5*time.Second)
	v.SetDefault("broker.reconnect_attempts", 1)

	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "domains")
	v.SetDefault("store.domain_column", "domain")
	v.SetDefault("store.max_attempts", 3)
	v.SetDefault("store.retry_pause", time.Second)
	v.SetDefault("store.redial_backoff", 2*time.Second)

	v.SetDefault("worker.concurrency", 50)
	v.SetDefault("worker.hard_timeout", 45*time.Second)
	v.SetDefault("worker.jitter_min", 100*time.Millisecond)
	v.SetDefault("worker.jitter_max", 500*time.Millisecond)
	v.SetDefault("worker.milestone_every", 100)
	v.SetDefault("worker.error_backoff", time.Second)

	v.SetDefault("http.request_timeout", 15*time.Second)
	v.SetDefault("http.max_download_bytes", 3*1024*1024)
	v.SetDefault("http.max_redirects", 3)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (X11; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0")
	v.SetDefault("http.insecure_skip_verify", true)
	v.SetDefault("http.requests_per_second", 0)

	v.SetDefault("analyzer.signatures_file", "")
	v.SetDefault("feed.batch_size", 1000)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.HardTimeout <= 0 {
		return fmt.Errorf("worker.hard_timeout must be > 0")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be > 0")
	}
	if c.Worker.HardTimeout < c.HTTP.RequestTimeout {
		return fmt.Errorf("worker.hard_timeout (%s) must be >= http.request_timeout (%s)",
			c.Worker.HardTimeout, c.HTTP.RequestTimeout)
	}
	if c.Broker.PopTimeout <= 0 {
		return fmt.Errorf("broker.pop_timeout must be > 0")
	}
	if c.Worker.JitterMin < 0 || c.Worker.JitterMin > c.Worker.JitterMax {
		return fmt.Errorf("worker.jitter_min must be between 0 and worker.jitter_max")
	}
	if c.HTTP.MaxDownloadBytes <= 0 {
		return fmt.Errorf("http.max_download_bytes must be > 0")
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("http.max_redirects must be >= 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Feed.BatchSize <= 0 {
		return fmt.Errorf("feed.batch_size must be > 0")
	}
	if c.Store.MaxAttempts <= 0 {
		return fmt.Errorf("store.max_attempts must be > 0")
	}
	if strings.TrimSpace(c.Broker.Key) == "" {
		return fmt.Errorf("broker.key must be set")
	}
	return nil
}

// ErrStoreDSNMissing is returned by RequireStore when no DSN is configured.
var ErrStoreDSNMissing = errors.New("store.dsn must be set")

// RequireStore checks the settings needed by commands that touch the store.
func (c Config) RequireStore() error {
	if strings.TrimSpace(c.Store.DSN) == "" {
		return ErrStoreDSNMissing
	}
	return nil
}
