// Package config provides the unified configuration system for hubtap.
// It defines a single Config structure the whole extractor uses, organized
// into logical sections:
//
//   - Credentials: OAuth app credentials or a private-app access token
//   - Extraction: start date, selected streams, page sizes, per-stream overrides
//   - Reliability: retry, backoff, rate limiting, circuit breaker
//   - Output: sink kind (stdout, file, s3, gcs, kafka) and compression
//   - Observability: logging, metrics, tracing
//
// Configuration is loaded from a YAML or JSON file via viper, with
// HUBTAP_* environment variables overriding file values.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/hubtap/pkg/errors"
)

// Config is the single configuration structure for a sync run.
type Config struct {
	Credentials   CredentialsConfig   `yaml:"credentials" json:"credentials" mapstructure:"credentials"`
	Extraction    ExtractionConfig    `yaml:"extraction" json:"extraction" mapstructure:"extraction"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability" mapstructure:"reliability"`
	Output        OutputConfig        `yaml:"output" json:"output" mapstructure:"output"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// CredentialsConfig holds HubSpot authentication settings. Either an OAuth
// app triple (client id/secret + refresh token) or a static private-app
// access token must be present.
type CredentialsConfig struct {
	// ClientID identifies the OAuth app
	ClientID string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
	// ClientSecret is the OAuth app secret
	ClientSecret string `yaml:"client_secret" json:"client_secret" mapstructure:"client_secret"`
	// RefreshToken is the long-lived OAuth refresh token
	RefreshToken string `yaml:"refresh_token" json:"refresh_token" mapstructure:"refresh_token"`
	// RedirectURI is the OAuth app redirect URI
	RedirectURI string `yaml:"redirect_uri" json:"redirect_uri" mapstructure:"redirect_uri"`
	// AccessToken is a static private-app token; when set, no refresh happens
	AccessToken string `yaml:"access_token" json:"access_token" mapstructure:"access_token"`
}

// ExtractionConfig controls what gets extracted and from when.
type ExtractionConfig struct {
	// StartDate is the initial replication cutoff (RFC 3339) used when no
	// prior state exists for a stream
	StartDate string `yaml:"start_date" json:"start_date" mapstructure:"start_date"`
	// Streams selects the streams to sync; empty means the full catalog
	Streams []string `yaml:"streams" json:"streams" mapstructure:"streams"`
	// PageSize overrides the per-stream default page size when > 0
	PageSize int `yaml:"page_size" json:"page_size" mapstructure:"page_size"`
	// StreamOverrides carries per-stream settings keyed by stream name,
	// e.g. {"engagements": {"page_size": "100"}}
	StreamOverrides map[string]map[string]string `yaml:"stream_overrides" json:"stream_overrides" mapstructure:"stream_overrides"`
	// BaseURL overrides the HubSpot API base URL (tests, proxies)
	BaseURL string `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
}

// ReliabilityConfig contains retry, backoff and rate limit settings.
type ReliabilityConfig struct {
	// RetryAttempts bounds transient-error retries per request
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts" mapstructure:"retry_attempts"`
	// RetryDelay is the initial backoff delay
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
	// MaxRetryDelay caps the backoff delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay" mapstructure:"max_retry_delay"`
	// RetryMultiplier increases the delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier" mapstructure:"retry_multiplier"`
	// RateLimitPerSec caps API calls per second; HubSpot allows 100 per 10 s
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	// RateBurst is the token-bucket burst size
	RateBurst int `yaml:"rate_burst" json:"rate_burst" mapstructure:"rate_burst"`
	// CircuitBreaker enables the circuit breaker around API calls
	CircuitBreaker bool `yaml:"circuit_breaker" json:"circuit_breaker" mapstructure:"circuit_breaker"`
	// RequestTimeout bounds a single HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" mapstructure:"request_timeout"`
}

// OutputConfig selects and configures the output sink.
type OutputConfig struct {
	// Kind is one of stdout, file, s3, gcs, kafka
	Kind string `yaml:"kind" json:"kind" mapstructure:"kind"`
	// Path is the output file path for the file kind (and local spool for
	// object-store kinds)
	Path string `yaml:"path" json:"path" mapstructure:"path"`
	// Compression is one of none, gzip, zstd, lz4 (file-backed kinds only)
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	// BufferSize is the writer buffer size in bytes
	BufferSize int `yaml:"buffer_size" json:"buffer_size" mapstructure:"buffer_size"`

	// Object store settings (s3/gcs)
	Bucket          string `yaml:"bucket" json:"bucket" mapstructure:"bucket"`
	KeyPrefix       string `yaml:"key_prefix" json:"key_prefix" mapstructure:"key_prefix"`
	Region          string `yaml:"region" json:"region" mapstructure:"region"`
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" mapstructure:"credentials_file"`

	// Kafka settings
	Brokers []string `yaml:"brokers" json:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" json:"topic" mapstructure:"topic"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// EnableMetrics exposes prometheus metrics on MetricsAddr
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// MetricsAddr is the prometheus listen address, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing activates OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Reliability: ReliabilityConfig{
			RetryAttempts:   5,
			RetryDelay:      time.Second,
			MaxRetryDelay:   2 * time.Minute,
			RetryMultiplier: 2.0,
			// 100 calls per rolling 10 seconds
			RateLimitPerSec: 10,
			RateBurst:       100,
			CircuitBreaker:  true,
			RequestTimeout:  30 * time.Second,
		},
		Output: OutputConfig{
			Kind:        "stdout",
			Compression: "none",
			BufferSize:  64 * 1024,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads configuration from the given file (YAML or JSON, by extension)
// and applies HUBTAP_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HUBTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
	}

	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file")
	}

	// Secrets are usually supplied through the environment rather than the
	// config file; pick them up explicitly since Unmarshal only sees keys
	// present in the file.
	if tok := v.GetString("credentials.access_token"); tok != "" {
		cfg.Credentials.AccessToken = tok
	}
	if tok := v.GetString("credentials.refresh_token"); tok != "" {
		cfg.Credentials.RefreshToken = tok
	}
	if id := v.GetString("credentials.client_id"); id != "" {
		cfg.Credentials.ClientID = id
	}
	if sec := v.GetString("credentials.client_secret"); sec != "" {
		cfg.Credentials.ClientSecret = sec
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for fatal problems. A config error means
// no stream can run.
func (c *Config) Validate() error {
	if !c.Credentials.HasToken() && !c.Credentials.HasOAuthApp() {
		return errors.New(errors.ErrorTypeConfig,
			"credentials require either access_token or client_id, client_secret and refresh_token")
	}

	if c.Extraction.StartDate == "" {
		return errors.New(errors.ErrorTypeConfig, "extraction.start_date is required")
	}
	if _, err := time.Parse(time.RFC3339, c.Extraction.StartDate); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "extraction.start_date must be RFC 3339")
	}

	if c.Reliability.RetryAttempts <= 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.retry_attempts must be positive")
	}
	if c.Reliability.RateLimitPerSec <= 0 {
		return errors.New(errors.ErrorTypeConfig, "reliability.rate_limit_per_sec must be positive")
	}

	switch c.Output.Kind {
	case "stdout", "file":
	case "s3", "gcs":
		if c.Output.Bucket == "" {
			return errors.New(errors.ErrorTypeConfig, "output.bucket is required for object store sinks")
		}
	case "kafka":
		if len(c.Output.Brokers) == 0 || c.Output.Topic == "" {
			return errors.New(errors.ErrorTypeConfig, "output.brokers and output.topic are required for the kafka sink")
		}
	default:
		return errors.New(errors.ErrorTypeConfig, "output.kind must be one of stdout, file, s3, gcs, kafka").
			WithDetail("kind", c.Output.Kind)
	}

	switch c.Output.Compression {
	case "", "none", "gzip", "zstd", "lz4":
	default:
		return errors.New(errors.ErrorTypeConfig, "output.compression must be one of none, gzip, zstd, lz4").
			WithDetail("compression", c.Output.Compression)
	}

	return nil
}

// StartTime returns the parsed start date. Validate must have passed.
func (c *Config) StartTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Extraction.StartDate)
	return t
}

// HasToken reports whether a static access token is configured.
func (cc *CredentialsConfig) HasToken() bool {
	return cc.AccessToken != ""
}

// HasOAuthApp reports whether refreshable OAuth app credentials are configured.
func (cc *CredentialsConfig) HasOAuthApp() bool {
	return cc.ClientID != "" && cc.ClientSecret != "" && cc.RefreshToken != ""
}

// StreamOverride returns the override value for a stream setting, if any.
func (e *ExtractionConfig) StreamOverride(stream, key string) (string, bool) {
	overrides, ok := e.StreamOverrides[stream]
	if !ok {
		return "", false
	}
	v, ok := overrides[key]
	return v, ok
}

// Selected reports whether the named stream was selected for this run.
// An empty selection selects everything.
func (e *ExtractionConfig) Selected(stream string) bool {
	if len(e.Streams) == 0 {
		return true
	}
	for _, s := range e.Streams {
		if s == stream {
			return true
		}
	}
	return false
}
