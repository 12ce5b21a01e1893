package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hubtap/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hubtap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := New()
	cfg.Credentials.AccessToken = "pat-token"
	cfg.Extraction.StartDate = "2026-01-01T00:00:00Z"
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
credentials:
  access_token: pat-token
extraction:
  start_date: "2026-01-01T00:00:00Z"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Reliability.RetryAttempts)
	assert.Equal(t, float64(10), cfg.Reliability.RateLimitPerSec)
	assert.Equal(t, 100, cfg.Reliability.RateBurst)
	assert.Equal(t, "stdout", cfg.Output.Kind)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.True(t, cfg.Reliability.CircuitBreaker)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
credentials:
  client_id: id
  client_secret: secret
  refresh_token: refresh
extraction:
  start_date: "2026-01-01T00:00:00Z"
  streams: [contacts, deals]
  page_size: 50
reliability:
  retry_attempts: 3
  rate_limit_per_sec: 5
output:
  kind: file
  path: /tmp/out.ndjson
  compression: gzip
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Credentials.HasOAuthApp())
	assert.False(t, cfg.Credentials.HasToken())
	assert.Equal(t, []string{"contacts", "deals"}, cfg.Extraction.Streams)
	assert.Equal(t, 50, cfg.Extraction.PageSize)
	assert.Equal(t, 3, cfg.Reliability.RetryAttempts)
	assert.Equal(t, float64(5), cfg.Reliability.RateLimitPerSec)
	assert.Equal(t, "gzip", cfg.Output.Compression)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := validConfig(t)
	cfg.Credentials.AccessToken = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidatePartialOAuthCredentials(t *testing.T) {
	cfg := validConfig(t)
	cfg.Credentials.AccessToken = ""
	cfg.Credentials.ClientID = "id"
	cfg.Credentials.ClientSecret = "secret"
	// Missing refresh token.
	require.Error(t, cfg.Validate())
}

func TestValidateStartDate(t *testing.T) {
	cfg := validConfig(t)
	cfg.Extraction.StartDate = "01/02/2026"
	require.Error(t, cfg.Validate())

	cfg.Extraction.StartDate = ""
	require.Error(t, cfg.Validate())

	cfg.Extraction.StartDate = "2026-01-02T03:04:05Z"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.StartTime().Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestValidateOutput(t *testing.T) {
	cfg := validConfig(t)
	cfg.Output.Kind = "carrier-pigeon"
	require.Error(t, cfg.Validate())

	cfg.Output.Kind = "s3"
	require.Error(t, cfg.Validate(), "s3 without a bucket must fail")
	cfg.Output.Bucket = "extracts"
	require.NoError(t, cfg.Validate())

	cfg.Output.Kind = "kafka"
	require.Error(t, cfg.Validate(), "kafka without brokers must fail")
	cfg.Output.Brokers = []string{"localhost:9092"}
	cfg.Output.Topic = "hubtap"
	require.NoError(t, cfg.Validate())

	cfg.Output.Kind = "stdout"
	cfg.Output.Compression = "brotli"
	require.Error(t, cfg.Validate())
}

func TestStreamOverride(t *testing.T) {
	cfg := validConfig(t)
	cfg.Extraction.StreamOverrides = map[string]map[string]string{
		"engagements": {"page_size": "100"},
	}

	v, ok := cfg.Extraction.StreamOverride("engagements", "page_size")
	require.True(t, ok)
	assert.Equal(t, "100", v)

	_, ok = cfg.Extraction.StreamOverride("contacts", "page_size")
	assert.False(t, ok)
}

func TestSelected(t *testing.T) {
	cfg := validConfig(t)
	assert.True(t, cfg.Extraction.Selected("contacts"), "empty selection selects everything")

	cfg.Extraction.Streams = []string{"deals"}
	assert.True(t, cfg.Extraction.Selected("deals"))
	assert.False(t, cfg.Extraction.Selected("contacts"))
}
