package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := New("weather")

	assert.Equal(t, "weather", cfg.Name)
	assert.Equal(t, 5, cfg.Reliability.RetryAttempts)
	assert.Equal(t, 200, cfg.Reliability.MaxPages)
	assert.Equal(t, CheckpointEnd, cfg.Checkpoint.Mode)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := New("")
	assert.Error(t, cfg.Validate())

	cfg = New("x")
	cfg.Reliability.RetryAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = New("x")
	cfg.Checkpoint.Mode = CheckpointInterval
	assert.Error(t, cfg.Validate())
	cfg.Checkpoint.Interval = 100
	assert.NoError(t, cfg.Validate())

	cfg = New("x")
	cfg.HTTP.RateLimitPerSec = -1
	assert.Error(t, cfg.Validate())
}

func TestTypedGetters(t *testing.T) {
	cfg := New("x")
	cfg.Settings = map[string]string{
		"base_url":  "https://example.com",
		"page_size": "25",
		"rate":      "1.5",
		"enabled":   "true",
		"coins":     "bitcoin, ethereum ,solana",
		"bad_int":   "nope",
	}

	assert.Equal(t, "https://example.com", cfg.GetString("base_url", "d"))
	assert.Equal(t, "d", cfg.GetString("missing", "d"))
	assert.Equal(t, 25, cfg.GetInt("page_size", 1))
	assert.Equal(t, 1, cfg.GetInt("bad_int", 1))
	assert.Equal(t, 1.5, cfg.GetFloat("rate", 0))
	assert.True(t, cfg.GetBool("enabled", false))
	assert.Equal(t, []string{"bitcoin", "ethereum", "solana"},
		cfg.GetStringSlice("coins", nil))

	v, err := cfg.RequireString("base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", v)

	_, err = cfg.RequireString("api_key")
	assert.Error(t, err)
}

func TestRedactedMasksCredentials(t *testing.T) {
	cfg := New("x")
	cfg.Settings = map[string]string{
		"api_key":      "supersecret1234",
		"access_token": "tok",
		"base_url":     "https://example.com",
	}

	got := cfg.Redacted()
	assert.Equal(t, "****1234", got["api_key"])
	assert.Equal(t, "****", got["access_token"])
	assert.Equal(t, "https://example.com", got["base_url"])
}

func TestRedactStringMasksCredentialValues(t *testing.T) {
	cfg := New("x")
	cfg.Settings = map[string]string{
		"api_key":  "SECRET123",
		"base_url": "https://example.com",
	}

	got := cfg.RedactString("https://v6.example.com/v6/SECRET123/latest/USD?api_key=SECRET123")
	assert.Equal(t, "https://v6.example.com/v6/****/latest/USD?api_key=****", got)

	// non-credential settings pass through untouched
	assert.Equal(t, "https://example.com/path",
		cfg.RedactString("https://example.com/path"))
}

func TestLoadFileYAML(t *testing.T) {
	t.Setenv("TEST_API_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	content := `
name: qbr
settings:
  api_key: ${TEST_API_KEY}
  page_size: "100"
reliability:
  retry_attempts: 2
checkpoint:
  mode: page
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "qbr", cfg.Name)
	assert.Equal(t, "from-env", cfg.Settings["api_key"])
	assert.Equal(t, 2, cfg.Reliability.RetryAttempts)
	assert.Equal(t, CheckpointPage, cfg.Checkpoint.Mode)
	// defaults survive partial files
	assert.Equal(t, 200, cfg.Reliability.MaxPages)
}

func TestLoadFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	content := `{"name":"weather","settings":{"office":"ILM"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weather", cfg.Name)
	assert.Equal(t, "ILM", cfg.Settings["office"])
}

func TestLoadFileUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
