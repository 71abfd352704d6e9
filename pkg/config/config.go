// Package config provides the unified configuration system for stardust
// connectors. Each connector receives a single Config carrying its
// connector-specific settings (API keys, base URLs, page sizes) alongside
// shared sections for HTTP behavior, reliability, and checkpoint cadence.
//
// Connector-specific settings are an arbitrary key/value mapping looked up
// with typed getters and defaults; no fixed schema is enforced beyond each
// connector's own required keys.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the configuration passed to every connector.
type Config struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`

	// Settings holds connector-specific key/value settings
	// (api_key, base_url, page_size, ...)
	Settings map[string]string `yaml:"settings" json:"settings"`

	// HTTP controls the shared REST client
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Reliability settings for retry and pagination bounds
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Checkpoint controls how often a connector emits checkpoint operations
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
}

// HTTPConfig contains HTTP client settings.
type HTTPConfig struct {
	// RequestTimeout bounds a single request/response cycle
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// ConnectTimeout bounds connection establishment
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	// IdleConnTimeout closes idle keep-alive connections
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout" json:"idle_conn_timeout"`
	// EnableHTTP2 enables HTTP/2 on the transport
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2"`
	// UserAgent sent with every request
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// RateLimitPerSec paces outgoing requests (0 = unpaced)
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// RateBurst is the token bucket burst size
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// ReliabilityConfig contains retry and pagination bounds.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum attempts for a failed request
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// MaxPages caps pagination loops so a bad cursor cannot spin forever
	MaxPages int `yaml:"max_pages" json:"max_pages"`
}

// CheckpointMode selects when a connector emits checkpoint operations.
type CheckpointMode string

const (
	// CheckpointEnd checkpoints once, at the end of a successful run
	CheckpointEnd CheckpointMode = "end"
	// CheckpointPage checkpoints after every page of results
	CheckpointPage CheckpointMode = "page"
	// CheckpointInterval checkpoints every Interval records
	CheckpointInterval CheckpointMode = "interval"
)

// CheckpointConfig controls checkpoint cadence. Checkpoint frequency is a
// per-connector choice, not a universal contract; connectors set their own
// default and this section overrides it.
type CheckpointConfig struct {
	Mode CheckpointMode `yaml:"mode" json:"mode"`
	// Interval is the record count for CheckpointInterval mode
	Interval int `yaml:"interval" json:"interval"`
}

// New creates a Config with production defaults for the given connector name.
func New(name string) *Config {
	return &Config{
		Name:     name,
		Settings: make(map[string]string),
		HTTP: HTTPConfig{
			RequestTimeout:  30 * time.Second,
			ConnectTimeout:  10 * time.Second,
			IdleConnTimeout: 90 * time.Second,
			EnableHTTP2:     true,
			UserAgent:       "stardust-connector/1.0",
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   5,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			MaxPages:        200,
		},
		Checkpoint: CheckpointConfig{
			Mode: CheckpointEnd,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Reliability.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	if c.Reliability.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be positive")
	}
	if c.Checkpoint.Mode == CheckpointInterval && c.Checkpoint.Interval <= 0 {
		return fmt.Errorf("checkpoint interval must be positive")
	}
	if c.HTTP.RateLimitPerSec < 0 {
		return fmt.Errorf("rate_limit_per_sec cannot be negative")
	}
	return nil
}

// GetString returns the setting for key, or def when absent or empty.
func (c *Config) GetString(key, def string) string {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// RequireString returns the setting for key or an error when absent.
func (c *Config) RequireString(key string) (string, error) {
	if v, ok := c.Settings[key]; ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing %s in configuration", key)
}

// GetInt returns the setting for key parsed as an int, or def.
func (c *Config) GetInt(key string, def int) int {
	if v, ok := c.Settings[key]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetFloat returns the setting for key parsed as a float, or def.
func (c *Config) GetFloat(key string, def float64) float64 {
	if v, ok := c.Settings[key]; ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// GetBool returns the setting for key parsed as a bool, or def.
func (c *Config) GetBool(key string, def bool) bool {
	if v, ok := c.Settings[key]; ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// GetStringSlice returns the setting for key split on commas with
// surrounding whitespace trimmed, or def when absent.
func (c *Config) GetStringSlice(key string, def []string) []string {
	v, ok := c.Settings[key]
	if !ok || v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// sensitiveKeywords marks setting keys whose values must never be logged.
var sensitiveKeywords = []string{"key", "token", "secret", "password", "credential"}

// Redacted returns a copy of Settings with credential values masked,
// suitable for logging.
func (c *Config) Redacted() map[string]string {
	out := make(map[string]string, len(c.Settings))
	for k, v := range c.Settings {
		out[k] = v
		lower := strings.ToLower(k)
		for _, kw := range sensitiveKeywords {
			if strings.Contains(lower, kw) {
				out[k] = mask(v)
				break
			}
		}
	}
	return out
}

// RedactString masks any credential setting values appearing in s. Some
// APIs carry the key in the URL path or query string, so URLs must pass
// through here before they are logged.
func (c *Config) RedactString(s string) string {
	for k, v := range c.Settings {
		if v == "" {
			continue
		}
		lower := strings.ToLower(k)
		for _, kw := range sensitiveKeywords {
			if strings.Contains(lower, kw) {
				s = strings.ReplaceAll(s, v, "****")
				break
			}
		}
	}
	return s
}

func mask(v string) string {
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
