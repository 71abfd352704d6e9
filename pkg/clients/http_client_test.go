package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/errors"
)

func testConfig(name string) *config.Config {
	cfg := config.New(name)
	cfg.Reliability.RetryAttempts = 3
	cfg.Reliability.RetryDelay = time.Millisecond
	cfg.Reliability.MaxRetryDelay = 5 * time.Millisecond
	cfg.HTTP.EnableHTTP2 = false
	return cfg
}

func TestGetJSONSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "value", r.URL.Query().Get("param"))
		assert.Equal(t, "secret", r.Header.Get("Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	client := NewRESTClient(testConfig("test"), zaptest.NewLogger(t))
	defer client.Close()

	var out struct {
		Message string `json:"message"`
	}
	err := client.GetJSON(context.Background(), server.URL,
		map[string]string{"param": "value"},
		map[string]string{"Api-Key": "secret"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Message)
}

func TestGetJSONRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	client := NewRESTClient(testConfig("test"), zaptest.NewLogger(t))
	defer client.Close()

	var out struct {
		Message string `json:"message"`
	}
	err := client.GetJSON(context.Background(), server.URL, nil, nil, &out)

	require.NoError(t, err)
	assert.Equal(t, "ok", out.Message)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetJSONAuthFailureIsFatal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewRESTClient(testConfig("test"), zaptest.NewLogger(t))
	defer client.Close()

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL, nil, nil, &out)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.False(t, errors.IsRetryable(err))
	// no retries on auth failure
	assert.Equal(t, int32(1), calls.Load())
}

// Some APIs carry the key in the URL path; a retry must not write it to the
// logs.
func TestRetryLogRedactsCredentialURL(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer server.Close()

	cfg := testConfig("test")
	cfg.Settings["api_key"] = "SECRET-API-KEY"

	core, logs := observer.New(zap.WarnLevel)
	client := NewRESTClient(cfg, zap.New(core))
	defer client.Close()

	var out struct {
		Message string `json:"message"`
	}
	url := server.URL + "/v6/SECRET-API-KEY/latest/USD"
	err := client.GetJSON(context.Background(), url,
		map[string]string{"api_key": "SECRET-API-KEY"}, nil, &out)
	require.NoError(t, err)

	entries := logs.All()
	require.NotEmpty(t, entries, "expected a retry warning")
	for _, entry := range entries {
		assert.NotContains(t, entry.Message, "SECRET-API-KEY")
		for _, field := range entry.Context {
			assert.NotContains(t, field.String, "SECRET-API-KEY",
				"field %s leaked the credential", field.Key)
		}
	}

	// the redacted URL still names host and endpoint
	loggedURL := entries[0].ContextMap()["url"].(string)
	assert.True(t, strings.Contains(loggedURL, "/v6/****/latest/USD"),
		"unexpected redacted url %q", loggedURL)
}

func TestGetJSONServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig("test")
	client := NewRESTClient(cfg, zaptest.NewLogger(t))
	defer client.Close()

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL, nil, nil, &out)

	require.Error(t, err)
	assert.Equal(t, int32(cfg.Reliability.RetryAttempts), calls.Load())
}

func TestGetJSONNonRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewRESTClient(testConfig("test"), zaptest.NewLogger(t))
	defer client.Close()

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), server.URL, nil, nil, &out)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryAfterHeader(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}

	assert.Equal(t, time.Duration(0), retryAfter(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(resp))

	resp.Header.Set("Retry-After", http.TimeFormat)
	// a date in the past yields no delay
	resp.Header.Set("Retry-After", time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat))
	assert.Equal(t, time.Duration(0), retryAfter(resp))

	resp.Header.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))
	got := retryAfter(resp)
	assert.Greater(t, got, 5*time.Second)
	assert.LessOrEqual(t, got, 10*time.Second)
}

func TestBuildURL(t *testing.T) {
	got, err := buildURL("https://api.example.com/v1/items?existing=1",
		map[string]string{"page": "2"})
	require.NoError(t, err)
	assert.Contains(t, got, "existing=1")
	assert.Contains(t, got, "page=2")

	_, err = buildURL("://bad", nil)
	assert.Error(t, err)
}

func TestBackoffDelayBounded(t *testing.T) {
	cfg := testConfig("test")
	cfg.Reliability.RetryDelay = 100 * time.Millisecond
	cfg.Reliability.MaxRetryDelay = 200 * time.Millisecond
	client := NewRESTClient(cfg, zaptest.NewLogger(t))
	defer client.Close()

	for attempt := 0; attempt < 10; attempt++ {
		d := client.backoffDelay(attempt)
		assert.Greater(t, d, time.Duration(0))
		// max delay plus 25% jitter headroom
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
