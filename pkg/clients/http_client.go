// Package clients provides the shared HTTP client used by all source
// connectors. It centralizes the retry-and-backoff behavior the connectors
// need against public REST APIs: HTTP 429 is retried after the
// server-suggested or an exponentially increasing delay, 5xx and transport
// errors are retried with backoff and jitter, and 401/403 abort immediately.
package clients

import (
	"context"
	"crypto/tls"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/errors"
	jsonpool "github.com/ajitpratap0/stardust/pkg/json"
	"github.com/ajitpratap0/stardust/pkg/metrics"
)

// RESTClient is an HTTP client with bounded retry, optional request pacing,
// and per-connector request metrics.
type RESTClient struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	limiter    RateLimiter
	metrics    *metrics.Collector
}

// NewRESTClient creates a REST client from the connector configuration.
func NewRESTClient(cfg *config.Config, logger *zap.Logger) *RESTClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.HTTP.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       cfg.HTTP.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.HTTP.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if cfg.HTTP.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client := &RESTClient{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "rest_client")),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTP.RequestTimeout,
		},
		transport: transport,
		metrics:   metrics.NewCollector(cfg.Name),
	}

	if cfg.HTTP.RateLimitPerSec > 0 {
		burst := cfg.HTTP.RateBurst
		if burst <= 0 {
			burst = 1
		}
		client.limiter = NewTokenBucketRateLimiter(cfg.HTTP.RateLimitPerSec, burst)
	}

	return client
}

// GetJSON issues a GET request to rawURL with the given query parameters and
// headers, decoding the JSON response body into out. The request is retried
// within the configured attempt bound for retryable failures; authentication
// failures and non-retryable 4xx responses abort immediately.
func (c *RESTClient) GetJSON(ctx context.Context, rawURL string, params map[string]string, headers map[string]string, out interface{}) error {
	fullURL, err := buildURL(rawURL, params)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid request URL")
	}

	maxAttempts := c.cfg.Reliability.RetryAttempts
	var lastErr *errors.Error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordHTTPRetry()
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, errors.ErrorTypeTimeout, "request pacing interrupted")
			}
		}

		retryable, delay, reqErr := c.doOnce(ctx, fullURL, headers, out)
		if reqErr == nil {
			return nil
		}
		if !retryable {
			return reqErr
		}
		lastErr = reqErr

		// Don't sleep after the final attempt
		if attempt == maxAttempts-1 {
			break
		}

		if delay <= 0 {
			delay = c.backoffDelay(attempt)
		}
		// credentials may ride in the URL path or query, never log them
		c.logger.Warn("request failed, retrying",
			zap.String("url", c.cfg.RedactString(rawURL)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(reqErr))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}

	return errors.Wrap(lastErr, lastErr.Type,
		"all "+strconv.Itoa(maxAttempts)+" attempts failed")
}

// doOnce performs a single request cycle. It returns whether the failure is
// retryable and an optional server-suggested delay (from Retry-After).
func (c *RESTClient) doOnce(ctx context.Context, fullURL string, headers map[string]string, out interface{}) (bool, time.Duration, *errors.Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return false, 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create request")
	}

	req.Header.Set("Accept", "application/json")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.HTTP.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordHTTPRequest("error")
		if ctx.Err() != nil {
			return false, 0, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request cancelled")
		}
		return true, 0, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	c.metrics.RecordHTTPRequest(statusClass(resp.StatusCode))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := jsonpool.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, 0, errors.Wrap(err, errors.ErrorTypeData, "failed to decode response")
		}
		return false, 0, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		drain(resp.Body)
		return false, 0, errors.Newf(errors.ErrorTypeAuthentication,
			"authentication failed with status %d", resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return true, retryAfter(resp), errors.Newf(errors.ErrorTypeRateLimit,
			"rate limited with status %d", resp.StatusCode)

	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		drain(resp.Body)
		return true, 0, errors.Newf(errors.ErrorTypeConnection,
			"server error with status %d", resp.StatusCode)

	default:
		drain(resp.Body)
		return false, 0, errors.Newf(errors.ErrorTypeData,
			"unexpected status %d", resp.StatusCode)
	}
}

// backoffDelay computes the exponential backoff with jitter for an attempt.
func (c *RESTClient) backoffDelay(attempt int) time.Duration {
	rel := c.cfg.Reliability
	delay := float64(rel.RetryDelay) * math.Pow(rel.RetryMultiplier, float64(attempt))
	if delay > float64(rel.MaxRetryDelay) {
		delay = float64(rel.MaxRetryDelay)
	}
	// +/- 25% jitter
	delta := delay * 0.25
	delay = delay - delta + rand.Float64()*2*delta
	return time.Duration(delay)
}

// retryAfter parses the Retry-After header, returning 0 when absent.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func buildURL(rawURL string, params map[string]string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func drain(body io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 8192))
}

// SetHTTPClient replaces the underlying http.Client. Connectors use this to
// layer credential round-trippers over the configured transport; tests use
// it to point the client at a fake server.
func (c *RESTClient) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Transport returns the configured base transport, for wrapping.
func (c *RESTClient) Transport() http.RoundTripper {
	return c.transport
}

// Close releases idle connections held by the transport.
func (c *RESTClient) Close() {
	c.transport.CloseIdleConnections()
}
