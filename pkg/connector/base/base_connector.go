// Package base provides the foundational BaseConnector that all stardust
// source connectors embed. It carries the pieces every connector otherwise
// copy-pastes: a structured logger with the connector field attached, the
// shared REST client with retry and pacing, a retry policy for non-HTTP
// work, metrics, and operation stream construction.
//
// Connectors embed BaseConnector and implement Schema and Update:
//
//	type WeatherSource struct {
//	    *base.BaseConnector
//	    // connector-specific fields
//	}
//
//	func NewWeatherSource() *WeatherSource {
//	    return &WeatherSource{BaseConnector: base.NewBaseConnector("weather", "1.0.0")}
//	}
package base

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/clients"
	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	"github.com/ajitpratap0/stardust/pkg/logger"
	"github.com/ajitpratap0/stardust/pkg/metrics"
)

// BaseConnector provides common functionality for all source connectors.
type BaseConnector struct {
	name    string
	version string

	cfg     *config.Config
	log     *zap.Logger
	rest    *clients.RESTClient
	retry   *RetryPolicy
	metrics *metrics.Collector

	closed     bool
	closeMutex sync.Mutex
}

// NewBaseConnector creates a base connector with the given name and version.
func NewBaseConnector(name, version string) *BaseConnector {
	return &BaseConnector{
		name:    name,
		version: version,
		log:     logger.Get().With(zap.String("connector", name)),
	}
}

// Initialize validates the configuration and builds the shared REST client,
// retry policy, and metrics collector. Connector settings are logged with
// credential values redacted.
func (bc *BaseConnector) Initialize(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if cfg.Name == "" {
		cfg.Name = bc.name
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}

	bc.cfg = cfg
	bc.rest = clients.NewRESTClient(cfg, bc.log)
	bc.retry = NewRetryPolicy(cfg.Reliability.RetryAttempts, cfg.Reliability.RetryDelay)
	bc.metrics = metrics.NewCollector(bc.name)

	bc.log.Info("connector initialized",
		zap.String("version", bc.version),
		zap.Any("settings", cfg.Redacted()))

	return nil
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.log
}

// GetConfig returns the connector configuration
func (bc *BaseConnector) GetConfig() *config.Config {
	return bc.cfg
}

// REST returns the shared REST client
func (bc *BaseConnector) REST() *clients.RESTClient {
	return bc.rest
}

// Metrics returns the connector metrics collector
func (bc *BaseConnector) Metrics() *metrics.Collector {
	return bc.metrics
}

// ExecuteWithRetry runs fn under the connector retry policy, retrying only
// errors the errors package classifies as retryable.
func (bc *BaseConnector) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	return bc.retry.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// NewStream creates an operation stream and its emitter. The emitter's
// checkpoint cadence follows the connector configuration; connectors that
// pass a non-empty mode override it.
func (bc *BaseConnector) NewStream(buffer int, defaultMode config.CheckpointMode) (*core.OperationStream, *Emitter) {
	policy := bc.cfg.Checkpoint
	if policy.Mode == "" {
		policy.Mode = defaultMode
	}
	if policy.Mode == "" {
		policy.Mode = config.CheckpointEnd
	}

	ops := make(chan *core.Operation, buffer)
	errs := make(chan error, 1)

	stream := &core.OperationStream{
		Operations: ops,
		Errors:     errs,
	}

	emitter := &Emitter{
		ops:     ops,
		errs:    errs,
		policy:  policy,
		metrics: bc.metrics,
		log:     bc.log,
	}

	return stream, emitter
}

// Close releases connector resources.
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}

	if bc.rest != nil {
		bc.rest.Close()
	}

	bc.closed = true
	bc.log.Info("connector closed")
	return nil
}
