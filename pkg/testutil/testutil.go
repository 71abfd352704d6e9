// Package testutil provides shared helpers for connector tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
)

// NewLogger creates a test logger that routes through t.Log.
func NewLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewContext creates a context with a generous test deadline.
func NewContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewConfig creates a connector config with fast retry settings so failing
// tests don't sit in backoff sleeps.
func NewConfig(name string, settings map[string]string) *config.Config {
	cfg := config.New(name)
	for k, v := range settings {
		cfg.Settings[k] = v
	}
	cfg.Reliability.RetryAttempts = 3
	cfg.Reliability.RetryDelay = time.Millisecond
	cfg.Reliability.MaxRetryDelay = 5 * time.Millisecond
	return cfg
}

// CollectedStream holds everything drained from an operation stream.
type CollectedStream struct {
	Operations []*core.Operation
	Err        error
}

// DrainStream consumes an operation stream to completion and returns the
// collected operations and the first error, if any.
func DrainStream(t *testing.T, stream *core.OperationStream) *CollectedStream {
	t.Helper()

	out := &CollectedStream{}
	ops := stream.Operations
	errs := stream.Errors

	for ops != nil || errs != nil {
		select {
		case op, ok := <-ops:
			if !ok {
				ops = nil
				continue
			}
			out.Operations = append(out.Operations, op)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && out.Err == nil {
				out.Err = err
			}
		case <-time.After(10 * time.Second):
			t.Fatal("timed out draining operation stream")
		}
	}
	return out
}

// Upserts filters the collected operations down to upserts for one table.
func (c *CollectedStream) Upserts(table string) []*core.Operation {
	var out []*core.Operation
	for _, op := range c.Operations {
		if op.Type == core.OperationUpsert && op.Table == table {
			out = append(out, op)
		}
	}
	return out
}

// Checkpoints filters the collected operations down to checkpoints.
func (c *CollectedStream) Checkpoints() []*core.Operation {
	var out []*core.Operation
	for _, op := range c.Operations {
		if op.Type == core.OperationCheckpoint {
			out = append(out, op)
		}
	}
	return out
}

// LastCheckpoint returns the final checkpoint state, or nil when none was
// emitted.
func (c *CollectedStream) LastCheckpoint() core.State {
	cps := c.Checkpoints()
	if len(cps) == 0 {
		return nil
	}
	return cps[len(cps)-1].State
}
