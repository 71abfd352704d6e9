package base

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	"github.com/ajitpratap0/stardust/pkg/metrics"
)

// Emitter writes operations to an OperationStream on behalf of a connector's
// Update goroutine. It owns the stream channels: the connector calls Upsert,
// UpdateRecord, and Checkpoint as it pages through its source, then Close
// when done (or Fail on an unrecoverable error).
//
// Checkpoint cadence is policy-driven: EndPage and MaybeCheckpoint only emit
// a checkpoint when the configured mode asks for one, so connectors call
// them unconditionally at page and record boundaries.
type Emitter struct {
	ops     chan *core.Operation
	errs    chan error
	policy  config.CheckpointConfig
	metrics *metrics.Collector
	log     *zap.Logger

	records         int64
	sinceCheckpoint int
}

// Upsert emits an upsert operation for one record.
func (e *Emitter) Upsert(ctx context.Context, table string, data map[string]interface{}) error {
	return e.send(ctx, &core.Operation{
		Type:  core.OperationUpsert,
		Table: table,
		Data:  data,
	})
}

// UpdateRecord emits an update operation. Data must contain the table's
// primary key columns plus the columns to modify.
func (e *Emitter) UpdateRecord(ctx context.Context, table string, data map[string]interface{}) error {
	return e.send(ctx, &core.Operation{
		Type:  core.OperationUpdate,
		Table: table,
		Data:  data,
	})
}

// Checkpoint emits a checkpoint operation carrying the connector state. The
// state is cloned so later mutation by the connector cannot race the
// consumer.
func (e *Emitter) Checkpoint(ctx context.Context, state core.State) error {
	if err := e.send(ctx, &core.Operation{
		Type:  core.OperationCheckpoint,
		State: state.Clone(),
	}); err != nil {
		return err
	}
	e.sinceCheckpoint = 0
	return nil
}

// EndPage marks a page boundary, checkpointing when the cadence is per-page.
func (e *Emitter) EndPage(ctx context.Context, state core.State) error {
	if e.policy.Mode == config.CheckpointPage {
		return e.Checkpoint(ctx, state)
	}
	return nil
}

// MaybeCheckpoint checkpoints when interval cadence is configured and enough
// records have accumulated since the last checkpoint.
func (e *Emitter) MaybeCheckpoint(ctx context.Context, state core.State) error {
	if e.policy.Mode != config.CheckpointInterval {
		return nil
	}
	if e.sinceCheckpoint < e.policy.Interval {
		return nil
	}
	return e.Checkpoint(ctx, state)
}

// Fail reports an unrecoverable error to the stream consumer. The emitter
// must still be closed afterwards.
func (e *Emitter) Fail(err error) {
	select {
	case e.errs <- err:
	default:
		e.log.Error("error channel full, dropping error", zap.Error(err))
	}
}

// Close closes the stream channels. No emitter method may be called after
// Close.
func (e *Emitter) Close() {
	close(e.ops)
	close(e.errs)
}

// Records returns the number of upsert and update operations emitted.
func (e *Emitter) Records() int64 {
	return e.records
}

func (e *Emitter) send(ctx context.Context, op *core.Operation) error {
	select {
	case e.ops <- op:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "operation stream send canceled")
	}

	if e.metrics != nil {
		e.metrics.RecordOperation(string(op.Type))
	}
	if op.Type == core.OperationUpsert || op.Type == core.OperationUpdate {
		e.records++
		e.sinceCheckpoint++
	}
	return nil
}
