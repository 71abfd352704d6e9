package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	"github.com/ajitpratap0/stardust/pkg/logger"
	"github.com/ajitpratap0/stardust/pkg/metrics"
)

// Runner drives one debug sync run of a source connector: schema, state
// load, update, and stream consumption into the local warehouse.
type Runner struct {
	source    core.Source
	cfg       *config.Config
	warehouse *Warehouse
	states    *StateStore
	log       *zap.Logger
	metrics   *metrics.Collector
}

// RunSummary reports what one sync run did.
type RunSummary struct {
	RunID       string
	Connector   string
	StartedAt   time.Time
	Duration    time.Duration
	Upserts     map[string]int64
	Updates     map[string]int64
	Skipped     map[string]int64
	Checkpoints int
	FinalState  core.State
}

// NewRunner creates a runner for the source, placing the warehouse database
// and state file under dataDir (warehouse.db and state.json).
func NewRunner(source core.Source, cfg *config.Config, dataDir string, log *zap.Logger) (*Runner, error) {
	warehouse, err := OpenWarehouse(filepath.Join(dataDir, "warehouse.db"), log)
	if err != nil {
		return nil, err
	}

	return &Runner{
		source:    source,
		cfg:       cfg,
		warehouse: warehouse,
		states:    NewStateStore(filepath.Join(dataDir, "state.json")),
		log:       log.With(zap.String("connector", source.Name())),
		metrics:   metrics.NewCollector(source.Name()),
	}, nil
}

// Warehouse exposes the underlying warehouse, for export after a run.
func (r *Runner) Warehouse() *Warehouse {
	return r.warehouse
}

// Run executes one full sync. It initializes the connector, declares its
// tables, resumes from the persisted state, and applies the operation
// stream, saving state on every checkpoint.
//
// Records missing a value for any declared primary key column are skipped
// with a warning rather than failing the run.
func (r *Runner) Run(ctx context.Context) (*RunSummary, error) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.SyncIDKey, runID)
	log := r.log.With(zap.String("sync_id", runID))

	summary := &RunSummary{
		RunID:     runID,
		Connector: r.source.Name(),
		StartedAt: time.Now(),
		Upserts:   make(map[string]int64),
		Updates:   make(map[string]int64),
		Skipped:   make(map[string]int64),
	}
	defer func() {
		summary.Duration = time.Since(summary.StartedAt)
		r.metrics.ObserveSyncDuration(summary.Duration)
	}()

	if err := r.source.Initialize(ctx, r.cfg); err != nil {
		return summary, errors.Wrap(err, errors.ErrorTypeConfig, "connector initialization failed")
	}
	defer func() {
		if err := r.source.Close(ctx); err != nil {
			log.Warn("connector close failed", zap.Error(err))
		}
	}()

	schemas, err := r.source.Schema(ctx)
	if err != nil {
		return summary, errors.Wrap(err, errors.ErrorTypeInternal, "schema discovery failed")
	}

	byTable := make(map[string]*core.TableSchema, len(schemas))
	for _, schema := range schemas {
		if err := r.warehouse.EnsureTable(ctx, schema); err != nil {
			return summary, err
		}
		byTable[schema.Table] = schema
	}
	log.Info("sync starting",
		zap.String("version", r.source.Version()),
		zap.Int("tables", len(schemas)))

	state, err := r.states.Load()
	if err != nil {
		return summary, err
	}

	stream, err := r.source.Update(ctx, state)
	if err != nil {
		return summary, errors.Wrap(err, errors.ErrorTypeInternal, "update failed to start")
	}

	if err := r.consume(ctx, log, stream, byTable, summary); err != nil {
		return summary, err
	}

	log.Info("sync complete",
		zap.Any("upserts", summary.Upserts),
		zap.Any("skipped", summary.Skipped),
		zap.Int("checkpoints", summary.Checkpoints),
		zap.Duration("duration", time.Since(summary.StartedAt)))

	return summary, nil
}

// consume drains the operation stream, applying operations until both
// channels close. The first stream error is returned after the drain so the
// producing goroutine is never left blocked on a full channel.
func (r *Runner) consume(ctx context.Context, log *zap.Logger, stream *core.OperationStream, byTable map[string]*core.TableSchema, summary *RunSummary) error {
	ops := stream.Operations
	errs := stream.Errors
	var streamErr error

	for ops != nil || errs != nil {
		select {
		case op, ok := <-ops:
			if !ok {
				ops = nil
				continue
			}
			if streamErr != nil {
				continue
			}
			if err := r.apply(ctx, log, op, byTable, summary); err != nil {
				streamErr = err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && streamErr == nil {
				streamErr = err
			}

		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "sync cancelled")
		}
	}

	return streamErr
}

func (r *Runner) apply(ctx context.Context, log *zap.Logger, op *core.Operation, byTable map[string]*core.TableSchema, summary *RunSummary) error {
	switch op.Type {
	case core.OperationUpsert, core.OperationUpdate:
		schema, ok := byTable[op.Table]
		if !ok {
			return errors.Newf(errors.ErrorTypeData,
				"operation references undeclared table %s", op.Table)
		}
		if !schema.HasPrimaryKey(op.Data) {
			summary.Skipped[op.Table]++
			r.metrics.RecordSkipped(op.Table)
			log.Warn("skipping record with missing primary key",
				zap.String("table", op.Table),
				zap.Strings("primary_key", schema.PrimaryKey))
			return nil
		}
		if op.Type == core.OperationUpsert {
			if err := r.warehouse.Upsert(ctx, op.Table, op.Data); err != nil {
				return err
			}
			summary.Upserts[op.Table]++
		} else {
			if err := r.warehouse.Update(ctx, op.Table, op.Data); err != nil {
				return err
			}
			summary.Updates[op.Table]++
		}
		return nil

	case core.OperationCheckpoint:
		if err := r.states.Save(op.State); err != nil {
			return err
		}
		summary.Checkpoints++
		summary.FinalState = op.State
		log.Debug("checkpoint saved", zap.Any("state", op.State))
		return nil

	default:
		return errors.Newf(errors.ErrorTypeData, "unknown operation type %q", op.Type)
	}
}

// Close releases the runner's warehouse.
func (r *Runner) Close() error {
	return r.warehouse.Close()
}
