// Package core defines the contract between source connectors and the host
// sync runtime: table schemas, the operation stream (upsert, update,
// checkpoint), and the Source interface every connector implements.
package core

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/stardust/pkg/config"
)

// State is the sync state persisted by the host between runs. It is read at
// the start of every update and replaced wholesale on each checkpoint.
type State map[string]interface{}

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// GetString returns the state value for key as a string, or def.
func (s State) GetString(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// GetInt returns the state value for key as an int, or def. JSON round-trips
// store numbers as float64, so both forms are accepted.
func (s State) GetInt(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// ColumnType declares the destination type of a table column.
type ColumnType string

const (
	ColumnTypeString      ColumnType = "STRING"
	ColumnTypeInt         ColumnType = "INT"
	ColumnTypeLong        ColumnType = "LONG"
	ColumnTypeFloat       ColumnType = "FLOAT"
	ColumnTypeNumber      ColumnType = "NUMBER"
	ColumnTypeBoolean     ColumnType = "BOOLEAN"
	ColumnTypeNaiveDate   ColumnType = "NAIVE_DATE"
	ColumnTypeUTCDatetime ColumnType = "UTC_DATETIME"
	ColumnTypeJSON        ColumnType = "JSON"
)

// TableSchema describes one destination table: its name, primary key
// columns, and an optional column-type map. Columns outside the map are
// inferred by the host.
type TableSchema struct {
	Table      string                `json:"table"`
	PrimaryKey []string              `json:"primary_key"`
	Columns    map[string]ColumnType `json:"columns,omitempty"`
}

// Validate checks that the schema declares a table name and at least one
// primary key column.
func (t *TableSchema) Validate() error {
	if t.Table == "" {
		return fmt.Errorf("table name is required")
	}
	if len(t.PrimaryKey) == 0 {
		return fmt.Errorf("table %s: at least one primary key column is required", t.Table)
	}
	return nil
}

// HasPrimaryKey reports whether data carries a non-nil value for every
// declared primary key column.
func (t *TableSchema) HasPrimaryKey(data map[string]interface{}) bool {
	for _, pk := range t.PrimaryKey {
		v, ok := data[pk]
		if !ok || v == nil {
			return false
		}
		if s, isStr := v.(string); isStr && s == "" {
			return false
		}
	}
	return true
}

// OperationType identifies the kind of operation emitted by a connector.
type OperationType string

const (
	// OperationUpsert inserts or updates a record keyed by its primary key
	OperationUpsert OperationType = "upsert"
	// OperationUpdate updates an existing record
	OperationUpdate OperationType = "update"
	// OperationCheckpoint durably persists the sync state
	OperationCheckpoint OperationType = "checkpoint"
)

// Operation is one element of the stream consumed by the host runtime.
// Upsert and update operations carry a table and a flat record; checkpoint
// operations carry the replacement state.
type Operation struct {
	Type  OperationType          `json:"type"`
	Table string                 `json:"table,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
	State State                  `json:"state,omitempty"`
}

// OperationStream is a lazy, finite sequence of operations. The Operations
// channel is closed when the sync completes; a value on Errors marks the
// sync failed.
type OperationStream struct {
	Operations <-chan *Operation
	Errors     <-chan error
}

// Source is the interface all source connectors implement.
type Source interface {
	// Name returns the connector name
	Name() string
	// Version returns the connector version
	Version() string

	// Initialize validates configuration and prepares API clients
	Initialize(ctx context.Context, cfg *config.Config) error

	// Schema returns the table descriptors this connector produces
	Schema(ctx context.Context) ([]*TableSchema, error)

	// Update runs one sync starting from the given persisted state and
	// returns the resulting operation stream
	Update(ctx context.Context, state State) (*OperationStream, error)

	// Close releases connector resources
	Close(ctx context.Context) error
}
