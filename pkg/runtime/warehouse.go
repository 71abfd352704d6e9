// Package runtime provides the local debug host that drives a connector
// through a full sync: it loads the persisted state, consumes the operation
// stream, applies upserts and updates to a local SQLite warehouse, and
// persists state on every checkpoint. It exists so a connector can be
// exercised end to end against real APIs without any external destination.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/samber/lo"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/stardust/pkg/connector/core"
	"github.com/ajitpratap0/stardust/pkg/errors"
	jsonpool "github.com/ajitpratap0/stardust/pkg/json"
)

// Warehouse is a local SQLite destination for debug runs. Tables are
// created from connector schemas; columns missing from the declared schema
// are added lazily as TEXT when records first carry them.
type Warehouse struct {
	db   *sql.DB
	path string
	log  *zap.Logger

	// columns tracks the known column set per table so records with new
	// fields trigger an ALTER before the insert
	columns map[string]map[string]bool
	pks     map[string][]string
}

// OpenWarehouse opens (or creates) the SQLite warehouse file at path.
func OpenWarehouse(path string, log *zap.Logger) (*Warehouse, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create warehouse directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open warehouse")
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)

	return &Warehouse{
		db:      db,
		path:    path,
		log:     log.With(zap.String("component", "warehouse")),
		columns: make(map[string]map[string]bool),
		pks:     make(map[string][]string),
	}, nil
}

// columnSQLType maps a declared column type to its SQLite affinity.
func columnSQLType(t core.ColumnType) string {
	switch t {
	case core.ColumnTypeInt, core.ColumnTypeLong, core.ColumnTypeBoolean:
		return "INTEGER"
	case core.ColumnTypeFloat, core.ColumnTypeNumber:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// EnsureTable creates the destination table for a schema if it does not
// exist. Primary key columns come first, followed by the remaining declared
// columns in sorted order.
func (w *Warehouse) EnsureTable(ctx context.Context, schema *core.TableSchema) error {
	if err := schema.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "invalid table schema")
	}

	cols := make([]string, 0, len(schema.PrimaryKey)+len(schema.Columns))
	seen := make(map[string]bool)

	for _, pk := range schema.PrimaryKey {
		typ := "TEXT"
		if t, ok := schema.Columns[pk]; ok {
			typ = columnSQLType(t)
		}
		cols = append(cols, quoteIdent(pk)+" "+typ)
		seen[pk] = true
	}

	rest := lo.Filter(lo.Keys(schema.Columns), func(name string, _ int) bool {
		return !seen[name]
	})
	sort.Strings(rest)
	for _, name := range rest {
		cols = append(cols, quoteIdent(name)+" "+columnSQLType(schema.Columns[name]))
		seen[name] = true
	}

	pkList := strings.Join(lo.Map(schema.PrimaryKey, func(pk string, _ int) string {
		return quoteIdent(pk)
	}), ", ")

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (%s))",
		quoteIdent(schema.Table), strings.Join(cols, ", "), pkList)

	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create table "+schema.Table)
	}

	known := make(map[string]bool, len(seen))
	for name := range seen {
		known[name] = true
	}
	w.columns[schema.Table] = known
	w.pks[schema.Table] = append([]string(nil), schema.PrimaryKey...)

	return nil
}

// ensureColumns adds any record fields the table has not seen before.
// Undeclared columns get TEXT affinity; sqlite stores whatever arrives.
func (w *Warehouse) ensureColumns(ctx context.Context, table string, data map[string]interface{}) error {
	known, ok := w.columns[table]
	if !ok {
		return errors.Newf(errors.ErrorTypeState, "table %s was never declared", table)
	}

	missing := lo.Filter(lo.Keys(data), func(name string, _ int) bool {
		return !known[name]
	})
	sort.Strings(missing)

	for _, name := range missing {
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT",
			quoteIdent(table), quoteIdent(name))
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to add column "+name)
		}
		known[name] = true
		w.log.Debug("added column", zap.String("table", table), zap.String("column", name))
	}
	return nil
}

// bindValue converts a record value into something the sqlite driver
// accepts. Nested structures are stored as JSON text.
func bindValue(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case nil, string, bool, int, int64, float64:
		return v, nil
	case map[string]interface{}, []interface{}:
		b, err := jsonpool.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Upsert inserts the record or replaces the existing row with the same
// primary key.
func (w *Warehouse) Upsert(ctx context.Context, table string, data map[string]interface{}) error {
	if err := w.ensureColumns(ctx, table, data); err != nil {
		return err
	}

	names := lo.Keys(data)
	sort.Strings(names)

	cols := make([]string, 0, len(names))
	placeholders := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names))
	for _, name := range names {
		v, err := bindValue(data[name])
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "unencodable value for column "+name)
		}
		cols = append(cols, quoteIdent(name))
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}

	pks := w.pks[table]
	pkSet := lo.SliceToMap(pks, func(pk string) (string, bool) { return pk, true })

	updates := lo.FilterMap(names, func(name string, _ int) (string, bool) {
		if pkSet[name] {
			return "", false
		}
		return quoteIdent(name) + " = excluded." + quoteIdent(name), true
	})

	conflict := strings.Join(lo.Map(pks, func(pk string, _ int) string {
		return quoteIdent(pk)
	}), ", ")

	var stmt string
	if len(updates) == 0 {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
			quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "), conflict)
	} else {
		stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
			conflict, strings.Join(updates, ", "))
	}

	if _, err := w.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "upsert failed for table "+table)
	}
	return nil
}

// Update modifies the existing row matching the record's primary key. Rows
// that do not exist yet are left untouched.
func (w *Warehouse) Update(ctx context.Context, table string, data map[string]interface{}) error {
	if err := w.ensureColumns(ctx, table, data); err != nil {
		return err
	}

	pks := w.pks[table]
	pkSet := lo.SliceToMap(pks, func(pk string) (string, bool) { return pk, true })

	names := lo.Keys(data)
	sort.Strings(names)

	var sets []string
	var args []interface{}
	for _, name := range names {
		if pkSet[name] {
			continue
		}
		v, err := bindValue(data[name])
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "unencodable value for column "+name)
		}
		sets = append(sets, quoteIdent(name)+" = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}

	var where []string
	for _, pk := range pks {
		v, ok := data[pk]
		if !ok {
			return errors.Newf(errors.ErrorTypeData, "update for %s is missing primary key %s", table, pk)
		}
		bound, err := bindValue(v)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "unencodable primary key "+pk)
		}
		where = append(where, quoteIdent(pk)+" = ?")
		args = append(args, bound)
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteIdent(table), strings.Join(sets, ", "), strings.Join(where, " AND "))

	if _, err := w.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "update failed for table "+table)
	}
	return nil
}

// Count returns the number of rows in a table.
func (w *Warehouse) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	row := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table))
	if err := row.Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeInternal, "count failed for table "+table)
	}
	return n, nil
}

// Tables returns the names of the tables declared in this run.
func (w *Warehouse) Tables() []string {
	names := lo.Keys(w.columns)
	sort.Strings(names)
	return names
}

// ExportJSONL writes every declared table to dir as a gzip-compressed JSON
// Lines file (<table>.jsonl.gz), one record per line.
func (w *Warehouse) ExportJSONL(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create export directory")
	}

	for _, table := range w.Tables() {
		if err := w.exportTable(ctx, dir, table); err != nil {
			return err
		}
	}
	return nil
}

func (w *Warehouse) exportTable(ctx context.Context, dir, table string) error {
	rows, err := w.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "export query failed for "+table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to read columns for "+table)
	}

	path := filepath.Join(dir, table+".jsonl.gz")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to create export file")
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var count int64
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "export scan failed for "+table)
		}
		record := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		line, err := jsonpool.Marshal(record)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "export encode failed for "+table)
		}
		if _, err := gz.Write(append(line, '\n')); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "export write failed")
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "export iteration failed for "+table)
	}

	w.log.Info("exported table",
		zap.String("table", table),
		zap.Int64("rows", count),
		zap.String("path", path))
	return nil
}

// Close closes the underlying database.
func (w *Warehouse) Close() error {
	return w.db.Close()
}
