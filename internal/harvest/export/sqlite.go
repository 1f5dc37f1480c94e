package export

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/record"

	"github.com/samber/lo"
)

const (
	report_sqlite_exporter_export = "sqlite_exporter.export"
)

// DefaultTable is the table records are written to.
const DefaultTable = "records"

// SQLiteExporter mirrors the export into a sqlite (or libsql) table with one
// text column per schema column plus the row position. Each export replaces
// the table contents in a single transaction.
type SQLiteExporter struct {
	db          *sql.DB
	table       string
	destination string
	tel         telemetry.API
}

func NewSQLiteExporter(db *sql.DB, table, destination string, tel telemetry.API) SQLiteExporter {
	assert.NotNil(db)
	assert.NotNil(tel)
	if table == "" {
		table = DefaultTable
	}

	return SQLiteExporter{
		db:          db,
		table:       table,
		destination: destination,
		tel:         telemetry.NewScopedAPI("sqlite_exporter", tel),
	}
}

func (e SQLiteExporter) Destination() string {
	return fmt.Sprintf("%s#%s", e.destination, e.table)
}

func quote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

func (e SQLiteExporter) Export(ctx context.Context, schema record.Schema, records []record.Record) error {
	err := e.export(ctx, schema, records)
	if err != nil {
		e.tel.ReportBroken(report_sqlite_exporter_export, err, e.Destination())
		return exportFailed(e.Destination(), err)
	}
	e.tel.ReportCount("rows", int64(len(records)))
	return nil
}

func (e SQLiteExporter) export(ctx context.Context, schema record.Schema, records []record.Record) error {
	err := schema.Validate()
	if err != nil {
		return err
	}

	columns := lo.Map(schema, func(c string, _ int) string {
		return quote(c)
	})

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// the schema may change between runs, the table always matches the latest export
	_, err = tx.ExecContext(ctx, fmt.Sprintf("drop table if exists %s", quote(e.table)))
	if err != nil {
		return err
	}
	// rows keep arrival order through the implicit rowid, so every schema
	// column name is available to the export
	_, err = tx.ExecContext(ctx, fmt.Sprintf(
		"create table %s (%s)",
		quote(e.table),
		strings.Join(lo.Map(columns, func(c string, _ int) string {
			return c + " text not null"
		}), ", "),
	))
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	insert := fmt.Sprintf(
		"insert into %s (%s) values (?%s)",
		quote(e.table),
		strings.Join(columns, ", "),
		strings.Repeat(", ?", len(columns)-1),
	)
	for i, r := range records {
		args := []any{}
		for _, value := range r.Row(schema) {
			args = append(args, value)
		}
		_, err = tx.ExecContext(ctx, insert, args...)
		if err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	return tx.Commit()
}
