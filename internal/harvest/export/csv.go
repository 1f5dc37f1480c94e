package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/record"
)

const (
	report_csv_exporter_export = "csv_exporter.export"
)

// CSVExporter writes a header row followed by one row per record. The file
// is written next to its destination and renamed into place, so readers
// never see a partially written export.
type CSVExporter struct {
	path string
	tel  telemetry.API
}

func NewCSVExporter(path string, tel telemetry.API) CSVExporter {
	assert.NotEmptyStr(path)
	assert.NotNil(tel)

	return CSVExporter{
		path: path,
		tel:  telemetry.NewScopedAPI("csv_exporter", tel),
	}
}

func (e CSVExporter) Destination() string {
	return e.path
}

func (e CSVExporter) Export(ctx context.Context, schema record.Schema, records []record.Record) error {
	err := e.export(ctx, schema, records)
	if err != nil {
		e.tel.ReportBroken(report_csv_exporter_export, err, e.path)
		return exportFailed(e.path, err)
	}
	e.tel.ReportCount("rows", int64(len(records)))
	return nil
}

func (e CSVExporter) export(ctx context.Context, schema record.Schema, records []record.Record) error {
	err := schema.Validate()
	if err != nil {
		return err
	}

	dir := filepath.Dir(e.path)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(e.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	err = writeCSV(ctx, tmp, schema, records)
	if err != nil {
		return err
	}
	err = tmp.Sync()
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	err = os.Chmod(tmp.Name(), 0644)
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), e.path)
}

func writeCSV(ctx context.Context, f *os.File, schema record.Schema, records []record.Record) error {
	w := csv.NewWriter(f)
	err := w.Write(schema)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = w.Write(r.Row(schema))
		if err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	w.Flush()
	return w.Error()
}
