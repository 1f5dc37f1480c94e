// Package export writes harvested records to their destinations.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"registry-harvester/internal/harvest/record"
)

// ErrExportFailed is wrapped by every error an Exporter returns.
var ErrExportFailed = errors.New("export failed")

// Exporter persists a complete set of records laid out according to a schema.
// An export replaces whatever the destination held before.
type Exporter interface {
	Export(ctx context.Context, schema record.Schema, records []record.Record) error
	// Destination names where the records end up, for reporting.
	Destination() string
}

func exportFailed(destination string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExportFailed, destination, err)
}

// Multi exports to every exporter in order, it stops at the first failure.
type Multi []Exporter

func (m Multi) Export(ctx context.Context, schema record.Schema, records []record.Record) error {
	for _, exporter := range m {
		err := exporter.Export(ctx, schema, records)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Destination() string {
	destinations := make([]string, len(m))
	for i, exporter := range m {
		destinations[i] = exporter.Destination()
	}
	return strings.Join(destinations, ", ")
}
