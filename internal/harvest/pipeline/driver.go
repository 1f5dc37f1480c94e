// Package pipeline sequences a harvest run: enumerate the locators, fetch
// each record with failure isolation, then export once. Pacing lives in the
// transport so it covers every request a stage makes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/enumerate"
	"registry-harvester/internal/harvest/export"
	"registry-harvester/internal/harvest/fetch"
	"registry-harvester/internal/harvest/record"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	report_driver_enumerate = "driver.enumerate"
	report_driver_fetch     = "driver.fetch"
	report_driver_export    = "driver.export"
)

var tracer = otel.Tracer("registry-harvester/pipeline")
var meter = otel.Meter("registry-harvester/pipeline")
var collectedCounter, _ = meter.Int64Counter("harvest.records.collected")
var failedCounter, _ = meter.Int64Counter("harvest.records.failed")

type Options struct {
	Schema record.Schema
	// Workers bounds the number of concurrent fetches, requests still start
	// no faster than the shared transport pacer allows.
	Workers  int
	Observer Observer
}

type Driver struct {
	enumerator enumerate.Enumerator
	fetcher    fetch.Fetcher
	exporter   export.Exporter
	opts       Options
	time       chrono.API
	tel        telemetry.API

	observerMutex *sync.Mutex
}

func NewDriver(
	enumerator enumerate.Enumerator,
	fetcher fetch.Fetcher,
	exporter export.Exporter,
	opts Options,
	time chrono.API,
	tel telemetry.API,
) Driver {
	assert.NotNil(enumerator)
	assert.NotNil(fetcher)
	assert.NotNil(exporter)
	assert.NotNil(time)
	assert.NotNil(tel)

	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if len(opts.Schema) == 0 {
		opts.Schema = record.DefaultSchema()
	}

	return Driver{
		enumerator:    enumerator,
		fetcher:       fetcher,
		exporter:      exporter,
		opts:          opts,
		time:          time,
		tel:           telemetry.NewScopedAPI("pipeline", tel),
		observerMutex: &sync.Mutex{},
	}
}

func (d Driver) emit(event Event) {
	d.tel.ReportDebug(event.String())
	if d.opts.Observer == nil {
		return
	}
	d.observerMutex.Lock()
	defer d.observerMutex.Unlock()
	d.opts.Observer(event)
}

// Run performs one harvest. Discovery and fetch failures are reported and
// recorded in the Report. The returned error is only non-nil when the
// export failed or ctx was cancelled, in which case whatever was collected
// is still exported.
func (d Driver) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "pipeline:Run")
	defer span.End()

	report := Report{
		Started:     d.time.Now(),
		Destination: d.exporter.Destination(),
	}
	d.emit(Event{State: Idle})

	locators, err := d.enumerate(ctx)
	if err != nil {
		report.DiscoveryFailed = true
		report.DiscoveryErr = err
		span.RecordError(err)
		d.tel.ReportWarning(report_driver_enumerate, err)
		d.emit(Event{State: EnumerationFailed, Err: err})
	} else {
		d.emit(Event{State: Enumerated, Total: len(locators)})
	}
	report.Located = len(locators)
	span.SetAttributes(attribute.Int("harvest.located", len(locators)))

	records, failures := d.fetchAll(ctx, locators)
	report.Collected = len(records)
	report.Failures = failures

	d.emit(Event{State: Exporting, Total: len(records)})
	// a cancelled run still leaves a well formed export behind
	err = d.exporter.Export(context.WithoutCancel(ctx), d.opts.Schema, records)
	report.Finished = d.time.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		d.tel.ReportBroken(report_driver_export, err, report.Destination)
		return report, err
	}

	d.tel.ReportCount("collected", int64(report.Collected))
	d.tel.ReportCount("failed", int64(report.Failed()))
	d.emit(Event{State: Done, Total: report.Collected})

	if ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return report, ctx.Err()
	}
	return report, nil
}

func (d Driver) enumerate(ctx context.Context) ([]record.Locator, error) {
	d.emit(Event{State: Enumerating})

	locators, err := d.enumerator.Enumerate(ctx)
	if err != nil {
		if !errors.Is(err, enumerate.ErrDiscoveryFailed) {
			err = fmt.Errorf("%w: %w", enumerate.ErrDiscoveryFailed, err)
		}
		return nil, err
	}
	return locators, nil
}

type outcome struct {
	done   bool
	record record.Record
	err    error
}

func (d Driver) fetchAll(ctx context.Context, locators []record.Locator) ([]record.Record, []Failure) {
	outcomes := make([]outcome, len(locators))

	// no group context: siblings keep running when a fetch fails
	var group errgroup.Group
	group.SetLimit(d.opts.Workers)
	for i, locator := range locators {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			outcomes[i] = d.fetchOne(ctx, i, len(locators), locator)
			return nil
		})
	}
	group.Wait()

	var records []record.Record
	var failures []Failure
	for i, out := range outcomes {
		switch {
		case !out.done:
			err := out.err
			if err == nil {
				err = context.Cause(ctx)
			}
			failures = append(failures, Failure{Locator: locators[i], Err: err})
		case out.err != nil:
			failures = append(failures, Failure{Locator: locators[i], Err: out.err})
		default:
			records = append(records, out.record)
		}
	}
	return records, failures
}

func (d Driver) fetchOne(ctx context.Context, i, total int, locator record.Locator) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := &fetch.FetchError{Locator: locator, Err: fmt.Errorf("panic: %v", r)}
			d.tel.ReportBroken(report_driver_fetch, err, locator.String())
			d.emit(Event{State: RecordFailed, Index: i, Total: total, Locator: locator, Err: err})
			out = outcome{done: true, err: err}
		}
	}()

	if ctx.Err() != nil {
		return outcome{err: context.Cause(ctx)}
	}

	d.emit(Event{State: Fetching, Index: i, Total: total, Locator: locator})

	ctx, span := tracer.Start(ctx, "pipeline:Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("harvest.locator", locator.String()),
		attribute.Int("harvest.index", i),
	)

	rec, err := d.fetcher.Fetch(ctx, locator)
	if err != nil {
		var fetchErr *fetch.FetchError
		if !errors.As(err, &fetchErr) {
			err = &fetch.FetchError{Locator: locator, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		failedCounter.Add(ctx, 1)
		d.tel.ReportWarning(report_driver_fetch, err, locator.String())
		d.emit(Event{State: RecordFailed, Index: i, Total: total, Locator: locator, Err: err})
		return outcome{done: true, err: err}
	}

	collectedCounter.Add(ctx, 1)
	d.emit(Event{State: RecordCollected, Index: i, Total: total, Locator: locator})
	return outcome{done: true, record: rec}
}
