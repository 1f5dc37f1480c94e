package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/aspnet"
	"registry-harvester/internal/harvest/record"
)

const (
	report_postback_fetcher_fetch = "postback_fetcher.fetch"
)

// PostbackFetcher fetches records that are only reachable by submitting the
// search form. Each fetch replays the form from scratch (load, trigger, page
// of the result grid, select) so that one broken submission cannot poison the
// state used by the next locator.
type PostbackFetcher struct {
	session   *aspnet.Session
	trigger   aspnet.Submission
	extractor Extractor
	time      chrono.API
	tel       telemetry.API

	mutex *sync.Mutex
}

func NewPostbackFetcher(
	session *aspnet.Session,
	trigger aspnet.Submission,
	extractor Extractor,
	time chrono.API,
	tel telemetry.API,
) PostbackFetcher {
	assert.NotNil(session)
	assert.NotNil(time)
	assert.NotNil(tel)

	return PostbackFetcher{
		session:   session,
		trigger:   trigger,
		extractor: extractor,
		time:      time,
		tel:       telemetry.NewScopedAPI("postback_fetcher", tel),
		mutex:     &sync.Mutex{},
	}
}

func (f PostbackFetcher) Fetch(ctx context.Context, locator record.Locator) (record.Record, error) {
	if !locator.IsPostback() {
		return record.Record{}, failed(locator, fmt.Errorf("locator has no postback target"))
	}

	// the session holds a single form state, submissions cannot interleave
	f.mutex.Lock()
	defer f.mutex.Unlock()

	_, err := f.session.Load(ctx)
	if err != nil {
		return record.Record{}, failed(locator, fmt.Errorf("load form: %w", err))
	}
	_, err = f.session.Submit(ctx, f.trigger)
	if err != nil {
		return record.Record{}, failed(locator, fmt.Errorf("trigger search: %w", err))
	}
	if locator.Page > 1 {
		_, err = f.session.Postback(ctx, aspnet.Event{
			Target:   locator.Target,
			Argument: fmt.Sprintf("Page$%d", locator.Page),
		}, nil)
		if err != nil {
			return record.Record{}, failed(locator, fmt.Errorf("open result page %d: %w", locator.Page, err))
		}
	}

	doc, err := f.session.Postback(ctx, aspnet.Event{
		Target:   locator.Target,
		Argument: locator.Argument,
	}, nil)
	if err != nil {
		f.tel.ReportWarning(report_postback_fetcher_fetch, err, locator.String())
		return record.Record{}, failed(locator, err)
	}
	capturedAt := chrono.FormatUTC(f.time.Now())

	// postback results have no address of their own, the shared form
	// endpoint is the best provenance available
	endpoint := f.session.Endpoint()
	base, err := url.Parse(endpoint)
	if err != nil {
		base = nil
	}

	values, matched := f.extractor.Extract(doc, base)
	f.extractor.warnIfEmpty(locator, matched)

	return f.extractor.build(values, endpoint, capturedAt), nil
}
