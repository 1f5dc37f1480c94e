package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/record"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	report_get_fetcher_fetch = "get_fetcher.fetch"
)

// GetFetcher fetches records that have their own addressable detail page.
type GetFetcher struct {
	http      *resty.Client
	extractor Extractor
	time      chrono.API
	tel       telemetry.API
}

func NewGetFetcher(http *resty.Client, extractor Extractor, time chrono.API, tel telemetry.API) GetFetcher {
	assert.NotNil(http)
	assert.NotNil(time)
	assert.NotNil(tel)

	return GetFetcher{
		http:      http,
		extractor: extractor,
		time:      time,
		tel:       telemetry.NewScopedAPI("get_fetcher", tel),
	}
}

func (f GetFetcher) Fetch(ctx context.Context, locator record.Locator) (record.Record, error) {
	if locator.URL == "" {
		return record.Record{}, failed(locator, errors.New("locator has no detail url"))
	}

	f.tel.ReportDebug("fetch", locator.URL)

	res, err := f.http.R().
		SetContext(ctx).
		Get(locator.URL)
	if err != nil {
		f.tel.ReportBroken(report_get_fetcher_fetch, fmt.Errorf("fetch: %w", err), locator.URL)
		return record.Record{}, failed(locator, err)
	}
	capturedAt := chrono.FormatUTC(f.time.Now())

	if res.IsError() {
		err := fmt.Errorf("unexpected status %s", res.Status())
		f.tel.ReportWarning(report_get_fetcher_fetch, err, locator.URL)
		return record.Record{}, failed(locator, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		f.tel.ReportBroken(report_get_fetcher_fetch, fmt.Errorf("parse html: %w", err), locator.URL)
		return record.Record{}, failed(locator, err)
	}

	// relative image paths are relative to where we ended up, not where we started
	base := res.Request.RawRequest.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		base = res.RawResponse.Request.URL
	}

	values, matched := f.extractor.Extract(doc, base)
	f.extractor.warnIfEmpty(locator, matched)

	return f.extractor.build(values, locator.URL, capturedAt), nil
}
