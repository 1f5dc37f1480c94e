package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/browser"
	"registry-harvester/internal/harvest/record"

	"github.com/PuerkitoBio/goquery"
)

// BrowserFetcher renders each detail page in a headless browser before
// extracting, for sites that build their markup with scripts or sit behind
// a javascript challenge.
type BrowserFetcher struct {
	renderer  browser.Renderer
	waitFor   string
	extractor Extractor
	time      chrono.API
	tel       telemetry.API
}

// NewBrowserFetcher creates a BrowserFetcher, `waitFor` is an optional selector
// that must become visible before the page is read.
func NewBrowserFetcher(renderer browser.Renderer, waitFor string, extractor Extractor, time chrono.API, tel telemetry.API) BrowserFetcher {
	assert.NotNil(renderer)
	assert.NotNil(time)
	assert.NotNil(tel)

	return BrowserFetcher{
		renderer:  renderer,
		waitFor:   waitFor,
		extractor: extractor,
		time:      time,
		tel:       telemetry.NewScopedAPI("browser_fetcher", tel),
	}
}

func (f BrowserFetcher) Fetch(ctx context.Context, locator record.Locator) (record.Record, error) {
	if locator.URL == "" {
		return record.Record{}, failed(locator, errors.New("locator has no detail url"))
	}

	var actions []browser.Action
	if f.waitFor != "" {
		actions = append(actions, browser.ClickAndWait("", f.waitFor))
	}
	page, err := f.renderer.Render(ctx, locator.URL, actions...)
	if err != nil {
		return record.Record{}, failed(locator, fmt.Errorf("render: %w", err))
	}
	capturedAt := chrono.FormatUTC(f.time.Now())

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return record.Record{}, failed(locator, fmt.Errorf("parse html: %w", err))
	}

	base, err := url.Parse(page.URL)
	if err != nil || page.URL == "" {
		base, _ = url.Parse(locator.URL)
	}

	values, matched := f.extractor.Extract(doc, base)
	f.extractor.warnIfEmpty(locator, matched)

	return f.extractor.build(values, locator.URL, capturedAt), nil
}
