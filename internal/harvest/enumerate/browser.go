package enumerate

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/browser"
	"registry-harvester/internal/harvest/record"
	"registry-harvester/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_browser_enumerator_enumerate = "browser_enumerator.enumerate"
)

type BrowserOptions struct {
	IndexURL string
	// Trigger is clicked after the index renders, ex. a search button.
	Trigger string
	// WaitFor must become visible before the links are read.
	WaitFor      string
	LinkSelector string
	LinkPattern  *regexp.Regexp
	IDParam      string
}

// BrowserEnumerator reads detail links from an index that only renders them
// with scripts.
type BrowserEnumerator struct {
	renderer browser.Renderer
	opts     BrowserOptions
	tel      telemetry.API
}

func NewBrowserEnumerator(renderer browser.Renderer, opts BrowserOptions, tel telemetry.API) BrowserEnumerator {
	assert.NotNil(renderer)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.IndexURL)
	assert.NotEmptyStr(opts.LinkSelector)

	return BrowserEnumerator{
		renderer: renderer,
		opts:     opts,
		tel:      telemetry.NewScopedAPI("browser_enumerator", tel),
	}
}

func (e BrowserEnumerator) Enumerate(ctx context.Context) ([]record.Locator, error) {
	var actions []browser.Action
	if e.opts.Trigger != "" || e.opts.WaitFor != "" {
		actions = append(actions, browser.ClickAndWait(e.opts.Trigger, e.opts.WaitFor))
	}
	page, err := e.renderer.Render(ctx, e.opts.IndexURL, actions...)
	if err != nil {
		e.tel.ReportBroken(report_browser_enumerator_enumerate, err)
		return nil, fmt.Errorf("%w: render index: %w", ErrDiscoveryFailed, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parse index: %w", ErrDiscoveryFailed, err)
	}

	base, err := url.Parse(page.URL)
	if err != nil || page.URL == "" {
		base, _ = url.Parse(e.opts.IndexURL)
	}

	var locators []record.Locator
	for _, anchor := range htmlutil.GetAnchors(base, doc.Find(e.opts.LinkSelector)) {
		link := anchor.Url.String()
		if e.opts.LinkPattern != nil && !e.opts.LinkPattern.MatchString(link) {
			continue
		}
		id := anchor.Name
		if e.opts.IDParam != "" && anchor.Url.Query().Get(e.opts.IDParam) != "" {
			id = anchor.Url.Query().Get(e.opts.IDParam)
		}
		locators = append(locators, record.Locator{ID: id, URL: link})
	}

	locators = dedupe(locators)
	if len(locators) == 0 {
		err := discoveryFailed("no links matched %q on %s", e.opts.LinkSelector, e.opts.IndexURL)
		e.tel.ReportBroken(report_browser_enumerator_enumerate, err)
		return nil, err
	}
	e.tel.ReportCount("located", int64(len(locators)))
	return locators, nil
}
