package enumerate

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/record"
	"registry-harvester/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

const (
	report_link_harvester_enumerate = "link_harvester.enumerate"
)

type LinkOptions struct {
	// IndexURL is the first page listing the records.
	IndexURL string
	// LinkSelector selects the anchors pointing at detail pages.
	LinkSelector string
	// LinkPattern, when set, must match the resolved href of an anchor for it to count.
	LinkPattern *regexp.Regexp
	// IDParam is the query parameter holding the record id, the anchor text is used when it is missing.
	IDParam string
	// NextSelector selects the anchor of the next result page, pagination is off when it is empty.
	NextSelector string
	// MaxPages bounds the number of index pages visited.
	MaxPages int
}

// LinkHarvester collects detail page links from one or more index pages.
type LinkHarvester struct {
	http *resty.Client
	opts LinkOptions
	tel  telemetry.API
}

func NewLinkHarvester(http *resty.Client, opts LinkOptions, tel telemetry.API) LinkHarvester {
	assert.NotNil(http)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.IndexURL)
	assert.NotEmptyStr(opts.LinkSelector)

	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}

	return LinkHarvester{
		http: http,
		opts: opts,
		tel:  telemetry.NewScopedAPI("link_harvester", tel),
	}
}

func (h LinkHarvester) fetchPage(ctx context.Context, link string) (*goquery.Document, *url.URL, error) {
	res, err := h.http.R().
		SetContext(ctx).
		Get(link)
	if err != nil {
		return nil, nil, err
	}
	if res.IsError() {
		return nil, nil, fmt.Errorf("unexpected status %s", res.Status())
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	base := res.Request.RawRequest.URL
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		base = res.RawResponse.Request.URL
	}
	return doc, base, nil
}

func (h LinkHarvester) Enumerate(ctx context.Context) ([]record.Locator, error) {
	var locators []record.Locator
	visited := map[string]bool{}
	current := h.opts.IndexURL

	for page := 1; page <= h.opts.MaxPages; page++ {
		visited[current] = true
		h.tel.ReportDebug("index page", page, current)

		doc, base, err := h.fetchPage(ctx, current)
		if err != nil {
			h.tel.ReportBroken(report_link_harvester_enumerate, err, current)
			if page == 1 {
				return nil, fmt.Errorf("%w: index %s: %w", ErrDiscoveryFailed, current, err)
			}
			// keep what the earlier pages produced
			h.tel.ReportWarning(report_link_harvester_enumerate, "pagination stopped early", page)
			break
		}

		found := 0
		for _, anchor := range htmlutil.GetAnchors(base, doc.Find(h.opts.LinkSelector)) {
			link := anchor.Url.String()
			if h.opts.LinkPattern != nil && !h.opts.LinkPattern.MatchString(link) {
				continue
			}
			locators = append(locators, record.Locator{
				ID:  h.idOf(anchor),
				URL: link,
			})
			found++
		}
		h.tel.ReportDebug("links found", page, found)

		if h.opts.NextSelector == "" {
			break
		}
		nextHref, ok := doc.Find(h.opts.NextSelector).First().Attr("href")
		if !ok || nextHref == "" {
			break
		}
		next := htmlutil.ResolveURL(base, nextHref)
		if visited[next] {
			break
		}
		current = next
	}

	locators = dedupe(locators)
	if len(locators) == 0 {
		err := discoveryFailed("no links matched %q on %s", h.opts.LinkSelector, h.opts.IndexURL)
		h.tel.ReportBroken(report_link_harvester_enumerate, err)
		return nil, err
	}
	h.tel.ReportCount("located", int64(len(locators)))
	return locators, nil
}

func (h LinkHarvester) idOf(anchor htmlutil.Anchor) string {
	if h.opts.IDParam != "" {
		id := anchor.Url.Query().Get(h.opts.IDParam)
		if id != "" {
			return id
		}
	}
	return anchor.Name
}
