package enumerate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/aspnet"
	"registry-harvester/internal/harvest/record"
	"registry-harvester/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_postback_enumerator_enumerate = "postback_enumerator.enumerate"
)

const DefaultPostbackLinkSelector = "a[href*='__doPostBack']"

type PostbackOptions struct {
	// Trigger turns the blank search form into the first page of results.
	Trigger aspnet.Submission
	// LinkSelector selects the postback anchors of the result grid.
	LinkSelector string
	// MaxPages bounds the number of result pages visited.
	MaxPages int
}

// PostbackEnumerator discovers records behind a WebForms search form. Every
// locator it produces is a postback event together with the result page it
// was found on.
type PostbackEnumerator struct {
	session *aspnet.Session
	opts    PostbackOptions
	tel     telemetry.API
}

func NewPostbackEnumerator(session *aspnet.Session, opts PostbackOptions, tel telemetry.API) PostbackEnumerator {
	assert.NotNil(session)
	assert.NotNil(tel)

	if opts.LinkSelector == "" {
		opts.LinkSelector = DefaultPostbackLinkSelector
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}

	return PostbackEnumerator{
		session: session,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("postback_enumerator", tel),
	}
}

type gridPage struct {
	selects []record.Locator
	pages   map[int]aspnet.Event
}

func (e PostbackEnumerator) readGrid(doc *goquery.Document, page int) gridPage {
	out := gridPage{pages: map[int]aspnet.Event{}}
	doc.Find(e.opts.LinkSelector).Each(func(_ int, anchor *goquery.Selection) {
		event, ok := aspnet.ParsePostbackHref(anchor.AttrOr("href", ""))
		if !ok {
			return
		}
		if number, isPager := strings.CutPrefix(event.Argument, "Page$"); isPager {
			n, err := strconv.Atoi(number)
			if err == nil {
				out.pages[n] = event
			}
			return
		}
		out.selects = append(out.selects, record.Locator{
			ID:       htmlutil.SelectionText(anchor),
			Target:   event.Target,
			Argument: event.Argument,
			Page:     page,
		})
	})
	return out
}

func (e PostbackEnumerator) Enumerate(ctx context.Context) ([]record.Locator, error) {
	_, err := e.session.Load(ctx)
	if err != nil {
		e.tel.ReportBroken(report_postback_enumerator_enumerate, err)
		return nil, fmt.Errorf("%w: load form: %w", ErrDiscoveryFailed, err)
	}
	doc, err := e.session.Submit(ctx, e.opts.Trigger)
	if err != nil {
		e.tel.ReportBroken(report_postback_enumerator_enumerate, err)
		return nil, fmt.Errorf("%w: trigger search: %w", ErrDiscoveryFailed, err)
	}

	var locators []record.Locator
	for page := 1; ; page++ {
		grid := e.readGrid(doc, page)
		e.tel.ReportDebug("result page", page, len(grid.selects))
		locators = append(locators, grid.selects...)

		next, ok := grid.pages[page+1]
		if !ok || page+1 > e.opts.MaxPages {
			break
		}
		doc, err = e.session.Postback(ctx, next, nil)
		if err != nil {
			e.tel.ReportWarning(report_postback_enumerator_enumerate, "pagination stopped early", page+1, err)
			break
		}
	}

	locators = dedupe(locators)
	if len(locators) == 0 {
		err := discoveryFailed("no postback links matched %q on %s", e.opts.LinkSelector, e.session.Endpoint())
		e.tel.ReportBroken(report_postback_enumerator_enumerate, err)
		return nil, err
	}
	e.tel.ReportCount("located", int64(len(locators)))
	return locators, nil
}
