package enumerate

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/aspnet"
	"registry-harvester/internal/harvest/browser"
	"registry-harvester/internal/harvest/harvesttest"
	"registry-harvester/internal/harvest/record"
	"registry-harvester/internal/harvest/transport"

	"github.com/go-resty/resty/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, rec *telemetry.Recorder) *resty.Client {
	client, err := transport.NewClient(transport.Options{Timeout: time.Second * 5}, rec)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func ids(locators []record.Locator) []string {
	return lo.Map(locators, func(l record.Locator, _ int) string {
		return l.ID
	})
}

func allIds() []string {
	return lo.Map(harvesttest.Inmates(), func(i harvesttest.Inmate, _ int) string {
		return i.ID
	})
}

func TestStatic(t *testing.T) {
	template := "https://example.com/info.aspx?ID={id}"
	locators, err := NewStatic([]string{"036085", " 036366 ", "", "036085"}, template).Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	expected := []record.Locator{
		{ID: "036085", URL: "https://example.com/info.aspx?ID=036085"},
		{ID: "036366", URL: "https://example.com/info.aspx?ID=036366"},
	}
	if diff := cmp.Diff(expected, locators); diff != "" {
		t.Fatal("locators differ (-expected +got):\n", diff)
	}
}

func TestStaticEmptyIsNotAFailure(t *testing.T) {
	locators, err := NewStatic(nil, "").Enumerate(context.Background())
	require.NoError(t, err)
	require.Empty(t, locators)
}

func TestDetailURLEscapes(t *testing.T) {
	require.Equal(t, "http://x/?ID=a+b%26c", DetailURL("http://x/?ID={id}", "a b&c"))
	require.Equal(t, "", DetailURL("", "036085"))
}

func TestLinkHarvesterSinglePage(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	harvester := NewLinkHarvester(newClient(t, rec), LinkOptions{
		IndexURL:     registry.IndexURL(),
		LinkSelector: "table#results a",
		IDParam:      "ID",
	}, rec)
	locators, err := harvester.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, []string{"036085", "036366"}, ids(locators))
	require.Equal(t, registry.DetailURL("036085"), locators[0].URL)
	require.Equal(t, 1, registry.Hits(harvesttest.IndexPath))
}

func TestLinkHarvesterPaginates(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	harvester := NewLinkHarvester(newClient(t, rec), LinkOptions{
		IndexURL:     registry.IndexURL(),
		LinkSelector: "table#results a",
		LinkPattern:  regexp.MustCompile(`InmateInfo\.aspx\?ID=\d+$`),
		IDParam:      "ID",
		NextSelector: "a#next",
		MaxPages:     10,
	}, rec)
	locators, err := harvester.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, allIds(), ids(locators))
	require.Equal(t, 3, registry.Hits(harvesttest.IndexPath))
	count, ok := rec.LastCount("located")
	require.True(t, ok)
	require.EqualValues(t, 5, count)
}

func TestLinkHarvesterMaxPages(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	harvester := NewLinkHarvester(newClient(t, rec), LinkOptions{
		IndexURL:     registry.IndexURL(),
		LinkSelector: "table#results a",
		IDParam:      "ID",
		NextSelector: "a#next",
		MaxPages:     2,
	}, rec)
	locators, err := harvester.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Len(t, locators, 4)
}

func TestLinkHarvesterPatternFilters(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	harvester := NewLinkHarvester(newClient(t, rec), LinkOptions{
		IndexURL:     registry.IndexURL(),
		LinkSelector: "table#results a",
		LinkPattern:  regexp.MustCompile(`ID=036366`),
		IDParam:      "ID",
	}, rec)
	locators, err := harvester.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"036366"}, ids(locators))
}

func TestLinkHarvesterDiscoveryFailures(t *testing.T) {
	cases := []struct {
		name      string
		configure func(r *harvesttest.Registry) string
		selector  string
	}{
		{
			name: "no links matched",
			configure: func(r *harvesttest.Registry) string {
				r.EmptyIndex = true
				return r.IndexURL()
			},
			selector: "table#results a",
		},
		{
			name: "selector matches nothing",
			configure: func(r *harvesttest.Registry) string {
				return r.IndexURL()
			},
			selector: "table#missing a",
		},
		{
			name: "index unreachable",
			configure: func(r *harvesttest.Registry) string {
				return r.Server.URL + "/missing.aspx"
			},
			selector: "table#results a",
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
			rec := telemetry.NewRecorder()
			index := test.configure(registry)

			harvester := NewLinkHarvester(newClient(t, rec), LinkOptions{
				IndexURL:     index,
				LinkSelector: test.selector,
			}, rec)
			locators, err := harvester.Enumerate(context.Background())
			require.ErrorIs(t, err, ErrDiscoveryFailed)
			require.Empty(t, locators)
			require.True(t, rec.Has(telemetry.KindBroken, report_link_harvester_enumerate))
		})
	}
}

func TestLinkHarvesterCancelled(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	harvester := NewLinkHarvester(newClient(t, rec), LinkOptions{
		IndexURL:     registry.IndexURL(),
		LinkSelector: "table#results a",
	}, rec)
	_, err := harvester.Enumerate(ctx)
	require.ErrorIs(t, err, ErrDiscoveryFailed)
	require.ErrorIs(t, err, context.Canceled)
}

func newPostbackEnumerator(t *testing.T, registry *harvesttest.Registry, maxPages int, rec *telemetry.Recorder) PostbackEnumerator {
	session, err := aspnet.NewSession(newClient(t, rec), registry.FormURL(), rec)
	if err != nil {
		t.Fatal(err)
	}
	return NewPostbackEnumerator(session, PostbackOptions{
		Trigger:      aspnet.Submission{Fields: map[string]string{harvesttest.SearchButton: "Search"}},
		LinkSelector: "table#gvResults a",
		MaxPages:     maxPages,
	}, rec)
}

func TestPostbackEnumerator(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	locators, err := newPostbackEnumerator(t, registry, 10, rec).Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	expected := []record.Locator{
		{ID: "036085", Target: harvesttest.GridTarget, Argument: "Select$0", Page: 1},
		{ID: "036366", Target: harvesttest.GridTarget, Argument: "Select$1", Page: 1},
		{ID: "039656", Target: harvesttest.GridTarget, Argument: "Select$0", Page: 2},
		{ID: "042891", Target: harvesttest.GridTarget, Argument: "Select$1", Page: 2},
		{ID: "043800", Target: harvesttest.GridTarget, Argument: "Select$0", Page: 3},
	}
	if diff := cmp.Diff(expected, locators); diff != "" {
		t.Fatal("locators differ (-expected +got):\n", diff)
	}
}

func TestPostbackEnumeratorMaxPages(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	rec := telemetry.NewRecorder()

	locators, err := newPostbackEnumerator(t, registry, 1, rec).Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"036085", "036366"}, ids(locators))
}

func TestPostbackEnumeratorEmptyGrid(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	registry.EmptyIndex = true
	rec := telemetry.NewRecorder()

	_, err := newPostbackEnumerator(t, registry, 10, rec).Enumerate(context.Background())
	require.ErrorIs(t, err, ErrDiscoveryFailed)
}

type fakeRenderer struct {
	page browser.Page
	err  error
}

func (r fakeRenderer) Render(context.Context, string, ...browser.Action) (browser.Page, error) {
	return r.page, r.err
}

func TestBrowserEnumerator(t *testing.T) {
	rec := telemetry.NewRecorder()
	renderer := fakeRenderer{page: browser.Page{
		URL: "https://registry.example/search/",
		HTML: `<html><body><div id="results">
			<a href="info?ID=036085">Doe</a>
			<a href="/help">Help</a>
			<a href="info?ID=036366">Roe</a>
		</div></body></html>`,
	}}

	enumerator := NewBrowserEnumerator(renderer, BrowserOptions{
		IndexURL:     "https://registry.example/search/",
		Trigger:      "#btnSearch",
		WaitFor:      "#results",
		LinkSelector: "#results a",
		LinkPattern:  regexp.MustCompile(`ID=`),
		IDParam:      "ID",
	}, rec)
	locators, err := enumerator.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	expected := []record.Locator{
		{ID: "036085", URL: "https://registry.example/search/info?ID=036085"},
		{ID: "036366", URL: "https://registry.example/search/info?ID=036366"},
	}
	if diff := cmp.Diff(expected, locators); diff != "" {
		t.Fatal("locators differ (-expected +got):\n", diff)
	}
}

func TestBrowserEnumeratorRenderFailure(t *testing.T) {
	rec := telemetry.NewRecorder()
	renderErr := errors.New("chrome crashed")

	enumerator := NewBrowserEnumerator(fakeRenderer{err: renderErr}, BrowserOptions{
		IndexURL:     "https://registry.example/",
		LinkSelector: "a",
	}, rec)
	_, err := enumerator.Enumerate(context.Background())
	require.ErrorIs(t, err, ErrDiscoveryFailed)
	require.ErrorIs(t, err, renderErr)
}

func TestDedupeKeepsFirst(t *testing.T) {
	out := dedupe([]record.Locator{
		{ID: "a", URL: "http://x/1"},
		{ID: "b", URL: "http://x/1"},
		{ID: "c", Target: "grid", Argument: "Select$0", Page: 1},
		{ID: "c", Target: "grid", Argument: "Select$0", Page: 2},
	})
	require.Equal(t, []string{"a", "c", "c"}, ids(out))
}
