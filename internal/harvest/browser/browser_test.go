package browser

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/harvesttest"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
)

func TestClickAndWait(t *testing.T) {
	require.Empty(t, ClickAndWait("", "").tasks())
	require.Len(t, ClickAndWait("#btnSearch", "").tasks(), 1)
	require.Len(t, ClickAndWait("#btnSearch", "#gvResults").tasks(), 2)
}

type countingPacer struct {
	calls int
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.calls++
	return ctx.Err()
}

type recordingRenderer struct {
	actions []Action
}

func (r *recordingRenderer) Render(_ context.Context, link string, actions ...Action) (Page, error) {
	r.actions = actions
	return Page{URL: link}, nil
}

func TestPacedWaitsPerNavigation(t *testing.T) {
	pacer := &countingPacer{}
	inner := &recordingRenderer{}
	renderer := Paced(inner, pacer)

	_, err := renderer.Render(context.Background(), "http://registry.test/", ClickAndWait("", "#lblName"))
	require.NoError(t, err)
	require.Equal(t, 1, pacer.calls)
	require.Equal(t, ClickAndWait("", "#lblName"), inner.actions[0])

	_, err = renderer.Render(context.Background(), "http://registry.test/", ClickAndWait("#btnSearch", "#gvResults"))
	require.NoError(t, err)
	require.Equal(t, 2, pacer.calls)

	// the wait before the click runs inside the render
	wrapped, ok := inner.actions[0].(chromedp.Tasks)
	require.True(t, ok)
	require.Len(t, wrapped, 2)
	require.NoError(t, wrapped[0].Do(context.Background()))
	require.Equal(t, 3, pacer.calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = renderer.Render(ctx, "http://registry.test/")
	require.ErrorIs(t, err, context.Canceled)
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell"} {
		path, err := exec.LookPath(name)
		if err == nil {
			return path
		}
	}
	return ""
}

func TestRender(t *testing.T) {
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no chrome binary available")
	}
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())

	b, err := New(context.Background(), Options{ExecPath: chrome, Timeout: 20 * time.Second}, telemetry.NewRecorder())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	page, err := b.Render(context.Background(), registry.DetailURL("036085"), ClickAndWait("", "#lblName"))
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, registry.DetailURL("036085"), page.URL)
	require.Contains(t, page.HTML, "John Doe")
}
