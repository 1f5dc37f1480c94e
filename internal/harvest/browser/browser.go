// Package browser renders pages in headless Chrome for sites that only show
// their content after client side scripts run.
package browser

import (
	"context"
	"fmt"
	"time"

	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/transport"

	"github.com/chromedp/chromedp"
)

const (
	report_browser_render = "browser.render"
)

// Action is a step run against a rendered page.
type Action = chromedp.Action

type Options struct {
	UserAgent string
	// Timeout bounds a single render, including every action.
	Timeout time.Duration
	// ExecPath overrides the chrome binary, chromedp searches the usual locations otherwise.
	ExecPath string
	Headful  bool
}

// Renderer renders a page, *Browser is the production implementation.
type Renderer interface {
	Render(ctx context.Context, link string, actions ...Action) (Page, error)
}

// Browser owns one Chrome process, every render runs in a fresh tab.
type Browser struct {
	cancelAlloc context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
	timeout     time.Duration
	tel         telemetry.API
}

func New(ctx context.Context, opts Options, tel telemetry.API) (*Browser, error) {
	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.Headful),
		chromedp.DisableGPU,
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// starts the browser so that a missing chrome binary is reported here
	// instead of on the first render
	err := chromedp.Run(browserCtx)
	if err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second * 60
	}

	return &Browser{
		cancelAlloc: cancelAlloc,
		browserCtx:  browserCtx,
		cancel:      cancel,
		timeout:     timeout,
		tel:         telemetry.NewScopedAPI("browser", tel),
	}, nil
}

// Page is the result of a render.
type Page struct {
	// URL is the address of the page after every redirect and action.
	URL  string
	HTML string
}

// Render navigates to `link`, runs `actions` (ex. clicking a search button)
// and returns the resulting DOM.
func (b *Browser) Render(ctx context.Context, link string, actions ...Action) (Page, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	// tie the tab to the caller's context as well
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var page Page
	tasks := chromedp.Tasks{
		chromedp.Navigate(link),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	tasks = append(tasks, actions...)
	tasks = append(tasks,
		chromedp.Location(&page.URL),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
	)

	err := chromedp.Run(tabCtx, tasks)
	if err != nil {
		b.tel.ReportBroken(report_browser_render, err, link)
		return Page{}, err
	}
	b.tel.ReportDebug("rendered", link, page.URL)
	return page, nil
}

// Interaction clicks Trigger (when set) and waits for Ready to become visible.
type Interaction struct {
	Trigger string
	Ready   string
}

func ClickAndWait(trigger, ready string) Interaction {
	return Interaction{Trigger: trigger, Ready: ready}
}

func (i Interaction) tasks() chromedp.Tasks {
	tasks := chromedp.Tasks{}
	if i.Trigger != "" {
		tasks = append(tasks, chromedp.Click(i.Trigger, chromedp.ByQuery))
	}
	if i.Ready != "" {
		tasks = append(tasks, chromedp.WaitVisible(i.Ready, chromedp.ByQuery))
	}
	return tasks
}

func (i Interaction) Do(ctx context.Context) error {
	return i.tasks().Do(ctx)
}

type pacedRenderer struct {
	renderer Renderer
	pacer    transport.Pacer
}

// Paced waits on `pacer` before every navigation made through `renderer`,
// a click on an Interaction trigger counts as a navigation of its own.
func Paced(renderer Renderer, pacer transport.Pacer) Renderer {
	return pacedRenderer{renderer: renderer, pacer: pacer}
}

func (r pacedRenderer) Render(ctx context.Context, link string, actions ...Action) (Page, error) {
	err := r.pacer.Wait(ctx)
	if err != nil {
		return Page{}, err
	}
	paced := make([]Action, len(actions))
	for i, action := range actions {
		paced[i] = action
		interaction, ok := action.(Interaction)
		if ok && interaction.Trigger != "" {
			paced[i] = chromedp.Tasks{
				chromedp.ActionFunc(r.pacer.Wait),
				interaction,
			}
		}
	}
	return r.renderer.Render(ctx, link, paced...)
}

func (b *Browser) Close() {
	b.cancel()
	b.cancelAlloc()
}
