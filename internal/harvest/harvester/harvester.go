// Package harvester assembles a pipeline out of a configuration.
package harvester

import (
	"context"
	"errors"
	"fmt"

	devenv "registry-harvester/dev/env"
	"registry-harvester/internal/components/assert"
	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/aspnet"
	"registry-harvester/internal/harvest/browser"
	"registry-harvester/internal/harvest/config"
	"registry-harvester/internal/harvest/enumerate"
	"registry-harvester/internal/harvest/export"
	"registry-harvester/internal/harvest/fetch"
	"registry-harvester/internal/harvest/pipeline"
	"registry-harvester/internal/harvest/transport"

	"github.com/go-resty/resty/v2"
)

type Options struct {
	Time chrono.API
	Tel  telemetry.API
	// Renderer replaces the headless browser of the browser strategies.
	Renderer browser.Renderer
	// Dump receives every HTTP exchange when set.
	Dump     telemetry.MessageOutput
	Observer pipeline.Observer
}

// Harvester is a ready to run pipeline together with the resources it owns.
type Harvester struct {
	driver  pipeline.Driver
	closers []func() error
}

func (h *Harvester) Run(ctx context.Context) (pipeline.Report, error) {
	return h.driver.Run(ctx)
}

// Close releases the browser and database handles, if any.
func (h *Harvester) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	h.closers = nil
	return errors.Join(errs...)
}

func New(ctx context.Context, cfg config.Config, opts Options) (*Harvester, error) {
	assert.NotNil(opts.Time)
	assert.NotNil(opts.Tel)

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	h := &Harvester{}
	driver, err := h.build(ctx, cfg, opts)
	if err != nil {
		h.Close()
		return nil, err
	}
	h.driver = driver
	return h, nil
}

func (h *Harvester) build(ctx context.Context, cfg config.Config, opts Options) (pipeline.Driver, error) {
	// one pacer for every request of the run, whichever stage or strategy makes it
	pacer := transport.NewRatePacer(cfg.RequestDelay())

	client, err := transport.NewClient(transport.Options{
		UserAgent:        cfg.Target.UserAgent,
		Timeout:          cfg.RequestTimeout(),
		CloudflareBypass: cfg.CloudflareBypass(),
		Pacer:            pacer,
		Dump:             opts.Dump,
	}, opts.Tel)
	if err != nil {
		return pipeline.Driver{}, err
	}

	var renderer browser.Renderer
	if cfg.Target.Enumerator == config.EnumeratorBrowser || cfg.Target.Fetcher == config.FetcherBrowser {
		renderer, err = h.renderer(ctx, cfg, opts)
		if err != nil {
			return pipeline.Driver{}, err
		}
		renderer = browser.Paced(renderer, pacer)
	}

	var session *aspnet.Session
	if cfg.Target.Fetcher == config.FetcherPostback {
		// enumeration finishes before the first fetch, both can share the session
		session, err = aspnet.NewSession(client, cfg.Target.IndexURL, opts.Tel)
		if err != nil {
			return pipeline.Driver{}, err
		}
	}

	enumerator, err := newEnumerator(cfg, client, session, renderer, opts.Tel)
	if err != nil {
		return pipeline.Driver{}, err
	}
	fetcher := newFetcher(cfg, client, session, renderer, opts)

	exporter, err := h.exporter(cfg, opts.Tel)
	if err != nil {
		return pipeline.Driver{}, err
	}

	return pipeline.NewDriver(
		enumerator,
		fetcher,
		exporter,
		pipeline.Options{
			Schema:   cfg.Schema(),
			Workers:  cfg.Workers,
			Observer: opts.Observer,
		},
		opts.Time,
		opts.Tel,
	), nil
}

func (h *Harvester) renderer(ctx context.Context, cfg config.Config, opts Options) (browser.Renderer, error) {
	if opts.Renderer != nil {
		return opts.Renderer, nil
	}
	b, err := browser.New(ctx, browser.Options{
		UserAgent: cfg.Target.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		ExecPath:  cfg.Browser.ExecPath,
		Headful:   cfg.Browser.Headful,
	}, opts.Tel)
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, func() error {
		b.Close()
		return nil
	})
	return b, nil
}

func newEnumerator(
	cfg config.Config,
	client *resty.Client,
	session *aspnet.Session,
	renderer browser.Renderer,
	tel telemetry.API,
) (enumerate.Enumerator, error) {
	t := cfg.Target
	pattern, err := cfg.LinkPattern()
	if err != nil {
		return nil, err
	}

	switch t.Enumerator {
	case config.EnumeratorStatic:
		return enumerate.NewStatic(t.Locators, t.DetailURL), nil
	case config.EnumeratorIndex, config.EnumeratorPaginated:
		opts := enumerate.LinkOptions{
			IndexURL:     t.IndexURL,
			LinkSelector: t.LinkSelector,
			LinkPattern:  pattern,
			IDParam:      t.IDParam,
			MaxPages:     1,
		}
		if t.Enumerator == config.EnumeratorPaginated {
			opts.NextSelector = t.NextSelector
			opts.MaxPages = t.MaxPages
		}
		return enumerate.NewLinkHarvester(client, opts, tel), nil
	case config.EnumeratorPostback:
		return enumerate.NewPostbackEnumerator(session, enumerate.PostbackOptions{
			Trigger:      cfg.Trigger(),
			LinkSelector: t.LinkSelector,
			MaxPages:     t.MaxPages,
		}, tel), nil
	case config.EnumeratorBrowser:
		return enumerate.NewBrowserEnumerator(renderer, enumerate.BrowserOptions{
			IndexURL:     t.IndexURL,
			Trigger:      t.Trigger,
			WaitFor:      t.WaitFor,
			LinkSelector: t.LinkSelector,
			LinkPattern:  pattern,
			IDParam:      t.IDParam,
		}, tel), nil
	}
	return nil, fmt.Errorf("unknown enumerator %q", t.Enumerator)
}

func newFetcher(
	cfg config.Config,
	client *resty.Client,
	session *aspnet.Session,
	renderer browser.Renderer,
	opts Options,
) fetch.Fetcher {
	extractor := fetch.NewExtractor(cfg.FieldSpecs(), opts.Tel)
	switch cfg.Target.Fetcher {
	case config.FetcherPostback:
		return fetch.NewPostbackFetcher(session, cfg.Trigger(), extractor, opts.Time, opts.Tel)
	case config.FetcherBrowser:
		return fetch.NewBrowserFetcher(renderer, cfg.Target.WaitFor, extractor, opts.Time, opts.Tel)
	default:
		return fetch.NewGetFetcher(client, extractor, opts.Time, opts.Tel)
	}
}

func (h *Harvester) exporter(cfg config.Config, tel telemetry.API) (export.Exporter, error) {
	output, err := devenv.ResolvePath(cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	exporters := export.Multi{export.NewCSVExporter(output, tel)}

	if cfg.Sqlite.Enabled() {
		db, err := cfg.Sqlite.OpenDB()
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		h.closers = append(h.closers, db.Close)
		exporters = append(exporters, export.NewSQLiteExporter(db, export.DefaultTable, cfg.Sqlite.Destination(), tel))
	}

	if len(exporters) == 1 {
		return exporters[0], nil
	}
	return exporters, nil
}
