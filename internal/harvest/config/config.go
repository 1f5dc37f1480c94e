// Package config describes a harvest run: what to enumerate, how to fetch,
// how fast and where the records go.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"registry-harvester/internal/components/configutil"
	"registry-harvester/internal/components/sqliteutil"
	"registry-harvester/internal/harvest/aspnet"
	"registry-harvester/internal/harvest/enumerate"
	"registry-harvester/internal/harvest/fetch"
	"registry-harvester/internal/harvest/record"
	"registry-harvester/internal/harvest/transport"

	"github.com/samber/lo"
)

// DefaultPath is the configuration file searched for in the working
// directory and its parents.
const DefaultPath = "harvest.json5"

const (
	EnumeratorStatic    = "static"
	EnumeratorIndex     = "index"
	EnumeratorPaginated = "paginated"
	EnumeratorPostback  = "postback"
	EnumeratorBrowser   = "browser"

	FetcherGet      = "get"
	FetcherPostback = "postback"
	FetcherBrowser  = "browser"
)

var enumerators = []string{EnumeratorStatic, EnumeratorIndex, EnumeratorPaginated, EnumeratorPostback, EnumeratorBrowser}
var fetchers = []string{FetcherGet, FetcherPostback, FetcherBrowser}

type FieldConfig struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr"`
}

type TargetConfig struct {
	Enumerator string `json:"enumerator"`
	Fetcher    string `json:"fetcher"`
	// Locators are the record ids of the static enumerator.
	Locators []string `json:"locators"`
	// DetailURL is the detail page address with an `{id}` placeholder.
	DetailURL    string `json:"detail_url"`
	IndexURL     string `json:"index_url"`
	LinkSelector string `json:"link_selector"`
	LinkPattern  string `json:"link_pattern"`
	IDParam      string `json:"id_param"`
	NextSelector string `json:"next_selector"`
	MaxPages     int    `json:"max_pages"`
	// Trigger is the postback event target of the search action, or the
	// selector clicked by the browser enumerator.
	Trigger    string            `json:"trigger"`
	FormFields map[string]string `json:"form_fields"`
	// WaitFor is a selector the browser waits on before reading a page.
	WaitFor          string `json:"wait_for"`
	UserAgent        string `json:"user_agent"`
	CloudflareBypass *bool  `json:"cloudflare_bypass"`
}

type BrowserConfig struct {
	ExecPath string `json:"exec_path"`
	Headful  bool   `json:"headful"`
}

type Config struct {
	Target TargetConfig `json:"target"`
	// RequestDelaySeconds is the minimum time between the start of two requests.
	RequestDelaySeconds   *float64 `json:"request_delay_seconds"`
	RequestTimeoutSeconds float64  `json:"request_timeout_seconds"`
	// AllowZeroDelay permits a zero delay against remote hosts.
	AllowZeroDelay bool                   `json:"allow_zero_delay"`
	Workers        int                    `json:"workers"`
	OutputPath     string                 `json:"output_path"`
	Sqlite         sqliteutil.Config      `json:"sqlite"`
	FieldSchema    []string               `json:"field_schema"`
	Fields         map[string]FieldConfig `json:"fields"`
	// IdentifierField is the column identifying a record across exports.
	IdentifierField string        `json:"identifier_field"`
	Browser         BrowserConfig `json:"browser"`
	// DumpHTTP is a directory receiving the text of every HTTP exchange.
	DumpHTTP string `json:"dump_http"`
}

// Default targets the Arizona death row registry detail pages.
func Default() Config {
	fields := map[string]FieldConfig{}
	for _, spec := range fetch.DefaultFields() {
		fields[spec.Name] = FieldConfig{Selector: spec.Selector, Attr: spec.Attr}
	}

	return Config{
		Target: TargetConfig{
			Enumerator: EnumeratorStatic,
			Fetcher:    FetcherGet,
			Locators: []string{
				"036085", "036366", "039656", "042891", "043800",
				"045659", "045676", "046561", "047079", "047398",
			},
			DetailURL:        "https://inmatedatasearch.azcorrections.gov/DeathRowSearchInmateInfo.aspx?ID={id}",
			LinkSelector:     "a[href*='DeathRowSearchInmateInfo.aspx']",
			IDParam:          "ID",
			MaxPages:         20,
			UserAgent:        transport.DefaultUserAgent,
			CloudflareBypass: lo.ToPtr(true),
		},
		RequestDelaySeconds:   lo.ToPtr(1.5),
		RequestTimeoutSeconds: 60,
		Workers:               1,
		OutputPath:            "death_row_inmates.csv",
		FieldSchema:           record.DefaultSchema(),
		Fields:                fields,
		IdentifierField:       "adc_number",
	}
}

// Load reads the configuration at `path` over the defaults. An empty path
// searches for DefaultPath upwards from the working directory and falls back
// to the defaults when there is none.
func Load(path string) (Config, error) {
	var loaded Config
	var err error
	if path == "" {
		loaded, err = configutil.ReadRecursively[Config](DefaultPath)
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
	} else {
		loaded, err = configutil.ReadConfig[Config](path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return configutil.Overlay(defaultsFor(loaded), loaded)
}

// defaultsFor returns the defaults a loaded config is overlaid on. `fields`
// alone adjusts the default field set, a custom `field_schema` keeps only the
// default fields (and identifier) that are part of it.
func defaultsFor(loaded Config) Config {
	base := Default()
	if len(loaded.FieldSchema) > 0 {
		schema := record.Schema(loaded.FieldSchema)
		base.Fields = lo.PickBy(base.Fields, func(name string, _ FieldConfig) bool {
			return schema.Contains(name)
		})
		if !schema.Contains(base.IdentifierField) {
			base.IdentifierField = ""
		}
	}
	return base
}

func (c Config) RequestDelay() time.Duration {
	if c.RequestDelaySeconds == nil {
		return 0
	}
	return time.Duration(*c.RequestDelaySeconds * float64(time.Second))
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds * float64(time.Second))
}

func (c Config) Schema() record.Schema {
	return record.Schema(c.FieldSchema)
}

// FieldSpecs lists the extracted fields in schema order, fields outside the
// schema come last in name order.
func (c Config) FieldSpecs() []fetch.FieldSpec {
	names := lo.Keys(c.Fields)
	slices.SortFunc(names, func(a, b string) int {
		ia, ib := c.Schema().Index(a), c.Schema().Index(b)
		switch {
		case ia >= 0 && ib >= 0:
			return ia - ib
		case ia >= 0:
			return -1
		case ib >= 0:
			return 1
		default:
			return strings.Compare(a, b)
		}
	})
	return lo.Map(names, func(name string, _ int) fetch.FieldSpec {
		field := c.Fields[name]
		return fetch.FieldSpec{Name: name, Selector: field.Selector, Attr: field.Attr}
	})
}

// LinkPattern compiles the href filter, nil when none is configured.
func (c Config) LinkPattern() (*regexp.Regexp, error) {
	if c.Target.LinkPattern == "" {
		return nil, nil
	}
	return regexp.Compile(c.Target.LinkPattern)
}

// Trigger is the postback that turns the search form into results.
func (c Config) Trigger() aspnet.Submission {
	return aspnet.Submission{
		Event:  aspnet.Event{Target: c.Target.Trigger},
		Fields: c.Target.FormFields,
	}
}

func (c Config) CloudflareBypass() bool {
	return c.Target.CloudflareBypass != nil && *c.Target.CloudflareBypass
}

// hosts returns the host of every remote address the run will contact.
func (c Config) hosts() []string {
	var out []string
	for _, link := range []string{c.Target.DetailURL, c.Target.IndexURL} {
		if link == "" {
			continue
		}
		parsed, err := url.Parse(strings.ReplaceAll(link, enumerate.IDPlaceholder, "0"))
		if err != nil {
			continue
		}
		out = append(out, parsed.Hostname())
	}
	return out
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	t := c.Target

	if !slices.Contains(enumerators, t.Enumerator) {
		errs = append(errs, fmt.Errorf("target.enumerator %q is not one of %v", t.Enumerator, enumerators))
	}
	if !slices.Contains(fetchers, t.Fetcher) {
		errs = append(errs, fmt.Errorf("target.fetcher %q is not one of %v", t.Fetcher, fetchers))
	}
	if (t.Enumerator == EnumeratorPostback) != (t.Fetcher == FetcherPostback) {
		errs = append(errs, errors.New("the postback enumerator and fetcher can only be used together"))
	}

	switch t.Enumerator {
	case EnumeratorStatic:
		if t.DetailURL == "" && t.Fetcher != FetcherPostback {
			errs = append(errs, errors.New("target.detail_url is required by the static enumerator"))
		}
		if t.DetailURL != "" && !strings.Contains(t.DetailURL, enumerate.IDPlaceholder) {
			errs = append(errs, fmt.Errorf("target.detail_url has no %s placeholder", enumerate.IDPlaceholder))
		}
	case EnumeratorIndex, EnumeratorPaginated, EnumeratorBrowser:
		if t.IndexURL == "" {
			errs = append(errs, fmt.Errorf("target.index_url is required by the %s enumerator", t.Enumerator))
		}
		if t.LinkSelector == "" {
			errs = append(errs, fmt.Errorf("target.link_selector is required by the %s enumerator", t.Enumerator))
		}
		if t.Enumerator == EnumeratorPaginated && t.NextSelector == "" {
			errs = append(errs, errors.New("target.next_selector is required by the paginated enumerator"))
		}
	case EnumeratorPostback:
		if t.IndexURL == "" {
			errs = append(errs, errors.New("target.index_url (the search form) is required by the postback enumerator"))
		}
	}

	for _, link := range []string{t.IndexURL, strings.ReplaceAll(t.DetailURL, enumerate.IDPlaceholder, "0")} {
		if link == "" {
			continue
		}
		parsed, err := url.Parse(link)
		if err != nil || !parsed.IsAbs() {
			errs = append(errs, fmt.Errorf("%q is not an absolute url", link))
		}
	}

	_, err := c.LinkPattern()
	if err != nil {
		errs = append(errs, fmt.Errorf("target.link_pattern: %w", err))
	}

	switch {
	case c.RequestDelaySeconds == nil:
		errs = append(errs, errors.New("request_delay_seconds is required"))
	case *c.RequestDelaySeconds < 0:
		errs = append(errs, errors.New("request_delay_seconds cannot be negative"))
	case *c.RequestDelaySeconds == 0 && !c.AllowZeroDelay:
		remote := lo.Filter(c.hosts(), func(host string, _ int) bool {
			return !isLoopback(host)
		})
		if len(remote) > 0 {
			errs = append(errs, fmt.Errorf("request_delay_seconds cannot be zero against %v", lo.Uniq(remote)))
		}
	}
	if c.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("request_timeout_seconds must be positive"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output_path is required"))
	}

	err = c.Schema().Validate()
	if err != nil {
		errs = append(errs, fmt.Errorf("field_schema: %w", err))
	}
	if c.IdentifierField != "" && !c.Schema().Contains(c.IdentifierField) {
		errs = append(errs, fmt.Errorf("identifier_field %q is not in field_schema", c.IdentifierField))
	}
	for _, spec := range c.FieldSpecs() {
		err := spec.Validate()
		if err != nil {
			errs = append(errs, fmt.Errorf("fields.%s: %w", spec.Name, err))
		}
		if !c.Schema().Contains(spec.Name) {
			errs = append(errs, fmt.Errorf("fields.%s is not in field_schema", spec.Name))
		}
	}

	return errors.Join(errs...)
}
