package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"registry-harvester/internal/harvest/fetch"
	"registry-harvester/internal/harvest/record"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 1500*time.Millisecond, cfg.RequestDelay())
	require.Equal(t, time.Minute, cfg.RequestTimeout())
	require.Equal(t, record.DefaultSchema(), cfg.Schema())
	require.True(t, cfg.CloudflareBypass())
	require.Len(t, cfg.Target.Locators, 10)
}

func TestFieldSpecsFollowSchema(t *testing.T) {
	names := lo.Map(Default().FieldSpecs(), func(f fetch.FieldSpec, _ int) string {
		return f.Name
	})
	require.Equal(t, []string{
		"adc_number", "name", "comments", "proceedings",
		"aggravating", "mitigating", "pub_opinions", "mug_image",
	}, names)
}

func writeConfig(t *testing.T, dir, name, contents string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(contents), 0600)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "harvest.json5", `{
		target: {
			enumerator: "paginated",
			index_url: "https://registry.example/DeathRowSearch.aspx",
			next_selector: "a#next",
			cloudflare_bypass: false,
		},
		request_delay_seconds: 3,
		fields: {name: {selector: "#lblFullName"}},
	}`)
	writeConfig(t, dir, "harvest.local.json5", `{workers: 2}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, EnumeratorPaginated, cfg.Target.Enumerator)
	require.Equal(t, FetcherGet, cfg.Target.Fetcher)
	require.Equal(t, 3*time.Second, cfg.RequestDelay())
	require.Equal(t, 2, cfg.Workers)
	require.False(t, cfg.CloudflareBypass())
	require.Equal(t, "#lblFullName", cfg.Fields["name"].Selector)
	require.Equal(t, "#lblInmateNumber", cfg.Fields["adc_number"].Selector)
	require.Equal(t, "death_row_inmates.csv", cfg.OutputPath)
}

func TestLoadCustomSchema(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "harvest.json5", `{
		field_schema: ["id", "full_name", "mug_image", "source_url", "scrape_time_utc"],
		fields: {
			id: {selector: "td.id"},
			full_name: {selector: "td.name"},
		},
		identifier_field: "id",
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, "id", cfg.IdentifierField)
	names := lo.Map(cfg.FieldSpecs(), func(f fetch.FieldSpec, _ int) string {
		return f.Name
	})
	// mug_image is part of the schema, so its default extraction survives
	require.Equal(t, []string{"id", "full_name", "mug_image"}, names)
}

func TestLoadCustomSchemaWithoutIdentifier(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "harvest.json5", `{
		field_schema: ["id", "source_url", "scrape_time_utc"],
		fields: {id: {selector: "td.id"}},
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	require.NoError(t, cfg.Validate())
	require.Empty(t, cfg.IdentifierField)
	require.Len(t, cfg.Fields, 1)
}

func TestLoadExplicitZeroDelay(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "harvest.json5", `{request_delay_seconds: 0}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, time.Duration(0), cfg.RequestDelay())
	require.ErrorContains(t, cfg.Validate(), "cannot be zero")
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestZeroDelay(t *testing.T) {
	cfg := Default()
	cfg.RequestDelaySeconds = lo.ToPtr(0.0)
	require.Error(t, cfg.Validate())

	cfg.AllowZeroDelay = true
	require.NoError(t, cfg.Validate())

	local := Default()
	local.RequestDelaySeconds = lo.ToPtr(0.0)
	local.Target.DetailURL = "http://127.0.0.1:8080/info?ID={id}"
	require.NoError(t, local.Validate())
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := Default()
	cfg.Target.Enumerator = "carrier-pigeon"
	cfg.Target.LinkPattern = "("
	cfg.RequestDelaySeconds = lo.ToPtr(-1.0)
	cfg.Workers = 0
	cfg.OutputPath = ""
	cfg.FieldSchema = []string{"a", "a"}
	cfg.IdentifierField = "missing"
	cfg.Fields = map[string]FieldConfig{"a": {Selector: "[[["}}

	err := cfg.Validate()
	for _, fragment := range []string{
		"target.enumerator",
		"target.link_pattern",
		"negative",
		"workers",
		"output_path",
		"duplicated",
		"identifier_field",
		"fields.a",
	} {
		require.ErrorContains(t, err, fragment)
	}
}

func TestValidateStrategyCombinations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{
			name: "postback pair",
			mutate: func(c *Config) {
				c.Target.Enumerator = EnumeratorPostback
				c.Target.Fetcher = FetcherPostback
				c.Target.IndexURL = "https://registry.example/DeathRowSearch.aspx"
			},
			ok: true,
		},
		{
			name: "postback enumerator with get fetcher",
			mutate: func(c *Config) {
				c.Target.Enumerator = EnumeratorPostback
				c.Target.IndexURL = "https://registry.example/DeathRowSearch.aspx"
			},
		},
		{
			name: "index without index url",
			mutate: func(c *Config) {
				c.Target.Enumerator = EnumeratorIndex
			},
		},
		{
			name: "paginated without next selector",
			mutate: func(c *Config) {
				c.Target.Enumerator = EnumeratorPaginated
				c.Target.IndexURL = "https://registry.example/DeathRowSearch.aspx"
			},
		},
		{
			name: "detail url without placeholder",
			mutate: func(c *Config) {
				c.Target.DetailURL = "https://registry.example/info"
			},
		},
		{
			name: "relative index url",
			mutate: func(c *Config) {
				c.Target.Enumerator = EnumeratorIndex
				c.Target.IndexURL = "/DeathRowSearch.aspx"
			},
		},
		{
			name: "browser pair",
			mutate: func(c *Config) {
				c.Target.Enumerator = EnumeratorBrowser
				c.Target.Fetcher = FetcherBrowser
				c.Target.IndexURL = "https://registry.example/DeathRowSearch.aspx"
			},
			ok: true,
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}
