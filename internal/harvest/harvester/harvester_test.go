package harvester

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/sqliteutil"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/compare"
	"registry-harvester/internal/harvest/config"
	"registry-harvester/internal/harvest/harvesttest"
	"registry-harvester/internal/harvest/record"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, registry *harvesttest.Registry) config.Config {
	cfg := config.Default()
	cfg.Target.Locators = lo.Map(harvesttest.Inmates(), func(i harvesttest.Inmate, _ int) string {
		return i.ID
	})
	cfg.Target.DetailURL = registry.DetailTemplate()
	cfg.Target.CloudflareBypass = lo.ToPtr(false)
	cfg.RequestDelaySeconds = lo.ToPtr(0.0)
	cfg.RequestTimeoutSeconds = 5
	cfg.OutputPath = filepath.Join(t.TempDir(), "death_row_inmates.csv")
	return cfg
}

func run(t *testing.T, cfg config.Config, at time.Time) (int, string) {
	h, err := New(context.Background(), cfg, Options{
		Time: chrono.NewFixedImpl(at, time.Second),
		Tel:  telemetry.NewRecorder(),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	report, err := h.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, report.DiscoveryFailed)
	require.Zero(t, report.Failed())
	return report.Collected, report.Destination
}

func readExport(t *testing.T, path string) compare.Table {
	table, err := compare.ReadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestStaticGet(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	cfg := testConfig(t, registry)
	cfg.Sqlite = sqliteutil.Config{File: filepath.Join(t.TempDir(), "harvest.db")}

	collected, destination := run(t, cfg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.Equal(t, 5, collected)
	require.Contains(t, destination, cfg.OutputPath)
	require.Contains(t, destination, "harvest.db#records")

	table := readExport(t, cfg.OutputPath)
	require.Equal(t, record.DefaultSchema(), table.Schema)
	require.Len(t, table.Rows, 5)
	require.Equal(t, "036085", table.Get(0, "adc_number"))
	require.Equal(t, registry.Server.URL+"/images/036085.jpg", table.Get(0, "mug_image"))
	require.Equal(t, "", table.Get(1, "comments"))
	require.Equal(t, "padded comment", table.Get(4, "comments"))
	require.Regexp(t, `^2024-03-01T12:00:\d{2}\.000000Z$`, table.Get(0, record.FieldScrapeTime))

	db, err := cfg.Sqlite.OpenDB()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var count int
	err = db.QueryRow("select count(*) from records").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 5, count)
}

func TestRunsAreIdempotent(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	first := testConfig(t, registry)
	second := testConfig(t, registry)

	run(t, first, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	run(t, second, time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC))

	diff, err := compare.Compare(
		readExport(t, first.OutputPath),
		readExport(t, second.OutputPath),
		first.IdentifierField,
		record.FieldScrapeTime,
	)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, diff.Empty(), "%+v", diff)
}

func TestPaginatedGet(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	cfg := testConfig(t, registry)
	cfg.Target.Enumerator = config.EnumeratorPaginated
	cfg.Target.IndexURL = registry.IndexURL()
	cfg.Target.LinkSelector = "table#results a"
	cfg.Target.NextSelector = "a#next"

	collected, _ := run(t, cfg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.Equal(t, 5, collected)
	require.Equal(t, 3, registry.Hits(harvesttest.IndexPath))
	require.Equal(t, 5, registry.Hits(harvesttest.DetailPath))
}

func TestPostback(t *testing.T) {
	registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
	cfg := testConfig(t, registry)
	cfg.Target.Enumerator = config.EnumeratorPostback
	cfg.Target.Fetcher = config.FetcherPostback
	cfg.Target.IndexURL = registry.FormURL()
	cfg.Target.LinkSelector = "table#gvResults a"
	cfg.Target.FormFields = map[string]string{harvesttest.SearchButton: "Search"}

	collected, _ := run(t, cfg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.Equal(t, 5, collected)

	table := readExport(t, cfg.OutputPath)
	ids := make([]string, len(table.Rows))
	for i := range table.Rows {
		ids[i] = table.Get(i, "adc_number")
		require.Equal(t, registry.FormURL(), table.Get(i, record.FieldSourceURL))
	}
	require.Equal(t, []string{"036085", "036366", "039656", "042891", "043800"}, ids)
}

func TestInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := New(context.Background(), cfg, Options{
		Time: chrono.NewStandardImpl(),
		Tel:  telemetry.NewRecorder(),
	})
	require.ErrorContains(t, err, "workers")
}

func requirePaced(t *testing.T, registry *harvesttest.Registry, delay time.Duration) {
	starts := registry.Starts()
	require.NotEmpty(t, starts)
	for i := 1; i < len(starts); i++ {
		// small slack for the time between the client starting a request and the server seeing it
		require.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), delay-10*time.Millisecond, "request %d", i)
	}
}

func TestDelayAppliesToEveryRequest(t *testing.T) {
	const delay = 50 * time.Millisecond

	t.Run("paginated index", func(t *testing.T) {
		registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
		cfg := testConfig(t, registry)
		cfg.RequestDelaySeconds = lo.ToPtr(delay.Seconds())
		cfg.Target.Enumerator = config.EnumeratorPaginated
		cfg.Target.IndexURL = registry.IndexURL()
		cfg.Target.LinkSelector = "table#results a"
		cfg.Target.NextSelector = "a#next"

		collected, _ := run(t, cfg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		require.Equal(t, 5, collected)
		require.Len(t, registry.Starts(), 8)
		requirePaced(t, registry, delay)
	})

	t.Run("postback chain", func(t *testing.T) {
		registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
		cfg := testConfig(t, registry)
		cfg.RequestDelaySeconds = lo.ToPtr(delay.Seconds())
		cfg.Target.Enumerator = config.EnumeratorPostback
		cfg.Target.Fetcher = config.FetcherPostback
		cfg.Target.IndexURL = registry.FormURL()
		cfg.Target.LinkSelector = "table#gvResults a"
		cfg.Target.FormFields = map[string]string{harvesttest.SearchButton: "Search"}

		collected, _ := run(t, cfg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		require.Equal(t, 5, collected)
		require.Greater(t, len(registry.Starts()), 5)
		requirePaced(t, registry, delay)
	})

	t.Run("concurrent workers", func(t *testing.T) {
		registry := harvesttest.NewRegistry(t, harvesttest.Inmates())
		cfg := testConfig(t, registry)
		cfg.RequestDelaySeconds = lo.ToPtr(delay.Seconds())
		cfg.Workers = 3

		collected, _ := run(t, cfg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		require.Equal(t, 5, collected)
		requirePaced(t, registry, delay)
	})
}
