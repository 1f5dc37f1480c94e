package commands

import (
	"context"
	"errors"
	"log/slog"

	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/serviceutil"
	"registry-harvester/internal/components/sqliteutil"
	"registry-harvester/internal/components/telemetry"
	"registry-harvester/internal/harvest/config"
	"registry-harvester/internal/harvest/harvester"
	"registry-harvester/internal/harvest/pipeline"
	"registry-harvester/internal/harvest/transport"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type runFlags struct {
	output   string
	delay    float64
	workers  int
	db       string
	dumpHttp string
}

var flags = map[*cobra.Command]*runFlags{}

func registerRunFlags(cmd *cobra.Command) {
	f := &runFlags{}
	flags[cmd] = f
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Write the CSV export to this path.")
	cmd.Flags().Float64Var(&f.delay, "delay", 0, "Seconds between the start of two requests.")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Number of concurrent fetches.")
	cmd.Flags().StringVar(&f.db, "db", "", "Also write the records to this sqlite database.")
	cmd.Flags().StringVar(&f.dumpHttp, "dump-http", "", "Write every HTTP exchange to files in this directory.")
}

var runCmd = &cobra.Command{
	Use:   "run [--output <path>] [--delay <seconds>] [--workers <n>] [--db <path>] [ids...]",
	Short: "Performs a single harvest, ids replace the configured locators.",
	Args:  cobra.ArbitraryArgs,
	Run:   runHarvest,
}

func init() {
	registerRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

// loadConfig reads the configuration and applies the command line overrides.
func loadConfig(cmd *cobra.Command, ids []string) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	f, ok := flags[cmd]
	if ok {
		if f.output != "" {
			cfg.OutputPath = f.output
		}
		if cmd.Flags().Changed("delay") {
			cfg.RequestDelaySeconds = lo.ToPtr(f.delay)
		}
		if f.workers > 0 {
			cfg.Workers = f.workers
		}
		if f.db != "" {
			cfg.Sqlite = sqliteutil.Config{File: f.db}
		}
		if f.dumpHttp != "" {
			cfg.DumpHTTP = f.dumpHttp
		}
	}
	if len(ids) > 0 {
		cfg.Target.Enumerator = config.EnumeratorStatic
		cfg.Target.Locators = ids
	}

	return cfg, cfg.Validate()
}

func progress(event pipeline.Event) {
	switch event.State {
	case pipeline.Enumerated:
		slog.Info("locators enumerated", "count", event.Total)
	case pipeline.Fetching:
		slog.Info("fetching", "progress", event.String())
	}
}

func harvestOnce(ctx context.Context, cfg config.Config, tel telemetry.API) (pipeline.Report, error) {
	opts := harvester.Options{
		Time:     chrono.NewStandardImpl(),
		Tel:      tel,
		Observer: progress,
	}
	if cfg.DumpHTTP != "" {
		output, err := transport.NewFilesystemOutput(cfg.DumpHTTP)
		if err != nil {
			return pipeline.Report{}, err
		}
		opts.Dump = output
	}

	h, err := harvester.New(ctx, cfg, opts)
	if err != nil {
		return pipeline.Report{}, err
	}
	defer h.Close()

	report, err := h.Run(ctx)
	logReport(report)
	return report, err
}

func logReport(report pipeline.Report) {
	if report.DiscoveryFailed {
		slog.Warn("discovery failed, the export is empty", "err", report.DiscoveryErr)
	}
	for _, failure := range report.Failures {
		slog.Warn("record skipped", "locator", failure.Locator.String(), "err", failure.Err)
	}
	slog.Info(
		"records collected",
		"count", report.Collected,
		"located", report.Located,
		"failed", report.Failed(),
		"destination", report.Destination,
		"seconds", report.Duration().Seconds(),
	)
}

func runHarvest(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		serviceutil.Fatal("invalid config", err)
	}

	_, err = harvestOnce(cmd.Context(), cfg, telemetry.SlogAPI{})
	if errors.Is(err, context.Canceled) {
		serviceutil.Fatal("harvest interrupted", err)
	}
	if err != nil {
		serviceutil.Fatal("harvest failed", err)
	}
}
