package commands

import (
	"log/slog"

	"registry-harvester/internal/components/chrono"
	"registry-harvester/internal/components/serviceutil"
	"registry-harvester/internal/components/telemetry"

	"github.com/spf13/cobra"
)

const report_schedule_run = "schedule.run"

var (
	cronSpec   string
	runAtStart bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule --cron <spec> [--now]",
	Short: "Repeats the harvest on a cron schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg, err := loadConfig(cmd, nil)
		if err != nil {
			serviceutil.Fatal("invalid config", err)
		}

		tel := telemetry.SlogAPI{}
		telemetry.InstrumentPerfStats(ctx)

		job := func() {
			_, err := harvestOnce(ctx, cfg, tel)
			if err != nil {
				tel.ReportBroken(report_schedule_run, err)
			}
		}

		cron := chrono.NewStandardCron(tel)
		err = cron.Cron(cronSpec, job)
		if err != nil {
			serviceutil.Fatal("invalid cron spec", err)
		}
		slog.Info("harvest scheduled", "cron", cronSpec, "destination", cfg.OutputPath)

		if runAtStart {
			job()
		}

		<-ctx.Done()
		slog.Info("stopping scheduler, waiting for the running harvest")
		<-cron.Stop().Done()
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "", "Cron expression (UTC), ex. \"0 6 * * *\".")
	scheduleCmd.Flags().BoolVar(&runAtStart, "now", false, "Also harvest once right away.")
	scheduleCmd.MarkFlagRequired("cron")
	registerRunFlags(scheduleCmd)
	rootCmd.AddCommand(scheduleCmd)
}
