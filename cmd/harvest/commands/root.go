package commands

import (
	"context"
	"fmt"
	"os"

	"registry-harvester/internal/components/telemetry"

	"github.com/spf13/cobra"
)

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "harvest [ids...]",
	Short: "harvest scrapes an inmate registry into a CSV file.",
	Long: `harvest enumerates the records of an inmate registry, fetches every record
with the configured strategy and writes them to a CSV file.

Without a subcommand it performs a single run, see "harvest run --help".`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(debug)
	},
	Args: cobra.ArbitraryArgs,
	Run:  runHarvest,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to harvest.json5, searched for upwards from the working directory by default.")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging.")
	registerRunFlags(rootCmd)
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
