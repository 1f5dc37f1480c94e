package commands

import (
	"fmt"

	"registry-harvester/internal/components/serviceutil"
	"registry-harvester/internal/harvest/compare"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var (
	showColumns []string
	showWidth   int
)

var showCmd = &cobra.Command{
	Use:   "show <export.csv> [--columns a,b]",
	Short: "Renders an export as a table.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		export, err := compare.ReadCSV(args[0])
		if err != nil {
			serviceutil.Fatal("failed to read export", err)
		}

		columns := []string(export.Schema)
		if len(showColumns) > 0 {
			missing := lo.Without(showColumns, columns...)
			if len(missing) > 0 {
				serviceutil.Fatal("unknown columns", fmt.Errorf("%v", missing))
			}
			columns = showColumns
		}

		t := newTable()
		t.AppendHeader(toRow(columns))
		for i := range export.Rows {
			t.AppendRow(toRow(lo.Map(columns, func(c string, _ int) string {
				return export.Get(i, c)
			})))
		}
		t.SetColumnConfigs(lo.Map(columns, func(c string, _ int) table.ColumnConfig {
			return table.ColumnConfig{Name: c, WidthMax: showWidth}
		}))
		t.AppendFooter(table.Row{fmt.Sprintf("%d records", len(export.Rows))})
		t.Render()
	},
}

func init() {
	showCmd.Flags().StringSliceVar(&showColumns, "columns", nil, "Only show these columns.")
	showCmd.Flags().IntVar(&showWidth, "width", 40, "Wrap cells wider than this.")
	rootCmd.AddCommand(showCmd)
}
