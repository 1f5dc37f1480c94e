package commands

import (
	"fmt"

	"registry-harvester/internal/components/serviceutil"
	"registry-harvester/internal/harvest/compare"
	"registry-harvester/internal/harvest/record"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var diffIdentifier string

var diffCmd = &cobra.Command{
	Use:   "diff <old.csv> <new.csv> [--id <column>]",
	Short: "Compares two exports, ignoring the capture time.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		identifier := diffIdentifier
		if identifier == "" {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				serviceutil.Fatal("invalid config", err)
			}
			identifier = cfg.IdentifierField
		}

		old, err := compare.ReadCSV(args[0])
		if err != nil {
			serviceutil.Fatal("failed to read old export", err)
		}
		latest, err := compare.ReadCSV(args[1])
		if err != nil {
			serviceutil.Fatal("failed to read new export", err)
		}

		diff, err := compare.Compare(old, latest, identifier, record.FieldScrapeTime)
		if err != nil {
			serviceutil.Fatal("failed to compare exports", err)
		}
		if diff.Empty() {
			fmt.Println("exports are identical")
			return
		}

		summary := newTable()
		summary.SetTitle("records")
		summary.AppendHeader(table.Row{"Change", "Identifier"})
		for _, id := range diff.Added {
			summary.AppendRow(table.Row{"added", id})
		}
		for _, id := range diff.Removed {
			summary.AppendRow(table.Row{"removed", id})
		}
		for _, column := range diff.AddedColumns {
			summary.AppendRow(table.Row{"added column", column})
		}
		for _, column := range diff.RemovedColumns {
			summary.AppendRow(table.Row{"removed column", column})
		}
		if summary.Length() > 0 {
			summary.Render()
		}

		if len(diff.Changed) == 0 {
			return
		}
		changes := newTable()
		changes.SetTitle("changed values")
		changes.AppendHeader(table.Row{"Identifier", "Column", "Old", "New", "Similarity"})
		for _, c := range diff.Changed {
			changes.AppendRow(table.Row{c.ID, c.Column, c.Old, c.New, fmt.Sprintf("%.2f", c.Similarity)})
		}
		changes.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Old", WidthMax: 40},
			{Name: "New", WidthMax: 40},
		})
		changes.Render()
	},
}

func init() {
	diffCmd.Flags().StringVar(&diffIdentifier, "id", "", "Column identifying a record, identifier_field of the config by default.")
	rootCmd.AddCommand(diffCmd)
}
