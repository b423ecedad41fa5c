package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cas-valuer/internal/report"
	"cas-valuer/internal/store"
)

// addReportCommands adds the report command group.
func addReportCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Portfolio reports",
	}
	cmd.AddCommand(newAnnualCmd(app))
	cmd.AddCommand(newMoversCmd(app))
	rootCmd.AddCommand(cmd)
}

func newAnnualCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "annual",
		Short: "Net amount invested per financial year",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			txns, err := st.GetTransactions(cmd.Context(), store.TransactionFilter{})
			if err != nil {
				return err
			}
			years := report.AnnualNetAmounts(txns)

			if output.IsJSON() {
				return output.JSON(years)
			}
			if len(years) == 0 {
				output.Dim("No transactions recorded")
				return nil
			}
			table := NewTable(output, "FY", "INVESTED", "WITHDRAWN", "NET")
			for _, y := range years {
				table.AddRow(
					y.Label(),
					FormatIndianCurrency(y.Invested),
					FormatIndianCurrency(y.Withdrawn),
					output.FormatChange(y.Net),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newMoversCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "movers",
		Short: "Top gainers and losers since the previous valuation",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			top, _ := cmd.Flags().GetInt("top")
			sortBy, _ := cmd.Flags().GetString("sort")
			by := report.SortBy(sortBy)
			if by != report.SortByPercent && by != report.SortByValue {
				return fmt.Errorf("invalid --sort %q: want percent or value", sortBy)
			}

			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			latest, err := st.LatestValuations(cmd.Context(), 2)
			if err != nil {
				return err
			}
			schemes, err := st.ListSchemes(cmd.Context())
			if err != nil {
				return err
			}
			movers := report.TopMovers(latest, schemes, top, by)

			if output.IsJSON() {
				return output.JSON(movers)
			}
			renderMovers(output, "Top Gainers", movers.Gainers)
			output.Println()
			renderMovers(output, "Top Losers", movers.Losers)
			return nil
		},
	}
	cmd.Flags().Int("top", 5, "number of schemes per list")
	cmd.Flags().String("sort", string(report.SortByPercent), "rank by percent or value")
	return cmd
}

func renderMovers(output *Output, title string, movers []report.Mover) {
	output.Bold(title)
	if len(movers) == 0 {
		output.Dim("  Not enough valuation history")
		return
	}
	table := NewTable(output, "AMFI", "SCHEME", "DATE", "VALUE", "CHANGE", "%")
	for _, m := range movers {
		table.AddRow(
			m.AMFI,
			TruncateString(m.SchemeName, 40),
			FormatDate(m.Date),
			FormatIndianCurrency(m.Valuation),
			output.FormatChange(m.Change),
			output.FormatPercent(m.PercentChange),
		)
	}
	table.Render()
}
