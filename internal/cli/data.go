package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cas-valuer/internal/models"
	"cas-valuer/internal/security"
	"cas-valuer/internal/store"
)

// addDataCommands adds commands that read the derived collections.
func addDataCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newSchemesCmd(app))
	rootCmd.AddCommand(newTransactionsCmd(app))
	rootCmd.AddCommand(newValuationCmd(app))
}

// amfiArg accepts exactly one AMFI scheme code.
func amfiArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	return security.ValidateAMFI(security.SanitizeAMFI(args[0]))
}

func newSchemesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "List known schemes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			schemes, err := st.ListSchemes(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(schemes)
			}
			if len(schemes) == 0 {
				output.Dim("No schemes yet, ingest and run a statement first")
				return nil
			}
			table := NewTable(output, "AMFI", "SCHEME", "CATEGORY", "FOLIO")
			for _, s := range schemes {
				table.AddRow(s.AMFI, TruncateString(s.Name, 48), TruncateString(s.SchemeCategory, 32), s.Folio)
			}
			table.Render()
			return nil
		},
	}
}

func newTransactionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions <amfi>",
		Short: "Show the ledger of a scheme",
		Args:  amfiArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			filter := store.TransactionFilter{AMFI: security.SanitizeAMFI(args[0])}

			var err error
			if filter.StartDate, err = dateFlag(cmd, "from"); err != nil {
				return err
			}
			if filter.EndDate, err = dateFlag(cmd, "to"); err != nil {
				return err
			}

			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			txns, err := st.GetTransactions(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(txns)
			}
			if len(txns) == 0 {
				output.Dim("No transactions for %s", args[0])
				return nil
			}
			table := NewTable(output, "DATE", "TYPE", "AMOUNT", "UNITS", "NAV", "BALANCE")
			for _, t := range txns {
				table.AddRow(
					FormatDate(t.Date),
					string(t.Type),
					PadLeft(FormatIndianCurrency(t.Amount), 14),
					PadLeft(FormatUnits(t.Units), 12),
					FormatNAV(t.NAV),
					FormatUnits(t.Balance),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().String("from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().String("to", "", "last date (YYYY-MM-DD)")
	return cmd
}

func newValuationCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "valuation <amfi>",
		Short: "Show the daily valuation series of a scheme",
		Args:  amfiArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}
			vals, err := st.GetValuations(cmd.Context(), security.SanitizeAMFI(args[0]))
			if err != nil {
				return err
			}
			if last, _ := cmd.Flags().GetInt("last"); last > 0 && len(vals) > last {
				vals = vals[len(vals)-last:]
			}

			if output.IsJSON() {
				return output.JSON(vals)
			}
			if len(vals) == 0 {
				output.Dim("No valuations for %s", args[0])
				return nil
			}
			table := NewTable(output, "DATE", "UNITS", "INVESTED", "NAV", "VALUE", "GAIN")
			for _, v := range vals {
				table.AddRow(
					FormatDate(v.Date),
					FormatUnits(v.TotalUnits),
					FormatIndianCurrency(v.TotalAmount),
					FormatNAV(v.NAV),
					FormatIndianCurrency(v.TotalValuation),
					output.FormatChange(v.TotalValuation.Sub(v.TotalAmount)),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("last", 30, "show only the most recent N rows (0 for all)")
	return cmd
}

func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", name, s)
	}
	return t, nil
}
