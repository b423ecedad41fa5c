package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apperrors "cas-valuer/internal/errors"
	"cas-valuer/internal/models"
	"cas-valuer/internal/normalize"
	"cas-valuer/internal/security"
)

// addPipelineCommands adds ingestion and processing commands.
func addPipelineCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newIngestCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
}

func newIngestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <statement.json>...",
		Short: "Queue parsed CAS statements for processing",
		Long: `Load casparser JSON output into the statements table as pending.

A file whose name was already ingested is skipped. The document shape is
checked before it is stored.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}

			type result struct {
				File     string `json:"file"`
				ID       string `json:"id,omitempty"`
				Inserted bool   `json:"inserted"`
				Schemes  int    `json:"schemes"`
			}
			var results []result

			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", path, err)
				}
				if !json.Valid(data) {
					return fmt.Errorf("%s: %w: not valid JSON", path, apperrors.ErrMalformedDocument)
				}

				doc := &models.StatementDocument{
					FileName: filepath.Base(path),
					Data:     json.RawMessage(data),
				}
				schemes, _, err := normalize.Flatten(cmd.Context(), doc)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				inserted, err := st.InsertStatement(cmd.Context(), doc)
				if err != nil {
					return err
				}
				r := result{File: doc.FileName, Inserted: inserted, Schemes: len(schemes)}
				if inserted {
					r.ID = doc.ID
				}
				results = append(results, r)
				app.Logger.Info().Str("file_name", doc.FileName).Bool("inserted", inserted).Msg("Statement ingested")
			}

			if output.IsJSON() {
				return output.JSON(results)
			}
			for _, r := range results {
				if r.Inserted {
					output.Success("✓ %s queued as %s (%d schemes)", r.File, r.ID, r.Schemes)
				} else {
					output.Warning("%s was already ingested, skipped", r.File)
				}
			}
			return nil
		},
	}
	return cmd
}

func newRunCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every pending or failed statement once",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			id, _ := cmd.Flags().GetString("statement")
			if id != "" {
				if err := security.ValidateStatementID(id); err != nil {
					return err
				}
			}
			orch, err := app.NewOrchestrator()
			if err != nil {
				return err
			}

			if id != "" {
				status, err := orch.ProcessStatement(cmd.Context(), id)
				if output.IsJSON() {
					out := map[string]string{"statement_id": id, "status": string(status)}
					if err != nil {
						out["error"] = err.Error()
					}
					output.JSON(out)
					return err
				}
				switch status {
				case "":
					output.Warning("Statement %s is locked or already completed", id)
				case models.StatusCompleted:
					output.Success("✓ Statement %s completed", id)
				default:
					output.Error("Statement %s failed: %v", id, err)
				}
				return err
			}

			summary, err := orch.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summary)
			}
			output.Bold("Pipeline run %s", summary.RunID)
			output.Printf("  Discovered: %d\n", summary.Discovered)
			output.Printf("  Completed:  %s\n", output.ColoredString(ColorGreen, fmt.Sprint(summary.Completed)))
			output.Printf("  Failed:     %s\n", output.ColoredString(ColorRed, fmt.Sprint(summary.Failed)))
			output.Printf("  Skipped:    %d\n", summary.Skipped)
			if summary.Failed > 0 {
				return fmt.Errorf("%d statement(s) failed", summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().String("statement", "", "process only this statement id")
	return cmd
}

func newWatchCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Process statements continuously",
		Long:  "Run the pipeline on a fixed interval until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := app.NewOrchestrator()
			if err != nil {
				return err
			}

			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				interval = app.Config.Pipeline.PollInterval
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.Logger.Info().Dur("interval", interval).Msg("Watching for statements")
			return orch.Run(ctx, interval)
		},
	}
	cmd.Flags().Duration("interval", 0, "poll interval (default from config)")
	return cmd
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List ingested statements and their processing status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			st, err := app.OpenStore()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			statements, err := st.ListStatements(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(statements)
			}
			if len(statements) == 0 {
				output.Dim("No statements ingested")
				return nil
			}

			table := NewTable(output, "ID", "FILE", "STATUS", "UPDATED")
			for _, s := range statements {
				table.AddRow(s.ID, TruncateString(s.FileName, 40), output.Status(s.Status, s.Locked), FormatDateTime(s.UpdatedAt))
			}
			table.Render()
			return nil
		},
	}
}
