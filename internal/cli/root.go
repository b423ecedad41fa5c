// Package cli provides the command-line interface for the valuation pipeline.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cas-valuer/internal/config"
	"cas-valuer/internal/logging"
	"cas-valuer/internal/navsource"
	"cas-valuer/internal/notify"
	"cas-valuer/internal/pipeline"
	"cas-valuer/internal/security"
	"cas-valuer/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Store     store.DataStore
	ConfigDir string
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "casvaluer",
		Short: "CAS valuation pipeline",
		Long: `casvaluer turns parsed consolidated account statements into a
mutual fund ledger and values every holding daily with FIFO lot accounting.

Statements are ingested as casparser JSON, NAV history is fetched from an
mfapi.in compatible provider and everything is kept in a local SQLite file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/cas-valuer)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPipelineCommands(rootCmd, app)
	addDataCommands(rootCmd, app)
	addReportCommands(rootCmd, app)

	return rootCmd
}

func (app *App) init(cmd *cobra.Command) error {
	app.ConfigDir, _ = cmd.Flags().GetString("config")
	if app.ConfigDir == "" {
		app.ConfigDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(app.ConfigDir)
	if err != nil {
		return err
	}
	app.Config = cfg

	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
		logging.SetDebugLevel()
	}
	app.Logger = logging.NewLoggerWithConfig(cfg.Logging.LogConfig())
	return nil
}

// OpenStore opens the SQLite store on first use.
func (app *App) OpenStore() (store.DataStore, error) {
	if app.Store != nil {
		return app.Store, nil
	}
	path := app.Config.Database.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	app.Logger.Debug().Str("path", path).Msg("SQLite store initialized")
	app.Store = st
	return st, nil
}

// Close releases the store.
func (app *App) Close() error {
	if app.Store == nil {
		return nil
	}
	err := app.Store.Close()
	app.Store = nil
	return err
}

// NewOrchestrator wires the pipeline to the store and the NAV provider.
func (app *App) NewOrchestrator() (*pipeline.Orchestrator, error) {
	st, err := app.OpenStore()
	if err != nil {
		return nil, err
	}
	client := navsource.NewClient(app.Config.NAV, app.Logger)
	collector := navsource.NewCollector(client, st, app.Logger)
	orch := pipeline.New(st, collector, app.Config.Pipeline, app.Logger)
	if mn := notify.NewMultiNotifier(app.Config.Notify); mn.Enabled() {
		orch.WithNotifier(mn)
	}
	return orch, nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("casvaluer v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if asTOML, _ := cmd.Flags().GetBool("toml"); asTOML {
				data, err := app.Config.TOML()
				if err != nil {
					return err
				}
				output.Printf("%s", data)
				return nil
			}
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	}
	showCmd.Flags().Bool("toml", false, "print the effective configuration as TOML")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.ConfigDir})
			} else {
				output.Println(app.ConfigDir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Database")
	output.Printf("  Path:               %s\n", cfg.Database.Path)
	output.Println()

	output.Bold("Pipeline")
	output.Printf("  Statement workers:  %d\n", cfg.Pipeline.StatementWorkers)
	output.Printf("  Holding fan-out:    %d\n", cfg.Pipeline.HoldingConcurrency)
	output.Printf("  Poll interval:      %s\n", cfg.Pipeline.PollInterval)
	output.Println()

	output.Bold("NAV Provider")
	output.Printf("  Base URL:           %s\n", cfg.NAV.BaseURL)
	output.Printf("  Timeout:            %s\n", cfg.NAV.Timeout)
	output.Printf("  Rate limit:         %.1f req/s (burst %d)\n", cfg.NAV.RequestsPerSecond, cfg.NAV.Burst)
	output.Printf("  Cache TTL:          %s\n", cfg.NAV.CacheTTL)
	output.Printf("  Retries:            %d (%s to %s)\n", cfg.NAV.MaxAttempts, cfg.NAV.InitialBackoff, cfg.NAV.MaxBackoff)
	output.Printf("  Circuit breaker:    %d failures, %s cooldown\n", cfg.NAV.BreakerFailures, cfg.NAV.BreakerCooldown)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:              %s\n", cfg.Logging.Level)
	output.Printf("  Console:            %v\n", cfg.Logging.Console)
	output.Printf("  File:               %v (%s)\n", cfg.Logging.File, cfg.Logging.FilePath)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Level:              %s\n", cfg.Notify.Level)
	output.Printf("  Webhook:            %v %s\n", cfg.Notify.Webhook.Enabled, security.MaskSensitive(cfg.Notify.Webhook.URL))
	output.Printf("  Telegram:           %v (token %s)\n", cfg.Notify.Telegram.Enabled, security.MaskCredential(cfg.Notify.Telegram.BotToken))
}
