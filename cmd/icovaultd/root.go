// Command icovaultd is a small administration CLI over the favicon
// database core, demonstrating the public service.IconService surface the
// way an embedder would drive it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/icovault/icovault/internal/config"
	"github.com/icovault/icovault/internal/core"
	"github.com/icovault/icovault/internal/decoder"
	"github.com/icovault/icovault/internal/domain/service"
	"github.com/icovault/icovault/internal/logging"
)

var (
	dbPath     string
	configFile string
	logLevel   string
	logFormat  string

	db *core.Database
)

var rootCmd = &cobra.Command{
	Use:   "icovaultd",
	Short: "Administer an icovault favicon database",
	Long: `icovaultd opens a favicon database and exposes its public operations
(stats, icon association, bulk removal) from the command line, the way an
embedder's own tooling would drive the core over service.IconService.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		switch cmd.Name() {
		case "help", "completion":
			return nil
		}

		logger := logging.New(logging.Config{
			Level:  parseLevel(logLevel),
			Format: logFormat,
		})
		ctx := logging.WithContext(context.Background(), logger)

		mgr, err := config.NewManager(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		opts := mgr.Options()
		if dbPath != "" {
			opts.Path = dbPath
		}
		if opts.Path == "" {
			if err := config.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure xdg directories: %w", err)
			}
			defaultPath, err := config.DefaultDatabasePath()
			if err != nil {
				return fmt.Errorf("resolve default database path: %w", err)
			}
			opts.Path = defaultPath
		}

		db = core.New(opts, newLoggingClient(logger), service.NoopLegacyImporter{}, decoder.New())
		if _, err := db.Open(ctx, opts.Path); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if db != nil {
			db.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "database file path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console, json")

	rootCmd.AddCommand(statsCmd, removeAllCmd, setIconURLCmd, serveCmd)
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
