// Package cli implements the firebridge command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/firebridge/internal/computer"
	"github.com/me/firebridge/internal/config"
	"github.com/me/firebridge/internal/logging"
	"github.com/me/firebridge/internal/scheduler"
	"github.com/me/firebridge/internal/store"
)

var (
	flagConfig    string
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
)

// defaultServer reads FIREBRIDGE_SERVER. Empty means the commands work on
// the local database directly.
func defaultServer() string {
	return os.Getenv("FIREBRIDGE_SERVER")
}

// NewRootCmd creates the root cobra command for the firebridge CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "firebridge",
		Short: "firebridge: run batch jobs through a pull-based job queue",
		Long: "firebridge accepts batch submission scripts, stores them as jobs in a queue\n" +
			"and lets workers running inside batch allocations pull and run them.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(flagConfig)
			if err != nil {
				return err
			}
			level, format := cfg.Log.Level, cfg.Log.Format
			if cmd.Flags().Changed("log-level") {
				level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				format = flagLogFormat
			}
			if flagDebug {
				level = "debug"
			}
			logger, err = logging.NewLoggerWithWriter(cmd.ErrOrStderr(), level, format)
			return err
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", os.Getenv("FIREBRIDGE_CONFIG"), "Config file (or FIREBRIDGE_CONFIG env)")
	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "firebridge server URL; empty uses the local database (or FIREBRIDGE_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newSubmitCmd(),
		newListCmd(),
		newKillCmd(),
		newComputerCmd(),
		newDuplicateComputerCmd(),
		newGenerateWorkerCmd(),
		newWorkerCmd(),
		newServeCmd(),
	)

	return root
}

// openStore opens and migrates the configured database.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func loadRegistry() (*computer.Registry, error) {
	return computer.Load(cfg.ComputersFile)
}

// schedulerOptions maps configuration onto bridge options.
func schedulerOptions(c computer.Computer) scheduler.Options {
	return scheduler.Options{
		KeepEnv:        c.KeepsEnv(cfg.Scheduler.KeepEnv),
		CommandTimeout: cfg.Scheduler.CommandTimeout,
		Username:       c.Owner(cfg.Scheduler.Username),
		PollSeconds:    cfg.Scheduler.PollSeconds,
	}
}

// schedulerResolver builds a fresh bridge per call, so concurrent callers
// never share a transport's working directory.
func schedulerResolver(st store.JobStore, reg *computer.Registry) func(hostID string) (scheduler.Scheduler, error) {
	return func(hostID string) (scheduler.Scheduler, error) {
		c, err := reg.ByHostID(hostID)
		if err != nil {
			return nil, err
		}
		tr, err := c.NewTransport(logger)
		if err != nil {
			return nil, err
		}
		return scheduler.NewBridge(st, tr, schedulerOptions(c), logger), nil
	}
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
