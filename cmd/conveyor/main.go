// Command conveyor administers and runs conveyor pipelines from the shell.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	logLevel   string
	backend    string
	dsn        string
	database   string
	configPath string
	outputJSON bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "conveyor",
	Short:         "Conveyor: lease-based multi-step work queue",
	Long:          "Enqueue, claim, complete and inspect items moving through a pipeline of steps.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		setupLogging()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&backend, "backend", envOr("CONVEYOR_BACKEND", "sqlite"),
		"Storage backend: postgres, bun, sqlite, mongo, tables, redis or memory")
	pf.StringVar(&dsn, "dsn", envOr("CONVEYOR_DSN", "conveyor.db"),
		"Backend connection string, file path or URL")
	pf.StringVar(&database, "database", envOr("CONVEYOR_DATABASE", "conveyor"), "Database name (mongo only)")
	pf.StringVar(&configPath, "config", os.Getenv("CONVEYOR_CONFIG"), "Path to a JSON worker config file")
	pf.BoolVar(&outputJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(migrateCmd, stepsCmd, enqueueCmd, claimCmd, reclaimCmd,
		completeCmd, poisonCmd, requeueCmd, listCmd, workCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
