package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagLogLevel string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

var rootCmd = &cobra.Command{
	Use:   "uiharness",
	Short: "Run browser UI tests and inspect their failure artifacts",
	Long: `uiharness runs Go UI test packages against a browser and a provisioned
application, one session at a time. Failing tests leave a bundle with a
screenshot, the console transcript, a DOM snapshot and the stack trace in the
artifact directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flagLogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
