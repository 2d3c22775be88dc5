package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/networkteam/uiharness"
	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/exampleapp"
	"github.com/networkteam/uiharness/report"
	"github.com/networkteam/uiharness/server"
	"github.com/networkteam/uiharness/store"
)

var (
	flagExampleAddr    string
	flagExampleDB      string
	flagExampleLogFile string
)

func init() {
	exampleCmd.Flags().StringVar(&flagExampleAddr, "addr", "", "listen address (default $"+server.AddrEnv+" or "+server.DefaultAddr+")")
	exampleCmd.Flags().StringVar(&flagExampleDB, "db", "", "SQLite database file (default $"+uiharness.EnvDB+" or a temporary file)")
	exampleCmd.Flags().StringVar(&flagExampleLogFile, "log-file", "", "also write debug logs as JSON to this file")

	rootCmd.AddCommand(exampleCmd)
}

var exampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Serve the example application",
	Long: `Serve the example application that lists things and shows the latest one on
/my-new-page. Failure bundles of the artifact directory are browsable below
/_artifacts/. The command can be provisioned per session with a
server.CommandProvisioner, it listens on $` + server.AddrEnv + `.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := firstNonEmpty(flagExampleAddr, os.Getenv(server.AddrEnv), server.DefaultAddr)
		dbPath := firstNonEmpty(flagExampleDB, os.Getenv(uiharness.EnvDB))
		artifactDir := firstNonEmpty(os.Getenv(uiharness.EnvArtifactDir), artifact.DefaultDir)

		handlers := []slog.Handler{
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}),
		}
		if flagExampleLogFile != "" {
			f, err := os.OpenFile(flagExampleLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("opening log file: %w", err)
			}
			defer f.Close()
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
		logger := slog.New(slogmulti.Fanout(handlers...))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, store.Options{
			Path:   dbPath,
			Schema: []string{exampleapp.Schema},
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer st.Close()

		mux := http.NewServeMux()
		mux.Handle("/", exampleapp.NewHandler(exampleapp.Options{DB: st.DB(), Logger: logger}))
		mux.Handle("/_artifacts/", http.StripPrefix("/_artifacts", report.NewHandler(artifactDir, report.WithPathPrefix("/_artifacts"))))

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		return serve(ctx, srv, logger)
	},
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

