package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/report"
)

var (
	flagServeAddr  string
	flagServeTitle string
)

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "127.0.0.1:1096", "listen address")
	serveCmd.Flags().StringVar(&flagServeTitle, "title", report.DefaultTitle, "page title")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Browse failure bundles over HTTP",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := artifact.DefaultDir
		if len(args) > 0 {
			dir = args[0]
		}
		logger := newLogger()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:              flagServeAddr,
			Handler:           report.NewHandler(dir, report.WithTitle(flagServeTitle)),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("Serving artifacts", slog.String("dir", dir))
		return serve(ctx, srv, logger)
	},
}

func serve(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
