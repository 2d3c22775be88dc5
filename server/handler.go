package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/networkteam/uiharness/transcript"
)

// AppFactory builds the application handler for one session.
type AppFactory func(ctx context.Context) (http.Handler, error)

// HandlerOptions configures a HandlerProvisioner.
type HandlerOptions struct {
	// Addr to listen on. Default: DefaultAddr. Use "127.0.0.1:0" for a random port.
	Addr string
	// App builds the handler served for a session. Required.
	App AppFactory
	// Readiness configures the readiness probe.
	Readiness ReadinessOptions
	// ShutdownTimeout bounds graceful shutdown before connections are closed. Default: 5s
	ShutdownTimeout time.Duration
	// Logger for provisioning events. Default: slog.Default()
	Logger *slog.Logger
}

// HandlerProvisioner serves an in-process http.Handler on a TCP listener.
// Requests are recorded to the transcript found in the Start context.
type HandlerProvisioner struct {
	options HandlerOptions
}

var _ Provisioner = &HandlerProvisioner{}

// NewHandlerProvisioner creates a provisioner serving the handler built by options.App.
func NewHandlerProvisioner(options HandlerOptions) *HandlerProvisioner {
	if options.Addr == "" {
		options.Addr = DefaultAddr
	}
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &HandlerProvisioner{options: options}
}

// Start implements Provisioner.
func (p *HandlerProvisioner) Start(ctx context.Context) (*Handle, error) {
	addr := p.options.Addr
	if p.options.App == nil {
		return nil, &ProvisioningError{Addr: addr, Op: "build app", Err: errors.New("no app factory configured")}
	}

	handler, err := p.options.App(ctx)
	if err != nil {
		return nil, &ProvisioningError{Addr: addr, Op: "build app", Err: err}
	}

	var recorder transcript.Recorder = transcript.Discard
	if tr, ok := transcript.FromContext(ctx); ok {
		recorder = tr
	}
	readiness := p.options.Readiness.withDefaults()
	var skip []string
	if readiness.Path != "/" {
		skip = append(skip, readiness.Path)
	}
	handler = transcript.Middleware(recorder, transcript.HTTPOptions{SkipPaths: skip}, handler)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &ProvisioningError{Addr: addr, Op: "listen", Err: err}
	}
	boundAddr := ln.Addr().String()

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(transcript.NewSlogHandler(recorder, transcript.SlogHandlerOptions{}), slog.LevelError),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	h := newHandle(boundAddr, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.options.ShutdownTimeout)
		defer cancel()

		err := srv.Shutdown(ctx)
		if err != nil {
			// Graceful shutdown did not finish in time, drop remaining connections.
			_ = srv.Close()
		}
		if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			return serr
		}
		if err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	})

	p.options.Logger.DebugContext(ctx, "Waiting for server", slog.String("url", h.URL))

	if err := WaitReady(ctx, h.URL, readiness); err != nil {
		return h, &ProvisioningError{Addr: boundAddr, Op: "readiness", Err: err}
	}

	p.options.Logger.DebugContext(ctx, "Server ready", slog.String("url", h.URL))

	return h, nil
}

// Stop implements Provisioner.
func (p *HandlerProvisioner) Stop(ctx context.Context, h *Handle) error {
	return h.Stop(ctx)
}
