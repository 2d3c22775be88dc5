//go:build acceptance
// +build acceptance

package acceptance

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	slogmulti "github.com/samber/slog-multi"

	"github.com/networkteam/uiharness"
	"github.com/networkteam/uiharness/exampleapp"
	"github.com/networkteam/uiharness/report"
	"github.com/networkteam/uiharness/server"
	"github.com/networkteam/uiharness/store"
	"github.com/networkteam/uiharness/transcript"
)

// ArtifactsPath is where the test app serves the failure bundles of the harness.
const ArtifactsPath = "/_artifacts"

// TestApp is the example application wired into a harness: a SQLite store that is reset
// before every session, the app served in-process and the failure bundles browsable
// below ArtifactsPath.
type TestApp struct {
	Harness *uiharness.Harness
	Store   *store.Store
	Logger  *slog.Logger
}

// NewTestApp creates the store and the harness for the environment.
func NewTestApp(ctx context.Context, env uiharness.Env) (*TestApp, error) {
	rec := &transcript.Switch{}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: env.LogLevel}))

	// App logs go to the session transcript and to stderr
	appLogger := slog.New(slogmulti.Fanout(
		transcript.NewSlogHandler(rec, transcript.SlogHandlerOptions{Level: slog.LevelDebug}),
		logger.Handler(),
	))

	st, err := store.Open(ctx, store.Options{
		Path:     env.DB,
		Schema:   []string{exampleapp.Schema},
		Recorder: rec,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	options := env.Apply(uiharness.Options{
		Browser:  NewBrowserManager(env),
		Store:    st,
		Recorder: rec,
		Logger:   logger,
	})
	artifactDir := options.ArtifactDir
	if artifactDir == "" {
		artifactDir = uiharness.DefaultOptions().ArtifactDir
		options.ArtifactDir = artifactDir
	}
	options.Server = server.NewHandlerProvisioner(server.HandlerOptions{
		Addr: env.AppAddr,
		App: func(ctx context.Context) (http.Handler, error) {
			mux := http.NewServeMux()
			mux.Handle("/", exampleapp.NewHandler(exampleapp.Options{DB: st.DB(), Logger: appLogger}))
			mux.Handle(ArtifactsPath+"/", http.StripPrefix(ArtifactsPath, report.NewHandler(artifactDir, report.WithPathPrefix(ArtifactsPath))))
			return mux, nil
		},
		Readiness: server.ReadinessOptions{Path: "/healthz", Timeout: 10 * time.Second},
		Logger:    logger,
	})

	h, err := uiharness.New(options)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &TestApp{
		Harness: h,
		Store:   st,
		Logger:  logger,
	}, nil
}

// Close shuts down the browser and closes the store.
func (ta *TestApp) Close() error {
	err := ta.Harness.Close()
	if closeErr := ta.Store.Close(); err == nil {
		err = closeErr
	}
	return err
}
