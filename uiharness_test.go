package uiharness_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkteam/uiharness"
	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/browser/browsertest"
	"github.com/networkteam/uiharness/coordinator"
	"github.com/networkteam/uiharness/exampleapp"
	"github.com/networkteam/uiharness/internal/httpbrowser"
	"github.com/networkteam/uiharness/server"
	"github.com/networkteam/uiharness/store"
	"github.com/networkteam/uiharness/transcript"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type transitionLog struct {
	mu     sync.Mutex
	states []uiharness.State
}

func (l *transitionLog) record(tr uiharness.Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, tr.To)
}

func (l *transitionLog) States() []uiharness.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uiharness.State(nil), l.states...)
}

type exampleSetup struct {
	harness     *uiharness.Harness
	store       *store.Store
	transitions *transitionLog
	artifactDir string
}

// newExampleSetup runs the example application with a real store, an in-process server
// and the HTTP browser.
func newExampleSetup(t *testing.T, configure func(o *uiharness.Options)) *exampleSetup {
	t.Helper()

	rec := &transcript.Switch{}
	st, err := store.Open(context.Background(), store.Options{
		Schema:   []string{exampleapp.Schema},
		Recorder: rec,
		Logger:   quietLogger,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	appLogger := slog.New(transcript.NewSlogHandler(rec, transcript.SlogHandlerOptions{Level: slog.LevelDebug}))

	setup := &exampleSetup{
		store:       st,
		transitions: &transitionLog{},
		artifactDir: t.TempDir(),
	}
	options := uiharness.Options{
		Server: server.NewHandlerProvisioner(server.HandlerOptions{
			Addr: "127.0.0.1:0",
			App: func(ctx context.Context) (http.Handler, error) {
				return exampleapp.NewHandler(exampleapp.Options{DB: st.DB(), Logger: appLogger}), nil
			},
			Readiness: server.ReadinessOptions{Path: "/healthz", Timeout: 5 * time.Second},
			Logger:    quietLogger,
		}),
		Browser:      httpbrowser.New(httpbrowser.Options{Logger: quietLogger}),
		Store:        st,
		Recorder:     rec,
		Coordinator:  coordinator.New(),
		ArtifactDir:  setup.artifactDir,
		Timeout:      30 * time.Second,
		Logger:       quietLogger,
		OnTransition: setup.transitions.record,
	}
	if configure != nil {
		configure(&options)
	}

	h, err := uiharness.New(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	setup.harness = h

	return setup
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRun_HeaderShowsSeededThing(t *testing.T) {
	setup := newExampleSetup(t, nil)

	result := setup.harness.Run(context.Background(), "TestRun_HeaderShowsSeededThing", func(s *uiharness.Session) error {
		_, err := s.Seeder().Create(s.Context(), "things", map[string]any{"title": "My Expected Header Text"})
		require.NoError(s, err)

		p := exampleapp.MyNewPage{Base: s.Page()}
		require.NoError(s, p.Open(s.Context()))
		header, err := p.HeaderText(s.Context())
		require.NoError(s, err)
		assert.Equal(s, "My Expected Header Text", header)
		return nil
	})

	require.True(t, result.Passed(), "result: %+v", result.Err)
	assert.Nil(t, result.Bundle)
	assert.Nil(t, result.Err)
	assert.Equal(t, []uiharness.State{
		uiharness.StateProvisioning,
		uiharness.StateReady,
		uiharness.StateRunning,
		uiharness.StatePassed,
		uiharness.StateTearingDown,
		uiharness.StateIdle,
	}, setup.transitions.States())

	entries, err := os.ReadDir(setup.artifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no bundle for a passed session")
}

func TestRun_HeaderMismatchWritesBundle(t *testing.T) {
	setup := newExampleSetup(t, nil)

	var serverAddr string
	result := setup.harness.Run(context.Background(), "TestRun_HeaderMismatchWritesBundle", func(s *uiharness.Session) error {
		serverAddr = s.Server().Addr

		_, err := s.Seeder().Create(s.Context(), "things", map[string]any{"title": "Thing Title"})
		require.NoError(s, err)

		p := exampleapp.MyNewPage{Base: s.Page()}
		require.NoError(s, p.Open(s.Context()))
		header, err := p.HeaderText(s.Context())
		require.NoError(s, err)
		require.Equal(s, "My Expected Header Text", header)
		return nil
	})

	assert.Equal(t, uiharness.OutcomeFailed, result.Outcome)
	var failure *uiharness.AssertionFailure
	require.ErrorAs(t, result.Err, &failure)
	assert.Contains(t, failure.Message, "Thing Title")
	require.Len(t, result.Failures, 1)

	assert.Equal(t, []uiharness.State{
		uiharness.StateProvisioning,
		uiharness.StateReady,
		uiharness.StateRunning,
		uiharness.StateFailed,
		uiharness.StateCollecting,
		uiharness.StateTearingDown,
		uiharness.StateIdle,
	}, setup.transitions.States())

	// The HTTP browser cannot take screenshots: degraded bundle
	bundle := result.Bundle
	require.NotNil(t, bundle)
	assert.Equal(t, filepath.Join(setup.artifactDir, "TestRun_HeaderMismatchWritesBundle"), filepath.Dir(bundle.Dir))
	assert.Equal(t, []string{artifact.ItemConsole, artifact.ItemDOM, artifact.ItemStackTrace}, bundle.Items)
	assert.ErrorIs(t, bundle.Missing[artifact.ItemScreenshot], httpbrowser.ErrScreenshotUnsupported)
	assert.FileExists(t, filepath.Join(bundle.Dir, "screenshot.png.missing"))

	dom := readFile(t, filepath.Join(bundle.Dir, artifact.ItemDOM))
	assert.Contains(t, dom, `<h1 id="header">Thing Title</h1>`)

	console := readFile(t, filepath.Join(bundle.Dir, artifact.ItemConsole))
	assert.Contains(t, console, "[http] INFO: GET /my-new-page -> 200")
	assert.Contains(t, console, `INSERT INTO "things"`)
	assert.Contains(t, console, "[harness] ERROR: Assertion failed")

	stack := readFile(t, filepath.Join(bundle.Dir, artifact.ItemStackTrace))
	assert.Contains(t, stack, "outcome: failed")
	assert.Contains(t, stack, "My Expected Header Text")
	assert.Contains(t, stack, "uiharness_test.TestRun_HeaderMismatchWritesBundle")

	// Teardown stopped the server
	_, err := net.DialTimeout("tcp", serverAddr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestRun_BackToBackSessionsAreIsolated(t *testing.T) {
	setup := newExampleSetup(t, nil)

	first := setup.harness.Run(context.Background(), "first", func(s *uiharness.Session) error {
		p := exampleapp.ThingsPage{Base: s.Page()}
		require.NoError(s, p.Open(s.Context()))
		require.NoError(s, p.AddThing(s.Context(), "Created by first"))
		count, err := p.ThingCount(s.Context())
		require.NoError(s, err)
		assert.Equal(s, 1, count)
		return nil
	})
	require.True(t, first.Passed(), "first: %+v", first.Err)

	second := setup.harness.Run(context.Background(), "second", func(s *uiharness.Session) error {
		assert.True(s, s.ResetToken().Valid())

		count, err := s.Seeder().Count(s.Context(), "things")
		require.NoError(s, err)
		assert.Equal(s, 0, count, "rows of the first session must be gone")

		id, err := s.Seeder().Create(s.Context(), "things", map[string]any{"title": "Created by second"})
		require.NoError(s, err)
		assert.EqualValues(s, 1, id, "sequences are reset")
		assert.False(s, s.ResetToken().Valid(), "writes invalidate the token")
		return nil
	})
	require.True(t, second.Passed(), "second: %+v", second.Err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestRun_ReadinessTimeoutIsInfrastructureError(t *testing.T) {
	var bodyRan atomic.Bool
	setup := newExampleSetup(t, func(o *uiharness.Options) {
		o.Server = server.NewHandlerProvisioner(server.HandlerOptions{
			Addr: "127.0.0.1:0",
			App: func(ctx context.Context) (http.Handler, error) {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusServiceUnavailable)
				}), nil
			},
			Readiness: server.ReadinessOptions{Timeout: 200 * time.Millisecond},
			Logger:    quietLogger,
		})
	})

	result := setup.harness.Run(context.Background(), "TestNeverReady", func(s *uiharness.Session) error {
		bodyRan.Store(true)
		return nil
	})

	assert.False(t, bodyRan.Load())
	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	var provisioningErr *server.ProvisioningError
	require.ErrorAs(t, result.Err, &provisioningErr)
	assert.Equal(t, "readiness", provisioningErr.Op)

	assert.NotContains(t, setup.transitions.States(), uiharness.StateRunning)
	assert.Equal(t, []uiharness.State{
		uiharness.StateProvisioning,
		uiharness.StateInfrastructureError,
		uiharness.StateCollecting,
		uiharness.StateTearingDown,
		uiharness.StateIdle,
	}, setup.transitions.States())

	require.NotNil(t, result.Bundle)
	assert.Equal(t, []string{artifact.ItemConsole, artifact.ItemStackTrace}, result.Bundle.Items)
	assert.Contains(t, readFile(t, filepath.Join(result.Bundle.Dir, artifact.ItemStackTrace)), "readiness")

	// The lease was released: another session can run
	again := setup.harness.Run(context.Background(), "TestAfterInfra", func(s *uiharness.Session) error { return nil })
	assert.Equal(t, uiharness.OutcomeInfrastructureError, again.Outcome)
}

func TestRun_StoreResetFailureIsInfrastructureError(t *testing.T) {
	setup := newExampleSetup(t, nil)
	require.NoError(t, setup.store.DB().Close())

	result := setup.harness.Run(context.Background(), "TestBrokenStore", func(s *uiharness.Session) error {
		return nil
	})

	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	var resetErr *store.ResetError
	assert.ErrorAs(t, result.Err, &resetErr)
	assert.NotContains(t, setup.transitions.States(), uiharness.StateRunning)
}

type fakeProvisioner struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (p *fakeProvisioner) Start(ctx context.Context) (*server.Handle, error) {
	p.started.Add(1)
	return &server.Handle{Addr: "127.0.0.1:8765", URL: "http://127.0.0.1:8765"}, nil
}

func (p *fakeProvisioner) Stop(ctx context.Context, h *server.Handle) error {
	p.stopped.Add(1)
	return nil
}

type fakeSetup struct {
	harness     *uiharness.Harness
	server      *fakeProvisioner
	browser     *browsertest.Manager
	transitions *transitionLog
}

func newFakeSetup(t *testing.T, configure func(o *uiharness.Options)) *fakeSetup {
	t.Helper()

	setup := &fakeSetup{
		server: &fakeProvisioner{},
		browser: &browsertest.Manager{
			Pages: map[string]browsertest.Page{
				"/": {
					HTML:     "<h1 id=\"header\">Things</h1>",
					Elements: map[string]browsertest.Element{"h1#header": {Text: "Things"}},
				},
			},
		},
		transitions: &transitionLog{},
	}
	options := uiharness.Options{
		Server:       setup.server,
		Browser:      setup.browser,
		Coordinator:  coordinator.New(),
		ArtifactDir:  t.TempDir(),
		Timeout:      5 * time.Second,
		Logger:       quietLogger,
		OnTransition: setup.transitions.record,
	}
	if configure != nil {
		configure(&options)
	}
	h, err := uiharness.New(options)
	require.NoError(t, err)
	setup.harness = h
	return setup
}

func (s *fakeSetup) assertTornDown(t *testing.T) {
	t.Helper()
	assert.EqualValues(t, 1, s.server.started.Load())
	assert.EqualValues(t, 1, s.server.stopped.Load(), "server stopped exactly once")
	assert.Equal(t, s.browser.Opened(), s.browser.Closed(), "browser closed exactly once per session")
	for _, sess := range s.browser.Sessions() {
		assert.Equal(t, 1, sess.CloseCount())
	}
}

func TestRun_ReturnedError(t *testing.T) {
	setup := newFakeSetup(t, nil)
	errBroken := errors.New("thing is broken")

	result := setup.harness.Run(context.Background(), "TestReturnedError", func(s *uiharness.Session) error {
		return errBroken
	})

	assert.Equal(t, uiharness.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, errBroken)
	require.NotNil(t, result.Bundle)
	assert.True(t, result.Bundle.Complete())
	setup.assertTornDown(t)
}

func TestRun_RequireStopsBody(t *testing.T) {
	setup := newFakeSetup(t, nil)
	var afterRequire atomic.Bool

	result := setup.harness.Run(context.Background(), "TestRequire", func(s *uiharness.Session) error {
		require.NoError(s, s.Page().Navigate(s.Context(), "/"))
		require.Equal(s, "Other", "Things", "header text")
		afterRequire.Store(true)
		return nil
	})

	assert.False(t, afterRequire.Load(), "FailNow stops the body")
	assert.Equal(t, uiharness.OutcomeFailed, result.Outcome)
	var failure *uiharness.AssertionFailure
	require.ErrorAs(t, result.Err, &failure)
	assert.Contains(t, failure.Error(), "header text")
	assert.NotEmpty(t, failure.StackTrace())
	setup.assertTornDown(t)
}

func TestRun_AssertContinuesBody(t *testing.T) {
	setup := newFakeSetup(t, nil)
	var reachedEnd atomic.Bool

	result := setup.harness.Run(context.Background(), "TestAssert", func(s *uiharness.Session) error {
		assert.True(s, false, "first")
		assert.True(s, false, "second")
		reachedEnd.Store(true)
		return nil
	})

	assert.True(t, reachedEnd.Load())
	assert.Equal(t, uiharness.OutcomeFailed, result.Outcome)
	assert.Len(t, result.Failures, 2)
	assert.Contains(t, result.Err.Error(), "first")
}

func TestRun_BodyPanics(t *testing.T) {
	setup := newFakeSetup(t, nil)

	result := setup.harness.Run(context.Background(), "TestPanic", func(s *uiharness.Session) error {
		panic("boom")
	})

	assert.Equal(t, uiharness.OutcomeFailed, result.Outcome)
	var panicErr *uiharness.PanicError
	require.ErrorAs(t, result.Err, &panicErr)
	assert.Equal(t, "boom", panicErr.Value)

	stack := readFile(t, filepath.Join(result.Bundle.Dir, artifact.ItemStackTrace))
	assert.Contains(t, stack, "panic: boom")
	assert.Contains(t, stack, "goroutine")
	setup.assertTornDown(t)
}

func TestRun_TimeoutIsInfrastructureError(t *testing.T) {
	setup := newFakeSetup(t, func(o *uiharness.Options) {
		o.Timeout = 100 * time.Millisecond
	})
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	result := setup.harness.Run(context.Background(), "TestHangs", func(s *uiharness.Session) error {
		// Ignores the session context on purpose
		<-release
		assert.Fail(s, "late assertion")
		return nil
	})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	var timeoutErr *uiharness.TimeoutError
	require.ErrorAs(t, result.Err, &timeoutErr)
	assert.Equal(t, uiharness.StateRunning, timeoutErr.State)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
	require.NotNil(t, result.Bundle)
	assert.Contains(t, setup.transitions.States(), uiharness.StateCollecting)
	setup.assertTornDown(t)
}

func TestRun_ProvisioningTimeoutIsInfrastructureError(t *testing.T) {
	setup := newFakeSetup(t, func(o *uiharness.Options) {
		o.Timeout = 100 * time.Millisecond
	})
	release := make(chan struct{})
	// Open ignores the session context until released
	setup.browser.OpenBlock = release

	var bodyRan atomic.Bool
	start := time.Now()
	result := setup.harness.Run(context.Background(), "TestOpenHangs", func(s *uiharness.Session) error {
		bodyRan.Store(true)
		return nil
	})

	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, bodyRan.Load())
	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	var timeoutErr *uiharness.TimeoutError
	require.ErrorAs(t, result.Err, &timeoutErr)
	assert.Equal(t, uiharness.StateProvisioning, timeoutErr.State)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
	require.NotNil(t, result.Bundle)
	assert.NotContains(t, setup.transitions.States(), uiharness.StateRunning)
	assert.EqualValues(t, 1, setup.server.stopped.Load(), "server started before the timeout is stopped")
	assert.Equal(t, 0, setup.browser.Closed())

	close(release)
	assert.Eventually(t, func() bool {
		return setup.browser.Opened() == 1 && setup.browser.Closed() == 1
	}, 2*time.Second, 10*time.Millisecond, "browser session opened after the timeout is closed")

	next := setup.harness.Run(context.Background(), "TestAfterOpenHangs", func(s *uiharness.Session) error {
		return nil
	})
	assert.True(t, next.Passed(), "result: %+v", next.Err)
	assert.EqualValues(t, 2, setup.server.stopped.Load())
}

func TestRun_BrowserOpenFailure(t *testing.T) {
	setup := newFakeSetup(t, nil)
	setup.browser.OpenErr = errors.New("no browser endpoint configured")

	result := setup.harness.Run(context.Background(), "TestNoBrowser", func(s *uiharness.Session) error {
		return nil
	})

	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	var sessionErr *browser.SessionError
	require.ErrorAs(t, result.Err, &sessionErr)
	assert.EqualValues(t, 1, setup.server.stopped.Load(), "server is stopped even if the browser failed")
	assert.Equal(t, 0, setup.browser.Closed())
	assert.NotContains(t, setup.transitions.States(), uiharness.StateRunning)
}

func TestRun_PanicDuringProvisioning(t *testing.T) {
	setup := newFakeSetup(t, nil)
	setup.browser.OpenPanic = "driver exploded"

	result := setup.harness.Run(context.Background(), "TestProvisioningPanic", func(s *uiharness.Session) error {
		return nil
	})

	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	var panicErr *uiharness.PanicError
	assert.ErrorAs(t, result.Err, &panicErr)
	assert.EqualValues(t, 1, setup.server.stopped.Load())
}

func TestRun_MutualExclusion(t *testing.T) {
	setup := newFakeSetup(t, nil)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	results := make([]*uiharness.Result, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = setup.harness.Run(context.Background(), "TestConcurrent", func(s *uiharness.Session) error {
				n := active.Add(1)
				defer active.Add(-1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive.Load())
	for _, r := range results {
		assert.True(t, r.Passed())
	}
	assert.EqualValues(t, len(results), setup.server.stopped.Load())
	assert.Equal(t, len(results), setup.browser.Closed())
}

func TestRun_CanceledWhileWaitingForLease(t *testing.T) {
	c := coordinator.New()
	lease, err := c.Acquire(context.Background(), "holder")
	require.NoError(t, err)
	defer lease.Release()

	setup := newFakeSetup(t, func(o *uiharness.Options) {
		o.Coordinator = c
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := setup.harness.Run(ctx, "TestWaiting", func(s *uiharness.Session) error {
		return nil
	})

	assert.Equal(t, uiharness.OutcomeInfrastructureError, result.Outcome)
	assert.ErrorIs(t, result.Err, context.DeadlineExceeded)
	assert.NotNil(t, result.Bundle)
	assert.EqualValues(t, 0, setup.server.started.Load())
}

func TestUITest_Filter(t *testing.T) {
	var ran []string
	setup := newFakeSetup(t, func(o *uiharness.Options) {
		o.Filter = `uiharness\.TestUITest_Filter/selected$`
	})

	t.Run("selected", func(t *testing.T) {
		result := setup.harness.UITest(t, func(s *uiharness.Session) error {
			ran = append(ran, s.Name())
			return nil
		})
		assert.True(t, result.Passed())
	})
	t.Run("other", func(t *testing.T) {
		setup.harness.UITest(t, func(s *uiharness.Session) error {
			ran = append(ran, s.Name())
			return nil
		})
	})

	assert.Equal(t, []string{"TestUITest_Filter/selected"}, ran)
}

func TestNew_RequiresServerAndBrowser(t *testing.T) {
	_, err := uiharness.New(uiharness.Options{Browser: &browsertest.Manager{}})
	assert.Error(t, err)

	_, err = uiharness.New(uiharness.Options{Server: &fakeProvisioner{}})
	assert.Error(t, err)

	_, err = uiharness.New(uiharness.Options{Server: &fakeProvisioner{}, Browser: &browsertest.Manager{}, Filter: "("})
	assert.Error(t, err)
}

func TestReadEnv(t *testing.T) {
	t.Setenv(uiharness.EnvBrowserEndpoint, "ws://127.0.0.1:3000/")
	t.Setenv(uiharness.EnvHeadless, "false")
	t.Setenv(uiharness.EnvAppAddr, "127.0.0.1:9999")
	t.Setenv(uiharness.EnvTimeout, "45s")
	t.Setenv(uiharness.EnvFilter, "Things")
	t.Setenv(uiharness.EnvLogLevel, "debug")

	env, err := uiharness.ReadEnv()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3000/", env.BrowserEndpoint)
	assert.False(t, env.Headless)
	assert.False(t, env.BrowserLaunch)
	assert.Equal(t, "127.0.0.1:9999", env.AppAddr)
	assert.Equal(t, 45*time.Second, env.Timeout)
	assert.Equal(t, slog.LevelDebug, env.LogLevel)

	options := env.Apply(uiharness.DefaultOptions())
	assert.Equal(t, "Things", options.Filter)
	assert.Equal(t, 45*time.Second, options.Timeout)
	assert.NotNil(t, options.Browser)

	t.Setenv(uiharness.EnvTimeout, "soon")
	_, err = uiharness.ReadEnv()
	assert.ErrorContains(t, err, uiharness.EnvTimeout)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "infrastructure-error", uiharness.OutcomeInfrastructureError.String())
	assert.Equal(t, "tearing-down", uiharness.StateTearingDown.String())
	assert.True(t, strings.HasPrefix(uiharness.StateProvisioning.String(), "prov"))
}
