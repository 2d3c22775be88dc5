// Package uiharness runs browser driven end-to-end tests against a web application.
//
// Every test runs in a session: the harness waits for exclusive access, starts the
// application, resets the data store to a known baseline, opens a browser session, runs
// the test body and always tears everything down again. Failed sessions leave an artifact
// bundle with a screenshot, the console transcript, a DOM snapshot and the stack trace.
package uiharness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	slogmulti "github.com/samber/slog-multi"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/server"
	"github.com/networkteam/uiharness/store"
	"github.com/networkteam/uiharness/transcript"
)

// Body is the test body run inside a session. Returning an error fails the test.
type Body func(s *Session) error

// Result describes a finished session.
type Result struct {
	Name      string
	SessionID string
	Outcome   Outcome
	// Err is the cause of a failed session, nil if it passed.
	Err error
	// Failures are the failed assertions made against the session.
	Failures []*AssertionFailure
	// Bundle is set iff the outcome is OutcomeFailed or OutcomeInfrastructureError.
	Bundle   *artifact.Bundle
	Started  time.Time
	Duration time.Duration
}

// Passed reports whether the session passed.
func (r *Result) Passed() bool {
	return r != nil && r.Outcome == OutcomePassed
}

// Harness runs test sessions. It is safe for concurrent use, sessions are serialized by
// the coordinator.
type Harness struct {
	options   Options
	artifacts *artifact.Collector
	filter    *regexp.Regexp
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a harness.
func New(options Options) (*Harness, error) {
	options = options.withDefaults()
	if options.Server == nil {
		return nil, errors.New("uiharness: no server provisioner configured")
	}
	if options.Browser == nil {
		return nil, errors.New("uiharness: no browser manager configured")
	}

	h := &Harness{options: options}

	if options.Filter != "" {
		filter, err := regexp.Compile(options.Filter)
		if err != nil {
			return nil, fmt.Errorf("uiharness: invalid filter: %w", err)
		}
		h.filter = filter
	}

	h.logger = slog.New(slogmulti.Fanout(
		options.Logger.Handler(),
		transcript.NewSlogHandler(options.Recorder, transcript.SlogHandlerOptions{
			Level:  slog.LevelDebug,
			Source: transcript.SourceHarness,
		}),
	))

	h.artifacts = options.Artifacts
	if h.artifacts == nil {
		h.artifacts = artifact.NewCollector(artifact.Options{
			Dir:    options.ArtifactDir,
			Logger: h.logger,
		})
	}

	return h, nil
}

// Recorder returns the switch the transcript of the active session is attached to.
func (h *Harness) Recorder() *transcript.Switch {
	return h.options.Recorder
}

// Logger returns the harness logger.
func (h *Harness) Logger() *slog.Logger {
	return h.logger
}

// Close shuts the browser manager down if it supports it.
func (h *Harness) Close() error {
	h.closeOnce.Do(func() {
		if s, ok := h.options.Browser.(interface{ Shutdown() error }); ok {
			h.closeErr = s.Shutdown()
		}
	})
	return h.closeErr
}

// Run runs body in a new session named name. It blocks until no other session is active.
// Run never panics because of the body, everything is reported on the result.
func (h *Harness) Run(ctx context.Context, name string, body Body) *Result {
	started := time.Now()

	lease, err := h.options.Coordinator.Acquire(ctx, name)
	if err != nil {
		return h.unscheduled(ctx, name, started, err)
	}
	defer lease.Release()

	sessionCtx, cancel := context.WithTimeout(ctx, h.options.Timeout)
	defer cancel()

	s := newSession(sessionCtx, h, name)
	result := &Result{Name: name, SessionID: s.ID(), Started: started}

	h.options.Recorder.Attach(s.transcript)
	defer h.options.Recorder.Detach()

	// Runs before the lease is released, on every path
	defer func() {
		h.teardown(ctx, s)
		result.Duration = time.Since(started)
		h.logResult(s, result)
	}()

	s.transition(StateProvisioning)
	if err := h.provisionWithin(ctx, s); err != nil {
		s.logger.Error("Provisioning failed", slog.Any("error", err))
		h.fail(ctx, s, result, OutcomeInfrastructureError, err)
		return result
	}
	s.transition(StateReady)

	s.transition(StateRunning)
	outcome, cause := h.runBody(s, body)
	result.Failures = s.Failures()
	if outcome == OutcomePassed {
		s.finish(OutcomePassed)
		result.Outcome = OutcomePassed
		return result
	}
	h.fail(ctx, s, result, outcome, cause)
	return result
}

// UITest runs body as the test t. Failures are reported to t. The test is skipped if its
// fully qualified name does not match Options.Filter.
func (h *Harness) UITest(t testing.TB, body Body) *Result {
	t.Helper()

	if h.filter != nil {
		qualified := callerPackage(1) + "." + t.Name()
		if !h.filter.MatchString(qualified) {
			t.Skipf("%s does not match filter %q", qualified, h.filter)
			return nil
		}
	}

	result := h.Run(context.Background(), t.Name(), body)
	switch result.Outcome {
	case OutcomePassed:
	case OutcomeFailed:
		t.Errorf("UI test failed: %v%s", result.Err, bundleNote(result.Bundle))
	default:
		t.Errorf("UI test infrastructure error: %v%s", result.Err, bundleNote(result.Bundle))
	}
	return result
}

func bundleNote(b *artifact.Bundle) string {
	if b == nil || b.Dir == "" {
		return ""
	}
	return "\nartifacts: " + b.Dir
}

// callerPackage returns the import path of the package of the calling function.
func callerPackage(skip int) string {
	pc, _, _, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return ""
	}
	name := fn.Name()
	slash := strings.LastIndex(name, "/")
	if dot := strings.Index(name[slash+1:], "."); dot >= 0 {
		name = name[:slash+1+dot]
	}
	return strings.TrimSuffix(name, "_test")
}

// provisioning collects the handles of a provisioning attempt. Once abandoned, handles
// arriving later are released by the provisioning goroutine itself.
type provisioning struct {
	mu        sync.Mutex
	abandoned bool
	server    *server.Handle
	token     *store.ResetToken
	browser   browser.Handle
}

func (p *provisioning) keepServer(h *server.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return false
	}
	p.server = h
	return true
}

func (p *provisioning) keepBrowser(h browser.Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abandoned {
		return false
	}
	p.browser = h
	return true
}

func (p *provisioning) keepToken(t *store.ResetToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = t
}

// abandon stops accepting handles and moves the ones collected so far to s.
func (p *provisioning) abandon(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = true
	s.server, s.browser, s.token = p.server, p.browser, p.token
}

// provisionWithin provisions s, bounded by the session context. Collaborators that do
// not honor the context are left behind: the session fails with a TimeoutError and the
// handles they return later are released as soon as they arrive.
func (h *Harness) provisionWithin(ctx context.Context, s *Session) error {
	p := &provisioning{}
	done := make(chan error, 1)
	go func() {
		done <- h.provision(ctx, s, p)
	}()

	select {
	case err := <-done:
		p.abandon(s)
		return h.provisioningErr(s, err)
	case <-s.ctx.Done():
		select {
		case err := <-done:
			p.abandon(s)
			return h.provisioningErr(s, err)
		default:
		}
		p.abandon(s)
		return h.provisioningErr(s, s.ctx.Err())
	}
}

// provisioningErr reports a provisioning step that ran into the session deadline as a
// TimeoutError.
func (h *Harness) provisioningErr(s *Session, err error) error {
	if err == nil || !errors.Is(err, context.DeadlineExceeded) || s.ctx.Err() == nil {
		return err
	}
	return &TimeoutError{Name: s.name, Timeout: h.options.Timeout, State: StateProvisioning, Err: err}
}

func (h *Harness) provision(ctx context.Context, s *Session, p *provisioning) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	handle, err := h.options.Server.Start(s.ctx)
	// A handle is returned with some errors (e.g. readiness timeout) and must be stopped
	if handle != nil && !p.keepServer(handle) {
		h.releaseLate(ctx, s, func(ctx context.Context) error { return h.options.Server.Stop(ctx, handle) })
		return errAbandoned
	}
	if err != nil {
		return err
	}

	if h.options.Store != nil {
		token, err := h.options.Store.Reset(s.ctx)
		if err != nil {
			return err
		}
		p.keepToken(token)
	}

	bh, err := h.options.Browser.Open(s.ctx, handle.URL)
	if bh != nil && !p.keepBrowser(bh) {
		h.releaseLate(ctx, s, func(ctx context.Context) error { return h.options.Browser.Close(ctx, bh) })
		return errAbandoned
	}
	if err != nil {
		return err
	}

	return nil
}

var errAbandoned = errors.New("provisioning abandoned")

// releaseLate stops or closes a handle that arrived after its session gave up waiting.
func (h *Harness) releaseLate(ctx context.Context, s *Session, release func(ctx context.Context) error) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.options.TeardownTimeout)
	defer cancel()
	if err := safely(func() error { return release(transcript.NewContext(releaseCtx, s.transcript)) }); err != nil {
		s.logger.Warn("Releasing late handle failed", slog.Any("error", err))
		return
	}
	s.logger.Info("Released handle that arrived after the session timed out")
}

func (h *Harness) runBody(s *Session, body Body) (Outcome, error) {
	done := make(chan error, 1)
	go func() {
		returned := false
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			} else if !returned {
				err = errGoexit
			}
			done <- err
		}()
		err = body(s)
		returned = true
	}()

	select {
	case err := <-done:
		return classify(s, err)
	case <-s.ctx.Done():
		// Prefer a result that raced with the timeout
		select {
		case err := <-done:
			return classify(s, err)
		default:
		}
		s.abandon()
		err := s.ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{Name: s.name, Timeout: h.options.Timeout, State: StateRunning, Err: err}
		}
		return OutcomeInfrastructureError, err
	}
}

func classify(s *Session, err error) (Outcome, error) {
	if failure := s.firstFailure(); failure != nil {
		return OutcomeFailed, failure
	}
	if err == nil && s.Failed() {
		return OutcomeFailed, errors.New("test marked as failed")
	}
	if err == nil {
		return OutcomePassed, nil
	}

	var panicErr *PanicError
	if errors.Is(err, errGoexit) || errors.As(err, &panicErr) {
		return OutcomeFailed, err
	}
	if _, ok := err.(interface{ StackTrace() pkgerrors.StackTrace }); !ok {
		err = pkgerrors.WithStack(err)
	}
	return OutcomeFailed, err
}

func (h *Harness) fail(ctx context.Context, s *Session, result *Result, outcome Outcome, cause error) {
	s.finish(outcome)
	result.Outcome = outcome
	result.Err = cause

	s.transition(StateCollecting)

	collectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.options.TeardownTimeout)
	defer cancel()

	var diagnostics browser.Diagnostics
	if s.browser != nil {
		diagnostics = s.browser
	}
	result.Bundle = h.artifacts.Capture(collectCtx, artifact.Target{
		Name:       s.name,
		SessionID:  s.ID(),
		Outcome:    outcome.String(),
		Transcript: s.transcript,
	}, diagnostics, cause)
}

func (h *Harness) teardown(ctx context.Context, s *Session) {
	s.transition(StateTearingDown)

	teardownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.options.TeardownTimeout)
	defer cancel()
	teardownCtx = transcript.NewContext(teardownCtx, s.transcript)

	if s.browser != nil {
		if err := safely(func() error { return h.options.Browser.Close(teardownCtx, s.browser) }); err != nil {
			s.logger.Warn("Closing browser session failed", slog.Any("error", err))
		}
	}
	if s.server != nil {
		if err := safely(func() error { return h.options.Server.Stop(teardownCtx, s.server) }); err != nil {
			s.logger.Warn("Stopping server failed", slog.Any("error", err))
		}
	}

	s.transition(StateIdle)
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// unscheduled reports a session that never got exclusive access.
func (h *Harness) unscheduled(ctx context.Context, name string, started time.Time, err error) *Result {
	h.logger.Error("Could not start session", slog.String("test", name), slog.Any("error", err))

	result := &Result{
		Name:     name,
		Outcome:  OutcomeInfrastructureError,
		Err:      err,
		Started:  started,
		Duration: time.Since(started),
	}
	collectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.options.TeardownTimeout)
	defer cancel()
	result.Bundle = h.artifacts.Capture(collectCtx, artifact.Target{
		Name:    name,
		Outcome: OutcomeInfrastructureError.String(),
	}, nil, err)
	return result
}

func (h *Harness) logResult(s *Session, result *Result) {
	attrs := []any{
		slog.String("outcome", result.Outcome.String()),
		slog.Duration("duration", result.Duration),
	}
	if result.Bundle != nil {
		attrs = append(attrs, slog.String("artifacts", result.Bundle.Dir))
	}
	if result.Passed() {
		s.logger.Info("Test passed", attrs...)
		return
	}
	s.logger.Error("Test did not pass", append(attrs, slog.Any("error", result.Err))...)
}
