package uiharness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/page"
	"github.com/networkteam/uiharness/server"
	"github.com/networkteam/uiharness/store"
	"github.com/networkteam/uiharness/transcript"
)

// Session is the state of a single test run. It is passed to the test body and can be
// used directly with testify:
//
//	h.UITest(t, func(s *uiharness.Session) error {
//		p := s.Page()
//		require.NoError(s, p.Navigate(s.Context(), "/my-new-page"))
//		...
//	})
//
// FailNow (and so every require assertion) stops the body immediately. Like
// testing.T.FailNow it must be called from the goroutine running the body.
type Session struct {
	id      uuid.UUID
	name    string
	started time.Time
	ctx     context.Context
	logger  *slog.Logger
	harness *Harness

	transcript *transcript.Transcript

	// Set during provisioning, read-only afterwards
	server  *server.Handle
	browser browser.Handle
	token   *store.ResetToken

	mu       sync.Mutex
	state    State
	outcome  Outcome
	failed   bool
	failures []*AssertionFailure
	// abandoned is set when the body outlived the session timeout
	abandoned bool
}

func newSession(ctx context.Context, h *Harness, name string) *Session {
	s := &Session{
		id:         uuid.Must(uuid.NewV7()),
		name:       name,
		started:    time.Now(),
		harness:    h,
		transcript: transcript.New(h.options.TranscriptCapacity),
		state:      StateIdle,
		outcome:    OutcomePending,
	}
	s.ctx = transcript.NewContext(ctx, s.transcript)
	s.logger = h.logger.With(slog.String("test", name), slog.String("session", s.id.String()))
	return s
}

// ID returns the unique session ID.
func (s *Session) ID() string { return s.id.String() }

// Name returns the test name.
func (s *Session) Name() string { return s.name }

// Started returns when the session started.
func (s *Session) Started() time.Time { return s.started }

// Context is canceled when the session times out.
func (s *Session) Context() context.Context { return s.ctx }

// Logger returns a logger writing to the harness log and the session transcript.
func (s *Session) Logger() *slog.Logger { return s.logger }

// Transcript returns the session transcript.
func (s *Session) Transcript() *transcript.Transcript { return s.transcript }

// Server returns the handle of the application under test.
func (s *Session) Server() *server.Handle { return s.server }

// Browser returns the browser session.
func (s *Session) Browser() browser.Handle { return s.browser }

// Page returns the navigation and element lookup capability for the browser session.
// Page objects embed it.
func (s *Session) Page() page.Base {
	return page.New(s.browser, s.harness.options.PageOptions)
}

// ResetToken returns the token of the store reset of this session, nil without store.
func (s *Session) ResetToken() *store.ResetToken { return s.token }

// Seeder returns the seeding capability of the store, nil without store.
func (s *Session) Seeder() *store.Seeder {
	if s.harness.options.Store == nil {
		return nil
	}
	return s.harness.options.Store.Seeder(s.token)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outcome returns the outcome, OutcomePending while the session runs.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Failures returns the failed assertions.
func (s *Session) Failures() []*AssertionFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AssertionFailure(nil), s.failures...)
}

// Errorf records a failed assertion. It implements assert.TestingT.
func (s *Session) Errorf(format string, args ...any) {
	failure := newAssertionFailure(fmt.Sprintf(format, args...))

	s.mu.Lock()
	abandoned := s.abandoned
	if !abandoned {
		s.failed = true
		s.failures = append(s.failures, failure)
	}
	s.mu.Unlock()

	if abandoned {
		return
	}
	s.logger.Error("Assertion failed", slog.String("message", failure.Message))
}

// FailNow marks the session failed and stops the body. It implements require.TestingT.
func (s *Session) FailNow() {
	s.Fail()
	runtime.Goexit()
}

// Fail marks the session failed and continues.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.abandoned {
		s.failed = true
	}
}

// Failed reports whether an assertion failed.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Fatalf is Errorf followed by FailNow.
func (s *Session) Fatalf(format string, args ...any) {
	s.Errorf(format, args...)
	s.FailNow()
}

// Logf writes to the session log.
func (s *Session) Logf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// Helper is a no-op to satisfy the helper interface testify checks for.
func (s *Session) Helper() {}

func (s *Session) transition(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	s.logger.Debug("Session state changed", slog.String("from", from.String()), slog.String("to", to.String()))

	if fn := s.harness.options.OnTransition; fn != nil {
		fn(Transition{
			SessionID: s.ID(),
			Name:      s.name,
			From:      from,
			To:        to,
			At:        time.Now(),
		})
	}
}

func (s *Session) finish(outcome Outcome) {
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
	s.transition(outcome.state())
}

// abandon makes late assertions of a timed out body no-ops.
func (s *Session) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
}

func (s *Session) firstFailure() *AssertionFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.failures) == 0 {
		return nil
	}
	return s.failures[0]
}
