// Package browsertest provides an in-memory browser.Manager for tests of code built on
// browser sessions.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/transcript"
)

// Element is a fake element. It becomes visible once After has elapsed since the page
// was loaded.
type Element struct {
	Text  string
	After time.Duration
	// Href makes a click navigate to this path.
	Href string
}

// Page is the fake content served for a path.
type Page struct {
	Elements map[string]Element
	HTML     string
	// Console messages emitted when the page is loaded.
	Console []string
}

// Manager is a fake browser.Manager serving Pages by path.
// The zero value opens sessions with no pages.
type Manager struct {
	Pages map[string]Page

	// OpenErr is returned by Open.
	OpenErr error
	// OpenBlock makes Open wait until it is closed, regardless of the context.
	OpenBlock <-chan struct{}
	// OpenPanic makes Open panic with this value.
	OpenPanic any
	// CloseErr is returned by Close.
	CloseErr error
	// ScreenshotErr makes screenshots fail, ScreenshotPanic makes them panic.
	ScreenshotErr   error
	ScreenshotPanic any
	// DOMErr makes DOM serialization fail.
	DOMErr error

	opened atomic.Int32
	closed atomic.Int32

	mu       sync.Mutex
	sessions []*Session
}

var _ browser.Manager = &Manager{}

// Open implements browser.Manager.
func (m *Manager) Open(ctx context.Context, serverURL string) (browser.Handle, error) {
	if m.OpenBlock != nil {
		<-m.OpenBlock
	}
	if m.OpenPanic != nil {
		panic(m.OpenPanic)
	}
	if m.OpenErr != nil {
		return nil, &browser.SessionError{Endpoint: "fake", Op: "connect", Err: m.OpenErr}
	}
	id := m.opened.Add(1)

	var recorder transcript.Recorder = transcript.Discard
	if tr, ok := transcript.FromContext(ctx); ok {
		recorder = tr
	}

	s := &Session{
		manager:  m,
		id:       fmt.Sprintf("fake-%d", id),
		baseURL:  strings.TrimRight(serverURL, "/"),
		console:  transcript.New(0),
		recorder: recorder,
	}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Close implements browser.Manager.
func (m *Manager) Close(ctx context.Context, h browser.Handle) error {
	if s, ok := h.(*Session); ok && s != nil {
		s.closeCount.Add(1)
	}
	m.closed.Add(1)
	return m.CloseErr
}

// Opened returns how many sessions were opened.
func (m *Manager) Opened() int { return int(m.opened.Load()) }

// Closed returns how many times Close was called.
func (m *Manager) Closed() int { return int(m.closed.Load()) }

// Sessions returns all opened sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// Session is a fake browser.Handle.
type Session struct {
	manager  *Manager
	id       string
	baseURL  string
	console  *transcript.Transcript
	recorder transcript.Recorder

	closeCount atomic.Int32

	mu       sync.Mutex
	url      string
	page     *Page
	loadedAt time.Time
	values   map[string]string
}

var _ browser.Handle = &Session{}

// CloseCount returns how many times the session was closed.
func (s *Session) CloseCount() int { return int(s.closeCount.Load()) }

// Value returns what was filled into selector.
func (s *Session) Value(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[selector]
}

func (s *Session) ID() string      { return s.id }
func (s *Session) BaseURL() string { return s.baseURL }

func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return &browser.NavigationError{URL: url, Err: err}
	}
	path := strings.TrimPrefix(url, s.baseURL)
	if path == "" {
		path = "/"
	}
	page, ok := s.manager.Pages[path]
	if !ok {
		page = Page{HTML: "<html><body>404 page not found</body></html>"}
	}

	s.mu.Lock()
	s.url = url
	s.page = &page
	s.loadedAt = time.Now()
	s.values = map[string]string{}
	s.mu.Unlock()

	for _, msg := range page.Console {
		entry := transcript.Entry{Time: time.Now(), Source: transcript.SourceConsole, Level: "log", Text: msg}
		s.console.Record(entry)
		s.recorder.Record(entry)
	}
	return nil
}

func (s *Session) visible(selector string) (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return Element{}, false
	}
	el, ok := s.page.Elements[selector]
	if !ok || time.Since(s.loadedAt) < el.After {
		return Element{}, false
	}
	return el, true
}

func (s *Session) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, ok := s.visible(selector); ok {
		return 1, nil
	}
	return 0, nil
}

func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	el, ok := s.visible(selector)
	if !ok {
		return "", fmt.Errorf("%w: no element %q", browser.ErrTimeout, selector)
	}
	return el.Text, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	el, ok := s.visible(selector)
	if !ok {
		return fmt.Errorf("%w: no element %q", browser.ErrTimeout, selector)
	}
	if el.Href != "" {
		return s.Navigate(ctx, s.baseURL+el.Href)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector string, value string) error {
	if _, ok := s.visible(selector); !ok {
		return fmt.Errorf("%w: no element %q", browser.ErrTimeout, selector)
	}
	s.mu.Lock()
	s.values[selector] = value
	s.mu.Unlock()
	return nil
}

// PNGSignature starts every fake screenshot.
var PNGSignature = []byte("\x89PNG\r\n\x1a\n")

func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if s.manager.ScreenshotPanic != nil {
		panic(s.manager.ScreenshotPanic)
	}
	if s.manager.ScreenshotErr != nil {
		return nil, s.manager.ScreenshotErr
	}
	return append(append([]byte(nil), PNGSignature...), []byte(s.URL())...), nil
}

func (s *Session) DOM(ctx context.Context) (string, error) {
	if s.manager.DOMErr != nil {
		return "", s.manager.DOMErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return "", errors.New("no page loaded")
	}
	return s.page.HTML, nil
}

func (s *Session) Console() []transcript.Entry {
	return s.console.Entries()
}
