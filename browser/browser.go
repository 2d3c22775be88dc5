// Package browser opens and closes browser automation sessions pointed at the
// application under test.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/networkteam/uiharness/transcript"
)

// ErrTimeout is wrapped by every error caused by an exceeded wait.
var ErrTimeout = errors.New("timeout")

// Manager opens and closes automation sessions.
type Manager interface {
	// Open starts a session whose relative navigation resolves against serverURL.
	Open(ctx context.Context, serverURL string) (Handle, error)
	// Close ends the session. It must tolerate dead sessions and never panic.
	Close(ctx context.Context, h Handle) error
}

// Handle is an open automation session.
type Handle interface {
	Driver
	Diagnostics

	// ID identifies the session in logs.
	ID() string
	// BaseURL is the server URL the session was opened for.
	BaseURL() string
}

// Driver holds the primitive, non-waiting page operations page objects are built on.
// Only Navigate waits (for the page load, bounded by the navigation timeout).
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// URL returns the URL of the current page.
	URL() string
	// Count returns how many elements currently match selector.
	Count(ctx context.Context, selector string) (int, error)
	// Text returns the text content of the first element matching selector.
	Text(ctx context.Context, selector string) (string, error)
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector string, value string) error
}

// Diagnostics are gathered by the artifact collector on failure.
type Diagnostics interface {
	// Screenshot returns a PNG image of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// DOM returns the serialized HTML of the current page.
	DOM(ctx context.Context) (string, error)
	// Console returns the console messages and page errors since the session was opened.
	Console() []transcript.Entry
}

// SessionError is returned when a session could not be opened.
type SessionError struct {
	Endpoint string
	Op       string
	Err      error
}

func (e *SessionError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("browser session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("browser session at %s: %s: %v", e.Endpoint, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ElementNotFoundError is returned when an element did not appear within the lookup timeout.
type ElementNotFoundError struct {
	Selector string
	Timeout  time.Duration
	// Err is the last error seen while polling, if any.
	Err error
}

func (e *ElementNotFoundError) Error() string {
	msg := fmt.Sprintf("element %q not found within %s", e.Selector, e.Timeout)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ElementNotFoundError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTimeout, e.Err}
	}
	return []error{ErrTimeout}
}

// NavigationError is returned when a page could not be loaded.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigating to %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}
