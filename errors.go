package uiharness

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// AssertionFailure is recorded for every failed assertion made against a Session.
type AssertionFailure struct {
	Message string

	// err carries the stack of the failed assertion
	err error
}

func newAssertionFailure(message string) *AssertionFailure {
	return &AssertionFailure{
		Message: message,
		err:     errors.New(message),
	}
}

func (e *AssertionFailure) Error() string {
	return "assertion failed: " + strings.TrimSpace(e.Message)
}

// StackTrace returns the stack of the failed assertion.
func (e *AssertionFailure) StackTrace() errors.StackTrace {
	if st, ok := e.err.(interface{ StackTrace() errors.StackTrace }); ok {
		return st.StackTrace()
	}
	return nil
}

// Format prints the stack trace with %+v.
func (e *AssertionFailure) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			_, _ = fmt.Fprintf(s, "%+v", e.StackTrace())
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// PanicError is the cause of a session whose body or provisioning panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Format prints the goroutine stack with %+v.
func (e *PanicError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "%s\n\n%s", e.Error(), e.Stack)
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// TimeoutError is the cause of a session that exceeded the per-test timeout.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
	// State is the lifecycle state the session was in when the timeout expired.
	State State
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test %s exceeded timeout of %s while %s", e.Name, e.Timeout, e.State)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// errGoexit is the cause of a body that called runtime.Goexit without a failed assertion.
var errGoexit = errors.New("test body exited without returning")
