// Package artifact writes failure bundles: a screenshot, the console transcript, a DOM
// snapshot and the failure stack trace of a test session, stored under
// <dir>/<test name>/<UTC timestamp>/.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/transcript"
)

// Items of a bundle in capture order.
const (
	ItemScreenshot = "screenshot.png"
	ItemConsole    = "console.log"
	ItemDOM        = "dom.html"
	ItemStackTrace = "stacktrace.txt"
)

// MissingSuffix is appended to the name of an item that could not be captured.
const MissingSuffix = ".missing"

// TimestampFormat names the bundle directory below the test directory.
const TimestampFormat = "20060102T150405.000Z"

// Items lists all bundle items in capture order.
var Items = []string{ItemScreenshot, ItemConsole, ItemDOM, ItemStackTrace}

// CaptureError tells which item of a bundle could not be captured.
type CaptureError struct {
	Item string
	Err  error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capturing %s: %v", e.Item, e.Err)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Target describes the failed session.
type Target struct {
	// Name is the test name.
	Name string
	// SessionID is written into the stack trace header.
	SessionID string
	// Outcome is written into the stack trace header, e.g. "failed".
	Outcome string
	// Transcript of the session, preferred over the console of the browser handle.
	Transcript *transcript.Transcript
}

// Bundle is the result of a capture.
type Bundle struct {
	// Dir is the bundle directory, empty if it could not be created.
	Dir       string
	Name      string
	Timestamp time.Time
	// Items are the names of successfully written items.
	Items []string
	// Missing maps the name of every item that could not be captured to its error.
	Missing map[string]*CaptureError
}

// Complete reports whether every item was captured.
func (b *Bundle) Complete() bool {
	return len(b.Missing) == 0
}

// Errors returns the capture errors in capture order.
func (b *Bundle) Errors() []*CaptureError {
	var errs []*CaptureError
	for _, item := range Items {
		if err, ok := b.Missing[item]; ok {
			errs = append(errs, err)
		}
	}
	return errs
}

// Options configures a Collector.
type Options struct {
	// Dir is the root directory for bundles. Default: "uiharness-artifacts"
	Dir string
	// ItemTimeout bounds the capture of a single item. Default: 10s
	ItemTimeout time.Duration
	Logger      *slog.Logger
	// Clock returns the capture time. Default: time.Now
	Clock func() time.Time
}

// DefaultDir is used if Options.Dir is empty.
const DefaultDir = "uiharness-artifacts"

// Collector captures bundles.
type Collector struct {
	options Options
}

// NewCollector creates a collector.
func NewCollector(options Options) *Collector {
	if options.Dir == "" {
		options.Dir = DefaultDir
	}
	if options.ItemTimeout <= 0 {
		options.ItemTimeout = 10 * time.Second
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Collector{options: options}
}

// Dir returns the root directory for bundles.
func (c *Collector) Dir() string {
	return c.options.Dir
}

// Capture writes a bundle for target. Every item is captured independently: a failing or
// panicking step is recorded as missing and the remaining steps still run. The handle may
// be nil if no browser session was opened. Capture never fails, problems are reported on
// the returned bundle.
func (c *Collector) Capture(ctx context.Context, target Target, handle browser.Diagnostics, cause error) *Bundle {
	now := c.options.Clock().UTC()
	bundle := &Bundle{
		Name:      target.Name,
		Timestamp: now,
		Missing:   make(map[string]*CaptureError),
	}

	dir, err := c.createDir(target.Name, now)
	if err != nil {
		for _, item := range Items {
			bundle.Missing[item] = &CaptureError{Item: item, Err: err}
		}
		c.options.Logger.ErrorContext(ctx, "Could not create artifact directory", slog.String("test", target.Name), slog.Any("error", err))
		return bundle
	}
	bundle.Dir = dir

	steps := []struct {
		item    string
		capture func(ctx context.Context, w io.Writer) error
	}{
		{ItemScreenshot, func(ctx context.Context, w io.Writer) error {
			if handle == nil {
				return errNoSession
			}
			png, err := handle.Screenshot(ctx)
			if err != nil {
				return err
			}
			_, err = w.Write(png)
			return err
		}},
		{ItemConsole, func(ctx context.Context, w io.Writer) error {
			return writeConsole(w, target.Transcript, handle)
		}},
		{ItemDOM, func(ctx context.Context, w io.Writer) error {
			if handle == nil {
				return errNoSession
			}
			dom, err := handle.DOM(ctx)
			if err != nil {
				return err
			}
			_, err = io.WriteString(w, dom)
			return err
		}},
		{ItemStackTrace, func(ctx context.Context, w io.Writer) error {
			return writeStackTrace(w, target, cause)
		}},
	}

	for _, step := range steps {
		if err := c.captureItem(ctx, dir, step.item, step.capture); err != nil {
			captureErr := &CaptureError{Item: step.item, Err: err}
			bundle.Missing[step.item] = captureErr
			c.options.Logger.WarnContext(ctx, "Could not capture artifact", slog.String("test", target.Name), slog.String("item", step.item), slog.Any("error", err))
			c.writeMissing(dir, captureErr)
			continue
		}
		bundle.Items = append(bundle.Items, step.item)
	}

	c.options.Logger.InfoContext(ctx, "Wrote failure artifacts", slog.String("test", target.Name), slog.String("dir", dir), slog.Int("missing", len(bundle.Missing)))

	return bundle
}

var errNoSession = errors.New("no browser session")

// captureItem writes one item within ItemTimeout. A capture that does not return in time
// is left behind and its partial file is removed.
func (c *Collector) captureItem(ctx context.Context, dir, item string, capture func(ctx context.Context, w io.Writer) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.options.ItemTimeout)
	defer cancel()

	path := filepath.Join(dir, item)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	var abandoned atomic.Bool
	done := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			closeErr := f.Close()
			if err == nil {
				err = closeErr
			}
			if err != nil || abandoned.Load() {
				_ = os.Remove(path)
			}
			done <- err
		}()
		err = capture(ctx, f)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		select {
		case err := <-done:
			return err
		default:
		}
		abandoned.Store(true)
		_ = os.Remove(path)
		return fmt.Errorf("capture did not finish: %w", ctx.Err())
	}
}

func (c *Collector) writeMissing(dir string, captureErr *CaptureError) {
	path := filepath.Join(dir, captureErr.Item+MissingSuffix)
	if err := os.WriteFile(path, []byte(captureErr.Err.Error()+"\n"), 0o644); err != nil {
		c.options.Logger.Error("Could not write missing artifact marker", slog.String("path", path), slog.Any("error", err))
	}
}

// createDir creates a new bundle directory. A directory is never reused: on collision a
// numeric suffix is added.
func (c *Collector) createDir(name string, ts time.Time) (string, error) {
	parent := filepath.Join(c.options.Dir, SanitizeName(name))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	base := ts.Format(TimestampFormat)
	for i := 1; i < 100; i++ {
		dir := filepath.Join(parent, base)
		if i > 1 {
			dir = fmt.Sprintf("%s-%d", dir, i)
		}
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("creating artifact directory: %w", err)
		}
	}
	return "", fmt.Errorf("creating artifact directory: too many bundles for %s at %s", name, base)
}

func writeConsole(w io.Writer, tr *transcript.Transcript, handle browser.Diagnostics) error {
	if tr != nil {
		_, err := tr.WriteTo(w)
		return err
	}
	if handle == nil {
		return errors.New("no transcript and no browser session")
	}
	for _, e := range handle.Console() {
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			return err
		}
	}
	return nil
}

func writeStackTrace(w io.Writer, target Target, cause error) error {
	if cause == nil {
		return errors.New("no failure cause recorded")
	}
	if _, err := fmt.Fprintf(w, "test: %s\n", target.Name); err != nil {
		return err
	}
	if target.SessionID != "" {
		fmt.Fprintf(w, "session: %s\n", target.SessionID)
	}
	if target.Outcome != "" {
		fmt.Fprintf(w, "outcome: %s\n", target.Outcome)
	}
	// %+v prints the stack of errors created with github.com/pkg/errors.
	_, err := fmt.Fprintf(w, "\n%+v\n", cause)
	return err
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName turns a test name into a directory name. Names that had to be altered get
// a short hash of the original name appended, so different tests never share a directory,
// e.g. "TestThings/create new" becomes "TestThings_create_new-" followed by 8 hex digits.
func SanitizeName(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = strings.Trim(s, "._")
	if s == name && len(s) <= maxNameLen {
		return s
	}
	if s == "" {
		return "unnamed"
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "-" + hex.EncodeToString(sum[:4])
	if len(s) > maxNameLen-len(suffix) {
		s = s[:maxNameLen-len(suffix)]
	}
	return s + suffix
}

const maxNameLen = 120
