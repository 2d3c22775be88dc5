// Package page provides the shared navigation and element lookup capability page objects
// are built from. A page object embeds Base and adds page specific queries:
//
//	type LoginPage struct{ page.Base }
//
//	func (p LoginPage) SignIn(ctx context.Context, user, password string) error {
//		if err := p.Fill(ctx, "#user", user); err != nil {
//			return err
//		}
//		...
//	}
package page

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/networkteam/uiharness/browser"
)

// Options configure element lookup.
type Options struct {
	// Timeout bounds waiting for an element. Default: 5s
	Timeout time.Duration
	// PollInterval is the first delay between lookups, it grows up to MaxPollInterval.
	// Default: 20ms
	PollInterval time.Duration
	// MaxPollInterval caps the delay between lookups. Default: 250ms
	MaxPollInterval time.Duration
}

// DefaultOptions returns the default lookup options.
func DefaultOptions() Options {
	return Options{
		Timeout:         5 * time.Second,
		PollInterval:    20 * time.Millisecond,
		MaxPollInterval: 250 * time.Millisecond,
	}
}

// Base implements navigation relative to the server address and element lookup with
// bounded waiting against a browser session.
type Base struct {
	driver  browser.Driver
	baseURL string
	options Options
}

// New creates a Base for the session h.
func New(h browser.Handle, options Options) Base {
	return NewWithDriver(h, h.BaseURL(), options)
}

// NewWithDriver creates a Base on a plain driver, resolving paths against baseURL.
func NewWithDriver(driver browser.Driver, baseURL string, options Options) Base {
	d := DefaultOptions()
	if options.Timeout <= 0 {
		options.Timeout = d.Timeout
	}
	if options.PollInterval <= 0 {
		options.PollInterval = d.PollInterval
	}
	if options.MaxPollInterval <= 0 {
		options.MaxPollInterval = d.MaxPollInterval
	}
	return Base{
		driver:  driver,
		baseURL: strings.TrimRight(baseURL, "/"),
		options: options,
	}
}

// WithTimeout returns a copy using a different lookup timeout.
func (b Base) WithTimeout(timeout time.Duration) Base {
	b.options.Timeout = timeout
	return b
}

// URL resolves path against the server address.
func (b Base) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return b.baseURL + path
}

// Navigate loads path relative to the server address.
func (b Base) Navigate(ctx context.Context, path string) error {
	return b.driver.Navigate(ctx, b.URL(path))
}

// CurrentURL returns the URL of the current page.
func (b Base) CurrentURL() string {
	return b.driver.URL()
}

// WaitFor polls until at least one element matches selector. It fails with a
// *browser.ElementNotFoundError after the lookup timeout.
func (b Base) WaitFor(ctx context.Context, selector string) error {
	return b.poll(ctx, selector, func(ctx context.Context) error {
		count, err := b.driver.Count(ctx, selector)
		if err != nil {
			return err
		}
		if count == 0 {
			return errNotPresent
		}
		return nil
	})
}

// WaitForGone polls until no element matches selector.
func (b Base) WaitForGone(ctx context.Context, selector string) error {
	return b.poll(ctx, selector, func(ctx context.Context) error {
		count, err := b.driver.Count(ctx, selector)
		if err != nil {
			return err
		}
		if count > 0 {
			return errStillPresent
		}
		return nil
	})
}

// Exists reports whether an element matches selector right now, without waiting.
func (b Base) Exists(ctx context.Context, selector string) (bool, error) {
	count, err := b.driver.Count(ctx, selector)
	return count > 0, err
}

// Count returns how many elements match selector right now, without waiting.
func (b Base) Count(ctx context.Context, selector string) (int, error) {
	return b.driver.Count(ctx, selector)
}

// Text waits for selector and returns the text content of the first match.
func (b Base) Text(ctx context.Context, selector string) (string, error) {
	if err := b.WaitFor(ctx, selector); err != nil {
		return "", err
	}
	text, err := b.driver.Text(ctx, selector)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// WaitForText polls until the first element matching selector has the expected text.
func (b Base) WaitForText(ctx context.Context, selector string, expected string) error {
	return b.poll(ctx, selector, func(ctx context.Context) error {
		text, err := b.driver.Text(ctx, selector)
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != expected {
			return errors.New("text is " + strings.TrimSpace(text))
		}
		return nil
	})
}

// Click waits for selector and clicks the first match.
func (b Base) Click(ctx context.Context, selector string) error {
	if err := b.WaitFor(ctx, selector); err != nil {
		return err
	}
	return b.driver.Click(ctx, selector)
}

// Fill waits for selector and fills the first match with value.
func (b Base) Fill(ctx context.Context, selector string, value string) error {
	if err := b.WaitFor(ctx, selector); err != nil {
		return err
	}
	return b.driver.Fill(ctx, selector, value)
}

var (
	errNotPresent   = errors.New("no matching element")
	errStillPresent = errors.New("element still present")
)

func (b Base) poll(ctx context.Context, selector string, check func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, b.options.Timeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.options.PollInterval
	policy.MaxInterval = b.options.MaxPollInterval
	policy.MaxElapsedTime = b.options.Timeout
	policy.RandomizationFactor = 0

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = check(ctx)
		return lastErr
	}, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}

	var cause error
	if lastErr != nil && !errors.Is(lastErr, errNotPresent) {
		cause = lastErr
	}
	return &browser.ElementNotFoundError{
		Selector: selector,
		Timeout:  b.options.Timeout,
		Err:      cause,
	}
}
