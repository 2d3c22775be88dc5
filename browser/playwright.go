package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/networkteam/uiharness/transcript"
)

// PlaywrightOptions configures a PlaywrightManager.
type PlaywrightOptions struct {
	// Endpoint is the websocket endpoint of a running Playwright browser server.
	Endpoint string
	// Launch starts a local browser if no Endpoint is set. Without Endpoint and Launch,
	// opening a session fails with a SessionError.
	Launch bool
	// Headless is used for launched browsers.
	Headless bool
	// Browser is one of "chromium", "firefox" or "webkit". Default: "chromium"
	Browser string
	// ConnectTimeout bounds connecting to or launching the browser. Default: 30s
	ConnectTimeout time.Duration
	// NavigationTimeout bounds a single navigation. Default: 15s
	NavigationTimeout time.Duration
	// ActionTimeout bounds a single click, fill or text read. Default: 5s
	ActionTimeout time.Duration
	// Logger for session events. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultPlaywrightOptions returns default options for a headless Chromium. A local
// browser is only launched if Launch is set, without Endpoint sessions fail to open.
func DefaultPlaywrightOptions() PlaywrightOptions {
	return PlaywrightOptions{
		Launch:            false,
		Headless:          true,
		Browser:           "chromium",
		ConnectTimeout:    30 * time.Second,
		NavigationTimeout: 15 * time.Second,
		ActionTimeout:     5 * time.Second,
	}
}

// PlaywrightManager opens sessions with Playwright. The browser is shared between
// sessions, every session gets its own browser context with isolated cookies and storage.
type PlaywrightManager struct {
	options PlaywrightOptions

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

var _ Manager = &PlaywrightManager{}

// NewPlaywrightManager creates a manager. The Playwright driver is started lazily on the
// first Open.
func NewPlaywrightManager(options PlaywrightOptions) *PlaywrightManager {
	defaults := DefaultPlaywrightOptions()
	if options.Browser == "" {
		options.Browser = defaults.Browser
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaults.ConnectTimeout
	}
	if options.NavigationTimeout <= 0 {
		options.NavigationTimeout = defaults.NavigationTimeout
	}
	if options.ActionTimeout <= 0 {
		options.ActionTimeout = defaults.ActionTimeout
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &PlaywrightManager{options: options}
}

// Open implements Manager.
func (m *PlaywrightManager) Open(ctx context.Context, serverURL string) (Handle, error) {
	browser, err := m.ensureBrowser()
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, &SessionError{Endpoint: m.options.Endpoint, Op: "open", Err: err}
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		BaseURL: playwright.String(serverURL),
	})
	if err != nil {
		return nil, &SessionError{Endpoint: m.options.Endpoint, Op: "new context", Err: err}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, &SessionError{Endpoint: m.options.Endpoint, Op: "new page", Err: err}
	}
	page.SetDefaultTimeout(float64(m.options.ActionTimeout.Milliseconds()))
	page.SetDefaultNavigationTimeout(float64(m.options.NavigationTimeout.Milliseconds()))

	var recorder transcript.Recorder = transcript.Discard
	if tr, ok := transcript.FromContext(ctx); ok {
		recorder = tr
	}

	s := &playwrightSession{
		id:      uuid.Must(uuid.NewV7()).String(),
		baseURL: strings.TrimRight(serverURL, "/"),
		context: bctx,
		page:    page,
		console: transcript.New(0),
		forward: recorder,
		options: m.options,
	}
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		s.record(transcript.Entry{Source: transcript.SourceConsole, Level: msg.Type(), Text: msg.Text()})
	})
	page.OnPageError(func(err error) {
		s.record(transcript.Entry{Source: transcript.SourcePageError, Level: "error", Text: err.Error()})
	})

	m.options.Logger.DebugContext(ctx, "Opened browser session", slog.String("session", s.id), slog.String("baseURL", serverURL))

	return s, nil
}

// Close implements Manager.
func (m *PlaywrightManager) Close(ctx context.Context, h Handle) (err error) {
	s, ok := h.(*playwrightSession)
	if !ok || s == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("closing browser session %s: panic: %v", s.id, r)
		}
	}()

	s.closeOnce.Do(func() {
		s.closeErr = s.context.Close()
	})
	if s.closeErr != nil && errors.Is(s.closeErr, playwright.ErrTargetClosed) {
		// Already gone, e.g. after a browser crash.
		return nil
	}
	return s.closeErr
}

// Shutdown closes the shared browser and stops the Playwright driver.
func (m *PlaywrightManager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.pw != nil {
		err = errors.Join(err, m.pw.Stop())
		m.pw = nil
	}
	return err
}

func (m *PlaywrightManager) ensureBrowser() (playwright.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil && m.browser.IsConnected() {
		return m.browser, nil
	}
	m.browser = nil

	if m.options.Endpoint == "" && !m.options.Launch {
		return nil, &SessionError{Op: "connect", Err: errors.New("no browser endpoint configured")}
	}

	if m.pw == nil {
		pw, err := playwright.Run(&playwright.RunOptions{
			SkipInstallBrowsers: m.options.Endpoint != "",
			Verbose:             false,
		})
		if err != nil {
			return nil, &SessionError{Endpoint: m.options.Endpoint, Op: "start playwright", Err: err}
		}
		m.pw = pw
	}

	browserType, err := m.browserType()
	if err != nil {
		return nil, &SessionError{Endpoint: m.options.Endpoint, Op: "connect", Err: err}
	}

	timeout := playwright.Float(float64(m.options.ConnectTimeout.Milliseconds()))
	var browser playwright.Browser
	if m.options.Endpoint != "" {
		browser, err = browserType.Connect(m.options.Endpoint, playwright.BrowserTypeConnectOptions{
			Timeout: timeout,
		})
	} else {
		browser, err = browserType.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(m.options.Headless),
			Timeout:  timeout,
		})
	}
	if err != nil {
		return nil, &SessionError{Endpoint: m.options.Endpoint, Op: "connect", Err: err}
	}
	m.browser = browser

	return browser, nil
}

func (m *PlaywrightManager) browserType() (playwright.BrowserType, error) {
	switch m.options.Browser {
	case "chromium":
		return m.pw.Chromium, nil
	case "firefox":
		return m.pw.Firefox, nil
	case "webkit":
		return m.pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unknown browser %q", m.options.Browser)
	}
}

type playwrightSession struct {
	id      string
	baseURL string
	context playwright.BrowserContext
	page    playwright.Page
	console *transcript.Transcript
	forward transcript.Recorder
	options PlaywrightOptions

	closeOnce sync.Once
	closeErr  error
}

func (s *playwrightSession) record(entry transcript.Entry) {
	entry.Time = time.Now()
	s.console.Record(entry)
	s.forward.Record(entry)
}

func (s *playwrightSession) ID() string      { return s.id }
func (s *playwrightSession) BaseURL() string { return s.baseURL }
func (s *playwrightSession) URL() string     { return s.page.URL() }

func (s *playwrightSession) Navigate(ctx context.Context, url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(boundedTimeout(ctx, s.options.NavigationTimeout).Milliseconds())),
	})
	if err != nil {
		return &NavigationError{URL: url, Err: translateError(err)}
	}
	return nil
}

func (s *playwrightSession) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count, err := s.page.Locator(selector).Count()
	return count, translateError(err)
}

func (s *playwrightSession) Text(ctx context.Context, selector string) (string, error) {
	text, err := s.page.Locator(selector).First().TextContent(playwright.LocatorTextContentOptions{
		Timeout: playwright.Float(float64(boundedTimeout(ctx, s.options.ActionTimeout).Milliseconds())),
	})
	return text, translateError(err)
}

func (s *playwrightSession) Click(ctx context.Context, selector string) error {
	return translateError(s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(float64(boundedTimeout(ctx, s.options.ActionTimeout).Milliseconds())),
	}))
}

func (s *playwrightSession) Fill(ctx context.Context, selector string, value string) error {
	return translateError(s.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(float64(boundedTimeout(ctx, s.options.ActionTimeout).Milliseconds())),
	}))
}

func (s *playwrightSession) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypePng,
		Timeout: playwright.Float(float64(s.options.ActionTimeout.Milliseconds())),
	})
}

func (s *playwrightSession) DOM(ctx context.Context) (string, error) {
	return s.page.Content()
}

func (s *playwrightSession) Console() []transcript.Entry {
	return s.console.Entries()
}

// boundedTimeout returns d, or less if ctx expires earlier.
func boundedTimeout(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			return max(remaining, time.Millisecond)
		}
	}
	return d
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
