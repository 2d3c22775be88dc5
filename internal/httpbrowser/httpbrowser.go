// Package httpbrowser is a browser.Manager without a real browser. It fetches pages with
// net/http, parses them with golang.org/x/net/html and supports navigation, element
// lookup, link clicks and form submission. Scripts are not executed and screenshots are
// not available, so failure bundles of its sessions always lack the screenshot.
package httpbrowser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/transcript"
)

// ErrScreenshotUnsupported is returned by Screenshot.
var ErrScreenshotUnsupported = errors.New("screenshots are not supported by the HTTP driver")

// Options configures a Manager.
type Options struct {
	// RequestTimeout bounds a single request. Default: 10s
	RequestTimeout time.Duration
	// MaxBodySize limits the size of a fetched page. Default: 10 MiB
	MaxBodySize int64
	Logger      *slog.Logger
}

// Manager opens HTTP driven sessions.
type Manager struct {
	options Options
}

var _ browser.Manager = &Manager{}

// New creates a Manager.
func New(options Options) *Manager {
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = 10 * time.Second
	}
	if options.MaxBodySize <= 0 {
		options.MaxBodySize = 10 << 20
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Manager{options: options}
}

// Open implements browser.Manager.
func (m *Manager) Open(ctx context.Context, serverURL string) (browser.Handle, error) {
	base, err := url.Parse(serverURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &browser.SessionError{Endpoint: serverURL, Op: "open", Err: fmt.Errorf("invalid server URL %q", serverURL)}
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, &browser.SessionError{Endpoint: serverURL, Op: "open", Err: err}
	}

	var recorder transcript.Recorder = transcript.Discard
	if tr, ok := transcript.FromContext(ctx); ok {
		recorder = tr
	}

	s := &session{
		id:      uuid.Must(uuid.NewV7()).String(),
		base:    base,
		client:  &http.Client{Jar: jar, Timeout: m.options.RequestTimeout},
		options: m.options,
		console: transcript.New(0),
		forward: recorder,
	}
	m.options.Logger.DebugContext(ctx, "Opened HTTP browser session", slog.String("session", s.id), slog.String("baseURL", serverURL))
	return s, nil
}

// Close implements browser.Manager.
func (m *Manager) Close(ctx context.Context, h browser.Handle) error {
	s, ok := h.(*session)
	if !ok || s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.doc = nil
	s.client.CloseIdleConnections()
	return nil
}

type session struct {
	id      string
	base    *url.URL
	client  *http.Client
	options Options
	console *transcript.Transcript
	forward transcript.Recorder

	mu     sync.Mutex
	closed bool
	url    *url.URL
	doc    *html.Node
}

var _ browser.Handle = &session{}

func (s *session) ID() string      { return s.id }
func (s *session) BaseURL() string { return strings.TrimRight(s.base.String(), "/") }

func (s *session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.url == nil {
		return "about:blank"
	}
	return s.url.String()
}

func (s *session) Navigate(ctx context.Context, rawURL string) error {
	target, err := s.resolve(rawURL)
	if err != nil {
		return &browser.NavigationError{URL: rawURL, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return &browser.NavigationError{URL: rawURL, Err: err}
	}
	return s.load(req)
}

func (s *session) resolve(rawURL string) (*url.URL, error) {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	current := s.url
	s.mu.Unlock()
	if current == nil {
		current = s.base
	}
	return current.ResolveReference(ref), nil
}

func (s *session) load(req *http.Request) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &browser.NavigationError{URL: req.URL.String(), Err: errors.New("session closed")}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			err = fmt.Errorf("%w: %w", browser.ErrTimeout, err)
		}
		return &browser.NavigationError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.options.MaxBodySize))
	if err != nil {
		return &browser.NavigationError{URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		s.record(transcript.SourcePageError, "error", fmt.Sprintf("%s %s responded with status %d", req.Method, resp.Request.URL, resp.StatusCode))
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return &browser.NavigationError{URL: req.URL.String(), Err: fmt.Errorf("parsing HTML: %w", err)}
	}

	s.mu.Lock()
	s.url = resp.Request.URL
	s.doc = doc
	s.mu.Unlock()
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func (s *session) record(source transcript.Source, level, text string) {
	entry := transcript.Entry{Time: time.Now(), Source: source, Level: level, Text: text}
	s.console.Record(entry)
	s.forward.Record(entry)
}

func (s *session) query(selector string) ([]*html.Node, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sel.queryAll(s.doc), nil
}

func (s *session) first(selector string) (*html.Node, error) {
	nodes, err := s.query(selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: no element matches %q", browser.ErrTimeout, selector)
	}
	return nodes[0], nil
}

func (s *session) Count(ctx context.Context, selector string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	nodes, err := s.query(selector)
	return len(nodes), err
}

func (s *session) Text(ctx context.Context, selector string) (string, error) {
	n, err := s.first(selector)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.DataAtom == atom.Input {
		return attr(n, "value"), nil
	}
	return textContent(n), nil
}

func (s *session) Fill(ctx context.Context, selector string, value string) error {
	n, err := s.first(selector)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch n.DataAtom {
	case atom.Input:
		setAttr(n, "value", value)
	case atom.Textarea:
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	default:
		return fmt.Errorf("element %q is not fillable", selector)
	}
	return nil
}

// Click follows links and submits forms. Clicks on other elements have no effect.
func (s *session) Click(ctx context.Context, selector string) error {
	n, err := s.first(selector)
	if err != nil {
		return err
	}

	if link := closest(n, atom.A); link != nil {
		if href, ok := lookupAttr(link, "href"); ok {
			return s.Navigate(ctx, href)
		}
	}

	if isSubmit(n) {
		if form := closest(n, atom.Form); form != nil {
			return s.submit(ctx, form, n)
		}
	}
	return nil
}

func isSubmit(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		t := strings.ToLower(attr(n, "type"))
		return t == "" || t == "submit"
	case atom.Input:
		t := strings.ToLower(attr(n, "type"))
		return t == "submit" || t == "image"
	}
	return false
}

func (s *session) submit(ctx context.Context, form *html.Node, submitter *html.Node) error {
	s.mu.Lock()
	values := formValues(form, submitter)
	method := strings.ToUpper(attr(form, "method"))
	action := attr(form, "action")
	s.mu.Unlock()

	target, err := s.resolve(action)
	if err != nil {
		return &browser.NavigationError{URL: action, Err: err}
	}

	var req *http.Request
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		target.RawQuery = values.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	}
	if err != nil {
		return &browser.NavigationError{URL: target.String(), Err: err}
	}
	return s.load(req)
}

func formValues(form *html.Node, submitter *html.Node) url.Values {
	values := url.Values{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name, hasName := lookupAttr(n, "name")
			_, disabled := lookupAttr(n, "disabled")
			if hasName && name != "" && !disabled {
				switch n.DataAtom {
				case atom.Input:
					switch strings.ToLower(attr(n, "type")) {
					case "checkbox", "radio":
						if _, checked := lookupAttr(n, "checked"); checked {
							v, ok := lookupAttr(n, "value")
							if !ok {
								v = "on"
							}
							values.Add(name, v)
						}
					case "submit", "image", "button", "reset", "file":
						if n == submitter {
							values.Add(name, attr(n, "value"))
						}
					default:
						values.Add(name, attr(n, "value"))
					}
				case atom.Textarea:
					values.Add(name, textContent(n))
				case atom.Select:
					values.Add(name, selectedOption(n))
				case atom.Button:
					if n == submitter {
						values.Add(name, attr(n, "value"))
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
	return values
}

func selectedOption(sel *html.Node) string {
	var first, selected *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Option {
			if first == nil {
				first = n
			}
			if _, ok := lookupAttr(n, "selected"); ok && selected == nil {
				selected = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(sel)
	if selected == nil {
		selected = first
	}
	if selected == nil {
		return ""
	}
	if v, ok := lookupAttr(selected, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(selected))
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrScreenshotUnsupported
}

func (s *session) DOM(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil {
		return "", errors.New("no page loaded")
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, s.doc); err != nil {
		return "", fmt.Errorf("rendering DOM: %w", err)
	}
	return buf.String(), nil
}

func (s *session) Console() []transcript.Entry {
	return s.console.Entries()
}
