package artifact_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/browser"
	"github.com/networkteam/uiharness/browser/browsertest"
	"github.com/networkteam/uiharness/transcript"
)

var fixedTime = time.Date(2024, 5, 17, 9, 30, 12, 345_000_000, time.FixedZone("CEST", 2*60*60))

func newCollector(t *testing.T) *artifact.Collector {
	t.Helper()
	return artifact.NewCollector(artifact.Options{
		Dir:   t.TempDir(),
		Clock: func() time.Time { return fixedTime },
	})
}

func openFake(t *testing.T, m *browsertest.Manager) browser.Handle {
	t.Helper()
	h, err := m.Open(context.Background(), "http://127.0.0.1:8765")
	require.NoError(t, err)
	require.NoError(t, h.Navigate(context.Background(), "http://127.0.0.1:8765/my-new-page"))
	return h
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestCollector_CaptureCompleteBundle(t *testing.T) {
	c := newCollector(t)
	m := &browsertest.Manager{
		Pages: map[string]browsertest.Page{
			"/my-new-page": {HTML: "<html><body><h1>Other</h1></body></html>", Console: []string{"app booted"}},
		},
	}
	h := openFake(t, m)

	tr := transcript.New(10)
	tr.Record(transcript.Entry{Source: transcript.SourceConsole, Level: "log", Text: "app booted"})
	tr.Record(transcript.Entry{Source: transcript.SourceSQL, Level: "query", Text: "SELECT 1"})

	cause := pkgerrors.New(`expected "My Expected Header Text"`)
	bundle := c.Capture(context.Background(), artifact.Target{
		Name:       "TestMyNewPage/header",
		SessionID:  "0190-abc",
		Outcome:    "failed",
		Transcript: tr,
	}, h, cause)

	assert.True(t, bundle.Complete())
	assert.Equal(t, artifact.Items, bundle.Items)
	assert.Equal(t, filepath.Join(c.Dir(), artifact.SanitizeName("TestMyNewPage/header"), "20240517T073012.345Z"), bundle.Dir)
	assert.Equal(t, artifact.Items[0], "screenshot.png")
	assert.ElementsMatch(t, artifact.Items, dirEntries(t, bundle.Dir))

	png, err := os.ReadFile(filepath.Join(bundle.Dir, artifact.ItemScreenshot))
	require.NoError(t, err)
	assert.Equal(t, browsertest.PNGSignature, png[:len(browsertest.PNGSignature)])

	console, err := os.ReadFile(filepath.Join(bundle.Dir, artifact.ItemConsole))
	require.NoError(t, err)
	assert.Contains(t, string(console), "[console] log: app booted")
	assert.Contains(t, string(console), "[sql] query: SELECT 1")

	dom, err := os.ReadFile(filepath.Join(bundle.Dir, artifact.ItemDOM))
	require.NoError(t, err)
	assert.Equal(t, "<html><body><h1>Other</h1></body></html>", string(dom))

	stack, err := os.ReadFile(filepath.Join(bundle.Dir, artifact.ItemStackTrace))
	require.NoError(t, err)
	assert.Contains(t, string(stack), "test: TestMyNewPage/header")
	assert.Contains(t, string(stack), "outcome: failed")
	assert.Contains(t, string(stack), `expected "My Expected Header Text"`)
	assert.Contains(t, string(stack), "artifact_test.TestCollector_CaptureCompleteBundle", "pkg/errors stack is printed")
}

func TestCollector_CaptureDegradedBundle(t *testing.T) {
	c := newCollector(t)
	m := &browsertest.Manager{
		Pages:         map[string]browsertest.Page{"/my-new-page": {HTML: "<p>x</p>"}},
		ScreenshotErr: errors.New("browser crashed"),
	}
	h := openFake(t, m)

	bundle := c.Capture(context.Background(), artifact.Target{Name: "TestDegraded"}, h, errors.New("boom"))

	assert.False(t, bundle.Complete())
	assert.Equal(t, []string{artifact.ItemConsole, artifact.ItemDOM, artifact.ItemStackTrace}, bundle.Items)
	require.Contains(t, bundle.Missing, artifact.ItemScreenshot)
	require.Len(t, bundle.Errors(), 1)
	assert.Equal(t, artifact.ItemScreenshot, bundle.Errors()[0].Item)

	assert.Equal(t, []string{"console.log", "dom.html", "screenshot.png.missing", "stacktrace.txt"}, dirEntries(t, bundle.Dir))

	marker, err := os.ReadFile(filepath.Join(bundle.Dir, "screenshot.png.missing"))
	require.NoError(t, err)
	assert.Equal(t, "browser crashed\n", string(marker))
}

func TestCollector_CapturePanickingStep(t *testing.T) {
	c := newCollector(t)
	m := &browsertest.Manager{
		Pages:           map[string]browsertest.Page{"/my-new-page": {HTML: "<p>x</p>"}},
		ScreenshotPanic: "nil pointer in driver",
	}
	h := openFake(t, m)

	bundle := c.Capture(context.Background(), artifact.Target{Name: "TestPanic"}, h, errors.New("boom"))

	require.Contains(t, bundle.Missing, artifact.ItemScreenshot)
	assert.Contains(t, bundle.Missing[artifact.ItemScreenshot].Error(), "panic: nil pointer in driver")
	assert.Len(t, bundle.Items, 3)
	assert.NotContains(t, dirEntries(t, bundle.Dir), artifact.ItemScreenshot, "partial file is removed")
}

type hangingDOM struct {
	browser.Handle
	release chan struct{}
}

func (h hangingDOM) DOM(ctx context.Context) (string, error) {
	<-h.release
	return "<p>too late</p>", nil
}

func TestCollector_CaptureHangingStep(t *testing.T) {
	c := artifact.NewCollector(artifact.Options{
		Dir:         t.TempDir(),
		ItemTimeout: 100 * time.Millisecond,
	})
	m := &browsertest.Manager{Pages: map[string]browsertest.Page{"/my-new-page": {HTML: "<p>x</p>"}}}
	h := hangingDOM{Handle: openFake(t, m), release: make(chan struct{})}
	defer close(h.release)

	start := time.Now()
	bundle := c.Capture(context.Background(), artifact.Target{Name: "TestHangingDOM"}, h, errors.New("boom"))

	assert.Less(t, time.Since(start), 3*time.Second)
	require.Contains(t, bundle.Missing, artifact.ItemDOM)
	assert.ErrorIs(t, bundle.Missing[artifact.ItemDOM], context.DeadlineExceeded)
	assert.Equal(t, []string{artifact.ItemScreenshot, artifact.ItemConsole, artifact.ItemStackTrace}, bundle.Items)
	assert.Equal(t, []string{"console.log", "dom.html.missing", "screenshot.png", "stacktrace.txt"}, dirEntries(t, bundle.Dir))
}

func TestCollector_CaptureWithoutSession(t *testing.T) {
	c := newCollector(t)

	bundle := c.Capture(context.Background(), artifact.Target{Name: "TestInfra", Transcript: transcript.New(1)}, nil, errors.New("readiness timeout"))

	assert.Equal(t, []string{artifact.ItemConsole, artifact.ItemStackTrace}, bundle.Items)
	assert.Equal(t, []string{"console.log", "dom.html.missing", "screenshot.png.missing", "stacktrace.txt"}, dirEntries(t, bundle.Dir))
}

func TestCollector_NeverReusesDirectory(t *testing.T) {
	c := newCollector(t)

	first := c.Capture(context.Background(), artifact.Target{Name: "TestTwice"}, nil, errors.New("one"))
	second := c.Capture(context.Background(), artifact.Target{Name: "TestTwice"}, nil, errors.New("two"))

	assert.NotEqual(t, first.Dir, second.Dir)
	assert.Equal(t, first.Dir+"-2", second.Dir)
}

func TestCollector_UnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	c := artifact.NewCollector(artifact.Options{Dir: file})
	bundle := c.Capture(context.Background(), artifact.Target{Name: "TestX"}, nil, errors.New("x"))

	assert.Empty(t, bundle.Dir)
	assert.Len(t, bundle.Missing, 4)

	var captureErr *artifact.CaptureError
	assert.True(t, errors.As(bundle.Errors()[0], &captureErr))
}

func TestSanitizeName(t *testing.T) {
	for name, expected := range map[string]string{
		"TestThings":               "TestThings",
		"TestThings_create-new.v2": "TestThings_create-new.v2",
		"":                         "unnamed",
	} {
		assert.Equal(t, expected, artifact.SanitizeName(name), name)
	}

	for name, prefix := range map[string]string{
		"TestThings/create new thing": "TestThings_create_new_thing-",
		"../../etc/passwd":            "etc_passwd-",
		"github.com/x/y.TestZ":        "github.com_x_y.TestZ-",
	} {
		s := artifact.SanitizeName(name)
		assert.True(t, strings.HasPrefix(s, prefix), "%s sanitized to %s", name, s)
		assert.Len(t, s, len(prefix)+8, name)
		assert.Equal(t, s, artifact.SanitizeName(name), "deterministic")
	}

	long := artifact.SanitizeName(strings.Repeat("TestLong ", 30))
	assert.LessOrEqual(t, len(long), 120)
}

func TestSanitizeName_DistinctNames(t *testing.T) {
	assert.Equal(t, "TestA_b_c", artifact.SanitizeName("TestA_b_c"))
	assert.NotEqual(t, artifact.SanitizeName("TestA_b_c"), artifact.SanitizeName("TestA/b c"))
	assert.NotEqual(t, artifact.SanitizeName("TestA/b c"), artifact.SanitizeName("TestA b/c"))
}
