// Package transcript records what happened during a test session: browser console output,
// application logs, requests served by the application under test and SQL statements.
// The recorded entries become the console transcript of a failure artifact bundle.
package transcript

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the number of entries kept per session if nothing else is configured.
const DefaultCapacity = 2000

// Source tells where an entry was recorded.
type Source string

const (
	SourceConsole   Source = "console"
	SourcePageError Source = "pageerror"
	SourceApp       Source = "app"
	SourceHTTP      Source = "http"
	SourceSQL       Source = "sql"
	SourceHarness   Source = "harness"
)

// Entry is a single line of a transcript.
type Entry struct {
	Time   time.Time
	Source Source
	// Level is the severity as reported by the source (e.g. "log", "warning", "INFO").
	Level string
	Text  string
}

func (e Entry) String() string {
	if e.Level == "" {
		return fmt.Sprintf("%s [%s] %s", e.Time.UTC().Format("15:04:05.000"), e.Source, e.Text)
	}
	return fmt.Sprintf("%s [%s] %s: %s", e.Time.UTC().Format("15:04:05.000"), e.Source, e.Level, e.Text)
}

// Recorder accepts transcript entries.
type Recorder interface {
	Record(entry Entry)
}

// Transcript is a bounded, thread-safe list of entries belonging to one session.
type Transcript struct {
	buffer *RingBuffer[Entry]
}

// New creates a transcript keeping at most capacity entries.
// A capacity of 0 uses DefaultCapacity.
func New(capacity uint64) *Transcript {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	return &Transcript{buffer: NewRingBuffer[Entry](capacity)}
}

// Record implements Recorder.
func (t *Transcript) Record(entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	t.buffer.Add(entry)
}

// Entries returns all retained entries, oldest first.
func (t *Transcript) Entries() []Entry {
	return t.buffer.All()
}

// Filter returns the retained entries of the given sources, oldest first.
func (t *Transcript) Filter(sources ...Source) []Entry {
	var result []Entry
	for _, e := range t.buffer.All() {
		for _, s := range sources {
			if e.Source == s {
				result = append(result, e)
				break
			}
		}
	}
	return result
}

// WriteTo writes one line per entry. If entries were dropped because the capacity was
// exceeded, a leading line says so.
func (t *Transcript) WriteTo(w io.Writer) (int64, error) {
	var total int64
	if dropped := t.buffer.Dropped(); dropped > 0 {
		n, err := fmt.Fprintf(w, "(%d earlier entries dropped)\n", dropped)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	for _, e := range t.buffer.All() {
		n, err := fmt.Fprintln(w, e.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Switch forwards entries to the currently attached transcript. Long-lived
// components (like the database connection) record through a Switch, while the
// lifecycle attaches the transcript of whichever session is active.
type Switch struct {
	current atomic.Pointer[Transcript]
}

// Attach makes t the target of subsequent entries.
func (s *Switch) Attach(t *Transcript) {
	s.current.Store(t)
}

// Detach stops forwarding. Entries recorded while detached are discarded.
func (s *Switch) Detach() {
	s.current.Store(nil)
}

// Current returns the attached transcript or nil.
func (s *Switch) Current() *Transcript {
	return s.current.Load()
}

// Record implements Recorder.
func (s *Switch) Record(entry Entry) {
	if t := s.current.Load(); t != nil {
		t.Record(entry)
	}
}

type transcriptKeyType struct{}

var transcriptKey = transcriptKeyType{}

// NewContext returns a context carrying the session transcript.
func NewContext(ctx context.Context, t *Transcript) context.Context {
	return context.WithValue(ctx, transcriptKey, t)
}

// FromContext returns the transcript stored by NewContext.
func FromContext(ctx context.Context) (*Transcript, bool) {
	t, ok := ctx.Value(transcriptKey).(*Transcript)
	return t, ok && t != nil
}

// Discard is a Recorder dropping everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Entry) {}

// LineWriter is an io.Writer turning every written line into an entry.
// Call Flush to emit a trailing line without newline.
type LineWriter struct {
	recorder Recorder
	source   Source
	level    string

	mu      sync.Mutex
	pending []byte
}

// NewLineWriter creates a LineWriter recording into recorder.
func NewLineWriter(recorder Recorder, source Source, level string) *LineWriter {
	return &LineWriter{recorder: recorder, source: source, level: level}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.emit(w.pending[:i])
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}

// Flush records a pending partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) > 0 {
		w.emit(w.pending)
		w.pending = nil
	}
}

func (w *LineWriter) emit(line []byte) {
	w.recorder.Record(Entry{
		Time:   time.Now(),
		Source: w.source,
		Level:  w.level,
		Text:   string(bytes.TrimRight(line, "\r")),
	})
}
