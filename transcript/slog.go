package transcript

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// SlogHandlerOptions configures a SlogHandler.
type SlogHandlerOptions struct {
	// Level is the minimum level of records to keep.
	Level slog.Leveler
	// Source is set on every recorded entry. Default: SourceApp.
	Source Source
}

// SlogHandler is a slog.Handler writing records as transcript entries.
type SlogHandler struct {
	recorder Recorder
	options  SlogHandlerOptions

	attrs  []slog.Attr
	groups []string
}

// NewSlogHandler creates a handler recording into recorder.
func NewSlogHandler(recorder Recorder, options SlogHandlerOptions) *SlogHandler {
	if options.Level == nil {
		options.Level = slog.LevelInfo
	}
	if options.Source == "" {
		options.Source = SourceApp
	}
	return &SlogHandler{
		recorder: recorder,
		options:  options,

		attrs:  []slog.Attr{},
		groups: []string{},
	}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.options.Level.Level() <= level
}

func (h *SlogHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs := slices.Clone(h.attrs)

	recordAttrs := []slog.Attr{}
	record.Attrs(func(attr slog.Attr) bool {
		recordAttrs = append(recordAttrs, attr)
		return true
	})
	// Record attributes belong to the innermost group.
	for i := len(h.groups) - 1; i >= 0; i-- {
		recordAttrs = []slog.Attr{slog.Group(h.groups[i], lo.ToAnySlice(recordAttrs)...)}
	}
	attrs = append(attrs, recordAttrs...)

	var sb strings.Builder
	sb.WriteString(record.Message)
	for _, attr := range attrs {
		writeAttr(&sb, "", attr)
	}

	h.recorder.Record(Entry{
		Time:   record.Time,
		Source: h.options.Source,
		Level:  record.Level.String(),
		Text:   sb.String(),
	})

	return nil
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SlogHandler{
		recorder: h.recorder,
		options:  h.options,

		attrs:  appendAttrsToGroup(h.groups, h.attrs, attrs...),
		groups: h.groups,
	}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	return &SlogHandler{
		recorder: h.recorder,
		options:  h.options,

		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}

func writeAttr(sb *strings.Builder, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if attr.Value.Kind() == slog.KindGroup {
		for _, child := range attr.Value.Group() {
			writeAttr(sb, key, child)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(key)
	sb.WriteByte('=')
	sb.WriteString(attr.Value.String())
}

// Adapted from github.com/samber/slog-mock
func appendAttrsToGroup(groups []string, actualAttrs []slog.Attr, newAttrs ...slog.Attr) []slog.Attr {
	actualAttrs = slices.Clone(actualAttrs)

	if len(groups) == 0 {
		return append(actualAttrs, newAttrs...)
	}

	for i := range actualAttrs {
		attr := actualAttrs[i]
		if attr.Key == groups[0] && attr.Value.Kind() == slog.KindGroup {
			actualAttrs[i] = slog.Group(groups[0], lo.ToAnySlice(appendAttrsToGroup(groups[1:], attr.Value.Group(), newAttrs...))...)
			return actualAttrs
		}
	}

	return append(
		actualAttrs,
		slog.Group(
			groups[0],
			lo.ToAnySlice(appendAttrsToGroup(groups[1:], []slog.Attr{}, newAttrs...))...,
		),
	)
}
