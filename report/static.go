package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/lo"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/report/views"
)

// IndexFile is the name of the static report written by WriteIndex.
const IndexFile = "index.html"

// WriteIndex writes a static HTML report of all bundles to <dir>/index.html and returns
// the number of listed bundles.
func WriteIndex(ctx context.Context, dir string, opts ...HandlerOption) (int, error) {
	options := applyOptions(opts)

	bundles, err := Scan(dir)
	if err != nil {
		return 0, err
	}
	if options.Limit > 0 && len(bundles) > options.Limit {
		bundles = bundles[:options.Limit]
	}

	details := make([]views.BundleDetailProps, 0, len(bundles))
	for _, b := range bundles {
		d, err := detailProps(dir, b, options.MaxItemSize)
		if err != nil {
			return 0, err
		}
		details = append(details, d)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating report directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, IndexFile))
	if err != nil {
		return 0, fmt.Errorf("creating report: %w", err)
	}
	defer f.Close()

	ctx = views.WithHandlerOptions(ctx, views.HandlerOptions{
		Title:  options.Title,
		Static: true,
	})
	if err := views.Index(views.IndexProps{Bundles: summaries(bundles), Details: details}).Render(ctx, f); err != nil {
		return 0, fmt.Errorf("rendering report: %w", err)
	}
	return len(bundles), f.Close()
}

func summaries(bundles []Bundle) []views.BundleSummary {
	return lo.Map(bundles, func(b Bundle, _ int) views.BundleSummary {
		return summary(b)
	})
}

func summary(b Bundle) views.BundleSummary {
	return views.BundleSummary{
		ID:        b.ID(),
		Test:      b.Test,
		Timestamp: b.Timestamp,
		Outcome:   b.Outcome,
		Cause:     b.Cause,
		Items:     b.Items,
		Missing:   b.Missing,
	}
}

func detailProps(dir string, b Bundle, maxSize int) (views.BundleDetailProps, error) {
	props := views.BundleDetailProps{Bundle: summary(b)}
	for _, item := range artifact.Items {
		if !b.Has(item) && !lo.Contains(b.Missing, item) {
			continue
		}
		content, missing, err := ReadItem(dir, b, item)
		if err != nil {
			return props, fmt.Errorf("reading %s of %s: %w", item, b.ID(), err)
		}
		v := views.Item{Name: item}
		switch {
		case missing:
			v.Missing = string(content)
		case item == artifact.ItemScreenshot:
			v.Image = true
		default:
			v.Content = truncate(string(content), maxSize)
		}
		props.Items = append(props.Items, v)
	}
	return props, nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... (%d bytes truncated)", len(s)-max)
}
