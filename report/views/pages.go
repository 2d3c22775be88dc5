package views

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// BundleSummary is a row of the index.
type BundleSummary struct {
	ID        string
	Test      string
	Timestamp time.Time
	Outcome   string
	Cause     string
	Items     []string
	Missing   []string
}

// Item is a rendered bundle item.
type Item struct {
	Name    string
	Content string
	// Missing holds the capture error if the item could not be captured.
	Missing string
	// Image is shown with an img tag instead of its content.
	Image bool
}

// BundleDetailProps are the props of BundleDetail.
type BundleDetailProps struct {
	Bundle BundleSummary
	Items  []Item
}

// IndexProps are the props of Index.
type IndexProps struct {
	Bundles []BundleSummary
	// Details are rendered inline below the list (static reports).
	Details []BundleDetailProps
}

const pageStyles = `<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #111; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: .4rem .6rem; border-bottom: 1px solid #ddd; vertical-align: top; }
.badge { display: inline-block; border-radius: 999px; padding: .1rem .6rem; font-size: .75rem; font-family: monospace; border: 1px solid transparent; }
.badge-default { background: #111; color: #fff; }
.badge-secondary { background: #e5e5e5; }
.badge-warning { background: #fb923c; color: #fff; }
.badge-error { background: #ef4444; color: #fff; }
.badge-outline { border-color: #d4d4d4; }
.missing { color: #b91c1c; font-family: monospace; }
.item { margin: 1.5rem 0; }
.item img { max-width: 100%; border: 1px solid #ddd; }
pre.plain { white-space: pre-wrap; background: #f5f5f5; padding: 1rem; }
</style>`

// Layout wraps body into an HTML page.
func Layout(body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		opts := MustGetHandlerOptions(ctx)
		_, _ = io.WriteString(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
		text(w, opts.Title)
		_, _ = io.WriteString(w, "</title>")
		_, _ = io.WriteString(w, pageStyles)
		if err := chromaStyles().Render(ctx, w); err != nil {
			return err
		}
		_, _ = io.WriteString(w, "</head><body>\n")
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</body></html>\n")
		return err
	})
}

func badge(label string, props BadgeProps) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = fmt.Fprintf(w, `<span class="%s">`, attrValue(badgeClasses(props)))
		text(w, label)
		_, err := io.WriteString(w, "</span>")
		return err
	})
}

// Index lists bundles, newest first.
func Index(props IndexProps) templ.Component {
	return Layout(templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		opts := MustGetHandlerOptions(ctx)
		_, _ = io.WriteString(w, "<h1>")
		text(w, opts.Title)
		_, _ = io.WriteString(w, "</h1>\n")

		if len(props.Bundles) == 0 {
			_, err := io.WriteString(w, `<p class="empty">No failure bundles.</p>`+"\n")
			return err
		}

		_, _ = io.WriteString(w, "<table class=\"bundles\"><thead><tr><th>Test</th><th>Outcome</th><th>Captured</th><th>Cause</th><th>Missing</th></tr></thead><tbody>\n")
		for _, b := range props.Bundles {
			_, _ = fmt.Fprintf(w, `<tr class="bundle" data-id="%s"><td><a href="%s">`, attrValue(b.ID), attrValue(bundleURL(ctx, b.ID)))
			text(w, b.Test)
			_, _ = io.WriteString(w, "</a></td><td>")
			outcome := b.Outcome
			if outcome == "" {
				outcome = "unknown"
			}
			if err := badge(outcome, BadgeProps{Variant: outcomeVariant(b.Outcome)}).Render(ctx, w); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, `</td><td title="%s">`, attrValue(b.Timestamp.UTC().Format(time.RFC3339)))
			text(w, formatDurationSince(b.Timestamp))
			_, _ = io.WriteString(w, "</td><td>")
			text(w, b.Cause)
			_, _ = io.WriteString(w, "</td><td>")
			for _, m := range b.Missing {
				if err := badge(m, BadgeProps{Variant: BadgeVariantOutline, Class: "missing"}).Render(ctx, w); err != nil {
					return err
				}
			}
			_, _ = io.WriteString(w, "</td></tr>\n")
		}
		_, _ = io.WriteString(w, "</tbody></table>\n")

		for _, d := range props.Details {
			if err := bundleSection(d).Render(ctx, w); err != nil {
				return err
			}
		}
		return nil
	}))
}

// BundleDetail shows all items of one bundle.
func BundleDetail(props BundleDetailProps) templ.Component {
	return Layout(templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, _ = fmt.Fprintf(w, `<p><a href="%s">&larr; All bundles</a></p>`+"\n", attrValue(indexURL(ctx)))
		return bundleSection(props).Render(ctx, w)
	}))
}

func bundleSection(props BundleDetailProps) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		b := props.Bundle
		_, _ = fmt.Fprintf(w, `<section class="bundle-detail" id="%s"><h2>`, attrValue(b.ID))
		text(w, b.Test)
		_, _ = io.WriteString(w, " ")
		if err := badge(b.Outcome, BadgeProps{Variant: outcomeVariant(b.Outcome)}).Render(ctx, w); err != nil {
			return err
		}
		_, _ = io.WriteString(w, "</h2>\n<p>Captured ")
		text(w, b.Timestamp.UTC().Format(time.RFC3339))
		_, _ = io.WriteString(w, "</p>\n")

		for _, item := range props.Items {
			_, _ = fmt.Fprintf(w, `<div class="item" data-item="%s"><h3><a href="%s">`, attrValue(item.Name), attrValue(itemURL(ctx, b.ID, item.Name)))
			text(w, item.Name)
			_, _ = io.WriteString(w, "</a></h3>\n")
			switch {
			case item.Missing != "":
				_, _ = io.WriteString(w, `<p class="missing">Not captured: `)
				text(w, item.Missing)
				_, _ = io.WriteString(w, "</p>\n")
			case item.Image:
				_, _ = fmt.Fprintf(w, `<img src="%s" alt="%s">`+"\n", attrValue(itemURL(ctx, b.ID, item.Name)), attrValue(item.Name))
			default:
				if err := itemContent(item).Render(ctx, w); err != nil {
					return err
				}
			}
			_, _ = io.WriteString(w, "</div>\n")
		}
		_, err := io.WriteString(w, "</section>\n")
		return err
	})
}
