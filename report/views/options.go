package views

import (
	"context"
	"strings"
)

// HandlerOptions are passed to views through the context.
type HandlerOptions struct {
	// PathPrefix where the handler is mounted (e.g. "/_artifacts").
	PathPrefix string
	// Title of the pages.
	Title string
	// Static renders links relative to the artifact directory instead of handler routes.
	Static bool
}

type handlerOptionsKeyType struct{}

var handlerOptionsKey = handlerOptionsKeyType{}

// WithHandlerOptions stores options in ctx.
func WithHandlerOptions(ctx context.Context, opts HandlerOptions) context.Context {
	return context.WithValue(ctx, handlerOptionsKey, opts)
}

func MustGetHandlerOptions(ctx context.Context) HandlerOptions {
	opts, ok := ctx.Value(handlerOptionsKey).(HandlerOptions)
	if !ok {
		return HandlerOptions{Title: "UI test artifacts"}
	}
	return opts
}

// itemURL links a raw bundle item.
func itemURL(ctx context.Context, bundleID, item string) string {
	opts := MustGetHandlerOptions(ctx)
	if opts.Static {
		return bundleID + "/" + item
	}
	return strings.TrimRight(opts.PathPrefix, "/") + "/raw/" + bundleID + "/" + item
}

// bundleURL links the detail page of a bundle.
func bundleURL(ctx context.Context, bundleID string) string {
	opts := MustGetHandlerOptions(ctx)
	if opts.Static {
		return "#" + bundleID
	}
	return strings.TrimRight(opts.PathPrefix, "/") + "/bundle/" + bundleID
}

func indexURL(ctx context.Context) string {
	opts := MustGetHandlerOptions(ctx)
	if opts.Static {
		return "index.html"
	}
	return strings.TrimRight(opts.PathPrefix, "/") + "/"
}
