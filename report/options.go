package report

// handlerOptions holds configuration for a report Handler.
// This is unexported; use HandlerOption functions to configure.
type handlerOptions struct {
	// PathPrefix is where the handler is mounted (e.g. "/_artifacts").
	PathPrefix string
	// Title of the report pages.
	Title string
	// Limit is the maximum number of bundles listed.
	Limit int
	// MaxItemSize truncates text items shown inline.
	MaxItemSize int
}

// DefaultTitle is used if no title is configured.
const DefaultTitle = "UI test artifacts"

func defaultHandlerOptions() handlerOptions {
	return handlerOptions{
		Title:       DefaultTitle,
		Limit:       200,
		MaxItemSize: 512 << 10,
	}
}

// HandlerOption configures a report Handler or static report.
type HandlerOption func(*handlerOptions)

// WithPathPrefix sets the path prefix where the handler is mounted.
// For example, "/_artifacts" if mounted at that path.
// This is used for generating correct URLs in the report.
func WithPathPrefix(prefix string) HandlerOption {
	return func(o *handlerOptions) {
		o.PathPrefix = prefix
	}
}

// WithTitle sets the page title.
func WithTitle(title string) HandlerOption {
	return func(o *handlerOptions) {
		o.Title = title
	}
}

// WithLimit limits the number of listed bundles. Default is 200.
func WithLimit(limit int) HandlerOption {
	return func(o *handlerOptions) {
		o.Limit = limit
	}
}

// WithMaxItemSize truncates inline text items after size bytes. Default is 512 KiB.
func WithMaxItemSize(size int) HandlerOption {
	return func(o *handlerOptions) {
		o.MaxItemSize = size
	}
}

func applyOptions(opts []HandlerOption) handlerOptions {
	o := defaultHandlerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
