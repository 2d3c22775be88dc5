package report

import (
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"slices"

	"github.com/a-h/templ"

	"github.com/networkteam/uiharness/artifact"
	"github.com/networkteam/uiharness/report/views"
)

// Handler serves the bundles of an artifact directory.
type Handler struct {
	dir     string
	options handlerOptions

	mux http.Handler
}

// NewHandler creates a handler for the artifact directory dir.
func NewHandler(dir string, opts ...HandlerOption) *Handler {
	options := applyOptions(opts)

	mux := http.NewServeMux()
	handler := &Handler{
		dir:     dir,
		options: options,

		mux: setHandlerOptions(options, mux),
	}

	mux.HandleFunc("GET /{$}", handler.root)
	mux.HandleFunc("GET /bundle/{test}/{run}", handler.getBundle)
	mux.HandleFunc("GET /raw/{test}/{run}/{item}", handler.getRaw)

	return handler
}

func setHandlerOptions(options handlerOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = views.WithHandlerOptions(ctx, views.HandlerOptions{
			PathPrefix: options.PathPrefix,
			Title:      options.Title,
		})
		r = r.WithContext(ctx)

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	bundles, err := h.loadBundles()
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to scan artifacts", slog.Any("error", err))
		http.Error(w, "Failed to scan artifacts", http.StatusInternalServerError)
		return
	}

	templ.Handler(views.Index(views.IndexProps{
		Bundles: summaries(bundles),
	})).ServeHTTP(w, r)
}

func (h *Handler) getBundle(w http.ResponseWriter, r *http.Request) {
	b, ok := h.findBundle(w, r)
	if !ok {
		return
	}

	props, err := detailProps(h.dir, b, h.options.MaxItemSize)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to read bundle", slog.String("bundle", b.ID()), slog.Any("error", err))
		http.Error(w, "Failed to read bundle", http.StatusInternalServerError)
		return
	}

	templ.Handler(views.BundleDetail(props)).ServeHTTP(w, r)
}

func (h *Handler) getRaw(w http.ResponseWriter, r *http.Request) {
	b, ok := h.findBundle(w, r)
	if !ok {
		return
	}

	item := r.PathValue("item")
	if !slices.Contains(artifact.Items, item) {
		http.Error(w, "Unknown item", http.StatusNotFound)
		return
	}
	content, missing, err := ReadItem(h.dir, b, item)
	if err != nil {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}
	if missing {
		http.Error(w, fmt.Sprintf("%s was not captured: %s", item, content), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(item))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	_, _ = w.Write(content)
}

func (h *Handler) findBundle(w http.ResponseWriter, r *http.Request) (Bundle, bool) {
	id := path.Join(r.PathValue("test"), r.PathValue("run"))
	b, ok, err := Find(h.dir, id)
	if err != nil {
		http.Error(w, "Failed to read bundle", http.StatusInternalServerError)
		return Bundle{}, false
	}
	if !ok {
		http.Error(w, "Bundle not found", http.StatusNotFound)
		return Bundle{}, false
	}
	return b, true
}

func (h *Handler) loadBundles() ([]Bundle, error) {
	bundles, err := Scan(h.dir)
	if err != nil {
		return nil, err
	}
	if h.options.Limit > 0 && len(bundles) > h.options.Limit {
		bundles = bundles[:h.options.Limit]
	}
	return bundles, nil
}

func contentType(item string) string {
	if item == artifact.ItemScreenshot {
		return "image/png"
	}
	// The DOM snapshot is served as text too, it must not run scripts or load resources
	return "text/plain; charset=utf-8"
}
