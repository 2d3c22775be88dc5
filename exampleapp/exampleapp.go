// Package exampleapp is a small web application used to demonstrate and test the harness.
// It lists "things" stored in a SQL database and shows the latest thing on /my-new-page.
package exampleapp

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
)

// Schema creates the tables of the application.
const Schema = `
CREATE TABLE IF NOT EXISTS things (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DefaultHeader is shown on /my-new-page while no thing exists.
const DefaultHeader = "My New Page"

// Options configure the handler.
type Options struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// NewHandler creates the application handler.
func NewHandler(options Options) http.Handler {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	app := &app{
		things: NewThingRepository(options.DB),
		logger: options.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /{$}", app.index)
	mux.HandleFunc("POST /things", app.createThing)
	mux.HandleFunc("GET /my-new-page", app.myNewPage)

	return mux
}

type app struct {
	things *ThingRepository
	logger *slog.Logger
}

func (a *app) index(w http.ResponseWriter, r *http.Request) {
	things, err := a.things.List(r.Context())
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to list things", slog.Any("error", err))
		http.Error(w, "Failed to list things", http.StatusInternalServerError)
		return
	}
	a.logger.DebugContext(r.Context(), "Listing things", slog.Int("count", len(things)))

	templ.Handler(indexPage(things)).ServeHTTP(w, r)
}

func (a *app) createThing(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.PostFormValue("title"))
	if title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}
	id, err := a.things.Create(r.Context(), title)
	if err != nil {
		a.logger.ErrorContext(r.Context(), "Failed to create thing", slog.Any("error", err))
		http.Error(w, "Failed to create thing", http.StatusInternalServerError)
		return
	}
	a.logger.InfoContext(r.Context(), "Created thing", slog.Int64("id", id), slog.String("title", title))

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (a *app) myNewPage(w http.ResponseWriter, r *http.Request) {
	header := DefaultHeader
	latest, err := a.things.Latest(r.Context())
	switch {
	case errors.Is(err, ErrNoThings):
	case err != nil:
		a.logger.ErrorContext(r.Context(), "Failed to load latest thing", slog.Any("error", err))
		http.Error(w, "Failed to load latest thing", http.StatusInternalServerError)
		return
	default:
		header = latest.Title
	}

	templ.Handler(myNewPage(header)).ServeHTTP(w, r)
}
