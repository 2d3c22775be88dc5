// Package store owns the persistent state shared by the application under test and the
// tests. It brings the database back to a known baseline before every session and offers
// a small seeding capability to test code.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/networkteam/go-sqllogger"

	"github.com/networkteam/uiharness/transcript"
)

// Options configures a Store.
type Options struct {
	// Path of the SQLite database file. Default: a fresh file in a temporary directory
	// that is removed on Close.
	Path string
	// Schema statements are executed once on Open.
	Schema []string
	// Fixture statements are executed as part of every reset to seed the baseline.
	Fixture []string
	// Recorder receives every executed statement. Default: transcript.Discard
	Recorder transcript.Recorder
	// Logger for reset events. Default: slog.Default()
	Logger *slog.Logger
}

// Store is a SQLite database with an atomic reset to baseline.
type Store struct {
	db      *sql.DB
	path    string
	tempDir string
	options Options

	mu    sync.Mutex
	token *ResetToken
}

// Open opens (or creates) the database and applies the schema.
func Open(ctx context.Context, options Options) (*Store, error) {
	if options.Recorder == nil {
		options.Recorder = transcript.Discard
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	s := &Store{options: options, path: options.Path}
	if s.path == "" {
		dir, err := os.MkdirTemp("", "uiharness-store-")
		if err != nil {
			return nil, fmt.Errorf("creating temporary database directory: %w", err)
		}
		s.tempDir = dir
		s.path = filepath.Join(dir, "test.db")
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", s.path)
	connector := sqllogger.LoggingConnector(transcript.NewSQLLogger(options.Recorder), newSQLiteConnector(dsn))
	s.db = sql.OpenDB(connector)

	if err := s.db.PingContext(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("opening database %s: %w", s.path, err)
	}

	for _, stmt := range options.Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}

	return s, nil
}

// DB returns the underlying database, to be shared with the application under test.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and removes a temporary database file.
func (s *Store) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.tempDir != "" {
		err = errors.Join(err, os.RemoveAll(s.tempDir))
	}
	return err
}

// Reset deletes all rows of all tables and applies the fixture inside a single
// transaction. Readers never observe a partially reset database. Any previously issued
// token is invalidated.
func (s *Store) Reset(ctx context.Context) (*ResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil {
		s.token.Invalidate()
		s.token = nil
	}

	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return nil, &ResetError{Op: "connect", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ResetError{Op: "begin", Err: err}
	}
	// No-op after commit
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return nil, &ResetError{Op: "defer foreign keys", Err: err}
	}

	tables, err := userTables(ctx, tx)
	if err != nil {
		return nil, &ResetError{Op: "list tables", Err: err}
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
			return nil, &ResetError{Op: "clear " + table, Err: err}
		}
	}
	if hasSequences, err := tableExists(ctx, tx, "sqlite_sequence"); err != nil {
		return nil, &ResetError{Op: "list tables", Err: err}
	} else if hasSequences {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
			return nil, &ResetError{Op: "reset sequences", Err: err}
		}
	}

	for i, stmt := range s.options.Fixture {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, &ResetError{Op: fmt.Sprintf("fixture statement %d", i+1), Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &ResetError{Op: "commit", Err: err}
	}

	token := &ResetToken{
		ID:       uuid.Must(uuid.NewV7()),
		IssuedAt: time.Now(),
	}
	s.token = token

	s.options.Logger.DebugContext(ctx, "Store reset to baseline",
		slog.Int("tables", len(tables)),
		slog.Duration("duration", time.Since(start)),
	)

	return token, nil
}

// Seeder returns the seeding capability bound to token. It fails with ErrStaleToken as
// soon as another reset happened.
func (s *Store) Seeder(token *ResetToken) *Seeder {
	return &Seeder{store: s, token: token}
}

func (s *Store) current(token *ResetToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token != nil && s.token == token
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func userTables(ctx context.Context, q queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func tableExists(ctx context.Context, q queryer, name string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	return count > 0, err
}

// ResetToken marks that the store was brought to baseline for the current session.
// The first write through the Seeder invalidates it.
type ResetToken struct {
	ID       uuid.UUID
	IssuedAt time.Time

	invalidated atomic.Bool
}

// Valid reports whether the store is still exactly at baseline as far as the harness knows.
func (t *ResetToken) Valid() bool {
	return t != nil && !t.invalidated.Load()
}

// Invalidate marks the baseline as modified.
func (t *ResetToken) Invalidate() {
	if t != nil {
		t.invalidated.Store(true)
	}
}

// ResetError is returned when the store could not be brought to baseline.
type ResetError struct {
	Op  string
	Err error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("resetting store: %s: %v", e.Op, e.Err)
}

func (e *ResetError) Unwrap() error {
	return e.Err
}
