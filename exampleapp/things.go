package exampleapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoThings is returned by Latest if the table is empty.
var ErrNoThings = errors.New("no things")

// Thing is a row of the things table.
type Thing struct {
	ID        int64
	Title     string
	CreatedAt time.Time
}

// ThingRepository reads and writes things.
type ThingRepository struct {
	db *sql.DB
}

// NewThingRepository creates a repository on db.
func NewThingRepository(db *sql.DB) *ThingRepository {
	return &ThingRepository{db: db}
}

// List returns all things, newest first.
func (r *ThingRepository) List(ctx context.Context) ([]Thing, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, created_at FROM things ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying things: %w", err)
	}
	defer rows.Close()

	var things []Thing
	for rows.Next() {
		var t Thing
		if err := rows.Scan(&t.ID, &t.Title, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning thing: %w", err)
		}
		things = append(things, t)
	}
	return things, rows.Err()
}

// Latest returns the most recently created thing.
func (r *ThingRepository) Latest(ctx context.Context) (Thing, error) {
	var t Thing
	err := r.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM things ORDER BY id DESC LIMIT 1`).
		Scan(&t.ID, &t.Title, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNoThings
	}
	if err != nil {
		return t, fmt.Errorf("querying latest thing: %w", err)
	}
	return t, nil
}

// Create inserts a thing and returns its ID.
func (r *ThingRepository) Create(ctx context.Context, title string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO things (title) VALUES (?)`, title)
	if err != nil {
		return 0, fmt.Errorf("inserting thing: %w", err)
	}
	return res.LastInsertId()
}
