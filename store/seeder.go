package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"
)

var (
	// ErrStaleToken is returned by a Seeder whose session is no longer the active one.
	ErrStaleToken = errors.New("seeder belongs to a previous session")
	// ErrNotFound is returned by Find if no row matches.
	ErrNotFound = errors.New("row not found")
)

var identRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Seeder creates and inspects rows for the active session. Rows written through it are
// owned by the session and removed by the next reset.
type Seeder struct {
	store *Store
	token *ResetToken
}

// Token returns the reset token this seeder is bound to.
func (s *Seeder) Token() *ResetToken {
	return s.token
}

// Create inserts a row and returns its row id.
func (s *Seeder) Create(ctx context.Context, table string, values map[string]any) (int64, error) {
	if err := s.check(table); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("creating %s row: no values", table)
	}

	columns := lo.Keys(values)
	slices.Sort(columns)
	for _, c := range columns {
		if !identRegexp.MatchString(c) {
			return 0, fmt.Errorf("creating %s row: invalid column name %q", table, c)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table),
		strings.Join(lo.Map(columns, func(c string, _ int) string { return quoteIdent(c) }), ", "),
		strings.Join(lo.Map(columns, func(string, int) string { return "?" }), ", "),
	)
	args := lo.Map(columns, func(c string, _ int) any { return values[c] })

	s.token.Invalidate()
	res, err := s.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("creating %s row: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating %s row: %w", table, err)
	}
	return id, nil
}

// Find returns the row of table with the given id column value.
func (s *Seeder) Find(ctx context.Context, table string, id int64) (map[string]any, error) {
	if err := s.check(table); err != nil {
		return nil, err
	}

	rows, err := s.store.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", quoteIdent(table)), id)
	if err != nil {
		return nil, fmt.Errorf("finding %s row %d: %w", table, id, err)
	}
	defer rows.Close()

	result, err := scanMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("finding %s row %d: %w", table, id, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("finding %s row %d: %w", table, id, ErrNotFound)
	}
	return result[0], nil
}

// All returns all rows of table ordered by rowid.
func (s *Seeder) All(ctx context.Context, table string) ([]map[string]any, error) {
	if err := s.check(table); err != nil {
		return nil, err
	}

	rows, err := s.store.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	return scanMaps(rows)
}

// Count returns the number of rows in table.
func (s *Seeder) Count(ctx context.Context, table string) (int, error) {
	if err := s.check(table); err != nil {
		return 0, err
	}

	var count int
	if err := s.store.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(table))).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return count, nil
}

// Clear deletes all rows of table.
func (s *Seeder) Clear(ctx context.Context, table string) error {
	if err := s.check(table); err != nil {
		return err
	}

	s.token.Invalidate()
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)); err != nil {
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	return nil
}

func (s *Seeder) check(table string) error {
	if !s.store.current(s.token) {
		return ErrStaleToken
	}
	if !identRegexp.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := lo.Map(values, func(_ any, i int) any { return &values[i] })
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
