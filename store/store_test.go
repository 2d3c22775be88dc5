package store_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkteam/uiharness/store"
	"github.com/networkteam/uiharness/transcript"
)

var schema = []string{
	`CREATE TABLE things (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT NOT NULL)`,
	`CREATE TABLE tags (id INTEGER PRIMARY KEY, thing_id INTEGER NOT NULL REFERENCES things(id), name TEXT NOT NULL)`,
	`CREATE TABLE settings (id INTEGER PRIMARY KEY, key TEXT NOT NULL, value TEXT NOT NULL)`,
}

func openStore(t *testing.T, options store.Options) *store.Store {
	t.Helper()
	if options.Schema == nil {
		options.Schema = schema
	}
	s, err := store.Open(context.Background(), options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_ResetRemovesResidualData(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{})

	token, err := s.Reset(ctx)
	require.NoError(t, err)
	seeder := s.Seeder(token)

	thingID, err := seeder.Create(ctx, "things", map[string]any{"title": "Thing Title"})
	require.NoError(t, err)
	_, err = seeder.Create(ctx, "tags", map[string]any{"thing_id": thingID, "name": "red"})
	require.NoError(t, err)

	token2, err := s.Reset(ctx)
	require.NoError(t, err)
	seeder2 := s.Seeder(token2)

	for _, table := range []string{"things", "tags", "settings"} {
		count, err := seeder2.Count(ctx, table)
		require.NoError(t, err)
		assert.Zero(t, count, "table %s should be empty after reset", table)
	}

	// Autoincrement counters start over.
	id, err := seeder2.Create(ctx, "things", map[string]any{"title": "Again"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestStore_ResetAppliesFixture(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{
		Fixture: []string{`INSERT INTO settings (key, value) VALUES ('site_name', 'Example')`},
	})

	for i := 0; i < 2; i++ {
		token, err := s.Reset(ctx)
		require.NoError(t, err)

		rows, err := s.Seeder(token).All(ctx, "settings")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Example", rows[0]["value"])
	}
}

func TestStore_FailedResetLeavesNoPartialState(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{
		Fixture: []string{`INSERT INTO missing_table (x) VALUES (1)`},
	})

	_, err := s.DB().ExecContext(ctx, `INSERT INTO things (title) VALUES ('before')`)
	require.NoError(t, err)

	token, err := s.Reset(ctx)
	assert.Nil(t, token)
	var resetErr *store.ResetError
	require.ErrorAs(t, err, &resetErr)
	assert.Equal(t, "fixture statement 1", resetErr.Op)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT count(*) FROM things`).Scan(&count))
	assert.Equal(t, 1, count, "rolled back reset must not have deleted rows")
}

func TestStore_ResetUnreachable(t *testing.T) {
	s := openStore(t, store.Options{})
	require.NoError(t, s.DB().Close())

	_, err := s.Reset(context.Background())
	var resetErr *store.ResetError
	require.ErrorAs(t, err, &resetErr)
	assert.Equal(t, "connect", resetErr.Op)
}

func TestResetToken_InvalidatedByWrites(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{})

	token, err := s.Reset(ctx)
	require.NoError(t, err)
	assert.True(t, token.Valid())

	seeder := s.Seeder(token)
	_, err = seeder.Count(ctx, "things")
	require.NoError(t, err)
	assert.True(t, token.Valid(), "reads keep the baseline")

	_, err = seeder.Create(ctx, "things", map[string]any{"title": "x"})
	require.NoError(t, err)
	assert.False(t, token.Valid())
}

func TestSeeder_StaleAfterNextReset(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{})

	token, err := s.Reset(ctx)
	require.NoError(t, err)
	old := s.Seeder(token)

	_, err = s.Reset(ctx)
	require.NoError(t, err)

	assert.False(t, token.Valid())
	_, err = old.Create(ctx, "things", map[string]any{"title": "late"})
	assert.ErrorIs(t, err, store.ErrStaleToken)
}

func TestSeeder_FindAndClear(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{})

	token, err := s.Reset(ctx)
	require.NoError(t, err)
	seeder := s.Seeder(token)

	id, err := seeder.Create(ctx, "things", map[string]any{"title": "Thing Title"})
	require.NoError(t, err)

	row, err := seeder.Find(ctx, "things", id)
	require.NoError(t, err)
	assert.Equal(t, "Thing Title", row["title"])
	assert.Equal(t, id, row["id"])

	require.NoError(t, seeder.Clear(ctx, "things"))
	_, err = seeder.Find(ctx, "things", id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSeeder_RejectsInvalidIdentifiers(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, store.Options{})

	token, err := s.Reset(ctx)
	require.NoError(t, err)
	seeder := s.Seeder(token)

	_, err = seeder.Count(ctx, "things; DROP TABLE things")
	assert.Error(t, err)
	_, err = seeder.Create(ctx, "things", map[string]any{"title) VALUES ('x'); --": "x"})
	assert.Error(t, err)
	_, err = seeder.Create(ctx, "things", nil)
	assert.Error(t, err)
}

func TestStore_RecordsStatements(t *testing.T) {
	ctx := context.Background()
	tr := transcript.New(100)
	s := openStore(t, store.Options{Recorder: tr})

	token, err := s.Reset(ctx)
	require.NoError(t, err)
	_, err = s.Seeder(token).Create(ctx, "things", map[string]any{"title": "Thing Title"})
	require.NoError(t, err)

	var found bool
	for _, e := range tr.Filter(transcript.SourceSQL) {
		if e.Level == "exec" && strings.HasPrefix(e.Text, `INSERT INTO "things" ("title") VALUES (?) [$1=Thing Title]`) {
			found = true
		}
	}
	assert.True(t, found, "insert should be recorded: %v", tr.Entries())
}
