package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestExtractUp(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INTEGER);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id INTEGER);\n", ExtractUp(content))
	assert.Equal(t, "SELECT 1;", ExtractUp("SELECT 1;"))
}

func TestApply_RunsEachFileOnce(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	defer db.Close()

	migrations := fstest.MapFS{
		"migrations/001_items.sql": {Data: []byte("-- +migrate Up\nCREATE TABLE items (id INTEGER PRIMARY KEY);\n")},
		"migrations/002_seed.sql":  {Data: []byte("INSERT INTO items (id) VALUES (1);")},
		"migrations/README.md":     {Data: []byte("ignored")},
	}
	ctx := context.Background()

	require.NoError(t, Apply(ctx, db, migrations, "migrations"))
	require.NoError(t, Apply(ctx, db, migrations, "migrations"), "second run must be a no-op")

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM items`).Scan(&rows))
	assert.Equal(t, 1, rows)

	var applied int
	require.NoError(t, db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 2, applied)
}
