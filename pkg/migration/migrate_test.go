package migration

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestRun はマイグレーションの適用を検証する。
func TestRun(t *testing.T) {
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql":      {Data: []byte(`CREATE INDEX idx_items_name ON items(name);`)},
		"migrations/000001_create_items.up.sql":   {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`)},
		"migrations/000001_create_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
		"migrations/README.md":                    {Data: []byte(`ignored`)},
	}

	t.Run("未適用のマイグレーションを順に適用すること", func(t *testing.T) {
		db := openDB(t)

		n, err := Run(ctx, db, fsys, "migrations", log)
		require.NoError(t, err)
		require.Equal(t, 2, n)

		n, err = Run(ctx, db, fsys, "migrations", log)
		require.NoError(t, err)
		require.Equal(t, 0, n, "second run is a no-op")

		var count int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		require.Equal(t, 2, count)
	})

	t.Run("失敗したマイグレーションはロールバックされること", func(t *testing.T) {
		db := openDB(t)
		broken := fstest.MapFS{
			"migrations/000001_create_items.up.sql": {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY);`)},
			"migrations/000002_broken.up.sql":       {Data: []byte(`CREATE TABLE;`)},
		}

		n, err := Run(ctx, db, broken, "migrations", log)
		require.Error(t, err)
		require.Equal(t, 1, n)

		var count int
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
		require.Equal(t, 1, count)
	})

	t.Run("重複したバージョンは拒否されること", func(t *testing.T) {
		db := openDB(t)
		dup := fstest.MapFS{
			"migrations/000001_a.up.sql": {Data: []byte(`SELECT 1;`)},
			"migrations/000001_b.up.sql": {Data: []byte(`SELECT 1;`)},
		}

		_, err := Run(ctx, db, dup, "migrations", log)
		require.Error(t, err)
	})
}
