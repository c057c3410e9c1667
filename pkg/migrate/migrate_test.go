package migrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/000001_widgets.up.sql":   {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
		"sql/000001_widgets.down.sql": {Data: []byte(`DROP TABLE widgets;`)},
		"sql/000002_gadgets.up.sql":   {Data: []byte(`CREATE TABLE gadgets (id TEXT PRIMARY KEY);`)},
		"sql/README.md":               {Data: []byte(`ignored`)},
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrator_LoadFromFS(t *testing.T) {
	m := New(openDB(t), "test_migrations")
	require.NoError(t, m.LoadFromFS(testFS(), "sql"))

	migs := m.Migrations()
	require.Len(t, migs, 2)
	assert.Equal(t, 1, migs[0].Version)
	assert.Equal(t, "widgets", migs[0].Name)
	assert.NotEmpty(t, migs[0].Down)
	assert.Equal(t, "gadgets", migs[1].Name)
	assert.Empty(t, migs[1].Down)
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := New(db, "test_migrations")
	require.NoError(t, m.LoadFromFS(testFS(), "sql"))

	applied, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)

	applied, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	_, err = db.Exec(`INSERT INTO gadgets (id) VALUES ('g1')`)
	require.NoError(t, err)
}

func TestMigrator_Down(t *testing.T) {
	ctx := context.Background()
	m := New(openDB(t), "test_migrations")
	require.NoError(t, m.LoadFromFS(testFS(), "sql"))
	_, err := m.Up(ctx)
	require.NoError(t, err)

	t.Run("latest has no down script", func(t *testing.T) {
		err := m.Down(ctx)
		assert.ErrorIs(t, err, ErrNoDownScript)
	})
}

func TestMigrator_EmptyDatabaseVersion(t *testing.T) {
	m := New(openDB(t), "test_migrations")
	version, err := m.Version(context.Background())
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
}

func TestRun_MissingUpScript(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/000001_broken.down.sql": {Data: []byte(`SELECT 1;`)},
	}
	err := Run(context.Background(), openDB(t), "test_migrations", fsys, "sql")
	assert.Error(t, err)
}
