package sqlstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/storage/storagetest"
)

// createTestStore opens a sqlite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return createTestStore(t)
	})
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("CORTEX_POSTGRES_URL")
	if dsn == "" {
		t.Skip("CORTEX_POSTGRES_URL not set")
	}
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, dsn, Options{PoolSize: 2})
		require.NoError(t, err)
		_, err = s.db.ExecContext(ctx, "TRUNCATE rows, blobs")
		require.NoError(t, err)
		return s
	})
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(context.Background(), path, Options{})
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := OpenSQLite(ctx, path, Options{})
		require.NoError(t, err, "iteration %d", i)
		s.Close()
	}

	s, err := OpenSQLite(ctx, path, Options{})
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"rows", "blobs"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q not found", table)
	}

	v, err := SQLite.getVersion(ctx, s.db)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := OpenSQLite(ctx, path, Options{})
	require.NoError(t, err)
	require.NoError(t, SQLite.setVersion(ctx, s.db, currentSchemaVersion+1))
	s.Close()

	_, err = OpenSQLite(ctx, path, Options{})
	assert.Error(t, err)
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	pragmas := map[string]string{
		"journal_mode": "wal",
		"busy_timeout": "5000",
		"synchronous":  "1",
	}
	for name, want := range pragmas {
		var got string
		require.NoError(t, s.db.QueryRow("PRAGMA "+name).Scan(&got))
		assert.Equal(t, want, got, "pragma %s", name)
	}
}

func TestOpen_PoolSize(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"), Options{PoolSize: 3})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 3, s.db.Stats().MaxOpenConnections)
}

func TestAddRows_RejectsTimeOutOfRange(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	u, err := s.Begin(ctx)
	require.NoError(t, err)
	defer u.Abort()

	err = u.AddRows(ctx, []storage.Row{{Identity: uuid.New(), Prop: "p", Value: storage.Int(1), Time: math.MaxUint64}})
	assert.True(t, errors.Is(err, storage.ErrBadValueType))
}

func TestRowsByProperty_MaxTimeSentinel(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	storagetest.Write(t, s, func(u storage.Unit) {
		require.NoError(t, u.AddRows(ctx, []storage.Row{{Identity: uuid.New(), Prop: "p", Value: storage.Int(1), Time: math.MaxInt64}}))
	})

	storagetest.Read(t, s, func(v storage.View) {
		rows, err := v.RowsByProperty(ctx, storage.Query{Prop: "p", MaxTime: storage.MaxTime})
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		rows, err = v.RowsByProperty(ctx, storage.Query{Prop: "p", MinTime: math.MaxInt64 + 1})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = ? AND b = ?", SQLite.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = $1 AND b = $2", Postgres.rebind("a = ? AND b = ?"))
}

func TestScanRow_BothColumnsSetIsInconsistent(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "test.db"), Options{PoolSize: 1})
	require.NoError(t, err)
	defer s.Close()

	// bypass the CHECK constraint to simulate a damaged table
	_, err = s.db.Exec("PRAGMA ignore_check_constraints = ON")
	require.NoError(t, err)
	iden := uuid.New()
	_, err = s.db.Exec("INSERT INTO rows (iden, prop, strval, intval, tstamp) VALUES (?, 'p', 'x', 1, 1)", iden[:])
	require.NoError(t, err)

	storagetest.Read(t, s, func(v storage.View) {
		_, err := v.RowsByIdentity(ctx, iden)
		assert.True(t, storage.IsInconsistent(err))
	})
}
