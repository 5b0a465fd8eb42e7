package sqlstore

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/storage"
)

// Schema version tracking:
// 1 - rows and blobs tables with the four row indices
const currentSchemaVersion = 1

// DefaultPoolSize is used when Options.PoolSize is zero.
const DefaultPoolSize = 4

// Options configures a Store.
type Options struct {
	// PoolSize caps open connections.
	PoolSize int
}

// Store is a storage.Backend over a relational database.
type Store struct {
	db      *sql.DB
	dialect *Dialect
}

var _ storage.Backend = (*Store)(nil)

// OpenSQLite creates or opens a sqlite database at path.
//
// The database is configured with:
//   - WAL mode so views read while a unit writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//
// Pragmas go in the DSN so every pooled connection gets them.
func OpenSQLite(ctx context.Context, path string, opts Options) (*Store, error) {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	dsn := "file:" + path + "?" + q.Encode()
	return Open(ctx, SQLite, dsn, opts)
}

// OpenPostgres connects to the postgres database at dsn.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Store, error) {
	return Open(ctx, Postgres, dsn, opts)
}

// Open connects with d's driver and applies the schema. It is idempotent.
func Open(ctx context.Context, d *Dialect, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", d.Name)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "connect to %s database", d.Name)
	}

	pool := opts.PoolSize
	if pool <= 0 {
		pool = DefaultPoolSize
	}
	db.SetMaxOpenConns(pool)
	db.SetMaxIdleConns(pool)

	if err := applySchema(ctx, db, d); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	slog.Debug("sql store opened", "dialect", d.Name, "pool_size", pool)
	return &Store{db: db, dialect: d}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB, d *Dialect) error {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return errors.Wrap(err, "execute schema")
	}
	return runMigrations(ctx, db, d)
}

// runMigrations applies incremental schema migrations based on the stored
// schema version.
func runMigrations(ctx context.Context, db *sql.DB, d *Dialect) error {
	version, err := d.getVersion(ctx, db)
	if err != nil {
		return errors.Wrap(err, "get schema version")
	}
	if version > currentSchemaVersion {
		return errors.Newf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	// Version 1 is the base schema, already applied above.

	if err := d.setVersion(ctx, db, currentSchemaVersion); err != nil {
		return errors.Wrap(err, "set schema version")
	}
	slog.Info("sql schema migrated", "dialect", d.Name, "from", version, "to", currentSchemaVersion)
	return nil
}

func (s *Store) Begin(ctx context.Context) (storage.Unit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	return &unit{reader: reader{q: tx, d: s.dialect}, tx: tx}, nil
}

func (s *Store) View(ctx context.Context) (storage.View, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, errors.Wrap(err, "view")
	}
	return &view{reader: reader{q: tx, d: s.dialect}, tx: tx}, nil
}
