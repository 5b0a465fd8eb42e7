package sqlstore

import (
	"context"
	"database/sql"
	_ "embed"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Dialect captures what differs between the supported databases: driver,
// schema text, placeholder style, version bookkeeping and how a unique
// violation is reported.
type Dialect struct {
	Name   string
	driver string
	schema string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool

	getVersion func(ctx context.Context, db *sql.DB) (int, error)
	setVersion func(ctx context.Context, db *sql.DB, v int) error
	isUnique   func(err error) bool
}

// SQLite stores rows in a sqlite database file.
var SQLite = &Dialect{
	Name:   "sqlite",
	driver: "sqlite3",
	schema: sqliteSchema,
	getVersion: func(ctx context.Context, db *sql.DB) (int, error) {
		var v int
		err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
		return v, err
	},
	setVersion: func(ctx context.Context, db *sql.DB, v int) error {
		_, err := db.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(v))
		return err
	},
	isUnique: func(err error) bool {
		var se sqlite3.Error
		return errors.As(err, &se) &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	},
}

// Postgres stores rows in a postgres database reached through pgx.
var Postgres = &Dialect{
	Name:     "postgres",
	driver:   "pgx",
	schema:   postgresSchema,
	numbered: true,
	getVersion: func(ctx context.Context, db *sql.DB) (int, error) {
		var v int
		err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v)
		return v, err
	},
	setVersion: func(ctx context.Context, db *sql.DB, v int) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ($1)", v); err != nil {
			return err
		}
		return tx.Commit()
	},
	isUnique: func(err error) bool {
		var pe *pgconn.PgError
		return errors.As(err, &pe) && pe.Code == "23505"
	},
}

// rebind rewrites ? placeholders for dialects that number them. Queries in
// this package never contain a literal question mark.
func (d *Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
