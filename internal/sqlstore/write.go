package sqlstore

import (
	"context"
	"database/sql"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/storage"
)

type unit struct {
	reader
	tx *sql.Tx
}

// AddRows inserts rows. The unique (iden, prop) index plays the part of the
// identity/property slot check, so a violation is a consistency fault.
func (u *unit) AddRows(ctx context.Context, rows []storage.Row) error {
	stmt, err := u.tx.PrepareContext(ctx, u.d.rebind(
		"INSERT INTO rows ("+rowColumns+") VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, r := range rows {
		if r.Time > math.MaxInt64 {
			return errors.Wrapf(storage.ErrBadValueType, "time %d exceeds the sql timestamp range", r.Time)
		}
		var (
			strval sql.NullString
			intval sql.NullInt64
		)
		switch v := r.Value.(type) {
		case storage.Int:
			intval = sql.NullInt64{Int64: int64(v), Valid: true}
		case storage.Str:
			strval = sql.NullString{String: string(v), Valid: true}
		default:
			return errors.Wrapf(storage.ErrBadValueType, "value %T", r.Value)
		}
		_, err := stmt.ExecContext(ctx, r.Identity[:], r.Prop, strval, intval, int64(r.Time))
		if u.d.isUnique(err) {
			return storage.Inconsistent("rows", append(r.Identity[:], r.Prop...),
				"slot for %s %q already occupied", r.Identity, r.Prop)
		}
		if err != nil {
			return errors.Wrap(err, "insert row")
		}
	}
	return nil
}

func (u *unit) exec(ctx context.Context, query string, args ...any) (int, error) {
	res, err := u.tx.ExecContext(ctx, u.d.rebind(query), args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete rows")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return int(n), nil
}

func (u *unit) DeleteRowsByIdentity(ctx context.Context, iden storage.Identity) (int, error) {
	return u.exec(ctx, "DELETE FROM rows WHERE iden = ?", iden[:])
}

func (u *unit) DeleteRowsByIdentityProperty(ctx context.Context, iden storage.Identity, prop string, v storage.Value) (int, error) {
	w := &where{}
	w.add("iden = ?", iden[:])
	w.add("prop = ?", prop)
	if v != nil {
		col, arg, err := valueColumn(v)
		if err != nil {
			return 0, err
		}
		w.add(col+" = ?", arg)
	}
	return u.exec(ctx, "DELETE FROM rows"+w.String(), w.args...)
}

func (u *unit) DeleteRowsByProperty(ctx context.Context, q storage.Query) (int, error) {
	w, _, ok, err := queryWhere(q)
	if err != nil || !ok {
		return 0, err
	}
	return u.exec(ctx, "DELETE FROM rows"+w.String(), w.args...)
}

func (u *unit) SetBlob(ctx context.Context, key string, val []byte) error {
	if val == nil {
		val = []byte{}
	}
	_, err := u.tx.ExecContext(ctx, u.d.rebind(
		"INSERT INTO blobs (k, v) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET v = excluded.v"), key, val)
	if err != nil {
		return errors.Wrapf(err, "set blob %q", key)
	}
	return nil
}

func (u *unit) DeleteBlob(ctx context.Context, key string) (bool, error) {
	res, err := u.tx.ExecContext(ctx, u.d.rebind("DELETE FROM blobs WHERE k = ?"), key)
	if err != nil {
		return false, errors.Wrapf(err, "delete blob %q", key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

func (u *unit) Commit() error {
	if err := u.tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func (u *unit) Abort() error {
	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "abort")
	}
	return nil
}
