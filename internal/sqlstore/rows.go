package sqlstore

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/roach88/cortex/internal/storage"
)

const rowColumns = "iden, prop, strval, intval, tstamp"

// querier is satisfied by *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type reader struct {
	q querier
	d *Dialect
}

// where builds a WHERE clause and its arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// valueColumn returns the column holding values of v's kind and v as a
// driver argument.
func valueColumn(v storage.Value) (string, any, error) {
	switch val := v.(type) {
	case storage.Int:
		return "intval", int64(val), nil
	case storage.Str:
		return "strval", string(val), nil
	default:
		return "", nil, errors.Wrapf(storage.ErrBadValueType, "value %T", v)
	}
}

// queryWhere translates q. It reports false when the time bounds cannot
// match any stored row.
func queryWhere(q storage.Query) (*where, string, bool, error) {
	w := &where{}
	w.add("prop = ?", q.Prop)
	order := "tstamp"
	if q.Value != nil {
		col, arg, err := valueColumn(q.Value)
		if err != nil {
			return nil, "", false, err
		}
		w.add(col+" = ?", arg)
	}

	minTime, maxTime := q.TimeBounds()
	if minTime > math.MaxInt64 || minTime >= maxTime {
		return w, order, false, nil
	}
	if minTime > 0 {
		w.add("tstamp >= ?", int64(minTime))
	}
	if maxTime <= math.MaxInt64 {
		w.add("tstamp < ?", int64(maxTime))
	}
	return w, order, true, nil
}

func rangeWhere(rq storage.RangeQuery) (*where, string, error) {
	var col string
	switch rq.Kind() {
	case storage.KindInt:
		col = "intval"
	case storage.KindStr:
		col = "strval"
	default:
		return nil, "", errors.Wrap(storage.ErrBadValueType, "range bounds must share one kind")
	}
	w := &where{}
	w.add("prop = ?", rq.Prop)
	w.add(col + " IS NOT NULL")
	for _, b := range []struct {
		bound *storage.Bound
		op    string
	}{{rq.Lo, ">"}, {rq.Hi, "<"}} {
		if b.bound == nil {
			continue
		}
		_, arg, err := valueColumn(b.bound.Value)
		if err != nil {
			return nil, "", err
		}
		op := b.op
		if b.bound.Inclusive {
			op += "="
		}
		w.add(col+" "+op+" ?", arg)
	}
	return w, col + ", tstamp", nil
}

func limitClause(n int) string {
	if n <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(n)
}

func (r reader) selectRows(ctx context.Context, query string, args ...any) ([]storage.Row, error) {
	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query rows")
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rows")
	}
	return out, nil
}

func (r reader) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, r.d.rebind(query), args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count rows")
	}
	return n, nil
}

// scanRow folds the split value columns back into one typed value.
func scanRow(rows *sql.Rows) (storage.Row, error) {
	var (
		iden   []byte
		prop   string
		strval sql.NullString
		intval sql.NullInt64
		tstamp int64
	)
	if err := rows.Scan(&iden, &prop, &strval, &intval, &tstamp); err != nil {
		return storage.Row{}, errors.Wrap(err, "scan row")
	}
	id, err := uuid.FromBytes(iden)
	if err != nil {
		return storage.Row{}, storage.Inconsistent("rows", iden, "bad identity: %v", err)
	}
	row := storage.Row{Identity: id, Prop: prop, Time: uint64(tstamp)}
	switch {
	case strval.Valid && !intval.Valid:
		row.Value = storage.Str(strval.String)
	case intval.Valid && !strval.Valid:
		row.Value = storage.Int(intval.Int64)
	default:
		return storage.Row{}, storage.Inconsistent("rows", iden, "property %q must hold exactly one of strval and intval", prop)
	}
	return row, nil
}

func (r reader) RowsByIdentity(ctx context.Context, iden storage.Identity) ([]storage.Row, error) {
	return r.selectRows(ctx, "SELECT "+rowColumns+" FROM rows WHERE iden = ? ORDER BY prop", iden[:])
}

func (r reader) RowsByProperty(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	w, order, ok, err := queryWhere(q)
	if err != nil || !ok {
		return nil, err
	}
	return r.selectRows(ctx, "SELECT "+rowColumns+" FROM rows"+w.String()+" ORDER BY "+order+limitClause(q.Limit), w.args...)
}

func (r reader) SizeByProperty(ctx context.Context, q storage.Query) (int, error) {
	w, _, ok, err := queryWhere(q)
	if err != nil || !ok {
		return 0, err
	}
	return r.count(ctx, "SELECT COUNT(*) FROM rows"+w.String(), w.args...)
}

func (r reader) RowsByValueRange(ctx context.Context, rq storage.RangeQuery) ([]storage.Row, error) {
	w, order, err := rangeWhere(rq)
	if err != nil {
		return nil, err
	}
	return r.selectRows(ctx, "SELECT "+rowColumns+" FROM rows"+w.String()+" ORDER BY "+order+limitClause(rq.Limit), w.args...)
}

func (r reader) SizeByValueRange(ctx context.Context, rq storage.RangeQuery) (int, error) {
	w, _, err := rangeWhere(rq)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, "SELECT COUNT(*) FROM rows"+w.String(), w.args...)
}

func (r reader) Blob(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := r.q.QueryRowContext(ctx, r.d.rebind("SELECT v FROM blobs WHERE k = ?"), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read blob %q", key)
	}
	if v == nil {
		v = []byte{}
	}
	return v, true, nil
}

func (r reader) BlobKeys(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT k FROM blobs ORDER BY k")
	if err != nil {
		return nil, errors.Wrap(err, "query blob keys")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, "scan blob key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate blob keys")
	}
	return keys, nil
}

type view struct {
	reader
	tx *sql.Tx
}

// Release ends the read transaction.
func (v *view) Release() error {
	return v.tx.Rollback()
}
