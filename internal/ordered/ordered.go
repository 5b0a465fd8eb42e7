// Package ordered implements storage.Backend over an ordered key/value
// engine using the four-table layout of package index. The same code serves
// the in-memory engine and pebble.
package ordered

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/roach88/cortex/internal/index"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
)

// Backend is a storage.Backend over a kv.Engine.
//
// The primary key allocator is only touched inside a Unit, and the caller
// serializes units, so the backend needs no lock of its own.
type Backend struct {
	engine kv.Engine
	maint  *index.Maintainer
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Checker = (*Backend)(nil)
)

// New wraps engine and seeds the primary key allocator from its rows table.
func New(engine kv.Engine) (*Backend, error) {
	snap, err := engine.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	alloc, err := index.NewAllocator(snap)
	if err != nil {
		return nil, err
	}
	return &Backend{engine: engine, maint: index.NewMaintainer(alloc)}, nil
}

// OpenMem returns a backend over a fresh in-memory engine.
func OpenMem() *Backend {
	b, err := New(kv.NewMemEngine())
	if err != nil {
		// an empty memory engine cannot fail to seed
		panic(err)
	}
	return b
}

// OpenPebble opens a pebble database at dir.
func OpenPebble(dir string, opts *pebble.Options) (*Backend, error) {
	engine, err := kv.OpenPebble(dir, opts)
	if err != nil {
		return nil, err
	}
	b, err := New(engine)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Begin(ctx context.Context) (storage.Unit, error) {
	batch, err := b.engine.NewBatch()
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	return &unit{reader: reader{r: batch}, batch: batch, maint: b.maint}, nil
}

func (b *Backend) View(ctx context.Context) (storage.View, error) {
	snap, err := b.engine.NewSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "view")
	}
	return &view{reader: reader{r: snap}, snap: snap}, nil
}

// Check verifies the rows table against every index.
func (b *Backend) Check(ctx context.Context) error {
	snap, err := b.engine.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Release()

	rep, err := index.Check(snap)
	if err != nil {
		return err
	}
	slog.Debug("index check passed", "rows", rep.Rows)
	return nil
}

func (b *Backend) Close() error {
	return b.engine.Close()
}

type reader struct {
	r kv.Reader
}

func (r reader) RowsByIdentity(ctx context.Context, iden storage.Identity) ([]storage.Row, error) {
	pks, err := index.IdentityPKs(r.r, iden)
	if err != nil {
		return nil, err
	}
	return index.FetchRows(r.r, pks)
}

func (r reader) RowsByProperty(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	pks, err := index.LookupRange(r.r, q)
	if err != nil {
		return nil, err
	}
	return index.FetchRows(r.r, pks)
}

func (r reader) SizeByProperty(ctx context.Context, q storage.Query) (int, error) {
	return index.CountRange(r.r, q)
}

func (r reader) RowsByValueRange(ctx context.Context, q storage.RangeQuery) ([]storage.Row, error) {
	pks, err := index.LookupValueRange(r.r, q)
	if err != nil {
		return nil, err
	}
	return index.FetchRows(r.r, pks)
}

func (r reader) SizeByValueRange(ctx context.Context, q storage.RangeQuery) (int, error) {
	return index.CountValueRange(r.r, q)
}

func (r reader) Blob(ctx context.Context, key string) ([]byte, bool, error) {
	return r.r.Get(kv.Blobs, []byte(key))
}

func (r reader) BlobKeys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.r.Scan(kv.Blobs, nil, nil, func(k, _ []byte) (bool, error) {
		keys = append(keys, string(k))
		return true, nil
	})
	return keys, err
}

type view struct {
	reader
	snap kv.Snapshot
}

func (v *view) Release() error {
	return v.snap.Release()
}

type unit struct {
	reader
	batch kv.Batch
	maint *index.Maintainer
}

func (u *unit) AddRows(ctx context.Context, rows []storage.Row) error {
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := u.maint.InsertRow(u.batch, r); err != nil {
			return err
		}
	}
	return nil
}

func (u *unit) DeleteRowsByIdentity(ctx context.Context, iden storage.Identity) (int, error) {
	pks, err := index.IdentityPKs(u.batch, iden)
	if err != nil {
		return 0, err
	}
	for _, pk := range pks {
		if _, err := u.maint.DeleteRowByPK(u.batch, pk, index.AllIndexes); err != nil {
			return 0, err
		}
	}
	return len(pks), nil
}

func (u *unit) DeleteRowsByIdentityProperty(ctx context.Context, iden storage.Identity, prop string, v storage.Value) (int, error) {
	pk, ok, err := index.LookupByIdentityProperty(u.batch, iden, prop)
	if err != nil || !ok {
		return 0, err
	}
	if v != nil {
		row, err := index.FetchRow(u.batch, pk)
		if err != nil {
			return 0, err
		}
		if !storage.Equal(row.Value, v) {
			return 0, nil
		}
	}
	if _, err := u.maint.DeleteRowByPK(u.batch, pk, index.AllIndexes); err != nil {
		return 0, err
	}
	return 1, nil
}

func (u *unit) DeleteRowsByProperty(ctx context.Context, q storage.Query) (int, error) {
	q.Limit = 0
	pks, err := index.LookupRange(u.batch, q)
	if err != nil {
		return 0, err
	}
	for _, pk := range pks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := u.maint.DeleteRowByPK(u.batch, pk, index.AllIndexes); err != nil {
			return 0, err
		}
	}
	return len(pks), nil
}

func (u *unit) SetBlob(ctx context.Context, key string, val []byte) error {
	return u.batch.Set(kv.Blobs, []byte(key), val)
}

func (u *unit) DeleteBlob(ctx context.Context, key string) (bool, error) {
	_, ok, err := u.batch.Get(kv.Blobs, []byte(key))
	if err != nil || !ok {
		return false, err
	}
	return true, u.batch.Delete(kv.Blobs, []byte(key))
}

func (u *unit) Commit() error {
	return u.batch.Commit()
}

func (u *unit) Abort() error {
	return u.batch.Abort()
}
