package kv

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/roach88/cortex/internal/storage"
)

// PebbleEngine stores every table in one pebble database, each table under
// a one-byte key prefix.
type PebbleEngine struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

var _ Engine = (*PebbleEngine)(nil)

// OpenPebble opens or creates a pebble database at dir.
func OpenPebble(dir string, opts *pebble.Options) (*PebbleEngine, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble %s", dir)
	}
	slog.Debug("pebble engine opened", "path", dir)
	return &PebbleEngine{db: db, path: dir}, nil
}

func (e *PebbleEngine) NewBatch() (Batch, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	return &pebbleBatch{b: e.db.NewIndexedBatch()}, nil
}

func (e *PebbleEngine) NewSnapshot() (Snapshot, error) {
	if e.closed.Load() {
		return nil, storage.ErrClosed
	}
	return &pebbleSnapshot{s: e.db.NewSnapshot()}, nil
}

func (e *PebbleEngine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.db.Close(); err != nil {
		return errors.Wrapf(err, "close pebble %s", e.path)
	}
	return nil
}

// pebbleSource is the read surface shared by *pebble.Batch and
// *pebble.Snapshot.
type pebbleSource interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func tableKey(t Table, key []byte) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, byte(t))
	return append(out, key...)
}

func tableBounds(t Table, start, end []byte) (lo, hi []byte) {
	lo = tableKey(t, start)
	if end == nil {
		hi = []byte{byte(t) + 1}
	} else {
		hi = tableKey(t, end)
	}
	return lo, hi
}

func pebbleGet(src pebbleSource, t Table, key []byte) ([]byte, bool, error) {
	if !t.valid() {
		return nil, false, errors.Newf("kv: unknown table %d", t)
	}
	val, closer, err := src.Get(tableKey(t, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s", t)
	}
	defer closer.Close()
	return append([]byte{}, val...), true, nil
}

func pebbleScan(src pebbleSource, t Table, start, end []byte, fn ScanFunc) (err error) {
	if !t.valid() {
		return errors.Newf("kv: unknown table %d", t)
	}
	lo, hi := tableBounds(t, start, end)
	iter, err := src.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return errors.Wrapf(err, "scan %s", t)
	}
	defer func() {
		if cerr := iter.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "scan %s", t)
		}
	}()
	for valid := iter.First(); valid; valid = iter.Next() {
		more, err := fn(iter.Key()[1:], iter.Value())
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return iter.Error()
}

func pebbleLast(src pebbleSource, t Table) (key, val []byte, ok bool, err error) {
	if !t.valid() {
		return nil, nil, false, errors.Newf("kv: unknown table %d", t)
	}
	lo, hi := tableBounds(t, nil, nil)
	iter, err := src.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, nil, false, errors.Wrapf(err, "last %s", t)
	}
	defer iter.Close()
	if !iter.Last() {
		return nil, nil, false, iter.Error()
	}
	key = append([]byte(nil), iter.Key()[1:]...)
	val = append([]byte{}, iter.Value()...)
	return key, val, true, nil
}

type pebbleBatch struct {
	b    *pebble.Batch
	done bool
}

func (b *pebbleBatch) Get(t Table, key []byte) ([]byte, bool, error) {
	if b.done {
		return nil, false, ErrBatchDone
	}
	return pebbleGet(b.b, t, key)
}

func (b *pebbleBatch) Scan(t Table, start, end []byte, fn ScanFunc) error {
	if b.done {
		return ErrBatchDone
	}
	return pebbleScan(b.b, t, start, end, fn)
}

func (b *pebbleBatch) Last(t Table) ([]byte, []byte, bool, error) {
	if b.done {
		return nil, nil, false, ErrBatchDone
	}
	return pebbleLast(b.b, t)
}

func (b *pebbleBatch) Set(t Table, key, val []byte) error {
	if b.done {
		return ErrBatchDone
	}
	if !t.valid() {
		return errors.Newf("kv: unknown table %d", t)
	}
	return b.b.Set(tableKey(t, key), val, nil)
}

func (b *pebbleBatch) Delete(t Table, key []byte) error {
	if b.done {
		return ErrBatchDone
	}
	if !t.valid() {
		return errors.Newf("kv: unknown table %d", t)
	}
	return b.b.Delete(tableKey(t, key), nil)
}

func (b *pebbleBatch) Commit() error {
	if b.done {
		return ErrBatchDone
	}
	b.done = true
	defer b.b.Close()
	if err := b.b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit batch")
	}
	return nil
}

func (b *pebbleBatch) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	return b.b.Close()
}

type pebbleSnapshot struct {
	s *pebble.Snapshot
}

func (s *pebbleSnapshot) Get(t Table, key []byte) ([]byte, bool, error) {
	return pebbleGet(s.s, t, key)
}

func (s *pebbleSnapshot) Scan(t Table, start, end []byte, fn ScanFunc) error {
	return pebbleScan(s.s, t, start, end, fn)
}

func (s *pebbleSnapshot) Last(t Table) ([]byte, []byte, bool, error) {
	return pebbleLast(s.s, t)
}

func (s *pebbleSnapshot) Release() error {
	if err := s.s.Close(); err != nil {
		return errors.Wrap(err, "release snapshot")
	}
	return nil
}
