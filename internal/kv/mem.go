package kv

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/roach88/cortex/internal/storage"
)

const memDegree = 32

type memItem struct {
	key []byte
	val []byte
}

func (a *memItem) Less(b btree.Item) bool {
	return bytes.Compare(a.key, b.(*memItem).key) < 0
}

type memTrees [numTables + 1]*btree.BTree

func (ts *memTrees) clone() memTrees {
	var out memTrees
	for i, t := range ts {
		if t != nil {
			out[i] = t.Clone()
		}
	}
	return out
}

// MemEngine keeps every table in a copy-on-write btree. A batch clones the
// committed trees and swaps its clones in on commit. Batches are serialized.
type MemEngine struct {
	writer sync.Mutex

	mu     sync.RWMutex
	trees  memTrees
	closed bool
}

var _ Engine = (*MemEngine)(nil)

// NewMemEngine returns an empty in-memory engine.
func NewMemEngine() *MemEngine {
	e := &MemEngine{}
	for t := Rows; t <= Blobs; t++ {
		e.trees[t] = btree.New(memDegree)
	}
	return e
}

func (e *MemEngine) NewBatch() (Batch, error) {
	e.writer.Lock()
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		e.writer.Unlock()
		return nil, storage.ErrClosed
	}
	trees := e.trees.clone()
	e.mu.RUnlock()
	return &memBatch{memReader: memReader{trees: trees}, e: e}, nil
}

func (e *MemEngine) NewSnapshot() (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, storage.ErrClosed
	}
	// Cloning keeps later batches from sharing nodes with this view.
	return &memSnapshot{memReader{trees: e.trees.clone()}}, nil
}

func (e *MemEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type memReader struct {
	trees memTrees
}

func (r *memReader) tree(t Table) (*btree.BTree, error) {
	if !t.valid() {
		return nil, errors.Newf("kv: unknown table %d", t)
	}
	return r.trees[t], nil
}

func (r *memReader) Get(t Table, key []byte) ([]byte, bool, error) {
	tr, err := r.tree(t)
	if err != nil {
		return nil, false, err
	}
	it := tr.Get(&memItem{key: key})
	if it == nil {
		return nil, false, nil
	}
	return append([]byte{}, it.(*memItem).val...), true, nil
}

func (r *memReader) Scan(t Table, start, end []byte, fn ScanFunc) error {
	tr, err := r.tree(t)
	if err != nil {
		return err
	}
	var ferr error
	iter := func(i btree.Item) bool {
		it := i.(*memItem)
		more, err := fn(it.key, it.val)
		if err != nil {
			ferr = err
			return false
		}
		return more
	}
	switch {
	case end != nil:
		tr.AscendRange(&memItem{key: start}, &memItem{key: end}, iter)
	default:
		tr.AscendGreaterOrEqual(&memItem{key: start}, iter)
	}
	return ferr
}

func (r *memReader) Last(t Table) ([]byte, []byte, bool, error) {
	tr, err := r.tree(t)
	if err != nil {
		return nil, nil, false, err
	}
	it := tr.Max()
	if it == nil {
		return nil, nil, false, nil
	}
	m := it.(*memItem)
	return append([]byte(nil), m.key...), append([]byte{}, m.val...), true, nil
}

type memBatch struct {
	memReader
	e    *MemEngine
	done bool
}

func (b *memBatch) Set(t Table, key, val []byte) error {
	if b.done {
		return ErrBatchDone
	}
	tr, err := b.tree(t)
	if err != nil {
		return err
	}
	tr.ReplaceOrInsert(&memItem{
		key: append([]byte(nil), key...),
		val: append([]byte(nil), val...),
	})
	return nil
}

func (b *memBatch) Delete(t Table, key []byte) error {
	if b.done {
		return ErrBatchDone
	}
	tr, err := b.tree(t)
	if err != nil {
		return err
	}
	tr.Delete(&memItem{key: key})
	return nil
}

func (b *memBatch) Commit() error {
	if b.done {
		return ErrBatchDone
	}
	b.done = true
	defer b.e.writer.Unlock()

	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	if b.e.closed {
		return storage.ErrClosed
	}
	b.e.trees = b.trees
	return nil
}

func (b *memBatch) Abort() error {
	if b.done {
		return nil
	}
	b.done = true
	b.e.writer.Unlock()
	return nil
}

type memSnapshot struct {
	memReader
}

func (s *memSnapshot) Release() error { return nil }
