// Package index maintains the rows table and its three index tables.
//
// Every row lives in kv.Rows under its primary key and is reachable from
// exactly one entry in each of index_ip, index_pvt and index_pt. The
// Maintainer keeps the four tables in step inside a caller's batch and
// reports any disagreement between them as a consistency fault.
package index

import (
	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/codec"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
)

// Which selects index tables for DeleteRowByPK.
type Which uint8

const (
	IdentityIndex Which = 1 << iota
	ValueTimeIndex
	TimeIndex

	AllIndexes = IdentityIndex | ValueTimeIndex | TimeIndex
)

// Maintainer writes rows and index entries.
type Maintainer struct {
	alloc *Allocator
}

// NewMaintainer returns a maintainer that draws keys from alloc.
func NewMaintainer(alloc *Allocator) *Maintainer {
	return &Maintainer{alloc: alloc}
}

// InsertRow stores r and its three index entries. The identity/property
// slot must be free.
func (m *Maintainer) InsertRow(b kv.Batch, r storage.Row) (codec.PK, error) {
	ipKey := codec.IdentityPropKey(r.Identity, r.Prop)
	if _, ok, err := b.Get(kv.IdentityProp, ipKey); err != nil {
		return 0, err
	} else if ok {
		return 0, storage.Inconsistent(kv.IdentityProp.String(), ipKey,
			"slot for %s %q already occupied", r.Identity, r.Prop)
	}

	image, err := codec.EncodeRow(r)
	if err != nil {
		return 0, err
	}

	pk, err := m.alloc.Next()
	if err != nil {
		return 0, err
	}
	pvtKey, err := codec.PropValueTimeKey(r.Prop, r.Value, r.Time, pk)
	if err != nil {
		return 0, err
	}
	ref := codec.EncodePKRef(pk)

	writes := []struct {
		t kv.Table
		k []byte
		v []byte
	}{
		{kv.Rows, codec.EncodePK(pk), image},
		{kv.IdentityProp, ipKey, ref},
		{kv.PropValueTime, pvtKey, ref},
		{kv.PropTime, codec.PropTimeKey(r.Prop, r.Time, pk), ref},
	}
	for _, w := range writes {
		if err := b.Set(w.t, w.k, w.v); err != nil {
			return 0, errors.Wrapf(err, "insert into %s", w.t)
		}
	}
	return pk, nil
}

// DeleteRowByPK removes the row stored under pk and the selected index
// entries, returning the removed row. Every selected entry must exist and
// point back at pk.
func (m *Maintainer) DeleteRowByPK(b kv.Batch, pk codec.PK, which Which) (storage.Row, error) {
	row, err := FetchRow(b, pk)
	if err != nil {
		return storage.Row{}, err
	}
	if err := b.Delete(kv.Rows, codec.EncodePK(pk)); err != nil {
		return storage.Row{}, errors.Wrapf(err, "delete from %s", kv.Rows)
	}

	type entry struct {
		t kv.Table
		k []byte
	}
	var entries []entry
	if which&IdentityIndex != 0 {
		entries = append(entries, entry{kv.IdentityProp, codec.IdentityPropKey(row.Identity, row.Prop)})
	}
	if which&ValueTimeIndex != 0 {
		k, err := codec.PropValueTimeKey(row.Prop, row.Value, row.Time, pk)
		if err != nil {
			return storage.Row{}, err
		}
		entries = append(entries, entry{kv.PropValueTime, k})
	}
	if which&TimeIndex != 0 {
		entries = append(entries, entry{kv.PropTime, codec.PropTimeKey(row.Prop, row.Time, pk)})
	}

	for _, e := range entries {
		if err := deleteEntry(b, e.t, e.k, pk); err != nil {
			return storage.Row{}, err
		}
	}
	return row, nil
}

func deleteEntry(b kv.Batch, t kv.Table, key []byte, pk codec.PK) error {
	val, ok, err := b.Get(t, key)
	if err != nil {
		return err
	}
	if !ok {
		return storage.Inconsistent(t.String(), key, "missing index entry for pk %d", pk)
	}
	got, err := codec.DecodePKRef(val)
	if err != nil {
		return storage.Inconsistent(t.String(), key, "undecodable index entry: %v", err)
	}
	if got != pk {
		return storage.Inconsistent(t.String(), key, "index entry points at pk %d, want %d", got, pk)
	}
	return b.Delete(t, key)
}

// FetchRow reads and decodes the row stored under pk.
func FetchRow(r kv.Reader, pk codec.PK) (storage.Row, error) {
	key := codec.EncodePK(pk)
	val, ok, err := r.Get(kv.Rows, key)
	if err != nil {
		return storage.Row{}, err
	}
	if !ok {
		return storage.Row{}, storage.Inconsistent(kv.Rows.String(), key, "no row for pk %d", pk)
	}
	row, err := codec.DecodeRow(val)
	if err != nil {
		return storage.Row{}, storage.Inconsistent(kv.Rows.String(), key, "undecodable row: %v", err)
	}
	return row, nil
}
