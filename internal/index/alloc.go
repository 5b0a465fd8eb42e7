package index

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/codec"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
)

// FirstPK is the first key handed out by an empty store. Zero is never
// issued.
const FirstPK codec.PK = 1

// Allocator hands out primary keys in strictly increasing order.
//
// It is not safe for concurrent use; callers allocate while holding the
// write lock.
type Allocator struct {
	next      codec.PK
	exhausted bool
}

// NewAllocator seeds an allocator from the last key of the rows table.
func NewAllocator(r kv.Reader) (*Allocator, error) {
	key, _, ok, err := r.Last(kv.Rows)
	if err != nil {
		return nil, errors.Wrap(err, "read last primary key")
	}
	if !ok {
		return &Allocator{next: FirstPK}, nil
	}
	pk, err := codec.DecodePK(key)
	if err != nil {
		return nil, storage.Inconsistent(kv.Rows.String(), key, "undecodable primary key: %v", err)
	}
	return AllocatorAfter(pk), nil
}

// AllocatorAfter returns an allocator whose first key follows last.
func AllocatorAfter(last codec.PK) *Allocator {
	if last == math.MaxUint64 {
		return &Allocator{next: last, exhausted: true}
	}
	if last < FirstPK {
		return &Allocator{next: FirstPK}
	}
	return &Allocator{next: last + 1}
}

// Next returns a fresh primary key. Once the key space is used up every
// call fails with ErrOutOfPrimaryKeys.
func (a *Allocator) Next() (codec.PK, error) {
	if a.exhausted {
		return 0, errors.Wrapf(storage.ErrOutOfPrimaryKeys, "after %d", a.next)
	}
	pk := a.next
	if pk == math.MaxUint64 {
		a.exhausted = true
	} else {
		a.next++
	}
	return pk, nil
}
