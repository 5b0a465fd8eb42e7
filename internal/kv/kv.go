// Package kv is the ordered key/value layer under the memory and pebble
// backends.
//
// An Engine holds five logical tables that share nothing but a commit
// boundary. Keys within a table compare bytewise. Writers work in a Batch
// that sees its own writes; readers take a Snapshot that never observes
// later commits.
package kv

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Table names one logical keyspace of an Engine.
type Table uint8

const (
	Rows Table = iota + 1
	IdentityProp
	PropValueTime
	PropTime
	Blobs

	numTables = int(Blobs)
)

var tableNames = [...]string{
	Rows:          "rows",
	IdentityProp:  "index_ip",
	PropValueTime: "index_pvt",
	PropTime:      "index_pt",
	Blobs:         "blobs",
}

func (t Table) String() string {
	if int(t) < len(tableNames) && tableNames[t] != "" {
		return tableNames[t]
	}
	return fmt.Sprintf("table(%d)", uint8(t))
}

func (t Table) valid() bool { return t >= Rows && t <= Blobs }

// ErrBatchDone is returned by a Batch after Commit or Abort.
var ErrBatchDone = errors.New("kv: batch already finished")

// ScanFunc receives each entry of a scan in ascending key order. The slices
// are only valid for the duration of the call. Returning false stops the
// scan.
type ScanFunc func(key, val []byte) (bool, error)

// Reader is the read side shared by batches and snapshots.
type Reader interface {
	// Get returns a copy of the value stored at key.
	Get(t Table, key []byte) ([]byte, bool, error)

	// Scan visits keys in [start, end). A nil end scans to the end of the
	// table.
	Scan(t Table, start, end []byte, fn ScanFunc) error

	// Last returns the greatest key in the table.
	Last(t Table) (key, val []byte, ok bool, err error)
}

// Batch is an atomic set of writes that reads its own writes.
type Batch interface {
	Reader
	Set(t Table, key, val []byte) error
	Delete(t Table, key []byte) error
	Commit() error
	Abort() error
}

// Snapshot is a read-only point-in-time view.
type Snapshot interface {
	Reader
	Release() error
}

// Engine is an ordered store with atomic batches.
type Engine interface {
	NewBatch() (Batch, error)
	NewSnapshot() (Snapshot, error)
	Close() error
}
