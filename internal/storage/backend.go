package storage

import "context"

// Backend is the contract every physical store implements. A cortex holds
// exactly one Backend, selected at construction time.
//
// Writes happen through a Unit, which is one atomic commit. The cortex
// serializes Units with its write lock, so a Backend may assume at most one
// Unit is open at a time. Views may be opened concurrently with each other and
// with a Unit and must observe a consistent snapshot.
type Backend interface {
	// Begin opens an atomic write unit.
	Begin(ctx context.Context) (Unit, error)

	// View opens a read-only snapshot.
	View(ctx context.Context) (View, error)

	// Close releases the backend. Open views and units become invalid.
	Close() error
}

// Reader holds the read operations shared by views and units. A Unit's reads
// observe its own uncommitted writes.
type Reader interface {
	RowsByIdentity(ctx context.Context, iden Identity) ([]Row, error)
	RowsByProperty(ctx context.Context, q Query) ([]Row, error)
	SizeByProperty(ctx context.Context, q Query) (int, error)

	// RowsByValueRange and SizeByValueRange back the named range handlers.
	// Backends without range support return ErrNotImplemented.
	RowsByValueRange(ctx context.Context, q RangeQuery) ([]Row, error)
	SizeByValueRange(ctx context.Context, q RangeQuery) (int, error)

	// Blob returns the value stored under key and whether it exists.
	Blob(ctx context.Context, key string) ([]byte, bool, error)
	BlobKeys(ctx context.Context) ([]string, error)
}

// View is a read-only snapshot.
type View interface {
	Reader
	Release() error
}

// Unit is one atomic write unit. Either Commit or Abort must be called.
type Unit interface {
	Reader

	// AddRows inserts rows that the caller has already validated. An occupied
	// identity+property slot is a consistency fault.
	AddRows(ctx context.Context, rows []Row) error

	// DeleteRowsByIdentity removes every row of iden and returns the count.
	DeleteRowsByIdentity(ctx context.Context, iden Identity) (int, error)

	// DeleteRowsByIdentityProperty removes the row in the iden+prop slot. When
	// v is non-nil the row is only removed if it currently holds v.
	DeleteRowsByIdentityProperty(ctx context.Context, iden Identity, prop string, v Value) (int, error)

	// DeleteRowsByProperty removes every row matching q (Limit is ignored).
	DeleteRowsByProperty(ctx context.Context, q Query) (int, error)

	SetBlob(ctx context.Context, key string, val []byte) error
	DeleteBlob(ctx context.Context, key string) (bool, error)

	Commit() error
	Abort() error
}

// Checker is implemented by backends that can verify that every index
// agrees with the primary table.
type Checker interface {
	Check(ctx context.Context) error
}
