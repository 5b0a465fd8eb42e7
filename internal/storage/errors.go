package storage

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error taxonomy. Callers match with errors.Is; every error returned by a
// backend or the cortex façade wraps one of these or a driver error.
var (
	// ErrDatabaseInconsistent signals that an index entry did not match the
	// primary table. It is never repaired automatically.
	ErrDatabaseInconsistent = errors.New("database inconsistent")

	// ErrOutOfPrimaryKeys is fatal to the engine instance that returns it.
	ErrOutOfPrimaryKeys = errors.New("out of primary keys")

	// ErrNoSuchAccessPattern is returned for an unregistered range or count handler.
	ErrNoSuchAccessPattern = errors.New("no such access pattern")

	// ErrNoSuchName is returned when a required blob key is absent.
	ErrNoSuchName = errors.New("no such name")

	// ErrNotImplemented marks an access pattern a backend never supports.
	ErrNotImplemented = errors.New("not implemented")

	// ErrBadValueType rejects nil values and types outside {Int, Str}.
	ErrBadValueType = errors.New("bad value type")

	// ErrClosed is returned by a backend after Close.
	ErrClosed = errors.New("storage closed")
)

// InconsistencyError carries the table and key where a consistency fault was
// detected. It matches ErrDatabaseInconsistent under errors.Is.
type InconsistencyError struct {
	// Table names the physical or logical table that was inspected.
	Table string

	// Key is the encoded key that was expected (or not expected) to exist.
	Key []byte

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *InconsistencyError) Error() string {
	if len(e.Key) > 0 {
		return fmt.Sprintf("database inconsistent: %s (table=%s, key=%x)", e.Message, e.Table, e.Key)
	}
	return fmt.Sprintf("database inconsistent: %s (table=%s)", e.Message, e.Table)
}

// Is makes errors.Is(err, ErrDatabaseInconsistent) hold for wrapped faults.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrDatabaseInconsistent
}

// Inconsistent builds a consistency fault with a stack trace attached.
func Inconsistent(table string, key []byte, format string, args ...any) error {
	return errors.WithStack(&InconsistencyError{
		Table:   table,
		Key:     append([]byte(nil), key...),
		Message: fmt.Sprintf(format, args...),
	})
}

// IsInconsistent reports whether err is a consistency fault.
func IsInconsistent(err error) bool {
	return errors.Is(err, ErrDatabaseInconsistent)
}
