package storage

import (
	"math"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Value is a sealed interface over the value kinds a row may carry.
// Only Int and Str implement it.
type Value interface {
	storageValue()
	String() string
}

// Int is a signed 64-bit integer value. Negative integers share the property
// value index with non-negative ones and with strings.
type Int int64

func (Int) storageValue() {}

func (v Int) String() string { return strconv.FormatInt(int64(v), 10) }

// Str is a UTF-8 string value.
type Str string

func (Str) storageValue() {}

func (v Str) String() string { return strconv.Quote(string(v)) }

// Kind reports the kind of a value for range checks and diagnostics.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt
	KindStr
)

// KindOf returns the kind of v, or KindInvalid for nil.
func KindOf(v Value) Kind {
	switch v.(type) {
	case Int:
		return KindInt
	case Str:
		return KindStr
	default:
		return KindInvalid
	}
}

// ValueOf converts a Go value into a Value.
//
// Accepts every Go integer type that fits in int64, strings, and values that
// already implement Value. Nil and anything else fail with ErrBadValueType.
func ValueOf(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, errors.Wrap(ErrBadValueType, "nil value")
	case Int:
		return val, nil
	case Str:
		return val, nil
	case string:
		return Str(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, errors.Wrapf(ErrBadValueType, "integer %d overflows int64", val)
		}
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, errors.Wrapf(ErrBadValueType, "integer %d overflows int64", val)
		}
		return Int(val), nil
	default:
		return nil, errors.Wrapf(ErrBadValueType, "unsupported type %T", v)
	}
}

// Equal reports whether two values have the same kind and content.
// Two nil values are not equal; nil never matches a stored value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return false
	}
	return a == b
}

// Compare orders two values of the same kind. Ints sort before strings, which
// matches neither backend's physical order but is stable for sorting results.
func Compare(a, b Value) int {
	ka, kb := KindOf(a), KindOf(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case Int:
		bv := b.(Int)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	case Str:
		bv := b.(Str)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	return 0
}
