package codec

import (
	"bytes"
	"math"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/storage"
)

// ErrDecode is returned for unrecognized markers and truncated input.
var ErrDecode = errors.New("decode error")

const (
	escape      byte = 0x00
	escapedTerm byte = 0x01
	escaped00   byte = 0xff

	strMarker byte = 0x12

	intMin      = 0x80
	intMaxWidth = 8
	intZero     = intMin + intMaxWidth
	intMax      = 0xfd
	intSmall    = intMax - intZero - intMaxWidth // 109
)

// Bounds of each value kind inside a property's value index, used to scan
// "every integer" or "every string" of a property.
var (
	StrSpanStart = []byte{strMarker}
	StrSpanEnd   = []byte{strMarker + 1}
	IntSpanStart = []byte{intMin}
	IntSpanEnd   = []byte{intMax + 1}
)

// EncodeValue appends the encoding of v to b.
func EncodeValue(b []byte, v storage.Value) ([]byte, error) {
	switch val := v.(type) {
	case storage.Int:
		return EncodeInt(b, int64(val)), nil
	case storage.Str:
		return EncodeString(b, string(val)), nil
	default:
		return nil, errors.Wrapf(storage.ErrBadValueType, "encode %T", v)
	}
}

// DecodeValue decodes a value that must occupy all of b.
func DecodeValue(b []byte) (storage.Value, error) {
	rest, v, err := DecodeValuePrefix(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errors.Wrapf(ErrDecode, "%d trailing bytes after value", len(rest))
	}
	return v, nil
}

// DecodeValuePrefix decodes one value from the front of b and returns the
// remaining bytes.
func DecodeValuePrefix(b []byte) ([]byte, storage.Value, error) {
	if len(b) == 0 {
		return nil, nil, errors.Wrap(ErrDecode, "empty value")
	}
	switch m := b[0]; {
	case m == strMarker:
		rest, s, err := DecodeString(b)
		if err != nil {
			return nil, nil, err
		}
		return rest, storage.Str(s), nil
	case m >= intMin && m <= intMax:
		rest, i, err := DecodeInt(b)
		if err != nil {
			return nil, nil, err
		}
		return rest, storage.Int(i), nil
	default:
		return nil, nil, errors.Wrapf(ErrDecode, "unknown value marker %#x", m)
	}
}

// EncodeInt appends the order-preserving encoding of v to b.
func EncodeInt(b []byte, v int64) []byte {
	if v >= 0 {
		return EncodeUint(b, uint64(v))
	}
	n := negWidth(v)
	b = append(b, byte(intZero-n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// negWidth returns how many low-order bytes of the negative v are needed
// so that the dropped high bytes are all 0xff. The ones' complement of v is
// non-negative and its width matches.
func negWidth(v int64) int {
	c := uint64(^v)
	n := 1
	for c > 0xff {
		c >>= 8
		n++
	}
	return n
}

// EncodeUint appends the order-preserving encoding of a non-negative v.
func EncodeUint(b []byte, v uint64) []byte {
	if v <= intSmall {
		return append(b, intZero+byte(v))
	}
	n := 1
	for x := v >> 8; x > 0; x >>= 8 {
		n++
	}
	b = append(b, byte(intMax-intMaxWidth+n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// DecodeUint decodes a value written by EncodeUint.
func DecodeUint(b []byte) ([]byte, uint64, error) {
	if len(b) == 0 {
		return nil, 0, errors.Wrap(ErrDecode, "insufficient bytes to decode uint")
	}
	m := int(b[0])
	b = b[1:]
	if m < intZero || m > intMax {
		return nil, 0, errors.Wrapf(ErrDecode, "invalid uint marker %#x", m)
	}
	if m-intZero <= intSmall {
		return b, uint64(m - intZero), nil
	}
	n := m - (intMax - intMaxWidth)
	if len(b) < n {
		return nil, 0, errors.Wrapf(ErrDecode, "need %d bytes for uint, have %d", n, len(b))
	}
	var v uint64
	for _, t := range b[:n] {
		v = v<<8 | uint64(t)
	}
	return b[n:], v, nil
}

// DecodeInt decodes a value written by EncodeInt.
func DecodeInt(b []byte) ([]byte, int64, error) {
	if len(b) == 0 {
		return nil, 0, errors.Wrap(ErrDecode, "insufficient bytes to decode int")
	}
	if m := int(b[0]); m >= intMin && m < intZero {
		n := intZero - m
		b = b[1:]
		if len(b) < n {
			return nil, 0, errors.Wrapf(ErrDecode, "need %d bytes for negative int, have %d", n, len(b))
		}
		var c int64
		for _, t := range b[:n] {
			c = c<<8 | int64(^t)
		}
		return b[n:], ^c, nil
	}
	rest, u, err := DecodeUint(b)
	if err != nil {
		return nil, 0, err
	}
	if u > math.MaxInt64 {
		return nil, 0, errors.Wrapf(ErrDecode, "uint %d overflows int64", u)
	}
	return rest, int64(u), nil
}

// EncodeString appends the escaped, terminated encoding of s to b.
func EncodeString(b []byte, s string) []byte {
	b = append(b, strMarker)
	for {
		i := strings.IndexByte(s, escape)
		if i < 0 {
			break
		}
		b = append(b, s[:i]...)
		b = append(b, escape, escaped00)
		s = s[i+1:]
	}
	b = append(b, s...)
	return append(b, escape, escapedTerm)
}

// DecodeString decodes a value written by EncodeString.
func DecodeString(b []byte) ([]byte, string, error) {
	if len(b) == 0 || b[0] != strMarker {
		return nil, "", errors.Wrapf(ErrDecode, "missing string marker in %#x", b)
	}
	b = b[1:]
	var out []byte
	for {
		i := bytes.IndexByte(b, escape)
		if i < 0 || i+1 >= len(b) {
			return nil, "", errors.Wrap(ErrDecode, "unterminated string")
		}
		switch b[i+1] {
		case escapedTerm:
			out = append(out, b[:i]...)
			return b[i+2:], string(out), nil
		case escaped00:
			out = append(out, b[:i]...)
			out = append(out, 0x00)
			b = b[i+2:]
		default:
			return nil, "", errors.Wrapf(ErrDecode, "unknown escape %#x", b[i+1])
		}
	}
}
