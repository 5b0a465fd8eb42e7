package codec

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/storage"
)

const (
	// IdentityLen is the width of an encoded identity.
	IdentityLen = 16
	// TimeLen is the width of an encoded timestamp.
	TimeLen = 8
	// PKLen is the width of an encoded primary key.
	PKLen = 8
)

// PK is the surrogate key of a row in the rows table.
type PK uint64

// EncodeIdentity appends the raw identity bytes.
func EncodeIdentity(b []byte, iden storage.Identity) []byte {
	return append(b, iden[:]...)
}

// DecodeIdentity reads an identity from the front of b.
func DecodeIdentity(b []byte) ([]byte, storage.Identity, error) {
	var iden storage.Identity
	if len(b) < IdentityLen {
		return nil, iden, errors.Wrapf(ErrDecode, "need %d bytes for identity, have %d", IdentityLen, len(b))
	}
	copy(iden[:], b[:IdentityLen])
	return b[IdentityLen:], iden, nil
}

// EncodeTime appends t as 8 bytes big-endian.
func EncodeTime(b []byte, t uint64) []byte {
	return binary.BigEndian.AppendUint64(b, t)
}

// DecodeTime reads a timestamp from the front of b.
func DecodeTime(b []byte) ([]byte, uint64, error) {
	if len(b) < TimeLen {
		return nil, 0, errors.Wrapf(ErrDecode, "need %d bytes for time, have %d", TimeLen, len(b))
	}
	return b[TimeLen:], binary.BigEndian.Uint64(b), nil
}

// EncodePK returns the rows-table key for pk.
func EncodePK(pk PK) []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, PKLen), uint64(pk))
}

// DecodePK decodes a rows-table key.
func DecodePK(b []byte) (PK, error) {
	if len(b) != PKLen {
		return 0, errors.Wrapf(ErrDecode, "primary key must be %d bytes, got %d", PKLen, len(b))
	}
	return PK(binary.BigEndian.Uint64(b)), nil
}

// EncodePKRef returns the index-table value that points at pk.
func EncodePKRef(pk PK) []byte {
	return EncodeUint(nil, uint64(pk))
}

// DecodePKRef decodes an index-table value.
func DecodePKRef(b []byte) (PK, error) {
	rest, v, err := DecodeUint(b)
	if err != nil {
		return 0, err
	}
	if len(rest) != 0 {
		return 0, errors.Wrapf(ErrDecode, "%d trailing bytes after primary key", len(rest))
	}
	return PK(v), nil
}

// EncodeRow returns the rows-table image of r.
func EncodeRow(r storage.Row) ([]byte, error) {
	b := EncodeIdentity(make([]byte, 0, 48), r.Identity)
	b = EncodeString(b, r.Prop)
	b, err := EncodeValue(b, r.Value)
	if err != nil {
		return nil, err
	}
	return EncodeTime(b, r.Time), nil
}

// DecodeRow decodes a rows-table image.
func DecodeRow(b []byte) (storage.Row, error) {
	var r storage.Row
	b, iden, err := DecodeIdentity(b)
	if err != nil {
		return r, errors.Wrap(err, "row identity")
	}
	b, prop, err := DecodeString(b)
	if err != nil {
		return r, errors.Wrap(err, "row property")
	}
	b, v, err := DecodeValuePrefix(b)
	if err != nil {
		return r, errors.Wrap(err, "row value")
	}
	b, t, err := DecodeTime(b)
	if err != nil {
		return r, errors.Wrap(err, "row time")
	}
	if len(b) != 0 {
		return r, errors.Wrapf(ErrDecode, "%d trailing bytes after row", len(b))
	}
	return storage.Row{Identity: iden, Prop: prop, Value: v, Time: t}, nil
}

// IdentityKey is the index_ip prefix holding every property of iden.
func IdentityKey(iden storage.Identity) []byte {
	return EncodeIdentity(make([]byte, 0, IdentityLen), iden)
}

// IdentityPropKey is the index_ip key for (iden, prop).
func IdentityPropKey(iden storage.Identity, prop string) []byte {
	return EncodeString(IdentityKey(iden), prop)
}

// PropKey is the index_pt and index_pvt prefix for prop.
func PropKey(prop string) []byte {
	return EncodeString(nil, prop)
}

// PropTimeKey is the index_pt key for (prop, t) owned by pk. Many rows may
// share a property and time, so the key ends with the primary key to keep
// entries distinct.
func PropTimeKey(prop string, t uint64, pk PK) []byte {
	return binary.BigEndian.AppendUint64(EncodeTime(PropKey(prop), t), uint64(pk))
}

// PropValueKey is the index_pvt prefix for (prop, v).
func PropValueKey(prop string, v storage.Value) ([]byte, error) {
	return EncodeValue(PropKey(prop), v)
}

// PropValueTimeKey is the index_pvt key for (prop, v, t) owned by pk.
func PropValueTimeKey(prop string, v storage.Value, t uint64, pk PK) ([]byte, error) {
	b, err := PropValueKey(prop, v)
	if err != nil {
		return nil, err
	}
	return binary.BigEndian.AppendUint64(EncodeTime(b, t), uint64(pk)), nil
}

// Span is a half-open key interval [Start, End). A nil End is unbounded.
type Span struct {
	Start []byte
	End   []byte
}

// PrefixSpan returns the span of every key beginning with prefix.
func PrefixSpan(prefix []byte) Span {
	return Span{Start: prefix, End: PrefixEnd(prefix)}
}

// TimeSpan narrows the keys under prefix to times in [minTime, maxTime).
// A zero maxTime is unbounded.
func TimeSpan(prefix []byte, minTime, maxTime uint64) Span {
	s := Span{Start: EncodeTime(append([]byte(nil), prefix...), minTime)}
	if maxTime == 0 || maxTime == storage.MaxTime {
		s.End = PrefixEnd(prefix)
	} else {
		s.End = EncodeTime(append([]byte(nil), prefix...), maxTime)
	}
	return s
}

// ValueRangeSpan returns the index_pvt span covering the values of rq.
func ValueRangeSpan(rq storage.RangeQuery) (Span, error) {
	prop := PropKey(rq.Prop)
	var s Span
	switch rq.Kind() {
	case storage.KindInt:
		s = Span{Start: append(append([]byte(nil), prop...), IntSpanStart...), End: append(append([]byte(nil), prop...), IntSpanEnd...)}
	case storage.KindStr:
		s = Span{Start: append(append([]byte(nil), prop...), StrSpanStart...), End: append(append([]byte(nil), prop...), StrSpanEnd...)}
	default:
		return s, errors.Wrap(storage.ErrBadValueType, "range bounds must share one kind")
	}
	if rq.Lo != nil {
		k, err := PropValueKey(rq.Prop, rq.Lo.Value)
		if err != nil {
			return s, err
		}
		if rq.Lo.Inclusive {
			s.Start = k
		} else {
			s.Start = PrefixEnd(k)
		}
	}
	if rq.Hi != nil {
		k, err := PropValueKey(rq.Prop, rq.Hi.Value)
		if err != nil {
			return s, err
		}
		if rq.Hi.Inclusive {
			s.End = PrefixEnd(k)
		} else {
			s.End = k
		}
	}
	return s, nil
}

// PrefixEnd returns the smallest key greater than every key with prefix b.
// It returns nil when no such key exists.
func PrefixEnd(b []byte) []byte {
	end := append([]byte(nil), b...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
