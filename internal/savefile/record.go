// Package savefile reads and writes the append-only mutation log that a
// cortex emits through its save events.
//
// A savefile is a stream of msgpack-encoded records, optionally wrapped in
// zstd. Readers detect compression from the zstd frame magic, so both forms
// replay the same way.
package savefile

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/roach88/cortex/internal/storage"
)

// Op names the mutation a record replays.
type Op string

const (
	OpAddRows           Op = "rows:add"
	OpDelRowsByIden     Op = "rows:del:iden"
	OpDelRowsByIdenProp Op = "rows:del:idenprop"
	OpSetRowsByIdenProp Op = "rows:set:idenprop"
	OpDelRowsByProp     Op = "rows:del:prop"
	OpSetBlob           Op = "blob:set"
	OpDelBlob           Op = "blob:del"
)

// Value is the serialized form of a storage.Value. Exactly one field is set.
type Value struct {
	Int *int64  `msgpack:"i,omitempty"`
	Str *string `msgpack:"s,omitempty"`
}

// Row is the serialized form of a storage.Row.
type Row struct {
	Iden  uuid.UUID `msgpack:"iden"`
	Prop  string    `msgpack:"prop"`
	Value Value     `msgpack:"valu"`
	Time  uint64    `msgpack:"time"`
}

// Record is one replayable mutation. Which fields are meaningful depends on
// Op.
type Record struct {
	Op      Op        `msgpack:"op"`
	Rows    []Row     `msgpack:"rows,omitempty"`
	Iden    uuid.UUID `msgpack:"iden,omitempty"`
	Prop    string    `msgpack:"prop,omitempty"`
	Value   *Value    `msgpack:"valu,omitempty"`
	MinTime uint64    `msgpack:"mintime,omitempty"`
	MaxTime uint64    `msgpack:"maxtime,omitempty"`
	Key     string    `msgpack:"key,omitempty"`
	Blob    []byte    `msgpack:"blob,omitempty"`
}

// FromValue converts v. A nil v yields nil.
func FromValue(v storage.Value) *Value {
	switch val := v.(type) {
	case storage.Int:
		i := int64(val)
		return &Value{Int: &i}
	case storage.Str:
		s := string(val)
		return &Value{Str: &s}
	default:
		return nil
	}
}

// Storage converts the serialized value back. A nil receiver yields nil.
func (v *Value) Storage() (storage.Value, error) {
	switch {
	case v == nil:
		return nil, nil
	case v.Int != nil && v.Str == nil:
		return storage.Int(*v.Int), nil
	case v.Str != nil && v.Int == nil:
		return storage.Str(*v.Str), nil
	default:
		return nil, errors.Wrap(storage.ErrBadValueType, "savefile value must hold exactly one of int and str")
	}
}

// FromRows converts rows for a record.
func FromRows(rows []storage.Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{Iden: r.Identity, Prop: r.Prop, Value: *FromValue(r.Value), Time: r.Time}
	}
	return out
}

// StorageRows converts the record's rows back.
func (r Record) StorageRows() ([]storage.Row, error) {
	out := make([]storage.Row, len(r.Rows))
	for i, row := range r.Rows {
		v, err := row.Value.Storage()
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		if v == nil {
			return nil, errors.Wrapf(storage.ErrBadValueType, "row %d has no value", i)
		}
		out[i] = storage.Row{Identity: row.Iden, Prop: row.Prop, Value: v, Time: row.Time}
	}
	return out, nil
}

// Query rebuilds the property query of a rows:del:prop record.
func (r Record) Query() (storage.Query, error) {
	v, err := r.Value.Storage()
	if err != nil {
		return storage.Query{}, err
	}
	return storage.Query{Prop: r.Prop, Value: v, MinTime: r.MinTime, MaxTime: r.MaxTime}, nil
}
