package index

import (
	"bytes"

	"github.com/roach88/cortex/internal/codec"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
)

// LookupByIdentityProperty returns the pk in the identity/property slot.
func LookupByIdentityProperty(r kv.Reader, iden storage.Identity, prop string) (codec.PK, bool, error) {
	key := codec.IdentityPropKey(iden, prop)
	val, ok, err := r.Get(kv.IdentityProp, key)
	if err != nil || !ok {
		return 0, false, err
	}
	pk, err := codec.DecodePKRef(val)
	if err != nil {
		return 0, false, storage.Inconsistent(kv.IdentityProp.String(), key, "undecodable index entry: %v", err)
	}
	return pk, true, nil
}

// IdentityPKs returns the pks of every row of iden, ordered by property.
func IdentityPKs(r kv.Reader, iden storage.Identity) ([]codec.PK, error) {
	var pks []codec.PK
	err := scanPKs(r, kv.IdentityProp, codec.PrefixSpan(codec.IdentityKey(iden)), 0, func(pk codec.PK) {
		pks = append(pks, pk)
	})
	return pks, err
}

// querySpan picks the index serving q. A value filter uses index_pvt,
// otherwise index_pt; both yield rows in ascending time.
func querySpan(q storage.Query) (kv.Table, codec.Span, error) {
	minTime, maxTime := q.TimeBounds()
	if q.Value == nil {
		return kv.PropTime, codec.TimeSpan(codec.PropKey(q.Prop), minTime, maxTime), nil
	}
	prefix, err := codec.PropValueKey(q.Prop, q.Value)
	if err != nil {
		return 0, codec.Span{}, err
	}
	return kv.PropValueTime, codec.TimeSpan(prefix, minTime, maxTime), nil
}

// LookupRange returns the pks matching q in index order, stopping at
// q.Limit.
func LookupRange(r kv.Reader, q storage.Query) ([]codec.PK, error) {
	t, span, err := querySpan(q)
	if err != nil {
		return nil, err
	}
	var pks []codec.PK
	err = scanPKs(r, t, span, q.Limit, func(pk codec.PK) {
		pks = append(pks, pk)
	})
	return pks, err
}

// CountRange counts the rows matching q without reading them. The limit is
// ignored.
func CountRange(r kv.Reader, q storage.Query) (int, error) {
	t, span, err := querySpan(q)
	if err != nil {
		return 0, err
	}
	var n int
	err = scanPKs(r, t, span, 0, func(codec.PK) { n++ })
	return n, err
}

// LookupValueRange returns the pks whose value lies in rq, ordered by value
// then time.
func LookupValueRange(r kv.Reader, rq storage.RangeQuery) ([]codec.PK, error) {
	span, err := codec.ValueRangeSpan(rq)
	if err != nil {
		return nil, err
	}
	var pks []codec.PK
	err = scanPKs(r, kv.PropValueTime, span, rq.Limit, func(pk codec.PK) {
		pks = append(pks, pk)
	})
	return pks, err
}

// CountValueRange counts the rows whose value lies in rq.
func CountValueRange(r kv.Reader, rq storage.RangeQuery) (int, error) {
	span, err := codec.ValueRangeSpan(rq)
	if err != nil {
		return 0, err
	}
	var n int
	err = scanPKs(r, kv.PropValueTime, span, 0, func(codec.PK) { n++ })
	return n, err
}

// FetchRows reads the rows for pks in order.
func FetchRows(r kv.Reader, pks []codec.PK) ([]storage.Row, error) {
	rows := make([]storage.Row, 0, len(pks))
	for _, pk := range pks {
		row, err := FetchRow(r, pk)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func scanPKs(r kv.Reader, t kv.Table, span codec.Span, limit int, fn func(codec.PK)) error {
	if span.End != nil && bytes.Compare(span.Start, span.End) >= 0 {
		return nil
	}
	var n int
	return r.Scan(t, span.Start, span.End, func(k, v []byte) (bool, error) {
		pk, err := codec.DecodePKRef(v)
		if err != nil {
			return false, storage.Inconsistent(t.String(), k, "undecodable index entry: %v", err)
		}
		fn(pk)
		n++
		return limit <= 0 || n < limit, nil
	})
}
