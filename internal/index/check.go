package index

import (
	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/codec"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
)

// Report summarizes a consistency check.
type Report struct {
	Rows    int
	Entries map[kv.Table]int
}

// Check walks the rows table and every index and fails on the first entry
// that does not match its row. Each row must have exactly one entry per
// index and each entry must point at a row that reproduces its key.
func Check(r kv.Reader) (Report, error) {
	rep := Report{Entries: make(map[kv.Table]int)}

	err := r.Scan(kv.Rows, nil, nil, func(k, v []byte) (bool, error) {
		pk, err := codec.DecodePK(k)
		if err != nil {
			return false, storage.Inconsistent(kv.Rows.String(), k, "undecodable primary key: %v", err)
		}
		row, err := codec.DecodeRow(v)
		if err != nil {
			return false, storage.Inconsistent(kv.Rows.String(), k, "undecodable row: %v", err)
		}
		keys, err := entryKeys(row, pk)
		if err != nil {
			return false, err
		}
		for t, key := range keys {
			val, ok, err := r.Get(t, key)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, storage.Inconsistent(t.String(), key, "row pk %d has no entry", pk)
			}
			if got, err := codec.DecodePKRef(val); err != nil || got != pk {
				return false, storage.Inconsistent(t.String(), key, "entry does not point at pk %d", pk)
			}
		}
		rep.Rows++
		return true, nil
	})
	if err != nil {
		return rep, errors.Wrap(err, "check rows")
	}

	// Every row has one entry per index, so any surplus is an orphan.
	for _, t := range []kv.Table{kv.IdentityProp, kv.PropValueTime, kv.PropTime} {
		n := 0
		err := r.Scan(t, nil, nil, func(k, v []byte) (bool, error) {
			n++
			return true, nil
		})
		if err != nil {
			return rep, errors.Wrapf(err, "check %s", t)
		}
		rep.Entries[t] = n
		if n != rep.Rows {
			return rep, storage.Inconsistent(t.String(), nil, "%d entries for %d rows", n, rep.Rows)
		}
	}
	return rep, nil
}

func entryKeys(row storage.Row, pk codec.PK) (map[kv.Table][]byte, error) {
	pvt, err := codec.PropValueTimeKey(row.Prop, row.Value, row.Time, pk)
	if err != nil {
		return nil, err
	}
	return map[kv.Table][]byte{
		kv.IdentityProp:  codec.IdentityPropKey(row.Identity, row.Prop),
		kv.PropValueTime: pvt,
		kv.PropTime:      codec.PropTimeKey(row.Prop, row.Time, pk),
	}, nil
}
