package index

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/codec"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
)

var (
	id1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	id2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func row(iden storage.Identity, prop string, v storage.Value, t uint64) storage.Row {
	return storage.Row{Identity: iden, Prop: prop, Value: v, Time: t}
}

// setup returns an open batch over a fresh engine and a maintainer seeded
// from it.
func setup(t *testing.T) (kv.Batch, *Maintainer) {
	t.Helper()
	e := kv.NewMemEngine()
	b, err := e.NewBatch()
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Abort() })
	alloc, err := NewAllocator(b)
	require.NoError(t, err)
	return b, NewMaintainer(alloc)
}

func insert(t *testing.T, b kv.Batch, m *Maintainer, rows ...storage.Row) []codec.PK {
	t.Helper()
	var pks []codec.PK
	for _, r := range rows {
		pk, err := m.InsertRow(b, r)
		require.NoError(t, err)
		pks = append(pks, pk)
	}
	return pks
}

func TestAllocator(t *testing.T) {
	t.Run("empty store starts at one", func(t *testing.T) {
		e := kv.NewMemEngine()
		s, err := e.NewSnapshot()
		require.NoError(t, err)
		a, err := NewAllocator(s)
		require.NoError(t, err)
		pk, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, FirstPK, pk)
	})

	t.Run("seeds from last key", func(t *testing.T) {
		e := kv.NewMemEngine()
		b, err := e.NewBatch()
		require.NoError(t, err)
		require.NoError(t, b.Set(kv.Rows, codec.EncodePK(41), []byte("x")))
		require.NoError(t, b.Set(kv.Rows, codec.EncodePK(7), []byte("x")))
		require.NoError(t, b.Commit())

		s, err := e.NewSnapshot()
		require.NoError(t, err)
		a, err := NewAllocator(s)
		require.NoError(t, err)
		pk, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, codec.PK(42), pk)
	})

	t.Run("exhaustion", func(t *testing.T) {
		a := AllocatorAfter(math.MaxUint64 - 1)
		pk, err := a.Next()
		require.NoError(t, err)
		assert.Equal(t, codec.PK(math.MaxUint64), pk)

		for i := 0; i < 2; i++ {
			_, err = a.Next()
			assert.True(t, errors.Is(err, storage.ErrOutOfPrimaryKeys))
		}

		_, err = AllocatorAfter(math.MaxUint64).Next()
		assert.True(t, errors.Is(err, storage.ErrOutOfPrimaryKeys))
	})

	t.Run("strictly increasing", func(t *testing.T) {
		a := AllocatorAfter(0)
		var last codec.PK
		for i := 0; i < 100; i++ {
			pk, err := a.Next()
			require.NoError(t, err)
			assert.Greater(t, pk, last)
			last = pk
		}
	})
}

func TestInsertRow_WritesAllTables(t *testing.T) {
	b, m := setup(t)
	r := row(id1, "foo", storage.Int(10), 100)
	pks := insert(t, b, m, r)

	got, err := FetchRow(b, pks[0])
	require.NoError(t, err)
	assert.Equal(t, r, got)

	pk, ok, err := LookupByIdentityProperty(b, id1, "foo")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, pks[0], pk)

	rep, err := Check(b)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rows)
	assert.Equal(t, 1, rep.Entries[kv.PropTime])
}

func TestInsertRow_OccupiedSlot(t *testing.T) {
	b, m := setup(t)
	insert(t, b, m, row(id1, "foo", storage.Int(1), 1))

	_, err := m.InsertRow(b, row(id1, "foo", storage.Int(2), 2))
	require.Error(t, err)
	assert.True(t, storage.IsInconsistent(err))

	var ie *storage.InconsistencyError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "index_ip", ie.Table)
}

func TestInsertRow_SharedPropValueTime(t *testing.T) {
	b, m := setup(t)
	insert(t, b, m,
		row(id1, "foo", storage.Int(10), 5),
		row(id2, "foo", storage.Int(10), 5),
	)

	n, err := CountRange(b, storage.Query{Prop: "foo", Value: storage.Int(10)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = CountRange(b, storage.Query{Prop: "foo"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDeleteRowByPK(t *testing.T) {
	b, m := setup(t)
	pks := insert(t, b, m,
		row(id1, "foo", storage.Int(10), 1),
		row(id1, "bar", storage.Str("x"), 1),
	)

	got, err := m.DeleteRowByPK(b, pks[0], AllIndexes)
	require.NoError(t, err)
	assert.Equal(t, storage.Int(10), got.Value)

	_, ok, err := LookupByIdentityProperty(b, id1, "foo")
	require.NoError(t, err)
	assert.False(t, ok)

	rep, err := Check(b)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Rows)

	// the row is gone, so a second delete is a fault
	_, err = m.DeleteRowByPK(b, pks[0], AllIndexes)
	assert.True(t, storage.IsInconsistent(err))
}

func TestDeleteRowByPK_Subset(t *testing.T) {
	b, m := setup(t)
	pks := insert(t, b, m, row(id1, "foo", storage.Int(10), 1))

	// caller already removed the identity entry
	require.NoError(t, b.Delete(kv.IdentityProp, codec.IdentityPropKey(id1, "foo")))
	_, err := m.DeleteRowByPK(b, pks[0], ValueTimeIndex|TimeIndex)
	require.NoError(t, err)

	rep, err := Check(b)
	require.NoError(t, err)
	assert.Zero(t, rep.Rows)
}

func TestDeleteRowByPK_MissingEntry(t *testing.T) {
	b, m := setup(t)
	pks := insert(t, b, m, row(id1, "foo", storage.Int(10), 1))

	require.NoError(t, b.Delete(kv.PropTime, codec.PropTimeKey("foo", 1, pks[0])))
	_, err := m.DeleteRowByPK(b, pks[0], AllIndexes)
	require.Error(t, err)
	assert.True(t, storage.IsInconsistent(err))
}

func TestLookupRange(t *testing.T) {
	b, m := setup(t)
	for i := 0; i < 20; i++ {
		iden := uuid.New()
		insert(t, b, m, row(iden, "ctr", storage.Int(int64(i%5)), uint64(100+i)))
	}

	t.Run("time bounds are half open", func(t *testing.T) {
		pks, err := LookupRange(b, storage.Query{Prop: "ctr", MinTime: 105, MaxTime: 110})
		require.NoError(t, err)
		rows, err := FetchRows(b, pks)
		require.NoError(t, err)
		require.Len(t, rows, 5)
		for i, r := range rows {
			assert.Equal(t, uint64(105+i), r.Time)
		}
	})

	t.Run("value filter", func(t *testing.T) {
		pks, err := LookupRange(b, storage.Query{Prop: "ctr", Value: storage.Int(3)})
		require.NoError(t, err)
		rows, err := FetchRows(b, pks)
		require.NoError(t, err)
		require.Len(t, rows, 4)
		for _, r := range rows {
			assert.Equal(t, storage.Int(3), r.Value)
		}
	})

	t.Run("limit stops the scan", func(t *testing.T) {
		pks, err := LookupRange(b, storage.Query{Prop: "ctr", Limit: 3})
		require.NoError(t, err)
		assert.Len(t, pks, 3)

		n, err := CountRange(b, storage.Query{Prop: "ctr", Limit: 3})
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	})

	t.Run("inverted bounds are empty", func(t *testing.T) {
		pks, err := LookupRange(b, storage.Query{Prop: "ctr", MinTime: 200, MaxTime: 100})
		require.NoError(t, err)
		assert.Empty(t, pks)
	})

	t.Run("value range", func(t *testing.T) {
		rq := storage.RangeQuery{
			Prop: "ctr",
			Lo:   &storage.Bound{Value: storage.Int(1)},
			Hi:   &storage.Bound{Value: storage.Int(3), Inclusive: true},
		}
		pks, err := LookupValueRange(b, rq)
		require.NoError(t, err)
		rows, err := FetchRows(b, pks)
		require.NoError(t, err)
		require.Len(t, rows, 8)
		assert.Equal(t, storage.Int(2), rows[0].Value)
		assert.Equal(t, storage.Int(3), rows[7].Value)

		n, err := CountValueRange(b, rq)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
	})
}

func TestIdentityPKs(t *testing.T) {
	b, m := setup(t)
	insert(t, b, m,
		row(id1, "b", storage.Int(1), 1),
		row(id2, "a", storage.Int(1), 1),
		row(id1, "a", storage.Int(1), 1),
	)
	pks, err := IdentityPKs(b, id1)
	require.NoError(t, err)
	rows, err := FetchRows(b, pks)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].Prop)
	assert.Equal(t, "b", rows[1].Prop)
}

func TestCheck_Orphan(t *testing.T) {
	b, m := setup(t)
	insert(t, b, m, row(id1, "foo", storage.Int(10), 1))
	require.NoError(t, b.Set(kv.PropTime, codec.PropTimeKey("foo", 9, 99), codec.EncodePKRef(99)))

	_, err := Check(b)
	assert.True(t, storage.IsInconsistent(err))
}
