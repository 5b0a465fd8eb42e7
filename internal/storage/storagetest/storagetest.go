// Package storagetest is a conformance suite for storage.Backend
// implementations.
package storagetest

import (
	"context"
	"slices"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/storage"
)

// Opener returns a fresh, empty backend. The suite closes it.
type Opener func(t *testing.T) storage.Backend

var (
	id1 = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	id2 = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	id3 = uuid.MustParse("00000000-0000-0000-0000-0000000000a3")
)

func row(iden storage.Identity, prop string, v storage.Value, t uint64) storage.Row {
	return storage.Row{Identity: iden, Prop: prop, Value: v, Time: t}
}

// Run exercises every Backend operation against backends produced by open.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"AddAndRead", testAddAndRead},
		{"OccupiedSlot", testOccupiedSlot},
		{"TimeBounds", testTimeBounds},
		{"Limit", testLimit},
		{"CountMatchesRows", testCountMatchesRows},
		{"DeleteByIdentity", testDeleteByIdentity},
		{"DeleteByIdentityProperty", testDeleteByIdentityProperty},
		{"DeleteByProperty", testDeleteByProperty},
		{"IntRanges", testIntRanges},
		{"StrRanges", testStrRanges},
		{"Blobs", testBlobs},
		{"UnitReadsOwnWrites", testUnitReadsOwnWrites},
		{"Abort", testAbort},
		{"ExtremeValues", testExtremeValues},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := open(t)
			t.Cleanup(func() { _ = b.Close() })
			tt.fn(t, b)
		})
	}
}

// Write runs fn in a unit and commits it.
func Write(t *testing.T, b storage.Backend, fn func(u storage.Unit)) {
	t.Helper()
	u, err := b.Begin(context.Background())
	require.NoError(t, err)
	fn(u)
	require.NoError(t, u.Commit())
}

// Read runs fn against a fresh view.
func Read(t *testing.T, b storage.Backend, fn func(v storage.View)) {
	t.Helper()
	v, err := b.View(context.Background())
	require.NoError(t, err)
	defer v.Release()
	fn(v)
}

func add(t *testing.T, b storage.Backend, rows ...storage.Row) {
	t.Helper()
	Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.AddRows(context.Background(), rows))
	})
}

func testAddAndRead(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	foo := row(id1, "foo", storage.Int(10), 100)
	bar := row(id1, "bar", storage.Str("x"), 100)
	add(t, b, foo, bar, row(id2, "foo", storage.Int(11), 100))

	Read(t, b, func(v storage.View) {
		rows, err := v.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []storage.Row{foo, bar}, rows)

		rows, err = v.RowsByProperty(ctx, storage.Query{Prop: "foo", Value: storage.Int(10)})
		require.NoError(t, err)
		assert.Equal(t, []storage.Row{foo}, rows)

		rows, err = v.RowsByProperty(ctx, storage.Query{Prop: "foo"})
		require.NoError(t, err)
		assert.Len(t, rows, 2)

		rows, err = v.RowsByIdentity(ctx, id3)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func testOccupiedSlot(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	add(t, b, row(id1, "foo", storage.Int(1), 1))

	u, err := b.Begin(ctx)
	require.NoError(t, err)
	err = u.AddRows(ctx, []storage.Row{row(id1, "foo", storage.Int(2), 2)})
	require.Error(t, err)
	assert.True(t, storage.IsInconsistent(err), "got %v", err)
	require.NoError(t, u.Abort())

	Read(t, b, func(v storage.View) {
		rows, err := v.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, storage.Int(1), rows[0].Value)
	})
}

func testTimeBounds(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var rows []storage.Row
	for i := 0; i < 50; i++ {
		rows = append(rows, row(uuid.New(), "ctr", storage.Int(int64(i)), uint64(1000+i)))
	}
	add(t, b, rows...)

	Read(t, b, func(v storage.View) {
		got, err := v.RowsByProperty(ctx, storage.Query{Prop: "ctr", MinTime: 1010, MaxTime: 1020})
		require.NoError(t, err)
		require.Len(t, got, 10)
		for i, r := range got {
			assert.Equal(t, uint64(1010+i), r.Time)
			assert.Equal(t, storage.Int(int64(10+i)), r.Value)
		}

		// a row at exactly MaxTime is excluded
		got, err = v.RowsByProperty(ctx, storage.Query{Prop: "ctr", Value: storage.Int(20), MinTime: 1000, MaxTime: 1020})
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = v.RowsByProperty(ctx, storage.Query{Prop: "ctr", Value: storage.Int(20), MinTime: 1020, MaxTime: 1021})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		n, err := v.SizeByProperty(ctx, storage.Query{Prop: "ctr", MinTime: 1045})
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})
}

func testLimit(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var rows []storage.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, row(uuid.New(), "p", storage.Str("same"), uint64(i+1)))
	}
	add(t, b, rows...)

	Read(t, b, func(v storage.View) {
		got, err := v.RowsByProperty(ctx, storage.Query{Prop: "p", Value: storage.Str("same"), Limit: 3})
		require.NoError(t, err)
		require.Len(t, got, 3)
		// ascending time within one value
		assert.Equal(t, uint64(1), got[0].Time)
		assert.Equal(t, uint64(3), got[2].Time)

		got, err = v.RowsByProperty(ctx, storage.Query{Prop: "p", Limit: 4})
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}

func testCountMatchesRows(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var rows []storage.Row
	for i := 0; i < 30; i++ {
		var v storage.Value = storage.Int(int64(i % 3))
		if i%2 == 0 {
			v = storage.Str("s")
		}
		rows = append(rows, row(uuid.New(), "mix", v, uint64(i)))
	}
	add(t, b, rows...)

	queries := []storage.Query{
		{Prop: "mix"},
		{Prop: "mix", Value: storage.Str("s")},
		{Prop: "mix", Value: storage.Int(1)},
		{Prop: "mix", MinTime: 5, MaxTime: 17},
		{Prop: "mix", Value: storage.Int(2), MinTime: 3},
		{Prop: "nope"},
	}
	Read(t, b, func(v storage.View) {
		for _, q := range queries {
			got, err := v.RowsByProperty(ctx, q)
			require.NoError(t, err)
			n, err := v.SizeByProperty(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, len(got), n, "query %+v", q)
		}
	})
}

func testDeleteByIdentity(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	add(t, b,
		row(id1, "a", storage.Int(1), 1),
		row(id1, "b", storage.Int(2), 1),
		row(id2, "a", storage.Int(1), 1),
	)

	Write(t, b, func(u storage.Unit) {
		n, err := u.DeleteRowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = u.DeleteRowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = u.DeleteRowsByIdentity(ctx, id3)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	Read(t, b, func(v storage.View) {
		rows, err := v.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.Empty(t, rows)

		n, err := v.SizeByProperty(ctx, storage.Query{Prop: "a", Value: storage.Int(1)})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func testDeleteByIdentityProperty(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	add(t, b, row(id1, "a", storage.Int(1), 1), row(id1, "b", storage.Str("x"), 1))

	Write(t, b, func(u storage.Unit) {
		n, err := u.DeleteRowsByIdentityProperty(ctx, id1, "a", storage.Int(2))
		require.NoError(t, err)
		assert.Zero(t, n, "value mismatch keeps the row")

		n, err = u.DeleteRowsByIdentityProperty(ctx, id1, "a", storage.Int(1))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = u.DeleteRowsByIdentityProperty(ctx, id1, "b", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = u.DeleteRowsByIdentityProperty(ctx, id1, "b", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	Read(t, b, func(v storage.View) {
		rows, err := v.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func testDeleteByProperty(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	add(t, b,
		row(id1, "p", storage.Int(1), 10),
		row(id2, "p", storage.Int(1), 20),
		row(id3, "p", storage.Int(2), 30),
		row(id1, "q", storage.Int(1), 10),
	)

	Write(t, b, func(u storage.Unit) {
		n, err := u.DeleteRowsByProperty(ctx, storage.Query{Prop: "p", Value: storage.Int(1), MinTime: 15})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
	Read(t, b, func(v storage.View) {
		rows, err := v.RowsByProperty(ctx, storage.Query{Prop: "p"})
		require.NoError(t, err)
		assert.Equal(t, []storage.Row{row(id1, "p", storage.Int(1), 10), row(id3, "p", storage.Int(2), 30)}, rows)
	})

	Write(t, b, func(u storage.Unit) {
		n, err := u.DeleteRowsByProperty(ctx, storage.Query{Prop: "p", Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, n, "limit does not apply to deletes")
	})
	Read(t, b, func(v storage.View) {
		n, err := v.SizeByProperty(ctx, storage.Query{Prop: "p"})
		require.NoError(t, err)
		assert.Zero(t, n)
		n, err = v.SizeByProperty(ctx, storage.Query{Prop: "q"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func values(rows []storage.Row) []storage.Value {
	out := make([]storage.Value, len(rows))
	for i, r := range rows {
		out[i] = r.Value
	}
	return out
}

// inRange is the reference answer for q over rows.
func inRange(rows []storage.Row, q storage.RangeQuery) []storage.Value {
	out := []storage.Value{}
	for _, r := range rows {
		if r.Prop == q.Prop && q.Contains(r.Value) {
			out = append(out, r.Value)
		}
	}
	slices.SortFunc(out, storage.Compare)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func testIntRanges(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var rows []storage.Row
	for i := int64(-5); i <= 5; i++ {
		rows = append(rows, row(uuid.New(), "n", storage.Int(i*100), uint64(i+10)))
	}
	rows = append(rows, row(uuid.New(), "n", storage.Str("-1"), 1))
	add(t, b, rows...)

	lo := &storage.Bound{Value: storage.Int(-200), Inclusive: true}
	hi := &storage.Bound{Value: storage.Int(100)}
	Read(t, b, func(v storage.View) {
		got, err := v.RowsByValueRange(ctx, storage.RangeQuery{Prop: "n", Lo: lo, Hi: hi})
		if errors.Is(err, storage.ErrNotImplemented) {
			t.Skip("backend has no range support")
		}
		require.NoError(t, err)
		assert.Equal(t, []storage.Value{storage.Int(-200), storage.Int(-100), storage.Int(0)}, values(got))

		n, err := v.SizeByValueRange(ctx, storage.RangeQuery{Prop: "n", Lo: lo, Hi: hi})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		got, err = v.RowsByValueRange(ctx, storage.RangeQuery{Prop: "n", Lo: &storage.Bound{Value: storage.Int(300)}})
		require.NoError(t, err)
		assert.Equal(t, []storage.Value{storage.Int(400), storage.Int(500)}, values(got))

		got, err = v.RowsByValueRange(ctx, storage.RangeQuery{Prop: "n", Hi: &storage.Bound{Value: storage.Int(-400), Inclusive: true}, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []storage.Value{storage.Int(-500)}, values(got))

		edges := []int64{-600, -500, -150, 0, 100, 500, 600}
		for _, l := range edges {
			for _, h := range edges {
				for _, incl := range []bool{false, true} {
					q := storage.RangeQuery{
						Prop: "n",
						Lo:   &storage.Bound{Value: storage.Int(l), Inclusive: incl},
						Hi:   &storage.Bound{Value: storage.Int(h), Inclusive: incl},
					}
					want := inRange(rows, q)
					got, err := v.RowsByValueRange(ctx, q)
					require.NoError(t, err)
					assert.Equal(t, want, values(got), "[%d, %d] inclusive=%v", l, h, incl)
					n, err := v.SizeByValueRange(ctx, q)
					require.NoError(t, err)
					assert.Equal(t, len(want), n, "size [%d, %d] inclusive=%v", l, h, incl)
				}
			}
		}
	})
}

func testStrRanges(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var rows []storage.Row
	for i, s := range []string{"apple", "banana", "cherry", "date", "elder"} {
		rows = append(rows, row(uuid.New(), "fruit", storage.Str(s), uint64(i)))
	}
	rows = append(rows, row(uuid.New(), "fruit", storage.Int(7), 9))
	add(t, b, rows...)

	Read(t, b, func(v storage.View) {
		rq := storage.RangeQuery{
			Prop: "fruit",
			Lo:   &storage.Bound{Value: storage.Str("b"), Inclusive: true},
			Hi:   &storage.Bound{Value: storage.Str("date"), Inclusive: true},
		}
		got, err := v.RowsByValueRange(ctx, rq)
		if errors.Is(err, storage.ErrNotImplemented) {
			t.Skip("backend has no range support")
		}
		require.NoError(t, err)
		assert.Equal(t, []storage.Value{storage.Str("banana"), storage.Str("cherry"), storage.Str("date")}, values(got))

		n, err := v.SizeByValueRange(ctx, storage.RangeQuery{Prop: "fruit", Lo: &storage.Bound{Value: storage.Str("c")}})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		for _, q := range []storage.RangeQuery{
			{Prop: "fruit", Lo: &storage.Bound{Value: storage.Str("cherry")}},
			{Prop: "fruit", Lo: &storage.Bound{Value: storage.Str("cherry"), Inclusive: true}, Limit: 2},
			{Prop: "fruit", Hi: &storage.Bound{Value: storage.Str("banana")}},
			{Prop: "fruit", Hi: &storage.Bound{Value: storage.Str("banana"), Inclusive: true}},
			{Prop: "fruit", Lo: &storage.Bound{Value: storage.Str("a")}, Hi: &storage.Bound{Value: storage.Str("z")}},
		} {
			got, err := v.RowsByValueRange(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, inRange(rows, q), values(got))
		}
	})
}

func testBlobs(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.SetBlob(ctx, "b", []byte("two")))
		require.NoError(t, u.SetBlob(ctx, "a", []byte("one")))
		require.NoError(t, u.SetBlob(ctx, "a", []byte("uno")))
		require.NoError(t, u.SetBlob(ctx, "empty", []byte{}))
	})

	Read(t, b, func(v storage.View) {
		val, ok, err := v.Blob(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("uno"), val)

		_, ok, err = v.Blob(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, ok)

		val, ok, err = v.Blob(ctx, "empty")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte{}, val, "present empty blob reads as non-nil")

		keys, err := v.BlobKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "empty"}, keys)
	})

	Write(t, b, func(u storage.Unit) {
		ok, err := u.DeleteBlob(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = u.DeleteBlob(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	Read(t, b, func(v storage.View) {
		keys, err := v.BlobKeys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "empty"}, keys)
	})
}

func testUnitReadsOwnWrites(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.AddRows(ctx, []storage.Row{row(id1, "a", storage.Int(1), 1)}))
		rows, err := u.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.Len(t, rows, 1)

		_, err = u.DeleteRowsByIdentity(ctx, id1)
		require.NoError(t, err)
		require.NoError(t, u.AddRows(ctx, []storage.Row{row(id1, "a", storage.Int(2), 2)}))

		rows, err = u.RowsByProperty(ctx, storage.Query{Prop: "a"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, storage.Int(2), rows[0].Value)
	})
}

func testAbort(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	u, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, u.AddRows(ctx, []storage.Row{row(id1, "a", storage.Int(1), 1)}))
	require.NoError(t, u.SetBlob(ctx, "k", []byte("v")))
	require.NoError(t, u.Abort())

	Read(t, b, func(v storage.View) {
		rows, err := v.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.Empty(t, rows)
		_, ok, err := v.Blob(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	// the backend is usable after an abort
	add(t, b, row(id1, "a", storage.Int(1), 1))
}

func testExtremeValues(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	rows := []storage.Row{
		row(id1, "min", storage.Int(-1<<63), 0),
		row(id1, "max", storage.Int(1<<63-1), 1),
		row(id1, "zero", storage.Int(0), 2),
		row(id1, "neg", storage.Int(-1), 3),
		row(id1, "empty", storage.Str(""), 4),
		row(id1, "unicode", storage.Str("héllo ☃"), 5),
	}
	add(t, b, rows...)

	Read(t, b, func(v storage.View) {
		got, err := v.RowsByIdentity(ctx, id1)
		require.NoError(t, err)
		assert.ElementsMatch(t, rows, got)

		for _, r := range rows {
			got, err := v.RowsByProperty(ctx, storage.Query{Prop: r.Prop, Value: r.Value})
			require.NoError(t, err)
			assert.Equal(t, []storage.Row{r}, got, "prop %s", r.Prop)
		}
	})
}
