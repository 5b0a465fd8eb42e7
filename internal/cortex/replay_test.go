package cortex

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/ordered"
	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/testutil"
)

var id4 = testutil.Iden(4)

// mutate drives every kind of saved mutation through c.
func mutate(t *testing.T, c *Cortex) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.AddRows(ctx, []storage.Row{
		testutil.Row(id1, "kind", "host", 1),
		testutil.Row(id1, "size", 10, 1),
		testutil.Row(id2, "kind", "host", 2),
		testutil.Row(id2, "size", -3, 2),
		testutil.Row(id3, "kind", "user", 3),
		testutil.Row(id3, "size", 7, 3),
		testutil.Row(id4, "kind", "user", 4),
		testutil.Row(id4, "name", "visi", 4),
	}))
	_, err := c.SetRowByIdentityProperty(ctx, id1, "size", storage.Int(11))
	require.NoError(t, err)
	_, err = c.DeleteRowsByIdentityProperty(ctx, id2, "size", storage.Int(-3))
	require.NoError(t, err)
	_, err = c.DeleteRowsByProperty(ctx, storage.Query{Prop: "size", Value: storage.Int(7)})
	require.NoError(t, err)
	_, err = c.DeleteJoinByProperty(ctx, storage.Query{Prop: "kind", Value: storage.Str("host"), MinTime: 2})
	require.NoError(t, err)
	require.NoError(t, c.SetBlob(ctx, "keep", []byte("yes")))
	require.NoError(t, c.SetBlob(ctx, "drop", []byte("no")))
	_, err = c.DelBlob(ctx, "drop")
	require.NoError(t, err)

	// aborted work never reaches the log
	boom := errors.New("boom")
	err = c.Do(ctx, func(ctx context.Context) error {
		require.NoError(t, c.AddRows(ctx, []storage.Row{testutil.Row(id3, "ghost", 1, 9)}))
		return boom
	})
	require.ErrorIs(t, err, boom)
}

type snapshot struct {
	rows  map[storage.Identity][]storage.Row
	blobs map[string][]byte
}

func snap(t *testing.T, c *Cortex) snapshot {
	t.Helper()
	ctx := context.Background()
	s := snapshot{rows: map[storage.Identity][]storage.Row{}, blobs: map[string][]byte{}}
	for _, iden := range []storage.Identity{id1, id2, id3, id4} {
		rows, err := c.RowsByIdentity(ctx, iden)
		require.NoError(t, err)
		if len(rows) > 0 {
			s.rows[iden] = rows
		}
	}
	keys, err := c.BlobKeys(ctx)
	require.NoError(t, err)
	for _, k := range keys {
		if k == BlobCreated {
			continue
		}
		v, err := c.GetBlob(ctx, k, nil)
		require.NoError(t, err)
		s.blobs[k] = v
	}
	return s
}

func TestReplay_RebuildsState(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			testReplayRebuildsState(t, compress)
		})
	}
}

func testReplayRebuildsState(t *testing.T, compress bool) {
	var buf bytes.Buffer
	w, err := savefile.NewWriter(&buf, compress)
	require.NoError(t, err)

	src := newCortex(t, ordered.OpenMem())
	unsub := src.SaveTo(w)
	mutate(t, src)
	unsub()
	require.NoError(t, w.Close())
	want := snap(t, src)

	assert.Equal(t, map[string][]byte{"keep": []byte("yes")}, want.blobs)
	assert.Len(t, want.rows[id1], 2)
	assert.NotContains(t, want.rows, id2)
	assert.Len(t, want.rows[id3], 1)

	data := buf.Bytes()
	eachBackend(t, func(t *testing.T, dst *Cortex) {
		var echoed int
		dst.On(EventSave, func(context.Context, string, any) error {
			echoed++
			return nil
		})
		var domain int
		for _, name := range []string{EventRowAdd, EventRowDel, EventBlobSet, EventBlobDel} {
			dst.On(name, func(context.Context, string, any) error {
				domain++
				return nil
			})
		}

		r, err := savefile.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer r.Close()
		n, err := dst.Replay(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, w.Count(), n)

		assert.Zero(t, echoed)
		assert.Zero(t, domain)
		got := snap(t, dst)
		assert.Equal(t, want.blobs, got.blobs)
		require.Len(t, got.rows, len(want.rows))
		for iden, rows := range want.rows {
			assert.ElementsMatch(t, rows, got.rows[iden], "rows of %s", iden)
		}
	})
}

func TestReplay_ChainedLogs(t *testing.T) {
	var first bytes.Buffer
	w1, err := savefile.NewWriter(&first, false)
	require.NoError(t, err)
	src := newCortex(t, ordered.OpenMem())
	src.SaveTo(w1)
	mutate(t, src)
	require.NoError(t, w1.Close())

	// mid replays the first log while saving to a second one
	var second bytes.Buffer
	w2, err := savefile.NewWriter(&second, false)
	require.NoError(t, err)
	mid := newCortex(t, ordered.OpenMem())
	mid.SaveTo(w2)
	r, err := savefile.NewReader(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)
	_, err = mid.Replay(context.Background(), r)
	require.NoError(t, err)
	require.NoError(t, w2.Close())
	assert.Zero(t, w2.Count())

	require.NoError(t, mid.AddRows(context.Background(), []storage.Row{testutil.Row(id1, "new", 1, 50)}))
	assert.Equal(t, 1, w2.Count())
}

func TestApply_UnknownOp(t *testing.T) {
	c := newCortex(t, ordered.OpenMem())
	err := c.Apply(context.Background(), savefile.Record{Op: "rows:frob"})
	assert.Error(t, err)
}

func TestReplay_FailureRollsBack(t *testing.T) {
	var buf bytes.Buffer
	w, err := savefile.NewWriter(&buf, false)
	require.NoError(t, err)
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpAddRows, Rows: savefile.FromRows([]storage.Row{testutil.Row(id1, "a", 1, 1)})}))
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpDelBlob, Key: "absent"}))
	require.NoError(t, w.Close())

	c := newCortex(t, ordered.OpenMem())
	r, err := savefile.NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	_, err = c.Replay(context.Background(), r)
	assert.ErrorIs(t, err, storage.ErrNoSuchName)

	rows, err := c.RowsByIdentity(context.Background(), id1)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// markFoo adds a foo:seen row for every foo row c adds.
func markFoo(c *Cortex) {
	c.On(EventRowAdd, func(ctx context.Context, _ string, payload any) error {
		var seen []storage.Row
		for _, row := range payload.(RowsAdded).Rows {
			if row.Prop == "foo" {
				seen = append(seen, storage.Row{Identity: row.Identity, Prop: "foo:seen", Value: storage.Int(1), Time: row.Time})
			}
		}
		if len(seen) == 0 {
			return nil
		}
		return c.AddRows(ctx, seen)
	})
}

func TestReplay_CascadingHandlers(t *testing.T) {
	var buf bytes.Buffer
	w, err := savefile.NewWriter(&buf, false)
	require.NoError(t, err)

	src := newCortex(t, ordered.OpenMem())
	markFoo(src)
	src.SaveTo(w)
	ctx := context.Background()
	require.NoError(t, src.AddRows(ctx, []storage.Row{
		testutil.Row(id1, "foo", 10, 1),
		testutil.Row(id2, "foo", 20, 2),
	}))
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Count())
	want := snap(t, src)
	require.Len(t, want.rows[id1], 2)

	eachBackend(t, func(t *testing.T, dst *Cortex) {
		markFoo(dst)
		r, err := savefile.NewReader(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		defer r.Close()
		n, err := dst.Replay(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got := snap(t, dst)
		require.Len(t, got.rows, len(want.rows))
		for iden, rows := range want.rows {
			assert.ElementsMatch(t, rows, got.rows[iden], "rows of %s", iden)
		}

		// live writes still cascade after a replay
		require.NoError(t, dst.AddRows(ctx, []storage.Row{testutil.Row(id3, "foo", 30, 3)}))
		rows, err := dst.RowsByIdentity(ctx, id3)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})
}

func TestReplay_FailurePastWatermark(t *testing.T) {
	var buf bytes.Buffer
	w, err := savefile.NewWriter(&buf, false)
	require.NoError(t, err)
	for _, iden := range []storage.Identity{id1, id2} {
		require.NoError(t, w.Write(savefile.Record{Op: savefile.OpAddRows, Rows: savefile.FromRows([]storage.Row{testutil.Row(iden, "a", 1, 1)})}))
	}
	require.NoError(t, w.Write(savefile.Record{Op: savefile.OpDelBlob, Key: "missing"}))
	require.NoError(t, w.Close())

	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			c := newCortex(t, open(t), WithXactSize(2))
			ctx := context.Background()
			r, err := savefile.NewReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer r.Close()
			n, err := c.Replay(ctx, r)
			assert.ErrorIs(t, err, storage.ErrNoSuchName)
			assert.Zero(t, n)

			for _, iden := range []storage.Identity{id1, id2} {
				rows, err := c.RowsByIdentity(ctx, iden)
				require.NoError(t, err)
				assert.Empty(t, rows, "rows of %s", iden)
			}
		})
	}
}
