package ordered

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/codec"
	"github.com/roach88/cortex/internal/kv"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/storage/storagetest"
)

func TestMemBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		return OpenMem()
	})
}

func TestPebbleBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		b, err := OpenPebble(filepath.Join(t.TempDir(), "cortex"), nil)
		require.NoError(t, err)
		return b
	})
}

func TestView_Snapshot(t *testing.T) {
	ctx := context.Background()
	b := OpenMem()
	defer b.Close()

	before, err := b.View(ctx)
	require.NoError(t, err)
	defer before.Release()

	iden := uuid.New()
	storagetest.Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.AddRows(ctx, []storage.Row{{Identity: iden, Prop: "p", Value: storage.Int(1), Time: 1}}))
	})

	rows, err := before.RowsByIdentity(ctx, iden)
	require.NoError(t, err)
	assert.Empty(t, rows)

	storagetest.Read(t, b, func(v storage.View) {
		rows, err := v.RowsByIdentity(ctx, iden)
		require.NoError(t, err)
		assert.Len(t, rows, 1)
	})
}

func TestPebbleBackend_ReopenContinuesKeys(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "cortex")

	b, err := OpenPebble(dir, nil)
	require.NoError(t, err)
	storagetest.Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.AddRows(ctx, []storage.Row{
			{Identity: uuid.New(), Prop: "p", Value: storage.Int(1), Time: 1},
			{Identity: uuid.New(), Prop: "p", Value: storage.Int(2), Time: 2},
		}))
	})
	require.NoError(t, b.Close())

	b, err = OpenPebble(dir, nil)
	require.NoError(t, err)
	defer b.Close()
	storagetest.Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.AddRows(ctx, []storage.Row{
			{Identity: uuid.New(), Prop: "p", Value: storage.Int(3), Time: 3},
		}))
	})

	snap, err := b.engine.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release()
	key, _, ok, err := snap.Last(kv.Rows)
	require.NoError(t, err)
	require.True(t, ok)
	pk, err := codec.DecodePK(key)
	require.NoError(t, err)
	assert.Equal(t, codec.PK(3), pk)

	require.NoError(t, b.Check(ctx))
}

func TestCheck_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	b := OpenMem()
	defer b.Close()

	iden := uuid.New()
	storagetest.Write(t, b, func(u storage.Unit) {
		require.NoError(t, u.AddRows(ctx, []storage.Row{{Identity: iden, Prop: "p", Value: storage.Int(1), Time: 1}}))
	})
	require.NoError(t, b.Check(ctx))

	batch, err := b.engine.NewBatch()
	require.NoError(t, err)
	require.NoError(t, batch.Delete(kv.IdentityProp, codec.IdentityPropKey(iden, "p")))
	require.NoError(t, batch.Commit())

	err = b.Check(ctx)
	assert.True(t, storage.IsInconsistent(err))

	// deleting through the damaged index is refused rather than ignored
	u, err := b.Begin(ctx)
	require.NoError(t, err)
	defer u.Abort()
	_, err = u.DeleteRowsByProperty(ctx, storage.Query{Prop: "p"})
	assert.True(t, storage.IsInconsistent(err))
}
