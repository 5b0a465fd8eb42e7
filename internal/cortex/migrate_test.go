package cortex

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/ordered"
)

func TestRunMigrations(t *testing.T) {
	eachBackend(t, func(t *testing.T, c *Cortex) {
		ctx := context.Background()
		ver, err := c.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, Unversioned, ver)

		var ran []int64
		step := func(v int64) Migration {
			return Migration{Version: v, Fn: func(context.Context) (int64, error) {
				ran = append(ran, v)
				return 0, nil
			}}
		}
		// out of order on purpose
		require.NoError(t, c.RunMigrations(ctx, []Migration{step(2), step(0), step(1)}))
		assert.Equal(t, []int64{0, 1, 2}, ran)

		ver, err = c.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), ver)

		ran = nil
		require.NoError(t, c.RunMigrations(ctx, []Migration{step(1), step(2), step(3)}))
		assert.Equal(t, []int64{3}, ran)
	})
}

func TestRunMigrations_JumpAhead(t *testing.T) {
	c := newCortex(t, ordered.OpenMem())
	ctx := context.Background()

	var ran []int64
	migs := []Migration{
		{Version: 1, Fn: func(context.Context) (int64, error) { ran = append(ran, 1); return 3, nil }},
		{Version: 2, Fn: func(context.Context) (int64, error) { ran = append(ran, 2); return 0, nil }},
		{Version: 3, Fn: func(context.Context) (int64, error) { ran = append(ran, 3); return 0, nil }},
		{Version: 4, Fn: func(context.Context) (int64, error) { ran = append(ran, 4); return 0, nil }},
	}
	require.NoError(t, c.RunMigrations(ctx, migs))
	assert.Equal(t, []int64{1, 4}, ran)

	ver, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ver)
}

func TestRunMigrations_FailureKeepsLastVersion(t *testing.T) {
	c := newCortex(t, ordered.OpenMem())
	ctx := context.Background()

	boom := errors.New("boom")
	err := c.RunMigrations(ctx, []Migration{
		{Version: 1, Fn: func(context.Context) (int64, error) { return 0, nil }},
		{Version: 2, Fn: func(context.Context) (int64, error) { return 0, boom }},
	})
	assert.ErrorIs(t, err, boom)

	ver, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ver)
}

func TestRunMigrations_Disallowed(t *testing.T) {
	c := newCortex(t, ordered.OpenMem(), WithAllowVersionUpdates(false))
	ctx := context.Background()

	called := false
	err := c.RunMigrations(ctx, []Migration{
		{Version: 1, Fn: func(context.Context) (int64, error) { called = true; return 0, nil }},
	})
	require.NoError(t, err)
	assert.False(t, called)

	ver, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, Unversioned, ver)
}
