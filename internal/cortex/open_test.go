package cortex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cortex/internal/config"
	"github.com/roach88/cortex/internal/ordered"
	"github.com/roach88/cortex/internal/sqlstore"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/testutil"
)

func cfgFor(url string) config.Config {
	cfg := config.Default()
	cfg.URL = url
	return cfg
}

func TestOpenBackend_Schemes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		url  string
		want any
	}{
		{"mem://", &ordered.Backend{}},
		{"pebble://" + filepath.Join(dir, "pebble"), &ordered.Backend{}},
		{"sqlite://" + filepath.Join(dir, "cortex.db"), &sqlstore.Store{}},
	}
	for _, tt := range tests {
		b, err := OpenBackend(ctx, cfgFor(tt.url))
		require.NoError(t, err, tt.url)
		assert.IsType(t, tt.want, b, tt.url)
		require.NoError(t, b.Close())
	}
}

func TestOpenBackend_Rejects(t *testing.T) {
	for _, url := range []string{"lmdb:///tmp/x", "pebble://", "sqlite://", "::bad"} {
		_, err := OpenBackend(context.Background(), cfgFor(url))
		assert.Error(t, err, url)
	}
}

func TestOpen_Reopen(t *testing.T) {
	ctx := context.Background()
	for _, scheme := range []string{"pebble", "sqlite"} {
		t.Run(scheme, func(t *testing.T) {
			cfg := cfgFor(scheme + "://" + filepath.Join(t.TempDir(), "store"))

			c, err := Open(ctx, cfg)
			require.NoError(t, err)
			require.NoError(t, c.AddRows(ctx, []storage.Row{testutil.Row(id1, "foo", 1, 1)}))
			require.NoError(t, c.RunMigrations(ctx, []Migration{{Version: 3, Fn: func(context.Context) (int64, error) { return 0, nil }}}))
			created, err := c.Created(ctx)
			require.NoError(t, err)
			require.NoError(t, c.Close())

			c, err = Open(ctx, cfg)
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, cfg.URL, c.Name())

			rows, err := c.RowsByIdentity(ctx, id1)
			require.NoError(t, err)
			assert.Len(t, rows, 1)
			ver, err := c.Version(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), ver)
			again, err := c.Created(ctx)
			require.NoError(t, err)
			assert.Equal(t, created, again)

			// a second row in the same slot is still refused after reopen
			err = c.AddRows(ctx, []storage.Row{testutil.Row(id1, "foo", 2, 2)})
			assert.ErrorIs(t, err, storage.ErrDatabaseInconsistent)
		})
	}
}

func TestOpen_AppliesConfig(t *testing.T) {
	cfg := cfgFor("mem://")
	cfg.AllowVersionUpdates = false
	c, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.RunMigrations(context.Background(), []Migration{{Version: 1, Fn: func(context.Context) (int64, error) { return 0, nil }}}))
	ver, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unversioned, ver)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	r := NewRegistry(WithRegisterer(reg))

	a, err := r.Open(ctx, cfgFor("mem://"))
	require.NoError(t, err)
	same, err := r.Open(ctx, cfgFor("mem://"))
	require.NoError(t, err)
	assert.Same(t, a, same)

	path := "sqlite://" + filepath.Join(t.TempDir(), "cortex.db")
	b, err := r.Open(ctx, cfgFor(path))
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())

	// both instances share one prometheus registry
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, a.Close())
	_, ok := r.Get("mem://")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())

	// reopening a closed name registers fresh collectors
	a, err = r.Open(ctx, cfgFor("mem://"))
	require.NoError(t, err)
	assert.NotSame(t, same, a)

	require.NoError(t, r.CloseAll())
	assert.Zero(t, r.Len())
}
