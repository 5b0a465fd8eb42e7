package cortex

import (
	"context"
	"log/slog"
	"sort"

	"github.com/cockroachdb/errors"
)

// Unversioned is the version of a store no migration has touched.
const Unversioned int64 = -1

// Migration moves the store to Version. Fn may return a higher version to
// skip ahead; any lower return value stores Version itself.
type Migration struct {
	Version int64
	Fn      func(ctx context.Context) (int64, error)
}

// Version returns the stored schema version, or Unversioned.
func (c *Cortex) Version(ctx context.Context) (int64, error) {
	ver := Unversioned
	if _, err := c.GetBlobValue(ctx, BlobVersion, &ver); err != nil {
		return Unversioned, err
	}
	return ver, nil
}

// RunMigrations applies, in ascending order, every migration newer than the
// stored version, recording the version after each. Migrations run outside
// any row transaction. When version updates are disallowed it logs and
// returns without touching the store.
func (c *Cortex) RunMigrations(ctx context.Context, migrations []Migration) error {
	if !c.allowVer {
		slog.Warn("storage version updates disabled, skipping migrations", "name", c.name, "migrations", len(migrations))
		return nil
	}

	cur, err := c.Version(ctx)
	if err != nil {
		return err
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= cur {
			continue
		}
		next, err := m.Fn(ctx)
		if err != nil {
			return errors.Wrapf(err, "migration %d", m.Version)
		}
		if next < m.Version {
			next = m.Version
		}
		if err := c.SetBlobValue(ctx, BlobVersion, next); err != nil {
			return errors.Wrapf(err, "record version %d", next)
		}
		slog.Info("migration applied", "name", c.name, "from", cur, "to", next)
		cur = next
	}
	return nil
}
