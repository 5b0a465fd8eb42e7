package cortex

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/xact"
)

// AddRows stores rows atomically. The whole batch is validated before the
// transaction opens, so a bad row leaves the store untouched.
func (c *Cortex) AddRows(ctx context.Context, rows []storage.Row) error {
	if err := storage.ValidateRows(rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	rows = storage.NormRows(rows)
	return c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		return c.addRows(ctx, x, rows)
	})
}

func (c *Cortex) addRows(ctx context.Context, x *xact.Xact, rows []storage.Row) error {
	if err := x.Unit().AddRows(ctx, rows); err != nil {
		return errors.Wrap(err, "add rows")
	}
	c.metrics.rowsAdded.Add(float64(len(rows)))
	if err := c.save(ctx, x, savefile.Record{Op: savefile.OpAddRows, Rows: savefile.FromRows(rows)}); err != nil {
		return err
	}
	return c.fire(ctx, x, EventRowAdd, RowsAdded{Rows: rows})
}

// DeleteRowsByIdentity removes every row of iden. Deleting an unknown
// identity succeeds and removes nothing.
func (c *Cortex) DeleteRowsByIdentity(ctx context.Context, iden storage.Identity) (int, error) {
	var n int
	err := c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		var err error
		n, err = c.deleteIdentity(ctx, x, iden)
		return err
	})
	return n, err
}

func (c *Cortex) deleteIdentity(ctx context.Context, x *xact.Xact, iden storage.Identity) (int, error) {
	n, err := x.Unit().DeleteRowsByIdentity(ctx, iden)
	if err != nil {
		return 0, errors.Wrapf(err, "delete rows of %s", iden)
	}
	if err := c.save(ctx, x, savefile.Record{Op: savefile.OpDelRowsByIden, Iden: iden}); err != nil {
		return 0, err
	}
	return n, c.deleted(ctx, x, RowsDeleted{Identity: iden, Count: n})
}

// DeleteRowsByIdentityProperty removes the row in the iden/prop slot. A
// non-nil v restricts the delete to a row currently holding v.
func (c *Cortex) DeleteRowsByIdentityProperty(ctx context.Context, iden storage.Identity, prop string, v storage.Value) (int, error) {
	if err := storage.ValidateProp(prop); err != nil {
		return 0, err
	}
	prop = storage.NormProp(prop)
	var n int
	err := c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		var err error
		n, err = x.Unit().DeleteRowsByIdentityProperty(ctx, iden, prop, v)
		if err != nil {
			return errors.Wrapf(err, "delete %s of %s", prop, iden)
		}
		rec := savefile.Record{Op: savefile.OpDelRowsByIdenProp, Iden: iden, Prop: prop, Value: savefile.FromValue(v)}
		if err := c.save(ctx, x, rec); err != nil {
			return err
		}
		return c.deleted(ctx, x, RowsDeleted{Identity: iden, Prop: prop, Count: n})
	})
	return n, err
}

// SetRowByIdentityProperty replaces whatever the iden/prop slot holds with v
// stamped at the current time. The old row and its timestamp are discarded.
func (c *Cortex) SetRowByIdentityProperty(ctx context.Context, iden storage.Identity, prop string, v storage.Value) (storage.Row, error) {
	row := storage.Row{Identity: iden, Prop: prop, Value: v, Time: c.stamp()}
	if err := storage.ValidateRows([]storage.Row{row}); err != nil {
		return storage.Row{}, err
	}
	row.Prop = storage.NormProp(prop)
	err := c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		return c.setRow(ctx, x, row)
	})
	if err != nil {
		return storage.Row{}, err
	}
	return row, nil
}

func (c *Cortex) setRow(ctx context.Context, x *xact.Xact, row storage.Row) error {
	u := x.Unit()
	n, err := u.DeleteRowsByIdentityProperty(ctx, row.Identity, row.Prop, nil)
	if err != nil {
		return errors.Wrapf(err, "clear %s of %s", row.Prop, row.Identity)
	}
	if err := u.AddRows(ctx, []storage.Row{row}); err != nil {
		return errors.Wrapf(err, "set %s of %s", row.Prop, row.Identity)
	}
	c.metrics.rowsAdded.Inc()
	rec := savefile.Record{Op: savefile.OpSetRowsByIdenProp, Rows: savefile.FromRows([]storage.Row{row})}
	if err := c.save(ctx, x, rec); err != nil {
		return err
	}
	if n > 0 {
		if err := c.deleted(ctx, x, RowsDeleted{Identity: row.Identity, Prop: row.Prop, Count: n}); err != nil {
			return err
		}
	}
	return c.fire(ctx, x, EventRowAdd, RowsAdded{Rows: []storage.Row{row}})
}

// DeleteRowsByProperty removes every row matching q. q.Limit is ignored.
func (c *Cortex) DeleteRowsByProperty(ctx context.Context, q storage.Query) (int, error) {
	if err := storage.ValidateProp(q.Prop); err != nil {
		return 0, err
	}
	q.Prop = storage.NormProp(q.Prop)
	q.Limit = 0
	var n int
	err := c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		var err error
		n, err = x.Unit().DeleteRowsByProperty(ctx, q)
		if err != nil {
			return errors.Wrapf(err, "delete rows of %s", q.Prop)
		}
		rec := savefile.Record{
			Op:      savefile.OpDelRowsByProp,
			Prop:    q.Prop,
			Value:   savefile.FromValue(q.Value),
			MinTime: q.MinTime,
			MaxTime: q.MaxTime,
		}
		if err := c.save(ctx, x, rec); err != nil {
			return err
		}
		return c.deleted(ctx, x, RowsDeleted{Prop: q.Prop, Query: &q, Count: n})
	})
	return n, err
}

func (c *Cortex) deleted(ctx context.Context, x *xact.Xact, ev RowsDeleted) error {
	if ev.Count == 0 {
		return nil
	}
	c.metrics.rowsDeleted.Add(float64(ev.Count))
	return c.fire(ctx, x, EventRowDel, ev)
}

// RowsByIdentity returns every row of iden.
func (c *Cortex) RowsByIdentity(ctx context.Context, iden storage.Identity) ([]storage.Row, error) {
	var rows []storage.Row
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		rows, err = r.RowsByIdentity(ctx, iden)
		return err
	})
	return rows, err
}

// RowsByProperty returns rows matching q in ascending time order. The scan
// stops after q.Limit rows.
func (c *Cortex) RowsByProperty(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	if err := storage.ValidateProp(q.Prop); err != nil {
		return nil, err
	}
	q.Prop = storage.NormProp(q.Prop)
	var rows []storage.Row
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		rows, err = r.RowsByProperty(ctx, q)
		return err
	})
	return rows, err
}

// SizeByProperty counts rows matching q without materializing them.
func (c *Cortex) SizeByProperty(ctx context.Context, q storage.Query) (int, error) {
	if err := storage.ValidateProp(q.Prop); err != nil {
		return 0, err
	}
	q.Prop = storage.NormProp(q.Prop)
	var n int
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		n, err = r.SizeByProperty(ctx, q)
		return err
	})
	return n, err
}

// JoinByProperty resolves q to the distinct identities it matches and
// returns all rows of each, identities in first-match order.
func (c *Cortex) JoinByProperty(ctx context.Context, q storage.Query) ([]storage.Row, error) {
	if err := storage.ValidateProp(q.Prop); err != nil {
		return nil, err
	}
	q.Prop = storage.NormProp(q.Prop)
	var rows []storage.Row
	err := c.read(ctx, func(r storage.Reader) error {
		idens, err := joinIdentities(ctx, r, q)
		if err != nil {
			return err
		}
		for _, iden := range idens {
			got, err := r.RowsByIdentity(ctx, iden)
			if err != nil {
				return err
			}
			rows = append(rows, got...)
		}
		return nil
	})
	return rows, err
}

// DeleteJoinByProperty deletes every row of every identity matching q and
// returns the number of rows removed.
func (c *Cortex) DeleteJoinByProperty(ctx context.Context, q storage.Query) (int, error) {
	if err := storage.ValidateProp(q.Prop); err != nil {
		return 0, err
	}
	q.Prop = storage.NormProp(q.Prop)
	var total int
	err := c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
		idens, err := joinIdentities(ctx, x.Unit(), q)
		if err != nil {
			return err
		}
		for _, iden := range idens {
			n, err := c.deleteIdentity(ctx, x, iden)
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	return total, err
}

func joinIdentities(ctx context.Context, r storage.Reader, q storage.Query) ([]storage.Identity, error) {
	matched, err := r.RowsByProperty(ctx, q)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", q.Prop)
	}
	seen := make(map[storage.Identity]struct{}, len(matched))
	var idens []storage.Identity
	for _, row := range matched {
		if _, ok := seen[row.Identity]; ok {
			continue
		}
		seen[row.Identity] = struct{}{}
		idens = append(idens, row.Identity)
	}
	return idens, nil
}
