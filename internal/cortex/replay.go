package cortex

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/xact"
)

// SaveTo subscribes w to save events. Each committed mutation is appended
// to w after its transaction commits; a write failure is returned to the
// transaction draining the event. The returned function unsubscribes.
func (c *Cortex) SaveTo(w *savefile.Writer) func() {
	return c.On(EventSave, func(_ context.Context, _ string, payload any) error {
		rec, ok := payload.(savefile.Record)
		if !ok {
			return errors.AssertionFailedf("save payload is %T", payload)
		}
		return w.Write(rec)
	})
}

// Replay applies every record of r in order and returns how many it
// applied. Replayed mutations fire no events at all: the log already holds
// whatever cascading handlers wrote, and a cortex can replay one log while
// saving to another. The replay commits once, so a failing record leaves
// nothing applied.
func (c *Cortex) Replay(ctx context.Context, r *savefile.Reader) (int, error) {
	var n int
	err := c.write(withReplay(ctx), func(ctx context.Context, x *xact.Xact) error {
		for {
			rec, err := r.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := c.Apply(ctx, rec); err != nil {
				return errors.Wrapf(err, "replay record %d (%s)", n, rec.Op)
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Apply performs the mutation one savefile record describes.
func (c *Cortex) Apply(ctx context.Context, rec savefile.Record) error {
	switch rec.Op {
	case savefile.OpAddRows:
		rows, err := rec.StorageRows()
		if err != nil {
			return err
		}
		return c.AddRows(ctx, rows)

	case savefile.OpDelRowsByIden:
		_, err := c.DeleteRowsByIdentity(ctx, rec.Iden)
		return err

	case savefile.OpDelRowsByIdenProp:
		v, err := rec.Value.Storage()
		if err != nil {
			return err
		}
		_, err = c.DeleteRowsByIdentityProperty(ctx, rec.Iden, rec.Prop, v)
		return err

	case savefile.OpSetRowsByIdenProp:
		rows, err := rec.StorageRows()
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			return errors.Newf("set record carries %d rows", len(rows))
		}
		if err := storage.ValidateRows(rows); err != nil {
			return err
		}
		row := storage.NormRows(rows)[0]
		return c.write(ctx, func(ctx context.Context, x *xact.Xact) error {
			return c.setRow(ctx, x, row)
		})

	case savefile.OpDelRowsByProp:
		q, err := rec.Query()
		if err != nil {
			return err
		}
		_, err = c.DeleteRowsByProperty(ctx, q)
		return err

	case savefile.OpSetBlob:
		return c.SetBlob(ctx, rec.Key, rec.Blob)

	case savefile.OpDelBlob:
		_, err := c.DelBlob(ctx, rec.Key)
		return err

	default:
		return errors.Newf("unknown savefile op %q", rec.Op)
	}
}
