package cortex

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/storage"
)

// RangeHandler answers a named access pattern over one property.
type RangeHandler func(ctx context.Context, r storage.Reader, prop string, args []storage.Value, limit int) ([]storage.Row, error)

// CountHandler counts the rows a named access pattern matches.
type CountHandler func(ctx context.Context, r storage.Reader, prop string, args []storage.Value) (int, error)

// Built-in access pattern names.
const (
	RangeGT    = "gt"
	RangeLT    = "lt"
	RangeGE    = "ge"
	RangeLE    = "le"
	RangeRange = "range"
)

// rangeShape turns handler arguments into a value range.
type rangeShape func(args []storage.Value) (lo, hi *storage.Bound, err error)

func oneBound(name string, hi, inclusive bool) rangeShape {
	return func(args []storage.Value) (*storage.Bound, *storage.Bound, error) {
		if len(args) != 1 {
			return nil, nil, errors.Newf("%s takes 1 value, got %d", name, len(args))
		}
		b := &storage.Bound{Value: args[0], Inclusive: inclusive}
		if hi {
			return nil, b, nil
		}
		return b, nil, nil
	}
}

// halfOpen is lo <= v < hi.
func halfOpen(args []storage.Value) (*storage.Bound, *storage.Bound, error) {
	if len(args) != 2 {
		return nil, nil, errors.Newf("range takes 2 values, got %d", len(args))
	}
	return &storage.Bound{Value: args[0], Inclusive: true}, &storage.Bound{Value: args[1]}, nil
}

func (c *Cortex) registerBuiltinRanges() {
	shapes := map[string]rangeShape{
		RangeGT:    oneBound(RangeGT, false, false),
		RangeGE:    oneBound(RangeGE, false, true),
		RangeLT:    oneBound(RangeLT, true, false),
		RangeLE:    oneBound(RangeLE, true, true),
		RangeRange: halfOpen,
	}
	for name, shape := range shapes {
		c.RegisterRangeHandler(name, valueRangeRows(shape))
		c.RegisterCountHandler(name, valueRangeCount(shape))
	}
}

func buildRange(shape rangeShape, prop string, args []storage.Value) (storage.RangeQuery, error) {
	for i, v := range args {
		if storage.KindOf(v) == storage.KindInvalid {
			return storage.RangeQuery{}, errors.Wrapf(storage.ErrBadValueType, "range value %d is %T", i, v)
		}
	}
	lo, hi, err := shape(args)
	if err != nil {
		return storage.RangeQuery{}, err
	}
	q := storage.RangeQuery{Prop: prop, Lo: lo, Hi: hi}
	if q.Kind() == storage.KindInvalid {
		return storage.RangeQuery{}, errors.Wrap(storage.ErrBadValueType, "range bounds must share a kind")
	}
	return q, nil
}

func valueRangeRows(shape rangeShape) RangeHandler {
	return func(ctx context.Context, r storage.Reader, prop string, args []storage.Value, limit int) ([]storage.Row, error) {
		q, err := buildRange(shape, prop, args)
		if err != nil {
			return nil, err
		}
		q.Limit = limit
		return r.RowsByValueRange(ctx, q)
	}
}

func valueRangeCount(shape rangeShape) CountHandler {
	return func(ctx context.Context, r storage.Reader, prop string, args []storage.Value) (int, error) {
		q, err := buildRange(shape, prop, args)
		if err != nil {
			return 0, err
		}
		return r.SizeByValueRange(ctx, q)
	}
}

// RegisterRangeHandler installs fn under name, replacing any earlier one.
func (c *Cortex) RegisterRangeHandler(name string, fn RangeHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.ranges[name] = fn
}

// RegisterCountHandler installs fn under name, replacing any earlier one.
func (c *Cortex) RegisterCountHandler(name string, fn CountHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.counts[name] = fn
}

// RowsByRange runs the range handler registered as name. An unregistered
// name fails with storage.ErrNoSuchAccessPattern; a backend without range
// support fails with storage.ErrNotImplemented.
func (c *Cortex) RowsByRange(ctx context.Context, name, prop string, limit int, args ...storage.Value) ([]storage.Row, error) {
	c.hmu.RLock()
	fn, ok := c.ranges[name]
	c.hmu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(storage.ErrNoSuchAccessPattern, "range %q", name)
	}
	if err := storage.ValidateProp(prop); err != nil {
		return nil, err
	}
	prop = storage.NormProp(prop)
	var rows []storage.Row
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		rows, err = fn(ctx, r, prop, args, limit)
		return err
	})
	return rows, err
}

// SizeByRange runs the count handler registered as name.
func (c *Cortex) SizeByRange(ctx context.Context, name, prop string, args ...storage.Value) (int, error) {
	c.hmu.RLock()
	fn, ok := c.counts[name]
	c.hmu.RUnlock()
	if !ok {
		return 0, errors.Wrapf(storage.ErrNoSuchAccessPattern, "count %q", name)
	}
	if err := storage.ValidateProp(prop); err != nil {
		return 0, err
	}
	prop = storage.NormProp(prop)
	var n int
	err := c.read(ctx, func(r storage.Reader) error {
		var err error
		n, err = fn(ctx, r, prop, args)
		return err
	})
	return n, err
}
