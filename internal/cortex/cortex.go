package cortex

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/xact"
)

// Cortex is the row storage engine consumed by the graph layer. It wraps one
// backend with transactions, domain events, range handlers, a blob store and
// versioned migrations.
//
// Thread-safety: all methods are safe for concurrent use. Writes serialize on
// the transaction manager's write lock; reads outside a transaction run
// against a snapshot view.
type Cortex struct {
	name     string
	backend  storage.Backend
	xacts    *xact.Manager
	bus      *bus
	metrics  *Metrics
	now      func() time.Time
	allowVer bool

	hmu    sync.RWMutex
	ranges map[string]RangeHandler
	counts map[string]CountHandler

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

type settings struct {
	name     string
	now      func() time.Time
	xactSize int
	reg      prometheus.Registerer
	allowVer bool
}

// Option configures a Cortex.
type Option func(*settings)

// WithClock sets the time source for row timestamps and the creation blob.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

// WithXactSize sets the queued-event watermark of transactions.
func WithXactSize(n int) Option {
	return func(s *settings) {
		s.xactSize = n
	}
}

// WithRegisterer registers the cortex metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.reg = reg
	}
}

// WithAllowVersionUpdates gates RunMigrations. Default: true.
func WithAllowVersionUpdates(allow bool) Option {
	return func(s *settings) {
		s.allowVer = allow
	}
}

// WithName labels the cortex in logs and metrics. Open uses the backend URL.
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// New returns a Cortex over backend. The cortex owns backend and closes it
// on Close. A fresh store gets its creation time recorded in the blob store.
func New(ctx context.Context, backend storage.Backend, opts ...Option) (*Cortex, error) {
	s := settings{
		name:     "default",
		now:      time.Now,
		xactSize: xact.DefaultSize,
		allowVer: true,
	}
	for _, opt := range opts {
		opt(&s)
	}

	c := &Cortex{
		name:     s.name,
		backend:  backend,
		bus:      newBus(),
		metrics:  NewMetrics(s.reg, s.name),
		now:      s.now,
		allowVer: s.allowVer,
		ranges:   make(map[string]RangeHandler),
		counts:   make(map[string]CountHandler),
	}
	c.xacts = xact.NewManager(backend, xact.Options{
		Size:     s.xactSize,
		Fire:     c.deliver,
		Observer: c.metrics,
	})
	c.registerBuiltinRanges()

	if err := c.initCreated(ctx); err != nil {
		c.metrics.Unregister()
		return nil, errors.CombineErrors(err, backend.Close())
	}
	slog.Info("cortex opened", "name", c.name)
	return c, nil
}

// Name returns the label given at construction.
func (c *Cortex) Name() string {
	return c.name
}

// Backend returns the underlying storage backend.
func (c *Cortex) Backend() storage.Backend {
	return c.backend
}

// Metrics returns the cortex metrics.
func (c *Cortex) Metrics() *Metrics {
	return c.metrics
}

// Close closes the backend. Later calls return the first result.
func (c *Cortex) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.backend.Close()
		c.metrics.Unregister()
		if c.onClose != nil {
			c.onClose()
		}
		slog.Info("cortex closed", "name", c.name)
	})
	return c.closeErr
}

// Check verifies index consistency on backends that support it.
func (c *Cortex) Check(ctx context.Context) error {
	chk, ok := c.backend.(storage.Checker)
	if !ok {
		return errors.Wrapf(storage.ErrNotImplemented, "%T has no consistency check", c.backend)
	}
	return chk.Check(ctx)
}

// Do runs fn in the caller's transaction, opening one if needed. Façade
// calls made with the ctx passed to fn join the same transaction and commit
// together at the outermost exit.
func (c *Cortex) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.xacts.Do(ctx, func(ctx context.Context, _ *xact.Xact) error {
		return fn(ctx)
	})
}

// WithWorker returns ctx bound to a fresh worker. Calls sharing a worker
// share its open transaction.
func WithWorker(ctx context.Context) context.Context {
	return xact.WithWorker(ctx, xact.WorkerID(storage.NewIdentity()))
}

// stamp returns the current time in milliseconds since the epoch.
func (c *Cortex) stamp() uint64 {
	ms := c.now().UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

func (c *Cortex) write(ctx context.Context, fn func(ctx context.Context, x *xact.Xact) error) error {
	return c.xacts.Do(ctx, fn)
}

// read runs fn against the worker's open unit, so reads inside a
// transaction see its writes, or else against a fresh snapshot.
func (c *Cortex) read(ctx context.Context, fn func(r storage.Reader) error) error {
	if x, ok := c.xacts.Active(ctx); ok {
		if u := x.Unit(); u != nil {
			return fn(u)
		}
	}
	v, err := c.backend.View(ctx)
	if err != nil {
		return errors.Wrap(err, "open view")
	}
	err = fn(v)
	if rerr := v.Release(); rerr != nil && err == nil {
		err = errors.Wrap(rerr, "release view")
	}
	return err
}
