package xact

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/storage"
)

// DefaultSize is the event watermark used when Options.Size is zero.
const DefaultSize = 1000

// Event is a queued domain event.
type Event struct {
	Name    string
	Payload any
}

// FireFunc delivers committed events. ctx carries the firing worker.
type FireFunc func(ctx context.Context, events []Event) error

// Observer is told about commits, aborts and watermark flushes.
type Observer interface {
	Committed()
	Aborted()
	Flushed(events int)
}

type nopObserver struct{}

func (nopObserver) Committed()  {}
func (nopObserver) Aborted()    {}
func (nopObserver) Flushed(int) {}

// Options configures a Manager.
type Options struct {
	// Size is the queued-event watermark that triggers an interim commit.
	Size int

	// Fire receives events after commit. Nil discards them.
	Fire FireFunc

	Observer Observer
}

// Manager hands out transactions over one backend.
type Manager struct {
	backend storage.Backend
	size    int
	fire    FireFunc
	obs     Observer

	xlock sync.Mutex

	mu      sync.Mutex
	workers map[WorkerID]*Xact
}

// NewManager returns a manager for backend.
func NewManager(backend storage.Backend, opts Options) *Manager {
	m := &Manager{
		backend: backend,
		size:    opts.Size,
		fire:    opts.Fire,
		obs:     opts.Observer,
		workers: make(map[WorkerID]*Xact),
	}
	if m.size <= 0 {
		m.size = DefaultSize
	}
	if m.fire == nil {
		m.fire = func(context.Context, []Event) error { return nil }
	}
	if m.obs == nil {
		m.obs = nopObserver{}
	}
	return m
}

// Xact is an open transaction. It is shared by every Enter of one worker
// until the outermost Exit.
type Xact struct {
	m      *Manager
	worker WorkerID
	ctx    context.Context
	unit   storage.Unit
	depth  int
	events []Event
	failed error
}

// Active returns the transaction open for ctx's worker.
func (m *Manager) Active(ctx context.Context) (*Xact, bool) {
	id, ok := WorkerFrom(ctx)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	x, ok := m.workers[id]
	return x, ok
}

// Enter opens or deepens the worker's transaction. The returned context
// carries the worker and must be used for nested calls.
func (m *Manager) Enter(ctx context.Context) (*Xact, context.Context, error) {
	ctx, id := ensureWorker(ctx)
	if x, ok := m.Active(ctx); ok {
		x.depth++
		return x, ctx, nil
	}

	m.xlock.Lock()
	unit, err := m.backend.Begin(ctx)
	if err != nil {
		m.xlock.Unlock()
		return nil, ctx, errors.Wrap(err, "begin transaction")
	}
	x := &Xact{m: m, worker: id, ctx: ctx, unit: unit, depth: 1}

	m.mu.Lock()
	m.workers[id] = x
	m.mu.Unlock()
	return x, ctx, nil
}

// Do runs fn inside the worker's transaction.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, x *Xact) error) error {
	x, ctx, err := m.Enter(ctx)
	if err != nil {
		return err
	}
	return x.Exit(fn(ctx, x))
}

// Unit is the storage unit currently open. It changes across flushes, so
// callers fetch it for each operation instead of keeping it.
func (x *Xact) Unit() storage.Unit {
	return x.unit
}

// Depth reports how many Enters are outstanding.
func (x *Xact) Depth() int {
	return x.depth
}

// Fire queues an event for delivery after commit.
func (x *Xact) Fire(name string, payload any) error {
	x.events = append(x.events, Event{Name: name, Payload: payload})
	if len(x.events) < x.m.size {
		return nil
	}
	if err := x.flush(); err != nil {
		x.failed = err
		return err
	}
	return nil
}

// flush commits, yields the write lock, fires the drained events in their
// own unit and leaves a fresh unit open.
func (x *Xact) flush() error {
	n := len(x.events)
	if err := x.commit(); err != nil {
		return err
	}

	// Let waiting writers in before continuing.
	x.m.xlock.Unlock()
	x.m.xlock.Lock()

	if err := x.begin(); err != nil {
		return err
	}
	if err := x.drainOnce(); err != nil {
		return err
	}
	x.m.obs.Flushed(n)
	slog.Debug("xact flushed", "events", n)
	return x.begin()
}

// drainOnce fires the queued events into the open unit and commits it.
func (x *Xact) drainOnce() error {
	events := x.events
	x.events = nil
	if err := x.m.fire(x.ctx, events); err != nil {
		return errors.Wrap(err, "fire events")
	}
	if x.failed != nil {
		// a handler's nested Exit failed but the handler swallowed it
		return x.failed
	}
	return x.commit()
}

func (x *Xact) begin() error {
	unit, err := x.m.backend.Begin(x.ctx)
	if err != nil {
		x.unit = nil
		return errors.Wrap(err, "begin transaction")
	}
	x.unit = unit
	return nil
}

func (x *Xact) commit() error {
	if err := x.unit.Commit(); err != nil {
		slog.Error("xact commit failed", "error", err)
		x.abort()
		return errors.Wrap(err, "commit transaction")
	}
	x.unit = nil
	x.m.obs.Committed()
	return nil
}

func (x *Xact) abort() {
	x.events = nil
	if x.unit == nil {
		return
	}
	if err := x.unit.Abort(); err != nil {
		slog.Error("xact abort failed", "error", err)
	}
	x.unit = nil
	x.m.obs.Aborted()
}

// Exit leaves one level of the transaction. err is the outcome of the work
// done inside it. A failure at any depth aborts the whole transaction at
// the outermost Exit. The returned error is err, or the commit or drain
// failure when err is nil.
func (x *Xact) Exit(err error) error {
	if err != nil && x.failed == nil {
		x.failed = err
	}
	if x.depth > 1 {
		x.depth--
		return err
	}
	defer x.release()

	if x.failed != nil {
		x.abort()
		if err == nil {
			err = x.failed
		}
		return err
	}

	if x.unit == nil {
		// an earlier flush failed to begin
		return errors.New("transaction has no open unit")
	}
	if cerr := x.commit(); cerr != nil {
		return cerr
	}
	for len(x.events) > 0 {
		if berr := x.begin(); berr != nil {
			return berr
		}
		if derr := x.drainOnce(); derr != nil {
			x.abort()
			return derr
		}
	}
	return nil
}

func (x *Xact) release() {
	x.depth = 0
	x.m.mu.Lock()
	delete(x.m.workers, x.worker)
	x.m.mu.Unlock()
	x.m.xlock.Unlock()
}
