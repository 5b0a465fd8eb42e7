package cortex

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/roach88/cortex/internal/savefile"
	"github.com/roach88/cortex/internal/storage"
	"github.com/roach88/cortex/internal/xact"
)

// Event names.
const (
	EventRowAdd  = "row:add"
	EventRowDel  = "row:del"
	EventBlobSet = "blob:set"
	EventBlobDel = "blob:del"
	EventSave    = "save"
)

// RowsAdded is the payload of row:add.
type RowsAdded struct {
	Rows []storage.Row
}

// RowsDeleted is the payload of row:del. Identity and Prop describe an
// identity delete; Query describes a property delete.
type RowsDeleted struct {
	Identity storage.Identity
	Prop     string
	Query    *storage.Query
	Count    int
}

// BlobChanged is the payload of blob:set and blob:del. For blob:del Value
// holds the removed bytes.
type BlobChanged struct {
	Key   string
	Value []byte
}

// Handler receives one committed event. ctx belongs to the transaction that
// delivers the event, so writes made with it join that transaction.
type Handler func(ctx context.Context, name string, payload any) error

type subscription struct {
	id int
	fn Handler
}

type bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscription
}

func newBus() *bus {
	return &bus{subs: make(map[string][]subscription)}
}

func (b *bus) on(name string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[name]
		for i, s := range subs {
			if s.id == id {
				b.subs[name] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

func (b *bus) handlers(name string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subs[name]
}

// On subscribes fn to events named name and returns a function that
// cancels the subscription. Handlers run in subscription order.
func (c *Cortex) On(name string, fn Handler) func() {
	return c.bus.on(name, fn)
}

// deliver is the transaction manager's fire function.
func (c *Cortex) deliver(ctx context.Context, events []xact.Event) error {
	for _, ev := range events {
		c.metrics.eventsFired.WithLabelValues(ev.Name).Inc()
		for _, s := range c.bus.handlers(ev.Name) {
			if err := s.fn(ctx, ev.Name, ev.Payload); err != nil {
				return errors.Wrapf(err, "handle %s", ev.Name)
			}
		}
	}
	return nil
}

type replayKey struct{}

func withReplay(ctx context.Context) context.Context {
	return context.WithValue(ctx, replayKey{}, true)
}

func replaying(ctx context.Context) bool {
	on, _ := ctx.Value(replayKey{}).(bool)
	return on
}

// fire queues an event on x. Nothing is queued while ctx belongs to a
// replay, so replayed records reach no handler and never count toward the
// flush watermark.
func (c *Cortex) fire(ctx context.Context, x *xact.Xact, name string, payload any) error {
	if replaying(ctx) {
		return nil
	}
	return x.Fire(name, payload)
}

func (c *Cortex) save(ctx context.Context, x *xact.Xact, rec savefile.Record) error {
	return c.fire(ctx, x, EventSave, rec)
}
