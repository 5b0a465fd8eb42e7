// Package xact serializes writers and batches their events.
//
// A Manager owns the write lock of one backend. Enter on a context without
// an open transaction takes the lock and begins a storage.Unit; Enter on a
// context whose worker already holds one just deepens it. Only the outermost
// Exit commits, then drains queued events by repeatedly beginning a unit,
// handing the events to the fire function and committing, until a round
// produces no new events.
//
// Once the queue reaches the size watermark, Fire commits the current unit,
// releases and immediately retakes the write lock so waiting writers get a
// turn, fires the drained events in their own unit and continues in a fresh
// one.
//
// Events are only fired after the commit that produced them succeeded. If a
// commit fails the unit is aborted and its events are dropped.
//
// The write lock blocks without a timeout. The fire function runs with the
// lock held; it must do its writes through the context it is given; a
// context without the worker would wait for the lock forever.
package xact
