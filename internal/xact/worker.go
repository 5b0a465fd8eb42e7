package xact

import (
	"context"

	"github.com/google/uuid"
)

// WorkerID names one logical caller. Calls sharing a worker share its open
// transaction. A worker must not be used from two goroutines at once.
type WorkerID = uuid.UUID

type workerKey struct{}

// WithWorker returns a context carrying id.
func WithWorker(ctx context.Context, id WorkerID) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

// WorkerFrom returns the worker carried by ctx.
func WorkerFrom(ctx context.Context) (WorkerID, bool) {
	id, ok := ctx.Value(workerKey{}).(WorkerID)
	return id, ok
}

// ensureWorker returns ctx with a worker, minting one if needed.
func ensureWorker(ctx context.Context) (context.Context, WorkerID) {
	if id, ok := WorkerFrom(ctx); ok {
		return ctx, id
	}
	id := uuid.New()
	return WithWorker(ctx, id), id
}
