// Package syncqueue persists pending remote-mirroring operations.
//
// # Overview
//
// Tasks form one FIFO queue per identity, ordered by an autoincrement
// sequence number. A task leaves the queue in exactly one of three ways:
// Complete (applied remotely; its idempotency key is recorded), Bury
// (attempts exhausted; moved to the dead-letter table) or Remove.
//
// The queue lives in the same SQLite database as the kv medium and survives
// restarts.
//
// Typical Usage
//
//	q := syncqueue.NewSQLiteRepository(db)
//	_ = q.Enqueue(ctx, task)
//	head, _ := q.Head(ctx, identity)
//	_ = q.Complete(ctx, head)
package syncqueue

import (
	"context"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
)

type Repository interface {
	// Enqueue appends t to the tail of its identity's queue and assigns
	// t.Seq (and t.EnqueuedAt when zero).
	Enqueue(ctx context.Context, t *models.SyncTask) error

	// Head returns the oldest task of identity, or (nil, nil) when empty.
	Head(ctx context.Context, identity string) (*models.SyncTask, error)

	// List returns identity's tasks in queue order.
	List(ctx context.Context, identity string) ([]*models.SyncTask, error)

	// Count returns the number of queued tasks of identity.
	Count(ctx context.Context, identity string) (int, error)

	// Identities returns every identity with at least one queued task.
	Identities(ctx context.Context) ([]string, error)

	// Requeue moves t to the tail, persisting its Attempts and LastError.
	// t.Seq is updated.
	Requeue(ctx context.Context, t *models.SyncTask) error

	// UpdateAttempts persists t's Attempts and LastError in place.
	UpdateAttempts(ctx context.Context, t *models.SyncTask) error

	// Remove deletes t without recording it as applied.
	Remove(ctx context.Context, t *models.SyncTask) error

	// Complete records t's idempotency key as applied and removes t.
	Complete(ctx context.Context, t *models.SyncTask) error

	// MarkApplied records key as applied.
	MarkApplied(ctx context.Context, key string) error

	// IsApplied reports whether key has been applied.
	IsApplied(ctx context.Context, key string) (bool, error)

	// Bury moves t to the dead-letter table.
	Bury(ctx context.Context, t *models.SyncTask) error

	// Dead returns identity's dead-lettered tasks, oldest first.
	Dead(ctx context.Context, identity string) ([]*models.SyncTask, error)
}
