package service

import (
	"context"

	"github.com/cassiomorais/callbacks/internal/domain/transaction"
)

// Locker serializes work on a ref_id across process boundaries.
type Locker interface {
	// WithLock runs fn while holding the lock for refID.
	WithLock(ctx context.Context, refID string, fn func(ctx context.Context) error) error
}

// Notifier receives reconciled state for fan-out.
// Publish must return without waiting on delivery.
type Notifier interface {
	Publish(tx *transaction.Transaction, batch *transaction.Batch)
}

// BatchSnapshotter is an optional store capability: reading a batch and its
// members atomically.
type BatchSnapshotter interface {
	BatchSnapshot(ctx context.Context, batchID string) (*transaction.Batch, []*transaction.Transaction, error)
}
