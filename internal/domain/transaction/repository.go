package transaction

import "context"

// Repository defines the record store consumed by the reconciliation core.
// Each call is expected to be atomic on its own.
type Repository interface {
	// FindByRefID returns the transaction or errors.ErrTransactionNotFound.
	FindByRefID(ctx context.Context, refID string) (*Transaction, error)

	// UpdatePartial writes only the non-nil fields of u and reports the
	// number of rows touched.
	UpdatePartial(ctx context.Context, refID string, u Update) (int64, error)

	// RecomputeBatchAggregates recounts the batch from its members and
	// returns the refreshed batch.
	RecomputeBatchAggregates(ctx context.Context, batchID string) (*Batch, error)

	// FindBatchMembers lists the transactions that belong to a batch.
	FindBatchMembers(ctx context.Context, batchID string) ([]*Transaction, error)

	// FindBatch returns the batch or errors.ErrBatchNotFound.
	FindBatch(ctx context.Context, batchID string) (*Batch, error)
}
