package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `id, ref_id, customer_no, product_code, status_code, success, status,
	response_data, error_message, raw_response, serial_number, batch_id, owner_id,
	response_time, created_at, updated_at`

const batchColumns = `id, owner_id, total_transactions, successful_count, failed_count, updated_at`

// terminalGuard is true when the stored row already has a resolved label.
const terminalGuard = `status IN ('Sukses', 'Gagal')`

// TransactionRepository implements transaction.Repository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewTransactionRepository(pool *pgxpool.Pool, tx *TxManager) *TransactionRepository {
	return &TransactionRepository{pool: pool, tx: tx}
}

func (r *TransactionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// FindByRefID retrieves a transaction by its provider reference.
func (r *TransactionRepository) FindByRefID(ctx context.Context, refID string) (*transaction.Transaction, error) {
	tx, err := scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE ref_id = $1`, refID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, domainErrors.NewPersistenceError("find transaction", err)
	}
	return tx, nil
}

// UpdatePartial writes the fields present in u. Status-bearing columns are
// left alone when the row is resolved and u carries a non-terminal label.
func (r *TransactionRepository) UpdatePartial(ctx context.Context, refID string, u transaction.Update) (int64, error) {
	query, args := buildPartialUpdate(refID, u)
	if query == "" {
		return 0, nil
	}

	tag, err := r.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return 0, domainErrors.NewPersistenceError("update transaction", err)
	}
	return tag.RowsAffected(), nil
}

// RecomputeBatchAggregates recounts the batch from its members while
// holding the batch row lock.
func (r *TransactionRepository) RecomputeBatchAggregates(ctx context.Context, batchID string) (*transaction.Batch, error) {
	var batch *transaction.Batch
	err := r.tx.WithTransaction(ctx, func(ctx context.Context) error {
		var id string
		if err := r.db(ctx).QueryRow(ctx,
			`SELECT id FROM batches WHERE id = $1 FOR UPDATE`, batchID).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domainErrors.ErrBatchNotFound
			}
			return fmt.Errorf("lock batch: %w", err)
		}

		var total, ok, failed int
		if err := r.db(ctx).QueryRow(ctx,
			`SELECT COUNT(*),
			        COUNT(*) FILTER (WHERE status = 'Sukses'),
			        COUNT(*) FILTER (WHERE status = 'Gagal')
			 FROM transactions WHERE batch_id = $1`, batchID).Scan(&total, &ok, &failed); err != nil {
			return fmt.Errorf("count batch members: %w", err)
		}

		b, err := scanBatch(r.db(ctx).QueryRow(ctx,
			`UPDATE batches
			 SET total_transactions = $2, successful_count = $3, failed_count = $4, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+batchColumns, batchID, total, ok, failed))
		if err != nil {
			return fmt.Errorf("update batch: %w", err)
		}
		batch = b
		return nil
	})
	if err != nil {
		if errors.Is(err, domainErrors.ErrBatchNotFound) {
			return nil, err
		}
		return nil, domainErrors.NewPersistenceError("recompute batch", err)
	}
	return batch, nil
}

// FindBatchMembers lists the transactions of a batch in insertion order.
func (r *TransactionRepository) FindBatchMembers(ctx context.Context, batchID string) ([]*transaction.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE batch_id = $1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, domainErrors.NewPersistenceError("list batch members", err)
	}
	defer rows.Close()

	var members []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, domainErrors.NewPersistenceError("scan batch member", err)
		}
		members = append(members, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, domainErrors.NewPersistenceError("list batch members", err)
	}
	return members, nil
}

// FindBatch retrieves a batch by ID.
func (r *TransactionRepository) FindBatch(ctx context.Context, batchID string) (*transaction.Batch, error) {
	b, err := scanBatch(r.db(ctx).QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1`, batchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrBatchNotFound
	}
	if err != nil {
		return nil, domainErrors.NewPersistenceError("find batch", err)
	}
	return b, nil
}

// BatchSnapshot reads a batch and its members from one snapshot, so the
// counters always match the member list returned with them.
func (r *TransactionRepository) BatchSnapshot(ctx context.Context, batchID string) (*transaction.Batch, []*transaction.Transaction, error) {
	var (
		batch   *transaction.Batch
		members []*transaction.Transaction
	)
	err := r.tx.WithSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if batch, err = r.FindBatch(ctx, batchID); err != nil {
			return err
		}
		members, err = r.FindBatchMembers(ctx, batchID)
		return err
	})
	if err != nil {
		var pe *domainErrors.PersistenceError
		if errors.Is(err, domainErrors.ErrBatchNotFound) || errors.As(err, &pe) {
			return nil, nil, err
		}
		return nil, nil, domainErrors.NewPersistenceError("batch snapshot", err)
	}
	return batch, members, nil
}

// buildPartialUpdate renders the UPDATE for the non-nil fields of u. It
// returns an empty query when u has nothing to write.
func buildPartialUpdate(refID string, u transaction.Update) (string, []any) {
	if u.IsEmpty() {
		return "", nil
	}

	guarded := u.StatusLabel != nil && !u.StatusLabel.IsTerminal()

	var sets []string
	args := []any{refID}
	set := func(col string, val any, status bool) {
		args = append(args, val)
		p := fmt.Sprintf("$%d", len(args))
		if status && guarded {
			sets = append(sets, fmt.Sprintf("%s = CASE WHEN %s THEN %s ELSE %s END", col, terminalGuard, col, p))
			return
		}
		sets = append(sets, fmt.Sprintf("%s = %s", col, p))
	}

	if u.StatusCode != nil {
		set("status_code", *u.StatusCode, true)
	}
	if u.Success != nil {
		set("success", *u.Success, true)
	}
	if u.ErrorMessage != nil {
		set("error_message", *u.ErrorMessage, true)
	}
	switch {
	case u.SerialNumber != nil:
		set("serial_number", *u.SerialNumber, true)
	case u.ClearSerialNumber:
		set("serial_number", nil, true)
	}
	if u.ResponseData != nil {
		set("response_data", []byte(u.ResponseData), true)
	}
	if u.RawResponse != nil {
		set("raw_response", []byte(u.RawResponse), false)
	}
	if u.ResponseTime != nil {
		set("response_time", *u.ResponseTime, false)
	}
	if u.StatusLabel != nil {
		set("status", string(*u.StatusLabel), true)
	}
	sets = append(sets, "updated_at = NOW()")

	return "UPDATE transactions SET " + strings.Join(sets, ", ") + " WHERE ref_id = $1", args
}

func scanTransaction(s scanner) (*transaction.Transaction, error) {
	t := &transaction.Transaction{}
	var status string
	var responseData, rawResponse []byte
	err := s.Scan(
		&t.ID, &t.RefID, &t.CustomerNo, &t.ProductCode, &t.StatusCode, &t.Success, &status,
		&responseData, &t.ErrorMessage, &rawResponse, &t.SerialNumber, &t.BatchID, &t.OwnerID,
		&t.ResponseTime, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.StatusLabel = transaction.StatusLabel(status)
	t.ResponseData = responseData
	t.RawResponse = rawResponse
	return t, nil
}

func scanBatch(s scanner) (*transaction.Batch, error) {
	b := &transaction.Batch{}
	if err := s.Scan(&b.ID, &b.OwnerID, &b.TotalTransactions, &b.SuccessfulCount, &b.FailedCount, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return b, nil
}
