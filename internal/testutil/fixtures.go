package testutil

import (
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/transaction"
)

func NewTestTransaction(refID, ownerID string) *transaction.Transaction {
	now := time.Now()
	return &transaction.Transaction{
		ID:          1,
		RefID:       refID,
		CustomerNo:  "081234567890",
		ProductCode: "XL10",
		StatusLabel: transaction.LabelPending,
		OwnerID:     ownerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func NewBatchTransaction(refID, ownerID, batchID string) *transaction.Transaction {
	tx := NewTestTransaction(refID, ownerID)
	tx.BatchID = &batchID
	return tx
}

func NewResolvedTransaction(refID, ownerID string, label transaction.StatusLabel) *transaction.Transaction {
	tx := NewTestTransaction(refID, ownerID)
	tx.StatusLabel = label
	success := label == transaction.LabelSukses
	tx.Success = &success
	if success {
		tx.StatusCode = 200
	} else {
		tx.StatusCode = 400
	}
	return tx
}

func NewTestBatch(id, ownerID string) *transaction.Batch {
	return &transaction.Batch{
		ID:        id,
		OwnerID:   ownerID,
		UpdatedAt: time.Now(),
	}
}
