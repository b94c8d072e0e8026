package testutil

import (
	"context"
	"sync"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
)

// --- Transaction Repository Mock ---

// MockTransactionRepository is an in-memory transaction.Repository. Each
// method can be overridden through its Func field.
type MockTransactionRepository struct {
	mu      sync.Mutex
	txs     map[string]*transaction.Transaction
	batches map[string]*transaction.Batch
	updates []transaction.Update

	FindByRefIDFunc              func(ctx context.Context, refID string) (*transaction.Transaction, error)
	UpdatePartialFunc            func(ctx context.Context, refID string, u transaction.Update) (int64, error)
	RecomputeBatchAggregatesFunc func(ctx context.Context, batchID string) (*transaction.Batch, error)
	FindBatchMembersFunc         func(ctx context.Context, batchID string) ([]*transaction.Transaction, error)
	FindBatchFunc                func(ctx context.Context, batchID string) (*transaction.Batch, error)
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{
		txs:     make(map[string]*transaction.Transaction),
		batches: make(map[string]*transaction.Batch),
	}
}

// AddTransaction stores a copy of tx.
func (m *MockTransactionRepository) AddTransaction(tx *transaction.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *tx
	m.txs[tx.RefID] = &c
}

// AddBatch stores a copy of b.
func (m *MockTransactionRepository) AddBatch(b *transaction.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *b
	m.batches[b.ID] = &c
}

// Get returns a copy of the stored transaction, or nil.
func (m *MockTransactionRepository) Get(refID string) *transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[refID]
	if !ok {
		return nil
	}
	c := *tx
	return &c
}

// Batch returns a copy of the stored batch, or nil.
func (m *MockTransactionRepository) Batch(id string) *transaction.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil
	}
	c := *b
	return &c
}

// Updates returns every update passed to UpdatePartial, in call order.
func (m *MockTransactionRepository) Updates() []transaction.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transaction.Update(nil), m.updates...)
}

func (m *MockTransactionRepository) FindByRefID(ctx context.Context, refID string) (*transaction.Transaction, error) {
	if m.FindByRefIDFunc != nil {
		return m.FindByRefIDFunc(ctx, refID)
	}
	if tx := m.Get(refID); tx != nil {
		return tx, nil
	}
	return nil, domainErrors.ErrTransactionNotFound
}

// UpdatePartial merges u the way the SQL store does, including the guard
// that keeps resolved labels.
func (m *MockTransactionRepository) UpdatePartial(ctx context.Context, refID string, u transaction.Update) (int64, error) {
	m.mu.Lock()
	m.updates = append(m.updates, u)
	m.mu.Unlock()

	if m.UpdatePartialFunc != nil {
		return m.UpdatePartialFunc(ctx, refID, u)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[refID]
	if !ok {
		return 0, nil
	}
	tx.Apply(u)
	return 1, nil
}

func (m *MockTransactionRepository) RecomputeBatchAggregates(ctx context.Context, batchID string) (*transaction.Batch, error) {
	if m.RecomputeBatchAggregatesFunc != nil {
		return m.RecomputeBatchAggregatesFunc(ctx, batchID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return nil, domainErrors.ErrBatchNotFound
	}
	b.TotalTransactions, b.SuccessfulCount, b.FailedCount = 0, 0, 0
	for _, tx := range m.txs {
		if tx.BatchID == nil || *tx.BatchID != batchID {
			continue
		}
		b.TotalTransactions++
		switch tx.StatusLabel {
		case transaction.LabelSukses:
			b.SuccessfulCount++
		case transaction.LabelGagal:
			b.FailedCount++
		}
	}
	c := *b
	return &c, nil
}

func (m *MockTransactionRepository) FindBatchMembers(ctx context.Context, batchID string) ([]*transaction.Transaction, error) {
	if m.FindBatchMembersFunc != nil {
		return m.FindBatchMembersFunc(ctx, batchID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*transaction.Transaction
	for _, tx := range m.txs {
		if tx.BatchID != nil && *tx.BatchID == batchID {
			c := *tx
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockTransactionRepository) FindBatch(ctx context.Context, batchID string) (*transaction.Batch, error) {
	if m.FindBatchFunc != nil {
		return m.FindBatchFunc(ctx, batchID)
	}
	if b := m.Batch(batchID); b != nil {
		return b, nil
	}
	return nil, domainErrors.ErrBatchNotFound
}

// --- Notifier Mock ---

// Published is one call recorded by MockNotifier.
type Published struct {
	Transaction *transaction.Transaction
	Batch       *transaction.Batch
}

// MockNotifier records every publish.
type MockNotifier struct {
	mu    sync.Mutex
	calls []Published

	PublishFunc func(tx *transaction.Transaction, batch *transaction.Batch)
}

func (m *MockNotifier) Publish(tx *transaction.Transaction, batch *transaction.Batch) {
	m.mu.Lock()
	m.calls = append(m.calls, Published{Transaction: tx, Batch: batch})
	m.mu.Unlock()
	if m.PublishFunc != nil {
		m.PublishFunc(tx, batch)
	}
}

func (m *MockNotifier) Calls() []Published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Published(nil), m.calls...)
}

// --- Audit Log Mock ---

// MockAuditLog records appended entries.
type MockAuditLog struct {
	mu      sync.Mutex
	entries []*callback.AuditEntry

	AppendFunc func(ctx context.Context, entry *callback.AuditEntry) error
}

func (m *MockAuditLog) Append(ctx context.Context, entry *callback.AuditEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockAuditLog) Entries() []*callback.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*callback.AuditEntry(nil), m.entries...)
}

// --- Locker Mock ---

// MockLocker runs fn directly and counts the locks taken per ref_id.
type MockLocker struct {
	mu    sync.Mutex
	taken map[string]int

	WithLockFunc func(ctx context.Context, refID string, fn func(ctx context.Context) error) error
}

func (m *MockLocker) WithLock(ctx context.Context, refID string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if m.taken == nil {
		m.taken = make(map[string]int)
	}
	m.taken[refID]++
	m.mu.Unlock()

	if m.WithLockFunc != nil {
		return m.WithLockFunc(ctx, refID, fn)
	}
	return fn(ctx)
}

func (m *MockLocker) Taken(refID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taken[refID]
}
