package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/cassiomorais/callbacks/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_FoundImmediately(t *testing.T) {
	repo := testutil.NewMockTransactionRepository()
	repo.AddTransaction(testutil.NewTestTransaction("R1", "u1"))
	r := NewResolver(repo, 6, time.Millisecond, nil, zerolog.Nop())

	tx, err := r.Resolve(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", tx.RefID)
}

func TestResolver_WaitsForLateInsert(t *testing.T) {
	repo := testutil.NewMockTransactionRepository()
	var calls int32
	repo.FindByRefIDFunc = func(ctx context.Context, refID string) (*transaction.Transaction, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return testutil.NewTestTransaction(refID, "u1"), nil
	}
	r := NewResolver(repo, 6, time.Millisecond, nil, zerolog.Nop())

	tx, err := r.Resolve(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "R1", tx.RefID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestResolver_GivesUpAfterAllAttempts(t *testing.T) {
	repo := testutil.NewMockTransactionRepository()
	var calls int32
	repo.FindByRefIDFunc = func(ctx context.Context, refID string) (*transaction.Transaction, error) {
		atomic.AddInt32(&calls, 1)
		return nil, domainErrors.ErrTransactionNotFound
	}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	r := NewResolver(repo, 6, 5*time.Millisecond, metrics, zerolog.Nop())

	start := time.Now()
	_, err := r.Resolve(context.Background(), "missing")

	assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)
	assert.Equal(t, int32(6), atomic.LoadInt32(&calls), "one lookup plus five retries")
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Equal(t, 6.0, promtest.ToFloat64(metrics.ResolveAttempts.WithLabelValues("not_found")))
}

func TestResolver_StoreErrorIsNotRetried(t *testing.T) {
	repo := testutil.NewMockTransactionRepository()
	boom := domainErrors.NewPersistenceError("find transaction", errors.New("connection reset"))
	var calls int32
	repo.FindByRefIDFunc = func(ctx context.Context, refID string) (*transaction.Transaction, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}
	r := NewResolver(repo, 6, time.Millisecond, nil, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "R1")

	var pe *domainErrors.PersistenceError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
