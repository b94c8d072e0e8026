//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func setupDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("callbacks"),
		tcpostgres.WithUsername("callbacks"),
		tcpostgres.WithPassword("callbacks"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(ctr)
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://migrations", dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		t.Fatalf("migrate up: %v", err)
	}
	_, _ = m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedBatch(t *testing.T, pool *pgxpool.Pool, id, owner string) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO batches (id, owner_id) VALUES ($1, $2)`, id, owner)
	require.NoError(t, err)
}

func seedTransaction(t *testing.T, pool *pgxpool.Pool, refID, owner string, batchID *string, status transaction.StatusLabel) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO transactions (ref_id, customer_no, product_code, owner_id, batch_id, status)
		 VALUES ($1, '08123', 'PLN20', $2, $3, $4)`, refID, owner, batchID, string(status))
	require.NoError(t, err)
}

func TestTransactionRepository_Integration(t *testing.T) {
	pool := setupDatabase(t)
	repo := NewTransactionRepository(pool, NewTxManager(pool))
	ctx := context.Background()

	batchID := "B1"
	seedBatch(t, pool, batchID, "u1")
	seedTransaction(t, pool, "R1", "u1", &batchID, transaction.LabelPending)
	seedTransaction(t, pool, "R2", "u1", &batchID, transaction.LabelPending)
	seedTransaction(t, pool, "R3", "u1", &batchID, transaction.LabelGagal)
	seedTransaction(t, pool, "S1", "u2", nil, transaction.LabelPending)

	t.Run("find unknown ref", func(t *testing.T) {
		_, err := repo.FindByRefID(ctx, "missing")
		assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)
	})

	t.Run("success is written", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Millisecond)
		label := transaction.LabelSukses
		rows, err := repo.UpdatePartial(ctx, "R1", transaction.Update{
			StatusCode:   ptr(200),
			Success:      ptr(true),
			StatusLabel:  &label,
			SerialNumber: ptr("SN-1"),
			RawResponse:  json.RawMessage(`{"data":{"status":"success"}}`),
			ResponseTime: &at,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, rows)

		tx, err := repo.FindByRefID(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, transaction.LabelSukses, tx.StatusLabel)
		assert.Equal(t, 200, tx.StatusCode)
		require.NotNil(t, tx.SerialNumber)
		assert.Equal(t, "SN-1", *tx.SerialNumber)
		assert.Equal(t, "08123", tx.CustomerNo, "absent fields are untouched")
		require.NotNil(t, tx.ResponseTime)
		assert.WithinDuration(t, at, *tx.ResponseTime, time.Millisecond)
	})

	t.Run("pending does not regress a resolved row", func(t *testing.T) {
		label := transaction.LabelPending
		rows, err := repo.UpdatePartial(ctx, "R1", transaction.Update{
			StatusCode:  ptr(201),
			StatusLabel: &label,
			RawResponse: json.RawMessage(`{"data":{"status":"pending"}}`),
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, rows)

		tx, err := repo.FindByRefID(ctx, "R1")
		require.NoError(t, err)
		assert.Equal(t, transaction.LabelSukses, tx.StatusLabel)
		assert.Equal(t, 200, tx.StatusCode)
		assert.JSONEq(t, `{"data":{"status":"pending"}}`, string(tx.RawResponse))
	})

	t.Run("update of unknown ref touches nothing", func(t *testing.T) {
		rows, err := repo.UpdatePartial(ctx, "missing", transaction.Update{StatusCode: ptr(200)})
		require.NoError(t, err)
		assert.Zero(t, rows)
	})

	t.Run("batch aggregates are recounted", func(t *testing.T) {
		batch, err := repo.RecomputeBatchAggregates(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, 3, batch.TotalTransactions)
		assert.Equal(t, 1, batch.SuccessfulCount)
		assert.Equal(t, 1, batch.FailedCount)

		stored, err := repo.FindBatch(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, batch.TotalTransactions, stored.TotalTransactions)
		assert.Equal(t, "u1", stored.OwnerID)
	})

	t.Run("batch members in insertion order", func(t *testing.T) {
		members, err := repo.FindBatchMembers(ctx, batchID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "R1", members[0].RefID)
		assert.Equal(t, "R3", members[2].RefID)
	})

	t.Run("batch snapshot", func(t *testing.T) {
		batch, members, err := repo.BatchSnapshot(ctx, batchID)
		require.NoError(t, err)
		assert.Equal(t, 3, batch.TotalTransactions)
		assert.Len(t, members, batch.TotalTransactions)

		_, _, err = repo.BatchSnapshot(ctx, "nope")
		assert.ErrorIs(t, err, domainErrors.ErrBatchNotFound)
	})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := repo.FindBatch(ctx, "nope")
		assert.ErrorIs(t, err, domainErrors.ErrBatchNotFound)
		_, err = repo.RecomputeBatchAggregates(ctx, "nope")
		assert.ErrorIs(t, err, domainErrors.ErrBatchNotFound)
	})
}

func TestAuditRepository_Integration(t *testing.T) {
	pool := setupDatabase(t)
	repo := NewAuditRepository(pool)
	ctx := context.Background()

	entry := &callback.AuditEntry{
		ID:               uuid.New(),
		Kind:             callback.AuditSingle,
		RefID:            "R1",
		Payload:          json.RawMessage(`not json at all`),
		SignaturePresent: true,
		ResultStatus:     400,
		ErrorMessage:     "malformed payload",
		RemoteAddr:       "10.0.0.1",
		ReceivedAt:       time.Now().UTC(),
	}
	require.NoError(t, repo.Append(ctx, entry))

	var payload string
	var status int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT payload, result_status FROM callback_logs WHERE id = $1`, entry.ID).Scan(&payload, &status))
	assert.Equal(t, "not json at all", payload)
	assert.Equal(t, 400, status)

	dup := *entry
	assert.Error(t, repo.Append(ctx, &dup), "primary key is enforced")
}
