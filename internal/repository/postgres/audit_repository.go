package postgres

import (
	"context"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository appends callback audit rows to callback_logs.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append stores the entry. The payload is kept as text because rejected
// callbacks may not be valid JSON.
func (r *AuditRepository) Append(ctx context.Context, e *callback.AuditEntry) error {
	var errMsg *string
	if e.ErrorMessage != "" {
		errMsg = &e.ErrorMessage
	}

	_, err := ConnFromCtx(ctx, r.pool).Exec(ctx,
		`INSERT INTO callback_logs
		 (id, kind, ref_id, payload, signature_present, result_status, error_message, remote_addr, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, string(e.Kind), e.RefID, string(e.Payload), e.SignaturePresent,
		e.ResultStatus, errMsg, e.RemoteAddr, e.ReceivedAt,
	)
	if err != nil {
		return domainErrors.NewPersistenceError("append audit entry", err)
	}
	return nil
}
