package service

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/cassiomorais/callbacks/pkg/retry"
	"github.com/rs/zerolog"
)

// Resolver looks a transaction up by ref_id, waiting a bounded time for
// rows whose insert has not landed yet.
type Resolver struct {
	repo    transaction.Repository
	policy  retry.Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewResolver makes attempts lookups in total, delay apart. Only
// ErrTransactionNotFound is retried.
func NewResolver(repo transaction.Repository, attempts uint, delay time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Resolver {
	policy := retry.FixedConfig(attempts, delay)
	policy.RetryIf = func(err error) bool {
		return errors.Is(err, domainErrors.ErrTransactionNotFound)
	}
	r := &Resolver{repo: repo, metrics: metrics, logger: logger}
	policy.OnRetry = func(n uint, err error) {
		r.logger.Debug().Uint("attempt", n+1).Err(err).Msg("transaction not visible yet, retrying")
	}
	r.policy = policy
	return r
}

// Resolve returns the transaction for refID or ErrTransactionNotFound once
// the attempts are spent. Store failures end the wait immediately.
func (r *Resolver) Resolve(ctx context.Context, refID string) (*transaction.Transaction, error) {
	return retry.DoWithResult(ctx, r.policy, func() (*transaction.Transaction, error) {
		tx, err := r.repo.FindByRefID(ctx, refID)
		r.observe(err)
		return tx, err
	})
}

func (r *Resolver) observe(err error) {
	if r.metrics == nil {
		return
	}
	result := "found"
	switch {
	case errors.Is(err, domainErrors.ErrTransactionNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	r.metrics.ResolveAttempts.WithLabelValues(result).Inc()
}
