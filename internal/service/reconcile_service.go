package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/cassiomorais/callbacks/pkg/keyqueue"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const auditTimeout = 5 * time.Second

// ReconcileService applies provider callbacks to stored transactions.
type ReconcileService struct {
	repo            transaction.Repository
	resolver        *Resolver
	queue           *keyqueue.Serializer
	notifier        Notifier
	locker          Locker
	audit           callback.AuditLog
	secret          string
	bulkConcurrency int
	metrics         *observability.Metrics
	logger          zerolog.Logger
	now             func() time.Time
}

// Options carries the optional collaborators of ReconcileService.
type Options struct {
	SharedSecret    string
	BulkConcurrency int
	// Locker extends per-ref_id ordering across replicas. Nil keeps it process-local.
	Locker  Locker
	Audit   callback.AuditLog
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	Now     func() time.Time
}

// NewReconcileService wires the engine. queue is owned by the caller.
func NewReconcileService(
	repo transaction.Repository,
	resolver *Resolver,
	queue *keyqueue.Serializer,
	notifier Notifier,
	opts Options,
) *ReconcileService {
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ReconcileService{
		repo:            repo,
		resolver:        resolver,
		queue:           queue,
		notifier:        notifier,
		locker:          opts.Locker,
		audit:           opts.Audit,
		secret:          opts.SharedSecret,
		bulkConcurrency: opts.BulkConcurrency,
		metrics:         opts.Metrics,
		logger:          observability.Component(opts.Logger, "reconcile"),
		now:             opts.Now,
	}
}

// ApplyResult is the state left behind by one applied callback.
type ApplyResult struct {
	Transaction *transaction.Transaction
	Batch       *transaction.Batch
	// StatusKept is set when the stored resolved status was kept over a
	// non-terminal callback.
	StatusKept bool
}

// Process classifies, authenticates and applies one callback. Callbacks
// for the same ref_id are applied one at a time in arrival order.
func (s *ReconcileService) Process(ctx context.Context, env callback.Envelope) (callback.Classified, *ApplyResult, error) {
	return s.process(ctx, env, "single")
}

func (s *ReconcileService) process(ctx context.Context, env callback.Envelope, kind string) (callback.Classified, *ApplyResult, error) {
	a := s.admit(env)
	res, err := s.complete(ctx, a, kind)
	return a.classified, res, err
}

// admission is a classified, authenticated callback holding its place in
// the ref_id queue. turn is nil when err is set.
type admission struct {
	classified callback.Classified
	turn       *keyqueue.Ticket
	err        error
	start      time.Time
}

// admit classifies and authenticates env and, when it passes, reserves its
// turn for the ref_id. Reservation order is application order.
func (s *ReconcileService) admit(env callback.Envelope) admission {
	a := admission{start: s.now()}
	a.classified, a.err = callback.Classify(env.Payload)
	if a.err == nil {
		a.err = callback.VerifySignature(s.secret, env.Signature, a.classified)
	}
	if a.err == nil {
		a.turn = s.queue.Reserve(a.classified.RefID)
	}
	return a
}

func (s *ReconcileService) complete(ctx context.Context, a admission, kind string) (*ApplyResult, error) {
	ctx, span := observability.StartSpan(ctx, "callback.process")
	defer span.End()

	c, err := a.classified, a.err
	if c.RefID != "" {
		span.SetAttributes(attribute.String("callback.ref_id", c.RefID), attribute.String("callback.outcome", string(c.Outcome)))
	}

	var res *ApplyResult
	if err == nil {
		res, err = s.serialized(ctx, c, a.turn)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.observe(c, err, kind, a.start)
	return res, err
}

// BulkItem is the outcome of one element of a bulk submission.
type BulkItem struct {
	Index      int
	Envelope   callback.Envelope
	Classified callback.Classified
	Result     *ApplyResult
	Err        error
}

// ProcessBulk runs every item through the single-callback path
// concurrently, bounded by the configured bulk concurrency. Items sharing a
// ref_id are applied in array order. Items come back in input order and one
// failing item never affects the others.
func (s *ReconcileService) ProcessBulk(ctx context.Context, items []json.RawMessage, remoteAddr string, receivedAt time.Time) []BulkItem {
	out := make([]BulkItem, len(items))

	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)
	for i, raw := range items {
		env := callback.NewEnvelope(raw, "", remoteAddr, receivedAt)
		a := s.admit(env)
		g.Go(func() error {
			res, err := s.complete(ctx, a, "bulk")
			out[i] = BulkItem{Index: i, Envelope: env, Classified: a.classified, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// GetStatus returns the stored transaction without waiting for it to appear.
func (s *ReconcileService) GetStatus(ctx context.Context, refID string) (*transaction.Transaction, error) {
	return s.repo.FindByRefID(ctx, refID)
}

// FindBatch returns the batch aggregates only.
func (s *ReconcileService) FindBatch(ctx context.Context, batchID string) (*transaction.Batch, error) {
	return s.repo.FindBatch(ctx, batchID)
}

// GetBatch returns the batch with its member transactions, from a single
// snapshot when the store supports it.
func (s *ReconcileService) GetBatch(ctx context.Context, batchID string) (*transaction.Batch, []*transaction.Transaction, error) {
	if snap, ok := s.repo.(BatchSnapshotter); ok {
		return snap.BatchSnapshot(ctx, batchID)
	}
	batch, err := s.FindBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.repo.FindBatchMembers(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return batch, members, nil
}

// RecordAudit stores entry in the background. Failures are logged only.
func (s *ReconcileService) RecordAudit(ctx context.Context, entry *callback.AuditEntry) {
	if s.audit == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, auditTimeout)
		defer cancel()
		if err := s.audit.Append(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Str("ref_id", entry.RefID).Msg("failed to write callback audit entry")
			if s.metrics != nil {
				s.metrics.AuditFailures.Inc()
			}
		}
	}()
}

func (s *ReconcileService) serialized(ctx context.Context, c callback.Classified, turn *keyqueue.Ticket) (*ApplyResult, error) {
	defer s.reportQueue()
	return keyqueue.Await(ctx, turn, func(ctx context.Context) (*ApplyResult, error) {
		s.reportQueue()
		if s.locker == nil {
			return s.Apply(ctx, c.RefID, c)
		}
		var res *ApplyResult
		err := s.locker.WithLock(ctx, c.RefID, func(ctx context.Context) error {
			var err error
			res, err = s.Apply(ctx, c.RefID, c)
			return err
		})
		return res, err
	})
}

// Apply reconciles one classified callback against the stored transaction.
// Callers must hold the ref_id slot; Process takes care of that.
func (s *ReconcileService) Apply(ctx context.Context, refID string, c callback.Classified) (*ApplyResult, error) {
	log := s.logger.With().Str("ref_id", refID).Logger()

	current, err := s.resolver.Resolve(ctx, refID)
	if err != nil {
		return nil, err
	}

	u := c.Update(s.now())
	kept := u.Regresses(current.StatusLabel)
	if kept {
		log.Info().
			Str("stored_status", string(current.StatusLabel)).
			Str("callback_status", string(c.StatusLabel)).
			Msg("keeping resolved status over non-terminal callback")
		u = u.WithoutStatus()
	}

	n, err := s.repo.UpdatePartial(ctx, refID, u)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domainErrors.ErrNoOpUpdate
	}

	var batch *transaction.Batch
	if current.BatchID != nil {
		batch, err = s.repo.RecomputeBatchAggregates(ctx, *current.BatchID)
		if err != nil {
			log.Error().Err(err).Str("batch_id", *current.BatchID).Msg("failed to recompute batch aggregates")
			batch = nil
		}
	}

	fresh, err := s.repo.FindByRefID(ctx, refID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to re-read transaction, notifying merged state")
		current.Apply(u)
		fresh = current
	}

	if s.notifier != nil {
		s.notifier.Publish(fresh, batch)
	}

	log.Info().
		Str("outcome", string(c.Outcome)).
		Str("status", string(fresh.StatusLabel)).
		Msg("callback applied")

	return &ApplyResult{Transaction: fresh, Batch: batch, StatusKept: kept}, nil
}

func (s *ReconcileService) reportQueue() {
	if s.metrics != nil {
		s.metrics.KeyQueueActive.Set(float64(s.queue.Active()))
	}
}

func (s *ReconcileService) observe(c callback.Classified, err error, kind string, start time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := string(c.Outcome)
	if outcome == "" {
		outcome = "unclassified"
	}
	s.metrics.CallbacksTotal.WithLabelValues(outcome, resultLabel(err)).Inc()
	s.metrics.CallbackDuration.WithLabelValues(kind).Observe(s.now().Sub(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, domainErrors.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, domainErrors.ErrInvalidSignature):
		return "unauthorized"
	case errors.Is(err, domainErrors.ErrMissingRefID),
		errors.Is(err, domainErrors.ErrMalformedPayload),
		errors.Is(err, domainErrors.ErrValidationFailed):
		return "invalid"
	default:
		return "error"
	}
}
