package notifier

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

const (
	EventTransactionUpdated = "transaction-updated"
	EventBatchUpdated       = "batch-updated"

	deliverTimeout = 5 * time.Second
)

// Channel delivers one event to the subscribers of a group.
type Channel interface {
	Publish(ctx context.Context, group, event string, payload []byte) error
}

func BatchGroup(batchID string) string { return "batch:" + batchID }

func UserGroup(ownerID string) string { return "user:" + ownerID }

// TransactionView is the payload of transaction-updated.
type TransactionView struct {
	RefID        string          `json:"ref_id"`
	Status       string          `json:"status"`
	StatusCode   int             `json:"status_code"`
	Success      *bool           `json:"success,omitempty"`
	SerialNumber *string         `json:"serial_number,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	BatchID      *string         `json:"batch_id,omitempty"`
	ResponseTime *time.Time      `json:"response_time,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BatchView is the payload of batch-updated.
type BatchView struct {
	BatchID           string    `json:"batch_id"`
	TotalTransactions int       `json:"total_transactions"`
	SuccessfulCount   int       `json:"successful_count"`
	FailedCount       int       `json:"failed_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func NewTransactionView(tx *transaction.Transaction) TransactionView {
	return TransactionView{
		RefID:        tx.RefID,
		Status:       string(tx.StatusLabel),
		StatusCode:   tx.StatusCode,
		Success:      tx.Success,
		SerialNumber: tx.SerialNumber,
		ErrorMessage: tx.ErrorMessage,
		ResponseData: tx.ResponseData,
		BatchID:      tx.BatchID,
		ResponseTime: tx.ResponseTime,
		UpdatedAt:    tx.UpdatedAt,
	}
}

func NewBatchView(b *transaction.Batch) BatchView {
	return BatchView{
		BatchID:           b.ID,
		TotalTransactions: b.TotalTransactions,
		SuccessfulCount:   b.SuccessfulCount,
		FailedCount:       b.FailedCount,
		UpdatedAt:         b.UpdatedAt,
	}
}

type update struct {
	tx    *transaction.Transaction
	batch *transaction.Batch
}

// Notifier fans reconciled state out to a Channel. Publish only enqueues;
// Run does the delivery.
type Notifier struct {
	updates chan update
	channel Channel
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(channel Channel, bufferSize int, metrics *observability.Metrics, logger zerolog.Logger) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Notifier{
		updates: make(chan update, bufferSize),
		channel: channel,
		metrics: metrics,
		logger:  observability.Component(logger, "notifier"),
	}
}

// Publish queues tx and the optional batch for fan-out. When the buffer is
// full the update is dropped.
func (n *Notifier) Publish(tx *transaction.Transaction, batch *transaction.Batch) {
	if tx == nil {
		return
	}
	select {
	case n.updates <- update{tx: tx, batch: batch}:
	default:
		n.logger.Warn().Str("ref_id", tx.RefID).Msg("notification buffer full, dropping update")
		n.count(EventTransactionUpdated, "dropped")
		if batch != nil {
			n.count(EventBatchUpdated, "dropped")
		}
	}
}

// Run delivers queued updates until ctx is done.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info().Msg("notifier started")
	for {
		select {
		case <-ctx.Done():
			n.logger.Info().Int("pending", len(n.updates)).Msg("notifier stopped")
			return nil
		case u := <-n.updates:
			n.deliver(ctx, u)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, u update) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	groups := make([]string, 0, 2)
	if u.tx.BatchID != nil && *u.tx.BatchID != "" {
		groups = append(groups, BatchGroup(*u.tx.BatchID))
	}
	if u.tx.OwnerID != "" {
		groups = append(groups, UserGroup(u.tx.OwnerID))
	}

	n.send(ctx, groups, EventTransactionUpdated, NewTransactionView(u.tx))
	if u.batch != nil {
		n.send(ctx, groups, EventBatchUpdated, NewBatchView(u.batch))
	}
}

func (n *Notifier) send(ctx context.Context, groups []string, event string, view any) {
	payload, err := json.Marshal(view)
	if err != nil {
		n.logger.Error().Err(err).Str("event", event).Msg("failed to encode notification")
		n.count(event, "failed")
		return
	}
	for _, group := range groups {
		if err := n.channel.Publish(ctx, group, event, payload); err != nil {
			n.logger.Warn().Err(err).Str("event", event).Str("group", group).Msg("failed to publish notification")
			n.count(event, "failed")
			continue
		}
		n.count(event, "sent")
	}
}

func (n *Notifier) count(event, result string) {
	if n.metrics != nil {
		n.metrics.NotifierEvents.WithLabelValues(event, result).Inc()
	}
}
