package transaction

import (
	"encoding/json"
	"time"
)

// StatusLabel is the human-facing status stored on a transaction.
type StatusLabel string

const (
	LabelPending StatusLabel = "Pending"
	LabelSukses  StatusLabel = "Sukses"
	LabelGagal   StatusLabel = "Gagal"
	LabelUnknown StatusLabel = "Unknown"
)

// IsTerminal reports whether the label is a resolved outcome.
func (l StatusLabel) IsTerminal() bool {
	return l == LabelSukses || l == LabelGagal
}

// Valid reports whether l is one of the known labels.
func (l StatusLabel) Valid() bool {
	switch l {
	case LabelPending, LabelSukses, LabelGagal, LabelUnknown:
		return true
	}
	return false
}

// Transaction is a voucher purchase tracked by the provider-assigned RefID.
type Transaction struct {
	ID           int64
	RefID        string
	CustomerNo   string
	ProductCode  string
	StatusCode   int
	Success      *bool
	StatusLabel  StatusLabel
	ResponseData json.RawMessage
	ErrorMessage *string
	RawResponse  json.RawMessage
	SerialNumber *string
	BatchID      *string
	OwnerID      string
	ResponseTime *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Batch aggregates the outcome counters of its member transactions.
type Batch struct {
	ID                string
	OwnerID           string
	TotalTransactions int
	SuccessfulCount   int
	FailedCount       int
	UpdatedAt         time.Time
}

// Update is a partial field set. Nil fields are left untouched by the store.
type Update struct {
	StatusCode   *int
	Success      *bool
	StatusLabel  *StatusLabel
	ResponseData json.RawMessage
	ErrorMessage *string
	RawResponse  json.RawMessage
	ResponseTime *time.Time
	SerialNumber *string
	// ClearSerialNumber nulls a serial left by an earlier success. It is
	// ignored when SerialNumber is set.
	ClearSerialNumber bool
}

// IsEmpty reports whether the update carries no fields.
func (u Update) IsEmpty() bool {
	return u.StatusCode == nil &&
		u.Success == nil &&
		u.StatusLabel == nil &&
		u.ResponseData == nil &&
		u.ErrorMessage == nil &&
		u.RawResponse == nil &&
		u.ResponseTime == nil &&
		u.SerialNumber == nil &&
		!u.ClearSerialNumber
}

// Regresses reports whether applying u to a transaction currently labelled
// current would move a resolved transaction back to a non-terminal label.
func (u Update) Regresses(current StatusLabel) bool {
	if u.StatusLabel == nil {
		return false
	}
	return current.IsTerminal() && !u.StatusLabel.IsTerminal()
}

// WithoutStatus strips the status-bearing fields, keeping only the audit
// fields raw_response and response_time.
func (u Update) WithoutStatus() Update {
	u.StatusCode = nil
	u.Success = nil
	u.StatusLabel = nil
	u.ResponseData = nil
	u.ErrorMessage = nil
	u.SerialNumber = nil
	u.ClearSerialNumber = false
	return u
}

// Apply merges u into t in memory. The store performs the same merge.
func (t *Transaction) Apply(u Update) {
	if u.Regresses(t.StatusLabel) {
		u = u.WithoutStatus()
	}
	if u.StatusCode != nil {
		t.StatusCode = *u.StatusCode
	}
	if u.Success != nil {
		v := *u.Success
		t.Success = &v
	}
	if u.StatusLabel != nil {
		t.StatusLabel = *u.StatusLabel
	}
	if u.ResponseData != nil {
		t.ResponseData = u.ResponseData
	}
	if u.ErrorMessage != nil {
		v := *u.ErrorMessage
		t.ErrorMessage = &v
	}
	if u.RawResponse != nil {
		t.RawResponse = u.RawResponse
	}
	if u.ResponseTime != nil {
		v := *u.ResponseTime
		t.ResponseTime = &v
	}
	switch {
	case u.SerialNumber != nil:
		v := *u.SerialNumber
		t.SerialNumber = &v
	case u.ClearSerialNumber:
		t.SerialNumber = nil
	}
	t.UpdatedAt = time.Now()
}
