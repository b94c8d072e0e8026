package controller

import (
	"encoding/json"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/transaction"
)

// --- Request DTOs ---

// BulkCallbackRequest accepts either envelope key used by providers. Items
// stay raw so each one is classified on its own.
type BulkCallbackRequest struct {
	Transactions []json.RawMessage `json:"transactions"`
	Data         []json.RawMessage `json:"data"`
}

// Items returns whichever array was sent, preferring transactions.
func (r BulkCallbackRequest) Items() ([]json.RawMessage, bool) {
	if r.Transactions != nil {
		return r.Transactions, true
	}
	if r.Data != nil {
		return r.Data, true
	}
	return nil, false
}

// --- Response DTOs ---

// CallbackResponse is returned for an applied callback.
type CallbackResponse struct {
	Success    bool   `json:"success"`
	RefID      string `json:"ref_id"`
	Status     string `json:"status,omitempty"`
	StatusKept bool   `json:"status_kept,omitempty"`
}

// BulkItemResult is one entry of results[], in input order.
type BulkItemResult struct {
	Index   int    `json:"index"`
	RefID   string `json:"ref_id,omitempty"`
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
}

// BulkItemError is one entry of errors[].
type BulkItemError struct {
	Index int    `json:"index"`
	RefID string `json:"ref_id,omitempty"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// BulkCallbackResponse aggregates a bulk submission.
type BulkCallbackResponse struct {
	Updated int              `json:"updated"`
	Failed  int              `json:"failed"`
	Results []BulkItemResult `json:"results"`
	Errors  []BulkItemError  `json:"errors"`
}

// TransactionStatusResponse is the read-only projection served by the
// status endpoint.
type TransactionStatusResponse struct {
	RefID        string          `json:"ref_id"`
	CustomerNo   string          `json:"customer_no"`
	ProductCode  string          `json:"product_code"`
	Status       string          `json:"status"`
	StatusCode   int             `json:"status_code"`
	Success      *bool           `json:"success"`
	SerialNumber *string         `json:"serial_number,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	BatchID      *string         `json:"batch_id,omitempty"`
	ResponseTime *time.Time      `json:"response_time,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	RefID string `json:"ref_id,omitempty"`
}

// --- Mappers ---

func toTransactionStatusResponse(tx *transaction.Transaction) TransactionStatusResponse {
	return TransactionStatusResponse{
		RefID:        tx.RefID,
		CustomerNo:   tx.CustomerNo,
		ProductCode:  tx.ProductCode,
		Status:       string(tx.StatusLabel),
		StatusCode:   tx.StatusCode,
		Success:      tx.Success,
		SerialNumber: tx.SerialNumber,
		ErrorMessage: tx.ErrorMessage,
		ResponseData: tx.ResponseData,
		BatchID:      tx.BatchID,
		ResponseTime: tx.ResponseTime,
		CreatedAt:    tx.CreatedAt,
		UpdatedAt:    tx.UpdatedAt,
	}
}

// BatchResponse is the batch projection with its members.
type BatchResponse struct {
	BatchID           string                      `json:"batch_id"`
	TotalTransactions int                         `json:"total_transactions"`
	SuccessfulCount   int                         `json:"successful_count"`
	FailedCount       int                         `json:"failed_count"`
	UpdatedAt         time.Time                   `json:"updated_at"`
	Transactions      []TransactionStatusResponse `json:"transactions"`
}

func toBatchResponse(b *transaction.Batch, members []*transaction.Transaction) BatchResponse {
	resp := BatchResponse{
		BatchID:           b.ID,
		TotalTransactions: b.TotalTransactions,
		SuccessfulCount:   b.SuccessfulCount,
		FailedCount:       b.FailedCount,
		UpdatedAt:         b.UpdatedAt,
		Transactions:      make([]TransactionStatusResponse, 0, len(members)),
	}
	for _, tx := range members {
		resp.Transactions = append(resp.Transactions, toTransactionStatusResponse(tx))
	}
	return resp
}
