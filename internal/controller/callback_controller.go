package controller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/cassiomorais/callbacks/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	SignatureHeader = "X-Callback-Signature"

	maxCallbackBytes = 1 << 20
	maxBulkBytes     = 16 << 20
)

// CallbackController handles provider webhook callbacks.
type CallbackController struct {
	svc          *service.ReconcileService
	bulkMaxItems int
}

func NewCallbackController(svc *service.ReconcileService, bulkMaxItems int) *CallbackController {
	if bulkMaxItems <= 0 {
		bulkMaxItems = 500
	}
	return &CallbackController{svc: svc, bulkMaxItems: bulkMaxItems}
}

// Callback handles POST /callback
func (h *CallbackController) Callback(w http.ResponseWriter, r *http.Request) {
	receivedAt := time.Now()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, domainErrors.NewValidationError("body", "unreadable body: "+err.Error()))
		return
	}

	// An admitted callback runs to completion even if the provider hangs up.
	ctx := context.WithoutCancel(r.Context())
	env := callback.NewEnvelope(body, r.Header.Get(SignatureHeader), r.RemoteAddr, receivedAt)

	c, res, err := h.svc.Process(ctx, env)
	status, _ := statusFor(err)
	h.svc.RecordAudit(ctx, callback.NewAuditEntry(callback.AuditSingle, env, c.RefID, status, err))

	if err != nil {
		writeErrorFor(w, err, c.RefID)
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Success:    true,
		RefID:      c.RefID,
		Status:     string(res.Transaction.StatusLabel),
		StatusKept: res.StatusKept,
	})
}

// Bulk handles POST /callback/bulk
func (h *CallbackController) Bulk(w http.ResponseWriter, r *http.Request) {
	receivedAt := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxBulkBytes)

	var req BulkCallbackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	items, ok := req.Items()
	if !ok {
		writeError(w, domainErrors.NewValidationError("transactions", "transactions or data array is required"))
		return
	}
	if err := validate.Var(items, fmt.Sprintf("max=%d", h.bulkMaxItems)); err != nil {
		writeError(w, domainErrors.NewValidationError("transactions", fmt.Sprintf("at most %d items per request", h.bulkMaxItems)))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	outcomes := h.svc.ProcessBulk(ctx, items, r.RemoteAddr, receivedAt)

	resp := BulkCallbackResponse{
		Results: make([]BulkItemResult, 0, len(outcomes)),
		Errors:  []BulkItemError{},
	}
	for _, item := range outcomes {
		status, code := statusFor(item.Err)
		refID := item.Classified.RefID
		h.svc.RecordAudit(ctx, callback.NewAuditEntry(callback.AuditBulk, item.Envelope, refID, status, item.Err))

		result := BulkItemResult{Index: item.Index, RefID: refID, Success: item.Err == nil, Status: status}
		if item.Err != nil {
			resp.Failed++
			msg := item.Err.Error()
			if status == http.StatusInternalServerError {
				msg = "internal server error"
			}
			result.Error = msg
			resp.Errors = append(resp.Errors, BulkItemError{Index: item.Index, RefID: refID, Error: msg, Code: code})
		} else {
			resp.Updated++
		}
		resp.Results = append(resp.Results, result)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Status handles GET /callback/status/{ref_id}
func (h *CallbackController) Status(w http.ResponseWriter, r *http.Request) {
	refID := chi.URLParam(r, "ref_id")
	if err := validate.Var(refID, "required,max=128"); err != nil {
		writeError(w, domainErrors.NewValidationError("ref_id", "must be 1-128 characters"))
		return
	}

	tx, err := h.svc.GetStatus(r.Context(), refID)
	if err != nil {
		writeErrorFor(w, err, refID)
		return
	}

	writeJSON(w, http.StatusOK, toTransactionStatusResponse(tx))
}

// Batch handles GET /callback/batch/{batch_id}
func (h *CallbackController) Batch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batch_id")
	if err := validate.Var(batchID, "required,max=128"); err != nil {
		writeError(w, domainErrors.NewValidationError("batch_id", "must be 1-128 characters"))
		return
	}

	batch, members, err := h.svc.GetBatch(r.Context(), batchID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(batch, members))
}
