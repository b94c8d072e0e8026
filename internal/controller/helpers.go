package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrMissingRefID, http.StatusBadRequest, "missing_ref_id"},
	{domainErrors.ErrMalformedPayload, http.StatusBadRequest, "malformed_payload"},
	{domainErrors.ErrValidationFailed, http.StatusBadRequest, "validation_error"},
	{domainErrors.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domainErrors.ErrTransactionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrBatchNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusServiceUnavailable, "busy"},
	{domainErrors.ErrLockNotHeld, http.StatusServiceUnavailable, "busy"},
}

// statusFor maps err to the HTTP status and error code returned to the
// caller. A nil error is a 200.
func statusFor(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		return http.StatusUnprocessableEntity, domainErr.Code
	}

	return http.StatusInternalServerError, "internal_error"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorFor(w, err, "")
}

// writeErrorFor writes err and echoes refID when it is known.
func writeErrorFor(w http.ResponseWriter, err error, refID string) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code, RefID: refID}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("ref_id", refID).Msg("unhandled error in handler")
		resp.Error = "internal server error"
	}
	writeJSON(w, status, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
