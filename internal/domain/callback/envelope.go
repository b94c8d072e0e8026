package callback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/google/uuid"
)

// Envelope is one inbound callback as received at the boundary.
type Envelope struct {
	Payload    json.RawMessage
	Signature  string
	ReceivedAt time.Time
	RemoteAddr string
}

// NewEnvelope builds an envelope. When headerSig is empty the body's
// "signature" field is used instead.
func NewEnvelope(payload []byte, headerSig, remoteAddr string, receivedAt time.Time) Envelope {
	sig := strings.TrimSpace(headerSig)
	if sig == "" {
		var body struct {
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(payload, &body); err == nil {
			sig = strings.TrimSpace(body.Signature)
		}
	}
	return Envelope{
		Payload:    json.RawMessage(payload),
		Signature:  sig,
		ReceivedAt: receivedAt,
		RemoteAddr: remoteAddr,
	}
}

// canonicalTuple renders the fields covered by the callback signature.
func canonicalTuple(c Classified) string {
	success := ""
	if c.Success != nil {
		success = strconv.FormatBool(*c.Success)
	}
	return fmt.Sprintf("%s|%d|%s", c.RefID, c.StatusCode, success)
}

// Sign returns the hex signature the provider is expected to send for c.
func Sign(secret string, c Classified) string {
	sum := sha256.Sum256([]byte(canonicalTuple(c) + secret))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks sig against c. An empty secret or an empty
// signature disables the check.
func VerifySignature(secret, sig string, c Classified) error {
	if secret == "" || sig == "" {
		return nil
	}
	expected := Sign(secret, c)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

// AuditKind distinguishes single and bulk submissions in the audit log.
type AuditKind string

const (
	AuditSingle AuditKind = "single"
	AuditBulk   AuditKind = "bulk"
)

// AuditEntry is the persisted trace of one callback.
type AuditEntry struct {
	ID               uuid.UUID
	Kind             AuditKind
	RefID            string
	Payload          json.RawMessage
	SignaturePresent bool
	ResultStatus     int
	ErrorMessage     string
	RemoteAddr       string
	ReceivedAt       time.Time
}

// NewAuditEntry records the outcome of processing env.
func NewAuditEntry(kind AuditKind, env Envelope, refID string, status int, procErr error) *AuditEntry {
	e := &AuditEntry{
		ID:               uuid.New(),
		Kind:             kind,
		RefID:            refID,
		Payload:          env.Payload,
		SignaturePresent: env.Signature != "",
		ResultStatus:     status,
		RemoteAddr:       env.RemoteAddr,
		ReceivedAt:       env.ReceivedAt,
	}
	if procErr != nil {
		e.ErrorMessage = procErr.Error()
	}
	return e
}

// AuditLog persists audit entries. Callers treat failures as non-fatal.
type AuditLog interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
