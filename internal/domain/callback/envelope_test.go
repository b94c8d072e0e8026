package callback_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	domainErrors "github.com/cassiomorais/callbacks/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_SignatureSource(t *testing.T) {
	now := time.Now()
	body := []byte(`{"ref_id":"R1","success":true,"signature":"body-sig"}`)

	env := callback.NewEnvelope(body, "header-sig", "10.0.0.1", now)
	assert.Equal(t, "header-sig", env.Signature)
	assert.Equal(t, "10.0.0.1", env.RemoteAddr)
	assert.Equal(t, now, env.ReceivedAt)

	env = callback.NewEnvelope(body, "", "10.0.0.1", now)
	assert.Equal(t, "body-sig", env.Signature)

	env = callback.NewEnvelope([]byte(`not json`), "", "", now)
	assert.Empty(t, env.Signature)
}

func TestVerifySignature(t *testing.T) {
	c, err := callback.Classify([]byte(`{"ref_id":"R1","success":true,"status_code":200}`))
	require.NoError(t, err)

	sig := callback.Sign("s3cret", c)
	assert.Len(t, sig, 64)

	assert.NoError(t, callback.VerifySignature("s3cret", sig, c))
	assert.NoError(t, callback.VerifySignature("s3cret", strings.ToUpper(sig), c))
	assert.ErrorIs(t, callback.VerifySignature("s3cret", "deadbeef", c), domainErrors.ErrInvalidSignature)
	assert.ErrorIs(t, callback.VerifySignature("other", sig, c), domainErrors.ErrInvalidSignature)
}

func TestVerifySignature_Disabled(t *testing.T) {
	c, err := callback.Classify([]byte(`{"ref_id":"R1"}`))
	require.NoError(t, err)

	assert.NoError(t, callback.VerifySignature("", "anything", c))
	assert.NoError(t, callback.VerifySignature("s3cret", "", c))
}

func TestVerifySignature_CoversStatusTuple(t *testing.T) {
	ok, err := callback.Classify([]byte(`{"ref_id":"R1","success":true}`))
	require.NoError(t, err)
	failed, err := callback.Classify([]byte(`{"ref_id":"R1","success":false}`))
	require.NoError(t, err)

	sig := callback.Sign("s3cret", ok)
	assert.ErrorIs(t, callback.VerifySignature("s3cret", sig, failed), domainErrors.ErrInvalidSignature)
}

func TestNewAuditEntry(t *testing.T) {
	env := callback.NewEnvelope([]byte(`{"ref_id":"R1"}`), "sig", "1.2.3.4", time.Now())

	e := callback.NewAuditEntry(callback.AuditSingle, env, "R1", 404, errors.New("transaction not found"))
	assert.Equal(t, callback.AuditSingle, e.Kind)
	assert.Equal(t, "R1", e.RefID)
	assert.Equal(t, 404, e.ResultStatus)
	assert.True(t, e.SignaturePresent)
	assert.Equal(t, "transaction not found", e.ErrorMessage)
	assert.NotEmpty(t, e.ID)

	ok := callback.NewAuditEntry(callback.AuditBulk, env, "R1", 200, nil)
	assert.Empty(t, ok.ErrorMessage)
}
