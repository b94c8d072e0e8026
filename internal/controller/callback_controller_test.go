package controller

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/callbacks/internal/domain/callback"
	"github.com/cassiomorais/callbacks/internal/domain/transaction"
	"github.com/cassiomorais/callbacks/internal/infrastructure/config"
	"github.com/cassiomorais/callbacks/internal/infrastructure/observability"
	"github.com/cassiomorais/callbacks/internal/notifier"
	"github.com/cassiomorais/callbacks/internal/service"
	"github.com/cassiomorais/callbacks/internal/testutil"
	"github.com/cassiomorais/callbacks/pkg/keyqueue"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	router   *chi.Mux
	repo     *testutil.MockTransactionRepository
	audit    *testutil.MockAuditLog
	notifier *testutil.MockNotifier
	hub      *notifier.Hub
}

func setupRouter(t *testing.T, secret string) *testEnv {
	t.Helper()
	repo := testutil.NewMockTransactionRepository()
	audit := &testutil.MockAuditLog{}
	notif := &testutil.MockNotifier{}
	hub := notifier.NewHub(8, time.Minute, nil, zerolog.Nop())

	resolver := service.NewResolver(repo, 6, time.Millisecond, nil, zerolog.Nop())
	svc := service.NewReconcileService(repo, resolver, keyqueue.New(), notif, service.Options{
		SharedSecret:    secret,
		BulkConcurrency: 4,
		Audit:           audit,
		Logger:          zerolog.Nop(),
	})

	router := NewRouter(RouterDeps{
		ReconcileService: svc,
		Hub:              hub,
		Metrics:          observability.NewMetrics("test", prometheus.NewRegistry()),
		Logger:           zerolog.Nop(),
		Server:           config.ServerConfig{RequestTimeout: 5 * time.Second},
		Callback:         config.CallbackConfig{BulkMaxItems: 3},
		JWTSecret:        testJWTSecret,
	})
	return &testEnv{router: router, repo: repo, audit: audit, notifier: notif, hub: hub}
}

func (e *testEnv) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v))
	return v
}

func TestCallback_Applied(t *testing.T) {
	env := setupRouter(t, "")
	env.repo.AddTransaction(testutil.NewTestTransaction("R1", "u1"))

	w := env.do(http.MethodPost, "/callback", `{"data":{"ref_id":"R1","status":"Sukses","rc":"00","sn":"SN-9"}}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[CallbackResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "R1", resp.RefID)
	assert.Equal(t, "Sukses", resp.Status)

	require.Eventually(t, func() bool { return len(env.audit.Entries()) == 1 }, time.Second, time.Millisecond)
	entry := env.audit.Entries()[0]
	assert.Equal(t, callback.AuditSingle, entry.Kind)
	assert.Equal(t, "R1", entry.RefID)
	assert.Equal(t, http.StatusOK, entry.ResultStatus)
	assert.Len(t, env.notifier.Calls(), 1)
}

func TestCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		header     []string
		wantStatus int
		wantCode   string
	}{
		{"missing ref_id", `{"success":true}`, nil, http.StatusBadRequest, "missing_ref_id"},
		{"malformed", `[1,2]`, nil, http.StatusBadRequest, "malformed_payload"},
		{"bad status_code", `{"ref_id":"R1","status_code":"abc"}`, nil, http.StatusBadRequest, "validation_error"},
		{"bad signature", `{"ref_id":"R1","success":true}`, []string{SignatureHeader, "deadbeef"}, http.StatusUnauthorized, "invalid_signature"},
		{"unknown ref_id", `{"ref_id":"RX","success":true}`, nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, "s3cret")
			env.repo.AddTransaction(testutil.NewTestTransaction("R1", "u1"))

			w := env.do(http.MethodPost, "/callback", tt.body, tt.header...)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Empty(t, env.repo.Updates())

			require.Eventually(t, func() bool { return len(env.audit.Entries()) == 1 }, time.Second, time.Millisecond)
			assert.Equal(t, tt.wantStatus, env.audit.Entries()[0].ResultStatus)
		})
	}
}

func TestCallback_ValidSignatureHeader(t *testing.T) {
	env := setupRouter(t, "s3cret")
	env.repo.AddTransaction(testutil.NewTestTransaction("R1", "u1"))

	body := `{"ref_id":"R1","success":false,"error_message":"out of stock"}`
	c, err := callback.Classify([]byte(body))
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/callback", body, SignatureHeader, callback.Sign("s3cret", c))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stored := env.repo.Get("R1")
	assert.Equal(t, transaction.LabelGagal, stored.StatusLabel)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "out of stock", *stored.ErrorMessage)
}

func TestCallback_PendingDoesNotRegress(t *testing.T) {
	env := setupRouter(t, "")
	env.repo.AddTransaction(testutil.NewResolvedTransaction("R1", "u1", transaction.LabelSukses))

	w := env.do(http.MethodPost, "/callback", `{"data":{"ref_id":"R1","status":"Pending","rc":"03"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[CallbackResponse](t, w)
	assert.True(t, resp.StatusKept)
	assert.Equal(t, "Sukses", resp.Status)
}

func TestBulk_MixedItems(t *testing.T) {
	env := setupRouter(t, "")
	env.repo.AddTransaction(testutil.NewTestTransaction("R1", "u1"))

	w := env.do(http.MethodPost, "/callback/bulk", `{"transactions":[{"ref_id":"R1","success":true},{"success":true}]}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[BulkCallbackResponse](t, w)
	assert.Equal(t, 1, resp.Updated)
	assert.Equal(t, 1, resp.Failed)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, 0, resp.Results[0].Index)
	assert.True(t, resp.Results[0].Success)
	assert.Equal(t, "R1", resp.Results[0].RefID)
	assert.Equal(t, 1, resp.Results[1].Index)
	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, http.StatusBadRequest, resp.Results[1].Status)

	require.Len(t, resp.Errors, 1)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Equal(t, "missing_ref_id", resp.Errors[0].Code)

	require.Eventually(t, func() bool { return len(env.audit.Entries()) == 2 }, time.Second, time.Millisecond)
	for _, e := range env.audit.Entries() {
		assert.Equal(t, callback.AuditBulk, e.Kind)
	}
}

func TestBulk_DataKey(t *testing.T) {
	env := setupRouter(t, "")
	env.repo.AddTransaction(testutil.NewTestTransaction("R1", "u1"))

	w := env.do(http.MethodPost, "/callback/bulk", `{"data":[{"data":{"ref_id":"R1","status":"Gagal","rc":"40"}}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[BulkCallbackResponse](t, w)
	assert.Equal(t, 1, resp.Updated)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, transaction.LabelGagal, env.repo.Get("R1").StatusLabel)
}

func TestBulk_EmptyArrayIsAccepted(t *testing.T) {
	env := setupRouter(t, "")

	w := env.do(http.MethodPost, "/callback/bulk", `{"transactions":[]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":0,"failed":0,"results":[],"errors":[]}`, w.Body.String())
}

func TestBulk_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no array", `{"items":[]}`},
		{"invalid json", `{"transactions":`},
		{"too many items", `{"transactions":[{},{},{},{}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, "")
			w := env.do(http.MethodPost, "/callback/bulk", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "validation_error", decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestStatus(t *testing.T) {
	env := setupRouter(t, "")
	tx := testutil.NewResolvedTransaction("R1", "u1", transaction.LabelSukses)
	sn := "SN-1"
	tx.SerialNumber = &sn
	env.repo.AddTransaction(tx)

	w := env.do(http.MethodGet, "/callback/status/R1", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[TransactionStatusResponse](t, w)
	assert.Equal(t, "R1", resp.RefID)
	assert.Equal(t, "Sukses", resp.Status)
	require.NotNil(t, resp.SerialNumber)
	assert.Equal(t, "SN-1", *resp.SerialNumber)

	w = env.do(http.MethodGet, "/callback/status/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "missing", decode[ErrorResponse](t, w).RefID)
}

func TestBatch(t *testing.T) {
	env := setupRouter(t, "")
	b := testutil.NewTestBatch("B1", "u1")
	b.TotalTransactions = 2
	env.repo.AddBatch(b)
	env.repo.AddTransaction(testutil.NewBatchTransaction("R1", "u1", "B1"))
	env.repo.AddTransaction(testutil.NewBatchTransaction("R2", "u1", "B1"))

	w := env.do(http.MethodGet, "/callback/batch/B1", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[BatchResponse](t, w)
	assert.Equal(t, "B1", resp.BatchID)
	assert.Equal(t, 2, resp.TotalTransactions)
	assert.Len(t, resp.Transactions, 2)

	w = env.do(http.MethodGet, "/callback/batch/B9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	env := setupRouter(t, "")
	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		w := env.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func signedToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}
