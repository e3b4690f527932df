package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/richardliu001/wallet-ledger/internal/config"
	"github.com/richardliu001/wallet-ledger/internal/logger"
	"github.com/richardliu001/wallet-ledger/internal/metrics"
	"github.com/richardliu001/wallet-ledger/internal/repo"
	"github.com/richardliu001/wallet-ledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router  *gin.Engine
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	store := repo.NewMemoryStore(repo.Options{})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.NewWalletService(store, cfg, logger.Nop(), service.WithRecorder(m))
	router := NewRouter(svc, RouterOptions{Metrics: m, Gatherer: reg}, logger.Nop())
	return &testServer{router: router, metrics: m}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func (s *testServer) createWallet(t *testing.T) string {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/api/v1/wallets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return body["id"].(string)
}

func TestHandler_Scenario(t *testing.T) {
	s := newTestServer(t)
	id := s.createWallet(t)
	base := "/api/v1/wallets/" + id

	rec, body := s.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", body["balance"])

	rec, body = s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"DEPOSIT","amount":"100.00"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SUCCESS", body["status"])
	assert.Equal(t, "100.00", body["amount"])
	assert.Equal(t, id, body["wallet_id"])

	rec, _ = s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"WITHDRAW","amount":50}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"WITHDRAW","amount":"100.00"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", body["code"])
	txn := body["transaction"].(map[string]any)
	assert.Equal(t, "FAILED", txn["status"])

	_, body = s.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, "50.00", body["balance"])

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, base+"/transactions?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txs))
	require.Len(t, txs, 3)
	assert.Equal(t, "DEPOSIT", txs[0]["operation_type"])

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Operations.WithLabelValues("WITHDRAW", "FAILED")))
}

func TestHandler_ValidationErrors(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/wallets/" + s.createWallet(t)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"negative", `{"operation_type":"DEPOSIT","amount":"-100.00"}`, "INVALID_AMOUNT"},
		{"precision", `{"operation_type":"DEPOSIT","amount":"1.005"}`, "INVALID_AMOUNT"},
		{"too large", `{"operation_type":"DEPOSIT","amount":"99999999999999999.00"}`, "AMOUNT_OUT_OF_RANGE"},
		{"bad operation", `{"operation_type":"TRANSFER","amount":"1.00"}`, "INVALID_OPERATION"},
		{"missing amount", `{"operation_type":"DEPOSIT"}`, "VALIDATION_ERROR"},
		{"not json", `amount=1`, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodPost, base+"/operation", tt.body, nil)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestHandler_NotFoundAndMalformedID(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/api/v1/wallets/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "WALLET_NOT_FOUND", body["code"])

	rec, _ = s.do(t, http.MethodPost, "/api/v1/wallets/"+uuid.NewString()+"/operation",
		`{"operation_type":"DEPOSIT","amount":"1.00"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = s.do(t, http.MethodGet, "/api/v1/wallets/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestHandler_IdempotencyHeader(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/wallets/" + s.createWallet(t)
	hdr := map[string]string{"Idempotency-Key": "abc-123"}

	rec, first := s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"DEPOSIT","amount":"10.00"}`, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, second := s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"DEPOSIT","amount":"10.00"}`, hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["id"], second["id"])

	rec, body := s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"WITHDRAW","amount":"10.00"}`, hdr)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", body["code"])

	_, w := s.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, "10.00", w["balance"])
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(service.ErrServiceUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.ErrInternal))
	assert.Equal(t, http.StatusConflict, statusFor(service.ErrIdempotencyConflict))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(service.ErrInvalidIdempotencyKey))
	assert.Equal(t, statusClientClosedRequest, statusFor(service.ErrRequestCanceled))
}

func TestHandler_IdempotencyKeyTooLong(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/wallets/" + s.createWallet(t)

	hdr := map[string]string{"Idempotency-Key": strings.Repeat("x", 65)}
	rec, body := s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"DEPOSIT","amount":"10.00"}`, hdr)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_IDEMPOTENCY_KEY", body["code"])

	_, w := s.do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, "0.00", w["balance"])
}

func TestHandler_ExponentAmountRejectedQuickly(t *testing.T) {
	s := newTestServer(t)
	base := "/api/v1/wallets/" + s.createWallet(t)

	for _, amount := range []string{`"1e-10000000"`, `"1e10000000"`, `1e-10000000`} {
		start := time.Now()
		rec, body := s.do(t, http.MethodPost, base+"/operation", `{"operation_type":"DEPOSIT","amount":`+amount+`}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, amount)
		assert.Contains(t, []any{"INVALID_AMOUNT", "AMOUNT_OUT_OF_RANGE"}, body["code"], amount)
		assert.Less(t, time.Since(start), time.Second, amount)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RateLimitMiddleware(1, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
