package api

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/rewards-service/internal/app"
	"github.com/transfa/rewards-service/internal/domain"
	"github.com/transfa/rewards-service/internal/store/memory"
)

const (
	testInternalKey = "internal-secret"
	testKid         = "test-key"
)

type testServer struct {
	router http.Handler
	signer *rsa.PrivateKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"keys": []map[string]string{{
				"kid": testKid,
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(jwks.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(memory.New(), logger, app.DefaultSettings(), app.Options{})
	router := NewRouter(NewHandler(service, logger), NewJWKSCache(jwks.URL), testInternalKey)
	return &testServer{router: router, signer: key}
}

func (s *testServer) token(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = testKid
	signed, err := token.SignedString(s.signer)
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) internal(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	return s.do(t, method, path, body, map[string]string{"X-Internal-API-Key": testInternalKey})
}

func (s *testServer) asUser(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	return s.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + s.token(t, user)})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestInternalRoutes_RequireAPIKey(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/internal/rewards/users/alice/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/internal/rewards/users/alice/balance", nil, map[string]string{"X-Internal-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInternalRoutes_RejectEverythingWithoutConfiguredKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewService(memory.New(), logger, app.DefaultSettings(), app.Options{})
	router := NewRouter(NewHandler(service, logger), NewJWKSCache("http://127.0.0.1:0"), "")

	for _, headers := range []map[string]string{nil, {"X-Internal-API-Key": "anything"}} {
		req := httptest.NewRequest(http.MethodPost, "/internal/rewards/users/alice/contributions", bytes.NewReader([]byte(`{"amount":"1000000","category":"project"}`)))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRegisterAndLedgerOperations(t *testing.T) {
	s := newTestServer(t)

	rec := s.internal(t, http.MethodPost, "/internal/rewards/members", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.internal(t, http.MethodGet, "/internal/rewards/users/alice/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1000", decodeBody(t, rec)["remaining_contribution"])

	rec = s.internal(t, http.MethodPost, "/internal/rewards/users/alice/consumptions", map[string]string{"amount": "5000"})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "insufficient")

	rec = s.internal(t, http.MethodPost, "/internal/rewards/users/alice/contributions", map[string]string{"amount": "0", "category": "project"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.internal(t, http.MethodPost, "/internal/rewards/users/alice/consumptions", map[string]string{"amount": "250"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "750", decodeBody(t, rec)["remaining_contribution"])

	rec = s.internal(t, http.MethodGet, "/internal/rewards/users/alice/ledger?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.DirectionDebit, entries[0].Direction)

	rec = s.internal(t, http.MethodGet, "/internal/rewards/users/alice/ledger?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateOperation_ReturnsResultNotStatus(t *testing.T) {
	s := newTestServer(t)

	rec := s.internal(t, http.MethodPost, "/internal/rewards/validate", map[string]string{
		"user_id":          "bob",
		"transaction_type": "debit",
		"amount":           "2000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["passed"])
	assert.NotEmpty(t, body["reason"])
}

func TestJWTRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/rewards/me/balance", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/rewards/me/balance", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.asUser(t, "carol", http.MethodGet, "/rewards/me/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", decodeBody(t, rec)["user_id"])

	rec = s.asUser(t, "carol", http.MethodPost, "/rewards/me/transfers", map[string]string{"to_user_id": "dave", "amount": "100"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.asUser(t, "dave", http.MethodGet, "/rewards/me/balance", nil)
	assert.Equal(t, "1100", decodeBody(t, rec)["remaining_contribution"])
}

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	s.internal(t, http.MethodPost, "/internal/rewards/members", map[string]string{"user_id": "member"})
	s.internal(t, http.MethodPost, "/internal/rewards/members", map[string]string{"user_id": "boss", "role": "admin"})

	pool := map[string]string{"name": "Q1", "type": "profit_share", "period": "quarterly"}
	rec := s.asUser(t, "member", http.MethodPost, "/rewards/admin/pools", pool)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.asUser(t, "stranger", http.MethodPost, "/rewards/admin/pools", pool)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.asUser(t, "boss", http.MethodPost, "/rewards/admin/pools", pool)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	poolID := decodeBody(t, rec)["id"].(string)

	rec = s.asUser(t, "boss", http.MethodPost, "/rewards/admin/pools/"+poolID+"/fund", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.asUser(t, "boss", http.MethodPost, "/rewards/admin/pools/"+poolID+"/equity", map[string]string{"user_id": "member", "percentage": "25"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.asUser(t, "boss", http.MethodPost, "/rewards/admin/pools/"+poolID+"/distribute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody(t, rec)["round"])

	rec = s.asUser(t, "boss", http.MethodPost, "/rewards/admin/pools/not-a-uuid/fund", map[string]string{"amount": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.asUser(t, "member", http.MethodGet, "/rewards/me/equity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "25", decodeBody(t, rec)["total_percentage"])
}

func TestWriteError_StatusMapping(t *testing.T) {
	h := NewHandler(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		err  error
		want int
	}{
		{&domain.ValidationError{Field: "amount", Reason: "bad"}, http.StatusBadRequest},
		{&domain.InsufficientBalanceError{UserID: "u"}, http.StatusPaymentRequired},
		{&domain.PermissionDeniedError{UserID: "u", Required: domain.RoleAdmin}, http.StatusForbidden},
		{&domain.IntegrityViolationError{Entity: "members", Reason: "dup"}, http.StatusConflict},
		{&domain.ConcurrencyConflictError{Op: "commit", Err: errors.New("40001")}, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.writeError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
	}
}
