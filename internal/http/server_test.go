package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goatify/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, sub, email string) string {
	t.Helper()
	claims := IdentityClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	s := &Server{cfg: config.Config{JWTSecretKey: "secret"}}
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a token")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsBadSignature(t *testing.T) {
	s := &Server{cfg: config.Config{JWTSecretKey: "secret"}}
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run with a forged token")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", "user-1", "u@example.com"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestAuthMiddlewarePassesIdentity(t *testing.T) {
	s := &Server{cfg: config.Config{JWTSecretKey: "secret"}}
	var gotUser, gotEmail string
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = userIDFromContext(r.Context())
		gotEmail = emailFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "user-1", "u@example.com"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if gotUser != "user-1" || gotEmail != "u@example.com" {
		t.Fatalf("identity not propagated: %q %q", gotUser, gotEmail)
	}
}

func TestAuthMiddlewareRejectsEmptySubject(t *testing.T) {
	s := &Server{cfg: config.Config{JWTSecretKey: "secret"}}
	handler := s.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a subject")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/usage", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", "", "u@example.com"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestUpdateUsageRejectsBadDeltas(t *testing.T) {
	s := &Server{cfg: config.Config{}}
	for _, body := range []string{`{}`, `{"delta":0}`, `{"delta":1.5}`, `{"delta":"one"}`} {
		req := httptest.NewRequest(http.MethodPost, "/api/usage", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.handleUpdateUsage(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: unexpected status %d", body, rec.Code)
		}
	}
}

func TestPayPalPlanID(t *testing.T) {
	s := &Server{cfg: config.Config{PayPalBoostPlanID: "P-BOOST", PayPalProPlanID: "P-PRO"}}
	id, err := s.paypalPlanID("boost")
	if err != nil || id != "P-BOOST" {
		t.Fatalf("boost: %s %v", id, err)
	}
	id, err = s.paypalPlanID("pro")
	if err != nil || id != "P-PRO" {
		t.Fatalf("pro: %s %v", id, err)
	}
	if _, err := s.paypalPlanID("free"); err == nil {
		t.Fatalf("free plan must not map to a paypal plan")
	}
	if _, err := s.paypalPlanID("enterprise"); err == nil {
		t.Fatalf("unknown plan must not map")
	}
}

func TestPayPalPlanIDUnconfigured(t *testing.T) {
	s := &Server{cfg: config.Config{}}
	if _, err := s.paypalPlanID("boost"); err == nil {
		t.Fatalf("expected error when plan id is not configured")
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	s := &Server{}
	handler := s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/usage", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS headers")
	}
}

func TestInternalAPIKeyMiddleware(t *testing.T) {
	s := &Server{cfg: config.Config{InternalAPIKey: "k1"}}
	called := false
	handler := s.internalAPIKeyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/internal/push/send", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: unexpected status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/internal/push/send", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: unexpected status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/internal/push/send", nil)
	req.Header.Set("X-API-Key", "k1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("valid key: called=%v status=%d", called, rec.Code)
	}
}
