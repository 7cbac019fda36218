package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
)

const testJWTSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	tenantID := uuid.New()
	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub":       userID.String(),
		"tenant_id": tenantID.String(),
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	var gotUser, gotTenant uuid.UUID
	handler := JWTAuthMiddleware(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = GetUserID(r.Context())
		gotTenant, _ = GetTenantID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/wallets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser != userID || gotTenant != tenantID {
		t.Fatalf("expected user %s tenant %s, got user %s tenant %s", userID, tenantID, gotUser, gotTenant)
	}
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	handler := JWTAuthMiddleware(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest("GET", "/api/wallets", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_WrongSecret(t *testing.T) {
	token := signToken(t, "other-secret", jwt.MapClaims{
		"sub":       uuid.New().String(),
		"tenant_id": uuid.New().String(),
	})

	handler := JWTAuthMiddleware(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest("GET", "/api/wallets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTAuthMiddleware_MissingTenantClaim(t *testing.T) {
	token := signToken(t, testJWTSecret, jwt.MapClaims{
		"sub": uuid.New().String(),
	})

	handler := JWTAuthMiddleware(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest("GET", "/api/wallets", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type tenantFinderStub struct {
	tenants map[string]*domain.Tenant
}

func (s *tenantFinderStub) FindTenantByAPIKeyDigest(ctx context.Context, digest string) (*domain.Tenant, error) {
	tenant, ok := s.tenants[digest]
	if !ok {
		return nil, store.ErrTenantNotFound
	}
	return tenant, nil
}

func TestAPIKeyAuthMiddleware_ValidKey(t *testing.T) {
	tenant := &domain.Tenant{ID: uuid.New(), Name: "acme"}
	finder := &tenantFinderStub{tenants: map[string]*domain.Tenant{
		DigestAPIKey("sk_live_abc"): tenant,
	}}

	var gotTenant *domain.Tenant
	handler := APIKeyAuthMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = GetWebhookTenant(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/webhooks/paystack", nil)
	req.Header.Set("X-API-Key", "sk_live_abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotTenant == nil || gotTenant.ID != tenant.ID {
		t.Fatalf("expected tenant %s in context, got %+v", tenant.ID, gotTenant)
	}
}

func TestAPIKeyAuthMiddleware_UnknownKey(t *testing.T) {
	finder := &tenantFinderStub{tenants: map[string]*domain.Tenant{}}

	handler := APIKeyAuthMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest("POST", "/webhooks/paystack", nil)
	req.Header.Set("X-API-Key", "sk_live_wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuthMiddleware_MissingKey(t *testing.T) {
	finder := &tenantFinderStub{tenants: map[string]*domain.Tenant{}}

	handler := APIKeyAuthMiddleware(finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest("POST", "/webhooks/paystack", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

type limiterStub struct {
	count      int
	retryAfter int
	err        error
}

func (s *limiterStub) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, s.err
}

func TestRateLimitMiddleware_UnderLimit(t *testing.T) {
	limiter := &limiterStub{count: 3}
	handler := RateLimitMiddleware(limiter, "api", 10, func(r *http.Request) string { return "tenant" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/wallets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_OverLimit(t *testing.T) {
	limiter := &limiterStub{count: 11, retryAfter: 42}
	handler := RateLimitMiddleware(limiter, "api", 10, func(r *http.Request) string { return "tenant" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/wallets", nil))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("expected Retry-After 42, got %q", got)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	limiter := &limiterStub{err: context.DeadlineExceeded}
	handler := RateLimitMiddleware(limiter, "api", 10, func(r *http.Request) string { return "tenant" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/wallets", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected rate limiter outage to fail open, got %d", rec.Code)
	}
}
