/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, rate limiting, or adding context to a request.
 *
 * Two authentication schemes coexist:
 * - Tenant user traffic on /api carries an HS256 bearer token whose claims
 *   name both the user (sub) and the tenant (tenant_id).
 * - Webhook ingress and admin traffic carries the tenant's X-API-Key, which
 *   is looked up by its SHA-256 digest so raw keys are never stored.
 *
 * @dependencies
 * - context, crypto/sha256, net/http, strings: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
)

type contextKey string

const (
	userIDContextKey        contextKey = "userID"
	tenantIDContextKey      contextKey = "tenantID"
	webhookTenantContextKey contextKey = "webhookTenant"
)

// JWTAuthMiddleware validates HS256 bearer tokens and stores the caller's
// user and tenant ids in the request context.
func JWTAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			sub, ok := claims["sub"].(string)
			if !ok {
				http.Error(w, "User ID not found in token", http.StatusUnauthorized)
				return
			}
			userID, err := uuid.Parse(sub)
			if err != nil {
				http.Error(w, "Invalid user ID in token", http.StatusUnauthorized)
				return
			}

			tenantClaim, ok := claims["tenant_id"].(string)
			if !ok {
				http.Error(w, "Tenant ID not found in token", http.StatusUnauthorized)
				return
			}
			tenantID, err := uuid.Parse(tenantClaim)
			if err != nil {
				http.Error(w, "Invalid tenant ID in token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			ctx = context.WithValue(ctx, tenantIDContextKey, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the authenticated user's ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	return userID, ok
}

// GetTenantID retrieves the authenticated tenant's ID from the request context.
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(tenantIDContextKey).(uuid.UUID)
	return tenantID, ok
}

// TenantFinder resolves a tenant from an API key digest. Satisfied by
// store.Repository.
type TenantFinder interface {
	FindTenantByAPIKeyDigest(ctx context.Context, digest string) (*domain.Tenant, error)
}

// DigestAPIKey returns the hex SHA-256 digest under which tenant API keys
// are stored.
func DigestAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthMiddleware authenticates webhook and admin traffic by the
// tenant's X-API-Key header.
func APIKeyAuthMiddleware(finder TenantFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
			if apiKey == "" {
				http.Error(w, "X-API-Key header required", http.StatusUnauthorized)
				return
			}

			tenant, err := finder.FindTenantByAPIKeyDigest(r.Context(), DigestAPIKey(apiKey))
			if err != nil {
				if errors.Is(err, store.ErrTenantNotFound) {
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				log.Printf("level=error component=api msg=\"tenant lookup failed\" err=%v", err)
				http.Error(w, "Unable to authenticate request", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), webhookTenantContextKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetWebhookTenant retrieves the API-key-authenticated tenant from the
// request context.
func GetWebhookTenant(ctx context.Context) (*domain.Tenant, bool) {
	tenant, ok := ctx.Value(webhookTenantContextKey).(*domain.Tenant)
	return tenant, ok
}

// RateLimiter is the consumption interface the middleware throttles with.
// Satisfied by app.RedisRateLimiter.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error)
}

// RateLimitMiddleware throttles requests per subject within a one minute
// window. The subject function decides the throttling key, typically the
// tenant id. Limiter errors fail open so Redis outages do not take the API
// down with them.
func RateLimitMiddleware(limiter RateLimiter, scope string, limitPerMinute int, subject func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := subject(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, key, limitPerMinute, time.Minute)
			if err != nil {
				log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" scope=%s err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}
			if limitPerMinute > 0 && count > limitPerMinute {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
