/**
 * @description
 * This file sets up the HTTP router for the wallet-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and rate limiting.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/prometheus/client_golang: Prometheus metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the auth and throttling settings the routes need.
type RouterConfig struct {
	JWTSecret              string
	APIRateLimitPerMin     int
	WebhookRateLimitPerMin int
}

// WalletRoutes creates and returns the router for the wallet service.
func WalletRoutes(h *WalletHandlers, tenants TenantFinder, limiter RateLimiter, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Provider webhook ingress, authenticated by the tenant's API key.
	// Throttled per tenant.
	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuthMiddleware(tenants))
		r.Use(RateLimitMiddleware(limiter, "webhook", cfg.WebhookRateLimitPerMin, webhookSubject))

		r.Post("/webhooks/{provider}", h.WebhookIngressHandler)
	})

	// Tenant user API, authenticated by bearer token. Throttled per tenant.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(cfg.JWTSecret))
		r.Use(RateLimitMiddleware(limiter, "api", cfg.APIRateLimitPerMin, apiSubject))

		r.Post("/api/wallets", h.CreateWalletHandler)
		r.Get("/api/wallets", h.ListWalletsHandler)
		r.Get("/api/wallets/{id}", h.GetWalletHandler)

		r.Post("/api/transactions/deposit", h.DepositHandler)
		r.Post("/api/transactions/withdraw", h.WithdrawHandler)
		r.Post("/api/transactions/transfer", h.TransferHandler)
		r.Get("/api/transactions", h.ListTransactionsHandler)
		r.Get("/api/transactions/{id}", h.GetTransactionHandler)

		r.Post("/api/virtual-accounts", h.CreateVirtualAccountHandler)

		r.Post("/api/webhooks/replay/{id}", h.ReplayWebhookHandler)
	})

	return r
}

func webhookSubject(r *http.Request) string {
	if tenant, ok := GetWebhookTenant(r.Context()); ok {
		return tenant.ID.String()
	}
	return ""
}

func apiSubject(r *http.Request) string {
	if tenantID, ok := GetTenantID(r.Context()); ok {
		return tenantID.String()
	}
	return ""
}
