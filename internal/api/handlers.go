/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 * - pkg/providers: For provider error classification.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/app"
	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
	"github.com/vaultpay/wallet-service/pkg/providers"
)

// IdempotencyKeyHeader names the header mutating endpoints require.
const IdempotencyKeyHeader = "Idempotency-Key"

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

// webhookAckResponse is the body returned to provider webhook deliveries.
type webhookAckResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// isProviderError reports whether err came back from a payment provider API
// call.
func isProviderError(err error) bool {
	var paystackErr *providers.PaystackError
	var flutterwaveErr *providers.FlutterwaveError
	var stripeErr *providers.StripeError
	return errors.As(err, &paystackErr) || errors.As(err, &flutterwaveErr) || errors.As(err, &stripeErr)
}

// handleServiceError maps the service's error taxonomy onto HTTP statuses.
func (h *WalletHandlers) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrIdempotencyKeyRequired),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrCurrencyMismatch),
		errors.Is(err, app.ErrSameWallet),
		errors.Is(err, app.ErrWalletOwnership),
		errors.Is(err, providers.ErrUnknownProvider),
		errors.Is(err, providers.ErrVirtualAccountsUnsupported):
		h.writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, app.ErrIdempotencyInProgress),
		errors.Is(err, store.ErrWalletExists):
		h.writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusBadRequest, "Insufficient funds")

	case errors.Is(err, store.ErrWalletNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrWebhookEventNotFound),
		errors.Is(err, store.ErrVirtualAccountNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())

	case isProviderError(err):
		// The rejection is already recorded on the transaction; the client
		// can retry with the same idempotency key.
		h.writeError(w, http.StatusBadRequest, "Payment provider rejected the request")

	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// identity returns the caller's user and tenant ids or writes a 500, which
// only happens if the route was wired without the auth middleware.
func (h *WalletHandlers) identity(w http.ResponseWriter, r *http.Request) (userID, tenantID uuid.UUID, ok bool) {
	userID, ok = GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, uuid.Nil, false
	}
	tenantID, ok = GetTenantID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get tenant ID from context")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, tenantID, true
}

// --- Wallets ---

// CreateWalletHandler provisions a wallet for the authenticated user.
func (h *WalletHandlers) CreateWalletHandler(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req domain.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Currency == "" {
		h.writeError(w, http.StatusBadRequest, "Currency is required")
		return
	}

	wallet, err := h.service.CreateWallet(r.Context(), tenantID, userID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, wallet)
}

// ListWalletsHandler returns the authenticated user's wallets.
func (h *WalletHandlers) ListWalletsHandler(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	wallets, err := h.service.ListWallets(r.Context(), tenantID, userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if wallets == nil {
		wallets = []domain.Wallet{}
	}
	h.writeJSON(w, http.StatusOK, wallets)
}

// GetWalletHandler returns a single wallet by id.
func (h *WalletHandlers) GetWalletHandler(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	walletID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid wallet ID format")
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), tenantID, walletID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wallet)
}

// --- Transactions ---

// DepositHandler initiates a provider-backed deposit.
func (h *WalletHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req domain.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.service.Deposit(r.Context(), tenantID, userID, r.Header.Get(IdempotencyKeyHeader), req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// WithdrawHandler initiates a provider-backed withdrawal.
func (h *WalletHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req domain.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.service.Withdraw(r.Context(), tenantID, userID, r.Header.Get(IdempotencyKeyHeader), req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// TransferHandler settles an internal wallet-to-wallet transfer.
func (h *WalletHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.service.Transfer(r.Context(), tenantID, userID, r.Header.Get(IdempotencyKeyHeader), req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, txn)
}

// GetTransactionHandler returns a single transaction by id.
func (h *WalletHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	transactionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid transaction ID format")
		return
	}

	txn, err := h.service.GetTransaction(r.Context(), tenantID, transactionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, txn)
}

// ListTransactionsHandler returns recent transactions, optionally filtered
// to one wallet via the wallet_id query parameter.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var walletID *uuid.UUID
	if raw := r.URL.Query().Get("wallet_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid wallet_id format")
			return
		}
		walletID = &parsed
	}

	txns, err := h.service.ListTransactions(r.Context(), tenantID, walletID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, txns)
}

// --- Virtual accounts ---

// CreateVirtualAccountHandler provisions a dedicated collection account.
func (h *WalletHandlers) CreateVirtualAccountHandler(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req domain.CreateVirtualAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.CreateVirtualAccount(r.Context(), tenantID, req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, account)
}

// --- Webhooks ---

// WebhookIngressHandler accepts a provider webhook delivery. It always
// responds 200 once the tenant is authenticated so providers do not retry
// deliveries we have already persisted; processing failures are handled
// asynchronously.
func (h *WalletHandlers) WebhookIngressHandler(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetWebhookTenant(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get tenant from context")
		return
	}
	provider := chi.URLParam(r, "provider")

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api msg=\"unparsable webhook body\" tenant_id=%s provider=%s err=%v", tenant.ID, provider, err)
		h.writeJSON(w, http.StatusOK, webhookAckResponse{Status: "ignored"})
		return
	}

	event, err := h.service.IngestWebhook(r.Context(), tenant.ID, provider, payload)
	if err != nil {
		log.Printf("level=error component=api msg=\"webhook ingestion failed\" tenant_id=%s provider=%s err=%v", tenant.ID, provider, err)
		h.writeJSON(w, http.StatusOK, webhookAckResponse{Status: "error"})
		return
	}
	h.writeJSON(w, http.StatusOK, webhookAckResponse{Status: "accepted", EventID: event.ID.String()})
}

// ReplayWebhookHandler re-enqueues a webhook event for processing.
func (h *WalletHandlers) ReplayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	_, tenantID, ok := h.identity(w, r)
	if !ok {
		return
	}

	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid event ID format")
		return
	}

	event, err := h.service.ReplayWebhookEvent(r.Context(), tenantID, eventID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, event)
}

// writeJSON is a helper for writing JSON responses.
func (h *WalletHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *WalletHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
