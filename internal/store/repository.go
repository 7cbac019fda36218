/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the wallet-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/domain"
)

var (
	ErrTenantNotFound         = errors.New("tenant not found")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrWalletExists           = errors.New("wallet already exists for user and currency")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	ErrIdempotencyKeyExists   = errors.New("idempotency key already exists for tenant")
	ErrWebhookEventNotFound   = errors.New("webhook event not found")
	ErrVirtualAccountNotFound = errors.New("virtual account not found")
	ErrVirtualAccountExists   = errors.New("virtual account already exists")
)

// UpdateTransactionParams carries the optional fields of a transaction
// status update. Nil pointers leave the stored value untouched.
type UpdateTransactionParams struct {
	Status                string
	ProviderTransactionID *string
	ProviderMetadata      map[string]interface{}
}

// Repository defines the set of methods for interacting with the database.
//
// WithinTx runs fn against a repository bound to a single database
// transaction; every mutation fn performs commits or rolls back together.
// All other methods run against the pool (or against the bound transaction
// when called on the repository passed to fn).
type Repository interface {
	WithinTx(ctx context.Context, fn func(Repository) error) error

	// Tenants (collaborator-owned; read-only here)
	FindTenantByAPIKeyDigest(ctx context.Context, digest string) (*domain.Tenant, error)

	// Wallets and the ledger primitive
	CreateWallet(ctx context.Context, wallet *domain.Wallet) error
	FindWalletByID(ctx context.Context, tenantID, walletID uuid.UUID) (*domain.Wallet, error)
	FindWalletsByUserID(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Wallet, error)
	// AdjustWalletBalance applies `balance = balance + delta` as a single
	// atomic increment and returns the resulting balance. A negative result
	// after a negative delta fails with ErrInsufficientFunds; callers invoke
	// this inside WithinTx so the failure rolls the whole unit back.
	AdjustWalletBalance(ctx context.Context, walletID uuid.UUID, delta int64) (int64, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByID(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*domain.Transaction, error)
	FindTransactionByProviderRef(ctx context.Context, tenantID uuid.UUID, provider, providerTransactionID, txType string) (*domain.Transaction, error)
	ListTransactionsByWallet(ctx context.Context, tenantID, walletID uuid.UUID, limit int) ([]domain.Transaction, error)
	ListTransactionsByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Transaction, error)
	UpdateTransaction(ctx context.Context, transactionID uuid.UUID, params UpdateTransactionParams) (*domain.Transaction, error)

	// Idempotency keys
	CreateIdempotencyKey(ctx context.Context, key *domain.IdempotencyKey) error
	FindIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.IdempotencyKey, error)
	UpdateIdempotencyKey(ctx context.Context, keyID uuid.UUID, status string, resourceID *uuid.UUID, responsePayload map[string]interface{}) error
	// ReapStaleIdempotencyKeys flips PENDING keys older than cutoff to FAILED
	// so a request abandoned by a crashed process becomes client-retryable.
	ReapStaleIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)

	// Webhook events
	CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error
	FindWebhookEventByID(ctx context.Context, eventID uuid.UUID) (*domain.WebhookEvent, error)
	FindWebhookEventByIDForTenant(ctx context.Context, tenantID, eventID uuid.UUID) (*domain.WebhookEvent, error)
	UpdateWebhookEventStatus(ctx context.Context, eventID uuid.UUID, status string, errorMessage *string, relatedTransactionID *uuid.UUID) error

	// Virtual accounts
	CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error
	FindVirtualAccountByNumber(ctx context.Context, provider, accountNumber string) (*domain.VirtualAccount, error)
	FindActiveVirtualAccount(ctx context.Context, tenantID, walletID uuid.UUID, provider, currency string) (*domain.VirtualAccount, error)
}
