package domain

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a single-currency monetary balance for a user within a tenant.
// The balance is only ever mutated through the store's atomic increment; it
// must never go negative.
type Wallet struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	UserID    uuid.UUID `json:"user_id"`
	Currency  string    `json:"currency"` // ISO-4217
	Balance   int64     `json:"balance"`  // minor units
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateWalletRequest is the DTO for wallet creation API requests.
type CreateWalletRequest struct {
	Currency string `json:"currency"`
}

// Tenant is the platform customer that owns users, wallets, and webhook
// credentials. Registration lives outside this service; tenants are only
// read here to authenticate webhook ingress.
type Tenant struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	APIKeyDigest string    `json:"-"` // hex sha256 of the tenant API key
	CreatedAt    time.Time `json:"created_at"`
}
