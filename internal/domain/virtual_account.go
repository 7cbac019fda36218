package domain

import (
	"time"

	"github.com/google/uuid"
)

// Virtual account statuses.
const (
	VirtualAccountStatusActive   = "ACTIVE"
	VirtualAccountStatusInactive = "INACTIVE"
	VirtualAccountStatusClosed   = "CLOSED"
)

// VirtualAccount maps a provider-issued bank-style account number to an
// internal wallet. Reconciliation uses it to resolve the owning wallet for
// inbound virtual-account deposits.
type VirtualAccount struct {
	ID                uuid.UUID `json:"id"`
	TenantID          uuid.UUID `json:"tenant_id"`
	WalletID          uuid.UUID `json:"wallet_id"`
	AccountNumber     string    `json:"account_number"`
	BankName          string    `json:"bank_name"`
	AccountName       string    `json:"account_name"`
	Currency          string    `json:"currency"`
	Provider          string    `json:"provider"`
	ProviderReference *string   `json:"provider_reference,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateVirtualAccountRequest is the DTO for virtual account creation API
// requests.
type CreateVirtualAccountRequest struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	Currency      string    `json:"currency"`
	Provider      string    `json:"provider"`
	AccountName   string    `json:"account_name"`
	CustomerEmail string    `json:"customer_email,omitempty"`
}
