/**
 * @description
 * This file defines the core domain models for the wallet-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (kobo/cents), which avoids floating-point inaccuracies with financial data.
 * - Status constants mirror the values persisted in the database; terminal
 *   statuses (SUCCESS, FAILED, REVERSED) are never overwritten.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction types.
const (
	TransactionTypeDeposit    = "DEPOSIT"
	TransactionTypeWithdrawal = "WITHDRAWAL"
	TransactionTypeTransfer   = "TRANSFER"
)

// Transaction statuses. PENDING is the only non-terminal status.
const (
	TransactionStatusPending  = "PENDING"
	TransactionStatusSuccess  = "SUCCESS"
	TransactionStatusFailed   = "FAILED"
	TransactionStatusReversed = "REVERSED"
)

// TransactionStatusIsTerminal reports whether a status may no longer change.
func TransactionStatusIsTerminal(status string) bool {
	switch status {
	case TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusReversed:
		return true
	}
	return false
}

// Transaction represents the central ledger record for any money movement in
// the system. This struct maps directly to the `transactions` table.
type Transaction struct {
	ID                    uuid.UUID              `json:"id"`
	TenantID              uuid.UUID              `json:"tenant_id"`
	WalletID              uuid.UUID              `json:"wallet_id"`
	Type                  string                 `json:"type"`
	Status                string                 `json:"status"`
	Amount                int64                  `json:"amount"` // minor units
	Currency              string                 `json:"currency"`
	Reference             *string                `json:"reference,omitempty"` // peer wallet id for transfers, account number for VA deposits
	Provider              *string                `json:"provider,omitempty"`
	ProviderTransactionID *string                `json:"provider_transaction_id,omitempty"`
	ProviderMetadata      map[string]interface{} `json:"provider_metadata,omitempty"`
	IdempotencyKeyID      *uuid.UUID             `json:"idempotency_key_id,omitempty"`
	Description           string                 `json:"description"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// DepositRequest is the DTO for incoming deposit API requests.
type DepositRequest struct {
	WalletID      uuid.UUID `json:"wallet_id"`
	Amount        int64     `json:"amount"` // minor units
	Currency      string    `json:"currency"`
	Provider      string    `json:"provider"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	Description   string    `json:"description"`
}

// WithdrawalRequest is the DTO for incoming withdrawal API requests.
type WithdrawalRequest struct {
	WalletID    uuid.UUID `json:"wallet_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Provider    string    `json:"provider"`
	Description string    `json:"description"`
}

// TransferRequest is the DTO for incoming internal transfer API requests.
type TransferRequest struct {
	SourceWalletID      uuid.UUID `json:"source_wallet_id"`
	DestinationWalletID uuid.UUID `json:"destination_wallet_id"`
	Amount              int64     `json:"amount"`
	Currency            string    `json:"currency"`
	Description         string    `json:"description"`
}
