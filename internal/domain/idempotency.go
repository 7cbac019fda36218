package domain

import (
	"time"

	"github.com/google/uuid"
)

// Idempotency key statuses. PROCESSED is terminal and replayable; FAILED is
// retryable (it resets to PENDING when the client retries the request).
const (
	IdempotencyStatusPending   = "PENDING"
	IdempotencyStatusProcessed = "PROCESSED"
	IdempotencyStatusFailed    = "FAILED"
)

// IdempotencyKey guards a client-initiated financial request so it has
// exactly one effect regardless of retries. The (tenant_id, key) pair is
// unique; the unique constraint is the sole mutual-exclusion gate for
// duplicate requests.
type IdempotencyKey struct {
	ID              uuid.UUID              `json:"id"`
	TenantID        uuid.UUID              `json:"tenant_id"`
	Key             string                 `json:"key"`
	Status          string                 `json:"status"`
	ResourceID      *uuid.UUID             `json:"resource_id,omitempty"`
	ResponsePayload map[string]interface{} `json:"response_payload,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}
