/**
 * @description
 * This file defines the webhook event entity and the queue message exchanged
 * between the HTTP ingress and the asynchronous reconciliation worker.
 *
 * @notes
 * - A WebhookEvent is persisted before it is enqueued, so a lost or failed
 *   enqueue leaves an auditable PENDING row that can be replayed.
 * - The queue delivers at-least-once; the worker skips events that are
 *   already in a terminal status, so redelivery is safe.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Webhook event statuses.
const (
	WebhookEventStatusPending   = "PENDING"
	WebhookEventStatusProcessed = "PROCESSED"
	WebhookEventStatusFailed    = "FAILED"
)

// WebhookEvent is a persisted record of an inbound provider callback,
// processed independently of the HTTP request that delivered it.
type WebhookEvent struct {
	ID                   uuid.UUID              `json:"id"`
	TenantID             uuid.UUID              `json:"tenant_id"`
	Provider             string                 `json:"provider"`
	EventType            string                 `json:"event_type"`
	Payload              map[string]interface{} `json:"payload"`
	Status               string                 `json:"status"`
	ErrorMessage         *string                `json:"error_message,omitempty"`
	RelatedTransactionID *uuid.UUID             `json:"related_transaction_id,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// WebhookJob is the message published to the job queue for each persisted
// webhook event. The worker re-reads the event row by id, so the job body
// carries identity, not state.
type WebhookJob struct {
	WebhookEventID uuid.UUID `json:"webhook_event_id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	Provider       string    `json:"provider"`
	Replay         bool      `json:"replay"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}
