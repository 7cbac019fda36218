/**
 * @description
 * This file contains the queue consumer that drives webhook reconciliation.
 * Jobs published by the ingress and replay endpoints are decoded here and
 * handed to the service's processing logic.
 *
 * Key features:
 * - Returns true to ack a delivery; false requeues it for another attempt.
 * - Malformed jobs and jobs for deleted events are acked so they cannot
 *   poison the queue.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
)

// WebhookConsumer processes webhook jobs delivered from the message queue.
type WebhookConsumer struct {
	service *Service
}

// NewWebhookConsumer creates a consumer bound to the given service.
func NewWebhookConsumer(service *Service) *WebhookConsumer {
	return &WebhookConsumer{service: service}
}

// HandleMessage processes one queue delivery. The boolean return drives the
// ack/nack decision in the broker binding.
func (c *WebhookConsumer) HandleMessage(body []byte) bool {
	var job domain.WebhookJob
	if err := json.Unmarshal(body, &job); err != nil {
		log.Printf("level=error component=webhook_consumer msg=\"malformed job; dropping\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.service.ProcessWebhookEvent(ctx, job.WebhookEventID); err != nil {
		if errors.Is(err, store.ErrWebhookEventNotFound) {
			log.Printf("level=warn component=webhook_consumer msg=\"job references missing event; dropping\" event_id=%s", job.WebhookEventID)
			return true
		}
		log.Printf("level=error component=webhook_consumer msg=\"processing failed; requeuing\" event_id=%s replay=%t err=%v", job.WebhookEventID, job.Replay, err)
		return false
	}

	log.Printf("level=info component=webhook_consumer msg=\"job processed\" event_id=%s provider=%s replay=%t", job.WebhookEventID, job.Provider, job.Replay)
	return true
}
