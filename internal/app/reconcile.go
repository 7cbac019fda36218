/**
 * @description
 * This file implements the webhook reconciliation pipeline. Inbound provider
 * webhooks are persisted first and processed asynchronously from the message
 * queue, so a crash between ingestion and settlement never loses an event.
 *
 * Key features:
 * - IngestWebhook persists the raw payload and enqueues a processing job.
 * - ProcessWebhookEvent normalizes the payload through the provider gateway
 *   and applies the outcome: settling initiated transactions (including the
 *   compensating credit for failed withdrawals) or crediting virtual account
 *   deposits with provider-level deduplication.
 * - Processing is idempotent: events already in a terminal state and
 *   transactions already settled are skipped, so redelivered or replayed
 *   jobs cannot double-apply.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
	"github.com/vaultpay/wallet-service/pkg/providers"
)

// webhookEventType extracts the provider's event name from a raw payload for
// indexing. Paystack and Flutterwave use "event", Stripe uses "type".
func webhookEventType(payload map[string]interface{}) string {
	if v, ok := payload["event"].(string); ok && v != "" {
		return v
	}
	if v, ok := payload["type"].(string); ok {
		return v
	}
	return ""
}

// IngestWebhook persists an inbound webhook and enqueues it for asynchronous
// processing. A broker outage is not fatal: the event stays PENDING and can
// be replayed through the admin endpoint.
func (s *Service) IngestWebhook(ctx context.Context, tenantID uuid.UUID, provider string, payload map[string]interface{}) (*domain.WebhookEvent, error) {
	event := &domain.WebhookEvent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Provider:  provider,
		EventType: webhookEventType(payload),
		Payload:   payload,
		Status:    domain.WebhookEventStatusPending,
	}
	if err := s.repo.CreateWebhookEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to persist webhook event: %w", err)
	}

	job := domain.WebhookJob{
		WebhookEventID: event.ID,
		TenantID:       tenantID,
		Provider:       provider,
		Replay:         false,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := s.eventProducer.PublishWebhookJob(ctx, s.webhookExchange, job); err != nil {
		log.Printf("level=warn component=reconcile msg=\"failed to enqueue webhook job; event stays pending\" event_id=%s err=%v", event.ID, err)
	}
	return event, nil
}

// ReplayWebhookEvent re-enqueues an event for processing. A settled or
// failed event is reset to PENDING first; an event still PENDING (its
// original enqueue was lost to a broker outage) is re-published as is.
// Processing idempotency guarantees a replayed event cannot apply its
// balance effects twice.
func (s *Service) ReplayWebhookEvent(ctx context.Context, tenantID, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	event, err := s.repo.FindWebhookEventByIDForTenant(ctx, tenantID, eventID)
	if err != nil {
		return nil, err
	}

	if event.Status != domain.WebhookEventStatusPending {
		if err := s.repo.UpdateWebhookEventStatus(ctx, event.ID, domain.WebhookEventStatusPending, nil, nil); err != nil {
			return nil, fmt.Errorf("failed to reset webhook event: %w", err)
		}
		event.Status = domain.WebhookEventStatusPending
		event.ErrorMessage = nil
	}

	job := domain.WebhookJob{
		WebhookEventID: event.ID,
		TenantID:       tenantID,
		Provider:       event.Provider,
		Replay:         true,
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := s.eventProducer.PublishWebhookJob(ctx, s.webhookExchange, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue replay job: %w", err)
	}
	s.metrics.ObserveWebhookReplay()
	log.Printf("level=info component=reconcile msg=\"webhook event replay enqueued\" event_id=%s tenant_id=%s", event.ID, tenantID)
	return event, nil
}

// failWebhookEvent records a terminal processing failure. The failure itself
// is a processed outcome, so nil is returned and the queue delivery is acked.
func (s *Service) failWebhookEvent(ctx context.Context, event *domain.WebhookEvent, reason string, relatedTransactionID *uuid.UUID) error {
	log.Printf("level=warn component=reconcile msg=\"webhook event failed\" event_id=%s provider=%s reason=%q", event.ID, event.Provider, reason)
	s.metrics.ObserveWebhookEvent(event.Provider, "failed")
	if err := s.repo.UpdateWebhookEventStatus(ctx, event.ID, domain.WebhookEventStatusFailed, &reason, relatedTransactionID); err != nil {
		return fmt.Errorf("failed to mark webhook event failed: %w", err)
	}
	return nil
}

// ProcessWebhookEvent applies a persisted webhook event. It returns an error
// only for transient faults that warrant a redelivery; semantic failures are
// recorded on the event and acked.
func (s *Service) ProcessWebhookEvent(ctx context.Context, eventID uuid.UUID) error {
	event, err := s.repo.FindWebhookEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if event.Status != domain.WebhookEventStatusPending {
		log.Printf("level=info component=reconcile msg=\"skipping webhook event in terminal state\" event_id=%s status=%s", event.ID, event.Status)
		return nil
	}

	gateway, err := s.gateways.Get(event.Provider)
	if err != nil {
		return s.failWebhookEvent(ctx, event, err.Error(), nil)
	}

	result, err := gateway.ProcessWebhook(event.Payload)
	if err != nil {
		return s.failWebhookEvent(ctx, event, err.Error(), nil)
	}

	switch result.Kind {
	case providers.WebhookKindTransactionResult:
		return s.applyTransactionResult(ctx, event, result)
	case providers.WebhookKindVirtualAccountDeposit:
		return s.applyVirtualAccountDeposit(ctx, event, result)
	default:
		return s.failWebhookEvent(ctx, event, fmt.Sprintf("unsupported webhook result kind %q", result.Kind), nil)
	}
}

// resolveSettledTransaction matches a webhook result to the transaction it
// settles, by our reference first and by the provider's own id second.
func resolveSettledTransaction(ctx context.Context, r store.Repository, event *domain.WebhookEvent, result *providers.WebhookResult) (*domain.Transaction, error) {
	if result.Reference != "" {
		txn, err := r.FindTransactionByReference(ctx, event.TenantID, result.Reference)
		if err == nil {
			return txn, nil
		}
		if !errors.Is(err, store.ErrTransactionNotFound) {
			return nil, err
		}
	}
	if result.ProviderTransactionID != "" {
		return r.FindTransactionByProviderRef(ctx, event.TenantID, event.Provider, result.ProviderTransactionID, result.TransactionType)
	}
	return nil, store.ErrTransactionNotFound
}

func (s *Service) applyTransactionResult(ctx context.Context, event *domain.WebhookEvent, result *providers.WebhookResult) error {
	var semanticFailure string
	var settledID *uuid.UUID

	err := s.repo.WithinTx(ctx, func(r store.Repository) error {
		txn, err := resolveSettledTransaction(ctx, r, event, result)
		if err != nil {
			if errors.Is(err, store.ErrTransactionNotFound) {
				semanticFailure = fmt.Sprintf("no matching %s transaction for reference %q", result.TransactionType, result.Reference)
				return nil
			}
			return err
		}
		settledID = &txn.ID

		if domain.TransactionStatusIsTerminal(txn.Status) {
			// Already settled by an earlier delivery of this event.
			log.Printf("level=info component=reconcile msg=\"transaction already settled\" transaction_id=%s status=%s event_id=%s", txn.ID, txn.Status, event.ID)
			return r.UpdateWebhookEventStatus(ctx, event.ID, domain.WebhookEventStatusProcessed, nil, &txn.ID)
		}

		if result.Amount > 0 && result.Amount != txn.Amount {
			semanticFailure = fmt.Sprintf("amount mismatch: webhook %d, transaction %d", result.Amount, txn.Amount)
			return nil
		}

		status := domain.TransactionStatusFailed
		switch {
		case result.Success && txn.Type == domain.TransactionTypeDeposit:
			if _, err := r.AdjustWalletBalance(ctx, txn.WalletID, txn.Amount); err != nil {
				return fmt.Errorf("failed to credit deposit: %w", err)
			}
			status = domain.TransactionStatusSuccess

		case result.Success && txn.Type == domain.TransactionTypeWithdrawal:
			// Debit was applied at initiation; the payout settling is
			// confirmation only.
			status = domain.TransactionStatusSuccess

		case !result.Success && txn.Type == domain.TransactionTypeWithdrawal:
			// Compensating credit: the payout never left, so the held
			// debit is returned to the wallet.
			if _, err := r.AdjustWalletBalance(ctx, txn.WalletID, txn.Amount); err != nil {
				return fmt.Errorf("failed to reverse withdrawal: %w", err)
			}
			status = domain.TransactionStatusReversed
			s.metrics.ObserveCompensation()
		}

		// Settlement keeps the metadata captured at initiation.
		metadata := make(map[string]interface{}, len(txn.ProviderMetadata)+2)
		for k, v := range txn.ProviderMetadata {
			metadata[k] = v
		}
		metadata["event_type"] = result.EventType
		if result.FailureReason != "" {
			metadata["failure_reason"] = result.FailureReason
		}

		if _, err := r.UpdateTransaction(ctx, txn.ID, store.UpdateTransactionParams{
			Status:                status,
			ProviderTransactionID: optionalString(result.ProviderTransactionID),
			ProviderMetadata:      metadata,
		}); err != nil {
			return fmt.Errorf("failed to settle transaction: %w", err)
		}

		s.metrics.ObserveTransaction(txn.Type, status)
		return r.UpdateWebhookEventStatus(ctx, event.ID, domain.WebhookEventStatusProcessed, nil, &txn.ID)
	})
	if err != nil {
		return err
	}
	if semanticFailure != "" {
		return s.failWebhookEvent(ctx, event, semanticFailure, settledID)
	}
	s.metrics.ObserveWebhookEvent(event.Provider, "processed")
	return nil
}

func (s *Service) applyVirtualAccountDeposit(ctx context.Context, event *domain.WebhookEvent, result *providers.WebhookResult) error {
	if result.ProviderTransactionID == "" {
		return s.failWebhookEvent(ctx, event, "virtual account deposit without provider transaction id", nil)
	}
	if result.Amount <= 0 {
		return s.failWebhookEvent(ctx, event, "virtual account deposit with non-positive amount", nil)
	}

	var semanticFailure string

	err := s.repo.WithinTx(ctx, func(r store.Repository) error {
		account, err := r.FindVirtualAccountByNumber(ctx, event.Provider, result.AccountNumber)
		if err != nil {
			if errors.Is(err, store.ErrVirtualAccountNotFound) {
				semanticFailure = fmt.Sprintf("no active virtual account %q for provider %s", result.AccountNumber, event.Provider)
				return nil
			}
			return err
		}
		if account.TenantID != event.TenantID {
			semanticFailure = "virtual account belongs to a different tenant"
			return nil
		}

		// Providers redeliver webhooks; the provider transaction id is the
		// dedup handle for unsolicited credits.
		existing, err := r.FindTransactionByProviderRef(ctx, event.TenantID, event.Provider, result.ProviderTransactionID, domain.TransactionTypeDeposit)
		if err != nil && !errors.Is(err, store.ErrTransactionNotFound) {
			return err
		}
		if existing != nil {
			log.Printf("level=info component=reconcile msg=\"duplicate virtual account deposit\" provider_txn_id=%s transaction_id=%s", result.ProviderTransactionID, existing.ID)
			s.metrics.ObserveVirtualDeposit(event.Provider, "duplicate")
			return r.UpdateWebhookEventStatus(ctx, event.ID, domain.WebhookEventStatusProcessed, nil, &existing.ID)
		}

		if _, err := r.AdjustWalletBalance(ctx, account.WalletID, result.Amount); err != nil {
			return fmt.Errorf("failed to credit virtual account deposit: %w", err)
		}

		txn := &domain.Transaction{
			ID:                    uuid.New(),
			TenantID:              event.TenantID,
			WalletID:              account.WalletID,
			Type:                  domain.TransactionTypeDeposit,
			Status:                domain.TransactionStatusSuccess,
			Amount:                result.Amount,
			Currency:              result.Currency,
			Reference:             optionalString(account.AccountNumber),
			Provider:              optionalString(event.Provider),
			ProviderTransactionID: optionalString(result.ProviderTransactionID),
			Description:           "virtual account deposit",
		}
		if err := r.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to record virtual account deposit: %w", err)
		}

		s.metrics.ObserveVirtualDeposit(event.Provider, "credited")
		return r.UpdateWebhookEventStatus(ctx, event.ID, domain.WebhookEventStatusProcessed, nil, &txn.ID)
	})
	if err != nil {
		return err
	}
	if semanticFailure != "" {
		return s.failWebhookEvent(ctx, event, semanticFailure, nil)
	}
	s.metrics.ObserveWebhookEvent(event.Provider, "processed")
	return nil
}
