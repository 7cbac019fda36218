/**
 * @description
 * This file contains the core business logic for the wallet-service. The
 * `Service` struct orchestrates all money movement operations, coordinating
 * between the database repository, the payment provider gateways, and the
 * message broker.
 *
 * Key features:
 * - Implements the main use cases: deposits, withdrawals and internal
 *   transfers, each guarded by a tenant-scoped idempotency key.
 * - Every mutation of balances, transactions and idempotency keys for one
 *   operation happens inside a single database transaction. A provider
 *   rejection is recorded, not erased: the transaction commits as FAILED
 *   (with any optimistic debit compensated) and the idempotency key is
 *   marked FAILED so the client can retry with the same key.
 * - Wallet and virtual account provisioning for tenant users.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/providers, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
	"github.com/vaultpay/wallet-service/pkg/providers"
	"github.com/vaultpay/wallet-service/pkg/rabbitmq"
)

var (
	// ErrIdempotencyKeyRequired is returned when a mutating request omits
	// the Idempotency-Key header.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")

	// ErrIdempotencyInProgress is returned when a request reuses a key
	// whose original operation has not reached a terminal state yet.
	ErrIdempotencyInProgress = errors.New("a request with this idempotency key is already in progress")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be a positive number of minor units")

	// ErrCurrencyMismatch is returned when a request currency does not
	// match the wallet currency.
	ErrCurrencyMismatch = errors.New("request currency does not match wallet currency")

	// ErrSameWallet is returned when a transfer names the same wallet on
	// both sides.
	ErrSameWallet = errors.New("source and destination wallets must differ")

	// ErrWalletOwnership is returned when the wallet being debited or
	// credited belongs to a different user of the same tenant.
	ErrWalletOwnership = errors.New("wallet does not belong to the authenticated user")
)

// Service provides the core business logic for the wallet platform.
type Service struct {
	repo            store.Repository
	gateways        *providers.Registry
	eventProducer   rabbitmq.Publisher
	metrics         *Metrics
	webhookExchange string
	listLimit       int
}

// NewService creates a new wallet service instance.
func NewService(repo store.Repository, gateways *providers.Registry, producer rabbitmq.Publisher, metrics *Metrics, webhookExchange string, listLimit int) *Service {
	if listLimit <= 0 {
		listLimit = 50
	}
	return &Service{
		repo:            repo,
		gateways:        gateways,
		eventProducer:   producer,
		metrics:         metrics,
		webhookExchange: webhookExchange,
		listLimit:       listLimit,
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func newReference(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

// beginIdempotent claims the (tenant, key) pair inside the caller's
// transaction. It returns the claimed key and whether this request is a
// replay of an already processed operation.
//
// A PROCESSED key short-circuits to the stored result, a PENDING key is
// rejected, and a FAILED key is reset so the operation can be retried.
func (s *Service) beginIdempotent(ctx context.Context, r store.Repository, tenantID uuid.UUID, key string) (*domain.IdempotencyKey, bool, error) {
	if key == "" {
		return nil, false, ErrIdempotencyKeyRequired
	}

	existing, err := r.FindIdempotencyKey(ctx, tenantID, key)
	if err != nil && !errors.Is(err, store.ErrIdempotencyKeyNotFound) {
		return nil, false, fmt.Errorf("failed to look up idempotency key: %w", err)
	}

	if existing != nil {
		switch existing.Status {
		case domain.IdempotencyStatusProcessed:
			s.metrics.ObserveIdempotencyHit("replay")
			return existing, true, nil
		case domain.IdempotencyStatusPending:
			s.metrics.ObserveIdempotencyHit("conflict")
			return nil, false, ErrIdempotencyInProgress
		case domain.IdempotencyStatusFailed:
			s.metrics.ObserveIdempotencyHit("retry")
			if err := r.UpdateIdempotencyKey(ctx, existing.ID, domain.IdempotencyStatusPending, nil, nil); err != nil {
				return nil, false, fmt.Errorf("failed to reset failed idempotency key: %w", err)
			}
			existing.Status = domain.IdempotencyStatusPending
			return existing, false, nil
		default:
			return nil, false, fmt.Errorf("idempotency key %s has unknown status %q", existing.ID, existing.Status)
		}
	}

	created := &domain.IdempotencyKey{
		ID:       uuid.New(),
		TenantID: tenantID,
		Key:      key,
		Status:   domain.IdempotencyStatusPending,
	}
	if err := r.CreateIdempotencyKey(ctx, created); err != nil {
		if errors.Is(err, store.ErrIdempotencyKeyExists) {
			// Lost the race to a concurrent request holding the same key.
			s.metrics.ObserveIdempotencyHit("conflict")
			return nil, false, ErrIdempotencyInProgress
		}
		return nil, false, fmt.Errorf("failed to create idempotency key: %w", err)
	}
	s.metrics.ObserveIdempotencyHit("new")
	return created, false, nil
}

// --- Wallets ---

// CreateWallet provisions a wallet for the given user. One wallet per
// (tenant, user, currency) is enforced by the database.
func (s *Service) CreateWallet(ctx context.Context, tenantID, userID uuid.UUID, req domain.CreateWalletRequest) (*domain.Wallet, error) {
	if req.Currency == "" {
		return nil, ErrCurrencyMismatch
	}
	wallet := &domain.Wallet{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   userID,
		Currency: req.Currency,
		Balance:  0,
	}
	if err := s.repo.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	log.Printf("level=info component=service msg=\"wallet created\" wallet_id=%s tenant_id=%s currency=%s", wallet.ID, tenantID, wallet.Currency)
	return wallet, nil
}

// GetWallet fetches a single wallet scoped to the tenant.
func (s *Service) GetWallet(ctx context.Context, tenantID, walletID uuid.UUID) (*domain.Wallet, error) {
	return s.repo.FindWalletByID(ctx, tenantID, walletID)
}

// ListWallets returns all wallets owned by a user within the tenant.
func (s *Service) ListWallets(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Wallet, error) {
	return s.repo.FindWalletsByUserID(ctx, tenantID, userID)
}

// --- Transactions ---

// GetTransaction fetches a single transaction scoped to the tenant.
func (s *Service) GetTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByID(ctx, tenantID, transactionID)
}

// ListTransactions returns recent transactions for a wallet, or for the whole
// tenant when walletID is nil.
func (s *Service) ListTransactions(ctx context.Context, tenantID uuid.UUID, walletID *uuid.UUID) ([]domain.Transaction, error) {
	if walletID != nil {
		return s.repo.ListTransactionsByWallet(ctx, tenantID, *walletID, s.listLimit)
	}
	return s.repo.ListTransactionsByTenant(ctx, tenantID, s.listLimit)
}

// storedResponse freezes the transaction as the key's response payload so a
// replay serves the original response even after the live row has moved on.
func storedResponse(txn *domain.Transaction) map[string]interface{} {
	raw, err := json.Marshal(txn)
	if err != nil {
		return map[string]interface{}{"transaction_id": txn.ID.String(), "status": txn.Status}
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]interface{}{"transaction_id": txn.ID.String(), "status": txn.Status}
	}
	return payload
}

// replayedTransaction serves the frozen response a PROCESSED idempotency key
// stored, falling back to the live row for keys persisted without one.
func replayedTransaction(ctx context.Context, r store.Repository, tenantID uuid.UUID, key *domain.IdempotencyKey) (*domain.Transaction, error) {
	if len(key.ResponsePayload) > 0 {
		if raw, err := json.Marshal(key.ResponsePayload); err == nil {
			var txn domain.Transaction
			if err := json.Unmarshal(raw, &txn); err == nil && txn.ID != uuid.Nil {
				return &txn, nil
			}
		}
	}
	if key.ResourceID == nil {
		return nil, fmt.Errorf("processed idempotency key %s has no resource", key.ID)
	}
	return r.FindTransactionByID(ctx, tenantID, *key.ResourceID)
}

// failInitiation records a provider rejection on the transaction and its
// idempotency key inside the caller's unit of work. The FAILED key lets the
// client retry with the same key.
func failInitiation(ctx context.Context, r store.Repository, txn *domain.Transaction, key *domain.IdempotencyKey, cause error) error {
	if _, err := r.UpdateTransaction(ctx, txn.ID, store.UpdateTransactionParams{
		Status:           domain.TransactionStatusFailed,
		ProviderMetadata: map[string]interface{}{"failure_reason": cause.Error()},
	}); err != nil {
		return fmt.Errorf("failed to record provider rejection: %w", err)
	}
	if err := r.UpdateIdempotencyKey(ctx, key.ID, domain.IdempotencyStatusFailed, &txn.ID, nil); err != nil {
		return fmt.Errorf("failed to fail idempotency key: %w", err)
	}
	return nil
}

// Deposit initiates a provider-backed deposit. No balance is credited here;
// the wallet is only credited when the provider's webhook confirms the
// charge.
func (s *Service) Deposit(ctx context.Context, tenantID, userID uuid.UUID, idempotencyKey string, req domain.DepositRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	gateway, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	var result *domain.Transaction
	var initiationErr error
	err = s.repo.WithinTx(ctx, func(r store.Repository) error {
		key, replay, err := s.beginIdempotent(ctx, r, tenantID, idempotencyKey)
		if err != nil {
			return err
		}
		if replay {
			result, err = replayedTransaction(ctx, r, tenantID, key)
			return err
		}

		wallet, err := r.FindWalletByID(ctx, tenantID, req.WalletID)
		if err != nil {
			return err
		}
		if wallet.UserID != userID {
			return ErrWalletOwnership
		}
		if wallet.Currency != req.Currency {
			return ErrCurrencyMismatch
		}

		txn := &domain.Transaction{
			ID:               uuid.New(),
			TenantID:         tenantID,
			WalletID:         wallet.ID,
			Type:             domain.TransactionTypeDeposit,
			Status:           domain.TransactionStatusPending,
			Amount:           req.Amount,
			Currency:         req.Currency,
			Reference:        optionalString(newReference("dep")),
			Provider:         optionalString(req.Provider),
			IdempotencyKeyID: &key.ID,
			Description:      req.Description,
		}
		if err := r.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to create deposit transaction: %w", err)
		}

		started := time.Now()
		intent, err := gateway.InitiateDeposit(ctx, providers.DepositRequest{
			Reference: *txn.Reference,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Email:     req.CustomerEmail,
			Narration: req.Description,
		})
		s.metrics.ObserveProviderCall(req.Provider, "deposit", started, err)
		if err != nil {
			initiationErr = fmt.Errorf("provider deposit initiation failed: %w", err)
			return failInitiation(ctx, r, txn, key, err)
		}

		txn, err = r.UpdateTransaction(ctx, txn.ID, store.UpdateTransactionParams{
			Status:                domain.TransactionStatusPending,
			ProviderTransactionID: optionalString(intent.ProviderTransactionID),
			ProviderMetadata:      intent.Raw,
		})
		if err != nil {
			return fmt.Errorf("failed to attach provider intent: %w", err)
		}

		if err := r.UpdateIdempotencyKey(ctx, key.ID, domain.IdempotencyStatusProcessed, &txn.ID, storedResponse(txn)); err != nil {
			return fmt.Errorf("failed to finalize idempotency key: %w", err)
		}

		result = txn
		return nil
	})

	if err != nil {
		s.metrics.ObserveTransaction(domain.TransactionTypeDeposit, "rejected")
		return nil, err
	}
	if initiationErr != nil {
		s.metrics.ObserveTransaction(domain.TransactionTypeDeposit, "failed")
		return nil, initiationErr
	}
	s.metrics.ObserveTransaction(domain.TransactionTypeDeposit, "initiated")
	log.Printf("level=info component=service msg=\"deposit initiated\" transaction_id=%s tenant_id=%s amount=%d provider=%s", result.ID, tenantID, req.Amount, req.Provider)
	return result, nil
}

// Withdraw debits the wallet and initiates a provider payout within one
// atomic unit. A provider rejection is compensated in place: the held debit
// is credited back and the transaction commits as FAILED. A later
// webhook-reported failure is compensated by the reconciliation pipeline.
func (s *Service) Withdraw(ctx context.Context, tenantID, userID uuid.UUID, idempotencyKey string, req domain.WithdrawalRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	gateway, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	var result *domain.Transaction
	var initiationErr error
	err = s.repo.WithinTx(ctx, func(r store.Repository) error {
		key, replay, err := s.beginIdempotent(ctx, r, tenantID, idempotencyKey)
		if err != nil {
			return err
		}
		if replay {
			result, err = replayedTransaction(ctx, r, tenantID, key)
			return err
		}

		wallet, err := r.FindWalletByID(ctx, tenantID, req.WalletID)
		if err != nil {
			return err
		}
		if wallet.UserID != userID {
			return ErrWalletOwnership
		}
		if wallet.Currency != req.Currency {
			return ErrCurrencyMismatch
		}

		if _, err := r.AdjustWalletBalance(ctx, wallet.ID, -req.Amount); err != nil {
			return err
		}

		txn := &domain.Transaction{
			ID:               uuid.New(),
			TenantID:         tenantID,
			WalletID:         wallet.ID,
			Type:             domain.TransactionTypeWithdrawal,
			Status:           domain.TransactionStatusPending,
			Amount:           req.Amount,
			Currency:         req.Currency,
			Reference:        optionalString(newReference("wd")),
			Provider:         optionalString(req.Provider),
			IdempotencyKeyID: &key.ID,
			Description:      req.Description,
		}
		if err := r.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to create withdrawal transaction: %w", err)
		}

		started := time.Now()
		receipt, err := gateway.InitiateWithdrawal(ctx, providers.WithdrawalRequest{
			Reference: *txn.Reference,
			Amount:    req.Amount,
			Currency:  req.Currency,
			Narration: req.Description,
		})
		s.metrics.ObserveProviderCall(req.Provider, "withdrawal", started, err)
		if err != nil {
			// The payout never left, so the held debit goes back to the
			// wallet inside the same commit.
			if _, cerr := r.AdjustWalletBalance(ctx, wallet.ID, req.Amount); cerr != nil {
				return fmt.Errorf("failed to compensate rejected withdrawal: %w", cerr)
			}
			s.metrics.ObserveCompensation()
			initiationErr = fmt.Errorf("provider withdrawal initiation failed: %w", err)
			return failInitiation(ctx, r, txn, key, err)
		}

		txn, err = r.UpdateTransaction(ctx, txn.ID, store.UpdateTransactionParams{
			Status:                domain.TransactionStatusPending,
			ProviderTransactionID: optionalString(receipt.ProviderTransactionID),
			ProviderMetadata:      receipt.Raw,
		})
		if err != nil {
			return fmt.Errorf("failed to attach provider receipt: %w", err)
		}

		if err := r.UpdateIdempotencyKey(ctx, key.ID, domain.IdempotencyStatusProcessed, &txn.ID, storedResponse(txn)); err != nil {
			return fmt.Errorf("failed to finalize idempotency key: %w", err)
		}

		result = txn
		return nil
	})

	if err != nil {
		s.metrics.ObserveTransaction(domain.TransactionTypeWithdrawal, "rejected")
		return nil, err
	}
	if initiationErr != nil {
		s.metrics.ObserveTransaction(domain.TransactionTypeWithdrawal, "failed")
		return nil, initiationErr
	}
	s.metrics.ObserveTransaction(domain.TransactionTypeWithdrawal, "initiated")
	log.Printf("level=info component=service msg=\"withdrawal initiated\" transaction_id=%s tenant_id=%s amount=%d provider=%s", result.ID, tenantID, req.Amount, req.Provider)
	return result, nil
}

// Transfer moves funds between two wallets of the same tenant. No provider
// is involved, so the transfer settles immediately: both balance adjustments
// and the two transaction records (one per wallet, each referencing the
// other's wallet id) commit or roll back together.
func (s *Service) Transfer(ctx context.Context, tenantID, userID uuid.UUID, idempotencyKey string, req domain.TransferRequest) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.SourceWalletID == req.DestinationWalletID {
		return nil, ErrSameWallet
	}

	var result *domain.Transaction
	err := s.repo.WithinTx(ctx, func(r store.Repository) error {
		key, replay, err := s.beginIdempotent(ctx, r, tenantID, idempotencyKey)
		if err != nil {
			return err
		}
		if replay {
			result, err = replayedTransaction(ctx, r, tenantID, key)
			return err
		}

		source, err := r.FindWalletByID(ctx, tenantID, req.SourceWalletID)
		if err != nil {
			return err
		}
		// Only the source side is debited, so only it must belong to the
		// caller; any wallet of the tenant may receive.
		if source.UserID != userID {
			return ErrWalletOwnership
		}
		destination, err := r.FindWalletByID(ctx, tenantID, req.DestinationWalletID)
		if err != nil {
			return err
		}
		if source.Currency != req.Currency || destination.Currency != req.Currency {
			return ErrCurrencyMismatch
		}

		if _, err := r.AdjustWalletBalance(ctx, source.ID, -req.Amount); err != nil {
			return err
		}
		if _, err := r.AdjustWalletBalance(ctx, destination.ID, req.Amount); err != nil {
			return err
		}

		debit := &domain.Transaction{
			ID:               uuid.New(),
			TenantID:         tenantID,
			WalletID:         source.ID,
			Type:             domain.TransactionTypeTransfer,
			Status:           domain.TransactionStatusSuccess,
			Amount:           req.Amount,
			Currency:         req.Currency,
			Reference:        optionalString(destination.ID.String()),
			IdempotencyKeyID: &key.ID,
			Description:      req.Description,
		}
		if err := r.CreateTransaction(ctx, debit); err != nil {
			return fmt.Errorf("failed to create transfer debit record: %w", err)
		}

		credit := &domain.Transaction{
			ID:          uuid.New(),
			TenantID:    tenantID,
			WalletID:    destination.ID,
			Type:        domain.TransactionTypeTransfer,
			Status:      domain.TransactionStatusSuccess,
			Amount:      req.Amount,
			Currency:    req.Currency,
			Reference:   optionalString(source.ID.String()),
			Description: req.Description,
		}
		if err := r.CreateTransaction(ctx, credit); err != nil {
			return fmt.Errorf("failed to create transfer credit record: %w", err)
		}

		if err := r.UpdateIdempotencyKey(ctx, key.ID, domain.IdempotencyStatusProcessed, &debit.ID, storedResponse(debit)); err != nil {
			return fmt.Errorf("failed to finalize idempotency key: %w", err)
		}

		result = debit
		return nil
	})

	if err != nil {
		s.metrics.ObserveTransaction(domain.TransactionTypeTransfer, "rejected")
		return nil, err
	}
	s.metrics.ObserveTransaction(domain.TransactionTypeTransfer, "success")
	log.Printf("level=info component=service msg=\"transfer settled\" transaction_id=%s tenant_id=%s amount=%d", result.ID, tenantID, req.Amount)
	return result, nil
}

// --- Virtual accounts ---

// CreateVirtualAccount provisions a dedicated collection account for a
// wallet. Provisioning is idempotent per (wallet, provider, currency): if an
// active account already exists it is returned as-is.
func (s *Service) CreateVirtualAccount(ctx context.Context, tenantID uuid.UUID, req domain.CreateVirtualAccountRequest) (*domain.VirtualAccount, error) {
	gateway, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	creator, ok := gateway.(providers.VirtualAccountCreator)
	if !ok {
		return nil, providers.ErrVirtualAccountsUnsupported
	}

	wallet, err := s.repo.FindWalletByID(ctx, tenantID, req.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet.Currency != req.Currency {
		return nil, ErrCurrencyMismatch
	}

	existing, err := s.repo.FindActiveVirtualAccount(ctx, tenantID, wallet.ID, req.Provider, req.Currency)
	if err != nil && !errors.Is(err, store.ErrVirtualAccountNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	started := time.Now()
	details, err := creator.CreateVirtualAccount(ctx, providers.VirtualAccountRequest{
		Reference:   newReference("va"),
		Currency:    req.Currency,
		AccountName: req.AccountName,
		Email:       req.CustomerEmail,
	})
	s.metrics.ObserveProviderCall(req.Provider, "virtual_account", started, err)
	if err != nil {
		return nil, fmt.Errorf("provider virtual account provisioning failed: %w", err)
	}

	account := &domain.VirtualAccount{
		ID:                uuid.New(),
		TenantID:          tenantID,
		WalletID:          wallet.ID,
		AccountNumber:     details.AccountNumber,
		BankName:          details.BankName,
		AccountName:       details.AccountName,
		Currency:          req.Currency,
		Provider:          req.Provider,
		ProviderReference: optionalString(details.ProviderReference),
		Status:            domain.VirtualAccountStatusActive,
	}
	if err := s.repo.CreateVirtualAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrVirtualAccountExists) {
			// Concurrent provisioning won; hand back the surviving row.
			return s.repo.FindActiveVirtualAccount(ctx, tenantID, wallet.ID, req.Provider, req.Currency)
		}
		return nil, err
	}
	log.Printf("level=info component=service msg=\"virtual account provisioned\" account_id=%s wallet_id=%s provider=%s", account.ID, wallet.ID, req.Provider)
	return account, nil
}
