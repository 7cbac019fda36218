/**
 * @description
 * This file implements the `Repository` interface using a PostgreSQL database.
 * It contains all SQL queries for the service and the unit-of-work mechanics
 * that pin a sequence of mutations to a single database transaction.
 *
 * Key features:
 * - WithinTx binds a repository to one pgx transaction; nested calls join
 *   the open transaction instead of starting a second one.
 * - Wallet balances are mutated with a single atomic increment expression
 *   evaluated by the engine, so concurrent adjustments serialize on the row
 *   lock rather than racing in application code.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: Domain models.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vaultpay/wallet-service/internal/domain"
)

const pgUniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the same
// repository methods run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository is the concrete implementation of the Repository interface.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   querier
}

// NewPostgresRepository creates a new repository with a database connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: pool}
}

// WithinTx executes fn against a transaction-bound repository. If the
// receiver is already bound to a transaction the call joins it, so service
// methods can compose without nesting database transactions.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := r.db.(pgx.Tx); ok {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	bound := &PostgresRepository{pool: r.pool, db: tx}
	if err := fn(bound); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// --- Tenants ---

func (r *PostgresRepository) FindTenantByAPIKeyDigest(ctx context.Context, digest string) (*domain.Tenant, error) {
	query := `SELECT id, name, api_key_digest, created_at FROM tenants WHERE api_key_digest = $1`
	var t domain.Tenant
	err := r.db.QueryRow(ctx, query, digest).Scan(&t.ID, &t.Name, &t.APIKeyDigest, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return &t, nil
}

// --- Wallets ---

func (r *PostgresRepository) CreateWallet(ctx context.Context, wallet *domain.Wallet) error {
	query := `
		INSERT INTO wallets (id, tenant_id, user_id, currency, balance)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		wallet.ID, wallet.TenantID, wallet.UserID, wallet.Currency, wallet.Balance,
	).Scan(&wallet.CreatedAt, &wallet.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrWalletExists
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindWalletByID(ctx context.Context, tenantID, walletID uuid.UUID) (*domain.Wallet, error) {
	query := `
		SELECT id, tenant_id, user_id, currency, balance, created_at, updated_at
		FROM wallets
		WHERE id = $1 AND tenant_id = $2
	`
	var w domain.Wallet
	err := r.db.QueryRow(ctx, query, walletID, tenantID).Scan(
		&w.ID, &w.TenantID, &w.UserID, &w.Currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *PostgresRepository) FindWalletsByUserID(ctx context.Context, tenantID, userID uuid.UUID) ([]domain.Wallet, error) {
	query := `
		SELECT id, tenant_id, user_id, currency, balance, created_at, updated_at
		FROM wallets
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.ID, &w.TenantID, &w.UserID, &w.Currency, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// AdjustWalletBalance performs the ledger's single balance mutation. The
// increment and the row lock happen in one statement; the negative-balance
// check runs against the value the engine returns, not a prior read, which
// is the only place the authoritative post-increment value can be observed.
func (r *PostgresRepository) AdjustWalletBalance(ctx context.Context, walletID uuid.UUID, delta int64) (int64, error) {
	query := `
		UPDATE wallets
		SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance
	`
	var balance int64
	err := r.db.QueryRow(ctx, query, delta, walletID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	if delta < 0 && balance < 0 {
		return balance, ErrInsufficientFunds
	}
	return balance, nil
}

// --- Transactions ---

func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, tenant_id, wallet_id, type, status, amount, currency,
			reference, provider, provider_transaction_id, provider_metadata,
			idempotency_key_id, description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		tx.ID, tx.TenantID, tx.WalletID, tx.Type, tx.Status, tx.Amount, tx.Currency,
		tx.Reference, tx.Provider, tx.ProviderTransactionID, tx.ProviderMetadata,
		tx.IdempotencyKeyID, tx.Description,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.TenantID, &t.WalletID, &t.Type, &t.Status, &t.Amount, &t.Currency,
		&t.Reference, &t.Provider, &t.ProviderTransactionID, &t.ProviderMetadata,
		&t.IdempotencyKeyID, &t.Description, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const transactionColumns = `
	id, tenant_id, wallet_id, type, status, amount, currency,
	reference, provider, provider_transaction_id, provider_metadata,
	idempotency_key_id, description, created_at, updated_at`

func (r *PostgresRepository) FindTransactionByID(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND tenant_id = $2`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, transactionID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) FindTransactionByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tenant_id = $1 AND reference = $2`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, tenantID, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) FindTransactionByProviderRef(ctx context.Context, tenantID uuid.UUID, provider, providerTransactionID, txType string) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = $1 AND provider = $2 AND provider_transaction_id = $3 AND type = $4
	`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, tenantID, provider, providerTransactionID, txType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

func (r *PostgresRepository) listTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func (r *PostgresRepository) ListTransactionsByWallet(ctx context.Context, tenantID, walletID uuid.UUID, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = $1 AND wallet_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	return r.listTransactions(ctx, query, tenantID, walletID, limit)
}

func (r *PostgresRepository) ListTransactionsByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.listTransactions(ctx, query, tenantID, limit)
}

func (r *PostgresRepository) UpdateTransaction(ctx context.Context, transactionID uuid.UUID, params UpdateTransactionParams) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET status = $1,
		    provider_transaction_id = COALESCE($2, provider_transaction_id),
		    provider_metadata = COALESCE($3, provider_metadata),
		    updated_at = now()
		WHERE id = $4
		RETURNING ` + transactionColumns + `
	`
	var metadata any
	if params.ProviderMetadata != nil {
		metadata = params.ProviderMetadata
	}
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, params.Status, params.ProviderTransactionID, metadata, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// --- Idempotency keys ---

func (r *PostgresRepository) CreateIdempotencyKey(ctx context.Context, key *domain.IdempotencyKey) error {
	query := `
		INSERT INTO idempotency_keys (id, tenant_id, key, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, key.ID, key.TenantID, key.Key, key.Status).
		Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrIdempotencyKeyExists
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) FindIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.IdempotencyKey, error) {
	query := `
		SELECT id, tenant_id, key, status, resource_id, response_payload, created_at, updated_at
		FROM idempotency_keys
		WHERE tenant_id = $1 AND key = $2
	`
	var k domain.IdempotencyKey
	err := r.db.QueryRow(ctx, query, tenantID, key).Scan(
		&k.ID, &k.TenantID, &k.Key, &k.Status, &k.ResourceID, &k.ResponsePayload, &k.CreatedAt, &k.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdempotencyKeyNotFound
		}
		return nil, err
	}
	return &k, nil
}

func (r *PostgresRepository) UpdateIdempotencyKey(ctx context.Context, keyID uuid.UUID, status string, resourceID *uuid.UUID, responsePayload map[string]interface{}) error {
	query := `
		UPDATE idempotency_keys
		SET status = $1,
		    resource_id = COALESCE($2, resource_id),
		    response_payload = COALESCE($3, response_payload),
		    updated_at = now()
		WHERE id = $4
	`
	var payload any
	if responsePayload != nil {
		payload = responsePayload
	}
	tag, err := r.db.Exec(ctx, query, status, resourceID, payload, keyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *PostgresRepository) ReapStaleIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE idempotency_keys
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < $3
	`
	tag, err := r.db.Exec(ctx, query, domain.IdempotencyStatusFailed, domain.IdempotencyStatusPending, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Webhook events ---

func (r *PostgresRepository) CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (id, tenant_id, provider, event_type, payload, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		event.ID, event.TenantID, event.Provider, event.EventType, event.Payload, event.Status,
	).Scan(&event.CreatedAt, &event.UpdatedAt)
}

const webhookEventColumns = `
	id, tenant_id, provider, event_type, payload, status,
	error_message, related_transaction_id, created_at, updated_at`

func scanWebhookEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Provider, &e.EventType, &e.Payload, &e.Status,
		&e.ErrorMessage, &e.RelatedTransactionID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRepository) FindWebhookEventByID(ctx context.Context, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1`
	event, err := scanWebhookEvent(r.db.QueryRow(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	return event, nil
}

func (r *PostgresRepository) FindWebhookEventByIDForTenant(ctx context.Context, tenantID, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	query := `SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE id = $1 AND tenant_id = $2`
	event, err := scanWebhookEvent(r.db.QueryRow(ctx, query, eventID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWebhookEventNotFound
		}
		return nil, err
	}
	return event, nil
}

func (r *PostgresRepository) UpdateWebhookEventStatus(ctx context.Context, eventID uuid.UUID, status string, errorMessage *string, relatedTransactionID *uuid.UUID) error {
	query := `
		UPDATE webhook_events
		SET status = $1, error_message = $2, related_transaction_id = COALESCE($3, related_transaction_id), updated_at = now()
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, status, errorMessage, relatedTransactionID, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWebhookEventNotFound
	}
	return nil
}

// --- Virtual accounts ---

func (r *PostgresRepository) CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error {
	query := `
		INSERT INTO virtual_accounts (
			id, tenant_id, wallet_id, account_number, bank_name, account_name,
			currency, provider, provider_reference, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID, account.TenantID, account.WalletID, account.AccountNumber,
		account.BankName, account.AccountName, account.Currency, account.Provider,
		account.ProviderReference, account.Status,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVirtualAccountExists
		}
		return err
	}
	return nil
}

const virtualAccountColumns = `
	id, tenant_id, wallet_id, account_number, bank_name, account_name,
	currency, provider, provider_reference, status, created_at, updated_at`

func scanVirtualAccount(row pgx.Row) (*domain.VirtualAccount, error) {
	var a domain.VirtualAccount
	err := row.Scan(
		&a.ID, &a.TenantID, &a.WalletID, &a.AccountNumber, &a.BankName, &a.AccountName,
		&a.Currency, &a.Provider, &a.ProviderReference, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) FindVirtualAccountByNumber(ctx context.Context, provider, accountNumber string) (*domain.VirtualAccount, error) {
	query := `
		SELECT ` + virtualAccountColumns + `
		FROM virtual_accounts
		WHERE provider = $1 AND account_number = $2 AND status = $3
	`
	account, err := scanVirtualAccount(r.db.QueryRow(ctx, query, provider, accountNumber, domain.VirtualAccountStatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVirtualAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (r *PostgresRepository) FindActiveVirtualAccount(ctx context.Context, tenantID, walletID uuid.UUID, provider, currency string) (*domain.VirtualAccount, error) {
	query := `
		SELECT ` + virtualAccountColumns + `
		FROM virtual_accounts
		WHERE tenant_id = $1 AND wallet_id = $2 AND provider = $3 AND currency = $4 AND status = $5
	`
	account, err := scanVirtualAccount(r.db.QueryRow(ctx, query, tenantID, walletID, provider, currency, domain.VirtualAccountStatusActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVirtualAccountNotFound
		}
		return nil, err
	}
	return account, nil
}
