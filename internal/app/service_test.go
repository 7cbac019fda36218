package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/vaultpay/wallet-service/internal/domain"
	"github.com/vaultpay/wallet-service/internal/store"
	"github.com/vaultpay/wallet-service/pkg/providers"
)

// memRepo is an in-memory Repository used across the service tests. WithinTx
// snapshots the maps and restores them when fn fails, mirroring a database
// rollback.
type memRepo struct {
	store.Repository

	wallets  map[uuid.UUID]*domain.Wallet
	keys     map[string]*domain.IdempotencyKey
	txns     map[uuid.UUID]*domain.Transaction
	events   map[uuid.UUID]*domain.WebhookEvent
	accounts map[string]*domain.VirtualAccount

	createKeyErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		wallets:  make(map[uuid.UUID]*domain.Wallet),
		keys:     make(map[string]*domain.IdempotencyKey),
		txns:     make(map[uuid.UUID]*domain.Transaction),
		events:   make(map[uuid.UUID]*domain.WebhookEvent),
		accounts: make(map[string]*domain.VirtualAccount),
	}
}

func cloneMap[K comparable, V any](src map[K]*V) map[K]*V {
	dst := make(map[K]*V, len(src))
	for k, v := range src {
		c := *v
		dst[k] = &c
	}
	return dst
}

func (m *memRepo) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	wallets := cloneMap(m.wallets)
	keys := cloneMap(m.keys)
	txns := cloneMap(m.txns)
	events := cloneMap(m.events)
	accounts := cloneMap(m.accounts)

	if err := fn(m); err != nil {
		m.wallets = wallets
		m.keys = keys
		m.txns = txns
		m.events = events
		m.accounts = accounts
		return err
	}
	return nil
}

func (m *memRepo) FindWalletByID(ctx context.Context, tenantID, walletID uuid.UUID) (*domain.Wallet, error) {
	w, ok := m.wallets[walletID]
	if !ok || w.TenantID != tenantID {
		return nil, store.ErrWalletNotFound
	}
	return w, nil
}

func (m *memRepo) AdjustWalletBalance(ctx context.Context, walletID uuid.UUID, delta int64) (int64, error) {
	w, ok := m.wallets[walletID]
	if !ok {
		return 0, store.ErrWalletNotFound
	}
	w.Balance += delta
	if delta < 0 && w.Balance < 0 {
		return w.Balance, store.ErrInsufficientFunds
	}
	return w.Balance, nil
}

func (m *memRepo) CreateWallet(ctx context.Context, wallet *domain.Wallet) error {
	m.wallets[wallet.ID] = wallet
	return nil
}

func (m *memRepo) idemKey(tenantID uuid.UUID, key string) string {
	return tenantID.String() + "/" + key
}

func (m *memRepo) FindIdempotencyKey(ctx context.Context, tenantID uuid.UUID, key string) (*domain.IdempotencyKey, error) {
	k, ok := m.keys[m.idemKey(tenantID, key)]
	if !ok {
		return nil, store.ErrIdempotencyKeyNotFound
	}
	return k, nil
}

func (m *memRepo) CreateIdempotencyKey(ctx context.Context, key *domain.IdempotencyKey) error {
	if m.createKeyErr != nil {
		return m.createKeyErr
	}
	mapKey := m.idemKey(key.TenantID, key.Key)
	if _, ok := m.keys[mapKey]; ok {
		return store.ErrIdempotencyKeyExists
	}
	m.keys[mapKey] = key
	return nil
}

func (m *memRepo) UpdateIdempotencyKey(ctx context.Context, keyID uuid.UUID, status string, resourceID *uuid.UUID, responsePayload map[string]interface{}) error {
	for _, k := range m.keys {
		if k.ID == keyID {
			k.Status = status
			if resourceID != nil {
				k.ResourceID = resourceID
			}
			if responsePayload != nil {
				k.ResponsePayload = responsePayload
			}
			return nil
		}
	}
	return store.ErrIdempotencyKeyNotFound
}

func (m *memRepo) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	m.txns[tx.ID] = tx
	return nil
}

func (m *memRepo) FindTransactionByID(ctx context.Context, tenantID, transactionID uuid.UUID) (*domain.Transaction, error) {
	tx, ok := m.txns[transactionID]
	if !ok || tx.TenantID != tenantID {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

func (m *memRepo) FindTransactionByReference(ctx context.Context, tenantID uuid.UUID, reference string) (*domain.Transaction, error) {
	for _, tx := range m.txns {
		if tx.TenantID == tenantID && tx.Reference != nil && *tx.Reference == reference {
			return tx, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (m *memRepo) FindTransactionByProviderRef(ctx context.Context, tenantID uuid.UUID, provider, providerTransactionID, txType string) (*domain.Transaction, error) {
	for _, tx := range m.txns {
		if tx.TenantID == tenantID && tx.Type == txType &&
			tx.Provider != nil && *tx.Provider == provider &&
			tx.ProviderTransactionID != nil && *tx.ProviderTransactionID == providerTransactionID {
			return tx, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (m *memRepo) UpdateTransaction(ctx context.Context, transactionID uuid.UUID, params store.UpdateTransactionParams) (*domain.Transaction, error) {
	tx, ok := m.txns[transactionID]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	tx.Status = params.Status
	if params.ProviderTransactionID != nil {
		tx.ProviderTransactionID = params.ProviderTransactionID
	}
	if params.ProviderMetadata != nil {
		tx.ProviderMetadata = params.ProviderMetadata
	}
	return tx, nil
}

func (m *memRepo) CreateWebhookEvent(ctx context.Context, event *domain.WebhookEvent) error {
	m.events[event.ID] = event
	return nil
}

func (m *memRepo) FindWebhookEventByID(ctx context.Context, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	e, ok := m.events[eventID]
	if !ok {
		return nil, store.ErrWebhookEventNotFound
	}
	return e, nil
}

func (m *memRepo) FindWebhookEventByIDForTenant(ctx context.Context, tenantID, eventID uuid.UUID) (*domain.WebhookEvent, error) {
	e, ok := m.events[eventID]
	if !ok || e.TenantID != tenantID {
		return nil, store.ErrWebhookEventNotFound
	}
	return e, nil
}

func (m *memRepo) UpdateWebhookEventStatus(ctx context.Context, eventID uuid.UUID, status string, errorMessage *string, relatedTransactionID *uuid.UUID) error {
	e, ok := m.events[eventID]
	if !ok {
		return store.ErrWebhookEventNotFound
	}
	e.Status = status
	e.ErrorMessage = errorMessage
	if relatedTransactionID != nil {
		e.RelatedTransactionID = relatedTransactionID
	}
	return nil
}

func (m *memRepo) CreateVirtualAccount(ctx context.Context, account *domain.VirtualAccount) error {
	if _, ok := m.accounts[account.AccountNumber]; ok {
		return store.ErrVirtualAccountExists
	}
	m.accounts[account.AccountNumber] = account
	return nil
}

func (m *memRepo) FindVirtualAccountByNumber(ctx context.Context, provider, accountNumber string) (*domain.VirtualAccount, error) {
	a, ok := m.accounts[accountNumber]
	if !ok || a.Provider != provider || a.Status != domain.VirtualAccountStatusActive {
		return nil, store.ErrVirtualAccountNotFound
	}
	return a, nil
}

func (m *memRepo) FindActiveVirtualAccount(ctx context.Context, tenantID, walletID uuid.UUID, provider, currency string) (*domain.VirtualAccount, error) {
	for _, a := range m.accounts {
		if a.TenantID == tenantID && a.WalletID == walletID && a.Provider == provider &&
			a.Currency == currency && a.Status == domain.VirtualAccountStatusActive {
			return a, nil
		}
	}
	return nil, store.ErrVirtualAccountNotFound
}

// gatewayStub implements providers.Gateway and VirtualAccountCreator with
// scripted responses.
type gatewayStub struct {
	name          string
	depositErr    error
	withdrawErr   error
	depositCalls  int
	withdrawCalls int
	webhookResult *providers.WebhookResult
	webhookErr    error
	vaDetails     *providers.VirtualAccountDetails
	vaCalls       int
}

func (g *gatewayStub) Name() string { return g.name }

func (g *gatewayStub) InitiateDeposit(ctx context.Context, req providers.DepositRequest) (*providers.DepositIntent, error) {
	g.depositCalls++
	if g.depositErr != nil {
		return nil, g.depositErr
	}
	return &providers.DepositIntent{ProviderTransactionID: "prov_dep_1"}, nil
}

func (g *gatewayStub) InitiateWithdrawal(ctx context.Context, req providers.WithdrawalRequest) (*providers.WithdrawalReceipt, error) {
	g.withdrawCalls++
	if g.withdrawErr != nil {
		return nil, g.withdrawErr
	}
	return &providers.WithdrawalReceipt{ProviderTransactionID: "prov_wd_1"}, nil
}

func (g *gatewayStub) ProcessWebhook(payload map[string]interface{}) (*providers.WebhookResult, error) {
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	return g.webhookResult, nil
}

func (g *gatewayStub) CreateVirtualAccount(ctx context.Context, req providers.VirtualAccountRequest) (*providers.VirtualAccountDetails, error) {
	g.vaCalls++
	if g.vaDetails == nil {
		return nil, errors.New("no virtual account scripted")
	}
	return g.vaDetails, nil
}

// publisherStub captures published webhook jobs.
type publisherStub struct {
	jobs       []domain.WebhookJob
	publishErr error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return p.publishErr
}

func (p *publisherStub) PublishWebhookJob(ctx context.Context, exchange string, job domain.WebhookJob) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *publisherStub) Close() {}

const testProvider = "testpay"

func newTestService(repo store.Repository, gateway *gatewayStub) (*Service, *publisherStub) {
	pub := &publisherStub{}
	return NewService(repo, providers.NewRegistry(gateway), pub, nil, "webhook_events", 50), pub
}

func seedWallet(repo *memRepo, tenantID uuid.UUID, balance int64) *domain.Wallet {
	w := &domain.Wallet{
		ID:       uuid.New(),
		TenantID: tenantID,
		UserID:   uuid.New(),
		Currency: "NGN",
		Balance:  balance,
	}
	repo.wallets[w.ID] = w
	return w
}

func TestDeposit_CreatesPendingTransactionAndProcessesKey(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	gateway := &gatewayStub{name: testProvider}
	svc, _ := newTestService(repo, gateway)

	txn, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", domain.DepositRequest{
		WalletID: wallet.ID,
		Amount:   5000,
		Currency: "NGN",
		Provider: testProvider,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if txn.Status != domain.TransactionStatusPending {
		t.Fatalf("expected PENDING, got %s", txn.Status)
	}
	if txn.ProviderTransactionID == nil || *txn.ProviderTransactionID != "prov_dep_1" {
		t.Fatal("expected provider transaction id to be recorded")
	}
	if repo.wallets[wallet.ID].Balance != 0 {
		t.Fatalf("deposit must not credit before settlement, balance=%d", repo.wallets[wallet.ID].Balance)
	}
	key := repo.keys[repo.idemKey(tenantID, "key-1")]
	if key == nil || key.Status != domain.IdempotencyStatusProcessed {
		t.Fatal("expected idempotency key to be PROCESSED")
	}
	if key.ResourceID == nil || *key.ResourceID != txn.ID {
		t.Fatal("expected idempotency key to point at the transaction")
	}
}

func TestDeposit_ReplayReturnsOriginalWithoutProviderCall(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	gateway := &gatewayStub{name: testProvider}
	svc, _ := newTestService(repo, gateway)

	req := domain.DepositRequest{WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider}
	first, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", req)
	if err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}
	second, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different transaction: %s vs %s", second.ID, first.ID)
	}
	if gateway.depositCalls != 1 {
		t.Fatalf("expected exactly one provider call, got %d", gateway.depositCalls)
	}
}

func TestDeposit_ReplayServesStoredResponse(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	gateway := &gatewayStub{name: testProvider}
	svc, _ := newTestService(repo, gateway)

	req := domain.DepositRequest{WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider}
	first, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", req)
	if err != nil {
		t.Fatalf("first deposit failed: %v", err)
	}

	// The live row settles between the two requests; the replay must still
	// serve the response the first request saw.
	repo.txns[first.ID].Status = domain.TransactionStatusSuccess

	second, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", req)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different transaction: %s vs %s", second.ID, first.ID)
	}
	if second.Status != domain.TransactionStatusPending {
		t.Fatalf("expected the stored PENDING response, got %s", second.Status)
	}
}

func TestDeposit_PendingKeyConflicts(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	repo.keys[repo.idemKey(tenantID, "key-1")] = &domain.IdempotencyKey{
		ID:       uuid.New(),
		TenantID: tenantID,
		Key:      "key-1",
		Status:   domain.IdempotencyStatusPending,
	}
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", domain.DepositRequest{
		WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider,
	})
	if !errors.Is(err, ErrIdempotencyInProgress) {
		t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
	}
}

func TestDeposit_ConcurrentKeyInsertConflicts(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	// The lookup misses but the insert collides, as it does when two
	// requests race on the same fresh key.
	repo.createKeyErr = store.ErrIdempotencyKeyExists
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", domain.DepositRequest{
		WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider,
	})
	if !errors.Is(err, ErrIdempotencyInProgress) {
		t.Fatalf("expected ErrIdempotencyInProgress, got %v", err)
	}
	if len(repo.txns) != 0 {
		t.Fatal("losing the insert race must not create a transaction")
	}
}

func TestDeposit_FailedKeyIsRetried(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	repo.keys[repo.idemKey(tenantID, "key-1")] = &domain.IdempotencyKey{
		ID:       uuid.New(),
		TenantID: tenantID,
		Key:      "key-1",
		Status:   domain.IdempotencyStatusFailed,
	}
	gateway := &gatewayStub{name: testProvider}
	svc, _ := newTestService(repo, gateway)

	txn, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", domain.DepositRequest{
		WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider,
	})
	if err != nil {
		t.Fatalf("retry after FAILED should succeed, got %v", err)
	}
	key := repo.keys[repo.idemKey(tenantID, "key-1")]
	if key.Status != domain.IdempotencyStatusProcessed {
		t.Fatalf("expected key PROCESSED after retry, got %s", key.Status)
	}
	if key.ResourceID == nil || *key.ResourceID != txn.ID {
		t.Fatal("expected retried key to point at the new transaction")
	}
}

func TestDeposit_MissingKeyRejected(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "", domain.DepositRequest{
		WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider,
	})
	if !errors.Is(err, ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
}

func TestDeposit_ProviderFailureRecordedAndRetryable(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	gateway := &gatewayStub{name: testProvider, depositErr: errors.New("provider down")}
	svc, _ := newTestService(repo, gateway)

	req := domain.DepositRequest{WalletID: wallet.ID, Amount: 5000, Currency: "NGN", Provider: testProvider}
	_, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", req)
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if len(repo.txns) != 1 {
		t.Fatalf("expected the rejection recorded as one transaction, got %d", len(repo.txns))
	}
	for _, txn := range repo.txns {
		if txn.Status != domain.TransactionStatusFailed {
			t.Fatalf("expected FAILED transaction, got %s", txn.Status)
		}
	}
	key := repo.keys[repo.idemKey(tenantID, "key-1")]
	if key == nil || key.Status != domain.IdempotencyStatusFailed {
		t.Fatal("expected idempotency key FAILED so the client can retry")
	}

	// Retrying with the same key runs the operation again.
	gateway.depositErr = nil
	txn, err := svc.Deposit(context.Background(), tenantID, wallet.UserID, "key-1", req)
	if err != nil {
		t.Fatalf("retry after provider failure should succeed, got %v", err)
	}
	if txn.Status != domain.TransactionStatusPending {
		t.Fatalf("expected PENDING on retry, got %s", txn.Status)
	}
	if gateway.depositCalls != 2 {
		t.Fatalf("expected two provider calls, got %d", gateway.depositCalls)
	}
}

func TestWithdraw_DebitsWalletAndStaysPending(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 10000)
	gateway := &gatewayStub{name: testProvider}
	svc, _ := newTestService(repo, gateway)

	txn, err := svc.Withdraw(context.Background(), tenantID, wallet.UserID, "key-1", domain.WithdrawalRequest{
		WalletID: wallet.ID, Amount: 4000, Currency: "NGN", Provider: testProvider,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if txn.Status != domain.TransactionStatusPending {
		t.Fatalf("expected PENDING, got %s", txn.Status)
	}
	if got := repo.wallets[wallet.ID].Balance; got != 6000 {
		t.Fatalf("expected balance 6000 after debit, got %d", got)
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 3000)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Withdraw(context.Background(), tenantID, wallet.UserID, "key-1", domain.WithdrawalRequest{
		WalletID: wallet.ID, Amount: 4000, Currency: "NGN", Provider: testProvider,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := repo.wallets[wallet.ID].Balance; got != 3000 {
		t.Fatalf("expected balance unchanged at 3000, got %d", got)
	}
}

func TestWithdraw_ForeignWalletRejected(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 10000)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	// Another user of the same tenant must not be able to debit the wallet.
	_, err := svc.Withdraw(context.Background(), tenantID, uuid.New(), "key-1", domain.WithdrawalRequest{
		WalletID: wallet.ID, Amount: 4000, Currency: "NGN", Provider: testProvider,
	})
	if !errors.Is(err, ErrWalletOwnership) {
		t.Fatalf("expected ErrWalletOwnership, got %v", err)
	}
	if got := repo.wallets[wallet.ID].Balance; got != 10000 {
		t.Fatalf("expected balance unchanged at 10000, got %d", got)
	}
	if len(repo.txns) != 0 {
		t.Fatal("expected no transaction record")
	}
}

func TestWithdraw_ProviderFailureRestoresBalance(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 10000)
	gateway := &gatewayStub{name: testProvider, withdrawErr: errors.New("provider down")}
	svc, _ := newTestService(repo, gateway)

	_, err := svc.Withdraw(context.Background(), tenantID, wallet.UserID, "key-1", domain.WithdrawalRequest{
		WalletID: wallet.ID, Amount: 4000, Currency: "NGN", Provider: testProvider,
	})
	if err == nil {
		t.Fatal("expected provider failure to surface")
	}
	if got := repo.wallets[wallet.ID].Balance; got != 10000 {
		t.Fatalf("expected compensating credit to restore 10000, got %d", got)
	}
	if len(repo.txns) != 1 {
		t.Fatalf("expected the rejection recorded as one transaction, got %d", len(repo.txns))
	}
	for _, txn := range repo.txns {
		if txn.Status != domain.TransactionStatusFailed {
			t.Fatalf("expected FAILED transaction, got %s", txn.Status)
		}
	}
	key := repo.keys[repo.idemKey(tenantID, "key-1")]
	if key == nil || key.Status != domain.IdempotencyStatusFailed {
		t.Fatal("expected idempotency key FAILED so the client can retry")
	}
}

func TestTransfer_MovesFundsAtomically(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	source := seedWallet(repo, tenantID, 10000)
	destination := seedWallet(repo, tenantID, 500)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	txn, err := svc.Transfer(context.Background(), tenantID, source.UserID, "key-1", domain.TransferRequest{
		SourceWalletID:      source.ID,
		DestinationWalletID: destination.ID,
		Amount:              2500,
		Currency:            "NGN",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if txn.Status != domain.TransactionStatusSuccess {
		t.Fatalf("internal transfer should settle immediately, got %s", txn.Status)
	}
	if got := repo.wallets[source.ID].Balance; got != 7500 {
		t.Fatalf("expected source balance 7500, got %d", got)
	}
	if got := repo.wallets[destination.ID].Balance; got != 3000 {
		t.Fatalf("expected destination balance 3000, got %d", got)
	}

	// One row per wallet, each referencing the other's wallet id.
	if len(repo.txns) != 2 {
		t.Fatalf("expected two transaction rows, got %d", len(repo.txns))
	}
	for _, row := range repo.txns {
		if row.Status != domain.TransactionStatusSuccess || row.Type != domain.TransactionTypeTransfer {
			t.Fatalf("unexpected row %+v", row)
		}
		if row.Reference == nil {
			t.Fatal("expected counterparty reference on both rows")
		}
		switch row.WalletID {
		case source.ID:
			if *row.Reference != destination.ID.String() {
				t.Fatalf("debit row should reference destination, got %q", *row.Reference)
			}
		case destination.ID:
			if *row.Reference != source.ID.String() {
				t.Fatalf("credit row should reference source, got %q", *row.Reference)
			}
		default:
			t.Fatalf("row on unexpected wallet %s", row.WalletID)
		}
	}
}

func TestTransfer_InsufficientFundsLeavesBothWalletsUntouched(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	source := seedWallet(repo, tenantID, 1000)
	destination := seedWallet(repo, tenantID, 500)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Transfer(context.Background(), tenantID, source.UserID, "key-1", domain.TransferRequest{
		SourceWalletID:      source.ID,
		DestinationWalletID: destination.ID,
		Amount:              2500,
		Currency:            "NGN",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := repo.wallets[source.ID].Balance; got != 1000 {
		t.Fatalf("expected source balance unchanged at 1000, got %d", got)
	}
	if got := repo.wallets[destination.ID].Balance; got != 500 {
		t.Fatalf("expected destination balance unchanged at 500, got %d", got)
	}
	if len(repo.txns) != 0 {
		t.Fatal("expected no transaction record for a failed transfer")
	}
}

func TestTransfer_SameWalletRejected(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 10000)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Transfer(context.Background(), tenantID, wallet.UserID, "key-1", domain.TransferRequest{
		SourceWalletID:      wallet.ID,
		DestinationWalletID: wallet.ID,
		Amount:              2500,
		Currency:            "NGN",
	})
	if !errors.Is(err, ErrSameWallet) {
		t.Fatalf("expected ErrSameWallet, got %v", err)
	}
}

func TestTransfer_ForeignSourceWalletRejected(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	source := seedWallet(repo, tenantID, 10000)
	destination := seedWallet(repo, tenantID, 500)
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Transfer(context.Background(), tenantID, destination.UserID, "key-1", domain.TransferRequest{
		SourceWalletID:      source.ID,
		DestinationWalletID: destination.ID,
		Amount:              2500,
		Currency:            "NGN",
	})
	if !errors.Is(err, ErrWalletOwnership) {
		t.Fatalf("expected ErrWalletOwnership, got %v", err)
	}
	if got := repo.wallets[source.ID].Balance; got != 10000 {
		t.Fatalf("expected source balance unchanged at 10000, got %d", got)
	}
	if got := repo.wallets[destination.ID].Balance; got != 500 {
		t.Fatalf("expected destination balance unchanged at 500, got %d", got)
	}
}

func TestTransfer_CurrencyMismatchRejected(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	source := seedWallet(repo, tenantID, 10000)
	destination := seedWallet(repo, tenantID, 0)
	destination.Currency = "USD"
	svc, _ := newTestService(repo, &gatewayStub{name: testProvider})

	_, err := svc.Transfer(context.Background(), tenantID, source.UserID, "key-1", domain.TransferRequest{
		SourceWalletID:      source.ID,
		DestinationWalletID: destination.ID,
		Amount:              2500,
		Currency:            "NGN",
	})
	if !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestCreateVirtualAccount_ReturnsExistingActiveAccount(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	existing := &domain.VirtualAccount{
		ID:            uuid.New(),
		TenantID:      tenantID,
		WalletID:      wallet.ID,
		AccountNumber: "0011223344",
		Provider:      testProvider,
		Currency:      "NGN",
		Status:        domain.VirtualAccountStatusActive,
	}
	repo.accounts[existing.AccountNumber] = existing

	gateway := &gatewayStub{name: testProvider, vaDetails: &providers.VirtualAccountDetails{AccountNumber: "9988776655"}}
	svc, _ := newTestService(repo, gateway)

	account, err := svc.CreateVirtualAccount(context.Background(), tenantID, domain.CreateVirtualAccountRequest{
		WalletID: wallet.ID,
		Currency: "NGN",
		Provider: testProvider,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if account.ID != existing.ID {
		t.Fatal("expected the existing active account to be returned")
	}
	if gateway.vaCalls != 0 {
		t.Fatalf("expected no provider call for existing account, got %d", gateway.vaCalls)
	}
}

func TestCreateVirtualAccount_ProvisionsThroughProvider(t *testing.T) {
	tenantID := uuid.New()
	repo := newMemRepo()
	wallet := seedWallet(repo, tenantID, 0)
	gateway := &gatewayStub{name: testProvider, vaDetails: &providers.VirtualAccountDetails{
		AccountNumber:     "9988776655",
		BankName:          "Test Bank",
		AccountName:       "Acme Ltd",
		ProviderReference: "dva_1",
	}}
	svc, _ := newTestService(repo, gateway)

	account, err := svc.CreateVirtualAccount(context.Background(), tenantID, domain.CreateVirtualAccountRequest{
		WalletID:    wallet.ID,
		Currency:    "NGN",
		Provider:    testProvider,
		AccountName: "Acme Ltd",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if account.AccountNumber != "9988776655" {
		t.Fatalf("unexpected account number %s", account.AccountNumber)
	}
	if account.Status != domain.VirtualAccountStatusActive {
		t.Fatalf("expected ACTIVE, got %s", account.Status)
	}
	if _, ok := repo.accounts["9988776655"]; !ok {
		t.Fatal("expected account to be persisted")
	}
}
