/**
 * @description
 * This package defines the payment provider abstraction used by the wallet
 * service. Each supported provider implements the Gateway interface, which
 * covers initiating deposits and withdrawals and normalizing inbound webhook
 * payloads into a provider-neutral result the reconciliation pipeline can act
 * on. Providers that can issue dedicated virtual accounts additionally
 * implement VirtualAccountCreator.
 *
 * @dependencies
 * - context, errors, sort, strconv: Standard Go libraries.
 */
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Provider names as they appear in API requests, webhook URLs and the
// transactions table.
const (
	Paystack    = "paystack"
	Flutterwave = "flutterwave"
	Stripe      = "stripe"
)

var (
	// ErrUnknownProvider is returned by the registry for names no gateway
	// was registered under.
	ErrUnknownProvider = errors.New("unknown payment provider")

	// ErrUnrecognizedEvent is returned by ProcessWebhook when the payload
	// does not match any event shape the gateway knows how to handle.
	ErrUnrecognizedEvent = errors.New("unrecognized webhook event")

	// ErrVirtualAccountsUnsupported is returned when a virtual account is
	// requested from a provider that cannot issue them.
	ErrVirtualAccountsUnsupported = errors.New("provider does not support virtual accounts")
)

// Webhook result kinds. The reconciliation pipeline dispatches on these.
const (
	// WebhookKindTransactionResult finalizes a transaction the service
	// initiated (deposit confirmation or withdrawal settlement).
	WebhookKindTransactionResult = "transaction_result"

	// WebhookKindVirtualAccountDeposit credits a wallet for an unsolicited
	// inbound payment into a dedicated virtual account.
	WebhookKindVirtualAccountDeposit = "virtual_account_deposit"
)

// DepositRequest describes a deposit to initiate with a provider.
type DepositRequest struct {
	Reference string
	Amount    int64 // minor units
	Currency  string
	Email     string
	Narration string
}

// DepositIntent is the provider's handle for an initiated deposit. The
// transaction stays PENDING until a webhook settles it.
type DepositIntent struct {
	ProviderTransactionID string
	AuthorizationURL      string
	Raw                   map[string]interface{}
}

// WithdrawalRequest describes a payout to initiate with a provider.
type WithdrawalRequest struct {
	Reference string
	Amount    int64 // minor units
	Currency  string
	Narration string
}

// WithdrawalReceipt is the provider's handle for an initiated payout.
type WithdrawalReceipt struct {
	ProviderTransactionID string
	Raw                   map[string]interface{}
}

// VirtualAccountRequest describes a dedicated account to provision.
type VirtualAccountRequest struct {
	Reference   string
	Currency    string
	AccountName string
	Email       string
}

// VirtualAccountDetails holds the provisioned account returned by a provider.
type VirtualAccountDetails struct {
	AccountNumber     string
	BankName          string
	AccountName       string
	ProviderReference string
}

// WebhookResult is the provider-neutral interpretation of a webhook payload.
type WebhookResult struct {
	Kind                  string
	EventType             string
	TransactionType       string // DEPOSIT or WITHDRAWAL for transaction results
	Success               bool
	Reference             string
	ProviderTransactionID string
	Amount                int64 // minor units
	Currency              string
	AccountNumber         string // set for virtual account deposits
	FailureReason         string
}

// Gateway is the interface every payment provider integration implements.
type Gateway interface {
	Name() string
	InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error)
	InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalReceipt, error)

	// ProcessWebhook normalizes a raw webhook payload. It must not perform
	// any I/O; signature checks and persistence happen before it is called.
	ProcessWebhook(payload map[string]interface{}) (*WebhookResult, error)
}

// VirtualAccountCreator is implemented by gateways that can issue dedicated
// virtual accounts for collecting inbound transfers.
type VirtualAccountCreator interface {
	CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*VirtualAccountDetails, error)
}

// Registry holds the configured gateways keyed by provider name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry builds a registry from the given gateways.
func NewRegistry(gateways ...Gateway) *Registry {
	m := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		m[g.Name()] = g
	}
	return &Registry{gateways: m}
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return g, nil
}

// Names returns the registered provider names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- payload traversal helpers shared by the gateway implementations ---

func mapValue(payload map[string]interface{}, key string) map[string]interface{} {
	if payload == nil {
		return nil
	}
	m, _ := payload[key].(map[string]interface{})
	return m
}

func stringValue(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

// int64Value tolerates the numeric types encoding/json produces for untyped
// payloads as well as string-encoded identifiers.
func int64Value(payload map[string]interface{}, key string) int64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func float64Value(payload map[string]interface{}, key string) float64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// identifierValue renders a numeric or string id field as a string.
func identifierValue(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
