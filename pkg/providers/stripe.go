/**
 * @description
 * This file implements the Stripe gateway. Stripe's API is form-encoded and
 * already uses minor units, so no amount conversion is needed. The service
 * reference is carried in metadata so webhook events can be matched back to
 * the initiating transaction.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeClient is a Gateway backed by the Stripe API.
type StripeClient struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewStripeClient creates a new Stripe API client.
func NewStripeClient(baseURL, secretKey string) *StripeClient {
	return &StripeClient{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *StripeClient) Name() string { return Stripe }

// StripeError represents a failed Stripe API call.
type StripeError struct {
	StatusCode int
	Message    string
}

func (e *StripeError) Error() string {
	return fmt.Sprintf("stripe api error (status %d): %s", e.StatusCode, e.Message)
}

type stripeErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *StripeClient) do(ctx context.Context, op, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope stripeErrorEnvelope
		if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
			log.Printf("level=warn component=stripe_client op=%s status=%d msg=\"unparsable error body\"", op, resp.StatusCode)
			return fmt.Errorf("failed to decode %s error response (status %d)", op, resp.StatusCode)
		}
		log.Printf("level=warn component=stripe_client op=%s status=%d message=%q", op, resp.StatusCode, envelope.Error.Message)
		return &StripeError{StatusCode: resp.StatusCode, Message: envelope.Error.Message}
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}

type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// InitiateDeposit creates a Stripe PaymentIntent for the given reference.
func (c *StripeClient) InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[reference]", req.Reference)
	if req.Narration != "" {
		form.Set("description", req.Narration)
	}

	var intent stripePaymentIntent
	if err := c.do(ctx, "payment_intents", "/payment_intents", form, &intent); err != nil {
		return nil, err
	}
	return &DepositIntent{
		ProviderTransactionID: intent.ID,
		Raw: map[string]interface{}{
			"client_secret": intent.ClientSecret,
			"status":        intent.Status,
		},
	}, nil
}

type stripePayout struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// InitiateWithdrawal creates a Stripe payout.
func (c *StripeClient) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalReceipt, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[reference]", req.Reference)
	if req.Narration != "" {
		form.Set("statement_descriptor", req.Narration)
	}

	var payout stripePayout
	if err := c.do(ctx, "payouts", "/payouts", form, &payout); err != nil {
		return nil, err
	}
	return &WithdrawalReceipt{
		ProviderTransactionID: payout.ID,
		Raw: map[string]interface{}{
			"status": payout.Status,
		},
	}, nil
}

// ProcessWebhook normalizes Stripe webhook events. The service reference is
// read from the object's metadata; events without it fall back to matching by
// the provider object id.
func (c *StripeClient) ProcessWebhook(payload map[string]interface{}) (*WebhookResult, error) {
	event := stringValue(payload, "type")
	object := mapValue(mapValue(payload, "data"), "object")
	if event == "" || object == nil {
		return nil, ErrUnrecognizedEvent
	}

	metadata := mapValue(object, "metadata")
	result := &WebhookResult{
		EventType:             event,
		Reference:             stringValue(metadata, "reference"),
		ProviderTransactionID: stringValue(object, "id"),
		Amount:                int64Value(object, "amount"),
		Currency:              strings.ToUpper(stringValue(object, "currency")),
	}

	switch event {
	case "payment_intent.succeeded":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "DEPOSIT"
		result.Success = true
		return result, nil

	case "payment_intent.payment_failed":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "DEPOSIT"
		result.FailureReason = stringValue(mapValue(object, "last_payment_error"), "message")
		if result.FailureReason == "" {
			result.FailureReason = "payment failed"
		}
		return result, nil

	case "payout.paid":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "WITHDRAWAL"
		result.Success = true
		return result, nil

	case "payout.failed":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "WITHDRAWAL"
		result.FailureReason = stringValue(object, "failure_message")
		if result.FailureReason == "" {
			result.FailureReason = "payout failed"
		}
		return result, nil

	default:
		return nil, ErrUnrecognizedEvent
	}
}
