/**
 * @description
 * This file implements the Paystack gateway. It talks to the Paystack REST API
 * for initializing charges, sending transfers and provisioning dedicated
 * virtual accounts, and normalizes Paystack webhook events for the
 * reconciliation pipeline. Paystack amounts are denominated in kobo, which is
 * already the minor-unit convention used across the service, so no conversion
 * is applied.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// PaystackClient is a Gateway backed by the Paystack API.
type PaystackClient struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewPaystackClient creates a new Paystack API client.
func NewPaystackClient(baseURL, secretKey string) *PaystackClient {
	return &PaystackClient{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *PaystackClient) Name() string { return Paystack }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// PaystackError represents a failed Paystack API call.
type PaystackError struct {
	StatusCode int
	Message    string
}

func (e *PaystackError) Error() string {
	return fmt.Sprintf("paystack api error (status %d): %s", e.StatusCode, e.Message)
}

func (c *PaystackClient) do(ctx context.Context, op, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
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

	var envelope paystackEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		log.Printf("level=warn component=paystack_client op=%s status=%d msg=\"unparsable response body\"", op, resp.StatusCode)
		return fmt.Errorf("failed to decode %s response (status %d)", op, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !envelope.Status {
		log.Printf("level=warn component=paystack_client op=%s status=%d message=%q", op, resp.StatusCode, envelope.Message)
		return &PaystackError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", op, err)
		}
	}
	return nil
}

type paystackInitializeRequest struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitiateDeposit initializes a Paystack charge for the given reference.
func (c *PaystackClient) InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	var data paystackInitializeData
	err := c.do(ctx, "initialize", "/transaction/initialize", paystackInitializeRequest{
		Email:     req.Email,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &DepositIntent{
		ProviderTransactionID: data.Reference,
		AuthorizationURL:      data.AuthorizationURL,
		Raw: map[string]interface{}{
			"access_code": data.AccessCode,
			"reference":   data.Reference,
		},
	}, nil
}

type paystackTransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

type paystackTransferData struct {
	ID           int64  `json:"id"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// InitiateWithdrawal creates a Paystack transfer from the integration balance.
func (c *PaystackClient) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalReceipt, error) {
	var data paystackTransferData
	err := c.do(ctx, "transfer", "/transfer", paystackTransferRequest{
		Source:    "balance",
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: req.Reference,
		Reason:    req.Narration,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &WithdrawalReceipt{
		ProviderTransactionID: data.TransferCode,
		Raw: map[string]interface{}{
			"id":     data.ID,
			"status": data.Status,
		},
	}, nil
}

type paystackDedicatedAccountRequest struct {
	Email         string `json:"email"`
	PreferredBank string `json:"preferred_bank"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"`
	AccountName   string `json:"account_name"`
}

type paystackDedicatedAccountData struct {
	ID            int64  `json:"id"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Bank          struct {
		Name string `json:"name"`
	} `json:"bank"`
}

// CreateVirtualAccount provisions a dedicated NUBAN for collecting inbound
// transfers.
func (c *PaystackClient) CreateVirtualAccount(ctx context.Context, req VirtualAccountRequest) (*VirtualAccountDetails, error) {
	var data paystackDedicatedAccountData
	err := c.do(ctx, "dedicated_account", "/dedicated_account", paystackDedicatedAccountRequest{
		Email:         req.Email,
		PreferredBank: "wema-bank",
		Currency:      req.Currency,
		Reference:     req.Reference,
		AccountName:   req.AccountName,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &VirtualAccountDetails{
		AccountNumber:     data.AccountNumber,
		BankName:          data.Bank.Name,
		AccountName:       data.AccountName,
		ProviderReference: fmt.Sprintf("%d", data.ID),
	}, nil
}

// ProcessWebhook normalizes Paystack webhook payloads. Charges that settled
// through a dedicated NUBAN are reported as virtual account deposits so the
// pipeline credits the owning wallet instead of finalizing an initiated
// transaction.
func (c *PaystackClient) ProcessWebhook(payload map[string]interface{}) (*WebhookResult, error) {
	event := stringValue(payload, "event")
	data := mapValue(payload, "data")
	if event == "" || data == nil {
		return nil, ErrUnrecognizedEvent
	}

	result := &WebhookResult{
		EventType:             event,
		Reference:             stringValue(data, "reference"),
		ProviderTransactionID: identifierValue(data, "id"),
		Amount:                int64Value(data, "amount"),
		Currency:              stringValue(data, "currency"),
	}

	switch event {
	case "charge.success":
		if stringValue(data, "channel") == "dedicated_nuban" {
			auth := mapValue(data, "authorization")
			result.Kind = WebhookKindVirtualAccountDeposit
			result.Success = true
			result.AccountNumber = stringValue(auth, "receiver_bank_account_number")
			if result.AccountNumber == "" {
				return nil, ErrUnrecognizedEvent
			}
			return result, nil
		}
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "DEPOSIT"
		result.Success = true
		return result, nil

	case "charge.failed":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "DEPOSIT"
		result.FailureReason = stringValue(data, "gateway_response")
		return result, nil

	case "transfer.success":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "WITHDRAWAL"
		result.Success = true
		result.ProviderTransactionID = stringValue(data, "transfer_code")
		return result, nil

	case "transfer.failed", "transfer.reversed":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "WITHDRAWAL"
		result.ProviderTransactionID = stringValue(data, "transfer_code")
		result.FailureReason = stringValue(data, "reason")
		if result.FailureReason == "" {
			result.FailureReason = event
		}
		return result, nil

	default:
		return nil, ErrUnrecognizedEvent
	}
}
