/**
 * @description
 * This file implements the Flutterwave gateway against the v3 REST API.
 * Flutterwave denominates amounts in major currency units, so values are
 * converted to and from the service's minor-unit convention at this boundary.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, math, net/http, time: Standard Go libraries.
 */
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"
)

// FlutterwaveClient is a Gateway backed by the Flutterwave v3 API.
type FlutterwaveClient struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewFlutterwaveClient creates a new Flutterwave API client.
func NewFlutterwaveClient(baseURL, secretKey string) *FlutterwaveClient {
	return &FlutterwaveClient{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *FlutterwaveClient) Name() string { return Flutterwave }

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FlutterwaveError represents a failed Flutterwave API call.
type FlutterwaveError struct {
	StatusCode int
	Message    string
}

func (e *FlutterwaveError) Error() string {
	return fmt.Sprintf("flutterwave api error (status %d): %s", e.StatusCode, e.Message)
}

func (c *FlutterwaveClient) do(ctx context.Context, op, path string, payload interface{}, out interface{}) error {
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

	var envelope flutterwaveEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		log.Printf("level=warn component=flutterwave_client op=%s status=%d msg=\"unparsable response body\"", op, resp.StatusCode)
		return fmt.Errorf("failed to decode %s response (status %d)", op, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || envelope.Status != "success" {
		log.Printf("level=warn component=flutterwave_client op=%s status=%d message=%q", op, resp.StatusCode, envelope.Message)
		return &FlutterwaveError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s data: %w", op, err)
		}
	}
	return nil
}

// toMajorUnits converts a minor-unit amount to Flutterwave's major-unit
// representation.
func toMajorUnits(amount int64) float64 {
	return float64(amount) / 100
}

// toMinorUnits converts a major-unit amount to the service's minor-unit
// representation, rounding to the nearest unit.
func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

type flutterwavePaymentRequest struct {
	TxRef    string  `json:"tx_ref"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type flutterwavePaymentData struct {
	Link string `json:"link"`
}

// InitiateDeposit creates a hosted payment for the given reference.
func (c *FlutterwaveClient) InitiateDeposit(ctx context.Context, req DepositRequest) (*DepositIntent, error) {
	payload := flutterwavePaymentRequest{
		TxRef:    req.Reference,
		Amount:   toMajorUnits(req.Amount),
		Currency: req.Currency,
	}
	payload.Customer.Email = req.Email

	var data flutterwavePaymentData
	if err := c.do(ctx, "payments", "/payments", payload, &data); err != nil {
		return nil, err
	}
	return &DepositIntent{
		AuthorizationURL: data.Link,
		Raw: map[string]interface{}{
			"link": data.Link,
		},
	}, nil
}

type flutterwaveTransferRequest struct {
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reference string  `json:"reference"`
	Narration string  `json:"narration,omitempty"`
}

type flutterwaveTransferData struct {
	ID        int64  `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// InitiateWithdrawal creates a Flutterwave transfer.
func (c *FlutterwaveClient) InitiateWithdrawal(ctx context.Context, req WithdrawalRequest) (*WithdrawalReceipt, error) {
	var data flutterwaveTransferData
	err := c.do(ctx, "transfers", "/transfers", flutterwaveTransferRequest{
		Amount:    toMajorUnits(req.Amount),
		Currency:  req.Currency,
		Reference: req.Reference,
		Narration: req.Narration,
	}, &data)
	if err != nil {
		return nil, err
	}
	return &WithdrawalReceipt{
		ProviderTransactionID: fmt.Sprintf("%d", data.ID),
		Raw: map[string]interface{}{
			"id":     data.ID,
			"status": data.Status,
		},
	}, nil
}

// ProcessWebhook normalizes Flutterwave webhook payloads. Charge events carry
// the reference in tx_ref; transfer events use reference. Statuses are
// compared case-insensitively because transfer events upper-case them.
func (c *FlutterwaveClient) ProcessWebhook(payload map[string]interface{}) (*WebhookResult, error) {
	event := stringValue(payload, "event")
	data := mapValue(payload, "data")
	if event == "" || data == nil {
		return nil, ErrUnrecognizedEvent
	}

	status := strings.ToLower(stringValue(data, "status"))
	result := &WebhookResult{
		EventType:             event,
		ProviderTransactionID: identifierValue(data, "id"),
		Amount:                toMinorUnits(float64Value(data, "amount")),
		Currency:              stringValue(data, "currency"),
	}

	switch event {
	case "charge.completed":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "DEPOSIT"
		result.Reference = stringValue(data, "tx_ref")
		result.Success = status == "successful"
		if !result.Success {
			result.FailureReason = stringValue(data, "processor_response")
			if result.FailureReason == "" {
				result.FailureReason = "charge " + status
			}
		}
		return result, nil

	case "transfer.completed":
		result.Kind = WebhookKindTransactionResult
		result.TransactionType = "WITHDRAWAL"
		result.Reference = stringValue(data, "reference")
		result.Success = status == "successful"
		if !result.Success {
			result.FailureReason = stringValue(data, "complete_message")
			if result.FailureReason == "" {
				result.FailureReason = "transfer " + status
			}
		}
		return result, nil

	default:
		return nil, ErrUnrecognizedEvent
	}
}
