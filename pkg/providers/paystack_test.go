package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPaystackProcessWebhook_ChargeSuccess(t *testing.T) {
	c := NewPaystackClient("http://paystack.test", "sk_test")

	result, err := c.ProcessWebhook(map[string]interface{}{
		"event": "charge.success",
		"data": map[string]interface{}{
			"id":        float64(302961),
			"reference": "dep_abc",
			"amount":    float64(50000),
			"currency":  "NGN",
			"channel":   "card",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != WebhookKindTransactionResult {
		t.Fatalf("expected transaction result, got %s", result.Kind)
	}
	if result.TransactionType != "DEPOSIT" || !result.Success {
		t.Fatalf("expected successful deposit, got type=%s success=%t", result.TransactionType, result.Success)
	}
	if result.Reference != "dep_abc" {
		t.Fatalf("expected reference dep_abc, got %q", result.Reference)
	}
	if result.Amount != 50000 {
		t.Fatalf("kobo amounts are already minor units, got %d", result.Amount)
	}
	if result.ProviderTransactionID != "302961" {
		t.Fatalf("expected numeric id rendered as string, got %q", result.ProviderTransactionID)
	}
}

func TestPaystackProcessWebhook_DedicatedAccountCharge(t *testing.T) {
	c := NewPaystackClient("http://paystack.test", "sk_test")

	result, err := c.ProcessWebhook(map[string]interface{}{
		"event": "charge.success",
		"data": map[string]interface{}{
			"id":       float64(302962),
			"amount":   float64(70000),
			"currency": "NGN",
			"channel":  "dedicated_nuban",
			"authorization": map[string]interface{}{
				"receiver_bank_account_number": "0011223344",
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != WebhookKindVirtualAccountDeposit {
		t.Fatalf("expected virtual account deposit, got %s", result.Kind)
	}
	if result.AccountNumber != "0011223344" {
		t.Fatalf("expected account number, got %q", result.AccountNumber)
	}
}

func TestPaystackProcessWebhook_TransferFailed(t *testing.T) {
	c := NewPaystackClient("http://paystack.test", "sk_test")

	result, err := c.ProcessWebhook(map[string]interface{}{
		"event": "transfer.failed",
		"data": map[string]interface{}{
			"id":            float64(99),
			"reference":     "wd_abc",
			"transfer_code": "TRF_123",
			"amount":        float64(40000),
			"currency":      "NGN",
			"reason":        "insufficient provider balance",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TransactionType != "WITHDRAWAL" || result.Success {
		t.Fatalf("expected failed withdrawal, got type=%s success=%t", result.TransactionType, result.Success)
	}
	if result.ProviderTransactionID != "TRF_123" {
		t.Fatalf("expected transfer code as provider id, got %q", result.ProviderTransactionID)
	}
	if result.FailureReason == "" {
		t.Fatal("expected failure reason to carry through")
	}
}

func TestPaystackProcessWebhook_UnknownEvent(t *testing.T) {
	c := NewPaystackClient("http://paystack.test", "sk_test")

	_, err := c.ProcessWebhook(map[string]interface{}{
		"event": "subscription.create",
		"data":  map[string]interface{}{},
	})
	if !errors.Is(err, ErrUnrecognizedEvent) {
		t.Fatalf("expected ErrUnrecognizedEvent, got %v", err)
	}
}

func TestPaystackInitiateDeposit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transaction/initialize" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Fatalf("unexpected auth header %q", got)
		}
		var body paystackInitializeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if body.Amount != 50000 || body.Reference != "dep_abc" {
			t.Fatalf("unexpected payload %+v", body)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  true,
			"message": "Authorization URL created",
			"data": map[string]interface{}{
				"authorization_url": "https://checkout.paystack.com/abc",
				"access_code":       "ac_abc",
				"reference":         "dep_abc",
			},
		})
	}))
	defer server.Close()

	c := NewPaystackClient(server.URL, "sk_test")
	intent, err := c.InitiateDeposit(context.Background(), DepositRequest{
		Reference: "dep_abc",
		Amount:    50000,
		Currency:  "NGN",
		Email:     "user@example.com",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.AuthorizationURL != "https://checkout.paystack.com/abc" {
		t.Fatalf("unexpected authorization url %q", intent.AuthorizationURL)
	}
	if intent.ProviderTransactionID != "dep_abc" {
		t.Fatalf("unexpected provider transaction id %q", intent.ProviderTransactionID)
	}
}

func TestPaystackInitiateDeposit_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  false,
			"message": "Invalid amount",
		})
	}))
	defer server.Close()

	c := NewPaystackClient(server.URL, "sk_test")
	_, err := c.InitiateDeposit(context.Background(), DepositRequest{Reference: "dep_abc", Amount: -1, Currency: "NGN"})

	var apiErr *PaystackError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected PaystackError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "Invalid amount" {
		t.Fatalf("unexpected error detail %+v", apiErr)
	}
}

func TestRegistry(t *testing.T) {
	paystack := NewPaystackClient("http://paystack.test", "sk")
	registry := NewRegistry(paystack)

	g, err := registry.Get(Paystack)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Name() != Paystack {
		t.Fatalf("unexpected gateway %s", g.Name())
	}

	if _, err := registry.Get("square"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
