package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStripeProcessWebhook_PaymentIntentSucceeded(t *testing.T) {
	c := NewStripeClient("http://stripe.test", "sk_test")

	result, err := c.ProcessWebhook(map[string]interface{}{
		"type": "payment_intent.succeeded",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":       "pi_123",
				"amount":   float64(50000),
				"currency": "usd",
				"metadata": map[string]interface{}{
					"reference": "dep_abc",
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != WebhookKindTransactionResult || result.TransactionType != "DEPOSIT" || !result.Success {
		t.Fatalf("expected successful deposit, got %+v", result)
	}
	if result.Reference != "dep_abc" {
		t.Fatalf("expected metadata reference, got %q", result.Reference)
	}
	if result.ProviderTransactionID != "pi_123" {
		t.Fatalf("unexpected provider id %q", result.ProviderTransactionID)
	}
	if result.Currency != "USD" {
		t.Fatalf("expected currency upper-cased, got %q", result.Currency)
	}
}

func TestStripeProcessWebhook_PaymentIntentFailed(t *testing.T) {
	c := NewStripeClient("http://stripe.test", "sk_test")

	result, err := c.ProcessWebhook(map[string]interface{}{
		"type": "payment_intent.payment_failed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":       "pi_124",
				"amount":   float64(50000),
				"currency": "usd",
				"last_payment_error": map[string]interface{}{
					"message": "Your card was declined.",
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.FailureReason != "Your card was declined." {
		t.Fatalf("unexpected failure reason %q", result.FailureReason)
	}
}

func TestStripeProcessWebhook_PayoutFailed(t *testing.T) {
	c := NewStripeClient("http://stripe.test", "sk_test")

	result, err := c.ProcessWebhook(map[string]interface{}{
		"type": "payout.failed",
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":              "po_55",
				"amount":          float64(30000),
				"currency":        "usd",
				"failure_message": "The bank account has been closed.",
				"metadata": map[string]interface{}{
					"reference": "wd_abc",
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TransactionType != "WITHDRAWAL" || result.Success {
		t.Fatalf("expected failed withdrawal, got type=%s success=%t", result.TransactionType, result.Success)
	}
	if result.FailureReason != "The bank account has been closed." {
		t.Fatalf("unexpected failure reason %q", result.FailureReason)
	}
}

func TestStripeProcessWebhook_UnknownEvent(t *testing.T) {
	c := NewStripeClient("http://stripe.test", "sk_test")

	_, err := c.ProcessWebhook(map[string]interface{}{
		"type": "customer.created",
		"data": map[string]interface{}{
			"object": map[string]interface{}{},
		},
	})
	if !errors.Is(err, ErrUnrecognizedEvent) {
		t.Fatalf("expected ErrUnrecognizedEvent, got %v", err)
	}
}

func TestStripeInitiateDeposit_FormEncoded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment_intents" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Fatalf("unexpected content type %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("bad form body: %v", err)
		}
		if r.PostForm.Get("amount") != "50000" || r.PostForm.Get("currency") != "usd" {
			t.Fatalf("unexpected form values %v", r.PostForm)
		}
		if r.PostForm.Get("metadata[reference]") != "dep_abc" {
			t.Fatalf("expected reference in metadata, got %v", r.PostForm)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "pi_123",
			"client_secret": "pi_123_secret",
			"status":        "requires_payment_method",
		})
	}))
	defer server.Close()

	c := NewStripeClient(server.URL, "sk_test")
	intent, err := c.InitiateDeposit(context.Background(), DepositRequest{
		Reference: "dep_abc",
		Amount:    50000,
		Currency:  "USD",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.ProviderTransactionID != "pi_123" {
		t.Fatalf("unexpected provider id %q", intent.ProviderTransactionID)
	}
	if intent.Raw["client_secret"] != "pi_123_secret" {
		t.Fatalf("expected client secret in raw payload, got %v", intent.Raw)
	}
}

func TestStripeInitiateDeposit_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message": "Amount must be at least 50 cents.",
			},
		})
	}))
	defer server.Close()

	c := NewStripeClient(server.URL, "sk_test")
	_, err := c.InitiateDeposit(context.Background(), DepositRequest{Reference: "dep_abc", Amount: 1, Currency: "USD"})

	var apiErr *StripeError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected StripeError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
}
