package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
)

func signBody(key string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	gw := NewTripayGateway("https://tripay.example", "api-key", "private-key", "M001")
	body := []byte(`{"reference":"T123","status":"PAID"}`)

	if !gw.VerifyWebhookSignature(body, signBody("private-key", body)) {
		t.Fatal("expected valid signature to verify")
	}
	if gw.VerifyWebhookSignature(body, signBody("wrong-key", body)) {
		t.Fatal("expected signature from wrong key to fail")
	}
	if gw.VerifyWebhookSignature(body, "") {
		t.Fatal("expected empty signature to fail")
	}
}

func TestProcessWebhook(t *testing.T) {
	gw := NewTripayGateway("https://tripay.example", "api-key", "private-key", "M001")

	invoiceID := "7e6f9a6c-4f4e-4dc8-a3a5-2f1f6f0f8b11"
	body := []byte(fmt.Sprintf(`{
		"reference": "T123",
		"merchant_ref": %q,
		"total_amount": 250000,
		"status": "PAID",
		"paid_at": 1735689600
	}`, invoiceID))

	notification, err := gw.ProcessWebhook(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notification.InvoiceID != invoiceID {
		t.Fatalf("expected invoice ID from merchant ref, got %q", notification.InvoiceID)
	}
	if notification.Amount != 250000 || notification.Status != "PAID" {
		t.Fatalf("unexpected notification %+v", notification)
	}
	if notification.PaidAt.Unix() != 1735689600 {
		t.Fatalf("expected paid_at from payload, got %v", notification.PaidAt)
	}
}

func TestProcessWebhookMalformed(t *testing.T) {
	gw := NewTripayGateway("https://tripay.example", "api-key", "private-key", "M001")

	if _, err := gw.ProcessWebhook([]byte("{not json")); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if _, err := gw.ProcessWebhook([]byte(`{"merchant_ref":"not-a-uuid"}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for bad merchant ref, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	gw := NewTripayGateway("https://tripay.example", "api-key", "private-key", "M001")
	registry := NewRegistry(gw)

	got, err := registry.Get("Tripay")
	if err != nil {
		t.Fatalf("lookup must be case-insensitive: %v", err)
	}
	if got.Name() != "tripay" {
		t.Fatalf("unexpected gateway %q", got.Name())
	}

	if _, err := registry.Get("midtrans"); !errors.Is(err, ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
}
