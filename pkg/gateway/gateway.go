/**
 * @description
 * Payment gateway abstraction. Each configured gateway verifies its webhook
 * signatures and normalizes webhook payloads into a shared notification shape
 * so the billing engine records payments the same way regardless of provider.
 */
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrUnknownGateway is returned when no gateway is registered under a name.
	ErrUnknownGateway = errors.New("unknown payment gateway")
	// ErrInvalidSignature is returned when a webhook signature check fails.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned when a webhook body cannot be parsed.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// ChargeRequest asks a gateway to create a hosted payment for an invoice.
type ChargeRequest struct {
	InvoiceID     string
	InvoiceNumber string
	CustomerID    string
	CustomerName  string
	Amount        int64
	Description   string
}

// ChargeResponse carries the gateway's reference and redirect URL.
type ChargeResponse struct {
	Reference  string
	PaymentURL string
	ExpiresAt  time.Time
}

// PaymentNotification is the normalized result of a verified webhook.
type PaymentNotification struct {
	Reference string
	InvoiceID string
	Amount    int64
	Status    string
	PaidAt    time.Time
}

// PaymentGateway is implemented per provider.
type PaymentGateway interface {
	// Name returns the registry key for the gateway, e.g. "tripay".
	Name() string
	// CreatePayment creates a hosted payment page for an invoice.
	CreatePayment(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
	// VerifyWebhookSignature checks the raw body against the provider signature.
	VerifyWebhookSignature(body []byte, signature string) bool
	// ProcessWebhook parses a verified body into a normalized notification.
	ProcessWebhook(body []byte) (*PaymentNotification, error)
}

// Registry holds gateways keyed by name.
type Registry struct {
	gateways map[string]PaymentGateway
}

// NewRegistry creates a registry from the given gateways.
func NewRegistry(gateways ...PaymentGateway) *Registry {
	byName := make(map[string]PaymentGateway, len(gateways))
	for _, gw := range gateways {
		byName[strings.ToLower(gw.Name())] = gw
	}
	return &Registry{gateways: byName}
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (PaymentGateway, error) {
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownGateway
	}
	return gw, nil
}
