/**
 * @description
 * Handler for payment.recorded events. Runs outside the payment transaction
 * in a separate consumer so tracking and restoration can never block or fail
 * a payment; the tracker's (invoice, payment) idempotency key makes
 * re-delivery safe.
 */
package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/netbill/billing-service/internal/domain"
)

// PaymentEventHandler consumes payment.recorded events.
type PaymentEventHandler struct {
	latePayment *LatePaymentService
	enforcement *EnforcementService
	logger      *slog.Logger
}

// NewPaymentEventHandler creates the consumer-side handler.
func NewPaymentEventHandler(latePayment *LatePaymentService, enforcement *EnforcementService, logger *slog.Logger) *PaymentEventHandler {
	return &PaymentEventHandler{latePayment: latePayment, enforcement: enforcement, logger: logger}
}

// HandlePaymentRecorded tracks the payment against the late-payment counter
// and, when the payment settled the invoice, restores the customer
// immediately instead of waiting for the next sweep. Returns false to have
// the broker re-queue the delivery.
func (h *PaymentEventHandler) HandlePaymentRecorded(body []byte) bool {
	var event domain.PaymentRecordedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("malformed payment recorded event, dropping", "error", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.latePayment.TrackPayment(ctx, event.InvoiceID, event.PaymentID, event.CustomerID, event.PaidAt, event.DueDate); err != nil {
		h.logger.Error("failed to track payment", "payment_id", event.PaymentID, "error", err)
		return false
	}

	if event.InvoiceSettled {
		if err := h.enforcement.RestoreIfSettled(ctx, event.CustomerID); err != nil {
			h.logger.Error("opportunistic restore failed", "customer_id", event.CustomerID, "error", err)
			return false
		}
	}

	return true
}
