/**
 * @description
 * Payment recording. The database mutation is one transaction owned by the
 * store; the late-payment notification rides on an event published only after
 * that transaction commits, fire-and-forget, so tracking can never block or
 * fail a payment.
 */
package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
)

// PaymentRepository defines the database operations the payment service needs.
type PaymentRepository interface {
	GetInvoiceByID(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	RecordPayment(ctx context.Context, p store.RecordPaymentParams) (*store.RecordPaymentOutcome, error)
}

// PaymentService records payments against invoices.
type PaymentService struct {
	repo      PaymentRepository
	publisher EventPublisher
	logger    *slog.Logger
	loc       *time.Location

	carryOverDueOffset time.Duration
	numberRetries      int
}

// NewPaymentService creates the payment recording service.
func NewPaymentService(repo PaymentRepository, publisher EventPublisher, logger *slog.Logger, loc *time.Location, carryOverDueOffsetDays, numberRetries int) *PaymentService {
	return &PaymentService{
		repo:               repo,
		publisher:          publisher,
		logger:             logger,
		loc:                loc,
		carryOverDueOffset: time.Duration(carryOverDueOffsetDays) * 24 * time.Hour,
		numberRetries:      numberRetries,
	}
}

// RecordPaymentResult is returned to the caller after a committed payment.
type RecordPaymentResult struct {
	PaymentID          string  `json:"payment_id"`
	InvoiceID          string  `json:"invoice_id"`
	Status             string  `json:"status"`
	Settled            bool    `json:"settled"`
	CarryOverInvoiceID *string `json:"carry_over_invoice_id,omitempty"`
}

// RecordPayment validates the request, runs the payment transaction, and then
// publishes payment.recorded for the tracker and the opportunistic restore
// path. A numbering collision on the carry-over invoice retries the whole
// transaction a bounded number of times.
func (s *PaymentService) RecordPayment(ctx context.Context, invoiceID string, amount int64, method string, gatewayRef *string) (*RecordPaymentResult, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = "manual"
	}

	invoice, err := s.repo.GetInvoiceByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.RemainingAmount <= 0 {
		return nil, store.ErrInvoiceSettled
	}

	nextPeriod, err := domain.NextPeriod(invoice.Period)
	if err != nil {
		return nil, err
	}

	now := time.Now().In(s.loc)
	params := store.RecordPaymentParams{
		InvoiceID:  invoiceID,
		Amount:     amount,
		Method:     method,
		GatewayRef: gatewayRef,
		PaidAt:     now,
		Now:        now,
		CarryOverNumberFor: func(seq int64) string {
			return domain.FormatInvoiceNumber(nextPeriod, seq)
		},
		CarryOverDueOffset: s.carryOverDueOffset,
	}

	var outcome *store.RecordPaymentOutcome
	for attempt := 0; attempt <= s.numberRetries; attempt++ {
		params.PaymentID = uuid.NewString()
		params.CarryOverInvoiceID = uuid.NewString()

		outcome, err = s.repo.RecordPayment(ctx, params)
		if err == store.ErrNumberCollision {
			s.logger.Warn("carry-over invoice number collision, retrying payment transaction",
				"invoice_id", invoiceID, "attempt", attempt+1)
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	s.publishPaymentRecorded(invoiceID, *outcome, amount, method, params.PaidAt)

	return &RecordPaymentResult{
		PaymentID:          outcome.PaymentID,
		InvoiceID:          invoiceID,
		Status:             outcome.Status,
		Settled:            outcome.Settled,
		CarryOverInvoiceID: outcome.CarryOverID,
	}, nil
}

// publishPaymentRecorded emits the post-commit event on its own goroutine and
// context. The caller never waits on it and a publish failure is only logged;
// the committed payment is the source of truth regardless.
func (s *PaymentService) publishPaymentRecorded(invoiceID string, outcome store.RecordPaymentOutcome, amount int64, method string, paidAt time.Time) {
	if s.publisher == nil {
		return
	}

	event := domain.PaymentRecordedEvent{
		PaymentID:      outcome.PaymentID,
		InvoiceID:      invoiceID,
		CustomerID:     outcome.CustomerID,
		Amount:         amount,
		Method:         method,
		PaidAt:         paidAt,
		DueDate:        outcome.DueDate,
		InvoiceSettled: outcome.Settled,
		CarryOverID:    outcome.CarryOverID,
		Timestamp:      time.Now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, domain.EventsExchange, domain.EventPaymentRecorded, event); err != nil {
			s.logger.Warn("failed to publish payment recorded event", "payment_id", event.PaymentID, "error", err)
		}
	}()
}
