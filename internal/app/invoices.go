/**
 * @description
 * Invoice lifecycle: monthly generation for active subscriptions, overdue
 * advancement, and payment reminders. Generation is idempotent per
 * (customer, period) and never aborts the batch for one customer.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
)

// itemTimeout bounds each customer's work inside a sweep so one hung record
// cannot stall the whole batch.
const itemTimeout = 15 * time.Second

// InvoiceRepository defines the database operations the invoice service needs.
type InvoiceRepository interface {
	ListActiveSubscriptionsWithoutInvoice(ctx context.Context, period string) ([]domain.Subscription, error)
	CreateInvoice(ctx context.Context, in store.NewInvoice, now time.Time) (*domain.Invoice, error)
	NextInvoiceSequence(ctx context.Context, period string) (int64, error)
	GetInvoiceByID(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	ListInvoicesByCustomerID(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error)
	ListUnpaidInvoicesForPeriod(ctx context.Context, period string) ([]domain.Invoice, error)
	MarkOverdueInvoices(ctx context.Context, now time.Time) ([]domain.Invoice, error)
}

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// NotificationSender delivers templated customer notifications. Callers treat
// every failure as best-effort.
type NotificationSender interface {
	Send(ctx context.Context, customerID, templateCode string, variables map[string]string) error
}

// InvoiceService provides invoice lifecycle operations.
type InvoiceService struct {
	repo      InvoiceRepository
	publisher EventPublisher
	notifier  NotificationSender
	logger    *slog.Logger
	loc       *time.Location

	deadlineDay   int
	numberRetries int
}

// NewInvoiceService creates the invoice lifecycle service.
func NewInvoiceService(repo InvoiceRepository, publisher EventPublisher, notifier NotificationSender, logger *slog.Logger, loc *time.Location, deadlineDay, numberRetries int) *InvoiceService {
	return &InvoiceService{
		repo:          repo,
		publisher:     publisher,
		notifier:      notifier,
		logger:        logger,
		loc:           loc,
		deadlineDay:   deadlineDay,
		numberRetries: numberRetries,
	}
}

// GenerationResult summarizes a monthly generation run.
type GenerationResult struct {
	Period     string   `json:"period"`
	Created    int      `json:"created"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	InvoiceIDs []string `json:"invoice_ids"`
}

// GenerateMonthlyInvoices creates one sent invoice per active subscription
// that does not yet have one for the period. The subscription's current price
// is snapshotted into the invoice; later price changes never reach it.
// Re-running for the same period creates no duplicates.
func (s *InvoiceService) GenerateMonthlyInvoices(ctx context.Context, period string) (*GenerationResult, error) {
	periodStart, err := domain.ParsePeriod(period, s.loc)
	if err != nil {
		return nil, err
	}

	subs, err := s.repo.ListActiveSubscriptionsWithoutInvoice(ctx, period)
	if err != nil {
		return nil, err
	}

	dueDate := time.Date(periodStart.Year(), periodStart.Month(), s.deadlineDay, 23, 59, 59, 0, s.loc)
	result := &GenerationResult{Period: period}

	for _, sub := range subs {
		invoice, err := s.generateForSubscription(ctx, sub, period, dueDate)
		if err == store.ErrDuplicateInvoice {
			result.Skipped++
			continue
		}
		if err != nil {
			s.logger.Error("invoice generation failed for customer", "customer_id", sub.CustomerID, "period", period, "error", err)
			result.Failed++
			continue
		}

		result.Created++
		result.InvoiceIDs = append(result.InvoiceIDs, invoice.ID)
		s.publishInvoiceGenerated(ctx, invoice)
	}

	s.logger.Info("monthly invoice generation finished",
		"period", period, "created", result.Created, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

// generateForSubscription creates one invoice, regenerating the number on a
// collision up to the bounded retry count.
func (s *InvoiceService) generateForSubscription(ctx context.Context, sub domain.Subscription, period string, dueDate time.Time) (*domain.Invoice, error) {
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	subscriptionID := sub.ID
	now := time.Now().In(s.loc)
	for attempt := 0; attempt <= s.numberRetries; attempt++ {
		seq, err := s.repo.NextInvoiceSequence(itemCtx, period)
		if err != nil {
			return nil, err
		}

		invoice, err := s.repo.CreateInvoice(itemCtx, store.NewInvoice{
			ID:             uuid.NewString(),
			Number:         domain.FormatInvoiceNumber(period, seq),
			CustomerID:     sub.CustomerID,
			SubscriptionID: &subscriptionID,
			Period:         period,
			DueDate:        dueDate,
			Subtotal:       sub.MonthlyPrice,
			Notes:          fmt.Sprintf("Monthly fee for package %s", sub.PackageName),
		}, now)
		if err == store.ErrNumberCollision {
			continue
		}
		return invoice, err
	}
	return nil, fmt.Errorf("invoice numbering exhausted %d retries for customer %s: %w", s.numberRetries, sub.CustomerID, store.ErrNumberCollision)
}

// GetInvoice returns one invoice.
func (s *InvoiceService) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return s.repo.GetInvoiceByID(ctx, invoiceID)
}

// ListCustomerInvoices returns a customer's recent invoices.
func (s *InvoiceService) ListCustomerInvoices(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	return s.repo.ListInvoicesByCustomerID(ctx, customerID, 24)
}

// OverdueResult summarizes an overdue advancement run.
type OverdueResult struct {
	MarkedOverdue int `json:"marked_overdue"`
	Notified      int `json:"notified"`
}

// ProcessOverdueInvoices advances unpaid past-due invoices to overdue and
// sends best-effort overdue notices.
func (s *InvoiceService) ProcessOverdueInvoices(ctx context.Context) (*OverdueResult, error) {
	invoices, err := s.repo.MarkOverdueInvoices(ctx, time.Now().In(s.loc))
	if err != nil {
		return nil, err
	}

	result := &OverdueResult{MarkedOverdue: len(invoices)}
	for _, inv := range invoices {
		if err := s.notify(ctx, inv.CustomerID, "invoice_overdue", inv); err != nil {
			s.logger.Warn("overdue notice failed", "invoice_id", inv.ID, "customer_id", inv.CustomerID, "error", err)
			continue
		}
		result.Notified++
	}
	return result, nil
}

// ReminderResult summarizes a payment reminder run.
type ReminderResult struct {
	Evaluated int `json:"evaluated"`
	Notified  int `json:"notified"`
}

// SendPaymentReminders notifies customers whose current-period invoice is
// unpaid and due within daysBefore days. Notification failures never fail the
// run.
func (s *InvoiceService) SendPaymentReminders(ctx context.Context, daysBefore int) (*ReminderResult, error) {
	now := time.Now().In(s.loc)
	period := now.Format("2006-01")

	invoices, err := s.repo.ListUnpaidInvoicesForPeriod(ctx, period)
	if err != nil {
		return nil, err
	}

	cutoff := now.AddDate(0, 0, daysBefore)
	result := &ReminderResult{Evaluated: len(invoices)}
	for _, inv := range invoices {
		if inv.DueDate.Before(now) || inv.DueDate.After(cutoff) {
			continue
		}
		if err := s.notify(ctx, inv.CustomerID, "payment_reminder", inv); err != nil {
			s.logger.Warn("payment reminder failed", "invoice_id", inv.ID, "customer_id", inv.CustomerID, "error", err)
			continue
		}
		result.Notified++
	}
	return result, nil
}

func (s *InvoiceService) notify(ctx context.Context, customerID, templateCode string, inv domain.Invoice) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Send(ctx, customerID, templateCode, map[string]string{
		"invoice_number": inv.Number,
		"period":         inv.Period,
		"due_date":       inv.DueDate.In(s.loc).Format("2006-01-02"),
		"amount":         fmt.Sprintf("%d", inv.RemainingAmount),
	})
}

func (s *InvoiceService) publishInvoiceGenerated(ctx context.Context, inv *domain.Invoice) {
	if s.publisher == nil {
		return
	}
	event := domain.InvoiceGeneratedEvent{
		InvoiceID:  inv.ID,
		CustomerID: inv.CustomerID,
		Period:     inv.Period,
		Number:     inv.Number,
		Total:      inv.TotalAmount,
		DueDate:    inv.DueDate,
		Timestamp:  time.Now(),
	}
	if err := s.publisher.Publish(ctx, domain.EventsExchange, domain.EventInvoiceGenerated, event); err != nil {
		s.logger.Warn("failed to publish invoice generated event", "invoice_id", inv.ID, "error", err)
	}
}
