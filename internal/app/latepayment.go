/**
 * @description
 * Rolling late-payment counter service: event-driven tracking, audited admin
 * mutations, and the daily drift-correcting recalculation sweep.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
)

var (
	ErrReasonRequired = errors.New("a reason is required for counter mutations")
	ErrZeroDelta      = errors.New("adjustment delta must not be zero")
)

// LatePaymentRepository defines the database operations the tracker needs.
type LatePaymentRepository interface {
	TrackPayment(ctx context.Context, p store.TrackPaymentParams) (bool, error)
	GetLatePaymentRecord(ctx context.Context, customerID string) (*domain.LatePaymentRecord, error)
	ResetLatePaymentCounter(ctx context.Context, customerID, adminID, reason string) (*domain.LatePaymentAuditLog, error)
	AdjustLatePaymentCounter(ctx context.Context, customerID, adminID string, delta int, reason string) (*domain.LatePaymentAuditLog, error)
	ListLatePaymentAuditLogs(ctx context.Context, customerID string, limit int) ([]domain.LatePaymentAuditLog, error)
	ListTrackedCustomerIDs(ctx context.Context, since time.Time) ([]string, error)
	RecalculateCustomer(ctx context.Context, customerID string, since time.Time) error
}

// LatePaymentService maintains the per-customer late-payment counters.
type LatePaymentService struct {
	repo   LatePaymentRepository
	logger *slog.Logger
	loc    *time.Location

	onTimeResetThreshold int
	recalcWindowMonths   int
}

// NewLatePaymentService creates the tracker service.
func NewLatePaymentService(repo LatePaymentRepository, logger *slog.Logger, loc *time.Location, onTimeResetThreshold, recalcWindowMonths int) *LatePaymentService {
	return &LatePaymentService{
		repo:                 repo,
		logger:               logger,
		loc:                  loc,
		onTimeResetThreshold: onTimeResetThreshold,
		recalcWindowMonths:   recalcWindowMonths,
	}
}

// TrackPayment records one payment observation. A payment is late iff it
// landed after the invoice due date. Re-delivery of the same
// (invoice, payment) pair is a no-op.
func (s *LatePaymentService) TrackPayment(ctx context.Context, invoiceID, paymentID, customerID string, paidAt, dueDate time.Time) error {
	tracked, err := s.repo.TrackPayment(ctx, store.TrackPaymentParams{
		InvoiceID:            invoiceID,
		PaymentID:            paymentID,
		CustomerID:           customerID,
		Late:                 paidAt.After(dueDate),
		PaidAt:               paidAt,
		OnTimeResetThreshold: s.onTimeResetThreshold,
	})
	if err != nil {
		return err
	}
	if !tracked {
		s.logger.Info("payment already tracked, skipping", "invoice_id", invoiceID, "payment_id", paymentID)
	}
	return nil
}

// LatePaymentStats is the read surface for a customer's counter state.
type LatePaymentStats struct {
	Record    *domain.LatePaymentRecord    `json:"record"`
	AuditLogs []domain.LatePaymentAuditLog `json:"audit_logs"`
}

// GetStats returns a customer's counter state and recent audit trail.
func (s *LatePaymentService) GetStats(ctx context.Context, customerID string) (*LatePaymentStats, error) {
	record, err := s.repo.GetLatePaymentRecord(ctx, customerID)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.ListLatePaymentAuditLogs(ctx, customerID, 20)
	if err != nil {
		return nil, err
	}
	return &LatePaymentStats{Record: record, AuditLogs: logs}, nil
}

// ResetCounter zeroes a customer's counter, writing the audit row in the same
// transaction as the change.
func (s *LatePaymentService) ResetCounter(ctx context.Context, customerID, adminID, reason string) (*domain.LatePaymentAuditLog, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	return s.repo.ResetLatePaymentCounter(ctx, customerID, adminID, reason)
}

// AdjustCounter moves a customer's counter by delta, clamped at zero.
func (s *LatePaymentService) AdjustCounter(ctx context.Context, customerID, adminID string, delta int, reason string) (*domain.LatePaymentAuditLog, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	if delta == 0 {
		return nil, ErrZeroDelta
	}
	return s.repo.AdjustLatePaymentCounter(ctx, customerID, adminID, delta, reason)
}

// BatchResult reports per-item outcomes of a batch mutation.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// BatchResetCounters resets many customers' counters, continuing past
// individual failures.
func (s *LatePaymentService) BatchResetCounters(ctx context.Context, customerIDs []string, adminID, reason string) (*BatchResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}

	result := &BatchResult{}
	for _, customerID := range customerIDs {
		if _, err := s.repo.ResetLatePaymentCounter(ctx, customerID, adminID, reason); err != nil {
			s.logger.Error("batch counter reset failed for customer", "customer_id", customerID, "error", err)
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, customerID)
			continue
		}
		result.Processed++
	}
	return result, nil
}

// RecalcResult summarizes a daily recalculation sweep.
type RecalcResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// DailyRecalculation rebuilds every tracked customer's counters from payment
// history within the trailing window, correcting drift from missed tracking
// calls. Per-customer failures are counted, never thrown out of the batch.
func (s *LatePaymentService) DailyRecalculation(ctx context.Context) (*RecalcResult, error) {
	since := time.Now().In(s.loc).AddDate(0, -s.recalcWindowMonths, 0)

	customerIDs, err := s.repo.ListTrackedCustomerIDs(ctx, since)
	if err != nil {
		return nil, err
	}

	result := &RecalcResult{}
	for _, customerID := range customerIDs {
		itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
		err := s.repo.RecalculateCustomer(itemCtx, customerID, since)
		cancel()
		if err != nil {
			s.logger.Error("late payment recalculation failed for customer", "customer_id", customerID, "error", err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	s.logger.Info("late payment recalculation finished", "processed", result.Processed, "failed", result.Failed)
	return result, nil
}
