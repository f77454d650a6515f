/**
 * @description
 * Discount and SLA rebate application. Invoice totals are recomputed by the
 * store inside the same transaction as every discount mutation.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/netbill/billing-service/internal/domain"
	"github.com/netbill/billing-service/internal/store"
)

// DiscountRepository defines the database operations the discount service needs.
type DiscountRepository interface {
	ApplyDiscount(ctx context.Context, d domain.Discount, now time.Time) (*domain.Invoice, error)
	RemoveDiscount(ctx context.Context, discountID string, now time.Time) (*domain.Invoice, error)
	ListDiscountsByInvoiceID(ctx context.Context, invoiceID string) ([]domain.Discount, error)
	GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error)
	GetInvoiceByCustomerAndPeriod(ctx context.Context, customerID, period string) (*domain.Invoice, error)
	GetUptimeStats(ctx context.Context, customerID string, periodStart, periodEnd time.Time) (*domain.UptimeStats, error)
	ListCustomersWithSLATarget(ctx context.Context) ([]domain.Customer, error)
}

// DiscountService applies manual, promotional and SLA-derived discounts.
type DiscountService struct {
	repo   DiscountRepository
	logger *slog.Logger
	loc    *time.Location

	slaRatePerPoint int64
}

// NewDiscountService creates the discount calculator.
func NewDiscountService(repo DiscountRepository, logger *slog.Logger, loc *time.Location, slaRatePerPoint int64) *DiscountService {
	return &DiscountService{repo: repo, logger: logger, loc: loc, slaRatePerPoint: slaRatePerPoint}
}

// ApplyDiscount validates and stacks a discount onto an invoice, returning
// the invoice with recomputed totals.
func (s *DiscountService) ApplyDiscount(ctx context.Context, invoiceID, discountType string, value int64, reason, appliedBy string) (*domain.Invoice, error) {
	if !domain.ValidDiscountType(discountType) {
		return nil, domain.ErrUnknownDiscount
	}
	if value <= 0 {
		return nil, domain.ErrInvalidDiscount
	}
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}

	return s.repo.ApplyDiscount(ctx, domain.Discount{
		ID:        uuid.NewString(),
		InvoiceID: invoiceID,
		Type:      discountType,
		Value:     value,
		Reason:    reason,
		AppliedBy: appliedBy,
	}, time.Now().In(s.loc))
}

// RemoveDiscount deletes a discount and returns the invoice with recomputed
// totals.
func (s *DiscountService) RemoveDiscount(ctx context.Context, discountID string) (*domain.Invoice, error) {
	return s.repo.RemoveDiscount(ctx, discountID, time.Now().In(s.loc))
}

// ListInvoiceDiscounts returns an invoice's discounts.
func (s *DiscountService) ListInvoiceDiscounts(ctx context.Context, invoiceID string) ([]domain.Discount, error) {
	return s.repo.ListDiscountsByInvoiceID(ctx, invoiceID)
}

// SLARebateResult reports an SLA evaluation for one customer and period.
type SLARebateResult struct {
	CustomerID    string  `json:"customer_id"`
	Period        string  `json:"period"`
	TargetPercent float64 `json:"target_percent"`
	ActualPercent float64 `json:"actual_percent"`
	RebateAmount  int64   `json:"rebate_amount"`
	Applied       bool    `json:"applied"`
}

// ApplySLARebate measures a customer's uptime for the period against their
// SLA target and, when below target, applies one sla discount of
// (target - actual) x per-point rate to the period's invoice, with the
// derivation recorded in the discount reason.
func (s *DiscountService) ApplySLARebate(ctx context.Context, customerID, period string) (*SLARebateResult, error) {
	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if customer.SLATarget == nil {
		return &SLARebateResult{CustomerID: customerID, Period: period}, nil
	}
	target := *customer.SLATarget

	periodStart, err := domain.ParsePeriod(period, s.loc)
	if err != nil {
		return nil, err
	}
	periodEnd := periodStart.AddDate(0, 1, 0)

	stats, err := s.repo.GetUptimeStats(ctx, customerID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	actual := stats.UptimePercent()

	result := &SLARebateResult{
		CustomerID:    customerID,
		Period:        period,
		TargetPercent: target,
		ActualPercent: actual,
	}
	if actual >= target {
		return result, nil
	}

	rebate := int64(math.Round((target - actual) * float64(s.slaRatePerPoint)))
	if rebate <= 0 {
		return result, nil
	}

	invoice, err := s.repo.GetInvoiceByCustomerAndPeriod(ctx, customerID, period)
	if err != nil {
		return nil, err
	}

	reason := fmt.Sprintf("SLA rebate: uptime %.2f%% (%d/%d checks) below target %.2f%%, %.2f points x Rp%d",
		actual, stats.OnlineChecks, stats.TotalChecks, target, target-actual, s.slaRatePerPoint)

	if _, err := s.repo.ApplyDiscount(ctx, domain.Discount{
		ID:        uuid.NewString(),
		InvoiceID: invoice.ID,
		Type:      domain.DiscountTypeSLA,
		Value:     rebate,
		Reason:    reason,
		AppliedBy: "system",
	}, time.Now().In(s.loc)); err != nil {
		return nil, err
	}

	result.RebateAmount = rebate
	result.Applied = true
	return result, nil
}

// SLASweepResult summarizes an SLA rebate sweep over all enrolled customers.
type SLASweepResult struct {
	Period    string `json:"period"`
	Evaluated int    `json:"evaluated"`
	Applied   int    `json:"applied"`
	Failed    int    `json:"failed"`
}

// RunSLASweep evaluates every SLA-enrolled customer for the period,
// continuing past individual failures. Customers without an invoice for the
// period are skipped, not failed.
func (s *DiscountService) RunSLASweep(ctx context.Context, period string) (*SLASweepResult, error) {
	customers, err := s.repo.ListCustomersWithSLATarget(ctx)
	if err != nil {
		return nil, err
	}

	result := &SLASweepResult{Period: period, Evaluated: len(customers)}
	for _, customer := range customers {
		itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
		rebate, err := s.ApplySLARebate(itemCtx, customer.ID, period)
		cancel()
		if errors.Is(err, store.ErrInvoiceNotFound) {
			continue
		}
		if err != nil {
			s.logger.Error("sla rebate failed for customer", "customer_id", customer.ID, "period", period, "error", err)
			result.Failed++
			continue
		}
		if rebate.Applied {
			result.Applied++
		}
	}
	return result, nil
}
