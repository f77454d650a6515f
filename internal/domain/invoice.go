/**
 * @description
 * Invoice and payment entities for the billing engine, plus the single
 * status-derivation function every write path must go through.
 */
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Invoice statuses. Status is never stored independently of the derivation
// in DeriveInvoiceStatus.
const (
	InvoiceStatusDraft   = "draft"
	InvoiceStatusSent    = "sent"
	InvoiceStatusPartial = "partial"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusOverdue = "overdue"
)

var (
	ErrInvalidAmount   = errors.New("payment amount must be greater than zero")
	ErrInvalidPeriod   = errors.New("billing period must be formatted as YYYY-MM")
	ErrInvalidDiscount = errors.New("discount value must be greater than zero")
	ErrUnknownDiscount = errors.New("unknown discount type")
)

// Invoice is a billing document for one customer and one period.
// All monetary fields are rupiah, no fractional units.
type Invoice struct {
	ID              string    `json:"id"`
	Number          string    `json:"number"`
	CustomerID      string    `json:"customer_id"`
	SubscriptionID  *string   `json:"subscription_id,omitempty"`
	Period          string    `json:"period"`
	DueDate         time.Time `json:"due_date"`
	Subtotal        int64     `json:"subtotal"`
	DiscountAmount  int64     `json:"discount_amount"`
	TotalAmount     int64     `json:"total_amount"`
	PaidAmount      int64     `json:"paid_amount"`
	RemainingAmount int64     `json:"remaining_amount"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AbsorbCharge folds an additional charge into the invoice: the subtotal grows
// by amount and total, remaining and status are re-derived. A customer carries
// at most one invoice per period, so a charge landing on an already-invoiced
// period must be absorbed by the existing row rather than create a second one.
func (inv *Invoice) AbsorbCharge(amount int64, now time.Time) {
	inv.Subtotal += amount
	inv.TotalAmount = inv.Subtotal - inv.DiscountAmount
	if inv.TotalAmount < 0 {
		inv.TotalAmount = 0
	}
	inv.RemainingAmount = inv.TotalAmount - inv.PaidAmount
	inv.Status = DeriveInvoiceStatus(inv.PaidAmount, inv.TotalAmount, inv.DueDate, now)
}

// Payment is an append-only ledger row against an invoice. The sum of an
// invoice's payments is the sole source of truth for its paid amount.
type Payment struct {
	ID         string    `json:"id"`
	InvoiceID  string    `json:"invoice_id"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	GatewayRef *string   `json:"gateway_ref,omitempty"`
	PaidAt     time.Time `json:"paid_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Subscription links a customer to a package. The monthly price is snapshotted
// into each invoice at generation time; later price changes never touch
// already-issued invoices.
type Subscription struct {
	ID            string     `json:"id"`
	CustomerID    string     `json:"customer_id"`
	PackageName   string     `json:"package_name"`
	MonthlyPrice  int64      `json:"monthly_price"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

// DeriveInvoiceStatus computes an invoice status from its amounts and due
// date. Every code path that mutates an invoice must write the status this
// function returns; nothing else may set it.
func DeriveInvoiceStatus(paidAmount, totalAmount int64, dueDate, now time.Time) string {
	switch {
	case paidAmount >= totalAmount:
		return InvoiceStatusPaid
	case paidAmount > 0:
		return InvoiceStatusPartial
	case now.After(dueDate):
		return InvoiceStatusOverdue
	default:
		return InvoiceStatusSent
	}
}

// ParsePeriod validates a YYYY-MM billing period and returns the first day of
// that month in the given location.
func ParsePeriod(period string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01", period, loc)
	if err != nil {
		return time.Time{}, ErrInvalidPeriod
	}
	return t, nil
}

// NextPeriod returns the YYYY-MM period immediately after the given one.
func NextPeriod(period string) (string, error) {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return "", ErrInvalidPeriod
	}
	return t.AddDate(0, 1, 0).Format("2006-01"), nil
}

// PreviousPeriod returns the YYYY-MM period immediately before the given time.
func PreviousPeriod(now time.Time) string {
	return now.AddDate(0, -1, 0).Format("2006-01")
}

// FormatInvoiceNumber builds a period-scoped invoice number, e.g.
// INV/202501/00042. Sequence numbers are monotonic within a period.
func FormatInvoiceNumber(period string, seq int64) string {
	compact := period[:4] + period[5:]
	return fmt.Sprintf("INV/%s/%05d", compact, seq)
}
