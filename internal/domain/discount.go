/**
 * @description
 * Invoice-scoped discount records. Multiple discounts may stack on one
 * invoice; totals are recomputed after every insert or removal.
 */
package domain

import "time"

// Discount types.
const (
	DiscountTypeManual = "manual"
	DiscountTypeSLA    = "sla"
	DiscountTypePromo  = "promo"
)

// Discount reduces an invoice's total. Value is rupiah, never a percentage.
type Discount struct {
	ID        string    `json:"id"`
	InvoiceID string    `json:"invoice_id"`
	Type      string    `json:"type"`
	Value     int64     `json:"value"`
	Reason    string    `json:"reason"`
	AppliedBy string    `json:"applied_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidDiscountType reports whether t is one of the known discount types.
func ValidDiscountType(t string) bool {
	switch t {
	case DiscountTypeManual, DiscountTypeSLA, DiscountTypePromo:
		return true
	}
	return false
}

// UptimeStats is the SLA measurement input for one customer and period.
type UptimeStats struct {
	TotalChecks  int `json:"total_checks"`
	OnlineChecks int `json:"online_checks"`
}

// UptimePercent returns measured uptime as a percentage, 100 when there are
// no checks for the period.
func (u UptimeStats) UptimePercent() float64 {
	if u.TotalChecks == 0 {
		return 100
	}
	return float64(u.OnlineChecks) / float64(u.TotalChecks) * 100
}
