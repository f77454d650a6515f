/**
 * @description
 * Rolling late-payment counter state and its audit trail.
 */
package domain

import "time"

// LatePaymentRecord is the per-customer rolling counter. The counter only
// moves through TrackPayment, the daily recalculation, or an audited admin
// mutation.
type LatePaymentRecord struct {
	CustomerID                string     `json:"customer_id"`
	LatePaymentCount          int        `json:"late_payment_count"`
	LastLatePaymentDate       *time.Time `json:"last_late_payment_date,omitempty"`
	ConsecutiveOnTimePayments int        `json:"consecutive_on_time_payments"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// LatePaymentAuditLog records a manual reset or adjustment of the counter.
// The audit row and the counter change commit in the same transaction.
type LatePaymentAuditLog struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	AdminID     string    `json:"admin_id"`
	Reason      string    `json:"reason"`
	CountBefore int       `json:"count_before"`
	CountAfter  int       `json:"count_after"`
	Delta       int       `json:"delta"`
	CreatedAt   time.Time `json:"created_at"`
}
