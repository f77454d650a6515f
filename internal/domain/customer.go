/**
 * @description
 * Customer entity and the effective-deadline computation used by the
 * isolation/restore enforcer.
 */
package domain

import "time"

// Customer statuses driven by the enforcer.
const (
	CustomerStatusActive    = "active"
	CustomerStatusSuspended = "suspended"
)

// Billing modes.
const (
	BillingModePostpaid = "postpaid"
	BillingModePrepaid  = "prepaid"
)

// Isolation log actions.
const (
	IsolationActionIsolate = "isolate"
	IsolationActionRestore = "restore"
)

// Customer is a billed subscriber. Service access is controlled purely through
// the Status flag; network-level enforcement reacts to it elsewhere.
type Customer struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Status            string    `json:"status"`
	BillingMode       string    `json:"billing_mode"`
	CustomDeadlineDay *int      `json:"custom_deadline_day,omitempty"`
	CustomGraceDays   *int      `json:"custom_grace_days,omitempty"`
	OdcID             *string   `json:"odc_id,omitempty"`
	SLATarget         *float64  `json:"sla_target,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsolationLog is an append-only record of every suspend/restore transition.
type IsolationLog struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// EffectiveDeadline computes the date after which a customer owing on the
// previous billing period may be isolated. The customer's own deadline day and
// grace days win over the system defaults; with no override the default day
// plus one grace day applies. The deadline falls in the month of `now`, i.e.
// the month after the invoice's period.
func (c Customer) EffectiveDeadline(now time.Time, defaultDay, defaultGraceDays int) time.Time {
	day := defaultDay
	grace := defaultGraceDays
	if c.CustomDeadlineDay != nil {
		day = *c.CustomDeadlineDay
	}
	if c.CustomGraceDays != nil {
		grace = *c.CustomGraceDays
	}

	deadline := time.Date(now.Year(), now.Month(), day, 23, 59, 59, 0, now.Location())
	return deadline.AddDate(0, 0, grace)
}
