/**
 * @description
 * Event payloads published to the message broker. The payment.recorded event
 * is published only after the payment transaction commits; its consumer feeds
 * the late-payment tracker and the opportunistic restore path.
 */
package domain

import "time"

// Exchange and routing keys for billing events.
const (
	EventsExchange = "netbill.events"

	EventPaymentRecorded  = "payment.recorded"
	EventInvoiceGenerated = "invoice.generated"
	EventCustomerIsolated = "customer.isolated"
	EventCustomerRestored = "customer.restored"
)

// PaymentRecordedEvent is emitted after a payment transaction commits.
type PaymentRecordedEvent struct {
	PaymentID      string    `json:"payment_id"`
	InvoiceID      string    `json:"invoice_id"`
	CustomerID     string    `json:"customer_id"`
	Amount         int64     `json:"amount"`
	Method         string    `json:"method"`
	PaidAt         time.Time `json:"paid_at"`
	DueDate        time.Time `json:"due_date"`
	InvoiceSettled bool      `json:"invoice_settled"`
	CarryOverID    *string   `json:"carry_over_invoice_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// InvoiceGeneratedEvent is emitted for each invoice created by the monthly
// generation sweep.
type InvoiceGeneratedEvent struct {
	InvoiceID  string    `json:"invoice_id"`
	CustomerID string    `json:"customer_id"`
	Period     string    `json:"period"`
	Number     string    `json:"number"`
	Total      int64     `json:"total_amount"`
	DueDate    time.Time `json:"due_date"`
	Timestamp  time.Time `json:"timestamp"`
}

// CustomerAccessEvent is emitted on isolate and restore transitions so the
// device-access controller can react to the status flag.
type CustomerAccessEvent struct {
	CustomerID string    `json:"customer_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
