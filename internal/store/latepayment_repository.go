/**
 * @description
 * Rolling late-payment counter persistence. Tracking is keyed by
 * (invoice_id, payment_id) so replayed payment events cannot double count,
 * and every admin mutation commits together with its audit row.
 */
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netbill/billing-service/internal/domain"
)

// GetLatePaymentRecord returns the customer's counter state, zero-valued when
// the customer has never been tracked.
func (r *Repository) GetLatePaymentRecord(ctx context.Context, customerID string) (*domain.LatePaymentRecord, error) {
	var rec domain.LatePaymentRecord
	err := r.db.QueryRow(ctx, `
		SELECT customer_id, late_payment_count, last_late_payment_date,
		       consecutive_on_time_payments, updated_at
		FROM late_payment_records
		WHERE customer_id = $1
	`, customerID).Scan(
		&rec.CustomerID,
		&rec.LatePaymentCount,
		&rec.LastLatePaymentDate,
		&rec.ConsecutiveOnTimePayments,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &domain.LatePaymentRecord{CustomerID: customerID}, nil
		}
		return nil, err
	}
	return &rec, nil
}

// TrackPaymentParams is the input for TrackPayment.
type TrackPaymentParams struct {
	InvoiceID  string
	PaymentID  string
	CustomerID string
	Late       bool
	PaidAt     time.Time

	// Consecutive on-time payments needed before the late counter steps back
	// down by one.
	OnTimeResetThreshold int
}

// TrackPayment applies one payment observation to the customer's counter.
// The idempotency event insert and the counter mutation share a transaction;
// when the (invoice, payment) pair was already tracked nothing changes and
// tracked is false.
func (r *Repository) TrackPayment(ctx context.Context, p TrackPaymentParams) (tracked bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO late_payment_events (invoice_id, payment_id, customer_id, late)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (invoice_id, payment_id) DO NOTHING
	`, p.InvoiceID, p.PaymentID, p.CustomerID, p.Late)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	rec, err := lockLatePaymentRecord(ctx, tx, p.CustomerID)
	if err != nil {
		return false, err
	}

	if p.Late {
		rec.LatePaymentCount++
		rec.ConsecutiveOnTimePayments = 0
		paidAt := p.PaidAt
		rec.LastLatePaymentDate = &paidAt
	} else {
		rec.ConsecutiveOnTimePayments++
		if rec.ConsecutiveOnTimePayments >= p.OnTimeResetThreshold {
			if rec.LatePaymentCount > 0 {
				rec.LatePaymentCount--
			}
			rec.ConsecutiveOnTimePayments = 0
		}
	}

	if err := updateLatePaymentRecord(ctx, tx, rec); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// lockLatePaymentRecord ensures the per-customer row exists and locks it for
// the remainder of the transaction.
func lockLatePaymentRecord(ctx context.Context, tx pgx.Tx, customerID string) (*domain.LatePaymentRecord, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO late_payment_records (customer_id)
		VALUES ($1)
		ON CONFLICT (customer_id) DO NOTHING
	`, customerID); err != nil {
		return nil, err
	}

	var rec domain.LatePaymentRecord
	if err := tx.QueryRow(ctx, `
		SELECT customer_id, late_payment_count, last_late_payment_date,
		       consecutive_on_time_payments, updated_at
		FROM late_payment_records
		WHERE customer_id = $1
		FOR UPDATE
	`, customerID).Scan(
		&rec.CustomerID,
		&rec.LatePaymentCount,
		&rec.LastLatePaymentDate,
		&rec.ConsecutiveOnTimePayments,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

func updateLatePaymentRecord(ctx context.Context, tx pgx.Tx, rec *domain.LatePaymentRecord) error {
	_, err := tx.Exec(ctx, `
		UPDATE late_payment_records
		SET late_payment_count = $2,
		    last_late_payment_date = $3,
		    consecutive_on_time_payments = $4,
		    updated_at = NOW()
		WHERE customer_id = $1
	`, rec.CustomerID, rec.LatePaymentCount, rec.LastLatePaymentDate, rec.ConsecutiveOnTimePayments)
	return err
}

// adjustCounter applies an audited counter change. after is clamped at zero;
// the audit row records before, after and the requested delta.
func (r *Repository) adjustCounter(ctx context.Context, customerID, adminID, reason string, computeAfter func(before int) int) (*domain.LatePaymentAuditLog, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rec, err := lockLatePaymentRecord(ctx, tx, customerID)
	if err != nil {
		return nil, err
	}

	before := rec.LatePaymentCount
	after := computeAfter(before)
	if after < 0 {
		after = 0
	}

	audit := &domain.LatePaymentAuditLog{
		ID:          uuid.NewString(),
		CustomerID:  customerID,
		AdminID:     adminID,
		Reason:      reason,
		CountBefore: before,
		CountAfter:  after,
		Delta:       after - before,
	}

	// Audit first, then the change, one transaction for both.
	if err := tx.QueryRow(ctx, `
		INSERT INTO late_payment_audit_logs (id, customer_id, admin_id, reason, count_before, count_after, delta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, audit.ID, audit.CustomerID, audit.AdminID, audit.Reason, audit.CountBefore, audit.CountAfter, audit.Delta).Scan(&audit.CreatedAt); err != nil {
		return nil, err
	}

	rec.LatePaymentCount = after
	if err := updateLatePaymentRecord(ctx, tx, rec); err != nil {
		return nil, err
	}

	return audit, tx.Commit(ctx)
}

// ResetLatePaymentCounter zeroes the counter with an audit trail.
func (r *Repository) ResetLatePaymentCounter(ctx context.Context, customerID, adminID, reason string) (*domain.LatePaymentAuditLog, error) {
	return r.adjustCounter(ctx, customerID, adminID, reason, func(int) int { return 0 })
}

// AdjustLatePaymentCounter moves the counter by delta with an audit trail.
func (r *Repository) AdjustLatePaymentCounter(ctx context.Context, customerID, adminID string, delta int, reason string) (*domain.LatePaymentAuditLog, error) {
	return r.adjustCounter(ctx, customerID, adminID, reason, func(before int) int { return before + delta })
}

// ListLatePaymentAuditLogs returns a customer's audit trail, newest first.
func (r *Repository) ListLatePaymentAuditLogs(ctx context.Context, customerID string, limit int) ([]domain.LatePaymentAuditLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, customer_id, admin_id, reason, count_before, count_after, delta, created_at
		FROM late_payment_audit_logs
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.LatePaymentAuditLog
	for rows.Next() {
		var l domain.LatePaymentAuditLog
		if err := rows.Scan(&l.ID, &l.CustomerID, &l.AdminID, &l.Reason, &l.CountBefore, &l.CountAfter, &l.Delta, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListTrackedCustomerIDs returns customers with settled invoices inside the
// recalculation window.
func (r *Repository) ListTrackedCustomerIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT i.customer_id
		FROM invoices i
		JOIN payments p ON p.invoice_id = i.id
		WHERE i.due_date >= $1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecalculateCustomer rebuilds the rolling counters from the payment history
// inside the window, correcting drift from any missed tracking calls. An
// invoice counts as late when its earliest payment landed after the due date;
// the on-time streak is the run of on-time invoices ending at the most recent
// due date.
func (r *Repository) RecalculateCustomer(ctx context.Context, customerID string, since time.Time) error {
	rows, err := r.db.Query(ctx, `
		SELECT i.due_date, MIN(p.paid_at) AS first_paid_at
		FROM invoices i
		JOIN payments p ON p.invoice_id = i.id
		WHERE i.customer_id = $1
		  AND i.due_date >= $2
		GROUP BY i.id, i.due_date
		ORDER BY i.due_date DESC
	`, customerID, since)
	if err != nil {
		return err
	}
	defer rows.Close()

	var (
		lateCount int
		lastLate  *time.Time
		streak    int
		streakEnd bool
	)
	for rows.Next() {
		var dueDate, firstPaidAt time.Time
		if err := rows.Scan(&dueDate, &firstPaidAt); err != nil {
			return err
		}
		if firstPaidAt.After(dueDate) {
			lateCount++
			if lastLate == nil || firstPaidAt.After(*lastLate) {
				paidAt := firstPaidAt
				lastLate = &paidAt
			}
			streakEnd = true
		} else if !streakEnd {
			streak++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO late_payment_records (customer_id, late_payment_count, last_late_payment_date, consecutive_on_time_payments)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id) DO UPDATE
		SET late_payment_count = $2,
		    last_late_payment_date = $3,
		    consecutive_on_time_payments = $4,
		    updated_at = NOW()
	`, customerID, lateCount, lastLate, streak)
	return err
}
