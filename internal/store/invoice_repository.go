/**
 * @description
 * Invoice and payment queries, including the single-transaction payment
 * recording path with carry-over creation.
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/netbill/billing-service/internal/domain"
)

const invoiceColumns = `id, number, customer_id, subscription_id, period, due_date,
       subtotal, discount_amount, total_amount, paid_amount, remaining_amount,
       status, notes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := row.Scan(
		&inv.ID,
		&inv.Number,
		&inv.CustomerID,
		&inv.SubscriptionID,
		&inv.Period,
		&inv.DueDate,
		&inv.Subtotal,
		&inv.DiscountAmount,
		&inv.TotalAmount,
		&inv.PaidAmount,
		&inv.RemainingAmount,
		&inv.Status,
		&inv.Notes,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoiceByID retrieves one invoice.
func (r *Repository) GetInvoiceByID(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1`, invoiceColumns)
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

// ListInvoicesByCustomerID retrieves a customer's invoices, newest period first.
func (r *Repository) ListInvoicesByCustomerID(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoices
		WHERE customer_id = $1
		ORDER BY period DESC, created_at DESC
		LIMIT $2
	`, invoiceColumns)
	rows, err := r.db.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// ListActiveSubscriptionsWithoutInvoice finds the generation source set: every
// active subscription whose customer has no subscription-billed invoice for
// the period yet. A carry-over invoice alone does not count as billed; the
// monthly charge still has to land (it folds into the carry-over row).
func (r *Repository) ListActiveSubscriptionsWithoutInvoice(ctx context.Context, period string) ([]domain.Subscription, error) {
	query := `
		SELECT s.id, s.customer_id, s.package_name, s.monthly_price, s.active, s.created_at, s.deactivated_at
		FROM subscriptions s
		WHERE s.active = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM invoices i
			WHERE i.customer_id = s.customer_id
			  AND i.period = $1
			  AND i.subscription_id IS NOT NULL
		  )
		ORDER BY s.created_at ASC
	`
	rows, err := r.db.Query(ctx, query, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.CustomerID, &sub.PackageName, &sub.MonthlyPrice, &sub.Active, &sub.CreatedAt, &sub.DeactivatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// NewInvoice is the input for invoice creation.
type NewInvoice struct {
	ID             string
	Number         string
	CustomerID     string
	SubscriptionID *string
	Period         string
	DueDate        time.Time
	Subtotal       int64
	Notes          string
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so invoice inserts
// and sequence lookups can run inside or outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// nextInvoiceSequence returns the next monotonic sequence number within a
// period, derived from the numeric suffix of existing invoice numbers.
func nextInvoiceSequence(ctx context.Context, q querier, period string) (int64, error) {
	query := `
		SELECT COALESCE(MAX(CAST(SPLIT_PART(number, '/', 3) AS BIGINT)), 0) + 1
		FROM invoices
		WHERE period = $1
	`
	var seq int64
	if err := q.QueryRow(ctx, query, period).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func insertInvoice(ctx context.Context, q querier, in NewInvoice, status string) (*domain.Invoice, error) {
	query := fmt.Sprintf(`
		INSERT INTO invoices (
			id, number, customer_id, subscription_id, period, due_date,
			subtotal, discount_amount, total_amount, paid_amount, remaining_amount,
			status, notes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $7, 0, $7, $8, $9)
		RETURNING %s
	`, invoiceColumns)
	inv, err := scanInvoice(q.QueryRow(ctx, query,
		in.ID, in.Number, in.CustomerID, in.SubscriptionID, in.Period, in.DueDate,
		in.Subtotal, status, in.Notes))
	if err != nil {
		return nil, classifyInvoiceInsertErr(err)
	}
	return inv, nil
}

// CreateInvoice bills the monthly charge for one (customer, period). Normally
// that inserts a fresh sent invoice with subtotal = total = remaining. When a
// carry-over invoice already occupies the period, the charge folds into it
// instead, so the regular fee is still billed without violating the
// one-invoice-per-period constraint. Returns ErrDuplicateInvoice when the
// period was already billed from a subscription and ErrNumberCollision when
// only the number clashed.
func (r *Repository) CreateInvoice(ctx context.Context, in NewInvoice, now time.Time) (*domain.Invoice, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	inv, err := createOrFoldInvoice(ctx, tx, in, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inv, nil
}

func createOrFoldInvoice(ctx context.Context, q querier, in NewInvoice, now time.Time) (*domain.Invoice, error) {
	existing, err := lockInvoiceForPeriod(ctx, q, in.CustomerID, in.Period)
	if err == pgx.ErrNoRows {
		return insertInvoice(ctx, q, in, domain.InvoiceStatusSent)
	}
	if err != nil {
		return nil, err
	}
	if existing.SubscriptionID != nil {
		return nil, ErrDuplicateInvoice
	}
	return foldChargeIntoInvoice(ctx, q, existing, in.Subtotal, in.Notes, now, in.SubscriptionID)
}

// lockInvoiceForPeriod loads and row-locks a customer's invoice for a period
// inside the caller's transaction.
func lockInvoiceForPeriod(ctx context.Context, q querier, customerID, period string) (*domain.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE customer_id = $1 AND period = $2 FOR UPDATE`, invoiceColumns)
	return scanInvoice(q.QueryRow(ctx, query, customerID, period))
}

// foldChargeIntoInvoice absorbs a charge into an invoice that already holds
// the target period. The invoice keeps its number and due date; subtotal grows
// and the dependent aggregates are re-derived. Runs inside the caller's
// transaction.
func foldChargeIntoInvoice(ctx context.Context, q querier, inv *domain.Invoice, amount int64, note string, now time.Time, subscriptionID *string) (*domain.Invoice, error) {
	inv.AbsorbCharge(amount, now)
	if subscriptionID != nil {
		inv.SubscriptionID = subscriptionID
	}
	if note != "" {
		if inv.Notes != "" {
			inv.Notes += "\n"
		}
		inv.Notes += note
	}

	if _, err := q.Exec(ctx, `
		UPDATE invoices
		SET subscription_id = $2,
		    subtotal = $3,
		    total_amount = $4,
		    remaining_amount = $5,
		    status = $6,
		    notes = $7,
		    updated_at = NOW()
		WHERE id = $1
	`, inv.ID, inv.SubscriptionID, inv.Subtotal, inv.TotalAmount, inv.RemainingAmount, inv.Status, inv.Notes); err != nil {
		return nil, err
	}
	return inv, nil
}

// NextInvoiceSequence exposes period-scoped sequence computation for the
// generation path.
func (r *Repository) NextInvoiceSequence(ctx context.Context, period string) (int64, error) {
	return nextInvoiceSequence(ctx, r.db, period)
}

// RecordPaymentParams is the input for RecordPayment.
type RecordPaymentParams struct {
	PaymentID  string
	InvoiceID  string
	Amount     int64
	Method     string
	GatewayRef *string
	PaidAt     time.Time
	Now        time.Time

	// Carry-over policy inputs.
	CarryOverInvoiceID string
	CarryOverNumberFor func(seq int64) string
	CarryOverDueOffset time.Duration
}

// RecordPaymentOutcome reports what the payment transaction did.
type RecordPaymentOutcome struct {
	PaymentID   string
	CustomerID  string
	DueDate     time.Time
	Status      string
	Settled     bool
	CarryOverID *string
}

// RecordPayment executes the whole payment mutation in one transaction: lock
// the invoice row, append the payment, recompute paid amount from the payment
// ledger, move any shortfall onto a carry-over invoice for the next period,
// and write the derived status. Nothing outside this transaction may alter
// invoice aggregates.
func (r *Repository) RecordPayment(ctx context.Context, p RecordPaymentParams) (*RecordPaymentOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1 FOR UPDATE`, invoiceColumns)
	inv, err := scanInvoice(tx.QueryRow(ctx, query, p.InvoiceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if inv.RemainingAmount <= 0 {
		return nil, ErrInvoiceSettled
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, gateway_ref, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.PaymentID, p.InvoiceID, p.Amount, p.Method, p.GatewayRef, p.PaidAt); err != nil {
		return nil, err
	}

	var paid int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1
	`, p.InvoiceID).Scan(&paid); err != nil {
		return nil, err
	}

	outcome := &RecordPaymentOutcome{
		PaymentID:  p.PaymentID,
		CustomerID: inv.CustomerID,
		DueDate:    inv.DueDate,
	}

	subtotal := inv.Subtotal
	total := inv.TotalAmount
	notes := inv.Notes

	shortfall := total - paid
	if shortfall > 0 {
		// Carry-over policy: the shortfall rolls forward exactly once per
		// payment event onto the next period's invoice, and the origin
		// invoice closes at what was actually paid.
		carryOver, err := carryOverShortfall(ctx, tx, inv, shortfall, p)
		if err != nil {
			return nil, err
		}
		outcome.CarryOverID = &carryOver.ID

		subtotal -= shortfall
		total -= shortfall
		if notes != "" {
			notes += "\n"
		}
		notes += fmt.Sprintf("Shortfall Rp%d carried over to invoice %s (period %s)", shortfall, carryOver.Number, carryOver.Period)
	}

	remaining := total - paid
	status := domain.DeriveInvoiceStatus(paid, total, inv.DueDate, p.Now)

	if _, err := tx.Exec(ctx, `
		UPDATE invoices
		SET subtotal = $2,
		    total_amount = $3,
		    paid_amount = $4,
		    remaining_amount = $5,
		    status = $6,
		    notes = $7,
		    updated_at = NOW()
		WHERE id = $1
	`, p.InvoiceID, subtotal, total, paid, remaining, status, notes); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	outcome.Status = status
	outcome.Settled = status == domain.InvoiceStatusPaid
	return outcome, nil
}

// carryOverShortfall moves the unpaid remainder of the origin invoice onto the
// customer's next-period invoice. When that invoice already exists (the
// monthly generation ran before the payment arrived) the shortfall folds into
// it; otherwise a dedicated carry-over invoice is inserted with an explicitly
// computed due date. Either way exactly one invoice ends up holding the
// shortfall. Runs inside the payment transaction.
func carryOverShortfall(ctx context.Context, q querier, origin *domain.Invoice, shortfall int64, p RecordPaymentParams) (*domain.Invoice, error) {
	nextPeriod, err := domain.NextPeriod(origin.Period)
	if err != nil {
		return nil, err
	}
	note := fmt.Sprintf("Carry-over of unpaid Rp%d from invoice %s (period %s)", shortfall, origin.Number, origin.Period)

	existing, err := lockInvoiceForPeriod(ctx, q, origin.CustomerID, nextPeriod)
	if err == nil {
		return foldChargeIntoInvoice(ctx, q, existing, shortfall, note, p.Now, nil)
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}

	in := NewInvoice{
		ID:         p.CarryOverInvoiceID,
		CustomerID: origin.CustomerID,
		Period:     nextPeriod,
		DueDate:    origin.DueDate.Add(p.CarryOverDueOffset),
		Subtotal:   shortfall,
		Notes:      note,
	}

	seq, err := nextInvoiceSequence(ctx, q, nextPeriod)
	if err != nil {
		return nil, err
	}
	in.Number = p.CarryOverNumberFor(seq)

	// A unique violation aborts the surrounding transaction, so no in-place
	// retry here: ErrNumberCollision propagates and the caller re-runs the
	// whole payment transaction a bounded number of times.
	return insertInvoice(ctx, q, in, domain.InvoiceStatusSent)
}

// GetInvoiceByCustomerAndPeriod retrieves a customer's invoice for a period.
func (r *Repository) GetInvoiceByCustomerAndPeriod(ctx context.Context, customerID, period string) (*domain.Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE customer_id = $1 AND period = $2`, invoiceColumns)
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, customerID, period))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

// HasUnpaidInvoices reports whether any invoice still carries a remaining
// amount for the customer.
func (r *Repository) HasUnpaidInvoices(ctx context.Context, customerID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices
			WHERE customer_id = $1 AND remaining_amount > 0
		)
	`, customerID).Scan(&exists)
	return exists, err
}

// ListUnpaidInvoicesForPeriod returns invoices still owing for a period.
func (r *Repository) ListUnpaidInvoicesForPeriod(ctx context.Context, period string) ([]domain.Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoices
		WHERE period = $1 AND remaining_amount > 0
		ORDER BY due_date ASC
	`, invoiceColumns)
	rows, err := r.db.Query(ctx, query, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

// MarkOverdueInvoices flips unpaid, past-due sent invoices to overdue and
// returns them for notification. The derivation rule is the same one
// DeriveInvoiceStatus encodes for the zero-paid past-due case.
func (r *Repository) MarkOverdueInvoices(ctx context.Context, now time.Time) ([]domain.Invoice, error) {
	query := fmt.Sprintf(`
		UPDATE invoices
		SET status = '%s', updated_at = NOW()
		WHERE status = '%s'
		  AND paid_amount = 0
		  AND due_date < $1
		RETURNING %s
	`, domain.InvoiceStatusOverdue, domain.InvoiceStatusSent, invoiceColumns)
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}
