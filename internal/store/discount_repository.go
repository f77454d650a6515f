/**
 * @description
 * Discount persistence. Every insert or removal recomputes the owning
 * invoice's totals inside the same transaction so the total/remaining/status
 * invariants cannot drift.
 */
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/netbill/billing-service/internal/domain"
)

// ApplyDiscount inserts a discount row and re-derives the invoice aggregates
// in one transaction. Returns the updated invoice.
func (r *Repository) ApplyDiscount(ctx context.Context, d domain.Discount, now time.Time) (*domain.Invoice, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO discounts (id, invoice_id, type, value, reason, applied_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.InvoiceID, d.Type, d.Value, d.Reason, d.AppliedBy); err != nil {
		return nil, err
	}

	inv, err := recomputeInvoiceTotals(ctx, tx, d.InvoiceID, now)
	if err != nil {
		return nil, err
	}

	return inv, tx.Commit(ctx)
}

// RemoveDiscount deletes a discount and re-derives the invoice aggregates in
// one transaction.
func (r *Repository) RemoveDiscount(ctx context.Context, discountID string, now time.Time) (*domain.Invoice, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var invoiceID string
	if err := tx.QueryRow(ctx, `
		DELETE FROM discounts WHERE id = $1 RETURNING invoice_id
	`, discountID).Scan(&invoiceID); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDiscountNotFound
		}
		return nil, err
	}

	inv, err := recomputeInvoiceTotals(ctx, tx, invoiceID, now)
	if err != nil {
		return nil, err
	}

	return inv, tx.Commit(ctx)
}

// recomputeInvoiceTotals re-applies the billing invariants for one invoice:
// discount_amount = sum of discount rows, total = subtotal - discounts clamped
// at zero, remaining = total - paid, status derived.
func recomputeInvoiceTotals(ctx context.Context, tx pgx.Tx, invoiceID string, now time.Time) (*domain.Invoice, error) {
	inv, err := scanInvoice(tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}

	var discountTotal int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(value), 0) FROM discounts WHERE invoice_id = $1
	`, invoiceID).Scan(&discountTotal); err != nil {
		return nil, err
	}

	total := inv.Subtotal - discountTotal
	if total < 0 {
		total = 0
	}
	remaining := total - inv.PaidAmount
	status := domain.DeriveInvoiceStatus(inv.PaidAmount, total, inv.DueDate, now)

	updated, err := scanInvoice(tx.QueryRow(ctx, `
		UPDATE invoices
		SET discount_amount = $2,
		    total_amount = $3,
		    remaining_amount = $4,
		    status = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+invoiceColumns, invoiceID, discountTotal, total, remaining, status))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListDiscountsByInvoiceID returns an invoice's discounts, oldest first.
func (r *Repository) ListDiscountsByInvoiceID(ctx context.Context, invoiceID string) ([]domain.Discount, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, invoice_id, type, value, reason, applied_by, created_at
		FROM discounts
		WHERE invoice_id = $1
		ORDER BY created_at ASC
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var discounts []domain.Discount
	for rows.Next() {
		var d domain.Discount
		if err := rows.Scan(&d.ID, &d.InvoiceID, &d.Type, &d.Value, &d.Reason, &d.AppliedBy, &d.CreatedAt); err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

// GetUptimeStats counts uptime checks for a customer within a period's month.
func (r *Repository) GetUptimeStats(ctx context.Context, customerID string, periodStart, periodEnd time.Time) (*domain.UptimeStats, error) {
	var stats domain.UptimeStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE online)
		FROM uptime_checks
		WHERE customer_id = $1
		  AND checked_at >= $2
		  AND checked_at < $3
	`, customerID, periodStart, periodEnd).Scan(&stats.TotalChecks, &stats.OnlineChecks)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
