/**
 * @description
 * Customer and isolation-log queries for the enforcement sweeps. Status
 * transitions and their log entries commit together.
 */
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/netbill/billing-service/internal/domain"
)

const customerColumns = `id, name, status, billing_mode, custom_deadline_day,
       custom_grace_days, odc_id, sla_target, created_at, updated_at`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.BillingMode,
		&c.CustomDeadlineDay,
		&c.CustomGraceDays,
		&c.OdcID,
		&c.SLATarget,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomerByID retrieves one customer.
func (r *Repository) GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, customerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *Repository) listCustomers(ctx context.Context, query string, args ...any) ([]domain.Customer, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []domain.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

const qualifiedCustomerColumns = `c.id, c.name, c.status, c.billing_mode, c.custom_deadline_day,
       c.custom_grace_days, c.odc_id, c.sla_target, c.created_at, c.updated_at`

// ListRestorableCustomers finds suspended customers with nothing left unpaid.
func (r *Repository) ListRestorableCustomers(ctx context.Context) ([]domain.Customer, error) {
	return r.listCustomers(ctx, `
		SELECT `+qualifiedCustomerColumns+`
		FROM customers c
		WHERE c.status = $1
		  AND NOT EXISTS (
			SELECT 1 FROM invoices i
			WHERE i.customer_id = c.id AND i.remaining_amount > 0
		  )
		ORDER BY c.created_at ASC
	`, domain.CustomerStatusSuspended)
}

// ListCustomersByOdc returns every customer in an ODC group.
func (r *Repository) ListCustomersByOdc(ctx context.Context, odcID string) ([]domain.Customer, error) {
	return r.listCustomers(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE odc_id = $1
		ORDER BY created_at ASC
	`, odcID)
}

// ListCustomersOwingForPeriod returns active customers with an unpaid invoice
// for the period, regardless of billing mode. The isolation sweep and the
// warning sub-flows both read this set, so a customer is never warned about a
// suspension the sweep would not perform. Deadline evaluation happens in the
// service; this only narrows the set.
func (r *Repository) ListCustomersOwingForPeriod(ctx context.Context, period string) ([]domain.Customer, error) {
	return r.listCustomers(ctx, `
		SELECT DISTINCT `+qualifiedCustomerColumns+`
		FROM customers c
		JOIN invoices i ON i.customer_id = c.id
		WHERE c.status = $1
		  AND i.period = $2
		  AND i.remaining_amount > 0
		ORDER BY c.created_at ASC
	`, domain.CustomerStatusActive, period)
}

// ListCustomersWithSLATarget returns customers enrolled in SLA rebates.
func (r *Repository) ListCustomersWithSLATarget(ctx context.Context) ([]domain.Customer, error) {
	return r.listCustomers(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE sla_target IS NOT NULL
		ORDER BY created_at ASC
	`)
}

// TransitionCustomerStatus flips a customer's status and appends the matching
// isolation-log entry in one transaction. It reports false when the customer
// was not in the expected source status, which makes concurrent sweeps safe to
// overlap on the same customer.
func (r *Repository) TransitionCustomerStatus(ctx context.Context, customerID, fromStatus, toStatus, action, reason string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE customers
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, customerID, toStatus, fromStatus)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO isolation_logs (id, customer_id, action, reason)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), customerID, action, reason); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// ListIsolationLogs returns a customer's suspend/restore history, newest first.
func (r *Repository) ListIsolationLogs(ctx context.Context, customerID string, limit int) ([]domain.IsolationLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, customer_id, action, reason, created_at
		FROM isolation_logs
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []domain.IsolationLog
	for rows.Next() {
		var l domain.IsolationLog
		if err := rows.Scan(&l.ID, &l.CustomerID, &l.Action, &l.Reason, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
