/**
 * @description
 * Data access layer for the billing service. One Repository over a pgx pool;
 * entity-specific queries live in the sibling files. All multi-row mutations
 * that must be atomic own their transaction here: Begin, deferred Rollback on
 * every exit path, explicit Commit.
 */
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrInvoiceNotFound  = errors.New("invoice not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrDiscountNotFound = errors.New("discount not found")
	ErrSettingNotFound  = errors.New("scheduler setting not found")
	ErrDuplicateInvoice = errors.New("invoice already exists for customer and period")
	ErrNumberCollision  = errors.New("invoice number collision")
	ErrInvoiceSettled   = errors.New("invoice has no remaining amount")
)

// Repository handles database operations for the billing engine.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const (
	uniqueViolationCode      = "23505"
	invoiceNumberConstraint  = "invoices_number_key"
	customerPeriodConstraint = "invoices_customer_id_period_key"
)

// classifyInvoiceInsertErr maps a unique violation on the invoices table to
// the matching sentinel so callers can tell an idempotent duplicate from a
// retryable numbering collision.
func classifyInvoiceInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		switch pgErr.ConstraintName {
		case customerPeriodConstraint:
			return ErrDuplicateInvoice
		case invoiceNumberConstraint:
			return ErrNumberCollision
		}
	}
	return err
}
