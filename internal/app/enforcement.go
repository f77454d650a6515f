/**
 * @description
 * Isolation/restore enforcement. Suspends service access for customers owing
 * on the previous billing period past their effective deadline, restores it
 * once nothing is unpaid, and sends the best-effort warning sub-flows.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/netbill/billing-service/internal/domain"
)

// EnforcementRepository defines the database operations the enforcer needs.
type EnforcementRepository interface {
	ListRestorableCustomers(ctx context.Context) ([]domain.Customer, error)
	ListCustomersOwingForPeriod(ctx context.Context, period string) ([]domain.Customer, error)
	ListCustomersByOdc(ctx context.Context, odcID string) ([]domain.Customer, error)
	GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error)
	HasUnpaidInvoices(ctx context.Context, customerID string) (bool, error)
	TransitionCustomerStatus(ctx context.Context, customerID, fromStatus, toStatus, action, reason string) (bool, error)
}

// EnforcementService drives the customer active/suspended state machine.
type EnforcementService struct {
	repo      EnforcementRepository
	publisher EventPublisher
	notifier  NotificationSender
	logger    *slog.Logger
	loc       *time.Location

	defaultDeadlineDay int
	defaultGraceDays   int
}

// NewEnforcementService creates the isolation/restore enforcer.
func NewEnforcementService(repo EnforcementRepository, publisher EventPublisher, notifier NotificationSender, logger *slog.Logger, loc *time.Location, defaultDeadlineDay, defaultGraceDays int) *EnforcementService {
	return &EnforcementService{
		repo:               repo,
		publisher:          publisher,
		notifier:           notifier,
		logger:             logger,
		loc:                loc,
		defaultDeadlineDay: defaultDeadlineDay,
		defaultGraceDays:   defaultGraceDays,
	}
}

// EnforcementResult summarizes one sweep.
type EnforcementResult struct {
	Evaluated int `json:"evaluated"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// AutoIsolatePreviousMonthUnpaid suspends every active customer still owing
// on the previous billing period whose effective deadline has passed. One
// customer's failure never aborts the sweep. The candidate set is the same
// one the warning sub-flows read.
func (s *EnforcementService) AutoIsolatePreviousMonthUnpaid(ctx context.Context) (*EnforcementResult, error) {
	now := time.Now().In(s.loc)
	prevPeriod := domain.PreviousPeriod(now)

	candidates, err := s.repo.ListCustomersOwingForPeriod(ctx, prevPeriod)
	if err != nil {
		return nil, err
	}

	result := &EnforcementResult{Evaluated: len(candidates)}
	for _, customer := range candidates {
		deadline := customer.EffectiveDeadline(now, s.defaultDeadlineDay, s.defaultGraceDays)
		if !now.After(deadline) {
			continue
		}

		reason := fmt.Sprintf("Unpaid invoice for period %s past deadline %s", prevPeriod, deadline.Format("2006-01-02"))
		if err := s.isolate(ctx, customer.ID, reason); err != nil {
			s.logger.Error("isolation failed for customer", "customer_id", customer.ID, "error", err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	s.logger.Info("isolation sweep finished", "period", prevPeriod,
		"evaluated", result.Evaluated, "processed", result.Processed, "failed", result.Failed)
	return result, nil
}

// AutoRestorePaidCustomers reactivates suspended customers with nothing left
// unpaid.
func (s *EnforcementService) AutoRestorePaidCustomers(ctx context.Context) (*EnforcementResult, error) {
	customers, err := s.repo.ListRestorableCustomers(ctx)
	if err != nil {
		return nil, err
	}

	result := &EnforcementResult{Evaluated: len(customers)}
	for _, customer := range customers {
		if err := s.restore(ctx, customer.ID, "All outstanding invoices settled"); err != nil {
			s.logger.Error("restore failed for customer", "customer_id", customer.ID, "error", err)
			result.Failed++
			continue
		}
		result.Processed++
	}

	s.logger.Info("restore sweep finished",
		"evaluated", result.Evaluated, "processed", result.Processed, "failed", result.Failed)
	return result, nil
}

// RestoreIfSettled restores one suspended customer the moment their last
// unpaid invoice settles, without waiting for the next scheduled sweep.
func (s *EnforcementService) RestoreIfSettled(ctx context.Context, customerID string) error {
	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return err
	}
	if customer.Status != domain.CustomerStatusSuspended {
		return nil
	}

	unpaid, err := s.repo.HasUnpaidInvoices(ctx, customerID)
	if err != nil {
		return err
	}
	if unpaid {
		return nil
	}

	return s.restore(ctx, customerID, "Blocking invoice settled by payment")
}

func (s *EnforcementService) isolate(ctx context.Context, customerID, reason string) error {
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	changed, err := s.repo.TransitionCustomerStatus(itemCtx, customerID,
		domain.CustomerStatusActive, domain.CustomerStatusSuspended, domain.IsolationActionIsolate, reason)
	if err != nil {
		return err
	}
	if changed {
		s.publishAccessEvent(ctx, customerID, domain.IsolationActionIsolate, reason)
	}
	return nil
}

func (s *EnforcementService) restore(ctx context.Context, customerID, reason string) error {
	itemCtx, cancel := context.WithTimeout(ctx, itemTimeout)
	defer cancel()

	changed, err := s.repo.TransitionCustomerStatus(itemCtx, customerID,
		domain.CustomerStatusSuspended, domain.CustomerStatusActive, domain.IsolationActionRestore, reason)
	if err != nil {
		return err
	}
	if changed {
		s.publishAccessEvent(ctx, customerID, domain.IsolationActionRestore, reason)
	}
	return nil
}

// WarningResult summarizes a warning sub-flow run.
type WarningResult struct {
	Evaluated int `json:"evaluated"`
	Notified  int `json:"notified"`
}

// SendIsolationWarnings notifies customers owing on the previous period whose
// effective deadline falls within daysBefore days. Purely a notification
// trigger; failures never affect isolation decisions.
func (s *EnforcementService) SendIsolationWarnings(ctx context.Context, daysBefore int) (*WarningResult, error) {
	return s.sendDeadlineWarnings(ctx, daysBefore, "isolation_warning")
}

// SendPreBlockWarnings notifies customers whose effective deadline is within
// one day, the last call before the isolation sweep picks them up.
func (s *EnforcementService) SendPreBlockWarnings(ctx context.Context) (*WarningResult, error) {
	return s.sendDeadlineWarnings(ctx, 1, "pre_block_warning")
}

func (s *EnforcementService) sendDeadlineWarnings(ctx context.Context, daysBefore int, templateCode string) (*WarningResult, error) {
	now := time.Now().In(s.loc)
	prevPeriod := domain.PreviousPeriod(now)

	customers, err := s.repo.ListCustomersOwingForPeriod(ctx, prevPeriod)
	if err != nil {
		return nil, err
	}

	cutoff := now.AddDate(0, 0, daysBefore)
	result := &WarningResult{Evaluated: len(customers)}
	for _, customer := range customers {
		deadline := customer.EffectiveDeadline(now, s.defaultDeadlineDay, s.defaultGraceDays)
		if deadline.Before(now) || deadline.After(cutoff) {
			continue
		}
		if s.notifier == nil {
			continue
		}
		err := s.notifier.Send(ctx, customer.ID, templateCode, map[string]string{
			"period":   prevPeriod,
			"deadline": deadline.Format("2006-01-02"),
		})
		if err != nil {
			s.logger.Warn("deadline warning failed", "customer_id", customer.ID, "template", templateCode, "error", err)
			continue
		}
		result.Notified++
	}
	return result, nil
}

// BulkItemResult is the per-customer outcome of a bulk isolation.
type BulkItemResult struct {
	CustomerID string `json:"customer_id"`
	Isolated   bool   `json:"isolated"`
	Error      string `json:"error,omitempty"`
}

// BulkIsolateResult reports a bulk isolation run.
type BulkIsolateResult struct {
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Items     []BulkItemResult `json:"items"`
}

// BulkIsolateByOdc suspends every active customer in an ODC group for a
// manual administrative action, reporting per-customer outcomes.
func (s *EnforcementService) BulkIsolateByOdc(ctx context.Context, odcID, adminID, reason string) (*BulkIsolateResult, error) {
	customers, err := s.repo.ListCustomersByOdc(ctx, odcID)
	if err != nil {
		return nil, err
	}

	fullReason := fmt.Sprintf("Bulk isolation by admin %s: %s", adminID, reason)
	result := &BulkIsolateResult{}
	for _, customer := range customers {
		item := BulkItemResult{CustomerID: customer.ID}
		if customer.Status != domain.CustomerStatusActive {
			result.Items = append(result.Items, item)
			continue
		}
		if err := s.isolate(ctx, customer.ID, fullReason); err != nil {
			item.Error = err.Error()
			result.Failed++
		} else {
			item.Isolated = true
			result.Processed++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func (s *EnforcementService) publishAccessEvent(ctx context.Context, customerID, action, reason string) {
	if s.publisher == nil {
		return
	}
	routingKey := domain.EventCustomerIsolated
	if action == domain.IsolationActionRestore {
		routingKey = domain.EventCustomerRestored
	}
	event := domain.CustomerAccessEvent{
		CustomerID: customerID,
		Action:     action,
		Reason:     reason,
		Timestamp:  time.Now(),
	}
	if err := s.publisher.Publish(ctx, domain.EventsExchange, routingKey, event); err != nil {
		s.logger.Warn("failed to publish customer access event", "customer_id", customerID, "action", action, "error", err)
	}
}
