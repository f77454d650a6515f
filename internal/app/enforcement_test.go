package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/netbill/billing-service/internal/domain"
)

type enforcementRepoStub struct {
	restorable  []domain.Customer
	owing       []domain.Customer
	odcMembers  []domain.Customer
	customer    *domain.Customer
	customerErr error
	hasUnpaid   bool

	transitions      []string
	transitionErrFor map[string]error
	noChangeFor      map[string]bool
}

func (s *enforcementRepoStub) ListRestorableCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.restorable, nil
}

func (s *enforcementRepoStub) ListCustomersOwingForPeriod(ctx context.Context, period string) ([]domain.Customer, error) {
	return s.owing, nil
}

func (s *enforcementRepoStub) ListCustomersByOdc(ctx context.Context, odcID string) ([]domain.Customer, error) {
	return s.odcMembers, nil
}

func (s *enforcementRepoStub) GetCustomerByID(ctx context.Context, customerID string) (*domain.Customer, error) {
	if s.customerErr != nil {
		return nil, s.customerErr
	}
	return s.customer, nil
}

func (s *enforcementRepoStub) HasUnpaidInvoices(ctx context.Context, customerID string) (bool, error) {
	return s.hasUnpaid, nil
}

func (s *enforcementRepoStub) TransitionCustomerStatus(ctx context.Context, customerID, fromStatus, toStatus, action, reason string) (bool, error) {
	if err, ok := s.transitionErrFor[customerID]; ok {
		return false, err
	}
	if s.noChangeFor[customerID] {
		return false, nil
	}
	s.transitions = append(s.transitions, action+":"+customerID)
	return true, nil
}

func newTestEnforcementService(repo *enforcementRepoStub, publisher *publisherStub) *EnforcementService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEnforcementService(repo, publisher, &notifierStub{}, logger, time.UTC, 20, 1)
}

// pastDeadlineCustomer's effective deadline is always two days in the past,
// futureDeadlineCustomer's two days ahead, regardless of when the test runs.
func pastDeadlineCustomer(id string) domain.Customer {
	day := time.Now().UTC().Day()
	grace := -2
	return domain.Customer{ID: id, Status: domain.CustomerStatusActive, CustomDeadlineDay: &day, CustomGraceDays: &grace}
}

func futureDeadlineCustomer(id string) domain.Customer {
	day := time.Now().UTC().Day()
	grace := 2
	return domain.Customer{ID: id, Status: domain.CustomerStatusActive, CustomDeadlineDay: &day, CustomGraceDays: &grace}
}

func TestAutoIsolateRespectsEffectiveDeadline(t *testing.T) {
	repo := &enforcementRepoStub{
		owing: []domain.Customer{
			pastDeadlineCustomer("cust-past"),
			futureDeadlineCustomer("cust-future"),
		},
	}
	publisher := &publisherStub{}
	svc := newTestEnforcementService(repo, publisher)

	result, err := svc.AutoIsolatePreviousMonthUnpaid(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Evaluated != 2 || result.Processed != 1 {
		t.Fatalf("expected only the past-deadline customer isolated, got %+v", result)
	}
	if len(repo.transitions) != 1 || repo.transitions[0] != "isolate:cust-past" {
		t.Fatalf("unexpected transitions %v", repo.transitions)
	}
	if len(publisher.published) != 1 || publisher.published[0] != domain.EventCustomerIsolated {
		t.Fatalf("expected customer.isolated event, got %v", publisher.published)
	}
}

func TestAutoIsolateContinuesPastFailures(t *testing.T) {
	repo := &enforcementRepoStub{
		owing: []domain.Customer{
			pastDeadlineCustomer("cust-1"),
			pastDeadlineCustomer("cust-2"),
		},
		transitionErrFor: map[string]error{"cust-1": errors.New("db unavailable")},
	}
	svc := newTestEnforcementService(repo, &publisherStub{})

	result, err := svc.AutoIsolatePreviousMonthUnpaid(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("expected sweep to continue past a failure, got %+v", result)
	}
}

func TestAutoRestorePaidCustomers(t *testing.T) {
	repo := &enforcementRepoStub{
		restorable: []domain.Customer{
			{ID: "cust-1", Status: domain.CustomerStatusSuspended},
			{ID: "cust-2", Status: domain.CustomerStatusSuspended},
		},
	}
	publisher := &publisherStub{}
	svc := newTestEnforcementService(repo, publisher)

	result, err := svc.AutoRestorePaidCustomers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 {
		t.Fatalf("expected both customers restored, got %+v", result)
	}
	if len(publisher.published) != 2 {
		t.Fatalf("expected customer.restored events, got %v", publisher.published)
	}
}

func TestRestoreIfSettledOnlySuspendedAndSettled(t *testing.T) {
	t.Run("active customer is left alone", func(t *testing.T) {
		repo := &enforcementRepoStub{customer: &domain.Customer{ID: "cust-1", Status: domain.CustomerStatusActive}}
		svc := newTestEnforcementService(repo, &publisherStub{})

		if err := svc.RestoreIfSettled(context.Background(), "cust-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repo.transitions) != 0 {
			t.Fatalf("active customer must not be transitioned, got %v", repo.transitions)
		}
	})

	t.Run("suspended with unpaid invoices stays suspended", func(t *testing.T) {
		repo := &enforcementRepoStub{
			customer:  &domain.Customer{ID: "cust-1", Status: domain.CustomerStatusSuspended},
			hasUnpaid: true,
		}
		svc := newTestEnforcementService(repo, &publisherStub{})

		if err := svc.RestoreIfSettled(context.Background(), "cust-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repo.transitions) != 0 {
			t.Fatalf("customer with unpaid invoices must not be restored, got %v", repo.transitions)
		}
	})

	t.Run("suspended with nothing unpaid is restored", func(t *testing.T) {
		repo := &enforcementRepoStub{
			customer: &domain.Customer{ID: "cust-1", Status: domain.CustomerStatusSuspended},
		}
		svc := newTestEnforcementService(repo, &publisherStub{})

		if err := svc.RestoreIfSettled(context.Background(), "cust-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(repo.transitions) != 1 || repo.transitions[0] != "restore:cust-1" {
			t.Fatalf("expected restore transition, got %v", repo.transitions)
		}
	})
}

func TestBulkIsolateByOdcReportsPerCustomer(t *testing.T) {
	repo := &enforcementRepoStub{
		odcMembers: []domain.Customer{
			{ID: "cust-1", Status: domain.CustomerStatusActive},
			{ID: "cust-2", Status: domain.CustomerStatusSuspended},
			{ID: "cust-3", Status: domain.CustomerStatusActive},
		},
		transitionErrFor: map[string]error{"cust-3": errors.New("db unavailable")},
	}
	svc := newTestEnforcementService(repo, &publisherStub{})

	result, err := svc.BulkIsolateByOdc(context.Background(), "odc-7", "admin-1", "fiber cut maintenance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 || len(result.Items) != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.Items[0].Isolated {
		t.Fatal("expected active customer isolated")
	}
	if result.Items[1].Isolated {
		t.Fatal("already-suspended customer must be skipped")
	}
	if result.Items[2].Error == "" {
		t.Fatal("expected per-item error recorded")
	}
}

func TestSendIsolationWarningsWindow(t *testing.T) {
	repo := &enforcementRepoStub{
		owing: []domain.Customer{
			futureDeadlineCustomer("cust-soon"),
			pastDeadlineCustomer("cust-past"),
		},
	}
	notifier := &notifierStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEnforcementService(repo, &publisherStub{}, notifier, logger, time.UTC, 20, 1)

	result, err := svc.SendIsolationWarnings(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Evaluated != 2 || result.Notified != 1 {
		t.Fatalf("expected only the upcoming-deadline customer warned, got %+v", result)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != "isolation_warning:cust-soon" {
		t.Fatalf("unexpected notifications %v", notifier.sent)
	}
}
