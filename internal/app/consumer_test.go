package app

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/netbill/billing-service/internal/domain"
)

func newTestPaymentEventHandler(lateRepo *latePaymentRepoStub, enfRepo *enforcementRepoStub) *PaymentEventHandler {
	logger := testLogger()
	latePayment := NewLatePaymentService(lateRepo, logger, time.UTC, 3, 6)
	enforcement := NewEnforcementService(enfRepo, &publisherStub{}, &notifierStub{}, logger, time.UTC, 20, 1)
	return NewPaymentEventHandler(latePayment, enforcement, logger)
}

func paymentEventBody(t *testing.T, settled bool) []byte {
	t.Helper()
	body, err := json.Marshal(domain.PaymentRecordedEvent{
		PaymentID:      "pay-1",
		InvoiceID:      "inv-1",
		CustomerID:     "cust-1",
		Amount:         50000,
		PaidAt:         time.Date(2025, 2, 2, 10, 0, 0, 0, time.UTC),
		DueDate:        time.Date(2025, 1, 28, 23, 59, 59, 0, time.UTC),
		InvoiceSettled: settled,
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestHandlePaymentRecordedTracksLatePayment(t *testing.T) {
	lateRepo := &latePaymentRepoStub{tracked: true}
	enfRepo := &enforcementRepoStub{customer: &domain.Customer{ID: "cust-1", Status: domain.CustomerStatusActive}}
	handler := newTestPaymentEventHandler(lateRepo, enfRepo)

	if !handler.HandlePaymentRecorded(paymentEventBody(t, false)) {
		t.Fatal("expected successful handling to ack")
	}
	if len(lateRepo.trackCalls) != 1 {
		t.Fatalf("expected one tracking call, got %d", len(lateRepo.trackCalls))
	}
	if !lateRepo.trackCalls[0].Late {
		t.Fatal("payment after due date must be tracked as late")
	}
}

func TestHandlePaymentRecordedMalformedBodyIsDropped(t *testing.T) {
	handler := newTestPaymentEventHandler(&latePaymentRepoStub{}, &enforcementRepoStub{})

	if !handler.HandlePaymentRecorded([]byte("{not json")) {
		t.Fatal("malformed events must be acked so they are not re-delivered forever")
	}
}

func TestHandlePaymentRecordedTrackingFailureRequeues(t *testing.T) {
	lateRepo := &latePaymentRepoStub{trackErr: errors.New("db unavailable")}
	handler := newTestPaymentEventHandler(lateRepo, &enforcementRepoStub{})

	if handler.HandlePaymentRecorded(paymentEventBody(t, false)) {
		t.Fatal("tracking failure must nack for re-delivery")
	}
}

func TestHandlePaymentRecordedSettlementTriggersRestore(t *testing.T) {
	lateRepo := &latePaymentRepoStub{tracked: true}
	enfRepo := &enforcementRepoStub{customer: &domain.Customer{ID: "cust-1", Status: domain.CustomerStatusSuspended}}
	handler := newTestPaymentEventHandler(lateRepo, enfRepo)

	if !handler.HandlePaymentRecorded(paymentEventBody(t, true)) {
		t.Fatal("expected successful handling to ack")
	}
	if len(enfRepo.transitions) != 1 || enfRepo.transitions[0] != "restore:cust-1" {
		t.Fatalf("expected opportunistic restore, got %v", enfRepo.transitions)
	}
}

func TestHandlePaymentRecordedUnsettledDoesNotRestore(t *testing.T) {
	lateRepo := &latePaymentRepoStub{tracked: true}
	enfRepo := &enforcementRepoStub{customer: &domain.Customer{ID: "cust-1", Status: domain.CustomerStatusSuspended}}
	handler := newTestPaymentEventHandler(lateRepo, enfRepo)

	if !handler.HandlePaymentRecorded(paymentEventBody(t, false)) {
		t.Fatal("expected successful handling to ack")
	}
	if len(enfRepo.transitions) != 0 {
		t.Fatalf("partial payment must not trigger a restore, got %v", enfRepo.transitions)
	}
}
