package domain

import (
	"testing"
	"time"
)

func TestDeriveInvoiceStatus(t *testing.T) {
	due := time.Date(2025, 1, 20, 23, 59, 59, 0, time.UTC)
	beforeDue := due.AddDate(0, 0, -5)
	afterDue := due.AddDate(0, 0, 5)

	tests := []struct {
		name  string
		paid  int64
		total int64
		now   time.Time
		want  string
	}{
		{"unpaid before due date", 0, 150000, beforeDue, InvoiceStatusSent},
		{"unpaid exactly at due date", 0, 150000, due, InvoiceStatusSent},
		{"unpaid past due date", 0, 150000, afterDue, InvoiceStatusOverdue},
		{"partial before due date", 50000, 150000, beforeDue, InvoiceStatusPartial},
		{"partial past due date stays partial", 50000, 150000, afterDue, InvoiceStatusPartial},
		{"fully paid", 150000, 150000, beforeDue, InvoiceStatusPaid},
		{"fully paid past due date", 150000, 150000, afterDue, InvoiceStatusPaid},
		{"overpaid", 200000, 150000, beforeDue, InvoiceStatusPaid},
		{"zero total counts as paid", 0, 0, beforeDue, InvoiceStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveInvoiceStatus(tt.paid, tt.total, due, tt.now)
			if got != tt.want {
				t.Fatalf("DeriveInvoiceStatus(%d, %d) = %q, want %q", tt.paid, tt.total, got, tt.want)
			}
		})
	}
}

func TestAbsorbCharge(t *testing.T) {
	due := time.Date(2025, 2, 20, 23, 59, 59, 0, time.UTC)

	t.Run("grows subtotal and re-derives aggregates", func(t *testing.T) {
		inv := Invoice{
			Subtotal:        120000,
			TotalAmount:     120000,
			PaidAmount:      50000,
			RemainingAmount: 70000,
			DueDate:         due,
			Status:          InvoiceStatusPartial,
		}
		inv.AbsorbCharge(40000, due.AddDate(0, 0, -10))

		if inv.Subtotal != 160000 || inv.TotalAmount != 160000 {
			t.Fatalf("unexpected amounts %+v", inv)
		}
		if inv.RemainingAmount != 110000 {
			t.Fatalf("expected remaining 110000, got %d", inv.RemainingAmount)
		}
		if inv.Status != InvoiceStatusPartial {
			t.Fatalf("expected partial, got %q", inv.Status)
		}
	})

	t.Run("respects the discount clamp at zero", func(t *testing.T) {
		inv := Invoice{
			Subtotal:       10000,
			DiscountAmount: 50000,
			DueDate:        due,
		}
		inv.AbsorbCharge(20000, due.AddDate(0, 0, -10))

		if inv.TotalAmount != 0 {
			t.Fatalf("expected total clamped to 0, got %d", inv.TotalAmount)
		}
		if inv.Status != InvoiceStatusPaid {
			t.Fatalf("zero total must derive paid, got %q", inv.Status)
		}
	})

	t.Run("unpaid past-due absorbs as overdue", func(t *testing.T) {
		inv := Invoice{
			Subtotal:    100000,
			TotalAmount: 100000,
			DueDate:     due,
			Status:      InvoiceStatusSent,
		}
		inv.AbsorbCharge(30000, due.AddDate(0, 0, 2))

		if inv.RemainingAmount != 130000 {
			t.Fatalf("expected remaining 130000, got %d", inv.RemainingAmount)
		}
		if inv.Status != InvoiceStatusOverdue {
			t.Fatalf("expected overdue, got %q", inv.Status)
		}
	})
}

func TestParsePeriod(t *testing.T) {
	start, err := ParsePeriod("2025-02", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(want) {
		t.Fatalf("expected %v, got %v", want, start)
	}

	for _, bad := range []string{"", "2025", "2025-13", "Feb 2025", "2025-02-01"} {
		if _, err := ParsePeriod(bad, time.UTC); err != ErrInvalidPeriod {
			t.Fatalf("ParsePeriod(%q): expected ErrInvalidPeriod, got %v", bad, err)
		}
	}
}

func TestNextPeriod(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-01", "2025-02"},
		{"2025-12", "2026-01"},
	}
	for _, tt := range tests {
		got, err := NextPeriod(tt.in)
		if err != nil {
			t.Fatalf("NextPeriod(%q): unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NextPeriod(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPreviousPeriod(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	if got := PreviousPeriod(now); got != "2024-12" {
		t.Fatalf("expected 2024-12, got %q", got)
	}
}

func TestFormatInvoiceNumber(t *testing.T) {
	if got := FormatInvoiceNumber("2025-01", 42); got != "INV/202501/00042" {
		t.Fatalf("unexpected invoice number %q", got)
	}
}
