package domain

import (
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestEffectiveDeadlineDefaults(t *testing.T) {
	now := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	c := Customer{}

	deadline := c.EffectiveDeadline(now, 20, 1)
	want := time.Date(2025, 2, 21, 23, 59, 59, 0, time.UTC)
	if !deadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, deadline)
	}
}

func TestEffectiveDeadlineCustomOverrides(t *testing.T) {
	now := time.Date(2025, 2, 10, 12, 0, 0, 0, time.UTC)
	c := Customer{
		CustomDeadlineDay: intPtr(10),
		CustomGraceDays:   intPtr(3),
	}

	deadline := c.EffectiveDeadline(now, 20, 1)
	want := time.Date(2025, 2, 13, 23, 59, 59, 0, time.UTC)
	if !deadline.Equal(want) {
		t.Fatalf("expected deadline %v, got %v", want, deadline)
	}
}

func TestEffectiveDeadlinePassedOnlyAfterGrace(t *testing.T) {
	c := Customer{
		CustomDeadlineDay: intPtr(10),
		CustomGraceDays:   intPtr(3),
	}

	// Day 13 is still inside the grace window; day 14 is past it.
	onGraceDay := time.Date(2025, 2, 13, 12, 0, 0, 0, time.UTC)
	if onGraceDay.After(c.EffectiveDeadline(onGraceDay, 20, 1)) {
		t.Fatal("customer should not be past deadline on the last grace day")
	}

	pastGrace := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	if !pastGrace.After(c.EffectiveDeadline(pastGrace, 20, 1)) {
		t.Fatal("customer should be past deadline the day after grace ends")
	}
}

func TestEffectiveDeadlinePartialOverride(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := Customer{CustomDeadlineDay: intPtr(5)}

	deadline := c.EffectiveDeadline(now, 20, 2)
	want := time.Date(2025, 3, 7, 23, 59, 59, 0, time.UTC)
	if !deadline.Equal(want) {
		t.Fatalf("expected custom day with default grace %v, got %v", want, deadline)
	}
}
