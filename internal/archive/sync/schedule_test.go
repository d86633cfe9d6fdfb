package sync

import (
	"testing"
	"time"
)

func TestDue_EmptyExpressionAlwaysDue(t *testing.T) {
	due, err := Due("", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if !due {
		t.Error("expected an empty cron expression to always be due")
	}
}

func TestDue_NeverSyncedIsAlwaysDue(t *testing.T) {
	due, err := Due("0 0 * * *", time.Time{}, time.Now())
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if !due {
		t.Error("expected a never-synced source to be due immediately")
	}
}

func TestDue_DailySchedule(t *testing.T) {
	since := time.Date(2026, 2, 10, 23, 0, 0, 0, time.UTC)

	notYet := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)
	due, err := Due("0 0 * * *", since, notYet)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if due {
		t.Error("expected the daily schedule not to be due yet")
	}

	afterMidnight := time.Date(2026, 2, 11, 0, 5, 0, 0, time.UTC)
	due, err = Due("0 0 * * *", since, afterMidnight)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if !due {
		t.Error("expected the daily schedule to be due after the next midnight tick")
	}
}

func TestDue_InvalidExpression(t *testing.T) {
	_, err := Due("not a cron expression", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Now())
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
