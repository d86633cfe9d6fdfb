package model

import (
	"testing"
	"time"
)

func TestNewDailyPeriod_DSTSpringForward(t *testing.T) {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 2026-03-08 is the US spring-forward date: the day is only 23 hours.
	p := NewDailyPeriod(time.Date(2026, 3, 8, 0, 0, 0, 0, tz), tz)
	if p.DurationHours != 23 {
		t.Errorf("DurationHours = %d, want 23", p.DurationHours)
	}
	if p.DSTTransition != DSTSpringForward {
		t.Errorf("DSTTransition = %s, want spring_forward", p.DSTTransition)
	}
}

func TestNewDailyPeriod_DSTFallBack(t *testing.T) {
	tz, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// 2026-11-01 is the US fall-back date: the day is 25 hours.
	p := NewDailyPeriod(time.Date(2026, 11, 1, 0, 0, 0, 0, tz), tz)
	if p.DurationHours != 25 {
		t.Errorf("DurationHours = %d, want 25", p.DurationHours)
	}
	if p.DSTTransition != DSTFallBack {
		t.Errorf("DSTTransition = %s, want fall_back", p.DSTTransition)
	}
}

func TestNewDailyPeriod_NoTransitionOutsideDST(t *testing.T) {
	p := NewDailyPeriod(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), time.UTC)
	if p.DurationHours != 24 {
		t.Errorf("DurationHours = %d, want 24", p.DurationHours)
	}
	if p.DSTTransition != DSTNone {
		t.Errorf("DSTTransition = %s, want none", p.DSTTransition)
	}
}

func TestNewWeeklyPeriod_StartsWednesdayEndsFollowingSunday(t *testing.T) {
	// 2026-02-11 is a Wednesday.
	start := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
	clampEnd := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	p := NewWeeklyPeriod(start, clampEnd, time.UTC)

	if p.Start.Weekday() != time.Wednesday {
		t.Fatalf("Start weekday = %s, want Wednesday", p.Start.Weekday())
	}
	wantEnd := time.Date(2026, 2, 16, 0, 0, 0, 0, time.UTC) // Sunday 2026-02-15, exclusive end is Monday
	if !p.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", p.End, wantEnd)
	}

	// The following period should run Monday through the next Sunday.
	next := NewWeeklyPeriod(p.End, clampEnd, time.UTC)
	if next.Start.Weekday() != time.Monday {
		t.Errorf("next Start weekday = %s, want Monday", next.Start.Weekday())
	}
	if next.End.Sub(next.Start) != 7*24*time.Hour {
		t.Errorf("next period span = %v, want 7 days", next.End.Sub(next.Start))
	}
}

func TestNewWeeklyPeriod_ClampedByEndDate(t *testing.T) {
	start := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC) // Monday
	clampEnd := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
	p := NewWeeklyPeriod(start, clampEnd, time.UTC)

	wantEnd := time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)
	if !p.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v (clamped)", p.End, wantEnd)
	}
}

func TestNewMonthlyPeriod_SpansWholeCalendarMonth(t *testing.T) {
	start := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	clampEnd := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	p := NewMonthlyPeriod(start, clampEnd, time.UTC)

	wantStart := time.Date(2026, 2, 5, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !p.Start.Equal(wantStart) || !p.End.Equal(wantEnd) {
		t.Errorf("period = [%v, %v), want [%v, %v)", p.Start, p.End, wantStart, wantEnd)
	}
}

func TestGeneratePeriods_Daily(t *testing.T) {
	start := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
	periods := GeneratePeriods(start, end, GranularityDaily, time.UTC)
	if len(periods) != 3 {
		t.Fatalf("len(periods) = %d, want 3", len(periods))
	}
	for i, p := range periods {
		want := start.AddDate(0, 0, i)
		if !p.Start.Equal(want) {
			t.Errorf("periods[%d].Start = %v, want %v", i, p.Start, want)
		}
	}
}

func TestGeneratePeriods_WeeklyFirstPeriodPartial(t *testing.T) {
	// 2026-02-11 is a Wednesday; the range ends well into the following month.
	start := time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periods := GeneratePeriods(start, end, GranularityWeekly, time.UTC)

	if len(periods) == 0 {
		t.Fatal("expected at least one period")
	}
	if periods[0].Start.Weekday() != time.Wednesday {
		t.Errorf("first period start weekday = %s, want Wednesday (partial first week)", periods[0].Start.Weekday())
	}
	if periods[0].End.Weekday() != time.Monday {
		t.Errorf("first period end weekday = %s, want Monday (exclusive end after Sunday)", periods[0].End.Weekday())
	}
	last := periods[len(periods)-1]
	if last.End.After(end.AddDate(0, 0, 1)) {
		t.Errorf("last period end %v runs past the clamped range end %v", last.End, end)
	}
}

func TestGeneratePeriods_MonthlyToEndOfCalendarMonth(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	periods := GeneratePeriods(start, end, GranularityMonthly, time.UTC)

	if len(periods) != 3 {
		t.Fatalf("len(periods) = %d, want 3 (partial Jan, full Feb, partial Mar)", len(periods))
	}
	if !periods[0].Start.Equal(start) {
		t.Errorf("periods[0].Start = %v, want %v", periods[0].Start, start)
	}
	if !periods[0].End.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("periods[0].End = %v, want 2026-02-01", periods[0].End)
	}
	if !periods[2].End.Equal(end.AddDate(0, 0, 1)) {
		t.Errorf("last period End = %v, want clamped to %v", periods[2].End, end.AddDate(0, 0, 1))
	}
}

func TestFilenameStem(t *testing.T) {
	daily := NewDailyPeriod(time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), time.UTC)
	if got := daily.FilenameStem(); got != "2026-02-11_daily" {
		t.Errorf("daily stem = %s, want 2026-02-11_daily", got)
	}

	weekly := NewWeeklyPeriod(
		time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		time.UTC,
	)
	if got := weekly.FilenameStem(); got == "" {
		t.Error("expected a non-empty weekly stem")
	}

	monthly := NewMonthlyPeriod(
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		time.UTC,
	)
	if got := monthly.FilenameStem(); got != "2026-02_monthly" {
		t.Errorf("monthly stem = %s, want 2026-02_monthly", got)
	}
}
