package model

import (
	"fmt"
	"time"
)

// DSTTransition marks a daylight-saving-time boundary crossed by a daily
// period in its local timezone.
type DSTTransition string

const (
	DSTNone          DSTTransition = ""
	DSTSpringForward DSTTransition = "spring_forward"
	DSTFallBack      DSTTransition = "fall_back"
)

// Period is a time interval [Start, End] in a named IANA timezone, with a
// nominal duration and an optional DST marker. Start and End carry their
// timezone's Location; StartUTC/EndUTC normalize to UTC.
type Period struct {
	Start         time.Time     `json:"start"`
	End           time.Time     `json:"end"`
	Timezone      string        `json:"timezone"`
	DurationHours int           `json:"duration_hours"`
	DSTTransition DSTTransition `json:"dst_transition,omitempty"`
}

// StartUTC returns Start normalized to UTC.
func (p Period) StartUTC() time.Time { return p.Start.UTC() }

// EndUTC returns End normalized to UTC.
func (p Period) EndUTC() time.Time { return p.End.UTC() }

// NewDailyPeriod builds the [00:00, 24:00) period for date in tz, detecting
// a DST transition by comparing the wall-clock duration to 24h.
func NewDailyPeriod(date time.Time, tz *time.Location) Period {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, tz)
	end := start.AddDate(0, 0, 1)
	hours := int(end.Sub(start).Hours())

	transition := DSTNone
	switch {
	case hours < 24:
		transition = DSTSpringForward
	case hours > 24:
		transition = DSTFallBack
	}

	return Period{
		Start:         start,
		End:           end,
		Timezone:      tz.String(),
		DurationHours: hours,
		DSTTransition: transition,
	}
}

// NewWeeklyPeriod builds a period from start (inclusive) to the earlier of
// the following ISO-week Sunday or clampEnd, ending at 00:00 the day after
// (so the period end is exclusive), per spec §4.8's weekly expansion rule.
func NewWeeklyPeriod(start time.Time, clampEnd time.Time, tz *time.Location) Period {
	y, m, d := start.Date()
	s := time.Date(y, m, d, 0, 0, 0, 0, tz)

	// ISO week: Sunday is weekday 0 in this reckoning (time.Sunday == 0).
	daysUntilSunday := (7 - int(s.Weekday())) % 7
	sunday := s.AddDate(0, 0, daysUntilSunday)
	endDate := sunday
	if clampEnd.Before(sunday) {
		y2, m2, d2 := clampEnd.Date()
		endDate = time.Date(y2, m2, d2, 0, 0, 0, 0, tz)
	}
	end := endDate.AddDate(0, 0, 1)
	hours := int(end.Sub(s).Hours())

	return Period{
		Start:         s,
		End:           end,
		Timezone:      tz.String(),
		DurationHours: hours,
	}
}

// NewMonthlyPeriod builds a period from start (inclusive) to the earlier of
// the last day of start's calendar month or clampEnd, exclusive end at the
// first of the next month, per spec §4.8's monthly expansion rule.
func NewMonthlyPeriod(start time.Time, clampEnd time.Time, tz *time.Location) Period {
	y, m, d := start.Date()
	s := time.Date(y, m, d, 0, 0, 0, 0, tz)
	firstOfNextMonth := time.Date(y, m, 1, 0, 0, 0, 0, tz).AddDate(0, 1, 0)

	end := firstOfNextMonth
	if clampEnd.Before(firstOfNextMonth.AddDate(0, 0, -1)) {
		y2, m2, d2 := clampEnd.Date()
		end = time.Date(y2, m2, d2, 0, 0, 0, 0, tz).AddDate(0, 0, 1)
	}
	hours := int(end.Sub(s).Hours())

	return Period{
		Start:         s,
		End:           end,
		Timezone:      tz.String(),
		DurationHours: hours,
	}
}

// Granularity is a backfill period size.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// GeneratePeriods expands [start, end] (inclusive calendar dates) into an
// ordered list of periods at granularity, per spec §4.8's create_job period
// expansion. Grounded on generator.py's _generate_periods: daily yields one
// period per date; weekly/monthly periods jump to the day after the
// previous period's end, so the last period of a range is clamped to end
// rather than running past it.
func GeneratePeriods(start, end time.Time, granularity Granularity, tz *time.Location) []Period {
	var periods []Period
	for current := start; !current.After(end); {
		var p Period
		switch granularity {
		case GranularityWeekly:
			p = NewWeeklyPeriod(current, end, tz)
		case GranularityMonthly:
			p = NewMonthlyPeriod(current, end, tz)
		default:
			p = NewDailyPeriod(current, tz)
		}
		periods = append(periods, p)
		current = p.End
	}
	return periods
}

// FilenameStem derives the on-disk name stem for a period, per spec §4.1:
// daily ≤24h, weekly ≤168h (ISO week number), monthly ≤744h, else a range.
func (p Period) FilenameStem() string {
	start := p.Start
	switch {
	case p.DurationHours <= 24:
		return start.Format("2006-01-02") + "_daily"
	case p.DurationHours <= 168:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%d-W%02d_weekly", year, week)
	case p.DurationHours <= 744:
		return start.Format("2006-01") + "_monthly"
	default:
		end := p.End.AddDate(0, 0, -1) // End is exclusive; report inclusive end date
		return start.Format("2006-01-02") + "_to_" + end.Format("2006-01-02")
	}
}
