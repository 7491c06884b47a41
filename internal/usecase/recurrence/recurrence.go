package recurrence

import (
	"time"

	"github.com/simaogato/obligations-backend/internal/domain"
)

// MaxOccurrences bounds a single series (50 years of monthly entries)
const MaxOccurrences = 600

// Generate produces the due dates of a recurring series
// Logic:
//  1. NONE or an open end -> the start date only
//  2. Date k is start + k*step months, always computed from start so a clamped
//     day never drifts (Jan 31 -> Feb 29 -> Mar 31)
//  3. Stop once the next date is after end (end is inclusive)
func Generate(start time.Time, end *time.Time, unit domain.Recurrence) ([]time.Time, error) {
	const op = "recurrence.Generate"

	if start.IsZero() {
		return nil, domain.E(op, domain.ErrInvalidDate, "start date is required")
	}
	if end != nil && end.Before(start) {
		return nil, domain.E(op, domain.ErrInvalidDate, "end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	step := unit.Months()
	if unit != domain.RecurrenceNone && step == 0 {
		return nil, domain.E(op, domain.ErrInvalidInput, "unknown recurrence %q", unit)
	}
	if step == 0 || end == nil {
		return []time.Time{start}, nil
	}

	dates := make([]time.Time, 0, 12)
	for k := 0; ; k++ {
		next := AddMonths(start, k*step)
		if next.After(*end) {
			break
		}
		if len(dates) == MaxOccurrences {
			return nil, domain.E(op, domain.ErrInvalidInput, "series exceeds %d occurrences", MaxOccurrences)
		}
		dates = append(dates, next)
	}
	return dates, nil
}

// AddMonths adds n calendar months to t, clamping the day to the last day of
// the target month. Time of day and location are preserved.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := DaysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// DaysIn returns the number of days of a month
func DaysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// MonthsBetween counts whole calendar months from a to b, ignoring days
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}
