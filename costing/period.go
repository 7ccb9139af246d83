package costing

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The billing month every figure is scoped to
// =============================================================================

// Period is a calendar month. All allocations, usage and pool totals are
// computed per period, never at a point in time.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM" or any "YYYY-MM-DD" date inside the month.
func ParsePeriod(s string) (Period, error) {
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return PeriodOf(t), nil
		}
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// Start returns the first day of the period (UTC midnight).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period (UTC midnight).
// December rolls over into January of the next year before stepping back.
func (p Period) End() time.Time {
	return p.Next().Start().AddDate(0, 0, -1)
}

// Contains reports whether t falls on a day inside the period.
func (p Period) Contains(t time.Time) bool {
	return t.Year() == p.Year && t.Month() == p.Month
}

func (p Period) Next() Period {
	return PeriodOf(p.Start().AddDate(0, 1, 0))
}

func (p Period) Previous() Period {
	return PeriodOf(p.Start().AddDate(0, -1, 0))
}

// Valid reports whether the month is 1..12 and the year is positive.
func (p Period) Valid() bool {
	return p.Year > 0 && p.Month >= time.January && p.Month <= time.December
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
