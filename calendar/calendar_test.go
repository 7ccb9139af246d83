package calendar_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/calendar"
	"github.com/warp/abc-engine/costing"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStandardCalendar_MonthTotals(t *testing.T) {
	c := calendar.Standard("std")

	// January 2025 starts on a Wednesday: 23 weekdays
	assert.Equal(t, 23, c.WorkingDays(2025, time.January))
	assert.True(t, c.WorkingHours(2025, time.January).Equal(decimal.NewFromInt(184)))

	// February 2025 starts on a Saturday: 20 weekdays
	assert.Equal(t, 20, c.WorkingDays(2025, time.February))
	assert.True(t, c.WorkingHours(2025, time.February).Equal(decimal.NewFromInt(160)))
}

func TestCalendar_Holidays(t *testing.T) {
	// GIVEN: New Year recurring, plus a one-off holiday on a Saturday
	c := calendar.Standard("kyiv")
	c.Holidays = []calendar.Holiday{
		{Date: day(2000, time.January, 1), Name: "New Year", Recurring: true},
		{Date: day(2025, time.January, 4), Name: "Weekend holiday"},
	}

	// THEN: Only the weekday holiday removes hours
	assert.Equal(t, 22, c.WorkingDays(2025, time.January))
	assert.True(t, c.WorkingHours(2025, time.January).Equal(decimal.NewFromInt(176)))
	assert.True(t, c.DayHours(day(2026, time.January, 1)).IsZero(), "recurring")
}

func TestCalendar_PartialDays(t *testing.T) {
	c := &calendar.Calendar{ID: "short-friday", Attendance: []calendar.Attendance{
		{Weekday: time.Friday, HourFrom: decimal.RequireFromString("8.5"), HourTo: decimal.RequireFromString("13")},
	}}

	assert.Equal(t, "4.5", c.DayHours(day(2025, time.January, 3)).String())
	assert.Equal(t, 1, c.WorkingDaysBetween(day(2025, time.January, 1), day(2025, time.January, 7)))
}

func TestRegistry_DefaultAndCache(t *testing.T) {
	r := calendar.NewRegistry(zerolog.Nop())

	// Nothing registered: a standard calendar is created on demand
	hours, err := r.MonthlyHours(2025, 1, "")
	require.NoError(t, err)
	assert.True(t, hours.Equal(decimal.NewFromInt(184)))

	// Registering a calendar with the same id invalidates its cache
	custom := calendar.Standard("standard")
	custom.Holidays = []calendar.Holiday{{Date: day(2025, time.January, 1)}}
	r.Register(custom)
	hours, err = r.MonthlyHours(2025, 1, "standard")
	require.NoError(t, err)
	assert.True(t, hours.Equal(decimal.NewFromInt(176)))

	_, err = r.MonthlyHours(2025, 1, "missing")
	assert.ErrorIs(t, err, calendar.ErrUnknownCalendar)
	assert.ErrorIs(t, r.SetDefault("missing"), calendar.ErrUnknownCalendar)
}

func TestRegistry_FeedsResolver(t *testing.T) {
	// GIVEN: Employees on the default calendar in February 2025 (160h)
	r := calendar.NewRegistry(zerolog.Nop())
	r.Register(calendar.Standard("std"))
	resolver := costing.Resolver{Hours: r}

	// WHEN: Resolving a 16000 wage
	rc, _, err := resolver.Resolve(costing.EmployeeCost{
		EmployeeID:   "e1",
		ContractWage: costing.DecimalPtr(decimal.NewFromInt(16000)),
	}, costing.Period{Year: 2025, Month: time.February})

	// THEN: 100 per hour
	require.NoError(t, err)
	assert.True(t, rc.HourlyCost.Equal(decimal.NewFromInt(100)))
}
