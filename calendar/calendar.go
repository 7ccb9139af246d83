/*
Package calendar provides working-time calendars.

PURPOSE:
  Supplies the working hours of a month for a calendar, which the costing
  engine uses to turn monthly employee cost into an hourly rate.

KEY CONCEPTS:
  - Attendance: a working interval on one weekday (e.g. Mon 09:00-13:00)
  - Holiday: a date with no attendance, optionally recurring every year
  - Registry: named calendars plus a default, with a per-month cache

  A day's hours are the sum of its attendance intervals. Holidays remove
  the whole day.

SEE ALSO:
  - costing/employee.go: HoursProvider consumer
*/
package calendar

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/abc-engine/costing"
)

var ErrUnknownCalendar = errors.New("unknown calendar")

// =============================================================================
// CALENDAR
// =============================================================================

// Attendance is one working interval; hours are decimal (8.5 = 08:30).
type Attendance struct {
	Weekday  time.Weekday
	HourFrom decimal.Decimal
	HourTo   decimal.Decimal
}

func (a Attendance) Duration() decimal.Decimal {
	d := a.HourTo.Sub(a.HourFrom)
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Holiday is a non-working date.
type Holiday struct {
	Date      time.Time
	Name      string
	Recurring bool // same month/day every year
}

func (h Holiday) On(day time.Time) bool {
	if h.Recurring {
		return h.Date.Month() == day.Month() && h.Date.Day() == day.Day()
	}
	y1, m1, d1 := h.Date.Date()
	y2, m2, d2 := day.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

type Calendar struct {
	ID         costing.CalendarID
	Name       string
	Attendance []Attendance
	Holidays   []Holiday
}

// Standard returns a Monday-Friday calendar with 09:00-13:00 and
// 14:00-18:00 attendance.
func Standard(id costing.CalendarID) *Calendar {
	c := &Calendar{ID: id, Name: "Standard 40 hours/week"}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		c.Attendance = append(c.Attendance,
			Attendance{Weekday: wd, HourFrom: decimal.NewFromInt(9), HourTo: decimal.NewFromInt(13)},
			Attendance{Weekday: wd, HourFrom: decimal.NewFromInt(14), HourTo: decimal.NewFromInt(18)},
		)
	}
	return c
}

func (c *Calendar) isHoliday(day time.Time) bool {
	for _, h := range c.Holidays {
		if h.On(day) {
			return true
		}
	}
	return false
}

// DayHours returns the working hours of one date.
func (c *Calendar) DayHours(day time.Time) decimal.Decimal {
	if c.isHoliday(day) {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, a := range c.Attendance {
		if a.Weekday == day.Weekday() {
			total = total.Add(a.Duration())
		}
	}
	return total
}

// WorkingDaysBetween counts days in [from, to] with any attendance.
func (c *Calendar) WorkingDaysBetween(from, to time.Time) int {
	days := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if c.DayHours(d).IsPositive() {
			days++
		}
	}
	return days
}

// HoursBetween sums working hours in [from, to].
func (c *Calendar) HoursBetween(from, to time.Time) decimal.Decimal {
	total := decimal.Zero
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		total = total.Add(c.DayHours(d))
	}
	return total
}

func (c *Calendar) WorkingDays(year int, month time.Month) int {
	p := costing.Period{Year: year, Month: month}
	return c.WorkingDaysBetween(p.Start(), p.End())
}

func (c *Calendar) WorkingHours(year int, month time.Month) decimal.Decimal {
	p := costing.Period{Year: year, Month: month}
	return c.HoursBetween(p.Start(), p.End())
}

// =============================================================================
// REGISTRY
// =============================================================================

type cacheKey struct {
	year     int
	month    int
	calendar costing.CalendarID
}

// Registry resolves calendars by id and caches monthly hours.
// It implements costing.HoursProvider.
type Registry struct {
	mu        sync.RWMutex
	calendars map[costing.CalendarID]*Calendar
	defaultID costing.CalendarID
	cache     map[cacheKey]decimal.Decimal
	log       zerolog.Logger
}

var _ costing.HoursProvider = (*Registry)(nil)

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		calendars: make(map[costing.CalendarID]*Calendar),
		cache:     make(map[cacheKey]decimal.Decimal),
		log:       log,
	}
}

// Register adds or replaces a calendar and drops its cached months.
// The first registered calendar becomes the default.
func (r *Registry) Register(c *Calendar) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calendars[c.ID] = c
	if r.defaultID == "" {
		r.defaultID = c.ID
	}
	for k := range r.cache {
		if k.calendar == c.ID {
			delete(r.cache, k)
		}
	}
}

// SetDefault selects the calendar used for an empty id.
func (r *Registry) SetDefault(id costing.CalendarID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calendars[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCalendar, id)
	}
	r.defaultID = id
	return nil
}

// Get returns a calendar; an empty id selects the default. When nothing is
// registered a standard calendar is created and made the default.
func (r *Registry) Get(id costing.CalendarID) (*Calendar, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		if r.defaultID == "" {
			std := Standard("standard")
			r.calendars[std.ID] = std
			r.defaultID = std.ID
			r.log.Info().Str("calendar_id", string(std.ID)).Msg("no working calendar configured, created standard calendar")
		}
		id = r.defaultID
	}
	c, ok := r.calendars[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCalendar, id)
	}
	return c, nil
}

// MonthlyHours returns the cached working hours for (year, month, calendar).
func (r *Registry) MonthlyHours(year int, month int, id costing.CalendarID) (decimal.Decimal, error) {
	c, err := r.Get(id)
	if err != nil {
		return decimal.Zero, err
	}
	key := cacheKey{year: year, month: month, calendar: c.ID}

	r.mu.RLock()
	hours, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return hours, nil
	}

	hours = c.WorkingHours(year, time.Month(month))
	r.mu.Lock()
	r.cache[key] = hours
	r.mu.Unlock()
	return hours, nil
}

// MonthlyDays returns the working days for (year, month, calendar).
func (r *Registry) MonthlyDays(year int, month int, id costing.CalendarID) (int, error) {
	c, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return c.WorkingDays(year, time.Month(month)), nil
}
