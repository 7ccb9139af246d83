package costing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EMPLOYEE COST - Wage configuration per employee
// =============================================================================

// DefaultMonthlyHours is used when neither an explicit figure nor a calendar
// yields working hours for the period.
var DefaultMonthlyHours = decimal.NewFromInt(168)

// EmployeeCost is the cost configuration of one employee.
//
// The contract wage is taken as already fully loaded (taxes and benefits
// included). UseManual switches to explicitly entered salary and benefits.
type EmployeeCost struct {
	EmployeeID EmployeeID
	Name       string

	ContractWage *decimal.Decimal // nil when the employee has no contract

	UseManual      bool
	ManualSalary   decimal.Decimal
	ManualBenefits decimal.Decimal

	MonthlyHours *decimal.Decimal // explicit override; must be > 0 when set
	CalendarID   CalendarID       // "" selects the host default calendar

	Active bool
}

// Validate checks the configuration rules enforced on write.
func (e EmployeeCost) Validate() error {
	if e.MonthlyHours != nil && !e.MonthlyHours.IsPositive() {
		return invalid("monthly_hours", ErrInvalidMonthlyHours, "employee %s has %s", e.EmployeeID, e.MonthlyHours)
	}
	return nil
}

// CostSource tells where a resolved wage came from.
type CostSource string

const (
	SourceContract CostSource = "contract"
	SourceManual   CostSource = "manual"
	SourceNone     CostSource = "none"
)

// ResolvedCost is an employee's cost for one period.
type ResolvedCost struct {
	EmployeeID   EmployeeID
	Source       CostSource
	Salary       decimal.Decimal
	Benefits     decimal.Decimal
	MonthlyTotal decimal.Decimal
	MonthlyHours decimal.Decimal
	HourlyCost   decimal.Decimal
}

// =============================================================================
// RESOLVER
// =============================================================================

// HoursProvider returns the working hours of a month for a calendar.
// An empty calendar id selects the provider's default calendar.
type HoursProvider interface {
	MonthlyHours(year int, month int, calendar CalendarID) (decimal.Decimal, error)
}

// Resolver produces ResolvedCost values.
type Resolver struct {
	Hours        HoursProvider   // optional
	DefaultHours decimal.Decimal // zero means DefaultMonthlyHours
}

// Resolve computes monthly and hourly cost for the period.
//
// Hours precedence: explicit MonthlyHours, then the calendar, then the
// default. A missing contract yields a zero-cost result plus a degradation.
func (r Resolver) Resolve(emp EmployeeCost, period Period) (ResolvedCost, []Degradation, error) {
	if err := emp.Validate(); err != nil {
		return ResolvedCost{}, nil, err
	}

	var degraded []Degradation
	hours, hoursDegradation, err := r.hours(emp, period)
	if err != nil {
		return ResolvedCost{}, nil, err
	}
	if hoursDegradation != nil {
		degraded = append(degraded, *hoursDegradation)
	}

	rc := ResolvedCost{
		EmployeeID:   emp.EmployeeID,
		MonthlyHours: hours,
		Salary:       decimal.Zero,
		Benefits:     decimal.Zero,
	}

	switch {
	case emp.UseManual:
		rc.Source = SourceManual
		rc.Salary = emp.ManualSalary
		rc.Benefits = emp.ManualBenefits
	case emp.ContractWage != nil:
		rc.Source = SourceContract
		rc.Salary = *emp.ContractWage
	default:
		rc.Source = SourceNone
		degraded = append(degraded, Degradation{
			Reason:  DegradedNoContract,
			Subject: string(emp.EmployeeID),
			Detail:  "no contract wage; cost resolved to zero",
		})
	}

	rc.MonthlyTotal = rc.Salary.Add(rc.Benefits)
	rc.HourlyCost = ratio(rc.MonthlyTotal, rc.MonthlyHours)
	return rc, degraded, nil
}

func (r Resolver) hours(emp EmployeeCost, period Period) (decimal.Decimal, *Degradation, error) {
	if emp.MonthlyHours != nil {
		return *emp.MonthlyHours, nil, nil
	}

	fallback := r.DefaultHours
	if !fallback.IsPositive() {
		fallback = DefaultMonthlyHours
	}
	if r.Hours == nil {
		return fallback, nil, nil
	}

	h, err := r.Hours.MonthlyHours(period.Year, int(period.Month), emp.CalendarID)
	if err != nil {
		return fallback, &Degradation{
			Reason:  DegradedDefaultHours,
			Subject: string(emp.EmployeeID),
			Detail:  fmt.Sprintf("calendar %q: %v", emp.CalendarID, err),
		}, nil
	}
	if !h.IsPositive() {
		return decimal.Zero, nil, invalid("monthly_hours", ErrInvalidMonthlyHours,
			"calendar %q yields %s hours for %s", emp.CalendarID, h, period)
	}
	return h, nil, nil
}

// ResolveAll resolves every active employee, skipping inactive ones.
func (r Resolver) ResolveAll(employees []EmployeeCost, period Period) (map[EmployeeID]ResolvedCost, []Degradation, error) {
	out := make(map[EmployeeID]ResolvedCost, len(employees))
	var degraded []Degradation
	for _, emp := range employees {
		if !emp.Active {
			continue
		}
		rc, d, err := r.Resolve(emp, period)
		if err != nil {
			return nil, nil, err
		}
		out[emp.EmployeeID] = rc
		degraded = append(degraded, d...)
	}
	return out, degraded, nil
}
