package costing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COST POOL - Named bucket of employee and overhead cost
// =============================================================================

type CostPool struct {
	ID     PoolID
	Name   string
	Kind   PoolKind
	Active bool
}

// EmployeeAllocation assigns a percentage of an employee's monthly cost to
// a pool. At most one allocation exists per (employee, pool).
type EmployeeAllocation struct {
	EmployeeID EmployeeID
	PoolID     PoolID
	Percentage decimal.Decimal // 0..100 inclusive
}

func (a EmployeeAllocation) Validate() error {
	if a.Percentage.IsNegative() || a.Percentage.GreaterThan(hundred) {
		return invalid("percentage", ErrPercentageOutOfRange,
			"employee %s in pool %s: %s", a.EmployeeID, a.PoolID, a.Percentage)
	}
	return nil
}

// ValidateEmployeeAllocations checks every allocation and the
// (employee, pool) uniqueness rule across the set.
func ValidateEmployeeAllocations(allocs []EmployeeAllocation) error {
	seen := make(map[[2]string]bool, len(allocs))
	for _, a := range allocs {
		if err := a.Validate(); err != nil {
			return err
		}
		key := [2]string{string(a.EmployeeID), string(a.PoolID)}
		if seen[key] {
			return invalid("employee_id", ErrDuplicateEmployeeAllocation,
				"employee %s already in pool %s", a.EmployeeID, a.PoolID)
		}
		seen[key] = true
	}
	return nil
}

// PoolCostLine is one employee's contribution to a pool.
type PoolCostLine struct {
	EmployeeID  EmployeeID
	Percentage  decimal.Decimal
	MonthlyCost decimal.Decimal
}

// PoolTotal is the monthly cost collected in one pool.
type PoolTotal struct {
	PoolID       PoolID
	Kind         PoolKind
	EmployeeCost decimal.Decimal
	OverheadCost decimal.Decimal
	Total        decimal.Decimal
	Lines        []PoolCostLine
}

// OverheadShare is the fraction of the pool total that comes from overhead.
func (t PoolTotal) OverheadShare() decimal.Decimal {
	return ratio(t.OverheadCost, t.Total)
}

// AggregatePool sums employee allocations and overhead allocations that
// target the pool. Allocations and overheads for other pools are ignored.
// Employees absent from costs contribute zero.
func AggregatePool(pool CostPool, allocs []EmployeeAllocation, costs map[EmployeeID]ResolvedCost, overheads []OverheadAllocation) (PoolTotal, error) {
	total := PoolTotal{
		PoolID:       pool.ID,
		Kind:         pool.Kind,
		EmployeeCost: decimal.Zero,
		OverheadCost: decimal.Zero,
	}

	for _, a := range allocs {
		if a.PoolID != pool.ID {
			continue
		}
		if err := a.Validate(); err != nil {
			return PoolTotal{}, err
		}
		monthly := decimal.Zero
		if rc, ok := costs[a.EmployeeID]; ok {
			monthly = percentOf(rc.MonthlyTotal, a.Percentage)
		}
		total.Lines = append(total.Lines, PoolCostLine{
			EmployeeID:  a.EmployeeID,
			Percentage:  a.Percentage,
			MonthlyCost: monthly,
		})
		total.EmployeeCost = total.EmployeeCost.Add(monthly)
	}

	for _, o := range overheads {
		if o.PoolID == pool.ID {
			total.OverheadCost = total.OverheadCost.Add(o.MonthlyCost)
		}
	}

	sort.Slice(total.Lines, func(i, j int) bool { return total.Lines[i].EmployeeID < total.Lines[j].EmployeeID })
	total.Total = total.EmployeeCost.Add(total.OverheadCost)
	return total, nil
}

// AdminPoolTotal sums the totals of every active admin pool.
func AdminPoolTotal(pools []CostPool, totals map[PoolID]PoolTotal) decimal.Decimal {
	sumAdmin := decimal.Zero
	for _, p := range pools {
		if p.Kind == PoolAdmin && p.Active {
			sumAdmin = sumAdmin.Add(totals[p.ID].Total)
		}
	}
	return sumAdmin
}
