package costing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Trend summarizes how a client's total cost moved between its two most
// recent periods.
type Trend string

const (
	TrendNew    Trend = "new"
	TrendStable Trend = "stable"
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
)

var stableThreshold = decimal.RequireFromString("0.05")

func periodBefore(a, b Period) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.Month < b.Month
}

// CostTrend compares the latest and previous allocation of one client.
// A relative change under 5% (against max(previous, 1)) is stable.
func CostTrend(allocs []ClientCostAllocation) Trend {
	if len(allocs) < 2 {
		return TrendNew
	}
	ordered := append([]ClientCostAllocation(nil), allocs...)
	sort.Slice(ordered, func(i, j int) bool { return periodBefore(ordered[j].Period, ordered[i].Period) })

	current, previous := ordered[0].TotalCost, ordered[1].TotalCost
	base := decimal.Max(previous, one)
	switch {
	case current.Sub(previous).Abs().Div(base).LessThan(stableThreshold):
		return TrendStable
	case current.GreaterThan(previous):
		return TrendUp
	default:
		return TrendDown
	}
}

// PeriodTotals is the sum of all reported allocations in one period.
type PeriodTotals struct {
	Period   Period
	Direct   decimal.Decimal
	Indirect decimal.Decimal
	Admin    decimal.Decimal
	Total    decimal.Decimal
	Clients  int
}

// TotalsByPeriod groups calculated and confirmed allocations by period,
// oldest first. Drafts are not reported.
func TotalsByPeriod(allocs []ClientCostAllocation) []PeriodTotals {
	byPeriod := make(map[Period]*PeriodTotals)
	for _, a := range allocs {
		if a.State == StateDraft {
			continue
		}
		t := byPeriod[a.Period]
		if t == nil {
			t = &PeriodTotals{Period: a.Period, Direct: decimal.Zero, Indirect: decimal.Zero, Admin: decimal.Zero, Total: decimal.Zero}
			byPeriod[a.Period] = t
		}
		t.Direct = t.Direct.Add(a.DirectCost)
		t.Indirect = t.Indirect.Add(a.IndirectCost)
		t.Admin = t.Admin.Add(a.AdminCost)
		t.Total = t.Total.Add(a.TotalCost)
		t.Clients++
	}

	out := make([]PeriodTotals, 0, len(byPeriod))
	for _, t := range byPeriod {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return periodBefore(out[i].Period, out[j].Period) })
	return out
}
