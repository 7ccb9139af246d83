package costing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SERVICE TYPE & CATALOG
// =============================================================================

// ServiceType describes a kind of support work and the team delivering it.
type ServiceType struct {
	ID                 ServiceTypeID
	Name               string
	Category           string
	BaseWorkloadFactor decimal.Decimal // zero is read as 1
	ResponseHours      decimal.Decimal
	ResolutionHours    decimal.Decimal
	Team               []EmployeeID
	DriverID           DriverID // fed by the quantities of active service lines; empty for none
}

// Levels returns the base targets of the service type.
func (s ServiceType) Levels() ServiceLevels {
	factor := s.BaseWorkloadFactor
	if !factor.IsPositive() {
		factor = one
	}
	return ServiceLevels{
		WorkloadFactor:  factor,
		ResponseHours:   s.ResponseHours,
		ResolutionHours: s.ResolutionHours,
	}
}

// CatalogItem is a sellable service unit.
type CatalogItem struct {
	ID                  CatalogItemID
	Name                string
	ServiceTypeID       ServiceTypeID
	SupportHoursPerUnit decimal.Decimal
	MarkupPercent       decimal.Decimal
	ManualBaseCost      *decimal.Decimal // overrides the team-derived cost
}

// BaseCost is the team's blended hourly rate times the support hours per
// unit, unless a manual override is set. An override of zero prices the
// item at zero.
func (c CatalogItem) BaseCost(blendedRate decimal.Decimal) decimal.Decimal {
	if c.ManualBaseCost != nil {
		return *c.ManualBaseCost
	}
	return blendedRate.Mul(c.SupportHoursPerUnit)
}

func (c CatalogItem) SalesPrice(blendedRate decimal.Decimal) decimal.Decimal {
	return withMarkup(c.BaseCost(blendedRate), c.MarkupPercent)
}

// TeamMemberCost is one line of a catalog item's team breakdown.
type TeamMemberCost struct {
	EmployeeID         EmployeeID
	MonthlyCost        decimal.Decimal
	HourlyCost         decimal.Decimal
	CostPerServiceUnit decimal.Decimal
	Missing            bool // no cost record for the period
}

// BlendedHourlyRate averages the positive hourly costs of the team.
// Members without a resolved cost are ignored. An empty team yields zero.
func BlendedHourlyRate(team []EmployeeID, costs map[EmployeeID]ResolvedCost) decimal.Decimal {
	total := decimal.Zero
	n := 0
	for _, id := range team {
		rc, ok := costs[id]
		if !ok || !rc.HourlyCost.IsPositive() {
			continue
		}
		total = total.Add(rc.HourlyCost)
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n)))
}

// TeamBreakdown lists each team member's cost per service unit. Members
// without a resolved cost are listed with zero figures and Missing set.
func TeamBreakdown(item CatalogItem, team []EmployeeID, costs map[EmployeeID]ResolvedCost) []TeamMemberCost {
	out := make([]TeamMemberCost, 0, len(team))
	for _, id := range team {
		rc, ok := costs[id]
		if !ok || rc.Source == SourceNone {
			out = append(out, TeamMemberCost{
				EmployeeID:         id,
				MonthlyCost:        decimal.Zero,
				HourlyCost:         decimal.Zero,
				CostPerServiceUnit: decimal.Zero,
				Missing:            true,
			})
			continue
		}
		out = append(out, TeamMemberCost{
			EmployeeID:         id,
			MonthlyCost:        rc.MonthlyTotal,
			HourlyCost:         rc.HourlyCost,
			CostPerServiceUnit: rc.HourlyCost.Mul(item.SupportHoursPerUnit),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

// =============================================================================
// SERVICE COST CALCULATION
// =============================================================================

// DriverCharge is a pool driver apportioned into a service calculation.
type DriverCharge struct {
	DriverID       DriverID
	PoolKind       PoolKind
	CostPerUnit    decimal.Decimal
	OverheadShare  decimal.Decimal  // fraction of the pool total that is overhead
	ClientQuantity *decimal.Decimal // nil falls back to the actual units
}

type ServiceCostInput struct {
	Item                  CatalogItem
	Service               ServiceType
	Client                *Client // optional; scales the workload factor
	Method                CalculationMethod
	EstimatedHoursPerUnit decimal.Decimal // zero is read as 1
	BaseUnitsRequested    decimal.Decimal // zero is read as 1
	ComplexityMultiplier  decimal.Decimal // zero is read as 1
	Costs                 map[EmployeeID]ResolvedCost
	Charges               []DriverCharge
}

// CostBreakdown is the result of a service cost calculation.
type CostBreakdown struct {
	CatalogItemID           CatalogItemID
	ClientID                ClientID
	Method                  CalculationMethod
	BlendedHourlyRate       decimal.Decimal
	BaseCost                decimal.Decimal
	BaseWorkloadFactor      decimal.Decimal
	EffectiveWorkloadFactor decimal.Decimal
	EffectiveLevels         ServiceLevels
	ActualUnits             decimal.Decimal
	EffectiveWorkloadUnits  decimal.Decimal

	Direct   decimal.Decimal
	Indirect decimal.Decimal
	Admin    decimal.Decimal
	Overhead decimal.Decimal
	Total    decimal.Decimal

	SalesPrice decimal.Decimal
	Team       []TeamMemberCost
}

func orOne(d decimal.Decimal) decimal.Decimal {
	if d.IsZero() {
		return one
	}
	return d
}

// ComputeServiceCost prices one unit of a catalog service, optionally for
// a specific client.
//
// Direct cost per method:
//
//	time_based:       hours x effective factor x blended rate
//	unit_based:       base cost x effective factor
//	complexity_based: base cost x complexity x effective factor
//
// Driver charges on indirect and admin pools are split into their overhead
// part (by the pool's overhead share) and the remainder. Direct pool
// drivers are skipped since labor is already in the direct component.
func ComputeServiceCost(in ServiceCostInput) (CostBreakdown, error) {
	hours := orOne(in.EstimatedHoursPerUnit)
	units := orOne(in.BaseUnitsRequested)
	complexity := orOne(in.ComplexityMultiplier)
	if hours.IsNegative() || units.IsNegative() || complexity.IsNegative() {
		return CostBreakdown{}, invalid("quantity", ErrNonPositiveQuantity, "service %s", in.Item.ID)
	}

	base := in.Service.Levels()
	effective := base
	b := CostBreakdown{
		CatalogItemID: in.Item.ID,
		Method:        in.Method,
		Indirect:      decimal.Zero,
		Admin:         decimal.Zero,
		Overhead:      decimal.Zero,
	}
	if in.Client != nil {
		b.ClientID = in.Client.ID
		effective = base.Adjust(in.Client.SupportLevel)
	}
	factor := effective.WorkloadFactor

	b.BaseWorkloadFactor = base.WorkloadFactor
	b.EffectiveWorkloadFactor = factor
	b.EffectiveLevels = effective
	b.BlendedHourlyRate = BlendedHourlyRate(in.Service.Team, in.Costs)
	b.BaseCost = in.Item.BaseCost(b.BlendedHourlyRate)
	b.Team = TeamBreakdown(in.Item, in.Service.Team, in.Costs)

	b.ActualUnits = units
	switch in.Method {
	case MethodTimeBased, "":
		b.Method = MethodTimeBased
		b.Direct = hours.Mul(factor).Mul(b.BlendedHourlyRate)
		b.EffectiveWorkloadUnits = hours.Mul(factor)
	case MethodUnitBased:
		b.Direct = b.BaseCost.Mul(factor)
		b.ActualUnits = units.Mul(factor)
		b.EffectiveWorkloadUnits = b.ActualUnits
	case MethodComplexityBased:
		b.Direct = b.BaseCost.Mul(complexity).Mul(factor)
		b.EffectiveWorkloadUnits = factor
	default:
		return CostBreakdown{}, invalid("calculation_method", ErrUnknownMethod, "%q", in.Method)
	}

	for _, c := range in.Charges {
		if c.PoolKind == PoolDirect {
			continue
		}
		qty := b.ActualUnits
		if c.ClientQuantity != nil {
			qty = *c.ClientQuantity
		}
		amount := qty.Mul(c.CostPerUnit)
		overhead := amount.Mul(c.OverheadShare)
		rest := amount.Sub(overhead)

		b.Overhead = b.Overhead.Add(overhead)
		if c.PoolKind == PoolAdmin {
			b.Admin = b.Admin.Add(rest)
		} else {
			b.Indirect = b.Indirect.Add(rest)
		}
	}

	b.Total = sum(b.Direct, b.Indirect, b.Admin, b.Overhead)
	b.SalesPrice = withMarkup(b.Total, in.Item.MarkupPercent)
	return b, nil
}
