package costing

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SUPPORT LEVEL MULTIPLIERS
// =============================================================================

var workloadMultipliers = map[SupportLevel]decimal.Decimal{
	SupportBasic:      decimal.RequireFromString("0.8"),
	SupportStandard:   decimal.RequireFromString("1.0"),
	SupportPremium:    decimal.RequireFromString("1.3"),
	SupportEnterprise: decimal.RequireFromString("1.8"),
}

// Lower SLA multiplier means faster response.
var slaMultipliers = map[SupportLevel]decimal.Decimal{
	SupportBasic:      decimal.RequireFromString("2.0"),
	SupportStandard:   decimal.RequireFromString("1.0"),
	SupportPremium:    decimal.RequireFromString("0.5"),
	SupportEnterprise: decimal.RequireFromString("0.25"),
}

// WorkloadMultiplier returns the workload scaling for a support level.
// Unknown or empty levels scale like standard.
func WorkloadMultiplier(level SupportLevel) decimal.Decimal {
	if m, ok := workloadMultipliers[level]; ok {
		return m
	}
	return one
}

func SLAMultiplier(level SupportLevel) decimal.Decimal {
	if m, ok := slaMultipliers[level]; ok {
		return m
	}
	return one
}

// ServiceLevels are a service type's base targets.
type ServiceLevels struct {
	WorkloadFactor  decimal.Decimal
	ResponseHours   decimal.Decimal
	ResolutionHours decimal.Decimal
}

// Adjust applies a client's support level to the base targets.
func (s ServiceLevels) Adjust(level SupportLevel) ServiceLevels {
	sla := SLAMultiplier(level)
	return ServiceLevels{
		WorkloadFactor:  s.WorkloadFactor.Mul(WorkloadMultiplier(level)),
		ResponseHours:   s.ResponseHours.Mul(sla),
		ResolutionHours: s.ResolutionHours.Mul(sla),
	}
}

// =============================================================================
// WORKLOAD REPORT - Per-employee load against capacity
// =============================================================================

// DefaultWorkloadTarget is the summed workload factor of a fully occupied
// employee.
var DefaultWorkloadTarget = decimal.NewFromInt(100)

// Assignment puts an employee on a service for a client.
type Assignment struct {
	EmployeeID    EmployeeID
	ClientID      ClientID
	ServiceTypeID ServiceTypeID
}

// EmployeeWorkload is one row of the workload report.
type EmployeeWorkload struct {
	EmployeeID    EmployeeID
	Assignments   int
	TotalWorkload decimal.Decimal
	ByCategory    map[string]decimal.Decimal
	Target        decimal.Decimal

	// OverloadPercent is (total/target - 1) x 100; negative means spare capacity.
	OverloadPercent decimal.Decimal
	Overloaded      bool
}

// WorkloadReport sums effective workload factors per employee. Each
// assignment contributes the service's base factor scaled by the client's
// support level.
func WorkloadReport(assignments []Assignment, services map[ServiceTypeID]ServiceType, clients map[ClientID]Client, target decimal.Decimal) []EmployeeWorkload {
	if !target.IsPositive() {
		target = DefaultWorkloadTarget
	}

	rows := make(map[EmployeeID]*EmployeeWorkload)
	for _, a := range assignments {
		svc, ok := services[a.ServiceTypeID]
		if !ok {
			continue
		}
		row := rows[a.EmployeeID]
		if row == nil {
			row = &EmployeeWorkload{
				EmployeeID:    a.EmployeeID,
				TotalWorkload: decimal.Zero,
				ByCategory:    make(map[string]decimal.Decimal),
				Target:        target,
			}
			rows[a.EmployeeID] = row
		}
		factor := svc.Levels().Adjust(clients[a.ClientID].SupportLevel).WorkloadFactor
		row.Assignments++
		row.TotalWorkload = row.TotalWorkload.Add(factor)
		row.ByCategory[svc.Category] = row.ByCategory[svc.Category].Add(factor)
	}

	out := make([]EmployeeWorkload, 0, len(rows))
	for _, row := range rows {
		row.OverloadPercent = row.TotalWorkload.Div(target).Sub(one).Mul(hundred)
		row.Overloaded = row.TotalWorkload.GreaterThan(target)
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}
