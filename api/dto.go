/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Record inputs reuse the
  factory JSON types (the same documents a snapshot file holds), so a record
  posted to the API and a record loaded from a file go through one validator.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Allocations:
    AllocationDTO, IndirectLineDTO, CreateAllocationRequest

  Periods:
    PeriodResultDTO, OutcomeDTO, DegradationDTO, PeriodDetailDTO,
    RecalculatePeriodRequest, RecalculateRangeRequest, RunDTO

  Reports:
    PoolTotalDTO, DriverEconomicsDTO, ResolvedCostDTO, TrendDTO,
    PeriodTotalsDTO, WorkloadDTO, CostBreakdownDTO, ServiceCostRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator tags; handlers call factory.Validate before
  touching the engine.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/snapshot.go: Record JSON types
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/abc-engine/costing"
)

// =============================================================================
// ALLOCATIONS
// =============================================================================

type IndirectLineDTO struct {
	DriverID          string          `json:"driver_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
	SalesPricePerUnit decimal.Decimal `json:"sales_price_per_unit"`
	AllocatedCost     decimal.Decimal `json:"allocated_cost"`
	AllocatedProfit   decimal.Decimal `json:"allocated_profit"`
}

// AllocationDTO represents a client cost allocation in API responses.
type AllocationDTO struct {
	ID           string            `json:"id"`
	ClientID     string            `json:"client_id"`
	Period       string            `json:"period"`
	State        string            `json:"state"`
	DirectCost   decimal.Decimal   `json:"direct_cost"`
	IndirectCost decimal.Decimal   `json:"indirect_cost"`
	AdminCost    decimal.Decimal   `json:"admin_cost"`
	TotalCost    decimal.Decimal   `json:"total_cost"`
	Lines        []IndirectLineDTO `json:"lines"`
	CalculatedAt *string           `json:"calculated_at,omitempty"`
	ConfirmedAt  *string           `json:"confirmed_at,omitempty"`
}

type CreateAllocationRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	Period   string `json:"period" validate:"required"`
}

func timeRef(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toAllocationDTO(a costing.ClientCostAllocation) AllocationDTO {
	lines := make([]IndirectLineDTO, len(a.Lines))
	for i, l := range a.Lines {
		lines[i] = IndirectLineDTO{
			DriverID:          string(l.DriverID),
			Quantity:          l.Quantity,
			CostPerUnit:       l.CostPerUnit,
			SalesPricePerUnit: l.SalesPricePerUnit,
			AllocatedCost:     l.AllocatedCost,
			AllocatedProfit:   l.AllocatedProfit,
		}
	}
	return AllocationDTO{
		ID:           string(a.ID),
		ClientID:     string(a.ClientID),
		Period:       a.Period.String(),
		State:        string(a.State),
		DirectCost:   a.DirectCost,
		IndirectCost: a.IndirectCost,
		AdminCost:    a.AdminCost,
		TotalCost:    a.TotalCost,
		Lines:        lines,
		CalculatedAt: timeRef(a.CalculatedAt),
		ConfirmedAt:  timeRef(a.ConfirmedAt),
	}
}

func toAllocationDTOs(allocs []costing.ClientCostAllocation) []AllocationDTO {
	out := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		out[i] = toAllocationDTO(a)
	}
	return out
}

// =============================================================================
// PERIODS
// =============================================================================

type OutcomeDTO struct {
	ClientID     string `json:"client_id"`
	AllocationID string `json:"allocation_id,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

type DegradationDTO struct {
	Reason  string `json:"reason"`
	Subject string `json:"subject"`
	Detail  string `json:"detail,omitempty"`
}

// PeriodResultDTO is the outcome of a period recalculation batch.
type PeriodResultDTO struct {
	Period         string           `json:"period"`
	Succeeded      int              `json:"succeeded"`
	Failed         int              `json:"failed"`
	AdminPoolTotal decimal.Decimal  `json:"admin_pool_total"`
	TotalNonAdmin  decimal.Decimal  `json:"total_non_admin"`
	Allocations    []AllocationDTO  `json:"allocations"`
	Outcomes       []OutcomeDTO     `json:"outcomes"`
	Degradations   []DegradationDTO `json:"degradations"`
}

type RecalculatePeriodRequest struct {
	Clients []string `json:"clients,omitempty" validate:"dive,required"`
}

type RecalculateRangeRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

func toDegradationDTOs(ds []costing.Degradation) []DegradationDTO {
	out := make([]DegradationDTO, len(ds))
	for i, d := range ds {
		out[i] = DegradationDTO{Reason: string(d.Reason), Subject: d.Subject, Detail: d.Detail}
	}
	return out
}

func toPeriodResultDTO(r costing.PeriodResult) PeriodResultDTO {
	outcomes := make([]OutcomeDTO, len(r.Outcomes))
	for i, o := range r.Outcomes {
		outcomes[i] = OutcomeDTO{ClientID: string(o.ClientID), AllocationID: string(o.AllocationID), Status: string(o.Status)}
		if o.Err != nil {
			outcomes[i].Error = o.Err.Error()
		}
	}
	return PeriodResultDTO{
		Period:         r.Period.String(),
		Succeeded:      r.Succeeded(),
		Failed:         r.Failed(),
		AdminPoolTotal: r.AdminPoolTotal,
		TotalNonAdmin:  r.TotalNonAdmin,
		Allocations:    toAllocationDTOs(r.Allocations),
		Outcomes:       outcomes,
		Degradations:   toDegradationDTOs(r.Degradations),
	}
}

// RunDTO is a recorded recalculation batch.
type RunDTO struct {
	ID         string `json:"id"`
	Period     string `json:"period"`
	Trigger    string `json:"trigger"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

func toRunDTO(run costing.RecalculationRun) RunDTO {
	return RunDTO{
		ID:         run.ID,
		Period:     run.Period.String(),
		Trigger:    run.Trigger,
		Succeeded:  run.Succeeded,
		Failed:     run.Failed,
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
	}
}

// DriverSyncDTO is one allocation rewritten from client service lines.
// A zero quantity means the allocation was removed.
type DriverSyncDTO struct {
	DriverID string          `json:"driver_id"`
	ClientID string          `json:"client_id"`
	Previous decimal.Decimal `json:"previous"`
	Quantity decimal.Decimal `json:"quantity"`
}

func toDriverSyncDTOs(changes []costing.DriverSyncChange) []DriverSyncDTO {
	out := make([]DriverSyncDTO, len(changes))
	for i, c := range changes {
		out[i] = DriverSyncDTO{
			DriverID: string(c.DriverID),
			ClientID: string(c.ClientID),
			Previous: c.Previous,
			Quantity: c.Quantity,
		}
	}
	return out
}

// =============================================================================
// REPORTS
// =============================================================================

type PoolLineDTO struct {
	EmployeeID  string          `json:"employee_id"`
	Percentage  decimal.Decimal `json:"percentage"`
	MonthlyCost decimal.Decimal `json:"monthly_cost"`
}

type PoolTotalDTO struct {
	PoolID       string          `json:"pool_id"`
	Kind         string          `json:"kind"`
	EmployeeCost decimal.Decimal `json:"employee_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
	Total        decimal.Decimal `json:"total"`
	Lines        []PoolLineDTO   `json:"lines"`
}

func toPoolTotalDTO(t costing.PoolTotal) PoolTotalDTO {
	lines := make([]PoolLineDTO, len(t.Lines))
	for i, l := range t.Lines {
		lines[i] = PoolLineDTO{EmployeeID: string(l.EmployeeID), Percentage: l.Percentage, MonthlyCost: l.MonthlyCost}
	}
	return PoolTotalDTO{
		PoolID:       string(t.PoolID),
		Kind:         string(t.Kind),
		EmployeeCost: t.EmployeeCost,
		OverheadCost: t.OverheadCost,
		Total:        t.Total,
		Lines:        lines,
	}
}

type DriverEconomicsDTO struct {
	DriverID               string          `json:"driver_id"`
	Basis                  string          `json:"basis"`
	MonthlyCost            decimal.Decimal `json:"monthly_cost"`
	MarkupPercent          decimal.Decimal `json:"markup_percent"`
	TotalAllocatedQuantity decimal.Decimal `json:"total_allocated_quantity"`
	TotalPurchasedQuantity decimal.Decimal `json:"total_purchased_quantity"`
	UnallocatedQuantity    decimal.Decimal `json:"unallocated_quantity"`
	CostPerUnit            decimal.Decimal `json:"cost_per_unit"`
	SalesPricePerUnit      decimal.Decimal `json:"sales_price_per_unit"`
	ProfitPerUnit          decimal.Decimal `json:"profit_per_unit"`
}

func toDriverEconomicsDTO(e costing.DriverEconomics) DriverEconomicsDTO {
	return DriverEconomicsDTO{
		DriverID:               string(e.DriverID),
		Basis:                  string(e.Basis),
		MonthlyCost:            e.MonthlyCost,
		MarkupPercent:          e.MarkupPercent,
		TotalAllocatedQuantity: e.TotalAllocatedQuantity,
		TotalPurchasedQuantity: e.TotalPurchasedQuantity,
		UnallocatedQuantity:    e.UnallocatedQuantity,
		CostPerUnit:            e.CostPerUnit,
		SalesPricePerUnit:      e.SalesPricePerUnit,
		ProfitPerUnit:          e.ProfitPerUnit,
	}
}

type ResolvedCostDTO struct {
	EmployeeID   string          `json:"employee_id"`
	Source       string          `json:"source"`
	MonthlyTotal decimal.Decimal `json:"monthly_total"`
	MonthlyHours decimal.Decimal `json:"monthly_hours"`
	HourlyCost   decimal.Decimal `json:"hourly_cost"`
}

// PeriodDetailDTO shows the derived figures a recalculation would use.
type PeriodDetailDTO struct {
	Period       string               `json:"period"`
	AdminTotal   decimal.Decimal      `json:"admin_total"`
	Pools        []PoolTotalDTO       `json:"pools"`
	Drivers      []DriverEconomicsDTO `json:"drivers"`
	Employees    []ResolvedCostDTO    `json:"employees"`
	Degradations []DegradationDTO     `json:"degradations"`
}

func toPeriodDetailDTO(s *costing.Snapshot) PeriodDetailDTO {
	out := PeriodDetailDTO{
		Period:       s.Period.String(),
		AdminTotal:   s.AdminTotal,
		Pools:        make([]PoolTotalDTO, 0, len(s.PoolTotals)),
		Drivers:      make([]DriverEconomicsDTO, 0, len(s.Economics)),
		Employees:    make([]ResolvedCostDTO, 0, len(s.Costs)),
		Degradations: toDegradationDTOs(s.Degradations),
	}
	for _, t := range s.PoolTotals {
		out.Pools = append(out.Pools, toPoolTotalDTO(t))
	}
	sort.Slice(out.Pools, func(i, j int) bool { return out.Pools[i].PoolID < out.Pools[j].PoolID })
	for _, e := range s.Economics {
		out.Drivers = append(out.Drivers, toDriverEconomicsDTO(e))
	}
	sort.Slice(out.Drivers, func(i, j int) bool { return out.Drivers[i].DriverID < out.Drivers[j].DriverID })
	for _, c := range s.Costs {
		out.Employees = append(out.Employees, ResolvedCostDTO{
			EmployeeID:   string(c.EmployeeID),
			Source:       string(c.Source),
			MonthlyTotal: c.MonthlyTotal,
			MonthlyHours: c.MonthlyHours,
			HourlyCost:   c.HourlyCost,
		})
	}
	sort.Slice(out.Employees, func(i, j int) bool { return out.Employees[i].EmployeeID < out.Employees[j].EmployeeID })
	return out
}

type TrendDTO struct {
	ClientID string          `json:"client_id"`
	Trend    string          `json:"trend"`
	History  []AllocationDTO `json:"history"`
}

type PeriodTotalsDTO struct {
	Period   string          `json:"period"`
	Clients  int             `json:"clients"`
	Direct   decimal.Decimal `json:"direct"`
	Indirect decimal.Decimal `json:"indirect"`
	Admin    decimal.Decimal `json:"admin"`
	Total    decimal.Decimal `json:"total"`
}

type WorkloadDTO struct {
	EmployeeID      string                     `json:"employee_id"`
	Assignments     int                        `json:"assignments"`
	TotalWorkload   decimal.Decimal            `json:"total_workload"`
	ByCategory      map[string]decimal.Decimal `json:"by_category"`
	Target          decimal.Decimal            `json:"target"`
	OverloadPercent decimal.Decimal            `json:"overload_percent"`
	Overloaded      bool                       `json:"overloaded"`
}

// ServiceCostRequest prices a catalog item, optionally for one client.
type ServiceCostRequest struct {
	CatalogItemID         string           `json:"catalog_item_id" validate:"required"`
	ClientID              string           `json:"client_id,omitempty"`
	Method                string           `json:"method,omitempty" validate:"omitempty,oneof=time_based unit_based complexity_based"`
	Period                string           `json:"period,omitempty"`
	EstimatedHoursPerUnit *decimal.Decimal `json:"estimated_hours_per_unit,omitempty"`
	BaseUnits             *decimal.Decimal `json:"base_units,omitempty"`
	ComplexityMultiplier  *decimal.Decimal `json:"complexity_multiplier,omitempty"`
}

type TeamMemberDTO struct {
	EmployeeID         string          `json:"employee_id"`
	MonthlyCost        decimal.Decimal `json:"monthly_cost"`
	HourlyCost         decimal.Decimal `json:"hourly_cost"`
	CostPerServiceUnit decimal.Decimal `json:"cost_per_service_unit"`
	Missing            bool            `json:"missing_cost,omitempty"`
}

type CostBreakdownDTO struct {
	CatalogItemID           string          `json:"catalog_item_id"`
	ClientID                string          `json:"client_id,omitempty"`
	Method                  string          `json:"method"`
	BlendedHourlyRate       decimal.Decimal `json:"blended_hourly_rate"`
	BaseCost                decimal.Decimal `json:"base_cost"`
	BaseWorkloadFactor      decimal.Decimal `json:"base_workload_factor"`
	EffectiveWorkloadFactor decimal.Decimal `json:"effective_workload_factor"`
	ResponseHours           decimal.Decimal `json:"response_hours"`
	ResolutionHours         decimal.Decimal `json:"resolution_hours"`
	ActualUnits             decimal.Decimal `json:"actual_units"`
	EffectiveWorkloadUnits  decimal.Decimal `json:"effective_workload_units"`
	Direct                  decimal.Decimal `json:"direct"`
	Indirect                decimal.Decimal `json:"indirect"`
	Admin                   decimal.Decimal `json:"admin"`
	Overhead                decimal.Decimal `json:"overhead"`
	Total                   decimal.Decimal `json:"total"`
	SalesPrice              decimal.Decimal `json:"sales_price"`
	Team                    []TeamMemberDTO `json:"team"`
}

func toCostBreakdownDTO(b costing.CostBreakdown) CostBreakdownDTO {
	team := make([]TeamMemberDTO, len(b.Team))
	for i, m := range b.Team {
		team[i] = TeamMemberDTO{
			EmployeeID:         string(m.EmployeeID),
			MonthlyCost:        m.MonthlyCost,
			HourlyCost:         m.HourlyCost,
			CostPerServiceUnit: m.CostPerServiceUnit,
			Missing:            m.Missing,
		}
	}
	return CostBreakdownDTO{
		CatalogItemID:           string(b.CatalogItemID),
		ClientID:                string(b.ClientID),
		Method:                  string(b.Method),
		BlendedHourlyRate:       b.BlendedHourlyRate,
		BaseCost:                b.BaseCost,
		BaseWorkloadFactor:      b.BaseWorkloadFactor,
		EffectiveWorkloadFactor: b.EffectiveWorkloadFactor,
		ResponseHours:           b.EffectiveLevels.ResponseHours,
		ResolutionHours:         b.EffectiveLevels.ResolutionHours,
		ActualUnits:             b.ActualUnits,
		EffectiveWorkloadUnits:  b.EffectiveWorkloadUnits,
		Direct:                  b.Direct,
		Indirect:                b.Indirect,
		Admin:                   b.Admin,
		Overhead:                b.Overhead,
		Total:                   b.Total,
		SalesPrice:              b.SalesPrice,
		Team:                    team,
	}
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO describes a built-in demo configuration.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Period      string `json:"period"`
}

type LoadScenarioRequest struct {
	ScenarioID  string `json:"scenario_id" validate:"required"`
	Recalculate bool   `json:"recalculate,omitempty"`
}

// ErrorResponse represents an error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
