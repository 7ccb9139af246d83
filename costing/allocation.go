package costing

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLIENT COST ALLOCATION - The per-client, per-period output record
// =============================================================================

// IndirectCostLine snapshots one driver allocation at calculation time.
// Later changes to the driver's economics do not alter it.
type IndirectCostLine struct {
	DriverID          DriverID
	Quantity          decimal.Decimal
	CostPerUnit       decimal.Decimal
	SalesPricePerUnit decimal.Decimal
	AllocatedCost     decimal.Decimal
	AllocatedProfit   decimal.Decimal
}

// ClientCostAllocation is unique per (client, period).
type ClientCostAllocation struct {
	ID           AllocationID
	ClientID     ClientID
	Period       Period
	DirectCost   decimal.Decimal
	IndirectCost decimal.Decimal
	AdminCost    decimal.Decimal
	TotalCost    decimal.Decimal
	State        AllocationState
	Lines        []IndirectCostLine
	CalculatedAt *time.Time
	ConfirmedAt  *time.Time
}

// NewAllocation returns a zeroed draft record.
func NewAllocation(id AllocationID, client ClientID, period Period) ClientCostAllocation {
	return ClientCostAllocation{
		ID:           id,
		ClientID:     client,
		Period:       period,
		DirectCost:   decimal.Zero,
		IndirectCost: decimal.Zero,
		AdminCost:    decimal.Zero,
		TotalCost:    decimal.Zero,
		State:        StateDraft,
	}
}

// NonAdmin is the client's share basis for admin redistribution.
func (a ClientCostAllocation) NonAdmin() decimal.Decimal {
	return a.DirectCost.Add(a.IndirectCost)
}

// Recalculable reports whether the record may still be rewritten.
func (a ClientCostAllocation) Recalculable() bool {
	return a.State == StateDraft || a.State == StateCalculated
}

// Confirm freezes a calculated allocation. It does not recompute anything.
func (a *ClientCostAllocation) Confirm(at time.Time) error {
	if a.State != StateCalculated {
		return invalid("state", ErrInvalidTransition, "allocation %s is %s, want %s", a.ID, a.State, StateCalculated)
	}
	a.State = StateConfirmed
	a.ConfirmedAt = &at
	return nil
}

// =============================================================================
// PHASE 1 - Direct and indirect cost for one client
// =============================================================================

// UsageRecord is a timesheet-like entry: hours an employee spent for a client.
type UsageRecord struct {
	ID          string
	EmployeeID  EmployeeID
	ClientID    ClientID
	Date        time.Time
	Quantity    decimal.Decimal
	Description string
}

// DirectCost sums quantity x hourly cost over the client's usage inside the
// period. Work by an employee without a resolved cost counts as zero.
func DirectCost(client ClientID, period Period, usage []UsageRecord, costs map[EmployeeID]ResolvedCost) (decimal.Decimal, []Degradation, error) {
	total := decimal.Zero
	var degraded []Degradation
	missing := make(map[EmployeeID]bool)

	for _, u := range usage {
		if u.ClientID != client || !period.Contains(u.Date) {
			continue
		}
		if u.Quantity.IsNegative() {
			return decimal.Zero, nil, invalid("quantity", ErrNonPositiveQuantity,
				"usage %s for client %s is %s", u.ID, client, u.Quantity)
		}
		rc, ok := costs[u.EmployeeID]
		if !ok {
			if !missing[u.EmployeeID] {
				missing[u.EmployeeID] = true
				degraded = append(degraded, Degradation{
					Reason:  DegradedMissingEmployee,
					Subject: string(u.EmployeeID),
					Detail:  fmt.Sprintf("usage for client %s in %s priced at zero", client, period),
				})
			}
			continue
		}
		total = total.Add(u.Quantity.Mul(rc.HourlyCost))
	}
	return total, degraded, nil
}

// IndirectLines snapshots the client's allocation of every active driver.
// Drivers are visited in id order so the result is deterministic.
func IndirectLines(client ClientID, drivers []CostDriver, economics map[DriverID]DriverEconomics, allocs []ClientDriverAllocation) ([]IndirectCostLine, decimal.Decimal) {
	byDriver := make(map[DriverID]decimal.Decimal)
	for _, a := range allocs {
		if a.ClientID == client {
			byDriver[a.DriverID] = a.Quantity
		}
	}

	ordered := append([]CostDriver(nil), drivers...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var lines []IndirectCostLine
	total := decimal.Zero
	for _, d := range ordered {
		if !d.Active {
			continue
		}
		qty, ok := byDriver[d.ID]
		if !ok {
			continue
		}
		e := economics[d.ID]
		line := IndirectCostLine{
			DriverID:          d.ID,
			Quantity:          qty,
			CostPerUnit:       e.CostPerUnit,
			SalesPricePerUnit: e.SalesPricePerUnit,
			AllocatedCost:     e.AllocatedCost(qty),
			AllocatedProfit:   e.AllocatedProfit(qty),
		}
		lines = append(lines, line)
		total = total.Add(line.AllocatedCost)
	}
	return lines, total
}

// =============================================================================
// PHASE 2 - Admin redistribution over the whole period
// =============================================================================

// DistributeAdmin splits adminTotal across the period's allocations in
// proportion to their non-admin cost and refreshes each total. Confirmed
// records keep their figures but still count toward the denominator.
// With no admin cost or no non-admin basis every share is zero.
func DistributeAdmin(adminTotal decimal.Decimal, allocs []ClientCostAllocation) decimal.Decimal {
	denominator := decimal.Zero
	for _, a := range allocs {
		denominator = denominator.Add(a.NonAdmin())
	}

	for i := range allocs {
		a := &allocs[i]
		if !a.Recalculable() {
			continue
		}
		a.AdminCost = decimal.Zero
		if adminTotal.IsPositive() && denominator.IsPositive() {
			a.AdminCost = adminTotal.Mul(a.NonAdmin()).Div(denominator)
		}
		a.TotalCost = sum(a.DirectCost, a.IndirectCost, a.AdminCost)
	}
	return denominator
}

// =============================================================================
// PERIOD CALCULATION - Both phases as one unit
// =============================================================================

// PeriodInput is the pre-fetched snapshot a period calculation works on.
type PeriodInput struct {
	Period            Period
	Allocations       []ClientCostAllocation // every record of the period
	Targets           []ClientID             // clients to recompute; nil means all
	Usage             []UsageRecord
	Costs             map[EmployeeID]ResolvedCost
	Drivers           []CostDriver
	Economics         map[DriverID]DriverEconomics
	DriverAllocations []ClientDriverAllocation
	AdminPoolTotal    decimal.Decimal
	Now               time.Time
}

type OutcomeStatus string

const (
	OutcomeCalculated OutcomeStatus = "calculated"
	OutcomeSkipped    OutcomeStatus = "skipped" // confirmed, left frozen
	OutcomeFailed     OutcomeStatus = "failed"
)

// ClientOutcome is the per-client line of a batch result.
type ClientOutcome struct {
	ClientID     ClientID
	AllocationID AllocationID
	Status       OutcomeStatus
	Err          error
}

type PeriodResult struct {
	Period         Period
	Allocations    []ClientCostAllocation // whole period, sorted by client
	Outcomes       []ClientOutcome
	Degradations   []Degradation
	AdminPoolTotal decimal.Decimal
	TotalNonAdmin  decimal.Decimal
}

// Succeeded counts calculated clients.
func (r PeriodResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeCalculated {
			n++
		}
	}
	return n
}

// Failed counts clients whose recomputation was rejected.
func (r PeriodResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			n++
		}
	}
	return n
}

// Allocation returns the period record for a client.
func (r PeriodResult) Allocation(client ClientID) (ClientCostAllocation, bool) {
	for _, a := range r.Allocations {
		if a.ClientID == client {
			return a, true
		}
	}
	return ClientCostAllocation{}, false
}

// CalculatePeriod recomputes direct and indirect cost for every target,
// then redistributes admin cost across all records of the period from the
// now stable denominator. A target that fails validation keeps its
// previous figures and is reported as failed; the rest of the batch
// proceeds. Input slices are not modified.
func CalculatePeriod(in PeriodInput) PeriodResult {
	allocs := make([]ClientCostAllocation, 0, len(in.Allocations))
	for _, a := range in.Allocations {
		if a.Period == in.Period {
			allocs = append(allocs, a)
		}
	}
	sort.Slice(allocs, func(i, j int) bool { return allocs[i].ClientID < allocs[j].ClientID })

	index := make(map[ClientID]int, len(allocs))
	for i, a := range allocs {
		index[a.ClientID] = i
	}

	targets := in.Targets
	if targets == nil {
		for _, a := range allocs {
			targets = append(targets, a.ClientID)
		}
	}

	result := PeriodResult{Period: in.Period, AdminPoolTotal: in.AdminPoolTotal}
	calculated := make(map[int]bool)

	for _, client := range targets {
		i, ok := index[client]
		if !ok {
			result.Outcomes = append(result.Outcomes, ClientOutcome{
				ClientID: client,
				Status:   OutcomeFailed,
				Err:      fmt.Errorf("%w: client %s in %s", ErrAllocationNotFound, client, in.Period),
			})
			continue
		}
		a := &allocs[i]
		if !a.Recalculable() {
			result.Outcomes = append(result.Outcomes, ClientOutcome{ClientID: client, AllocationID: a.ID, Status: OutcomeSkipped})
			continue
		}

		direct, degraded, err := DirectCost(client, in.Period, in.Usage, in.Costs)
		if err != nil {
			result.Outcomes = append(result.Outcomes, ClientOutcome{ClientID: client, AllocationID: a.ID, Status: OutcomeFailed, Err: err})
			continue
		}
		result.Degradations = append(result.Degradations, degraded...)

		lines, indirect := IndirectLines(client, in.Drivers, in.Economics, in.DriverAllocations)
		a.DirectCost = direct
		a.IndirectCost = indirect
		a.Lines = lines
		calculated[i] = true
		result.Outcomes = append(result.Outcomes, ClientOutcome{ClientID: client, AllocationID: a.ID, Status: OutcomeCalculated})
	}

	result.TotalNonAdmin = DistributeAdmin(in.AdminPoolTotal, allocs)

	now := in.Now
	for i := range calculated {
		allocs[i].State = StateCalculated
		allocs[i].CalculatedAt = &now
	}

	result.Allocations = allocs
	return result
}
