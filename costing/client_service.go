package costing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLIENT SERVICES - Equipment and services installed at a client
// =============================================================================

// ClientService is one service line a client runs: a number of units of a
// service type, e.g. 12 workstations under helpdesk support.
type ClientService struct {
	ID            ClientServiceID
	ClientID      ClientID
	ServiceTypeID ServiceTypeID
	Name          string
	Quantity      decimal.Decimal
	Status        ServiceStatus
}

func (s ClientService) Validate() error {
	if !s.Quantity.IsPositive() {
		return invalid("quantity", ErrNonPositiveQuantity, "client service %s: %s", s.ID, s.Quantity)
	}
	if !s.Status.Valid() {
		return invalid("status", ErrUnknownServiceStatus, "client service %s: %q", s.ID, s.Status)
	}
	return nil
}

// DriverQuantity is what the line contributes to its driver: the full
// quantity while active, nothing otherwise.
func (s ClientService) DriverQuantity() decimal.Decimal {
	if s.Status != ServiceActive {
		return decimal.Zero
	}
	return s.Quantity
}

// CountedAssignments drops assignments whose (client, service type) has
// service lines but none of them active. Pairs without any line are kept
// so plain assignments still count.
func CountedAssignments(assignments []Assignment, lines []ClientService) []Assignment {
	type pair struct {
		client  ClientID
		service ServiceTypeID
	}
	tracked := make(map[pair]bool)
	active := make(map[pair]bool)
	for _, l := range lines {
		k := pair{l.ClientID, l.ServiceTypeID}
		tracked[k] = true
		if l.Status == ServiceActive {
			active[k] = true
		}
	}

	out := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		k := pair{a.ClientID, a.ServiceTypeID}
		if tracked[k] && !active[k] {
			continue
		}
		out = append(out, a)
	}
	return out
}

// =============================================================================
// DRIVER SYNC - Service line quantities into client driver allocations
// =============================================================================

// DriverClientKey identifies a client driver allocation.
type DriverClientKey struct {
	DriverID DriverID
	ClientID ClientID
}

// DriverSyncChange is one allocation rewritten by a sync.
type DriverSyncChange struct {
	DriverClientKey
	Previous decimal.Decimal // zero when the allocation did not exist
	Quantity decimal.Decimal // zero when the allocation is removed
}

// DriverSyncPlan is the allocation set a sync produces.
type DriverSyncPlan struct {
	Upserts []ClientDriverAllocation
	Removes []DriverClientKey
	Changes []DriverSyncChange
}

// PlanDriverSync sums the active quantity of every service line per
// (driver, client), where the driver comes from the line's service type.
// A pair whose lines are all inactive loses its allocation; allocations
// with no service line behind them are left alone. Every touched driver is
// checked against its purchased quantity on the final allocation set.
func PlanDriverSync(lines []ClientService, services map[ServiceTypeID]ServiceType, drivers map[DriverID]CostDriver, existing []ClientDriverAllocation) (DriverSyncPlan, error) {
	wanted := make(map[DriverClientKey]decimal.Decimal)
	for _, l := range lines {
		st, ok := services[l.ServiceTypeID]
		if !ok {
			return DriverSyncPlan{}, fmt.Errorf("client service %s: %w: %s", l.ID, ErrServiceNotFound, l.ServiceTypeID)
		}
		if st.DriverID == "" {
			continue
		}
		if _, ok := drivers[st.DriverID]; !ok {
			return DriverSyncPlan{}, fmt.Errorf("service type %s: %w: %s", st.ID, ErrDriverNotFound, st.DriverID)
		}
		k := DriverClientKey{DriverID: st.DriverID, ClientID: l.ClientID}
		wanted[k] = wanted[k].Add(l.DriverQuantity())
	}

	current := make(map[DriverClientKey]decimal.Decimal, len(existing))
	for _, a := range existing {
		current[DriverClientKey{DriverID: a.DriverID, ClientID: a.ClientID}] = a.Quantity
	}

	keys := make([]DriverClientKey, 0, len(wanted))
	for k := range wanted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DriverID != keys[j].DriverID {
			return keys[i].DriverID < keys[j].DriverID
		}
		return keys[i].ClientID < keys[j].ClientID
	})

	var plan DriverSyncPlan
	final := make(map[DriverClientKey]decimal.Decimal, len(current))
	for k, q := range current {
		final[k] = q
	}
	for _, k := range keys {
		qty := wanted[k]
		prev, had := current[k]
		switch {
		case qty.IsZero() && !had:
			continue
		case qty.IsZero():
			plan.Removes = append(plan.Removes, k)
			delete(final, k)
		case had && prev.Equal(qty):
			continue
		default:
			a := ClientDriverAllocation{DriverID: k.DriverID, ClientID: k.ClientID, Quantity: qty}
			if err := a.Validate(); err != nil {
				return DriverSyncPlan{}, err
			}
			plan.Upserts = append(plan.Upserts, a)
			final[k] = qty
		}
		plan.Changes = append(plan.Changes, DriverSyncChange{DriverClientKey: k, Previous: prev, Quantity: qty})
	}

	touched := make(map[DriverID]bool)
	for _, c := range plan.Changes {
		touched[c.DriverID] = true
	}
	for id := range touched {
		var allocs []ClientDriverAllocation
		for k, q := range final {
			if k.DriverID == id {
				allocs = append(allocs, ClientDriverAllocation{DriverID: k.DriverID, ClientID: k.ClientID, Quantity: q})
			}
		}
		if err := CheckDriverCap(drivers[id], allocs); err != nil {
			return DriverSyncPlan{}, err
		}
	}
	return plan, nil
}
