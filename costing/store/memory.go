// Package store provides an in-memory costing.Store.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/abc-engine/costing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev/cli)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	data state
}

type empPoolKey struct {
	employee costing.EmployeeID
	pool     costing.PoolID
}

type driverClientKey struct {
	driver costing.DriverID
	client costing.ClientID
}

type state struct {
	employees    map[costing.EmployeeID]costing.EmployeeCost
	pools        map[costing.PoolID]costing.CostPool
	empAllocs    map[empPoolKey]costing.EmployeeAllocation
	overheads    map[costing.OverheadID]costing.OverheadCost
	drivers      map[costing.DriverID]costing.CostDriver
	driverAllocs map[driverClientKey]costing.ClientDriverAllocation
	clients      map[costing.ClientID]costing.Client
	services     map[costing.ServiceTypeID]costing.ServiceType
	catalog      map[costing.CatalogItemID]costing.CatalogItem
	assignments  []costing.Assignment
	lines        map[costing.ClientServiceID]costing.ClientService
	usage        []costing.UsageRecord
	allocations  map[costing.AllocationID]costing.ClientCostAllocation
	runs         []costing.RecalculationRun
}

func newState() state {
	return state{
		employees:    make(map[costing.EmployeeID]costing.EmployeeCost),
		pools:        make(map[costing.PoolID]costing.CostPool),
		empAllocs:    make(map[empPoolKey]costing.EmployeeAllocation),
		overheads:    make(map[costing.OverheadID]costing.OverheadCost),
		drivers:      make(map[costing.DriverID]costing.CostDriver),
		driverAllocs: make(map[driverClientKey]costing.ClientDriverAllocation),
		clients:      make(map[costing.ClientID]costing.Client),
		services:     make(map[costing.ServiceTypeID]costing.ServiceType),
		catalog:      make(map[costing.CatalogItemID]costing.CatalogItem),
		lines:        make(map[costing.ClientServiceID]costing.ClientService),
		allocations:  make(map[costing.AllocationID]costing.ClientCostAllocation),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	for k, v := range s.empAllocs {
		c.empAllocs[k] = v
	}
	for k, v := range s.overheads {
		c.overheads[k] = v
	}
	for k, v := range s.drivers {
		c.drivers[k] = v
	}
	for k, v := range s.driverAllocs {
		c.driverAllocs[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.catalog {
		c.catalog[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.allocations {
		c.allocations[k] = v
	}
	c.assignments = append(c.assignments, s.assignments...)
	c.usage = append(c.usage, s.usage...)
	c.runs = append(c.runs, s.runs...)
	return c
}

func NewMemory() *Memory {
	return &Memory{data: newState()}
}

// Reset drops every record.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newState()
	return nil
}

var (
	_ costing.Store  = (*Memory)(nil)
	_ costing.RunLog = (*Memory)(nil)
)

// =============================================================================
// READS
// =============================================================================

func sortedValues[K comparable, V any](m map[K]V, less func(a, b V) bool) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (m *Memory) ListEmployees(_ context.Context) ([]costing.EmployeeCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.employees, func(a, b costing.EmployeeCost) bool { return a.EmployeeID < b.EmployeeID }), nil
}

func (m *Memory) ListPools(_ context.Context) ([]costing.CostPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.pools, func(a, b costing.CostPool) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListEmployeeAllocations(_ context.Context) ([]costing.EmployeeAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.empAllocs, func(a, b costing.EmployeeAllocation) bool {
		if a.PoolID != b.PoolID {
			return a.PoolID < b.PoolID
		}
		return a.EmployeeID < b.EmployeeID
	}), nil
}

func (m *Memory) ListOverheads(_ context.Context) ([]costing.OverheadCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.overheads, func(a, b costing.OverheadCost) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListDrivers(_ context.Context) ([]costing.CostDriver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.drivers, func(a, b costing.CostDriver) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListDriverAllocations(_ context.Context) ([]costing.ClientDriverAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.driverAllocs, func(a, b costing.ClientDriverAllocation) bool {
		if a.DriverID != b.DriverID {
			return a.DriverID < b.DriverID
		}
		return a.ClientID < b.ClientID
	}), nil
}

func (m *Memory) ListClients(_ context.Context) ([]costing.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.clients, func(a, b costing.Client) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListServiceTypes(_ context.Context) ([]costing.ServiceType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.services, func(a, b costing.ServiceType) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListCatalogItems(_ context.Context) ([]costing.CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.catalog, func(a, b costing.CatalogItem) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListAssignments(_ context.Context) ([]costing.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]costing.Assignment(nil), m.data.assignments...), nil
}

func (m *Memory) ListClientServices(_ context.Context) ([]costing.ClientService, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.data.lines, func(a, b costing.ClientService) bool { return a.ID < b.ID }), nil
}

func (m *Memory) ListUsage(_ context.Context, period costing.Period) ([]costing.UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []costing.UsageRecord
	for _, u := range m.data.usage {
		if period.Contains(u.Date) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) ListAllocations(_ context.Context, period costing.Period) ([]costing.ClientCostAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []costing.ClientCostAllocation
	for _, a := range m.data.allocations {
		if a.Period == period {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (m *Memory) ListClientAllocations(_ context.Context, client costing.ClientID) ([]costing.ClientCostAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []costing.ClientCostAllocation
	for _, a := range m.data.allocations {
		if a.ClientID == client {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.String() < out[j].Period.String() })
	return out, nil
}

func (m *Memory) GetAllocation(_ context.Context, id costing.AllocationID) (costing.ClientCostAllocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.data.allocations[id]
	if !ok {
		return costing.ClientCostAllocation{}, fmt.Errorf("%w: %s", costing.ErrAllocationNotFound, id)
	}
	return a, nil
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Memory) SaveEmployee(_ context.Context, e costing.EmployeeCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.employees[e.EmployeeID] = e
	return nil
}

func (m *Memory) SavePool(_ context.Context, p costing.CostPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.pools[p.ID] = p
	return nil
}

func (m *Memory) SaveEmployeeAllocation(_ context.Context, a costing.EmployeeAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.empAllocs[empPoolKey{a.EmployeeID, a.PoolID}] = a
	return nil
}

func (m *Memory) SaveOverhead(_ context.Context, o costing.OverheadCost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.overheads[o.ID] = o
	return nil
}

func (m *Memory) SaveDriver(_ context.Context, d costing.CostDriver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.drivers[d.ID] = d
	return nil
}

func (m *Memory) SaveDriverAllocation(_ context.Context, a costing.ClientDriverAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.driverAllocs[driverClientKey{a.DriverID, a.ClientID}] = a
	return nil
}

func (m *Memory) DeleteDriverAllocation(_ context.Context, driver costing.DriverID, client costing.ClientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data.driverAllocs, driverClientKey{driver, client})
	return nil
}

func (m *Memory) SaveClient(_ context.Context, c costing.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.clients[c.ID] = c
	return nil
}

func (m *Memory) AddUsage(_ context.Context, u costing.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.usage {
		if u.ID != "" && existing.ID == u.ID {
			return &costing.ValidationError{Field: "id", Err: costing.ErrValidation, Message: fmt.Sprintf("usage %s already recorded", u.ID)}
		}
	}
	m.data.usage = append(m.data.usage, u)
	return nil
}

func (m *Memory) SaveServiceType(_ context.Context, s costing.ServiceType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.services[s.ID] = s
	return nil
}

func (m *Memory) SaveCatalogItem(_ context.Context, c costing.CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.catalog[c.ID] = c
	return nil
}

func (m *Memory) SaveClientService(_ context.Context, s costing.ClientService) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.lines[s.ID] = s
	return nil
}

func (m *Memory) SaveAssignment(_ context.Context, a costing.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.assignments {
		if existing == a {
			return nil
		}
	}
	m.data.assignments = append(m.data.assignments, a)
	return nil
}

func (m *Memory) CreateAllocation(_ context.Context, a costing.ClientCostAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.data.allocations {
		if existing.ClientID == a.ClientID && existing.Period == a.Period {
			return &costing.ValidationError{
				Field:   "period",
				Err:     costing.ErrDuplicateAllocation,
				Message: fmt.Sprintf("client %s already has %s for %s", a.ClientID, existing.ID, a.Period),
			}
		}
	}
	m.data.allocations[a.ID] = a
	return nil
}

func (m *Memory) UpdateAllocation(_ context.Context, a costing.ClientCostAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(a)
}

func (m *Memory) updateLocked(a costing.ClientCostAllocation) error {
	if _, ok := m.data.allocations[a.ID]; !ok {
		return fmt.Errorf("%w: %s", costing.ErrAllocationNotFound, a.ID)
	}
	m.data.allocations[a.ID] = a
	return nil
}

// SavePeriodAllocations checks every record first, then writes them all.
func (m *Memory) SavePeriodAllocations(_ context.Context, period costing.Period, allocs []costing.ClientCostAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range allocs {
		if a.Period != period {
			return fmt.Errorf("%w: allocation %s is in %s, not %s", costing.ErrInvalidPeriod, a.ID, a.Period, period)
		}
		if _, ok := m.data.allocations[a.ID]; !ok {
			return fmt.Errorf("%w: %s", costing.ErrAllocationNotFound, a.ID)
		}
	}
	for _, a := range allocs {
		m.data.allocations[a.ID] = a
	}
	return nil
}

// =============================================================================
// RUN LOG
// =============================================================================

func (m *Memory) RecordRun(_ context.Context, run costing.RecalculationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.runs = append(m.data.runs, run)
	return nil
}

func (m *Memory) LastRun(_ context.Context, period costing.Period) (*costing.RecalculationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.data.runs) - 1; i >= 0; i-- {
		if m.data.runs[i].Period == period {
			run := m.data.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized against each other but not against plain
// writes made outside WithTx.
func (m *Memory) WithTx(_ context.Context, fn func(costing.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snapshot := m.data.clone()
	m.mu.RUnlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.data = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}
