/*
engine.go - Facade exposed to the host

PURPOSE:
  Wires the pure calculators into operations the host calls: recompute a
  pool, recompute a driver, recalculate a client or a whole period,
  confirm an allocation, price a service, sync service lines into driver
  allocations.

FLOW (every recomputation):
  1. Load a snapshot through the Store
  2. Normalize overheads and purchases, resolve employees
  3. Aggregate pools, derive driver economics
  4. Run the requested calculation on the snapshot
  5. Persist results atomically (period operations only)

CONCURRENCY:
  Recalculation of one period is serialized by a per-period mutex and runs
  inside a store transaction, so no reader ever sees a half-updated
  denominator. Different periods run concurrently (RecalculatePeriods).

DEGRADATIONS:
  Logged at WARN and counted through Metrics. They never abort a batch.
*/
package costing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Metrics receives engine events. obs.Metrics implements it.
type Metrics interface {
	ObserveRecalculation(period Period, succeeded, failed int, elapsed time.Duration)
	ObserveDegradation(reason DegradationReason)
}

type nopMetrics struct{}

func (nopMetrics) ObserveRecalculation(Period, int, int, time.Duration) {}
func (nopMetrics) ObserveDegradation(DegradationReason)                 {}

// Config holds the engine's external collaborators.
type Config struct {
	BaseCurrency        Currency
	Converter           CurrencyConverter
	Hours               HoursProvider
	DefaultMonthlyHours decimal.Decimal
	MaxParallelPeriods  int
}

type Engine struct {
	store      Store
	normalizer Normalizer
	resolver   Resolver
	parallel   int

	log     zerolog.Logger
	metrics Metrics
	now     func() time.Time
	newID   func() AllocationID

	locksMu sync.Mutex
	locks   map[Period]*sync.Mutex
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }
func WithMetrics(m Metrics) Option       { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
func WithIDGenerator(gen func() AllocationID) Option {
	return func(e *Engine) { e.newID = gen }
}

func NewEngine(store Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		normalizer: Normalizer{Base: cfg.BaseCurrency, Converter: cfg.Converter},
		resolver:   Resolver{Hours: cfg.Hours, DefaultHours: cfg.DefaultMonthlyHours},
		parallel:   cfg.MaxParallelPeriods,
		log:        zerolog.Nop(),
		metrics:    nopMetrics{},
		now:        time.Now,
		newID:      func() AllocationID { return AllocationID(uuid.NewString()) },
		locks:      make(map[Period]*sync.Mutex),
	}
	if e.parallel <= 0 {
		e.parallel = 4
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the backing store to host layers.
func (e *Engine) Store() Store { return e.store }

// Normalizer exposes the configured normalizer.
func (e *Engine) Normalizer() Normalizer { return e.normalizer }

func (e *Engine) periodLock(p Period) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[p]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[p] = mu
	}
	return mu
}

// =============================================================================
// SNAPSHOT DERIVATION
// =============================================================================

// Snapshot holds everything derived for one period before client
// allocation runs.
type Snapshot struct {
	Period       Period
	Pools        []CostPool
	Costs        map[EmployeeID]ResolvedCost
	PoolTotals   map[PoolID]PoolTotal
	Drivers      []CostDriver
	DriverAllocs []ClientDriverAllocation
	Economics    map[DriverID]DriverEconomics
	AdminTotal   decimal.Decimal
	Degradations []Degradation
}

// Derive runs the normalize -> resolve -> aggregate -> economics chain.
func (e *Engine) Derive(ctx context.Context, period Period) (*Snapshot, error) {
	return e.derive(ctx, e.store, period)
}

func (e *Engine) derive(ctx context.Context, repo Repository, period Period) (*Snapshot, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}

	employees, err := repo.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	pools, err := repo.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	empAllocs, err := repo.ListEmployeeAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list employee allocations: %w", err)
	}
	overheads, err := repo.ListOverheads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list overheads: %w", err)
	}
	drivers, err := repo.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drivers: %w", err)
	}
	driverAllocs, err := repo.ListDriverAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list driver allocations: %w", err)
	}

	s := &Snapshot{
		Period:       period,
		Pools:        pools,
		Drivers:      drivers,
		DriverAllocs: driverAllocs,
		PoolTotals:   make(map[PoolID]PoolTotal, len(pools)),
		Economics:    make(map[DriverID]DriverEconomics, len(drivers)),
	}

	s.Costs, s.Degradations, err = e.resolver.ResolveAll(employees, period)
	if err != nil {
		return nil, err
	}

	var ohAllocs []OverheadAllocation
	for _, o := range overheads {
		alloc, degraded, ok, err := o.Allocate(ctx, e.normalizer, period)
		if err != nil {
			return nil, fmt.Errorf("overhead %s: %w", o.ID, err)
		}
		if degraded != nil {
			s.Degradations = append(s.Degradations, *degraded)
		}
		if ok {
			ohAllocs = append(ohAllocs, alloc)
		}
	}

	hasAdmin := false
	for _, p := range pools {
		if !p.Active {
			continue
		}
		total, err := AggregatePool(p, empAllocs, s.Costs, ohAllocs)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.ID, err)
		}
		s.PoolTotals[p.ID] = total
		hasAdmin = hasAdmin || p.Kind == PoolAdmin
	}
	s.AdminTotal = AdminPoolTotal(pools, s.PoolTotals)
	if !hasAdmin {
		s.Degradations = append(s.Degradations, Degradation{
			Reason:  DegradedNoAdminPool,
			Subject: period.String(),
			Detail:  "no active admin pool; admin cost is zero",
		})
	}

	for _, d := range drivers {
		if !d.Active {
			continue
		}
		purchase, degraded, err := PurchaseMonthlyCost(ctx, e.normalizer, d, period)
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", d.ID, err)
		}
		if degraded != nil {
			s.Degradations = append(s.Degradations, *degraded)
		}
		econ, err := ComputeEconomics(EconomicsInput{
			Driver:              d,
			PoolTotal:           s.PoolTotals[d.PoolID].Total,
			PurchaseMonthlyCost: purchase,
			Allocations:         driverAllocs,
		})
		if err != nil {
			return nil, fmt.Errorf("driver %s: %w", d.ID, err)
		}
		s.Economics[d.ID] = econ
	}
	return s, nil
}

func (e *Engine) report(period Period, degraded []Degradation) {
	for _, d := range degraded {
		e.metrics.ObserveDegradation(d.Reason)
		e.log.Warn().
			Str("period", period.String()).
			Str("reason", string(d.Reason)).
			Str("subject", d.Subject).
			Msg(d.Detail)
	}
}

// =============================================================================
// POOLS & DRIVERS
// =============================================================================

func (e *Engine) RecomputePoolTotal(ctx context.Context, id PoolID, period Period) (PoolTotal, error) {
	s, err := e.Derive(ctx, period)
	if err != nil {
		return PoolTotal{}, err
	}
	e.report(period, s.Degradations)
	total, ok := s.PoolTotals[id]
	if !ok {
		return PoolTotal{}, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return total, nil
}

func (e *Engine) RecomputeDriverEconomics(ctx context.Context, id DriverID, period Period) (DriverEconomics, error) {
	s, err := e.Derive(ctx, period)
	if err != nil {
		return DriverEconomics{}, err
	}
	e.report(period, s.Degradations)
	econ, ok := s.Economics[id]
	if !ok {
		return DriverEconomics{}, fmt.Errorf("%w: %s", ErrDriverNotFound, id)
	}
	return econ, nil
}

// =============================================================================
// CLIENT ALLOCATIONS
// =============================================================================

// CreateAllocation opens a draft record for (client, period).
func (e *Engine) CreateAllocation(ctx context.Context, client ClientID, period Period) (ClientCostAllocation, error) {
	a := NewAllocation(e.newID(), client, period)
	if err := e.store.CreateAllocation(ctx, a); err != nil {
		return ClientCostAllocation{}, err
	}
	return a, nil
}

// RecalculatePeriod recomputes the given clients (all active clients when
// nil) and redistributes admin cost over the whole period. Missing drafts
// are created. Per-client failures, unknown client ids included, are
// reported in the result; only infrastructure failures abort the batch, in
// which case nothing is written.
func (e *Engine) RecalculatePeriod(ctx context.Context, period Period, clients []ClientID) (PeriodResult, error) {
	if !period.Valid() {
		return PeriodResult{}, fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}
	mu := e.periodLock(period)
	mu.Lock()
	defer mu.Unlock()

	started := e.now()
	var result PeriodResult
	err := e.store.WithTx(ctx, func(tx Store) error {
		targets, unknown, err := e.targets(ctx, tx, clients)
		if err != nil {
			return err
		}

		existing, err := tx.ListAllocations(ctx, period)
		if err != nil {
			return fmt.Errorf("list allocations: %w", err)
		}
		have := make(map[ClientID]bool, len(existing))
		for _, a := range existing {
			have[a.ClientID] = true
		}
		for _, c := range targets {
			if have[c] || unknown[c] {
				continue
			}
			draft := NewAllocation(e.newID(), c, period)
			if err := tx.CreateAllocation(ctx, draft); err != nil {
				return fmt.Errorf("create draft for %s: %w", c, err)
			}
			existing = append(existing, draft)
			have[c] = true
		}

		s, err := e.derive(ctx, tx, period)
		if err != nil {
			return err
		}
		usage, err := tx.ListUsage(ctx, period)
		if err != nil {
			return fmt.Errorf("list usage: %w", err)
		}

		result = CalculatePeriod(PeriodInput{
			Period:            period,
			Allocations:       existing,
			Targets:           targets,
			Usage:             usage,
			Costs:             s.Costs,
			Drivers:           s.Drivers,
			Economics:         s.Economics,
			DriverAllocations: s.DriverAllocs,
			AdminPoolTotal:    s.AdminTotal,
			Now:               e.now(),
		})
		result.Degradations = append(s.Degradations, result.Degradations...)
		for i, o := range result.Outcomes {
			if unknown[o.ClientID] {
				result.Outcomes[i].Err = fmt.Errorf("%w: %s", ErrClientNotFound, o.ClientID)
			}
		}

		var writes []ClientCostAllocation
		for _, a := range result.Allocations {
			if a.Recalculable() {
				writes = append(writes, a)
			}
		}
		return tx.SavePeriodAllocations(ctx, period, writes)
	})
	if err != nil {
		e.log.Error().Err(err).Str("period", period.String()).Msg("period recalculation failed")
		return PeriodResult{}, err
	}

	e.report(period, result.Degradations)
	for _, o := range result.Outcomes {
		if o.Status == OutcomeFailed {
			e.log.Warn().Err(o.Err).Str("period", period.String()).Str("client_id", string(o.ClientID)).Msg("client recalculation failed")
		}
	}
	e.metrics.ObserveRecalculation(period, result.Succeeded(), result.Failed(), e.now().Sub(started))
	e.log.Info().
		Str("period", period.String()).
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Str("admin_pool_total", result.AdminPoolTotal.String()).
		Msg("period recalculated")
	return result, nil
}

// targets resolves the batch. Explicit ids that name no client are returned
// separately so the batch can report them as failed outcomes.
func (e *Engine) targets(ctx context.Context, repo Repository, clients []ClientID) (known []ClientID, unknown map[ClientID]bool, err error) {
	all, err := repo.ListClients(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list clients: %w", err)
	}
	exists := make(map[ClientID]bool, len(all))
	var active []ClientID
	for _, c := range all {
		exists[c.ID] = true
		if c.Active {
			active = append(active, c.ID)
		}
	}
	if clients == nil {
		sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
		return active, nil, nil
	}
	known = make([]ClientID, 0, len(clients))
	for _, c := range clients {
		if !exists[c] {
			if unknown == nil {
				unknown = make(map[ClientID]bool)
			}
			unknown[c] = true
		}
		known = append(known, c)
	}
	return known, unknown, nil
}

// RecalculateClientAllocation recomputes one client and, because the admin
// denominator is shared, the admin share of every record in the period.
func (e *Engine) RecalculateClientAllocation(ctx context.Context, client ClientID, period Period) (ClientCostAllocation, error) {
	result, err := e.RecalculatePeriod(ctx, period, []ClientID{client})
	if err != nil {
		return ClientCostAllocation{}, err
	}
	for _, o := range result.Outcomes {
		if o.ClientID != client {
			continue
		}
		switch o.Status {
		case OutcomeFailed:
			return ClientCostAllocation{}, o.Err
		case OutcomeSkipped:
			return ClientCostAllocation{}, fmt.Errorf("%w: %s", ErrAllocationConfirmed, o.AllocationID)
		}
	}
	a, ok := result.Allocation(client)
	if !ok {
		return ClientCostAllocation{}, fmt.Errorf("%w: client %s in %s", ErrAllocationNotFound, client, period)
	}
	return a, nil
}

// RecalculatePeriods runs independent periods concurrently. The first
// failing period cancels the rest; completed periods stay committed and are
// returned alongside the error, in input order.
func (e *Engine) RecalculatePeriods(ctx context.Context, periods []Period) ([]PeriodResult, error) {
	results := make([]PeriodResult, len(periods))
	done := make([]bool, len(periods))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, p := range periods {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := e.RecalculatePeriod(ctx, p, nil)
			if err != nil {
				return fmt.Errorf("period %s: %w", p, err)
			}
			results[i] = r
			done[i] = true
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return results, nil
	}
	completed := make([]PeriodResult, 0, len(results))
	for i, r := range results {
		if done[i] {
			completed = append(completed, r)
		}
	}
	return completed, err
}

// Confirm freezes a calculated allocation without recomputing it.
func (e *Engine) Confirm(ctx context.Context, id AllocationID) (ClientCostAllocation, error) {
	var out ClientCostAllocation
	err := e.store.WithTx(ctx, func(tx Store) error {
		a, err := tx.GetAllocation(ctx, id)
		if err != nil {
			return err
		}
		if err := a.Confirm(e.now()); err != nil {
			return err
		}
		out = a
		return tx.UpdateAllocation(ctx, a)
	})
	if err != nil {
		return ClientCostAllocation{}, err
	}
	e.log.Info().Str("allocation_id", string(id)).Str("client_id", string(out.ClientID)).Msg("allocation confirmed")
	return out, nil
}

// =============================================================================
// SERVICE PRICING & REPORTS
// =============================================================================

// ServiceCostRequest selects a catalog item and optional client.
type ServiceCostRequest struct {
	CatalogItemID         CatalogItemID
	ClientID              ClientID // optional
	Method                CalculationMethod
	Period                Period // zero value means the current month
	EstimatedHoursPerUnit decimal.Decimal
	BaseUnitsRequested    decimal.Decimal
	ComplexityMultiplier  decimal.Decimal
}

func (e *Engine) ComputeServiceCost(ctx context.Context, req ServiceCostRequest) (CostBreakdown, error) {
	period := req.Period
	if period == (Period{}) {
		period = PeriodOf(e.now())
	}

	items, err := e.store.ListCatalogItems(ctx)
	if err != nil {
		return CostBreakdown{}, err
	}
	var item *CatalogItem
	for i := range items {
		if items[i].ID == req.CatalogItemID {
			item = &items[i]
		}
	}
	if item == nil {
		return CostBreakdown{}, fmt.Errorf("%w: catalog item %s", ErrServiceNotFound, req.CatalogItemID)
	}

	services, err := e.store.ListServiceTypes(ctx)
	if err != nil {
		return CostBreakdown{}, err
	}
	var service ServiceType
	for _, s := range services {
		if s.ID == item.ServiceTypeID {
			service = s
		}
	}

	var client *Client
	if req.ClientID != "" {
		clients, err := e.store.ListClients(ctx)
		if err != nil {
			return CostBreakdown{}, err
		}
		for i := range clients {
			if clients[i].ID == req.ClientID {
				client = &clients[i]
			}
		}
		if client == nil {
			return CostBreakdown{}, fmt.Errorf("%w: %s", ErrClientNotFound, req.ClientID)
		}
	}

	s, err := e.Derive(ctx, period)
	if err != nil {
		return CostBreakdown{}, err
	}
	e.report(period, s.Degradations)

	return ComputeServiceCost(ServiceCostInput{
		Item:                  *item,
		Service:               service,
		Client:                client,
		Method:                req.Method,
		EstimatedHoursPerUnit: req.EstimatedHoursPerUnit,
		BaseUnitsRequested:    req.BaseUnitsRequested,
		ComplexityMultiplier:  req.ComplexityMultiplier,
		Costs:                 s.Costs,
		Charges:               s.charges(req.ClientID),
	})
}

// charges turns every active indirect or admin driver into a DriverCharge.
func (s *Snapshot) charges(client ClientID) []DriverCharge {
	kinds := make(map[PoolID]PoolKind, len(s.Pools))
	for _, p := range s.Pools {
		kinds[p.ID] = p.Kind
	}
	qty := make(map[DriverID]decimal.Decimal)
	if client != "" {
		for _, a := range s.DriverAllocs {
			if a.ClientID == client {
				qty[a.DriverID] = a.Quantity
			}
		}
	}

	var out []DriverCharge
	for _, d := range s.Drivers {
		econ, ok := s.Economics[d.ID]
		if !ok {
			continue
		}
		kind := kinds[d.PoolID]
		if kind == PoolDirect || kind == "" {
			continue
		}
		c := DriverCharge{
			DriverID:      d.ID,
			PoolKind:      kind,
			CostPerUnit:   econ.CostPerUnit,
			OverheadShare: decimal.Zero,
		}
		if econ.Basis == BasisPool {
			c.OverheadShare = s.PoolTotals[d.PoolID].OverheadShare()
		}
		if q, ok := qty[d.ID]; ok {
			c.ClientQuantity = DecimalPtr(q)
		}
		out = append(out, c)
	}
	return out
}

// ClientTrend reports the cost trend of a client over its allocations.
func (e *Engine) ClientTrend(ctx context.Context, client ClientID) (Trend, []ClientCostAllocation, error) {
	allocs, err := e.store.ListClientAllocations(ctx, client)
	if err != nil {
		return "", nil, err
	}
	var reported []ClientCostAllocation
	for _, a := range allocs {
		if a.State != StateDraft {
			reported = append(reported, a)
		}
	}
	return CostTrend(reported), reported, nil
}

// PeriodTotals sums reported allocations for each period in [from, to].
func (e *Engine) PeriodTotals(ctx context.Context, from, to Period) ([]PeriodTotals, error) {
	var all []ClientCostAllocation
	for p := from; !periodBefore(to, p); p = p.Next() {
		allocs, err := e.store.ListAllocations(ctx, p)
		if err != nil {
			return nil, err
		}
		all = append(all, allocs...)
	}
	return TotalsByPeriod(all), nil
}

// Workload builds the employee workload report.
func (e *Engine) Workload(ctx context.Context, target decimal.Decimal) ([]EmployeeWorkload, error) {
	assignments, err := e.store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}
	services, err := e.store.ListServiceTypes(ctx)
	if err != nil {
		return nil, err
	}
	clients, err := e.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := e.store.ListClientServices(ctx)
	if err != nil {
		return nil, err
	}
	byService := make(map[ServiceTypeID]ServiceType, len(services))
	for _, s := range services {
		byService[s.ID] = s
	}
	byClient := make(map[ClientID]Client, len(clients))
	for _, c := range clients {
		byClient[c.ID] = c
	}
	return WorkloadReport(CountedAssignments(assignments, lines), byService, byClient, target), nil
}

// SyncServiceDrivers rewrites client driver allocations from the active
// quantities of the client service lines. The whole sync runs in one
// transaction; a license cap violation leaves every allocation untouched.
func (e *Engine) SyncServiceDrivers(ctx context.Context) ([]DriverSyncChange, error) {
	var plan DriverSyncPlan
	err := e.store.WithTx(ctx, func(tx Store) error {
		lines, err := tx.ListClientServices(ctx)
		if err != nil {
			return fmt.Errorf("list client services: %w", err)
		}
		services, err := tx.ListServiceTypes(ctx)
		if err != nil {
			return fmt.Errorf("list service types: %w", err)
		}
		drivers, err := tx.ListDrivers(ctx)
		if err != nil {
			return fmt.Errorf("list drivers: %w", err)
		}
		existing, err := tx.ListDriverAllocations(ctx)
		if err != nil {
			return fmt.Errorf("list driver allocations: %w", err)
		}

		byService := make(map[ServiceTypeID]ServiceType, len(services))
		for _, s := range services {
			byService[s.ID] = s
		}
		byDriver := make(map[DriverID]CostDriver, len(drivers))
		for _, d := range drivers {
			byDriver[d.ID] = d
		}

		plan, err = PlanDriverSync(lines, byService, byDriver, existing)
		if err != nil {
			return err
		}
		for _, k := range plan.Removes {
			if err := tx.DeleteDriverAllocation(ctx, k.DriverID, k.ClientID); err != nil {
				return err
			}
		}
		for _, a := range plan.Upserts {
			if err := tx.SaveDriverAllocation(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("service driver sync failed")
		return nil, err
	}
	e.log.Info().
		Int("upserted", len(plan.Upserts)).
		Int("removed", len(plan.Removes)).
		Msg("service drivers synced")
	return plan.Changes, nil
}
