/*
handlers.go - HTTP API handlers for the cost allocation engine

PURPOSE:
  Exposes the allocation engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine and its store.

ENDPOINTS:
  Records (GET list, POST create or replace):
    /api/pools                  Cost pools
    /api/employees              Employee cost configuration
    /api/employee-allocations   Employee -> pool percentages
    /api/overheads              Overhead costs (+ /{id}/activate, /{id}/expire)
    /api/drivers                Cost drivers
    /api/driver-allocations     Client driver quantities (DELETE /{driver}/{client})
    /api/clients                Clients
    /api/usage?period=          Usage records of a period
    /api/service-types          Service types and their teams
    /api/catalog                Catalog items
    /api/assignments            Employee x client x service assignments
    /api/client-services        Service lines installed at clients

  Client services:
    POST   /api/client-services/sync-drivers  Active quantities -> driver allocations

  Allocations:
    GET    /api/allocations?period=         Allocations of a period
    POST   /api/allocations                 Open a draft for (client, period)
    GET    /api/allocations/{id}            One allocation
    POST   /api/allocations/{id}/calculate  Recalculate (whole period admin share)
    POST   /api/allocations/{id}/confirm    Freeze

  Periods:
    GET    /api/periods/{period}              Derived pool totals and driver economics
    POST   /api/periods/{period}/recalculate  Batch recalculation
    GET    /api/periods/{period}/last-run     Last recorded batch
    POST   /api/periods/recalculate           Range of periods, concurrently

  Reports:
    GET    /api/pools/{id}/total?period=
    GET    /api/drivers/{id}/economics?period=
    GET    /api/clients/{id}/allocations
    GET    /api/clients/{id}/trend
    GET    /api/reports/period-totals?from=&to=
    GET    /api/reports/workload?target=
    POST   /api/service-cost

  Snapshots:
    GET    /api/snapshot?usage=2025-01   Export configuration
    POST   /api/snapshot                 Load a configuration document

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicate allocation, confirmed record)
  - 422: No currency rate for a required conversion
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/abc-engine/calendar"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *costing.Engine
	Runs   costing.RunLog // optional
	Base   costing.Currency
	Log    zerolog.Logger
	Now    func() time.Time

	// Live collaborators the engine was built with. Loaded snapshots
	// merge their rates and calendars into them when set.
	Rates     *costing.RateTable
	Calendars *calendar.Registry

	// Track currently loaded scenario
	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *costing.Engine, runs costing.RunLog, base costing.Currency, log zerolog.Logger) *Handler {
	return &Handler{
		Engine: engine,
		Runs:   runs,
		Base:   base,
		Log:    log,
		Now:    time.Now,
	}
}

func (h *Handler) store() costing.Store { return h.Engine.Store() }

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps engine errors to HTTP statuses. Conflicts are checked
// first since a duplicate allocation is also a validation error.
func statusFor(err error) int {
	switch {
	case costing.IsConflict(err):
		return http.StatusConflict
	case costing.IsNotFound(err):
		return http.StatusNotFound
	case costing.IsValidation(err), errors.Is(err, costing.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, costing.ErrNoConversionRate):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err)
}

// decode reads a JSON body and runs the struct validator on it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &costing.ValidationError{Field: "body", Message: "invalid JSON", Err: err}
	}
	return factory.Validate(v)
}

// periodParam reads a YYYY-MM period from the URL or query. An absent
// query parameter selects the current month.
func (h *Handler) periodParam(r *http.Request, name string) (costing.Period, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		raw = r.URL.Query().Get(name)
	}
	if raw == "" {
		return costing.PeriodOf(h.Now()), nil
	}
	return costing.ParsePeriod(raw)
}

func decimalOr(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// =============================================================================
// RECORD HANDLERS
// =============================================================================

// listRecords serves a store listing converted to its JSON document form.
func listRecords[T, J any](h *Handler, what string, fetch func(costing.Store, context.Context) ([]T, error), conv func(T) J) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := fetch(h.store(), r.Context())
		if err != nil {
			h.fail(w, "Failed to list "+what, err)
			return
		}
		out := make([]J, len(records))
		for i, rec := range records {
			out[i] = conv(rec)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// createRecord loads one record through the snapshot loader so API writes
// get the same reference and domain checks as configuration files.
func createRecord[J any](h *Handler, what string, wrap func(*J) factory.Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req J
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+what, err)
			return
		}
		snap := wrap(&req)
		if err := snap.Load(r.Context(), h.store(), h.Base); err != nil {
			h.fail(w, "Failed to save "+what, err)
			return
		}
		h.Log.Info().Str("kind", what).Msg("record saved")
		writeJSON(w, http.StatusCreated, req)
	}
}

// SyncServiceDrivers rewrites client driver allocations from the active
// client service lines.
func (h *Handler) SyncServiceDrivers(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Engine.SyncServiceDrivers(r.Context())
	if err != nil {
		h.fail(w, "Failed to sync service drivers", err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverSyncDTOs(changes))
}

// ListUsage returns the usage records of a period.
func (h *Handler) ListUsage(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	records, err := h.store().ListUsage(r.Context(), period)
	if err != nil {
		h.fail(w, "Failed to list usage", err)
		return
	}
	out := make([]factory.UsageJSON, len(records))
	for i, u := range records {
		out[i] = factory.FromUsage(u)
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteDriverAllocation removes a client's quantity for a driver.
func (h *Handler) DeleteDriverAllocation(w http.ResponseWriter, r *http.Request) {
	driver := costing.DriverID(chi.URLParam(r, "driver"))
	client := costing.ClientID(chi.URLParam(r, "client"))
	if err := h.store().DeleteDriverAllocation(r.Context(), driver, client); err != nil {
		h.fail(w, "Failed to delete driver allocation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var errOverheadNotFound = errors.New("overhead not found")

// transitionOverhead applies a lifecycle change to a stored overhead.
func (h *Handler) transitionOverhead(change func(*costing.OverheadCost) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := costing.OverheadID(chi.URLParam(r, "id"))
		var updated costing.OverheadCost
		err := h.store().WithTx(r.Context(), func(tx costing.Store) error {
			overheads, err := tx.ListOverheads(r.Context())
			if err != nil {
				return err
			}
			for _, o := range overheads {
				if o.ID != id {
					continue
				}
				if err := change(&o); err != nil {
					return err
				}
				updated = o
				return tx.SaveOverhead(r.Context(), o)
			}
			return fmt.Errorf("%w: %s", errOverheadNotFound, id)
		})
		if err != nil {
			if errors.Is(err, errOverheadNotFound) {
				writeError(w, http.StatusNotFound, "Overhead not found", err)
				return
			}
			h.fail(w, "Failed to update overhead", err)
			return
		}
		writeJSON(w, http.StatusOK, factory.FromOverhead(updated))
	}
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// ListAllocations returns the allocations of a period.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	allocs, err := h.store().ListAllocations(r.Context(), period)
	if err != nil {
		h.fail(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocs))
}

// CreateAllocation opens a draft record for a client and period.
func (h *Handler) CreateAllocation(w http.ResponseWriter, r *http.Request) {
	var req CreateAllocationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, err := costing.ParsePeriod(req.Period)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	if err := h.requireClient(r.Context(), costing.ClientID(req.ClientID)); err != nil {
		h.fail(w, "Unknown client", err)
		return
	}
	a, err := h.Engine.CreateAllocation(r.Context(), costing.ClientID(req.ClientID), period)
	if err != nil {
		h.fail(w, "Failed to create allocation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(a))
}

func (h *Handler) requireClient(ctx context.Context, id costing.ClientID) error {
	clients, err := h.store().ListClients(ctx)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.ID == id {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", costing.ErrClientNotFound, id)
}

// GetAllocation returns a single allocation with its lines.
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := h.store().GetAllocation(r.Context(), costing.AllocationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(a))
}

// CalculateAllocation recalculates one allocation. The admin share of the
// other records in the period moves with it.
func (h *Handler) CalculateAllocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := h.store().GetAllocation(ctx, costing.AllocationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get allocation", err)
		return
	}
	updated, err := h.Engine.RecalculateClientAllocation(ctx, a.ClientID, a.Period)
	if err != nil {
		h.fail(w, "Failed to calculate allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(updated))
}

// ConfirmAllocation freezes a calculated allocation.
func (h *Handler) ConfirmAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.Confirm(r.Context(), costing.AllocationID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to confirm allocation", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTO(a))
}

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

// GetPeriod returns the derived pool totals and driver economics.
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	s, err := h.Engine.Derive(r.Context(), period)
	if err != nil {
		h.fail(w, "Failed to derive period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDetailDTO(s))
}

// RecalculatePeriod runs a batch over a period, optionally limited to
// some clients, and records the run.
func (h *Handler) RecalculatePeriod(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	var req RecalculatePeriodRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var clients []costing.ClientID
	for _, c := range req.Clients {
		clients = append(clients, costing.ClientID(c))
	}

	started := h.Now()
	result, err := h.Engine.RecalculatePeriod(r.Context(), period, clients)
	if err != nil {
		h.fail(w, "Failed to recalculate period", err)
		return
	}
	recordRun(r.Context(), h.Runs, h.Log, result, started, h.Now(), "api")
	writeJSON(w, http.StatusOK, toPeriodResultDTO(result))
}

const maxRangePeriods = 36

// RecalculateRange recalculates every period in [from, to] concurrently.
func (h *Handler) RecalculateRange(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRangeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	from, err := costing.ParsePeriod(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from period", err)
		return
	}
	to, err := costing.ParsePeriod(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to period", err)
		return
	}
	var periods []costing.Period
	for p := from; !p.Start().After(to.Start()); p = p.Next() {
		if len(periods) == maxRangePeriods {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Range exceeds %d periods", maxRangePeriods), costing.ErrInvalidPeriod)
			return
		}
		periods = append(periods, p)
	}
	if len(periods) == 0 {
		writeError(w, http.StatusBadRequest, "Empty period range", costing.ErrInvalidPeriod)
		return
	}

	started := h.Now()
	results, err := h.Engine.RecalculatePeriods(r.Context(), periods)
	// periods that committed before a failure still get their run recorded
	out := make([]PeriodResultDTO, len(results))
	for i, res := range results {
		recordRun(r.Context(), h.Runs, h.Log, res, started, h.Now(), "api")
		out[i] = toPeriodResultDTO(res)
	}
	if err != nil {
		h.fail(w, "Failed to recalculate periods", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// LastRun returns the last recorded batch of a period.
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	if h.Runs == nil {
		writeError(w, http.StatusNotFound, "No run log configured", nil)
		return
	}
	run, err := h.Runs.LastRun(r.Context(), period)
	if err != nil {
		h.fail(w, "Failed to read runs", err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "Period has not been recalculated", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(*run))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// PoolTotal recomputes one pool for a period.
func (h *Handler) PoolTotal(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	total, err := h.Engine.RecomputePoolTotal(r.Context(), costing.PoolID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.fail(w, "Failed to compute pool total", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolTotalDTO(total))
}

// DriverEconomics recomputes one driver's unit economics for a period.
func (h *Handler) DriverEconomics(w http.ResponseWriter, r *http.Request) {
	period, err := h.periodParam(r, "period")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	econ, err := h.Engine.RecomputeDriverEconomics(r.Context(), costing.DriverID(chi.URLParam(r, "id")), period)
	if err != nil {
		h.fail(w, "Failed to compute driver economics", err)
		return
	}
	writeJSON(w, http.StatusOK, toDriverEconomicsDTO(econ))
}

// ClientAllocations returns a client's allocations across periods.
func (h *Handler) ClientAllocations(w http.ResponseWriter, r *http.Request) {
	allocs, err := h.store().ListClientAllocations(r.Context(), costing.ClientID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to list allocations", err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationDTOs(allocs))
}

// ClientTrend reports whether a client's cost is rising or falling.
func (h *Handler) ClientTrend(w http.ResponseWriter, r *http.Request) {
	id := costing.ClientID(chi.URLParam(r, "id"))
	if err := h.requireClient(r.Context(), id); err != nil {
		h.fail(w, "Unknown client", err)
		return
	}
	trend, history, err := h.Engine.ClientTrend(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to compute trend", err)
		return
	}
	writeJSON(w, http.StatusOK, TrendDTO{ClientID: string(id), Trend: string(trend), History: toAllocationDTOs(history)})
}

// PeriodTotals sums reported allocations per period.
func (h *Handler) PeriodTotals(w http.ResponseWriter, r *http.Request) {
	from, err := h.periodParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from period", err)
		return
	}
	to, err := h.periodParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to period", err)
		return
	}
	totals, err := h.Engine.PeriodTotals(r.Context(), from, to)
	if err != nil {
		h.fail(w, "Failed to compute totals", err)
		return
	}
	out := make([]PeriodTotalsDTO, len(totals))
	for i, t := range totals {
		out[i] = PeriodTotalsDTO{
			Period:   t.Period.String(),
			Clients:  t.Clients,
			Direct:   t.Direct,
			Indirect: t.Indirect,
			Admin:    t.Admin,
			Total:    t.Total,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Workload reports each employee's assigned workload against a target.
func (h *Handler) Workload(w http.ResponseWriter, r *http.Request) {
	target := decimal.NewFromInt(100)
	if raw := r.URL.Query().Get("target"); raw != "" {
		t, err := decimal.NewFromString(raw)
		if err != nil || !t.IsPositive() {
			writeError(w, http.StatusBadRequest, "Invalid target", err)
			return
		}
		target = t
	}
	report, err := h.Engine.Workload(r.Context(), target)
	if err != nil {
		h.fail(w, "Failed to build workload report", err)
		return
	}
	out := make([]WorkloadDTO, len(report))
	for i, e := range report {
		out[i] = WorkloadDTO{
			EmployeeID:      string(e.EmployeeID),
			Assignments:     e.Assignments,
			TotalWorkload:   e.TotalWorkload,
			ByCategory:      e.ByCategory,
			Target:          e.Target,
			OverloadPercent: e.OverloadPercent,
			Overloaded:      e.Overloaded,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ServiceCost prices a catalog item.
func (h *Handler) ServiceCost(w http.ResponseWriter, r *http.Request) {
	var req ServiceCostRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	var period costing.Period
	if req.Period != "" {
		p, err := costing.ParsePeriod(req.Period)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid period", err)
			return
		}
		period = p
	}
	b, err := h.Engine.ComputeServiceCost(r.Context(), costing.ServiceCostRequest{
		CatalogItemID:         costing.CatalogItemID(req.CatalogItemID),
		ClientID:              costing.ClientID(req.ClientID),
		Method:                costing.CalculationMethod(req.Method),
		Period:                period,
		EstimatedHoursPerUnit: decimalOr(req.EstimatedHoursPerUnit),
		BaseUnitsRequested:    decimalOr(req.BaseUnits),
		ComplexityMultiplier:  decimalOr(req.ComplexityMultiplier),
	})
	if err != nil {
		h.fail(w, "Failed to compute service cost", err)
		return
	}
	writeJSON(w, http.StatusOK, toCostBreakdownDTO(b))
}

// =============================================================================
// SNAPSHOT HANDLERS
// =============================================================================

// ExportSnapshot returns the stored configuration as a snapshot document.
// Repeated ?usage= parameters add the usage of those periods.
func (h *Handler) ExportSnapshot(w http.ResponseWriter, r *http.Request) {
	var periods []costing.Period
	for _, raw := range r.URL.Query()["usage"] {
		p, err := costing.ParsePeriod(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid usage period", err)
			return
		}
		periods = append(periods, p)
	}
	snap, err := factory.Export(r.Context(), h.store(), h.Base, periods...)
	if err != nil {
		h.fail(w, "Failed to export snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// LoadSnapshot loads a whole configuration document in one transaction.
func (h *Handler) LoadSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap factory.Snapshot
	if err := decode(r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid snapshot", err)
		return
	}
	if err := h.applySnapshot(r.Context(), &snap); err != nil {
		h.fail(w, "Failed to load snapshot", err)
		return
	}
	h.Log.Info().
		Int("pools", len(snap.Pools)).
		Int("employees", len(snap.Employees)).
		Int("clients", len(snap.Clients)).
		Int("usage", len(snap.Usage)).
		Msg("snapshot loaded")
	w.WriteHeader(http.StatusNoContent)
}

// applySnapshot writes the snapshot records and then merges its rates and
// calendars into the live collaborators. Both sections are checked before
// the store is touched.
func (h *Handler) applySnapshot(ctx context.Context, snap *factory.Snapshot) error {
	if _, err := snap.RateTable(); err != nil {
		return err
	}
	if _, err := snap.CalendarRegistry(zerolog.Nop()); err != nil {
		return err
	}
	if err := snap.Load(ctx, h.store(), h.Base); err != nil {
		return err
	}
	if h.Rates != nil {
		if err := snap.ApplyRates(h.Rates); err != nil {
			return err
		}
	}
	if h.Calendars != nil {
		if err := snap.ApplyCalendars(h.Calendars); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// RUN BOOKKEEPING
// =============================================================================

// recordRun stores a finished batch. Failures are logged, not returned:
// the allocations are already committed.
func recordRun(ctx context.Context, runs costing.RunLog, log zerolog.Logger, result costing.PeriodResult, started, finished time.Time, trigger string) {
	if runs == nil {
		return
	}
	run := costing.RecalculationRun{
		ID:         uuid.NewString(),
		Period:     result.Period,
		StartedAt:  started,
		FinishedAt: finished,
		Succeeded:  result.Succeeded(),
		Failed:     result.Failed(),
		Trigger:    trigger,
	}
	if err := runs.RecordRun(ctx, run); err != nil {
		log.Warn().Err(err).Str("period", result.Period.String()).Msg("failed to record recalculation run")
	}
}
