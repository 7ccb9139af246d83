/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built configurations that populate the store with
	realistic data for demos. Each scenario is a snapshot document under
	scenarios/ loaded through the same path as POST /api/snapshot.

AVAILABLE SCENARIOS:

	small-agency:    Three pools, one workstation driver, quarterly rent
	license-resale:  USD license purchases with a seat cap and an unlimited plan
	mixed-currency:  EUR and USD overheads, a half-time calendar, percentage overhead

HOW SCENARIOS WORK:
 1. Reset the store when it supports it
 2. Load the snapshot (records, rates, calendars)
 3. Optionally recalculate the scenario period

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "license-resale", "recalculate": true}

ADDING NEW SCENARIOS:
 1. Add the snapshot JSON under scenarios/
 2. Add an entry to 'scenarios' with the same ID as the file name

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadSnapshot shares the loading path
  - factory/snapshot.go: Snapshot JSON definitions
*/
package api

import (
	"context"
	"embed"
	"fmt"
	"net/http"

	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/factory"
)

//go:embed scenarios/*.json
var scenarioFiles embed.FS

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-agency",
		Name:        "Small Agency",
		Description: "Two engineers, an accountant and a workstation driver shared by two clients",
		Period:      "2025-01",
	},
	{
		ID:          "license-resale",
		Name:        "License Resale",
		Description: "Annual USD seat licenses capped at 50 plus an unlimited endpoint plan",
		Period:      "2025-01",
	},
	{
		ID:          "mixed-currency",
		Name:        "Mixed Currency",
		Description: "EUR and USD overheads, a part-time calendar and a percentage-method overhead",
		Period:      "2025-01",
	},
}

// resetter is implemented by stores that can drop every record.
type resetter interface {
	Reset(ctx context.Context) error
}

func findScenario(id string) (ScenarioDTO, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return ScenarioDTO{}, false
}

func scenarioSnapshot(id string) (*factory.Snapshot, error) {
	data, err := scenarioFiles.ReadFile("scenarios/" + id + ".json")
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", id, err)
	}
	return factory.ParseSnapshot(data)
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s)
}

// LoadScenario replaces the store contents with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	scenario, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	snap, err := scenarioSnapshot(scenario.ID)
	if err != nil {
		h.fail(w, "Failed to read scenario", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if rs, ok := h.store().(resetter); ok {
		if err := rs.Reset(ctx); err != nil {
			h.fail(w, "Failed to reset store", err)
			return
		}
	}
	if err := h.applySnapshot(ctx, snap); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}
	h.currentScenario = scenario.ID
	h.Log.Info().Str("scenario", scenario.ID).Msg("scenario loaded")

	if !req.Recalculate {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": scenario})
		return
	}

	period, err := costing.ParsePeriod(scenario.Period)
	if err != nil {
		h.fail(w, "Invalid scenario period", err)
		return
	}
	started := h.Now()
	result, err := h.Engine.RecalculatePeriod(ctx, period, nil)
	if err != nil {
		h.fail(w, "Failed to recalculate scenario", err)
		return
	}
	recordRun(ctx, h.Runs, h.Log, result, started, h.Now(), "scenario")
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": scenario,
		"result":   toPeriodResultDTO(result),
	})
}

// ResetStore drops every record when the store supports it.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	rs, ok := h.store().(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Store cannot be reset", nil)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := rs.Reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	h.Log.Warn().Msg("store reset")
	w.WriteHeader(http.StatusNoContent)
}
