/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. Logger:     zerolog request logging (obs.RequestLogger)
  4. Metrics:    Prometheus request counters and latency
  5. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/...          Engine API (see handlers.go)
  /api/scenarios/*  Demo scenarios and store reset
  /healthz          Liveness and store readiness
  /metrics          Prometheus exposition
  /                 Landing page

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/factory"
	"github.com/warp/abc-engine/obs"
)

// RouterConfig carries the ambient pieces the router wires around handlers.
type RouterConfig struct {
	Log         zerolog.Logger
	Metrics     *obs.Metrics        // optional
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	CORSOrigins []string
	Ready       func(ctx context.Context) error // optional store ping
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestLogger(cfg.Log))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/pools", func(r chi.Router) {
			r.Get("/", listRecords(h, "pools", costing.Store.ListPools, factory.FromPool))
			r.Post("/", createRecord(h, "pool", func(p *factory.PoolJSON) factory.Snapshot {
				return factory.Snapshot{Pools: []factory.PoolJSON{*p}}
			}))
			r.Get("/{id}/total", h.PoolTotal)
		})

		r.Route("/employees", func(r chi.Router) {
			r.Get("/", listRecords(h, "employees", costing.Store.ListEmployees, factory.FromEmployee))
			r.Post("/", createRecord(h, "employee", func(e *factory.EmployeeJSON) factory.Snapshot {
				return factory.Snapshot{Employees: []factory.EmployeeJSON{*e}}
			}))
		})

		r.Route("/employee-allocations", func(r chi.Router) {
			r.Get("/", listRecords(h, "employee allocations", costing.Store.ListEmployeeAllocations, factory.FromEmployeeAllocation))
			r.Post("/", createRecord(h, "employee allocation", func(a *factory.EmployeeAllocationJSON) factory.Snapshot {
				return factory.Snapshot{EmpAllocs: []factory.EmployeeAllocationJSON{*a}}
			}))
		})

		r.Route("/overheads", func(r chi.Router) {
			r.Get("/", listRecords(h, "overheads", costing.Store.ListOverheads, factory.FromOverhead))
			r.Post("/", createRecord(h, "overhead", func(o *factory.OverheadJSON) factory.Snapshot {
				return factory.Snapshot{Overheads: []factory.OverheadJSON{*o}}
			}))
			r.Post("/{id}/activate", h.transitionOverhead((*costing.OverheadCost).Activate))
			r.Post("/{id}/expire", h.transitionOverhead((*costing.OverheadCost).Expire))
		})

		r.Route("/drivers", func(r chi.Router) {
			r.Get("/", listRecords(h, "drivers", costing.Store.ListDrivers, factory.FromDriver))
			r.Post("/", createRecord(h, "driver", func(d *factory.DriverJSON) factory.Snapshot {
				return factory.Snapshot{Drivers: []factory.DriverJSON{*d}}
			}))
			r.Get("/{id}/economics", h.DriverEconomics)
		})

		r.Route("/driver-allocations", func(r chi.Router) {
			r.Get("/", listRecords(h, "driver allocations", costing.Store.ListDriverAllocations, factory.FromDriverAllocation))
			r.Post("/", createRecord(h, "driver allocation", func(a *factory.DriverAllocationJSON) factory.Snapshot {
				return factory.Snapshot{DriverAlloc: []factory.DriverAllocationJSON{*a}}
			}))
			r.Delete("/{driver}/{client}", h.DeleteDriverAllocation)
		})

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", listRecords(h, "clients", costing.Store.ListClients, factory.FromClient))
			r.Post("/", createRecord(h, "client", func(c *factory.ClientJSON) factory.Snapshot {
				return factory.Snapshot{Clients: []factory.ClientJSON{*c}}
			}))
			r.Get("/{id}/allocations", h.ClientAllocations)
			r.Get("/{id}/trend", h.ClientTrend)
		})

		r.Route("/usage", func(r chi.Router) {
			r.Get("/", h.ListUsage)
			r.Post("/", createRecord(h, "usage", func(u *factory.UsageJSON) factory.Snapshot {
				return factory.Snapshot{Usage: []factory.UsageJSON{*u}}
			}))
		})

		r.Route("/service-types", func(r chi.Router) {
			r.Get("/", listRecords(h, "service types", costing.Store.ListServiceTypes, factory.FromServiceType))
			r.Post("/", createRecord(h, "service type", func(s *factory.ServiceTypeJSON) factory.Snapshot {
				return factory.Snapshot{Services: []factory.ServiceTypeJSON{*s}}
			}))
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/", listRecords(h, "catalog", costing.Store.ListCatalogItems, factory.FromCatalogItem))
			r.Post("/", createRecord(h, "catalog item", func(c *factory.CatalogItemJSON) factory.Snapshot {
				return factory.Snapshot{Catalog: []factory.CatalogItemJSON{*c}}
			}))
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", listRecords(h, "assignments", costing.Store.ListAssignments, factory.FromAssignment))
			r.Post("/", createRecord(h, "assignment", func(a *factory.AssignmentJSON) factory.Snapshot {
				return factory.Snapshot{Assignments: []factory.AssignmentJSON{*a}}
			}))
		})

		r.Route("/client-services", func(r chi.Router) {
			r.Get("/", listRecords(h, "client services", costing.Store.ListClientServices, factory.FromClientService))
			r.Post("/", createRecord(h, "client service", func(c *factory.ClientServiceJSON) factory.Snapshot {
				return factory.Snapshot{Lines: []factory.ClientServiceJSON{*c}}
			}))
			r.Post("/sync-drivers", h.SyncServiceDrivers)
		})

		r.Route("/allocations", func(r chi.Router) {
			r.Get("/", h.ListAllocations)
			r.Post("/", h.CreateAllocation)
			r.Get("/{id}", h.GetAllocation)
			r.Post("/{id}/calculate", h.CalculateAllocation)
			r.Post("/{id}/confirm", h.ConfirmAllocation)
		})

		r.Route("/periods", func(r chi.Router) {
			r.Post("/recalculate", h.RecalculateRange)
			r.Get("/{period}", h.GetPeriod)
			r.Post("/{period}/recalculate", h.RecalculatePeriod)
			r.Get("/{period}/last-run", h.LastRun)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/period-totals", h.PeriodTotals)
			r.Get("/workload", h.Workload)
		})

		r.Post("/service-cost", h.ServiceCost)

		r.Get("/snapshot", h.ExportSnapshot)
		r.Post("/snapshot", h.LoadSnapshot)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetStore)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>ABC Cost Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>ABC Cost Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/pools">/api/pools</a> - Cost pools</li>
<li><a href="/api/clients">/api/clients</a> - Clients</li>
<li><a href="/api/allocations">/api/allocations</a> - Allocations of the current month</li>
<li><a href="/api/reports/workload">/api/reports/workload</a> - Employee workload</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
<li><a href="/metrics">/metrics</a> - Prometheus metrics</li>
</ul>
</body>
</html>`))
	})

	return r
}
