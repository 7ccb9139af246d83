/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ABC cost allocation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load ABC_* configuration, then apply command-line flags
  2. Initialize logger and Prometheus metrics
  3. Initialize SQLite store
  4. Build the engine with a rate table and calendar registry
  5. Configure HTTP router and optional period scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides ABC_PORT)
  -db      SQLite database path (overrides ABC_DB_PATH)
           Use ":memory:" for in-memory database
  -seed    Snapshot JSON loaded at startup (rates, calendars, records)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/abc.db"

  # Run in memory with demo data
  ./server -db=":memory:" -seed=factory/testdata/snapshot.json

SEE ALSO:
  - config/config.go: Environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/warp/abc-engine/api"
	"github.com/warp/abc-engine/calendar"
	"github.com/warp/abc-engine/config"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/factory"
	"github.com/warp/abc-engine/obs"
	"github.com/warp/abc-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seed := flag.String("seed", "", "snapshot JSON to load at startup")
	flag.Parse()
	cfg.Port = *port
	cfg.DBPath = *dbPath

	log := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
	metrics := obs.NewMetrics(cfg.MetricsNamespace, prometheus.DefaultRegisterer)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	rates := costing.NewRateTable()
	calendars := calendar.NewRegistry(log)
	engine := costing.NewEngine(store, costing.Config{
		BaseCurrency:        cfg.BaseCurrency,
		Converter:           rates,
		Hours:               calendars,
		DefaultMonthlyHours: cfg.DefaultMonthlyHours,
	}, costing.WithLogger(log), costing.WithMetrics(metrics))

	handler := api.NewHandler(engine, store, cfg.BaseCurrency, log)
	handler.Rates = rates
	handler.Calendars = calendars

	if *seed != "" {
		if err := loadSeed(context.Background(), *seed, store, cfg.BaseCurrency, rates, calendars); err != nil {
			log.Fatal().Err(err).Str("seed", *seed).Msg("failed to load seed snapshot")
		}
		log.Info().Str("seed", *seed).Msg("seed snapshot loaded")
	}

	router := api.NewRouter(handler, api.RouterConfig{
		Log:         log,
		Metrics:     metrics,
		Gatherer:    prometheus.DefaultGatherer,
		CORSOrigins: cfg.CORSOrigins,
		Ready:       store.Ping,
	})

	scheduler := api.NewPeriodScheduler(engine, store, log)
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.BillingDay = cfg.BillingDay
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Str("base_currency", string(cfg.BaseCurrency)).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func loadSeed(ctx context.Context, path string, store costing.Store, base costing.Currency, rates *costing.RateTable, calendars *calendar.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snap, err := factory.ParseSnapshot(data)
	if err != nil {
		return err
	}
	if err := snap.ApplyRates(rates); err != nil {
		return err
	}
	if err := snap.ApplyCalendars(calendars); err != nil {
		return err
	}
	return snap.Load(ctx, store, base)
}
