/*
scheduler.go - Monthly period recalculation scheduler

PURPOSE:
  Periodically checks whether the previous month needs its closing
  recalculation and runs it once per month after the billing day.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The previous month is due once the billing day has passed
  - A period is done when a run finished after that cutoff; earlier
    runs (for example mid-month API runs) do not count
  - Records recalculation runs for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - BillingDay:    Day of month after which the previous month closes (default: 5)
  - Enabled:       Whether scheduler is active

USAGE:
  scheduler := NewPeriodScheduler(engine, runs, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RecalculatePeriod endpoint (manual recalculation)
  - costing/engine.go: RecalculatePeriod
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/abc-engine/costing"
)

// PeriodScheduler closes the previous month automatically.
type PeriodScheduler struct {
	Engine        *costing.Engine
	Runs          costing.RunLog
	BillingDay    int
	CheckInterval time.Duration
	Enabled       bool
	Log           zerolog.Logger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodScheduler creates a scheduler with the default interval and
// billing day.
func NewPeriodScheduler(engine *costing.Engine, runs costing.RunLog, log zerolog.Logger) *PeriodScheduler {
	return &PeriodScheduler{
		Engine:        engine,
		Runs:          runs,
		BillingDay:    5,
		CheckInterval: time.Hour,
		Enabled:       true,
		Log:           log,
		Now:           time.Now,
	}
}

// Start begins the scheduler.
func (ps *PeriodScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.Enabled {
		ps.Log.Info().Msg("period scheduler disabled")
		return
	}
	if ps.ticker != nil {
		return
	}

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.stop = make(chan struct{})
	ps.wg.Add(1)
	go ps.run()

	ps.Log.Info().Dur("interval", ps.CheckInterval).Int("billing_day", ps.BillingDay).Msg("period scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (ps *PeriodScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker == nil {
		return
	}
	ps.ticker.Stop()
	close(ps.stop)
	ps.wg.Wait()
	ps.ticker = nil
	ps.Log.Info().Msg("period scheduler stopped")
}

func (ps *PeriodScheduler) run() {
	defer ps.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ps.stop
		cancel()
	}()

	// Run immediately on start
	ps.check(ctx)

	for {
		select {
		case <-ps.ticker.C:
			ps.check(ctx)
		case <-ps.stop:
			return
		}
	}
}

// cutoff is the first moment the previous month may be closed.
func (ps *PeriodScheduler) cutoff(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), ps.BillingDay+1, 0, 0, 0, 0, now.Location())
}

// Due reports the period to close at the given time, if any.
func (ps *PeriodScheduler) Due(ctx context.Context, now time.Time) (costing.Period, bool, error) {
	cutoff := ps.cutoff(now)
	if now.Before(cutoff) {
		return costing.Period{}, false, nil
	}
	period := costing.PeriodOf(now).Previous()
	if ps.Runs == nil {
		return period, true, nil
	}
	last, err := ps.Runs.LastRun(ctx, period)
	if err != nil {
		return costing.Period{}, false, err
	}
	if last != nil && !last.FinishedAt.Before(cutoff) {
		return period, false, nil
	}
	return period, true, nil
}

func (ps *PeriodScheduler) check(ctx context.Context) {
	now := ps.Now()
	period, due, err := ps.Due(ctx, now)
	if err != nil {
		ps.Log.Error().Err(err).Msg("failed to read recalculation runs")
		return
	}
	if !due {
		ps.Log.Debug().Time("now", now).Msg("no period due")
		return
	}

	result, err := ps.Engine.RecalculatePeriod(ctx, period, nil)
	if err != nil {
		ps.Log.Error().Err(err).Str("period", period.String()).Msg("scheduled recalculation failed")
		return
	}
	recordRun(ctx, ps.Runs, ps.Log, result, now, ps.Now(), "scheduler")
	ps.Log.Info().
		Str("period", period.String()).
		Int("succeeded", result.Succeeded()).
		Int("failed", result.Failed()).
		Msg("scheduled recalculation completed")
}

// RunNow triggers an immediate check (for testing/admin).
func (ps *PeriodScheduler) RunNow(ctx context.Context) {
	ps.check(ctx)
}

// NextRunTime returns when the next scheduled check will occur.
func (ps *PeriodScheduler) NextRunTime() time.Time {
	return ps.Now().Add(ps.CheckInterval)
}
