// Package cmd provides the CLI commands for abcctl.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/warp/abc-engine/config"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/costing/store"
	"github.com/warp/abc-engine/factory"
	"github.com/warp/abc-engine/obs"
)

// options shared by every subcommand.
type options struct {
	snapshot string
	format   string
	verbose  bool

	cfg *config.Config
	log zerolog.Logger
}

// NewRootCmd builds the command tree. Each call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "abcctl",
		Short: "Run activity-based cost allocations offline",
		Long: `abcctl loads a snapshot document into an in-memory store and runs the
allocation engine against it. Nothing is persisted.

Examples:
  abcctl recalc --snapshot costs.json --period 2025-01
  abcctl service-cost --snapshot costs.json --catalog ticket --client acme
  abcctl normalize --amount 1200 --currency EUR --cadence annual --rate EUR:UAH=43.5`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			level := cfg.LogLevel
			if opts.verbose {
				level = "debug"
			}
			opts.log = obs.NewLoggerTo(cmd.ErrOrStderr(), "console", level)
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.snapshot, "snapshot", "s", "", "snapshot JSON with the costing configuration")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "table", "output format (table, json)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRecalcCmd(opts))
	root.AddCommand(newServiceCostCmd(opts))
	root.AddCommand(newNormalizeCmd(opts))
	root.AddCommand(newWorkloadCmd(opts))
	root.AddCommand(newValidateCmd(opts))
	return root
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

// loadEngine reads the snapshot into a fresh memory store and builds an
// engine around it with the snapshot's rates and calendars.
func (o *options) loadEngine(ctx context.Context) (*costing.Engine, *factory.Snapshot, error) {
	if o.snapshot == "" {
		return nil, nil, fmt.Errorf("--snapshot is required")
	}
	data, err := os.ReadFile(o.snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := factory.ParseSnapshot(data)
	if err != nil {
		return nil, nil, err
	}
	rates, err := snap.RateTable()
	if err != nil {
		return nil, nil, err
	}
	calendars, err := snap.CalendarRegistry(o.log)
	if err != nil {
		return nil, nil, err
	}

	base := snap.Base(o.cfg.BaseCurrency)
	mem := store.NewMemory()
	if err := snap.Load(ctx, mem, base); err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	o.log.Debug().
		Str("snapshot", o.snapshot).
		Int("employees", len(snap.Employees)).
		Int("clients", len(snap.Clients)).
		Msg("snapshot loaded")

	engine := costing.NewEngine(mem, costing.Config{
		BaseCurrency:        base,
		Converter:           rates,
		Hours:               calendars,
		DefaultMonthlyHours: o.cfg.DefaultMonthlyHours,
	}, costing.WithLogger(o.log))
	return engine, snap, nil
}

// render writes v as indented JSON when --format json, otherwise calls table.
func (o *options) render(w io.Writer, v any, table func(io.Writer) error) error {
	switch o.format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "table", "":
		return table(w)
	default:
		return fmt.Errorf("unknown format %q", o.format)
	}
}
