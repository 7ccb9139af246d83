package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/abc-engine/costing"
)

type validateOutput struct {
	Valid        bool     `json:"valid"`
	Period       string   `json:"period,omitempty"`
	Pools        int      `json:"pools"`
	Employees    int      `json:"employees"`
	Clients      int      `json:"clients"`
	Usage        int      `json:"usage"`
	AdminTotal   string   `json:"admin_pool_total,omitempty"`
	Degradations []string `json:"degradations,omitempty"`
}

func newValidateCmd(opts *options) *cobra.Command {
	var period string
	c := &cobra.Command{
		Use:   "validate",
		Short: "Check a snapshot without calculating allocations",
		Long: `Load a snapshot into a scratch store, which runs every reference and
domain check. With --period, also derive that period's pool totals and list
the figures that fell back to defaults.

Examples:
  abcctl validate --snapshot costs.json
  abcctl validate --snapshot costs.json --period 2025-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, snap, err := opts.loadEngine(ctx)
			if err != nil {
				return err
			}
			out := validateOutput{
				Valid:     true,
				Pools:     len(snap.Pools),
				Employees: len(snap.Employees),
				Clients:   len(snap.Clients),
				Usage:     len(snap.Usage),
			}
			if period != "" {
				p, err := costing.ParsePeriod(period)
				if err != nil {
					return err
				}
				derived, err := engine.Derive(ctx, p)
				if err != nil {
					return err
				}
				out.Period = p.String()
				out.AdminTotal = derived.AdminTotal.String()
				for _, d := range derived.Degradations {
					out.Degradations = append(out.Degradations, d.String())
				}
			}
			return opts.render(cmd.OutOrStdout(), out, out.table)
		},
	}
	c.Flags().StringVarP(&period, "period", "p", "", "also derive this period (YYYY-MM)")
	return c
}

func (o validateOutput) table(w io.Writer) error {
	fmt.Fprintf(w, "snapshot ok: %d pools, %d employees, %d clients, %d usage records\n",
		o.Pools, o.Employees, o.Clients, o.Usage)
	if o.Period != "" {
		fmt.Fprintf(w, "period %s: admin pool %s\n", o.Period, o.AdminTotal)
	}
	for _, d := range o.Degradations {
		fmt.Fprintf(w, "degraded %s\n", d)
	}
	return nil
}
