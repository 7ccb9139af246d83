package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/abc-engine/costing"
)

func newServiceCostCmd(opts *options) *cobra.Command {
	var (
		catalog, client, method, period string
		hours, units, complexity        string
	)
	c := &cobra.Command{
		Use:   "service-cost",
		Short: "Price one unit of a catalog service",
		Long: `Price one unit of a catalog service from the team's blended rate, the
pool driver charges and, when a client is given, its support level.

Examples:
  abcctl service-cost --snapshot costs.json --catalog ticket
  abcctl service-cost --snapshot costs.json --catalog ticket --client acme --method time_based --hours 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			req := costing.ServiceCostRequest{
				CatalogItemID: costing.CatalogItemID(catalog),
				ClientID:      costing.ClientID(client),
				Method:        costing.CalculationMethod(method),
			}
			if period != "" {
				p, err := costing.ParsePeriod(period)
				if err != nil {
					return err
				}
				req.Period = p
			}
			var err error
			if req.EstimatedHoursPerUnit, err = decimalFlag("hours", hours); err != nil {
				return err
			}
			if req.BaseUnitsRequested, err = decimalFlag("units", units); err != nil {
				return err
			}
			if req.ComplexityMultiplier, err = decimalFlag("complexity", complexity); err != nil {
				return err
			}

			engine, _, err := opts.loadEngine(ctx)
			if err != nil {
				return err
			}
			b, err := engine.ComputeServiceCost(ctx, req)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), b, func(w io.Writer) error {
				return breakdownTable(w, b)
			})
		},
	}
	c.Flags().StringVar(&catalog, "catalog", "", "catalog item id")
	c.Flags().StringVar(&client, "client", "", "client id (optional)")
	c.Flags().StringVar(&method, "method", "", "time_based, unit_based or complexity_based (default: the item's method)")
	c.Flags().StringVarP(&period, "period", "p", "", "period whose costs apply (YYYY-MM, default current month)")
	c.Flags().StringVar(&hours, "hours", "", "estimated hours per unit")
	c.Flags().StringVar(&units, "units", "", "base units requested")
	c.Flags().StringVar(&complexity, "complexity", "", "complexity multiplier")
	_ = c.MarkFlagRequired("catalog")
	return c
}

// decimalFlag parses an optional decimal flag; empty means zero, which the
// calculation reads as 1.
func decimalFlag(name, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", name, v, err)
	}
	return d, nil
}

func breakdownTable(w io.Writer, b costing.CostBreakdown) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := []struct {
		label string
		value decimal.Decimal
	}{
		{"blended rate", b.BlendedHourlyRate},
		{"workload factor", b.EffectiveWorkloadFactor},
		{"direct", b.Direct},
		{"indirect", b.Indirect},
		{"admin", b.Admin},
		{"overhead", b.Overhead},
		{"total", b.Total},
		{"sales price", b.SalesPrice},
	}
	fmt.Fprintf(tw, "%s\t%s\n", "item", b.CatalogItemID)
	if b.ClientID != "" {
		fmt.Fprintf(tw, "%s\t%s\n", "client", b.ClientID)
	}
	fmt.Fprintf(tw, "%s\t%s\n", "method", b.Method)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.label, r.value.StringFixed(2))
	}
	if len(b.Team) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "EMPLOYEE\tMONTHLY\tHOURLY\tCOST PER UNIT\n")
		for _, m := range b.Team {
			if m.Missing {
				fmt.Fprintf(tw, "%s\t-\t-\t-\t(no cost record)\n", m.EmployeeID)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.EmployeeID, m.MonthlyCost.StringFixed(2), m.HourlyCost.StringFixed(2), m.CostPerServiceUnit.StringFixed(2))
		}
	}
	return tw.Flush()
}
