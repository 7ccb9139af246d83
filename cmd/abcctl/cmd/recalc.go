package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/warp/abc-engine/costing"
)

type allocationRow struct {
	ClientID string          `json:"client_id"`
	Status   string          `json:"status"`
	Direct   decimal.Decimal `json:"direct"`
	Indirect decimal.Decimal `json:"indirect"`
	Admin    decimal.Decimal `json:"admin"`
	Total    decimal.Decimal `json:"total"`
	Error    string          `json:"error,omitempty"`
}

type recalcOutput struct {
	Period         string          `json:"period"`
	AdminPoolTotal decimal.Decimal `json:"admin_pool_total"`
	TotalNonAdmin  decimal.Decimal `json:"total_non_admin"`
	Clients        []allocationRow `json:"clients"`
	Degradations   []string        `json:"degradations,omitempty"`
}

func newRecalcCmd(opts *options) *cobra.Command {
	var (
		period  string
		clients []string
	)
	c := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate every client allocation of a period",
		Long: `Recalculate direct, indirect and admin cost for the clients of a period.

Examples:
  abcctl recalc --snapshot costs.json --period 2025-01
  abcctl recalc --snapshot costs.json --period 2025-01 --clients acme,bakery --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := costing.ParsePeriod(period)
			if err != nil {
				return err
			}
			engine, _, err := opts.loadEngine(ctx)
			if err != nil {
				return err
			}

			var targets []costing.ClientID
			for _, id := range clients {
				targets = append(targets, costing.ClientID(id))
			}
			result, err := engine.RecalculatePeriod(ctx, p, targets)
			if err != nil {
				return err
			}
			out := toRecalcOutput(result)
			return opts.render(cmd.OutOrStdout(), out, out.table)
		},
	}
	c.Flags().StringVarP(&period, "period", "p", "", "period to recalculate (YYYY-MM)")
	c.Flags().StringSliceVar(&clients, "clients", nil, "limit the batch to these client ids")
	_ = c.MarkFlagRequired("period")
	return c
}

func toRecalcOutput(r costing.PeriodResult) recalcOutput {
	out := recalcOutput{
		Period:         r.Period.String(),
		AdminPoolTotal: r.AdminPoolTotal,
		TotalNonAdmin:  r.TotalNonAdmin,
	}
	for _, o := range r.Outcomes {
		row := allocationRow{ClientID: string(o.ClientID), Status: string(o.Status)}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		if a, ok := r.Allocation(o.ClientID); ok {
			row.Direct, row.Indirect, row.Admin, row.Total = a.DirectCost, a.IndirectCost, a.AdminCost, a.TotalCost
		}
		out.Clients = append(out.Clients, row)
	}
	for _, d := range r.Degradations {
		out.Degradations = append(out.Degradations, d.String())
	}
	return out
}

func (o recalcOutput) table(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "CLIENT\tSTATUS\tDIRECT\tINDIRECT\tADMIN\tTOTAL\t\n")
	for _, r := range o.Clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", r.ClientID, r.Status,
			r.Direct.StringFixed(2), r.Indirect.StringFixed(2), r.Admin.StringFixed(2), r.Total.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\nperiod %s  admin pool %s  non-admin basis %s\n", o.Period, o.AdminPoolTotal.StringFixed(2), o.TotalNonAdmin.StringFixed(2))
	for _, r := range o.Clients {
		if r.Error != "" {
			fmt.Fprintf(w, "failed %s: %s\n", r.ClientID, r.Error)
		}
	}
	for _, d := range o.Degradations {
		fmt.Fprintf(w, "degraded %s\n", d)
	}
	return nil
}
