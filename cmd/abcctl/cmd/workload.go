package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/warp/abc-engine/costing"
)

func newWorkloadCmd(opts *options) *cobra.Command {
	var target string
	c := &cobra.Command{
		Use:   "workload",
		Short: "Report employee workload against capacity",
		Long: `Sum the support-level adjusted workload factor of every assignment per
employee and compare it with the target.

Examples:
  abcctl workload --snapshot costs.json
  abcctl workload --snapshot costs.json --target 3 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := decimalFlag("target", target)
			if err != nil {
				return err
			}
			if t.IsNegative() {
				return fmt.Errorf("invalid --target %q: must be positive", target)
			}
			engine, _, err := opts.loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := engine.Workload(cmd.Context(), t)
			if err != nil {
				return err
			}
			return opts.render(cmd.OutOrStdout(), rows, func(w io.Writer) error {
				return workloadTable(w, rows)
			})
		},
	}
	c.Flags().StringVar(&target, "target", "", "workload of a fully occupied employee (default 100)")
	return c
}

func workloadTable(w io.Writer, rows []costing.EmployeeWorkload) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "EMPLOYEE\tASSIGNMENTS\tWORKLOAD\tTARGET\tLOAD %%\tCATEGORIES\t\n")
	for _, r := range rows {
		cats := make([]string, 0, len(r.ByCategory))
		for name, v := range r.ByCategory {
			cats = append(cats, name+"="+v.String())
		}
		sort.Strings(cats)
		flag := ""
		if r.Overloaded {
			flag = " !"
		}
		fmt.Fprintf(tw, "%s%s\t%d\t%s\t%s\t%s\t%s\t\n", r.EmployeeID, flag, r.Assignments,
			r.TotalWorkload.StringFixed(2), r.Target.String(), r.OverloadPercent.StringFixed(1), strings.Join(cats, " "))
	}
	return tw.Flush()
}
