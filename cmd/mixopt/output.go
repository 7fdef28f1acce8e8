package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/report"
	"github.com/urfave/cli/v2"
)

func reportWriter(c *cli.Context) *report.Writer {
	w := report.NewWriter(configFrom(c).Output)
	if dir := c.String("out"); dir != "" {
		w.Dir = dir
	}
	if format := c.String("format"); format != "" {
		w.Format = format
	}
	return w
}

func runPrefix(res *domain.RunResult) string {
	mode := "estoque"
	if res.HonorOrders {
		mode = "pedidos"
	}
	return fmt.Sprintf("mixopt_%s_%s", res.StockDate.Format("20060102"), mode)
}

func printSummary(out io.Writer, f report.Formatter, res *domain.RunResult) {
	s := res.Summary
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", res.ID)
	fmt.Fprintf(tw, "Stock date\t%s (%s)\n", res.StockDate.Format("2006-01-02"), res.StockType)
	fmt.Fprintf(tw, "Objective\t%s\n", res.Objective)
	fmt.Fprintf(tw, "Honor orders\t%t\n", res.HonorOrders)
	fmt.Fprintf(tw, "Solver\t%s in %s (%d variables, %d constraints)\n",
		domain.SolverStatusLabel(s.SolverStatus), s.SolveTime, s.VariableCount, s.ConstraintCount)
	fmt.Fprintf(tw, "Baseline margin\t%s\n", f.Number(s.BaselineMargin))
	fmt.Fprintf(tw, "Optimized margin\t%s\n", f.Number(s.OptimizedMargin))
	fmt.Fprintf(tw, "Gain\t%s (%s%%)\n", f.Number(s.GainAbs), f.Percent(s.GainPct))
	if n := len(res.Diagnostics.Warnings); n > 0 {
		fmt.Fprintf(tw, "Warnings\t%d\n", n)
	}
	tw.Flush()

	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\nclass\tskus\tstock\tallocated\tmargin\t")
	for _, cl := range res.Classes {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t\n", cl.Class, cl.SkuCount,
			f.Number(cl.OriginalStock), f.Number(cl.AllocatedQty), f.Number(cl.Margin))
	}
	tw.Flush()
}

func printComparison(out io.Writer, f report.Formatter, results []*domain.RunResult) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "date\torders\tstatus\tbaseline\toptimized\tgain\tgain %\t")
	for _, r := range results {
		s := r.Summary
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%s\t%s\t\n",
			r.StockDate.Format("2006-01-02"), r.HonorOrders, domain.SolverStatusLabel(s.SolverStatus),
			f.Number(s.BaselineMargin), f.Number(s.OptimizedMargin), f.Number(s.GainAbs), f.Percent(s.GainPct))
	}
	tw.Flush()
}
