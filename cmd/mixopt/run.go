package main

import (
	"errors"
	"fmt"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/pipeline"
	"github.com/andresuchdata/mixopt/internal/report"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func optimizeCommand() *cli.Command {
	flags := append(runFlags(),
		&cli.StringFlag{
			Name:  "date",
			Usage: "Stock count date (dd/mm/yyyy or yyyy-mm-dd); defaults to the latest count",
		},
		&cli.BoolFlag{
			Name:  "compare-modes",
			Usage: "Run with orders honored and ignored and compare both",
		},
	)
	return &cli.Command{
		Name:   "optimize",
		Usage:  "Optimize one stock count and write the reallocation report",
		Flags:  flags,
		Action: runOptimize,
	}
}

func runOptimize(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	req := requestFromFlags(c)
	if c.IsSet("date") {
		dates, err := parseDates([]string{c.String("date")})
		if err != nil {
			return err
		}
		if len(dates) > 0 {
			req.StockDate = dates[0]
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}

	writer := reportWriter(c)
	out := c.App.Writer

	if c.Bool("compare-modes") {
		spec := pipeline.Spec{CompareModes: true, Base: req, Top: 1}
		if !req.StockDate.IsZero() {
			spec.Dates = append(spec.Dates, req.StockDate)
		}
		return runBatch(c, a.Orchestrator(), spec, writer)
	}

	res, err := a.Service.Run(c.Context, req)
	if err != nil {
		return err
	}
	printSummary(out, writer.Formatter, res)

	paths, err := writer.Write(runPrefix(res), report.Sheets(res))
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return nil
}

func batchCommand() *cli.Command {
	flags := append(runFlags(),
		&cli.StringSliceFlag{
			Name:  "date",
			Usage: "Stock count dates to run; repeat or separate with commas",
		},
		&cli.IntFlag{
			Name:  "top",
			Usage: "Run the N dates with the largest stock when no date is given; defaults to pipeline.top_dates",
		},
		&cli.BoolFlag{
			Name:  "compare-modes",
			Usage: "Run every date with orders honored and ignored",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Concurrent runs; defaults to pipeline.workers",
		},
	)
	return &cli.Command{
		Name:  "batch",
		Usage: "Optimize several stock counts and compare them",
		Flags: flags,
		Action: func(c *cli.Context) error {
			a, err := openApp(c)
			if err != nil {
				return err
			}
			defer a.Close()

			dates, err := parseDates(c.StringSlice("date"))
			if err != nil {
				return err
			}
			req := requestFromFlags(c)
			if err := req.Validate(); err != nil {
				return err
			}

			cfg := pipeline.ConfigFrom(a.Config)
			if c.IsSet("workers") {
				cfg.WorkerCount = c.Int("workers")
			}
			orch := pipeline.NewOrchestrator(a.Engine, a.Engine, cfg)
			spec := pipeline.Spec{Dates: dates, Top: c.Int("top"), CompareModes: c.Bool("compare-modes"), Base: req}
			return runBatch(c, orch, spec, reportWriter(c))
		},
	}
}

// runBatch runs spec, prints the comparison and writes one report per
// successful run plus the comparison sheet. It fails only when no run
// succeeded.
func runBatch(c *cli.Context, orch *pipeline.Orchestrator, spec pipeline.Spec, writer *report.Writer) error {
	rep, err := orch.Run(c.Context, spec)
	if err != nil {
		return err
	}

	var errs []error
	for _, j := range rep.Jobs {
		if j.Status == pipeline.JobFailed {
			log.Error().Err(j.Err).Str("job", j.Label).Msg("run failed")
			errs = append(errs, fmt.Errorf("%s: %w", j.Label, j.Err))
		}
	}

	results := rep.Results()
	if len(results) == 0 {
		return errors.Join(errs...)
	}

	out := c.App.Writer
	printComparison(out, writer.Formatter, results)
	if best := bestResult(results); best != nil {
		fmt.Fprintf(out, "\nBest gain: %s on %s (orders honored: %t)\n",
			writer.Formatter.Number(best.Summary.GainAbs), best.StockDate.Format("2006-01-02"), best.HonorOrders)
	}

	if _, err := writer.Write("mixopt_comparacao", []report.Sheet{report.ComparisonSheet(results)}); err != nil {
		return err
	}
	for _, res := range results {
		if _, err := writer.Write(runPrefix(res), report.Sheets(res)); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\n%d runs completed, %d failed in %s\n", rep.Completed, rep.Failed, rep.Elapsed)
	return nil
}

// bestResult picks the run with the largest absolute gain.
func bestResult(results []*domain.RunResult) *domain.RunResult {
	var best *domain.RunResult
	for _, r := range results {
		if best == nil || r.Summary.GainAbs > best.Summary.GainAbs {
			best = r
		}
	}
	return best
}
