package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Orchestrator plans a batch over stock dates and runs it.
type Orchestrator struct {
	runner Runner
	dates  DateLister
	cfg    Config
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(runner Runner, dates DateLister, cfg Config) *Orchestrator {
	return &Orchestrator{
		runner: runner,
		dates:  dates,
		cfg:    cfg,
	}
}

// Plan expands spec into jobs. Without explicit dates it takes the Top
// dates with the largest stock for the requested stock type.
func (o *Orchestrator) Plan(ctx context.Context, spec Spec) ([]*Job, error) {
	dates := append([]time.Time(nil), spec.Dates...)
	if len(dates) == 0 {
		top := spec.Top
		if top <= 0 {
			top = o.cfg.TopDates
		}
		if top <= 0 {
			top = 1
		}

		available, err := o.dates.StockDates(ctx, spec.Base.StockType)
		if err != nil {
			return nil, fmt.Errorf("list stock dates: %w", err)
		}
		for _, d := range available {
			if len(dates) == top {
				break
			}
			if !d.Date.IsZero() {
				dates = append(dates, d.Date)
			}
		}
		if len(dates) == 0 {
			return nil, fmt.Errorf("no stock dates available for type %q", spec.Base.StockType)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var jobs []*Job
	add := func(date time.Time, honor *bool, mode string) {
		req := spec.Base
		req.StockDate = date
		if honor != nil {
			req.HonorOrders = honor
		}
		label := date.Format("2006-01-02")
		if mode != "" {
			label += "/" + mode
		}
		jobs = append(jobs, &Job{Index: len(jobs), Label: label, Request: req, Status: JobQueued})
	}
	for _, d := range dates {
		if !spec.CompareModes {
			add(d, nil, "")
			continue
		}
		honor, ignore := true, false
		add(d, &honor, "orders")
		add(d, &ignore, "stock")
	}
	return jobs, nil
}

// Run executes the planned jobs. Individual failures are reported on
// the jobs; the error is reserved for planning problems and cancellation.
func (o *Orchestrator) Run(ctx context.Context, spec Spec) (*Report, error) {
	start := time.Now()
	jobs, err := o.Plan(ctx, spec)
	if err != nil {
		return nil, err
	}

	log.Info().Int("jobs", len(jobs)).Int("workers", o.cfg.WorkerCount).Msg("pipeline: batch started")
	if err := processJobs(ctx, o.runner, o.cfg.WorkerCount, jobs); err != nil {
		return nil, fmt.Errorf("batch interrupted: %w", err)
	}

	rep := &Report{Jobs: jobs, Elapsed: time.Since(start)}
	for _, j := range jobs {
		switch j.Status {
		case JobCompleted:
			rep.Completed++
		case JobFailed:
			rep.Failed++
		}
	}

	log.Info().
		Int("completed", rep.Completed).
		Int("failed", rep.Failed).
		Dur("elapsed", rep.Elapsed).
		Msg("pipeline: batch finished")
	return rep, nil
}
