// Package pipeline runs batches of optimization runs, one per stock date
// and operating mode, on a bounded worker pool.
package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/engine"
)

// Runner executes one optimization run.
type Runner interface {
	Run(ctx context.Context, req engine.Request) (*domain.RunResult, error)
}

// DateLister lists the stock counts available for a stock type.
type DateLister interface {
	StockDates(ctx context.Context, stockType string) ([]domain.StockDateSummary, error)
}

// Config holds the batch settings.
type Config struct {
	WorkerCount int // Number of concurrent runs
	TopDates    int // Dates picked when none are given
}

// ConfigFrom reads the pipeline section of cfg.
func ConfigFrom(cfg *config.Config) Config {
	return Config{WorkerCount: cfg.Pipeline.Workers, TopDates: cfg.Pipeline.TopDates}
}

// Spec describes a batch. Explicit Dates win over Top.
type Spec struct {
	Dates []time.Time
	Top   int
	// CompareModes runs every date twice, with orders honored and ignored.
	CompareModes bool
	// Base carries the overrides shared by every run of the batch.
	Base engine.Request
}

// JobStatus represents the state of a single run of a batch
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Job is one run of a batch.
type Job struct {
	Index   int
	Label   string
	Request engine.Request
	Status  JobStatus
	Result  *domain.RunResult
	Err     error
	Elapsed time.Duration
}

// Report is the outcome of a batch, jobs in plan order.
type Report struct {
	Jobs      []*Job
	Completed int
	Failed    int
	Elapsed   time.Duration
}

// Results returns the results of the completed jobs in plan order.
func (r *Report) Results() []*domain.RunResult {
	var out []*domain.RunResult
	for _, j := range r.Jobs {
		if j.Status == JobCompleted {
			out = append(out, j.Result)
		}
	}
	return out
}
