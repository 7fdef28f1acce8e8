package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// processJobs runs jobs on a worker pool. A failed job does not stop the
// others; its error is kept on the job.
func processJobs(ctx context.Context, runner Runner, workerCount int, jobs []*Job) error {
	if workerCount < 1 {
		workerCount = 1
	}

	jobChan := make(chan *Job, len(jobs))
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobChan {
				processJob(ctx, runner, workerID, job)
			}
		}(i)
	}

	// Enqueue jobs
	var err error
	for _, job := range jobs {
		if err = ctx.Err(); err != nil {
			break
		}
		jobChan <- job
	}
	close(jobChan)

	// Wait for all workers
	wg.Wait()
	return err
}

func processJob(ctx context.Context, runner Runner, workerID int, job *Job) {
	start := time.Now()
	job.Status = JobProcessing
	log.Debug().Int("worker", workerID).Str("job", job.Label).Msg("pipeline: run started")

	res, err := runner.Run(ctx, job.Request)
	job.Elapsed = time.Since(start)
	if err != nil {
		job.Status = JobFailed
		job.Err = err
		log.Warn().Err(err).Int("worker", workerID).Str("job", job.Label).Msg("pipeline: run failed")
		return
	}

	job.Status = JobCompleted
	job.Result = res
	log.Info().
		Int("worker", workerID).
		Str("job", job.Label).
		Float64("gain_abs", res.Summary.GainAbs).
		Dur("elapsed", job.Elapsed).
		Msg("pipeline: run completed")
}
