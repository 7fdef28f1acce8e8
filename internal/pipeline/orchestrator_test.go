package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	seen  []engine.Request
	fail  map[string]error
	delay time.Duration
}

func (f *fakeRunner) Run(ctx context.Context, req engine.Request) (*domain.RunResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if err := f.fail[req.StockDate.Format("2006-01-02")]; err != nil {
		return nil, err
	}
	honor := req.HonorOrders != nil && *req.HonorOrders
	return &domain.RunResult{StockDate: req.StockDate, HonorOrders: honor}, nil
}

type fakeDates []domain.StockDateSummary

func (f fakeDates) StockDates(context.Context, string) ([]domain.StockDateSummary, error) {
	return f, nil
}

func day(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

func available() fakeDates {
	return fakeDates{
		{Date: day(20), TotalQuantity: 900},
		{Date: day(10), TotalQuantity: 800},
		{Date: day(15), TotalQuantity: 100},
	}
}

func TestPlanTopDates(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, available(), Config{WorkerCount: 2, TopDates: 2})

	jobs, err := o.Plan(context.Background(), Spec{Base: engine.Request{StockType: "DISPONIVEL PARA VENDA"}})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, day(10), jobs[0].Request.StockDate)
	assert.Equal(t, day(20), jobs[1].Request.StockDate)
	assert.Equal(t, "DISPONIVEL PARA VENDA", jobs[1].Request.StockType)
	assert.Equal(t, "2024-01-10", jobs[0].Label)
	assert.Equal(t, JobQueued, jobs[0].Status)

	jobs, err = o.Plan(context.Background(), Spec{Top: 5})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestPlanCompareModes(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, fakeDates{}, Config{})

	jobs, err := o.Plan(context.Background(), Spec{Dates: []time.Time{day(15)}, CompareModes: true})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "2024-01-15/orders", jobs[0].Label)
	assert.True(t, *jobs[0].Request.HonorOrders)
	assert.Equal(t, "2024-01-15/stock", jobs[1].Label)
	assert.False(t, *jobs[1].Request.HonorOrders)
}

func TestPlanNoDates(t *testing.T) {
	o := NewOrchestrator(&fakeRunner{}, fakeDates{}, Config{TopDates: 3})
	_, err := o.Plan(context.Background(), Spec{})
	assert.Error(t, err)
}

func TestRunCollectsFailures(t *testing.T) {
	boom := errors.New("solver crashed")
	runner := &fakeRunner{fail: map[string]error{"2024-01-15": boom}}
	o := NewOrchestrator(runner, available(), Config{WorkerCount: 3, TopDates: 3})

	rep, err := o.Run(context.Background(), Spec{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Completed)
	assert.Equal(t, 1, rep.Failed)
	assert.Len(t, runner.seen, 3)

	require.Len(t, rep.Jobs, 3)
	assert.Equal(t, JobFailed, rep.Jobs[1].Status)
	assert.ErrorIs(t, rep.Jobs[1].Err, boom)

	results := rep.Results()
	require.Len(t, results, 2)
	assert.Equal(t, day(10), results[0].StockDate)
	assert.Equal(t, day(20), results[1].StockDate)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := NewOrchestrator(&fakeRunner{}, fakeDates{}, Config{WorkerCount: 1})

	_, err := o.Run(ctx, Spec{Dates: []time.Time{day(1), day(2)}})
	assert.ErrorIs(t, err, context.Canceled)
}
