// Package engine runs one reallocation optimization: it loads the input
// tables, normalizes them, derives metrics, builds and solves the linear
// model and reads the solution back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/andresuchdata/mixopt/internal/analysis"
	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/metrics"
	"github.com/andresuchdata/mixopt/internal/model"
	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/andresuchdata/mixopt/internal/solver"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Loader supplies the raw input tables. Orders and demand history may
// come back nil when the source has none.
type Loader interface {
	LoadStock(ctx context.Context, filter normalize.StockFilter) (*normalize.Table, error)
	LoadClassMap(ctx context.Context) (*normalize.Table, error)
	LoadOrders(ctx context.Context) (*normalize.Table, error)
	LoadCompatibility(ctx context.Context) (*normalize.Table, error)
	LoadPrices(ctx context.Context) (*normalize.Table, error)
	LoadCosts(ctx context.Context) (*normalize.Table, error)
	LoadDemandHistory(ctx context.Context, granularity string) (*normalize.Table, error)
}

// Options are the run defaults. A Request may override some of them.
type Options struct {
	Normalize normalize.Options
	Demand    metrics.DemandOptions
	Model     model.Options
	Solver    solver.Params
	Analysis  analysis.Options
	// PotentialShare is the share of class stock used for the pre-solve
	// potential estimate that is logged.
	PotentialShare float64
}

// OptionsFromConfig collects the stage options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	d := cfg.Model.Demand
	return Options{
		Normalize: normalize.OptionsFromConfig(cfg),
		Demand: metrics.DemandOptions{
			Enabled:     d.Enabled,
			Granularity: d.Granularity,
			Method:      d.Method,
			Percentile:  d.Percentile,
			Factor:      d.Factor,
		},
		Model: model.Options{
			Objective:          domain.Objective(cfg.Model.Objective),
			ReallocationLimit:  cfg.Model.ReallocationLimit,
			OrderPriorityBonus: cfg.Model.OrderPriorityBonus,
		},
		Solver:         solver.ParamsFromConfig(cfg),
		Analysis:       analysis.OptionsFromConfig(cfg),
		PotentialShare: metrics.DefaultPotentialShare,
	}
}

// Request selects the stock count of a run and overrides run defaults.
// Zero values keep the defaults.
type Request struct {
	StockDate         time.Time        `json:"stock_date"`
	StockType         string           `json:"stock_type,omitempty"`
	Objective         domain.Objective `json:"objective,omitempty"`
	ReallocationLimit *float64         `json:"reallocation_limit,omitempty"`
	HonorOrders       *bool            `json:"honor_orders,omitempty"`
}

// Validate rejects overrides the model cannot express.
func (r Request) Validate() error {
	switch r.Objective {
	case "", domain.MaximizeMargin, domain.MinimizeCost:
	default:
		return fmt.Errorf("%w: unknown objective %q", domain.ErrInvalidRequest, r.Objective)
	}
	if r.ReallocationLimit != nil {
		if l := *r.ReallocationLimit; math.IsNaN(l) || l < 1 {
			return fmt.Errorf("%w: reallocation limit %v must be >= 1", domain.ErrInvalidRequest, l)
		}
	}
	return nil
}

// Key identifies the request after defaults are applied, so equal keys
// produce equal results for the same inputs.
func (e *Engine) Key(req Request) string {
	n, m := e.resolve(req)
	date := "latest"
	if !req.StockDate.IsZero() {
		date = req.StockDate.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%s|%s|%g|%t",
		date, strings.ToUpper(strings.TrimSpace(n.Stock.Type)), m.Objective, m.ReallocationLimit, n.HonorOrders)
}

// Engine executes runs. It holds no per-run state and may serve runs
// concurrently as long as the loader and solver allow it.
type Engine struct {
	loader   Loader
	solver   solver.Solver
	opts     Options
	calc     *metrics.Calculator
	analyzer *analysis.Analyzer
}

func New(loader Loader, s solver.Solver, opts Options) *Engine {
	if opts.PotentialShare <= 0 {
		opts.PotentialShare = metrics.DefaultPotentialShare
	}
	return &Engine{
		loader:   loader,
		solver:   s,
		opts:     opts,
		calc:     metrics.NewCalculator(opts.Demand),
		analyzer: analysis.NewAnalyzer(opts.Analysis),
	}
}

func (e *Engine) resolve(req Request) (normalize.Options, model.Options) {
	n, m := e.opts.Normalize, e.opts.Model
	if !req.StockDate.IsZero() {
		n.Stock.Date = req.StockDate
	}
	if req.StockType != "" {
		n.Stock.Type = req.StockType
	}
	if req.HonorOrders != nil {
		n.HonorOrders = *req.HonorOrders
	}
	if req.Objective != "" {
		m.Objective = req.Objective
	}
	if m.Objective == "" {
		m.Objective = domain.MaximizeMargin
	}
	if req.ReallocationLimit != nil {
		m.ReallocationLimit = *req.ReallocationLimit
	}
	return n, m
}

// load fetches the collaborator tables concurrently. Orders are only
// requested when orders are honored and demand history only when demand
// caps are enabled.
func (e *Engine) load(ctx context.Context, n normalize.Options) (normalize.Tables, error) {
	var t normalize.Tables
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		t.Stock, err = e.loader.LoadStock(gctx, n.Stock)
		return err
	})
	g.Go(func() (err error) {
		t.Classes, err = e.loader.LoadClassMap(gctx)
		return err
	})
	g.Go(func() (err error) {
		t.Compatibility, err = e.loader.LoadCompatibility(gctx)
		return err
	})
	g.Go(func() (err error) {
		t.Prices, err = e.loader.LoadPrices(gctx)
		return err
	})
	g.Go(func() (err error) {
		t.Costs, err = e.loader.LoadCosts(gctx)
		return err
	})
	if n.HonorOrders {
		g.Go(func() (err error) {
			t.Orders, err = e.loader.LoadOrders(gctx)
			return err
		})
	}
	if e.opts.Demand.Enabled {
		g.Go(func() (err error) {
			t.Demand, err = e.loader.LoadDemandHistory(gctx, e.opts.Demand.Granularity)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return normalize.Tables{}, fmt.Errorf("load inputs: %w", err)
	}
	return t, nil
}

// Prepare runs the loading, normalization and metrics stages and returns
// the dataset the model would be built from.
func (e *Engine) Prepare(ctx context.Context, req Request) (*domain.Dataset, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	n, _ := e.resolve(req)
	return e.prepare(ctx, n)
}

func (e *Engine) prepare(ctx context.Context, n normalize.Options) (*domain.Dataset, error) {
	start := time.Now()
	tables, err := e.load(ctx, n)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("stage", "load").Dur("elapsed", time.Since(start)).Msg("engine: inputs loaded")

	var diag domain.Diagnostics
	in, err := normalize.Decode(tables, n, &diag)
	if err != nil {
		return nil, err
	}
	ds, err := normalize.Build(in, n, &diag)
	if err != nil {
		return nil, err
	}
	ds.Diagnostics = diag

	if err := e.calc.Apply(ds, in.Demand); err != nil {
		return nil, err
	}

	log.Info().
		Str("stage", "metrics").
		Time("stock_date", ds.StockDate).
		Int("skus", len(ds.Skus)).
		Int("rows", len(ds.Rows)).
		Int("classes", len(ds.ClassStock)).
		Msg("engine: dataset prepared")
	return ds, nil
}

// Run executes one optimization. Input problems come back as
// *domain.SchemaError, *domain.ParseError or *domain.DatasetEmptyError,
// an infeasible model as *domain.InfeasibleModelError and an unusable
// solve as *domain.SolverError. No partial result is returned.
func (e *Engine) Run(ctx context.Context, req Request) (*domain.RunResult, error) {
	_, res, err := e.run(ctx, req)
	return res, err
}

// Opportunities runs req and compares, per SKU, the package the plan
// chose with the best-margin package available.
func (e *Engine) Opportunities(ctx context.Context, req Request) (*analysis.OpportunityReport, *domain.RunResult, error) {
	ds, res, err := e.run(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	report := analysis.Opportunities(ds, res.Outcomes)
	return &report, res, nil
}

func (e *Engine) run(ctx context.Context, req Request) (*domain.Dataset, *domain.RunResult, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	n, mopts := e.resolve(req)

	ds, err := e.prepare(ctx, n)
	if err != nil {
		return nil, nil, err
	}

	for _, p := range metrics.ClassPotentials(ds, e.opts.PotentialShare) {
		log.Debug().
			Str("class", p.Class).
			Int("skus", p.SkuCount).
			Float64("spread", p.Spread).
			Float64("potential", p.Potential).
			Msg("engine: class potential")
	}

	built, err := model.Build(ds, mopts)
	if err != nil {
		return nil, nil, err
	}
	stats := built.Stats()

	sol, err := e.solver.Solve(ctx, built.Model, e.opts.Solver)
	if err != nil {
		var solverErr *domain.SolverError
		if errors.As(err, &solverErr) {
			return nil, nil, err
		}
		return nil, nil, &domain.SolverError{Status: domain.StatusError, Err: err}
	}
	switch {
	case sol.Status == domain.StatusInfeasible:
		return nil, nil, &domain.InfeasibleModelError{Variables: stats.Variables, Constraints: stats.Constraints}
	case !sol.Status.Accepted():
		var cause error
		if sol.Detail != "" {
			cause = errors.New(sol.Detail)
		}
		return nil, nil, &domain.SolverError{Status: sol.Status, Err: cause}
	}

	res, err := e.analyzer.Extract(ds, built, sol, mopts.Objective)
	if err != nil {
		return nil, nil, &domain.SolverError{Status: sol.Status, Err: err}
	}
	res.StockType = n.Stock.Type
	res.CreatedAt = time.Now().UTC()

	log.Info().
		Str("stage", "solve").
		Str("objective", string(mopts.Objective)).
		Float64("reallocation_limit", mopts.ReallocationLimit).
		Bool("honor_orders", n.HonorOrders).
		Str("status", sol.Status.String()).
		Dur("elapsed", sol.Elapsed).
		Float64("gain_abs", res.Summary.GainAbs).
		Msg("engine: run finished")
	return ds, res, nil
}

// StockDates lists the counts available in the stock source for
// stockType (all types when empty), largest total first.
func (e *Engine) StockDates(ctx context.Context, stockType string) ([]domain.StockDateSummary, error) {
	t, err := e.loader.LoadStock(ctx, normalize.StockFilter{Type: stockType})
	if err != nil {
		return nil, fmt.Errorf("load stock: %w", err)
	}
	var diag domain.Diagnostics
	records, err := normalize.DecodeStock(t, e.opts.Normalize.Schemas, e.opts.Normalize.LocaleFor(t, normalize.TableStock), &diag)
	if err != nil {
		return nil, fmt.Errorf("decode stock: %w", err)
	}
	return normalize.StockDates(records, stockType), nil
}
