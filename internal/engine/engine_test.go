package engine

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/model"
	"github.com/andresuchdata/mixopt/internal/normalize"
	"github.com/andresuchdata/mixopt/internal/solver"
	"github.com/andresuchdata/mixopt/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const box = "CX 12 BJ 30 UN"

// eggTables is one class of three SKUs with stocks 1000/500/300 and unit
// margins 0.5/0.3/0.2, all sold in the same box. SKU 3 has 400 units
// ordered.
func eggTables() normalize.Tables {
	return normalize.Tables{
		Stock: normalize.NewTable(normalize.TableStock,
			[]string{"DATA DA CONTAGEM", "TIPO DE ESTOQUE", "ITEM", "QUANTIDADE"},
			[]string{"15/01/2024", "DISPONIVEL PARA VENDA", "1", "1000"},
			[]string{"15/01/2024", "DISPONIVEL PARA VENDA", "2", "500"},
			[]string{"15/01/2024", "DISPONIVEL PARA VENDA", "3", "300"},
			[]string{"14/01/2024", "DISPONIVEL PARA VENDA", "1", "10"},
		),
		Classes: normalize.NewTable(normalize.TableClasses, []string{"ITEM", "CLASSE PRODUTO"},
			[]string{"1", "OVOS"}, []string{"2", "OVOS"}, []string{"3", "OVOS"},
		),
		Orders: normalize.NewTable(normalize.TableOrders, []string{"ITEM", "QUANTIDADE"},
			[]string{"3", "400"},
		),
		Compatibility: normalize.NewTable(normalize.TableCompatibility, []string{"item", "embalagem"},
			[]string{"1", box}, []string{"2", box}, []string{"3", box},
		),
		Prices: normalize.NewTable(normalize.TablePrices, []string{"item", "embalagem", "preco"},
			[]string{"1", box, "2.5"}, []string{"2", box, "1.3"}, []string{"3", box, "3.2"},
		),
		Costs: normalize.NewTable(normalize.TableCosts, []string{"Item - Descrição", "Custo YTD"},
			[]string{"1 - OVO BRANCO", "R$ 2,00"},
			[]string{"2 - OVO VERMELHO", "R$ 1,00"},
			[]string{"3 - OVO CAIPIRA", "R$ 3,00"},
		),
	}
}

type countingSolver struct {
	inner solver.Solver
	calls atomic.Int32
}

func (c *countingSolver) Solve(ctx context.Context, m *model.Model, p solver.Params) (*solver.Solution, error) {
	c.calls.Add(1)
	return c.inner.Solve(ctx, m, p)
}

type stubSolver struct {
	sol *solver.Solution
	err error
}

func (s stubSolver) Solve(context.Context, *model.Model, solver.Params) (*solver.Solution, error) {
	return s.sol, s.err
}

func newEngine(t *testing.T, tables normalize.Tables) (*Engine, *source.MemoryLoader, *countingSolver) {
	t.Helper()
	loader := source.NewMemoryLoader(tables)
	s := &countingSolver{inner: solver.NewSimplex()}
	return New(loader, s, OptionsFromConfig(config.Defaults())), loader, s
}

func limit(l float64) *float64 { return &l }

func flag(b bool) *bool { return &b }

func allocated(res *domain.RunResult) map[domain.SKU]float64 {
	out := make(map[domain.SKU]float64)
	for _, ch := range res.Skus {
		out[ch.SKU] = ch.Allocated
	}
	return out
}

func TestRunScenarios(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		limit  float64
		margin float64
		want   map[domain.SKU]float64
	}{
		{"unlimited reallocation", math.Inf(1), 900, map[domain.SKU]float64{1: 1800, 2: 0, 3: 0}},
		{"limit 2", 2, 900, map[domain.SKU]float64{1: 1800, 2: 0, 3: 0}},
		{"limit 1.2", 1.2, 780, map[domain.SKU]float64{1: 1200, 2: 600, 3: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, s := newEngine(t, eggTables())
			res, err := e.Run(ctx, Request{ReallocationLimit: limit(tt.limit)})
			require.NoError(t, err)

			assert.InDelta(t, tt.margin, res.Summary.OptimizedMargin, 1e-6)
			assert.InDelta(t, 710, res.Summary.BaselineMargin, 1e-6)
			for sku, qty := range tt.want {
				assert.InDelta(t, qty, allocated(res)[sku], 1e-6, "sku %d", sku)
			}
			assert.Equal(t, domain.StatusOptimal, res.Summary.SolverStatus)
			assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), res.StockDate)
			assert.Equal(t, "DISPONIVEL PARA VENDA", res.StockType)
			assert.Equal(t, domain.MaximizeMargin, res.Objective)
			assert.False(t, res.CreatedAt.IsZero())
			assert.Equal(t, int32(1), s.calls.Load())
		})
	}
}

func TestRunHonorsOrders(t *testing.T) {
	e, loader, _ := newEngine(t, eggTables())
	res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(math.Inf(1)), HonorOrders: flag(true)})
	require.NoError(t, err)
	assert.Equal(t, 1, loader.Calls(normalize.TableOrders))

	var order, surplus float64
	for _, o := range res.Outcomes {
		switch o.Kind {
		case domain.KindOrder:
			assert.Equal(t, domain.SKU(3), o.SKU)
			order += o.AllocatedQty
		case domain.KindSurplus:
			surplus += o.AllocatedQty
		default:
			t.Fatalf("unexpected outcome kind %s", o.Kind)
		}
	}
	assert.InDelta(t, 300, order, 1e-6)
	assert.InDelta(t, 1500, surplus, 1e-6)

	changes := make(map[domain.SKU]domain.SkuChange)
	for _, ch := range res.Skus {
		changes[ch.SKU] = ch
	}
	sku1, sku3 := changes[1], changes[3]
	assert.InDelta(t, 1000, sku1.Reference, 1e-6)
	assert.InDelta(t, 1500, sku1.Allocated, 1e-6)
	assert.InDelta(t, 50, sku1.VariationPct, 1e-6)
	assert.InDelta(t, 0, sku3.Reference, 1e-6, "stock below the order leaves no surplus")
	assert.InDelta(t, 0, sku3.Allocated, 1e-6)
	assert.InDelta(t, 300, sku3.Fulfilled, 1e-6)
	assert.InDelta(t, 100, sku3.Shortfall, 1e-6)
	assert.False(t, sku3.Anomaly)
	assert.Equal(t, 1, res.Diagnostics.Count(domain.WarnOrderShortfall))
	assert.InDelta(t, 810, res.Summary.OptimizedMargin, 1e-6)
}

func TestRunDemandCapShiftsVolume(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{
			name:   "sku cap",
			header: []string{"ITEM", "DATA", "QUANTIDADE"},
			rows: [][]string{
				{"1", "05/11/2023", "600"},
				{"1", "20/11/2023", "400"},
				{"1", "12/12/2023", "900"},
				{"2", "12/12/2023", "5000"},
			},
		},
		{
			name:   "package cap",
			header: []string{"ITEM", "EMBALAGEM", "DATA", "QUANTIDADE"},
			rows: [][]string{
				{"1", box, "05/11/2023", "1000"},
				{"1", box, "12/12/2023", "900"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tables := eggTables()
			tables.Demand = normalize.NewTable(normalize.TableDemand, tt.header, tt.rows...)
			opts := OptionsFromConfig(config.Defaults())
			opts.Demand.Enabled = true
			loader := source.NewMemoryLoader(tables)
			e := New(loader, solver.NewSimplex(), opts)

			res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(math.Inf(1))})
			require.NoError(t, err)
			assert.Equal(t, 1, loader.Calls(normalize.TableDemand))

			// Best month 1000 x factor 1.2 caps SKU 1 at 1200; the rest
			// moves to the next best margin.
			got := allocated(res)
			assert.InDelta(t, 1200, got[1], 1e-6)
			assert.InDelta(t, 600, got[2], 1e-6)
			assert.InDelta(t, 0, got[3], 1e-6)
			assert.InDelta(t, 780, res.Summary.OptimizedMargin, 1e-6)
			assert.Equal(t, domain.StatusOptimal, res.Summary.SolverStatus)
		})
	}
}

func TestRunSkipsOptionalTables(t *testing.T) {
	e, loader, _ := newEngine(t, eggTables())
	_, err := e.Run(context.Background(), Request{HonorOrders: flag(false)})
	require.NoError(t, err)
	assert.Zero(t, loader.Calls(normalize.TableOrders))
	assert.Zero(t, loader.Calls(normalize.TableDemand))
	assert.Equal(t, 1, loader.Calls(normalize.TableStock))
}

func TestRunEmptyDatasetSkipsSolver(t *testing.T) {
	tables := eggTables()
	tables.Prices = normalize.NewTable(normalize.TablePrices, []string{"item", "embalagem", "preco"},
		[]string{"1", box, "1.5"}, []string{"2", box, "0.9"}, []string{"3", box, "3.0"},
	)
	e, _, s := newEngine(t, tables)

	res, err := e.Run(context.Background(), Request{})
	require.Error(t, err)
	assert.Nil(t, res)

	var emptyErr *domain.DatasetEmptyError
	assert.True(t, errors.As(err, &emptyErr))
	assert.True(t, domain.IsInputError(err))
	assert.Zero(t, s.calls.Load())
}

func TestRunMissingTable(t *testing.T) {
	tables := eggTables()
	tables.Prices = nil
	e, _, s := newEngine(t, tables)

	_, err := e.Run(context.Background(), Request{})
	assert.ErrorIs(t, err, source.ErrTableMissing)
	assert.Zero(t, s.calls.Load())
}

func TestRunInvalidRequest(t *testing.T) {
	e, loader, _ := newEngine(t, eggTables())

	_, err := e.Run(context.Background(), Request{ReallocationLimit: limit(0.5)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = e.Run(context.Background(), Request{Objective: "maximize_volume"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Zero(t, loader.Calls(normalize.TableStock))
}

func TestRunSolverOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		s     stubSolver
		check func(t *testing.T, err error)
	}{
		{
			name: "infeasible",
			s:    stubSolver{sol: &solver.Solution{Status: domain.StatusInfeasible}},
			check: func(t *testing.T, err error) {
				var infeasible *domain.InfeasibleModelError
				require.True(t, errors.As(err, &infeasible))
				assert.Equal(t, 3, infeasible.Variables)
				assert.Equal(t, 4, infeasible.Constraints)
			},
		},
		{
			name: "unbounded",
			s:    stubSolver{sol: &solver.Solution{Status: domain.StatusUnbounded}},
			check: func(t *testing.T, err error) {
				var solverErr *domain.SolverError
				require.True(t, errors.As(err, &solverErr))
				assert.Equal(t, domain.StatusUnbounded, solverErr.Status)
			},
		},
		{
			name: "solver failure",
			s:    stubSolver{err: context.DeadlineExceeded},
			check: func(t *testing.T, err error) {
				var solverErr *domain.SolverError
				require.True(t, errors.As(err, &solverErr))
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				assert.False(t, domain.IsInputError(err))
			},
		},
		{
			name: "wrong value count",
			s:    stubSolver{sol: &solver.Solution{Status: domain.StatusOptimal, Values: []float64{1}}},
			check: func(t *testing.T, err error) {
				var solverErr *domain.SolverError
				assert.True(t, errors.As(err, &solverErr))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(source.NewMemoryLoader(eggTables()), tt.s, OptionsFromConfig(config.Defaults()))
			res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(1.2)})
			require.Error(t, err)
			assert.Nil(t, res)
			tt.check(t, err)
		})
	}
}

func TestRunConservesClassStock(t *testing.T) {
	for _, l := range []float64{1, 1.2, 2, math.Inf(1)} {
		e, _, _ := newEngine(t, eggTables())
		res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(l), HonorOrders: flag(true)})
		require.NoError(t, err)

		for _, c := range res.Classes {
			assert.True(t, c.Conserved, "class %s at limit %v", c.Class, l)
			assert.LessOrEqual(t, c.AllocatedQty, c.OriginalStock+1e-6)
		}
		assert.Zero(t, res.Diagnostics.Count(domain.WarnConservationViolation))
	}
}

func TestRunRespectsReallocationBound(t *testing.T) {
	for _, l := range []float64{1, 1.2, 1.5} {
		e, _, _ := newEngine(t, eggTables())
		res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(l)})
		require.NoError(t, err)
		for _, ch := range res.Skus {
			assert.LessOrEqual(t, ch.Allocated, l*ch.Reference+1e-6, "sku %d at limit %v", ch.SKU, l)
		}
	}
}

func TestRunIgnoresUnprofitableRows(t *testing.T) {
	tables := eggTables()
	tables.Stock.Rows = append(tables.Stock.Rows, []string{"15/01/2024", "DISPONIVEL PARA VENDA", "4", "200"})
	tables.Classes.Rows = append(tables.Classes.Rows, []string{"4", "OVOS"})
	tables.Compatibility.Rows = append(tables.Compatibility.Rows, []string{"4", box})
	tables.Prices.Rows = append(tables.Prices.Rows, []string{"4", box, "1.0"})
	tables.Costs.Rows = append(tables.Costs.Rows, []string{"4 - OVO JUMBO", "R$ 2,00"})

	e, _, _ := newEngine(t, tables)
	res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(math.Inf(1))})
	require.NoError(t, err)

	for _, o := range res.Outcomes {
		assert.NotEqual(t, domain.SKU(4), o.SKU)
		assert.Greater(t, o.UnitMargin, 0.0)
	}
	// SKU 4 still counts toward class stock, so SKU 1 absorbs it.
	assert.InDelta(t, 2000, allocated(res)[1], 1e-6)
	assert.InDelta(t, 1000, res.Summary.OptimizedMargin, 1e-6)
	for _, ch := range res.Skus {
		if ch.SKU == 4 {
			assert.Zero(t, ch.Allocated)
			assert.InDelta(t, -200, ch.Variation, 1e-6)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e, _, _ := newEngine(t, eggTables())
	req := Request{ReallocationLimit: limit(1.2), HonorOrders: flag(true)}

	first, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Outcomes, second.Outcomes)
	assert.Equal(t, first.Skus, second.Skus)
	assert.Equal(t, first.Classes, second.Classes)
	assert.Equal(t, first.Diagnostics, second.Diagnostics)
	assert.Equal(t, first.Summary.OptimizedMargin, second.Summary.OptimizedMargin)
	assert.Equal(t, first.Summary.BaselineMargin, second.Summary.BaselineMargin)
	assert.Equal(t, e.Key(req), e.Key(req))
}

func TestRunMarginGrowsWithLimit(t *testing.T) {
	prev := math.Inf(-1)
	for _, l := range []float64{1, 1.1, 1.2, 1.5, 2, math.Inf(1)} {
		e, _, _ := newEngine(t, eggTables())
		res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(l)})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Summary.OptimizedMargin, prev-1e-6, "limit %v", l)
		prev = res.Summary.OptimizedMargin
	}
}

func TestRunWithoutReallocationKeepsBaseline(t *testing.T) {
	e, _, _ := newEngine(t, eggTables())
	res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(1)})
	require.NoError(t, err)
	assert.InDelta(t, res.Summary.BaselineMargin, res.Summary.OptimizedMargin, 1e-6)
	assert.InDelta(t, 0, res.Summary.GainAbs, 1e-6)
}

func TestRunMinimizeCost(t *testing.T) {
	e, _, _ := newEngine(t, eggTables())
	res, err := e.Run(context.Background(), Request{Objective: domain.MinimizeCost, ReallocationLimit: limit(1.2)})
	require.NoError(t, err)

	assert.Equal(t, domain.MinimizeCost, res.Objective)
	got := allocated(res)
	assert.InDelta(t, 1200, got[1], 1e-6)
	assert.InDelta(t, 600, got[2], 1e-6)
	assert.InDelta(t, 0, got[3], 1e-6)
	assert.InDelta(t, 3000, res.Summary.OptimizedCost, 1e-6)
}

func TestRunConcurrentRequests(t *testing.T) {
	e, _, s := newEngine(t, eggTables())
	limits := []float64{1.2, 2, 1.2, 2}
	results := make([]float64, len(limits))
	errs := make(chan error, len(limits))

	done := make(chan struct{})
	for i, l := range limits {
		go func(i int, l float64) {
			defer func() { done <- struct{}{} }()
			res, err := e.Run(context.Background(), Request{ReallocationLimit: limit(l)})
			if err != nil {
				errs <- err
				return
			}
			results[i] = res.Summary.OptimizedMargin
		}(i, l)
	}
	for range limits {
		<-done
	}
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.InDelta(t, 780, results[0], 1e-6)
	assert.InDelta(t, 900, results[1], 1e-6)
	assert.InDelta(t, 780, results[2], 1e-6)
	assert.InDelta(t, 900, results[3], 1e-6)
	assert.Equal(t, int32(len(limits)), s.calls.Load())
}

func TestPrepare(t *testing.T) {
	e, _, s := newEngine(t, eggTables())
	ds, err := e.Prepare(context.Background(), Request{StockDate: time.Date(2024, 1, 14, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	assert.Len(t, ds.Skus, 1)
	assert.Equal(t, 10.0, ds.Skus[1].OriginalStock)
	require.Len(t, ds.Rows, 1)
	assert.InDelta(t, 0.5, ds.Rows[0].UnitMargin, 1e-9)
	assert.Zero(t, s.calls.Load())
}

func TestStockDates(t *testing.T) {
	e, _, _ := newEngine(t, eggTables())
	dates, err := e.StockDates(context.Background(), "DISPONIVEL PARA VENDA")
	require.NoError(t, err)

	require.Len(t, dates, 2)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), dates[0].Date)
	assert.Equal(t, 3, dates[0].SkuCount)
	assert.Equal(t, 1800.0, dates[0].TotalQuantity)
	assert.Equal(t, 10.0, dates[1].TotalQuantity)
}

func TestOpportunities(t *testing.T) {
	e, _, _ := newEngine(t, eggTables())
	report, res, err := e.Opportunities(context.Background(), Request{ReallocationLimit: limit(1.2)})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 3, report.StockedSkus)
	assert.Zero(t, report.MultiPackageSkus)
}
