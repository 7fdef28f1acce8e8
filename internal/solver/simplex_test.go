package solver

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eggClass() *domain.Dataset {
	inf := math.Inf(1)
	return &domain.Dataset{
		Skus: map[domain.SKU]*domain.SkuInfo{
			1: {SKU: 1, Class: "OVOS", OriginalStock: 1000, SurplusStock: 1000, UnitCost: 2, HasCost: true},
			2: {SKU: 2, Class: "OVOS", OriginalStock: 500, SurplusStock: 500, UnitCost: 1, HasCost: true},
			3: {SKU: 3, Class: "OVOS", OriginalStock: 300, SurplusStock: 300, OrderQty: 400, UnitCost: 3, HasCost: true},
		},
		ClassStock:    map[string]float64{"OVOS": 1800},
		SkuDemandCaps: map[domain.SKU]float64{},
		Rows: []domain.AllocationRow{
			{SKU: 1, Package: "P", Class: "OVOS", Price: 2.5, UnitCost: 2, UnitMargin: 0.5, MixWeight: 1, DemandCap: inf},
			{SKU: 2, Package: "P", Class: "OVOS", Price: 1.3, UnitCost: 1, UnitMargin: 0.3, MixWeight: 1, DemandCap: inf},
			{SKU: 3, Package: "P", Class: "OVOS", Price: 3.2, UnitCost: 3, UnitMargin: 0.2, MixWeight: 1, DemandCap: inf},
		},
	}
}

func build(t *testing.T, ds *domain.Dataset, opts model.Options) *model.Built {
	t.Helper()
	b, err := model.Build(ds, opts)
	require.NoError(t, err)
	return b
}

func TestSimplexReallocationScenarios(t *testing.T) {
	tests := []struct {
		name   string
		limit  float64
		want   float64
		values []float64
	}{
		{name: "unlimited", limit: math.Inf(1), want: 900, values: []float64{1800, 0, 0}},
		{name: "non-binding limit", limit: 2, want: 900, values: []float64{1800, 0, 0}},
		{name: "binding limit", limit: 1.2, want: 780, values: []float64{1200, 600, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := build(t, eggClass(), model.Options{Objective: domain.MaximizeMargin, ReallocationLimit: tt.limit})
			sol, err := NewSimplex().Solve(context.Background(), b.Model, Params{TimeLimit: 10 * time.Second})
			require.NoError(t, err)
			assert.Equal(t, domain.StatusOptimal, sol.Status)
			assert.InDelta(t, tt.want, sol.Objective, 1e-6)
			assert.InDeltaSlice(t, tt.values, sol.Values, 1e-6)
		})
	}
}

func TestSimplexServesOrdersFirst(t *testing.T) {
	ds := eggClass()
	ds.HonorOrders = true
	b := build(t, ds, model.Options{ReallocationLimit: math.Inf(1), OrderPriorityBonus: -1})

	sol, err := NewSimplex().Solve(context.Background(), b.Model, Params{})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOptimal, sol.Status)

	assert.InDelta(t, 300, sol.Values[b.Index.Fulfilled[3]], 1e-6)
	assert.InDelta(t, 1500, sol.Values[b.Index.Alloc[0]], 1e-6)
	assert.InDelta(t, 0, sol.Values[b.Index.Alloc[2]], 1e-6)
}

func TestSimplexMinimizeCost(t *testing.T) {
	b := build(t, eggClass(), model.Options{Objective: domain.MinimizeCost, ReallocationLimit: 1.2})

	sol, err := NewSimplex().Solve(context.Background(), b.Model, Params{})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOptimal, sol.Status)

	assert.InDeltaSlice(t, []float64{1200, 600, 0}, sol.Values, 1e-6)
	assert.InDelta(t, 3000, sol.Objective, 1e-6)
}

func TestSimplexLowerBounds(t *testing.T) {
	m := &model.Model{
		Vars: []model.Variable{
			{Name: "x", Lower: 10, Upper: 20},
			{Name: "y", Lower: 5, Upper: math.Inf(1)},
		},
		Constraints: []model.Constraint{
			{Name: "sum", Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}}, Sense: model.LE, RHS: 30},
		},
		Objective: model.Objective{Direction: model.Maximize, Coef: []float64{2, 1}},
	}

	sol, err := NewSimplex().Solve(context.Background(), m, Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOptimal, sol.Status)
	assert.InDeltaSlice(t, []float64{20, 10}, sol.Values, 1e-9)
	assert.InDelta(t, 50, sol.Objective, 1e-9)
}

func TestSimplexInfeasible(t *testing.T) {
	m := &model.Model{
		Vars: []model.Variable{{Name: "x", Upper: math.Inf(1)}},
		Constraints: []model.Constraint{
			{Name: "low", Terms: []model.Term{{Var: 0, Coef: 1}}, Sense: model.LE, RHS: 5},
			{Name: "high", Terms: []model.Term{{Var: 0, Coef: 1}}, Sense: model.GE, RHS: 10},
		},
		Objective: model.Objective{Direction: model.Minimize, Coef: []float64{1}},
	}

	sol, err := NewSimplex().Solve(context.Background(), m, Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInfeasible, sol.Status)
	assert.Nil(t, sol.Values)
}

func TestSimplexUnconstrainedVariable(t *testing.T) {
	m := &model.Model{
		Vars: []model.Variable{
			{Name: "x", Upper: 10},
			{Name: "free", Upper: math.Inf(1)},
		},
		Objective: model.Objective{Direction: model.Maximize, Coef: []float64{1, 1}},
	}
	sol, err := NewSimplex().Solve(context.Background(), m, Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnbounded, sol.Status)

	m.Objective.Coef = []float64{1, 0}
	sol, err = NewSimplex().Solve(context.Background(), m, Params{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOptimal, sol.Status)
	assert.InDeltaSlice(t, []float64{10, 0}, sol.Values, 1e-9)
}

func TestSimplexCanceled(t *testing.T) {
	b := build(t, eggClass(), model.Options{ReallocationLimit: 2})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimplex().Solve(ctx, b.Model, Params{TimeLimit: time.Second})
	var solverErr *domain.SolverError
	require.ErrorAs(t, err, &solverErr)
	assert.Equal(t, domain.StatusError, solverErr.Status)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSimplexIsStateless(t *testing.T) {
	s := NewSimplex()
	results := make(chan float64, 8)
	for i := 0; i < 8; i++ {
		limit := 1.2
		if i%2 == 0 {
			limit = math.Inf(1)
		}
		go func(limit float64) {
			b, err := model.Build(eggClass(), model.Options{ReallocationLimit: limit})
			if err != nil {
				results <- -1
				return
			}
			sol, err := s.Solve(context.Background(), b.Model, Params{})
			if err != nil {
				results <- -1
				return
			}
			results <- sol.Objective
		}(limit)
	}

	counts := map[float64]int{}
	for i := 0; i < 8; i++ {
		counts[math.Round(<-results)]++
	}
	assert.Equal(t, map[float64]int{900: 4, 780: 4}, counts)
}

func TestSimplexIterationLimitKeepsFeasiblePlan(t *testing.T) {
	b := build(t, eggClass(), model.Options{ReallocationLimit: 1.2})
	s := &Simplex{MaxIterations: 1}

	sol, err := s.Solve(context.Background(), b.Model, Params{TimeLimit: 10 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFeasible, sol.Status)
	assert.True(t, sol.Status.Accepted())
	assert.True(t, strings.Contains(sol.Detail, "iteration limit"), sol.Detail)
	require.NoError(t, b.Check(sol.Values, 1e-6))
	assert.Less(t, sol.Objective, 780.0)
}

// retailDataset builds classes of SKUs with four packages each. Every row
// carries a demand cap and SKUs with index divisible by five carry a
// SKU-level cap as well.
func retailDataset(classes, skusPerClass int) *domain.Dataset {
	ds := &domain.Dataset{
		Skus:          make(map[domain.SKU]*domain.SkuInfo),
		ClassStock:    make(map[string]float64),
		SkuDemandCaps: make(map[domain.SKU]float64),
	}
	for c := 0; c < classes; c++ {
		class := fmt.Sprintf("C%02d", c)
		for k := 0; k < skusPerClass; k++ {
			sku := domain.SKU(c*1000 + k + 1)
			stock := float64(100 + (k*37)%250)
			ds.Skus[sku] = &domain.SkuInfo{SKU: sku, Class: class, OriginalStock: stock, SurplusStock: stock, UnitCost: 1, HasCost: true}
			ds.ClassStock[class] += stock
			if k%5 == 0 {
				ds.SkuDemandCaps[sku] = 1.5 * stock
			}
			for p := 0; p < 4; p++ {
				margin := 0.1 + float64((c*7+k*13+p*5)%97)/100
				ds.Rows = append(ds.Rows, domain.AllocationRow{
					SKU:        sku,
					Package:    fmt.Sprintf("P%d", p),
					Class:      class,
					Price:      1 + margin,
					UnitCost:   1,
					UnitMargin: margin,
					MixWeight:  0.25,
					DemandCap:  float64(150 + ((k+p)*29)%200),
				})
			}
		}
	}
	return ds
}

// greedyMargin fills rows by descending margin. Row, SKU and class caps
// nest, so the greedy fill is optimal.
func greedyMargin(ds *domain.Dataset, limit float64) float64 {
	byClass := make(map[string][]domain.AllocationRow)
	for _, r := range ds.Rows {
		byClass[r.Class] = append(byClass[r.Class], r)
	}
	total := 0.0
	for class, rows := range byClass {
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].UnitMargin > rows[j].UnitMargin })
		left := ds.ClassStock[class]
		skuLeft := make(map[domain.SKU]float64)
		for _, r := range rows {
			if _, ok := skuLeft[r.SKU]; !ok {
				capacity := limit * ds.Skus[r.SKU].OriginalStock
				if c, ok := ds.SkuDemandCaps[r.SKU]; ok {
					capacity = math.Min(capacity, c)
				}
				skuLeft[r.SKU] = capacity
			}
			q := math.Min(r.DemandCap, math.Min(skuLeft[r.SKU], left))
			if q <= 0 {
				continue
			}
			skuLeft[r.SKU] -= q
			left -= q
			total += q * r.UnitMargin
		}
	}
	return total
}

func TestSimplexSolvesCappedRetailModel(t *testing.T) {
	for _, limit := range []float64{2, math.Inf(1)} {
		t.Run(fmt.Sprintf("limit %v", limit), func(t *testing.T) {
			ds := retailDataset(20, 25)
			b := build(t, ds, model.Options{ReallocationLimit: limit})
			require.Len(t, b.Vars, 2000)

			sol, err := NewSimplex().Solve(context.Background(), b.Model, Params{TimeLimit: 30 * time.Second})
			require.NoError(t, err)
			require.Equal(t, domain.StatusOptimal, sol.Status, sol.Detail)

			want := greedyMargin(ds, limit)
			assert.InDelta(t, want, sol.Objective, 1e-6*want)
			require.NoError(t, b.Check(sol.Values, 1e-4))
		})
	}
}

func TestSimplexStopsAtDeadline(t *testing.T) {
	b := build(t, retailDataset(40, 50), model.Options{ReallocationLimit: 2})
	before := runtime.NumGoroutine()

	start := time.Now()
	sol, err := NewSimplex().Solve(context.Background(), b.Model, Params{TimeLimit: 5 * time.Millisecond})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.True(t, sol.Status.Accepted())
	require.NoError(t, b.Check(sol.Values, 1e-4))
	assert.Less(t, elapsed, 2*time.Second)
	assert.Eventually(t, func() bool { return runtime.NumGoroutine() <= before }, time.Second, 10*time.Millisecond)
}
