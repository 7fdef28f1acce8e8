package model

import (
	"fmt"
	"math"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Options parameterize model construction.
type Options struct {
	Objective domain.Objective
	// ReallocationLimit bounds each SKU's total allocation at this multiple
	// of its original stock. +Inf disables the bound.
	ReallocationLimit float64
	// OrderPriorityBonus is added to the value of serving an order so that
	// served orders dominate any reallocation. Negative picks it
	// automatically.
	OrderPriorityBonus float64
}

// Index maps model variables back to the dataset.
type Index struct {
	// Alloc[i] is the variable of ds.Rows[i].
	Alloc []int
	// Fulfilled holds the order variable of each SKU with served orders.
	Fulfilled map[domain.SKU]int
}

// Built is a model together with its dataset index.
type Built struct {
	*Model
	Index Index
}

// Build translates ds into a linear model. ds must already carry metrics.
func Build(ds *domain.Dataset, opts Options) (*Built, error) {
	if len(ds.Rows) == 0 {
		return nil, &domain.DatasetEmptyError{Reason: "no allocation rows to model"}
	}
	limit := opts.ReallocationLimit
	if math.IsNaN(limit) || limit < 1 {
		return nil, fmt.Errorf("%w: reallocation limit %v must be >= 1", domain.ErrInvalidRequest, limit)
	}
	objective := opts.Objective
	if objective == "" {
		objective = domain.MaximizeMargin
	}
	if objective != domain.MaximizeMargin && objective != domain.MinimizeCost {
		return nil, fmt.Errorf("%w: unknown objective %q", domain.ErrInvalidRequest, objective)
	}

	m := &Model{Name: "mix_" + string(objective)}
	idx := Index{Alloc: make([]int, len(ds.Rows)), Fulfilled: make(map[domain.SKU]int)}
	mixes := metrics.Mixes(ds)
	bySku := ds.RowsBySku()

	// Allocation variables, one per eligible row.
	for i, r := range ds.Rows {
		upper := math.Inf(1)
		if r.HasDemandCap() {
			upper = math.Max(0, r.DemandCap)
		}
		idx.Alloc[i] = len(m.Vars)
		m.Vars = append(m.Vars, Variable{
			Name:  fmt.Sprintf("alloc[%d,%s]", r.SKU, r.Package),
			Kind:  Alloc,
			Row:   i,
			SKU:   int64(r.SKU),
			Class: r.Class,
			Upper: upper,
		})
	}

	// Order fulfilment, partial allowed up to what is physically in stock.
	skus := ds.SortedSkus()
	if ds.HonorOrders {
		for _, sku := range skus {
			info := ds.Skus[sku]
			if info.OrderQty <= 0 || len(bySku[sku]) == 0 {
				continue
			}
			idx.Fulfilled[sku] = len(m.Vars)
			m.Vars = append(m.Vars, Variable{
				Name:  fmt.Sprintf("fulfilled[%d]", sku),
				Kind:  Fulfilled,
				Row:   -1,
				SKU:   int64(sku),
				Class: info.Class,
				Upper: math.Min(info.OrderQty, info.OriginalStock),
			})
		}
	}

	skuTerms := func(sku domain.SKU) []Term {
		terms := make([]Term, 0, len(bySku[sku])+1)
		for _, i := range bySku[sku] {
			terms = append(terms, Term{Var: idx.Alloc[i], Coef: 1})
		}
		if v, ok := idx.Fulfilled[sku]; ok {
			terms = append(terms, Term{Var: v, Coef: 1})
		}
		return terms
	}

	// Class capacity.
	classTerms := make(map[string][]Term)
	for _, sku := range skus {
		info := ds.Skus[sku]
		classTerms[info.Class] = append(classTerms[info.Class], skuTerms(sku)...)
	}
	for _, class := range ds.Classes() {
		terms := classTerms[class]
		if len(terms) == 0 {
			continue
		}
		m.Constraints = append(m.Constraints, Constraint{
			Name:  fmt.Sprintf("class[%s]", class),
			Kind:  ClassCapacity,
			Terms: terms,
			Sense: LE,
			RHS:   ds.ClassStock[class],
		})
	}

	// Per-SKU reallocation bound and SKU-level demand caps.
	capacity := make(map[domain.SKU]float64)
	for _, sku := range skus {
		if len(bySku[sku]) == 0 {
			continue
		}
		info := ds.Skus[sku]
		terms := skuTerms(sku)
		skuCap := math.Inf(1)
		if !math.IsInf(limit, 1) {
			skuCap = limit * info.OriginalStock
			m.Constraints = append(m.Constraints, Constraint{
				Name:  fmt.Sprintf("realloc[%d]", sku),
				Kind:  Reallocation,
				Terms: terms,
				Sense: LE,
				RHS:   skuCap,
			})
		}
		if c, ok := ds.SkuDemandCaps[sku]; ok && !math.IsInf(c, 1) && !math.IsNaN(c) {
			allocOnly := make([]Term, 0, len(bySku[sku]))
			for _, i := range bySku[sku] {
				allocOnly = append(allocOnly, Term{Var: idx.Alloc[i], Coef: 1})
			}
			m.Constraints = append(m.Constraints, Constraint{
				Name:  fmt.Sprintf("demand[%d]", sku),
				Kind:  SkuDemand,
				Terms: allocOnly,
				Sense: LE,
				RHS:   math.Max(0, c),
			})
			skuCap = math.Min(skuCap, math.Max(0, c)+fulfilledUpper(m, idx, sku))
		}
		rowsCap := fulfilledUpper(m, idx, sku)
		for _, i := range bySku[sku] {
			rowsCap += m.Vars[idx.Alloc[i]].Upper
		}
		capacity[sku] = math.Min(skuCap, rowsCap)
	}

	// Minimizing cost alone would allocate nothing, so each class must
	// place as much of its stock as its eligible SKUs can absorb.
	if objective == domain.MinimizeCost {
		achievable := make(map[string]float64)
		for sku, c := range capacity {
			achievable[ds.Skus[sku].Class] += c
		}
		for _, class := range ds.Classes() {
			terms := classTerms[class]
			if len(terms) == 0 {
				continue
			}
			rhs := math.Min(ds.ClassStock[class], achievable[class])
			if rhs <= 0 {
				continue
			}
			m.Constraints = append(m.Constraints, Constraint{
				Name:  fmt.Sprintf("coverage[%s]", class),
				Kind:  ClassCoverage,
				Terms: terms,
				Sense: GE,
				RHS:   rhs,
			})
		}
	}

	// Objective.
	coef := make([]float64, len(m.Vars))
	maxCoef := 0.0
	for i, r := range ds.Rows {
		c := r.UnitMargin
		if objective == domain.MinimizeCost {
			c = r.UnitCost
		}
		coef[idx.Alloc[i]] = c
		maxCoef = math.Max(maxCoef, math.Abs(c))
	}
	bonus := opts.OrderPriorityBonus
	if bonus < 0 {
		bonus = 1 + maxCoef
	}
	for sku, v := range idx.Fulfilled {
		if objective == domain.MinimizeCost {
			coef[v] = ds.Skus[sku].UnitCost - bonus
		} else {
			coef[v] = mixes[sku].Margin + bonus
		}
	}
	m.Objective = Objective{Direction: Maximize, Coef: coef}
	if objective == domain.MinimizeCost {
		m.Objective.Direction = Minimize
	}

	st := m.Stats()
	log.Debug().
		Str("objective", string(objective)).
		Int("variables", st.Variables).
		Int("constraints", st.Constraints).
		Int("orders", len(idx.Fulfilled)).
		Msg("model: built")

	return &Built{Model: m, Index: idx}, nil
}

func fulfilledUpper(m *Model, idx Index, sku domain.SKU) float64 {
	if v, ok := idx.Fulfilled[sku]; ok {
		return m.Vars[v].Upper
	}
	return 0
}
