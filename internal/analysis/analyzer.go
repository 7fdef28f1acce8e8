package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/metrics"
	"github.com/andresuchdata/mixopt/internal/model"
	"github.com/andresuchdata/mixopt/internal/solver"
	"github.com/rs/zerolog/log"
)

// Options tune how solver values are read back.
type Options struct {
	// NoiseEpsilon zeroes values below NoiseEpsilon x max(1, largest stock).
	NoiseEpsilon float64
	// ConservationTolerance is the share of class stock a class may exceed
	// before a conservation warning is raised.
	ConservationTolerance float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		NoiseEpsilon:          cfg.Analysis.NoiseEpsilon,
		ConservationTolerance: cfg.Analysis.ConservationTolerance,
	}
}

// Analyzer turns a solution into outcomes and gain figures.
type Analyzer struct {
	opts Options
}

func NewAnalyzer(opts Options) *Analyzer {
	if opts.NoiseEpsilon <= 0 {
		opts.NoiseEpsilon = 1e-6
	}
	if opts.ConservationTolerance <= 0 {
		opts.ConservationTolerance = 1e-6
	}
	return &Analyzer{opts: opts}
}

// Extract reads sol back onto ds. The returned result carries outcomes,
// per-SKU changes, per-class summaries, the gain summary and the
// dataset diagnostics extended with the warnings found here. Run
// identity fields are left to the caller.
func (a *Analyzer) Extract(ds *domain.Dataset, built *model.Built, sol *solver.Solution, objective domain.Objective) (*domain.RunResult, error) {
	if sol == nil || !sol.Status.Accepted() {
		return nil, fmt.Errorf("extract: solution status %s has no values", statusOf(sol))
	}
	if len(sol.Values) != len(built.Vars) {
		return nil, fmt.Errorf("extract: %d values for %d variables", len(sol.Values), len(built.Vars))
	}

	eps := a.opts.NoiseEpsilon * stockScale(ds)
	clean := func(v float64) float64 {
		if math.Abs(v) < eps {
			return 0
		}
		return v
	}

	res := &domain.RunResult{
		Objective:   objective,
		HonorOrders: ds.HonorOrders,
		StockDate:   ds.StockDate,
		Diagnostics: ds.Diagnostics.Clone(),
	}
	mixes := metrics.Mixes(ds)
	bySku := ds.RowsBySku()

	allocated := make(map[domain.SKU]float64)
	fulfilled := make(map[domain.SKU]float64)

	// 1. Allocated rows
	kind := domain.KindTotalStock
	if ds.HonorOrders {
		kind = domain.KindSurplus
	}
	for i, r := range ds.Rows {
		qty := clean(sol.Values[built.Index.Alloc[i]])
		if qty <= 0 {
			continue
		}
		allocated[r.SKU] += qty
		res.Outcomes = append(res.Outcomes, outcome(r, kind, qty))
	}

	// 2. Served orders, spread over the SKU's packaging mix
	for sku, v := range built.Index.Fulfilled {
		qty := clean(sol.Values[v])
		if qty <= 0 {
			continue
		}
		fulfilled[sku] = qty
		for _, i := range bySku[sku] {
			r := ds.Rows[i]
			share := qty * r.MixWeight
			if share <= 0 {
				continue
			}
			res.Outcomes = append(res.Outcomes, outcome(r, domain.KindOrder, share))
		}
	}

	// 3. SKU variation against the reference stock. With orders served
	// first the reference is the surplus left after orders and served
	// volume is reported apart from the allocation.
	changes := make(map[domain.SKU]domain.SkuChange, len(ds.Skus))
	for _, sku := range ds.SortedSkus() {
		info := ds.Skus[sku]
		ch := domain.SkuChange{
			SKU:       sku,
			Class:     info.Class,
			Reference: info.OriginalStock,
			Allocated: allocated[sku] + fulfilled[sku],
			Fulfilled: fulfilled[sku],
		}
		if ds.HonorOrders {
			ch.Reference = info.SurplusStock
			ch.Allocated = allocated[sku]
		}
		ch.Variation = clean(ch.Allocated - ch.Reference)
		ch.VariationPct, ch.Anomaly = variationPct(ch.Variation, ch.Reference)
		if ch.Anomaly {
			res.Diagnostics.Warn(domain.Warning{
				Kind:    domain.WarnVariationAnomaly,
				Class:   info.Class,
				SKU:     sku,
				Value:   ch.Variation,
				Message: fmt.Sprintf("sku %d allocates %.4f units without reference stock", sku, ch.Variation),
			})
		}
		if ds.HonorOrders && info.OrderQty > 0 {
			ch.Shortfall = clean(info.OrderQty - fulfilled[sku])
			if ch.Shortfall > 0 {
				res.Diagnostics.Warn(domain.Warning{
					Kind:    domain.WarnOrderShortfall,
					Class:   info.Class,
					SKU:     sku,
					Value:   ch.Shortfall,
					Message: fmt.Sprintf("sku %d serves %.4f of %.4f ordered units", sku, fulfilled[sku], info.OrderQty),
				})
			}
		}
		changes[sku] = ch
		res.Skus = append(res.Skus, ch)
	}

	for i := range res.Outcomes {
		o := &res.Outcomes[i]
		ch := changes[o.SKU]
		o.Variation, o.VariationPct, o.VariationAnomaly = ch.Variation, ch.VariationPct, ch.Anomaly
	}
	sortOutcomes(res.Outcomes)

	// 4. Class conservation
	res.Classes = a.classSummaries(ds, res)

	// 5. Baseline and gain
	s := &res.Summary
	for _, o := range res.Outcomes {
		s.OptimizedMargin += o.Margin
		s.OptimizedCost += o.Cost
	}
	for _, sku := range ds.SortedSkus() {
		if len(bySku[sku]) == 0 {
			continue
		}
		info, mix := ds.Skus[sku], mixes[sku]
		s.BaselineMargin += info.OriginalStock * mix.Margin
		s.BaselineCost += info.OriginalStock * mix.Cost
	}
	s.GainAbs = s.OptimizedMargin - s.BaselineMargin
	if s.BaselineMargin > 0 {
		s.GainPct = s.GainAbs / s.BaselineMargin * 100
	}
	s.Objective = s.OptimizedMargin
	if objective == domain.MinimizeCost {
		s.Objective = s.OptimizedCost
	}
	s.SolverStatus = sol.Status
	s.Degraded = sol.Status == domain.StatusFeasible
	s.SolveTime = sol.Elapsed
	st := built.Stats()
	s.VariableCount, s.ConstraintCount = st.Variables, st.Constraints
	if s.Degraded {
		res.Diagnostics.Warn(domain.Warning{
			Kind:    domain.WarnDegradedSolve,
			Message: "solver returned a feasible but unproven solution: " + sol.Detail,
		})
	}

	log.Info().
		Float64("baseline_margin", s.BaselineMargin).
		Float64("optimized_margin", s.OptimizedMargin).
		Float64("gain_pct", s.GainPct).
		Int("outcomes", len(res.Outcomes)).
		Int("warnings", len(res.Diagnostics.Warnings)).
		Msg("analysis: solution extracted")

	return res, nil
}

func (a *Analyzer) classSummaries(ds *domain.Dataset, res *domain.RunResult) []domain.ClassSummary {
	byClass := make(map[string]*domain.ClassSummary)
	for _, class := range ds.Classes() {
		byClass[class] = &domain.ClassSummary{Class: class, OriginalStock: ds.ClassStock[class]}
	}
	get := func(class string) *domain.ClassSummary {
		cs, ok := byClass[class]
		if !ok {
			cs = &domain.ClassSummary{Class: class}
			byClass[class] = cs
		}
		return cs
	}
	for _, ch := range res.Skus {
		cs := get(ch.Class)
		cs.SkuCount++
		cs.AllocatedQty += ch.Allocated
		if ds.HonorOrders {
			cs.AllocatedQty += ch.Fulfilled
		}
	}
	for _, o := range res.Outcomes {
		get(o.Class).Margin += o.Margin
	}

	names := make([]string, 0, len(byClass))
	for class := range byClass {
		names = append(names, class)
	}
	sort.Strings(names)

	out := make([]domain.ClassSummary, 0, len(byClass))
	for _, class := range names {
		cs := byClass[class]
		cs.Variation = cs.AllocatedQty - cs.OriginalStock
		cs.Slack = math.Max(0, -cs.Variation)
		tol := a.opts.ConservationTolerance * math.Max(1, cs.OriginalStock)
		cs.Conserved = cs.Variation <= tol
		if !cs.Conserved {
			res.Diagnostics.Warn(domain.ConservationViolationWarning(cs.Class, cs.Variation))
			log.Warn().Str("class", cs.Class).Float64("excess", cs.Variation).Msg("analysis: class allocates above its stock")
		}
		out = append(out, *cs)
	}
	return out
}

func outcome(r domain.AllocationRow, kind domain.OutcomeKind, qty float64) domain.Outcome {
	return domain.Outcome{
		SKU:          r.SKU,
		Package:      r.Package,
		Class:        r.Class,
		Kind:         kind,
		AllocatedQty: qty,
		Price:        r.Price,
		UnitCost:     r.UnitCost,
		UnitMargin:   r.UnitMargin,
		Revenue:      qty * r.Price,
		Cost:         qty * r.UnitCost,
		Margin:       qty * r.UnitMargin,
	}
}

// variationPct is variation over reference in percent. A zero reference
// gives 0 for no variation and flags any other value as an anomaly.
func variationPct(variation, reference float64) (float64, bool) {
	if reference == 0 {
		return 0, variation != 0
	}
	return variation / reference * 100, false
}

var kindOrder = map[domain.OutcomeKind]int{
	domain.KindOrder:      0,
	domain.KindSurplus:    1,
	domain.KindTotalStock: 1,
}

func sortOutcomes(out []domain.Outcome) {
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.SKU != b.SKU {
			return a.SKU < b.SKU
		}
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		return a.Package < b.Package
	})
}

func stockScale(ds *domain.Dataset) float64 {
	scale := 1.0
	for _, info := range ds.Skus {
		scale = math.Max(scale, info.OriginalStock)
	}
	return scale
}

func statusOf(sol *solver.Solution) string {
	if sol == nil {
		return "NONE"
	}
	return sol.Status.String()
}
