package metrics

import (
	"math"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/rs/zerolog/log"
)

const tableMargin = "margin"

// Calculator derives the per-row and per-SKU quantities the model needs.
type Calculator struct {
	demand DemandOptions
}

// NewCalculator creates a new metrics calculator
func NewCalculator(demand DemandOptions) *Calculator {
	return &Calculator{demand: demand}
}

// NewCalculatorFromConfig reads the demand cap settings from cfg.
func NewCalculatorFromConfig(cfg *config.Config) *Calculator {
	d := cfg.Model.Demand
	return NewCalculator(DemandOptions{
		Enabled:     d.Enabled,
		Granularity: d.Granularity,
		Method:      d.Method,
		Percentile:  d.Percentile,
		Factor:      d.Factor,
	})
}

// UnitMargin is price minus unit cost.
func UnitMargin(price, unitCost float64) float64 {
	return price - unitCost
}

// SurplusStock is the stock left once orders are served. Without order
// priority the whole stock is surplus.
func SurplusStock(original, order float64, honorOrders bool) float64 {
	if !honorOrders {
		return original
	}
	return math.Max(0, original-order)
}

// Apply computes margins, drops rows that do not make money, fills the
// surplus stock, mix weights and demand caps of ds. It fails with
// *domain.DatasetEmptyError when no row is left.
func (c *Calculator) Apply(ds *domain.Dataset, history []domain.DemandRecord) error {
	// 1. Unit margin and eligibility
	kept := ds.Rows[:0]
	dropped := 0
	for _, r := range ds.Rows {
		r.UnitMargin = UnitMargin(r.Price, r.UnitCost)
		if r.UnitMargin <= 0 {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	ds.Rows = kept
	ds.Diagnostics.Drop(tableMargin, dropped)
	if len(ds.Rows) == 0 {
		return &domain.DatasetEmptyError{Reason: "no compatible pair has a positive unit margin"}
	}

	// 2. Surplus stock
	for _, info := range ds.Skus {
		info.SurplusStock = SurplusStock(info.OriginalStock, info.OrderQty, ds.HonorOrders)
	}

	// 3. Packaging mix weights
	assignMixWeights(ds)

	// 4. Demand caps
	if c.demand.Enabled && len(history) > 0 {
		rowCaps, skuCaps := DemandCaps(history, c.demand)
		for i := range ds.Rows {
			r := &ds.Rows[i]
			if v, ok := rowCaps[RowKey{SKU: r.SKU, Package: r.Package}]; ok {
				r.DemandCap = v
			}
		}
		for sku, v := range skuCaps {
			if _, ok := ds.Skus[sku]; ok {
				ds.SkuDemandCaps[sku] = v
			}
		}
		log.Debug().Int("row_caps", len(rowCaps)).Int("sku_caps", len(skuCaps)).Msg("metrics: demand caps applied")
	}

	return nil
}

// assignMixWeights spreads each SKU over its eligible rows in proportion
// to historical volume, or evenly when no volume is known.
func assignMixWeights(ds *domain.Dataset) {
	for _, idxs := range ds.RowsBySku() {
		total := 0.0
		for _, i := range idxs {
			total += ds.Rows[i].Volume
		}
		for _, i := range idxs {
			if total > 0 {
				ds.Rows[i].MixWeight = ds.Rows[i].Volume / total
			} else {
				ds.Rows[i].MixWeight = 1 / float64(len(idxs))
			}
		}
	}
}

// Mix is the packaging-mix average of one SKU's eligible rows.
type Mix struct {
	Price  float64
	Cost   float64
	Margin float64
}

// Mixes returns the weighted mix of every SKU that has eligible rows.
func Mixes(ds *domain.Dataset) map[domain.SKU]Mix {
	out := make(map[domain.SKU]Mix)
	for sku, idxs := range ds.RowsBySku() {
		var m Mix
		for _, i := range idxs {
			r := ds.Rows[i]
			m.Price += r.MixWeight * r.Price
			m.Cost += r.MixWeight * r.UnitCost
			m.Margin += r.MixWeight * r.UnitMargin
		}
		out[sku] = m
	}
	return out
}
