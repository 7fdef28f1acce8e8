package analysis

import (
	"math"
	"sort"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// significantSpread is the margin difference between packages below which
// a SKU is treated as indifferent to packaging.
const significantSpread = 0.01

// Opportunity compares the package a SKU ended up in with its best one.
type Opportunity struct {
	SKU           domain.SKU `json:"sku"`
	Class         string     `json:"class"`
	Stock         float64    `json:"stock"`
	Packages      int        `json:"packages"`
	MaxMargin     float64    `json:"max_margin"`
	MinMargin     float64    `json:"min_margin"`
	MeanMargin    float64    `json:"mean_margin"`
	Spread        float64    `json:"spread"`
	BestPackage   string     `json:"best_package"`
	ChosenPackage string     `json:"chosen_package,omitempty"`
	Potential     float64    `json:"potential"`
}

// OpportunityReport aggregates the opportunities of one run.
type OpportunityReport struct {
	StockedSkus      int           `json:"stocked_skus"`
	MultiPackageSkus int           `json:"multi_package_skus"`
	SpreadSkus       int           `json:"spread_skus"`
	Unoptimized      int           `json:"unoptimized"`
	MeanSpread       float64       `json:"mean_spread"`
	TotalPotential   float64       `json:"total_potential"`
	Items            []Opportunity `json:"items"`
}

// Opportunities lists, for every stocked SKU with eligible rows, the
// margin left on the table by the package holding most of its allocation.
// Items are sorted by potential, largest first.
func Opportunities(ds *domain.Dataset, outcomes []domain.Outcome) OpportunityReport {
	chosenQty := make(map[domain.SKU]float64)
	chosen := make(map[domain.SKU]string)
	for _, o := range outcomes {
		if o.AllocatedQty > chosenQty[o.SKU] {
			chosenQty[o.SKU] = o.AllocatedQty
			chosen[o.SKU] = o.Package
		}
	}

	bySku := ds.RowsBySku()
	rep := OpportunityReport{StockedSkus: len(ds.Skus)}
	spreadSum := 0.0
	for _, sku := range ds.SortedSkus() {
		idxs := bySku[sku]
		if len(idxs) == 0 {
			continue
		}
		op := Opportunity{
			SKU:           sku,
			Class:         ds.Skus[sku].Class,
			Stock:         ds.Skus[sku].OriginalStock,
			Packages:      len(idxs),
			MaxMargin:     math.Inf(-1),
			MinMargin:     math.Inf(1),
			ChosenPackage: chosen[sku],
		}
		margins := make(map[string]float64, len(idxs))
		sum := 0.0
		for _, i := range idxs {
			r := ds.Rows[i]
			margins[r.Package] = r.UnitMargin
			sum += r.UnitMargin
			if r.UnitMargin > op.MaxMargin {
				op.MaxMargin = r.UnitMargin
				op.BestPackage = r.Package
			}
			op.MinMargin = math.Min(op.MinMargin, r.UnitMargin)
		}
		op.MeanMargin = sum / float64(len(idxs))
		op.Spread = op.MaxMargin - op.MinMargin
		if op.ChosenPackage != "" && op.ChosenPackage != op.BestPackage {
			op.Potential = (op.MaxMargin - margins[op.ChosenPackage]) * op.Stock
		}

		if op.Packages > 1 {
			rep.MultiPackageSkus++
			spreadSum += op.Spread
		}
		if op.Spread > significantSpread {
			rep.SpreadSkus++
		}
		if op.Potential > 0 {
			rep.Unoptimized++
		}
		rep.TotalPotential += op.Potential
		rep.Items = append(rep.Items, op)
	}
	if rep.MultiPackageSkus > 0 {
		rep.MeanSpread = spreadSum / float64(rep.MultiPackageSkus)
	}
	sort.SliceStable(rep.Items, func(i, j int) bool { return rep.Items[i].Potential > rep.Items[j].Potential })
	return rep
}
