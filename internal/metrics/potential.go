package metrics

import (
	"math"
	"sort"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// DefaultPotentialShare is the share of class stock assumed movable when
// estimating class potential.
const DefaultPotentialShare = 0.03

// ClassPotential is a rough, pre-solve estimate of how much margin a class
// could gain by moving volume toward its best package.
type ClassPotential struct {
	Class      string  `json:"class"`
	SkuCount   int     `json:"sku_count"`
	Stock      float64 `json:"stock"`
	MinMargin  float64 `json:"min_margin"`
	MaxMargin  float64 `json:"max_margin"`
	MeanMargin float64 `json:"mean_margin"`
	Spread     float64 `json:"spread"`
	Potential  float64 `json:"potential"`
}

// ClassPotentials returns spread x class stock x share per class, largest
// potential first.
func ClassPotentials(ds *domain.Dataset, share float64) []ClassPotential {
	type acc struct {
		skus     map[domain.SKU]bool
		min, max float64
		sum      float64
		n        int
	}
	byClass := make(map[string]*acc)
	for _, r := range ds.Rows {
		a, ok := byClass[r.Class]
		if !ok {
			a = &acc{skus: make(map[domain.SKU]bool), min: math.Inf(1), max: math.Inf(-1)}
			byClass[r.Class] = a
		}
		a.skus[r.SKU] = true
		a.min = math.Min(a.min, r.UnitMargin)
		a.max = math.Max(a.max, r.UnitMargin)
		a.sum += r.UnitMargin
		a.n++
	}

	out := make([]ClassPotential, 0, len(byClass))
	for class, a := range byClass {
		p := ClassPotential{
			Class:      class,
			SkuCount:   len(a.skus),
			Stock:      ds.ClassStock[class],
			MinMargin:  a.min,
			MaxMargin:  a.max,
			MeanMargin: a.sum / float64(a.n),
			Spread:     a.max - a.min,
		}
		p.Potential = p.Spread * p.Stock * share
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Potential != out[j].Potential {
			return out[i].Potential > out[j].Potential
		}
		return out[i].Class < out[j].Class
	})
	return out
}
