package normalize

import (
	"math"
	"sort"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// KnownPackages collects the distinct packages named by links and prices,
// sorted by name.
func KnownPackages(links []domain.Link, prices []domain.PriceEntry) []domain.Package {
	units := make(map[string]int)
	for _, l := range links {
		if _, ok := units[l.Package]; !ok || units[l.Package] == 0 {
			units[l.Package] = l.Units
		}
	}
	for _, p := range prices {
		if _, ok := units[p.Package]; !ok {
			units[p.Package] = PackageUnits(p.Package)
		}
	}

	out := make([]domain.Package, 0, len(units))
	for name, u := range units {
		out = append(out, domain.Package{Name: name, Units: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ExpandCompatibility adds technical links: every known package whose unit
// count lies within tolerance (a fraction) of the unit count of the SKU's
// first historical package. Historical links are kept as they are. A
// tolerance of zero returns links unchanged.
func ExpandCompatibility(links []domain.Link, known []domain.Package, tolerance float64) []domain.Link {
	if tolerance <= 0 || len(links) == 0 {
		return links
	}

	type pair struct {
		sku domain.SKU
		pkg string
	}
	linked := make(map[pair]bool, len(links))
	reference := make(map[domain.SKU]int)
	var skus []domain.SKU
	for _, l := range links {
		linked[pair{l.SKU, l.Package}] = true
		if _, ok := reference[l.SKU]; !ok {
			skus = append(skus, l.SKU)
			reference[l.SKU] = 0
		}
		if reference[l.SKU] == 0 && l.Units > 0 {
			reference[l.SKU] = l.Units
		}
	}

	out := append([]domain.Link(nil), links...)
	for _, sku := range skus {
		ref := float64(reference[sku])
		if ref <= 0 {
			continue
		}
		for _, p := range known {
			if p.Units <= 0 || linked[pair{sku, p.Name}] {
				continue
			}
			if math.Abs(float64(p.Units)-ref) <= tolerance*ref {
				out = append(out, domain.Link{SKU: sku, Package: p.Name, Units: p.Units, Source: "tecnica"})
				linked[pair{sku, p.Name}] = true
			}
		}
	}
	return out
}
