package metrics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// DemandOptions controls how historical sales become allocation caps.
type DemandOptions struct {
	Enabled bool
	// Granularity buckets history by month (M), week (S or W) or day (D).
	Granularity string
	// Method is "max" (or "maximo") or "percentile".
	Method     string
	Percentile float64
	// Factor expands the statistic, 1.2 allows 20% above it.
	Factor float64
}

// RowKey identifies an allocation row.
type RowKey struct {
	SKU     domain.SKU
	Package string
}

// BucketStart returns the first day of the period containing t.
func BucketStart(t time.Time, granularity string) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch strings.ToUpper(granularity) {
	case "M":
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	case "S", "W":
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default:
		return day
	}
}

// DemandCaps sums history per period and turns each key's period totals
// into a cap. Records naming a package cap that row; records without one
// cap the SKU as a whole. Periods without sales are not counted.
func DemandCaps(history []domain.DemandRecord, opts DemandOptions) (map[RowKey]float64, map[domain.SKU]float64) {
	type bucket struct {
		key    RowKey
		period time.Time
	}
	sums := make(map[bucket]float64)
	for _, h := range history {
		b := bucket{key: RowKey{SKU: h.SKU, Package: h.Package}, period: BucketStart(h.Period, opts.Granularity)}
		sums[b] += h.Quantity
	}

	series := make(map[RowKey][]float64)
	for b, v := range sums {
		series[b.key] = append(series[b.key], v)
	}

	factor := opts.Factor
	if factor <= 0 {
		factor = 1
	}

	rowCaps := make(map[RowKey]float64)
	skuCaps := make(map[domain.SKU]float64)
	for key, values := range series {
		var stat float64
		switch strings.ToLower(opts.Method) {
		case "percentile":
			stat = Percentile(values, opts.Percentile)
		default:
			stat = maxOf(values)
		}
		capValue := stat * factor
		if key.Package == "" {
			skuCaps[key.SKU] = capValue
		} else {
			rowCaps[key] = capValue
		}
	}
	return rowCaps, skuCaps
}

// Percentile interpolates linearly between the closest order statistics,
// the same definition as numpy's default and R's type 7.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	x := append([]float64(nil), values...)
	sort.Float64s(x)
	if p <= 0 {
		return x[0]
	}
	if p >= 100 {
		return x[len(x)-1]
	}
	h := float64(len(x)-1) * p / 100
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(x) {
		return x[i]
	}
	return x[i] + (h-lo)*(x[i+1]-x[i])
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}
