package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataset() *domain.Dataset {
	inf := math.Inf(1)
	return &domain.Dataset{
		HonorOrders: true,
		Skus: map[domain.SKU]*domain.SkuInfo{
			1: {SKU: 1, Class: "A", OriginalStock: 100, OrderQty: 30, UnitCost: 5, HasCost: true},
			2: {SKU: 2, Class: "A", OriginalStock: 50, OrderQty: 80, UnitCost: 4, HasCost: true},
		},
		ClassStock:    map[string]float64{"A": 150},
		SkuDemandCaps: map[domain.SKU]float64{},
		Rows: []domain.AllocationRow{
			{SKU: 1, Package: "P1", Class: "A", Price: 10, UnitCost: 5, Volume: 30, DemandCap: inf},
			{SKU: 1, Package: "P2", Class: "A", Price: 8, UnitCost: 5, Volume: 10, DemandCap: inf},
			{SKU: 1, Package: "P3", Class: "A", Price: 5, UnitCost: 5, DemandCap: inf},
			{SKU: 2, Package: "P1", Class: "A", Price: 7, UnitCost: 4, DemandCap: inf},
			{SKU: 2, Package: "P2", Class: "A", Price: 6, UnitCost: 4, DemandCap: inf},
		},
	}
}

func TestApply(t *testing.T) {
	ds := dataset()
	require.NoError(t, NewCalculator(DemandOptions{}).Apply(ds, nil))

	require.Len(t, ds.Rows, 4, "zero-margin row must be dropped")
	for _, r := range ds.Rows {
		assert.Greater(t, r.UnitMargin, 0.0)
	}
	assert.Equal(t, 1, ds.Diagnostics.DroppedRows[tableMargin])

	assert.Equal(t, 70.0, ds.Skus[1].SurplusStock)
	assert.Equal(t, 0.0, ds.Skus[2].SurplusStock)

	assert.InDelta(t, 0.75, ds.Rows[0].MixWeight, 1e-12)
	assert.InDelta(t, 0.25, ds.Rows[1].MixWeight, 1e-12)
	assert.InDelta(t, 0.5, ds.Rows[2].MixWeight, 1e-12)

	mixes := Mixes(ds)
	assert.InDelta(t, 0.75*5+0.25*3, mixes[1].Margin, 1e-12)
	assert.InDelta(t, 2.5, mixes[2].Margin, 1e-12)
}

func TestApplyWithoutPositiveMargin(t *testing.T) {
	ds := &domain.Dataset{
		Skus: map[domain.SKU]*domain.SkuInfo{1: {SKU: 1, OriginalStock: 10}},
		Rows: []domain.AllocationRow{{SKU: 1, Package: "P1", Price: 3, UnitCost: 4}},
	}
	err := NewCalculator(DemandOptions{}).Apply(ds, nil)
	var emptyErr *domain.DatasetEmptyError
	assert.ErrorAs(t, err, &emptyErr)
}

func TestSurplusStock(t *testing.T) {
	assert.Equal(t, 100.0, SurplusStock(100, 30, false))
	assert.Equal(t, 70.0, SurplusStock(100, 30, true))
	assert.Equal(t, 0.0, SurplusStock(100, 300, true))
}

func TestPercentile(t *testing.T) {
	values := []float64{15, 20, 35, 40, 50}
	assert.InDelta(t, 15, Percentile(values, 0), 1e-12)
	assert.InDelta(t, 35, Percentile(values, 50), 1e-12)
	assert.InDelta(t, 29, Percentile(values, 40), 1e-12)
	assert.InDelta(t, 46, Percentile(values, 90), 1e-12)
	assert.InDelta(t, 50, Percentile(values, 100), 1e-12)
	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestBucketStart(t *testing.T) {
	wed := time.Date(2024, 1, 17, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), BucketStart(wed, "M"))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), BucketStart(wed, "S"))
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), BucketStart(wed, "W"))
	assert.Equal(t, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), BucketStart(wed, "D"))

	sunday := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), BucketStart(sunday, "W"))
}

func TestDemandCaps(t *testing.T) {
	day := func(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }
	history := []domain.DemandRecord{
		{SKU: 1, Package: "P1", Period: day(1, 3), Quantity: 40},
		{SKU: 1, Package: "P1", Period: day(1, 20), Quantity: 60},
		{SKU: 1, Package: "P1", Period: day(2, 5), Quantity: 50},
		{SKU: 2, Period: day(1, 5), Quantity: 10},
		{SKU: 2, Period: day(2, 5), Quantity: 30},
	}

	rowCaps, skuCaps := DemandCaps(history, DemandOptions{Granularity: "M", Method: "max", Factor: 1.2})
	assert.InDelta(t, 120, rowCaps[RowKey{SKU: 1, Package: "P1"}], 1e-9)
	assert.InDelta(t, 36, skuCaps[2], 1e-9)

	rowCaps, skuCaps = DemandCaps(history, DemandOptions{Granularity: "M", Method: "percentile", Percentile: 50, Factor: 1})
	assert.InDelta(t, 75, rowCaps[RowKey{SKU: 1, Package: "P1"}], 1e-9)
	assert.InDelta(t, 20, skuCaps[2], 1e-9)
}

func TestApplyDemandCaps(t *testing.T) {
	ds := dataset()
	history := []domain.DemandRecord{
		{SKU: 1, Package: "P1", Period: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Quantity: 40},
		{SKU: 2, Period: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Quantity: 10},
		{SKU: 9, Period: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Quantity: 10},
	}
	calc := NewCalculator(DemandOptions{Enabled: true, Granularity: "D", Method: "max", Factor: 1.5})
	require.NoError(t, calc.Apply(ds, history))

	assert.InDelta(t, 60, ds.Rows[0].DemandCap, 1e-9)
	assert.True(t, ds.Rows[0].HasDemandCap())
	assert.False(t, ds.Rows[1].HasDemandCap())
	assert.Equal(t, map[domain.SKU]float64{2: 15}, ds.SkuDemandCaps)
}

func TestClassPotentials(t *testing.T) {
	ds := dataset()
	require.NoError(t, NewCalculator(DemandOptions{}).Apply(ds, nil))

	pots := ClassPotentials(ds, DefaultPotentialShare)
	require.Len(t, pots, 1)
	assert.Equal(t, 2, pots[0].SkuCount)
	assert.InDelta(t, 3, pots[0].Spread, 1e-12)
	assert.InDelta(t, 3*150*0.03, pots[0].Potential, 1e-9)
}
