package domain

import (
	"math"
	"sort"
	"time"
)

// SKU identifies a stock-keeping unit by its numeric item code.
type SKU int64

// DefaultClass is assigned to SKUs missing from the class map.
const DefaultClass = "OUTROS"

// Objective selects what the optimizer is asked to do.
type Objective string

const (
	MaximizeMargin Objective = "maximize_margin"
	MinimizeCost   Objective = "minimize_cost"
)

// Package is a packaging option such as "CX 12 BJ 30 UN".
// Units is the number of sellable units it holds, 0 when unknown.
type Package struct {
	Name  string
	Units int
}

type StockRow struct {
	SKU      SKU
	Quantity float64
}

// StockRecord is a raw inventory count line before filtering by date and type.
type StockRecord struct {
	SKU       SKU
	Date      time.Time
	StockType string
	Quantity  float64
}

type OrderRow struct {
	SKU      SKU
	Quantity float64
}

// Link states that SKU may be sold in Package.
type Link struct {
	SKU     SKU
	Package string
	Units   int
	Source  string
}

// PriceEntry is the unit price of a (SKU, package) pair. Volume is the
// historical quantity sold in that package and weights the packaging mix.
type PriceEntry struct {
	SKU     SKU
	Package string
	Price   float64
	Volume  float64
}

type DemandRecord struct {
	SKU      SKU
	Package  string
	Period   time.Time
	Quantity float64
}

// SkuInfo carries the per-SKU quantities that feed the model.
type SkuInfo struct {
	SKU           SKU     `json:"sku"`
	Class         string  `json:"class"`
	OriginalStock float64 `json:"original_stock"`
	OrderQty      float64 `json:"order_qty"`
	SurplusStock  float64 `json:"surplus_stock"`
	UnitCost      float64 `json:"unit_cost"`
	HasCost       bool    `json:"has_cost"`
}

// AllocationRow is one eligible (SKU, package) decision.
// DemandCap is +Inf when no cap applies.
type AllocationRow struct {
	SKU        SKU     `json:"sku"`
	Package    string  `json:"package"`
	Class      string  `json:"class"`
	Price      float64 `json:"price"`
	UnitCost   float64 `json:"unit_cost"`
	UnitMargin float64 `json:"unit_margin"`
	Volume     float64 `json:"volume"`
	MixWeight  float64 `json:"mix_weight"`
	DemandCap  float64 `json:"-"`
}

// HasDemandCap reports whether the row is bounded by a demand cap.
func (r AllocationRow) HasDemandCap() bool {
	return !math.IsInf(r.DemandCap, 1) && !math.IsNaN(r.DemandCap)
}

// Dataset is the joined, validated input of one optimization run.
// It is not mutated after the metrics stage.
type Dataset struct {
	StockDate     time.Time
	HonorOrders   bool
	Skus          map[SKU]*SkuInfo
	Rows          []AllocationRow
	ClassStock    map[string]float64
	SkuDemandCaps map[SKU]float64
	Diagnostics   Diagnostics
}

// SortRows orders rows by class, SKU and package.
func (d *Dataset) SortRows() {
	sort.SliceStable(d.Rows, func(i, j int) bool {
		a, b := d.Rows[i], d.Rows[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		if a.SKU != b.SKU {
			return a.SKU < b.SKU
		}
		return a.Package < b.Package
	})
}

// Classes returns the class names present in ClassStock, sorted.
func (d *Dataset) Classes() []string {
	out := make([]string, 0, len(d.ClassStock))
	for c := range d.ClassStock {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SortedSkus returns every stocked SKU in ascending order.
func (d *Dataset) SortedSkus() []SKU {
	out := make([]SKU, 0, len(d.Skus))
	for s := range d.Skus {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RowsBySku groups row indexes by SKU.
func (d *Dataset) RowsBySku() map[SKU][]int {
	out := make(map[SKU][]int)
	for i, r := range d.Rows {
		out[r.SKU] = append(out[r.SKU], i)
	}
	return out
}

// StockDateSummary describes one count date available in the stock source.
type StockDateSummary struct {
	Date          time.Time `json:"date" db:"stock_date"`
	StockType     string    `json:"stock_type" db:"stock_type"`
	SkuCount      int       `json:"sku_count" db:"sku_count"`
	TotalQuantity float64   `json:"total_quantity" db:"total_quantity"`
}
