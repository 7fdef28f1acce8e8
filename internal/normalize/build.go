package normalize

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/rs/zerolog/log"
)

// PriceFill decides how a compatible pair without a price is priced.
type PriceFill string

const (
	FillNone          PriceFill = "none"
	FillSkuMean       PriceFill = "sku_mean"
	FillSkuThenGlobal PriceFill = "sku_then_global"
)

// Tables holds the raw collaborator tables of one run. Orders and Demand
// may be nil.
type Tables struct {
	Stock         *Table
	Classes       *Table
	Orders        *Table
	Compatibility *Table
	Prices        *Table
	Costs         *Table
	Demand        *Table
}

// Inputs are the canonical typed rows decoded from Tables.
type Inputs struct {
	StockDate time.Time
	Stock     []domain.StockRow
	Classes   map[domain.SKU]string
	Orders    []domain.OrderRow
	Links     []domain.Link
	Prices    []domain.PriceEntry
	Costs     map[domain.SKU]float64
	Demand    []domain.DemandRecord
}

type Options struct {
	Schemas             Schemas
	Locales             map[string]Locale
	Stock               StockFilter
	PricePriority       []string
	PriceFill           PriceFill
	TechCompatTolerance float64
	HonorOrders         bool
}

// OptionsFromConfig derives normalizer options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	locales := make(map[string]Locale, len(cfg.Inputs.Locales))
	for table, name := range cfg.Inputs.Locales {
		locales[table] = ParseLocale(name)
	}
	return Options{
		Schemas:             SchemasFromConfig(cfg.Columns),
		Locales:             locales,
		Stock:               StockFilter{Type: cfg.Inputs.StockType},
		PricePriority:       cfg.Model.PricePriority,
		PriceFill:           PriceFill(cfg.Model.PriceFill),
		TechCompatTolerance: cfg.Model.TechCompatTolerance,
		HonorOrders:         cfg.Model.HonorOrders,
	}
}

// LocaleFor returns the locale numbers of t are parsed with: the table's
// own locale, then the configured one, then auto.
func (o Options) LocaleFor(t *Table, table string) Locale {
	if t != nil && t.Locale != "" {
		return t.Locale
	}
	if l, ok := o.Locales[table]; ok {
		return l
	}
	return LocaleAuto
}

// Decode turns every raw table into canonical rows. Schema errors and
// tables where no row could be parsed are fatal; everything else is
// counted in diag.
func Decode(tables Tables, opts Options, diag *domain.Diagnostics) (*Inputs, error) {
	in := &Inputs{}

	records, err := DecodeStock(tables.Stock, opts.Schemas, opts.LocaleFor(tables.Stock, TableStock), diag)
	if err != nil {
		return nil, fmt.Errorf("decode stock: %w", err)
	}
	in.Stock, in.StockDate = SelectStock(records, opts.Stock, diag)

	if in.Classes, err = DecodeClasses(tables.Classes, opts.Schemas, diag); err != nil {
		return nil, fmt.Errorf("decode classes: %w", err)
	}
	if opts.HonorOrders {
		if in.Orders, err = DecodeOrders(tables.Orders, opts.Schemas, opts.LocaleFor(tables.Orders, TableOrders), diag); err != nil {
			return nil, fmt.Errorf("decode orders: %w", err)
		}
	}
	if in.Links, err = DecodeLinks(tables.Compatibility, opts.Schemas, opts.LocaleFor(tables.Compatibility, TableCompatibility), diag); err != nil {
		return nil, fmt.Errorf("decode compatibility: %w", err)
	}
	if in.Prices, err = DecodePrices(tables.Prices, opts.Schemas, opts.LocaleFor(tables.Prices, TablePrices), opts.PricePriority, diag); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	if in.Costs, err = DecodeCosts(tables.Costs, opts.Schemas, opts.LocaleFor(tables.Costs, TableCosts), diag); err != nil {
		return nil, fmt.Errorf("decode costs: %w", err)
	}
	if in.Demand, err = DecodeDemand(tables.Demand, opts.Schemas, opts.LocaleFor(tables.Demand, TableDemand), diag); err != nil {
		return nil, fmt.Errorf("decode demand: %w", err)
	}

	before := len(in.Links)
	in.Links = ExpandCompatibility(in.Links, KnownPackages(in.Links, in.Prices), opts.TechCompatTolerance)
	if added := len(in.Links) - before; added > 0 {
		log.Debug().Int("links", added).Msg("normalize: technical compatibility links added")
	}

	return in, nil
}

// Build joins the canonical rows into a dataset. SKUs without a class fall
// into domain.DefaultClass. Rows need stock, a unit cost and a price; the
// class stock counts every stocked SKU whether or not it has rows.
func Build(in *Inputs, opts Options, diag *domain.Diagnostics) (*domain.Dataset, error) {
	ds := &domain.Dataset{
		StockDate:     in.StockDate,
		HonorOrders:   opts.HonorOrders,
		Skus:          make(map[domain.SKU]*domain.SkuInfo, len(in.Stock)),
		ClassStock:    make(map[string]float64),
		SkuDemandCaps: make(map[domain.SKU]float64),
	}

	orders := make(map[domain.SKU]float64, len(in.Orders))
	for _, o := range in.Orders {
		orders[o.SKU] += o.Quantity
	}

	unmapped := 0
	for _, s := range in.Stock {
		class, ok := in.Classes[s.SKU]
		if !ok {
			class = domain.DefaultClass
			unmapped++
		}
		info := &domain.SkuInfo{SKU: s.SKU, Class: class, OriginalStock: s.Quantity}
		if opts.HonorOrders {
			info.OrderQty = orders[s.SKU]
		}
		if c, ok := in.Costs[s.SKU]; ok {
			info.UnitCost = c
			info.HasCost = true
		}
		ds.Skus[s.SKU] = info
		ds.ClassStock[class] += s.Quantity
	}
	if unmapped > 0 {
		diag.Warn(domain.Warning{
			Kind:    domain.WarnUnmappedClass,
			Class:   domain.DefaultClass,
			Value:   float64(unmapped),
			Message: fmt.Sprintf("%d stocked SKUs have no class and were assigned to %s", unmapped, domain.DefaultClass),
		})
	}

	orphanOrders := 0
	for sku := range orders {
		if _, ok := ds.Skus[sku]; !ok {
			orphanOrders++
		}
	}
	diag.Drop(TableOrders, orphanOrders)

	pricer := newPricer(in.Prices, opts.PriceFill)

	links := append([]domain.Link(nil), in.Links...)
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].SKU != links[j].SKU {
			return links[i].SKU < links[j].SKU
		}
		return links[i].Package < links[j].Package
	})

	linkedSkus := make(map[domain.SKU]bool)
	missingCost := make(map[domain.SKU]bool)
	unstocked, unpriced := 0, 0
	for _, l := range links {
		info, ok := ds.Skus[l.SKU]
		if !ok {
			unstocked++
			continue
		}
		linkedSkus[l.SKU] = true
		if !info.HasCost {
			missingCost[l.SKU] = true
			continue
		}
		price, volume, ok := pricer.price(l.SKU, l.Package)
		if !ok {
			unpriced++
			continue
		}
		ds.Rows = append(ds.Rows, domain.AllocationRow{
			SKU:       l.SKU,
			Package:   l.Package,
			Class:     info.Class,
			Price:     price,
			UnitCost:  info.UnitCost,
			Volume:    volume,
			DemandCap: math.Inf(1),
		})
	}
	diag.Drop(TableCompatibility, unstocked)

	for _, sku := range sortedSkus(missingCost) {
		diag.Warn(domain.Warning{
			Kind:    domain.WarnMissingCost,
			Class:   ds.Skus[sku].Class,
			SKU:     sku,
			Message: fmt.Sprintf("SKU %d has no valid unit cost", sku),
		})
	}
	if unpriced > 0 {
		diag.Warn(domain.Warning{
			Kind:    domain.WarnMissingPrice,
			Value:   float64(unpriced),
			Message: fmt.Sprintf("%d compatible pairs have no price", unpriced),
		})
	}
	if unlinked := len(ds.Skus) - len(linkedSkus); unlinked > 0 {
		diag.Warn(domain.Warning{
			Kind:    domain.WarnNoCompatibility,
			Value:   float64(unlinked),
			Message: fmt.Sprintf("%d stocked SKUs have no compatible package", unlinked),
		})
	}

	if len(ds.Rows) == 0 {
		return nil, &domain.DatasetEmptyError{Reason: emptyReason(in)}
	}

	ds.SortRows()
	return ds, nil
}

func emptyReason(in *Inputs) string {
	var missing []string
	if len(in.Stock) == 0 {
		missing = append(missing, "stock")
	}
	if len(in.Links) == 0 {
		missing = append(missing, "compatibility")
	}
	if len(in.Prices) == 0 {
		missing = append(missing, "prices")
	}
	if len(in.Costs) == 0 {
		missing = append(missing, "costs")
	}
	if len(missing) == 0 {
		return "no compatible pair has stock, cost and price"
	}
	return "no rows in " + strings.Join(missing, ", ")
}

func sortedSkus(set map[domain.SKU]bool) []domain.SKU {
	out := make([]domain.SKU, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type pricePair struct {
	sku domain.SKU
	pkg string
}

// pricer answers price lookups with the configured fill policy.
type pricer struct {
	fill     PriceFill
	exact    map[pricePair]domain.PriceEntry
	skuMean  map[domain.SKU]float64
	global   float64
	hasPrice bool
}

func newPricer(entries []domain.PriceEntry, fill PriceFill) *pricer {
	p := &pricer{
		fill:    fill,
		exact:   make(map[pricePair]domain.PriceEntry, len(entries)),
		skuMean: make(map[domain.SKU]float64),
	}
	sums := make(map[domain.SKU]float64)
	counts := make(map[domain.SKU]int)
	total := 0.0
	for _, e := range entries {
		p.exact[pricePair{e.SKU, e.Package}] = e
		sums[e.SKU] += e.Price
		counts[e.SKU]++
		total += e.Price
	}
	for sku, sum := range sums {
		p.skuMean[sku] = sum / float64(counts[sku])
	}
	if len(entries) > 0 {
		p.global = total / float64(len(entries))
		p.hasPrice = true
	}
	return p
}

func (p *pricer) price(sku domain.SKU, pkg string) (float64, float64, bool) {
	if e, ok := p.exact[pricePair{sku, pkg}]; ok {
		return e.Price, e.Volume, true
	}
	switch p.fill {
	case FillSkuMean:
		if m, ok := p.skuMean[sku]; ok {
			return m, 0, true
		}
	case FillSkuThenGlobal:
		if m, ok := p.skuMean[sku]; ok {
			return m, 0, true
		}
		if p.hasPrice {
			return p.global, 0, true
		}
	}
	return 0, 0, false
}
