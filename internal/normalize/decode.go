package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
)

// StockFilter selects the inventory count to optimize. A zero Date picks
// the most recent count of Type; an empty Type keeps every type.
type StockFilter struct {
	Date time.Time
	Type string
}

func resolveFor(t *Table, schemas Schemas, table string) (Columns, error) {
	return Resolve(t.Header, schemas[table], t.label())
}

// DecodeStock reads raw inventory count lines.
func DecodeStock(t *Table, schemas Schemas, loc Locale, diag *domain.Diagnostics) ([]domain.StockRecord, error) {
	if t.Empty() {
		return nil, nil
	}
	cols, err := resolveFor(t, schemas, TableStock)
	if err != nil {
		return nil, err
	}

	errs := rowErrors{table: TableStock, file: t.label()}
	out := make([]domain.StockRecord, 0, len(t.Rows))
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++

		sku, err := ExtractSKU(cell(row, cols["sku"]))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		qty, err := ParseQuantity(cell(row, cols["quantity"]), loc)
		if err != nil {
			errs.add(i+2, "quantity", err)
			continue
		}

		rec := domain.StockRecord{SKU: sku, Quantity: qty}
		if idx, ok := cols["date"]; ok {
			raw := cell(row, idx)
			if raw != "" {
				d, err := ParseDate(raw)
				if err != nil {
					errs.add(i+2, "date", err)
					continue
				}
				rec.Date = d
			}
		}
		if idx, ok := cols["type"]; ok {
			rec.StockType = cell(row, idx)
		}
		out = append(out, rec)
	}

	return out, errs.finish(diag)
}

func sameStockType(a, b string) bool {
	return NormalizeHeader(a) == NormalizeHeader(b)
}

// LatestStockDate returns the most recent count date of stockType.
func LatestStockDate(records []domain.StockRecord, stockType string) time.Time {
	var latest time.Time
	for _, r := range records {
		if stockType != "" && r.StockType != "" && !sameStockType(r.StockType, stockType) {
			continue
		}
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	return latest
}

// SelectStock keeps the records of the requested count, sums them per SKU
// and drops SKUs whose total is not positive. It returns the date that was
// used.
func SelectStock(records []domain.StockRecord, filter StockFilter, diag *domain.Diagnostics) ([]domain.StockRow, time.Time) {
	date := filter.Date
	if date.IsZero() {
		date = LatestStockDate(records, filter.Type)
	} else {
		date = truncateDay(date)
	}

	totals := make(map[domain.SKU]float64)
	for _, r := range records {
		if !date.IsZero() && !r.Date.IsZero() && !r.Date.Equal(date) {
			continue
		}
		if filter.Type != "" && r.StockType != "" && !sameStockType(r.StockType, filter.Type) {
			continue
		}
		totals[r.SKU] += r.Quantity
	}

	out := make([]domain.StockRow, 0, len(totals))
	dropped := 0
	for sku, qty := range totals {
		if qty <= 0 {
			dropped++
			continue
		}
		out = append(out, domain.StockRow{SKU: sku, Quantity: qty})
	}
	diag.Drop(TableStock, dropped)
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, date
}

// StockDates lists the counts present in records, largest total first.
// Only stockType is considered when it is not empty.
func StockDates(records []domain.StockRecord, stockType string) []domain.StockDateSummary {
	type key struct {
		date time.Time
		typ  string
	}
	totals := make(map[key]map[domain.SKU]float64)
	labels := make(map[key]string)
	for _, r := range records {
		if stockType != "" && r.StockType != "" && !sameStockType(r.StockType, stockType) {
			continue
		}
		k := key{date: r.Date, typ: NormalizeHeader(r.StockType)}
		if totals[k] == nil {
			totals[k] = make(map[domain.SKU]float64)
			labels[k] = r.StockType
		}
		totals[k][r.SKU] += r.Quantity
	}

	out := make([]domain.StockDateSummary, 0, len(totals))
	for k, bySku := range totals {
		s := domain.StockDateSummary{Date: k.date, StockType: labels[k]}
		for _, q := range bySku {
			if q > 0 {
				s.SkuCount++
				s.TotalQuantity += q
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalQuantity != out[j].TotalQuantity {
			return out[i].TotalQuantity > out[j].TotalQuantity
		}
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// DecodeClasses reads the SKU to product class map. The first class seen
// for a SKU wins.
func DecodeClasses(t *Table, schemas Schemas, diag *domain.Diagnostics) (map[domain.SKU]string, error) {
	out := make(map[domain.SKU]string)
	if t.Empty() {
		return out, nil
	}
	cols, err := resolveFor(t, schemas, TableClasses)
	if err != nil {
		return nil, err
	}

	errs := rowErrors{table: TableClasses, file: t.label()}
	dropped := 0
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++
		sku, err := ExtractSKU(cell(row, cols["sku"]))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		class := strings.TrimSpace(cell(row, cols["class"]))
		if class == "" {
			dropped++
			continue
		}
		if _, seen := out[sku]; !seen {
			out[sku] = class
		}
	}
	diag.Drop(TableClasses, dropped)
	return out, errs.finish(diag)
}

// DecodeOrders sums open order quantities per SKU across customers.
func DecodeOrders(t *Table, schemas Schemas, loc Locale, diag *domain.Diagnostics) ([]domain.OrderRow, error) {
	if t.Empty() {
		return nil, nil
	}
	cols, err := resolveFor(t, schemas, TableOrders)
	if err != nil {
		return nil, err
	}

	errs := rowErrors{table: TableOrders, file: t.label()}
	totals := make(map[domain.SKU]float64)
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++
		sku, err := ExtractSKU(cell(row, cols["sku"]))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		qty, err := ParseQuantity(cell(row, cols["quantity"]), loc)
		if err != nil {
			errs.add(i+2, "quantity", err)
			continue
		}
		totals[sku] += qty
	}

	out := make([]domain.OrderRow, 0, len(totals))
	dropped := 0
	for sku, qty := range totals {
		if qty <= 0 {
			dropped++
			continue
		}
		out = append(out, domain.OrderRow{SKU: sku, Quantity: qty})
	}
	diag.Drop(TableOrders, dropped)
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, errs.finish(diag)
}

// DecodeLinks reads the historical compatibility list, keeping the first
// occurrence of each (SKU, package) pair in input order.
func DecodeLinks(t *Table, schemas Schemas, loc Locale, diag *domain.Diagnostics) ([]domain.Link, error) {
	if t.Empty() {
		return nil, nil
	}
	cols, err := resolveFor(t, schemas, TableCompatibility)
	if err != nil {
		return nil, err
	}

	type pair struct {
		sku domain.SKU
		pkg string
	}
	seen := make(map[pair]bool)
	errs := rowErrors{table: TableCompatibility, file: t.label()}
	out := make([]domain.Link, 0, len(t.Rows))
	dropped := 0
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++
		sku, err := ExtractSKU(cell(row, cols["sku"]))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		pkg := CanonicalPackage(cell(row, cols["package"]))
		if pkg == "" {
			dropped++
			continue
		}
		p := pair{sku, pkg}
		if seen[p] {
			continue
		}
		seen[p] = true

		link := domain.Link{SKU: sku, Package: pkg, Units: PackageUnits(pkg), Source: "historico"}
		if idx, ok := cols["units"]; ok {
			if u, err := ParseQuantity(cell(row, idx), loc); err == nil && u > 0 && link.Units == 0 {
				link.Units = int(u)
			}
		}
		if idx, ok := cols["source"]; ok {
			if src := cell(row, idx); src != "" {
				link.Source = strings.ToLower(src)
			}
		}
		out = append(out, link)
	}
	diag.Drop(TableCompatibility, dropped)
	return out, errs.finish(diag)
}

var priceFields = map[string]bool{"price": true, "weighted_price": true, "mean_price": true, "median_price": true}

// DecodePrices reads package prices. For each row the first positive value
// among priority is used. When a (SKU, package) pair repeats, the entry
// with the highest volume wins and ties keep the first.
func DecodePrices(t *Table, schemas Schemas, loc Locale, priority []string, diag *domain.Diagnostics) ([]domain.PriceEntry, error) {
	if t.Empty() {
		return nil, nil
	}
	cols, err := resolveFor(t, schemas, TablePrices)
	if err != nil {
		return nil, err
	}
	if len(priority) == 0 {
		priority = []string{"price", "weighted_price", "mean_price", "median_price"}
	}
	anyPrice := false
	for _, f := range priority {
		if priceFields[f] && cols.Has(f) {
			anyPrice = true
			break
		}
	}
	if !anyPrice {
		return nil, &domain.SchemaError{File: t.label(), Field: "price"}
	}

	type pair struct {
		sku domain.SKU
		pkg string
	}
	index := make(map[pair]int)
	errs := rowErrors{table: TablePrices, file: t.label()}
	out := make([]domain.PriceEntry, 0, len(t.Rows))
	dropped := 0
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++
		sku, err := ExtractSKU(cell(row, cols["sku"]))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		pkg := CanonicalPackage(cell(row, cols["package"]))
		if pkg == "" {
			dropped++
			continue
		}

		price := 0.0
		var priceErr error
		priceCol := ""
		for _, f := range priority {
			idx, ok := cols[f]
			if !ok {
				continue
			}
			raw := cell(row, idx)
			if raw == "" {
				continue
			}
			v, err := ParseQuantity(raw, loc)
			if err != nil {
				if priceErr == nil {
					priceErr, priceCol = err, f
				}
				continue
			}
			if v > 0 {
				price = v
				break
			}
		}
		if price <= 0 {
			if priceErr != nil {
				errs.add(i+2, priceCol, priceErr)
			} else {
				dropped++
			}
			continue
		}

		volume := 0.0
		if idx, ok := cols["volume"]; ok {
			if v, err := ParseQuantity(cell(row, idx), loc); err == nil && v > 0 {
				volume = v
			}
		}

		entry := domain.PriceEntry{SKU: sku, Package: pkg, Price: price, Volume: volume}
		p := pair{sku, pkg}
		if at, ok := index[p]; ok {
			if volume > out[at].Volume {
				out[at] = entry
			}
			continue
		}
		index[p] = len(out)
		out = append(out, entry)
	}
	diag.Drop(TablePrices, dropped)
	return out, errs.finish(diag)
}

// DecodeCosts reads unit costs. The SKU is the leading code of the item
// description column when present, otherwise the item column. The first
// cost seen for a SKU wins; non-positive costs are dropped.
func DecodeCosts(t *Table, schemas Schemas, loc Locale, diag *domain.Diagnostics) (map[domain.SKU]float64, error) {
	out := make(map[domain.SKU]float64)
	if t.Empty() {
		return out, nil
	}
	cols, err := resolveFor(t, schemas, TableCosts)
	if err != nil {
		return nil, err
	}
	skuCol, ok := cols["description"]
	if !ok {
		if skuCol, ok = cols["sku"]; !ok {
			return nil, &domain.SchemaError{File: t.label(), Field: "description"}
		}
	}

	errs := rowErrors{table: TableCosts, file: t.label()}
	dropped := 0
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++
		sku, err := ExtractSKU(cell(row, skuCol))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		cost, err := ParseMoney(cell(row, cols["cost"]), loc)
		if err != nil {
			errs.add(i+2, "cost", err)
			continue
		}
		if !cost.IsPositive() {
			dropped++
			continue
		}
		if _, seen := out[sku]; !seen {
			out[sku] = cost.InexactFloat64()
		}
	}
	diag.Drop(TableCosts, dropped)
	return out, errs.finish(diag)
}

// DecodeDemand reads historical sales lines.
func DecodeDemand(t *Table, schemas Schemas, loc Locale, diag *domain.Diagnostics) ([]domain.DemandRecord, error) {
	if t.Empty() {
		return nil, nil
	}
	cols, err := resolveFor(t, schemas, TableDemand)
	if err != nil {
		return nil, err
	}

	errs := rowErrors{table: TableDemand, file: t.label()}
	out := make([]domain.DemandRecord, 0, len(t.Rows))
	dropped := 0
	for i, row := range t.Rows {
		if blankRow(row) {
			continue
		}
		errs.rows++
		sku, err := ExtractSKU(cell(row, cols["sku"]))
		if err != nil {
			errs.add(i+2, "sku", err)
			continue
		}
		period, err := ParseDate(cell(row, cols["date"]))
		if err != nil {
			errs.add(i+2, "date", err)
			continue
		}
		qty, err := ParseQuantity(cell(row, cols["quantity"]), loc)
		if err != nil {
			errs.add(i+2, "quantity", err)
			continue
		}
		if qty <= 0 {
			dropped++
			continue
		}
		rec := domain.DemandRecord{SKU: sku, Period: period, Quantity: qty}
		if idx, ok := cols["package"]; ok {
			rec.Package = CanonicalPackage(cell(row, idx))
		}
		out = append(out, rec)
	}
	diag.Drop(TableDemand, dropped)
	return out, errs.finish(diag)
}
