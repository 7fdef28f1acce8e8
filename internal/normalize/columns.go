package normalize

import (
	"strings"
	"unicode"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Logical table names.
const (
	TableStock         = "stock"
	TableClasses       = "classes"
	TableOrders        = "orders"
	TableCompatibility = "compatibility"
	TablePrices        = "prices"
	TableCosts         = "costs"
	TableDemand        = "demand"
)

// fieldOrder fixes the order in which fields claim header columns.
var fieldOrder = map[string][]string{
	TableStock:         {"date", "type", "sku", "quantity"},
	TableClasses:       {"sku", "class"},
	TableOrders:        {"sku", "quantity"},
	TableCompatibility: {"sku", "package", "units", "source"},
	TablePrices:        {"sku", "package", "weighted_price", "mean_price", "median_price", "price", "volume"},
	TableCosts:         {"description", "sku", "cost"},
	TableDemand:        {"sku", "package", "date", "quantity"},
}

// Rule finds the column of one logical field.
type Rule struct {
	Field    string
	Aliases  []string
	Contains [][]string
	Excludes []string
	Required bool
}

// Schema is the ordered rule list of one table.
type Schema struct {
	Table string
	Rules []Rule
}

type Schemas map[string]Schema

// SchemasFromConfig turns the configured column rules into schemas. Aliases
// and tokens are normalized the same way headers are.
func SchemasFromConfig(columns map[string]map[string]config.ColumnRule) Schemas {
	out := make(Schemas, len(fieldOrder))
	for table, fields := range fieldOrder {
		rules := columns[table]
		schema := Schema{Table: table}
		for _, field := range fields {
			cr, ok := rules[field]
			if !ok {
				continue
			}
			r := Rule{Field: field, Required: cr.Required}
			for _, a := range cr.Aliases {
				r.Aliases = append(r.Aliases, NormalizeHeader(a))
			}
			for _, group := range cr.Contains {
				g := make([]string, 0, len(group))
				for _, tok := range group {
					g = append(g, NormalizeHeader(tok))
				}
				r.Contains = append(r.Contains, g)
			}
			for _, ex := range cr.Excludes {
				r.Excludes = append(r.Excludes, NormalizeHeader(ex))
			}
			schema.Rules = append(schema.Rules, r)
		}
		out[table] = schema
	}
	return out
}

// NormalizeHeader lowercases s, strips diacritics and collapses every run
// of non-alphanumeric characters into a single space.
// "Preço_Médio " becomes "preco medio".
func NormalizeHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// Columns maps a field to its column index.
type Columns map[string]int

// Has reports whether field was resolved.
func (c Columns) Has(field string) bool {
	_, ok := c[field]
	return ok
}

// Resolve binds every rule of schema to a header column. Exact aliases are
// tried for all fields before any token heuristic, and a column is bound
// to at most one field. A required field left unbound yields a
// *domain.SchemaError naming file.
func Resolve(header []string, schema Schema, file string) (Columns, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = NormalizeHeader(h)
	}

	cols := make(Columns, len(schema.Rules))
	claimed := make([]bool, len(header))

	bind := func(field string, match func(h string) bool) {
		if cols.Has(field) {
			return
		}
		for i, h := range normalized {
			if claimed[i] || h == "" {
				continue
			}
			if match(h) {
				cols[field] = i
				claimed[i] = true
				return
			}
		}
	}

	for _, r := range schema.Rules {
		aliases := r.Aliases
		bind(r.Field, func(h string) bool {
			for _, a := range aliases {
				if h == a {
					return true
				}
			}
			return false
		})
	}

	for _, r := range schema.Rules {
		rule := r
		bind(rule.Field, func(h string) bool {
			return matchesContains(h, rule)
		})
	}

	for _, r := range schema.Rules {
		if r.Required && !cols.Has(r.Field) {
			return nil, &domain.SchemaError{File: file, Field: r.Field}
		}
	}

	return cols, nil
}

func matchesContains(h string, r Rule) bool {
	for _, ex := range r.Excludes {
		if strings.Contains(h, ex) {
			return false
		}
	}
	for _, group := range r.Contains {
		if len(group) == 0 {
			continue
		}
		all := true
		for _, tok := range group {
			if !strings.Contains(h, tok) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}
