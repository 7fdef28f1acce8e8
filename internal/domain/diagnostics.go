package domain

import "fmt"

// WarningKind classifies a non-fatal condition found during a run.
type WarningKind string

const (
	WarnConservationViolation WarningKind = "conservation_violation"
	WarnOrderShortfall        WarningKind = "order_shortfall"
	WarnVariationAnomaly      WarningKind = "variation_anomaly"
	WarnDegradedSolve         WarningKind = "degraded_solve"
	WarnMissingCost           WarningKind = "missing_cost"
	WarnMissingPrice          WarningKind = "missing_price"
	WarnUnmappedClass         WarningKind = "unmapped_class"
	WarnNoCompatibility       WarningKind = "no_compatibility"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Class   string      `json:"class,omitempty"`
	SKU     SKU         `json:"sku,omitempty"`
	Value   float64     `json:"value,omitempty"`
	Message string      `json:"message"`
}

// ConservationViolationWarning builds the warning raised when a class ends
// up with more allocated volume than it had in stock.
func ConservationViolationWarning(class string, excess float64) Warning {
	return Warning{
		Kind:    WarnConservationViolation,
		Class:   class,
		Value:   excess,
		Message: fmt.Sprintf("class %s allocates %.4f units above its stock", class, excess),
	}
}

// Diagnostics aggregates the non-fatal findings of a run.
type Diagnostics struct {
	DroppedRows map[string]int `json:"dropped_rows,omitempty"`
	ParseErrors map[string]int `json:"parse_errors,omitempty"`
	Warnings    []Warning      `json:"warnings,omitempty"`
}

func (d *Diagnostics) Drop(table string, n int) {
	if n <= 0 {
		return
	}
	if d.DroppedRows == nil {
		d.DroppedRows = make(map[string]int)
	}
	d.DroppedRows[table] += n
}

func (d *Diagnostics) ParseFailure(table string, n int) {
	if n <= 0 {
		return
	}
	if d.ParseErrors == nil {
		d.ParseErrors = make(map[string]int)
	}
	d.ParseErrors[table] += n
}

func (d *Diagnostics) Warn(w Warning) {
	d.Warnings = append(d.Warnings, w)
}

// Merge appends the counters and warnings of other into d.
func (d *Diagnostics) Merge(other Diagnostics) {
	for k, v := range other.DroppedRows {
		d.Drop(k, v)
	}
	for k, v := range other.ParseErrors {
		d.ParseFailure(k, v)
	}
	d.Warnings = append(d.Warnings, other.Warnings...)
}

// Count returns how many warnings of kind were recorded.
func (d Diagnostics) Count(kind WarningKind) int {
	n := 0
	for _, w := range d.Warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (d Diagnostics) Clone() Diagnostics {
	var out Diagnostics
	out.Merge(d)
	return out
}
