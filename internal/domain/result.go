package domain

import (
	"time"
)

// OutcomeKind tells which budget an allocated quantity was drawn from.
type OutcomeKind string

const (
	KindOrder      OutcomeKind = "ORDER"
	KindSurplus    OutcomeKind = "SURPLUS"
	KindTotalStock OutcomeKind = "TOTAL_STOCK"
)

// Outcome is one allocated line of the optimized plan.
type Outcome struct {
	SKU              SKU         `json:"sku"`
	Package          string      `json:"package"`
	Class            string      `json:"class"`
	Kind             OutcomeKind `json:"kind"`
	AllocatedQty     float64     `json:"allocated_qty"`
	Price            float64     `json:"price"`
	UnitCost         float64     `json:"unit_cost"`
	UnitMargin       float64     `json:"unit_margin"`
	Revenue          float64     `json:"revenue"`
	Cost             float64     `json:"cost"`
	Margin           float64     `json:"margin"`
	Variation        float64     `json:"variation"`
	VariationPct     float64     `json:"variation_pct"`
	VariationAnomaly bool        `json:"variation_anomaly,omitempty"`
}

// SkuChange is the volume shift of one SKU against its reference stock.
// When orders are served first, Reference is the surplus stock and
// Allocated excludes the Fulfilled order volume.
type SkuChange struct {
	SKU          SKU     `json:"sku"`
	Class        string  `json:"class"`
	Reference    float64 `json:"reference"`
	Allocated    float64 `json:"allocated"`
	Fulfilled    float64 `json:"fulfilled"`
	Shortfall    float64 `json:"shortfall"`
	Variation    float64 `json:"variation"`
	VariationPct float64 `json:"variation_pct"`
	Anomaly      bool    `json:"anomaly,omitempty"`
}

type ClassSummary struct {
	Class         string  `json:"class"`
	SkuCount      int     `json:"sku_count"`
	AllocatedQty  float64 `json:"allocated_qty"`
	OriginalStock float64 `json:"original_stock"`
	Margin        float64 `json:"margin"`
	Variation     float64 `json:"variation"`
	Slack         float64 `json:"slack"`
	Conserved     bool    `json:"conserved"`
}

// Summary holds the run-level figures.
type Summary struct {
	BaselineMargin  float64 `json:"baseline_margin"`
	OptimizedMargin float64 `json:"optimized_margin"`
	GainAbs         float64 `json:"gain_abs"`
	GainPct         float64 `json:"gain_pct"`
	BaselineCost    float64 `json:"baseline_cost"`
	OptimizedCost   float64 `json:"optimized_cost"`
	// Objective is the run objective at the plan: the optimized margin, or
	// the optimized cost when minimizing. Order priority weights the solver
	// adds to serve orders first are not part of it.
	Objective       float64       `json:"objective"`
	SolverStatus    SolverStatus  `json:"solver_status"`
	Degraded        bool          `json:"degraded,omitempty"`
	SolveTime       time.Duration `json:"solve_time"`
	VariableCount   int           `json:"variable_count"`
	ConstraintCount int           `json:"constraint_count"`
}

// RunResult is everything one optimization run produces.
type RunResult struct {
	ID          string         `json:"id,omitempty"`
	StockDate   time.Time      `json:"stock_date"`
	StockType   string         `json:"stock_type"`
	Objective   Objective      `json:"objective"`
	HonorOrders bool           `json:"honor_orders"`
	CreatedAt   time.Time      `json:"created_at"`
	Outcomes    []Outcome      `json:"outcomes"`
	Skus        []SkuChange    `json:"skus"`
	Classes     []ClassSummary `json:"classes"`
	Summary     Summary        `json:"summary"`
	Diagnostics Diagnostics    `json:"diagnostics"`
}

// RunRecord is the persisted header of a run, without its lines.
type RunRecord struct {
	ID              string    `json:"id" db:"id"`
	StockDate       time.Time `json:"stock_date" db:"stock_date"`
	StockType       string    `json:"stock_type" db:"stock_type"`
	Objective       string    `json:"objective" db:"objective"`
	HonorOrders     bool      `json:"honor_orders" db:"honor_orders"`
	SolverStatus    string    `json:"solver_status" db:"solver_status"`
	BaselineMargin  float64   `json:"baseline_margin" db:"baseline_margin"`
	OptimizedMargin float64   `json:"optimized_margin" db:"optimized_margin"`
	GainAbs         float64   `json:"gain_abs" db:"gain_abs"`
	GainPct         float64   `json:"gain_pct" db:"gain_pct"`
	SolveTimeMs     int64     `json:"solve_time_ms" db:"solve_time_ms"`
	VariableCount   int       `json:"variable_count" db:"variable_count"`
	ConstraintCount int       `json:"constraint_count" db:"constraint_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Record builds the persisted header for r.
func (r *RunResult) Record() RunRecord {
	return RunRecord{
		ID:              r.ID,
		StockDate:       r.StockDate,
		StockType:       r.StockType,
		Objective:       string(r.Objective),
		HonorOrders:     r.HonorOrders,
		SolverStatus:    SolverStatusLabel(r.Summary.SolverStatus),
		BaselineMargin:  r.Summary.BaselineMargin,
		OptimizedMargin: r.Summary.OptimizedMargin,
		GainAbs:         r.Summary.GainAbs,
		GainPct:         r.Summary.GainPct,
		SolveTimeMs:     r.Summary.SolveTime.Milliseconds(),
		VariableCount:   r.Summary.VariableCount,
		ConstraintCount: r.Summary.ConstraintCount,
		CreatedAt:       r.CreatedAt,
	}
}
