package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/repository"
	"github.com/jmoiron/sqlx"
)

type runRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *runRepository {
	return &runRepository{db: db}
}

var _ repository.RunRepository = (*runRepository)(nil)

// runDetail is the part of a run stored as JSON next to the header.
type runDetail struct {
	Skus        []domain.SkuChange    `json:"skus"`
	Classes     []domain.ClassSummary `json:"classes"`
	Summary     domain.Summary        `json:"summary"`
	Diagnostics domain.Diagnostics    `json:"diagnostics"`
}

type runRow struct {
	domain.RunRecord
	Detail []byte `db:"detail"`
}

type outcomeRow struct {
	RunID            string  `db:"run_id"`
	Line             int     `db:"line"`
	SKU              int64   `db:"sku"`
	Package          string  `db:"package"`
	Class            string  `db:"class"`
	Kind             string  `db:"kind"`
	AllocatedQty     float64 `db:"allocated_qty"`
	Price            float64 `db:"price"`
	UnitCost         float64 `db:"unit_cost"`
	UnitMargin       float64 `db:"unit_margin"`
	Revenue          float64 `db:"revenue"`
	Cost             float64 `db:"cost"`
	Margin           float64 `db:"margin"`
	Variation        float64 `db:"variation"`
	VariationPct     float64 `db:"variation_pct"`
	VariationAnomaly bool    `db:"variation_anomaly"`
}

func toOutcomeRow(runID string, line int, o domain.Outcome) outcomeRow {
	return outcomeRow{
		RunID:            runID,
		Line:             line,
		SKU:              int64(o.SKU),
		Package:          o.Package,
		Class:            o.Class,
		Kind:             string(o.Kind),
		AllocatedQty:     o.AllocatedQty,
		Price:            o.Price,
		UnitCost:         o.UnitCost,
		UnitMargin:       o.UnitMargin,
		Revenue:          o.Revenue,
		Cost:             o.Cost,
		Margin:           o.Margin,
		Variation:        o.Variation,
		VariationPct:     o.VariationPct,
		VariationAnomaly: o.VariationAnomaly,
	}
}

func (r outcomeRow) outcome() domain.Outcome {
	return domain.Outcome{
		SKU:              domain.SKU(r.SKU),
		Package:          r.Package,
		Class:            r.Class,
		Kind:             domain.OutcomeKind(r.Kind),
		AllocatedQty:     r.AllocatedQty,
		Price:            r.Price,
		UnitCost:         r.UnitCost,
		UnitMargin:       r.UnitMargin,
		Revenue:          r.Revenue,
		Cost:             r.Cost,
		Margin:           r.Margin,
		Variation:        r.Variation,
		VariationPct:     r.VariationPct,
		VariationAnomaly: r.VariationAnomaly,
	}
}

func encodeDetail(res *domain.RunResult) ([]byte, error) {
	return json.Marshal(runDetail{
		Skus:        res.Skus,
		Classes:     res.Classes,
		Summary:     res.Summary,
		Diagnostics: res.Diagnostics,
	})
}

func decodeDetail(rec domain.RunRecord, payload []byte, outcomes []outcomeRow) (*domain.RunResult, error) {
	var d runDetail
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("decode run %s detail: %w", rec.ID, err)
		}
	}
	res := &domain.RunResult{
		ID:          rec.ID,
		StockDate:   rec.StockDate,
		StockType:   rec.StockType,
		Objective:   domain.Objective(rec.Objective),
		HonorOrders: rec.HonorOrders,
		CreatedAt:   rec.CreatedAt,
		Skus:        d.Skus,
		Classes:     d.Classes,
		Summary:     d.Summary,
		Diagnostics: d.Diagnostics,
		Outcomes:    make([]domain.Outcome, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		res.Outcomes = append(res.Outcomes, o.outcome())
	}
	return res, nil
}

func (r *runRepository) SaveRun(ctx context.Context, res *domain.RunResult) error {
	detail, err := encodeDetail(res)
	if err != nil {
		return fmt.Errorf("encode run detail: %w", err)
	}
	rec := res.Record()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		// 1. Run header
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO optimization_runs (
				id, stock_date, stock_type, objective, honor_orders, solver_status,
				baseline_margin, optimized_margin, gain_abs, gain_pct,
				solve_time_ms, variable_count, constraint_count, created_at, detail
			) VALUES (
				:id, :stock_date, :stock_type, :objective, :honor_orders, :solver_status,
				:baseline_margin, :optimized_margin, :gain_abs, :gain_pct,
				:solve_time_ms, :variable_count, :constraint_count, :created_at, :detail
			)`, runRow{RunRecord: rec, Detail: detail})
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}

		// 2. Outcome lines
		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO run_outcomes (
				run_id, line, sku, package, class, kind, allocated_qty, price, unit_cost,
				unit_margin, revenue, cost, margin, variation, variation_pct, variation_anomaly
			) VALUES (
				:run_id, :line, :sku, :package, :class, :kind, :allocated_qty, :price, :unit_cost,
				:unit_margin, :revenue, :cost, :margin, :variation, :variation_pct, :variation_anomaly
			)`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i, o := range res.Outcomes {
			if _, err := stmt.ExecContext(ctx, toOutcomeRow(res.ID, i, o)); err != nil {
				return fmt.Errorf("failed to insert outcome %d: %w", i, err)
			}
		}
		return nil
	})
}

func (r *runRepository) GetRun(ctx context.Context, id string) (*domain.RunResult, error) {
	var row runRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, stock_date, stock_type, objective, honor_orders, solver_status,
			baseline_margin, optimized_margin, gain_abs, gain_pct,
			solve_time_ms, variable_count, constraint_count, created_at, detail
		FROM optimization_runs
		WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var outcomes []outcomeRow
	if err := r.db.SelectContext(ctx, &outcomes, `
		SELECT run_id, line, sku, package, class, kind, allocated_qty, price, unit_cost,
			unit_margin, revenue, cost, margin, variation, variation_pct, variation_anomaly
		FROM run_outcomes
		WHERE run_id = $1
		ORDER BY line`, id); err != nil {
		return nil, fmt.Errorf("failed to get run outcomes: %w", err)
	}

	return decodeDetail(row.RunRecord, row.Detail, outcomes)
}

func (r *runRepository) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.RunRecord
	if err := r.db.SelectContext(ctx, &out, `
		SELECT id, stock_date, stock_type, objective, honor_orders, solver_status,
			baseline_margin, optimized_margin, gain_abs, gain_pct,
			solve_time_ms, variable_count, constraint_count, created_at
		FROM optimization_runs
		ORDER BY created_at DESC, id
		LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return out, nil
}
