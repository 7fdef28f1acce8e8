package solver

import (
	"context"
	"time"

	"github.com/andresuchdata/mixopt/internal/config"
	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/model"
)

// Params bound a single solve.
type Params struct {
	TimeLimit time.Duration
	// Gap is the accepted relative optimality gap. Exact LP methods
	// ignore it.
	Gap float64
}

// ParamsFromConfig reads the solver section of cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{TimeLimit: cfg.Solver.TimeLimit, Gap: cfg.Solver.Gap}
}

// Solution is the outcome of a solve. Values is indexed like Model.Vars
// and is nil unless Status is accepted.
type Solution struct {
	Status    domain.SolverStatus
	Values    []float64
	Objective float64
	Elapsed   time.Duration
	// Detail explains a degraded or failed status.
	Detail string
}

// Solver solves linear models. Implementations must not keep state
// between calls so that independent runs can solve in parallel.
//
// Infeasible and unbounded models are reported through Solution.Status
// with a nil error. The error is reserved for solves that produced no
// usable status at all and is then a *domain.SolverError.
type Solver interface {
	Solve(ctx context.Context, m *model.Model, params Params) (*Solution, error)
}
