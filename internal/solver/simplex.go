package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/andresuchdata/mixopt/internal/domain"
	"github.com/andresuchdata/mixopt/internal/model"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultTolerance = 1e-9
	// feasibilityTolerance is relative to the largest right-hand side or
	// finite bound.
	feasibilityTolerance = 1e-7
	pivotTolerance       = 1e-9
	// refactorEvery bounds the number of basis updates between two
	// refreshes of the basic values and multipliers.
	refactorEvery = 1000
	// denseInvertRows is the largest basis that a refresh inverts from
	// scratch. Larger bases keep their updated inverse, since a dense
	// inversion would block longer than the deadline checks allow.
	denseInvertRows = 400
	// blandAfter consecutive degenerate pivots switch pricing to Bland's
	// rule until the objective moves again.
	blandAfter = 50
)

var errIterationLimit = errors.New("iteration limit reached")

// Simplex is a bounded-variable primal simplex over the sparse constraint
// matrix of a model. Variable bounds are enforced in the ratio test, so a
// bounded variable never adds a row. The solve runs on the calling
// goroutine and checks its context between pivots.
type Simplex struct {
	// Tolerance is the reduced cost below which a basis is optimal,
	// relative to the largest objective coefficient.
	Tolerance float64
	// MaxIterations caps the pivots of one solve. Zero derives a cap from
	// the model size.
	MaxIterations int
}

// NewSimplex returns a simplex solver with the default tolerance.
func NewSimplex() *Simplex {
	return &Simplex{Tolerance: defaultTolerance}
}

// Solve runs phase one to find a feasible basis and phase two to optimize
// it, both under params.TimeLimit. When the budget runs out during phase
// two the current basis is feasible and comes back as a degraded
// StatusFeasible solution. Running out earlier, or a cancelled context,
// is a *domain.SolverError.
func (s *Simplex) Solve(ctx context.Context, m *model.Model, params Params) (*Solution, error) {
	start := time.Now()
	if len(m.Vars) == 0 {
		return nil, &domain.SolverError{Status: domain.StatusError, Err: errors.New("model has no variables")}
	}
	if len(m.Objective.Coef) != len(m.Vars) {
		return nil, &domain.SolverError{Status: domain.StatusError, Err: fmt.Errorf("objective has %d coefficients for %d variables", len(m.Objective.Coef), len(m.Vars))}
	}

	if params.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.TimeLimit)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.SolverError{Status: domain.StatusError, Err: err}
	}

	p, ok := newProblem(m)
	if !ok {
		return &Solution{Status: domain.StatusInfeasible, Elapsed: time.Since(start), Detail: "variable bounds cross"}, nil
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = defaultTolerance
	}
	p.dualTol = tol * p.costScale
	p.maxIter = s.MaxIterations
	if p.maxIter <= 0 {
		p.maxIter = max(10000, 20*(p.m+len(p.cols)))
	}

	// Phase one drives the artificial columns out of the basis.
	if p.artificials > 0 {
		res, err := p.iterate(ctx, p.phaseOneCost())
		if err != nil {
			return nil, &domain.SolverError{Status: domain.StatusError, Err: fmt.Errorf("phase one after %d iterations: %w", p.iter, err)}
		}
		if res == unbounded {
			return nil, &domain.SolverError{Status: domain.StatusError, Err: errors.New("phase one reported an unbounded ray")}
		}
		if p.infeasibility() > p.feasTol {
			return &Solution{Status: domain.StatusInfeasible, Elapsed: time.Since(start)}, nil
		}
		p.retireArtificials()
	}

	sol := &Solution{}
	res, err := p.iterate(ctx, p.cost)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errIterationLimit):
		sol.Status = domain.StatusFeasible
		sol.Detail = fmt.Sprintf("stopped after %d iterations: %v", p.iter, err)
	case err != nil:
		return nil, &domain.SolverError{Status: domain.StatusError, Err: err}
	case res == unbounded:
		return &Solution{Status: domain.StatusUnbounded, Elapsed: time.Since(start)}, nil
	default:
		sol.Status = domain.StatusOptimal
	}
	sol.Elapsed = time.Since(start)
	return s.finish(m, p, sol)
}

func (s *Simplex) finish(m *model.Model, p *problem, sol *Solution) (*Solution, error) {
	sol.Values = append([]float64(nil), p.x[:p.n]...)
	if err := m.Check(sol.Values, p.feasTol); err != nil {
		if sol.Status == domain.StatusOptimal {
			log.Warn().Err(err).Msg("solver: optimal basis fails the model check")
		}
		return nil, &domain.SolverError{Status: domain.StatusError, Err: fmt.Errorf("solution violates model: %w", err)}
	}
	sol.Objective = m.Evaluate(sol.Values)

	log.Debug().
		Str("status", sol.Status.String()).
		Float64("objective", sol.Objective).
		Int("rows", p.m).
		Int("iterations", p.iter).
		Dur("elapsed", sol.Elapsed).
		Msg("solver: simplex finished")

	return sol, nil
}

type varState uint8

const (
	basic varState = iota
	atLower
	atUpper
	// nonbasic free variable held at zero
	atZero
)

type column struct {
	rows []int
	vals []float64
}

type phaseResult int

const (
	optimal phaseResult = iota
	unbounded
)

// problem is min costᵀx s.t. Ax + s = b, lo ≤ x ≤ up, where every row has
// a logical column s whose bounds encode the row sense. Columns are laid
// out as model variables, then one logical per row, then the artificial
// columns phase one needs.
type problem struct {
	m, n  int
	cols  []column
	lo    []float64
	up    []float64
	cost  []float64
	b     []float64
	x     []float64
	state []varState

	head []int     // basic column of each row
	binv []float64 // row-major inverse of the basis matrix
	y    []float64 // simplex multipliers
	d    []float64 // reduced costs of the current pricing pass

	artificials int
	costScale   float64
	feasTol     float64
	dualTol     float64
	maxIter     int
	iter        int
}

func newProblem(m *model.Model) (*problem, bool) {
	nv, nr := len(m.Vars), len(m.Constraints)
	sign := 1.0
	if m.Objective.Direction == model.Maximize {
		sign = -1
	}

	p := &problem{m: nr, n: nv, b: make([]float64, nr), costScale: 1}
	total := nv + nr
	p.cols = make([]column, total, total+nr)
	p.lo = make([]float64, total, total+nr)
	p.up = make([]float64, total, total+nr)
	p.cost = make([]float64, total, total+nr)

	scale := 1.0
	for i, con := range m.Constraints {
		p.b[i] = con.RHS
		scale = math.Max(scale, math.Abs(con.RHS))
		for _, t := range con.Terms {
			if t.Coef == 0 {
				continue
			}
			c := &p.cols[t.Var]
			c.rows = append(c.rows, i)
			c.vals = append(c.vals, t.Coef)
		}
	}
	for j, v := range m.Vars {
		if v.Lower > v.Upper {
			return nil, false
		}
		p.lo[j], p.up[j] = v.Lower, v.Upper
		p.cost[j] = sign * m.Objective.Coef[j]
		p.costScale = math.Max(p.costScale, math.Abs(p.cost[j]))
		for _, bound := range []float64{v.Lower, v.Upper} {
			if !math.IsInf(bound, 0) {
				scale = math.Max(scale, math.Abs(bound))
			}
		}
	}
	p.feasTol = feasibilityTolerance * scale

	for i, con := range m.Constraints {
		j := nv + i
		p.cols[j] = column{rows: []int{i}, vals: []float64{1}}
		switch con.Sense {
		case model.LE:
			p.lo[j], p.up[j] = 0, math.Inf(1)
		case model.GE:
			p.lo[j], p.up[j] = math.Inf(-1), 0
		default:
			p.lo[j], p.up[j] = 0, 0
		}
	}

	// Structural columns start at a finite bound.
	p.x = make([]float64, total, total+nr)
	p.state = make([]varState, total, total+nr)
	for j := 0; j < nv; j++ {
		switch {
		case !math.IsInf(p.lo[j], -1):
			p.x[j], p.state[j] = p.lo[j], atLower
		case !math.IsInf(p.up[j], 1):
			p.x[j], p.state[j] = p.up[j], atUpper
		default:
			p.x[j], p.state[j] = 0, atZero
		}
	}

	// Each logical takes up its row's residual when its bounds allow it;
	// otherwise an artificial column does and phase one removes it.
	residual := append([]float64(nil), p.b...)
	for j := 0; j < nv; j++ {
		if p.x[j] == 0 {
			continue
		}
		c := p.cols[j]
		for k, i := range c.rows {
			residual[i] -= c.vals[k] * p.x[j]
		}
	}
	p.head = make([]int, nr)
	p.binv = make([]float64, nr*nr)
	for i := 0; i < nr; i++ {
		s := nv + i
		r := residual[i]
		if r >= p.lo[s] && r <= p.up[s] {
			p.x[s], p.state[s] = r, basic
			p.head[i] = s
			p.binv[i*nr+i] = 1
			continue
		}
		p.x[s] = 0
		if p.lo[s] == 0 {
			p.state[s] = atLower
		} else {
			p.state[s] = atUpper
		}
		sigma := 1.0
		if r < 0 {
			sigma = -1
		}
		a := len(p.cols)
		p.cols = append(p.cols, column{rows: []int{i}, vals: []float64{sigma}})
		p.lo = append(p.lo, 0)
		p.up = append(p.up, math.Inf(1))
		p.cost = append(p.cost, 0)
		p.x = append(p.x, math.Abs(r))
		p.state = append(p.state, basic)
		p.head[i] = a
		p.binv[i*nr+i] = sigma
		p.artificials++
	}
	p.y = make([]float64, nr)
	p.d = make([]float64, len(p.cols))
	return p, true
}

func (p *problem) phaseOneCost() []float64 {
	c := make([]float64, len(p.cols))
	for j := p.n + p.m; j < len(p.cols); j++ {
		c[j] = 1
	}
	return c
}

func (p *problem) infeasibility() float64 {
	sum := 0.0
	for j := p.n + p.m; j < len(p.cols); j++ {
		sum += p.x[j]
	}
	return sum
}

// retireArtificials pins every artificial column at zero. Basic ones stay
// in the basis until a degenerate pivot moves them out.
func (p *problem) retireArtificials() {
	for j := p.n + p.m; j < len(p.cols); j++ {
		p.up[j] = 0
		if p.state[j] != basic {
			p.x[j], p.state[j] = 0, atLower
		}
	}
}

// iterate pivots until no column prices out under cost. A fresh basis
// inverse confirms optimality before it is reported.
func (p *problem) iterate(ctx context.Context, cost []float64) (phaseResult, error) {
	p.computeY(cost)
	alpha := make([]float64, p.m)
	sinceRefactor, degenerate := 0, 0
	bland := false
	for {
		if err := ctx.Err(); err != nil {
			return optimal, err
		}
		if p.iter >= p.maxIter {
			return optimal, errIterationLimit
		}
		if sinceRefactor >= refactorEvery {
			p.refactor(cost)
			sinceRefactor = 0
		}

		q, dir := p.price(cost, bland)
		if q < 0 {
			if sinceRefactor == 0 {
				return optimal, nil
			}
			p.refactor(cost)
			sinceRefactor = 0
			if q, dir = p.price(cost, bland); q < 0 {
				return optimal, nil
			}
		}

		p.ftran(q, alpha)
		theta, row := p.ratio(q, dir, alpha, bland)
		if math.IsInf(theta, 1) {
			return unbounded, nil
		}
		p.pivot(q, dir, theta, row, alpha)
		p.iter++
		sinceRefactor++

		if theta <= pivotTolerance {
			degenerate++
			bland = bland || degenerate > blandAfter
		} else {
			degenerate, bland = 0, false
		}
	}
}

func (p *problem) computeY(cost []float64) {
	m := p.m
	clear(p.y)
	for r, j := range p.head {
		c := cost[j]
		if c == 0 {
			continue
		}
		row := p.binv[r*m : (r+1)*m]
		for i, v := range row {
			p.y[i] += c * v
		}
	}
}

// price picks the entering column by largest reduced cost, or the lowest
// eligible index under Bland's rule. dir is +1 when the column grows.
func (p *problem) price(cost []float64, bland bool) (int, int) {
	best, bestDir, bestScore := -1, 0, 0.0
	for j, c := range p.cols {
		st := p.state[j]
		if st == basic || p.lo[j] == p.up[j] {
			continue
		}
		d := cost[j]
		for k, i := range c.rows {
			d -= p.y[i] * c.vals[k]
		}
		p.d[j] = d

		dir := 0
		switch {
		case d < -p.dualTol && (st == atLower || st == atZero):
			dir = 1
		case d > p.dualTol && (st == atUpper || st == atZero):
			dir = -1
		}
		if dir == 0 {
			continue
		}
		if bland {
			return j, dir
		}
		if score := math.Abs(d); score > bestScore {
			best, bestDir, bestScore = j, dir, score
		}
	}
	return best, bestDir
}

// ftran computes alpha = B⁻¹ a_q.
func (p *problem) ftran(q int, alpha []float64) {
	m := p.m
	clear(alpha)
	c := p.cols[q]
	for k, i := range c.rows {
		v := c.vals[k]
		for r := 0; r < m; r++ {
			alpha[r] += p.binv[r*m+i] * v
		}
	}
}

// ratio returns the step length and the row whose basic column leaves,
// or row -1 when the entering column reaches its own opposite bound first.
func (p *problem) ratio(q, dir int, alpha []float64, bland bool) (float64, int) {
	theta, row := math.Inf(1), -1
	if !math.IsInf(p.lo[q], -1) && !math.IsInf(p.up[q], 1) {
		theta = p.up[q] - p.lo[q]
	}
	for r, a := range alpha {
		if math.Abs(a) <= pivotTolerance {
			continue
		}
		j := p.head[r]
		rate := -float64(dir) * a
		var t float64
		if rate < 0 {
			if math.IsInf(p.lo[j], -1) {
				continue
			}
			t = (p.x[j] - p.lo[j]) / -rate
		} else {
			if math.IsInf(p.up[j], 1) {
				continue
			}
			t = (p.up[j] - p.x[j]) / rate
		}
		t = math.Max(t, 0)

		if math.IsInf(theta, 1) {
			theta, row = t, r
			continue
		}
		tie := pivotTolerance * math.Max(1, theta)
		switch {
		case t < theta-tie:
			theta, row = t, r
		case t <= theta+tie && row >= 0:
			if bland {
				if j < p.head[row] {
					theta, row = math.Min(t, theta), r
				}
			} else if math.Abs(a) > math.Abs(alpha[row]) {
				theta, row = math.Min(t, theta), r
			}
		}
	}
	return theta, row
}

func (p *problem) pivot(q, dir int, theta float64, row int, alpha []float64) {
	step := float64(dir) * theta
	if step != 0 {
		for r, a := range alpha {
			if a != 0 {
				p.x[p.head[r]] -= step * a
			}
		}
		p.x[q] += step
	}

	if row < 0 {
		if dir > 0 {
			p.x[q], p.state[q] = p.up[q], atUpper
		} else {
			p.x[q], p.state[q] = p.lo[q], atLower
		}
		return
	}

	leaving := p.head[row]
	if -float64(dir)*alpha[row] < 0 {
		p.x[leaving], p.state[leaving] = p.lo[leaving], atLower
	} else {
		p.x[leaving], p.state[leaving] = p.up[leaving], atUpper
	}
	p.head[row] = q
	p.state[q] = basic

	// y moves along the old pivot row of B⁻¹ so that q prices at zero.
	m := p.m
	pr := p.binv[row*m : (row+1)*m]
	if f := p.d[q] / alpha[row]; f != 0 {
		for i, v := range pr {
			p.y[i] += f * v
		}
	}

	inv := 1 / alpha[row]
	nz := make([]int, 0, m)
	for i := range pr {
		if pr[i] != 0 {
			pr[i] *= inv
			nz = append(nz, i)
		}
	}
	for r, a := range alpha {
		if r == row || a == 0 {
			continue
		}
		dst := p.binv[r*m : (r+1)*m]
		for _, i := range nz {
			dst[i] -= a * pr[i]
		}
	}
}

// refactor recomputes the basic values and multipliers from the basis
// inverse, inverting small bases from scratch first.
func (p *problem) refactor(cost []float64) {
	m := p.m
	if m == 0 {
		return
	}
	if m <= denseInvertRows {
		p.invert()
	}

	rhs := append([]float64(nil), p.b...)
	for j, c := range p.cols {
		if p.state[j] == basic || p.x[j] == 0 {
			continue
		}
		for k, i := range c.rows {
			rhs[i] -= c.vals[k] * p.x[j]
		}
	}
	for r, j := range p.head {
		row := p.binv[r*m : (r+1)*m]
		v := 0.0
		for i, w := range row {
			v += w * rhs[i]
		}
		p.x[j] = v
	}
	p.computeY(cost)
}

// invert replaces the updated inverse with a fresh one. A basis gonum
// cannot invert keeps the updated inverse.
func (p *problem) invert() {
	m := p.m
	basis := mat.NewDense(m, m, nil)
	for r, j := range p.head {
		c := p.cols[j]
		for k, i := range c.rows {
			basis.Set(i, r, basis.At(i, r)+c.vals[k])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(basis); err != nil {
		log.Debug().Err(err).Int("rows", m).Msg("solver: basis inversion skipped")
		return
	}
	raw := inv.RawMatrix()
	for r := 0; r < m; r++ {
		copy(p.binv[r*m:(r+1)*m], raw.Data[r*raw.Stride:r*raw.Stride+m])
	}
}
