package model

import (
	"fmt"
	"math"
)

// Sense is the direction of a linear constraint.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	default:
		return "="
	}
}

// Direction is the optimization direction of the objective.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

type VarKind int

const (
	// Alloc is the quantity of a SKU sold in one package.
	Alloc VarKind = iota
	// Fulfilled is the quantity of a SKU's open orders served.
	Fulfilled
)

type ConstraintKind string

const (
	ClassCapacity ConstraintKind = "class_capacity"
	Reallocation  ConstraintKind = "reallocation"
	SkuDemand     ConstraintKind = "sku_demand"
	ClassCoverage ConstraintKind = "class_coverage"
)

// Variable is a continuous decision variable with bounds. Upper may be
// +Inf. Row points into Dataset.Rows for Alloc variables and is -1 for
// Fulfilled ones.
type Variable struct {
	Name  string
	Kind  VarKind
	Row   int
	SKU   int64
	Class string
	Lower float64
	Upper float64
}

type Term struct {
	Var  int
	Coef float64
}

type Constraint struct {
	Name  string
	Kind  ConstraintKind
	Terms []Term
	Sense Sense
	RHS   float64
}

type Objective struct {
	Direction Direction
	Coef      []float64
}

// Model is a linear program independent of any solver.
type Model struct {
	Name        string
	Vars        []Variable
	Constraints []Constraint
	Objective   Objective
}

// Stats reports the model size.
type Stats struct {
	Variables   int
	Constraints int
}

func (m *Model) Stats() Stats {
	return Stats{Variables: len(m.Vars), Constraints: len(m.Constraints)}
}

// Evaluate returns the objective value of x.
func (m *Model) Evaluate(x []float64) float64 {
	total := 0.0
	for i, c := range m.Objective.Coef {
		total += c * x[i]
	}
	return total
}

// Activity returns the left-hand side of c at x.
func (c Constraint) Activity(x []float64) float64 {
	total := 0.0
	for _, t := range c.Terms {
		total += t.Coef * x[t.Var]
	}
	return total
}

// Check returns an error naming the first bound or constraint x violates
// by more than tol.
func (m *Model) Check(x []float64, tol float64) error {
	if len(x) != len(m.Vars) {
		return fmt.Errorf("solution has %d values for %d variables", len(x), len(m.Vars))
	}
	for i, v := range m.Vars {
		if x[i] < v.Lower-tol || (!math.IsInf(v.Upper, 1) && x[i] > v.Upper+tol) {
			return fmt.Errorf("%s = %g outside [%g, %g]", v.Name, x[i], v.Lower, v.Upper)
		}
	}
	for _, c := range m.Constraints {
		lhs := c.Activity(x)
		var ok bool
		switch c.Sense {
		case LE:
			ok = lhs <= c.RHS+tol
		case GE:
			ok = lhs >= c.RHS-tol
		default:
			ok = math.Abs(lhs-c.RHS) <= tol
		}
		if !ok {
			return fmt.Errorf("%s: %g %s %g violated", c.Name, lhs, c.Sense, c.RHS)
		}
	}
	return nil
}
