package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound      = errors.New("run not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSolverNotInvoked = errors.New("solver not invoked")
)

// SchemaError reports a required field that no column of File could be
// resolved to.
type SchemaError struct {
	File  string
	Field string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: required field %q not found in header", e.File, e.Field)
}

// ParseError reports a value that could not be converted.
type ParseError struct {
	File   string
	Row    int
	Column string
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	loc := e.File
	if e.Row > 0 {
		loc = fmt.Sprintf("%s row %d", loc, e.Row)
	}
	if e.Column != "" {
		loc = fmt.Sprintf("%s column %q", loc, e.Column)
	}
	if loc == "" {
		return fmt.Sprintf("cannot parse %q: %s", e.Value, e.Reason)
	}
	return fmt.Sprintf("%s: cannot parse %q: %s", loc, e.Value, e.Reason)
}

// DatasetEmptyError is returned when no allocation row survives the joins.
type DatasetEmptyError struct {
	Reason string
}

func (e *DatasetEmptyError) Error() string {
	if e.Reason == "" {
		return "dataset is empty"
	}
	return "dataset is empty: " + e.Reason
}

// InfeasibleModelError carries the model size so callers can tell a
// structurally broken model from an overconstrained one.
type InfeasibleModelError struct {
	Variables   int
	Constraints int
}

func (e *InfeasibleModelError) Error() string {
	return fmt.Sprintf("model is infeasible (%d variables, %d constraints)", e.Variables, e.Constraints)
}

// SolverError wraps an unusable solver outcome.
type SolverError struct {
	Status SolverStatus
	Err    error
}

func (e *SolverError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("solver finished with status %s", SolverStatusLabel(e.Status))
	}
	return fmt.Sprintf("solver finished with status %s: %v", SolverStatusLabel(e.Status), e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }

// IsInputError reports whether err was caused by the input data rather
// than by the optimizer or the infrastructure.
func IsInputError(err error) bool {
	var schemaErr *SchemaError
	var parseErr *ParseError
	var emptyErr *DatasetEmptyError
	return errors.As(err, &schemaErr) || errors.As(err, &parseErr) || errors.As(err, &emptyErr)
}
