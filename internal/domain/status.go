package domain

import "strings"

// SolverStatus is the normalized outcome of a solve.
type SolverStatus int

const (
	StatusError SolverStatus = iota
	StatusOptimal
	StatusFeasible
	StatusInfeasible
	StatusUnbounded
)

var solverStatusLabels = map[SolverStatus]string{
	StatusError:      "ERROR",
	StatusOptimal:    "OPTIMAL",
	StatusFeasible:   "FEASIBLE",
	StatusInfeasible: "INFEASIBLE",
	StatusUnbounded:  "UNBOUNDED",
}

var solverStatusCodes = map[string]SolverStatus{
	"error":      StatusError,
	"optimal":    StatusOptimal,
	"feasible":   StatusFeasible,
	"infeasible": StatusInfeasible,
	"unbounded":  StatusUnbounded,
}

// SolverStatusLabel returns the upper-case label for a solver status.
func SolverStatusLabel(status SolverStatus) string {
	if label, ok := solverStatusLabels[status]; ok {
		return label
	}

	return "UNKNOWN"
}

// ParseSolverStatus returns the status for a label (case-insensitive).
func ParseSolverStatus(label string) (SolverStatus, bool) {
	status, ok := solverStatusCodes[strings.ToLower(strings.TrimSpace(label))]

	return status, ok
}

func (s SolverStatus) String() string { return SolverStatusLabel(s) }

// Accepted reports whether the solution values can be extracted.
func (s SolverStatus) Accepted() bool {
	return s == StatusOptimal || s == StatusFeasible
}

func (s SolverStatus) MarshalText() ([]byte, error) {
	return []byte(SolverStatusLabel(s)), nil
}

func (s *SolverStatus) UnmarshalText(text []byte) error {
	if status, ok := ParseSolverStatus(string(text)); ok {
		*s = status
		return nil
	}
	*s = StatusError
	return nil
}
