package milp

import "context"

type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusFailed
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Solution holds the outcome of a solve. Values are only present when Status is optimal.
type Solution struct {
	Status    Status
	Objective float64
	Nodes     int    // Number of LP relaxations solved
	Detail    string // Engine message for non-optimal outcomes
	values    []float64
}

func (s Solution) Value(v Var) float64 {
	if s.values == nil {
		return 0
	}
	return s.values[v]
}

// Values returns a copy of all variable values, nil unless optimal.
func (s Solution) Values() []float64 {
	if s.values == nil {
		return nil
	}
	return append([]float64(nil), s.values...)
}

// NewSolution is meant for solver implementations and tests.
func NewSolution(status Status, objective float64, values []float64) Solution {
	sol := Solution{Status: status, Objective: objective}
	if status == StatusOptimal {
		sol.values = append([]float64(nil), values...)
	}
	return sol
}

// Solver solves a Program. Implementations must not modify the program and must
// return StatusTimeout when ctx expires before a solution is proven optimal.
type Solver interface {
	Solve(ctx context.Context, p *Program) Solution
}
