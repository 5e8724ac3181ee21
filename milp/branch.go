package milp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

type Options struct {
	Tolerance            float64 // Reduced cost tolerance handed to the simplex, default 1e-10
	IntegralityTolerance float64 // Distance from 0/1 accepted as integral, default 1e-6
	FeasibilityTolerance float64 // Constraint slack accepted when repairing, default 1e-6
	MaxNodes             int     // Relaxations per solve, 0 means unlimited
}

// SimplexSolver solves linear programs with gonum's simplex implementation. Programs with
// binary variables are solved by depth-first branch and bound over the LP relaxation.
// A running simplex cannot be interrupted, the context is checked between relaxations so
// a deadline may be overrun by one of them.
type SimplexSolver struct {
	logger *slog.Logger
	opts   Options
}

func NewSimplexSolver(logger *slog.Logger, opts Options) *SimplexSolver {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-10
	}
	if opts.IntegralityTolerance <= 0 {
		opts.IntegralityTolerance = 1e-6
	}
	if opts.FeasibilityTolerance <= 0 {
		opts.FeasibilityTolerance = 1e-6
	}
	return &SimplexSolver{logger: logger, opts: opts}
}

type node struct {
	fixed map[Var]float64
}

func (n node) with(v Var, val float64) node {
	fixed := make(map[Var]float64, len(n.fixed)+1)
	for k, x := range n.fixed {
		fixed[k] = x
	}
	fixed[v] = val
	return node{fixed: fixed}
}

func (s *SimplexSolver) Solve(ctx context.Context, p *Program) Solution {
	binaries := p.Binaries()
	if len(binaries) == 0 {
		if err := ctx.Err(); err != nil {
			return Solution{Status: ctxStatus(err), Detail: err.Error()}
		}
		r := solveRelaxation(p, nil, s.opts.Tolerance)
		sol := NewSolution(r.status, r.objective, r.x)
		sol.Nodes = 1
		sol.Detail = r.detail
		return sol
	}

	occurs := make(map[Var][]int, len(binaries))
	for i := range p.NumConstraints() {
		for _, t := range p.Constraint(i).Terms {
			if p.Variable(t.Var).Kind == Binary {
				occurs[t.Var] = append(occurs[t.Var], i)
			}
		}
	}

	best := math.Inf(1)
	var incumbent []float64
	nodes := 0
	stack := []node{{fixed: map[Var]float64{}}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return Solution{Status: ctxStatus(err), Nodes: nodes, Detail: err.Error()}
		}
		if s.opts.MaxNodes > 0 && nodes >= s.opts.MaxNodes {
			return Solution{Status: StatusFailed, Nodes: nodes, Detail: fmt.Sprintf("node limit %d reached", s.opts.MaxNodes)}
		}

		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		r := solveRelaxation(p, n.fixed, s.opts.Tolerance)
		nodes++
		switch r.status {
		case StatusOptimal:
		case StatusInfeasible:
			continue
		default:
			return Solution{Status: r.status, Nodes: nodes, Detail: r.detail}
		}

		if r.objective >= best-gap(best) {
			continue
		}

		j, fractional := s.mostFractional(r.x, binaries)
		if !fractional {
			best, incumbent = r.objective, s.snap(r.x, binaries)
			continue
		}

		if x, ok := s.repair(p, r.x, binaries, occurs); ok {
			if obj := p.Evaluate(x); obj < best {
				best, incumbent = obj, x
			}
			if best <= r.objective+gap(best) {
				continue
			}
		}

		near := math.Round(r.x[j])
		stack = append(stack, n.with(j, 1-near), n.with(j, near))
	}

	if incumbent == nil {
		return Solution{Status: StatusInfeasible, Nodes: nodes, Detail: "no integral solution"}
	}

	s.logger.Debug("branch and bound done", slog.Int("nodes", nodes), slog.Float64("objective", best))
	sol := NewSolution(StatusOptimal, best, incumbent)
	sol.Nodes = nodes
	return sol
}

func ctxStatus(err error) Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	return StatusFailed
}

func gap(best float64) float64 {
	if math.IsInf(best, 1) {
		return 0
	}
	return 1e-9 * math.Max(1, math.Abs(best))
}

// mostFractional returns the binary furthest from integrality, lowest index on ties.
func (s *SimplexSolver) mostFractional(x []float64, binaries []Var) (Var, bool) {
	pick, dist := Var(-1), s.opts.IntegralityTolerance
	for _, v := range binaries {
		d := math.Abs(x[v] - math.Round(x[v]))
		if d > dist {
			pick, dist = v, d
		}
	}
	return pick, pick >= 0
}

func (s *SimplexSolver) snap(x []float64, binaries []Var) []float64 {
	out := append([]float64(nil), x...)
	for _, v := range binaries {
		out[v] = math.Round(out[v])
	}
	return out
}

// repair rounds each binary to whichever of 0 or 1 keeps the constraints it appears in
// satisfied, with the continuous values left untouched.
func (s *SimplexSolver) repair(p *Program, x []float64, binaries []Var, occurs map[Var][]int) ([]float64, bool) {
	out := s.snap(x, binaries)
	tol := s.opts.FeasibilityTolerance
	for _, v := range binaries {
		ok := false
		for _, val := range []float64{out[v], 1 - out[v]} {
			out[v] = val
			if s.holds(p, out, occurs[v], tol) {
				ok = true
				break
			}
		}
		if !ok {
			return nil, false
		}
	}
	for i := range p.NumConstraints() {
		if !p.Constraint(i).Satisfied(out, tol) {
			return nil, false
		}
	}
	return out, true
}

func (s *SimplexSolver) holds(p *Program, x []float64, cons []int, tol float64) bool {
	for _, i := range cons {
		if !p.Constraint(i).Satisfied(x, tol) {
			return false
		}
	}
	return true
}
