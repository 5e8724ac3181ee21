package milp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

type relaxation struct {
	status    Status
	objective float64
	x         []float64
	detail    string
}

type row struct {
	terms []Term
	slack float64 // +1 for <=, -1 for >=, 0 for =
	rhs   float64
}

// solveRelaxation solves the LP relaxation of p with the variables in fixed pinned to
// their values. The program is translated into gonum's standard form
// (min cᵀx, Ax = b, x >= 0) with one slack column per inequality and per finite
// upper bound.
func solveRelaxation(p *Program, fixed map[Var]float64, tol float64) relaxation {
	fixed = pinZeroBounds(p, fixed)
	n := p.NumVars()
	x := make([]float64, n)
	for v, val := range fixed {
		x[v] = val
	}

	rows := make([]row, 0, p.NumConstraints()+n)
	for i := range p.NumConstraints() {
		c := p.Constraint(i)
		r := row{rhs: c.RHS}
		for _, t := range c.Terms {
			if val, ok := fixed[t.Var]; ok {
				r.rhs -= t.Coef * val
				continue
			}
			r.terms = append(r.terms, t)
		}
		switch c.Sense {
		case LessEq:
			r.slack = 1
		case GreaterEq:
			r.slack = -1
		}
		if len(r.terms) == 0 {
			// Every variable in the row is fixed, only feasibility is left to check.
			if !(Constraint{Sense: c.Sense, RHS: r.rhs}).Satisfied(nil, 1e-9) {
				return relaxation{status: StatusInfeasible, detail: fmt.Sprintf("constraint %q violated by fixed variables", c.Name)}
			}
			continue
		}
		rows = append(rows, r)
	}
	for j := range n {
		v := Var(j)
		if _, ok := fixed[v]; ok {
			continue
		}
		if up := p.Variable(v).Upper; !math.IsInf(up, 1) {
			rows = append(rows, row{terms: []Term{{Var: v, Coef: 1}}, slack: 1, rhs: up})
		}
	}

	used := make([]bool, n)
	for _, r := range rows {
		for _, t := range r.terms {
			used[t.Var] = true
		}
	}
	column := make(map[Var]int, n)
	active := make([]Var, 0, n)
	for j := range n {
		v := Var(j)
		if _, ok := fixed[v]; ok {
			continue
		}
		if !used[j] {
			// A free-standing variable stays at its lower bound unless it pays to grow it.
			if p.Cost(v) < 0 {
				return relaxation{status: StatusUnbounded, detail: fmt.Sprintf("variable %q is unconstrained with negative cost", p.Variable(v).Name)}
			}
			continue
		}
		column[v] = len(active)
		active = append(active, v)
	}

	if len(rows) == 0 {
		return relaxation{status: StatusOptimal, objective: p.Evaluate(x), x: x}
	}

	slacks := 0
	for _, r := range rows {
		if r.slack != 0 {
			slacks++
		}
	}
	cols := len(active) + slacks
	a := mat.NewDense(len(rows), cols, nil)
	b := make([]float64, len(rows))
	c := make([]float64, cols)
	for k, v := range active {
		c[k] = p.Cost(v)
	}

	next := len(active)
	for i, r := range rows {
		sign := 1.0
		if r.rhs < 0 {
			sign = -1
		}
		for _, t := range r.terms {
			a.Set(i, column[t.Var], a.At(i, column[t.Var])+sign*t.Coef)
		}
		if r.slack != 0 {
			a.Set(i, next, sign*r.slack)
			next++
		}
		b[i] = sign * r.rhs
	}

	optX, err := simplex(c, a, b, tol)
	if err != nil {
		switch {
		case errors.Is(err, lp.ErrInfeasible):
			return relaxation{status: StatusInfeasible, detail: err.Error()}
		case errors.Is(err, lp.ErrUnbounded):
			return relaxation{status: StatusUnbounded, detail: err.Error()}
		default:
			return relaxation{status: StatusFailed, detail: err.Error()}
		}
	}

	for k, v := range active {
		x[v] = optX[k]
	}
	return relaxation{status: StatusOptimal, objective: p.Evaluate(x), x: x}
}

// pinZeroBounds adds the variables an upper bound of zero leaves no room to move to
// fixed, so they take neither a column nor a bound row.
func pinZeroBounds(p *Program, fixed map[Var]float64) map[Var]float64 {
	out := make(map[Var]float64, len(fixed))
	for v, val := range fixed {
		out[v] = val
	}
	for j := range p.NumVars() {
		v := Var(j)
		if _, ok := out[v]; !ok && p.Variable(v).Upper == 0 {
			out[v] = 0
		}
	}
	return out
}

// simplex shields callers from the panics gonum raises on malformed input.
func simplex(c []float64, a *mat.Dense, b []float64, tol float64) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("simplex panicked: %v", r)
		}
	}()
	_, x, err = lp.Simplex(c, a, b, tol, nil)
	return x, err
}
