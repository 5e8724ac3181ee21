package milp

import (
	"fmt"
	"math"
)

type Kind int

const (
	Continuous Kind = iota
	Binary
)

func (k Kind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

type Sense int

const (
	LessEq Sense = iota
	GreaterEq
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEq:
		return "<="
	case GreaterEq:
		return ">="
	case Equal:
		return "="
	default:
		return "?"
	}
}

// Var is the index of a variable within the program that created it.
type Var int

type Term struct {
	Var  Var
	Coef float64
}

// Variable is nonnegative. Upper is +Inf when unbounded, binaries are always bounded by 1.
type Variable struct {
	Name  string
	Kind  Kind
	Upper float64
}

type Constraint struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Satisfied reports whether x satisfies the constraint within tol.
func (c Constraint) Satisfied(x []float64, tol float64) bool {
	lhs := 0.0
	for _, t := range c.Terms {
		lhs += t.Coef * x[t.Var]
	}
	switch c.Sense {
	case LessEq:
		return lhs <= c.RHS+tol
	case GreaterEq:
		return lhs >= c.RHS-tol
	default:
		return math.Abs(lhs-c.RHS) <= tol
	}
}

// Program is a snapshot of variables, constraints and a linear objective to minimize.
// It is never modified once built.
type Program struct {
	vars      []Variable
	cons      []Constraint
	objective []float64
	binaries  []Var
}

func (p *Program) NumVars() int {
	return len(p.vars)
}

func (p *Program) NumConstraints() int {
	return len(p.cons)
}

func (p *Program) Variable(v Var) Variable {
	return p.vars[v]
}

func (p *Program) Constraint(i int) Constraint {
	return p.cons[i]
}

// Cost returns the objective coefficient of v.
func (p *Program) Cost(v Var) float64 {
	return p.objective[v]
}

// Binaries returns the binary variables in creation order.
func (p *Program) Binaries() []Var {
	return append([]Var(nil), p.binaries...)
}

// Evaluate returns the objective value of x.
func (p *Program) Evaluate(x []float64) float64 {
	sum := 0.0
	for j, c := range p.objective {
		sum += c * x[j]
	}
	return sum
}

func (p *Program) String() string {
	return fmt.Sprintf("program(vars=%d, binaries=%d, constraints=%d)", len(p.vars), len(p.binaries), len(p.cons))
}

// Builder assembles a Program. A Builder is not safe for concurrent use.
type Builder struct {
	vars      []Variable
	cons      []Constraint
	objective []float64
}

func NewBuilder() *Builder {
	return &Builder{}
}

// AddVar adds a nonnegative variable. Pass math.Inf(1) for no upper bound.
func (b *Builder) AddVar(name string, kind Kind, upper float64) Var {
	if kind == Binary {
		upper = 1
	}
	b.vars = append(b.vars, Variable{Name: name, Kind: kind, Upper: upper})
	b.objective = append(b.objective, 0)
	return Var(len(b.vars) - 1)
}

// AddConstraint adds a linear constraint. Zero coefficients are dropped and repeated
// variables are merged.
func (b *Builder) AddConstraint(name string, sense Sense, rhs float64, terms ...Term) {
	merged := make([]Term, 0, len(terms))
	index := make(map[Var]int, len(terms))
	for _, t := range terms {
		if i, ok := index[t.Var]; ok {
			merged[i].Coef += t.Coef
			continue
		}
		index[t.Var] = len(merged)
		merged = append(merged, t)
	}
	out := merged[:0]
	for _, t := range merged {
		if t.Coef != 0 {
			out = append(out, t)
		}
	}
	b.cons = append(b.cons, Constraint{Name: name, Terms: out, Sense: sense, RHS: rhs})
}

// SetUpper tightens the upper bound of v, a looser bound than the current one is ignored.
func (b *Builder) SetUpper(v Var, upper float64) {
	b.vars[v].Upper = min(b.vars[v].Upper, upper)
}

// SetCost adds c to the objective coefficient of v.
func (b *Builder) SetCost(v Var, c float64) {
	b.objective[v] += c
}

func (b *Builder) Build() *Program {
	p := &Program{
		vars:      append([]Variable(nil), b.vars...),
		cons:      make([]Constraint, len(b.cons)),
		objective: append([]float64(nil), b.objective...),
	}
	for i, c := range b.cons {
		c.Terms = append([]Term(nil), c.Terms...)
		p.cons[i] = c
	}
	for j, v := range p.vars {
		if v.Kind == Binary {
			p.binaries = append(p.binaries, Var(j))
		}
	}
	return p
}
