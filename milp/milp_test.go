package milp

import (
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSolver() *SimplexSolver {
	return NewSimplexSolver(slog.Default(), Options{})
}

func TestBuilderMergesTerms(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, math.Inf(1))
	y := b.AddVar("y", Binary, 7)
	b.AddConstraint("c", LessEq, 3, Term{x, 1}, Term{x, 2}, Term{y, 0})
	b.SetCost(x, 2)
	b.SetCost(x, 0.5)
	p := b.Build()

	require.Equal(t, 1, p.NumConstraints())
	assert.Equal(t, []Term{{x, 3}}, p.Constraint(0).Terms)
	assert.Equal(t, 1.0, p.Variable(y).Upper, "binaries are bounded by one")
	assert.Equal(t, []Var{y}, p.Binaries())
	assert.Equal(t, 2.5, p.Cost(x))

	// Building again must not share state with the first program.
	b.AddConstraint("d", Equal, 1, Term{y, 1})
	assert.Equal(t, 1, p.NumConstraints())
}

func TestSolveLinearProgram(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, math.Inf(1))
	y := b.AddVar("y", Continuous, math.Inf(1))
	b.AddConstraint("c1", LessEq, 4, Term{x, 1}, Term{y, 2})
	b.AddConstraint("c2", LessEq, 6, Term{x, 3}, Term{y, 1})
	b.SetCost(x, -1)
	b.SetCost(y, -1)

	sol := newSolver().Solve(context.Background(), b.Build())

	require.Equal(t, StatusOptimal, sol.Status, sol.Detail)
	assert.InDelta(t, 1.6, sol.Value(x), 1e-9)
	assert.InDelta(t, 1.2, sol.Value(y), 1e-9)
	assert.InDelta(t, -2.8, sol.Objective, 1e-9)
	assert.Equal(t, 1, sol.Nodes)
}

func TestSolveRespectsUpperBounds(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, 2.5)
	b.AddConstraint("c", GreaterEq, 1, Term{x, 1})
	b.SetCost(x, -1)

	sol := newSolver().Solve(context.Background(), b.Build())

	require.Equal(t, StatusOptimal, sol.Status, sol.Detail)
	assert.InDelta(t, 2.5, sol.Value(x), 1e-9)
}

func TestSolveUnconstrainedVariable(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, math.Inf(1))
	free := b.AddVar("free", Continuous, math.Inf(1))
	b.AddConstraint("c", Equal, 3, Term{x, 1})
	b.SetCost(free, 4)

	sol := newSolver().Solve(context.Background(), b.Build())

	require.Equal(t, StatusOptimal, sol.Status, sol.Detail)
	assert.InDelta(t, 3, sol.Value(x), 1e-9)
	assert.Equal(t, 0.0, sol.Value(free))
}

func TestSolveUnbounded(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, math.Inf(1))
	y := b.AddVar("y", Continuous, math.Inf(1))
	b.AddConstraint("c", LessEq, 1, Term{x, 1}, Term{y, -1})
	b.SetCost(x, -1)

	sol := newSolver().Solve(context.Background(), b.Build())

	assert.Equal(t, StatusUnbounded, sol.Status)
	assert.Nil(t, sol.Values())
}

func TestSolveInfeasible(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, math.Inf(1))
	y := b.AddVar("y", Continuous, math.Inf(1))
	b.AddConstraint("sum", Equal, 1, Term{x, 1}, Term{y, 1})
	b.AddConstraint("atLeast", GreaterEq, 2, Term{x, 1}, Term{y, 1})

	sol := newSolver().Solve(context.Background(), b.Build())

	assert.Equal(t, StatusInfeasible, sol.Status)
}

func TestBranchAndBoundKnapsack(t *testing.T) {
	weights := []float64{2, 3, 4}
	values := []float64{3, 4, 6}

	b := NewBuilder()
	items := make([]Var, len(weights))
	terms := make([]Term, len(weights))
	for i := range weights {
		items[i] = b.AddVar("item", Binary, 1)
		terms[i] = Term{items[i], weights[i]}
		b.SetCost(items[i], -values[i])
	}
	b.AddConstraint("capacity", LessEq, 5, terms...)

	sol := newSolver().Solve(context.Background(), b.Build())

	require.Equal(t, StatusOptimal, sol.Status, sol.Detail)
	assert.InDelta(t, -7, sol.Objective, 1e-9)
	assert.Equal(t, 1.0, sol.Value(items[0]))
	assert.Equal(t, 1.0, sol.Value(items[1]))
	assert.Equal(t, 0.0, sol.Value(items[2]))
	assert.Greater(t, sol.Nodes, 1)
}

func TestSetUpperOnlyTightens(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, math.Inf(1))
	y := b.AddVar("y", Continuous, 2)
	b.SetUpper(x, 5)
	b.SetUpper(y, 3)
	p := b.Build()

	assert.Equal(t, 5.0, p.Variable(x).Upper)
	assert.Equal(t, 2.0, p.Variable(y).Upper)
}

func TestSolvePinsZeroBoundedVariables(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, 0)
	y := b.AddVar("y", Continuous, math.Inf(1))
	b.AddConstraint("c", GreaterEq, 1, Term{x, 1}, Term{y, 1})
	b.SetCost(x, -5)
	b.SetCost(y, 1)

	sol := newSolver().Solve(context.Background(), b.Build())

	require.Equal(t, StatusOptimal, sol.Status, sol.Detail)
	assert.Equal(t, 0.0, sol.Value(x))
	assert.InDelta(t, 1, sol.Value(y), 1e-9)
	assert.InDelta(t, 1, sol.Objective, 1e-9)
}

// expiringContext reports its deadline as exceeded once Err has been called limit times.
type expiringContext struct {
	context.Context
	calls int
	limit int
}

func (c *expiringContext) Err() error {
	c.calls++
	if c.calls > c.limit {
		return context.DeadlineExceeded
	}
	return nil
}

func TestSolveChecksDeadlineBetweenNodes(t *testing.T) {
	b := NewBuilder()
	terms := make([]Term, 3)
	for i, w := range []float64{2, 3, 4} {
		v := b.AddVar("item", Binary, 1)
		terms[i] = Term{v, w}
		b.SetCost(v, -[]float64{3, 4, 6}[i])
	}
	b.AddConstraint("capacity", LessEq, 5, terms...)

	ctx := &expiringContext{Context: context.Background(), limit: 1}
	sol := newSolver().Solve(ctx, b.Build())

	// The root relaxation runs to completion, the deadline stops the search before the next one
	assert.Equal(t, StatusTimeout, sol.Status)
	assert.Equal(t, 1, sol.Nodes)
	assert.Equal(t, 2, ctx.calls)
}

func TestBranchAndBoundInfeasible(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Binary, 1)
	b.AddConstraint("lo", GreaterEq, 0.4, Term{x, 1})
	b.AddConstraint("hi", LessEq, 0.6, Term{x, 1})

	sol := newSolver().Solve(context.Background(), b.Build())

	assert.Equal(t, StatusInfeasible, sol.Status)
}

func TestBranchAndBoundNodeLimit(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Binary, 1)
	b.AddConstraint("lo", GreaterEq, 0.4, Term{x, 1})
	b.AddConstraint("hi", LessEq, 0.6, Term{x, 1})

	sol := NewSimplexSolver(slog.Default(), Options{MaxNodes: 1}).Solve(context.Background(), b.Build())

	assert.Equal(t, StatusFailed, sol.Status)
	assert.Contains(t, sol.Detail, "node limit")
}

func TestSolveTimeout(t *testing.T) {
	b := NewBuilder()
	x := b.AddVar("x", Continuous, 1)
	b.SetCost(x, -1)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	sol := newSolver().Solve(ctx, b.Build())

	assert.Equal(t, StatusTimeout, sol.Status)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "optimal", StatusOptimal.String())
	assert.Equal(t, "infeasible", StatusInfeasible.String())
	assert.Equal(t, "unbounded", StatusUnbounded.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
}
