package optimize

import (
	"fmt"
	"math"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/milp"
)

// ModelInput is everything a model is built from. It must be validated beforehand,
// Build itself never fails.
type ModelInput struct {
	Times   []time.Time
	Load    []float64
	PV      []float64
	Windows Windows
	Tariff  Tariff
	Battery Battery
}

func (in ModelInput) Len() int {
	return len(in.Load)
}

// Model maps the decision variables of one run onto the program handed to the solver.
type Model struct {
	Program      *milp.Program
	Formulation  string
	Charge       []milp.Var
	Discharge    []milp.Var
	Import       []milp.Var
	Export       []milp.Var
	SOC          []milp.Var       // One more than the number of timesteps
	Mode         map[int]milp.Var // Flagged timesteps, only set by ExclusiveMode
	Peak         milp.Var
	BigM         float64
	ExportPrices []float64
}

func Build(in ModelInput, strategy FormulationStrategy) *Model {
	n := in.Len()
	dt := in.Battery.TimestepHours
	b := milp.NewBuilder()
	m := &Model{
		Formulation:  strategy.Name(),
		Charge:       make([]milp.Var, n),
		Discharge:    make([]milp.Var, n),
		Import:       make([]milp.Var, n),
		Export:       make([]milp.Var, n),
		SOC:          make([]milp.Var, n+1),
		ExportPrices: in.Tariff.ExportPrices(in.Windows),
	}

	for t := range n {
		m.Charge[t] = b.AddVar(fmt.Sprintf("charge[%d]", t), milp.Continuous, in.Battery.ChargeLimit(in.PV[t]))
		m.Discharge[t] = b.AddVar(fmt.Sprintf("discharge[%d]", t), milp.Continuous, in.Battery.MaxPower)
		m.Import[t] = b.AddVar(fmt.Sprintf("import[%d]", t), milp.Continuous, math.Inf(1))
		m.Export[t] = b.AddVar(fmt.Sprintf("export[%d]", t), milp.Continuous, math.Inf(1))
	}
	for t := range n + 1 {
		m.SOC[t] = b.AddVar(fmt.Sprintf("soc[%d]", t), milp.Continuous, in.Battery.Capacity)
	}
	m.Peak = b.AddVar("peak", milp.Continuous, math.Inf(1))

	b.AddConstraint("soc_start", milp.Equal, 0, milp.Term{Var: m.SOC[0], Coef: 1})
	for t := range n {
		b.AddConstraint(fmt.Sprintf("soc_dynamics[%d]", t), milp.Equal, 0,
			milp.Term{Var: m.SOC[t+1], Coef: 1},
			milp.Term{Var: m.SOC[t], Coef: -1},
			milp.Term{Var: m.Charge[t], Coef: -in.Battery.ChargeGain()},
			milp.Term{Var: m.Discharge[t], Coef: in.Battery.DischargeDrain()})

		// import - export = load - pv + charge - discharge
		b.AddConstraint(fmt.Sprintf("balance[%d]", t), milp.Equal, in.Load[t]-in.PV[t],
			milp.Term{Var: m.Import[t], Coef: 1},
			milp.Term{Var: m.Export[t], Coef: -1},
			milp.Term{Var: m.Charge[t], Coef: -1},
			milp.Term{Var: m.Discharge[t], Coef: 1})

		if in.Windows.DemandCharge[t] {
			b.AddConstraint(fmt.Sprintf("peak[%d]", t), milp.GreaterEq, 0,
				milp.Term{Var: m.Peak, Coef: 1},
				milp.Term{Var: m.Import[t], Coef: -1})
		}
	}
	b.AddConstraint("soc_end", milp.Equal, 0, milp.Term{Var: m.SOC[n], Coef: 1})

	for t := range n {
		b.SetCost(m.Import[t], in.Tariff.ImportCost*dt)
		b.SetCost(m.Export[t], -m.ExportPrices[t]*dt)
	}
	b.SetCost(m.Peak, in.Tariff.DemandCharge)

	strategy.Apply(b, m, in)

	m.Program = b.Build()
	return m
}
