package optimize

import (
	"fmt"

	"github.com/icodeforyou/solarplant-dispatch/milp"
)

type Formulation int

const (
	FormulationExclusive Formulation = iota // Binary mode flags where export beats import, exact
	FormulationRelaxed                      // Pure LP, exact only when exporting never beats importing
	FormulationAuto                         // Relaxed when that is exact, exclusive otherwise
	formulationCount                        // Number of formulations
)

func (f Formulation) String() string {
	switch f {
	case FormulationExclusive:
		return "exclusive"
	case FormulationRelaxed:
		return "relaxed"
	case FormulationAuto:
		return "auto"
	default:
		return "unknown"
	}
}

func (f Formulation) IsValid() bool {
	return f >= FormulationExclusive && f < formulationCount
}

func ParseFormulation(s string) (Formulation, error) {
	for f := FormulationExclusive; f < formulationCount; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, &ConfigError{Field: "optimizer.formulation", Reason: fmt.Sprintf("unknown formulation %q", s)}
}

// FormulationStrategy decides how import and export are kept apart at the meter. The
// constraints shared by all strategies are added by Build before the strategy runs.
type FormulationStrategy interface {
	Name() string
	Apply(b *milp.Builder, m *Model, in ModelInput)
}

// ExclusiveMode adds a binary mode flag so that import and export can never both be
// positive. A flag is only needed where exporting earns more than importing costs,
// anywhere else a simultaneous flow adds cost and is never part of an optimum.
type ExclusiveMode struct{}

func (ExclusiveMode) Name() string {
	return FormulationExclusive.String()
}

func (ExclusiveMode) Apply(b *milp.Builder, m *Model, in ModelInput) {
	m.BigM = BigM(in)
	m.Mode = make(map[int]milp.Var)
	for t := range in.Load {
		if m.ExportPrices[t] <= in.Tariff.ImportCost {
			continue
		}
		b.SetUpper(m.Import[t], ImportBound(in, t))
		b.SetUpper(m.Export[t], ExportBound(in, t))

		m.Mode[t] = b.AddVar(fmt.Sprintf("mode[%d]", t), milp.Binary, 1)
		b.AddConstraint(fmt.Sprintf("import_mode[%d]", t), milp.LessEq, 0,
			milp.Term{Var: m.Import[t], Coef: 1},
			milp.Term{Var: m.Mode[t], Coef: -m.BigM})
		b.AddConstraint(fmt.Sprintf("export_mode[%d]", t), milp.LessEq, m.BigM,
			milp.Term{Var: m.Export[t], Coef: 1},
			milp.Term{Var: m.Mode[t], Coef: m.BigM})
	}
}

// RelaxedSplit leaves import and export unlinked. Simultaneous flows are only ruled out
// by prices, see Tariff.CheckRelaxation.
type RelaxedSplit struct{}

func (RelaxedSplit) Name() string {
	return FormulationRelaxed.String()
}

func (RelaxedSplit) Apply(*milp.Builder, *Model, ModelInput) {}

// ImportBound is the most a timestep can import while it exports nothing: the load not
// covered by PV plus whatever the battery charges.
func ImportBound(in ModelInput, t int) float64 {
	return max(in.Load[t]-in.PV[t], 0) + in.Battery.ChargeLimit(in.PV[t])
}

// ExportBound is the most a timestep can export while it imports nothing.
func ExportBound(in ModelInput, t int) float64 {
	return max(in.PV[t]-in.Load[t], 0) + in.Battery.MaxPower
}

// BigM is ten times the largest power that can appear at the meter.
func BigM(in ModelInput) float64 {
	m := in.Battery.MaxPower
	for t := range in.Load {
		m = max(m, in.Load[t], in.PV[t])
	}
	return 10 * m
}
