package optimize

import (
	"math"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/calc"
	"github.com/icodeforyou/solarplant-dispatch/convert"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
)

// Clamps smaller than this are solver noise and not counted as adjustments.
const clampNoise = 1e-9

type ScheduleRow struct {
	Time      time.Time
	BatteryKW float64 // Discharge minus charge
	MeterKW   float64 // Import minus export
	SOCKWh    float64 // State of charge at the end of the timestep
}

// Schedule is the dispatch computed by one run.
type Schedule struct {
	Formulation string
	Rows        []ScheduleRow
	PeakKW      float64 // Highest import inside the demand charge window
	Objective   float64
	Costs       calc.Breakdown
	Adjustments int // Values clamped into their bounds
}

func (s Schedule) Results() []timeseries.Result {
	out := make([]timeseries.Result, len(s.Rows))
	for i, r := range s.Rows {
		out[i] = timeseries.Result{Time: r.Time, BatteryKW: r.BatteryKW, MeterKW: r.MeterKW}
	}
	return out
}

// Extract turns an optimal solution into a schedule. Constraint residuals are checked
// on the raw values, bound violations up to tol are clamped, and rounding comes last.
func Extract(m *Model, in ModelInput, sol milp.Solution, tol float64) (Schedule, error) {
	if sol.Status != milp.StatusOptimal {
		return Schedule{}, &SolveError{Status: sol.Status, Detail: sol.Detail}
	}
	x := sol.Values()
	n := in.Len()
	batt := in.Battery

	for t := range n {
		r := x[m.SOC[t+1]] - x[m.SOC[t]] - batt.ChargeGain()*x[m.Charge[t]] + batt.DischargeDrain()*x[m.Discharge[t]]
		if math.Abs(r) > tol {
			return Schedule{}, &ToleranceError{Check: "soc dynamics", Step: t, Residual: r}
		}
		r = x[m.Import[t]] - x[m.Export[t]] - (in.Load[t] - in.PV[t] + x[m.Charge[t]] - x[m.Discharge[t]])
		if math.Abs(r) > tol {
			return Schedule{}, &ToleranceError{Check: "energy balance", Step: t, Residual: r}
		}
		if _, flagged := m.Mode[t]; flagged {
			if both := min(x[m.Import[t]], x[m.Export[t]]); both > tol {
				return Schedule{}, &ToleranceError{Check: "exclusive import and export", Step: t, Residual: both}
			}
		}
		if in.Windows.DemandCharge[t] {
			if r := x[m.Import[t]] - x[m.Peak]; r > tol {
				return Schedule{}, &ToleranceError{Check: "peak import", Step: t, Residual: r}
			}
		}
	}

	// Without a flag both flows can only be positive when export and import prices tie,
	// netting them leaves balance and cost as they are.
	for t := range n {
		if _, flagged := m.Mode[t]; flagged {
			continue
		}
		if both := min(x[m.Import[t]], x[m.Export[t]]); both > 0 {
			x[m.Import[t]] -= both
			x[m.Export[t]] -= both
		}
	}

	adjustments := 0
	clamp := func(v milp.Var, lo, hi float64, check string, step int) error {
		val := x[v]
		switch {
		case val < lo-tol:
			return &ToleranceError{Check: check, Step: step, Residual: lo - val}
		case val > hi+tol:
			return &ToleranceError{Check: check, Step: step, Residual: val - hi}
		}
		x[v] = min(max(val, lo), hi)
		if math.Abs(x[v]-val) > clampNoise {
			adjustments++
		}
		return nil
	}

	for t := range n {
		checks := []struct {
			v     milp.Var
			hi    float64
			check string
		}{
			{m.Charge[t], batt.ChargeLimit(in.PV[t]), "charge limit"},
			{m.Discharge[t], batt.MaxPower, "discharge limit"},
			{m.Import[t], m.Program.Variable(m.Import[t]).Upper, "import"},
			{m.Export[t], m.Program.Variable(m.Export[t]).Upper, "export"},
		}
		for _, c := range checks {
			if err := clamp(c.v, 0, c.hi, c.check, t); err != nil {
				return Schedule{}, err
			}
		}
	}
	for t := range n + 1 {
		hi := batt.Capacity
		if t == 0 || t == n {
			hi = 0 // The battery starts and ends empty
		}
		if err := clamp(m.SOC[t], 0, hi, "state of charge", t); err != nil {
			return Schedule{}, err
		}
	}

	s := Schedule{
		Formulation: m.Formulation,
		Rows:        make([]ScheduleRow, n),
		Objective:   sol.Objective,
		Adjustments: adjustments,
	}
	tariff := in.Tariff
	for t := range n {
		imp, exp := x[m.Import[t]], x[m.Export[t]]
		if in.Windows.DemandCharge[t] {
			s.PeakKW = max(s.PeakKW, imp)
		}
		bonus := m.ExportPrices[t] - tariff.ExportRevenue
		s.Costs.Add(imp, exp, batt.TimestepHours, tariff.ImportCost, tariff.ExportRevenue, bonus)
	}
	s.Costs.Demand = calc.DemandCharge(s.PeakKW, tariff.DemandCharge)

	for t := range n {
		s.Rows[t] = ScheduleRow{
			Time:      in.Times[t],
			BatteryKW: convert.ThreeDecimals(convert.ThreeDecimals(x[m.Discharge[t]]) - convert.ThreeDecimals(x[m.Charge[t]])),
			MeterKW:   convert.ThreeDecimals(convert.ThreeDecimals(x[m.Import[t]]) - convert.ThreeDecimals(x[m.Export[t]])),
			SOCKWh:    convert.ThreeDecimals(x[m.SOC[t+1]]),
		}
	}
	s.PeakKW = convert.ThreeDecimals(s.PeakKW)

	return s, nil
}
