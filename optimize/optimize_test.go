package optimize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/hours"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultTariff = config.AppConfigTariff{
	ImportCost:            0.1,
	ExportRevenue:         0.03,
	DemandCharge:          9.0,
	DemandResponseRevenue: 10.0,
	DemandChargeStart:     "17:00",
	DemandChargeEnd:       "21:00",
	DemandResponseStart:   "19:00",
	DemandResponseEnd:     "20:00",
}

var defaultBattery = config.AppConfigBatterySpec{
	Capacity:            53.0,
	MaxPower:            25.0,
	ChargeEfficiency:    0.95,
	DischargeEfficiency: 0.95,
	TimestepHours:       0.5,
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOptimizer(f Formulation) *Optimizer {
	solver := milp.NewSimplexSolver(discard(), milp.Options{})
	return New(discard(), solver, Options{Formulation: f, SolveTimeout: time.Minute})
}

func profile(start time.Time, step time.Duration, load, pv []float64) timeseries.Series {
	samples := make([]timeseries.Sample, len(load))
	for i := range load {
		samples[i] = timeseries.Sample{Time: start.Add(time.Duration(i) * step), LoadKW: load[i], PVKW: pv[i]}
	}
	return timeseries.New(samples)
}

func at(h, m int) time.Time {
	return time.Date(2024, time.June, 1, h, m, 0, 0, time.UTC)
}

func TestAllZeroProfile(t *testing.T) {
	zeros := make([]float64, 4)
	series := profile(at(0, 0), 30*time.Minute, zeros, zeros)

	for _, f := range []Formulation{FormulationExclusive, FormulationRelaxed} {
		t.Run(f.String(), func(t *testing.T) {
			s, err := newOptimizer(f).Run(context.Background(), Problem{Series: series, Tariff: defaultTariff, Battery: defaultBattery})
			require.NoError(t, err)
			require.Len(t, s.Rows, 4)
			for _, r := range s.Rows {
				assert.Equal(t, 0.0, r.BatteryKW)
				assert.Equal(t, 0.0, r.MeterKW)
				assert.Equal(t, 0.0, r.SOCKWh)
			}
			assert.InDelta(t, 0, s.Objective, 1e-9)
			assert.InDelta(t, 0, s.Costs.Total(), 1e-9)
			assert.Equal(t, f.String(), s.Formulation)
		})
	}
}

func TestUnavoidableImportSetsPeak(t *testing.T) {
	series := profile(at(18, 0), 30*time.Minute, []float64{5}, []float64{0})

	s, err := newOptimizer(FormulationExclusive).Run(context.Background(), Problem{Series: series, Tariff: defaultTariff, Battery: defaultBattery})
	require.NoError(t, err)

	assert.Equal(t, 5.0, s.PeakKW)
	assert.Equal(t, 5.0, s.Rows[0].MeterKW)
	assert.Equal(t, 0.0, s.Rows[0].BatteryKW)
	assert.InDelta(t, 45.0, s.Costs.Demand, 1e-9)
	assert.InDelta(t, 0.25, s.Costs.Import, 1e-9)
	assert.InDelta(t, 45.25, s.Objective, 1e-6)
}

func TestSurplusIsShiftedIntoResponseWindow(t *testing.T) {
	series := timeseries.New([]timeseries.Sample{
		{Time: at(12, 0), LoadKW: 0, PVKW: 30},
		{Time: at(19, 0), LoadKW: 0, PVKW: 0},
	})

	s, err := newOptimizer(FormulationExclusive).Run(context.Background(), Problem{Series: series, Tariff: defaultTariff, Battery: defaultBattery})
	require.NoError(t, err)

	// Charge is capped by min(max power, PV - load), the rest is exported at the base rate.
	assert.Equal(t, -25.0, s.Rows[0].BatteryKW)
	assert.Equal(t, -5.0, s.Rows[0].MeterKW)
	assert.InDelta(t, 11.875, s.Rows[0].SOCKWh, 1e-3)

	// Everything stored is sold at the boosted rate.
	discharged := 11.875 * 0.95 / 0.5
	assert.InDelta(t, discharged, s.Rows[1].BatteryKW, 1e-3)
	assert.InDelta(t, -discharged, s.Rows[1].MeterKW, 1e-3)
	assert.Equal(t, 0.0, s.Rows[1].SOCKWh)

	assert.InDelta(t, 10*0.5*discharged, s.Costs.Response, 1e-6)
	assert.InDelta(t, 0.03*0.5*(5+discharged), s.Costs.Export, 1e-6)
	assert.InDelta(t, -(0.03*0.5*5 + 10.03*0.5*discharged), s.Objective, 1e-6)
	assert.InDelta(t, s.Objective, s.Costs.Total(), 1e-6)
}

// dayLoad is 5 kW with a 15 kW evening block, PV follows a sine between 06:00 and 18:00.
func dayLoad(steps int) (load, pv []float64) {
	load = make([]float64, steps)
	pv = make([]float64, steps)
	perHour := float64(steps) / 24
	for i := range steps {
		h := float64(i) / perHour
		load[i] = 5
		if h >= 17 && h < 21 {
			load[i] = 15
		}
		if h > 6 && h < 18 {
			pv[i] = math.Round(30*math.Sin(math.Pi*(h-6)/12)*100) / 100
		}
	}
	return load, pv
}

func dayProfile() timeseries.Series {
	load, pv := dayLoad(24)
	return profile(at(0, 0), time.Hour, load, pv)
}

func halfHourDayProfile() timeseries.Series {
	load, pv := dayLoad(48)
	return profile(at(0, 0), 30*time.Minute, load, pv)
}

func assertScheduleInvariants(t *testing.T, series timeseries.Series, battery config.AppConfigBatterySpec, s Schedule) {
	t.Helper()
	require.Len(t, s.Rows, series.Len())

	load, pv := series.Load(), series.PV()
	demand, _ := hours.ParseWindow("17:00", "21:00")
	peak := 0.0
	for i, r := range s.Rows {
		assert.GreaterOrEqual(t, r.SOCKWh, 0.0, "soc at %d", i)
		assert.LessOrEqual(t, r.SOCKWh, battery.Capacity, "soc at %d", i)
		assert.LessOrEqual(t, r.BatteryKW, battery.MaxPower+1e-9, "discharge at %d", i)
		assert.GreaterOrEqual(t, r.BatteryKW, -min(battery.MaxPower, pv[i])-1e-3, "charge at %d", i)
		assert.InDelta(t, load[i]-pv[i]-r.BatteryKW, r.MeterKW, 2e-3, "energy balance at %d", i)
		if demand.Contains(r.Time) {
			peak = max(peak, r.MeterKW)
		}
	}
	assert.Equal(t, 0.0, s.Rows[len(s.Rows)-1].SOCKWh, "battery must end empty")
	assert.InDelta(t, peak, s.PeakKW, 1e-3)
	assert.InDelta(t, s.Objective, s.Costs.Total(), 1e-6)
}

func TestScheduleInvariants(t *testing.T) {
	series := dayProfile()
	battery := defaultBattery
	battery.TimestepHours = 0 // inferred from the hourly profile

	s, err := newOptimizer(FormulationExclusive).Run(context.Background(), Problem{Series: series, Tariff: defaultTariff, Battery: battery})
	require.NoError(t, err)
	assertScheduleInvariants(t, series, defaultBattery, s)
}

func TestHalfHourDayWithDefaultConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.AppConfigOptimizer{})
	require.NoError(t, err)
	opts.Formulation = FormulationAuto
	o := New(discard(), milp.NewSimplexSolver(discard(), milp.Options{}), opts)

	series := halfHourDayProfile()
	require.Equal(t, 48, series.Len())

	start := time.Now()
	s, err := o.Run(context.Background(), Problem{Series: series, Tariff: defaultTariff, Battery: defaultBattery})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), opts.SolveTimeout)

	assert.Equal(t, "exclusive", s.Formulation, "the response bonus rules out the relaxed split")
	assertScheduleInvariants(t, series, defaultBattery, s)

	// The response window is worth more than anything else the battery can do
	for _, i := range []int{38, 39} {
		assert.InDelta(t, 25.0, s.Rows[i].BatteryKW, 1e-3, "discharge at %s", s.Rows[i].Time.Format("15:04"))
		assert.InDelta(t, -10.0, s.Rows[i].MeterKW, 1e-3, "export at %s", s.Rows[i].Time.Format("15:04"))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	p := Problem{Series: dayProfile(), Tariff: defaultTariff, Battery: defaultBattery}
	o := newOptimizer(FormulationExclusive)

	first, err := o.Run(context.Background(), p)
	require.NoError(t, err)
	second, err := o.Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRelaxedMatchesExclusiveWhenGuardHolds(t *testing.T) {
	tariff := defaultTariff
	tariff.DemandResponseRevenue = 0.05 // export 0.08 stays below import 0.1
	p := Problem{Series: dayProfile(), Tariff: tariff, Battery: defaultBattery}

	exclusive, err := newOptimizer(FormulationExclusive).Run(context.Background(), p)
	require.NoError(t, err)
	relaxed, err := newOptimizer(FormulationRelaxed).Run(context.Background(), p)
	require.NoError(t, err)

	// Schedules may differ where several dispatches are equally cheap, the cost may not.
	assert.InDelta(t, exclusive.Objective, relaxed.Objective, 1e-6)
	assert.Equal(t, "relaxed", relaxed.Formulation)
}

func TestRelaxationGuard(t *testing.T) {
	p := Problem{Series: dayProfile(), Tariff: defaultTariff, Battery: defaultBattery}

	_, err := newOptimizer(FormulationRelaxed).Run(context.Background(), p)
	assert.ErrorIs(t, err, ErrConfig)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "optimizer.formulation", cfgErr.Field)

	s, err := newOptimizer(FormulationAuto).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "exclusive", s.Formulation)

	p.Tariff.DemandResponseRevenue = 0
	s, err = newOptimizer(FormulationAuto).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "relaxed", s.Formulation)
}

func TestConfigErrors(t *testing.T) {
	good := profile(at(0, 0), 30*time.Minute, []float64{1, 1}, []float64{0, 0})

	tests := []struct {
		name    string
		mutate  func(p *Problem)
		wrapped error
	}{
		{"empty series", func(p *Problem) { p.Series = timeseries.New(nil) }, timeseries.ErrInvalidSeries},
		{"zero capacity", func(p *Problem) { p.Battery.Capacity = 0 }, nil},
		{"negative power", func(p *Problem) { p.Battery.MaxPower = -1 }, nil},
		{"efficiency above one", func(p *Problem) { p.Battery.ChargeEfficiency = 1.2 }, nil},
		{"negative demand charge", func(p *Problem) { p.Tariff.DemandCharge = -1 }, nil},
		{"wrapping window", func(p *Problem) { p.Tariff.DemandChargeStart, p.Tariff.DemandChargeEnd = "22:00", "02:00" }, hours.ErrWrapsMidnight},
		{"empty window", func(p *Problem) { p.Tariff.DemandResponseEnd = p.Tariff.DemandResponseStart }, hours.ErrEmptyWindow},
		{"single sample without timestep", func(p *Problem) {
			p.Series = profile(at(0, 0), time.Hour, []float64{1}, []float64{0})
			p.Battery.TimestepHours = 0
		}, timeseries.ErrInvalidSeries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Problem{Series: good, Tariff: defaultTariff, Battery: defaultBattery}
			tt.mutate(&p)
			_, err := newOptimizer(FormulationExclusive).Run(context.Background(), p)
			assert.ErrorIs(t, err, ErrConfig)
			if tt.wrapped != nil {
				assert.ErrorIs(t, err, tt.wrapped)
			}
		})
	}
}

func TestParseFormulation(t *testing.T) {
	for _, f := range []Formulation{FormulationExclusive, FormulationRelaxed, FormulationAuto} {
		got, err := ParseFormulation(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormulation("simplex")
	assert.ErrorIs(t, err, ErrConfig)
	assert.False(t, Formulation(7).IsValid())
}

type stubSolver struct {
	status milp.Status
}

func (s stubSolver) Solve(context.Context, *milp.Program) milp.Solution {
	return milp.Solution{Status: s.status, Detail: "stub"}
}

func TestSolveFailures(t *testing.T) {
	p := Problem{Series: dayProfile(), Tariff: defaultTariff, Battery: defaultBattery}

	for _, status := range []milp.Status{milp.StatusInfeasible, milp.StatusUnbounded, milp.StatusFailed} {
		t.Run(status.String(), func(t *testing.T) {
			o := New(discard(), stubSolver{status: status}, Options{})
			_, err := o.Run(context.Background(), p)
			assert.ErrorIs(t, err, ErrNotSolvable)
			var solveErr *SolveError
			require.True(t, errors.As(err, &solveErr))
			assert.Equal(t, status, solveErr.Status)
		})
	}
}

func TestSolveTimeout(t *testing.T) {
	p := Problem{Series: dayProfile(), Tariff: defaultTariff, Battery: defaultBattery}
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := newOptimizer(FormulationExclusive).Run(ctx, p)

	var solveErr *SolveError
	require.ErrorAs(t, err, &solveErr)
	assert.Equal(t, milp.StatusTimeout, solveErr.Status)
}

func TestOptionsFromConfig(t *testing.T) {
	relaxed := "Relaxed"
	timeout := 5
	opts, err := OptionsFromConfig(config.AppConfigOptimizer{Formulation: &relaxed, SolveTimeout: &timeout})
	require.NoError(t, err)
	assert.Equal(t, FormulationRelaxed, opts.Formulation)
	assert.Equal(t, 5*time.Second, opts.SolveTimeout)

	bad := "quadratic"
	_, err = OptionsFromConfig(config.AppConfigOptimizer{Formulation: &bad})
	assert.ErrorIs(t, err, ErrConfig)
}
