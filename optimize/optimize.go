package optimize

import (
	"context"
	"log/slog"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
)

type Options struct {
	Formulation  Formulation
	SolveTimeout time.Duration // 0 means no timeout
	Tolerance    float64
}

// OptionsFromConfig maps the optimizer section of the config file.
func OptionsFromConfig(c config.AppConfigOptimizer) (Options, error) {
	f, err := ParseFormulation(c.GetFormulation())
	if err != nil {
		return Options{}, err
	}
	return Options{
		Formulation:  f,
		SolveTimeout: c.GetSolveTimeout(),
		Tolerance:    c.GetTolerance(),
	}, nil
}

// Problem is the input of one run.
type Problem struct {
	Series  timeseries.Series
	Tariff  config.AppConfigTariff
	Battery config.AppConfigBatterySpec
}

type Optimizer struct {
	logger *slog.Logger
	solver milp.Solver
	opts   Options
}

func New(logger *slog.Logger, solver milp.Solver, opts Options) *Optimizer {
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-4
	}
	return &Optimizer{logger: logger, solver: solver, opts: opts}
}

// Prepare validates a problem and resolves everything a model needs. It fails with a
// ConfigError before any model is built.
func (o *Optimizer) Prepare(p Problem) (ModelInput, FormulationStrategy, error) {
	if !o.opts.Formulation.IsValid() {
		return ModelInput{}, nil, &ConfigError{Field: "optimizer.formulation", Reason: "unknown formulation"}
	}
	if err := p.Series.Validate(); err != nil {
		return ModelInput{}, nil, &ConfigError{Field: "series", Err: err}
	}

	spec := p.Battery
	if spec.TimestepHours == 0 {
		step, err := p.Series.Step()
		if err != nil {
			return ModelInput{}, nil, &ConfigError{Field: "battery_spec.timestep_hours", Err: err}
		}
		spec.TimestepHours = step.Hours()
		o.logger.Debug("timestep inferred from profile", slog.Duration("step", step))
	}
	battery, err := NewBattery(spec)
	if err != nil {
		return ModelInput{}, nil, err
	}
	tariff, err := NewTariff(p.Tariff)
	if err != nil {
		return ModelInput{}, nil, err
	}

	times := p.Series.Times()
	in := ModelInput{
		Times:   times,
		Load:    p.Series.Load(),
		PV:      p.Series.PV(),
		Windows: Classify(times, tariff.DemandWindow, tariff.ResponseWindow),
		Tariff:  tariff,
		Battery: battery,
	}

	var strategy FormulationStrategy
	switch o.opts.Formulation {
	case FormulationExclusive:
		strategy = ExclusiveMode{}
	case FormulationRelaxed:
		if err := tariff.CheckRelaxation(in.Windows); err != nil {
			return ModelInput{}, nil, err
		}
		strategy = RelaxedSplit{}
	case FormulationAuto:
		strategy = RelaxedSplit{}
		if err := tariff.CheckRelaxation(in.Windows); err != nil {
			o.logger.Debug("falling back to exclusive mode", slog.Any("reason", err))
			strategy = ExclusiveMode{}
		}
	}

	return in, strategy, nil
}

// Run classifies, builds, solves and extracts one schedule. Every run works on its own
// model, so runs may be executed concurrently.
func (o *Optimizer) Run(ctx context.Context, p Problem) (Schedule, error) {
	in, strategy, err := o.Prepare(p)
	if err != nil {
		return Schedule{}, err
	}

	m := Build(in, strategy)
	o.logger.Debug("model built",
		slog.String("formulation", m.Formulation),
		slog.String("program", m.Program.String()))

	if o.opts.SolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.SolveTimeout)
		defer cancel()
	}

	start := time.Now()
	sol := o.solver.Solve(ctx, m.Program)
	o.logger.Info("solve finished",
		slog.String("status", sol.Status.String()),
		slog.String("formulation", m.Formulation),
		slog.Int("steps", in.Len()),
		slog.Int("nodes", sol.Nodes),
		slog.Duration("elapsed", time.Since(start)))

	if sol.Status != milp.StatusOptimal {
		return Schedule{}, &SolveError{Status: sol.Status, Detail: sol.Detail}
	}

	s, err := Extract(m, in, sol, o.opts.Tolerance)
	if err != nil {
		return Schedule{}, err
	}
	if s.Adjustments > 0 {
		o.logger.Warn("solution clamped into bounds", slog.Int("adjustments", s.Adjustments))
	}
	return s, nil
}
