package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Scenario overrides parts of the base config. Sections left out use the base values.
type Scenario struct {
	Name        string                       `yaml:"name"`
	Formulation string                       `yaml:"formulation"`
	BatterySpec *config.AppConfigBatterySpec `yaml:"battery_spec"`
	Tariff      *config.AppConfigTariff      `yaml:"tariff"`
}

type ScenarioFile struct {
	Profiles  string     `yaml:"profiles"`
	Scenarios []Scenario `yaml:"scenarios"`
}

type Outcome struct {
	Scenario string
	Schedule optimize.Schedule
	Err      error
}

func ReadScenarios(r io.Reader) (ScenarioFile, error) {
	var f ScenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return ScenarioFile{}, fmt.Errorf("decoding scenarios: %w", err)
	}
	seen := make(map[string]bool, len(f.Scenarios))
	for i, s := range f.Scenarios {
		if s.Name == "" {
			return ScenarioFile{}, fmt.Errorf("scenario %d has no name", i+1)
		}
		if seen[s.Name] {
			return ScenarioFile{}, fmt.Errorf("duplicate scenario %q", s.Name)
		}
		seen[s.Name] = true
	}
	return f, nil
}

// Sweep runs every scenario against the same series, at most parallel at a time. A
// failing scenario is reported in its outcome and does not stop the others.
func Sweep(ctx context.Context, logger *slog.Logger, base *config.AppConfig, series timeseries.Series, scenarios []Scenario, parallel int) ([]Outcome, error) {
	outcomes := make([]Outcome, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	for i, s := range scenarios {
		g.Go(func() error {
			schedule, err := runScenario(ctx, logger.With(slog.String("scenario", s.Name)), base, series, s)
			outcomes[i] = Outcome{Scenario: s.Name, Schedule: schedule, Err: err}
			// Only cancellation of the whole sweep aborts the group
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func runScenario(ctx context.Context, logger *slog.Logger, base *config.AppConfig, series timeseries.Series, s Scenario) (optimize.Schedule, error) {
	optCnfg := base.Optimizer
	if s.Formulation != "" {
		optCnfg.Formulation = &s.Formulation
	}
	opts, err := optimize.OptionsFromConfig(optCnfg)
	if err != nil {
		return optimize.Schedule{}, err
	}

	p := optimize.Problem{Series: series, Tariff: base.Tariff, Battery: base.BatterySpec}
	if s.Tariff != nil {
		p.Tariff = *s.Tariff
	}
	if s.BatterySpec != nil {
		p.Battery = *s.BatterySpec
	}

	solver := milp.NewSimplexSolver(logger, milp.Options{MaxNodes: optCnfg.GetMaxNodes()})
	return optimize.New(logger, solver, opts).Run(ctx, p)
}

func WriteSummary(w io.Writer, outcomes []Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tFORMULATION\tOBJECTIVE\tPEAK KW\tIMPORT\tEXPORT\tRESPONSE\tDEMAND\tERROR")
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t-\t%v\n", o.Scenario, o.Err)
			continue
		}
		c := o.Schedule.Costs
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t%.3f\t\n",
			o.Scenario, o.Schedule.Formulation, o.Schedule.Objective, o.Schedule.PeakKW,
			c.Import, c.Export, c.Response, c.Demand)
	}
	return tw.Flush()
}

// WriteResults writes one results file per successful scenario into dir.
func WriteResults(dir string, outcomes []Outcome) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		if err := timeseries.WriteFile(filepath.Join(dir, o.Scenario+".csv"), o.Schedule.Results()); err != nil {
			return err
		}
	}
	return nil
}
