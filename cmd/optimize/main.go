// Command optimize computes a dispatch schedule for a profiles file and writes it as a
// results file, without touching the database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"github.com/lmittmann/tint"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	profiles := flag.String("profiles", "", "profiles file, defaults to files.profiles")
	results := flag.String("results", "", "results file, defaults to files.results")
	formulation := flag.String("formulation", "", "exclusive, relaxed or auto, defaults to optimizer.formulation")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339Nano,
	}))
	slog.SetDefault(logger)

	if err := run(logger, *configPath, *profiles, *results, *formulation); err != nil {
		logger.Error("optimize failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, profiles, results, formulation string) error {
	cnfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if profiles == "" {
		profiles = cnfg.Files.GetProfiles()
	}
	if results == "" {
		results = cnfg.Files.GetResults()
	}
	if formulation != "" {
		cnfg.Optimizer.Formulation = &formulation
	}

	opts, err := optimize.OptionsFromConfig(cnfg.Optimizer)
	if err != nil {
		return err
	}

	series, err := timeseries.ReadFile(profiles)
	if err != nil {
		return err
	}

	solver := milp.NewSimplexSolver(logger, milp.Options{MaxNodes: cnfg.Optimizer.GetMaxNodes()})
	schedule, err := optimize.New(logger, solver, opts).Run(context.Background(), optimize.Problem{
		Series:  series,
		Tariff:  cnfg.Tariff,
		Battery: cnfg.BatterySpec,
	})
	if err != nil {
		return err
	}

	if err := timeseries.WriteFile(results, schedule.Results()); err != nil {
		return err
	}

	fmt.Printf("formulation: %s\nsteps:       %d\nobjective:   %.3f\npeak:        %.3f kW\nresults:     %s\n",
		schedule.Formulation, len(schedule.Rows), schedule.Objective, schedule.PeakKW, results)
	return nil
}
