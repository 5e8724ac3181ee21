// Command sweep optimizes one profiles file under several tariff and battery scenarios
// and prints a cost comparison.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/slice"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"github.com/lmittmann/tint"
)

func main() {
	configPath := flag.String("config", "", "path to base config file")
	scenariosPath := flag.String("scenarios", "scenarios.yaml", "scenario file")
	parallel := flag.Int("parallel", runtime.NumCPU(), "scenarios solved at the same time")
	resultsDir := flag.String("results", "", "directory for per scenario results files, empty skips them")
	flag.Parse()

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelWarn,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, logger, *configPath, *scenariosPath, *resultsDir, *parallel); err != nil {
		logger.Error("sweep failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, scenariosPath, resultsDir string, parallel int) error {
	base, err := config.Load(configPath)
	if err != nil {
		return err
	}

	f, err := os.Open(scenariosPath)
	if err != nil {
		return fmt.Errorf("open scenarios: %w", err)
	}
	defer f.Close()
	scenarios, err := ReadScenarios(f)
	if err != nil {
		return err
	}

	profiles := scenarios.Profiles
	if profiles == "" {
		profiles = base.Files.GetProfiles()
	}
	series, err := timeseries.ReadFile(profiles)
	if err != nil {
		return err
	}

	outcomes, err := Sweep(ctx, logger, base, series, scenarios.Scenarios, parallel)
	if err != nil {
		return err
	}

	if err := WriteSummary(os.Stdout, outcomes); err != nil {
		return err
	}
	if resultsDir != "" {
		if err := WriteResults(resultsDir, outcomes); err != nil {
			return err
		}
	}

	if failed := slice.Count(outcomes, func(o Outcome) bool { return o.Err != nil }); failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(outcomes))
	}
	return nil
}
