package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
	"github.com/icodeforyou/solarplant-dispatch/slice"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"gopkg.in/yaml.v3"
)

const (
	TriggerSchedule = "schedule"
	TriggerWatch    = "watch"
	TriggerApi      = "api"
	TriggerStartup  = "startup"
)

const (
	StatusOk             = "ok"
	StatusInputError     = "input_error"
	StatusConfigError    = "config_error"
	StatusToleranceError = "tolerance_error"
	StatusOutputError    = "output_error"
	StatusError          = "error"
)

var ErrRunInProgress = errors.New("a run is already in progress")

// RunResult is what listeners get after every run, Schedule is empty for failed runs.
type RunResult struct {
	Run      database.RunRow
	Schedule optimize.Schedule
}

type Planner struct {
	logger    *slog.Logger
	db        *database.Database
	cnfg      *config.AppConfig
	optimizer *optimize.Optimizer

	running   sync.Mutex
	mu        sync.RWMutex
	listeners []func(RunResult)
}

func NewPlanner(logger *slog.Logger, db *database.Database, cnfg *config.AppConfig, optimizer *optimize.Optimizer) *Planner {
	return &Planner{
		logger:    logger,
		db:        db,
		cnfg:      cnfg,
		optimizer: optimizer,
	}
}

// OnRun registers fn to be called after every stored run, failed runs included.
func (p *Planner) OnRun(fn func(RunResult)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Plan reads the profiles file, optimizes it, writes the results file and stores the
// run. Only one run executes at a time, a concurrent call fails with ErrRunInProgress.
func (p *Planner) Plan(ctx context.Context, trigger string) (RunResult, error) {
	if !p.running.TryLock() {
		return RunResult{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	start := time.Now()
	res := RunResult{Run: database.RunRow{
		ID:          uuid.NewString(),
		CreatedAt:   start,
		Trigger:     trigger,
		Formulation: p.cnfg.Optimizer.GetFormulation(),
	}}
	logger := p.logger.With(slog.String("run", res.Run.ID), slog.String("trigger", trigger))
	logger.Debug("planning...")

	cnfgYaml, err := configSnapshot(p.cnfg)
	if err != nil {
		logger.Warn("unable to snapshot config", slog.Any("error", err))
	}
	res.Run.Config = cnfgYaml

	schedule, err := p.run(ctx, logger)
	res.Run.Duration = time.Since(start)
	if err != nil {
		res.Run.Status = statusOf(err)
		res.Run.Error = err.Error()
		logger.Error("planning failed", slog.String("status", res.Run.Status), slog.Any("error", err))
		p.save(ctx, logger, res)
		return res, err
	}

	res.Schedule = schedule
	res.Run.Status = StatusOk
	res.Run.Formulation = schedule.Formulation
	res.Run.Steps = len(schedule.Rows)
	res.Run.Objective = schedule.Objective
	res.Run.PeakKW = schedule.PeakKW
	res.Run.ImportCost = schedule.Costs.Import
	res.Run.ExportRevenue = schedule.Costs.Export
	res.Run.ResponseRevenue = schedule.Costs.Response
	res.Run.DemandCharge = schedule.Costs.Demand
	res.Run.Adjustments = schedule.Adjustments

	if err := p.save(ctx, logger, res); err != nil {
		return res, err
	}

	logger.Info("planning done",
		slog.Int("steps", res.Run.Steps),
		slog.Float64("objective", res.Run.Objective),
		slog.Float64("peakKW", res.Run.PeakKW),
		slog.Duration("duration", res.Run.Duration))
	return res, nil
}

func (p *Planner) run(ctx context.Context, logger *slog.Logger) (optimize.Schedule, error) {
	profiles := p.cnfg.Files.GetProfiles()
	series, err := timeseries.ReadFile(profiles)
	if err != nil {
		return optimize.Schedule{}, &inputError{err}
	}
	logger.Debug("profiles read", slog.String("path", profiles), slog.Int("samples", series.Len()))

	schedule, err := p.optimizer.Run(ctx, optimize.Problem{
		Series:  series,
		Tariff:  p.cnfg.Tariff,
		Battery: p.cnfg.BatterySpec,
	})
	if err != nil {
		return optimize.Schedule{}, err
	}

	results := p.cnfg.Files.GetResults()
	if err := timeseries.WriteFile(results, schedule.Results()); err != nil {
		return optimize.Schedule{}, &outputError{err}
	}
	logger.Debug("results written", slog.String("path", results))
	return schedule, nil
}

func (p *Planner) save(ctx context.Context, logger *slog.Logger, res RunResult) error {
	rows := slice.Map(res.Schedule.Rows, func(r optimize.ScheduleRow) database.ScheduleRow {
		return database.ScheduleRow{
			Time:      r.Time,
			BatteryKW: r.BatteryKW,
			MeterKW:   r.MeterKW,
			SOCKWh:    r.SOCKWh,
		}
	})
	for i := range rows {
		rows[i].Step = i
	}

	// A cancelled planning context should not lose the record of the run
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.db.SaveRun(ctx, res.Run, rows); err != nil {
		logger.Error("unable to save run", slog.Any("error", err))
		return fmt.Errorf("saving run %s: %w", res.Run.ID, err)
	}

	p.mu.RLock()
	listeners := p.listeners
	p.mu.RUnlock()
	for _, fn := range listeners {
		fn(res)
	}
	return nil
}

type inputError struct{ err error }

func (e *inputError) Error() string { return fmt.Sprintf("reading profiles: %v", e.err) }
func (e *inputError) Unwrap() error { return e.err }

type outputError struct{ err error }

func (e *outputError) Error() string { return fmt.Sprintf("writing results: %v", e.err) }
func (e *outputError) Unwrap() error { return e.err }

// statusOf maps a run error to the status stored with the run.
func statusOf(err error) string {
	var (
		solveErr *optimize.SolveError
		inErr    *inputError
		outErr   *outputError
	)
	switch {
	case errors.As(err, &inErr):
		return StatusInputError
	case errors.As(err, &outErr):
		return StatusOutputError
	case errors.Is(err, optimize.ErrConfig):
		return StatusConfigError
	case errors.As(err, &solveErr):
		return solveErr.Status.String()
	case errors.Is(err, optimize.ErrTolerance):
		return StatusToleranceError
	default:
		return StatusError
	}
}

type snapshot struct {
	Formulation string                      `yaml:"formulation"`
	BatterySpec config.AppConfigBatterySpec `yaml:"battery_spec"`
	Tariff      config.AppConfigTariff      `yaml:"tariff"`
}

func configSnapshot(cnfg *config.AppConfig) (string, error) {
	b, err := yaml.Marshal(snapshot{
		Formulation: cnfg.Optimizer.GetFormulation(),
		BatterySpec: cnfg.BatterySpec,
		Tariff:      cnfg.Tariff,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}
