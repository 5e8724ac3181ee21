package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/robfig/cron/v3"
)

const maintenanceAt = "30 2 * * *"

type Tasks struct {
	cron            *cron.Cron
	cnfg            *config.AppConfig
	PlanningTask    func()
	MaintenanceTask func()
}

func NewTasks(db *database.Database, planner *Planner, cnfg *config.AppConfig) *Tasks {
	logger := slog.Default().With("module", "tasks")
	// Leave some room for reading and writing files around the solve
	timeout := cnfg.Optimizer.GetSolveTimeout() + time.Minute
	return &Tasks{
		cron:            cron.New(),
		cnfg:            cnfg,
		PlanningTask:    NewPlanningTask(logger.With(slog.String("task", "planning")), planner, TriggerSchedule, timeout),
		MaintenanceTask: NewMaintenanceTask(logger.With(slog.String("task", "maintenance")), db, cnfg),
	}
}

// Run schedules the tasks and starts the cron runner. Planning is only scheduled when
// planner.run_at is set.
func (t *Tasks) Run() error {
	if t.cnfg.Planner.RunAt != "" {
		if _, err := t.cron.AddFunc(t.cnfg.Planner.RunAt, t.PlanningTask); err != nil {
			return fmt.Errorf("scheduling planning task %q: %w", t.cnfg.Planner.RunAt, err)
		}
	}
	if _, err := t.cron.AddFunc(maintenanceAt, t.MaintenanceTask); err != nil {
		return fmt.Errorf("scheduling maintenance task: %w", err)
	}
	t.cron.Start()
	return nil
}

func (t *Tasks) Stop() context.Context {
	return t.cron.Stop()
}
