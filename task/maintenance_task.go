package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/database"
)

// NewMaintenanceTask backs up the database and then applies the retention settings. A
// failing step is logged and the remaining steps still run.
func NewMaintenanceTask(logger *slog.Logger, db *database.Database, cnfg *config.AppConfig) func() {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"backup", db.Backup},
		{"purge backups", func(ctx context.Context) error {
			return db.PurgeBackups(ctx, cnfg.Database.GetBackupRetentionDays())
		}},
		{"purge log", func(ctx context.Context) error {
			return db.PurgeLog(ctx, cnfg.Logging.GetDbMaxEntries())
		}},
		{"purge runs", func(ctx context.Context) error {
			return db.PurgeRuns(ctx, cnfg.Database.GetDataRetentionDays())
		}},
	}

	return func() {
		logger.Debug("running maintenance task...")

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
		defer cancel()

		failed := 0
		for _, step := range steps {
			if err := step.run(ctx); err != nil {
				failed++
				logger.Error("maintenance step failed", slog.String("step", step.name), slog.Any("error", err))
			}
		}

		logger.Info("maintenance task done", slog.Int("failedSteps", failed))
	}
}
