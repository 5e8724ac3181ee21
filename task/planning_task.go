package task

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

func NewPlanningTask(logger *slog.Logger, planner *Planner, trigger string, timeout time.Duration) func() {
	return func() {
		logger.Debug("running planning task...")

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		_, err := planner.Plan(ctx, trigger)
		if errors.Is(err, ErrRunInProgress) {
			logger.Warn("skipping planning task, a run is already in progress")
			return
		}
		if err != nil {
			// Already logged and stored by the planner
			return
		}

		logger.Info("planning task done")
	}
}
