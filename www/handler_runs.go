package www

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/icodeforyou/solarplant-dispatch/hours"
	"github.com/icodeforyou/solarplant-dispatch/slice"
	"github.com/icodeforyou/solarplant-dispatch/task"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
)

type costs struct {
	Import   float64 `json:"import"`
	Export   float64 `json:"export"`
	Response float64 `json:"response"`
	Demand   float64 `json:"demand"`
}

type step struct {
	Time      string  `json:"time"`
	BatteryKW float64 `json:"battery_kw"`
	MeterKW   float64 `json:"meter_kw"`
	SOCKWh    float64 `json:"soc_kwh"`
}

type run struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Trigger     string    `json:"trigger"`
	Formulation string    `json:"formulation"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Steps       int       `json:"steps"`
	Objective   float64   `json:"objective"`
	PeakKW      float64   `json:"peak_kw"`
	Costs       costs     `json:"costs"`
	Adjustments int       `json:"adjustments"`
	DurationMs  int64     `json:"duration_ms"`
	Schedule    []step    `json:"schedule,omitempty"`
}

func newRun(r database.RunRow, schedule []database.ScheduleRow) run {
	return run{
		ID:          r.ID,
		CreatedAt:   r.CreatedAt.UTC(),
		Trigger:     r.Trigger,
		Formulation: r.Formulation,
		Status:      r.Status,
		Error:       r.Error,
		Steps:       r.Steps,
		Objective:   r.Objective,
		PeakKW:      r.PeakKW,
		Costs: costs{
			Import:   r.ImportCost,
			Export:   r.ExportRevenue,
			Response: r.ResponseRevenue,
			Demand:   r.DemandCharge,
		},
		Adjustments: r.Adjustments,
		DurationMs:  r.Duration.Milliseconds(),
		Schedule: slice.Map(schedule, func(s database.ScheduleRow) step {
			return step{
				Time:      hours.FormatTimestamp(s.Time),
				BatteryKW: s.BatteryKW,
				MeterKW:   s.MeterKW,
				SOCKWh:    s.SOCKWh,
			}
		}),
	}
}

// newRunFromResult is used where the schedule is only available in memory.
func newRunFromResult(res task.RunResult) run {
	r := newRun(res.Run, nil)
	for _, s := range res.Schedule.Rows {
		r.Schedule = append(r.Schedule, step{
			Time:      hours.FormatTimestamp(s.Time),
			BatteryKW: s.BatteryKW,
			MeterKW:   s.MeterKW,
			SOCKWh:    s.SOCKWh,
		})
	}
	return r
}

// NewListRunsHandler lists the latest runs without their schedules.
func NewListRunsHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.GetRuns(r.Context(), intOrDefault(r.URL, "limit", 20))
		if err != nil {
			logger.Error("listing runs", slog.Any("error", err))
			writeError(logger, w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(logger, w, http.StatusOK, slice.Map(rows, func(r database.RunRow) run {
			return newRun(r, nil)
		}))
	}
}

// NewCreateRunHandler plans synchronously and responds with the stored run. A failed
// run is still stored and returned, with 422 as status code.
func NewCreateRunHandler(logger *slog.Logger, planner *task.Planner, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The run goes on even if the client hangs up
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
		defer cancel()

		res, err := planner.Plan(ctx, task.TriggerApi)
		switch {
		case errors.Is(err, task.ErrRunInProgress):
			writeError(logger, w, http.StatusConflict, err)
		case err != nil && res.Run.Status != "" && res.Run.Status != task.StatusOk:
			writeJSON(logger, w, http.StatusUnprocessableEntity, newRun(res.Run, nil))
		case err != nil:
			writeError(logger, w, http.StatusInternalServerError, err)
		default:
			w.Header().Set("Location", "/runs/"+res.Run.ID)
			writeJSON(logger, w, http.StatusCreated, newRunFromResult(res))
		}
	}
}

func NewGetRunHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, schedule, ok := loadRun(logger, db, w, r)
		if !ok {
			return
		}
		writeJSON(logger, w, http.StatusOK, newRun(row, schedule))
	}
}

// NewResultsHandler serves the schedule of a run in the same format as the results file.
func NewResultsHandler(logger *slog.Logger, db *database.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		row, schedule, ok := loadRun(logger, db, w, r)
		if !ok {
			return
		}
		if len(schedule) == 0 {
			writeError(logger, w, http.StatusNotFound, fmt.Errorf("run %s has no schedule, status %s", row.ID, row.Status))
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", row.ID+".csv"))
		err := timeseries.Write(w, slice.Map(schedule, func(s database.ScheduleRow) timeseries.Result {
			return timeseries.Result{Time: s.Time, BatteryKW: s.BatteryKW, MeterKW: s.MeterKW}
		}))
		if err != nil {
			logger.Warn("writing results failed", slog.String("run", row.ID), slog.Any("error", err))
		}
	}
}

func loadRun(logger *slog.Logger, db *database.Database, w http.ResponseWriter, r *http.Request) (database.RunRow, []database.ScheduleRow, bool) {
	id := r.PathValue("id")
	row, err := db.GetRun(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(logger, w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return row, nil, false
	}
	if err != nil {
		logger.Error("getting run", slog.String("run", id), slog.Any("error", err))
		writeError(logger, w, http.StatusInternalServerError, err)
		return row, nil, false
	}

	schedule, err := db.GetSchedule(r.Context(), id)
	if err != nil {
		logger.Error("getting schedule", slog.String("run", id), slog.Any("error", err))
		writeError(logger, w, http.StatusInternalServerError, err)
		return row, nil, false
	}
	return row, schedule, true
}
