package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type RunRow struct {
	ID              string
	CreatedAt       time.Time
	Trigger         string // What started the run: "schedule", "watch", "api" or "cli"
	Formulation     string
	Status          string // "ok", or the reason the run produced no schedule
	Error           string
	Steps           int
	Objective       float64
	PeakKW          float64
	ImportCost      float64
	ExportRevenue   float64
	ResponseRevenue float64
	DemandCharge    float64
	Adjustments     int
	Duration        time.Duration
	Config          string // YAML snapshot of the tariff and battery used
}

type ScheduleRow struct {
	Step      int
	Time      time.Time
	BatteryKW float64
	MeterKW   float64
	SOCKWh    float64
}

// SaveRun stores a run together with its schedule in one transaction.
func (d *Database) SaveRun(ctx context.Context, run RunRow, schedule []ScheduleRow) error {
	d.logger.Debug("saving run",
		"id", run.ID,
		"status", run.Status,
		"steps", len(schedule))

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction for run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run (
			id,
			created_at,
			triggered_by,
			formulation,
			status,
			error,
			steps,
			objective,
			peak_kw,
			import_cost,
			export_revenue,
			response_revenue,
			demand_charge,
			adjustments,
			duration_ms,
			config
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.CreatedAt.UTC().Format(time.RFC3339),
		run.Trigger,
		run.Formulation,
		run.Status,
		run.Error,
		run.Steps,
		run.Objective,
		run.PeakKW,
		run.ImportCost,
		run.ExportRevenue,
		run.ResponseRevenue,
		run.DemandCharge,
		run.Adjustments,
		run.Duration.Milliseconds(),
		run.Config,
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedule (run_id, step, time, battery_kw, meter_kw, soc_kwh)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing schedule insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range schedule {
		_, err := stmt.ExecContext(ctx, run.ID, r.Step, r.Time.UTC().Format(time.RFC3339), r.BatteryKW, r.MeterKW, r.SOCKWh)
		if err != nil {
			return fmt.Errorf("saving schedule step %d: %w", r.Step, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

const runColumns = `
	id, created_at, triggered_by, formulation, status, error, steps, objective, peak_kw,
	import_cost, export_revenue, response_revenue, demand_charge, adjustments, duration_ms, config`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRow, error) {
	var r RunRow
	var createdAt string
	var durationMs int64
	err := s.Scan(
		&r.ID,
		&createdAt,
		&r.Trigger,
		&r.Formulation,
		&r.Status,
		&r.Error,
		&r.Steps,
		&r.Objective,
		&r.PeakKW,
		&r.ImportCost,
		&r.ExportRevenue,
		&r.ResponseRevenue,
		&r.DemandCharge,
		&r.Adjustments,
		&durationMs,
		&r.Config)
	if err != nil {
		return RunRow{}, err
	}
	r.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return RunRow{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, nil
}

func (d *Database) GetRun(ctx context.Context, id string) (RunRow, error) {
	row := d.read.QueryRowContext(ctx, `SELECT `+runColumns+` FROM run WHERE id = ?`, id)

	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRow{}, sql.ErrNoRows
	}
	if err != nil {
		return RunRow{}, fmt.Errorf("scanning run row: %w", err)
	}
	return r, nil
}

// GetRuns returns the latest runs, newest first.
func (d *Database) GetRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := d.read.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM run
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching runs: %w", err)
	}
	defer rows.Close()

	var res []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading run rows: %w", err)
	}

	return res, nil
}

func (d *Database) GetSchedule(ctx context.Context, runID string) ([]ScheduleRow, error) {
	rows, err := d.read.QueryContext(ctx, `
		SELECT step, time, battery_kw, meter_kw, soc_kwh
		FROM schedule
		WHERE run_id = ?
		ORDER BY step ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("fetching schedule for run %s: %w", runID, err)
	}
	defer rows.Close()

	var ts string
	var res []ScheduleRow
	for rows.Next() {
		var r ScheduleRow
		err := rows.Scan(&r.Step, &ts, &r.BatteryKW, &r.MeterKW, &r.SOCKWh)
		if err != nil {
			return nil, err
		}
		r.Time, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading schedule rows: %w", err)
	}

	return res, nil
}

// PurgeRuns deletes runs older than the retention, schedules go with them.
func (d *Database) PurgeRuns(ctx context.Context, retentionDays int) error {
	return d.purgeOlderThan(ctx, "run", retentionDays)
}
