package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type LogEntryRow struct {
	Timestamp time.Time
	Level     int
	Message   string
	Attrs     string
}

// LogQuery selects a page of log entries, newest first.
type LogQuery struct {
	MinLevel slog.Level
	Contains string // Case insensitive match on the message, empty matches all
	Page     int    // 1-based
	PageSize int
}

func (q LogQuery) limits() (limit, offset int) {
	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	return size, (page - 1) * size
}

func (d *Database) SaveLogEntry(ctx context.Context, r LogEntryRow) error {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := d.write.ExecContext(ctx, `
		INSERT INTO log (timestamp, level, message, attrs)
		VALUES (?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano),
		r.Level,
		r.Message,
		r.Attrs)
	if err != nil {
		return fmt.Errorf("saving log entry: %w", err)
	}
	return nil
}

func (d *Database) GetLogEntries(ctx context.Context, q LogQuery) ([]LogEntryRow, error) {
	limit, offset := q.limits()
	pattern := "%" + strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(q.Contains) + "%"

	rows, err := d.read.QueryContext(ctx, `
		SELECT timestamp, level, message, attrs
		FROM log
		WHERE level >= ? AND message LIKE ? ESCAPE '\'
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		int(q.MinLevel), pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("fetching log entries: %w", err)
	}
	defer rows.Close()

	entries := []LogEntryRow{}
	for rows.Next() {
		var (
			r  LogEntryRow
			ts string
		)
		if err := rows.Scan(&ts, &r.Level, &r.Message, &r.Attrs); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing log timestamp %q: %w", ts, err)
		}
		entries = append(entries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading log rows: %w", err)
	}

	return entries, nil
}

// PurgeLog keeps the newest maxLogEntries entries. Zero or less keeps everything.
func (d *Database) PurgeLog(ctx context.Context, maxLogEntries int) error {
	if maxLogEntries < 1 {
		return nil
	}
	res, err := d.write.ExecContext(ctx, `
		DELETE FROM log
		WHERE id <= (SELECT id FROM log ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		maxLogEntries)
	if err != nil {
		return fmt.Errorf("purging log: %w", err)
	}
	d.logPurged(res, "log")
	return nil
}
