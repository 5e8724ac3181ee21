package timeseries

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/hours"
)

const (
	ColumnTime    = "Time"
	ColumnLoad    = "Load (kW)"
	ColumnPV      = "PV (kW)"
	ColumnBattery = "AC Battery Power (kW)"
	ColumnMeter   = "Meter (kW)"
)

// Result is one row of a results file.
type Result struct {
	Time      time.Time
	BatteryKW float64
	MeterKW   float64
}

func ReadFile(path string) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a profiles file with the columns Time, Load (kW) and PV (kW). Columns are
// matched by name, extra columns are ignored.
func Read(r io.Reader) (Series, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Series{}, fmt.Errorf("%w: empty profiles file", ErrInvalidSeries)
		}
		return Series{}, fmt.Errorf("read csv header: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	idx := make(map[string]int, 3)
	for _, name := range []string{ColumnTime, ColumnLoad, ColumnPV} {
		i, ok := columns[strings.ToLower(name)]
		if !ok {
			return Series{}, fmt.Errorf("%w: missing column %q", ErrInvalidSeries, name)
		}
		idx[name] = i
	}

	var samples []Sample
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Series{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		get := func(name string) string {
			if i := idx[name]; i < len(record) {
				return strings.TrimSpace(record[i])
			}
			return ""
		}

		ts, err := hours.ParseTimestamp(get(ColumnTime))
		if err != nil {
			return Series{}, fmt.Errorf("%w: line %d: %w", ErrInvalidSeries, line, err)
		}
		load, err := strconv.ParseFloat(get(ColumnLoad), 64)
		if err != nil {
			return Series{}, fmt.Errorf("%w: line %d: load: %w", ErrInvalidSeries, line, err)
		}
		pv, err := strconv.ParseFloat(get(ColumnPV), 64)
		if err != nil {
			return Series{}, fmt.Errorf("%w: line %d: pv: %w", ErrInvalidSeries, line, err)
		}
		samples = append(samples, Sample{Time: ts, LoadKW: load, PVKW: pv})
	}

	return Series{samples: samples}, nil
}

func WriteFile(path string, rows []Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	if err := Write(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write writes a results file with the columns Time, AC Battery Power (kW) and Meter (kW).
func Write(w io.Writer, rows []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnTime, ColumnBattery, ColumnMeter}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		rec := []string{hours.FormatTimestamp(r.Time), FormatFloat(r.BatteryKW), FormatFloat(r.MeterKW)}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatFloat writes the shortest representation, always with a decimal point.
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
