package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioFile = `
profiles: data/profiles.csv
scenarios:
  - name: base
  - name: relaxed
    formulation: relaxed
  - name: small battery
    battery_spec:
      capacity: 5
      max_power: 2.5
      charge_efficiency: 0.9
      discharge_efficiency: 0.9
      timestep_hours: 0.5
  - name: broken
    tariff:
      import_cost: 0.1
      demand_charge_start: "21:00"
      demand_charge_end: "17:00"
`

func base() *config.AppConfig {
	return &config.AppConfig{
		BatterySpec: config.AppConfigBatterySpec{
			Capacity:            53.0,
			MaxPower:            25.0,
			ChargeEfficiency:    0.95,
			DischargeEfficiency: 0.95,
			TimestepHours:       0.5,
		},
		Tariff: config.AppConfigTariff{
			ImportCost:        0.1,
			ExportRevenue:     0.03,
			DemandCharge:      9.0,
			DemandChargeStart: "17:00",
			DemandChargeEnd:   "21:00",
		},
	}
}

func series() timeseries.Series {
	start := time.Date(2024, time.June, 1, 16, 0, 0, 0, time.UTC)
	load := []float64{2, 2, 8, 8, 8, 2}
	pv := []float64{10, 10, 0, 0, 0, 0}
	samples := make([]timeseries.Sample, len(load))
	for i := range load {
		samples[i] = timeseries.Sample{Time: start.Add(time.Duration(i) * 30 * time.Minute), LoadKW: load[i], PVKW: pv[i]}
	}
	return timeseries.New(samples)
}

func TestReadScenarios(t *testing.T) {
	f, err := ReadScenarios(strings.NewReader(scenarioFile))
	require.NoError(t, err)

	assert.Equal(t, "data/profiles.csv", f.Profiles)
	require.Len(t, f.Scenarios, 4)
	assert.Nil(t, f.Scenarios[0].BatterySpec)
	assert.Equal(t, "relaxed", f.Scenarios[1].Formulation)
	require.NotNil(t, f.Scenarios[2].BatterySpec)
	assert.Equal(t, 2.5, f.Scenarios[2].BatterySpec.MaxPower)
	assert.Equal(t, "21:00", f.Scenarios[3].Tariff.DemandChargeStart)

	_, err = ReadScenarios(strings.NewReader("scenarios:\n  - name: a\n  - name: a\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ReadScenarios(strings.NewReader("scenarios:\n  - formulation: relaxed\n"))
	assert.ErrorContains(t, err, "no name")

	_, err = ReadScenarios(strings.NewReader("scenarioz: []\n"))
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	f, err := ReadScenarios(strings.NewReader(scenarioFile))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	outcomes, err := Sweep(context.Background(), logger, base(), series(), f.Scenarios, 2)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	for _, o := range outcomes[:3] {
		assert.NoError(t, o.Err, o.Scenario)
		assert.Len(t, o.Schedule.Rows, 6, o.Scenario)
	}
	assert.ErrorIs(t, outcomes[3].Err, optimize.ErrConfig)

	// Both formulations reach the same optimum, a smaller battery can not do better
	assert.InDelta(t, outcomes[0].Schedule.Objective, outcomes[1].Schedule.Objective, 1e-6)
	assert.GreaterOrEqual(t, outcomes[2].Schedule.Objective, outcomes[0].Schedule.Objective-1e-6)

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, outcomes))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "SCENARIO"))
	assert.Contains(t, lines[4], "invalid configuration")

	dir := t.TempDir()
	require.NoError(t, WriteResults(dir, outcomes))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	_, err = os.Stat(filepath.Join(dir, "small battery.csv"))
	assert.NoError(t, err)
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := Sweep(ctx, logger, base(), series(), []Scenario{{Name: "a"}}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
