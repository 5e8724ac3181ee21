package task

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/icodeforyou/solarplant-dispatch/config"
	"github.com/icodeforyou/solarplant-dispatch/database"
	"github.com/icodeforyou/solarplant-dispatch/milp"
	"github.com/icodeforyou/solarplant-dispatch/optimize"
	"github.com/icodeforyou/solarplant-dispatch/timeseries"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profiles = `Time,Load (kW),PV (kW)
06/01/24 18:00,5,0
06/01/24 18:30,5,0
`

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	planner  *Planner
	db       *database.Database
	cnfg     *config.AppConfig
	profiles string
	results  string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(context.Background(), filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	profilesPath := filepath.Join(dir, "profiles.csv")
	resultsPath := filepath.Join(dir, "results.csv")
	require.NoError(t, os.WriteFile(profilesPath, []byte(profiles), 0644))

	cnfg := &config.AppConfig{
		BatterySpec: config.AppConfigBatterySpec{
			Capacity:            53.0,
			MaxPower:            25.0,
			ChargeEfficiency:    0.95,
			DischargeEfficiency: 0.95,
			TimestepHours:       0.5,
		},
		Tariff: config.AppConfigTariff{
			ImportCost:            0.1,
			ExportRevenue:         0.03,
			DemandCharge:          9.0,
			DemandResponseRevenue: 10.0,
			DemandChargeStart:     "17:00",
			DemandChargeEnd:       "21:00",
			DemandResponseStart:   "19:00",
			DemandResponseEnd:     "20:00",
		},
		Files: config.AppConfigFiles{Profiles: &profilesPath, Results: &resultsPath},
	}

	opts, err := optimize.OptionsFromConfig(cnfg.Optimizer)
	require.NoError(t, err)
	optimizer := optimize.New(discard(), milp.NewSimplexSolver(discard(), milp.Options{}), opts)

	return fixture{
		planner:  NewPlanner(discard(), db, cnfg, optimizer),
		db:       db,
		cnfg:     cnfg,
		profiles: profilesPath,
		results:  resultsPath,
	}
}

func TestPlanStoresRunAndWritesResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var notified []RunResult
	f.planner.OnRun(func(r RunResult) { notified = append(notified, r) })

	res, err := f.planner.Plan(ctx, TriggerApi)
	require.NoError(t, err)

	assert.Equal(t, StatusOk, res.Run.Status)
	assert.Equal(t, "exclusive", res.Run.Formulation)
	assert.Equal(t, 2, res.Run.Steps)
	assert.Equal(t, 5.0, res.Run.PeakKW)
	assert.Contains(t, res.Run.Config, "import_cost: 0.1")
	require.Len(t, notified, 1)
	assert.Equal(t, res.Run.ID, notified[0].Run.ID)

	stored, err := f.db.GetRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, TriggerApi, stored.Trigger)
	assert.Equal(t, StatusOk, stored.Status)

	schedule, err := f.db.GetSchedule(ctx, res.Run.ID)
	require.NoError(t, err)
	require.Len(t, schedule, 2)
	assert.Equal(t, 1, schedule[1].Step)
	assert.Equal(t, 5.0, schedule[0].MeterKW)

	out, err := os.ReadFile(f.results)
	require.NoError(t, err)
	assert.Contains(t, string(out), timeseries.ColumnBattery)
	assert.Contains(t, string(out), "2024-06-01 18:30:00")
}

func TestPlanStoresFailedRuns(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f fixture)
		expected string
	}{
		{
			name:     "missing profiles",
			setup:    func(f fixture) { os.Remove(f.profiles) },
			expected: StatusInputError,
		},
		{
			name:     "invalid tariff",
			setup:    func(f fixture) { f.cnfg.Tariff.DemandChargeEnd = "16:00" },
			expected: StatusConfigError,
		},
		{
			name: "results not writable",
			setup: func(f fixture) {
				dir := filepath.Join(filepath.Dir(f.results), "missing", "results.csv")
				f.cnfg.Files.Results = &dir
			},
			expected: StatusOutputError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			res, err := f.planner.Plan(context.Background(), TriggerSchedule)
			require.Error(t, err)
			assert.Equal(t, tt.expected, res.Run.Status)
			assert.NotEmpty(t, res.Run.Error)

			stored, err := f.db.GetRun(context.Background(), res.Run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, stored.Status)
			assert.Equal(t, 0, stored.Steps)
		})
	}
}

func TestPlanRejectsConcurrentRuns(t *testing.T) {
	f := newFixture(t)

	f.planner.running.Lock()
	_, err := f.planner.Plan(context.Background(), TriggerWatch)
	f.planner.running.Unlock()

	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, "infeasible", statusOf(&optimize.SolveError{Status: milp.StatusInfeasible}))
	assert.Equal(t, "timeout", statusOf(&optimize.SolveError{Status: milp.StatusTimeout}))
	assert.Equal(t, StatusToleranceError, statusOf(&optimize.ToleranceError{Check: "balance"}))
	assert.Equal(t, StatusConfigError, statusOf(&optimize.ConfigError{Field: "tariff"}))
	assert.Equal(t, StatusError, statusOf(io.ErrUnexpectedEOF))
}

func TestTasksRun(t *testing.T) {
	f := newFixture(t)

	f.cnfg.Planner.RunAt = "not a cron spec"
	assert.Error(t, NewTasks(f.db, f.planner, f.cnfg).Run())

	f.cnfg.Planner.RunAt = ""
	tasks := NewTasks(f.db, f.planner, f.cnfg)
	require.NoError(t, tasks.Run())
	<-tasks.Stop().Done()
}

func TestMaintenanceTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.SaveRun(ctx, database.RunRow{
		ID:        "old",
		CreatedAt: time.Now().AddDate(0, 0, -365),
		Status:    StatusOk,
	}, nil))

	NewMaintenanceTask(discard(), f.db, f.cnfg)()

	_, err := f.db.GetRun(ctx, "old")
	assert.Error(t, err)
}

func TestWatchFile(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, WatchFile(ctx, discard(), f.profiles, 50*time.Millisecond, func() {
		calls.Add(1)
	}))

	// Several writes in a row are coalesced into one call
	for range 3 {
		require.NoError(t, os.WriteFile(f.profiles, []byte(profiles), 0644))
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Other files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(f.profiles), "other.csv"), nil, 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
