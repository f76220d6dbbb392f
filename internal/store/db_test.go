package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"epiviz-pipeline/internal/model"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunLifecycle(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.CreateRun("run-1"))
	require.NoError(t, db.UpdateRunStatus("run-1", "running"))

	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, "running", run["status"])
	require.NotContains(t, run, "outcome")
}

func TestGetRunUnknownID(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetRun("nope")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSaveRunOutcomeWithWarnings(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateRun("run-1"))

	outcome := &model.RunOutcome{
		RunID:     "run-1",
		StartedAt: time.Now().UTC().Add(-time.Minute),
		FinishedAt: time.Now().UTC(),
		Resolutions: []model.DatasetResolution{
			{Name: "measles", Tier: model.TierBackup, RecordCount: 42, BackupAge: "3h0m0s"},
		},
		Warnings:  []string{"measles fell back to backup", "vaccination unavailable"},
		Published: true,
		Decision:  "published",
	}
	require.NoError(t, db.SaveRunOutcome(outcome))

	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, "published", run["status"])

	stored, ok := run["outcome"].(model.RunOutcome)
	require.True(t, ok)
	require.Equal(t, model.TierBackup, stored.Resolutions[0].Tier)
	require.Equal(t, 42, stored.Resolutions[0].RecordCount)

	warnings, err := db.RunWarnings("run-1")
	require.NoError(t, err)
	require.Equal(t, outcome.Warnings, warnings)
}

func TestSaveRunOutcomePreservedStatus(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateRun("run-1"))

	outcome := &model.RunOutcome{
		RunID:      "run-1",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Published:  false,
		Decision:   "preserved",
	}
	require.NoError(t, db.SaveRunOutcome(outcome))

	run, err := db.GetRun("run-1")
	require.NoError(t, err)
	require.Equal(t, "preserved", run["status"])
}

func TestListRunsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateRun("run-old"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, db.CreateRun("run-new"))

	runs, err := db.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-new", runs[0]["id"])
	require.Equal(t, "run-old", runs[1]["id"])
}

func TestWeeklySnapshotUpsert(t *testing.T) {
	db := newTestDB(t)

	snap := model.WeeklySnapshot{
		PeriodKey: "2026-W10",
		TakenAt:   time.Now().UTC(),
		Metrics:   map[string]float64{"Texas": 120},
	}
	require.NoError(t, db.SaveWeeklySnapshot("measles", snap))

	snap.Metrics["Texas"] = 150
	require.NoError(t, db.SaveWeeklySnapshot("measles", snap))

	history, err := db.WeeklyHistory("measles", 8)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 150.0, history[0].Metrics["Texas"])
}

func TestWeeklyHistoryOldestFirstAndBounded(t *testing.T) {
	db := newTestDB(t)

	for week := 1; week <= 5; week++ {
		snap := model.WeeklySnapshot{
			PeriodKey: fmt.Sprintf("2026-W%02d", week),
			TakenAt:   time.Now().UTC(),
			Metrics:   map[string]float64{"Texas": float64(week)},
		}
		require.NoError(t, db.SaveWeeklySnapshot("measles", snap))
	}

	history, err := db.WeeklyHistory("measles", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "2026-W03", history[0].PeriodKey)
	require.Equal(t, "2026-W05", history[2].PeriodKey)
}

func TestWeeklyHistoryIsolatedPerSource(t *testing.T) {
	db := newTestDB(t)

	snap := model.WeeklySnapshot{PeriodKey: "2026-W10", TakenAt: time.Now().UTC(), Metrics: map[string]float64{"x": 1}}
	require.NoError(t, db.SaveWeeklySnapshot("measles", snap))

	history, err := db.WeeklyHistory("vaccination", 8)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestPruneWeeklySnapshots(t *testing.T) {
	db := newTestDB(t)

	for week := 1; week <= 10; week++ {
		snap := model.WeeklySnapshot{
			PeriodKey: fmt.Sprintf("2026-W%02d", week),
			TakenAt:   time.Now().UTC(),
			Metrics:   map[string]float64{"Texas": float64(week)},
		}
		require.NoError(t, db.SaveWeeklySnapshot("measles", snap))
	}

	removed, err := db.PruneWeeklySnapshots("measles", 8)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	history, err := db.WeeklyHistory("measles", 10)
	require.NoError(t, err)
	require.Len(t, history, 8)
	require.Equal(t, "2026-W03", history[0].PeriodKey)
}
