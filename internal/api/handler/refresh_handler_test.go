package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/internal/store"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := model.Config{SnapshotDepth: 8}
	return New(db, nil, cfg)
}

func TestListRunsEmpty(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestGetRunNotFound(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.GetRun(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunMissingID(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.GetRun(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRunWithOutcome(t *testing.T) {
	h := newTestHandler(t)
	require.NoError(t, h.DB.CreateRun("run-1"))
	require.NoError(t, h.DB.SaveRunOutcome(&model.RunOutcome{
		RunID:      "run-1",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Published:  true,
		Decision:   "published",
		Warnings:   []string{"measles fell back to backup"},
	}))

	rec := httptest.NewRecorder()
	h.GetRun(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-1", body["id"])
	require.Equal(t, "published", body["status"])
	require.Contains(t, body, "outcome")
}

func TestGetRunWarnings(t *testing.T) {
	h := newTestHandler(t)
	require.NoError(t, h.DB.CreateRun("run-1"))
	require.NoError(t, h.DB.SaveRunOutcome(&model.RunOutcome{
		RunID:      "run-1",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Decision:   "preserved",
		Warnings:   []string{"first", "second"},
	}))

	rec := httptest.NewRecorder()
	h.GetRunWarnings(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-1/warnings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID    string   `json:"runID"`
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "run-1", body.RunID)
	require.Equal(t, []string{"first", "second"}, body.Warnings)
}

func TestGetSnapshots(t *testing.T) {
	h := newTestHandler(t)
	require.NoError(t, h.DB.SaveWeeklySnapshot("measles", model.WeeklySnapshot{
		PeriodKey: "2026-W10",
		TakenAt:   time.Now().UTC(),
		Metrics:   map[string]float64{"Texas": 120},
	}))

	rec := httptest.NewRecorder()
	h.GetSnapshots(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshots/measles", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snaps []model.WeeklySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	require.Equal(t, "2026-W10", snaps[0].PeriodKey)
	require.Equal(t, 120.0, snaps[0].Metrics["Texas"])
}

func TestPathSegment(t *testing.T) {
	require.Equal(t, "abc", pathSegment("/api/v1/runs/abc", "/api/v1/runs/", 0))
	require.Equal(t, "abc", pathSegment("/api/v1/runs/abc/warnings", "/api/v1/runs/", 0))
	require.Equal(t, "warnings", pathSegment("/api/v1/runs/abc/warnings", "/api/v1/runs/", 1))
	require.Equal(t, "", pathSegment("/other/path", "/api/v1/runs/", 0))
	require.Equal(t, "", pathSegment("/api/v1/runs/", "/api/v1/runs/", 0))
}
