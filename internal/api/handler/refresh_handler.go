package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/internal/pipeline"
	"epiviz-pipeline/internal/store"

	"github.com/google/uuid"
)

// Handler serves the refresh status API.
type Handler struct {
	DB    *store.DB
	Coord *pipeline.Coordinator
	Cfg   model.Config
}

func New(db *store.DB, coord *pipeline.Coordinator, cfg model.Config) *Handler {
	return &Handler{DB: db, Coord: coord, Cfg: cfg}
}

// TriggerRefresh starts a new refresh run
// @Summary Trigger a refresh run
// @Description Start a refresh cycle asynchronously. Pass force=true to skip the backup tier probe.
// @Tags runs
// @Accept json
// @Produce json
// @Param force query bool false "Skip backup probe on fetch failure"
// @Success 202 {object} map[string]interface{} "Run accepted"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /refresh [post]
func (h *Handler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	runID := uuid.New().String()

	if err := h.DB.CreateRun(runID); err != nil {
		http.Error(w, "Failed to register run", http.StatusInternalServerError)
		return
	}

	go func() {
		if _, err := h.Coord.Run(context.Background(), runID, force); err != nil {
			fmt.Printf("❌ Run %s failed: %v\n", runID, err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":   "Refresh run started",
		"runID":     runID,
		"force":     force,
		"createdAt": time.Now().UTC(),
	})
}

// ListRuns retrieves all refresh runs
// @Summary List runs
// @Description Get recent refresh runs with their status, newest first
// @Tags runs
// @Produce json
// @Success 200 {array} map[string]interface{} "List of runs"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.DB.ListRuns()
	if err != nil {
		http.Error(w, "Failed to fetch runs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

// GetRun retrieves one run with its full outcome
// @Summary Get run
// @Description Retrieve a run's status and structured outcome
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Run details"
// @Failure 404 {object} map[string]interface{} "Run not found"
// @Router /runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := pathSegment(r.URL.Path, "/api/v1/runs/", 0)
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	run, err := h.DB.GetRun(runID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetRunWarnings retrieves the warnings recorded for a run
// @Summary Get run warnings
// @Description List the warnings a run emitted (backup fallbacks, gaps, GC failures)
// @Tags runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} map[string]interface{} "Warnings"
// @Failure 400 {object} map[string]interface{} "Invalid run ID"
// @Router /runs/{id}/warnings [get]
func (h *Handler) GetRunWarnings(w http.ResponseWriter, r *http.Request) {
	runID := pathSegment(r.URL.Path, "/api/v1/runs/", 0)
	if runID == "" {
		http.Error(w, "Run ID is required", http.StatusBadRequest)
		return
	}

	warnings, err := h.DB.RunWarnings(runID)
	if err != nil {
		http.Error(w, "Failed to fetch warnings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runID":    runID,
		"warnings": warnings,
	})
}

// GetSnapshots retrieves the weekly snapshot history for a source
// @Summary Get weekly snapshots
// @Description Rolling week-over-week snapshot history for one source, oldest first
// @Tags snapshots
// @Produce json
// @Param source path string true "Source name"
// @Success 200 {array} model.WeeklySnapshot "Snapshots"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /snapshots/{source} [get]
func (h *Handler) GetSnapshots(w http.ResponseWriter, r *http.Request) {
	source := pathSegment(r.URL.Path, "/api/v1/snapshots/", 0)
	if source == "" {
		http.Error(w, "Source name is required", http.StatusBadRequest)
		return
	}

	snaps, err := h.DB.WeeklyHistory(source, h.Cfg.SnapshotDepth)
	if err != nil {
		http.Error(w, "Failed to fetch snapshots", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snaps)
}

// pathSegment extracts the n-th segment after a route prefix.
func pathSegment(path, prefix string, n int) string {
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	segments := strings.Split(strings.Trim(path[len(prefix):], "/"), "/")
	if n >= len(segments) {
		return ""
	}
	return segments[n]
}
