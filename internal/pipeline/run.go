package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/internal/store"
	"epiviz-pipeline/pkg/utils"

	"golang.org/x/sync/semaphore"
)

// ------------------- Run Coordinator -------------------

// Coordinator sequences one full refresh cycle: resolve every dataset,
// update the weekly snapshot history, generate the candidate bundle,
// run the publish decision, and garbage-collect the archive.
type Coordinator struct {
	cfg       model.Config
	fetcher   *Fetcher
	retention *RetentionStore
	guard     *PublishGuard
	gen       Generator
	trackers  map[string]*SnapshotTracker
	db        *store.DB // optional; nil disables run/snapshot persistence
}

// NewCoordinator wires the pipeline components from an explicit config
// value. When db is non-nil, weekly history is seeded from it.
func NewCoordinator(cfg model.Config, gen Generator, db *store.DB) (*Coordinator, error) {
	retention, err := NewRetentionStore(cfg.BackupDir, cfg.Retention)
	if err != nil {
		return nil, err
	}
	guard, err := NewPublishGuard(cfg.LiveDir, cfg.StageDir, retention)
	if err != nil {
		return nil, err
	}

	fetchTimeout := utils.ParseDuration(cfg.Concurrency.FetchTimeout, 30*time.Second)
	c := &Coordinator{
		cfg:       cfg,
		fetcher:   NewFetcher(fetchTimeout, cfg.Concurrency.RequestsPerSecond),
		retention: retention,
		guard:     guard,
		gen:       gen,
		trackers:  make(map[string]*SnapshotTracker),
		db:        db,
	}

	for _, spec := range cfg.Sources {
		if !spec.Weekly {
			continue
		}
		tracker := NewSnapshotTracker(cfg.SnapshotDepth)
		if db != nil {
			history, err := db.WeeklyHistory(spec.Name, cfg.SnapshotDepth)
			if err != nil {
				return nil, fmt.Errorf("failed to load weekly history for %s: %w", spec.Name, err)
			}
			tracker.Load(history)
		}
		c.trackers[spec.Name] = tracker
	}
	return c, nil
}

// Retention exposes the archive for status handlers.
func (c *Coordinator) Retention() *RetentionStore { return c.retention }

// Run executes a single refresh cycle. A dataset gap never aborts the
// run; the only fatal outcomes are coordinator-level failures such as
// an unusable staging area.
func (c *Coordinator) Run(ctx context.Context, runID string, force bool) (outcome *model.RunOutcome, err error) {
	start := time.Now().UTC()
	fmt.Printf("🚀 Starting refresh run %s (force=%v)\n", runID, force)

	if c.db != nil {
		if statusErr := c.db.UpdateRunStatus(runID, "running"); statusErr != nil {
			fmt.Printf("⚠️ Could not update run status: %v\n", statusErr)
		}
		defer func() {
			if err != nil {
				if statusErr := c.db.UpdateRunStatus(runID, "failed"); statusErr != nil {
					fmt.Printf("⚠️ Could not update run status: %v\n", statusErr)
				}
			}
		}()
	}

	runTimeout := utils.ParseDuration(c.cfg.Concurrency.RunTimeout, 10*time.Minute)
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	// --- RESOLUTION STAGE ---
	resolutions := c.resolveAll(ctx, force)

	var warnings []string
	for _, res := range resolutions {
		if res.Warning != "" {
			warnings = append(warnings, res.Warning)
		}
	}

	// --- SNAPSHOT STAGE ---
	deltas := c.trackSnapshots(resolutions)

	// --- GENERATION STAGE ---
	rc := &ResolvedContext{RunID: runID, Resolutions: resolutions, Deltas: deltas}
	candidate, genErrs := c.gen.Generate(ctx, rc)
	for _, ge := range genErrs {
		warnings = append(warnings, fmt.Sprintf("generation failed for %s: %s", ge.Artifact, ge.Message))
	}

	// --- PUBLISH STAGE ---
	decision, decideErr := c.guard.Decide(candidate, genErrs)
	if decideErr != nil {
		warnings = append(warnings, fmt.Sprintf("publish swap failed: %v", decideErr))
		decision = DecisionPreserved
	}

	// --- GARBAGE COLLECTION ---
	gcRemoved := make(map[model.RecordKind]int)
	for _, kind := range []model.RecordKind{model.KindRawData, model.KindRenderedBundle} {
		removed, gcErr := c.retention.CollectGarbage(kind)
		gcRemoved[kind] = removed
		if gcErr != nil {
			warnings = append(warnings, fmt.Sprintf("garbage collection failed for %s: %v", kind, gcErr))
		}
	}

	outcome = &model.RunOutcome{
		RunID:            runID,
		StartedAt:        start,
		FinishedAt:       time.Now().UTC(),
		Warnings:         warnings,
		Published:        decision == DecisionPublished,
		Decision:         string(decision),
		GenerationErrors: genErrs,
		GCRemoved:        gcRemoved,
	}
	for _, res := range resolutions {
		dr := model.DatasetResolution{
			Name:        res.Source.Name,
			Tier:        res.Tier,
			Endpoint:    res.Endpoint,
			RecordCount: len(res.Records),
		}
		if res.Tier == model.TierBackup {
			dr.BackupAge = res.BackupAge.Round(time.Minute).String()
		}
		outcome.Resolutions = append(outcome.Resolutions, dr)
	}

	if c.db != nil {
		if saveErr := c.db.SaveRunOutcome(outcome); saveErr != nil {
			fmt.Printf("⚠️ Could not persist run outcome: %v\n", saveErr)
		}
	}

	printSummary(outcome)
	return outcome, nil
}

// resolveAll resolves every configured dataset concurrently under a
// bounded semaphore. Each fetch has its own timeout and cancellation;
// one dataset's failure never affects its siblings.
func (c *Coordinator) resolveAll(ctx context.Context, force bool) []Resolution {
	orch := &Orchestrator{Fetcher: c.fetcher, Store: c.retention}
	sem := semaphore.NewWeighted(int64(c.cfg.Concurrency.MaxParallelFetches))
	resolutions := make([]Resolution, len(c.cfg.Sources))

	var wg sync.WaitGroup
	for i, spec := range c.cfg.Sources {
		wg.Add(1)
		go func(i int, spec model.SourceSpec) {
			defer wg.Done()
			src := spec.DataSource()
			if err := sem.Acquire(ctx, 1); err != nil {
				resolutions[i] = Resolution{
					Source:  src,
					Tier:    model.TierUnavailable,
					Warning: fmt.Sprintf("%s unavailable: run cancelled before fetch: %v", src.Name, err),
				}
				return
			}
			defer sem.Release(1)
			resolutions[i] = orch.Resolve(ctx, src, force)
		}(i, spec)
	}
	wg.Wait()
	return resolutions
}

// trackSnapshots records this period's metrics for every weekly-flagged
// source that resolved, and computes the week-over-week delta where a
// prior period exists.
func (c *Coordinator) trackSnapshots(resolutions []Resolution) map[string]model.Delta {
	deltas := make(map[string]model.Delta)
	now := time.Now().UTC()
	periodKey := utils.PeriodKey(now)

	for _, res := range resolutions {
		tracker, ok := c.trackers[res.Source.Name]
		if !ok || res.Tier == model.TierUnavailable {
			continue
		}

		snap := model.WeeklySnapshot{
			PeriodKey: periodKey,
			TakenAt:   now,
			Metrics:   aggregateMetrics(res.Records, res.Source.DimensionField, res.Source.MetricField),
		}
		if evicted := tracker.Record(snap); evicted != "" {
			fmt.Printf("🗂 Evicted weekly snapshot %s for %s\n", evicted, res.Source.Name)
		}

		if c.db != nil {
			if err := c.db.SaveWeeklySnapshot(res.Source.Name, snap); err != nil {
				fmt.Printf("⚠️ Could not persist snapshot for %s: %v\n", res.Source.Name, err)
			} else if _, err := c.db.PruneWeeklySnapshots(res.Source.Name, c.cfg.SnapshotDepth); err != nil {
				fmt.Printf("⚠️ Could not prune snapshots for %s: %v\n", res.Source.Name, err)
			}
		}

		if delta, err := tracker.Compare(periodKey); err == nil {
			deltas[res.Source.Name] = delta
		}
	}
	return deltas
}

// aggregateMetrics sums the metric field per dimension value.
func aggregateMetrics(records []model.GenericRecord, dimField, metricField string) map[string]float64 {
	metrics := make(map[string]float64)
	for _, rec := range records {
		dim, ok := rec[dimField].(string)
		if !ok || strings.TrimSpace(dim) == "" {
			continue
		}
		metrics[strings.TrimSpace(dim)] += utils.Numeric(rec[metricField])
	}
	return metrics
}

func printSummary(outcome *model.RunOutcome) {
	banner := strings.Repeat("=", 60)
	fmt.Println(banner)
	fmt.Printf("🏁 Run %s: %s in %v\n", outcome.RunID, outcome.Decision,
		outcome.FinishedAt.Sub(outcome.StartedAt).Round(time.Millisecond))
	for _, res := range outcome.Resolutions {
		fmt.Printf("   %-20s tier=%-11s records=%d\n", res.Name, res.Tier, res.RecordCount)
	}
	if len(outcome.Warnings) > 0 {
		fmt.Printf("⚠️ %d warnings:\n", len(outcome.Warnings))
		for _, w := range outcome.Warnings {
			fmt.Printf("   - %s\n", w)
		}
	}
	fmt.Printf("🧹 GC removed: raw=%d bundle=%d\n",
		outcome.GCRemoved[model.KindRawData], outcome.GCRemoved[model.KindRenderedBundle])
	fmt.Println(banner)
}
