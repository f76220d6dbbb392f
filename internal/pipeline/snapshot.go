package pipeline

import (
	"errors"
	"sort"
	"sync"

	"epiviz-pipeline/internal/model"
)

// ------------------- Snapshot Tracker -------------------

// ErrNoPriorPeriod means the history holds no period immediately
// preceding the requested one.
var ErrNoPriorPeriod = errors.New("no prior period in snapshot history")

// SnapshotTracker keeps a bounded, ordered history of periodic metric
// extracts used for period-over-period deltas. At most one snapshot
// exists per period key; re-recording within the same period overwrites.
type SnapshotTracker struct {
	mu      sync.Mutex
	depth   int
	history []model.WeeklySnapshot // ordered oldest to newest by period key
}

// NewSnapshotTracker creates a tracker holding at most depth periods.
func NewSnapshotTracker(depth int) *SnapshotTracker {
	return &SnapshotTracker{depth: depth}
}

// Load seeds the tracker from persisted history, trimming to depth.
func (t *SnapshotTracker) Load(snaps []model.WeeklySnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append([]model.WeeklySnapshot(nil), snaps...)
	sort.Slice(t.history, func(i, j int) bool {
		return t.history[i].PeriodKey < t.history[j].PeriodKey
	})
	if len(t.history) > t.depth {
		t.history = t.history[len(t.history)-t.depth:]
	}
}

// Record upserts a snapshot for its period key, evicting the oldest
// entry when the history would exceed its depth. It returns the evicted
// period key, or "" when nothing was evicted.
func (t *SnapshotTracker) Record(snap model.WeeklySnapshot) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.history {
		if existing.PeriodKey == snap.PeriodKey {
			t.history[i] = snap
			return ""
		}
	}

	t.history = append(t.history, snap)
	sort.Slice(t.history, func(i, j int) bool {
		return t.history[i].PeriodKey < t.history[j].PeriodKey
	})

	if len(t.history) > t.depth {
		evicted := t.history[0].PeriodKey
		t.history = t.history[1:]
		return evicted
	}
	return ""
}

// History returns a copy of the tracked snapshots, oldest first.
func (t *SnapshotTracker) History() []model.WeeklySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.WeeklySnapshot(nil), t.history...)
}

// Compare computes the delta between the given period and the
// immediately preceding one in the history. It is a pure function of
// the two snapshots: the same inputs always produce the same delta.
func (t *SnapshotTracker) Compare(periodKey string) (model.Delta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i, snap := range t.history {
		if snap.PeriodKey == periodKey {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return model.Delta{}, ErrNoPriorPeriod
	}

	return computeDelta(t.history[idx-1], t.history[idx]), nil
}

// computeDelta diffs two snapshots over the union of their dimensions.
// A dimension absent from one side counts as zero. Relative change is
// undefined (not a fault) when the previous value is zero.
func computeDelta(prev, curr model.WeeklySnapshot) model.Delta {
	dims := make(map[string]model.DimensionDelta)

	names := make(map[string]struct{}, len(curr.Metrics))
	for name := range prev.Metrics {
		names[name] = struct{}{}
	}
	for name := range curr.Metrics {
		names[name] = struct{}{}
	}

	for name := range names {
		p := prev.Metrics[name]
		c := curr.Metrics[name]
		d := model.DimensionDelta{
			Previous: p,
			Current:  c,
			Absolute: c - p,
		}
		if p != 0 {
			d.Relative = (c - p) / p
			d.RelativeDefined = true
		}
		dims[name] = d
	}

	return model.Delta{
		PeriodKey:   curr.PeriodKey,
		PreviousKey: prev.PeriodKey,
		Dimensions:  dims,
	}
}
