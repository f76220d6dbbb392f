package pipeline

import (
	"context"

	"epiviz-pipeline/internal/model"
)

// ------------------- Generation Boundary -------------------

// ResolvedContext carries everything the generation collaborator needs:
// the per-dataset resolutions (including gaps) and the week-over-week
// deltas for sources that feed comparison reporting.
type ResolvedContext struct {
	RunID       string
	Resolutions []Resolution
	Deltas      map[string]model.Delta // keyed by source name
}

// Dataset returns the resolution for a source name, if present.
func (rc *ResolvedContext) Dataset(name string) (Resolution, bool) {
	for _, res := range rc.Resolutions {
		if res.Source.Name == name {
			return res, true
		}
	}
	return Resolution{}, false
}

// Generator produces a candidate output bundle from resolved data.
// Implementations must tolerate unavailable datasets (omit the series)
// and report per-artifact failures as data — errors never cross this
// boundary as panics and never short-circuit sibling artifacts.
type Generator interface {
	Generate(ctx context.Context, rc *ResolvedContext) (*model.OutputBundle, []model.GenerationError)
}
