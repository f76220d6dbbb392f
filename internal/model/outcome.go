package model

import "time"

// DatasetResolution summarizes how one dataset was satisfied during a run.
type DatasetResolution struct {
	Name        string `json:"name"`
	Tier        Tier   `json:"tier"`
	Endpoint    string `json:"endpoint,omitempty"` // endpoint that served the fresh payload
	RecordCount int    `json:"record_count"`
	BackupAge   string `json:"backup_age,omitempty"` // age of the backup record when tier is backup
}

// RunOutcome is the structured result of one refresh cycle. Log lines
// are a rendering of this record, not the record itself.
type RunOutcome struct {
	RunID            string              `json:"run_id"`
	StartedAt        time.Time           `json:"started_at"`
	FinishedAt       time.Time           `json:"finished_at"`
	Resolutions      []DatasetResolution `json:"resolutions"`
	Warnings         []string            `json:"warnings"`
	Published        bool                `json:"published"`
	Decision         string              `json:"decision"` // "published" or "preserved"
	GenerationErrors []GenerationError   `json:"generation_errors,omitempty"`
	GCRemoved        map[RecordKind]int  `json:"gc_removed"`
}

// TierCount returns how many datasets resolved at the given tier.
func (o *RunOutcome) TierCount(tier Tier) int {
	n := 0
	for _, r := range o.Resolutions {
		if r.Tier == tier {
			n++
		}
	}
	return n
}
