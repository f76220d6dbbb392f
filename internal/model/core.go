package model

import "time"

// GenericRecord is a schema-agnostic map for one row of any data source
type GenericRecord map[string]interface{}

// Tier identifies which fallback level satisfied a dataset for a run.
type Tier string

const (
	TierFresh       Tier = "fresh"
	TierBackup      Tier = "backup"
	TierUnavailable Tier = "unavailable"
)

// RecordKind distinguishes the two classes of archived artifacts.
type RecordKind string

const (
	KindRawData        RecordKind = "raw"
	KindRenderedBundle RecordKind = "bundle"
)

// Validator checks a parsed payload before it is accepted as fresh data.
type Validator func(records []GenericRecord) error

// DataSource is one logical dataset with its ordered endpoint list.
// Immutable for the duration of a run.
type DataSource struct {
	Name           string
	Endpoints      []string // primary first; order is significant
	Validate       Validator
	Weekly         bool   // feeds week-over-week reporting
	DimensionField string // grouping field for weekly metrics, e.g. "state"
	MetricField    string // numeric field summed per dimension, e.g. "cases"
}

// FetchAttempt is the result of trying endpoints for one source.
// Consumed immediately by the orchestrator, never persisted.
type FetchAttempt struct {
	Endpoint  string
	Payload   []byte
	Records   []GenericRecord
	FetchedAt time.Time
	Err       error
}

// Success reports whether the attempt yielded a usable payload.
func (a FetchAttempt) Success() bool { return a.Err == nil }

// BackupRecord is an immutable, timestamped copy of a fetched or
// generated artifact. Created only on success, deleted only by the
// retention garbage collector.
type BackupRecord struct {
	Kind      RecordKind `json:"kind"`
	Name      string     `json:"name"`
	Content   []byte     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	Seq       uint64     `json:"seq"` // insertion order within (kind, name); breaks timestamp ties
}

// RetentionPolicy combines an age ceiling with a count floor. The
// garbage collector never drops below MinKeep records for a logical
// name, even when every record is older than MaxAge.
type RetentionPolicy struct {
	MaxAge  time.Duration
	MinKeep int
}

// WeeklySnapshot is a dated extract of comparable metrics for one period.
type WeeklySnapshot struct {
	PeriodKey string             `json:"periodKey"` // ISO week, e.g. "2026-W35"
	TakenAt   time.Time          `json:"takenAt"`
	Metrics   map[string]float64 `json:"metrics"` // per-dimension values, e.g. cases per state
}

// DimensionDelta is the period-over-period change for one tracked dimension.
type DimensionDelta struct {
	Previous        float64 `json:"previous"`
	Current         float64 `json:"current"`
	Absolute        float64 `json:"absolute"`
	Relative        float64 `json:"relative"`
	RelativeDefined bool    `json:"relativeDefined"` // false when the previous value is zero
}

// Delta is the full comparison between a period and its immediate predecessor.
type Delta struct {
	PeriodKey   string                    `json:"periodKey"`
	PreviousKey string                    `json:"previousKey"`
	Dimensions  map[string]DimensionDelta `json:"dimensions"`
}

// OutputBundle is the complete set of generated artifacts for one run.
// The publish guard treats it as a single atomic unit.
type OutputBundle struct {
	RunID     string            `json:"runId"`
	CreatedAt time.Time         `json:"createdAt"`
	Artifacts map[string][]byte `json:"artifacts"` // filename -> content
}

// NewOutputBundle returns an empty candidate bundle for a run.
func NewOutputBundle(runID string) *OutputBundle {
	return &OutputBundle{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Artifacts: make(map[string][]byte),
	}
}

// GenerationError records a per-artifact generation failure. Errors are
// data at the generation boundary; they never short-circuit siblings.
type GenerationError struct {
	Artifact string `json:"artifact"`
	Message  string `json:"message"`
}
