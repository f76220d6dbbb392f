package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidationRules defines acceptance requirements for a source's payload
type ValidationRules struct {
	RequiredFields []string `yaml:"requiredFields"` // fields that must be present in every record
	MinRecords     int      `yaml:"minRecords"`     // minimum row count for a usable payload
}

// SourceSpec is the configuration for one logical dataset
type SourceSpec struct {
	Name           string           `yaml:"name"`
	Endpoints      []string         `yaml:"endpoints"` // primary first, then alternates
	Validation     *ValidationRules `yaml:"validation,omitempty"`
	Weekly         bool             `yaml:"weekly"`
	DimensionField string           `yaml:"dimensionField,omitempty"`
	MetricField    string           `yaml:"metricField,omitempty"`
}

// RetentionConfig holds the per-kind retention thresholds
type RetentionConfig struct {
	RawMaxAgeDays    int `yaml:"rawMaxAgeDays"`
	RawMinKeep       int `yaml:"rawMinKeep"`
	BundleMaxAgeDays int `yaml:"bundleMaxAgeDays"`
	BundleMinKeep    int `yaml:"bundleMinKeep"`
}

// Policy returns the retention policy for a record kind.
func (rc RetentionConfig) Policy(kind RecordKind) RetentionPolicy {
	if kind == KindRenderedBundle {
		return RetentionPolicy{
			MaxAge:  time.Duration(rc.BundleMaxAgeDays) * 24 * time.Hour,
			MinKeep: rc.BundleMinKeep,
		}
	}
	return RetentionPolicy{
		MaxAge:  time.Duration(rc.RawMaxAgeDays) * 24 * time.Hour,
		MinKeep: rc.RawMinKeep,
	}
}

// ConcurrencyConfig defines fetch parallelism and timeouts
type ConcurrencyConfig struct {
	MaxParallelFetches int     `yaml:"maxParallelFetches"`
	FetchTimeout       string  `yaml:"fetchTimeout"` // e.g. "30s"
	RunTimeout         string  `yaml:"runTimeout"`   // e.g. "10m"
	RequestsPerSecond  float64 `yaml:"requestsPerSecond"`
}

// Config is the entire refresh pipeline configuration. It is an explicit
// value handed to the coordinator at construction, never process-wide state.
type Config struct {
	Sources       []SourceSpec      `yaml:"sources"`
	Retention     RetentionConfig   `yaml:"retention"`
	Concurrency   ConcurrencyConfig `yaml:"concurrency"`
	BackupDir     string            `yaml:"backupDir"`
	LiveDir       string            `yaml:"liveDir"`
	StageDir      string            `yaml:"stageDir"`
	DBPath        string            `yaml:"dbPath"`
	SnapshotDepth int               `yaml:"snapshotDepth"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Sources) == 0 {
		return cfg, fmt.Errorf("config defines no sources")
	}
	for _, src := range cfg.Sources {
		if src.Name == "" {
			return cfg, fmt.Errorf("source with empty name")
		}
		if len(src.Endpoints) == 0 {
			return cfg, fmt.Errorf("source %s has no endpoints", src.Name)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields with the standard thresholds.
func (c *Config) ApplyDefaults() {
	if c.Retention.RawMaxAgeDays == 0 {
		c.Retention.RawMaxAgeDays = 30
	}
	if c.Retention.RawMinKeep == 0 {
		c.Retention.RawMinKeep = 5
	}
	if c.Retention.BundleMaxAgeDays == 0 {
		c.Retention.BundleMaxAgeDays = 7
	}
	if c.Retention.BundleMinKeep == 0 {
		c.Retention.BundleMinKeep = 3
	}
	if c.Concurrency.MaxParallelFetches == 0 {
		c.Concurrency.MaxParallelFetches = 3
	}
	if c.Concurrency.FetchTimeout == "" {
		c.Concurrency.FetchTimeout = "30s"
	}
	if c.Concurrency.RunTimeout == "" {
		c.Concurrency.RunTimeout = "10m"
	}
	if c.SnapshotDepth == 0 {
		c.SnapshotDepth = 8
	}
	if c.BackupDir == "" {
		c.BackupDir = "backup_data"
	}
	if c.LiveDir == "" {
		c.LiveDir = "docs"
	}
	if c.StageDir == "" {
		c.StageDir = "staging"
	}
	if c.DBPath == "" {
		c.DBPath = "refresh.db"
	}
}

// DataSource builds the runtime source with its validator capability.
func (s SourceSpec) DataSource() DataSource {
	return DataSource{
		Name:           s.Name,
		Endpoints:      append([]string(nil), s.Endpoints...),
		Validate:       s.Validation.Validator(),
		Weekly:         s.Weekly,
		DimensionField: s.DimensionField,
		MetricField:    s.MetricField,
	}
}

// Validator builds the acceptance check from the configured rules.
// A nil rule set passes everything through.
func (r *ValidationRules) Validator() Validator {
	if r == nil {
		return nil
	}
	rules := *r
	return func(records []GenericRecord) error {
		if len(records) < rules.MinRecords {
			return fmt.Errorf("insufficient data: only %d records, want >= %d", len(records), rules.MinRecords)
		}
		for i, rec := range records {
			for _, field := range rules.RequiredFields {
				if _, ok := rec[field]; !ok {
					return fmt.Errorf("record %d missing required field: %s", i, field)
				}
			}
		}
		return nil
	}
}
