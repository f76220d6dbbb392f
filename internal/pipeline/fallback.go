package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"epiviz-pipeline/internal/model"
)

// ------------------- Fallback Orchestrator -------------------

// resolveState enumerates the ordered fallback tiers explicitly so the
// tie-break rule (fresh always wins over backup) stays auditable.
type resolveState int

const (
	stateTrying resolveState = iota
	stateFresh
	stateProbingBackup
	stateBackup
	stateUnavailable
)

// Resolution is the best-available outcome for one dataset.
type Resolution struct {
	Source    model.DataSource
	Tier      model.Tier
	Records   []model.GenericRecord
	Payload   []byte
	Endpoint  string    // endpoint that served the fresh payload
	BackupAge time.Duration
	Warning   string // non-empty when the run degraded for this dataset
}

// Orchestrator composes the fetcher and the retention store into a
// single best-available-data resolution per dataset.
type Orchestrator struct {
	Fetcher *Fetcher
	Store   *RetentionStore
}

// Resolve walks the tier state machine for one source:
// Trying -> Fresh | ProbingBackup -> Backup | Unavailable.
// force skips the backup probe entirely (fresh is still attempted).
// An unavailable dataset is reported as a gap, never as a run failure.
func (o *Orchestrator) Resolve(ctx context.Context, src model.DataSource, force bool) Resolution {
	state := stateTrying
	var att model.FetchAttempt
	var rec model.BackupRecord
	var warning string

	for {
		switch state {
		case stateTrying:
			att = o.Fetcher.Fetch(ctx, src)
			switch {
			case att.Success():
				state = stateFresh
			case force:
				warning = fmt.Sprintf("%s unavailable: %v (backup probe skipped by force refresh)", src.Name, att.Err)
				state = stateUnavailable
			default:
				state = stateProbingBackup
			}

		case stateFresh:
			// Defense in depth: revalidate before trusting the payload.
			if src.Validate != nil {
				if err := src.Validate(att.Records); err != nil {
					fmt.Printf("⚠️ Revalidation failed for %s: %v\n", src.Name, err)
					att.Err = fmt.Errorf("revalidation failed: %w", err)
					if force {
						warning = fmt.Sprintf("%s unavailable: %v (backup probe skipped by force refresh)", src.Name, att.Err)
						state = stateUnavailable
					} else {
						state = stateProbingBackup
					}
					continue
				}
			}
			if _, err := o.Store.Put(model.KindRawData, src.Name, att.Payload); err != nil {
				// The run proceeds fresh-only; the degraded guarantee is reported loudly.
				warning = fmt.Sprintf("could not archive fresh data for %s: %v", src.Name, err)
				fmt.Printf("🚨 %s\n", warning)
			}
			return Resolution{
				Source:   src,
				Tier:     model.TierFresh,
				Records:  att.Records,
				Payload:  att.Payload,
				Endpoint: att.Endpoint,
				Warning:  warning,
			}

		case stateProbingBackup:
			var err error
			rec, err = o.Store.Latest(model.KindRawData, src.Name)
			switch {
			case err == nil:
				state = stateBackup
			case errors.Is(err, ErrNotFound):
				warning = fmt.Sprintf("%s unavailable: %v and no backup exists", src.Name, att.Err)
				state = stateUnavailable
			default:
				warning = fmt.Sprintf("%s unavailable: %v and backup storage unreachable: %v", src.Name, att.Err, err)
				fmt.Printf("🚨 %s\n", warning)
				state = stateUnavailable
			}

		case stateBackup:
			records, err := parseRecords(rec.Content)
			if err != nil {
				warning = fmt.Sprintf("%s unavailable: backup record unreadable: %v", src.Name, err)
				state = stateUnavailable
				continue
			}
			age := time.Since(rec.CreatedAt)
			warning = fmt.Sprintf("using backup data for %s from %s (%s old)",
				src.Name, rec.CreatedAt.Format(time.RFC3339), age.Round(time.Minute))
			fmt.Printf("⚠️ %s\n", warning)
			return Resolution{
				Source:    src,
				Tier:      model.TierBackup,
				Records:   records,
				Payload:   rec.Content,
				BackupAge: age,
				Warning:   warning,
			}

		case stateUnavailable:
			fmt.Printf("❌ Skipping %s for this run\n", src.Name)
			return Resolution{
				Source:  src,
				Tier:    model.TierUnavailable,
				Warning: warning,
			}
		}
	}
}
