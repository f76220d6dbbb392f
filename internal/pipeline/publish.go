package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/pkg/utils"
)

// ------------------- Publish Guard -------------------

// Decision is the outcome of the publish-or-preserve choice.
type Decision string

const (
	DecisionPublished Decision = "published"
	DecisionPreserved Decision = "preserved"
)

// PublishGuard is the single serialization point of a run: it decides
// whether a candidate bundle replaces the live output set, and performs
// the swap so that external readers never observe a partial state.
//
// The live location is a symlink into the staging area; publishing
// writes the whole candidate to a fresh staging directory and renames a
// new symlink over the old one, which is the atomic swap.
type PublishGuard struct {
	LiveDir  string
	StageDir string
	Store    *RetentionStore // archives bundles; nil disables archiving
}

// NewPublishGuard prepares the staging area and normalizes the live
// location to a symlink. A pre-existing plain directory is adopted as
// the initial published version.
func NewPublishGuard(liveDir, stageDir string, store *RetentionStore) (*PublishGuard, error) {
	if err := utils.EnsureDir(stageDir); err != nil {
		return nil, err
	}
	g := &PublishGuard{LiveDir: liveDir, StageDir: stageDir, Store: store}

	info, err := os.Lstat(liveDir)
	if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
		// Migrate a plain live directory under staging and link to it.
		adopted := filepath.Join(stageDir, "adopted")
		if err := os.Rename(liveDir, adopted); err != nil {
			return nil, fmt.Errorf("failed to adopt existing live directory: %w", err)
		}
		if err := g.swapTo(adopted); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Decide publishes the candidate only when there are no generation
// errors and every artifact the live set expects is present and
// non-empty in the candidate. Anything else preserves the live set
// byte-for-byte and archives the candidate for forensic inspection.
func (g *PublishGuard) Decide(candidate *model.OutputBundle, genErrs []model.GenerationError) (Decision, error) {
	if len(genErrs) > 0 {
		fmt.Printf("🛑 Preserving live output: %d generation errors\n", len(genErrs))
		g.archiveCandidate(candidate, "emergency")
		return DecisionPreserved, nil
	}

	expected, err := g.liveArtifacts()
	if err != nil {
		return DecisionPreserved, err
	}
	for _, name := range expected {
		content, ok := candidate.Artifacts[name]
		if !ok || len(content) == 0 {
			fmt.Printf("🛑 Preserving live output: candidate missing artifact %s\n", name)
			g.archiveCandidate(candidate, "emergency")
			return DecisionPreserved, nil
		}
	}

	if err := g.publish(candidate); err != nil {
		return DecisionPreserved, err
	}
	g.archiveCandidate(candidate, "site")
	fmt.Printf("🚀 Published %d artifacts\n", len(candidate.Artifacts))
	return DecisionPublished, nil
}

// publish writes the full candidate to a run-scoped staging directory
// and flips the live symlink to it.
func (g *PublishGuard) publish(candidate *model.OutputBundle) error {
	versionDir := filepath.Join(g.StageDir, candidate.RunID)
	for name, content := range candidate.Artifacts {
		path := filepath.Join(versionDir, filepath.Base(name))
		if err := utils.AtomicWriteFile(path, content, 0644); err != nil {
			return fmt.Errorf("failed to stage artifact %s: %w", name, err)
		}
	}

	previous, _ := os.Readlink(g.LiveDir)
	if err := g.swapTo(versionDir); err != nil {
		return err
	}
	g.pruneStaged(versionDir, previous)
	return nil
}

// pruneStaged removes superseded version directories from the staging
// area, keeping the new live target and its immediate predecessor.
// Best-effort: the retention archive holds the durable bundle copies.
func (g *PublishGuard) pruneStaged(current, previous string) {
	entries, err := os.ReadDir(g.StageDir)
	if err != nil {
		return
	}
	keep := map[string]bool{filepath.Base(current): true}
	if previous != "" {
		keep[filepath.Base(previous)] = true
	}
	for _, entry := range entries {
		if !entry.IsDir() || keep[entry.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(g.StageDir, entry.Name())); err != nil {
			fmt.Printf("⚠️ Could not prune staged version %s: %v\n", entry.Name(), err)
		}
	}
}

// swapTo atomically points the live location at dir.
func (g *PublishGuard) swapTo(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	tmpLink := g.LiveDir + ".swap"
	_ = os.Remove(tmpLink)
	if err := os.Symlink(abs, tmpLink); err != nil {
		return fmt.Errorf("failed to create swap link: %w", err)
	}
	if err := os.Rename(tmpLink, g.LiveDir); err != nil {
		os.Remove(tmpLink)
		return fmt.Errorf("failed to swap live output: %w", err)
	}
	return nil
}

// liveArtifacts lists the artifact names the current live set serves.
// A missing live location (first publish) expects nothing.
func (g *PublishGuard) liveArtifacts() ([]string, error) {
	entries, err := os.ReadDir(g.LiveDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live output: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// archiveCandidate stores the bundle as a retention record. Failures
// only warn: archiving is best-effort and never blocks the decision.
func (g *PublishGuard) archiveCandidate(candidate *model.OutputBundle, name string) {
	if g.Store == nil || candidate == nil || len(candidate.Artifacts) == 0 {
		return
	}
	encoded, err := EncodeBundle(candidate)
	if err != nil {
		fmt.Printf("⚠️ Could not encode bundle for archiving: %v\n", err)
		return
	}
	if _, err := g.Store.Put(model.KindRenderedBundle, name, encoded); err != nil {
		fmt.Printf("⚠️ Could not archive bundle: %v\n", err)
	}
}

// EncodeBundle serializes a bundle for the retention archive.
func EncodeBundle(bundle *model.OutputBundle) ([]byte, error) {
	return json.Marshal(bundle)
}

// DecodeBundle restores an archived bundle record.
func DecodeBundle(content []byte) (*model.OutputBundle, error) {
	var bundle model.OutputBundle
	if err := json.Unmarshal(content, &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}
