package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"epiviz-pipeline/internal/model"
	"epiviz-pipeline/pkg/utils"
)

// ------------------- Retention Store -------------------

var (
	// ErrNotFound means no backup record exists for a (kind, name).
	ErrNotFound = errors.New("backup record not found")
	// ErrStorageUnavailable means the archive medium itself is unreachable.
	ErrStorageUnavailable = errors.New("retention storage unavailable")
)

// recordTimeLayout gives fixed-width names so lexicographic filename
// order equals creation order.
const recordTimeLayout = "20060102T150405.000000000Z"

// RetentionStore is an append-only archive of timestamped backup
// records, one directory per (kind, logical name). Records are never
// mutated; only the garbage collector deletes them. Each name's record
// list is independently lockable so concurrent fetches can persist
// without cross-name coordination.
type RetentionStore struct {
	root     string
	policies map[model.RecordKind]model.RetentionPolicy

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seq   map[string]uint64

	now func() time.Time
}

// NewRetentionStore opens (or creates) the archive rooted at dir.
func NewRetentionStore(dir string, retention model.RetentionConfig) (*RetentionStore, error) {
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &RetentionStore{
		root: dir,
		policies: map[model.RecordKind]model.RetentionPolicy{
			model.KindRawData:        retention.Policy(model.KindRawData),
			model.KindRenderedBundle: retention.Policy(model.KindRenderedBundle),
		},
		locks: make(map[string]*sync.Mutex),
		seq:   make(map[string]uint64),
		now:   time.Now,
	}, nil
}

// Put writes an immutable timestamped record for (kind, name).
func (s *RetentionStore) Put(kind model.RecordKind, name string, content []byte) (model.BackupRecord, error) {
	return s.put(kind, name, content, s.now().UTC())
}

func (s *RetentionStore) put(kind model.RecordKind, name string, content []byte, createdAt time.Time) (model.BackupRecord, error) {
	lock := s.nameLock(kind, name)
	lock.Lock()
	defer lock.Unlock()

	seq := s.nextSeq(kind, name)
	rec := model.BackupRecord{
		Kind:      kind,
		Name:      name,
		Content:   content,
		CreatedAt: createdAt,
		Seq:       seq,
	}

	path := filepath.Join(s.nameDir(kind, name), recordFilename(rec))
	if err := utils.AtomicWriteFile(path, content, 0644); err != nil {
		return model.BackupRecord{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rec, nil
}

// Latest returns the most recently created record for (kind, name), or
// ErrNotFound if none exists.
func (s *RetentionStore) Latest(kind model.RecordKind, name string) (model.BackupRecord, error) {
	lock := s.nameLock(kind, name)
	lock.Lock()
	defer lock.Unlock()

	recs, err := s.list(kind, name)
	if err != nil {
		return model.BackupRecord{}, err
	}
	if len(recs) == 0 {
		return model.BackupRecord{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}

	newest := recs[len(recs)-1]
	content, err := os.ReadFile(filepath.Join(s.nameDir(kind, name), recordFilename(newest)))
	if err != nil {
		return model.BackupRecord{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	newest.Content = content
	return newest, nil
}

// CollectGarbage applies the kind's retention policy to every logical
// name: the newest MinKeep records are always retained; among the
// remainder only those older than MaxAge are removed. Idempotent by
// construction: a second pass with no new writes removes nothing.
func (s *RetentionStore) CollectGarbage(kind model.RecordKind) (int, error) {
	policy := s.policies[kind]
	cutoff := s.now().UTC().Add(-policy.MaxAge)

	kindDir := filepath.Join(s.root, string(kind))
	entries, err := os.ReadDir(kindDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		n, err := s.collectName(kind, entry.Name(), policy, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func (s *RetentionStore) collectName(kind model.RecordKind, name string, policy model.RetentionPolicy, cutoff time.Time) (int, error) {
	lock := s.nameLock(kind, name)
	lock.Lock()
	defer lock.Unlock()

	recs, err := s.list(kind, name)
	if err != nil {
		return 0, err
	}

	// Newest first; the first MinKeep records are untouchable.
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Seq > recs[j].Seq
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})

	removed := 0
	for i, rec := range recs {
		if i < policy.MinKeep {
			continue
		}
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		path := filepath.Join(s.nameDir(kind, name), recordFilename(rec))
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		removed++
	}
	return removed, nil
}

// list returns the records for (kind, name) in creation order, without
// content. Caller must hold the name lock.
func (s *RetentionStore) list(kind model.RecordKind, name string) ([]model.BackupRecord, error) {
	dir := s.nameDir(kind, name)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var recs []model.BackupRecord
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		rec, ok := parseRecordFilename(entry.Name())
		if !ok {
			continue
		}
		rec.Kind = kind
		rec.Name = name
		recs = append(recs, rec)
	}
	// Fixed-width names sort chronologically, then by insertion sequence.
	sort.Slice(recs, func(i, j int) bool {
		return recordFilename(recs[i]) < recordFilename(recs[j])
	})
	return recs, nil
}

func (s *RetentionStore) nameDir(kind model.RecordKind, name string) string {
	return filepath.Join(s.root, string(kind), name)
}

func (s *RetentionStore) nameLock(kind model.RecordKind, name string) *sync.Mutex {
	key := string(kind) + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// nextSeq hands out the per-name insertion sequence, resuming after the
// highest sequence already on disk.
func (s *RetentionStore) nextSeq(kind model.RecordKind, name string) uint64 {
	key := string(kind) + "/" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seq[key]; !ok {
		s.seq[key] = s.highestSeqOnDisk(kind, name)
	}
	s.seq[key]++
	return s.seq[key]
}

func (s *RetentionStore) highestSeqOnDisk(kind model.RecordKind, name string) uint64 {
	entries, err := os.ReadDir(s.nameDir(kind, name))
	if err != nil {
		return 0
	}
	var highest uint64
	for _, entry := range entries {
		if rec, ok := parseRecordFilename(entry.Name()); ok && rec.Seq > highest {
			highest = rec.Seq
		}
	}
	return highest
}

func recordFilename(rec model.BackupRecord) string {
	return fmt.Sprintf("%s-%06d.json", rec.CreatedAt.UTC().Format(recordTimeLayout), rec.Seq)
}

func parseRecordFilename(filename string) (model.BackupRecord, bool) {
	base, ok := strings.CutSuffix(filename, ".json")
	if !ok {
		return model.BackupRecord{}, false
	}
	ts, seqStr, ok := strings.Cut(base, "-")
	if !ok {
		return model.BackupRecord{}, false
	}
	createdAt, err := time.Parse(recordTimeLayout, ts)
	if err != nil {
		return model.BackupRecord{}, false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return model.BackupRecord{}, false
	}
	return model.BackupRecord{CreatedAt: createdAt, Seq: seq}, true
}
