package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// latestMarker names the per-run file pointing at the authoritative record.
const latestMarker = "LATEST"

// FileStore persists one JSON record per step under a per-run directory.
// Writes go to a temp file first and are renamed into place, so a record is
// either fully present or absent. The latest record is resolved through the
// LATEST marker, falling back to a directory scan for the highest step when
// the marker is missing.
type FileStore struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
	logger  *zap.Logger
}

// NewFileStore creates a store rooted at baseDir, creating it if needed.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		logger:  logger.With(zap.String("component", "checkpoint_file_store")),
	}, nil
}

func (s *FileStore) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func recordFileName(step int64) string {
	return fmt.Sprintf("step-%012d.json", step)
}

func (s *FileStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	dir := s.runDir(rec.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint record: %w", err)
	}

	name := recordFileName(rec.Step)
	if err := atomicWrite(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("write checkpoint record: %w", err)
	}

	// The marker becomes authoritative only after the record itself is
	// durable; a crash between the two writes leaves the previous latest
	// intact and the new record discoverable by scan.
	if err := atomicWrite(filepath.Join(dir, latestMarker), []byte(name)); err != nil {
		return fmt.Errorf("write latest marker: %w", err)
	}

	s.logger.Debug("checkpoint record written",
		zap.String("run_id", rec.RunID),
		zap.Int64("step", rec.Step),
		zap.String("file", name),
	)
	return nil
}

// atomicWrite writes data to a temp file in the target's directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Latest(ctx context.Context, runID string) (*Record, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}

	dir := s.runDir(runID)

	if name, err := os.ReadFile(filepath.Join(dir, latestMarker)); err == nil {
		rec, err := s.load(filepath.Join(dir, strings.TrimSpace(string(name))))
		if err == nil {
			return rec, nil
		}
		s.logger.Warn("latest marker points at unreadable record, falling back to scan",
			zap.String("run_id", runID), zap.Error(err))
	}

	return s.scanLatest(dir)
}

// scanLatest walks the run directory for the highest-step record.
func (s *FileStore) scanLatest(dir string) (*Record, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "step-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNotFound
	}

	// Zero-padded step numbers sort lexically.
	sort.Strings(names)
	for i := len(names) - 1; i >= 0; i-- {
		rec, err := s.load(filepath.Join(dir, names[i]))
		if err == nil {
			return rec, nil
		}
		s.logger.Warn("skipping unreadable checkpoint record",
			zap.String("file", names[i]), zap.Error(err))
	}
	return nil, ErrNotFound
}

func (s *FileStore) load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint record %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*FileStore)(nil)
