package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. For tests and development.
type MemoryStore struct {
	runs   map[string][]*Record
	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]*Record)}
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.runs[rec.RunID] = append(s.runs[rec.RunID], rec)
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	recs := s.runs[runID]
	var latest *Record
	for _, rec := range recs {
		if latest == nil || rec.Step > latest.Step {
			latest = rec
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Count returns the number of records stored for a run. Test helper.
func (s *MemoryStore) Count(runID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs[runID])
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
