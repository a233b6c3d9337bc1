package credentials

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the record in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	rec     *Record
	now     Clock
	SaveErr error // returned by Save when set; lets callers exercise persistence failures
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

func (s *MemoryStore) Load(_ context.Context) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return Record{}, false
	}
	return *s.rec, true
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.rec = &rec
	return nil
}

func (s *MemoryStore) IsExpired(ctx context.Context) bool {
	return isExpired(ctx, s, s.now)
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	return nil
}
