package dedup

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	taskID  string
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Claim(_ context.Context, key, taskID string, ttl time.Duration) (bool, string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.expires.After(s.now()) {
		return true, rec.taskID, nil
	}
	s.records[key] = memoryRecord{taskID: taskID, expires: s.now().Add(ttl)}
	return false, "", nil
}
