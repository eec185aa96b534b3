package review

import (
	"context"
	"sync"
	"time"
)

type MemorySink struct {
	mu      sync.Mutex
	reviews []Review
}

func NewMemorySink() *MemorySink {
	return &MemorySink{reviews: make([]Review, 0, 16)}
}

func (s *MemorySink) Create(_ context.Context, r Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.reviews = append(s.reviews, r)
	return nil
}

func (s *MemorySink) List() []Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Review, len(s.reviews))
	copy(out, s.reviews)
	return out
}
