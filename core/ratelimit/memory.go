package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int64
	start time.Time
}

// MemoryStore is the process-local Store. Expired windows are reset lazily on access and
// pruned once every pruneEvery increments.
type MemoryStore struct {
	mu         sync.Mutex
	windows    map[string]*window
	pruneEvery int
	calls      int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(pruneEvery int) *MemoryStore {
	if pruneEvery < 1 {
		pruneEvery = 100
	}
	return &MemoryStore{windows: make(map[string]*window), pruneEvery: pruneEvery}
}

func (s *MemoryStore) Increment(_ context.Context, key string, size time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%s.pruneEvery == 0 {
		s.prune(size, now)
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.start.Add(size)) {
		w = &window{start: now}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.start.Add(size), nil
}

// Len is the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) prune(size time.Duration, now time.Time) {
	for key, w := range s.windows {
		if !now.Before(w.start.Add(size)) {
			delete(s.windows, key)
		}
	}
}
