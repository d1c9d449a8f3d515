package frontier

import (
	"context"
	"sync"
)

// SeenSet records every URL admitted during one crawl.
type SeenSet interface {
	// Add records key and reports whether it was absent.
	Add(ctx context.Context, key string) (bool, error)
}

// MemorySeenSet is a process-local SeenSet.
type MemorySeenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemorySeenSet returns an empty MemorySeenSet.
func NewMemorySeenSet() *MemorySeenSet {
	return &MemorySeenSet{seen: make(map[string]struct{})}
}

// Add records key and reports whether it was absent.
func (s *MemorySeenSet) Add(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

// Contains reports whether key has been recorded.
func (s *MemorySeenSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Len returns the number of recorded keys.
func (s *MemorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
