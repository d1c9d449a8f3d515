package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/zhihu-live-crawler/internal/crawler"
)

// LiveStore keeps the latest version of every speaker and live.
type LiveStore struct {
	mu       sync.RWMutex
	speakers map[string]crawler.Speaker
	lives    map[string]crawler.Live
}

// NewLiveStore creates an empty LiveStore.
func NewLiveStore() *LiveStore {
	return &LiveStore{
		speakers: make(map[string]crawler.Speaker),
		lives:    make(map[string]crawler.Live),
	}
}

// UpsertSpeaker inserts or replaces a speaker.
func (s *LiveStore) UpsertSpeaker(_ context.Context, speaker crawler.Speaker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speakers[speaker.ID] = speaker
	return nil
}

// UpsertLive inserts or replaces a live.
func (s *LiveStore) UpsertLive(_ context.Context, live crawler.Live) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	live.Topics = append([]string(nil), live.Topics...)
	live.Suggestions = append([]crawler.Suggestion(nil), live.Suggestions...)
	s.lives[live.ID] = live
	return nil
}

// Speaker returns a stored speaker by ID.
func (s *LiveStore) Speaker(id string) (crawler.Speaker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.speakers[id]
	return sp, ok
}

// Live returns a stored live by ID.
func (s *LiveStore) Live(id string) (crawler.Live, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lives[id]
	return l, ok
}

// Counts reports how many speakers and lives are stored.
func (s *LiveStore) Counts() (speakers, lives int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.speakers), len(s.lives)
}
