package memory

import (
	"context"
	"sync"
	"time"
)

// MemStore is a thread-safe in-memory store. History is lost on restart.
type MemStore struct {
	mu      sync.RWMutex
	threads map[string][]Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{threads: make(map[string][]Message)}
}

func (s *MemStore) Load(_ context.Context, threadID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threads[threadID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemStore) Append(_ context.Context, threadID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	normalized := normalize(msgs, time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = append(s.threads[threadID], normalized...)
	return nil
}

func (s *MemStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, msgs := range s.threads {
		if len(msgs) == 0 || msgs[len(msgs)-1].Time.Before(before) {
			removed += len(msgs)
			delete(s.threads, id)
		}
	}
	return removed, nil
}

func (s *MemStore) Close() error {
	return nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
