package cache

import (
	"context"
	"sync"
	"time"

	"github.com/coachpo/pricebridge/internal/domain/schema"
)

type memoryItem struct {
	result    schema.Result
	expiresAt time.Time
}

// MemoryStore keeps results in process until their TTL elapses.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates an in-process store. A non-positive ttl keeps entries forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock overrides the store clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Put stores entries, replacing earlier values for the same key.
func (s *MemoryStore) Put(_ context.Context, entries []Entry) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		item := memoryItem{result: e.Result}
		if s.ttl > 0 {
			item.expiresAt = now.Add(s.ttl)
		}
		s.items[e.Key] = item
	}
	return nil
}

// Get returns the live result stored at key.
func (s *MemoryStore) Get(_ context.Context, key string) (schema.Result, bool, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || s.expired(item) {
		return schema.Result{}, false, nil
	}
	return item.result, true, nil
}

// Sweep drops expired entries and reports how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, item := range s.items {
		if s.expired(item) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Run sweeps expired entries every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt)
}
