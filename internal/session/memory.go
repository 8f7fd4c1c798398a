package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultMemoryEntries = 10000
	defaultTTL           = 30 * time.Minute
)

// MemoryStore keeps notifications in a bounded, expiring LRU. Oldest
// sessions are evicted first when the bound is hit.
type MemoryStore struct {
	// mu makes Take a single step, the LRU alone would allow two readers
	// to Get the same entry before either Removes it
	mu  sync.Mutex
	lru *expirable.LRU[string, Notification]
}

// NewMemoryStore creates a store holding up to size sessions for ttl each.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = defaultMemoryEntries
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{lru: expirable.NewLRU[string, Notification](size, nil, ttl)}
}

func (s *MemoryStore) Put(_ context.Context, id string, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(id, n)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, id string) (Notification, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.lru.Get(id)
	if !ok {
		return Notification{}, false, nil
	}
	s.lru.Remove(id)
	return n, true, nil
}

// Len reports how many sessions currently hold a notification.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
