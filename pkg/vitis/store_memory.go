package vitis

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a simple thread-safe map-based store for testing and local dev.
// It loses data on restart.
type InMemoryStore struct {
	mu          sync.RWMutex
	data        map[string]*RecordSet
	lastRefresh time.Time
	now         func() time.Time
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...StoreOption) *InMemoryStore {
	cfg := newStoreConfig(opts)
	return &InMemoryStore{
		data: make(map[string]*RecordSet),
		now:  cfg.now,
	}
}

func (s *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *InMemoryStore) Read(ctx context.Context, key string) (*RecordSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, ok := s.data[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	// Return a copy so callers cannot mutate the stored entry
	return rs.Clone(), nil
}

func (s *InMemoryStore) Write(ctx context.Context, key string, rs *RecordSet) error {
	if err := rs.checkShape(); err != nil {
		return storeErr("write", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = rs.Clone()
	s.lastRefresh = s.now()
	return nil
}

func (s *InMemoryStore) LastRefresh(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefresh, nil
}

// Keys returns the stored keys in no particular order.
func (s *InMemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
