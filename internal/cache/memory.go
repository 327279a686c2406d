package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"athanor/internal/model"
)

type memoryLease struct {
	owner   string
	expires time.Time
}

// MemoryStore keeps records and leases in process memory. It backs tests and
// single-process runs.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	records     map[string]model.CacheRecord
	leases      map[string]memoryLease
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.records = make(map[string]model.CacheRecord)
	s.leases = make(map[string]memoryLease)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (model.CacheRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return model.CacheRecord{}, false, ErrNotInitialized
	}
	record, ok := s.records[key]
	return record, ok, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, record model.CacheRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	if _, exists := s.records[key]; exists {
		return false, nil
	}
	s.records[key] = record
	return true, nil
}

func (s *MemoryStore) AcquireLease(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	now := time.Now()
	current, held := s.leases[key]
	if held && current.owner != owner && now.Before(current.expires) {
		return false, nil
	}
	s.leases[key] = memoryLease{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (s *MemoryStore) ReleaseLease(_ context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	if current, held := s.leases[key]; held && current.owner == owner {
		delete(s.leases, key)
	}
	return nil
}

func (s *MemoryStore) Export(_ context.Context) ([]model.CacheRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]model.CacheRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.records[key])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
