package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
	seq       uint64
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type InMemoryKeyedStore struct {
	mu    sync.RWMutex
	store map[string]map[string]memoryEntry
	seq   uint64
	now   func() time.Time
}

func NewInMemoryKeyedStore() *InMemoryKeyedStore {
	return &InMemoryKeyedStore{
		store: make(map[string]map[string]memoryEntry),
		now:   time.Now,
	}
}

// WithClock replaces the expiry clock.
func (s *InMemoryKeyedStore) WithClock(now func() time.Time) *InMemoryKeyedStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *InMemoryKeyedStore) Get(_ context.Context, namespace, key string) (string, bool, error) {
	now := s.now()
	s.mu.RLock()
	ns, ok := s.store[namespace]
	if !ok {
		s.mu.RUnlock()
		return "", false, nil
	}
	entry, ok := ns[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if entry.expired(now) {
		s.mu.Lock()
		s.deleteLocked(namespace, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *InMemoryKeyedStore) Set(_ context.Context, namespace, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(namespace, key, value, ttl)
	return nil
}

func (s *InMemoryKeyedStore) Increment(_ context.Context, namespace, key string, ttl time.Duration) (int64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.store[namespace][key]
	if !ok || entry.expired(now) {
		s.setLocked(namespace, key, "1", ttl)
		return 1, nil
	}
	n, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", namespace, key, err)
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	s.store[namespace][key] = entry
	return n, nil
}

func (s *InMemoryKeyedStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(namespace, key)
	return nil
}

func (s *InMemoryKeyedStore) Len(_ context.Context, namespace string) (int64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(namespace, now)
	return int64(len(s.store[namespace])), nil
}

func (s *InMemoryKeyedStore) EvictOldest(_ context.Context, namespace string, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked(namespace, now)
	ns := s.store[namespace]
	type ranked struct {
		key string
		memoryEntry
	}
	entries := make([]ranked, 0, len(ns))
	for k, e := range ns {
		entries = append(entries, ranked{key: k, memoryEntry: e})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	var evicted int64
	for _, e := range entries {
		if evicted >= n {
			break
		}
		s.deleteLocked(namespace, e.key)
		evicted++
	}
	return evicted, nil
}

func (s *InMemoryKeyedStore) setLocked(namespace, key, value string, ttl time.Duration) {
	ns, ok := s.store[namespace]
	if !ok {
		ns = make(map[string]memoryEntry)
		s.store[namespace] = ns
	}
	s.seq++
	entry := memoryEntry{value: value, seq: s.seq}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	ns[key] = entry
}

func (s *InMemoryKeyedStore) deleteLocked(namespace, key string) {
	ns, ok := s.store[namespace]
	if !ok {
		return
	}
	delete(ns, key)
	if len(ns) == 0 {
		delete(s.store, namespace)
	}
}

func (s *InMemoryKeyedStore) purgeLocked(namespace string, now time.Time) {
	for k, e := range s.store[namespace] {
		if e.expired(now) {
			s.deleteLocked(namespace, k)
		}
	}
}
