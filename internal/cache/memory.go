package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ceilingTTL bounds how long an entry can live in the backing LRU before
// its own bookkeeping sees it. Per-key TTLs passed to Set/HSetWithExpire/
// ListPushTrimExpire are almost always well under this and are enforced
// precisely by expiresAt on each entry; this ceiling only guarantees the
// LRU itself never pins memory indefinitely.
const ceilingTTL = 24 * time.Hour

const maxMemoryEntries = 100_000

type memEntry struct {
	value     []byte
	hash      map[string]string
	list      []string
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is the in-process fallback used when no shared cache URL is
// configured. It satisfies the Store contract but, per the behavioral
// profiler's design note, is never treated as equivalent to the shared
// backend by callers that require cross-instance state.
type MemoryStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *memEntry]
}

// NewMemoryStore creates the in-process fallback store, backed by a
// size-bounded, self-expiring LRU.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lru: expirable.NewLRU[string, *memEntry](maxMemoryEntries, nil, ceilingTTL),
	}
}

func (s *MemoryStore) get(key string) (*memEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Get(key)
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(key, &memEntry{value: value, expiresAt: expiry(ttl)})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(key)
	return nil
}

func (s *MemoryStore) HSetWithExpire(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Get(key)
	if !ok || e.expired(time.Now()) {
		e = &memEntry{hash: make(map[string]string, len(fields))}
	}
	if e.hash == nil {
		e.hash = make(map[string]string, len(fields))
	}
	for f, v := range fields {
		e.hash[f] = v
	}
	e.expiresAt = expiry(ttl)
	s.lru.Add(key, e)
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	e, ok := s.get(key)
	if !ok || e.hash == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) ListPushTrimExpire(_ context.Context, key, value string, maxLen int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lru.Get(key)
	if !ok || e.expired(time.Now()) {
		e = &memEntry{}
	}
	e.list = append([]string{value}, e.list...)
	if len(e.list) > maxLen {
		e.list = e.list[:maxLen]
	}
	e.expiresAt = expiry(ttl)
	s.lru.Add(key, e)
	return nil
}

func (s *MemoryStore) ListRange(_ context.Context, key string) ([]string, error) {
	e, ok := s.get(key)
	if !ok || e.list == nil {
		return nil, nil
	}
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
