package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// entry pairs a receipt with its expiry.
type entry struct {
	receipt   *contracts.Receipt
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-process Store with TTL eviction:
// expired entries are dropped lazily on read and by a background sweep.
// Suitable for a single process; distributed deployments use the Redis
// or Postgres stores.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a memory store and starts its sweep loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]entry),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func compositeKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, tenantID, key string) (*contracts.Receipt, error) {
	ck := compositeKey(tenantID, key)

	s.mu.RLock()
	e, ok := s.entries[ck]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if !time.Now().Before(e.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// refreshed the entry.
		if cur, ok := s.entries[ck]; ok && !time.Now().Before(cur.expiresAt) {
			delete(s.entries, ck)
		}
		s.mu.Unlock()
		return nil, nil
	}

	// Copy so callers cannot mutate the cached record.
	receipt := *e.receipt
	return &receipt, nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, tenantID, key string, receipt *contracts.Receipt, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	val := *receipt

	s.mu.Lock()
	s.entries[compositeKey(tenantID, key)] = entry{
		receipt:   &val,
		expiresAt: time.Now().Add(ttl),
	}
	s.mu.Unlock()
	return nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
	return nil
}

// Close stops the background sweep.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if !now.Before(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
