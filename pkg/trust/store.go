// Package trust computes rolling reliability statistics for
// capabilities from their execution outcome events and derives the
// marketplace trust signals (verified, should_hide, should_throttle).
package trust

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// EventStore persists outcome events and serves windowed reads.
type EventStore interface {
	// Record persists a single outcome event.
	Record(ctx context.Context, event *contracts.OutcomeEvent) error

	// EventsSince returns the events for capabilityID with OccurredAt >=
	// cutoff, ordered by OccurredAt ascending.
	EventsSince(ctx context.Context, capabilityID string, cutoff time.Time) ([]*contracts.OutcomeEvent, error)

	// CapabilityIDs returns every capability that has at least one
	// recorded event.
	CapabilityIDs(ctx context.Context) ([]string, error)
}

// MemoryStore is the in-process EventStore used in development and
// tests. Events are kept per capability, append-ordered.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]*contracts.OutcomeEvent
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]*contracts.OutcomeEvent)}
}

// Record implements EventStore.
func (s *MemoryStore) Record(ctx context.Context, event *contracts.OutcomeEvent) error {
	cp := *event
	s.mu.Lock()
	s.events[event.CapabilityID] = append(s.events[event.CapabilityID], &cp)
	s.mu.Unlock()
	return nil
}

// EventsSince implements EventStore.
func (s *MemoryStore) EventsSince(ctx context.Context, capabilityID string, cutoff time.Time) ([]*contracts.OutcomeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*contracts.OutcomeEvent
	for _, e := range s.events[capabilityID] {
		if !e.OccurredAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// CapabilityIDs implements EventStore.
func (s *MemoryStore) CapabilityIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
