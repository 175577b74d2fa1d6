package trust

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

func sqliteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trust_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID:      "ev-1",
		CapabilityID: "cap-1",
		TenantID:     "tenant-a",
		ReceiptID:    "r-1",
		Success:      true,
		LatencyMS:    123.45,
		OccurredAt:   now,
	}))
	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID:       "ev-2",
		CapabilityID:  "cap-1",
		Success:       false,
		LatencyMS:     400,
		ErrorTaxonomy: "provider_5xx",
		OccurredAt:    now.Add(time.Second),
	}))

	events, err := s.EventsSince(ctx, "cap-1", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].EventID, "ascending by occurred_at")
	assert.True(t, events[0].Success)
	assert.Equal(t, 123.45, events[0].LatencyMS)
	assert.Equal(t, "provider_5xx", events[1].ErrorTaxonomy)
	assert.Equal(t, now, events[0].OccurredAt.UTC())
}

func TestSQLiteStoreCutoffFilters(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID: "old", CapabilityID: "cap-1", Success: true,
		OccurredAt: now.Add(-10 * 24 * time.Hour),
	}))
	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID: "new", CapabilityID: "cap-1", Success: true,
		OccurredAt: now,
	}))

	events, err := s.EventsSince(ctx, "cap-1", now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].EventID)
}

func TestSQLiteStoreCutoffSubsecondBoundary(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 18, 10, 0, 0, 0, time.UTC)

	// Fractional-second offsets around an exact-second cutoff. A
	// textual timestamp comparison mis-orders these.
	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID: "before", CapabilityID: "cap-1", Success: true,
		OccurredAt: cutoff.Add(-100 * time.Millisecond),
	}))
	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID: "at", CapabilityID: "cap-1", Success: true,
		OccurredAt: cutoff,
	}))
	require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
		EventID: "after", CapabilityID: "cap-1", Success: true,
		OccurredAt: cutoff.Add(900 * time.Millisecond),
	}))

	events, err := s.EventsSince(ctx, "cap-1", cutoff)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "at", events[0].EventID)
	assert.Equal(t, "after", events[1].EventID)
	assert.Equal(t, cutoff.Add(900*time.Millisecond), events[1].OccurredAt)
}

func TestSQLiteStoreDuplicateEventIDIgnored(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := &contracts.OutcomeEvent{
		EventID: "ev-dup", CapabilityID: "cap-1", Success: true, OccurredAt: now,
	}
	require.NoError(t, s.Record(ctx, ev))
	require.NoError(t, s.Record(ctx, ev), "re-delivery is not an error")

	events, err := s.EventsSince(ctx, "cap-1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSQLiteStoreCapabilityIDs(t *testing.T) {
	s := sqliteStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"cap-b", "cap-a", "cap-b"} {
		require.NoError(t, s.Record(ctx, &contracts.OutcomeEvent{
			EventID:      id + "-" + time.Now().Format("150405.000000000"),
			CapabilityID: id,
			Success:      true,
			OccurredAt:   now,
		}))
		time.Sleep(time.Millisecond)
	}

	ids, err := s.CapabilityIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"cap-a", "cap-b"}, ids)
}

func TestSQLiteStoreWorksWithEngine(t *testing.T) {
	s := sqliteStore(t)
	e := NewEngine(s)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, e.Record(ctx, &contracts.OutcomeEvent{
			CapabilityID: "cap-1",
			Success:      true,
			LatencyMS:    float64(100 + i),
		}))
	}

	stats, err := e.Stats(ctx, "cap-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, stats.SuccessRate7D)
	assert.Equal(t, 10, stats.TotalExecutions)
	assert.True(t, stats.Verified)
}
