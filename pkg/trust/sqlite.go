package trust

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// SQLiteStore is a file-backed EventStore. It survives restarts, which
// the rolling 7-day window needs; a capability's history should not
// reset on every deploy.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS outcome_events (
    event_id       TEXT PRIMARY KEY,
    capability_id  TEXT NOT NULL,
    tenant_id      TEXT NOT NULL DEFAULT '',
    receipt_id     TEXT NOT NULL DEFAULT '',
    success        INTEGER NOT NULL,
    latency_ms     REAL NOT NULL DEFAULT 0,
    error_taxonomy TEXT NOT NULL DEFAULT '',
    occurred_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcome_events_capability
    ON outcome_events (capability_id, occurred_at);
`

// NewSQLiteStore opens (and if necessary creates) the event database at
// path. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("trust: open sqlite %q: %w", path, err)
	}
	// modernc sqlite is not safe for concurrent writers on one conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("trust: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Record implements EventStore.
func (s *SQLiteStore) Record(ctx context.Context, event *contracts.OutcomeEvent) error {
	success := 0
	if event.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcome_events
		    (event_id, capability_id, tenant_id, receipt_id, success, latency_ms, error_taxonomy, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		event.EventID, event.CapabilityID, event.TenantID, event.ReceiptID,
		success, event.LatencyMS, event.ErrorTaxonomy,
		// Unix nanoseconds, so the window filter compares numerically.
		// Textual timestamps order incorrectly across fractional-second
		// boundaries.
		event.OccurredAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("trust: record event %s: %w", event.EventID, err)
	}
	return nil
}

// EventsSince implements EventStore.
func (s *SQLiteStore) EventsSince(ctx context.Context, capabilityID string, cutoff time.Time) ([]*contracts.OutcomeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, capability_id, tenant_id, receipt_id, success, latency_ms, error_taxonomy, occurred_at
		FROM outcome_events
		WHERE capability_id = ? AND occurred_at >= ?
		ORDER BY occurred_at ASC`,
		capabilityID, cutoff.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("trust: query events for %s: %w", capabilityID, err)
	}
	defer rows.Close()

	var out []*contracts.OutcomeEvent
	for rows.Next() {
		var (
			e          contracts.OutcomeEvent
			success    int
			occurredAt int64
		)
		if err := rows.Scan(&e.EventID, &e.CapabilityID, &e.TenantID, &e.ReceiptID,
			&success, &e.LatencyMS, &e.ErrorTaxonomy, &occurredAt); err != nil {
			return nil, fmt.Errorf("trust: scan event row: %w", err)
		}
		e.Success = success == 1
		e.OccurredAt = time.Unix(0, occurredAt).UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CapabilityIDs implements EventStore.
func (s *SQLiteStore) CapabilityIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT capability_id FROM outcome_events ORDER BY capability_id`)
	if err != nil {
		return nil, fmt.Errorf("trust: query capability ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("trust: scan capability id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
