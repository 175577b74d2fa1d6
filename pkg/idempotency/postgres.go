package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// PostgresStore is a durable Store backed by PostgreSQL. Uniqueness of
// (tenant, key) is enforced by the primary key; expiry is checked on
// read and expired rows are deleted in place.
//
// Expected schema:
//
//	CREATE TABLE idempotency_cache (
//	    tenant_id       TEXT NOT NULL,
//	    idempotency_key TEXT NOT NULL,
//	    receipt_data    JSONB NOT NULL,
//	    stored_at       TIMESTAMPTZ NOT NULL,
//	    expires_at      TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (tenant_id, idempotency_key)
//	);
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the schema if it does not exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_cache (
		    tenant_id       TEXT NOT NULL,
		    idempotency_key TEXT NOT NULL,
		    receipt_data    JSONB NOT NULL,
		    stored_at       TIMESTAMPTZ NOT NULL,
		    expires_at      TIMESTAMPTZ NOT NULL,
		    PRIMARY KEY (tenant_id, idempotency_key)
		)`)
	if err != nil {
		return fmt.Errorf("idempotency: init schema: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, tenantID, key string) (*contracts.Receipt, error) {
	var raw []byte
	var expiresAt time.Time

	err := s.db.QueryRowContext(ctx,
		`SELECT receipt_data, expires_at FROM idempotency_cache
		 WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: postgres get failed: %w", err)
	}

	if !time.Now().Before(expiresAt) {
		_, _ = s.db.ExecContext(ctx,
			`DELETE FROM idempotency_cache WHERE tenant_id = $1 AND idempotency_key = $2`,
			tenantID, key)
		return nil, nil
	}

	var receipt contracts.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("idempotency: cached receipt decode failed: %w", err)
	}
	return &receipt, nil
}

// Set implements Store.
func (s *PostgresStore) Set(ctx context.Context, tenantID, key string, receipt *contracts.Receipt, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("idempotency: receipt encode failed: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (tenant_id, idempotency_key, receipt_data, stored_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, idempotency_key)
		 DO UPDATE SET receipt_data = $3, stored_at = $4, expires_at = $5`,
		tenantID, key, raw, now, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("idempotency: postgres set failed: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_cache`); err != nil {
		return fmt.Errorf("idempotency: postgres clear failed: %w", err)
	}
	return nil
}

// Cleanup removes expired rows. Run periodically by the owning service.
func (s *PostgresStore) Cleanup(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE expires_at < $1`, time.Now().UTC()); err != nil {
		return fmt.Errorf("idempotency: postgres cleanup failed: %w", err)
	}
	return nil
}
