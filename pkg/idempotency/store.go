// Package idempotency maps (tenant, key) pairs to prior receipts so
// retried requests observe the original result without re-executing.
//
// Store implementations must honour the TTL contract: an entry is never
// returned once its expiry has passed, and repeated writes of the same
// triple leave the same observable state. The gateway treats a failing
// store as empty — a lookup error is logged and execution proceeds.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// DefaultTTL is the retention applied when callers pass zero.
const DefaultTTL = 86400 * time.Second

// Store is the idempotency backend contract. An in-memory store and the
// Redis/Postgres stores all satisfy it; the gateway is parametric over
// the interface.
type Store interface {
	// Get returns the cached receipt for (tenant, key), or nil when
	// absent or expired. Expired reads evict.
	Get(ctx context.Context, tenantID, key string) (*contracts.Receipt, error)

	// Set upserts the receipt under (tenant, key) for ttl. Zero ttl
	// means DefaultTTL.
	Set(ctx context.Context, tenantID, key string, receipt *contracts.Receipt, ttl time.Duration) error

	// Clear drops every entry. Test and admin surface only.
	Clear(ctx context.Context) error
}

// DeriveKey returns a deterministic idempotency key for a request
// triple. Same inputs always produce the same 64-hex key regardless of
// map ordering in input.
func DeriveKey(capabilityID, tenantID string, input map[string]any) (string, error) {
	payload := map[string]any{
		"capability_id": capabilityID,
		"tenant_id":     tenantID,
		"input_data":    input,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
