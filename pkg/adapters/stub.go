package adapters

import (
	"context"
	"time"
)

// StubAdapter is the development fallback: it responds success after a
// small synthetic latency and echoes its inputs, so the full pipeline
// can run without any real provider.
type StubAdapter struct {
	latency time.Duration
}

// NewStubAdapter creates the stub with its default synthetic latency.
func NewStubAdapter() *StubAdapter {
	return &StubAdapter{latency: 25 * time.Millisecond}
}

// ProviderName implements Adapter.
func (a *StubAdapter) ProviderName() string { return "stub" }

// Execute implements Adapter.
func (a *StubAdapter) Execute(ctx context.Context, req Request) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.latency):
	}
	return map[string]any{
		"stub":            true,
		"capability_id":   req.CapabilityID,
		"capability_name": req.CapabilityName,
		"echo":            req.Params,
		"message":         "stub adapter executed successfully",
	}, nil
}
