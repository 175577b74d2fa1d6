// Package contracts holds the immutable value types exchanged across the
// Moat execution plane: receipts, outcome events, and their enums. No
// type here holds back-references to the components that produce it.
package contracts

import "time"

// ExecutionStatus is the terminal status of a single invocation.
type ExecutionStatus string

const (
	StatusSuccess      ExecutionStatus = "success"
	StatusFailure      ExecutionStatus = "failure"
	StatusTimeout      ExecutionStatus = "timeout"
	StatusPolicyDenied ExecutionStatus = "policy_denied"
)

// Valid reports whether s is a known execution status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout, StatusPolicyDenied:
		return true
	}
	return false
}

// Receipt is the audit record produced by a completed execution. Inputs
// and outputs appear only as SHA-256 hashes of their redacted canonical
// form; raw payloads are never persisted.
type Receipt struct {
	ReceiptID         string          `json:"receipt_id"`
	CapabilityID      string          `json:"capability_id"`
	CapabilityVersion string          `json:"capability_version,omitempty"`
	TenantID          string          `json:"tenant_id"`
	Status            ExecutionStatus `json:"status"`
	Result            map[string]any  `json:"result"`
	IdempotencyKey    string          `json:"idempotency_key,omitempty"`
	ExecutedAt        string          `json:"executed_at"` // RFC 3339 UTC
	LatencyMS         float64         `json:"latency_ms"`
	Cached            bool            `json:"cached"`
	PolicyRiskClass   string          `json:"policy_risk_class"`
	InputHash         string          `json:"input_hash,omitempty"`  // sha256 of redacted params
	OutputHash        string          `json:"output_hash,omitempty"` // sha256 of redacted result
	ErrorCode         string          `json:"error_code,omitempty"`
	ProviderRequestID string          `json:"provider_request_id,omitempty"`
	Scope             string          `json:"scope,omitempty"`
	Adapter           string          `json:"adapter,omitempty"`
}

// ExecutedAtTime parses the receipt timestamp; zero time on failure.
func (r *Receipt) ExecutedAtTime() time.Time {
	t, err := time.Parse(time.RFC3339, r.ExecutedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
