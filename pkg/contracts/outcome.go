package contracts

import (
	"fmt"
	"time"
)

// OutcomeEvent is the lightweight analytic derived from a receipt and
// shipped to the trust engine. Invariant: Success is true exactly when
// ErrorTaxonomy is empty.
type OutcomeEvent struct {
	EventID       string    `json:"event_id"`
	ReceiptID     string    `json:"receipt_id"`
	CapabilityID  string    `json:"capability_id"`
	TenantID      string    `json:"tenant_id"`
	Success       bool      `json:"success"`
	LatencyMS     float64   `json:"latency_ms"`
	ErrorTaxonomy string    `json:"error_taxonomy,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Validate enforces the success/taxonomy invariant.
func (e *OutcomeEvent) Validate() error {
	if e.Success && e.ErrorTaxonomy != "" {
		return fmt.Errorf("outcome event %s: success with non-empty error_taxonomy %q", e.EventID, e.ErrorTaxonomy)
	}
	if !e.Success && e.ErrorTaxonomy == "" {
		return fmt.Errorf("outcome event %s: failure with empty error_taxonomy", e.EventID)
	}
	return nil
}
