package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// OutcomeEmitter ships outcome events to the trust plane after each
// execution. Best-effort: failures are logged, never surfaced.
type OutcomeEmitter struct {
	trustURL string
	client   *http.Client
	logger   *slog.Logger
}

// NewOutcomeEmitter creates an emitter for the trust plane at trustURL.
// An empty URL disables emission.
func NewOutcomeEmitter(trustURL string) *OutcomeEmitter {
	return &OutcomeEmitter{
		trustURL: trustURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   slog.Default().With("component", "outcome_emitter"),
	}
}

// Emit derives an outcome event from receipt and posts it.
func (e *OutcomeEmitter) Emit(ctx context.Context, receipt *contracts.Receipt) {
	if e.trustURL == "" {
		e.logger.DebugContext(ctx, "trust plane not configured, outcome event skipped",
			"receipt_id", receipt.ReceiptID)
		return
	}

	event := map[string]any{
		"event_id":         uuid.NewString(),
		"capability_id":    receipt.CapabilityID,
		"tenant_id":        receipt.TenantID,
		"receipt_id":       receipt.ReceiptID,
		"execution_status": string(receipt.Status),
		"latency_ms":       receipt.LatencyMS,
		"occurred_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if receipt.ErrorCode != "" {
		event["error_taxonomy"] = receipt.ErrorCode
	}

	body, err := json.Marshal(event)
	if err != nil {
		e.logger.WarnContext(ctx, "outcome event marshal failed",
			"receipt_id", receipt.ReceiptID, "error", err.Error())
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.trustURL+"/events", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to emit outcome event to trust plane",
			"receipt_id", receipt.ReceiptID, "error", err.Error())
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		e.logger.WarnContext(ctx, "trust plane returned unexpected status",
			"status_code", resp.StatusCode, "receipt_id", receipt.ReceiptID)
	}
}
