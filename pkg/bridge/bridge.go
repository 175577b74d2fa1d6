package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/moat/pkg/api"
	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// InboundIntentEvent is the webhook payload the chain indexer posts
// when an on-chain intent maps to a capability.
type InboundIntentEvent struct {
	IntentHash      string         `json:"intent_hash"`
	ChainID         int64          `json:"chain_id"`
	ContractAddress string         `json:"contract_address"`
	BlockNumber     int64          `json:"block_number"`
	TxHash          string         `json:"tx_hash"`
	CapabilityID    string         `json:"capability_id"`
	Params          map[string]any `json:"params"`
	TenantID        string         `json:"tenant_id"`
	Sender          string         `json:"sender"`
}

// Validate checks the required indexer fields.
func (e *InboundIntentEvent) Validate() error {
	switch {
	case e.IntentHash == "":
		return fmt.Errorf("intent_hash is required")
	case e.CapabilityID == "":
		return fmt.Errorf("capability_id is required")
	case e.Sender == "":
		return fmt.Errorf("sender is required")
	case e.TxHash == "":
		return fmt.Errorf("tx_hash is required")
	}
	return nil
}

// Executor runs a capability through the full execution pipeline. The
// gateway implements this; the bridge only needs the one entry point.
type Executor interface {
	ExecuteCapability(ctx context.Context, capabilityID, tenantID, scope string, params map[string]any, requestID string) (*contracts.Receipt, error)
}

// Service is the inbound intent webhook handler.
type Service struct {
	executor Executor
	resolver *TenantResolver
	logger   *slog.Logger
}

// NewService wires the webhook to an executor and a tenant resolver.
func NewService(executor Executor, resolver *TenantResolver) *Service {
	return &Service{
		executor: executor,
		resolver: resolver,
		logger:   slog.Default().With("component", "intent_bridge"),
	}
}

// HandleInbound serves POST /intents/inbound. The indexer is a trusted
// internal caller; sender authorization happens via tenant resolution.
func (s *Service) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var event InboundIntentEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		api.WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if err := event.Validate(); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	if event.Params == nil {
		event.Params = map[string]any{}
	}

	tenantID := event.TenantID
	if tenantID == "" {
		tenantID = s.resolver.Resolve(r.Context(), event.Sender)
	}
	if tenantID == "" {
		s.logger.WarnContext(r.Context(), "inbound intent from unregistered sender",
			"sender", event.Sender,
			"intent_hash", event.IntentHash,
			"request_id", requestID)
		api.WriteForbidden(w, fmt.Sprintf("Sender %s is not registered as a Moat tenant", event.Sender))
		return
	}

	s.logger.InfoContext(r.Context(), "processing inbound intent",
		"intent_hash", event.IntentHash,
		"chain_id", event.ChainID,
		"capability_id", event.CapabilityID,
		"tenant_id", tenantID,
		"sender", event.Sender,
		"block_number", event.BlockNumber,
		"request_id", requestID)

	receipt, err := s.executor.ExecuteCapability(
		r.Context(), event.CapabilityID, tenantID, "execute", event.Params, requestID)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "intent execution failed",
			"intent_hash", event.IntentHash,
			"capability_id", event.CapabilityID,
			"error", err.Error(),
			"request_id", requestID)
		api.WriteError(w, http.StatusBadGateway, "Bad Gateway",
			"Intent execution failed: "+err.Error())
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"receipt": receipt,
		"intent_correlation": map[string]any{
			"intent_hash":      event.IntentHash,
			"chain_id":         event.ChainID,
			"tx_hash":          event.TxHash,
			"block_number":     event.BlockNumber,
			"contract_address": event.ContractAddress,
			"sender":           event.Sender,
		},
		"request_id": requestID,
	})
}
