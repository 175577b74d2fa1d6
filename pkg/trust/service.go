package trust

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/moat/pkg/api"
	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// Service is the trust-plane HTTP surface: outcome event ingestion plus
// per-capability reliability stats.
type Service struct {
	engine      *Engine
	serviceName string
	logger      *slog.Logger
}

// NewService wraps engine in HTTP handlers.
func NewService(engine *Engine, serviceName string) *Service {
	if serviceName == "" {
		serviceName = "moat-trust-plane"
	}
	return &Service{
		engine:      engine,
		serviceName: serviceName,
		logger:      slog.Default().With("component", "trust_service"),
	}
}

// Routes registers the service endpoints on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/events/count", s.handleEventCount)
	mux.HandleFunc("/capabilities", s.handleListStats)
	mux.HandleFunc("/capabilities/", s.handleCapabilityStats)
	mux.HandleFunc("/healthz", s.handleHealth)
}

// ingestRequest is the wire payload the gateway posts after each
// execution.
type ingestRequest struct {
	EventID         string  `json:"event_id"`
	CapabilityID    string  `json:"capability_id"`
	TenantID        string  `json:"tenant_id"`
	ReceiptID       string  `json:"receipt_id"`
	ExecutionStatus string  `json:"execution_status"`
	ErrorTaxonomy   string  `json:"error_taxonomy,omitempty"`
	LatencyMS       float64 `json:"latency_ms"`
	OccurredAt      string  `json:"occurred_at,omitempty"`
}

type ingestResponse struct {
	EventID      string `json:"event_id"`
	CapabilityID string `json:"capability_id"`
	Accepted     bool   `json:"accepted"`
	Message      string `json:"message"`
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.CapabilityID == "" {
		api.WriteBadRequest(w, "capability_id is required")
		return
	}
	if req.ExecutionStatus == "" {
		api.WriteBadRequest(w, "execution_status is required")
		return
	}
	if req.LatencyMS < 0 {
		api.WriteBadRequest(w, "latency_ms must be >= 0")
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		if ts, err := time.Parse(time.RFC3339, req.OccurredAt); err == nil {
			occurredAt = ts.UTC()
		} else {
			s.logger.WarnContext(r.Context(), "invalid occurred_at, using current time",
				"event_id", req.EventID, "occurred_at", req.OccurredAt)
		}
	}

	status := strings.ToLower(req.ExecutionStatus)
	success := status == "success" || status == "succeeded" || status == "ok"

	taxonomy := req.ErrorTaxonomy
	if success {
		taxonomy = ""
	} else if taxonomy == "" {
		taxonomy = "unknown"
	}

	event := &contracts.OutcomeEvent{
		EventID:       req.EventID,
		ReceiptID:     req.ReceiptID,
		CapabilityID:  req.CapabilityID,
		TenantID:      req.TenantID,
		Success:       success,
		LatencyMS:     req.LatencyMS,
		ErrorTaxonomy: taxonomy,
		OccurredAt:    occurredAt,
	}
	if err := s.engine.Record(r.Context(), event); err != nil {
		api.WriteInternal(w, err)
		return
	}

	s.logger.InfoContext(r.Context(), "outcome event ingested",
		"event_id", event.EventID,
		"capability_id", event.CapabilityID,
		"success", event.Success,
		"latency_ms", event.LatencyMS)

	api.WriteJSON(w, http.StatusCreated, ingestResponse{
		EventID:      event.EventID,
		CapabilityID: event.CapabilityID,
		Accepted:     true,
		Message:      "Event accepted and stats updated.",
	})
}

func (s *Service) handleEventCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	all, err := s.engine.AllStats(r.Context())
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	total := 0
	for _, st := range all {
		total += st.TotalExecutions
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"total_events_in_window": total})
}

// statsPayload is the JSON rendering of Stats; last_checked is an ISO
// 8601 string or null.
type statsPayload struct {
	CapabilityID    string  `json:"capability_id"`
	SuccessRate7D   float64 `json:"success_rate_7d"`
	P95LatencyMS    float64 `json:"p95_latency_ms"`
	TotalExecutions int     `json:"total_executions_7d"`
	LastChecked     *string `json:"last_checked"`
	Verified        bool    `json:"verified"`
	ShouldHide      bool    `json:"should_hide"`
	ShouldThrottle  bool    `json:"should_throttle"`
}

func renderStats(s *Stats) statsPayload {
	var last *string
	if s.LastChecked != nil {
		iso := s.LastChecked.UTC().Format(time.RFC3339Nano)
		last = &iso
	}
	return statsPayload{
		CapabilityID:    s.CapabilityID,
		SuccessRate7D:   s.SuccessRate7D,
		P95LatencyMS:    s.P95LatencyMS,
		TotalExecutions: s.TotalExecutions,
		LastChecked:     last,
		Verified:        s.Verified,
		ShouldHide:      s.ShouldHide,
		ShouldThrottle:  s.ShouldThrottle,
	}
}

// handleCapabilityStats serves GET /capabilities/{id}/stats.
func (s *Service) handleCapabilityStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/capabilities/")
	capabilityID, ok := strings.CutSuffix(rest, "/stats")
	if !ok || capabilityID == "" || strings.Contains(capabilityID, "/") {
		api.WriteNotFound(w, "unknown resource")
		return
	}

	stats, err := s.engine.Stats(r.Context(), capabilityID)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, renderStats(stats))
}

func (s *Service) handleListStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteMethodNotAllowed(w)
		return
	}
	all, err := s.engine.AllStats(r.Context())
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	items := make([]statsPayload, 0, len(all))
	for _, st := range all {
		items = append(items, renderStats(st))
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.serviceName,
	})
}
