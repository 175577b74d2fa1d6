package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Mindburn-Labs/moat/pkg/api"
	"github.com/Mindburn-Labs/moat/pkg/auth"
	"github.com/Mindburn-Labs/moat/pkg/moaterr"
)

// Service is the gateway HTTP surface.
type Service struct {
	gw          *Gateway
	serviceName string
	logger      *slog.Logger
}

// NewService wraps gw in HTTP handlers.
func NewService(gw *Gateway, serviceName string) *Service {
	if serviceName == "" {
		serviceName = "moat-gateway"
	}
	return &Service{
		gw:          gw,
		serviceName: serviceName,
		logger:      slog.Default().With("component", "gateway_service"),
	}
}

// Routes registers the service endpoints on mux. The inbound intent
// webhook is registered separately by the bridge.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/execute/", s.handleExecute)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
}

// handleExecute serves POST /execute/{capability_id}.
func (s *Service) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteMethodNotAllowed(w)
		return
	}

	capabilityID := strings.TrimPrefix(r.URL.Path, "/execute/")
	if capabilityID == "" || strings.Contains(capabilityID, "/") {
		api.WriteNotFound(w, "unknown resource")
		return
	}

	authTenant, err := auth.GetTenantID(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, "")
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	if req.TenantID == "" {
		api.WriteUnprocessable(w, "tenant_id is required")
		return
	}
	if req.TenantID != authTenant {
		s.logger.WarnContext(r.Context(), "tenant id mismatch",
			"body_tenant_id", req.TenantID,
			"auth_tenant_id", authTenant,
			"capability_id", capabilityID)
		api.WriteForbidden(w, "Tenant ID in request body does not match authenticated tenant")
		return
	}
	req.RequestID = r.Header.Get("X-Request-ID")

	receipt, err := s.gw.Execute(r.Context(), capabilityID, &req)
	if err != nil {
		s.writeExecuteError(w, r, err)
		return
	}

	// Failure receipts are still 200: the pipeline completed and the
	// receipt is the authoritative record of what happened.
	api.WriteJSON(w, http.StatusOK, receipt)
}

// writeExecuteError maps pipeline errors onto the HTTP surface.
func (s *Service) writeExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	var notFound *moaterr.CapabilityNotFoundError
	if errors.As(err, &notFound) {
		api.WriteNotFound(w, "Capability '"+notFound.CapabilityID+"' not found")
		return
	}

	var inactive *InactiveCapabilityError
	if errors.As(err, &inactive) {
		api.WriteForbidden(w, inactive.Error())
		return
	}

	var invalid *ParamsValidationError
	if errors.As(err, &invalid) {
		api.WriteUnprocessable(w, invalid.Error())
		return
	}

	var denied *moaterr.PolicyDeniedError
	if errors.As(err, &denied) {
		api.WriteJSON(w, http.StatusForbidden, map[string]any{
			"error":         "policy_denied",
			"reason":        denied.Message,
			"rule_hit":      denied.RuleHit,
			"risk_class":    denied.RiskClass,
			"capability_id": denied.CapabilityID,
			"tenant_id":     denied.TenantID,
		})
		return
	}

	api.WriteInternal(w, err)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": s.serviceName,
	})
}

func (s *Service) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		api.WriteNotFound(w, "unknown resource")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"service": s.serviceName,
		"version": "0.1.0",
	})
}
