// Package gateway is the execution plane: every capability invocation
// flows through its single pipeline, which enforces lifecycle, schema,
// policy, idempotency, and credential rules before an adapter ever runs,
// and produces a receipt no matter how the execution ends.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/moat/pkg/adapters"
	"github.com/Mindburn-Labs/moat/pkg/capability"
	"github.com/Mindburn-Labs/moat/pkg/chainhook"
	"github.com/Mindburn-Labs/moat/pkg/contracts"
	"github.com/Mindburn-Labs/moat/pkg/idempotency"
	"github.com/Mindburn-Labs/moat/pkg/moaterr"
	"github.com/Mindburn-Labs/moat/pkg/observability"
	"github.com/Mindburn-Labs/moat/pkg/policy"
	"github.com/Mindburn-Labs/moat/pkg/redaction"
	"github.com/Mindburn-Labs/moat/pkg/vault"
)

// spendPerCallCents is the flat per-execution charge used for daily
// budget enforcement until metered pricing lands.
const spendPerCallCents = 1

// defaultExecTimeout bounds a single adapter execution.
const defaultExecTimeout = 60 * time.Second

// chainTaskTimeout bounds the background chain-receipt task. It must
// exceed the submitter's 60 s confirmation wait so a transaction that
// mines late is still reported as confirmed.
const chainTaskTimeout = 90 * time.Second

// ExecuteRequest is the payload for one capability invocation.
type ExecuteRequest struct {
	Params         map[string]any `json:"params"`
	TenantID       string         `json:"tenant_id"`
	Scope          string         `json:"scope"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`

	// RequestID is propagated from transport middleware, not the body.
	RequestID string `json:"-"`
}

// InactiveCapabilityError rejects execution of a capability whose
// lifecycle status does not admit execution.
type InactiveCapabilityError struct {
	CapabilityID string
	Status       string
}

func (e *InactiveCapabilityError) Error() string {
	return fmt.Sprintf("capability %q is not active (status: %s)", e.CapabilityID, e.Status)
}

// ParamsValidationError wraps an input-schema violation; transports map
// it to 422.
type ParamsValidationError struct {
	Cause error
}

func (e *ParamsValidationError) Error() string { return e.Cause.Error() }
func (e *ParamsValidationError) Unwrap() error { return e.Cause }

// Gateway owns the execution pipeline and its collaborators.
type Gateway struct {
	cache       *capability.Cache
	schemas     *capability.SchemaValidator
	policy      *policy.Engine
	idem        idempotency.Store
	registry    *adapters.Registry
	vault       vault.Vault
	connections *vault.ConnectionStore
	emitter     *OutcomeEmitter
	hook        *chainhook.Hook
	obs         *observability.Provider
	pool        *Pool
	logger      *slog.Logger
	execTimeout time.Duration
	now         func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithExecTimeout overrides the per-execution adapter timeout.
func WithExecTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.execTimeout = d }
}

// WithChainHook installs the on-chain receipt hook.
func WithChainHook(h *chainhook.Hook) Option {
	return func(g *Gateway) { g.hook = h }
}

// WithObservability installs tracing and RED metrics around the
// pipeline.
func WithObservability(p *observability.Provider) Option {
	return func(g *Gateway) { g.obs = p }
}

// WithVault installs credential resolution.
func WithVault(v vault.Vault, connections *vault.ConnectionStore) Option {
	return func(g *Gateway) {
		g.vault = v
		g.connections = connections
	}
}

// New assembles a Gateway. cache, engine, store, and registry are
// required; emitter and pool may be shared with other components.
func New(
	cache *capability.Cache,
	engine *policy.Engine,
	store idempotency.Store,
	registry *adapters.Registry,
	emitter *OutcomeEmitter,
	pool *Pool,
	opts ...Option,
) *Gateway {
	g := &Gateway{
		cache:       cache,
		schemas:     capability.NewSchemaValidator(),
		policy:      engine,
		idem:        store,
		registry:    registry,
		emitter:     emitter,
		pool:        pool,
		logger:      slog.Default().With("component", "gateway"),
		execTimeout: defaultExecTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs the full pipeline for one invocation:
//
//  1. fetch capability metadata (local cache, 5 min TTL)
//  2. verify lifecycle status admits execution
//  3. validate params against the input schema
//  4. evaluate policy (deny -> typed error, fail closed)
//  5. idempotency check (hit -> cached receipt, no re-execution)
//  6. resolve tenant credential from the vault
//  7. dispatch to the provider adapter
//  8. build the receipt (success and failure alike)
//  9. background: outcome event + on-chain receipt
//  10. persist idempotency (success only) and record spend
func (g *Gateway) Execute(ctx context.Context, capabilityID string, req *ExecuteRequest) (_ *contracts.Receipt, retErr error) {
	if g.obs != nil {
		var finish func(error)
		ctx, finish = g.obs.TrackExecution(ctx, "gateway.execute",
			attribute.String("moat.capability_id", capabilityID),
			attribute.String("moat.tenant_id", req.TenantID))
		defer func() { finish(retErr) }()
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	scope := req.Scope
	if scope == "" {
		scope = "execute"
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	// Step 1: capability metadata.
	manifest, err := g.cache.Get(ctx, capabilityID)
	if err != nil {
		return nil, fmt.Errorf("gateway: capability lookup failed: %w", err)
	}
	if manifest == nil {
		g.logger.WarnContext(ctx, "capability not found",
			"capability_id", capabilityID, "request_id", requestID)
		return nil, moaterr.NewCapabilityNotFound(capabilityID)
	}

	// Step 2: lifecycle.
	if !manifest.Status.Executable() {
		return nil, &InactiveCapabilityError{
			CapabilityID: capabilityID,
			Status:       string(manifest.Status),
		}
	}

	// Step 3: input schema.
	if err := g.schemas.ValidateParams(manifest, req.Params); err != nil {
		return nil, &ParamsValidationError{Cause: err}
	}

	// Step 4: policy. Fail closed on every rule.
	decision := g.policy.EvaluateForTenant(req.TenantID, manifest, scope, requestID)
	if !decision.Allowed {
		g.logger.WarnContext(ctx, "policy denied execution",
			"capability_id", capabilityID,
			"tenant_id", req.TenantID,
			"rule_hit", decision.RuleHit,
			"request_id", requestID)
		if spend, limit, ok := policy.ParseBudgetRule(decision.RuleHit); ok {
			exceeded := moaterr.NewBudgetExceeded(capabilityID, req.TenantID, spend, limit)
			exceeded.RiskClass = string(manifest.RiskClass)
			return nil, exceeded
		}
		denied := moaterr.NewPolicyDenied(
			"policy denied execution: "+decision.RuleHit,
			decision.RuleHit, capabilityID, req.TenantID)
		denied.RiskClass = string(manifest.RiskClass)
		return nil, denied
	}

	// Step 5: idempotency.
	if req.IdempotencyKey != "" {
		cached, err := g.idem.Get(ctx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			g.logger.WarnContext(ctx, "idempotency lookup failed, executing anyway",
				"tenant_id", req.TenantID, "error", err.Error(), "request_id", requestID)
		} else if cached != nil {
			g.logger.InfoContext(ctx, "idempotency cache hit, returning cached receipt",
				"capability_id", capabilityID,
				"tenant_id", req.TenantID,
				"idempotency_key", req.IdempotencyKey,
				"receipt_id", cached.ReceiptID,
				"request_id", requestID)
			hit := *cached
			hit.Cached = true
			return &hit, nil
		}
	}

	// Step 6: credential.
	credential := g.resolveCredential(ctx, req.TenantID, manifest.Provider, requestID)

	// Step 7: adapter dispatch.
	adapter := g.registry.GetOrStub(manifest.Provider)

	inputHash, err := redaction.Hash(req.Params, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: input hashing failed: %w", err)
	}

	start := g.now().UTC()
	execCtx, cancel := context.WithTimeout(ctx, g.execTimeout)
	result, execErr := adapter.Execute(execCtx, adapters.Request{
		CapabilityID:   capabilityID,
		CapabilityName: manifest.Name,
		Params:         req.Params,
		Credential:     credential,
	})
	cancel()
	latencyMS := float64(g.now().Sub(start).Microseconds()) / 1000.0

	status := contracts.StatusSuccess
	errorCode := ""
	providerRequestID := ""
	if execErr != nil {
		g.logger.ErrorContext(ctx, "adapter execution failed",
			"capability_id", capabilityID,
			"provider", manifest.Provider,
			"error", execErr.Error(),
			"request_id", requestID)

		status = contracts.StatusFailure
		if errors.Is(execErr, context.DeadlineExceeded) {
			status = contracts.StatusTimeout
			errorCode = string(moaterr.TaxonomyTimeout)
		} else {
			errorCode = string(moaterr.Classify(execErr))
		}
		var adapterErr *moaterr.AdapterError
		if errors.As(execErr, &adapterErr) {
			providerRequestID = adapterErr.ProviderRequestID
		}
		// The failure receipt never carries internal error text.
		result = map[string]any{
			"error":    "adapter_execution_failed",
			"provider": manifest.Provider,
		}
	}

	outputHash, err := redaction.Hash(result, nil)
	if err != nil {
		outputHash = ""
	}

	// Step 8: receipt.
	receipt := &contracts.Receipt{
		ReceiptID:         uuid.NewString(),
		CapabilityID:      capabilityID,
		CapabilityVersion: manifest.Version,
		TenantID:          req.TenantID,
		Status:            status,
		Result:            result,
		IdempotencyKey:    req.IdempotencyKey,
		ExecutedAt:        start.Format(time.RFC3339Nano),
		LatencyMS:         roundMS(latencyMS),
		PolicyRiskClass:   string(manifest.RiskClass),
		InputHash:         inputHash,
		OutputHash:        outputHash,
		ErrorCode:         errorCode,
		ProviderRequestID: providerRequestID,
		Scope:             scope,
		Adapter:           manifest.Provider,
	}

	// Step 9: background fan-out.
	g.pool.Submit("outcome_event", func(bg context.Context) {
		g.emitter.Emit(bg, receipt)
	})
	if g.hook != nil {
		g.pool.SubmitWithTimeout("chain_receipt", chainTaskTimeout, func(bg context.Context) {
			if _, err := g.hook.PostReceipt(bg, receipt); err != nil {
				g.logger.WarnContext(bg, "chain receipt hook failed",
					"receipt_id", receipt.ReceiptID, "error", err.Error())
			}
		})
	}

	// Step 10: idempotency persistence and spend. Only successes are
	// cached so a transient failure never poisons the key.
	if req.IdempotencyKey != "" && status == contracts.StatusSuccess {
		if err := g.idem.Set(ctx, req.TenantID, req.IdempotencyKey, receipt, idempotency.DefaultTTL); err != nil {
			g.logger.WarnContext(ctx, "idempotency store failed",
				"tenant_id", req.TenantID, "error", err.Error(), "request_id", requestID)
		}
	}
	if status == contracts.StatusSuccess {
		g.policy.RecordSpend(req.TenantID, spendPerCallCents)
	}

	g.logger.InfoContext(ctx, "capability executed",
		"capability_id", capabilityID,
		"tenant_id", req.TenantID,
		"provider", manifest.Provider,
		"status", string(status),
		"latency_ms", receipt.LatencyMS,
		"request_id", requestID)
	return receipt, nil
}

// ExecuteCapability adapts Execute for the intent bridge. The
// idempotency key is derived from the intent inputs so a re-delivered
// webhook replays the cached receipt instead of re-executing.
func (g *Gateway) ExecuteCapability(ctx context.Context, capabilityID, tenantID, scope string, params map[string]any, requestID string) (*contracts.Receipt, error) {
	key, err := idempotency.DeriveKey(capabilityID, tenantID, params)
	if err != nil {
		key = ""
	}
	return g.Execute(ctx, capabilityID, &ExecuteRequest{
		Params:         params,
		TenantID:       tenantID,
		Scope:          scope,
		IdempotencyKey: key,
		RequestID:      requestID,
	})
}

// resolveCredential looks up the tenant's provider connection and
// resolves its reference. Missing connections are normal (public
// providers, the stub); resolution failures are logged and treated as
// no-credential.
func (g *Gateway) resolveCredential(ctx context.Context, tenantID, provider, requestID string) string {
	if g.vault == nil || g.connections == nil {
		return ""
	}
	conn := g.connections.Get(tenantID, provider)
	if conn == nil {
		return ""
	}
	secret, err := g.vault.GetSecret(ctx, conn.CredentialRef)
	if err != nil {
		g.logger.WarnContext(ctx, "credential resolution failed",
			"tenant_id", tenantID,
			"provider", provider,
			"request_id", requestID,
			"error", err.Error())
		return ""
	}
	return secret
}

// Close drains background workers.
func (g *Gateway) Close() {
	if g.pool != nil {
		g.pool.Close()
	}
}

func roundMS(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
