package policy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/moat/pkg/capability"
)

// Engine evaluates policy bundles and tracks per-tenant daily spend.
// Evaluation never returns an error; every outcome is a Decision.
//
// Rules run in strict priority order and the first failure
// short-circuits:
//
//  1. no bundle            -> no_policy_bundle
//  2. scope missing        -> scope_not_allowed:<scope>
//  3. daily budget reached -> budget_daily_exceeded:spend=<n>,limit=<m>
//  4. domain conflict      -> domain_allowlist_conflict:disallowed=<sorted>
//  5. approval required    -> require_approval
//  6. otherwise            -> all_checks_passed
type Engine struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle // (tenant, capability) -> bundle
	spend   map[string]int64   // (tenant, day) -> cents
}

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{
		bundles: make(map[string]*Bundle),
		spend:   make(map[string]int64),
	}
}

func bundleKey(tenantID, capabilityID string) string {
	return tenantID + "\x00" + capabilityID
}

func spendKey(tenantID string, day time.Time) string {
	return tenantID + "\x00" + day.UTC().Format("2006-01-02")
}

// SetBundle installs or replaces the bundle for its (tenant, capability).
func (e *Engine) SetBundle(b *Bundle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bundles[bundleKey(b.TenantID, b.CapabilityID)] = b
}

// Bundle returns the bundle for (tenant, capability), or nil.
func (e *Engine) Bundle(tenantID, capabilityID string) *Bundle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bundles[bundleKey(tenantID, capabilityID)]
}

// RecordSpend adds cents to the tenant's spend for the current UTC day.
func (e *Engine) RecordSpend(tenantID string, cents int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spend[spendKey(tenantID, time.Now())] += cents
}

// CurrentSpend returns today's accumulated spend in cents for a tenant.
func (e *Engine) CurrentSpend(tenantID string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spend[spendKey(tenantID, time.Now())]
}

// Evaluate runs the rule chain for one request. bundle may be nil
// (default-deny). requestID is synthesized when empty.
func (e *Engine) Evaluate(bundle *Bundle, manifest *capability.Manifest, scope string, currentSpendCents int64, requestID string) *Decision {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	start := time.Now()

	if bundle == nil {
		return decision("__none__", "__unknown__", manifest.ID, false, RuleNoBundle, start, requestID)
	}

	if !containsScope(bundle.AllowedScopes, scope) {
		return decision(bundle.ID, bundle.TenantID, manifest.ID, false,
			rulePrefixScopeNotAllowed+scope, start, requestID)
	}

	if bundle.BudgetDaily != nil && currentSpendCents >= *bundle.BudgetDaily {
		return decision(bundle.ID, bundle.TenantID, manifest.ID, false,
			fmt.Sprintf("%sspend=%d,limit=%d", rulePrefixBudgetDaily, currentSpendCents, *bundle.BudgetDaily),
			start, requestID)
	}

	// An empty bundle allowlist means no domain restriction. Otherwise
	// every manifest domain must appear verbatim in the bundle's list;
	// glob expansion is out of scope at this layer.
	if len(bundle.DomainAllowlist) > 0 {
		if disallowed := domainDifference(manifest.DomainAllowlist, bundle.DomainAllowlist); len(disallowed) > 0 {
			return decision(bundle.ID, bundle.TenantID, manifest.ID, false,
				fmt.Sprintf("%sdisallowed=[%s]", rulePrefixDomainConflict, strings.Join(disallowed, ", ")),
				start, requestID)
		}
	}

	if bundle.RequireApproval {
		return decision(bundle.ID, bundle.TenantID, manifest.ID, false, RuleRequireApproval, start, requestID)
	}

	return decision(bundle.ID, bundle.TenantID, manifest.ID, true, RuleAllChecksPassed, start, requestID)
}

// EvaluateForTenant looks up the bundle and spend internally.
func (e *Engine) EvaluateForTenant(tenantID string, manifest *capability.Manifest, scope, requestID string) *Decision {
	bundle := e.Bundle(tenantID, manifest.ID)
	return e.Evaluate(bundle, manifest, scope, e.CurrentSpend(tenantID), requestID)
}

func containsScope(scopes []string, scope string) bool {
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// domainDifference returns the sorted manifest domains absent from the
// bundle allowlist.
func domainDifference(manifestDomains, bundleDomains []string) []string {
	allowed := make(map[string]struct{}, len(bundleDomains))
	for _, d := range bundleDomains {
		allowed[d] = struct{}{}
	}
	var disallowed []string
	for _, d := range manifestDomains {
		if _, ok := allowed[d]; !ok {
			disallowed = append(disallowed, d)
		}
	}
	sort.Strings(disallowed)
	return disallowed
}

func decision(bundleID, tenantID, capabilityID string, allowed bool, ruleHit string, start time.Time, requestID string) *Decision {
	return &Decision{
		DecisionID:   uuid.New().String(),
		BundleID:     bundleID,
		TenantID:     tenantID,
		CapabilityID: capabilityID,
		Allowed:      allowed,
		RuleHit:      ruleHit,
		EvaluationMS: float64(time.Since(start).Microseconds()) / 1000.0,
		RequestID:    requestID,
		Timestamp:    time.Now().UTC(),
	}
}
