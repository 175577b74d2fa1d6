// Package policy implements the tenant-scoped, default-deny policy
// engine governing capability execution.
package policy

import (
	"fmt"
	"strings"
	"time"
)

// Bundle is the immutable tenant-scoped rule set for one capability.
type Bundle struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	CapabilityID    string    `json:"capability_id"`
	AllowedScopes   []string  `json:"allowed_scopes"`
	BudgetDaily     *int64    `json:"budget_daily,omitempty"`   // cents; nil = unlimited
	BudgetMonthly   *int64    `json:"budget_monthly,omitempty"` // reserved, never evaluated
	DomainAllowlist []string  `json:"domain_allowlist"`
	RequireApproval bool      `json:"require_approval"`
	CreatedAt       time.Time `json:"created_at"`
}

// Decision is the immutable result of one policy evaluation.
type Decision struct {
	DecisionID   string    `json:"decision_id"`
	BundleID     string    `json:"policy_bundle_id"`
	TenantID     string    `json:"tenant_id"`
	CapabilityID string    `json:"capability_id"`
	Allowed      bool      `json:"allowed"`
	RuleHit      string    `json:"rule_hit"`
	EvaluationMS float64   `json:"evaluation_ms"`
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// Rule-hit tokens, in evaluation priority order.
const (
	RuleNoBundle        = "no_policy_bundle"
	RuleRequireApproval = "require_approval"
	RuleAllChecksPassed = "all_checks_passed"

	rulePrefixScopeNotAllowed = "scope_not_allowed:"
	rulePrefixBudgetDaily     = "budget_daily_exceeded:"
	rulePrefixDomainConflict  = "domain_allowlist_conflict:"
)

// ParseBudgetRule extracts the spend and limit figures from a daily
// budget rule-hit token. ok is false for any other token.
func ParseBudgetRule(ruleHit string) (spend, limit int64, ok bool) {
	rest, found := strings.CutPrefix(ruleHit, rulePrefixBudgetDaily)
	if !found {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(rest, "spend=%d,limit=%d", &spend, &limit); err != nil {
		return 0, 0, false
	}
	return spend, limit, true
}
