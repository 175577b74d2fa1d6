// Package moaterr defines the Moat error family.
//
// Every error produced by the execution pipeline wraps MoatError so
// callers can match the whole family with errors.As while still
// discriminating at finer granularity. Structured fields (rule_hit,
// capability, tenant, budget figures) travel with the error instead of
// being baked into the message.
package moaterr

import (
	"errors"
	"fmt"
	"net"
)

// Taxonomy buckets adapter and pipeline failures for outcome reporting.
type Taxonomy string

const (
	TaxonomyAuth         Taxonomy = "auth"
	TaxonomyRateLimit    Taxonomy = "rate_limit"
	TaxonomyTimeout      Taxonomy = "timeout"
	TaxonomyProvider5xx  Taxonomy = "provider_5xx"
	TaxonomyValidation   Taxonomy = "validation"
	TaxonomyPolicyDenied Taxonomy = "policy_denied"
	TaxonomyUnknown      Taxonomy = "unknown"
)

// MoatError is the base for all Moat errors.
type MoatError struct {
	Message string
}

func (e *MoatError) Error() string { return e.Message }

// PolicyDeniedError is returned when policy evaluation denies an
// operation, including lifecycle and tenant-consistency checks.
type PolicyDeniedError struct {
	MoatError
	RuleHit      string
	CapabilityID string
	TenantID     string
	RiskClass    string
}

// NewPolicyDenied builds a PolicyDeniedError.
func NewPolicyDenied(message, ruleHit, capabilityID, tenantID string) *PolicyDeniedError {
	return &PolicyDeniedError{
		MoatError:    MoatError{Message: message},
		RuleHit:      ruleHit,
		CapabilityID: capabilityID,
		TenantID:     tenantID,
	}
}

// BudgetExceededError is a PolicyDeniedError carrying the budget figures.
type BudgetExceededError struct {
	PolicyDeniedError
	BudgetCents       int64
	CurrentSpendCents int64
	Period            string // "daily" or "monthly"
}

// Unwrap exposes the embedded PolicyDeniedError so errors.As matches a
// budget error against the broader policy-denied family.
func (e *BudgetExceededError) Unwrap() error { return &e.PolicyDeniedError }

// NewBudgetExceeded builds a BudgetExceededError for the daily period.
func NewBudgetExceeded(capabilityID, tenantID string, spend, limit int64) *BudgetExceededError {
	return &BudgetExceededError{
		PolicyDeniedError: PolicyDeniedError{
			MoatError:    MoatError{Message: fmt.Sprintf("daily budget exceeded: spend=%d limit=%d", spend, limit)},
			RuleHit:      fmt.Sprintf("budget_daily_exceeded:spend=%d,limit=%d", spend, limit),
			CapabilityID: capabilityID,
			TenantID:     tenantID,
		},
		BudgetCents:       limit,
		CurrentSpendCents: spend,
		Period:            "daily",
	}
}

// CapabilityNotFoundError indicates the capability does not exist in the
// registry and no synthetic fallback applied.
type CapabilityNotFoundError struct {
	MoatError
	CapabilityID string
}

// NewCapabilityNotFound builds a CapabilityNotFoundError.
func NewCapabilityNotFound(capabilityID string) *CapabilityNotFoundError {
	return &CapabilityNotFoundError{
		MoatError:    MoatError{Message: fmt.Sprintf("capability %q not found", capabilityID)},
		CapabilityID: capabilityID,
	}
}

// AdapterError wraps any failure raised by an adapter's Execute. The
// provider tag and (when known) upstream status code survive; the
// underlying error text never reaches the caller.
type AdapterError struct {
	MoatError
	Provider          string
	StatusCode        int
	ProviderRequestID string
	Cause             error
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// NewAdapterError builds an AdapterError.
func NewAdapterError(provider, message string, cause error) *AdapterError {
	return &AdapterError{
		MoatError: MoatError{Message: message},
		Provider:  provider,
		Cause:     cause,
	}
}

// IdempotencyConflictError is reserved for the same-key-different-payload
// client bug. Not emitted by the default pipeline.
type IdempotencyConflictError struct {
	MoatError
	TenantID       string
	IdempotencyKey string
}

// Classify maps an error onto the outcome taxonomy.
func Classify(err error) Taxonomy {
	if err == nil {
		return TaxonomyUnknown
	}

	var policyErr *PolicyDeniedError
	if errors.As(err, &policyErr) {
		return TaxonomyPolicyDenied
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TaxonomyTimeout
	}

	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		switch {
		case adapterErr.StatusCode == 401 || adapterErr.StatusCode == 403:
			return TaxonomyAuth
		case adapterErr.StatusCode == 429:
			return TaxonomyRateLimit
		case adapterErr.StatusCode >= 500:
			return TaxonomyProvider5xx
		case adapterErr.StatusCode == 400 || adapterErr.StatusCode == 422:
			return TaxonomyValidation
		}
		if adapterErr.Cause != nil {
			if errors.As(adapterErr.Cause, &netErr) && netErr.Timeout() {
				return TaxonomyTimeout
			}
		}
		return TaxonomyUnknown
	}

	return TaxonomyUnknown
}
