package moaterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDeniedCarriesFields(t *testing.T) {
	err := NewPolicyDenied("policy denied execution: scope_not_allowed:admin",
		"scope_not_allowed:admin", "cap-1", "tenant-a")

	assert.Equal(t, "scope_not_allowed:admin", err.RuleHit)
	assert.Equal(t, "cap-1", err.CapabilityID)
	assert.Equal(t, "tenant-a", err.TenantID)
	assert.Contains(t, err.Error(), "scope_not_allowed")
}

func TestBudgetExceededIsPolicyDenied(t *testing.T) {
	err := NewBudgetExceeded("cap-1", "tenant-a", 150, 100)

	assert.Equal(t, "budget_daily_exceeded:spend=150,limit=100", err.RuleHit)
	assert.Equal(t, int64(100), err.BudgetCents)
	assert.Equal(t, int64(150), err.CurrentSpendCents)
	assert.Equal(t, "daily", err.Period)

	// Wrapped budget errors still match the policy-denied family.
	wrapped := fmt.Errorf("execute: %w", err)
	var denied *PolicyDeniedError
	require.True(t, errors.As(wrapped, &denied))
	assert.Equal(t, "budget_daily_exceeded:spend=150,limit=100", denied.RuleHit)
}

func TestAdapterErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAdapterError("http_proxy", "upstream request failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "http_proxy", err.Provider)
	assert.Equal(t, "upstream request failed", err.Error())
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Taxonomy
	}{
		{"nil", nil, TaxonomyUnknown},
		{"plain error", errors.New("boom"), TaxonomyUnknown},
		{"policy denied", NewPolicyDenied("denied", "require_approval", "c", "t"), TaxonomyPolicyDenied},
		{"budget exceeded", NewBudgetExceeded("c", "t", 5, 1), TaxonomyPolicyDenied},
		{"net timeout", timeoutErr{}, TaxonomyTimeout},
		{"adapter 401", &AdapterError{StatusCode: 401}, TaxonomyAuth},
		{"adapter 403", &AdapterError{StatusCode: 403}, TaxonomyAuth},
		{"adapter 429", &AdapterError{StatusCode: 429}, TaxonomyRateLimit},
		{"adapter 500", &AdapterError{StatusCode: 500}, TaxonomyProvider5xx},
		{"adapter 503", &AdapterError{StatusCode: 503}, TaxonomyProvider5xx},
		{"adapter 400", &AdapterError{StatusCode: 400}, TaxonomyValidation},
		{"adapter 422", &AdapterError{StatusCode: 422}, TaxonomyValidation},
		{"adapter no status", &AdapterError{}, TaxonomyUnknown},
		{"adapter wrapping timeout", NewAdapterError("p", "timed out", timeoutErr{}), TaxonomyTimeout},
		{"wrapped policy denied", fmt.Errorf("pipeline: %w", NewPolicyDenied("d", "no_policy_bundle", "c", "t")), TaxonomyPolicyDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
