// Package capability defines the capability registry record and the
// gateway-side TTL cache over the upstream registry.
package capability

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// RiskClass is the ordered severity tier of a capability.
type RiskClass string

const (
	RiskLow      RiskClass = "low"
	RiskMedium   RiskClass = "medium"
	RiskHigh     RiskClass = "high"
	RiskCritical RiskClass = "critical"
)

var riskOrder = map[RiskClass]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Valid reports whether the risk class is a known tier.
func (r RiskClass) Valid() bool {
	_, ok := riskOrder[r]
	return ok
}

// AtLeast reports whether r is at least as severe as other.
func (r RiskClass) AtLeast(other RiskClass) bool {
	return riskOrder[r] >= riskOrder[other]
}

// Status is the lifecycle state of a published capability.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"

	// StatusActive is the registry's operational alias for published.
	StatusActive Status = "active"
)

// Executable reports whether the lifecycle state admits execution.
func (s Status) Executable() bool {
	return s == StatusActive || s == StatusPublished
}

// Manifest is the immutable registry record for one capability.
type Manifest struct {
	ID              string         `json:"capability_id"`
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	Provider        string         `json:"provider"`
	Method          string         `json:"method"`
	Description     string         `json:"description"`
	Scopes          []string       `json:"scopes"`
	InputSchema     map[string]any `json:"input_schema"`
	OutputSchema    map[string]any `json:"output_schema"`
	RiskClass       RiskClass      `json:"risk_class"`
	DomainAllowlist []string       `json:"domain_allowlist"`
	Status          Status         `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`

	// Stub marks a synthetic record fabricated when the registry was
	// unreachable. Stub capabilities execute through the stub adapter.
	Stub bool `json:"_stub,omitempty"`
}

// Validate checks manifest invariants: non-empty identity fields, strict
// semver, known risk class, and created_at <= updated_at.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("capability: id must not be empty")
	}
	if m.Name == "" {
		return fmt.Errorf("capability: name must not be empty")
	}
	if m.Provider == "" {
		return fmt.Errorf("capability: provider must not be empty")
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("capability: version %q is not valid semver: %w", m.Version, err)
	}
	if !m.RiskClass.Valid() {
		return fmt.Errorf("capability: unknown risk class %q", m.RiskClass)
	}
	if !m.UpdatedAt.IsZero() && m.UpdatedAt.Before(m.CreatedAt) {
		return fmt.Errorf("capability: updated_at precedes created_at")
	}
	return nil
}
