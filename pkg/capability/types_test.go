package capability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		ID:        "cap-search",
		Name:      "web.search",
		Version:   "1.2.3",
		Provider:  "http_proxy",
		Method:    "POST /search",
		Scopes:    []string{"execute"},
		RiskClass: RiskLow,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestManifestValidate(t *testing.T) {
	require.NoError(t, validManifest().Validate())

	tests := []struct {
		name   string
		mutate func(*Manifest)
	}{
		{"empty id", func(m *Manifest) { m.ID = "" }},
		{"empty name", func(m *Manifest) { m.Name = "" }},
		{"empty provider", func(m *Manifest) { m.Provider = "" }},
		{"loose semver", func(m *Manifest) { m.Version = "1.2" }},
		{"v-prefixed semver", func(m *Manifest) { m.Version = "v1.2.3" }},
		{"garbage version", func(m *Manifest) { m.Version = "latest" }},
		{"unknown risk class", func(m *Manifest) { m.RiskClass = "extreme" }},
		{"updated before created", func(m *Manifest) {
			m.UpdatedAt = m.CreatedAt.Add(-time.Hour)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestRiskClassOrdering(t *testing.T) {
	assert.True(t, RiskCritical.AtLeast(RiskLow))
	assert.True(t, RiskHigh.AtLeast(RiskHigh))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
	assert.True(t, RiskLow.Valid())
	assert.False(t, RiskClass("extreme").Valid())
}

func TestStatusExecutable(t *testing.T) {
	assert.True(t, StatusActive.Executable())
	assert.True(t, StatusPublished.Executable())
	assert.False(t, StatusDraft.Executable())
	assert.False(t, StatusDeprecated.Executable())
	assert.False(t, StatusArchived.Executable())
}
