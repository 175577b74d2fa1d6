package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, code, content string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const localProfileYAML = `name: Local Development
code: local
proxy:
  allowlist:
    - " API.GitHub.COM "
    - httpbin.org
bridge:
  fallback_tenants:
    "0x83Be08FFB22b61733eDf15b0ee9Caf5562cd888d": automaton
connections:
  - tenant_id: automaton
    provider: openai
    credential_ref: local://openai/abc
`

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "local", localProfileYAML)

	p, err := LoadProfile(dir, "LOCAL")
	require.NoError(t, err)

	assert.Equal(t, "Local Development", p.Name)
	assert.Equal(t, "local", p.Code)
	assert.Equal(t, []string{"api.github.com", "httpbin.org"}, p.Proxy.Allowlist,
		"allowlist entries are trimmed and lowercased")
	assert.Equal(t, map[string]string{
		"0x83be08ffb22b61733edf15b0ee9caf5562cd888d": "automaton",
	}, p.Bridge.FallbackTenants, "bridge addresses are lowercased")

	require.Len(t, p.Connections, 1)
	assert.Equal(t, "local://openai/abc", p.Connections[0].CredentialRef)
}

func TestLoadProfileDefaultsCode(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "staging", "name: Staging\n")

	p, err := LoadProfile(dir, "staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", p.Code, "code falls back to the file suffix")
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	assert.Error(t, err)
}

func TestLoadProfileBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "broken", "proxy: [not: a: mapping\n")

	_, err := LoadProfile(dir, "broken")
	assert.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "local", localProfileYAML)
	writeProfile(t, dir, "prod", "name: Production\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Local Development", profiles["local"].Name)
	assert.Equal(t, "Production", profiles["prod"].Name)
}

func TestAllowlistSet(t *testing.T) {
	p := &DeploymentProfile{Proxy: ProxyProfile{Allowlist: []string{"api.github.com", "", "httpbin.org"}}}
	set := p.AllowlistSet()

	assert.Equal(t, map[string]struct{}{
		"api.github.com": {},
		"httpbin.org":    {},
	}, set)
}
