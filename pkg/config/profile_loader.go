package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is the per-environment YAML document carrying the
// tables that are unwieldy as environment variables: the proxy domain
// allowlist, the bridge's address-to-tenant fallback map, and seed
// connections for credential resolution.
type DeploymentProfile struct {
	Name string `yaml:"name" json:"name"`
	Code string `yaml:"code" json:"code"`

	Proxy  ProxyProfile  `yaml:"proxy" json:"proxy"`
	Bridge BridgeProfile `yaml:"bridge" json:"bridge"`

	// Connections seed the (tenant, provider) -> credential reference
	// table. References only; never secrets.
	Connections []ConnectionProfile `yaml:"connections,omitempty" json:"connections,omitempty"`
}

// ProxyProfile controls outbound HTTP policy.
type ProxyProfile struct {
	// Allowlist is the exact-hostname set the HTTP proxy adapter may
	// reach. Empty blocks all proxied traffic.
	Allowlist []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
}

// BridgeProfile configures the inbound intent bridge.
type BridgeProfile struct {
	// FallbackTenants maps lowercase on-chain addresses to tenant IDs
	// used when the control plane is unreachable.
	FallbackTenants map[string]string `yaml:"fallback_tenants,omitempty" json:"fallback_tenants,omitempty"`
}

// ConnectionProfile is one seeded provider connection.
type ConnectionProfile struct {
	TenantID      string `yaml:"tenant_id" json:"tenant_id"`
	Provider      string `yaml:"provider" json:"provider"`
	CredentialRef string `yaml:"credential_ref" json:"credential_ref"`
}

// LoadProfile loads profile_<code>.yaml from profilesDir.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}

	profile.normalize()
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml in profilesDir keyed by
// profile code.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile DeploymentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profile.normalize()
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}

func (p *DeploymentProfile) normalize() {
	for i, d := range p.Proxy.Allowlist {
		p.Proxy.Allowlist[i] = strings.ToLower(strings.TrimSpace(d))
	}
	if len(p.Bridge.FallbackTenants) > 0 {
		normalized := make(map[string]string, len(p.Bridge.FallbackTenants))
		for addr, tenant := range p.Bridge.FallbackTenants {
			normalized[strings.ToLower(strings.TrimSpace(addr))] = strings.TrimSpace(tenant)
		}
		p.Bridge.FallbackTenants = normalized
	}
}

// AllowlistSet renders the proxy allowlist as the set form the proxy
// adapter consumes.
func (p *DeploymentProfile) AllowlistSet() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Proxy.Allowlist))
	for _, d := range p.Proxy.Allowlist {
		if d != "" {
			out[d] = struct{}{}
		}
	}
	return out
}
