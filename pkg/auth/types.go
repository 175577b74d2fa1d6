// Package auth provides tenant authentication for the Moat services:
// HS256 bearer tokens carrying the tenant in the subject claim, with an
// explicit dev-mode escape hatch (X-Tenant-ID) that only works when
// auth is disabled.
package auth

// Principal is the authenticated caller of a request.
type Principal interface {
	GetID() string
	GetTenantID() string
}

// TenantPrincipal is the standard principal: a tenant acting through a
// bearer token (or the dev-mode header).
type TenantPrincipal struct {
	ID       string
	TenantID string

	// DevMode marks principals minted from X-Tenant-ID while auth is
	// disabled. Never true in production.
	DevMode bool
}

func (p *TenantPrincipal) GetID() string       { return p.ID }
func (p *TenantPrincipal) GetTenantID() string { return p.TenantID }
