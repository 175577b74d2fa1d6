// Package bridge receives on-chain intents from the chain indexer and
// routes them through the standard execution pipeline. One-way:
// on-chain intent in, off-chain execution out; the reverse direction is
// the chain receipt hook.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultFallbackTenants maps the known solver address to its tenant
// when the control plane is unreachable.
const DefaultFallbackTenants = "0x83Be08FFB22b61733eDf15b0ee9Caf5562cd888d:automaton"

// ParseFallbackTenants parses "0xAddr1:tenant1,0xAddr2:tenant2" into a
// lowercase address map.
func ParseFallbackTenants(csv string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(csv, ",") {
		addr, tenant, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		addr = strings.ToLower(strings.TrimSpace(addr))
		tenant = strings.TrimSpace(tenant)
		if addr != "" && tenant != "" {
			out[addr] = tenant
		}
	}
	return out
}

// TenantResolver maps an on-chain sender address to the owning tenant.
// Resolution order: in-memory cache, control-plane agent registry
// (matching the agent's on-chain registry address), static fallback map.
type TenantResolver struct {
	registryURL string
	fallback    map[string]string
	httpClient  *http.Client
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewTenantResolver creates a resolver against the control-plane base
// URL. fallback may be nil.
func NewTenantResolver(registryURL string, fallback map[string]string) *TenantResolver {
	if fallback == nil {
		fallback = map[string]string{}
	}
	return &TenantResolver{
		registryURL: strings.TrimSuffix(registryURL, "/"),
		fallback:    fallback,
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		logger:      slog.Default().With("component", "tenant_resolver"),
		cache:       make(map[string]string),
	}
}

// agentRecord is the slice of the control-plane agent document the
// resolver needs.
type agentRecord struct {
	RegistryAddress string `json:"erc8004_registry_address"`
	OwnerTenantID   string `json:"owner_tenant_id"`
}

// Resolve returns the tenant for sender, or "" when the sender is not
// registered anywhere.
func (r *TenantResolver) Resolve(ctx context.Context, sender string) string {
	key := strings.ToLower(sender)

	r.mu.RLock()
	cached := r.cache[key]
	r.mu.RUnlock()
	if cached != "" {
		return cached
	}

	if tenant := r.fromRegistry(ctx, key); tenant != "" {
		r.remember(key, tenant)
		return tenant
	}

	if tenant := r.fallback[key]; tenant != "" {
		r.remember(key, tenant)
		return tenant
	}
	return ""
}

func (r *TenantResolver) remember(key, tenant string) {
	r.mu.Lock()
	r.cache[key] = tenant
	r.mu.Unlock()
}

func (r *TenantResolver) fromRegistry(ctx context.Context, sender string) string {
	if r.registryURL == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.registryURL+"/agents", nil)
	if err != nil {
		return ""
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.DebugContext(ctx, "control-plane lookup failed, using fallback",
			"sender", sender, "error", err.Error())
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var payload struct {
		Items []agentRecord `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		r.logger.DebugContext(ctx, "control-plane response decode failed",
			"sender", sender, "error", err.Error())
		return ""
	}

	for _, agent := range payload.Items {
		if strings.ToLower(agent.RegistryAddress) == sender {
			if agent.OwnerTenantID != "" {
				return agent.OwnerTenantID
			}
			return "automaton"
		}
	}
	return ""
}

// String implements fmt.Stringer for debug logging; never includes the
// cache contents.
func (r *TenantResolver) String() string {
	return fmt.Sprintf("TenantResolver(registry=%s, fallback=%d entries)", r.registryURL, len(r.fallback))
}
