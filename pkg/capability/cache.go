package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// Cache is a TTL-bounded local view of capability metadata. On a miss it
// fetches from the upstream registry, first by id, then by logical name.
// When the registry is unreachable it can fabricate a synthetic stub
// record so the gateway stays live; the stub is flagged and cached under
// the same TTL. There is no cross-process coherence.
type Cache struct {
	registryURL  string
	httpClient   *http.Client
	ttl          time.Duration
	stubFallback bool
	logger       *slog.Logger

	mu        sync.RWMutex
	entries   map[string]*Manifest
	fetchedAt map[string]time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL overrides the default 5-minute entry TTL.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithStubFallback controls whether an unreachable registry yields a
// synthetic stub record. Production deployments and tests that need hard
// failures disable it.
func WithStubFallback(enabled bool) CacheOption {
	return func(c *Cache) { c.stubFallback = enabled }
}

// WithHTTPClient overrides the registry HTTP client.
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) { c.httpClient = client }
}

// NewCache creates a cache over the registry at registryURL.
func NewCache(registryURL string, opts ...CacheOption) *Cache {
	c := &Cache{
		registryURL:  registryURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		ttl:          defaultTTL,
		stubFallback: true,
		logger:       slog.Default().With("component", "capability_cache"),
		entries:      make(map[string]*Manifest),
		fetchedAt:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the manifest for capabilityID, consulting the local cache
// first. Returns (nil, nil) when the capability genuinely does not exist.
func (c *Cache) Get(ctx context.Context, capabilityID string) (*Manifest, error) {
	if m := c.cached(capabilityID); m != nil {
		return m, nil
	}

	m, err := c.fetch(ctx, capabilityID)
	if err != nil {
		if !c.stubFallback {
			return nil, err
		}
		c.logger.WarnContext(ctx, "registry unreachable, using stub capability",
			"capability_id", capabilityID, "error", err)
		stub := c.syntheticStub(capabilityID)
		c.store(capabilityID, stub)
		return stub, nil
	}
	if m != nil {
		c.store(capabilityID, m)
	}
	return m, nil
}

// Invalidate erases a single cache entry.
func (c *Cache) Invalidate(capabilityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, capabilityID)
	delete(c.fetchedAt, capabilityID)
}

func (c *Cache) cached(capabilityID string) *Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fetched, ok := c.fetchedAt[capabilityID]
	if !ok || time.Since(fetched) > c.ttl {
		return nil
	}
	return c.entries[capabilityID]
}

func (c *Cache) store(capabilityID string, m *Manifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[capabilityID] = m
	c.fetchedAt[capabilityID] = time.Now()
}

// fetch queries the registry by id, falling back to a name scan on 404.
func (c *Cache) fetch(ctx context.Context, capabilityID string) (*Manifest, error) {
	m, status, err := c.fetchByID(ctx, capabilityID)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return c.fetchByName(ctx, capabilityID)
	}
	return m, nil
}

func (c *Cache) fetchByID(ctx context.Context, capabilityID string) (*Manifest, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/capabilities/%s", c.registryURL, capabilityID), nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("capability: registry fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, http.StatusNotFound, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("capability: registry returned %d", resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("capability: registry response decode failed: %w", err)
	}
	return &m, resp.StatusCode, nil
}

// fetchByName scans the registry listing for a manifest whose logical
// name equals the requested identifier (e.g. "openai.inference").
func (c *Cache) fetchByName(ctx context.Context, name string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.registryURL+"/capabilities", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capability: registry list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var listing struct {
		Items []*Manifest `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("capability: registry listing decode failed: %w", err)
	}
	for _, m := range listing.Items {
		if m.Name == name {
			c.logger.DebugContext(ctx, "capability found by name", "capability_id", m.ID, "name", name)
			return m, nil
		}
	}
	return nil, nil
}

func (c *Cache) syntheticStub(capabilityID string) *Manifest {
	now := time.Now().UTC()
	return &Manifest{
		ID:          capabilityID,
		Name:        "stub:" + capabilityID,
		Version:     "0.0.0",
		Provider:    "stub",
		Method:      "POST /stub",
		Description: "Stub capability (registry unreachable)",
		RiskClass:   RiskLow,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		Stub:        true,
	}
}
