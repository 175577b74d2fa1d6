// Package vault abstracts secret storage. The execution pipeline only
// ever handles opaque references; plaintext secrets are resolved at the
// last possible moment, passed to the adapter, and never logged or
// persisted.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when a reference cannot be resolved.
var ErrNotFound = fmt.Errorf("vault: secret reference not found")

// Vault resolves opaque references to plaintext secrets.
type Vault interface {
	// GetSecret resolves reference to its plaintext value.
	GetSecret(ctx context.Context, reference string) (string, error)

	// StoreSecret persists value and returns an opaque, non-guessable
	// reference safe to record in the control plane.
	StoreSecret(ctx context.Context, key, value string) (string, error)
}

// LocalVault holds secrets in memory. Development and tests only.
type LocalVault struct {
	mu    sync.RWMutex
	store map[string]string
}

// NewLocalVault creates an empty local vault.
func NewLocalVault() *LocalVault {
	return &LocalVault{store: make(map[string]string)}
}

// GetSecret implements Vault.
func (v *LocalVault) GetSecret(ctx context.Context, reference string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	secret, ok := v.store[reference]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

// StoreSecret implements Vault.
func (v *LocalVault) StoreSecret(ctx context.Context, key, value string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("vault: reference generation failed: %w", err)
	}
	reference := fmt.Sprintf("local://%s/%s", key, hex.EncodeToString(buf))

	v.mu.Lock()
	v.store[reference] = value
	v.mu.Unlock()
	return reference, nil
}

// EnvVault resolves references of the form "env://VAR_NAME" from the
// process environment. Read-only; StoreSecret is unsupported.
type EnvVault struct{}

// GetSecret implements Vault.
func (EnvVault) GetSecret(ctx context.Context, reference string) (string, error) {
	name, ok := strings.CutPrefix(reference, "env://")
	if !ok {
		return "", fmt.Errorf("vault: unsupported reference scheme in %q", reference)
	}
	secret, present := os.LookupEnv(name)
	if !present {
		return "", ErrNotFound
	}
	return secret, nil
}

// StoreSecret implements Vault.
func (EnvVault) StoreSecret(ctx context.Context, key, value string) (string, error) {
	return "", fmt.Errorf("vault: env vault is read-only")
}

// Connection links a tenant's provider account to a credential
// reference. The reference is the only credential material the control
// plane ever stores.
type Connection struct {
	TenantID      string `json:"tenant_id"`
	Provider      string `json:"provider"`
	CredentialRef string `json:"credential_ref"`
}

// ConnectionStore is an in-memory connection registry keyed by
// (tenant, provider).
type ConnectionStore struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewConnectionStore creates an empty store.
func NewConnectionStore() *ConnectionStore {
	return &ConnectionStore{connections: make(map[string]*Connection)}
}

func connKey(tenantID, provider string) string {
	return tenantID + "\x00" + provider
}

// Put installs or replaces a connection.
func (s *ConnectionStore) Put(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[connKey(c.TenantID, c.Provider)] = c
}

// Get returns the connection for (tenant, provider), or nil.
func (s *ConnectionStore) Get(tenantID, provider string) *Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connections[connKey(tenantID, provider)]
}
