package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/moat/pkg/adapters"
	"github.com/Mindburn-Labs/moat/pkg/capability"
	"github.com/Mindburn-Labs/moat/pkg/contracts"
	"github.com/Mindburn-Labs/moat/pkg/idempotency"
	"github.com/Mindburn-Labs/moat/pkg/moaterr"
	"github.com/Mindburn-Labs/moat/pkg/policy"
	"github.com/Mindburn-Labs/moat/pkg/vault"
)

// fakeAdapter is a scriptable provider adapter for pipeline tests.
type fakeAdapter struct {
	result map[string]any
	err    error
	block  bool

	mu            sync.Mutex
	calls         int
	gotCredential string
	gotParams     map[string]any
}

func (f *fakeAdapter) ProviderName() string { return "fake" }

func (f *fakeAdapter) Execute(ctx context.Context, req adapters.Request) (map[string]any, error) {
	f.mu.Lock()
	f.calls++
	f.gotCredential = req.Credential
	f.gotParams = req.Params
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.result, f.err
}

func searchManifest() *capability.Manifest {
	now := time.Now().UTC()
	return &capability.Manifest{
		ID:       "cap-search",
		Name:     "web.search",
		Version:  "1.2.3",
		Provider: "fake",
		InputSchema: map[string]any{
			"type":                 "object",
			"required":             []any{"query"},
			"properties":           map[string]any{"query": map[string]any{"type": "string"}},
			"additionalProperties": false,
		},
		RiskClass: capability.RiskLow,
		Status:    capability.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func manifestServer(t *testing.T, manifests ...*capability.Manifest) *httptest.Server {
	t.Helper()
	byID := make(map[string]*capability.Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/capabilities/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/capabilities/")
		m, ok := byID[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(m)
	})
	mux.HandleFunc("/capabilities", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"items": manifests})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func allowBundle(tenantID, capabilityID string) *policy.Bundle {
	return &policy.Bundle{
		ID:            "pb-" + tenantID,
		TenantID:      tenantID,
		CapabilityID:  capabilityID,
		AllowedScopes: []string{"execute"},
	}
}

// testGateway wires a full pipeline around the fake adapter.
func testGateway(t *testing.T, adapter *fakeAdapter, manifests []*capability.Manifest, opts ...Option) (*Gateway, *policy.Engine) {
	t.Helper()
	srv := manifestServer(t, manifests...)

	engine := policy.NewEngine()
	for _, m := range manifests {
		engine.SetBundle(allowBundle("tenant-a", m.ID))
	}

	registry := adapters.NewRegistry()
	registry.Register(adapter)

	pool := NewPool(2, 16, time.Second)
	t.Cleanup(pool.Close)

	g := New(
		capability.NewCache(srv.URL, capability.WithStubFallback(false)),
		engine,
		idempotency.NewMemoryStore(),
		registry,
		NewOutcomeEmitter(""),
		pool,
		opts...,
	)
	return g, engine
}

func TestExecuteSuccess(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"hits": float64(3)}}
	g, engine := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	receipt, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "golang"},
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)

	assert.NotEmpty(t, receipt.ReceiptID)
	assert.Equal(t, "cap-search", receipt.CapabilityID)
	assert.Equal(t, "1.2.3", receipt.CapabilityVersion)
	assert.Equal(t, "tenant-a", receipt.TenantID)
	assert.Equal(t, contracts.StatusSuccess, receipt.Status)
	assert.Equal(t, map[string]any{"hits": float64(3)}, receipt.Result)
	assert.Equal(t, "low", receipt.PolicyRiskClass)
	assert.Equal(t, "execute", receipt.Scope, "scope defaults to execute")
	assert.Equal(t, "fake", receipt.Adapter)
	assert.Len(t, receipt.InputHash, 64)
	assert.Len(t, receipt.OutputHash, 64)
	assert.False(t, receipt.Cached)
	assert.Empty(t, receipt.ErrorCode)

	_, err = time.Parse(time.RFC3339Nano, receipt.ExecutedAt)
	assert.NoError(t, err)

	assert.Equal(t, int64(1), engine.CurrentSpend("tenant-a"), "success records one cent of spend")
}

func TestExecuteCapabilityNotFound(t *testing.T) {
	g, _ := testGateway(t, &fakeAdapter{}, []*capability.Manifest{searchManifest()})

	_, err := g.Execute(t.Context(), "cap-missing", &ExecuteRequest{TenantID: "tenant-a"})

	var notFound *moaterr.CapabilityNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "cap-missing", notFound.CapabilityID)
}

func TestExecuteInactiveCapability(t *testing.T) {
	m := searchManifest()
	m.Status = capability.StatusDeprecated
	g, _ := testGateway(t, &fakeAdapter{}, []*capability.Manifest{m})

	_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})

	var inactive *InactiveCapabilityError
	require.ErrorAs(t, err, &inactive)
	assert.Equal(t, "deprecated", inactive.Status)
}

func TestExecuteParamsValidation(t *testing.T) {
	adapter := &fakeAdapter{}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"not_query": "x"},
	})

	var invalid *ParamsValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, adapter.calls, "invalid params never reach the adapter")
}

func TestExecutePolicyDenied(t *testing.T) {
	adapter := &fakeAdapter{}
	g, engine := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	// tenant-b has no bundle: default deny.
	_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-b",
		Params:   map[string]any{"query": "x"},
	})

	var denied *moaterr.PolicyDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "no_policy_bundle", denied.RuleHit)
	assert.Equal(t, "low", denied.RiskClass)
	assert.Equal(t, "tenant-b", denied.TenantID)
	assert.Zero(t, adapter.calls)
	assert.Zero(t, engine.CurrentSpend("tenant-b"), "denied calls cost nothing")
}

func TestExecuteScopeDenied(t *testing.T) {
	g, _ := testGateway(t, &fakeAdapter{}, []*capability.Manifest{searchManifest()})

	_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Scope:    "admin",
		Params:   map[string]any{"query": "x"},
	})

	var denied *moaterr.PolicyDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "scope_not_allowed:admin", denied.RuleHit)
}

func TestExecuteBudgetExceededTypedError(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"ok": true}}
	g, engine := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	limit := int64(2)
	bundle := allowBundle("tenant-a", "cap-search")
	bundle.BudgetDaily = &limit
	engine.SetBundle(bundle)

	// Burn the daily budget with two successful calls.
	for i := 0; i < 2; i++ {
		_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
			TenantID: "tenant-a",
			Params:   map[string]any{"query": "x"},
		})
		require.NoError(t, err)
	}

	_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})

	var exceeded *moaterr.BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(2), exceeded.CurrentSpendCents)
	assert.Equal(t, int64(2), exceeded.BudgetCents)
	assert.Equal(t, "daily", exceeded.Period)
	assert.Equal(t, "budget_daily_exceeded:spend=2,limit=2", exceeded.RuleHit)
	assert.Equal(t, "low", exceeded.RiskClass)

	// The budget error still matches the policy-denied family, so
	// transports keep returning 403.
	var denied *moaterr.PolicyDeniedError
	assert.ErrorAs(t, err, &denied)
}

func TestExecuteIdempotencyReplay(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"ok": true}}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	req := &ExecuteRequest{
		TenantID:       "tenant-a",
		Params:         map[string]any{"query": "x"},
		IdempotencyKey: "idem-1",
	}
	first, err := g.Execute(t.Context(), "cap-search", req)
	require.NoError(t, err)
	second, err := g.Execute(t.Context(), "cap-search", req)
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.calls, "replay must not re-execute")
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
}

func TestExecuteConcurrentSharedIdempotencyKey(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"ok": true}}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	const n = 8
	receipts := make([]*contracts.Receipt, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			r, err := g.Execute(context.Background(), "cap-search", &ExecuteRequest{
				TenantID:       "tenant-a",
				Params:         map[string]any{"query": "x"},
				IdempotencyKey: "idem-shared",
			})
			assert.NoError(t, err)
			receipts[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range receipts {
		require.NotNil(t, r)
	}

	// Races may execute more than once, but once the key settles every
	// caller observes one receipt.
	settled, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID:       "tenant-a",
		Params:         map[string]any{"query": "x"},
		IdempotencyKey: "idem-shared",
	})
	require.NoError(t, err)
	assert.True(t, settled.Cached)

	seen := make(map[string]bool, n)
	for _, r := range receipts {
		seen[r.ReceiptID] = true
	}
	assert.True(t, seen[settled.ReceiptID],
		"the settled receipt must be one handed to a racing caller")

	again, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID:       "tenant-a",
		Params:         map[string]any{"query": "x"},
		IdempotencyKey: "idem-shared",
	})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, settled.ReceiptID, again.ReceiptID)
}

func TestExecuteFailuresAreNotCached(t *testing.T) {
	adapter := &fakeAdapter{err: moaterr.NewAdapterError("fake", "upstream exploded", nil)}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	req := &ExecuteRequest{
		TenantID:       "tenant-a",
		Params:         map[string]any{"query": "x"},
		IdempotencyKey: "idem-2",
	}
	for i := 0; i < 2; i++ {
		receipt, err := g.Execute(t.Context(), "cap-search", req)
		require.NoError(t, err)
		assert.Equal(t, contracts.StatusFailure, receipt.Status)
	}
	assert.Equal(t, 2, adapter.calls, "a failed receipt must not poison the key")
}

func TestExecuteFailureReceipt(t *testing.T) {
	adapterErr := moaterr.NewAdapterError("fake", "upstream returned 502", nil)
	adapterErr.StatusCode = 502
	adapterErr.ProviderRequestID = "req-upstream-1"
	adapter := &fakeAdapter{err: adapterErr}
	g, engine := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	receipt, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})
	require.NoError(t, err, "adapter failure still yields a receipt")

	assert.Equal(t, contracts.StatusFailure, receipt.Status)
	assert.Equal(t, "provider_5xx", receipt.ErrorCode)
	assert.Equal(t, "req-upstream-1", receipt.ProviderRequestID)
	assert.Equal(t, map[string]any{
		"error":    "adapter_execution_failed",
		"provider": "fake",
	}, receipt.Result, "failure receipts never carry raw error text")
	assert.NotContains(t, receipt.Result, "upstream returned 502")
	assert.Zero(t, engine.CurrentSpend("tenant-a"), "failures cost nothing")
}

func TestExecuteTimeout(t *testing.T) {
	adapter := &fakeAdapter{block: true}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()},
		WithExecTimeout(20*time.Millisecond))

	receipt, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})
	require.NoError(t, err)

	assert.Equal(t, contracts.StatusTimeout, receipt.Status)
	assert.Equal(t, "timeout", receipt.ErrorCode)
}

func TestExecuteResolvesCredential(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"ok": true}}
	v := vault.NewLocalVault()
	ref, err := v.StoreSecret(t.Context(), "fake", "sk-secret-123")
	require.NoError(t, err)

	connections := vault.NewConnectionStore()
	connections.Put(&vault.Connection{
		TenantID:      "tenant-a",
		Provider:      "fake",
		CredentialRef: ref,
	})

	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()},
		WithVault(v, connections))

	_, err = g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-secret-123", adapter.gotCredential)
}

func TestExecuteNoConnectionMeansNoCredential(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"ok": true}}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()},
		WithVault(vault.NewLocalVault(), vault.NewConnectionStore()))

	_, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})
	require.NoError(t, err)
	assert.Empty(t, adapter.gotCredential)
}

func TestExecuteCapabilityDerivesIdempotencyKey(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"ok": true}}
	g, _ := testGateway(t, adapter, []*capability.Manifest{searchManifest()})

	params := map[string]any{"query": "x"}
	first, err := g.ExecuteCapability(t.Context(), "cap-search", "tenant-a", "execute", params, "req-1")
	require.NoError(t, err)
	second, err := g.ExecuteCapability(t.Context(), "cap-search", "tenant-a", "execute", params, "req-2")
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.calls, "re-delivered intent replays the cached receipt")
	assert.Equal(t, first.ReceiptID, second.ReceiptID)
	assert.True(t, second.Cached)
}

func TestExecuteEmitsOutcomeEvent(t *testing.T) {
	events := make(chan map[string]any, 1)
	trust := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event map[string]any
		if err := json.NewDecoder(r.Body).Decode(&event); err == nil {
			events <- event
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer trust.Close()

	srv := manifestServer(t, searchManifest())
	engine := policy.NewEngine()
	engine.SetBundle(allowBundle("tenant-a", "cap-search"))
	registry := adapters.NewRegistry()
	registry.Register(&fakeAdapter{result: map[string]any{"ok": true}})
	pool := NewPool(1, 4, time.Second)

	g := New(
		capability.NewCache(srv.URL, capability.WithStubFallback(false)),
		engine,
		idempotency.NewMemoryStore(),
		registry,
		NewOutcomeEmitter(trust.URL),
		pool,
	)

	receipt, err := g.Execute(t.Context(), "cap-search", &ExecuteRequest{
		TenantID: "tenant-a",
		Params:   map[string]any{"query": "x"},
	})
	require.NoError(t, err)
	pool.Close()

	select {
	case event := <-events:
		assert.Equal(t, receipt.ReceiptID, event["receipt_id"])
		assert.Equal(t, "success", event["execution_status"])
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome event emitted")
	}
}

func TestRoundMS(t *testing.T) {
	assert.Equal(t, 1.23, roundMS(1.2345))
	assert.Equal(t, 1.24, roundMS(1.235))
	assert.Equal(t, 0.0, roundMS(0))
}

func TestClassifyWrappedTimeout(t *testing.T) {
	// The pipeline checks DeadlineExceeded through wrapping.
	err := moaterr.NewAdapterError("fake", "context deadline exceeded", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
