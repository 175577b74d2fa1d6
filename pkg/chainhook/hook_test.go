package chainhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

func successReceipt() *contracts.Receipt {
	return &contracts.Receipt{
		ReceiptID:    "r-1",
		CapabilityID: "cap-search",
		TenantID:     "tenant-a",
		Status:       contracts.StatusSuccess,
		Result:       map[string]any{"ok": true},
		ExecutedAt:   "2023-11-14T22:13:20Z",
		Scope:        "execute",
		Adapter:      "http_proxy",
	}
}

func TestPostReceiptSkipsNonSuccess(t *testing.T) {
	hook := NewHook(DefaultConfig())

	for _, status := range []contracts.ExecutionStatus{
		contracts.StatusFailure, contracts.StatusTimeout, contracts.StatusPolicyDenied,
	} {
		r := successReceipt()
		r.Status = status
		out, err := hook.PostReceipt(context.Background(), r)
		require.NoError(t, err)
		assert.Nil(t, out, string(status))
	}
}

func TestPostReceiptDryRun(t *testing.T) {
	hook := NewHook(DefaultConfig())

	out, err := hook.PostReceipt(context.Background(), successReceipt())
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, ChainDryRun, out.Chain)
	assert.Equal(t, "eip712", out.SigningMethod)
	assert.Equal(t, cieVersion, out.CIEVersion)
	assert.Equal(t, DefaultSolverAddress, out.Solver)
	assert.Equal(t, int64(DefaultAgentID), out.AgentID)
	assert.Equal(t, "r-1", out.MoatReceiptID)
	assert.Empty(t, out.TxHash)

	for _, h := range []string{out.IntentHash, out.OutcomeHash, out.ConstraintsHash, out.RouteHash, out.EvidenceHash} {
		assert.Len(t, h, 66)
		assert.Equal(t, "0x", h[:2])
	}
}

func TestPostReceiptDryRunNoRPC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = false
	hook := NewHook(cfg)

	out, err := hook.PostReceipt(context.Background(), successReceipt())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, ChainDryRunNoRPC, out.Chain)
}

func TestPostReceiptDryRunNoKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = false
	cfg.RPCURL = "http://127.0.0.1:1"
	hook := NewHook(cfg)

	out, err := hook.PostReceipt(context.Background(), successReceipt())
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, ChainDryRunNoKey, out.Chain)
}

func TestPostReceiptIntentHashStableAcrossDispositions(t *testing.T) {
	dry := NewHook(DefaultConfig())
	cfg := DefaultConfig()
	cfg.DryRun = false
	noRPC := NewHook(cfg)

	a, err := dry.PostReceipt(context.Background(), successReceipt())
	require.NoError(t, err)
	b, err := noRPC.PostReceipt(context.Background(), successReceipt())
	require.NoError(t, err)

	assert.Equal(t, a.IntentHash, b.IntentHash)
	assert.Equal(t, a.EvidenceHash, b.EvidenceHash)
}

func TestNewHookDefaults(t *testing.T) {
	hook := NewHook(Config{DryRun: true})

	assert.Equal(t, DefaultHubAddress, hook.cfg.HubAddress)
	assert.Equal(t, DefaultSolverAddress, hook.cfg.SolverAddress)
	assert.Equal(t, int64(DefaultChainID), hook.cfg.ChainID)
	assert.Equal(t, int64(DefaultAgentID), hook.cfg.AgentID)
}

func TestParseKey(t *testing.T) {
	// Well-known throwaway key.
	const hexKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

	k1, err := parseKey(hexKey)
	require.NoError(t, err)
	k2, err := parseKey("0x" + hexKey)
	require.NoError(t, err)
	assert.Equal(t, k1.D, k2.D)

	_, err = parseKey("")
	assert.Error(t, err)
}
