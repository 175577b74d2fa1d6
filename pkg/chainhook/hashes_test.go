package chainhook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

func sampleParams() intentParams {
	return intentParams{
		CapabilityID: "cap-search",
		InputHash:    "abc123",
		TenantID:     "tenant-a",
		Timestamp:    "1700000000",
		AgentAddress: common.HexToAddress(DefaultSolverAddress),
		AgentID:      DefaultAgentID,
	}
}

func TestComputeIntentHashDeterministic(t *testing.T) {
	h1 := computeIntentHash(sampleParams())
	h2 := computeIntentHash(sampleParams())
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, [32]byte{}, h1)
}

func TestComputeIntentHashDiscriminates(t *testing.T) {
	base := computeIntentHash(sampleParams())

	mutations := []func(*intentParams){
		func(p *intentParams) { p.CapabilityID = "cap-other" },
		func(p *intentParams) { p.InputHash = "def456" },
		func(p *intentParams) { p.TenantID = "tenant-b" },
		func(p *intentParams) { p.Timestamp = "1700000001" },
		func(p *intentParams) { p.AgentID = 99 },
		func(p *intentParams) { p.Nonce = 1 },
		func(p *intentParams) { p.Expiry = 1700000000 + 3600 },
	}
	for i, mutate := range mutations {
		p := sampleParams()
		mutate(&p)
		assert.NotEqual(t, base, computeIntentHash(p), "mutation %d must change the hash", i)
	}
}

func TestComputeIntentHashDefaultExpiry(t *testing.T) {
	// Explicit expiry of ts+86400 equals the zero-expiry default.
	p := sampleParams()
	p.Expiry = 1700000000 + 86400
	assert.Equal(t, computeIntentHash(sampleParams()), computeIntentHash(p))
}

func TestParseTimestamp(t *testing.T) {
	assert.Equal(t, int64(1700000000), parseTimestamp("1700000000"))
	assert.Equal(t, int64(1700000000), parseTimestamp("2023-11-14T22:13:20Z"))
	assert.Equal(t, int64(1700000000), parseTimestamp("2023-11-14T22:13:20.123456789Z"))

	// Garbage falls back to now; just check it is recent.
	now := parseTimestamp("not-a-time")
	assert.InDelta(t, parseTimestamp(""), now, 5)
}

func TestPayloadHashes(t *testing.T) {
	r := &contracts.Receipt{
		ReceiptID:    "r-1",
		CapabilityID: "cap-search",
		TenantID:     "tenant-a",
		Status:       contracts.StatusSuccess,
		Result:       map[string]any{"b": float64(2), "a": "x"},
		Scope:        "execute",
		Adapter:      "http_proxy",
	}

	outcome1, err := computeOutcomeHash(r)
	require.NoError(t, err)
	r2 := *r
	r2.Result = map[string]any{"a": "x", "b": float64(2)}
	outcome2, err := computeOutcomeHash(&r2)
	require.NoError(t, err)
	assert.Equal(t, outcome1, outcome2, "key order must not matter")

	constraints, err := computeConstraintsHash(r)
	require.NoError(t, err)
	route, err := computeRouteHash(r)
	require.NoError(t, err)
	evidence, err := computeEvidenceHash(r)
	require.NoError(t, err)

	hashes := [][32]byte{outcome1, constraints, route, evidence}
	for i := range hashes {
		for j := i + 1; j < len(hashes); j++ {
			assert.NotEqual(t, hashes[i], hashes[j])
		}
	}
}

func TestPayloadHashDefaults(t *testing.T) {
	empty := &contracts.Receipt{CapabilityID: "cap-1", TenantID: "t"}

	// nil result hashes like the empty object.
	withEmpty := &contracts.Receipt{CapabilityID: "cap-1", TenantID: "t", Result: map[string]any{}}
	h1, err := computeOutcomeHash(empty)
	require.NoError(t, err)
	h2, err := computeOutcomeHash(withEmpty)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Missing scope defaults to execute, missing adapter to unknown.
	withDefaults := &contracts.Receipt{CapabilityID: "cap-1", TenantID: "t", Scope: "execute", Adapter: "unknown"}
	c1, err := computeConstraintsHash(empty)
	require.NoError(t, err)
	c2, err := computeConstraintsHash(withDefaults)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)

	r1, err := computeRouteHash(empty)
	require.NoError(t, err)
	r2, err := computeRouteHash(withDefaults)
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
}

func TestAddressToBytes32(t *testing.T) {
	addr := common.HexToAddress(DefaultSolverAddress)
	b := addressToBytes32(addr)

	assert.Equal(t, make([]byte, 12), b[:12], "first 12 bytes are zero padding")
	assert.Equal(t, addr.Bytes(), b[12:])
}

func TestHexHash(t *testing.T) {
	h := keccakString("moat")
	s := hexHash(h)
	assert.Len(t, s, 66)
	assert.Equal(t, "0x", s[:2])
}
