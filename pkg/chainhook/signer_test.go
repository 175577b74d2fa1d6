package chainhook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReceipt() *onchainReceipt {
	return &onchainReceipt{
		IntentHash:      keccakString("intent"),
		ConstraintsHash: keccakString("constraints"),
		RouteHash:       keccakString("route"),
		OutcomeHash:     keccakString("outcome"),
		EvidenceHash:    keccakString("evidence"),
		CreatedAt:       1700000000,
		Expiry:          1700086400,
		SolverId:        keccakString("solver"),
	}
}

func TestSignReceiptRecoverable(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	domain := typedDataDomain(DefaultChainID, DefaultHubAddress)
	r := sampleReceipt()

	sig, err := signReceipt(r, key, domain)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64], "v must be 27 or 28")

	// Recompute the digest the same way and recover the signer.
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"IntentReceipt": {
				{Name: "intentHash", Type: "bytes32"},
				{Name: "constraintsHash", Type: "bytes32"},
				{Name: "routeHash", Type: "bytes32"},
				{Name: "outcomeHash", Type: "bytes32"},
				{Name: "evidenceHash", Type: "bytes32"},
				{Name: "createdAt", Type: "uint64"},
				{Name: "expiry", Type: "uint64"},
				{Name: "solverId", Type: "bytes32"},
			},
		},
		PrimaryType: "IntentReceipt",
		Domain:      domain,
		Message: apitypes.TypedDataMessage{
			"intentHash":      hexutil.Encode(r.IntentHash[:]),
			"constraintsHash": hexutil.Encode(r.ConstraintsHash[:]),
			"routeHash":       hexutil.Encode(r.RouteHash[:]),
			"outcomeHash":     hexutil.Encode(r.OutcomeHash[:]),
			"evidenceHash":    hexutil.Encode(r.EvidenceHash[:]),
			"createdAt":       math.NewHexOrDecimal256(int64(r.CreatedAt)),
			"expiry":          math.NewHexOrDecimal256(int64(r.Expiry)),
			"solverId":        hexutil.Encode(r.SolverId[:]),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typed)
	require.NoError(t, err)

	recovery := make([]byte, 65)
	copy(recovery, sig)
	recovery[64] -= 27
	pub, err := crypto.SigToPub(digest, recovery)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(*pub))
}

func TestSignReceiptDomainSeparation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	r := sampleReceipt()

	sig1, err := signReceipt(r, key, typedDataDomain(DefaultChainID, DefaultHubAddress))
	require.NoError(t, err)
	sig2, err := signReceipt(r, key, typedDataDomain(1, DefaultHubAddress))
	require.NoError(t, err)

	assert.NotEqual(t, sig1, sig2, "different chains must produce different signatures")
}
