package chainhook

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// onchainReceipt mirrors the IntentReceipt tuple the hub contract
// accepts. SolverSig is filled in after signing.
type onchainReceipt struct {
	IntentHash      [32]byte
	ConstraintsHash [32]byte
	RouteHash       [32]byte
	OutcomeHash     [32]byte
	EvidenceHash    [32]byte
	CreatedAt       uint64
	Expiry          uint64
	SolverId        [32]byte
	SolverSig       []byte
}

// typedDataDomain builds the EIP-712 domain separator input for the
// given chain and verifying contract.
func typedDataDomain(chainID int64, verifyingContract string) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              "MoatIntentReceipt",
		Version:           "1",
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: verifyingContract,
	}
}

// signReceipt produces the 65-byte (r||s||v, v in {27,28}) EIP-712
// signature over the receipt fields. The contract recovers the solver
// address with ecrecover against the same domain separator.
func signReceipt(r *onchainReceipt, key *ecdsa.PrivateKey, domain apitypes.TypedDataDomain) ([]byte, error) {
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
			"createdAt":       (*math.HexOrDecimal256)(new(big.Int).SetUint64(r.CreatedAt)),
			"expiry":          (*math.HexOrDecimal256)(new(big.Int).SetUint64(r.Expiry)),
			"solverId":        hexutil.Encode(r.SolverId[:]),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("chainhook: typed data hash: %w", err)
	}

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("chainhook: sign receipt: %w", err)
	}
	// crypto.Sign yields v in {0,1}; on-chain ecrecover expects 27/28.
	sig[64] += 27
	return sig, nil
}
