// Package chainhook posts an on-chain IntentReceipt to the
// IntentReceiptHub contract after every successful execution. The
// off-chain receipt and the on-chain record share the same intent hash,
// so auditors can cross-reference the two.
package chainhook

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// Canonical Intent Envelope EIP-712 type. The intent hash is the
// keccak256 of the abi-encoded struct with this typehash.
const cieTypeString = "CanonicalIntentEnvelope(" +
	"uint8 version," +
	"bytes32 tenantId," +
	"address agentAddress," +
	"uint256 agentId," +
	"uint8 domain," +
	"bytes32 actionHash," +
	"bytes32 constraintsHash," +
	"uint256 nonce," +
	"uint64 timestamp," +
	"uint64 expiry," +
	"bytes32 extensionHash)"

const (
	cieVersion    = 1
	cieDomainWeb2 = 0
)

// intentParams carries the CIE fields derived from a receipt.
type intentParams struct {
	CapabilityID string
	InputHash    string
	TenantID     string
	Timestamp    string
	AgentAddress common.Address
	AgentID      int64
	Nonce        int64
	Expiry       int64
}

// word left-pads b to a single 32-byte abi word.
func word(b []byte) []byte { return common.LeftPadBytes(b, 32) }

func uintWord(v *big.Int) []byte { return word(v.Bytes()) }

// keccakString hashes s into a bytes32.
func keccakString(s string) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256([]byte(s)))
	return out
}

// computeIntentHash computes the EIP-712 struct hash of the Canonical
// Intent Envelope:
//
//	keccak256(abi.encode(CIE_TYPEHASH, version, tenantId, agentAddress,
//	    agentId, domain, actionHash, constraintsHash, nonce, timestamp,
//	    expiry, extensionHash))
//
// Every abi.encode argument occupies one 32-byte word, so the encoding
// is the plain concatenation of padded words.
func computeIntentHash(p intentParams) [32]byte {
	typehash := keccakString(cieTypeString)
	tenantID := keccakString(p.TenantID)
	actionHash := keccakString(p.CapabilityID + ":" + p.InputHash)
	constraintsHash := keccakString("moat:policy:" + p.TenantID + ":" + p.CapabilityID)

	ts := parseTimestamp(p.Timestamp)
	expiry := p.Expiry
	if expiry == 0 {
		expiry = ts + 86400
	}

	var extensionHash [32]byte

	encoded := make([]byte, 0, 12*32)
	encoded = append(encoded, typehash[:]...)
	encoded = append(encoded, uintWord(big.NewInt(cieVersion))...)
	encoded = append(encoded, tenantID[:]...)
	encoded = append(encoded, word(p.AgentAddress.Bytes())...)
	encoded = append(encoded, uintWord(big.NewInt(p.AgentID))...)
	encoded = append(encoded, uintWord(big.NewInt(cieDomainWeb2))...)
	encoded = append(encoded, actionHash[:]...)
	encoded = append(encoded, constraintsHash[:]...)
	encoded = append(encoded, uintWord(big.NewInt(p.Nonce))...)
	encoded = append(encoded, uintWord(big.NewInt(ts))...)
	encoded = append(encoded, uintWord(big.NewInt(expiry))...)
	encoded = append(encoded, extensionHash[:]...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(encoded))
	return out
}

// parseTimestamp accepts a unix-epoch string or an RFC 3339 timestamp,
// falling back to the current time.
func parseTimestamp(ts string) int64 {
	if ts != "" {
		if allDigits(ts) {
			if v, err := strconv.ParseInt(ts, 10, 64); err == nil {
				return v
			}
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			return t.Unix()
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.Unix()
		}
	}
	return time.Now().Unix()
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// keccakCanonical hashes the RFC 8785 canonical JSON form of v.
func keccakCanonical(v any) ([32]byte, error) {
	var out [32]byte
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("chainhook: marshal for hashing: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return out, fmt.Errorf("chainhook: canonicalize for hashing: %w", err)
	}
	copy(out[:], crypto.Keccak256(canonical))
	return out, nil
}

// computeOutcomeHash hashes the execution result payload.
func computeOutcomeHash(r *contracts.Receipt) ([32]byte, error) {
	result := r.Result
	if result == nil {
		result = map[string]any{}
	}
	return keccakCanonical(result)
}

// computeConstraintsHash hashes the policy constraints that governed
// this execution.
func computeConstraintsHash(r *contracts.Receipt) ([32]byte, error) {
	scope := r.Scope
	if scope == "" {
		scope = "execute"
	}
	return keccakCanonical(map[string]any{
		"capability_id": r.CapabilityID,
		"scope":         scope,
		"tenant_id":     r.TenantID,
	})
}

// computeRouteHash hashes the execution route (adapter + capability).
func computeRouteHash(r *contracts.Receipt) ([32]byte, error) {
	adapter := r.Adapter
	if adapter == "" {
		adapter = "unknown"
	}
	return keccakCanonical(map[string]any{
		"adapter":       adapter,
		"capability_id": r.CapabilityID,
	})
}

// computeEvidenceHash hashes the full off-chain receipt as the evidence
// bundle.
func computeEvidenceHash(r *contracts.Receipt) ([32]byte, error) {
	return keccakCanonical(r)
}

// addressToBytes32 left-pads a 20-byte address into a bytes32 solver id.
func addressToBytes32(addr common.Address) [32]byte {
	var out [32]byte
	copy(out[12:], addr.Bytes())
	return out
}

func hexHash(h [32]byte) string {
	return "0x" + common.Bytes2Hex(h[:])
}
