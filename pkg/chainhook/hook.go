package chainhook

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/moat/pkg/contracts"
)

// Sepolia testnet deployment.
const (
	DefaultHubAddress    = "0xD66A1e880AA3939CA066a9EA1dD37ad3d01D977c"
	DefaultSolverAddress = "0x83Be08FFB22b61733eDf15b0ee9Caf5562cd888d"
	DefaultChainID       = 11155111
	DefaultAgentID       = 1319
)

// Chain disposition values reported on the ChainReceipt.
const (
	ChainDryRun        = "dry_run"
	ChainDryRunNoRPC   = "dry_run_no_rpc"
	ChainDryRunNoKey   = "dry_run_no_key"
	ChainSepolia       = "sepolia"
	ChainSepoliaFailed = "sepolia_failed"
)

// Config controls the on-chain receipt hook.
type Config struct {
	// RPCURL is the JSON-RPC endpoint. Empty forces dry-run.
	RPCURL string

	// DryRun logs the receipt without submitting on-chain.
	DryRun bool

	// SolverKey is the hex-encoded signing key. Empty forces dry-run.
	SolverKey string

	HubAddress    string
	SolverAddress string
	ChainID       int64
	AgentID       int64
}

// DefaultConfig returns a dry-run configuration pointed at the Sepolia
// deployment.
func DefaultConfig() Config {
	return Config{
		DryRun:        true,
		HubAddress:    DefaultHubAddress,
		SolverAddress: DefaultSolverAddress,
		ChainID:       DefaultChainID,
		AgentID:       DefaultAgentID,
	}
}

// ChainReceipt is the hook's audit record: the five hashes plus the
// submission disposition.
type ChainReceipt struct {
	IntentHash      string `json:"intent_hash"`
	OutcomeHash     string `json:"outcome_hash"`
	ConstraintsHash string `json:"constraints_hash"`
	RouteHash       string `json:"route_hash"`
	EvidenceHash    string `json:"evidence_hash"`
	Solver          string `json:"solver"`
	CapabilityID    string `json:"capability_id"`
	MoatReceiptID   string `json:"moat_receipt_id"`
	TenantID        string `json:"tenant_id"`
	Timestamp       string `json:"timestamp"`
	SigningMethod   string `json:"signing_method"`
	CIEVersion      int    `json:"cie_version"`
	AgentID         int64  `json:"agent_id"`
	Chain           string `json:"chain"`

	TxHash           string `json:"tx_hash,omitempty"`
	OnChainReceiptID string `json:"on_chain_receipt_id,omitempty"`
	BlockNumber      uint64 `json:"block_number,omitempty"`
	GasUsed          uint64 `json:"gas_used,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Hook submits IntentReceipts after successful executions. Best-effort:
// failures degrade to a logged dry-run record and never affect the
// execution result.
type Hook struct {
	cfg    Config
	logger *slog.Logger

	subOnce sync.Once
	sub     *submitter
	subErr  error
}

// NewHook creates the hook. The RPC client is dialed lazily on the
// first live submission.
func NewHook(cfg Config) *Hook {
	if cfg.HubAddress == "" {
		cfg.HubAddress = DefaultHubAddress
	}
	if cfg.SolverAddress == "" {
		cfg.SolverAddress = DefaultSolverAddress
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.AgentID == 0 {
		cfg.AgentID = DefaultAgentID
	}
	return &Hook{
		cfg:    cfg,
		logger: slog.Default().With("component", "chain_hook"),
	}
}

func (h *Hook) submitter() (*submitter, error) {
	h.subOnce.Do(func() {
		key, err := parseKey(h.cfg.SolverKey)
		if err != nil {
			h.subErr = err
			return
		}
		h.sub, h.subErr = newSubmitter(
			h.cfg.RPCURL,
			common.HexToAddress(h.cfg.HubAddress),
			key,
			h.cfg.ChainID)
	})
	return h.sub, h.subErr
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// PostReceipt computes the five hashes for a successful execution and
// submits (or dry-runs) the on-chain IntentReceipt. Non-success
// receipts are skipped and return (nil, nil).
func (h *Hook) PostReceipt(ctx context.Context, moatReceipt *contracts.Receipt) (*ChainReceipt, error) {
	if moatReceipt.Status != contracts.StatusSuccess {
		h.logger.DebugContext(ctx, "skipping chain receipt for non-success execution",
			"receipt_id", moatReceipt.ReceiptID,
			"status", string(moatReceipt.Status))
		return nil, nil
	}

	inputHash, err := resultDigest(moatReceipt.Result)
	if err != nil {
		return nil, err
	}

	solverAddr := common.HexToAddress(h.cfg.SolverAddress)
	intentHash := computeIntentHash(intentParams{
		CapabilityID: moatReceipt.CapabilityID,
		InputHash:    inputHash,
		TenantID:     moatReceipt.TenantID,
		Timestamp:    moatReceipt.ExecutedAt,
		AgentAddress: solverAddr,
		AgentID:      h.cfg.AgentID,
	})
	outcomeHash, err := computeOutcomeHash(moatReceipt)
	if err != nil {
		return nil, err
	}
	constraintsHash, err := computeConstraintsHash(moatReceipt)
	if err != nil {
		return nil, err
	}
	routeHash, err := computeRouteHash(moatReceipt)
	if err != nil {
		return nil, err
	}
	evidenceHash, err := computeEvidenceHash(moatReceipt)
	if err != nil {
		return nil, err
	}

	out := &ChainReceipt{
		IntentHash:      hexHash(intentHash),
		OutcomeHash:     hexHash(outcomeHash),
		ConstraintsHash: hexHash(constraintsHash),
		RouteHash:       hexHash(routeHash),
		EvidenceHash:    hexHash(evidenceHash),
		Solver:          h.cfg.SolverAddress,
		CapabilityID:    moatReceipt.CapabilityID,
		MoatReceiptID:   moatReceipt.ReceiptID,
		TenantID:        moatReceipt.TenantID,
		Timestamp:       moatReceipt.ExecutedAt,
		SigningMethod:   "eip712",
		CIEVersion:      cieVersion,
		AgentID:         h.cfg.AgentID,
	}

	if h.cfg.DryRun {
		out.Chain = ChainDryRun
		h.logger.InfoContext(ctx, "chain receipt dry-run, not submitted",
			"intent_hash", out.IntentHash,
			"outcome_hash", out.OutcomeHash,
			"moat_receipt_id", moatReceipt.ReceiptID,
			"capability_id", moatReceipt.CapabilityID,
			"signing_method", "eip712")
		return out, nil
	}
	if h.cfg.RPCURL == "" {
		h.logger.WarnContext(ctx, "chain rpc url not configured, falling back to dry-run",
			"moat_receipt_id", moatReceipt.ReceiptID)
		out.Chain = ChainDryRunNoRPC
		return out, nil
	}
	if h.cfg.SolverKey == "" {
		h.logger.WarnContext(ctx, "no signing key available, falling back to dry-run",
			"moat_receipt_id", moatReceipt.ReceiptID)
		out.Chain = ChainDryRunNoKey
		return out, nil
	}

	now := time.Now().Unix()
	receipt := &onchainReceipt{
		IntentHash:      intentHash,
		ConstraintsHash: constraintsHash,
		RouteHash:       routeHash,
		OutcomeHash:     outcomeHash,
		EvidenceHash:    evidenceHash,
		CreatedAt:       uint64(now),
		Expiry:          uint64(now + 86400),
		SolverId:        addressToBytes32(solverAddr),
	}

	sub, err := h.submitter()
	if err == nil {
		var result *submitResult
		result, err = sub.submit(ctx, receipt, big.NewInt(0))
		if err == nil {
			out.Chain = ChainSepolia
			out.TxHash = result.TxHash
			out.OnChainReceiptID = result.ReceiptID
			out.BlockNumber = result.BlockNumber
			out.GasUsed = result.GasUsed
			h.logger.InfoContext(ctx, "chain receipt submitted",
				"tx_hash", result.TxHash,
				"receipt_id", result.ReceiptID,
				"block", result.BlockNumber,
				"gas", result.GasUsed,
				"intent_hash", out.IntentHash,
				"moat_receipt_id", moatReceipt.ReceiptID)
			return out, nil
		}
	}

	h.logger.WarnContext(ctx, "chain receipt submission failed, non-fatal",
		"error", err.Error(),
		"intent_hash", out.IntentHash,
		"moat_receipt_id", moatReceipt.ReceiptID)
	out.Chain = ChainSepoliaFailed
	out.Error = err.Error()
	return out, nil
}

// resultDigest is the sha256 of the canonical JSON form of the
// execution result, used as the CIE action input hash.
func resultDigest(result map[string]any) (string, error) {
	if result == nil {
		result = map[string]any{}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
