package chainhook

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Minimal hub ABI: the one function we call, the nonce view, and the
// event we parse out of the transaction receipt.
const receiptHubABI = `[
  {
    "type": "function",
    "name": "postReceipt",
    "inputs": [
      {
        "name": "receipt",
        "type": "tuple",
        "components": [
          {"name": "intentHash", "type": "bytes32"},
          {"name": "constraintsHash", "type": "bytes32"},
          {"name": "routeHash", "type": "bytes32"},
          {"name": "outcomeHash", "type": "bytes32"},
          {"name": "evidenceHash", "type": "bytes32"},
          {"name": "createdAt", "type": "uint64"},
          {"name": "expiry", "type": "uint64"},
          {"name": "solverId", "type": "bytes32"},
          {"name": "solverSig", "type": "bytes"}
        ]
      },
      {"name": "declaredVolume", "type": "uint256"}
    ],
    "outputs": [{"name": "receiptId", "type": "bytes32"}],
    "stateMutability": "nonpayable"
  },
  {
    "type": "function",
    "name": "solverNonces",
    "inputs": [{"name": "", "type": "bytes32"}],
    "outputs": [{"name": "", "type": "uint256"}],
    "stateMutability": "view"
  },
  {
    "type": "event",
    "name": "ReceiptPosted",
    "inputs": [
      {"name": "receiptId", "type": "bytes32", "indexed": true},
      {"name": "intentHash", "type": "bytes32", "indexed": true},
      {"name": "solverId", "type": "bytes32", "indexed": true},
      {"name": "expiry", "type": "uint64", "indexed": false}
    ],
    "anonymous": false
  }
]`

const (
	confirmTimeout = 60 * time.Second
	fallbackGas    = 300_000
)

// submitResult carries the confirmed transaction details back to the
// hook.
type submitResult struct {
	TxHash      string
	ReceiptID   string
	BlockNumber uint64
	GasUsed     uint64
	Confirmed   bool
}

// submitter holds the dialed RPC client and the parsed hub ABI.
type submitter struct {
	client  *ethclient.Client
	hubABI  abi.ABI
	hub     common.Address
	key     *ecdsa.PrivateKey
	chainID *big.Int
	logger  *slog.Logger
}

func newSubmitter(rpcURL string, hub common.Address, key *ecdsa.PrivateKey, chainID int64) (*submitter, error) {
	parsed, err := abi.JSON(strings.NewReader(receiptHubABI))
	if err != nil {
		return nil, fmt.Errorf("chainhook: parse hub abi: %w", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chainhook: dial rpc: %w", err)
	}
	return &submitter{
		client:  client,
		hubABI:  parsed,
		hub:     hub,
		key:     key,
		chainID: big.NewInt(chainID),
		logger:  slog.Default().With("component", "chain_submitter"),
	}, nil
}

// solverNonce reads the hub's current nonce for solverID.
func (s *submitter) solverNonce(ctx context.Context, solverID [32]byte) (*big.Int, error) {
	data, err := s.hubABI.Pack("solverNonces", solverID)
	if err != nil {
		return nil, fmt.Errorf("chainhook: pack solverNonces: %w", err)
	}
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.hub, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chainhook: call solverNonces: %w", err)
	}
	out, err := s.hubABI.Unpack("solverNonces", raw)
	if err != nil || len(out) != 1 {
		return nil, fmt.Errorf("chainhook: unpack solverNonces: %w", err)
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chainhook: solverNonces returned %T", out[0])
	}
	return nonce, nil
}

// submit signs the receipt, posts it to the hub, and waits for the
// transaction to be mined.
func (s *submitter) submit(ctx context.Context, receipt *onchainReceipt, declaredVolume *big.Int) (*submitResult, error) {
	solverNonce, err := s.solverNonce(ctx, receipt.SolverId)
	if err != nil {
		return nil, err
	}

	domain := typedDataDomain(s.chainID.Int64(), s.hub.Hex())
	receipt.SolverSig, err = signReceipt(receipt, s.key, domain)
	if err != nil {
		return nil, err
	}

	data, err := s.hubABI.Pack("postReceipt", *receipt, declaredVolume)
	if err != nil {
		return nil, fmt.Errorf("chainhook: pack postReceipt: %w", err)
	}

	sender := crypto.PubkeyToAddress(s.key.PublicKey)
	txNonce, err := s.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("chainhook: pending nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chainhook: suggest gas price: %w", err)
	}
	gas, err := s.client.EstimateGas(ctx, ethereum.CallMsg{
		From: sender, To: &s.hub, Data: data,
	})
	if err != nil {
		gas = fallbackGas
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    txNonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &s.hub,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("chainhook: sign tx: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("chainhook: send tx: %w", err)
	}

	s.logger.InfoContext(ctx, "receipt tx broadcast",
		"tx_hash", signedTx.Hash().Hex(),
		"solver_nonce", solverNonce.String(),
		"intent_hash", hexHash(receipt.IntentHash))

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	mined, err := bind.WaitMined(waitCtx, s.client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("chainhook: wait mined: %w", err)
	}

	result := &submitResult{
		TxHash:      signedTx.Hash().Hex(),
		BlockNumber: mined.BlockNumber.Uint64(),
		GasUsed:     mined.GasUsed,
		Confirmed:   mined.Status == types.ReceiptStatusSuccessful,
	}

	// receiptId is the first indexed topic of ReceiptPosted.
	eventID := s.hubABI.Events["ReceiptPosted"].ID
	for _, lg := range mined.Logs {
		if len(lg.Topics) >= 2 && lg.Topics[0] == eventID {
			result.ReceiptID = lg.Topics[1].Hex()
			break
		}
	}
	return result, nil
}
