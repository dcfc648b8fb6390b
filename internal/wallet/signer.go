// Package wallet defines the signing capability the engine consumes and a
// private-key implementation backed by an RPC node.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// TxRequest is an unsigned call the signer fills in and broadcasts
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// PendingTx is a broadcast transaction whose receipt may not exist yet
type PendingTx struct {
	Hash common.Hash
	wait func(ctx context.Context) (*ethtypes.Receipt, error)
}

// NewPendingTx creates a handle whose Wait delegates to wait
func NewPendingTx(hash common.Hash, wait func(ctx context.Context) (*ethtypes.Receipt, error)) *PendingTx {
	return &PendingTx{Hash: hash, wait: wait}
}

// Wait blocks until the transaction is mined or ctx ends
func (p *PendingTx) Wait(ctx context.Context) (*ethtypes.Receipt, error) {
	if p.wait == nil {
		return nil, types.ErrReceiptMissing
	}
	return p.wait(ctx)
}

// Signer is an account able to sign and broadcast transactions
type Signer interface {
	Address() common.Address
	SendTransaction(ctx context.Context, req TxRequest) (*PendingTx, error)
}

// Backend is the node access KeySigner needs
type Backend interface {
	ChainID() *big.Int
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// KeySigner signs with a local private key
type KeySigner struct {
	key          *ecdsa.PrivateKey
	address      common.Address
	backend      Backend
	pollInterval time.Duration

	// serializes nonce assignment
	mu sync.Mutex
}

// NewKeySigner parses a hex private key
func NewKeySigner(hexKey string, backend Backend, pollInterval time.Duration) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySignerFromKey(key, backend, pollInterval), nil
}

// NewKeySignerFromKey wraps an already parsed key
func NewKeySignerFromKey(key *ecdsa.PrivateKey, backend Backend, pollInterval time.Duration) *KeySigner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &KeySigner{
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		backend:      backend,
		pollInterval: pollInterval,
	}
}

// Address returns the signing account
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SendTransaction estimates, signs and broadcasts req. It does not wait
// for the transaction to be mined.
func (s *KeySigner) SendTransaction(ctx context.Context, req TxRequest) (*PendingTx, error) {
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		return nil, err
	}
	// 20% headroom over the estimate
	gas += gas / 5

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return nil, err
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.backend.ChainID()), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}

	log.Debug().
		Str("txHash", signed.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("Transaction sent")

	hash := signed.Hash()
	return NewPendingTx(hash, func(ctx context.Context) (*ethtypes.Receipt, error) {
		return s.waitMined(ctx, hash)
	}), nil
}

// waitMined polls for the receipt until it exists or ctx ends
func (s *KeySigner) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			log.Warn().Err(err).Str("txHash", hash.Hex()).Msg("Failed to get receipt, retrying...")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", types.ErrReceiptMissing, ctx.Err())
		case <-ticker.C:
		}
	}
}
