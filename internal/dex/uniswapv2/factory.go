// Package uniswapv2 reads constant-product pairs directly from a factory
// contract, as an on-chain alternative to the subgraph source.
package uniswapv2

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/internal/contracts"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Caller executes read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PairInfo holds the immutable part of a pair
type PairInfo struct {
	Token0 types.Token
	Token1 types.Token
}

// FactorySource enumerates a factory's pairs and reads their reserves.
// Pair tokens and token metadata never change and are cached.
type FactorySource struct {
	client  Caller
	factory common.Address
	limit   int

	mu         sync.Mutex
	pairCache  map[common.Address]*PairInfo
	tokenCache map[common.Address]types.Token
}

// NewFactorySource creates a source reading at most limit pairs; limit <= 0
// reads every pair.
func NewFactorySource(client Caller, factory common.Address, limit int) *FactorySource {
	return &FactorySource{
		client:     client,
		factory:    factory,
		limit:      limit,
		pairCache:  make(map[common.Address]*PairInfo),
		tokenCache: make(map[common.Address]types.Token),
	}
}

// FetchPairs returns the current reserves of every pair. A pair whose
// reserves cannot be read is returned with nil reserves.
func (s *FactorySource) FetchPairs(ctx context.Context) ([]types.Pair, error) {
	total, err := s.allPairsLength(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pair count: %w", err)
	}
	n := total
	if s.limit > 0 && n > uint64(s.limit) {
		n = uint64(s.limit)
	}

	pairs := make([]types.Pair, 0, n)
	for i := uint64(0); i < n; i++ {
		addr, err := s.pairAt(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("failed to get pair %d: %w", i, err)
		}
		info, err := s.pairInfo(ctx, addr)
		if err != nil {
			log.Warn().Err(err).Str("pair", addr.Hex()).Msg("Skipping unreadable pair")
			continue
		}

		pair := types.Pair{
			ID:     strings.ToLower(addr.Hex()),
			Token0: info.Token0,
			Token1: info.Token1,
		}
		r0, r1, err := s.GetReserves(ctx, addr)
		if err != nil {
			log.Warn().Err(err).Str("pair", addr.Hex()).Msg("Failed to get reserves")
		} else {
			pair.Reserve0, pair.Reserve1 = r0, r1
		}
		pairs = append(pairs, pair)
	}

	log.Debug().
		Str("factory", s.factory.Hex()).
		Uint64("total", total).
		Int("fetched", len(pairs)).
		Msg("Factory pairs fetched")
	return pairs, nil
}

// GetReserves fetches current reserves from a pair
func (s *FactorySource) GetReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	out, err := s.call(ctx, contracts.Pair, pair, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("invalid getReserves response")
	}
	return r0, r1, nil
}

func (s *FactorySource) allPairsLength(ctx context.Context) (uint64, error) {
	out, err := s.call(ctx, contracts.Factory, s.factory, "allPairsLength")
	if err != nil {
		return 0, err
	}
	n, ok := out[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("invalid allPairsLength response")
	}
	return n.Uint64(), nil
}

func (s *FactorySource) pairAt(ctx context.Context, i uint64) (common.Address, error) {
	out, err := s.call(ctx, contracts.Factory, s.factory, "allPairs", new(big.Int).SetUint64(i))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("invalid allPairs response")
	}
	return addr, nil
}

// pairInfo fetches and caches the pair's tokens
func (s *FactorySource) pairInfo(ctx context.Context, pair common.Address) (*PairInfo, error) {
	s.mu.Lock()
	info, ok := s.pairCache[pair]
	s.mu.Unlock()
	if ok {
		return info, nil
	}

	addr0, err := s.address(ctx, pair, "token0")
	if err != nil {
		return nil, fmt.Errorf("failed to get token0: %w", err)
	}
	addr1, err := s.address(ctx, pair, "token1")
	if err != nil {
		return nil, fmt.Errorf("failed to get token1: %w", err)
	}
	token0, err := s.token(ctx, addr0)
	if err != nil {
		return nil, err
	}
	token1, err := s.token(ctx, addr1)
	if err != nil {
		return nil, err
	}

	info = &PairInfo{Token0: token0, Token1: token1}
	s.mu.Lock()
	s.pairCache[pair] = info
	s.mu.Unlock()

	log.Debug().
		Str("pair", pair.Hex()).
		Str("token0", token0.String()).
		Str("token1", token1.String()).
		Msg("Cached pair info")
	return info, nil
}

// token reads and caches ERC-20 metadata. Symbol and name are optional;
// decimals are not.
func (s *FactorySource) token(ctx context.Context, addr common.Address) (types.Token, error) {
	s.mu.Lock()
	t, ok := s.tokenCache[addr]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	out, err := s.call(ctx, contracts.ERC20, addr, "decimals")
	if err != nil {
		return types.Token{}, fmt.Errorf("failed to get decimals of %s: %w", addr.Hex(), err)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return types.Token{}, fmt.Errorf("invalid decimals response from %s", addr.Hex())
	}

	t = types.Token{
		Address:  addr,
		Decimals: decimals,
		Symbol:   s.optionalString(ctx, addr, "symbol"),
		Name:     s.optionalString(ctx, addr, "name"),
	}
	s.mu.Lock()
	s.tokenCache[addr] = t
	s.mu.Unlock()
	return t, nil
}

func (s *FactorySource) optionalString(ctx context.Context, addr common.Address, method string) string {
	out, err := s.call(ctx, contracts.ERC20, addr, method)
	if err != nil {
		log.Debug().Err(err).Str("token", addr.Hex()).Str("method", method).Msg("Token metadata unavailable")
		return ""
	}
	v, _ := out[0].(string)
	return v
}

func (s *FactorySource) address(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	out, err := s.call(ctx, contracts.Pair, pair, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("invalid %s response", method)
	}
	return addr, nil
}

func (s *FactorySource) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return parsed.Unpack(method, res)
}
