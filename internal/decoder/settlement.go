// Package decoder reads pair Swap events from a confirmed swap receipt to
// report what the trade actually paid and received.
package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// SwapEventSignature is the pair event
// Swap(address indexed sender, uint amount0In, uint amount1In, uint amount0Out, uint amount1Out, address indexed to)
var SwapEventSignature = common.HexToHash("0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822")

// ErrNoSwapEvents is returned when a receipt carries no pair Swap events
var ErrNoSwapEvents = errors.New("no swap events in receipt")

// Hop is one decoded pair Swap event
type Hop struct {
	Pair       common.Address
	LogIndex   uint
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

// Settlement is the realized result of a routed swap
type Settlement struct {
	TxHash    common.Hash
	Hops      []Hop
	AmountIn  *big.Int
	AmountOut *big.Int
}

// DecodeSwap decodes a single pair Swap log
func DecodeSwap(l *ethtypes.Log) (*Hop, error) {
	if len(l.Topics) < 3 {
		return nil, fmt.Errorf("invalid swap log: expected 3 topics, got %d", len(l.Topics))
	}
	if l.Topics[0] != SwapEventSignature {
		return nil, fmt.Errorf("not a pair swap event")
	}
	if len(l.Data) < 128 {
		return nil, fmt.Errorf("invalid swap log data length: expected 128 bytes, got %d", len(l.Data))
	}

	return &Hop{
		Pair:       l.Address,
		LogIndex:   l.Index,
		Amount0In:  new(big.Int).SetBytes(l.Data[0:32]),
		Amount1In:  new(big.Int).SetBytes(l.Data[32:64]),
		Amount0Out: new(big.Int).SetBytes(l.Data[64:96]),
		Amount1Out: new(big.Int).SetBytes(l.Data[96:128]),
	}, nil
}

// Settle matches the receipt's Swap events against route, in log order,
// and returns the amount that entered the first pair and left the last.
// Events from pairs outside the route are ignored.
func Settle(receipt *ethtypes.Receipt, route types.Route) (*Settlement, error) {
	if receipt == nil {
		return nil, types.ErrReceiptMissing
	}

	onRoute := make(map[common.Address]bool, len(route.Pairs))
	for _, p := range route.Pairs {
		if common.IsHexAddress(p.ID) {
			onRoute[common.HexToAddress(p.ID)] = true
		}
	}

	var hops []Hop
	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 || l.Topics[0] != SwapEventSignature {
			continue
		}
		if len(onRoute) > 0 && !onRoute[l.Address] {
			continue
		}
		hop, err := DecodeSwap(l)
		if err != nil {
			return nil, err
		}
		hops = append(hops, *hop)
	}
	if len(hops) == 0 {
		return nil, ErrNoSwapEvents
	}

	sort.Slice(hops, func(i, j int) bool {
		return hops[i].LogIndex < hops[j].LogIndex
	})

	first, last := hops[0], hops[len(hops)-1]
	return &Settlement{
		TxHash:    receipt.TxHash,
		Hops:      hops,
		AmountIn:  new(big.Int).Add(first.Amount0In, first.Amount1In),
		AmountOut: new(big.Int).Add(last.Amount0Out, last.Amount1Out),
	}, nil
}
