// Package router searches the pair graph for the best swap route.
package router

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/internal/amm"
	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// DefaultMaxHops bounds route length when none is configured
const DefaultMaxHops = 3

// Snapshots provides the current pair graph snapshot
type Snapshots interface {
	Current() *graph.Snapshot
}

// Finder enumerates simple paths up to MaxHops and picks the best one
type Finder struct {
	graph   Snapshots
	feeBps  uint16
	maxHops int
}

// NewFinder creates a path finder. maxHops <= 0 uses DefaultMaxHops.
func NewFinder(g Snapshots, feeBps uint16, maxHops int) *Finder {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Finder{graph: g, feeBps: feeBps, maxHops: maxHops}
}

// MaxHops returns the configured hop bound
func (f *Finder) MaxHops() int {
	return f.maxHops
}

// BestExactIn returns the trade that maximizes output for selling amountIn
// of from. It returns nil when no route yields a positive output.
func (f *Finder) BestExactIn(ctx context.Context, from, to types.Token, amountIn *big.Int) (*types.Trade, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, types.ErrInvalidAmount
	}
	paths, err := f.candidates(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var best *types.Trade
	for _, route := range paths {
		out, err := f.forward(route, amountIn)
		if err != nil {
			if errors.Is(err, types.ErrInsufficientLiquidity) {
				continue
			}
			return nil, err
		}
		if out.Sign() <= 0 {
			continue
		}
		if best == nil || out.Cmp(best.AmountOut) > 0 ||
			(out.Cmp(best.AmountOut) == 0 && route.Hops() < best.Route.Hops()) {
			best = &types.Trade{
				Route:     route,
				Direction: types.ExactIn,
				AmountIn:  new(big.Int).Set(amountIn),
				AmountOut: out,
			}
		}
	}

	f.logResult(best, len(paths))
	return best, nil
}

// BestExactOut returns the trade that minimizes the input required to buy
// amountOut of to. Routes that cannot supply amountOut are skipped; when
// every candidate is skipped the liquidity error is returned.
func (f *Finder) BestExactOut(ctx context.Context, from, to types.Token, amountOut *big.Int) (*types.Trade, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, types.ErrInvalidAmount
	}
	paths, err := f.candidates(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var (
		best    *types.Trade
		drained error
	)
	for _, route := range paths {
		in, err := f.backward(route, amountOut)
		if err != nil {
			if errors.Is(err, types.ErrInsufficientLiquidity) {
				drained = err
				continue
			}
			return nil, err
		}
		if best == nil || in.Cmp(best.AmountIn) < 0 ||
			(in.Cmp(best.AmountIn) == 0 && route.Hops() < best.Route.Hops()) {
			best = &types.Trade{
				Route:     route,
				Direction: types.ExactOut,
				AmountIn:  in,
				AmountOut: new(big.Int).Set(amountOut),
			}
		}
	}

	f.logResult(best, len(paths))
	if best == nil && drained != nil {
		return nil, drained
	}
	return best, nil
}

// candidates enumerates every simple path from -> to within the hop bound,
// in deterministic pair-id order.
func (f *Finder) candidates(ctx context.Context, from, to types.Token) ([]types.Route, error) {
	snap := f.graph.Current()
	if snap == nil {
		return nil, types.ErrRoutingUnavailable
	}
	if from.Address == to.Address {
		return nil, nil
	}

	var (
		routes  []types.Route
		pairs   []types.Pair
		path    = []types.Token{from}
		visited = map[common.Address]bool{from.Address: true}
	)

	var walk func(current common.Address) error
	walk = func(current common.Address) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(pairs) == f.maxHops {
			return nil
		}
		for _, p := range snap.Adjacent(current) {
			next, _ := p.Other(current)
			if visited[next.Address] {
				continue
			}

			pairs = append(pairs, p)
			path = append(path, next)

			if next.Address == to.Address {
				routes = append(routes, types.Route{
					Pairs: append([]types.Pair(nil), pairs...),
					Path:  append([]types.Token(nil), path...),
				})
			} else {
				visited[next.Address] = true
				if err := walk(next.Address); err != nil {
					return err
				}
				delete(visited, next.Address)
			}

			pairs = pairs[:len(pairs)-1]
			path = path[:len(path)-1]
		}
		return nil
	}

	if err := walk(from.Address); err != nil {
		return nil, err
	}
	return routes, nil
}

// forward chains OutputFor along the route on a simulated copy of reserves
func (f *Finder) forward(route types.Route, amountIn *big.Int) (*big.Int, error) {
	sim := make(map[string]types.Pair, len(route.Pairs))
	amount := amountIn
	for i, p := range route.Pairs {
		if s, ok := sim[p.ID]; ok {
			p = s
		}
		out, next, err := amm.Simulate(p, route.Path[i], amount, f.feeBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d (%s): %w", i, p.ID, err)
		}
		sim[p.ID] = next
		amount = out
	}
	return amount, nil
}

// backward chains InputFor from the last hop to the first
func (f *Finder) backward(route types.Route, amountOut *big.Int) (*big.Int, error) {
	sim := make(map[string]types.Pair, len(route.Pairs))
	amount := amountOut
	for i := len(route.Pairs) - 1; i >= 0; i-- {
		p := route.Pairs[i]
		if s, ok := sim[p.ID]; ok {
			p = s
		}
		in, next, err := amm.SimulateExactOut(p, route.Path[i], amount, f.feeBps)
		if err != nil {
			return nil, fmt.Errorf("hop %d (%s): %w", i, p.ID, err)
		}
		sim[p.ID] = next
		amount = in
	}
	return amount, nil
}

// Amounts recomputes the raw amounts of a route in the given direction
func (f *Finder) Amounts(route types.Route, direction types.Direction, amount *big.Int) (*big.Int, error) {
	if direction == types.ExactOut {
		return f.backward(route, amount)
	}
	return f.forward(route, amount)
}

func (f *Finder) logResult(best *types.Trade, candidates int) {
	if best == nil {
		log.Debug().Int("candidates", candidates).Msg("No usable route")
		return
	}
	log.Debug().
		Str("route", best.Route.String()).
		Str("direction", best.Direction.String()).
		Str("amountIn", best.AmountIn.String()).
		Str("amountOut", best.AmountOut.String()).
		Int("candidates", candidates).
		Msg("Best route selected")
}
