// Package quote turns a token pair, a human amount and a direction into a
// fully computed trade with partner-fee and slippage bounds applied.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/internal/amm"
	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Request describes a quote. Amount is in human units of the fixed side:
// the sell token for exact-in, the buy token for exact-out.
type Request struct {
	From     types.Token
	To       types.Token
	Amount   decimal.Decimal
	ExactOut bool
	Settings types.SwapSettings
}

// Gate blocks until the pair graph has loaded
type Gate interface {
	Wait(ctx context.Context) (*graph.Snapshot, error)
}

// Routes finds the best trade for either direction
type Routes interface {
	BestExactIn(ctx context.Context, from, to types.Token, amountIn *big.Int) (*types.Trade, error)
	BestExactOut(ctx context.Context, from, to types.Token, amountOut *big.Int) (*types.Trade, error)
}

// PartnerFees returns the partner fee in basis points, waiting for the
// registry to load if needed.
type PartnerFees interface {
	PartnerFeeBps(ctx context.Context) (uint16, error)
}

// Calculator computes quotes from the live graph. It keeps no cache.
type Calculator struct {
	gate    Gate
	routes  Routes
	fees    PartnerFees
	wrapped types.Token
	metrics *Metrics
}

// NewCalculator creates a quote calculator. fees and reg may be nil;
// wrapped replaces the native currency sentinel before routing.
func NewCalculator(gate Gate, routes Routes, fees PartnerFees, wrapped types.Token, reg prometheus.Registerer) *Calculator {
	return &Calculator{
		gate:    gate,
		routes:  routes,
		fees:    fees,
		wrapped: wrapped,
		metrics: NewMetrics(reg),
	}
}

// Quote computes a ready-to-execute trade for req
func (c *Calculator) Quote(ctx context.Context, req Request) (*types.Quote, error) {
	start := time.Now()
	direction := types.ExactIn
	if req.ExactOut {
		direction = types.ExactOut
	}

	q, err := c.quote(ctx, req, direction)
	if err != nil {
		c.metrics.failures.WithLabelValues(direction.String(), reason(err)).Inc()
		return nil, err
	}

	c.metrics.duration.WithLabelValues(direction.String()).Observe(time.Since(start).Seconds())
	log.Debug().
		Str("route", q.Trade.Route.String()).
		Str("direction", direction.String()).
		Str("amountIn", q.Computed.AmountIn).
		Str("amountOut", q.Computed.AmountOut).
		Uint16("partnerFeeBps", q.PartnerFeeBps).
		Msg("Quote computed")
	return q, nil
}

func (c *Calculator) quote(ctx context.Context, req Request, direction types.Direction) (*types.Quote, error) {
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrInvalidAmount)
	}
	slippage := req.Settings.SlippageBps()
	if slippage < 0 || slippage >= amm.BasisPoints {
		return nil, fmt.Errorf("%w: slippage %s%% out of range", types.ErrInvalidAmount, req.Settings.MaxSlippage)
	}

	if _, err := c.gate.Wait(ctx); err != nil {
		return nil, err
	}
	partnerBps, err := c.partnerFee(ctx)
	if err != nil {
		return nil, err
	}

	from, to := c.routable(req.From), c.routable(req.To)
	q := &types.Quote{TokenIn: req.From, TokenOut: req.To, PartnerFeeBps: partnerBps}

	if direction == types.ExactIn {
		amountIn := ToRaw(req.Amount, req.From.Decimals)
		if amountIn.Sign() <= 0 {
			return nil, fmt.Errorf("%w: amount below token precision", types.ErrInvalidAmount)
		}
		trade, err := c.routes.BestExactIn(ctx, from, to, amountIn)
		if err != nil {
			return nil, err
		}
		if trade == nil {
			return nil, noRoute(req)
		}

		received := trade.AmountOut
		if partnerBps > 0 {
			received = amm.ApplyBps(trade.AmountOut, int64(partnerBps))
		}
		minOut := amm.SubBps(received, slippage)

		q.Trade = *trade
		q.Computed = types.ComputedAmounts{
			AmountIn:        FormatRaw(amountIn, req.From.Decimals),
			AmountInRaw:     amountIn,
			AmountOut:       FormatRaw(received, req.To.Decimals),
			AmountOutRaw:    received,
			MinAmountOut:    FormatRaw(minOut, req.To.Decimals),
			MinAmountOutRaw: minOut,
		}
		return q, nil
	}

	target := ToRaw(req.Amount, req.To.Decimals)
	if target.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount below token precision", types.ErrInvalidAmount)
	}
	gross := target
	if partnerBps > 0 {
		gross = amm.GrossUp(target, int64(partnerBps))
	}

	trade, err := c.routes.BestExactOut(ctx, from, to, gross)
	if err != nil {
		return nil, err
	}
	if trade == nil {
		return nil, noRoute(req)
	}
	maxIn := amm.AddBps(trade.AmountIn, slippage)

	q.Trade = *trade
	q.Computed = types.ComputedAmounts{
		AmountIn:       FormatRaw(trade.AmountIn, req.From.Decimals),
		AmountInRaw:    trade.AmountIn,
		AmountOut:      EchoRaw(target, req.To.Decimals),
		AmountOutRaw:   target,
		MaxAmountIn:    FormatRaw(maxIn, req.From.Decimals),
		MaxAmountInRaw: maxIn,
	}
	return q, nil
}

func (c *Calculator) partnerFee(ctx context.Context) (uint16, error) {
	if c.fees == nil {
		return 0, nil
	}
	bps, err := c.fees.PartnerFeeBps(ctx)
	if err != nil {
		return 0, fmt.Errorf("partner fee: %w", err)
	}
	if bps >= amm.BasisPoints {
		return 0, fmt.Errorf("partner fee %d bps out of range", bps)
	}
	return bps, nil
}

// routable maps the native currency onto its wrapped representative
func (c *Calculator) routable(t types.Token) types.Token {
	if t.IsNative() {
		w := c.wrapped
		w.ChainID = t.ChainID
		return w
	}
	return t
}

func noRoute(req Request) error {
	return fmt.Errorf("%w: %s -> %s", types.ErrNoRouteFound, req.From, req.To)
}

func reason(err error) string {
	switch {
	case errors.Is(err, types.ErrRoutingUnavailable):
		return "routing_unavailable"
	case errors.Is(err, types.ErrNoRouteFound):
		return "no_route"
	case errors.Is(err, types.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, types.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "other"
	}
}
