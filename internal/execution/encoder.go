// Package execution builds and submits router swap transactions, either
// straight to the router or through the fee-collecting proxy.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/internal/contracts"
	"github.com/devlongs/amm-swap-engine/internal/wallet"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Target is where swaps are sent. It is either Direct or Proxied.
type Target interface {
	address() common.Address
}

// Direct sends swaps to the router, paying out to the signer
type Direct struct {
	Router common.Address
}

func (d Direct) address() common.Address { return d.Router }

// FeeSwitch reports whether the proxy currently collects its platform fee
type FeeSwitch interface {
	FeeEnabled(ctx context.Context) (bool, error)
}

// Proxied sends swaps through the proxy. When the fee switch is on the proxy
// receives the output and forwards it minus fees.
type Proxied struct {
	Proxy     common.Address
	PartnerID *[32]byte
	FeeSwitch FeeSwitch
}

func (p Proxied) address() common.Address { return p.Proxy }

// Encoder turns quotes into router calls
type Encoder struct {
	target Target
	now    func() time.Time
}

// NewEncoder creates an encoder for target
func NewEncoder(target Target) *Encoder {
	return &Encoder{target: target, now: time.Now}
}

// Target returns the configured destination
func (e *Encoder) Target() Target {
	return e.target
}

// Encode builds the transaction executing q for owner
func (e *Encoder) Encode(ctx context.Context, owner common.Address, q *types.Quote, settings types.SwapSettings) (wallet.TxRequest, error) {
	if q == nil {
		return wallet.TxRequest{}, types.ErrNoQuote
	}
	if settings.DeadlineMinutes <= 0 {
		return wallet.TxRequest{}, fmt.Errorf("deadline must be positive, got %d minutes", settings.DeadlineMinutes)
	}

	recipient, err := e.recipient(ctx, owner)
	if err != nil {
		return wallet.TxRequest{}, err
	}

	method, args, value, err := shape(q, recipient, e.deadline(settings.DeadlineMinutes))
	if err != nil {
		return wallet.TxRequest{}, err
	}

	var parsed abi.ABI
	switch e.target.(type) {
	case Proxied:
		parsed = contracts.Proxy
	default:
		parsed = contracts.Router
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return wallet.TxRequest{}, fmt.Errorf("pack %s: %w", method, err)
	}
	if p, ok := e.target.(Proxied); ok {
		data = frame(data, p.PartnerID)
	}

	return wallet.TxRequest{To: e.target.address(), Data: data, Value: value}, nil
}

// Execute encodes q and submits it with signer. It does not wait for the
// transaction to be mined.
func (e *Encoder) Execute(ctx context.Context, signer wallet.Signer, q *types.Quote, settings types.SwapSettings) (*wallet.PendingTx, error) {
	if signer == nil {
		return nil, types.ErrWalletNotConnected
	}
	req, err := e.Encode(ctx, signer.Address(), q, settings)
	if err != nil {
		return nil, err
	}
	pending, err := signer.SendTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("route", q.Trade.Route.String()).
		Str("direction", q.Trade.Direction.String()).
		Str("to", req.To.Hex()).
		Str("txHash", pending.Hash.Hex()).
		Msg("Swap submitted")
	return pending, nil
}

func (e *Encoder) recipient(ctx context.Context, owner common.Address) (common.Address, error) {
	p, ok := e.target.(Proxied)
	if !ok || p.FeeSwitch == nil {
		return owner, nil
	}
	enabled, err := p.FeeSwitch.FeeEnabled(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("fee switch: %w", err)
	}
	if enabled {
		return p.Proxy, nil
	}
	return owner, nil
}

func (e *Encoder) deadline(minutes int) *big.Int {
	return big.NewInt(e.now().Unix() + int64(minutes)*60)
}

// shape picks one of the six router entry points from the trade direction
// and which side, if any, is the native currency.
func shape(q *types.Quote, to common.Address, deadline *big.Int) (string, []interface{}, *big.Int, error) {
	path := q.Trade.Route.Addresses()
	if len(path) < 2 {
		return "", nil, nil, errors.New("route has no hops")
	}
	nativeIn, nativeOut := q.TokenIn.IsNative(), q.TokenOut.IsNative()
	zero := new(big.Int)

	if q.Trade.Direction == types.ExactOut {
		amountOut, maxIn := q.Trade.AmountOut, q.Computed.MaxAmountInRaw
		if amountOut == nil || maxIn == nil {
			return "", nil, nil, fmt.Errorf("%w: exact-out quote missing amounts", types.ErrNoQuote)
		}
		switch {
		case nativeIn:
			return "swapETHForExactTokens", []interface{}{amountOut, path, to, deadline}, maxIn, nil
		case nativeOut:
			return "swapTokensForExactETH", []interface{}{amountOut, maxIn, path, to, deadline}, zero, nil
		default:
			return "swapTokensForExactTokens", []interface{}{amountOut, maxIn, path, to, deadline}, zero, nil
		}
	}

	amountIn, minOut := q.Trade.AmountIn, q.Computed.MinAmountOutRaw
	if amountIn == nil || minOut == nil {
		return "", nil, nil, fmt.Errorf("%w: exact-in quote missing amounts", types.ErrNoQuote)
	}
	switch {
	case nativeIn:
		return "swapExactETHForTokens", []interface{}{minOut, path, to, deadline}, amountIn, nil
	case nativeOut:
		return "swapExactTokensForETH", []interface{}{amountIn, minOut, path, to, deadline}, zero, nil
	default:
		return "swapExactTokensForTokens", []interface{}{amountIn, minOut, path, to, deadline}, zero, nil
	}
}

// frame appends the proxy trailer: an empty auxiliary blob list, the permit
// marker and, for partners, the partner id followed by its marker.
func frame(call []byte, partner *[32]byte) []byte {
	out := make([]byte, 0, len(call)+1+16+32+16)
	out = append(out, call...)
	out = append(out, 0)
	out = append(out, contracts.Marker(contracts.PermitTag)...)
	if partner != nil {
		out = append(out, partner[:]...)
		out = append(out, contracts.Marker(contracts.PartnerTag)...)
	}
	return out
}
