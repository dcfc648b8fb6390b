// Package amm implements constant-product swap math over raw integer reserves.
package amm

import (
	"fmt"
	"math/big"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// BasisPoints is 100% expressed in basis points.
const BasisPoints = 10000

// DefaultFeeBps is the protocol-wide pool fee (1%).
const DefaultFeeBps = 100

var (
	bpsDivisor = big.NewInt(BasisPoints)
	one        = big.NewInt(1)
)

func feeMultiplier(feeBps uint16) (*big.Int, error) {
	if feeBps >= BasisPoints {
		return nil, fmt.Errorf("fee %d bps out of range [0, %d)", feeBps, BasisPoints)
	}
	return big.NewInt(int64(BasisPoints - int(feeBps))), nil
}

// EffectiveInput returns input*(10000-fee)/10000, truncating.
func EffectiveInput(amountIn *big.Int, feeBps uint16) (*big.Int, error) {
	mul, err := feeMultiplier(feeBps)
	if err != nil {
		return nil, err
	}
	eff := new(big.Int).Mul(amountIn, mul)
	return eff.Quo(eff, bpsDivisor), nil
}

// OutputFor returns the amount received for selling amountIn into a pool
// with the given reserves. The fee is taken from the input before the
// constant-product formula is applied; every division truncates, so the
// result is always strictly less than reserveOut.
func OutputFor(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() < 0 {
		return nil, types.ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", types.ErrInsufficientLiquidity)
	}

	eff, err := EffectiveInput(amountIn, feeBps)
	if err != nil {
		return nil, err
	}

	numerator := new(big.Int).Mul(eff, reserveOut)
	denominator := new(big.Int).Add(reserveIn, eff)
	return numerator.Quo(numerator, denominator), nil
}

// InputFor returns the smallest input that OutputFor maps to at least
// amountOut, plus one unit. The ceiling is taken first on the effective
// input and then on the gross input, mirroring the two truncations of
// OutputFor. The result is never below the single-division ceiling
// ceil(rIn*out*10000 / ((rOut-out)*(10000-fee))) + 1, which can fall short.
func InputFor(amountOut, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() < 0 {
		return nil, types.ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", types.ErrInsufficientLiquidity)
	}
	if amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)",
			types.ErrInsufficientLiquidity, amountOut.String(), reserveOut.String())
	}

	mul, err := feeMultiplier(feeBps)
	if err != nil {
		return nil, err
	}

	// effective = ceil(reserveIn * amountOut / (reserveOut - amountOut))
	effective := ceilDiv(
		new(big.Int).Mul(reserveIn, amountOut),
		new(big.Int).Sub(reserveOut, amountOut),
	)

	// gross = ceil(effective * 10000 / (10000 - fee))
	gross := ceilDiv(new(big.Int).Mul(effective, bpsDivisor), mul)
	return gross.Add(gross, one), nil
}

// Simulate applies a swap of amountIn to a pair and returns the output and
// a copy of the pair with updated reserves. The input pair is not modified.
func Simulate(pair types.Pair, tokenIn types.Token, amountIn *big.Int, feeBps uint16) (*big.Int, types.Pair, error) {
	reserveIn, reserveOut, err := pair.Reserves(tokenIn.Address)
	if err != nil {
		return nil, types.Pair{}, err
	}
	out, err := OutputFor(amountIn, reserveIn, reserveOut, feeBps)
	if err != nil {
		return nil, types.Pair{}, err
	}
	next := pair.WithReserves(tokenIn.Address,
		new(big.Int).Add(reserveIn, amountIn),
		new(big.Int).Sub(reserveOut, out),
	)
	return out, next, nil
}

// SimulateExactOut computes the input required to receive amountOut of the
// pair's counterpart of tokenIn and returns the pair with updated reserves.
func SimulateExactOut(pair types.Pair, tokenIn types.Token, amountOut *big.Int, feeBps uint16) (*big.Int, types.Pair, error) {
	reserveIn, reserveOut, err := pair.Reserves(tokenIn.Address)
	if err != nil {
		return nil, types.Pair{}, err
	}
	in, err := InputFor(amountOut, reserveIn, reserveOut, feeBps)
	if err != nil {
		return nil, types.Pair{}, err
	}
	next := pair.WithReserves(tokenIn.Address,
		new(big.Int).Add(reserveIn, in),
		new(big.Int).Sub(reserveOut, amountOut),
	)
	return in, next, nil
}

// ApplyBps returns amount*(10000-bps)/10000, truncating.
func ApplyBps(amount *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(BasisPoints-bps))
	return out.Quo(out, bpsDivisor)
}

// SubBps returns amount - amount*bps/10000 with the deducted part truncated.
func SubBps(amount *big.Int, bps int64) *big.Int {
	cut := new(big.Int).Mul(amount, big.NewInt(bps))
	cut.Quo(cut, bpsDivisor)
	return cut.Sub(amount, cut)
}

// AddBps returns amount + amount*bps/10000 with the added part truncated.
func AddBps(amount *big.Int, bps int64) *big.Int {
	extra := new(big.Int).Mul(amount, big.NewInt(bps))
	extra.Quo(extra, bpsDivisor)
	return extra.Add(amount, extra)
}

// GrossUp returns ceil(amount*10000/(10000-bps)).
func GrossUp(amount *big.Int, bps int64) *big.Int {
	num := new(big.Int).Mul(amount, bpsDivisor)
	return ceilDiv(num, big.NewInt(BasisPoints-bps))
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, one)
	}
	return q
}
