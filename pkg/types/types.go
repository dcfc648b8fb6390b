package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NativeAddress is the sentinel address standing for the chain's native currency
var NativeAddress = common.Address{}

// Token represents an ERC20 token or the native currency
type Token struct {
	ChainID  uint64
	Address  common.Address
	Symbol   string
	Name     string
	Decimals uint8
}

// IsNative reports whether the token is the native-currency sentinel
func (t Token) IsNative() bool {
	return t.Address == NativeAddress
}

// Equal compares tokens by chain and address
func (t Token) Equal(o Token) bool {
	return t.ChainID == o.ChainID && t.Address == o.Address
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// Pair represents a constant-product liquidity pair. Reserves are raw
// integers in each token's smallest unit and are never mutated in place.
type Pair struct {
	ID       string
	Token0   Token
	Token1   Token
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Has reports whether the pair holds the given token
func (p Pair) Has(token common.Address) bool {
	return p.Token0.Address == token || p.Token1.Address == token
}

// Other returns the counterpart of token in the pair
func (p Pair) Other(token common.Address) (Token, bool) {
	switch token {
	case p.Token0.Address:
		return p.Token1, true
	case p.Token1.Address:
		return p.Token0, true
	}
	return Token{}, false
}

// Reserves returns (reserveIn, reserveOut) for a swap selling tokenIn
func (p Pair) Reserves(tokenIn common.Address) (*big.Int, *big.Int, error) {
	switch tokenIn {
	case p.Token0.Address:
		return p.Reserve0, p.Reserve1, nil
	case p.Token1.Address:
		return p.Reserve1, p.Reserve0, nil
	}
	return nil, nil, fmt.Errorf("pair %s does not contain token %s", p.ID, tokenIn.Hex())
}

// WithReserves returns a copy of the pair whose reserves are set from the
// perspective of tokenIn.
func (p Pair) WithReserves(tokenIn common.Address, reserveIn, reserveOut *big.Int) Pair {
	next := p
	if tokenIn == p.Token0.Address {
		next.Reserve0, next.Reserve1 = reserveIn, reserveOut
	} else {
		next.Reserve0, next.Reserve1 = reserveOut, reserveIn
	}
	return next
}

// Routable reports whether both reserves are present and positive
func (p Pair) Routable() bool {
	return p.Reserve0 != nil && p.Reserve1 != nil && p.Reserve0.Sign() > 0 && p.Reserve1.Sign() > 0
}

// PairKey returns the unordered identity of a token pair
func PairKey(a, b common.Address) [2]common.Address {
	if strings.Compare(a.Hex(), b.Hex()) > 0 {
		a, b = b, a
	}
	return [2]common.Address{a, b}
}

// Direction indicates which side of the trade the user fixed
type Direction uint8

const (
	ExactIn Direction = iota
	ExactOut
)

func (d Direction) String() string {
	if d == ExactOut {
		return "exact_out"
	}
	return "exact_in"
}

// Route is a sequence of pairs from Path[0] to Path[len(Path)-1]
type Route struct {
	Pairs []Pair
	Path  []Token
}

// Hops returns the number of pairs traversed
func (r Route) Hops() int {
	return len(r.Pairs)
}

// Input returns the first token of the route
func (r Route) Input() Token {
	return r.Path[0]
}

// Output returns the last token of the route
func (r Route) Output() Token {
	return r.Path[len(r.Path)-1]
}

// Addresses returns the token path as the router expects it
func (r Route) Addresses() []common.Address {
	out := make([]common.Address, len(r.Path))
	for i, t := range r.Path {
		out[i] = t.Address
	}
	return out
}

func (r Route) String() string {
	parts := make([]string, len(r.Path))
	for i, t := range r.Path {
		parts[i] = t.String()
	}
	return strings.Join(parts, " -> ")
}

// Trade is a route together with the raw amounts flowing through it
type Trade struct {
	Route     Route
	Direction Direction
	AmountIn  *big.Int
	AmountOut *big.Int
}

// ComputedAmounts holds the display and raw amounts of a quote. Exactly one
// of MinAmountOut (exact-in) or MaxAmountIn (exact-out) is populated.
type ComputedAmounts struct {
	AmountIn     string
	AmountOut    string
	AmountInRaw  *big.Int
	AmountOutRaw *big.Int

	MaxAmountIn     string
	MaxAmountInRaw  *big.Int
	MinAmountOut    string
	MinAmountOutRaw *big.Int
}

// Quote is a fully computed, ready-to-execute trade. TokenIn and TokenOut
// are the tokens the user asked for; the route may use the wrapped
// representative of the native currency instead.
type Quote struct {
	TokenIn       Token
	TokenOut      Token
	Trade         Trade
	Computed      ComputedAmounts
	PartnerFeeBps uint16
}

// Bound returns the slippage-bounded raw amount enforced on chain: the
// minimum output for exact-in trades, the maximum input for exact-out.
func (q *Quote) Bound() *big.Int {
	if q.Trade.Direction == ExactOut {
		return q.Computed.MaxAmountInRaw
	}
	return q.Computed.MinAmountOutRaw
}

// SpendRaw returns the largest raw input the trade may spend
func (q *Quote) SpendRaw() *big.Int {
	if q.Trade.Direction == ExactOut {
		return q.Computed.MaxAmountInRaw
	}
	return q.Trade.AmountIn
}

// SwapSettings holds the user's slippage tolerance and deadline
type SwapSettings struct {
	MaxSlippage     decimal.Decimal // percent, 0.5 means 0.5%
	DeadlineMinutes int
}

// DefaultSwapSettings returns 0.5% slippage and a 20 minute deadline
func DefaultSwapSettings() SwapSettings {
	return SwapSettings{
		MaxSlippage:     decimal.NewFromFloat(0.5),
		DeadlineMinutes: 20,
	}
}

// SlippageBps converts the slippage percentage to basis points, truncating
func (s SwapSettings) SlippageBps() int64 {
	return s.MaxSlippage.Mul(decimal.NewFromInt(100)).IntPart()
}
