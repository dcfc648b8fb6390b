package amm

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

func TestOutputFor(t *testing.T) {
	testCases := []struct {
		name       string
		amountIn   *big.Int
		reserveIn  *big.Int
		reserveOut *big.Int
		feeBps     uint16
		expected   *big.Int
		expectErr  error
	}{
		{
			name:       "default fee, 1000 in",
			amountIn:   big.NewInt(1_000),
			reserveIn:  big.NewInt(1_000_000),
			reserveOut: big.NewInt(2_000_000),
			feeBps:     100,
			// effectiveIn = 990; 990*2_000_000/(1_000_000+990)
			expected: big.NewInt(1978),
		},
		{
			name:       "zero fee",
			amountIn:   big.NewInt(1_000),
			reserveIn:  big.NewInt(1_000_000),
			reserveOut: big.NewInt(1_000_000),
			feeBps:     0,
			expected:   big.NewInt(999),
		},
		{
			name:       "zero input",
			amountIn:   big.NewInt(0),
			reserveIn:  big.NewInt(1_000_000),
			reserveOut: big.NewInt(1_000_000),
			feeBps:     100,
			expected:   big.NewInt(0),
		},
		{
			name:       "empty reserve",
			amountIn:   big.NewInt(1_000),
			reserveIn:  big.NewInt(0),
			reserveOut: big.NewInt(1_000_000),
			feeBps:     100,
			expectErr:  types.ErrInsufficientLiquidity,
		},
		{
			name:       "negative input",
			amountIn:   big.NewInt(-1),
			reserveIn:  big.NewInt(1_000_000),
			reserveOut: big.NewInt(1_000_000),
			feeBps:     100,
			expectErr:  types.ErrInvalidAmount,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := OutputFor(tc.amountIn, tc.reserveIn, tc.reserveOut, tc.feeBps)
			if tc.expectErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, tc.expected.Cmp(out), "expected %s, got %s", tc.expected, out)
		})
	}
}

func TestOutputFor_MatchesFormula(t *testing.T) {
	amountIn := big.NewInt(1_000)
	reserveIn := big.NewInt(1_000_000)
	reserveOut := big.NewInt(2_000_000)

	out, err := OutputFor(amountIn, reserveIn, reserveOut, 100)
	require.NoError(t, err)

	effectiveIn := new(big.Int).Div(new(big.Int).Mul(amountIn, big.NewInt(9900)), big.NewInt(10000))
	require.Equal(t, int64(990), effectiveIn.Int64())
	expected := new(big.Int).Div(
		new(big.Int).Mul(effectiveIn, reserveOut),
		new(big.Int).Add(reserveIn, effectiveIn),
	)
	assert.Zero(t, expected.Cmp(out), "expected %s, got %s", expected, out)
}

func TestOutputFor_NeverDrainsReserve(t *testing.T) {
	huge, _ := new(big.Int).SetString("1000000000000000000000000000000", 10)
	out, err := OutputFor(huge, big.NewInt(10), big.NewInt(10), 0)
	require.NoError(t, err)
	assert.Equal(t, -1, out.Cmp(big.NewInt(10)))
}

func TestInputFor_InsufficientLiquidity(t *testing.T) {
	_, err := InputFor(big.NewInt(2_000_000), big.NewInt(1_000_000), big.NewInt(2_000_000), 100)
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)

	_, err = InputFor(big.NewInt(3_000_000), big.NewInt(1_000_000), big.NewInt(2_000_000), 100)
	assert.ErrorIs(t, err, types.ErrInsufficientLiquidity)
}

func TestInputFor_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		reserveIn := big.NewInt(rng.Int63n(1_000_000_000) + 1)
		reserveOut := big.NewInt(rng.Int63n(1_000_000_000) + 1)
		fee := uint16(rng.Intn(BasisPoints))
		x := big.NewInt(rng.Int63n(10_000_000))

		out, err := OutputFor(x, reserveIn, reserveOut, fee)
		require.NoError(t, err)

		in, err := InputFor(out, reserveIn, reserveOut, fee)
		require.NoError(t, err)

		// never more than one unit above the original input
		limit := new(big.Int).Add(x, big.NewInt(1))
		require.True(t, in.Cmp(limit) <= 0,
			"in=%s x=%s rIn=%s rOut=%s fee=%d", in, x, reserveIn, reserveOut, fee)

		// never less than required
		got, err := OutputFor(in, reserveIn, reserveOut, fee)
		require.NoError(t, err)
		require.True(t, got.Cmp(out) >= 0)

		// the unit of headroom is the only slack
		minimal := new(big.Int).Sub(in, big.NewInt(1))
		got, err = OutputFor(minimal, reserveIn, reserveOut, fee)
		require.NoError(t, err)
		require.True(t, got.Cmp(out) >= 0)
		if minimal.Sign() > 0 {
			below := new(big.Int).Sub(minimal, big.NewInt(1))
			got, err = OutputFor(below, reserveIn, reserveOut, fee)
			require.NoError(t, err)
			require.Equal(t, -1, got.Cmp(out))
		}
	}
}

func TestInputFor_NeverUnderRequests(t *testing.T) {
	// every unit of input is worth more than one unit of output, so the only
	// rounding plateau comes from the fee truncation
	reserveIn := big.NewInt(1_000_000)
	reserveOut := big.NewInt(2_000_000)

	for x := int64(1); x < 5_000; x += 37 {
		amountIn := big.NewInt(x)
		out, err := OutputFor(amountIn, reserveIn, reserveOut, DefaultFeeBps)
		require.NoError(t, err)
		in, err := InputFor(out, reserveIn, reserveOut, DefaultFeeBps)
		require.NoError(t, err)
		assert.True(t, in.Cmp(amountIn) >= 0, "x=%d out=%s in=%s", x, out, in)
	}
}

// closedFormInput is ceil(rIn*out*10000 / ((rOut-out)*(10000-fee))) + 1
func closedFormInput(out, reserveIn, reserveOut *big.Int, fee uint16) *big.Int {
	num := new(big.Int).Mul(reserveIn, out)
	num.Mul(num, big.NewInt(BasisPoints))
	den := new(big.Int).Sub(reserveOut, out)
	den.Mul(den, big.NewInt(int64(BasisPoints-int(fee))))
	v := ceilDiv(num, den)
	return v.Add(v, big.NewInt(1))
}

func TestInputFor_WithinOneOfClosedForm(t *testing.T) {
	reserveIn := big.NewInt(1_000_000)
	reserveOut := big.NewInt(2_000_000)

	for _, fee := range []uint16{0, 30, DefaultFeeBps} {
		for o := int64(1); o < 5_000; o++ {
			out := big.NewInt(o)
			in, err := InputFor(out, reserveIn, reserveOut, fee)
			require.NoError(t, err)

			closed := closedFormInput(out, reserveIn, reserveOut, fee)
			diff := new(big.Int).Sub(in, closed)
			require.True(t, diff.Sign() >= 0, "fee=%d out=%d in=%s closed=%s", fee, o, in, closed)
			require.True(t, diff.Cmp(big.NewInt(1)) <= 0, "fee=%d out=%d in=%s closed=%s", fee, o, in, closed)
			if fee == 0 {
				require.Zero(t, diff.Sign())
			}
		}
	}

	in, err := InputFor(big.NewInt(1), reserveIn, reserveOut, DefaultFeeBps)
	require.NoError(t, err)
	assert.Equal(t, int64(3), in.Int64())
	assert.Equal(t, int64(2), closedFormInput(big.NewInt(1), reserveIn, reserveOut, DefaultFeeBps).Int64())
}

func TestInputFor_CoversWhereClosedFormFallsShort(t *testing.T) {
	reserveIn, _ := new(big.Int).SetString("543987429853478294621", 10)
	reserveOut := big.NewInt(646131839695798)
	want := big.NewInt(228516541359456)
	const fee = 300

	closed := closedFormInput(want, reserveIn, reserveOut, fee)
	got, err := OutputFor(closed, reserveIn, reserveOut, fee)
	require.NoError(t, err)
	assert.Equal(t, -1, got.Cmp(want))

	in, err := InputFor(want, reserveIn, reserveOut, fee)
	require.NoError(t, err)
	assert.Equal(t, "306872783627034586669", in.String())
	got, err = OutputFor(in, reserveIn, reserveOut, fee)
	require.NoError(t, err)
	assert.True(t, got.Cmp(want) >= 0)
}

func TestChainedOutputIsMonotonic(t *testing.T) {
	a := types.Token{Address: common.HexToAddress("0xa")}
	b := types.Token{Address: common.HexToAddress("0xb")}
	c := types.Token{Address: common.HexToAddress("0xc")}
	d := types.Token{Address: common.HexToAddress("0xd")}

	pairs := []types.Pair{
		{ID: "ab", Token0: a, Token1: b, Reserve0: big.NewInt(5_000_000), Reserve1: big.NewInt(9_000_000)},
		{ID: "bc", Token0: c, Token1: b, Reserve0: big.NewInt(700_000), Reserve1: big.NewInt(3_000_000)},
		{ID: "cd", Token0: c, Token1: d, Reserve0: big.NewInt(1_200_000), Reserve1: big.NewInt(400_000)},
	}
	path := []types.Token{a, b, c, d}

	for hops := 1; hops <= len(pairs); hops++ {
		prev := big.NewInt(-1)
		for x := int64(0); x < 200_000; x += 997 {
			amount := big.NewInt(x)
			for i := 0; i < hops; i++ {
				var err error
				amount, _, err = Simulate(pairs[i], path[i], amount, DefaultFeeBps)
				require.NoError(t, err)
			}
			require.True(t, amount.Cmp(prev) >= 0, "hops=%d x=%d", hops, x)
			prev = amount
		}
	}
}

func TestSimulate_UpdatesReservesOnCopy(t *testing.T) {
	a := types.Token{Address: common.HexToAddress("0xa")}
	b := types.Token{Address: common.HexToAddress("0xb")}
	pair := types.Pair{ID: "ab", Token0: a, Token1: b, Reserve0: big.NewInt(1_000_000), Reserve1: big.NewInt(2_000_000)}

	out, next, err := Simulate(pair, b, big.NewInt(10_000), DefaultFeeBps)
	require.NoError(t, err)

	assert.Equal(t, int64(1_000_000), pair.Reserve0.Int64())
	assert.Equal(t, int64(2_000_000), pair.Reserve1.Int64())
	assert.Equal(t, int64(2_010_000), next.Reserve1.Int64())
	assert.Equal(t, 1_000_000-out.Int64(), next.Reserve0.Int64())
}

func TestBpsHelpers(t *testing.T) {
	// 0.5% slippage on a 200-unit output
	assert.Equal(t, int64(200-200*50/10000), SubBps(big.NewInt(200), 50).Int64())
	assert.Equal(t, int64(1005), AddBps(big.NewInt(1000), 50).Int64())
	assert.Equal(t, int64(99), ApplyBps(big.NewInt(100), 100).Int64())
	// ceil(100*10000/9900) = 102
	assert.Equal(t, int64(102), GrossUp(big.NewInt(100), 100).Int64())
	assert.Equal(t, int64(100), GrossUp(big.NewInt(100), 0).Int64())
}
