package execution

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/amm-swap-engine/internal/contracts"
	"github.com/devlongs/amm-swap-engine/internal/wallet"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

var (
	routerAddr = common.HexToAddress("0x7a250d5630b4cf539739df2c5dacb4c659f2488d")
	proxyAddr  = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000a1")

	eth  = types.Token{ChainID: 1, Symbol: "ETH", Decimals: 18}
	weth = types.Token{ChainID: 1, Address: common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), Symbol: "WETH", Decimals: 18}
	usdc = types.Token{ChainID: 1, Address: common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), Symbol: "USDC", Decimals: 6}
	dai  = types.Token{ChainID: 1, Address: common.HexToAddress("0x6b175474e89094c44da98b954eedeac495271d0f"), Symbol: "DAI", Decimals: 18}

	fixedNow = time.Unix(1_700_000_000, 0)
)

func quoteFor(in, out types.Token, direction types.Direction) *types.Quote {
	routeIn, routeOut := in, out
	if in.IsNative() {
		routeIn = weth
	}
	if out.IsNative() {
		routeOut = weth
	}
	q := &types.Quote{
		TokenIn:  in,
		TokenOut: out,
		Trade: types.Trade{
			Route:     types.Route{Pairs: []types.Pair{{ID: "p"}}, Path: []types.Token{routeIn, routeOut}},
			Direction: direction,
			AmountIn:  big.NewInt(1000),
			AmountOut: big.NewInt(2000),
		},
	}
	if direction == types.ExactOut {
		q.Computed.MaxAmountInRaw = big.NewInt(1005)
	} else {
		q.Computed.MinAmountOutRaw = big.NewInt(1990)
	}
	return q
}

func newTestEncoder(target Target) *Encoder {
	e := NewEncoder(target)
	e.now = func() time.Time { return fixedNow }
	return e
}

func decode(t *testing.T, data []byte) (string, []interface{}) {
	t.Helper()
	m, err := contracts.Router.MethodById(data[:4])
	require.NoError(t, err)
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return m.Name, args
}

func TestEncoder_Shapes(t *testing.T) {
	settings := types.SwapSettings{DeadlineMinutes: 20}
	deadline := big.NewInt(fixedNow.Unix() + 20*60)

	tests := []struct {
		name      string
		in, out   types.Token
		direction types.Direction
		method    string
		args      []interface{}
		value     int64
	}{
		{
			name: "exact in native to token", in: eth, out: usdc, direction: types.ExactIn,
			method: "swapExactETHForTokens",
			args:   []interface{}{big.NewInt(1990), []common.Address{weth.Address, usdc.Address}, owner, deadline},
			value:  1000,
		},
		{
			name: "exact in token to native", in: usdc, out: eth, direction: types.ExactIn,
			method: "swapExactTokensForETH",
			args:   []interface{}{big.NewInt(1000), big.NewInt(1990), []common.Address{usdc.Address, weth.Address}, owner, deadline},
		},
		{
			name: "exact in token to token", in: usdc, out: dai, direction: types.ExactIn,
			method: "swapExactTokensForTokens",
			args:   []interface{}{big.NewInt(1000), big.NewInt(1990), []common.Address{usdc.Address, dai.Address}, owner, deadline},
		},
		{
			name: "exact out native to token", in: eth, out: usdc, direction: types.ExactOut,
			method: "swapETHForExactTokens",
			args:   []interface{}{big.NewInt(2000), []common.Address{weth.Address, usdc.Address}, owner, deadline},
			value:  1005,
		},
		{
			name: "exact out token to native", in: usdc, out: eth, direction: types.ExactOut,
			method: "swapTokensForExactETH",
			args:   []interface{}{big.NewInt(2000), big.NewInt(1005), []common.Address{usdc.Address, weth.Address}, owner, deadline},
		},
		{
			name: "exact out token to token", in: usdc, out: dai, direction: types.ExactOut,
			method: "swapTokensForExactTokens",
			args:   []interface{}{big.NewInt(2000), big.NewInt(1005), []common.Address{usdc.Address, dai.Address}, owner, deadline},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEncoder(Direct{Router: routerAddr})
			req, err := e.Encode(context.Background(), owner, quoteFor(tt.in, tt.out, tt.direction), settings)
			require.NoError(t, err)

			assert.Equal(t, routerAddr, req.To)
			assert.Equal(t, tt.value, req.Value.Int64())

			method, args := decode(t, req.Data)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.args, args)
		})
	}
}

type feeSwitch bool

func (f feeSwitch) FeeEnabled(context.Context) (bool, error) { return bool(f), nil }

type brokenSwitch struct{}

func (brokenSwitch) FeeEnabled(context.Context) (bool, error) { return false, assert.AnError }

func TestEncoder_ProxyFraming(t *testing.T) {
	settings := types.SwapSettings{DeadlineMinutes: 5}
	q := quoteFor(usdc, dai, types.ExactIn)
	permit := contracts.Marker(contracts.PermitTag)

	t.Run("without partner", func(t *testing.T) {
		e := newTestEncoder(Proxied{Proxy: proxyAddr, FeeSwitch: feeSwitch(false)})
		req, err := e.Encode(context.Background(), owner, q, settings)
		require.NoError(t, err)
		assert.Equal(t, proxyAddr, req.To)

		n := len(req.Data)
		require.Greater(t, n, 17)
		assert.Equal(t, permit, req.Data[n-16:])
		assert.Equal(t, byte(0), req.Data[n-17])

		_, args := decode(t, req.Data[:n-17])
		assert.Equal(t, owner, args[3])
	})

	t.Run("with partner", func(t *testing.T) {
		var partner [32]byte
		partner[0], partner[31] = 0xab, 0xcd
		e := newTestEncoder(Proxied{Proxy: proxyAddr, PartnerID: &partner, FeeSwitch: feeSwitch(false)})
		req, err := e.Encode(context.Background(), owner, q, settings)
		require.NoError(t, err)

		n := len(req.Data)
		assert.Equal(t, contracts.Marker(contracts.PartnerTag), req.Data[n-16:])
		assert.Equal(t, partner[:], req.Data[n-48:n-16])
		assert.Equal(t, permit, req.Data[n-64:n-48])
		assert.Equal(t, byte(0), req.Data[n-65])

		method, _ := decode(t, req.Data[:n-65])
		assert.Equal(t, "swapExactTokensForTokens", method)
	})

	t.Run("fee switch on pays the proxy", func(t *testing.T) {
		e := newTestEncoder(Proxied{Proxy: proxyAddr, FeeSwitch: feeSwitch(true)})
		req, err := e.Encode(context.Background(), owner, q, settings)
		require.NoError(t, err)

		_, args := decode(t, req.Data[:len(req.Data)-17])
		assert.Equal(t, proxyAddr, args[3])
	})

	t.Run("fee switch failure", func(t *testing.T) {
		e := newTestEncoder(Proxied{Proxy: proxyAddr, FeeSwitch: brokenSwitch{}})
		_, err := e.Encode(context.Background(), owner, q, settings)
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestEncoder_Deadline(t *testing.T) {
	e := newTestEncoder(Direct{Router: routerAddr})
	req, err := e.Encode(context.Background(), owner, quoteFor(usdc, dai, types.ExactIn), types.SwapSettings{DeadlineMinutes: 30})
	require.NoError(t, err)

	_, args := decode(t, req.Data)
	assert.Equal(t, big.NewInt(fixedNow.Unix()+1800), args[4])
}

func TestEncoder_Errors(t *testing.T) {
	e := newTestEncoder(Direct{Router: routerAddr})
	ctx := context.Background()
	settings := types.DefaultSwapSettings()

	_, err := e.Encode(ctx, owner, nil, settings)
	assert.ErrorIs(t, err, types.ErrNoQuote)

	_, err = e.Encode(ctx, owner, quoteFor(usdc, dai, types.ExactIn), types.SwapSettings{})
	assert.Error(t, err)

	_, err = e.Execute(ctx, nil, quoteFor(usdc, dai, types.ExactIn), settings)
	assert.ErrorIs(t, err, types.ErrWalletNotConnected)
}

type recordingSigner struct {
	reqs []wallet.TxRequest
}

func (r *recordingSigner) Address() common.Address { return owner }

func (r *recordingSigner) SendTransaction(_ context.Context, req wallet.TxRequest) (*wallet.PendingTx, error) {
	r.reqs = append(r.reqs, req)
	return wallet.NewPendingTx(common.HexToHash("0x01"), nil), nil
}

func TestEncoder_Execute(t *testing.T) {
	e := newTestEncoder(Direct{Router: routerAddr})
	signer := &recordingSigner{}

	pending, err := e.Execute(context.Background(), signer, quoteFor(eth, usdc, types.ExactIn), types.DefaultSwapSettings())
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x01"), pending.Hash)

	require.Len(t, signer.reqs, 1)
	assert.Equal(t, routerAddr, signer.reqs[0].To)
	assert.Equal(t, int64(1000), signer.reqs[0].Value.Int64())
}
