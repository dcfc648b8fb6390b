package fees

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlongs/amm-swap-engine/internal/contracts"
	"github.com/devlongs/amm-swap-engine/internal/ethtest"
)

var (
	proxyAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	feeTo     = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	partnerID = [32]byte{31: 7}
)

func deployProxy(node *ethtest.Node, enabled bool, bps uint16, failures *atomic.Int32) {
	node.Deploy(proxyAddr, ethtest.ABIContract(contracts.Proxy, map[string]ethtest.Method{
		"feeEnabled": func(common.Address, []interface{}) ([]interface{}, error) {
			if failures != nil && failures.Load() > 0 {
				failures.Add(-1)
				return nil, errors.New("execution reverted")
			}
			return []interface{}{enabled}, nil
		},
		"partnerFee": func(_ common.Address, args []interface{}) ([]interface{}, error) {
			if args[0].([32]byte) != partnerID {
				return []interface{}{common.Address{}, uint16(0)}, nil
			}
			return []interface{}{feeTo, bps}, nil
		},
	}))
}

func TestRegistry_Load(t *testing.T) {
	node := ethtest.NewNode(1)
	deployProxy(node, true, 250, nil)
	client := node.Client(t)

	proxy := proxyAddr
	partner := partnerID
	reg := NewRegistry(client, &proxy, &partner)
	require.NoError(t, reg.Load(context.Background()))

	ctx := context.Background()
	bps, err := reg.PartnerFeeBps(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(250), bps)

	pct, err := reg.PartnerFeePercent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.5", pct.String())

	enabled, err := reg.FeeEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, enabled)

	recipient, err := reg.PartnerFeeRecipient(ctx)
	require.NoError(t, err)
	assert.Equal(t, feeTo, recipient)
}

func TestRegistry_NoPartner(t *testing.T) {
	node := ethtest.NewNode(1)
	deployProxy(node, false, 250, nil)

	proxy := proxyAddr
	reg := NewRegistry(node.Client(t), &proxy, nil)
	require.NoError(t, reg.Load(context.Background()))

	bps, err := reg.PartnerFeeBps(context.Background())
	require.NoError(t, err)
	assert.Zero(t, bps)

	enabled, err := reg.FeeEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestRegistry_NoProxy(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)
	require.NoError(t, reg.Load(context.Background()))

	bps, err := reg.PartnerFeeBps(context.Background())
	require.NoError(t, err)
	assert.Zero(t, bps)
}

func TestRegistry_GateBlocksUntilLoaded(t *testing.T) {
	reg := NewRegistry(nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := reg.PartnerFeeBps(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-reg.Ready():
		t.Fatal("gate open before load")
	default:
	}
}

func TestRegistry_RunRetries(t *testing.T) {
	node := ethtest.NewNode(1)
	var failures atomic.Int32
	failures.Store(2)
	deployProxy(node, true, 30, &failures)

	proxy := proxyAddr
	partner := partnerID
	reg := NewRegistry(node.Client(t), &proxy, &partner)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, reg.Run(ctx, time.Millisecond))

	bps, err := reg.PartnerFeeBps(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(30), bps)
	assert.Zero(t, failures.Load())
}

func TestRegistry_RejectsOutOfRangeFee(t *testing.T) {
	node := ethtest.NewNode(1)
	deployProxy(node, true, 10000, nil)

	proxy := proxyAddr
	partner := partnerID
	reg := NewRegistry(node.Client(t), &proxy, &partner)
	assert.Error(t, reg.Load(context.Background()))
}
