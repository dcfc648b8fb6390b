// Package approval raises ERC-20 allowances before a swap spends them.
package approval

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/internal/contracts"
	"github.com/devlongs/amm-swap-engine/internal/wallet"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Caller executes read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Gate checks and raises allowances for a single spender
type Gate struct {
	caller  Caller
	spender common.Address
}

// NewGate creates a gate. The spender is the proxy when one is configured,
// otherwise the router.
func NewGate(caller Caller, router common.Address, proxy *common.Address) *Gate {
	spender := router
	if proxy != nil {
		spender = *proxy
	}
	return &Gate{caller: caller, spender: spender}
}

// Spender returns the address allowances are granted to
func (g *Gate) Spender() common.Address {
	return g.spender
}

// Allowance reads the current allowance owner granted the spender
func (g *Gate) Allowance(ctx context.Context, owner common.Address, token types.Token) (*big.Int, error) {
	data, err := contracts.ERC20.Pack("allowance", owner, g.spender)
	if err != nil {
		return nil, err
	}
	tokenAddr := token.Address
	res, err := g.caller.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance of %s: %w", token, err)
	}
	out, err := contracts.ERC20.Unpack("allowance", res)
	if err != nil {
		return nil, fmt.Errorf("failed to decode allowance of %s: %w", token, err)
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", out[0])
	}
	return allowance, nil
}

// NeedsApproval reports whether spending amount of token requires a higher
// allowance. The native currency never does.
func (g *Gate) NeedsApproval(ctx context.Context, owner common.Address, token types.Token, amount *big.Int) (bool, error) {
	if token.IsNative() {
		return false, nil
	}
	allowance, err := g.Allowance(ctx, owner, token)
	if err != nil {
		return false, err
	}
	return allowance.Cmp(amount) < 0, nil
}

// ApproveIfNeeded grants the spender an unlimited allowance when the
// current one is below amount. It returns nil when nothing was sent.
func (g *Gate) ApproveIfNeeded(ctx context.Context, signer wallet.Signer, token types.Token, amount *big.Int) (*wallet.PendingTx, error) {
	needed, err := g.NeedsApproval(ctx, signer.Address(), token, amount)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}

	data, err := contracts.ERC20.Pack("approve", g.spender, math.MaxBig256)
	if err != nil {
		return nil, err
	}
	pending, err := signer.SendTransaction(ctx, wallet.TxRequest{To: token.Address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrApprovalFailed, err)
	}

	log.Info().
		Str("token", token.String()).
		Str("spender", g.spender.Hex()).
		Str("txHash", pending.Hash.Hex()).
		Msg("Approval submitted")
	return pending, nil
}
