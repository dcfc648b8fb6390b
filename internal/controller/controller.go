// Package controller drives the quote, approve and swap flow as a single
// observable state machine.
package controller

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/internal/quote"
	"github.com/devlongs/amm-swap-engine/internal/wallet"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Input is a partial update of the trade parameters. Nil fields keep their
// previous value.
type Input struct {
	From     *types.Token
	To       *types.Token
	Amount   *decimal.Decimal
	ExactOut *bool
	Settings *types.SwapSettings
}

// Listener receives the full new state and the patch that produced it
type Listener func(state types.State, patch types.StatePatch)

// Quoter computes quotes
type Quoter interface {
	Quote(ctx context.Context, req quote.Request) (*types.Quote, error)
}

// Approver raises allowances when needed
type Approver interface {
	ApproveIfNeeded(ctx context.Context, signer wallet.Signer, token types.Token, amount *big.Int) (*wallet.PendingTx, error)
}

// Executor submits swaps
type Executor interface {
	Execute(ctx context.Context, signer wallet.Signer, q *types.Quote, settings types.SwapSettings) (*wallet.PendingTx, error)
}

// PartnerFees reports the partner fee as a percentage
type PartnerFees interface {
	PartnerFeePercent(ctx context.Context) (decimal.Decimal, error)
}

// Graph is the token registry and refresh notifier
type Graph interface {
	Wait(ctx context.Context) (*graph.Snapshot, error)
	OnRefresh(fn func(*graph.Snapshot))
}

// Deps are the components the controller orchestrates. Fees may be nil.
type Deps struct {
	Quoter   Quoter
	Approver Approver
	Executor Executor
	Fees     PartnerFees
	Graph    Graph
}

// Options tune controller behaviour
type Options struct {
	// Settings are the initial swap settings; zero value means defaults
	Settings types.SwapSettings
	// RequoteOnRefresh recalculates the current quote after every graph refresh
	RequoteOnRefresh bool
}

type trade struct {
	from     *types.Token
	to       *types.Token
	amount   decimal.Decimal
	exactOut bool
	settings types.SwapSettings
}

type subscription struct {
	id int
	fn Listener
}

// Controller owns the swap state. State is replaced wholesale on every
// mutation and listeners run synchronously after the lock is released.
type Controller struct {
	deps Deps

	mu        sync.Mutex
	state     types.State
	input     trade
	signer    wallet.Signer
	listeners []subscription
	nextID    int
}

// New creates a controller
func New(deps Deps, opts Options) *Controller {
	settings := opts.Settings
	if settings.DeadlineMinutes == 0 {
		settings = types.DefaultSwapSettings()
	}
	c := &Controller{
		deps:  deps,
		input: trade{settings: settings},
	}
	if opts.RequoteOnRefresh && deps.Graph != nil {
		deps.Graph.OnRefresh(func(*graph.Snapshot) {
			go c.requote(context.Background())
		})
	}
	return c
}

// Subscribe registers l for every state change and returns a function
// that removes it.
func (c *Controller) Subscribe(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, subscription{id: id, fn: l})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.listeners {
			if s.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// GetState returns the current state
func (c *Controller) GetState() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectWallet installs the signer used by ApproveIfNeeded and Swap
func (c *Controller) ConnectWallet(signer wallet.Signer) common.Address {
	c.mu.Lock()
	c.signer = signer
	c.mu.Unlock()

	log.Info().Str("address", signer.Address().Hex()).Msg("Wallet connected")
	return signer.Address()
}

// DisconnectWallet removes the signer
func (c *Controller) DisconnectWallet() {
	c.mu.Lock()
	c.signer = nil
	c.mu.Unlock()
	log.Info().Msg("Wallet disconnected")
}

// GetPartnerFee returns the partner fee as a percentage
func (c *Controller) GetPartnerFee(ctx context.Context) (decimal.Decimal, error) {
	if c.deps.Fees == nil {
		return decimal.Zero, nil
	}
	return c.deps.Fees.PartnerFeePercent(ctx)
}

// GetTokensFromGraph lists tokens known to the pair graph, waiting for the
// first refresh. limit <= 0 uses graph.DefaultTokenLimit.
func (c *Controller) GetTokensFromGraph(ctx context.Context, limit int, search string) ([]types.Token, error) {
	snap, err := c.deps.Graph.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Tokens(limit, search), nil
}

// SetData merges in and recalculates the quote once both tokens and a
// positive amount are known. Quote failures are recorded on state.
func (c *Controller) SetData(ctx context.Context, in Input) types.State {
	c.mu.Lock()
	if in.From != nil {
		t := *in.From
		c.input.from = &t
	}
	if in.To != nil {
		t := *in.To
		c.input.to = &t
	}
	if in.Amount != nil {
		c.input.amount = *in.Amount
	}
	if in.ExactOut != nil {
		c.input.exactOut = *in.ExactOut
	}
	if in.Settings != nil {
		c.input.settings = *in.Settings
	}
	c.mu.Unlock()

	c.requote(ctx)
	return c.GetState()
}

func (c *Controller) requote(ctx context.Context) {
	c.mu.Lock()
	input := c.input
	stale := c.state.Quote != nil
	c.mu.Unlock()

	if input.from == nil || input.to == nil || input.amount.Sign() <= 0 {
		// the cached quote no longer matches the input
		if stale {
			c.setChange(types.StatePatch{ClearQuote: true})
		}
		return
	}

	c.setChange(types.StatePatch{
		Loader: types.Ptr(types.LoaderCalculatingQuote),
		Error:  types.Ptr(""),
	})

	q, err := c.deps.Quoter.Quote(ctx, quote.Request{
		From:     *input.from,
		To:       *input.to,
		Amount:   input.amount,
		ExactOut: input.exactOut,
		Settings: input.settings,
	})
	if err != nil {
		err = types.Classify(err)
		log.Warn().Err(err).Str("from", input.from.String()).Str("to", input.to.String()).Msg("Failed to calculate quote")
		c.setChange(types.StatePatch{
			Loader:     types.Ptr(types.LoaderNone),
			Error:      types.Ptr(err.Error()),
			ClearQuote: true,
		})
		return
	}

	c.setChange(types.StatePatch{
		Loader: types.Ptr(types.LoaderNone),
		Quote:  q,
	})
}

// ApproveIfNeeded grants the spender an allowance for the current quote and
// waits for it to be mined. It returns the zero hash when no approval was
// necessary.
func (c *Controller) ApproveIfNeeded(ctx context.Context) (common.Hash, error) {
	signer, q, _, err := c.prepare()
	if err != nil {
		return common.Hash{}, c.fail(err)
	}

	hash, err := c.approve(ctx, signer, q)
	if err != nil {
		return common.Hash{}, c.fail(err)
	}
	c.setChange(types.StatePatch{Loader: types.Ptr(types.LoaderNone)})
	return hash, nil
}

// Swap approves if needed, submits the current quote and waits for the
// swap to be mined successfully.
func (c *Controller) Swap(ctx context.Context) (common.Hash, error) {
	signer, q, settings, err := c.prepare()
	if err != nil {
		return common.Hash{}, c.fail(err)
	}

	c.setChange(types.StatePatch{
		Error:         types.Ptr(""),
		ApproveTxHash: types.Ptr(common.Hash{}),
		SwapTxHash:    types.Ptr(common.Hash{}),
	})

	if _, err := c.approve(ctx, signer, q); err != nil {
		return common.Hash{}, c.fail(err)
	}

	c.setChange(types.StatePatch{Loader: types.Ptr(types.LoaderSwapping)})

	pending, err := c.deps.Executor.Execute(ctx, signer, q, settings)
	if err != nil {
		return common.Hash{}, c.fail(err)
	}
	c.setChange(types.StatePatch{SwapTxHash: types.Ptr(pending.Hash)})

	receipt, err := pending.Wait(ctx)
	if err := checkReceipt(receipt, err); err != nil {
		return common.Hash{}, c.fail(err)
	}

	c.setChange(types.StatePatch{Loader: types.Ptr(types.LoaderNone)})
	log.Info().
		Str("txHash", receipt.TxHash.Hex()).
		Uint64("block", receipt.BlockNumber.Uint64()).
		Msg("Swap confirmed")
	return receipt.TxHash, nil
}

// approve enters the approving phase whether or not a transaction is needed
func (c *Controller) approve(ctx context.Context, signer wallet.Signer, q *types.Quote) (common.Hash, error) {
	c.setChange(types.StatePatch{Loader: types.Ptr(types.LoaderApproving)})

	pending, err := c.deps.Approver.ApproveIfNeeded(ctx, signer, q.TokenIn, q.SpendRaw())
	if err != nil {
		return common.Hash{}, err
	}
	if pending == nil {
		return common.Hash{}, nil
	}
	c.setChange(types.StatePatch{ApproveTxHash: types.Ptr(pending.Hash)})

	receipt, err := pending.Wait(ctx)
	if err := checkReceipt(receipt, err); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", types.ErrApprovalFailed, err)
	}
	return receipt.TxHash, nil
}

func (c *Controller) prepare() (wallet.Signer, *types.Quote, types.SwapSettings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.signer == nil {
		return nil, nil, types.SwapSettings{}, types.ErrWalletNotConnected
	}
	if c.state.Quote == nil {
		return nil, nil, types.SwapSettings{}, types.ErrNoQuote
	}
	return c.signer, c.state.Quote, c.input.settings, nil
}

// fail records err on state and returns it classified
func (c *Controller) fail(err error) error {
	err = types.Classify(err)
	log.Error().Err(err).Msg("Swap flow failed")
	c.setChange(types.StatePatch{
		Loader: types.Ptr(types.LoaderNone),
		Error:  types.Ptr(err.Error()),
	})
	return err
}

func (c *Controller) setChange(patch types.StatePatch) {
	c.mu.Lock()
	c.state = c.state.Apply(patch)
	state := c.state
	listeners := make([]Listener, len(c.listeners))
	for i, s := range c.listeners {
		listeners[i] = s.fn
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(state, patch)
	}
}

func checkReceipt(receipt *ethtypes.Receipt, err error) error {
	if err != nil {
		return err
	}
	if receipt == nil {
		return types.ErrReceiptMissing
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", types.ErrTransactionRejected, receipt.TxHash.Hex())
	}
	return nil
}
