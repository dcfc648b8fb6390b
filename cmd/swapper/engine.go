package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/internal/api"
	"github.com/devlongs/amm-swap-engine/internal/approval"
	"github.com/devlongs/amm-swap-engine/internal/config"
	"github.com/devlongs/amm-swap-engine/internal/controller"
	"github.com/devlongs/amm-swap-engine/internal/decoder"
	"github.com/devlongs/amm-swap-engine/internal/dex/uniswapv2"
	"github.com/devlongs/amm-swap-engine/internal/eth"
	"github.com/devlongs/amm-swap-engine/internal/execution"
	"github.com/devlongs/amm-swap-engine/internal/fees"
	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/internal/output"
	"github.com/devlongs/amm-swap-engine/internal/quote"
	"github.com/devlongs/amm-swap-engine/internal/router"
	"github.com/devlongs/amm-swap-engine/internal/wallet"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// statsInterval is how often engine statistics are logged while serving
const statsInterval = 30 * time.Second

// Engine wires every component of the swap engine together
type Engine struct {
	cfg      *config.Config
	client   *eth.Client
	registry *prometheus.Registry
	logger   *output.Logger

	graph      *graph.Graph
	fees       *fees.Registry
	calculator *quote.Calculator
	controller *controller.Controller

	native  types.Token
	wrapped types.Token

	wg sync.WaitGroup
}

// NewEngine builds the engine from cfg without starting background work
func NewEngine(cfg *config.Config) (*Engine, error) {
	lgr := output.NewLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := eth.NewClient(cfg.RPC)
	if err != nil {
		return nil, err
	}
	if id := client.ChainID(); id != nil && id.Uint64() != cfg.Network.ChainID {
		log.Warn().
			Uint64("configured", cfg.Network.ChainID).
			Uint64("node", id.Uint64()).
			Msg("Chain ID mismatch between config and node")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var source graph.Source
	switch cfg.Network.Source {
	case config.SourceFactory:
		source = uniswapv2.NewFactorySource(client, common.HexToAddress(cfg.Network.Factory), cfg.Network.PairsLimit)
	default:
		source = graph.NewSubgraph(cfg.Network.GraphEndpoint, cfg.Network.PairsLimit, cfg.RPC.RequestTimeout)
	}

	g := graph.New(source, graph.Config{
		ChainID:    cfg.Network.ChainID,
		RetryDelay: cfg.Engine.RefreshRetryDelay,
		Interval:   cfg.Engine.RefreshInterval,
	}, reg)

	routerAddr := common.HexToAddress(cfg.Network.Router)
	var proxy *common.Address
	if cfg.Network.Proxy != "" {
		addr := common.HexToAddress(cfg.Network.Proxy)
		proxy = &addr
	}
	var partner *[32]byte
	if cfg.Partner.ID != "" {
		key, err := config.PartnerKey(cfg.Partner.ID)
		if err != nil {
			client.Close()
			return nil, err
		}
		partner = &key
	}

	feeRegistry := fees.NewRegistry(client, proxy, partner)

	wrapped := types.Token{
		ChainID:  cfg.Network.ChainID,
		Address:  common.HexToAddress(cfg.Network.WrappedToken.Address),
		Symbol:   cfg.Network.WrappedToken.Symbol,
		Name:     cfg.Network.WrappedToken.Name,
		Decimals: cfg.Network.WrappedToken.Decimals,
	}
	native := types.Token{
		ChainID:  cfg.Network.ChainID,
		Address:  types.NativeAddress,
		Symbol:   cfg.Network.NativeSymbol,
		Name:     cfg.Network.NativeName,
		Decimals: wrapped.Decimals,
	}

	finder := router.NewFinder(g, cfg.Engine.PoolFeeBps, cfg.Engine.MaxHops)
	calc := quote.NewCalculator(g, finder, feeRegistry, wrapped, reg)

	var target execution.Target = execution.Direct{Router: routerAddr}
	if proxy != nil {
		target = execution.Proxied{Proxy: *proxy, PartnerID: partner, FeeSwitch: feeRegistry}
	}

	ctrl := controller.New(controller.Deps{
		Quoter:   calc,
		Approver: approval.NewGate(client, routerAddr, proxy),
		Executor: execution.NewEncoder(target),
		Fees:     feeRegistry,
		Graph:    g,
	}, controller.Options{
		Settings: types.SwapSettings{
			MaxSlippage:     cfg.Swap.MaxSlippage,
			DeadlineMinutes: cfg.Swap.DeadlineMinutes,
		},
		RequoteOnRefresh: cfg.Engine.RequoteOnRefresh,
	})
	ctrl.Subscribe(lgr.LogStateChange)
	g.OnRefresh(lgr.LogRefresh)

	return &Engine{
		cfg:        cfg,
		client:     client,
		registry:   reg,
		logger:     lgr,
		graph:      g,
		fees:       feeRegistry,
		calculator: calc,
		controller: ctrl,
		native:     native,
		wrapped:    wrapped,
	}, nil
}

// Start launches the pair refresh loop and the fee registry loader
func (e *Engine) Start(ctx context.Context) {
	log.Info().
		Str("source", e.cfg.Network.Source).
		Str("router", e.cfg.Network.Router).
		Str("proxy", e.cfg.Network.Proxy).
		Uint64("chainId", e.cfg.Network.ChainID).
		Msg("Starting swap engine...")

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		if err := e.graph.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.LogError(err, "pair graph refresh")
		}
	}()
	go func() {
		defer e.wg.Done()
		if err := e.fees.Run(ctx, e.cfg.Engine.RefreshRetryDelay); err != nil && ctx.Err() == nil {
			e.logger.LogError(err, "fee registry")
		}
	}()
}

// ReportStats logs engine statistics periodically until ctx ends
func (e *Engine) ReportStats(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.LogStats()
			return
		case <-ticker.C:
			e.logger.LogStats()
		}
	}
}

// API builds the HTTP server
func (e *Engine) API() *api.Server {
	return api.NewServer(e.cfg.API.Addr, api.Deps{
		Quoter:   e.calculator,
		Graph:    e.graph,
		Fees:     e.fees,
		Gatherer: e.registry,
		Native:   e.native,
		Settings: types.SwapSettings{
			MaxSlippage:     e.cfg.Swap.MaxSlippage,
			DeadlineMinutes: e.cfg.Swap.DeadlineMinutes,
		},
		WaitTimeout: e.cfg.API.WaitTimeout,
	})
}

// Token resolves "native", a symbol or an address against the pair graph,
// waiting for the first refresh.
func (e *Engine) Token(ctx context.Context, param string) (types.Token, error) {
	param = strings.TrimSpace(param)
	if strings.EqualFold(param, "native") || strings.EqualFold(param, e.native.Symbol) {
		return e.native, nil
	}

	snap, err := e.graph.Wait(ctx)
	if err != nil {
		return types.Token{}, err
	}
	if common.IsHexAddress(param) {
		addr := common.HexToAddress(param)
		if addr == types.NativeAddress {
			return e.native, nil
		}
		if t, ok := snap.TokenAt(addr); ok {
			return t, nil
		}
		return types.Token{}, fmt.Errorf("%w: unknown token %s", types.ErrNoRouteFound, addr.Hex())
	}

	var found []types.Token
	for _, t := range snap.Tokens(0, param) {
		if strings.EqualFold(t.Symbol, param) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return types.Token{}, fmt.Errorf("%w: unknown token %q", types.ErrNoRouteFound, param)
	case 1:
		return found[0], nil
	default:
		return types.Token{}, fmt.Errorf("symbol %q is ambiguous, use an address", param)
	}
}

// Signer builds the bundled private-key signer
func (e *Engine) Signer() (*wallet.KeySigner, error) {
	if e.cfg.Signer.PrivateKey == "" {
		return nil, fmt.Errorf("%w: signer.private_key is not set", types.ErrWalletNotConnected)
	}
	return wallet.NewKeySigner(e.cfg.Signer.PrivateKey, e.client, e.cfg.Engine.ReceiptPollInterval)
}

// settle decodes the confirmed swap's pair events and logs the realized
// amounts. Failures are logged and otherwise ignored.
func (e *Engine) settle(ctx context.Context, hash common.Hash, q *types.Quote) {
	receipt, err := e.client.TransactionReceipt(ctx, hash)
	if err != nil {
		e.logger.LogError(err, "swap receipt")
		return
	}
	s, err := decoder.Settle(receipt, q.Trade.Route)
	if err != nil {
		log.Warn().Err(err).Str("tx", hash.Hex()).Msg("Failed to decode swap settlement")
		return
	}
	e.logger.LogSettlement(s, q)
}

// Close waits for background loops and releases the RPC connection
func (e *Engine) Close() {
	e.wg.Wait()
	e.client.Close()
}
