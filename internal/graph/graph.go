// Package graph holds the in-memory liquidity pair graph and keeps it
// refreshed from an external reserve snapshot source.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Source returns the current reserve snapshot of every pair. A pair whose
// reserves are unknown is returned with nil reserves.
type Source interface {
	FetchPairs(ctx context.Context) ([]types.Pair, error)
}

// Config controls refresh behaviour
type Config struct {
	ChainID uint64
	// RetryDelay is the fixed backoff between failed refreshes
	RetryDelay time.Duration
	// Interval is the pause between successful refreshes; zero refreshes once
	Interval time.Duration
}

// Graph owns the current snapshot. Readers never observe a partially
// updated graph: each refresh swaps in a new immutable Snapshot.
type Graph struct {
	source  Source
	cfg     Config
	metrics *Metrics

	current   atomic.Pointer[Snapshot]
	ready     chan struct{}
	readyOnce sync.Once

	mu    sync.Mutex
	hooks []func(*Snapshot)
}

// New creates an empty graph. reg may be nil.
func New(source Source, cfg Config, reg prometheus.Registerer) *Graph {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Graph{
		source:  source,
		cfg:     cfg,
		metrics: NewMetrics(reg),
		ready:   make(chan struct{}),
	}
}

// OnRefresh registers fn to be called after every successful refresh
func (g *Graph) OnRefresh(fn func(*Snapshot)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// Current returns the latest snapshot, or nil before the first refresh
func (g *Graph) Current() *Snapshot {
	return g.current.Load()
}

// Ready returns a channel closed once the first refresh has succeeded
func (g *Graph) Ready() <-chan struct{} {
	return g.ready
}

// Wait blocks until the first refresh has succeeded or ctx is done
func (g *Graph) Wait(ctx context.Context) (*Snapshot, error) {
	select {
	case <-g.ready:
		return g.current.Load(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", types.ErrRoutingUnavailable, ctx.Err())
	}
}

// Refresh fetches a snapshot from the source and swaps it in
func (g *Graph) Refresh(ctx context.Context) error {
	start := time.Now()
	pairs, err := g.source.FetchPairs(ctx)
	if err != nil {
		g.metrics.refreshFailures.Inc()
		return fmt.Errorf("failed to fetch pairs: %w", err)
	}
	if len(pairs) == 0 {
		g.metrics.refreshFailures.Inc()
		return errors.New("snapshot source returned no pairs")
	}

	snap := g.Apply(pairs)
	g.metrics.refreshDuration.Observe(time.Since(start).Seconds())

	log.Info().
		Int("pairs", snap.Len()).
		Int("routable", snap.Routable()).
		Dur("duration", time.Since(start)).
		Msg("Pair graph refreshed")

	return nil
}

// Apply builds a snapshot from pairs and publishes it. Pairs with missing
// reserves are dropped; pairs with zero reserves are kept but not routable.
func (g *Graph) Apply(pairs []types.Pair) *Snapshot {
	kept := make([]types.Pair, 0, len(pairs))
	for _, p := range pairs {
		if p.Reserve0 == nil || p.Reserve1 == nil {
			log.Warn().Str("pair", p.ID).Msg("Skipping pair without reserves")
			continue
		}
		p.Token0.ChainID = g.cfg.ChainID
		p.Token1.ChainID = g.cfg.ChainID
		kept = append(kept, p)
	}

	snap := newSnapshot(kept, time.Now())
	g.current.Store(snap)
	g.readyOnce.Do(func() { close(g.ready) })

	g.metrics.refreshes.Inc()
	g.metrics.pairs.Set(float64(snap.Len()))
	g.metrics.routablePairs.Set(float64(snap.Routable()))
	g.metrics.lastSuccess.SetToCurrentTime()

	g.mu.Lock()
	hooks := append([]func(*Snapshot){}, g.hooks...)
	g.mu.Unlock()
	for _, fn := range hooks {
		fn(snap)
	}

	return snap
}

// Run refreshes until ctx is cancelled. Failures are logged and retried
// after the fixed backoff; they never propagate.
func (g *Graph) Run(ctx context.Context) error {
	for {
		if err := g.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Dur("retryIn", g.cfg.RetryDelay).Msg("Failed to refresh pair graph, retrying...")
			if !sleep(ctx, g.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}

		if g.cfg.Interval <= 0 {
			return nil
		}
		if !sleep(ctx, g.cfg.Interval) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
