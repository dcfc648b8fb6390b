package output

import (
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/internal/config"
	"github.com/devlongs/amm-swap-engine/internal/decoder"
	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Logger reports engine activity and keeps running counters
type Logger struct {
	mu         sync.Mutex
	stats      Stats
	lastLoader types.LoaderPhase
}

// Stats tracks engine activity since start
type Stats struct {
	Refreshes      uint64
	Quotes         uint64
	QuoteFailures  uint64
	Approvals      uint64
	SwapsSubmitted uint64
	SwapsConfirmed uint64
	SwapFailures   uint64
	StartTime      time.Time
}

// NewLogger configures the global zerolog logger and returns a stats logger
func NewLogger(cfg config.LoggingConfig) *Logger {
	switch cfg.Format {
	case "json":
		// Default JSON output
	case "console":
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	switch cfg.Level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	}

	return &Logger{stats: Stats{StartTime: time.Now()}}
}

// LogRefresh logs a completed pair graph refresh
func (l *Logger) LogRefresh(snap *graph.Snapshot) {
	l.mu.Lock()
	l.stats.Refreshes++
	l.mu.Unlock()

	log.Debug().
		Int("pairs", snap.Len()).
		Int("routable", snap.Routable()).
		Time("loadedAt", snap.LoadedAt()).
		Msg("Snapshot published")
}

// LogQuote logs a computed quote
func (l *Logger) LogQuote(q *types.Quote) {
	l.mu.Lock()
	l.stats.Quotes++
	l.mu.Unlock()

	ev := log.Info().
		Str("route", q.Trade.Route.String()).
		Int("hops", q.Trade.Route.Hops()).
		Str("direction", q.Trade.Direction.String()).
		Str("amountIn", q.Computed.AmountIn+" "+q.TokenIn.String()).
		Str("amountOut", q.Computed.AmountOut+" "+q.TokenOut.String())
	if q.Trade.Direction == types.ExactOut {
		ev = ev.Str("maxAmountIn", q.Computed.MaxAmountIn)
	} else {
		ev = ev.Str("minAmountOut", q.Computed.MinAmountOut)
	}
	if q.PartnerFeeBps > 0 {
		ev = ev.Uint16("partnerFeeBps", q.PartnerFeeBps)
	}
	ev.Msg("QUOTE")
}

// LogSettlement logs the amounts a confirmed swap actually moved next to
// the amounts it was quoted for
func (l *Logger) LogSettlement(s *decoder.Settlement, q *types.Quote) {
	in := decimal.NewFromBigInt(s.AmountIn, -int32(q.TokenIn.Decimals))
	out := decimal.NewFromBigInt(s.AmountOut, -int32(q.TokenOut.Decimals))

	log.Info().
		Str("tx", s.TxHash.Hex()).
		Int("hops", len(s.Hops)).
		Str("amountIn", in.String()+" "+q.TokenIn.String()).
		Str("amountOut", out.String()+" "+q.TokenOut.String()).
		Str("quotedIn", q.Computed.AmountIn).
		Str("quotedOut", q.Computed.AmountOut).
		Msg("SETTLED")
}

// LogStateChange follows the swap controller's state transitions. It has
// the shape of a controller listener.
func (l *Logger) LogStateChange(state types.State, patch types.StatePatch) {
	l.mu.Lock()
	prev := l.lastLoader
	l.lastLoader = state.Loader

	if patch.ApproveTxHash != nil && *patch.ApproveTxHash != (common.Hash{}) {
		l.stats.Approvals++
	}
	if patch.SwapTxHash != nil && *patch.SwapTxHash != (common.Hash{}) {
		l.stats.SwapsSubmitted++
	}
	failed := patch.Error != nil && *patch.Error != ""
	if failed {
		if prev == types.LoaderCalculatingQuote {
			l.stats.QuoteFailures++
		} else {
			l.stats.SwapFailures++
		}
	}
	confirmed := patch.Loader != nil && *patch.Loader == types.LoaderNone &&
		prev == types.LoaderSwapping && !failed
	if confirmed {
		l.stats.SwapsConfirmed++
	}
	l.mu.Unlock()

	if patch.Quote != nil {
		l.LogQuote(state.Quote)
	}

	switch {
	case failed:
		log.Warn().
			Str("phase", prev.String()).
			Str("error", *patch.Error).
			Msg("Swap state error")
	case confirmed:
		log.Info().Str("txHash", state.SwapTxHash.Hex()).Msg("SWAP CONFIRMED")
	case patch.Loader != nil && *patch.Loader != prev:
		log.Debug().
			Str("from", prev.String()).
			Str("to", patch.Loader.String()).
			Msg("Loader phase changed")
	}
}

// LogStats logs current statistics
func (l *Logger) LogStats() {
	s := l.GetStats()
	elapsed := time.Since(s.StartTime)

	log.Info().
		Uint64("refreshes", s.Refreshes).
		Uint64("quotes", s.Quotes).
		Uint64("quoteFailures", s.QuoteFailures).
		Uint64("approvals", s.Approvals).
		Uint64("swapsSubmitted", s.SwapsSubmitted).
		Uint64("swapsConfirmed", s.SwapsConfirmed).
		Uint64("swapFailures", s.SwapFailures).
		Dur("uptime", elapsed).
		Msg("Swap Engine Stats")
}

// LogError logs an error
func (l *Logger) LogError(err error, context string) {
	log.Error().
		Err(err).
		Str("context", context).
		Msg("Error occurred")
}

// GetStats returns a copy of the current statistics
func (l *Logger) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}
