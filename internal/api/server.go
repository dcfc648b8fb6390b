// Package api serves quotes and the token registry over HTTP for
// quote-only consumers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/internal/quote"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// Quoter computes quotes
type Quoter interface {
	Quote(ctx context.Context, req quote.Request) (*types.Quote, error)
}

// Graph exposes the pair snapshot and its readiness gate
type Graph interface {
	Current() *graph.Snapshot
	Wait(ctx context.Context) (*graph.Snapshot, error)
}

// PartnerFees reports the partner fee as a percentage
type PartnerFees interface {
	PartnerFeePercent(ctx context.Context) (decimal.Decimal, error)
}

// Deps are the components behind the API. Fees and Gatherer may be nil.
type Deps struct {
	Quoter   Quoter
	Graph    Graph
	Fees     PartnerFees
	Gatherer prometheus.Gatherer
	// Native describes the chain's native currency
	Native types.Token
	// Settings are applied when a request does not override them
	Settings types.SwapSettings
	// WaitTimeout bounds how long a request waits for the first refresh
	WaitTimeout time.Duration
}

// DefaultWaitTimeout is used when Deps.WaitTimeout is zero
const DefaultWaitTimeout = 10 * time.Second

// Server is the HTTP front end
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
}

// NewServer creates a server listening on addr
func NewServer(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	if deps.Settings.DeadlineMinutes == 0 {
		deps.Settings = types.DefaultSwapSettings()
	}
	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = DefaultWaitTimeout
	}

	s := &Server{deps: deps, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/quote", s.quote)
		v1.GET("/tokens", s.tokens)
		v1.GET("/partner-fee", s.partnerFee)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("API server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down API server...")
	return s.http.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}
