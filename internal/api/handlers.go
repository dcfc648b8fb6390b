package api

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/internal/graph"
	"github.com/devlongs/amm-swap-engine/internal/quote"
	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// nativeAlias selects the native currency in token parameters
const nativeAlias = "native"

type tokenResponse struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
	ChainID  uint64 `json:"chainId"`
}

type quoteResponse struct {
	TokenIn       tokenResponse `json:"tokenIn"`
	TokenOut      tokenResponse `json:"tokenOut"`
	Direction     string        `json:"direction"`
	Route         []string      `json:"route"`
	Hops          int           `json:"hops"`
	AmountIn      string        `json:"amountIn"`
	AmountOut     string        `json:"amountOut"`
	AmountInRaw   string        `json:"amountInRaw"`
	AmountOutRaw  string        `json:"amountOutRaw"`
	MinAmountOut  string        `json:"minAmountOut,omitempty"`
	MinOutRaw     string        `json:"minAmountOutRaw,omitempty"`
	MaxAmountIn   string        `json:"maxAmountIn,omitempty"`
	MaxInRaw      string        `json:"maxAmountInRaw,omitempty"`
	PartnerFeeBps uint16        `json:"partnerFeeBps"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) health(c *gin.Context) {
	snap := s.deps.Graph.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"pairs":    snap.Len(),
		"routable": snap.Routable(),
		"loadedAt": snap.LoadedAt().UTC(),
	})
}

// snapshot waits for the first pair refresh, bounded by the request
// context and the server's wait timeout
func (s *Server) snapshot(c *gin.Context) (*graph.Snapshot, error) {
	if snap := s.deps.Graph.Current(); snap != nil {
		return snap, nil
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.WaitTimeout)
	defer cancel()
	return s.deps.Graph.Wait(ctx)
}

func (s *Server) tokens(c *gin.Context) {
	snap, err := s.snapshot(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(c, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		limit = n
	}

	list := snap.Tokens(limit, c.Query("search"))
	out := make([]tokenResponse, len(list))
	for i, t := range list {
		out[i] = toTokenResponse(t)
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

func (s *Server) partnerFee(c *gin.Context) {
	percent := decimal.Zero
	if s.deps.Fees != nil {
		var err error
		percent, err = s.deps.Fees.PartnerFeePercent(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"percent": percent.String()})
}

func (s *Server) quote(c *gin.Context) {
	req, err := s.parseQuote(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	q, err := s.deps.Quoter.Quote(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toQuoteResponse(q))
}

var errBadRequest = errors.New("bad request")

func (s *Server) parseQuote(c *gin.Context) (quote.Request, error) {
	snap, err := s.snapshot(c)
	if err != nil {
		return quote.Request{}, err
	}

	from, err := s.resolve(snap, c.Query("from"))
	if err != nil {
		return quote.Request{}, err
	}
	to, err := s.resolve(snap, c.Query("to"))
	if err != nil {
		return quote.Request{}, err
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		return quote.Request{}, fmt.Errorf("%w: %q", types.ErrInvalidAmount, c.Query("amount"))
	}

	exactOut := false
	if v := c.Query("exactOut"); v != "" {
		exactOut, err = strconv.ParseBool(v)
		if err != nil {
			return quote.Request{}, fmt.Errorf("%w: invalid exactOut %q", errBadRequest, v)
		}
	}

	settings := s.deps.Settings
	if v := c.Query("slippage"); v != "" {
		settings.MaxSlippage, err = decimal.NewFromString(v)
		if err != nil {
			return quote.Request{}, fmt.Errorf("%w: invalid slippage %q", errBadRequest, v)
		}
	}

	return quote.Request{From: from, To: to, Amount: amount, ExactOut: exactOut, Settings: settings}, nil
}

// resolve maps a token parameter to a registered token or the native currency
func (s *Server) resolve(snap *graph.Snapshot, param string) (types.Token, error) {
	param = strings.TrimSpace(param)
	if strings.EqualFold(param, nativeAlias) {
		return s.deps.Native, nil
	}
	if !common.IsHexAddress(param) {
		return types.Token{}, fmt.Errorf("%w: invalid token %q", errBadRequest, param)
	}
	addr := common.HexToAddress(param)
	if addr == types.NativeAddress {
		return s.deps.Native, nil
	}
	t, ok := snap.TokenAt(addr)
	if !ok {
		return types.Token{}, fmt.Errorf("%w: unknown token %s", types.ErrNoRouteFound, addr.Hex())
	}
	return t, nil
}

func (s *Server) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, types.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNoRouteFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrRoutingUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toTokenResponse(t types.Token) tokenResponse {
	return tokenResponse{
		Address:  t.Address.Hex(),
		Symbol:   t.Symbol,
		Name:     t.Name,
		Decimals: t.Decimals,
		ChainID:  t.ChainID,
	}
}

func toQuoteResponse(q *types.Quote) quoteResponse {
	route := make([]string, len(q.Trade.Route.Path))
	for i, t := range q.Trade.Route.Path {
		route[i] = t.Address.Hex()
	}
	return quoteResponse{
		TokenIn:       toTokenResponse(q.TokenIn),
		TokenOut:      toTokenResponse(q.TokenOut),
		Direction:     q.Trade.Direction.String(),
		Route:         route,
		Hops:          q.Trade.Route.Hops(),
		AmountIn:      q.Computed.AmountIn,
		AmountOut:     q.Computed.AmountOut,
		AmountInRaw:   raw(q.Computed.AmountInRaw),
		AmountOutRaw:  raw(q.Computed.AmountOutRaw),
		MinAmountOut:  q.Computed.MinAmountOut,
		MinOutRaw:     raw(q.Computed.MinAmountOutRaw),
		MaxAmountIn:   q.Computed.MaxAmountIn,
		MaxInRaw:      raw(q.Computed.MaxAmountInRaw),
		PartnerFeeBps: q.PartnerFeeBps,
	}
}

func raw(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
