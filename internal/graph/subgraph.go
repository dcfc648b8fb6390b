package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/pkg/types"
)

// DefaultPairsLimit is the number of pairs requested from the subgraph
const DefaultPairsLimit = 1000

const pairsQuery = `{
  pairs(first: %d) {
    id
    reserve0
    reserve1
    token0 { id symbol name decimals }
    token1 { id symbol name decimals }
  }
}`

// Subgraph reads pairs from a Uniswap-v2 style GraphQL index
type Subgraph struct {
	endpoint string
	limit    int
	http     *http.Client
}

// NewSubgraph creates a subgraph source. limit <= 0 uses DefaultPairsLimit.
func NewSubgraph(endpoint string, limit int, timeout time.Duration) *Subgraph {
	if limit <= 0 {
		limit = DefaultPairsLimit
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Subgraph{
		endpoint: endpoint,
		limit:    limit,
		http:     &http.Client{Timeout: timeout},
	}
}

type subgraphToken struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals string `json:"decimals"`
}

type subgraphPair struct {
	ID       string        `json:"id"`
	Reserve0 string        `json:"reserve0"`
	Reserve1 string        `json:"reserve1"`
	Token0   subgraphToken `json:"token0"`
	Token1   subgraphToken `json:"token1"`
}

type pairsResponse struct {
	Data *struct {
		Pairs []subgraphPair `json:"pairs"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchPairs implements Source
func (s *Subgraph) FetchPairs(ctx context.Context) ([]types.Pair, error) {
	body, err := json.Marshal(map[string]string{"query": fmt.Sprintf(pairsQuery, s.limit)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subgraph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("subgraph returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded pairsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode subgraph response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("subgraph error: %s", decoded.Errors[0].Message)
	}
	if decoded.Data == nil {
		return nil, fmt.Errorf("subgraph response has no data")
	}

	pairs := make([]types.Pair, 0, len(decoded.Data.Pairs))
	for _, raw := range decoded.Data.Pairs {
		p, err := convertPair(raw)
		if err != nil {
			log.Warn().Err(err).Str("pair", raw.ID).Msg("Skipping malformed subgraph pair")
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func convertPair(raw subgraphPair) (types.Pair, error) {
	t0, err := convertToken(raw.Token0)
	if err != nil {
		return types.Pair{}, err
	}
	t1, err := convertToken(raw.Token1)
	if err != nil {
		return types.Pair{}, err
	}

	p := types.Pair{ID: strings.ToLower(raw.ID), Token0: t0, Token1: t1}
	if raw.Reserve0 == "" || raw.Reserve1 == "" {
		return p, nil
	}
	if p.Reserve0, err = scaleReserve(raw.Reserve0, t0.Decimals); err != nil {
		return types.Pair{}, err
	}
	if p.Reserve1, err = scaleReserve(raw.Reserve1, t1.Decimals); err != nil {
		return types.Pair{}, err
	}
	return p, nil
}

func convertToken(raw subgraphToken) (types.Token, error) {
	if !common.IsHexAddress(raw.ID) {
		return types.Token{}, fmt.Errorf("invalid token address %q", raw.ID)
	}
	dec, err := strconv.ParseUint(raw.Decimals, 10, 8)
	if err != nil {
		return types.Token{}, fmt.Errorf("invalid decimals %q for %s: %w", raw.Decimals, raw.ID, err)
	}
	return types.Token{
		Address:  common.HexToAddress(raw.ID),
		Symbol:   raw.Symbol,
		Name:     raw.Name,
		Decimals: uint8(dec),
	}, nil
}

// scaleReserve converts a human decimal string into a raw integer,
// truncating digits beyond the token's precision.
func scaleReserve(value string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid reserve %q: %w", value, err)
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}
