package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pairsFixture = `{
  "data": {
    "pairs": [
      {
        "id": "0xPAIR1",
        "reserve0": "1.5",
        "reserve1": "3000.123456789",
        "token0": {"id": "0x00000000000000000000000000000000000000aa", "symbol": "WETH", "name": "Wrapped Ether", "decimals": "18"},
        "token1": {"id": "0x00000000000000000000000000000000000000bb", "symbol": "USDC", "name": "USD Coin", "decimals": "6"}
      },
      {
        "id": "0xpair2",
        "reserve0": "",
        "reserve1": "",
        "token0": {"id": "0x00000000000000000000000000000000000000bb", "symbol": "USDC", "name": "USD Coin", "decimals": "6"},
        "token1": {"id": "0x00000000000000000000000000000000000000cc", "symbol": "DAI", "name": "Dai", "decimals": "18"}
      }
    ]
  }
}`

func TestSubgraph_FetchPairs(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		query = body["query"]
		_, _ = w.Write([]byte(pairsFixture))
	}))
	defer srv.Close()

	src := NewSubgraph(srv.URL, 50, time.Second)
	pairs, err := src.FetchPairs(context.Background())
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	assert.Contains(t, query, "pairs(first: 50)")

	p := pairs[0]
	assert.Equal(t, "0xpair1", p.ID)
	assert.Equal(t, "WETH", p.Token0.Symbol)
	assert.Equal(t, uint8(6), p.Token1.Decimals)
	assert.Equal(t, "1500000000000000000", p.Reserve0.String())
	assert.Equal(t, "3000123456", p.Reserve1.String(), "digits beyond precision are truncated")

	assert.Nil(t, pairs[1].Reserve0)
	assert.Nil(t, pairs[1].Reserve1)
}

func TestSubgraph_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "http status", status: http.StatusBadGateway, body: "upstream down", wantErr: "502"},
		{name: "graphql error", status: http.StatusOK, body: `{"errors":[{"message":"indexing failed"}]}`, wantErr: "indexing failed"},
		{name: "no data", status: http.StatusOK, body: `{}`, wantErr: "no data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewSubgraph(srv.URL, 0, time.Second).FetchPairs(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubgraph_SkipsMalformedPairs(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "bad decimals", body: strings.Replace(pairsFixture, `"decimals": "18"`, `"decimals": "x"`, 1)},
		{name: "bad reserve", body: strings.Replace(pairsFixture, `"1.5"`, `"abc"`, 1)},
		{name: "bad token address", body: strings.Replace(pairsFixture, `"0x00000000000000000000000000000000000000aa"`, `"weth"`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			pairs, err := NewSubgraph(srv.URL, 0, time.Second).FetchPairs(context.Background())
			require.NoError(t, err)
			require.Len(t, pairs, 1)
			assert.Equal(t, "0xpair2", pairs[0].ID)
		})
	}
}

func TestSubgraph_FeedsGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(pairsFixture))
	}))
	defer srv.Close()

	g := New(NewSubgraph(srv.URL, 0, time.Second), Config{ChainID: 1}, nil)
	require.NoError(t, g.Refresh(context.Background()))

	snap := g.Current()
	assert.Equal(t, 1, snap.Len())
	assert.Len(t, snap.Tokens(0, ""), 2)
}
