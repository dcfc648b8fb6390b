package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SWAP_NETWORK_GRAPH_ENDPOINT", "https://example.org/subgraph")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, uint16(100), cfg.Engine.PoolFeeBps)
	assert.Equal(t, 3, cfg.Engine.MaxHops)
	assert.Equal(t, time.Second, cfg.Engine.RefreshRetryDelay)
	assert.True(t, decimal.RequireFromString("0.5").Equal(cfg.Swap.MaxSlippage))
	assert.Equal(t, 20, cfg.Swap.DeadlineMinutes)
	assert.Equal(t, SourceSubgraph, cfg.Network.Source)
	assert.Equal(t, "https://example.org/subgraph", cfg.Network.GraphEndpoint)
	assert.Equal(t, uint8(18), cfg.Network.WrappedToken.Decimals)
	assert.Equal(t, "ETH", cfg.Network.NativeSymbol)
	assert.Equal(t, 10*time.Second, cfg.API.WaitTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  source: factory
  factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
  proxy: "0x1111111111111111111111111111111111111111"
engine:
  pool_fee_bps: 30
  max_hops: 2
  refresh_interval: 30s
swap:
  max_slippage: "1.25"
partner:
  id: "0x0101010101010101010101010101010101010101010101010101010101010101"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint16(30), cfg.Engine.PoolFeeBps)
	assert.Equal(t, 2, cfg.Engine.MaxHops)
	assert.Equal(t, 30*time.Second, cfg.Engine.RefreshInterval)
	assert.Equal(t, "1.25", cfg.Swap.MaxSlippage.String())
	require.NoError(t, cfg.Validate())

	key, err := PartnerKey(cfg.Partner.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(1), key[31])
}

func TestLoad_RejectsPoolFee(t *testing.T) {
	t.Setenv("SWAP_ENGINE_POOL_FEE_BPS", "10000")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Network: NetworkConfig{
				Router:        "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
				WrappedToken:  TokenConfig{Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"},
				Source:        SourceSubgraph,
				GraphEndpoint: "http://localhost",
			},
			Engine: EngineConfig{PoolFeeBps: 100, MaxHops: 3},
			Swap:   SwapConfig{MaxSlippage: decimal.RequireFromString("0.5"), DeadlineMinutes: 20},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad router", mutate: func(c *Config) { c.Network.Router = "router" }, wantErr: "network.router"},
		{name: "bad proxy", mutate: func(c *Config) { c.Network.Proxy = "0x12" }, wantErr: "network.proxy"},
		{name: "missing endpoint", mutate: func(c *Config) { c.Network.GraphEndpoint = "" }, wantErr: "graph_endpoint"},
		{name: "unknown source", mutate: func(c *Config) { c.Network.Source = "csv" }, wantErr: "network.source"},
		{name: "zero hops", mutate: func(c *Config) { c.Engine.MaxHops = 0 }, wantErr: "max_hops"},
		{name: "slippage too high", mutate: func(c *Config) { c.Swap.MaxSlippage = decimal.NewFromInt(100) }, wantErr: "max_slippage"},
		{name: "no deadline", mutate: func(c *Config) { c.Swap.DeadlineMinutes = 0 }, wantErr: "deadline_minutes"},
		{name: "partner without proxy", mutate: func(c *Config) { c.Partner.ID = "0x" + strings.Repeat("ab", 32) }, wantErr: "requires network.proxy"},
		{
			name: "short partner id",
			mutate: func(c *Config) {
				c.Network.Proxy = "0x1111111111111111111111111111111111111111"
				c.Partner.ID = "0xabcd"
			},
			wantErr: "32 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
