package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Snapshot sources
const (
	SourceSubgraph = "subgraph"
	SourceFactory  = "factory"
)

// Config holds all configuration for the swap engine
type Config struct {
	RPC     RPCConfig
	Network NetworkConfig
	Engine  EngineConfig
	Swap    SwapConfig
	Partner PartnerConfig
	Signer  SignerConfig
	API     APIConfig
	Logging LoggingConfig
}

// RPCConfig holds Ethereum RPC configuration
type RPCConfig struct {
	URL            string
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// NetworkConfig describes the deployment the engine trades against
type NetworkConfig struct {
	ChainID       uint64
	Router        string
	Proxy         string // optional fee-collecting proxy
	NativeSymbol  string
	NativeName    string
	WrappedToken  TokenConfig
	GraphEndpoint string
	Factory       string
	Source        string // "subgraph" or "factory"
	PairsLimit    int
}

// TokenConfig describes a token known ahead of time
type TokenConfig struct {
	Address  string
	Symbol   string
	Name     string
	Decimals uint8
}

// EngineConfig holds routing and refresh settings
type EngineConfig struct {
	PoolFeeBps          uint16
	MaxHops             int
	RefreshInterval     time.Duration // 0 loads pairs once
	RefreshRetryDelay   time.Duration
	ReceiptPollInterval time.Duration
	RequoteOnRefresh    bool
}

// SwapConfig holds the default swap settings
type SwapConfig struct {
	MaxSlippage     decimal.Decimal // percent
	DeadlineMinutes int
}

// PartnerConfig identifies the partner whose fee applies
type PartnerConfig struct {
	ID string // 32-byte hex, empty for none
}

// SignerConfig holds the key used by the bundled signer
type SignerConfig struct {
	PrivateKey string
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Addr        string
	WaitTimeout time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads configuration from .env, environment and config file.
// configFile overrides the default search paths when set.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("rpc.url", "http://127.0.0.1:8545")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "1s")
	v.SetDefault("rpc.request_timeout", "30s")

	v.SetDefault("network.chain_id", 1)
	v.SetDefault("network.router", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	v.SetDefault("network.proxy", "")
	v.SetDefault("network.native_symbol", "ETH")
	v.SetDefault("network.native_name", "Ether")
	v.SetDefault("network.wrapped_token.address", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	v.SetDefault("network.wrapped_token.symbol", "WETH")
	v.SetDefault("network.wrapped_token.name", "Wrapped Ether")
	v.SetDefault("network.wrapped_token.decimals", 18)
	v.SetDefault("network.graph_endpoint", "")
	v.SetDefault("network.factory", "")
	v.SetDefault("network.source", SourceSubgraph)
	v.SetDefault("network.pairs_limit", 1000)

	v.SetDefault("engine.pool_fee_bps", 100)
	v.SetDefault("engine.max_hops", 3)
	v.SetDefault("engine.refresh_interval", "0s")
	v.SetDefault("engine.refresh_retry_delay", "1s")
	v.SetDefault("engine.receipt_poll_interval", "2s")
	v.SetDefault("engine.requote_on_refresh", false)

	v.SetDefault("swap.max_slippage", "0.5")
	v.SetDefault("swap.deadline_minutes", 20)

	v.SetDefault("partner.id", "")
	v.SetDefault("signer.private_key", "")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.wait_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Environment variable support
	v.SetEnvPrefix("SWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.amm-swap-engine")
		_ = v.ReadInConfig()
	}

	slippage, err := decimal.NewFromString(v.GetString("swap.max_slippage"))
	if err != nil {
		return nil, fmt.Errorf("invalid swap.max_slippage: %w", err)
	}
	poolFee := v.GetUint("engine.pool_fee_bps")
	if poolFee >= 10000 {
		return nil, fmt.Errorf("engine.pool_fee_bps %d must be below 10000", poolFee)
	}

	cfg := &Config{
		RPC: RPCConfig{
			URL:            v.GetString("rpc.url"),
			RetryAttempts:  v.GetInt("rpc.retry_attempts"),
			RetryDelay:     v.GetDuration("rpc.retry_delay"),
			RequestTimeout: v.GetDuration("rpc.request_timeout"),
		},
		Network: NetworkConfig{
			ChainID: v.GetUint64("network.chain_id"),
			Router:  v.GetString("network.router"),
			Proxy:   v.GetString("network.proxy"),

			NativeSymbol: v.GetString("network.native_symbol"),
			NativeName:   v.GetString("network.native_name"),
			WrappedToken: TokenConfig{
				Address:  v.GetString("network.wrapped_token.address"),
				Symbol:   v.GetString("network.wrapped_token.symbol"),
				Name:     v.GetString("network.wrapped_token.name"),
				Decimals: uint8(v.GetUint("network.wrapped_token.decimals")),
			},
			GraphEndpoint: v.GetString("network.graph_endpoint"),
			Factory:       v.GetString("network.factory"),
			Source:        v.GetString("network.source"),
			PairsLimit:    v.GetInt("network.pairs_limit"),
		},
		Engine: EngineConfig{
			PoolFeeBps:          uint16(poolFee),
			MaxHops:             v.GetInt("engine.max_hops"),
			RefreshInterval:     v.GetDuration("engine.refresh_interval"),
			RefreshRetryDelay:   v.GetDuration("engine.refresh_retry_delay"),
			ReceiptPollInterval: v.GetDuration("engine.receipt_poll_interval"),
			RequoteOnRefresh:    v.GetBool("engine.requote_on_refresh"),
		},
		Swap: SwapConfig{
			MaxSlippage:     slippage,
			DeadlineMinutes: v.GetInt("swap.deadline_minutes"),
		},
		Partner: PartnerConfig{
			ID: v.GetString("partner.id"),
		},
		Signer: SignerConfig{
			PrivateKey: v.GetString("signer.private_key"),
		},
		API: APIConfig{
			Addr:        v.GetString("api.addr"),
			WaitTimeout: v.GetDuration("api.wait_timeout"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	return cfg, nil
}

// Validate checks the settings the engine cannot run without
func (c *Config) Validate() error {
	var errs []error

	if !common.IsHexAddress(c.Network.Router) {
		errs = append(errs, fmt.Errorf("network.router %q is not an address", c.Network.Router))
	}
	if c.Network.Proxy != "" && !common.IsHexAddress(c.Network.Proxy) {
		errs = append(errs, fmt.Errorf("network.proxy %q is not an address", c.Network.Proxy))
	}
	if !common.IsHexAddress(c.Network.WrappedToken.Address) {
		errs = append(errs, fmt.Errorf("network.wrapped_token.address %q is not an address", c.Network.WrappedToken.Address))
	}

	switch c.Network.Source {
	case SourceSubgraph:
		if c.Network.GraphEndpoint == "" {
			errs = append(errs, errors.New("network.graph_endpoint is required for the subgraph source"))
		}
	case SourceFactory:
		if !common.IsHexAddress(c.Network.Factory) {
			errs = append(errs, fmt.Errorf("network.factory %q is not an address", c.Network.Factory))
		}
	default:
		errs = append(errs, fmt.Errorf("network.source must be %q or %q, got %q", SourceSubgraph, SourceFactory, c.Network.Source))
	}

	if c.Engine.PoolFeeBps >= 10000 {
		errs = append(errs, fmt.Errorf("engine.pool_fee_bps %d must be below 10000", c.Engine.PoolFeeBps))
	}
	if c.Engine.MaxHops < 1 {
		errs = append(errs, fmt.Errorf("engine.max_hops %d must be at least 1", c.Engine.MaxHops))
	}
	if c.Swap.MaxSlippage.IsNegative() || c.Swap.MaxSlippage.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("swap.max_slippage %s must be in [0, 100)", c.Swap.MaxSlippage))
	}
	if c.Swap.DeadlineMinutes <= 0 {
		errs = append(errs, fmt.Errorf("swap.deadline_minutes %d must be positive", c.Swap.DeadlineMinutes))
	}
	if c.Partner.ID != "" {
		if c.Network.Proxy == "" {
			errs = append(errs, errors.New("partner.id requires network.proxy"))
		}
		if _, err := PartnerKey(c.Partner.ID); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// PartnerKey parses a 32-byte hex partner identifier
func PartnerKey(id string) ([32]byte, error) {
	var key [32]byte
	s := strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	if len(s) != 64 {
		return key, fmt.Errorf("partner.id must be 32 bytes of hex, got %d characters", len(s))
	}
	b, err := hexutil.Decode("0x" + s)
	if err != nil {
		return key, fmt.Errorf("partner.id %q is not valid hex: %w", id, err)
	}
	copy(key[:], b)
	return key, nil
}
