package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"

	"github.com/devlongs/amm-swap-engine/internal/config"
)

// Client wraps the Ethereum client with retry logic and convenience methods
type Client struct {
	client  *ethclient.Client
	cfg     config.RPCConfig
	chainID *big.Int
}

// NewClient creates a new Ethereum client
func NewClient(cfg config.RPCConfig) (*Client, error) {
	rc, err := rpc.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum node: %w", err)
	}
	c, err := NewClientFromRPC(rc, cfg)
	if err != nil {
		rc.Close()
		return nil, err
	}

	log.Info().
		Str("url", cfg.URL).
		Str("chainID", c.chainID.String()).
		Msg("Connected to Ethereum node")

	return c, nil
}

// NewClientFromRPC wraps an existing RPC connection
func NewClientFromRPC(rc *rpc.Client, cfg config.RPCConfig) (*Client, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	client := ethclient.NewClient(rc)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	return &Client{
		client:  client,
		cfg:     cfg,
		chainID: chainID,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() {
	c.client.Close()
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// retry runs fn up to RetryAttempts times, pausing RetryDelay between
// attempts. Errors matching stop are returned immediately.
func retry[T any](ctx context.Context, c *Client, what string, fn func() (T, error), stop ...error) (T, error) {
	var (
		result T
		err    error
	)
	for i := 0; i < c.cfg.RetryAttempts; i++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		for _, s := range stop {
			if errors.Is(err, s) {
				return result, err
			}
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if i == c.cfg.RetryAttempts-1 {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msgf("Failed to %s, retrying...", what)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return result, fmt.Errorf("failed to %s after %d attempts: %w", what, c.cfg.RetryAttempts, err)
}

// BlockNumber returns the latest block number with retry
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return retry(ctx, c, "get block number", func() (uint64, error) {
		return c.client.BlockNumber(ctx)
	})
}

// CallContract executes a contract call with retry
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return retry(ctx, c, "call contract", func() ([]byte, error) {
		return c.client.CallContract(ctx, msg, blockNumber)
	})
}

// PendingNonceAt returns the next nonce for account with retry
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return retry(ctx, c, "get nonce", func() (uint64, error) {
		return c.client.PendingNonceAt(ctx, account)
	})
}

// SuggestGasPrice returns the node's gas price suggestion with retry
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return retry(ctx, c, "get gas price", func() (*big.Int, error) {
		return c.client.SuggestGasPrice(ctx)
	})
}

// EstimateGas estimates the gas needed by msg. Reverts are not retried.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := c.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return gas, nil
}

// SendTransaction broadcasts a signed transaction. It is never retried.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to send transaction: %w", err)
	}
	return nil
}

// TransactionReceipt returns the receipt of a transaction with retry.
// ethereum.NotFound is returned as is while the transaction is pending.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return retry(ctx, c, "get receipt", func() (*types.Receipt, error) {
		return c.client.TransactionReceipt(ctx, txHash)
	}, ethereum.NotFound)
}
