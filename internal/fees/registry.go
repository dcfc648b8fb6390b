// Package fees reads the partner fee and the platform fee switch from the
// proxy's fee registry.
package fees

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/devlongs/amm-swap-engine/internal/contracts"
)

// Caller executes read-only contract calls
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Registry caches the fee settings after the first successful load.
// Readers block on a one-shot gate until then.
type Registry struct {
	caller  Caller
	proxy   *common.Address
	partner *[32]byte

	ready chan struct{}
	once  sync.Once

	mu         sync.RWMutex
	bps        uint16
	recipient  common.Address
	feeEnabled bool
}

// NewRegistry creates a registry. Without a proxy the fee is zero and the
// fee switch is off; without a partner only the switch is read.
func NewRegistry(caller Caller, proxy *common.Address, partner *[32]byte) *Registry {
	return &Registry{
		caller:  caller,
		proxy:   proxy,
		partner: partner,
		ready:   make(chan struct{}),
	}
}

// Load reads the registry once and opens the gate on success
func (r *Registry) Load(ctx context.Context) error {
	if r.proxy == nil {
		r.publish(0, common.Address{}, false)
		return nil
	}

	enabled, err := r.readFeeEnabled(ctx)
	if err != nil {
		return err
	}

	var (
		bps       uint16
		recipient common.Address
	)
	if r.partner != nil {
		recipient, bps, err = r.readPartnerFee(ctx)
		if err != nil {
			return err
		}
		if bps >= 10000 {
			return fmt.Errorf("partner fee %d bps out of range", bps)
		}
	}

	r.publish(bps, recipient, enabled)
	log.Info().
		Uint16("partnerFeeBps", bps).
		Str("feeRecipient", recipient.Hex()).
		Bool("feeEnabled", enabled).
		Msg("Fee registry loaded")
	return nil
}

// Run retries Load with a fixed backoff until it succeeds or ctx ends
func (r *Registry) Run(ctx context.Context, retryDelay time.Duration) error {
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	for {
		err := r.Load(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retryIn", retryDelay).Msg("Failed to load fee registry, retrying...")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// Ready returns a channel closed once the registry has loaded
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// PartnerFeeBps returns the partner fee in basis points
func (r *Registry) PartnerFeeBps(ctx context.Context) (uint16, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bps, nil
}

// PartnerFeePercent returns the partner fee as a percentage
func (r *Registry) PartnerFeePercent(ctx context.Context) (decimal.Decimal, error) {
	bps, err := r.PartnerFeeBps(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(bps), -2), nil
}

// PartnerFeeRecipient returns the address that collects the partner fee
func (r *Registry) PartnerFeeRecipient(ctx context.Context) (common.Address, error) {
	if err := r.wait(ctx); err != nil {
		return common.Address{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recipient, nil
}

// FeeEnabled reports whether the platform fee switch is on
func (r *Registry) FeeEnabled(ctx context.Context) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeEnabled, nil
}

func (r *Registry) wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fee registry not loaded: %w", ctx.Err())
	}
}

func (r *Registry) publish(bps uint16, recipient common.Address, enabled bool) {
	r.mu.Lock()
	r.bps, r.recipient, r.feeEnabled = bps, recipient, enabled
	r.mu.Unlock()
	r.once.Do(func() { close(r.ready) })
}

func (r *Registry) readFeeEnabled(ctx context.Context) (bool, error) {
	out, err := r.call(ctx, "feeEnabled")
	if err != nil {
		return false, err
	}
	enabled, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected feeEnabled result %T", out[0])
	}
	return enabled, nil
}

func (r *Registry) readPartnerFee(ctx context.Context) (common.Address, uint16, error) {
	out, err := r.call(ctx, "partnerFee", *r.partner)
	if err != nil {
		return common.Address{}, 0, err
	}
	recipient, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, 0, fmt.Errorf("unexpected partnerFee recipient %T", out[0])
	}
	bps, ok := out[1].(uint16)
	if !ok {
		return common.Address{}, 0, fmt.Errorf("unexpected partnerFee bps %T", out[1])
	}
	return recipient, bps, nil
}

func (r *Registry) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contracts.Proxy.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	res, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: r.proxy, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contracts.Proxy.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}
