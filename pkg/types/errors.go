package types

import (
	"errors"
	"fmt"
)

var (
	// ErrRoutingUnavailable is returned when the pair graph has not completed its first refresh.
	ErrRoutingUnavailable = errors.New("routing unavailable: pair graph not loaded")
	// ErrNoRouteFound is returned when no path exists within the hop bound.
	ErrNoRouteFound = errors.New("no trade path found for the given tokens and amount")
	// ErrInsufficientLiquidity is returned when an output would drain a reserve.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for this trade")
	ErrWalletNotConnected    = errors.New("wallet not connected")
	ErrApprovalFailed        = errors.New("approval failed")
	// ErrTransactionRejected is returned when a receipt reports a failed status.
	ErrTransactionRejected = errors.New("transaction rejected")
	// ErrReceiptMissing is returned when confirmation never arrived.
	ErrReceiptMissing = errors.New("receipt not found, please try again")
	ErrUnexpected     = errors.New("unexpected error")

	// ErrNoQuote is returned by swap operations issued before a successful quote.
	ErrNoQuote = errors.New("trade info missing, calculate quote first")
	// ErrInvalidAmount is returned for nil, negative or unparsable amounts.
	ErrInvalidAmount = errors.New("amount must be non-nil and positive")
)

var known = []error{
	ErrRoutingUnavailable,
	ErrNoRouteFound,
	ErrInsufficientLiquidity,
	ErrWalletNotConnected,
	ErrApprovalFailed,
	ErrTransactionRejected,
	ErrReceiptMissing,
	ErrUnexpected,
	ErrNoQuote,
	ErrInvalidAmount,
}

// Classify returns err unchanged when it already belongs to the engine's
// error taxonomy, and wraps it in ErrUnexpected otherwise.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrUnexpected, err)
}
