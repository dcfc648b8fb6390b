package types

import "github.com/ethereum/go-ethereum/common"

// LoaderPhase indicates what the swap controller is currently doing
type LoaderPhase uint8

const (
	LoaderNone LoaderPhase = iota
	LoaderCalculatingQuote
	LoaderApproving
	LoaderSwapping
)

func (l LoaderPhase) String() string {
	switch l {
	case LoaderCalculatingQuote:
		return "calculating_quote"
	case LoaderApproving:
		return "approving"
	case LoaderSwapping:
		return "swapping"
	default:
		return "none"
	}
}

// State is the swap controller's observable state. It is replaced wholesale
// on every mutation.
type State struct {
	Loader        LoaderPhase
	Error         string
	ApproveTxHash common.Hash
	SwapTxHash    common.Hash
	Quote         *Quote
}

// StatePatch describes a partial state update. A nil field is left
// untouched; a pointer to a zero value clears the field.
type StatePatch struct {
	Loader        *LoaderPhase
	Error         *string
	ApproveTxHash *common.Hash
	SwapTxHash    *common.Hash
	Quote         *Quote
	// ClearQuote drops the cached quote; it wins over Quote
	ClearQuote bool
}

// Apply returns a new state with the patch merged in
func (s State) Apply(p StatePatch) State {
	next := s
	if p.Loader != nil {
		next.Loader = *p.Loader
	}
	if p.Error != nil {
		next.Error = *p.Error
	}
	if p.ApproveTxHash != nil {
		next.ApproveTxHash = *p.ApproveTxHash
	}
	if p.SwapTxHash != nil {
		next.SwapTxHash = *p.SwapTxHash
	}
	if p.Quote != nil {
		q := *p.Quote
		next.Quote = &q
	}
	if p.ClearQuote {
		next.Quote = nil
	}
	return next
}

// Ptr returns a pointer to v, for building patches
func Ptr[T any](v T) *T {
	return &v
}
