package domain

import "errors"

// Quote errors. Always fatal to the quoting attempt.
var (
	ErrInvalidRateBounds = errors.New("quote: probed low rate exceeds high rate")
	ErrZeroRate          = errors.New("quote: probed rate must be positive")
	ErrPacketTooSmall    = errors.New("quote: max packet amount is below one source unit")
	ErrAmountTooSmall    = errors.New("quote: counterpart amount rounds to zero")
	ErrAmountOverflow    = errors.New("quote: counterpart amount overflows uint64")
)

// Lifecycle errors. Surfaced to the caller, never retried.
var (
	ErrAlreadyTerminal = errors.New("payment is already in a terminal state")
	ErrTooLate         = errors.New("payment can no longer be cancelled")
	ErrConflict        = errors.New("payment was modified concurrently")
)

// Generic
var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrAssetMismatch       = errors.New("amounts belong to different assets")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrProbeUnavailable    = errors.New("rate probe unavailable")
	ErrInvalidTransition   = errors.New("outcome not valid for current state")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrNotTerminal         = errors.New("payment is not settled in a terminal state")
)

var quoteErrors = []error{ErrInvalidRateBounds, ErrZeroRate, ErrPacketTooSmall, ErrAmountTooSmall, ErrAmountOverflow}

var lifecycleErrors = []error{ErrAlreadyTerminal, ErrTooLate, ErrConflict}

// IsQuoteError reports whether err comes from the quote engine.
func IsQuoteError(err error) bool {
	for _, e := range quoteErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

func IsLifecycleError(err error) bool {
	for _, e := range lifecycleErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
