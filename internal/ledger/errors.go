package ledger

import (
	"context"
	"errors"
)

// Failure taxonomy shared by the rate resolver, wallet store, billing and funding.
// Every failure reported to an invoker wraps exactly one of these.
var (
	ErrRateNotFound      = errors.New("ledger: rate not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrPlanNotFound      = errors.New("ledger: plan not found")
	ErrPlanExpired       = errors.New("ledger: plan expired")
	ErrPlanExhausted     = errors.New("ledger: plan exhausted")
	ErrInvalidInput      = errors.New("ledger: invalid input")

	// ErrLedgerBusy means the records could not be acquired in time, or conflicts
	// persisted past the retry budget. Retryable by the invoker.
	ErrLedgerBusy = errors.New("ledger: busy")

	// ErrConcurrentModification is internal: a record changed between read and write.
	// The orchestrator retries it and surfaces ErrLedgerBusy once retries run out.
	ErrConcurrentModification = errors.New("ledger: concurrent modification")

	ErrNotFound           = errors.New("ledger: not found")
	ErrUnknownTransaction = errors.New("ledger: unknown merchant transaction")
)

// Kind codes. Keep stable; they appear in HTTP responses and notifications.
const (
	KindRateNotFound           = "rate_not_found"
	KindInsufficientFunds      = "insufficient_funds"
	KindPlanNotFound           = "plan_not_found"
	KindPlanExpired            = "plan_expired"
	KindPlanExhausted          = "plan_exhausted"
	KindInvalidInput           = "invalid_input"
	KindLedgerBusy             = "ledger_busy"
	KindConcurrentModification = "concurrent_modification"
	KindNotFound               = "not_found"
	KindUnknownTransaction     = "unknown_transaction"
	KindCanceled               = "canceled"
	KindInternal               = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrRateNotFound, KindRateNotFound},
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrPlanNotFound, KindPlanNotFound},
	{ErrPlanExpired, KindPlanExpired},
	{ErrPlanExhausted, KindPlanExhausted},
	{ErrInvalidInput, KindInvalidInput},
	{ErrLedgerBusy, KindLedgerBusy},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrUnknownTransaction, KindUnknownTransaction},
	{ErrNotFound, KindNotFound},
}

// Kind returns the stable code for err, or "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// IsRetryable reports whether the invoker may retry the same request shortly.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerBusy) || errors.Is(err, ErrConcurrentModification)
}

// IsPlanUnusable reports whether err means the requested plan cannot cover minutes.
func IsPlanUnusable(err error) bool {
	return errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrPlanExpired) ||
		errors.Is(err, ErrPlanExhausted)
}
