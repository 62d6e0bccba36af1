package wallet

import (
	"context"
	"time"
)

// Store owns durable wallet state.
//
// Money invariants:
// - Wallet, EarningWallet and PendingTransaction rows change only inside WithUnit.
// - Logs (deductions, recharges, credits) are append-only.
// - A unit either commits every staged write or none of them.
//
// Concurrency:
// - Writes are optimistic. Put* carries the version that was read; if the row moved
//   in the meantime the unit fails with ledger.ErrConcurrentModification and nothing
//   is written. Callers retry the whole read-check-write sequence.
// - A canceled context before commit aborts the unit with no side effects.
type Store interface {
	Reader

	WithUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ExpirePlans moves every active allotment with ExpiresAt <= now to expired,
	// bumping the owning wallet's version. Balances are untouched.
	ExpirePlans(ctx context.Context, now time.Time) (int, error)
}

// Reader is the read-only view used by reporting and by replay fast paths.
// Missing wallets and earning wallets are ledger.ErrNotFound.
type Reader interface {
	GetWallet(ctx context.Context, userID string) (Wallet, error)
	GetEarningWallet(ctx context.Context, userID string) (EarningWallet, error)
	GetPendingTransaction(ctx context.Context, merchantTransactionID string) (PendingTransaction, error)
	FindDeduction(ctx context.Context, userID, correlationID string) (DeductionRecord, bool, error)

	ListDeductions(ctx context.Context, userID string) ([]DeductionRecord, error)
	ListCredits(ctx context.Context, userID string) ([]CreditRecord, error)
	ListRecharges(ctx context.Context, userID string) ([]RechargeRecord, error)
}

// Tx is one atomic unit of work. Reads observe the unit's own staged writes.
type Tx interface {
	GetWallet(ctx context.Context, userID string) (Wallet, error)
	GetEarningWallet(ctx context.Context, userID string) (EarningWallet, error)
	GetPendingTransaction(ctx context.Context, merchantTransactionID string) (PendingTransaction, error)
	FindDeduction(ctx context.Context, userID, correlationID string) (DeductionRecord, bool, error)

	// Put* writes the full record. Version must be the version read (0 for a new record).
	PutWallet(ctx context.Context, w Wallet) error
	PutEarningWallet(ctx context.Context, e EarningWallet) error
	PutPendingTransaction(ctx context.Context, p PendingTransaction) error

	AppendDeduction(ctx context.Context, d DeductionRecord) error
	AppendRecharge(ctx context.Context, r RechargeRecord) error
	AppendCredit(ctx context.Context, c CreditRecord) error
}
