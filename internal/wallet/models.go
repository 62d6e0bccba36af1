package wallet

import (
	"time"

	"call-ledger/internal/ledger"
)

// Wallet is the spendable balance of a user acting as a caller.
//
// Invariants:
// - Balance never goes negative.
// - Every balance change has a matching DeductionRecord or CreditRecord written in the same unit.
// - Version increases by one on every committed change; writers must present the version they read.
type Wallet struct {
	UserID  string `json:"user_id" db:"user_id"`
	Balance int64  `json:"balance" db:"balance_minor"`

	// Plans is ordered by purchase time; consumption walks it front to back.
	Plans []PlanAllotment `json:"plans"`

	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (w Wallet) clone() Wallet {
	out := w
	out.Plans = append([]PlanAllotment(nil), w.Plans...)
	return out
}

type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusExpired   PlanStatus = "expired"   // terminal, set by the expiry sweep
	PlanStatusExhausted PlanStatus = "exhausted" // terminal, set when minutes reach zero
)

// PlanAllotment is a block of prepaid minutes.
type PlanAllotment struct {
	ID          string     `json:"id" db:"id"`
	PlanID      string     `json:"plan_id" db:"plan_id"`
	MinutesLeft int64      `json:"minutes_left" db:"minutes_left"`
	Status      PlanStatus `json:"status" db:"status"`

	// ExpiresAt zero means the allotment never expires.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Expired reports whether the allotment is expired at now, swept or not.
func (p PlanAllotment) Expired(now time.Time) bool {
	if p.Status == PlanStatusExpired {
		return true
	}
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Usable reports whether minutes can still be drawn from the allotment.
func (p PlanAllotment) Usable(now time.Time) bool {
	return p.Status == PlanStatusActive && p.MinutesLeft > 0 && !p.Expired(now)
}

// DeductionRecord is an append-only entry on the caller side of a settlement.
// Amount is always the balance delta applied in the same unit (possibly zero
// for plan-covered minutes). The remaining fields reproduce the settlement result.
type DeductionRecord struct {
	ID            string `json:"id" db:"id"`
	UserID        string `json:"user_id" db:"user_id"`
	CorrelationID string `json:"correlation_id" db:"correlation_id"`
	Counterparty  string `json:"counterparty,omitempty" db:"counterparty"`
	PlanID        string `json:"plan_id,omitempty" db:"plan_id"`

	Amount           int64 `json:"amount" db:"amount_minor"`
	Commission       int64 `json:"commission" db:"commission_minor"`
	ReceiverCredited int64 `json:"receiver_credited" db:"receiver_credited_minor"`
	BalanceAfter     int64 `json:"balance_after" db:"balance_after_minor"`

	PlanMinutes       int64  `json:"plan_minutes" db:"plan_minutes"`
	CashMinutes       string `json:"cash_minutes" db:"cash_minutes"`
	RatePerMinute     int64  `json:"rate_per_minute" db:"rate_per_minute"`
	CommissionPercent string `json:"commission_percent" db:"commission_percent"`
	// FallbackToCash records whether a plan deduction allowed a cash fallback.
	FallbackToCash bool `json:"fallback_to_cash,omitempty" db:"fallback_to_cash"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Result rebuilds the settlement result recorded by d.
func (d DeductionRecord) Result() ledger.SettlementResult {
	return ledger.SettlementResult{
		CorrelationID:      d.CorrelationID,
		CallerID:           d.UserID,
		ReceiverID:         d.Counterparty,
		PlanID:             d.PlanID,
		AmountCharged:      d.Amount,
		CommissionTaken:    d.Commission,
		ReceiverCredited:   d.ReceiverCredited,
		CallerBalanceAfter: d.BalanceAfter,
		PlanMinutesUsed:    d.PlanMinutes,
		CashMinutes:        d.CashMinutes,
		RatePerMinute:      d.RatePerMinute,
		CommissionPercent:  d.CommissionPercent,
		SettledAt:          d.CreatedAt,
	}
}

// CreditRecord is an append-only top-up of a caller wallet from a confirmed funding event.
type CreditRecord struct {
	ID                    string    `json:"id" db:"id"`
	UserID                string    `json:"user_id" db:"user_id"`
	MerchantTransactionID string    `json:"merchant_transaction_id" db:"merchant_transaction_id"`
	Amount                int64     `json:"amount" db:"amount_minor"`
	BalanceAfter          int64     `json:"balance_after" db:"balance_after_minor"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// EarningWallet is the accrued earnings of a user acting as a receiver.
// Every recharge matches exactly one caller deduction with the same correlation id.
type EarningWallet struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance_minor"`
	Version   int64     `json:"version" db:"version"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RechargeRecord is an append-only credit on the receiver side of a settlement.
type RechargeRecord struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	SourceCallerID string    `json:"source_caller_id" db:"source_caller_id"`
	CorrelationID  string    `json:"correlation_id" db:"correlation_id"`
	Amount         int64     `json:"amount" db:"amount_minor"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PendingTransaction is a funding request awaiting gateway confirmation.
// It leaves PENDING exactly once; Processed guards replays.
type PendingTransaction struct {
	MerchantTransactionID string               `json:"merchant_transaction_id" db:"merchant_transaction_id"`
	UserID                string               `json:"user_id" db:"user_id"`
	PlanID                string               `json:"plan_id,omitempty" db:"plan_id"`
	Amount                int64                `json:"amount" db:"amount_minor"`
	Status                ledger.FundingStatus `json:"status" db:"status"`
	Processed             bool                 `json:"processed" db:"processed"`

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
