package reporting

import (
	"time"

	"call-ledger/internal/wallet"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// WalletSnapshot is a read-only view of a caller wallet and its history.
type WalletSnapshot struct {
	UserID     string                   `json:"user_id"`
	Balance    int64                    `json:"balance"`
	Version    int64                    `json:"version"`
	Plans      []wallet.PlanAllotment   `json:"plans"`
	Deductions []wallet.DeductionRecord `json:"deductions"`
	Credits    []wallet.CreditRecord    `json:"credits"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// EarningSnapshot is a read-only view of a receiver's accrued earnings.
type EarningSnapshot struct {
	UserID    string                  `json:"user_id"`
	Balance   int64                   `json:"balance"`
	Version   int64                   `json:"version"`
	Recharges []wallet.RechargeRecord `json:"recharges"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// SettlementSummaryRequest asks for spend and earnings of one user over a range.
// Aggregates are derived from the append-only logs only.
type SettlementSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type SettlementSummary struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`

	Settlements      int   `json:"settlements"`
	SpentMinor       int64 `json:"spent_minor"`
	CommissionMinor  int64 `json:"commission_minor"`
	PlanMinutesUsed  int64 `json:"plan_minutes_used"`
	FundedMinor      int64 `json:"funded_minor"`
	EarnedMinor      int64 `json:"earned_minor"`
	EarningRecharges int   `json:"earning_recharges"`

	// NetDeltaMinor is the change of the spendable balance: funded - spent.
	NetDeltaMinor int64 `json:"net_delta_minor"`
}
