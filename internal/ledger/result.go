package ledger

import "time"

// SettlementResult is what a settlement reports back to the call-control collaborator.
// A replayed settlement returns the result recorded by the original one.
type SettlementResult struct {
	CorrelationID string `json:"correlation_id"`
	CallerID      string `json:"caller_id"`
	ReceiverID    string `json:"receiver_id,omitempty"`
	PlanID        string `json:"plan_id,omitempty"`

	AmountCharged      int64 `json:"amount_charged"`
	CommissionTaken    int64 `json:"commission_taken"`
	ReceiverCredited   int64 `json:"receiver_credited"`
	CallerBalanceAfter int64 `json:"caller_balance_after"`

	// PlanMinutesUsed is the part covered by plan allotments at zero cash cost.
	PlanMinutesUsed int64 `json:"plan_minutes_used,omitempty"`
	// CashMinutes is the billed duration, decimal string (e.g. "2.3").
	CashMinutes string `json:"cash_minutes,omitempty"`

	RatePerMinute     int64  `json:"rate_per_minute"`
	CommissionPercent string `json:"commission_percent"`

	SettledAt time.Time `json:"settled_at"`
}

type FundingStatus string

const (
	FundingPending   FundingStatus = "PENDING"
	FundingCompleted FundingStatus = "COMPLETED"
	FundingFailed    FundingStatus = "FAILED"
)

// FundingResult is emitted after a funding confirmation is applied (or recognised as a replay).
type FundingResult struct {
	MerchantTransactionID string        `json:"merchant_transaction_id"`
	UserID                string        `json:"user_id"`
	PlanID                string        `json:"plan_id,omitempty"`
	Status                FundingStatus `json:"status"`
	Amount                int64         `json:"amount"`

	BalanceAfter    int64 `json:"balance_after"`
	PlanMinutesLeft int64 `json:"plan_minutes_left,omitempty"`

	// Duplicate is true when the confirmation had already been processed.
	Duplicate bool `json:"duplicate"`

	ProcessedAt time.Time `json:"processed_at"`
}
