package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/internal/rates"
	"call-ledger/internal/wallet"

	"github.com/shopspring/decimal"
)

type SettleCallRequest struct {
	CallerID        string          `json:"caller_id"`
	ReceiverID      string          `json:"receiver_id"`
	DurationMinutes decimal.Decimal `json:"duration_minutes"`
	CorrelationID   string          `json:"correlation_id"`
}

func (r SettleCallRequest) validate() error {
	switch {
	case strings.TrimSpace(r.CallerID) == "":
		return fmt.Errorf("caller_id required: %w", ledger.ErrInvalidInput)
	case strings.TrimSpace(r.ReceiverID) == "":
		return fmt.Errorf("receiver_id required: %w", ledger.ErrInvalidInput)
	case r.CallerID == r.ReceiverID:
		return fmt.Errorf("caller and receiver must differ: %w", ledger.ErrInvalidInput)
	case strings.TrimSpace(r.CorrelationID) == "":
		return fmt.Errorf("correlation_id required: %w", ledger.ErrInvalidInput)
	case !r.DurationMinutes.IsPositive():
		return fmt.Errorf("duration_minutes must be positive: %w", ledger.ErrInvalidInput)
	}
	return nil
}

// SettleCall bills a call segment per minute at the receiver's rate.
//
// A correlation id already settled with the same arguments returns the
// recorded result without touching either wallet.
func (s *Service) SettleCall(ctx context.Context, req SettleCallRequest) (ledger.SettlementResult, error) {
	if err := req.validate(); err != nil {
		return ledger.SettlementResult{}, err
	}

	st := settlement{
		kind:          "settle_call",
		callerID:      req.CallerID,
		receiverID:    req.ReceiverID,
		correlationID: req.CorrelationID,
		matches: func(d wallet.DeductionRecord) bool {
			return d.PlanID == "" && d.Counterparty == req.ReceiverID && sameMinutes(d, req.DurationMinutes)
		},
	}
	if res, ok, err := s.lookup(ctx, st); ok || err != nil {
		return res, err
	}

	// Rates are read before the unit; a change only affects settlements started after it.
	rate, err := s.rates.ResolveForUsers(ctx, req.CallerID, req.ReceiverID)
	if err != nil {
		return ledger.SettlementResult{}, err
	}
	split, err := ComputeSplit(req.DurationMinutes, rate.RatePerMinute, rate.CommissionPercent, true)
	if err != nil {
		return ledger.SettlementResult{}, err
	}

	st.apply = func(ctx context.Context, tx wallet.Tx, now time.Time) (wallet.DeductionRecord, error) {
		w, err := loadWallet(ctx, tx, req.CallerID)
		if err != nil {
			return wallet.DeductionRecord{}, err
		}
		d, err := debit(ctx, tx, w, wallet.DeductionRecord{
			CorrelationID:     req.CorrelationID,
			Counterparty:      req.ReceiverID,
			Amount:            split.Gross,
			Commission:        split.Commission,
			ReceiverCredited:  split.ReceiverCredit,
			CashMinutes:       req.DurationMinutes.String(),
			RatePerMinute:     rate.RatePerMinute,
			CommissionPercent: rate.CommissionPercent.String(),
		}, now)
		if err != nil {
			return wallet.DeductionRecord{}, err
		}
		return d, credit(ctx, tx, d)
	}
	return s.execute(ctx, st)
}

type DeductPlanRequest struct {
	CallerID      string `json:"caller_id"`
	PlanID        string `json:"plan_id"`
	Minutes       int64  `json:"minutes"`
	ReceiverID    string `json:"receiver_id,omitempty"`
	CorrelationID string `json:"correlation_id"`

	// FallbackToCash bills the whole request per minute when the plan is exhausted.
	// Expired plans always fail.
	FallbackToCash bool `json:"fallback_to_cash,omitempty"`
}

func (r DeductPlanRequest) validate() error {
	switch {
	case strings.TrimSpace(r.CallerID) == "":
		return fmt.Errorf("caller_id required: %w", ledger.ErrInvalidInput)
	case strings.TrimSpace(r.PlanID) == "":
		return fmt.Errorf("plan_id required: %w", ledger.ErrInvalidInput)
	case r.ReceiverID != "" && r.ReceiverID == r.CallerID:
		return fmt.Errorf("caller and receiver must differ: %w", ledger.ErrInvalidInput)
	case strings.TrimSpace(r.CorrelationID) == "":
		return fmt.Errorf("correlation_id required: %w", ledger.ErrInvalidInput)
	case r.Minutes <= 0:
		return fmt.Errorf("minutes must be positive: %w", ledger.ErrInvalidInput)
	}
	return nil
}

// DeductPlanMinutes consumes prepaid minutes of PlanID.
//
// When the plan runs short the remainder is billed per minute in the same
// unit; the receiver's commission split applies to that cash part only.
func (s *Service) DeductPlanMinutes(ctx context.Context, req DeductPlanRequest) (ledger.SettlementResult, error) {
	if err := req.validate(); err != nil {
		return ledger.SettlementResult{}, err
	}

	st := settlement{
		kind:          "deduct_plan",
		callerID:      req.CallerID,
		receiverID:    req.ReceiverID,
		correlationID: req.CorrelationID,
		matches: func(d wallet.DeductionRecord) bool {
			return d.PlanID == req.PlanID && d.Counterparty == req.ReceiverID &&
				d.FallbackToCash == req.FallbackToCash && sameMinutes(d, decimal.NewFromInt(req.Minutes))
		},
	}
	if res, ok, err := s.lookup(ctx, st); ok || err != nil {
		return res, err
	}

	// The rate is only needed when the plan runs short, which is known inside the unit.
	rate := s.lazyRate(req.CallerID, req.ReceiverID)

	st.apply = func(ctx context.Context, tx wallet.Tx, now time.Time) (wallet.DeductionRecord, error) {
		w, err := loadWallet(ctx, tx, req.CallerID)
		if err != nil {
			return wallet.DeductionRecord{}, err
		}
		alloc, err := Allocate(w.Plans, req.PlanID, req.Minutes, now, req.FallbackToCash)
		if err != nil {
			return wallet.DeductionRecord{}, err
		}
		w.Plans = alloc.Plans

		d := wallet.DeductionRecord{
			CorrelationID:     req.CorrelationID,
			Counterparty:      req.ReceiverID,
			PlanID:            req.PlanID,
			PlanMinutes:       alloc.Covered,
			CashMinutes:       decimal.NewFromInt(alloc.Remainder).String(),
			CommissionPercent: "0",
			FallbackToCash:    req.FallbackToCash,
		}
		if alloc.Remainder > 0 {
			rt, err := rate(ctx)
			if err != nil {
				return wallet.DeductionRecord{}, err
			}
			split, err := ComputeSplit(decimal.NewFromInt(alloc.Remainder), rt.RatePerMinute, rt.CommissionPercent, req.ReceiverID != "")
			if err != nil {
				return wallet.DeductionRecord{}, err
			}
			d.Amount = split.Gross
			d.Commission = split.Commission
			d.ReceiverCredited = split.ReceiverCredit
			d.RatePerMinute = rt.RatePerMinute
			d.CommissionPercent = rt.CommissionPercent.String()
		}

		d, err = debit(ctx, tx, w, d, now)
		if err != nil {
			return wallet.DeductionRecord{}, err
		}
		return d, credit(ctx, tx, d)
	}
	return s.execute(ctx, st)
}

// lazyRate resolves once per request, shared across retried units.
func (s *Service) lazyRate(payerID, payeeID string) func(ctx context.Context) (rates.Rate, error) {
	var (
		mu   sync.Mutex
		done bool
		rt   rates.Rate
	)
	return func(ctx context.Context) (rates.Rate, error) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return rt, nil
		}
		r, err := s.rates.ResolveForUsers(ctx, payerID, payeeID)
		if err != nil {
			return rates.Rate{}, err
		}
		rt, done = r, true
		return rt, nil
	}
}

func sameMinutes(d wallet.DeductionRecord, want decimal.Decimal) bool {
	cash, err := decimal.NewFromString(d.CashMinutes)
	if err != nil {
		return false
	}
	return cash.Add(decimal.NewFromInt(d.PlanMinutes)).Equal(want)
}
