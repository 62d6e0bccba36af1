package reporting

import (
	"context"
	"errors"
	"fmt"

	"call-ledger/internal/ledger"
	"call-ledger/internal/rates"
	"call-ledger/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// RateLister exposes the current rate tables.
type RateLister interface {
	ListRates(ctx context.Context) (rates.Table, error)
}

// Service serves read-only admin views. It never writes.
type Service struct {
	wallets wallet.Reader
	rates   RateLister
}

func NewService(wallets wallet.Reader, rates RateLister) *Service {
	return &Service{wallets: wallets, rates: rates}
}

func (s *Service) WalletSnapshot(ctx context.Context, userID string) (WalletSnapshot, error) {
	if userID == "" {
		return WalletSnapshot{}, fmt.Errorf("%w: user_id required", ErrInvalidRequest)
	}
	w, err := s.wallets.GetWallet(ctx, userID)
	if err != nil {
		return WalletSnapshot{}, err
	}
	deductions, err := s.wallets.ListDeductions(ctx, userID)
	if err != nil {
		return WalletSnapshot{}, err
	}
	credits, err := s.wallets.ListCredits(ctx, userID)
	if err != nil {
		return WalletSnapshot{}, err
	}
	plans := w.Plans
	if plans == nil {
		plans = []wallet.PlanAllotment{}
	}
	return WalletSnapshot{
		UserID:     w.UserID,
		Balance:    w.Balance,
		Version:    w.Version,
		Plans:      plans,
		Deductions: deductions,
		Credits:    credits,
		UpdatedAt:  w.UpdatedAt,
	}, nil
}

func (s *Service) EarningSnapshot(ctx context.Context, userID string) (EarningSnapshot, error) {
	if userID == "" {
		return EarningSnapshot{}, fmt.Errorf("%w: user_id required", ErrInvalidRequest)
	}
	e, err := s.wallets.GetEarningWallet(ctx, userID)
	if err != nil {
		return EarningSnapshot{}, err
	}
	recharges, err := s.wallets.ListRecharges(ctx, userID)
	if err != nil {
		return EarningSnapshot{}, err
	}
	return EarningSnapshot{
		UserID:    e.UserID,
		Balance:   e.Balance,
		Version:   e.Version,
		Recharges: recharges,
		UpdatedAt: e.UpdatedAt,
	}, nil
}

func (s *Service) SettlementSummary(ctx context.Context, req SettlementSummaryRequest) (SettlementSummary, error) {
	if req.UserID == "" {
		return SettlementSummary{}, fmt.Errorf("%w: user_id required", ErrInvalidRequest)
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SettlementSummary{}, fmt.Errorf("%w: range must be non-empty", ErrInvalidRequest)
	}

	out := SettlementSummary{UserID: req.UserID, Range: req.Range}

	deductions, err := s.wallets.ListDeductions(ctx, req.UserID)
	if err != nil {
		return SettlementSummary{}, err
	}
	for _, d := range deductions {
		if !req.Range.contains(d.CreatedAt) {
			continue
		}
		out.Settlements++
		out.SpentMinor += d.Amount
		out.CommissionMinor += d.Commission
		out.PlanMinutesUsed += d.PlanMinutes
	}

	credits, err := s.wallets.ListCredits(ctx, req.UserID)
	if err != nil {
		return SettlementSummary{}, err
	}
	for _, c := range credits {
		if req.Range.contains(c.CreatedAt) {
			out.FundedMinor += c.Amount
		}
	}

	recharges, err := s.wallets.ListRecharges(ctx, req.UserID)
	if err != nil {
		return SettlementSummary{}, err
	}
	for _, r := range recharges {
		if req.Range.contains(r.CreatedAt) {
			out.EarningRecharges++
			out.EarnedMinor += r.Amount
		}
	}

	out.NetDeltaMinor = out.FundedMinor - out.SpentMinor
	return out, nil
}

func (s *Service) ListRates(ctx context.Context) (rates.Table, error) {
	if s.rates == nil {
		return rates.Table{}, errors.New("reporting: rates not configured")
	}
	return s.rates.ListRates(ctx)
}

// IsNotFound reports whether err means the requested record does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ledger.ErrNotFound) }
