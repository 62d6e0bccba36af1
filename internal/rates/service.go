package rates

import (
	"context"
	"fmt"
	"strings"

	"call-ledger/internal/ledger"

	"github.com/shopspring/decimal"
)

// Resolver returns the applicable rate for a call.
//
// Contract:
// - Pure read, no side effects; safe for concurrent use.
// - Precedence: CallRatePerMin (category, type) > CallRatePerMin (category, *) > CallRate (category).
// - Inactive rows never match. No match is ledger.ErrRateNotFound; callers must not bill without a rate.
type Resolver struct {
	repo     RateRepository
	profiles ProfileRepository
}

func NewResolver(repo RateRepository, profiles ProfileRepository) *Resolver {
	return &Resolver{repo: repo, profiles: profiles}
}

// RateRepository abstracts rate-table persistence.
type RateRepository interface {
	FindPerMinuteRate(ctx context.Context, category, userType string) (CallRatePerMin, bool, error)
	FindCallRate(ctx context.Context, category string) (CallRate, bool, error)
	ListRates(ctx context.Context) (Table, error)
}

// ProfileRepository returns the category/type of a user.
type ProfileRepository interface {
	FindProfile(ctx context.Context, userID string) (Profile, bool, error)
}

var hundred = decimal.NewFromInt(100)

func (r *Resolver) ResolveRate(ctx context.Context, q RateQuery) (Rate, error) {
	category, userType := strings.TrimSpace(q.PayerCategory), strings.TrimSpace(q.PayerType)
	if strings.TrimSpace(q.PayeeCategory) != "" {
		category, userType = strings.TrimSpace(q.PayeeCategory), strings.TrimSpace(q.PayeeType)
	}
	if category == "" {
		return Rate{}, fmt.Errorf("resolve rate: category required: %w", ledger.ErrInvalidInput)
	}

	if userType != "" && userType != AnyType {
		row, ok, err := r.repo.FindPerMinuteRate(ctx, category, userType)
		if err != nil {
			return Rate{}, err
		}
		if ok && row.Status == RateStatusActive {
			return validate(Rate{
				Category:          category,
				Type:              userType,
				Source:            SourcePerMinExact,
				RatePerMinute:     row.RatePerMinute,
				CommissionPercent: row.CommissionPercent,
			})
		}
	}

	row, ok, err := r.repo.FindPerMinuteRate(ctx, category, AnyType)
	if err != nil {
		return Rate{}, err
	}
	if ok && row.Status == RateStatusActive {
		return validate(Rate{
			Category:          category,
			Type:              AnyType,
			Source:            SourcePerMinCategory,
			RatePerMinute:     row.RatePerMinute,
			CommissionPercent: row.CommissionPercent,
		})
	}

	general, ok, err := r.repo.FindCallRate(ctx, category)
	if err != nil {
		return Rate{}, err
	}
	if ok && general.Status == RateStatusActive {
		return validate(Rate{
			Category:          category,
			Source:            SourceCallRate,
			RatePerMinute:     general.RatePerMinute,
			CommissionPercent: general.CommissionPercent,
		})
	}

	return Rate{}, fmt.Errorf("resolve rate for %s/%s: %w", category, userType, ledger.ErrRateNotFound)
}

// ResolveForUsers prices a call between payer and payee by their profiles.
// payeeID may be empty, in which case the payer's profile prices the call.
func (r *Resolver) ResolveForUsers(ctx context.Context, payerID, payeeID string) (Rate, error) {
	if r.profiles == nil {
		return Rate{}, fmt.Errorf("resolve rate: profile directory not configured: %w", ledger.ErrRateNotFound)
	}
	payer, ok, err := r.profiles.FindProfile(ctx, payerID)
	if err != nil {
		return Rate{}, err
	}
	if !ok {
		return Rate{}, fmt.Errorf("resolve rate: no profile for payer %s: %w", payerID, ledger.ErrRateNotFound)
	}

	q := RateQuery{PayerCategory: payer.Category, PayerType: payer.Type}
	if payeeID != "" {
		payee, ok, err := r.profiles.FindProfile(ctx, payeeID)
		if err != nil {
			return Rate{}, err
		}
		if !ok {
			return Rate{}, fmt.Errorf("resolve rate: no profile for payee %s: %w", payeeID, ledger.ErrRateNotFound)
		}
		q.PayeeCategory, q.PayeeType = payee.Category, payee.Type
	}
	return r.ResolveRate(ctx, q)
}

func (r *Resolver) ListRates(ctx context.Context) (Table, error) {
	return r.repo.ListRates(ctx)
}

// A misconfigured row is treated as missing rather than billed.
func validate(rt Rate) (Rate, error) {
	if rt.RatePerMinute < 0 || rt.CommissionPercent.IsNegative() || rt.CommissionPercent.GreaterThan(hundred) {
		return Rate{}, fmt.Errorf("rate %s/%s misconfigured: %w", rt.Category, rt.Type, ledger.ErrRateNotFound)
	}
	return rt, nil
}
