package rates

import (
	"context"
	"errors"
	"testing"

	"call-ledger/internal/ledger"

	"github.com/shopspring/decimal"
)

func newTestResolver() (*Resolver, *MemoryRepo) {
	repo := NewMemoryRepo()
	return NewResolver(repo, repo), repo
}

func TestResolveRate_ExactBeatsCategoryWildcard(t *testing.T) {
	r, repo := newTestResolver()
	repo.PutPerMinuteRate(CallRatePerMin{Category: "astrologer", Type: AnyType, RatePerMinute: 8, CommissionPercent: decimal.NewFromInt(20)})
	repo.PutPerMinuteRate(CallRatePerMin{Category: "astrologer", Type: "premium", RatePerMinute: 15, CommissionPercent: decimal.NewFromInt(10)})

	got, err := r.ResolveRate(context.Background(), RateQuery{PayeeCategory: "astrologer", PayeeType: "premium"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.RatePerMinute != 15 || got.Source != SourcePerMinExact {
		t.Fatalf("expected exact row, got %+v", got)
	}

	got, err = r.ResolveRate(context.Background(), RateQuery{PayeeCategory: "astrologer", PayeeType: "basic"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.RatePerMinute != 8 || got.Source != SourcePerMinCategory {
		t.Fatalf("expected wildcard row, got %+v", got)
	}
}

func TestResolveRate_PerMinuteBeatsGeneralCallRate(t *testing.T) {
	r, repo := newTestResolver()
	repo.PutCallRate(CallRate{Category: "listener", RatePerMinute: 5, CommissionPercent: decimal.NewFromInt(30)})
	repo.PutPerMinuteRate(CallRatePerMin{Category: "listener", Type: "verified", RatePerMinute: 12, CommissionPercent: decimal.NewFromInt(10)})

	got, err := r.ResolveRate(context.Background(), RateQuery{PayeeCategory: "listener", PayeeType: "verified"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.RatePerMinute != 12 {
		t.Fatalf("expected specific rate 12, got %d", got.RatePerMinute)
	}

	got, err = r.ResolveRate(context.Background(), RateQuery{PayeeCategory: "listener", PayeeType: "new"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.Source != SourceCallRate || got.RatePerMinute != 5 {
		t.Fatalf("expected general call rate, got %+v", got)
	}
}

func TestResolveRate_InactiveAndMissingRows(t *testing.T) {
	r, repo := newTestResolver()
	repo.PutPerMinuteRate(CallRatePerMin{Category: "coach", Type: "gold", RatePerMinute: 9, CommissionPercent: decimal.NewFromInt(10), Status: RateStatusInactive})

	_, err := r.ResolveRate(context.Background(), RateQuery{PayeeCategory: "coach", PayeeType: "gold"})
	if !errors.Is(err, ledger.ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}

	_, err = r.ResolveRate(context.Background(), RateQuery{})
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResolveRate_RejectsMisconfiguredCommission(t *testing.T) {
	r, repo := newTestResolver()
	repo.PutCallRate(CallRate{Category: "coach", RatePerMinute: 9, CommissionPercent: decimal.NewFromInt(120)})

	if _, err := r.ResolveRate(context.Background(), RateQuery{PayerCategory: "coach"}); !errors.Is(err, ledger.ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound, got %v", err)
	}
}

func TestResolveForUsers_UsesPayeeProfile(t *testing.T) {
	r, repo := newTestResolver()
	repo.PutProfile(Profile{UserID: "caller", Category: "user", Type: "regular"})
	repo.PutProfile(Profile{UserID: "host", Category: "astrologer", Type: "premium"})
	repo.PutPerMinuteRate(CallRatePerMin{Category: "user", Type: "regular", RatePerMinute: 1, CommissionPercent: decimal.Zero})
	repo.PutPerMinuteRate(CallRatePerMin{Category: "astrologer", Type: "premium", RatePerMinute: 10, CommissionPercent: decimal.NewFromInt(10)})

	got, err := r.ResolveForUsers(context.Background(), "caller", "host")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.RatePerMinute != 10 {
		t.Fatalf("expected payee rate 10, got %d", got.RatePerMinute)
	}

	got, err = r.ResolveForUsers(context.Background(), "caller", "")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.RatePerMinute != 1 {
		t.Fatalf("expected payer rate 1, got %d", got.RatePerMinute)
	}

	if _, err := r.ResolveForUsers(context.Background(), "caller", "ghost"); !errors.Is(err, ledger.ErrRateNotFound) {
		t.Fatalf("expected ErrRateNotFound for unknown payee, got %v", err)
	}
}

func TestListRates_Sorted(t *testing.T) {
	r, repo := newTestResolver()
	repo.PutCallRate(CallRate{Category: "b", RatePerMinute: 2})
	repo.PutCallRate(CallRate{Category: "a", RatePerMinute: 1})

	tbl, err := r.ListRates(context.Background())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(tbl.CallRates) != 2 || tbl.CallRates[0].Category != "a" {
		t.Fatalf("unexpected table: %+v", tbl)
	}
}
