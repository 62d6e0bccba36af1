package wallet

import (
	"context"
	"errors"
	"testing"
	"time"

	"call-ledger/internal/ledger"
)

func TestMemoryStore_CommitAppliesAllWrites(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(Wallet{UserID: "u1", Balance: 100})
	ctx := context.Background()

	err := s.WithUnit(ctx, func(ctx context.Context, tx Tx) error {
		w, err := tx.GetWallet(ctx, "u1")
		if err != nil {
			return err
		}
		w.Balance -= 30
		if err := tx.PutWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.PutEarningWallet(ctx, EarningWallet{UserID: "u2", Balance: 27}); err != nil {
			return err
		}
		if err := tx.AppendDeduction(ctx, DeductionRecord{ID: "d1", UserID: "u1", CorrelationID: "c1", Amount: 30, BalanceAfter: 70}); err != nil {
			return err
		}
		return tx.AppendRecharge(ctx, RechargeRecord{ID: "r1", UserID: "u2", SourceCallerID: "u1", CorrelationID: "c1", Amount: 27})
	})
	if err != nil {
		t.Fatalf("unit: %v", err)
	}

	w, _ := s.GetWallet(ctx, "u1")
	if w.Balance != 70 || w.Version != 2 {
		t.Fatalf("expected balance 70 version 2, got %d v%d", w.Balance, w.Version)
	}
	e, err := s.GetEarningWallet(ctx, "u2")
	if err != nil || e.Balance != 27 || e.Version != 1 {
		t.Fatalf("expected earning 27 v1, got %+v err=%v", e, err)
	}
	if d, ok, _ := s.FindDeduction(ctx, "u1", "c1"); !ok || d.Amount != 30 {
		t.Fatalf("expected deduction recorded, got %+v ok=%v", d, ok)
	}
	if rs, _ := s.ListRecharges(ctx, "u2"); len(rs) != 1 {
		t.Fatalf("expected 1 recharge, got %d", len(rs))
	}
}

func TestMemoryStore_FailedUnitLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(Wallet{UserID: "u1", Balance: 100})
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithUnit(ctx, func(ctx context.Context, tx Tx) error {
		w, _ := tx.GetWallet(ctx, "u1")
		w.Balance = 0
		_ = tx.PutWallet(ctx, w)
		_ = tx.AppendDeduction(ctx, DeductionRecord{ID: "d1", UserID: "u1", CorrelationID: "c1", Amount: 100})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	w, _ := s.GetWallet(ctx, "u1")
	if w.Balance != 100 || w.Version != 1 {
		t.Fatalf("expected untouched wallet, got %+v", w)
	}
	if ds, _ := s.ListDeductions(ctx, "u1"); len(ds) != 0 {
		t.Fatalf("expected no deductions, got %d", len(ds))
	}
}

func TestMemoryStore_StaleVersionConflicts(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(Wallet{UserID: "u1", Balance: 100})
	ctx := context.Background()

	stale, _ := s.GetWallet(ctx, "u1")

	// Another unit commits first.
	if err := s.WithUnit(ctx, func(ctx context.Context, tx Tx) error {
		w, _ := tx.GetWallet(ctx, "u1")
		w.Balance = 90
		return tx.PutWallet(ctx, w)
	}); err != nil {
		t.Fatalf("first unit: %v", err)
	}

	err := s.WithUnit(ctx, func(ctx context.Context, tx Tx) error {
		stale.Balance = 50
		return tx.PutWallet(ctx, stale)
	})
	if !errors.Is(err, ledger.ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	w, _ := s.GetWallet(ctx, "u1")
	if w.Balance != 90 {
		t.Fatalf("expected 90, got %d", w.Balance)
	}
}

func TestMemoryStore_DuplicateDeductionConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	add := func() error {
		return s.WithUnit(ctx, func(ctx context.Context, tx Tx) error {
			return tx.AppendDeduction(ctx, DeductionRecord{ID: "d", UserID: "u1", CorrelationID: "c1"})
		})
	}
	if err := add(); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := add(); !errors.Is(err, ledger.ErrConcurrentModification) {
		t.Fatalf("expected conflict on duplicate correlation id, got %v", err)
	}
}

func TestMemoryStore_CanceledBeforeCommit(t *testing.T) {
	s := NewMemoryStore()
	s.Seed(Wallet{UserID: "u1", Balance: 100})
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithUnit(ctx, func(ctx context.Context, tx Tx) error {
		w, _ := tx.GetWallet(ctx, "u1")
		w.Balance = 10
		_ = tx.PutWallet(ctx, w)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	w, _ := s.GetWallet(context.Background(), "u1")
	if w.Balance != 100 {
		t.Fatalf("expected untouched balance, got %d", w.Balance)
	}
}

func TestMemoryStore_RejectsNegativeBalance(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithUnit(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.PutWallet(ctx, Wallet{UserID: "u1", Balance: -1})
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestMemoryStore_MissingRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.GetWallet(ctx, "nobody"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetPendingTransaction(ctx, "m1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, ok, err := s.FindDeduction(ctx, "nobody", "c"); ok || err != nil {
		t.Fatalf("expected absent deduction, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStore_ExpirePlans(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Seed(Wallet{
		UserID:  "u1",
		Balance: 40,
		Plans: []PlanAllotment{
			{ID: "a1", PlanID: "p", MinutesLeft: 5, Status: PlanStatusActive, ExpiresAt: now.Add(-time.Minute)},
			{ID: "a2", PlanID: "p", MinutesLeft: 5, Status: PlanStatusActive, ExpiresAt: now.Add(time.Hour)},
			{ID: "a3", PlanID: "q", MinutesLeft: 5, Status: PlanStatusActive},
		},
	})
	s.Seed(Wallet{UserID: "u2", Balance: 1})

	n, err := s.ExpirePlans(context.Background(), now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	w, _ := s.GetWallet(context.Background(), "u1")
	if w.Plans[0].Status != PlanStatusExpired || w.Plans[1].Status != PlanStatusActive || w.Plans[2].Status != PlanStatusActive {
		t.Fatalf("unexpected statuses: %+v", w.Plans)
	}
	if w.Balance != 40 || w.Version != 2 {
		t.Fatalf("expected balance untouched and version bumped, got %d v%d", w.Balance, w.Version)
	}
	u2, _ := s.GetWallet(context.Background(), "u2")
	if u2.Version != 1 {
		t.Fatalf("expected untouched wallet to keep version, got %d", u2.Version)
	}

	// Second sweep is a no-op.
	if n, _ := s.ExpirePlans(context.Background(), now); n != 0 {
		t.Fatalf("expected idempotent sweep, got %d", n)
	}
}

func TestPlanAllotmentExpiry(t *testing.T) {
	now := time.Now()
	p := PlanAllotment{Status: PlanStatusActive, MinutesLeft: 3, ExpiresAt: now.Add(-time.Second)}
	if !p.Expired(now) || p.Usable(now) {
		t.Fatalf("expected unswept past-expiry allotment to be expired")
	}
	p.ExpiresAt = time.Time{}
	if p.Expired(now) || !p.Usable(now) {
		t.Fatalf("expected non-expiring allotment to be usable")
	}
	p.MinutesLeft = 0
	if p.Usable(now) {
		t.Fatalf("expected empty allotment to be unusable")
	}
}
