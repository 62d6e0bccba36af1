package billing

import (
	"errors"
	"testing"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/internal/wallet"

	"github.com/shopspring/decimal"
)

func TestComputeSplit(t *testing.T) {
	cases := []struct {
		name        string
		minutes     string
		rate        int64
		pct         string
		hasReceiver bool
		want        Split
	}{
		{"partial minute rounds up", "2.3", 10, "10", true, Split{Gross: 23, Commission: 2, ReceiverCredit: 21}},
		{"tiny fraction still charges", "0.01", 7, "10", true, Split{Gross: 1, Commission: 0, ReceiverCredit: 1}},
		{"commission floors", "1", 99, "12.5", true, Split{Gross: 99, Commission: 12, ReceiverCredit: 87}},
		{"no receiver keeps gross", "2", 10, "10", false, Split{Gross: 20, Commission: 20}},
		{"zero rate", "5", 0, "10", true, Split{}},
		{"full commission", "3", 10, "100", true, Split{Gross: 30, Commission: 30}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ComputeSplit(decimal.RequireFromString(c.minutes), c.rate, decimal.RequireFromString(c.pct), c.hasReceiver)
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if got != c.want {
				t.Fatalf("expected %+v, got %+v", c.want, got)
			}
			if got.Commission+got.ReceiverCredit != got.Gross {
				t.Fatalf("split does not add up: %+v", got)
			}
		})
	}
}

func TestComputeSplit_Overflow(t *testing.T) {
	_, err := ComputeSplit(decimal.RequireFromString("1e30"), 10, decimal.Zero, true)
	if !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAllocate(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	active := func(id string, left int64) wallet.PlanAllotment {
		return wallet.PlanAllotment{ID: id, PlanID: "gold", MinutesLeft: left, Status: wallet.PlanStatusActive}
	}

	t.Run("fully covered", func(t *testing.T) {
		a, err := Allocate([]wallet.PlanAllotment{active("a", 10)}, "gold", 4, now, false)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if a.Covered != 4 || a.Remainder != 0 || a.Plans[0].MinutesLeft != 6 || a.Plans[0].Status != wallet.PlanStatusActive {
			t.Fatalf("unexpected allocation: %+v", a)
		}
	})

	t.Run("spans allotments then overflows", func(t *testing.T) {
		plans := []wallet.PlanAllotment{active("a", 2), active("b", 1)}
		a, err := Allocate(plans, "gold", 5, now, false)
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if a.Covered != 3 || a.Remainder != 2 {
			t.Fatalf("expected 3 covered 2 remainder, got %+v", a)
		}
		for _, p := range a.Plans {
			if p.MinutesLeft != 0 || p.Status != wallet.PlanStatusExhausted {
				t.Fatalf("expected exhausted allotment, got %+v", p)
			}
		}
		if plans[0].MinutesLeft != 2 {
			t.Fatalf("input slice must not be mutated")
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := Allocate([]wallet.PlanAllotment{active("a", 2)}, "silver", 1, now, true)
		if !errors.Is(err, ledger.ErrPlanNotFound) {
			t.Fatalf("expected plan not found, got %v", err)
		}
	})

	t.Run("expired fails even with fallback", func(t *testing.T) {
		p := active("a", 5)
		p.Status = wallet.PlanStatusExpired
		_, err := Allocate([]wallet.PlanAllotment{p}, "gold", 1, now, true)
		if !errors.Is(err, ledger.ErrPlanExpired) {
			t.Fatalf("expected plan expired, got %v", err)
		}
	})

	t.Run("unswept past expiry counts as expired", func(t *testing.T) {
		p := active("a", 5)
		p.ExpiresAt = now.Add(-time.Minute)
		_, err := Allocate([]wallet.PlanAllotment{p}, "gold", 1, now, false)
		if !errors.Is(err, ledger.ErrPlanExpired) {
			t.Fatalf("expected plan expired, got %v", err)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		p := active("a", 0)
		p.Status = wallet.PlanStatusExhausted
		_, err := Allocate([]wallet.PlanAllotment{p}, "gold", 1, now, false)
		if !errors.Is(err, ledger.ErrPlanExhausted) {
			t.Fatalf("expected plan exhausted, got %v", err)
		}

		a, err := Allocate([]wallet.PlanAllotment{p}, "gold", 3, now, true)
		if err != nil {
			t.Fatalf("fallback: %v", err)
		}
		if a.Covered != 0 || a.Remainder != 3 {
			t.Fatalf("expected whole request as cash, got %+v", a)
		}
	})
}
