package audit

import (
	"context"
	"testing"
	"time"

	"call-ledger/internal/ledger"
)

func TestService_AppendRequiresUserAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeSettlement}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{UserID: "u"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_LogSettlement(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	res := ledger.SettlementResult{CorrelationID: "c1", CallerID: "caller", ReceiverID: "recv", AmountCharged: 23}
	if err := svc.LogSettlement(context.Background(), res); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	e := evs[0]
	if e.Type != EventTypeSettlement || e.UserID != "caller" || e.CounterpartyID != "recv" || e.Amount != 23 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.ID == "" || e.CreatedAt.IsZero() || e.Metadata == "" {
		t.Fatalf("expected id, timestamp and metadata filled")
	}
}

func TestService_LogFundingAndExpiry(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.LogFunding(ctx, ledger.FundingResult{MerchantTransactionID: "m1", UserID: "u", Status: ledger.FundingCompleted, Amount: 500}); err != nil {
		t.Fatalf("funding: %v", err)
	}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := svc.LogPlanExpiry(ctx, 4, at); err != nil {
		t.Fatalf("expiry: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].MerchantTransactionID != "m1" || evs[0].Message != "funding COMPLETED" {
		t.Fatalf("unexpected funding event: %+v", evs[0])
	}
	if evs[1].Type != EventTypePlanExpiry || evs[1].Amount != 4 || !evs[1].CreatedAt.Equal(at) {
		t.Fatalf("unexpected expiry event: %+v", evs[1])
	}
}

func TestService_HistoryNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	for i, corr := range []string{"c1", "c2", "c3"} {
		res := ledger.SettlementResult{CorrelationID: corr, CallerID: "caller", AmountCharged: int64(i + 1)}
		if err := svc.LogSettlement(ctx, res); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	_ = svc.LogSettlement(ctx, ledger.SettlementResult{CorrelationID: "x", CallerID: "other"})

	evs, err := svc.History(ctx, "caller", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(evs) != 2 || evs[0].CorrelationID != "c3" || evs[1].CorrelationID != "c2" {
		t.Fatalf("unexpected history: %+v", evs)
	}
	if _, err := svc.History(ctx, "", 0); err == nil {
		t.Fatalf("expected error for missing user")
	}
}

func TestMemoryRepo_RejectsDuplicateID(t *testing.T) {
	repo := NewMemoryRepo()
	e := Event{ID: "e1", UserID: "u", Type: EventTypeFunding}
	if err := repo.Append(context.Background(), e); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := repo.Append(context.Background(), e); err != ErrDuplicateEvent {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
