package funding

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/internal/wallet"
)

type recordingNotifier struct {
	sent []ledger.FundingResult
}

func (n *recordingNotifier) NotifyFunding(ctx context.Context, res ledger.FundingResult) error {
	n.sent = append(n.sent, res)
	return nil
}

func newTestService(t *testing.T) (*Service, *wallet.MemoryStore, *recordingNotifier) {
	t.Helper()
	store := wallet.NewMemoryStore()
	notes := &recordingNotifier{}
	catalog := NewMemoryCatalog(
		Plan{ID: "gold", Minutes: 60, Validity: 30 * 24 * time.Hour, Price: 500},
		Plan{ID: "forever", Minutes: 10, Price: 100},
	)
	svc := NewService(Config{BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond, LockWait: 200 * time.Millisecond}, Deps{
		Store:    store,
		Catalog:  catalog,
		Notifier: notes,
	})
	return svc, store, notes
}

func start(t *testing.T, svc *Service, merchantID, userID, planID string, amount int64) {
	t.Helper()
	if _, err := svc.StartFunding(context.Background(), wallet.PendingTransaction{MerchantTransactionID: merchantID, UserID: userID, PlanID: planID, Amount: amount}); err != nil {
		t.Fatalf("start funding: %v", err)
	}
}

func TestStartFunding_RegistersPendingOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.StartFunding(ctx, wallet.PendingTransaction{MerchantTransactionID: "m1", UserID: "u1", Amount: 500})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.Status != ledger.FundingPending || p.Processed {
		t.Fatalf("expected fresh pending record, got %+v", p)
	}
	again, err := svc.StartFunding(ctx, wallet.PendingTransaction{MerchantTransactionID: "m1", UserID: "u1", Amount: 500})
	if err != nil {
		t.Fatalf("duplicate start: %v", err)
	}
	if !again.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("expected the existing record back")
	}
	if _, err := svc.StartFunding(ctx, wallet.PendingTransaction{MerchantTransactionID: "m1", UserID: "u2", Amount: 500}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected conflicting registration to be rejected, got %v", err)
	}
	stored, err := store.GetPendingTransaction(ctx, "m1")
	if err != nil || stored.Version != 1 {
		t.Fatalf("expected single stored version, got %+v err=%v", stored, err)
	}
}

func TestStartFunding_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.StartFunding(ctx, wallet.PendingTransaction{UserID: "u", Amount: 1}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.StartFunding(ctx, wallet.PendingTransaction{MerchantTransactionID: "m", UserID: "u", Amount: 0}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.StartFunding(ctx, wallet.PendingTransaction{MerchantTransactionID: "m", UserID: "u", PlanID: "nope", Amount: 1}); !errors.Is(err, ledger.ErrPlanNotFound) {
		t.Fatalf("expected plan not found, got %v", err)
	}
}

func TestApplyFunding_CompletedCreditsOnce(t *testing.T) {
	svc, store, notes := newTestService(t)
	ctx := context.Background()
	start(t, svc, "m1", "u1", "", 500)

	ev := Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 500, Status: ledger.FundingCompleted}
	res, err := svc.ApplyFunding(ctx, ev)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Duplicate || res.BalanceAfter != 500 {
		t.Fatalf("unexpected result: %+v", res)
	}

	dup, err := svc.ApplyFunding(ctx, ev)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !dup.Duplicate || dup.BalanceAfter != 500 {
		t.Fatalf("expected duplicate no-op, got %+v", dup)
	}

	w, _ := store.GetWallet(ctx, "u1")
	if w.Balance != 500 {
		t.Fatalf("expected single credit, balance %d", w.Balance)
	}
	credits, _ := store.ListCredits(ctx, "u1")
	if len(credits) != 1 || credits[0].MerchantTransactionID != "m1" {
		t.Fatalf("expected one credit record, got %+v", credits)
	}
	p, _ := store.GetPendingTransaction(ctx, "m1")
	if !p.Processed || p.Status != ledger.FundingCompleted {
		t.Fatalf("expected processed completed record, got %+v", p)
	}
	if len(notes.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes.sent))
	}
}

func TestApplyFunding_FailedLeavesBalance(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	store.Seed(wallet.Wallet{UserID: "u1", Balance: 40})
	start(t, svc, "m1", "u1", "", 500)

	res, err := svc.ApplyFunding(ctx, Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 500, Status: ledger.FundingFailed})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Status != ledger.FundingFailed || res.BalanceAfter != 40 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// A late COMPLETED for the same id must not credit anything.
	dup, err := svc.ApplyFunding(ctx, Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 500, Status: ledger.FundingCompleted})
	if err != nil || !dup.Duplicate || dup.Status != ledger.FundingFailed {
		t.Fatalf("expected duplicate keeping FAILED, got %+v err=%v", dup, err)
	}
	w, _ := store.GetWallet(ctx, "u1")
	if w.Balance != 40 {
		t.Fatalf("expected balance untouched, got %d", w.Balance)
	}
}

func TestApplyFunding_PlanPurchaseCreatesAndExtends(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	start(t, svc, "m1", "u1", "gold", 500)
	start(t, svc, "m2", "u1", "gold", 500)

	res, err := svc.ApplyFunding(ctx, Event{MerchantTransactionID: "m1", UserID: "u1", PlanID: "gold", Amount: 500, Status: ledger.FundingCompleted})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.PlanMinutesLeft != 60 || res.BalanceAfter != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	w, _ := store.GetWallet(ctx, "u1")
	if len(w.Plans) != 1 || w.Plans[0].ExpiresAt.IsZero() {
		t.Fatalf("expected one expiring allotment, got %+v", w.Plans)
	}
	firstExpiry := w.Plans[0].ExpiresAt

	res, err = svc.ApplyFunding(ctx, Event{MerchantTransactionID: "m2", UserID: "u1", Amount: 500, Status: ledger.FundingCompleted})
	if err != nil {
		t.Fatalf("apply second: %v", err)
	}
	if res.PlanMinutesLeft != 120 {
		t.Fatalf("expected extended allotment, got %+v", res)
	}
	w, _ = store.GetWallet(ctx, "u1")
	if len(w.Plans) != 1 || !w.Plans[0].ExpiresAt.After(firstExpiry) {
		t.Fatalf("expected extension of the same allotment, got %+v", w.Plans)
	}
	if credits, _ := store.ListCredits(ctx, "u1"); len(credits) != 0 {
		t.Fatalf("plan purchases must not credit the cash balance")
	}
}

func TestApplyFunding_Rejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start(t, svc, "m1", "u1", "", 500)

	if _, err := svc.ApplyFunding(ctx, Event{MerchantTransactionID: "nope", UserID: "u1", Amount: 500, Status: ledger.FundingCompleted}); !errors.Is(err, ledger.ErrUnknownTransaction) {
		t.Fatalf("expected unknown transaction, got %v", err)
	}
	if _, err := svc.ApplyFunding(ctx, Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 999, Status: ledger.FundingCompleted}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected amount mismatch to be rejected, got %v", err)
	}
	if _, err := svc.ApplyFunding(ctx, Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 500, Status: ledger.FundingPending}); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected PENDING status to be rejected, got %v", err)
	}
}

func TestHandleMessage(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	start(t, svc, "m1", "u1", "", 300)

	body, _ := json.Marshal(Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 300, Status: ledger.FundingCompleted})
	if !svc.HandleMessage(ctx, body) {
		t.Fatalf("expected ack on success")
	}
	if !svc.HandleMessage(ctx, body) {
		t.Fatalf("expected ack on replay")
	}
	if !svc.HandleMessage(ctx, []byte("{not json")) {
		t.Fatalf("expected poison message to be dropped")
	}
	unknown, _ := json.Marshal(Event{MerchantTransactionID: "zzz", UserID: "u1", Amount: 1, Status: ledger.FundingCompleted})
	if !svc.HandleMessage(ctx, unknown) {
		t.Fatalf("expected terminal rejection to be acked")
	}
	w, _ := store.GetWallet(ctx, "u1")
	if w.Balance != 300 {
		t.Fatalf("expected balance 300, got %d", w.Balance)
	}
}

func TestHandleMessage_BusyRequeues(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.LockWait = 10 * time.Millisecond
	start(t, svc, "m1", "u1", "", 300)

	unlock, err := svc.locker.Lock(context.Background(), wallet.WalletKey("u1"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	body, _ := json.Marshal(Event{MerchantTransactionID: "m1", UserID: "u1", Amount: 300, Status: ledger.FundingCompleted})
	if svc.HandleMessage(context.Background(), body) {
		t.Fatalf("expected busy message to be re-queued")
	}
}
