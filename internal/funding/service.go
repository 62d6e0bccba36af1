package funding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/internal/wallet"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Event is a funding confirmation from the payment gateway.
type Event struct {
	MerchantTransactionID string               `json:"merchant_transaction_id"`
	UserID                string               `json:"user_id"`
	PlanID                string               `json:"plan_id,omitempty"`
	Amount                int64                `json:"amount"`
	Status                ledger.FundingStatus `json:"status"`
}

type Notifier interface {
	NotifyFunding(ctx context.Context, res ledger.FundingResult) error
}

type AuditLog interface {
	LogFunding(ctx context.Context, res ledger.FundingResult) error
}

type Config struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	LockWait       time.Duration
}

type Deps struct {
	Store    wallet.Store
	Locker   wallet.Locker
	Catalog  PlanCatalog
	Notifier Notifier
	Audit    AuditLog
	Logger   *slog.Logger
}

// Service applies payment-gateway outcomes to wallets.
//
// Each confirmation:
// - is keyed by its merchant transaction id and applied at most once,
// - moves the pending record out of PENDING in the same unit as the credit,
// - never changes a balance when the gateway reports FAILED.
type Service struct {
	cfg      Config
	store    wallet.Store
	locker   wallet.Locker
	catalog  PlanCatalog
	notifier Notifier
	audit    AuditLog
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(cfg Config, d Deps) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 25 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if d.Locker == nil {
		d.Locker = wallet.NewKeyedLocker()
	}
	if d.Catalog == nil {
		d.Catalog = NewMemoryCatalog()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		store:    d.Store,
		locker:   d.Locker,
		catalog:  d.Catalog,
		notifier: d.Notifier,
		audit:    d.Audit,
		log:      d.Logger.With("component", "funding"),
		clock:    time.Now,
	}
}

// StartFunding registers a PENDING request. Registering the same merchant id
// again returns the existing record unchanged.
func (s *Service) StartFunding(ctx context.Context, p wallet.PendingTransaction) (wallet.PendingTransaction, error) {
	switch {
	case strings.TrimSpace(p.MerchantTransactionID) == "":
		return wallet.PendingTransaction{}, fmt.Errorf("merchant_transaction_id required: %w", ledger.ErrInvalidInput)
	case strings.TrimSpace(p.UserID) == "":
		return wallet.PendingTransaction{}, fmt.Errorf("user_id required: %w", ledger.ErrInvalidInput)
	case p.Amount <= 0:
		return wallet.PendingTransaction{}, fmt.Errorf("amount must be positive: %w", ledger.ErrInvalidInput)
	}
	if p.PlanID != "" {
		if _, ok, err := s.catalog.FindPlan(ctx, p.PlanID); err != nil {
			return wallet.PendingTransaction{}, err
		} else if !ok {
			return wallet.PendingTransaction{}, fmt.Errorf("plan %s: %w", p.PlanID, ledger.ErrPlanNotFound)
		}
	}

	var out wallet.PendingTransaction
	err := s.run(ctx, []string{wallet.PendingKey(p.MerchantTransactionID)}, func(ctx context.Context, tx wallet.Tx, now time.Time) error {
		existing, err := tx.GetPendingTransaction(ctx, p.MerchantTransactionID)
		switch {
		case err == nil:
			if existing.UserID != p.UserID || existing.Amount != p.Amount || existing.PlanID != p.PlanID {
				return fmt.Errorf("merchant transaction %s already registered with different arguments: %w", p.MerchantTransactionID, ledger.ErrInvalidInput)
			}
			out = existing
			return nil
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		rec := wallet.PendingTransaction{
			MerchantTransactionID: p.MerchantTransactionID,
			UserID:                p.UserID,
			PlanID:                p.PlanID,
			Amount:                p.Amount,
			Status:                ledger.FundingPending,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if err := tx.PutPendingTransaction(ctx, rec); err != nil {
			return err
		}
		rec.Version = 1
		out = rec
		return nil
	})
	if err != nil {
		return wallet.PendingTransaction{}, err
	}
	return out, nil
}

// ApplyFunding applies a gateway confirmation exactly once.
func (s *Service) ApplyFunding(ctx context.Context, ev Event) (ledger.FundingResult, error) {
	switch {
	case strings.TrimSpace(ev.MerchantTransactionID) == "":
		return ledger.FundingResult{}, fmt.Errorf("merchant_transaction_id required: %w", ledger.ErrInvalidInput)
	case strings.TrimSpace(ev.UserID) == "":
		return ledger.FundingResult{}, fmt.Errorf("user_id required: %w", ledger.ErrInvalidInput)
	case ev.Status != ledger.FundingCompleted && ev.Status != ledger.FundingFailed:
		return ledger.FundingResult{}, fmt.Errorf("status must be COMPLETED or FAILED, got %q: %w", ev.Status, ledger.ErrInvalidInput)
	}

	log := s.log.With("merchant_transaction_id", ev.MerchantTransactionID, "user_id", ev.UserID)
	keys := []string{wallet.PendingKey(ev.MerchantTransactionID), wallet.WalletKey(ev.UserID)}

	var res ledger.FundingResult
	err := s.run(ctx, keys, func(ctx context.Context, tx wallet.Tx, now time.Time) error {
		var err error
		res, err = s.apply(ctx, tx, ev, now)
		return err
	})
	if err != nil {
		log.Info("funding not applied", "kind", ledger.Kind(err), "err", err)
		return ledger.FundingResult{}, err
	}
	if res.Duplicate {
		log.Info("funding replay ignored", "status", res.Status)
		return res, nil
	}

	log.Info("funding applied", "status", res.Status, "amount", res.Amount, "plan_id", res.PlanID)
	bg := context.WithoutCancel(ctx)
	if s.notifier != nil {
		if err := s.notifier.NotifyFunding(bg, res); err != nil {
			log.Warn("funding notification failed", "err", err)
		}
	}
	if s.audit != nil {
		if err := s.audit.LogFunding(bg, res); err != nil {
			log.Warn("funding audit failed", "err", err)
		}
	}
	return res, nil
}

func (s *Service) apply(ctx context.Context, tx wallet.Tx, ev Event, now time.Time) (ledger.FundingResult, error) {
	p, err := tx.GetPendingTransaction(ctx, ev.MerchantTransactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.FundingResult{}, fmt.Errorf("merchant transaction %s: %w", ev.MerchantTransactionID, ledger.ErrUnknownTransaction)
		}
		return ledger.FundingResult{}, err
	}
	if ev.UserID != p.UserID || ev.Amount != p.Amount || (ev.PlanID != "" && ev.PlanID != p.PlanID) {
		return ledger.FundingResult{}, fmt.Errorf("confirmation does not match merchant transaction %s: %w", p.MerchantTransactionID, ledger.ErrInvalidInput)
	}

	w, err := tx.GetWallet(ctx, p.UserID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return ledger.FundingResult{}, err
		}
		w = wallet.Wallet{UserID: p.UserID}
	}

	res := ledger.FundingResult{
		MerchantTransactionID: p.MerchantTransactionID,
		UserID:                p.UserID,
		PlanID:                p.PlanID,
		Amount:                p.Amount,
		Status:                ev.Status,
		ProcessedAt:           now,
	}
	if p.Processed {
		res.Status = p.Status
		res.Duplicate = true
		res.ProcessedAt = p.UpdatedAt
		res.BalanceAfter = w.Balance
		res.PlanMinutesLeft = minutesLeft(w, p.PlanID, now)
		return res, nil
	}

	if ev.Status == ledger.FundingCompleted {
		if p.PlanID == "" {
			w.Balance += p.Amount
			if err := tx.AppendCredit(ctx, wallet.CreditRecord{
				ID:                    uuid.NewString(),
				UserID:                w.UserID,
				MerchantTransactionID: p.MerchantTransactionID,
				Amount:                p.Amount,
				BalanceAfter:          w.Balance,
				CreatedAt:             now,
			}); err != nil {
				return ledger.FundingResult{}, err
			}
		} else {
			plan, ok, err := s.catalog.FindPlan(ctx, p.PlanID)
			if err != nil {
				return ledger.FundingResult{}, err
			}
			if !ok {
				return ledger.FundingResult{}, fmt.Errorf("plan %s: %w", p.PlanID, ledger.ErrPlanNotFound)
			}
			w.Plans = grant(w.Plans, plan, now)
		}
		w.UpdatedAt = now
		if err := tx.PutWallet(ctx, w); err != nil {
			return ledger.FundingResult{}, err
		}
	}

	p.Status = ev.Status
	p.Processed = true
	p.UpdatedAt = now
	if err := tx.PutPendingTransaction(ctx, p); err != nil {
		return ledger.FundingResult{}, err
	}

	res.BalanceAfter = w.Balance
	res.PlanMinutesLeft = minutesLeft(w, p.PlanID, now)
	return res, nil
}

// grant extends the newest usable allotment of plan, or opens a new one.
func grant(plans []wallet.PlanAllotment, plan Plan, now time.Time) []wallet.PlanAllotment {
	out := append([]wallet.PlanAllotment(nil), plans...)
	for i := len(out) - 1; i >= 0; i-- {
		a := &out[i]
		if a.PlanID != plan.ID || a.Status != wallet.PlanStatusActive || a.Expired(now) {
			continue
		}
		a.MinutesLeft += plan.Minutes
		if plan.Validity > 0 && !a.ExpiresAt.IsZero() {
			a.ExpiresAt = a.ExpiresAt.Add(plan.Validity)
		}
		return out
	}
	a := wallet.PlanAllotment{
		ID:          uuid.NewString(),
		PlanID:      plan.ID,
		MinutesLeft: plan.Minutes,
		Status:      wallet.PlanStatusActive,
		CreatedAt:   now,
	}
	if plan.Validity > 0 {
		a.ExpiresAt = now.Add(plan.Validity)
	}
	return append(out, a)
}

func minutesLeft(w wallet.Wallet, planID string, now time.Time) int64 {
	if planID == "" {
		return 0
	}
	var n int64
	for _, a := range w.Plans {
		if a.PlanID == planID && a.Usable(now) {
			n += a.MinutesLeft
		}
	}
	return n
}

// run executes fn in one unit under keys, retrying conflicts with backoff.
func (s *Service) run(ctx context.Context, keys []string, fn func(ctx context.Context, tx wallet.Tx, now time.Time) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffInitial
	b.MaxInterval = s.cfg.BackoffMax

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.attempt(ctx, keys, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, ledger.ErrConcurrentModification) && ctx.Err() == nil {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.MaxAttempts)))

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ledger.ErrConcurrentModification):
		return fmt.Errorf("%w: conflicts persisted after %d attempts", ledger.ErrLedgerBusy, attempts)
	case errors.Is(err, wallet.ErrLockTimeout):
		return fmt.Errorf("%w: %v", ledger.ErrLedgerBusy, err)
	}
	return err
}

func (s *Service) attempt(ctx context.Context, keys []string, fn func(ctx context.Context, tx wallet.Tx, now time.Time) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()
	unlock, err := s.locker.Lock(lockCtx, keys...)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.WithUnit(ctx, func(ctx context.Context, tx wallet.Tx) error {
		return fn(ctx, tx, s.clock().UTC())
	})
}

// Routing keys the payment gateway publishes confirmations under.
const (
	RoutingKeyPaymentCompleted = "payments.funding.completed"
	RoutingKeyPaymentFailed    = "payments.funding.failed"
)

// HandleMessage is the queue entry point. It returns false only when the
// message should be redelivered (the ledger was busy or the store failed).
func (s *Service) HandleMessage(ctx context.Context, body []byte) bool {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		s.log.Error("funding message decode failed; dropping", "err", err)
		return true
	}
	_, err := s.ApplyFunding(ctx, ev)
	switch ledger.Kind(err) {
	case "":
		return true
	case ledger.KindLedgerBusy, ledger.KindInternal, ledger.KindCanceled:
		return false
	default:
		// Terminal for this message; redelivery cannot change the outcome.
		s.log.Warn("funding message rejected", "merchant_transaction_id", ev.MerchantTransactionID, "kind", ledger.Kind(err), "err", err)
		return true
	}
}
