package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/internal/rates"
	"call-ledger/internal/wallet"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// RateResolver prices a call between two users.
type RateResolver interface {
	ResolveForUsers(ctx context.Context, payerID, payeeID string) (rates.Rate, error)
}

// Notifier receives committed settlements. Delivery is best-effort.
type Notifier interface {
	NotifySettlement(ctx context.Context, res ledger.SettlementResult) error
}

// AuditLog records committed settlements. Best-effort.
type AuditLog interface {
	LogSettlement(ctx context.Context, res ledger.SettlementResult) error
}

type Config struct {
	// MaxAttempts bounds how many times a conflicting unit is re-run.
	MaxAttempts int
	// BackoffInitial and BackoffMax shape the exponential wait between attempts.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// LockWait bounds how long a unit waits for its records.
	LockWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		BackoffInitial: 25 * time.Millisecond,
		BackoffMax:     250 * time.Millisecond,
		LockWait:       2 * time.Second,
	}
}

type Deps struct {
	Rates    RateResolver
	Store    wallet.Store
	Locker   wallet.Locker
	Notifier Notifier
	Audit    AuditLog
	Logger   *slog.Logger
}

// Service is the ledger transaction orchestrator.
//
// Every settlement runs as one unit over the caller wallet and (optionally)
// the receiver earning wallet:
// - records are locked in global key order with a bounded wait,
// - the unit re-reads, checks and writes, committing both sides or neither,
// - a version conflict re-runs the unit with backoff up to MaxAttempts.
type Service struct {
	cfg      Config
	rates    RateResolver
	store    wallet.Store
	locker   wallet.Locker
	notifier Notifier
	audit    AuditLog
	log      *slog.Logger
	clock    func() time.Time
}

func NewService(cfg Config, d Deps) *Service {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = def.LockWait
	}
	if d.Locker == nil {
		d.Locker = wallet.NewKeyedLocker()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		rates:    d.Rates,
		store:    d.Store,
		locker:   d.Locker,
		notifier: d.Notifier,
		audit:    d.Audit,
		log:      d.Logger,
		clock:    time.Now,
	}
}

// settlement is one billing request reduced to what the unit runner needs.
type settlement struct {
	kind          string
	callerID      string
	receiverID    string
	correlationID string

	// matches reports whether a recorded deduction came from the same arguments.
	matches func(d wallet.DeductionRecord) bool
	// apply performs the read-check-write inside the unit.
	apply func(ctx context.Context, tx wallet.Tx, now time.Time) (wallet.DeductionRecord, error)
}

type outcome struct {
	result   ledger.SettlementResult
	replayed bool
}

func (s *Service) execute(ctx context.Context, st settlement) (ledger.SettlementResult, error) {
	log := s.log.With(
		"op", st.kind,
		"caller_id", st.callerID,
		"receiver_id", st.receiverID,
		"correlation_id", st.correlationID,
	)

	attempts := 0
	out, err := backoff.Retry(ctx, func() (outcome, error) {
		attempts++
		out, err := s.attempt(ctx, st)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ledger.ErrConcurrentModification) && ctx.Err() == nil {
			log.Debug("settlement conflict, retrying", "attempt", attempts, "err", err)
			return outcome{}, err
		}
		return outcome{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
	if err != nil {
		return ledger.SettlementResult{}, s.classify(ctx, log, attempts, err)
	}
	if out.replayed {
		log.Info("settlement replayed")
		return out.result, nil
	}

	log.Info("settlement committed",
		"amount_charged", out.result.AmountCharged,
		"commission", out.result.CommissionTaken,
		"receiver_credited", out.result.ReceiverCredited,
		"plan_minutes", out.result.PlanMinutesUsed,
		"attempts", attempts,
	)
	s.afterCommit(ctx, log, out.result)
	return out.result, nil
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.BackoffInitial
	b.MaxInterval = s.cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}

// classify maps a failed run onto what the invoker sees.
func (s *Service) classify(ctx context.Context, log *slog.Logger, attempts int, err error) error {
	switch {
	case ctx.Err() != nil:
		// The invoker gave up; nothing was committed.
		log.Info("settlement canceled", "err", err)
		return ctx.Err()
	case errors.Is(err, ledger.ErrConcurrentModification):
		log.Warn("settlement conflicts exhausted retries", "attempts", attempts, "err", err)
		return fmt.Errorf("%w: conflicts persisted after %d attempts", ledger.ErrLedgerBusy, attempts)
	case errors.Is(err, wallet.ErrLockTimeout):
		log.Warn("settlement lock wait exceeded", "err", err)
		return fmt.Errorf("%w: %v", ledger.ErrLedgerBusy, err)
	case ledger.Kind(err) == ledger.KindInternal:
		log.Error("settlement failed", "err", err)
	default:
		log.Info("settlement rejected", "kind", ledger.Kind(err), "err", err)
	}
	return err
}

func (s *Service) attempt(ctx context.Context, st settlement) (outcome, error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockWait)
	defer cancel()

	keys := []string{wallet.WalletKey(st.callerID)}
	if st.receiverID != "" {
		keys = append(keys, wallet.EarningKey(st.receiverID))
	}
	unlock, err := s.locker.Lock(lockCtx, keys...)
	if err != nil {
		return outcome{}, err
	}
	defer unlock()

	var out outcome
	err = s.store.WithUnit(ctx, func(ctx context.Context, tx wallet.Tx) error {
		prior, ok, err := tx.FindDeduction(ctx, st.callerID, st.correlationID)
		if err != nil {
			return err
		}
		if ok {
			res, err := replay(st, prior)
			out = outcome{result: res, replayed: true}
			return err
		}
		d, err := st.apply(ctx, tx, s.clock().UTC())
		if err != nil {
			return err
		}
		out = outcome{result: d.Result()}
		return nil
	})
	return out, err
}

// lookup is the replay fast path, taken before any rate is resolved.
func (s *Service) lookup(ctx context.Context, st settlement) (ledger.SettlementResult, bool, error) {
	prior, ok, err := s.store.FindDeduction(ctx, st.callerID, st.correlationID)
	if err != nil || !ok {
		return ledger.SettlementResult{}, false, err
	}
	res, err := replay(st, prior)
	return res, true, err
}

func replay(st settlement, prior wallet.DeductionRecord) (ledger.SettlementResult, error) {
	if !st.matches(prior) {
		return ledger.SettlementResult{}, fmt.Errorf("correlation id %s already settled with different arguments: %w", st.correlationID, ledger.ErrInvalidInput)
	}
	return prior.Result(), nil
}

func (s *Service) afterCommit(ctx context.Context, log *slog.Logger, res ledger.SettlementResult) {
	// The ledger outcome is final; the invoker's cancellation must not drop these.
	ctx = context.WithoutCancel(ctx)
	if s.notifier != nil {
		if err := s.notifier.NotifySettlement(ctx, res); err != nil {
			log.Warn("settlement notification failed", "err", err)
		}
	}
	if s.audit != nil {
		if err := s.audit.LogSettlement(ctx, res); err != nil {
			log.Warn("settlement audit failed", "err", err)
		}
	}
}

// debit takes gross from the caller and records the deduction. split may be zero.
func debit(ctx context.Context, tx wallet.Tx, w wallet.Wallet, d wallet.DeductionRecord, now time.Time) (wallet.DeductionRecord, error) {
	if w.Balance < d.Amount {
		return wallet.DeductionRecord{}, fmt.Errorf("caller %s balance %d < %d: %w", w.UserID, w.Balance, d.Amount, ledger.ErrInsufficientFunds)
	}
	w.Balance -= d.Amount
	w.UpdatedAt = now
	if err := tx.PutWallet(ctx, w); err != nil {
		return wallet.DeductionRecord{}, err
	}
	d.ID = uuid.NewString()
	d.UserID = w.UserID
	d.BalanceAfter = w.Balance
	d.CreatedAt = now
	if err := tx.AppendDeduction(ctx, d); err != nil {
		return wallet.DeductionRecord{}, err
	}
	return d, nil
}

// credit pays the receiver's share. Zero amounts leave no recharge record.
func credit(ctx context.Context, tx wallet.Tx, d wallet.DeductionRecord) error {
	if d.Counterparty == "" || d.ReceiverCredited == 0 {
		return nil
	}
	e, err := tx.GetEarningWallet(ctx, d.Counterparty)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			return err
		}
		e = wallet.EarningWallet{UserID: d.Counterparty}
	}
	e.Balance += d.ReceiverCredited
	e.UpdatedAt = d.CreatedAt
	if err := tx.PutEarningWallet(ctx, e); err != nil {
		return err
	}
	return tx.AppendRecharge(ctx, wallet.RechargeRecord{
		ID:             uuid.NewString(),
		UserID:         d.Counterparty,
		SourceCallerID: d.UserID,
		CorrelationID:  d.CorrelationID,
		Amount:         d.ReceiverCredited,
		CreatedAt:      d.CreatedAt,
	})
}

// loadWallet reads the caller wallet; a caller with no wallet yet has an empty one.
func loadWallet(ctx context.Context, tx wallet.Tx, userID string) (wallet.Wallet, error) {
	w, err := tx.GetWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return wallet.Wallet{UserID: userID}, nil
		}
		return wallet.Wallet{}, err
	}
	return w, nil
}
