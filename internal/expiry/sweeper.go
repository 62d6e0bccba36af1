package expiry

import (
	"context"
	"log/slog"
	"time"

	"call-ledger/internal/wallet"
)

// Expirer flips past-expiry allotments; wallet.Store satisfies it.
type Expirer interface {
	ExpirePlans(ctx context.Context, now time.Time) (int, error)
}

type AuditLog interface {
	LogPlanExpiry(ctx context.Context, expired int, at time.Time) error
}

// Sweeper moves active allotments past their expiry to expired.
// Balances are never touched; the bumped wallet version makes any
// in-flight settlement against the same wallet retry on fresh state.
type Sweeper struct {
	store   Expirer
	audit   AuditLog
	log     *slog.Logger
	clock   func() time.Time
	timeout time.Duration
}

var _ Expirer = (wallet.Store)(nil)

func NewSweeper(store Expirer, audit AuditLog, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{store: store, audit: audit, log: log.With("job", "plan_expiry"), clock: time.Now, timeout: 30 * time.Second}
}

// Sweep runs one pass and returns how many allotments expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	n, err := s.store.ExpirePlans(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.audit != nil {
		if err := s.audit.LogPlanExpiry(ctx, n, now); err != nil {
			s.log.Warn("plan expiry audit failed", "err", err)
		}
	}
	return n, nil
}

// Run is the cron entry point.
func (s *Sweeper) Run() {
	s.log.Info("starting plan expiry sweep")
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	n, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error("plan expiry sweep failed", "error", err)
		return
	}
	s.log.Info("plan expiry sweep finished", "expired", n)
}
