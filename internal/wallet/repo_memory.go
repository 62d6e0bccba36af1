package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"call-ledger/internal/ledger"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
//
// Units stage their writes and validate versions at commit under one mutex,
// so a commit is all-or-nothing and a stale read is detected, never overwritten.
type MemoryStore struct {
	mu sync.RWMutex

	wallets  map[string]Wallet
	earnings map[string]EarningWallet
	pending  map[string]PendingTransaction

	deductions    map[string][]DeductionRecord
	deductionKeys map[string]struct{} // user_id|correlation_id
	recharges     map[string][]RechargeRecord
	credits       map[string][]CreditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:       map[string]Wallet{},
		earnings:      map[string]EarningWallet{},
		pending:       map[string]PendingTransaction{},
		deductions:    map[string][]DeductionRecord{},
		deductionKeys: map[string]struct{}{},
		recharges:     map[string][]RechargeRecord{},
		credits:       map[string][]CreditRecord{},
	}
}

func deductionKey(userID, correlationID string) string { return userID + "|" + correlationID }

// Seed installs a wallet as-is. Intended for tests and fixtures.
func (s *MemoryStore) Seed(w Wallet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.Version == 0 {
		w.Version = 1
	}
	s.wallets[w.UserID] = w.clone()
}

func (s *MemoryStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[userID]
	if !ok {
		return Wallet{}, fmt.Errorf("wallet %s: %w", userID, ledger.ErrNotFound)
	}
	return w.clone(), nil
}

func (s *MemoryStore) GetEarningWallet(ctx context.Context, userID string) (EarningWallet, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.earnings[userID]
	if !ok {
		return EarningWallet{}, fmt.Errorf("earning wallet %s: %w", userID, ledger.ErrNotFound)
	}
	return e, nil
}

func (s *MemoryStore) GetPendingTransaction(ctx context.Context, merchantTransactionID string) (PendingTransaction, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[merchantTransactionID]
	if !ok {
		return PendingTransaction{}, fmt.Errorf("pending transaction %s: %w", merchantTransactionID, ledger.ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) FindDeduction(ctx context.Context, userID, correlationID string) (DeductionRecord, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deductions[userID] {
		if d.CorrelationID == correlationID {
			return d, true, nil
		}
	}
	return DeductionRecord{}, false, nil
}

func (s *MemoryStore) ListDeductions(ctx context.Context, userID string) ([]DeductionRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]DeductionRecord{}, s.deductions[userID]...), nil
}

func (s *MemoryStore) ListCredits(ctx context.Context, userID string) ([]CreditRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]CreditRecord{}, s.credits[userID]...), nil
}

func (s *MemoryStore) ListRecharges(ctx context.Context, userID string) ([]RechargeRecord, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RechargeRecord{}, s.recharges[userID]...), nil
}

func (s *MemoryStore) ExpirePlans(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, w := range s.wallets {
		changed := false
		for i, p := range w.Plans {
			if p.Status == PlanStatusActive && !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt) {
				w.Plans[i].Status = PlanStatusExpired
				changed = true
				n++
			}
		}
		if changed {
			w.Version++
			w.UpdatedAt = now
			s.wallets[id] = w
		}
	}
	return n, nil
}

func (s *MemoryStore) WithUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		store:    s,
		wallets:  map[string]Wallet{},
		earnings: map[string]EarningWallet{},
		pending:  map[string]PendingTransaction{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(ctx, tx)
}

func (s *MemoryStore) commit(ctx context.Context, tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancellation is honoured up to the commit point, never after.
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, w := range tx.wallets {
		if cur := s.wallets[id].Version; cur != w.Version {
			return fmt.Errorf("wallet %s: read version %d, current %d: %w", id, w.Version, cur, ledger.ErrConcurrentModification)
		}
	}
	for id, e := range tx.earnings {
		if cur := s.earnings[id].Version; cur != e.Version {
			return fmt.Errorf("earning wallet %s: read version %d, current %d: %w", id, e.Version, cur, ledger.ErrConcurrentModification)
		}
	}
	for id, p := range tx.pending {
		if cur := s.pending[id].Version; cur != p.Version {
			return fmt.Errorf("pending transaction %s: read version %d, current %d: %w", id, p.Version, cur, ledger.ErrConcurrentModification)
		}
	}
	for _, d := range tx.deductions {
		if _, dup := s.deductionKeys[deductionKey(d.UserID, d.CorrelationID)]; dup {
			return fmt.Errorf("deduction %s/%s already recorded: %w", d.UserID, d.CorrelationID, ledger.ErrConcurrentModification)
		}
	}

	for id, w := range tx.wallets {
		w.Version++
		s.wallets[id] = w
	}
	for id, e := range tx.earnings {
		e.Version++
		s.earnings[id] = e
	}
	for id, p := range tx.pending {
		p.Version++
		s.pending[id] = p
	}
	for _, d := range tx.deductions {
		s.deductions[d.UserID] = append(s.deductions[d.UserID], d)
		s.deductionKeys[deductionKey(d.UserID, d.CorrelationID)] = struct{}{}
	}
	for _, r := range tx.recharges {
		s.recharges[r.UserID] = append(s.recharges[r.UserID], r)
	}
	for _, c := range tx.credits {
		s.credits[c.UserID] = append(s.credits[c.UserID], c)
	}
	return nil
}

type memTx struct {
	store *MemoryStore

	wallets  map[string]Wallet
	earnings map[string]EarningWallet
	pending  map[string]PendingTransaction

	deductions []DeductionRecord
	recharges  []RechargeRecord
	credits    []CreditRecord
}

func (t *memTx) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	if w, ok := t.wallets[userID]; ok {
		return w.clone(), nil
	}
	return t.store.GetWallet(ctx, userID)
}

func (t *memTx) GetEarningWallet(ctx context.Context, userID string) (EarningWallet, error) {
	if e, ok := t.earnings[userID]; ok {
		return e, nil
	}
	return t.store.GetEarningWallet(ctx, userID)
}

func (t *memTx) GetPendingTransaction(ctx context.Context, merchantTransactionID string) (PendingTransaction, error) {
	if p, ok := t.pending[merchantTransactionID]; ok {
		return p, nil
	}
	return t.store.GetPendingTransaction(ctx, merchantTransactionID)
}

func (t *memTx) FindDeduction(ctx context.Context, userID, correlationID string) (DeductionRecord, bool, error) {
	for _, d := range t.deductions {
		if d.UserID == userID && d.CorrelationID == correlationID {
			return d, true, nil
		}
	}
	return t.store.FindDeduction(ctx, userID, correlationID)
}

func (t *memTx) PutWallet(ctx context.Context, w Wallet) error {
	if w.UserID == "" {
		return fmt.Errorf("put wallet: user id required: %w", ledger.ErrInvalidInput)
	}
	if w.Balance < 0 {
		return fmt.Errorf("put wallet %s: negative balance %d: %w", w.UserID, w.Balance, ledger.ErrInsufficientFunds)
	}
	t.wallets[w.UserID] = w.clone()
	return nil
}

func (t *memTx) PutEarningWallet(ctx context.Context, e EarningWallet) error {
	if e.UserID == "" {
		return fmt.Errorf("put earning wallet: user id required: %w", ledger.ErrInvalidInput)
	}
	t.earnings[e.UserID] = e
	return nil
}

func (t *memTx) PutPendingTransaction(ctx context.Context, p PendingTransaction) error {
	if p.MerchantTransactionID == "" {
		return fmt.Errorf("put pending transaction: merchant id required: %w", ledger.ErrInvalidInput)
	}
	t.pending[p.MerchantTransactionID] = p
	return nil
}

func (t *memTx) AppendDeduction(ctx context.Context, d DeductionRecord) error {
	t.deductions = append(t.deductions, d)
	return nil
}

func (t *memTx) AppendRecharge(ctx context.Context, r RechargeRecord) error {
	t.recharges = append(t.recharges, r)
	return nil
}

func (t *memTx) AppendCredit(ctx context.Context, c CreditRecord) error {
	t.credits = append(t.credits, c)
	return nil
}
