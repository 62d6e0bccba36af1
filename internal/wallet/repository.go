package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/pkg/utils"
)

// NOTE: This store assumes the tables created by Schema:
// - wallets, plan_allotments, wallet_deductions (UNIQUE user_id, correlation_id), wallet_credits
// - earning_wallets, earning_recharges
// - pending_transactions (PRIMARY KEY merchant_transaction_id)
//
// Units run at REPEATABLE READ. Row versions guard every update, so a stale
// read fails the unit instead of overwriting a newer balance.

type PostgresStore struct {
	db          *sql.DB
	lockTimeout time.Duration
}

// NewPostgresStore returns a Store over db. lockTimeout bounds row-lock waits inside a unit.
func NewPostgresStore(db *sql.DB, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// translate maps driver failures onto the ledger taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case utils.IsPgCode(err, utils.PgSerializationFailure, utils.PgDeadlockDetected, utils.PgUniqueViolation):
		return fmt.Errorf("%w: %w", ledger.ErrConcurrentModification, err)
	case utils.IsPgCode(err, utils.PgLockNotAvailable):
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	return err
}

func (s *PostgresStore) WithUnit(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelRepeatableRead}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return err
		}
		return fn(ctx, &pgTx{q: tx})
	})
	return translate(err)
}

func (s *PostgresStore) ExpirePlans(ctx context.Context, now time.Time) (int, error) {
	const q = `
WITH expired AS (
  UPDATE plan_allotments
  SET status = 'expired'
  WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
  RETURNING user_id
), bumped AS (
  UPDATE wallets
  SET version = version + 1, updated_at = $1
  WHERE user_id IN (SELECT DISTINCT user_id FROM expired)
  RETURNING user_id
)
SELECT (SELECT count(*) FROM expired), (SELECT count(*) FROM bumped)
`
	var n, wallets int
	if err := s.db.QueryRowContext(ctx, q, now).Scan(&n, &wallets); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	return getWallet(ctx, s.db, userID)
}

func (s *PostgresStore) GetEarningWallet(ctx context.Context, userID string) (EarningWallet, error) {
	return getEarningWallet(ctx, s.db, userID)
}

func (s *PostgresStore) GetPendingTransaction(ctx context.Context, merchantTransactionID string) (PendingTransaction, error) {
	return getPending(ctx, s.db, merchantTransactionID)
}

func (s *PostgresStore) FindDeduction(ctx context.Context, userID, correlationID string) (DeductionRecord, bool, error) {
	return findDeduction(ctx, s.db, userID, correlationID)
}

func (s *PostgresStore) ListDeductions(ctx context.Context, userID string) ([]DeductionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deductionColumns+` FROM wallet_deductions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DeductionRecord{}
	for rows.Next() {
		d, err := scanDeduction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListCredits(ctx context.Context, userID string) ([]CreditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, merchant_transaction_id, amount_minor, balance_after_minor, created_at
FROM wallet_credits
WHERE user_id = $1
ORDER BY created_at, id
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []CreditRecord{}
	for rows.Next() {
		var c CreditRecord
		if err := rows.Scan(&c.ID, &c.UserID, &c.MerchantTransactionID, &c.Amount, &c.BalanceAfter, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRecharges(ctx context.Context, userID string) ([]RechargeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, source_caller_id, correlation_id, amount_minor, created_at
FROM earning_recharges
WHERE user_id = $1
ORDER BY created_at, id
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RechargeRecord{}
	for rows.Next() {
		var r RechargeRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.SourceCallerID, &r.CorrelationID, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// pgTx runs every statement inside the unit's transaction.
type pgTx struct {
	q querier
}

func (t *pgTx) GetWallet(ctx context.Context, userID string) (Wallet, error) {
	return getWallet(ctx, t.q, userID)
}

func (t *pgTx) GetEarningWallet(ctx context.Context, userID string) (EarningWallet, error) {
	return getEarningWallet(ctx, t.q, userID)
}

func (t *pgTx) GetPendingTransaction(ctx context.Context, merchantTransactionID string) (PendingTransaction, error) {
	return getPending(ctx, t.q, merchantTransactionID)
}

func (t *pgTx) FindDeduction(ctx context.Context, userID, correlationID string) (DeductionRecord, bool, error) {
	return findDeduction(ctx, t.q, userID, correlationID)
}

func (t *pgTx) PutWallet(ctx context.Context, w Wallet) error {
	if w.Balance < 0 {
		return fmt.Errorf("put wallet %s: negative balance %d: %w", w.UserID, w.Balance, ledger.ErrInsufficientFunds)
	}
	var res sql.Result
	var err error
	if w.Version == 0 {
		res, err = t.q.ExecContext(ctx, `
INSERT INTO wallets (user_id, balance_minor, version, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (user_id) DO NOTHING
`, w.UserID, w.Balance, w.UpdatedAt)
	} else {
		res, err = t.q.ExecContext(ctx, `
UPDATE wallets
SET balance_minor = $2, version = version + 1, updated_at = $4
WHERE user_id = $1 AND version = $3
`, w.UserID, w.Balance, w.Version, w.UpdatedAt)
	}
	if err := checkVersioned(res, err, "wallet", w.UserID); err != nil {
		return err
	}

	const upsertPlan = `
INSERT INTO plan_allotments (id, user_id, plan_id, minutes_left, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE
SET minutes_left = EXCLUDED.minutes_left,
    status = EXCLUDED.status,
    expires_at = EXCLUDED.expires_at
`
	for _, p := range w.Plans {
		if _, err := t.q.ExecContext(ctx, upsertPlan, p.ID, w.UserID, p.PlanID, p.MinutesLeft, p.Status, nullTime(p.ExpiresAt), p.CreatedAt); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *pgTx) PutEarningWallet(ctx context.Context, e EarningWallet) error {
	var res sql.Result
	var err error
	if e.Version == 0 {
		res, err = t.q.ExecContext(ctx, `
INSERT INTO earning_wallets (user_id, balance_minor, version, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (user_id) DO NOTHING
`, e.UserID, e.Balance, e.UpdatedAt)
	} else {
		res, err = t.q.ExecContext(ctx, `
UPDATE earning_wallets
SET balance_minor = $2, version = version + 1, updated_at = $4
WHERE user_id = $1 AND version = $3
`, e.UserID, e.Balance, e.Version, e.UpdatedAt)
	}
	return checkVersioned(res, err, "earning wallet", e.UserID)
}

func (t *pgTx) PutPendingTransaction(ctx context.Context, p PendingTransaction) error {
	var res sql.Result
	var err error
	if p.Version == 0 {
		res, err = t.q.ExecContext(ctx, `
INSERT INTO pending_transactions (merchant_transaction_id, user_id, plan_id, amount_minor, status, processed, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
ON CONFLICT (merchant_transaction_id) DO NOTHING
`, p.MerchantTransactionID, p.UserID, p.PlanID, p.Amount, p.Status, p.Processed, p.CreatedAt, p.UpdatedAt)
	} else {
		res, err = t.q.ExecContext(ctx, `
UPDATE pending_transactions
SET status = $2, processed = $3, version = version + 1, updated_at = $5
WHERE merchant_transaction_id = $1 AND version = $4
`, p.MerchantTransactionID, p.Status, p.Processed, p.Version, p.UpdatedAt)
	}
	return checkVersioned(res, err, "pending transaction", p.MerchantTransactionID)
}

func (t *pgTx) AppendDeduction(ctx context.Context, d DeductionRecord) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO wallet_deductions (
  id, user_id, correlation_id, counterparty, plan_id, amount_minor, commission_minor,
  receiver_credited_minor, balance_after_minor, plan_minutes, cash_minutes,
  rate_per_minute, commission_percent, fallback_to_cash, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
`,
		d.ID,
		d.UserID,
		d.CorrelationID,
		d.Counterparty,
		d.PlanID,
		d.Amount,
		d.Commission,
		d.ReceiverCredited,
		d.BalanceAfter,
		d.PlanMinutes,
		d.CashMinutes,
		d.RatePerMinute,
		d.CommissionPercent,
		d.FallbackToCash,
		d.CreatedAt,
	)
	return translate(err)
}

func (t *pgTx) AppendRecharge(ctx context.Context, r RechargeRecord) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO earning_recharges (id, user_id, source_caller_id, correlation_id, amount_minor, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, r.ID, r.UserID, r.SourceCallerID, r.CorrelationID, r.Amount, r.CreatedAt)
	return translate(err)
}

func (t *pgTx) AppendCredit(ctx context.Context, c CreditRecord) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO wallet_credits (id, user_id, merchant_transaction_id, amount_minor, balance_after_minor, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, c.ID, c.UserID, c.MerchantTransactionID, c.Amount, c.BalanceAfter, c.CreatedAt)
	return translate(err)
}

func checkVersioned(res sql.Result, err error, what, id string) error {
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s changed since read: %w", what, id, ledger.ErrConcurrentModification)
	}
	return nil
}

func getWallet(ctx context.Context, q querier, userID string) (Wallet, error) {
	var w Wallet
	err := q.QueryRowContext(ctx, `
SELECT user_id, balance_minor, version, updated_at
FROM wallets
WHERE user_id = $1
`, userID).Scan(&w.UserID, &w.Balance, &w.Version, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Wallet{}, fmt.Errorf("wallet %s: %w", userID, ledger.ErrNotFound)
		}
		return Wallet{}, translate(err)
	}

	rows, err := q.QueryContext(ctx, `
SELECT id, plan_id, minutes_left, status, expires_at, created_at
FROM plan_allotments
WHERE user_id = $1
ORDER BY created_at, id
`, userID)
	if err != nil {
		return Wallet{}, translate(err)
	}
	defer rows.Close()
	for rows.Next() {
		var p PlanAllotment
		var expires sql.NullTime
		if err := rows.Scan(&p.ID, &p.PlanID, &p.MinutesLeft, &p.Status, &expires, &p.CreatedAt); err != nil {
			return Wallet{}, err
		}
		if expires.Valid {
			p.ExpiresAt = expires.Time
		}
		w.Plans = append(w.Plans, p)
	}
	return w, rows.Err()
}

func getEarningWallet(ctx context.Context, q querier, userID string) (EarningWallet, error) {
	var e EarningWallet
	err := q.QueryRowContext(ctx, `
SELECT user_id, balance_minor, version, updated_at
FROM earning_wallets
WHERE user_id = $1
`, userID).Scan(&e.UserID, &e.Balance, &e.Version, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EarningWallet{}, fmt.Errorf("earning wallet %s: %w", userID, ledger.ErrNotFound)
		}
		return EarningWallet{}, translate(err)
	}
	return e, nil
}

func getPending(ctx context.Context, q querier, merchantTransactionID string) (PendingTransaction, error) {
	var p PendingTransaction
	err := q.QueryRowContext(ctx, `
SELECT merchant_transaction_id, user_id, plan_id, amount_minor, status, processed, version, created_at, updated_at
FROM pending_transactions
WHERE merchant_transaction_id = $1
`, merchantTransactionID).Scan(
		&p.MerchantTransactionID,
		&p.UserID,
		&p.PlanID,
		&p.Amount,
		&p.Status,
		&p.Processed,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingTransaction{}, fmt.Errorf("pending transaction %s: %w", merchantTransactionID, ledger.ErrNotFound)
		}
		return PendingTransaction{}, translate(err)
	}
	return p, nil
}

const deductionColumns = `id, user_id, correlation_id, counterparty, plan_id, amount_minor, commission_minor,
  receiver_credited_minor, balance_after_minor, plan_minutes, cash_minutes,
  rate_per_minute, commission_percent, fallback_to_cash, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeduction(row scanner) (DeductionRecord, error) {
	var d DeductionRecord
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.CorrelationID,
		&d.Counterparty,
		&d.PlanID,
		&d.Amount,
		&d.Commission,
		&d.ReceiverCredited,
		&d.BalanceAfter,
		&d.PlanMinutes,
		&d.CashMinutes,
		&d.RatePerMinute,
		&d.CommissionPercent,
		&d.FallbackToCash,
		&d.CreatedAt,
	)
	return d, err
}

func findDeduction(ctx context.Context, q querier, userID, correlationID string) (DeductionRecord, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+deductionColumns+` FROM wallet_deductions WHERE user_id = $1 AND correlation_id = $2`, userID, correlationID)
	d, err := scanDeduction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DeductionRecord{}, false, nil
		}
		return DeductionRecord{}, false, translate(err)
	}
	return d, true, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
