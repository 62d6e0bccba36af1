package wallet

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates the wallet-side tables. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
  user_id       TEXT PRIMARY KEY,
  balance_minor BIGINT NOT NULL DEFAULT 0 CHECK (balance_minor >= 0),
  version       BIGINT NOT NULL DEFAULT 1,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plan_allotments (
  id           TEXT PRIMARY KEY,
  user_id      TEXT NOT NULL REFERENCES wallets(user_id),
  plan_id      TEXT NOT NULL,
  minutes_left BIGINT NOT NULL CHECK (minutes_left >= 0),
  status       TEXT NOT NULL CHECK (status IN ('active', 'expired', 'exhausted')),
  expires_at   TIMESTAMPTZ,
  created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS plan_allotments_expiry_idx ON plan_allotments (expires_at) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS wallet_deductions (
  id                      TEXT PRIMARY KEY,
  user_id                 TEXT NOT NULL,
  correlation_id          TEXT NOT NULL,
  counterparty            TEXT NOT NULL DEFAULT '',
  plan_id                 TEXT NOT NULL DEFAULT '',
  amount_minor            BIGINT NOT NULL CHECK (amount_minor >= 0),
  commission_minor        BIGINT NOT NULL,
  receiver_credited_minor BIGINT NOT NULL,
  balance_after_minor     BIGINT NOT NULL,
  plan_minutes            BIGINT NOT NULL DEFAULT 0,
  cash_minutes            TEXT NOT NULL DEFAULT '0',
  rate_per_minute         BIGINT NOT NULL,
  commission_percent      TEXT NOT NULL,
  fallback_to_cash        BOOLEAN NOT NULL DEFAULT false,
  created_at              TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, correlation_id)
);
ALTER TABLE wallet_deductions ADD COLUMN IF NOT EXISTS fallback_to_cash BOOLEAN NOT NULL DEFAULT false;

CREATE TABLE IF NOT EXISTS wallet_credits (
  id                      TEXT PRIMARY KEY,
  user_id                 TEXT NOT NULL,
  merchant_transaction_id TEXT NOT NULL UNIQUE,
  amount_minor            BIGINT NOT NULL CHECK (amount_minor > 0),
  balance_after_minor     BIGINT NOT NULL,
  created_at              TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS earning_wallets (
  user_id       TEXT PRIMARY KEY,
  balance_minor BIGINT NOT NULL DEFAULT 0 CHECK (balance_minor >= 0),
  version       BIGINT NOT NULL DEFAULT 1,
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS earning_recharges (
  id               TEXT PRIMARY KEY,
  user_id          TEXT NOT NULL,
  source_caller_id TEXT NOT NULL,
  correlation_id   TEXT NOT NULL,
  amount_minor     BIGINT NOT NULL CHECK (amount_minor > 0),
  created_at       TIMESTAMPTZ NOT NULL,
  UNIQUE (user_id, source_caller_id, correlation_id)
);

CREATE TABLE IF NOT EXISTS pending_transactions (
  merchant_transaction_id TEXT PRIMARY KEY,
  user_id                 TEXT NOT NULL,
  plan_id                 TEXT NOT NULL DEFAULT '',
  amount_minor            BIGINT NOT NULL,
  status                  TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'FAILED')),
  processed               BOOLEAN NOT NULL DEFAULT false,
  version                 BIGINT NOT NULL DEFAULT 1,
  created_at              TIMESTAMPTZ NOT NULL,
  updated_at              TIMESTAMPTZ NOT NULL
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("wallet migrate: %w", err)
	}
	return nil
}
