package rates

import (
	"context"
	"database/sql"
	"fmt"
)

const Schema = `
CREATE TABLE IF NOT EXISTS call_rates (
  id                 TEXT PRIMARY KEY,
  category           TEXT NOT NULL UNIQUE,
  rate_per_minute    BIGINT NOT NULL CHECK (rate_per_minute >= 0),
  commission_percent NUMERIC(5,2) NOT NULL CHECK (commission_percent >= 0 AND commission_percent <= 100),
  status             TEXT NOT NULL DEFAULT 'active',
  updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS call_rates_per_min (
  id                 TEXT PRIMARY KEY,
  category           TEXT NOT NULL,
  type               TEXT NOT NULL,
  rate_per_minute    BIGINT NOT NULL CHECK (rate_per_minute >= 0),
  commission_percent NUMERIC(5,2) NOT NULL CHECK (commission_percent >= 0 AND commission_percent <= 100),
  status             TEXT NOT NULL DEFAULT 'active',
  updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (category, type)
);

CREATE TABLE IF NOT EXISTS user_profiles (
  user_id  TEXT PRIMARY KEY,
  category TEXT NOT NULL,
  type     TEXT NOT NULL DEFAULT ''
);
`

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("rates migrate: %w", err)
	}
	return nil
}
