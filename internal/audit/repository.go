package audit

import (
	"context"
	"database/sql"
	"fmt"

	"call-ledger/pkg/utils"
)

const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
  id                      TEXT PRIMARY KEY,
  user_id                 TEXT NOT NULL,
  type                    TEXT NOT NULL,
  correlation_id          TEXT NOT NULL DEFAULT '',
  counterparty_id         TEXT NOT NULL DEFAULT '',
  merchant_transaction_id TEXT NOT NULL DEFAULT '',
  plan_id                 TEXT NOT NULL DEFAULT '',
  amount_minor            BIGINT NOT NULL DEFAULT 0,
  message                 TEXT NOT NULL DEFAULT '',
  metadata                TEXT NOT NULL DEFAULT '',
  created_at              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_user_idx ON audit_events (user_id, created_at);
`

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_events (
  id, user_id, type, correlation_id, counterparty_id, merchant_transaction_id,
  plan_id, amount_minor, message, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`,
		e.ID,
		e.UserID,
		e.Type,
		e.CorrelationID,
		e.CounterpartyID,
		e.MerchantTransactionID,
		e.PlanID,
		e.Amount,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if err != nil {
		if utils.IsPgCode(err, utils.PgUniqueViolation) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("audit append: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, type, correlation_id, counterparty_id, merchant_transaction_id,
       plan_id, amount_minor, message, metadata, created_at
FROM audit_events
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit list: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Type,
			&e.CorrelationID,
			&e.CounterpartyID,
			&e.MerchantTransactionID,
			&e.PlanID,
			&e.Amount,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("audit migrate: %w", err)
	}
	return nil
}
