package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - user_id is required; it is the wallet owner the event is about.
// - Audit capture is best-effort; ledger outcomes never depend on it.
//
// Storage (Postgres): table audit_events, INSERT-only. See Schema.

type Event struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// Type indicates the business category of the audit record.
	Type EventType `json:"type" db:"type"`

	// Target identifiers (optional, depending on the event type).
	CorrelationID         string `json:"correlation_id,omitempty" db:"correlation_id"`
	CounterpartyID        string `json:"counterparty_id,omitempty" db:"counterparty_id"`
	MerchantTransactionID string `json:"merchant_transaction_id,omitempty" db:"merchant_transaction_id"`
	PlanID                string `json:"plan_id,omitempty" db:"plan_id"`

	Amount int64 `json:"amount" db:"amount_minor"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSettlement EventType = "settlement"
	EventTypeFunding    EventType = "funding"
	EventTypePlanExpiry EventType = "plan_expiry"
)
