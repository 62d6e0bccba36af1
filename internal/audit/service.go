package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"call-ledger/internal/ledger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Event, error)
}

// History page bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Service records ledger activity for internal ops.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent   = errors.New("audit: invalid event")
	ErrDuplicateEvent = errors.New("audit: duplicate event id")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// History returns the most recent events about userID, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if userID == "" {
		return nil, ErrInvalidEvent
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// LogSettlement records a committed settlement against the caller's wallet.
func (s *Service) LogSettlement(ctx context.Context, res ledger.SettlementResult) error {
	return s.Append(ctx, Event{
		UserID:         res.CallerID,
		Type:           EventTypeSettlement,
		CorrelationID:  res.CorrelationID,
		CounterpartyID: res.ReceiverID,
		PlanID:         res.PlanID,
		Amount:         res.AmountCharged,
		Message:        "settlement committed",
		Metadata:       metadata(res),
	})
}

// LogFunding records an applied funding confirmation.
func (s *Service) LogFunding(ctx context.Context, res ledger.FundingResult) error {
	return s.Append(ctx, Event{
		UserID:                res.UserID,
		Type:                  EventTypeFunding,
		MerchantTransactionID: res.MerchantTransactionID,
		PlanID:                res.PlanID,
		Amount:                res.Amount,
		Message:               "funding " + string(res.Status),
		Metadata:              metadata(res),
	})
}

// LogPlanExpiry records one sweep run. The sweep is not tied to a user, so
// the event is filed under the "system" owner.
func (s *Service) LogPlanExpiry(ctx context.Context, expired int, at time.Time) error {
	return s.Append(ctx, Event{
		UserID:    "system",
		Type:      EventTypePlanExpiry,
		Amount:    int64(expired),
		Message:   "plan allotments expired",
		CreatedAt: at.UTC(),
	})
}

func metadata(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
