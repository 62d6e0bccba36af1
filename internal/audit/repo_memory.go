package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in process. Used by tests and local runs without Postgres.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prior := range r.events {
		if prior.ID == e.ID {
			return ErrDuplicateEvent
		}
	}
	r.events = append(r.events, e)
	return nil
}

// ListByUser returns up to limit events for userID, newest first.
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].UserID == userID {
			out = append(out, r.events[i])
		}
	}
	return out, nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
