package funding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Plan is a purchasable block of minutes.
type Plan struct {
	ID      string `json:"id" db:"id"`
	Minutes int64  `json:"minutes" db:"minutes"`
	// Validity zero means allotments from this plan never expire.
	Validity time.Duration `json:"validity" db:"validity_seconds"`
	Price    int64         `json:"price" db:"price_minor"`
}

// PlanCatalog is owned by the subscription collaborator; the ledger only reads it.
type PlanCatalog interface {
	FindPlan(ctx context.Context, planID string) (Plan, bool, error)
}

type MemoryCatalog struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewMemoryCatalog(plans ...Plan) *MemoryCatalog {
	c := &MemoryCatalog{plans: map[string]Plan{}}
	for _, p := range plans {
		c.plans[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) Put(p Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[p.ID] = p
}

func (c *MemoryCatalog) FindPlan(ctx context.Context, planID string) (Plan, bool, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[planID]
	return p, ok, nil
}

const CatalogSchema = `
CREATE TABLE IF NOT EXISTS plans (
  id               TEXT PRIMARY KEY,
  minutes          BIGINT NOT NULL CHECK (minutes > 0),
  validity_seconds BIGINT NOT NULL DEFAULT 0,
  price_minor      BIGINT NOT NULL CHECK (price_minor >= 0)
);
`

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog { return &PostgresCatalog{db: db} }

func (c *PostgresCatalog) FindPlan(ctx context.Context, planID string) (Plan, bool, error) {
	var p Plan
	var validity int64
	err := c.db.QueryRowContext(ctx, `SELECT id, minutes, validity_seconds, price_minor FROM plans WHERE id = $1`, planID).
		Scan(&p.ID, &p.Minutes, &validity, &p.Price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, false, nil
		}
		return Plan{}, false, err
	}
	p.Validity = time.Duration(validity) * time.Second
	return p, true, nil
}

func MigrateCatalog(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, CatalogSchema); err != nil {
		return fmt.Errorf("plan catalog migrate: %w", err)
	}
	return nil
}
