package rates

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes the tables created by Schema:
// - call_rates (UNIQUE category)
// - call_rates_per_min (UNIQUE category, type)
// - user_profiles (PRIMARY KEY user_id)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindPerMinuteRate(ctx context.Context, category, userType string) (CallRatePerMin, bool, error) {
	const q = `
SELECT id, category, type, rate_per_minute, commission_percent, status, updated_at
FROM call_rates_per_min
WHERE category = $1 AND type = $2
`
	var row CallRatePerMin
	err := r.db.QueryRowContext(ctx, q, category, userType).Scan(
		&row.ID,
		&row.Category,
		&row.Type,
		&row.RatePerMinute,
		&row.CommissionPercent,
		&row.Status,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRatePerMin{}, false, nil
		}
		return CallRatePerMin{}, false, err
	}
	return row, true, nil
}

func (r *PostgresRepo) FindCallRate(ctx context.Context, category string) (CallRate, bool, error) {
	const q = `
SELECT id, category, rate_per_minute, commission_percent, status, updated_at
FROM call_rates
WHERE category = $1
`
	var row CallRate
	err := r.db.QueryRowContext(ctx, q, category).Scan(
		&row.ID,
		&row.Category,
		&row.RatePerMinute,
		&row.CommissionPercent,
		&row.Status,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRate{}, false, nil
		}
		return CallRate{}, false, err
	}
	return row, true, nil
}

func (r *PostgresRepo) FindProfile(ctx context.Context, userID string) (Profile, bool, error) {
	const q = `SELECT user_id, category, type FROM user_profiles WHERE user_id = $1`
	var p Profile
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&p.UserID, &p.Category, &p.Type); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}
	return p, true, nil
}

func (r *PostgresRepo) ListRates(ctx context.Context) (Table, error) {
	out := Table{CallRates: []CallRate{}, CallRatesPerMin: []CallRatePerMin{}}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, category, rate_per_minute, commission_percent, status, updated_at
FROM call_rates
ORDER BY category
`)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var row CallRate
		if err := rows.Scan(&row.ID, &row.Category, &row.RatePerMinute, &row.CommissionPercent, &row.Status, &row.UpdatedAt); err != nil {
			return Table{}, err
		}
		out.CallRates = append(out.CallRates, row)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}

	perMin, err := r.db.QueryContext(ctx, `
SELECT id, category, type, rate_per_minute, commission_percent, status, updated_at
FROM call_rates_per_min
ORDER BY category, type
`)
	if err != nil {
		return Table{}, err
	}
	defer perMin.Close()
	for perMin.Next() {
		var row CallRatePerMin
		if err := perMin.Scan(&row.ID, &row.Category, &row.Type, &row.RatePerMinute, &row.CommissionPercent, &row.Status, &row.UpdatedAt); err != nil {
			return Table{}, err
		}
		out.CallRatesPerMin = append(out.CallRatesPerMin, row)
	}
	return out, perMin.Err()
}
