package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rate tables. Amounts are minor units (int64); commission is a percentage in [0,100].

// AnyType matches every user type of a category in CallRatePerMin rows.
const AnyType = "*"

// CallRate is the general admin-set rate keyed by category only.
type CallRate struct {
	ID       string `json:"id" db:"id"`
	Category string `json:"category" db:"category"`

	RatePerMinute     int64           `json:"rate_per_minute" db:"rate_per_minute"`
	CommissionPercent decimal.Decimal `json:"commission_percent" db:"commission_percent"`

	Status    RateStatus `json:"status" db:"status"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// CallRatePerMin is the specific rate keyed by (category, type). Type may be AnyType.
type CallRatePerMin struct {
	ID       string `json:"id" db:"id"`
	Category string `json:"category" db:"category"`
	Type     string `json:"type" db:"type"`

	RatePerMinute     int64           `json:"rate_per_minute" db:"rate_per_minute"`
	CommissionPercent decimal.Decimal `json:"commission_percent" db:"commission_percent"`

	Status    RateStatus `json:"status" db:"status"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type RateStatus string

const (
	RateStatusActive   RateStatus = "active"
	RateStatusInactive RateStatus = "inactive"
)

// Profile is the billing-relevant part of a user: which rate rows apply to them.
type Profile struct {
	UserID   string `json:"user_id" db:"user_id"`
	Category string `json:"category" db:"category"`
	Type     string `json:"type" db:"type"`
}

// Source names the table a resolved rate came from.
type Source string

const (
	SourcePerMinExact    Source = "call_rate_per_min"
	SourcePerMinCategory Source = "call_rate_per_min_category"
	SourceCallRate       Source = "call_rate"
)

// Rate is a resolved price. It is a value snapshot, never shared with the tables.
type Rate struct {
	Category string `json:"category"`
	Type     string `json:"type,omitempty"`
	Source   Source `json:"source"`

	RatePerMinute     int64           `json:"rate_per_minute"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
}

// RateQuery identifies payer and (optionally) payee. When the payee category is set
// the payee's row prices the call; otherwise the payer's does.
type RateQuery struct {
	PayerCategory string
	PayerType     string
	PayeeCategory string
	PayeeType     string
}

// Table is a read-only listing of every rate row.
type Table struct {
	CallRates       []CallRate       `json:"call_rates"`
	CallRatesPerMin []CallRatePerMin `json:"call_rates_per_min"`
}
