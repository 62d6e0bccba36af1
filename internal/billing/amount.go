package billing

import (
	"fmt"
	"math"

	"call-ledger/internal/ledger"

	"github.com/shopspring/decimal"
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Split is the monetary effect of one cash-billed segment, in minor units.
type Split struct {
	Gross          int64
	Commission     int64
	ReceiverCredit int64
}

// ComputeSplit prices minutes at ratePerMinute.
//
// gross = ceil(minutes * rate), so partial minutes never under-charge.
// commission = floor(gross * percent / 100); the receiver gets the rest.
// Without a receiver the platform keeps the whole gross.
func ComputeSplit(minutes decimal.Decimal, ratePerMinute int64, commissionPercent decimal.Decimal, hasReceiver bool) (Split, error) {
	if minutes.IsNegative() || ratePerMinute < 0 {
		return Split{}, fmt.Errorf("price %s min at %d: %w", minutes, ratePerMinute, ledger.ErrInvalidInput)
	}
	gross := minutes.Mul(decimal.NewFromInt(ratePerMinute)).Ceil()
	if gross.GreaterThan(maxMinor) {
		return Split{}, fmt.Errorf("price %s min at %d overflows: %w", minutes, ratePerMinute, ledger.ErrInvalidInput)
	}
	g := gross.IntPart()
	if !hasReceiver {
		return Split{Gross: g, Commission: g}, nil
	}
	c := gross.Mul(commissionPercent).Shift(-2).Floor().IntPart()
	return Split{Gross: g, Commission: c, ReceiverCredit: g - c}, nil
}
