package billing

import (
	"fmt"
	"time"

	"call-ledger/internal/ledger"
	"call-ledger/internal/wallet"
)

// Allocation is how a plan deduction splits between plan minutes and cash.
type Allocation struct {
	// Plans is the caller's allotment list after consumption.
	Plans     []wallet.PlanAllotment
	Covered   int64
	Remainder int64
}

// Allocate draws minutes from the usable allotments of planID, oldest first.
//
// An allotment that reaches zero becomes exhausted. When the plan covers only
// part of the request the rest is returned as Remainder for cash billing.
// A plan with nothing left fails PlanExpired when every allotment expired,
// and PlanExhausted otherwise unless fallbackToCash bills the whole request.
func Allocate(plans []wallet.PlanAllotment, planID string, minutes int64, now time.Time, fallbackToCash bool) (Allocation, error) {
	out := append([]wallet.PlanAllotment(nil), plans...)

	var found, exhausted bool
	var available int64
	for _, p := range out {
		if p.PlanID != planID {
			continue
		}
		found = true
		switch {
		case p.Usable(now):
			available += p.MinutesLeft
		case !p.Expired(now):
			exhausted = true
		}
	}
	if !found {
		return Allocation{}, fmt.Errorf("plan %s: %w", planID, ledger.ErrPlanNotFound)
	}
	if available == 0 {
		switch {
		case exhausted && fallbackToCash:
			return Allocation{Plans: out, Remainder: minutes}, nil
		case exhausted:
			return Allocation{}, fmt.Errorf("plan %s: %w", planID, ledger.ErrPlanExhausted)
		default:
			return Allocation{}, fmt.Errorf("plan %s: %w", planID, ledger.ErrPlanExpired)
		}
	}

	need := minutes
	for i := range out {
		if need == 0 {
			break
		}
		p := &out[i]
		if p.PlanID != planID || !p.Usable(now) {
			continue
		}
		take := min(need, p.MinutesLeft)
		p.MinutesLeft -= take
		if p.MinutesLeft == 0 {
			p.Status = wallet.PlanStatusExhausted
		}
		need -= take
	}
	return Allocation{Plans: out, Covered: minutes - need, Remainder: need}, nil
}
