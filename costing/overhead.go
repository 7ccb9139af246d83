package costing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OVERHEAD - Non-labor cost (rent, tooling, SaaS) loaded into a pool
// =============================================================================

// OverheadMethod decides how much of an overhead's monthly cost reaches the pool.
type OverheadMethod string

const (
	OverheadFull       OverheadMethod = "full"
	OverheadPercentage OverheadMethod = "percentage"
	OverheadFixed      OverheadMethod = "fixed"
)

type OverheadState string

const (
	OverheadDraft   OverheadState = "draft"
	OverheadActive  OverheadState = "active"
	OverheadExpired OverheadState = "expired"
)

type OverheadCost struct {
	ID       OverheadID
	Name     string
	Amount   decimal.Decimal
	Currency Currency
	Cadence  Cadence

	PoolID     PoolID
	Method     OverheadMethod
	Percentage decimal.Decimal // used by OverheadPercentage
	FixedCost  decimal.Decimal // monthly, base currency; used by OverheadFixed

	State OverheadState
}

// OverheadAllocation is the monthly base-currency amount an overhead
// contributes to its pool.
type OverheadAllocation struct {
	OverheadID  OverheadID
	PoolID      PoolID
	MonthlyCost decimal.Decimal
}

// AnnualCost is the monthly contribution over a year.
func (a OverheadAllocation) AnnualCost() decimal.Decimal {
	return a.MonthlyCost.Mul(decimal.NewFromInt(12))
}

// ValidateTarget rejects overheads pointing at direct pools.
func (o OverheadCost) ValidateTarget(pool CostPool) error {
	if pool.Kind != PoolIndirect && pool.Kind != PoolAdmin {
		return invalid("pool_id", ErrOverheadPoolKind, "overhead %s targets %s pool %s", o.ID, pool.Kind, pool.ID)
	}
	if o.Method == OverheadPercentage && (o.Percentage.IsNegative() || o.Percentage.GreaterThan(hundred)) {
		return invalid("percentage", ErrPercentageOutOfRange, "overhead %s: %s", o.ID, o.Percentage)
	}
	return nil
}

// Activate moves a draft overhead to active.
func (o *OverheadCost) Activate() error {
	if o.State != OverheadDraft && o.State != "" {
		return invalid("state", ErrInvalidTransition, "overhead %s is %s", o.ID, o.State)
	}
	o.State = OverheadActive
	return nil
}

// Expire moves an active overhead to expired.
func (o *OverheadCost) Expire() error {
	if o.State != OverheadActive {
		return invalid("state", ErrInvalidTransition, "overhead %s is %s", o.ID, o.State)
	}
	o.State = OverheadExpired
	return nil
}

// Allocate normalizes the overhead and applies its method. Only active
// overheads produce an allocation; ok is false otherwise.
func (o OverheadCost) Allocate(ctx context.Context, n Normalizer, period Period) (alloc OverheadAllocation, degraded *Degradation, ok bool, err error) {
	if o.State != OverheadActive || o.PoolID == "" {
		return OverheadAllocation{}, nil, false, nil
	}

	monthly, degraded, err := n.MonthlyOrRaw(ctx, o.Amount, o.Currency, o.Cadence, period.Start(), string(o.ID))
	if err != nil {
		return OverheadAllocation{}, nil, false, err
	}

	var amount decimal.Decimal
	switch o.Method {
	case OverheadPercentage:
		amount = percentOf(monthly, o.Percentage)
	case OverheadFixed:
		amount = o.FixedCost
	default:
		amount = monthly
	}

	return OverheadAllocation{OverheadID: o.ID, PoolID: o.PoolID, MonthlyCost: amount}, degraded, true, nil
}
