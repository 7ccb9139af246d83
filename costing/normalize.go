package costing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// NORMALIZER - Raw (amount, currency, cadence) -> monthly base-currency cost
// =============================================================================

// CurrencyConverter converts an amount between currencies as of a date.
// Implementations return *CurrencyConversionError when no rate applies.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to Currency, on time.Time) (decimal.Decimal, error)
}

// CadenceDivisor returns the number of months a cadence spans.
// An empty cadence is treated as monthly.
func CadenceDivisor(c Cadence) (decimal.Decimal, error) {
	switch c {
	case CadenceMonthly, "":
		return decimal.NewFromInt(1), nil
	case CadenceQuarterly:
		return decimal.NewFromInt(3), nil
	case CadenceAnnual, CadenceOneTime:
		return decimal.NewFromInt(12), nil
	}
	return decimal.Zero, invalid("cadence", ErrUnknownCadence, "%q", c)
}

// Normalizer converts raw cost figures to the monthly equivalent in Base.
type Normalizer struct {
	Base      Currency
	Converter CurrencyConverter
}

// Monthly converts amount to the base currency as of `on`, then spreads it
// over the cadence. Amounts already in Base skip the converter.
func (n Normalizer) Monthly(ctx context.Context, amount decimal.Decimal, currency Currency, cadence Cadence, on time.Time) (decimal.Decimal, error) {
	divisor, err := CadenceDivisor(cadence)
	if err != nil {
		return decimal.Zero, err
	}

	converted := amount
	if currency != "" && currency != n.Base {
		if n.Converter == nil {
			return decimal.Zero, &CurrencyConversionError{From: currency, To: n.Base, On: on}
		}
		converted, err = n.Converter.Convert(ctx, amount, currency, n.Base, on)
		if err != nil {
			return decimal.Zero, err
		}
	}
	return converted.Div(divisor), nil
}

// MonthlyOrRaw is the caller-side fallback: when no rate exists it spreads
// the unconverted amount and reports a degradation instead of failing.
func (n Normalizer) MonthlyOrRaw(ctx context.Context, amount decimal.Decimal, currency Currency, cadence Cadence, on time.Time, subject string) (decimal.Decimal, *Degradation, error) {
	monthly, err := n.Monthly(ctx, amount, currency, cadence, on)
	if err == nil {
		return monthly, nil, nil
	}
	var convErr *CurrencyConversionError
	if !errors.As(err, &convErr) {
		return decimal.Zero, nil, err
	}
	divisor, _ := CadenceDivisor(cadence)
	return amount.Div(divisor), &Degradation{
		Reason:  DegradedMissingRate,
		Subject: subject,
		Detail:  convErr.Error(),
	}, nil
}

// =============================================================================
// RATE TABLE - In-memory dated exchange rates
// =============================================================================

type ratePair struct {
	from, to Currency
}

type datedRate struct {
	from time.Time
	rate decimal.Decimal
}

// RateTable is a CurrencyConverter backed by dated rates. The rate used is
// the latest one effective on or before the conversion date. Inverse pairs
// are derived when only the opposite direction is known.
type RateTable struct {
	mu    sync.RWMutex
	rates map[ratePair][]datedRate
}

func NewRateTable() *RateTable {
	return &RateTable{rates: make(map[ratePair][]datedRate)}
}

// Set records that one unit of `from` is worth `rate` units of `to`
// starting on `effective`.
func (t *RateTable) Set(from, to Currency, rate decimal.Decimal, effective time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ratePair{from, to}
	list := append(t.rates[key], datedRate{from: effective, rate: rate})
	sort.Slice(list, func(i, j int) bool { return list[i].from.Before(list[j].from) })
	t.rates[key] = list
}

func (t *RateTable) lookup(from, to Currency, on time.Time) (decimal.Decimal, bool) {
	list := t.rates[ratePair{from, to}]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].from.After(on) {
			return list[i].rate, true
		}
	}
	return decimal.Zero, false
}

func (t *RateTable) Convert(_ context.Context, amount decimal.Decimal, from, to Currency, on time.Time) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if rate, ok := t.lookup(from, to, on); ok {
		return amount.Mul(rate), nil
	}
	if rate, ok := t.lookup(to, from, on); ok && rate.IsPositive() {
		return amount.Div(rate), nil
	}
	return decimal.Zero, &CurrencyConversionError{From: from, To: to, On: on}
}
