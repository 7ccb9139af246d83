/*
Package costing provides the Activity-Based Costing allocation engine.

PURPOSE:
  Turns raw cost inputs (employee wages, cost pools, cost drivers, overhead
  entries, client support levels, timesheet usage) into a reproducible,
  period-scoped cost breakdown per client, plus the unit economics used
  for pricing.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe IDs for employees, pools, drivers, clients
  - Enumerations: pool kinds, cadences, license types, support levels
  - Decimal helpers: safe ratio and percentage arithmetic

DESIGN PRINCIPLES:
  1. Precision: every money and quantity figure is a decimal.Decimal
  2. Explicit recomputation: derived figures are produced by pure functions
     called in a fixed order (normalize -> resolve -> aggregate -> economics
     -> allocate), never by reactive callbacks
  3. Zero over error: a zero denominator yields zero, not a failure
  4. No rounding inside the engine; callers round for display

CALL ORDER:
  Normalizer        -> monthly base-currency figures
  Resolver          -> employee monthly and hourly cost
  AggregatePool     -> pool totals
  ComputeEconomics  -> driver cost/sales/profit per unit
  CalculatePeriod   -> client allocations (two-phase, whole period)

SEE ALSO:
  - errors.go: error taxonomy
  - allocation.go: the client allocation engine
  - engine.go: the facade exposed to the host
*/
package costing

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PoolID string
type DriverID string
type ClientID string
type AllocationID string
type OverheadID string
type ServiceTypeID string
type CatalogItemID string
type CalendarID string
type ClientServiceID string

// Currency is an ISO 4217 code such as "UAH" or "EUR".
type Currency string

// =============================================================================
// ENUMERATIONS
// =============================================================================

// PoolKind classifies a cost pool.
type PoolKind string

const (
	PoolDirect   PoolKind = "direct"
	PoolIndirect PoolKind = "indirect"
	PoolAdmin    PoolKind = "admin"
)

func (k PoolKind) Valid() bool {
	switch k {
	case PoolDirect, PoolIndirect, PoolAdmin:
		return true
	}
	return false
}

// Cadence is the billing frequency of a raw cost figure.
type Cadence string

const (
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
	CadenceAnnual    Cadence = "annual"
	CadenceOneTime   Cadence = "one_time" // amortized over a year
)

// LicenseType selects the unit-economics formula for a purchased driver.
type LicenseType string

const (
	LicenseQuantityBased LicenseType = "quantity_based"
	LicenseUnlimited     LicenseType = "unlimited"
)

// SupportLevel is the client's contracted support tier.
type SupportLevel string

const (
	SupportBasic      SupportLevel = "basic"
	SupportStandard   SupportLevel = "standard"
	SupportPremium    SupportLevel = "premium"
	SupportEnterprise SupportLevel = "enterprise"
)

// ServiceStatus is the lifecycle of a service line installed at a client.
type ServiceStatus string

const (
	ServiceActive      ServiceStatus = "active"
	ServiceInactive    ServiceStatus = "inactive"
	ServiceMaintenance ServiceStatus = "maintenance"
	ServiceRetired     ServiceStatus = "retired"
)

func (s ServiceStatus) Valid() bool {
	switch s {
	case ServiceActive, ServiceInactive, ServiceMaintenance, ServiceRetired:
		return true
	}
	return false
}

// AllocationState is the lifecycle of a ClientCostAllocation.
type AllocationState string

const (
	StateDraft      AllocationState = "draft"
	StateCalculated AllocationState = "calculated"
	StateConfirmed  AllocationState = "confirmed" // terminal
)

// CalculationMethod selects how a service's direct cost per unit is derived.
type CalculationMethod string

const (
	MethodTimeBased       CalculationMethod = "time_based"
	MethodUnitBased       CalculationMethod = "unit_based"
	MethodComplexityBased CalculationMethod = "complexity_based"
)

// =============================================================================
// CLIENT
// =============================================================================

// Client is a billed company.
type Client struct {
	ID           ClientID
	Name         string
	SupportLevel SupportLevel
	Active       bool
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ratio returns num/den, or zero when den is not positive.
func ratio(num, den decimal.Decimal) decimal.Decimal {
	if !den.IsPositive() {
		return decimal.Zero
	}
	return num.Div(den)
}

// percentOf returns value * pct / 100.
func percentOf(value, pct decimal.Decimal) decimal.Decimal {
	return value.Mul(pct).Div(hundred)
}

// withMarkup returns value * (1 + markup/100).
func withMarkup(value, markup decimal.Decimal) decimal.Decimal {
	return value.Mul(one.Add(markup.Div(hundred)))
}

func sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// DecimalPtr returns a pointer to d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
