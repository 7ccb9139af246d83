/*
errors.go - Centralized error types for the costing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Host layers (api, store, cli) map these to transport-level responses.

ERROR CATEGORIES:
  1. Validation errors - Business rule violations on writes
  2. Conversion errors - Missing exchange rates
  3. Lookup errors - Missing pools, drivers, clients, allocations
  4. Conflict errors - Uniqueness violations detected by a store

DEGRADATION:
  Some inputs are not errors but still produce a degraded figure (an
  employee without a contract costs zero, a missing calendar falls back to
  the default hours). Those are reported as Degradation values alongside
  the result, never as errors.

SEE ALSO:
  - engine.go: Maps store failures into these errors
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package costing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the parent of every business-rule violation.
	ErrValidation = errors.New("validation failed")

	ErrPercentageOutOfRange        = errors.New("percentage must be between 0 and 100")
	ErrLicenseCapExceeded          = errors.New("allocated quantity exceeds purchased licenses")
	ErrDuplicateAllocation         = errors.New("allocation already exists for client and period")
	ErrDuplicateEmployeeAllocation = errors.New("employee already allocated to pool")
	ErrInvalidMonthlyHours         = errors.New("monthly hours must be positive")
	ErrNegativeUnitCost            = errors.New("cost per unit must not be negative")
	ErrNegativeMarkup              = errors.New("markup must not be negative")
	ErrNonPositiveQuantity         = errors.New("quantity must be positive")
	ErrUnlimitedPurchasedQuantity  = errors.New("unlimited license must not declare a purchased quantity")
	ErrInvalidTransition           = errors.New("invalid allocation state transition")
	ErrAllocationConfirmed         = errors.New("allocation is confirmed and frozen")
	ErrUnknownCadence              = errors.New("unknown cadence")
	ErrUnknownMethod               = errors.New("unknown calculation method")
	ErrOverheadPoolKind            = errors.New("overhead may only target indirect or admin pools")
	ErrUnknownServiceStatus        = errors.New("unknown service status")

	// ErrNoConversionRate is returned when no exchange rate covers a pair on a date.
	ErrNoConversionRate = errors.New("no conversion rate")

	ErrPoolNotFound       = errors.New("cost pool not found")
	ErrDriverNotFound     = errors.New("cost driver not found")
	ErrClientNotFound     = errors.New("client not found")
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrAllocationNotFound = errors.New("client cost allocation not found")
	ErrServiceNotFound    = errors.New("service not found")
	ErrInvalidPeriod      = errors.New("invalid period")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field and the rule it broke.
// It matches both ErrValidation and the specific rule sentinel.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Field, e.Err, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

func invalid(field string, rule error, format string, args ...any) error {
	return &ValidationError{Field: field, Err: rule, Message: fmt.Sprintf(format, args...)}
}

// CurrencyConversionError reports a currency pair with no usable rate.
type CurrencyConversionError struct {
	From Currency
	To   Currency
	On   time.Time
}

func (e *CurrencyConversionError) Error() string {
	return fmt.Sprintf("no conversion rate from %s to %s on %s", e.From, e.To, e.On.Format("2006-01-02"))
}

func (e *CurrencyConversionError) Unwrap() error {
	return ErrNoConversionRate
}

// =============================================================================
// DEGRADATIONS - Non-fatal input problems
// =============================================================================

// DegradationReason classifies a degraded figure.
type DegradationReason string

const (
	DegradedNoContract      DegradationReason = "no_contract"
	DegradedDefaultHours    DegradationReason = "default_hours"
	DegradedMissingRate     DegradationReason = "missing_rate"
	DegradedMissingEmployee DegradationReason = "missing_employee_cost"
	DegradedNoAdminPool     DegradationReason = "no_admin_pool"
)

// Degradation records a figure that was computed from fallback values.
type Degradation struct {
	Reason  DegradationReason
	Subject string
	Detail  string
}

func (d Degradation) String() string {
	return fmt.Sprintf("%s[%s]: %s", d.Reason, d.Subject, d.Detail)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true if the error is a business-rule violation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrDriverNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrAllocationNotFound) ||
		errors.Is(err, ErrServiceNotFound)
}

// IsConflict returns true if the error is a uniqueness or state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateAllocation) ||
		errors.Is(err, ErrDuplicateEmployeeAllocation) ||
		errors.Is(err, ErrAllocationConfirmed) ||
		errors.Is(err, ErrInvalidTransition)
}
