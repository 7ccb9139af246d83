package costing

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COST DRIVER - Measurable unit used to apportion a pool to clients
// =============================================================================

// Purchase marks a driver as a direct purchase (e.g. a software license)
// whose unit cost comes from its own price instead of the owning pool.
type Purchase struct {
	Cost                   decimal.Decimal
	Currency               Currency
	Cadence                Cadence
	LicenseType            LicenseType
	TotalPurchasedQuantity decimal.Decimal // must be zero for unlimited
}

type CostDriver struct {
	ID            DriverID
	Name          string
	Unit          string
	PoolID        PoolID
	MarkupPercent decimal.Decimal
	Purchase      *Purchase // nil for ordinary pool drivers
	Active        bool
}

func (d CostDriver) Validate() error {
	if d.MarkupPercent.IsNegative() {
		return invalid("markup_percent", ErrNegativeMarkup, "driver %s markup %s", d.ID, d.MarkupPercent)
	}
	if p := d.Purchase; p != nil {
		if p.LicenseType == LicenseUnlimited && !p.TotalPurchasedQuantity.IsZero() {
			return invalid("total_purchased_quantity", ErrUnlimitedPurchasedQuantity,
				"driver %s declares %s", d.ID, p.TotalPurchasedQuantity)
		}
		if p.Cost.IsNegative() {
			return invalid("purchase_cost", ErrNegativeUnitCost, "driver %s: %s", d.ID, p.Cost)
		}
		if p.TotalPurchasedQuantity.IsNegative() {
			return invalid("total_purchased_quantity", ErrNonPositiveQuantity, "driver %s", d.ID)
		}
		if _, err := CadenceDivisor(p.Cadence); err != nil {
			return err
		}
	}
	return nil
}

// ClientDriverAllocation assigns a quantity of a driver to a client.
// One allocation exists per (driver, client).
type ClientDriverAllocation struct {
	DriverID DriverID
	ClientID ClientID
	Quantity decimal.Decimal
}

func (a ClientDriverAllocation) Validate() error {
	if !a.Quantity.IsPositive() {
		return invalid("quantity", ErrNonPositiveQuantity, "driver %s client %s: %s", a.DriverID, a.ClientID, a.Quantity)
	}
	return nil
}

// CheckAllocationWrite validates writing next against the existing
// allocations of the same driver. An existing row for the same client is
// replaced, so its quantity is excluded from the running total. Quantity
// based licenses reject a total above the purchased quantity.
func CheckAllocationWrite(driver CostDriver, existing []ClientDriverAllocation, next ClientDriverAllocation) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if driver.Purchase == nil || driver.Purchase.LicenseType != LicenseQuantityBased {
		return nil
	}

	total := next.Quantity
	for _, a := range existing {
		if a.DriverID != driver.ID || a.ClientID == next.ClientID {
			continue
		}
		total = total.Add(a.Quantity)
	}
	if limit := driver.Purchase.TotalPurchasedQuantity; total.GreaterThan(limit) {
		return invalid("quantity", ErrLicenseCapExceeded,
			"driver %s: %s requested of %s purchased", driver.ID, total, limit)
	}
	return nil
}

// CheckDriverCap validates the full allocation set of a driver against its
// purchased quantity. It runs whenever the driver itself is rewritten, since
// lowering the cap can strand allocations written under the old one.
func CheckDriverCap(driver CostDriver, allocs []ClientDriverAllocation) error {
	if driver.Purchase == nil || driver.Purchase.LicenseType != LicenseQuantityBased {
		return nil
	}
	total := decimal.Zero
	for _, a := range allocs {
		if a.DriverID == driver.ID {
			total = total.Add(a.Quantity)
		}
	}
	if limit := driver.Purchase.TotalPurchasedQuantity; total.GreaterThan(limit) {
		return invalid("total_purchased_quantity", ErrLicenseCapExceeded,
			"driver %s: %s allocated exceeds %s purchased", driver.ID, total, limit)
	}
	return nil
}

// =============================================================================
// UNIT ECONOMICS
// =============================================================================

// EconomicsBasis names the formula that produced a cost per unit.
type EconomicsBasis string

const (
	BasisPool          EconomicsBasis = "pool"
	BasisUnlimited     EconomicsBasis = "unlimited"
	BasisQuantityBased EconomicsBasis = "quantity_based"
)

type DriverEconomics struct {
	DriverID               DriverID
	Basis                  EconomicsBasis
	MonthlyCost            decimal.Decimal // pool total or normalized purchase cost
	MarkupPercent          decimal.Decimal
	TotalAllocatedQuantity decimal.Decimal
	TotalPurchasedQuantity decimal.Decimal
	UnallocatedQuantity    decimal.Decimal
	CostPerUnit            decimal.Decimal
	SalesPricePerUnit      decimal.Decimal
	ProfitPerUnit          decimal.Decimal
}

// AllocatedCost is the price charged to a client for qty units.
func (e DriverEconomics) AllocatedCost(qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(e.SalesPricePerUnit)
}

// AllocatedProfit is the internal margin on qty units.
func (e DriverEconomics) AllocatedProfit(qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(e.ProfitPerUnit)
}

// UtilizationPercent is allocated/purchased for quantity based licenses,
// 100 for unlimited, and zero otherwise.
func (e DriverEconomics) UtilizationPercent() decimal.Decimal {
	switch e.Basis {
	case BasisUnlimited:
		return hundred
	case BasisQuantityBased:
		return ratio(e.TotalAllocatedQuantity, e.TotalPurchasedQuantity).Mul(hundred)
	}
	return decimal.Zero
}

func (e DriverEconomics) MonthlyRevenue() decimal.Decimal {
	return e.AllocatedCost(e.TotalAllocatedQuantity)
}

func (e DriverEconomics) TotalMonthlyProfit() decimal.Decimal {
	return e.AllocatedProfit(e.TotalAllocatedQuantity)
}

// EconomicsInput carries everything ComputeEconomics needs.
type EconomicsInput struct {
	Driver              CostDriver
	PoolTotal           decimal.Decimal
	PurchaseMonthlyCost decimal.Decimal // normalized; ignored for pool drivers
	Allocations         []ClientDriverAllocation
}

// ComputeEconomics derives cost, sales price and profit per unit.
// A zero denominator yields a zero cost per unit.
func ComputeEconomics(in EconomicsInput) (DriverEconomics, error) {
	d := in.Driver
	if err := d.Validate(); err != nil {
		return DriverEconomics{}, err
	}

	allocated := decimal.Zero
	for _, a := range in.Allocations {
		if a.DriverID == d.ID {
			allocated = allocated.Add(a.Quantity)
		}
	}

	e := DriverEconomics{
		DriverID:               d.ID,
		MarkupPercent:          d.MarkupPercent,
		TotalAllocatedQuantity: allocated,
		TotalPurchasedQuantity: decimal.Zero,
		UnallocatedQuantity:    decimal.Zero,
	}

	switch {
	case d.Purchase != nil && d.Purchase.LicenseType == LicenseUnlimited:
		e.Basis = BasisUnlimited
		e.MonthlyCost = in.PurchaseMonthlyCost
		e.CostPerUnit = ratio(e.MonthlyCost, allocated)
	case d.Purchase != nil && d.Purchase.LicenseType == LicenseQuantityBased:
		e.Basis = BasisQuantityBased
		e.MonthlyCost = in.PurchaseMonthlyCost
		e.TotalPurchasedQuantity = d.Purchase.TotalPurchasedQuantity
		e.UnallocatedQuantity = e.TotalPurchasedQuantity.Sub(allocated)
		e.CostPerUnit = ratio(e.MonthlyCost, e.TotalPurchasedQuantity)
	default:
		e.Basis = BasisPool
		e.MonthlyCost = in.PoolTotal
		e.CostPerUnit = ratio(e.MonthlyCost, allocated)
	}

	if e.CostPerUnit.IsNegative() {
		return DriverEconomics{}, invalid("cost_per_unit", ErrNegativeUnitCost, "driver %s: %s", d.ID, e.CostPerUnit)
	}

	e.SalesPricePerUnit = withMarkup(e.CostPerUnit, d.MarkupPercent)
	e.ProfitPerUnit = e.SalesPricePerUnit.Sub(e.CostPerUnit)
	return e, nil
}

// PurchaseMonthlyCost normalizes a driver's purchase price. Pool drivers
// return zero.
func PurchaseMonthlyCost(ctx context.Context, n Normalizer, d CostDriver, period Period) (decimal.Decimal, *Degradation, error) {
	if d.Purchase == nil {
		return decimal.Zero, nil, nil
	}
	return n.MonthlyOrRaw(ctx, d.Purchase.Cost, d.Purchase.Currency, d.Purchase.Cadence, period.Start(), string(d.ID))
}
