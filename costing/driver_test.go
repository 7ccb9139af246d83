package costing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
)

func quantityDriver(purchased string) costing.CostDriver {
	return costing.CostDriver{
		ID:     "m365",
		PoolID: "licenses",
		Purchase: &costing.Purchase{
			Cost:                   dec("1000"),
			Currency:               "UAH",
			Cadence:                costing.CadenceMonthly,
			LicenseType:            costing.LicenseQuantityBased,
			TotalPurchasedQuantity: dec(purchased),
		},
		Active: true,
	}
}

func TestEconomics_UnlimitedLicense(t *testing.T) {
	// GIVEN: Unlimited license costing 600/month, clients with 3 and 2 units
	driver := costing.CostDriver{
		ID:       "antivirus",
		Purchase: &costing.Purchase{Cost: dec("600"), LicenseType: costing.LicenseUnlimited},
		Active:   true,
	}
	allocs := []costing.ClientDriverAllocation{
		{DriverID: "antivirus", ClientID: "c1", Quantity: dec("3")},
		{DriverID: "antivirus", ClientID: "c2", Quantity: dec("2")},
	}

	// WHEN: Computing unit economics
	e, err := costing.ComputeEconomics(costing.EconomicsInput{Driver: driver, PurchaseMonthlyCost: dec("600"), Allocations: allocs})

	// THEN: 600 / 5 per unit, client 1 charged 3 units at 0% markup
	require.NoError(t, err)
	assert.Equal(t, costing.BasisUnlimited, e.Basis)
	assertDecimal(t, "120", e.CostPerUnit)
	assertDecimal(t, "360", e.AllocatedCost(dec("3")))
	assertDecimal(t, "100", e.UtilizationPercent())
}

func TestEconomics_QuantityBased(t *testing.T) {
	driver := quantityDriver("50")
	allocs := []costing.ClientDriverAllocation{
		{DriverID: "m365", ClientID: "c1", Quantity: dec("20")},
		{DriverID: "m365", ClientID: "c2", Quantity: dec("10")},
		{DriverID: "other", ClientID: "c1", Quantity: dec("999")},
	}

	e, err := costing.ComputeEconomics(costing.EconomicsInput{Driver: driver, PoolTotal: dec("777"), PurchaseMonthlyCost: dec("1000"), Allocations: allocs})

	require.NoError(t, err)
	assert.Equal(t, costing.BasisQuantityBased, e.Basis)
	assertDecimal(t, "20", e.CostPerUnit, "divided by purchased, not allocated")
	assertDecimal(t, "30", e.TotalAllocatedQuantity)
	assertDecimal(t, "20", e.UnallocatedQuantity)
	assertDecimal(t, "60", e.UtilizationPercent())
}

func TestEconomics_PoolDriver(t *testing.T) {
	driver := costing.CostDriver{ID: "ws", PoolID: "support", MarkupPercent: dec("25"), Active: true}
	allocs := []costing.ClientDriverAllocation{
		{DriverID: "ws", ClientID: "c1", Quantity: dec("10")},
		{DriverID: "ws", ClientID: "c2", Quantity: dec("20")},
	}

	e, err := costing.ComputeEconomics(costing.EconomicsInput{Driver: driver, PoolTotal: dec("3000"), Allocations: allocs})

	require.NoError(t, err)
	assertDecimal(t, "100", e.CostPerUnit)
	assertDecimal(t, "125", e.SalesPricePerUnit)
	assertDecimal(t, "25", e.ProfitPerUnit)
	assertDecimal(t, "3750", e.MonthlyRevenue())
	assertDecimal(t, "750", e.TotalMonthlyProfit())
	assertDecimal(t, "250", e.AllocatedProfit(dec("10")))
}

func TestEconomics_ZeroDenominators(t *testing.T) {
	pool, err := costing.ComputeEconomics(costing.EconomicsInput{
		Driver:    costing.CostDriver{ID: "ws", Active: true},
		PoolTotal: dec("3000"),
	})
	require.NoError(t, err)
	assert.True(t, pool.CostPerUnit.IsZero())

	licensed, err := costing.ComputeEconomics(costing.EconomicsInput{
		Driver:              quantityDriver("0"),
		PurchaseMonthlyCost: dec("1000"),
	})
	require.NoError(t, err)
	assert.True(t, licensed.CostPerUnit.IsZero())
	assert.True(t, licensed.UtilizationPercent().IsZero())
}

func TestEconomics_RoundTrip(t *testing.T) {
	for _, markup := range []string{"0", "12.5", "40", "100", "333"} {
		driver := costing.CostDriver{ID: "ws", MarkupPercent: dec(markup), Active: true}
		e, err := costing.ComputeEconomics(costing.EconomicsInput{
			Driver:      driver,
			PoolTotal:   dec("1000"),
			Allocations: []costing.ClientDriverAllocation{{DriverID: "ws", ClientID: "c", Quantity: dec("7")}},
		})
		require.NoError(t, err)
		assert.True(t, e.ProfitPerUnit.Equal(e.SalesPricePerUnit.Sub(e.CostPerUnit)), markup)
		expected := e.CostPerUnit.Mul(dec("1").Add(dec(markup).Div(dec("100"))))
		assert.True(t, e.SalesPricePerUnit.Equal(expected), markup)
	}
}

func TestDriver_Validate(t *testing.T) {
	unlimited := costing.CostDriver{ID: "av", Purchase: &costing.Purchase{LicenseType: costing.LicenseUnlimited, TotalPurchasedQuantity: dec("10")}}
	assert.ErrorIs(t, unlimited.Validate(), costing.ErrUnlimitedPurchasedQuantity)

	negative := costing.CostDriver{ID: "ws", MarkupPercent: dec("-5")}
	assert.ErrorIs(t, negative.Validate(), costing.ErrNegativeMarkup)

	badCadence := quantityDriver("10")
	badCadence.Purchase.Cadence = "weekly"
	assert.ErrorIs(t, badCadence.Validate(), costing.ErrUnknownCadence)
}

func TestCheckAllocationWrite_LicenseCap(t *testing.T) {
	// GIVEN: 500 purchased licenses, 480 already allocated
	driver := quantityDriver("500")
	existing := []costing.ClientDriverAllocation{
		{DriverID: "m365", ClientID: "c1", Quantity: dec("300")},
		{DriverID: "m365", ClientID: "c2", Quantity: dec("180")},
	}

	// WHEN/THEN: 30 more units exceed the cap
	err := costing.CheckAllocationWrite(driver, existing, costing.ClientDriverAllocation{DriverID: "m365", ClientID: "c3", Quantity: dec("30")})
	assert.True(t, costing.IsValidation(err))
	assert.ErrorIs(t, err, costing.ErrLicenseCapExceeded)

	// WHEN/THEN: 20 units reach exactly 500 and succeed
	err = costing.CheckAllocationWrite(driver, existing, costing.ClientDriverAllocation{DriverID: "m365", ClientID: "c3", Quantity: dec("20")})
	assert.NoError(t, err)

	// WHEN/THEN: Updating an existing row replaces its quantity
	err = costing.CheckAllocationWrite(driver, existing, costing.ClientDriverAllocation{DriverID: "m365", ClientID: "c1", Quantity: dec("320")})
	assert.NoError(t, err)
}

func TestCheckDriverCap(t *testing.T) {
	allocs := []costing.ClientDriverAllocation{
		{DriverID: "m365", ClientID: "c1", Quantity: dec("300")},
		{DriverID: "m365", ClientID: "c2", Quantity: dec("180")},
		{DriverID: "other", ClientID: "c1", Quantity: dec("1000")},
	}

	assert.NoError(t, costing.CheckDriverCap(quantityDriver("480"), allocs))
	err := costing.CheckDriverCap(quantityDriver("400"), allocs)
	assert.True(t, costing.IsValidation(err))
	assert.ErrorIs(t, err, costing.ErrLicenseCapExceeded)

	pool := costing.CostDriver{ID: "m365"}
	assert.NoError(t, costing.CheckDriverCap(pool, allocs), "pool drivers have no cap")
}

func TestCheckAllocationWrite_QuantityMustBePositive(t *testing.T) {
	driver := costing.CostDriver{ID: "ws"}
	err := costing.CheckAllocationWrite(driver, nil, costing.ClientDriverAllocation{DriverID: "ws", ClientID: "c1", Quantity: dec("0")})
	assert.ErrorIs(t, err, costing.ErrNonPositiveQuantity)
}
