package costing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
)

func serviceInput(method costing.CalculationMethod) costing.ServiceCostInput {
	return costing.ServiceCostInput{
		Item: costing.CatalogItem{
			ID:                  "helpdesk-hour",
			ServiceTypeID:       "helpdesk",
			SupportHoursPerUnit: dec("2"),
			MarkupPercent:       dec("20"),
		},
		Service: costing.ServiceType{
			ID:                 "helpdesk",
			BaseWorkloadFactor: dec("1"),
			ResponseHours:      dec("24"),
			ResolutionHours:    dec("72"),
			Team:               []costing.EmployeeID{"e1", "e2", "e3"},
		},
		Client: &costing.Client{ID: "acme", SupportLevel: costing.SupportPremium},
		Method: method,
		Costs: map[costing.EmployeeID]costing.ResolvedCost{
			"e1": {EmployeeID: "e1", HourlyCost: dec("100")},
			"e2": {EmployeeID: "e2", HourlyCost: dec("50")},
			"e3": {EmployeeID: "e3", HourlyCost: dec("0")},
		},
		EstimatedHoursPerUnit: dec("2"),
		BaseUnitsRequested:    dec("10"),
		ComplexityMultiplier:  dec("2"),
		Charges: []costing.DriverCharge{
			{DriverID: "ws", PoolKind: costing.PoolIndirect, CostPerUnit: dec("10"), OverheadShare: dec("0.25"), ClientQuantity: costing.DecimalPtr(dec("4"))},
			{DriverID: "office", PoolKind: costing.PoolAdmin, CostPerUnit: dec("5"), OverheadShare: dec("0")},
			{DriverID: "dev", PoolKind: costing.PoolDirect, CostPerUnit: dec("1000")},
		},
	}
}

func TestBlendedHourlyRate(t *testing.T) {
	in := serviceInput(costing.MethodTimeBased)
	assertDecimal(t, "75", costing.BlendedHourlyRate(in.Service.Team, in.Costs), "zero-rate member ignored")
	assertDecimal(t, "0", costing.BlendedHourlyRate(nil, in.Costs))
}

func TestCatalogItem_BaseCostAndPrice(t *testing.T) {
	item := costing.CatalogItem{SupportHoursPerUnit: dec("2"), MarkupPercent: dec("20")}
	assertDecimal(t, "150", item.BaseCost(dec("75")))
	assertDecimal(t, "180", item.SalesPrice(dec("75")))

	item.ManualBaseCost = costing.DecimalPtr(dec("400"))
	assertDecimal(t, "400", item.BaseCost(dec("75")))
	assertDecimal(t, "480", item.SalesPrice(dec("75")))
}

func TestCatalogItem_ZeroManualBaseCostOverrides(t *testing.T) {
	// GIVEN: An item explicitly given away at zero base cost
	item := costing.CatalogItem{SupportHoursPerUnit: dec("2"), MarkupPercent: dec("20"), ManualBaseCost: costing.DecimalPtr(dec("0"))}

	// THEN: The override wins over the team rate
	assertDecimal(t, "0", item.BaseCost(dec("75")))
	assertDecimal(t, "0", item.SalesPrice(dec("75")))
}

func TestComputeServiceCost_TimeBased(t *testing.T) {
	// GIVEN: Premium client (x1.3), 2h per unit, blended rate 75
	b, err := costing.ComputeServiceCost(serviceInput(costing.MethodTimeBased))
	require.NoError(t, err)

	// THEN: direct 2 * 1.3 * 75, indirect 4 units * 10 split 25% overhead,
	// admin falls back to 10 base units (not unit_based so not scaled)
	assertDecimal(t, "1.3", b.EffectiveWorkloadFactor)
	assertDecimal(t, "75", b.BlendedHourlyRate)
	assertDecimal(t, "195", b.Direct)
	assertDecimal(t, "30", b.Indirect)
	assertDecimal(t, "10", b.Overhead)
	assertDecimal(t, "50", b.Admin)
	assertDecimal(t, "285", b.Total)
	assertDecimal(t, "342", b.SalesPrice)
	assertDecimal(t, "10", b.ActualUnits)
	assertDecimal(t, "12", b.EffectiveLevels.ResponseHours)
	assert.Len(t, b.Team, 3)
}

func TestTeamBreakdown_FlagsMembersWithoutCost(t *testing.T) {
	in := serviceInput(costing.MethodTimeBased)
	team := append(in.Service.Team, "ghost")
	in.Costs["e2"] = costing.ResolvedCost{EmployeeID: "e2", Source: costing.SourceNone}

	lines := costing.TeamBreakdown(in.Item, team, in.Costs)

	require.Len(t, lines, 4)
	assert.Equal(t, costing.EmployeeID("e1"), lines[0].EmployeeID)
	assertDecimal(t, "200", lines[0].CostPerServiceUnit)
	assert.False(t, lines[0].Missing)
	assert.True(t, lines[1].Missing, "none source")
	assert.Equal(t, costing.EmployeeID("ghost"), lines[3].EmployeeID)
	assert.True(t, lines[3].Missing)
}

func TestComputeServiceCost_UnitBased(t *testing.T) {
	b, err := costing.ComputeServiceCost(serviceInput(costing.MethodUnitBased))
	require.NoError(t, err)

	assertDecimal(t, "150", b.BaseCost)
	assertDecimal(t, "195", b.Direct)
	assertDecimal(t, "13", b.ActualUnits)
	assertDecimal(t, "65", b.Admin, "fallback quantity is the scaled unit count")
}

func TestComputeServiceCost_ComplexityBased(t *testing.T) {
	b, err := costing.ComputeServiceCost(serviceInput(costing.MethodComplexityBased))
	require.NoError(t, err)
	assertDecimal(t, "390", b.Direct)
}

func TestComputeServiceCost_WithoutClient(t *testing.T) {
	in := serviceInput(costing.MethodTimeBased)
	in.Client = nil
	in.Charges = nil

	b, err := costing.ComputeServiceCost(in)

	require.NoError(t, err)
	assertDecimal(t, "1", b.EffectiveWorkloadFactor)
	assertDecimal(t, "150", b.Direct)
	assertDecimal(t, "150", b.Total)
}

func TestComputeServiceCost_UnknownMethod(t *testing.T) {
	_, err := costing.ComputeServiceCost(serviceInput("magic"))
	assert.True(t, costing.IsValidation(err))
	assert.ErrorIs(t, err, costing.ErrUnknownMethod)
}
