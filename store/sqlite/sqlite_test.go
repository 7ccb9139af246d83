package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/store/sqlite"
)

var jan = costing.Period{Year: 2025, Month: time.January}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// INPUT RECORDS
// =============================================================================

func TestStore_EmployeesRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEmployee(ctx, costing.EmployeeCost{
		EmployeeID: "dev", Name: "Dev", ContractWage: costing.DecimalPtr(dec("16800.50")), CalendarID: "kyiv", Active: true,
	}))
	require.NoError(t, s.SaveEmployee(ctx, costing.EmployeeCost{
		EmployeeID: "pm", UseManual: true, ManualSalary: dec("900"), ManualBenefits: dec("100"),
		MonthlyHours: costing.DecimalPtr(dec("160")),
	}))

	got, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	dev := got[0]
	assert.Equal(t, costing.EmployeeID("dev"), dev.EmployeeID)
	require.NotNil(t, dev.ContractWage)
	assert.Equal(t, "16800.5", dev.ContractWage.String())
	assert.Nil(t, dev.MonthlyHours)
	assert.Equal(t, costing.CalendarID("kyiv"), dev.CalendarID)
	assert.True(t, dev.Active)

	pm := got[1]
	assert.Nil(t, pm.ContractWage)
	assert.True(t, pm.UseManual)
	assert.Equal(t, "160", pm.MonthlyHours.String())
	assert.False(t, pm.Active)
}

func TestStore_UpsertsKeepOneRow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveEmployeeAllocation(ctx, costing.EmployeeAllocation{EmployeeID: "dev", PoolID: "support", Percentage: dec("40")}))
	require.NoError(t, s.SaveEmployeeAllocation(ctx, costing.EmployeeAllocation{EmployeeID: "dev", PoolID: "support", Percentage: dec("60")}))
	allocs, err := s.ListEmployeeAllocations(ctx)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "60", allocs[0].Percentage.String())

	require.NoError(t, s.SaveDriverAllocation(ctx, costing.ClientDriverAllocation{DriverID: "ws", ClientID: "A", Quantity: dec("3")}))
	require.NoError(t, s.SaveDriverAllocation(ctx, costing.ClientDriverAllocation{DriverID: "ws", ClientID: "A", Quantity: dec("5")}))
	require.NoError(t, s.SaveDriverAllocation(ctx, costing.ClientDriverAllocation{DriverID: "ws", ClientID: "B", Quantity: dec("1")}))
	require.NoError(t, s.DeleteDriverAllocation(ctx, "ws", "B"))
	das, err := s.ListDriverAllocations(ctx)
	require.NoError(t, err)
	require.Len(t, das, 1)
	assert.Equal(t, "5", das[0].Quantity.String())

	a := costing.Assignment{EmployeeID: "dev", ClientID: "A", ServiceTypeID: "helpdesk"}
	require.NoError(t, s.SaveAssignment(ctx, a))
	require.NoError(t, s.SaveAssignment(ctx, a))
	as, err := s.ListAssignments(ctx)
	require.NoError(t, err)
	assert.Len(t, as, 1)
}

func TestStore_DriversWithPurchase(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDriver(ctx, costing.CostDriver{ID: "ws", PoolID: "support", MarkupPercent: dec("25"), Active: true}))
	require.NoError(t, s.SaveDriver(ctx, costing.CostDriver{
		ID: "m365", PoolID: "support", Active: true,
		Purchase: &costing.Purchase{Cost: dec("5000"), Currency: "EUR", Cadence: costing.CadenceAnnual,
			LicenseType: costing.LicenseQuantityBased, TotalPurchasedQuantity: dec("500")},
	}))

	drivers, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, drivers, 2)

	m365, ws := drivers[0], drivers[1]
	require.NotNil(t, m365.Purchase)
	assert.Equal(t, costing.CadenceAnnual, m365.Purchase.Cadence)
	assert.Equal(t, costing.Currency("EUR"), m365.Purchase.Currency)
	assert.Equal(t, "500", m365.Purchase.TotalPurchasedQuantity.String())
	assert.Nil(t, ws.Purchase)
	assert.Equal(t, "25", ws.MarkupPercent.String())
}

func TestStore_ServiceTypeTeamOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	st := costing.ServiceType{ID: "helpdesk", BaseWorkloadFactor: dec("1.5"), Team: []costing.EmployeeID{"zoe", "adam"}}
	require.NoError(t, s.SaveServiceType(ctx, st))
	st.Team = []costing.EmployeeID{"zoe", "adam", "bob"}
	require.NoError(t, s.SaveServiceType(ctx, st))

	got, err := s.ListServiceTypes(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []costing.EmployeeID{"zoe", "adam", "bob"}, got[0].Team)
	assert.Equal(t, "1.5", got[0].BaseWorkloadFactor.String())

	require.NoError(t, s.SaveCatalogItem(ctx, costing.CatalogItem{ID: "ticket", ServiceTypeID: "helpdesk", SupportHoursPerUnit: dec("0.5")}))
	items, err := s.ListCatalogItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].ManualBaseCost)
}

func TestStore_ClientServicesAndSync(t *testing.T) {
	// GIVEN: A service type feeding the ws driver and two lines for A
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePool(ctx, costing.CostPool{ID: "support", Kind: costing.PoolIndirect, Active: true}))
	require.NoError(t, s.SaveDriver(ctx, costing.CostDriver{ID: "ws", PoolID: "support", Active: true}))
	require.NoError(t, s.SaveClient(ctx, costing.Client{ID: "A", Active: true}))
	require.NoError(t, s.SaveServiceType(ctx, costing.ServiceType{ID: "workstations", DriverID: "ws"}))
	require.NoError(t, s.SaveClientService(ctx, costing.ClientService{ID: "l1", ClientID: "A", ServiceTypeID: "workstations", Name: "Office PCs", Quantity: dec("8"), Status: costing.ServiceActive}))
	require.NoError(t, s.SaveClientService(ctx, costing.ClientService{ID: "l2", ClientID: "A", ServiceTypeID: "workstations", Quantity: dec("3"), Status: costing.ServiceActive}))

	// Upsert keeps one row and rewrites the status
	require.NoError(t, s.SaveClientService(ctx, costing.ClientService{ID: "l2", ClientID: "A", ServiceTypeID: "workstations", Quantity: dec("3"), Status: costing.ServiceRetired}))

	lines, err := s.ListClientServices(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "Office PCs", lines[0].Name)
	assert.Equal(t, costing.ServiceRetired, lines[1].Status)

	types, err := s.ListServiceTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, costing.DriverID("ws"), types[0].DriverID)

	// WHEN: Syncing through the engine
	e := costing.NewEngine(s, costing.Config{BaseCurrency: "UAH"})
	_, err = e.SyncServiceDrivers(ctx)
	require.NoError(t, err)

	// THEN: Only the active line reaches the allocation
	allocs, err := s.ListDriverAllocations(ctx)
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "8", allocs[0].Quantity.String())
}

func TestStore_ClientServiceStatusConstraint(t *testing.T) {
	s := newStore(t)

	err := s.SaveClientService(context.Background(), costing.ClientService{ID: "l1", ClientID: "A", ServiceTypeID: "x", Quantity: dec("1"), Status: "lost"})

	assert.Error(t, err)
}

func TestStore_UsageByPeriod(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, day := range []time.Time{
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, s.AddUsage(ctx, costing.UsageRecord{
			ID: string(rune('a' + i)), EmployeeID: "dev", ClientID: "A", Date: day, Quantity: dec("1"),
		}))
	}

	got, err := s.ListUsage(ctx, jan)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	err = s.AddUsage(ctx, costing.UsageRecord{ID: "a", EmployeeID: "dev", ClientID: "A", Date: jan.Start(), Quantity: dec("1")})
	assert.True(t, costing.IsValidation(err))
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestStore_CreateAllocation_Unique(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))

	err := s.CreateAllocation(ctx, costing.NewAllocation("a2", "A", jan))
	assert.ErrorIs(t, err, costing.ErrDuplicateAllocation)
	assert.True(t, costing.IsConflict(err))

	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("a3", "A", jan.Next())))
}

func TestStore_AllocationLinesAndTimestamps(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))

	at := time.Date(2025, 2, 5, 9, 30, 0, 0, time.UTC)
	a := costing.NewAllocation("a1", "A", jan)
	a.DirectCost, a.IndirectCost, a.AdminCost, a.TotalCost = dec("140"), dec("360"), dec("500"), dec("1000")
	a.State = costing.StateCalculated
	a.CalculatedAt = &at
	a.Lines = []costing.IndirectCostLine{
		{DriverID: "ws", Quantity: dec("3"), CostPerUnit: dec("120"), SalesPricePerUnit: dec("150"), AllocatedCost: dec("360"), AllocatedProfit: dec("90")},
		{DriverID: "m365", Quantity: dec("1"), CostPerUnit: dec("0"), SalesPricePerUnit: dec("0"), AllocatedCost: dec("0"), AllocatedProfit: dec("0")},
	}
	require.NoError(t, s.SavePeriodAllocations(ctx, jan, []costing.ClientCostAllocation{a}))

	got, err := s.GetAllocation(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, costing.StateCalculated, got.State)
	assert.Equal(t, "1000", got.TotalCost.String())
	require.NotNil(t, got.CalculatedAt)
	assert.True(t, got.CalculatedAt.Equal(at))
	assert.Nil(t, got.ConfirmedAt)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, costing.DriverID("ws"), got.Lines[0].DriverID)
	assert.Equal(t, "90", got.Lines[0].AllocatedProfit.String())

	// Rewriting replaces the lines instead of appending
	a.Lines = a.Lines[:1]
	require.NoError(t, s.UpdateAllocation(ctx, a))
	got, err = s.GetAllocation(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, got.Lines, 1)

	_, err = s.GetAllocation(ctx, "missing")
	assert.ErrorIs(t, err, costing.ErrAllocationNotFound)
}

func TestStore_SavePeriodAllocations_AllOrNothing(t *testing.T) {
	// GIVEN: One existing allocation
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))

	ok := costing.NewAllocation("a1", "A", jan)
	ok.TotalCost = dec("10")
	unknown := costing.NewAllocation("ghost", "B", jan)

	// WHEN: The batch contains an unknown record
	err := s.SavePeriodAllocations(ctx, jan, []costing.ClientCostAllocation{ok, unknown})

	// THEN: The first update is rolled back too
	assert.ErrorIs(t, err, costing.ErrAllocationNotFound)
	got, err := s.GetAllocation(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.TotalCost.IsZero())

	wrong := costing.NewAllocation("a1", "A", jan.Next())
	assert.ErrorIs(t, s.SavePeriodAllocations(ctx, jan, []costing.ClientCostAllocation{wrong}), costing.ErrInvalidPeriod)
}

func TestStore_WithTx_Rollback(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx costing.Store) error {
		require.NoError(t, tx.SavePool(ctx, costing.CostPool{ID: "p", Kind: costing.PoolAdmin, Active: true}))
		pools, err := tx.ListPools(ctx)
		require.NoError(t, err)
		assert.Len(t, pools, 1, "visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	pools, err := s.ListPools(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestStore_ClientAllocationsAcrossPeriods(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("feb", "A", jan.Next())))
	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("jan", "A", jan)))
	require.NoError(t, s.CreateAllocation(ctx, costing.NewAllocation("other", "B", jan)))

	got, err := s.ListClientAllocations(ctx, "A")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, costing.AllocationID("jan"), got[0].ID)
	assert.Equal(t, jan.Next(), got[1].Period)

	period, err := s.ListAllocations(ctx, jan)
	require.NoError(t, err)
	assert.Len(t, period, 2)
}

// =============================================================================
// RUN LOG
// =============================================================================

func TestStore_RunLog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	run, err := s.LastRun(ctx, jan)
	require.NoError(t, err)
	assert.Nil(t, run)

	start := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordRun(ctx, costing.RecalculationRun{ID: "r1", Period: jan, StartedAt: start, FinishedAt: start.Add(time.Second), Succeeded: 2, Trigger: "scheduler"}))
	require.NoError(t, s.RecordRun(ctx, costing.RecalculationRun{ID: "r2", Period: jan, StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Second), Failed: 1, Trigger: "api"}))

	run, err = s.LastRun(ctx, jan)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "r2", run.ID)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, "api", run.Trigger)
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestStore_EngineRecalculation(t *testing.T) {
	// GIVEN: The reference scenario persisted in SQLite
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveEmployee(ctx, costing.EmployeeCost{EmployeeID: "dev", ContractWage: costing.DecimalPtr(dec("16800")), Active: true}))
	require.NoError(t, s.SaveEmployee(ctx, costing.EmployeeCost{EmployeeID: "accountant", ContractWage: costing.DecimalPtr(dec("1000")), Active: true}))
	require.NoError(t, s.SavePool(ctx, costing.CostPool{ID: "delivery", Kind: costing.PoolDirect, Active: true}))
	require.NoError(t, s.SavePool(ctx, costing.CostPool{ID: "support", Kind: costing.PoolIndirect, Active: true}))
	require.NoError(t, s.SavePool(ctx, costing.CostPool{ID: "office", Kind: costing.PoolAdmin, Active: true}))
	require.NoError(t, s.SaveEmployeeAllocation(ctx, costing.EmployeeAllocation{EmployeeID: "dev", PoolID: "delivery", Percentage: dec("100")}))
	require.NoError(t, s.SaveEmployeeAllocation(ctx, costing.EmployeeAllocation{EmployeeID: "accountant", PoolID: "office", Percentage: dec("100")}))
	require.NoError(t, s.SaveOverhead(ctx, costing.OverheadCost{ID: "hosting", Amount: dec("1800"), Currency: "UAH", Cadence: costing.CadenceQuarterly,
		PoolID: "support", Method: costing.OverheadFull, State: costing.OverheadActive}))
	require.NoError(t, s.SaveDriver(ctx, costing.CostDriver{ID: "ws", PoolID: "support", Active: true}))
	require.NoError(t, s.SaveClient(ctx, costing.Client{ID: "A", Active: true, SupportLevel: costing.SupportStandard}))
	require.NoError(t, s.SaveClient(ctx, costing.Client{ID: "B", Active: true, SupportLevel: costing.SupportBasic}))
	require.NoError(t, s.SaveDriverAllocation(ctx, costing.ClientDriverAllocation{DriverID: "ws", ClientID: "A", Quantity: dec("3")}))
	require.NoError(t, s.SaveDriverAllocation(ctx, costing.ClientDriverAllocation{DriverID: "ws", ClientID: "B", Quantity: dec("2")}))
	require.NoError(t, s.AddUsage(ctx, costing.UsageRecord{ID: "u1", EmployeeID: "dev", ClientID: "A", Date: jan.Start(), Quantity: dec("1.4")}))
	require.NoError(t, s.AddUsage(ctx, costing.UsageRecord{ID: "u2", EmployeeID: "dev", ClientID: "B", Date: jan.End(), Quantity: dec("2.6")}))

	e := costing.NewEngine(s, costing.Config{BaseCurrency: "UAH"})

	// WHEN
	res, err := e.RecalculatePeriod(ctx, jan, nil)
	require.NoError(t, err)

	// THEN: Figures are persisted with their lines
	stored, err := s.ListAllocations(ctx, jan)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, a := range stored {
		assert.Equal(t, costing.StateCalculated, a.State)
		assert.Equal(t, "500", a.AdminCost.String())
		assert.Equal(t, "1000", a.TotalCost.String())
		require.Len(t, a.Lines, 1)
	}
	assert.Equal(t, 2, res.Succeeded())

	// Confirm one record; a recalculation keeps it frozen
	confirmed, err := e.Confirm(ctx, stored[0].ID)
	require.NoError(t, err)
	assert.Equal(t, costing.StateConfirmed, confirmed.State)

	_, err = e.RecalculateClientAllocation(ctx, "A", jan)
	assert.ErrorIs(t, err, costing.ErrAllocationConfirmed)
}
