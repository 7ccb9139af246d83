package factory_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/costing/store"
	"github.com/warp/abc-engine/factory"
)

var jan = costing.Period{Year: 2025, Month: time.January}

func loadFixture(t *testing.T) *factory.Snapshot {
	t.Helper()
	data, err := os.ReadFile("testdata/snapshot.json")
	require.NoError(t, err)
	snap, err := factory.ParseSnapshot(data)
	require.NoError(t, err)
	return snap
}

func TestParseSnapshot_Defaults(t *testing.T) {
	snap := loadFixture(t)

	pool := snap.Pools[0].Pool()
	assert.True(t, pool.Active, "pools default to active")

	o := snap.Overheads[0].Overhead("UAH")
	assert.Equal(t, costing.OverheadFull, o.Method)
	assert.Equal(t, costing.OverheadActive, o.State)
	assert.Equal(t, costing.Currency("EUR"), o.Currency)

	item := snap.Catalog[0].CatalogItem()
	assert.Equal(t, "0.5", item.SupportHoursPerUnit.String())
	assert.Equal(t, "50", item.MarkupPercent.String())

	c := factory.ClientJSON{ID: "x"}.Client()
	assert.Equal(t, costing.SupportStandard, c.SupportLevel)
}

func TestParseSnapshot_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad pool kind", `{"pools":[{"id":"p","kind":"shared"}]}`},
		{"missing driver pool", `{"drivers":[{"id":"d"}]}`},
		{"bad cadence", `{"overheads":[{"pool_id":"p","amount":"1","cadence":"weekly"}]}`},
		{"bad support level", `{"clients":[{"id":"c","support_level":"gold"}]}`},
		{"bad usage date", `{"usage":[{"employee_id":"e","client_id":"c","date":"15/01/2025","quantity":"1"}]}`},
		{"bad service status", `{"client_services":[{"id":"l","client_id":"c","service_type_id":"s","status":"broken"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.ParseSnapshot([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, costing.IsValidation(err), "got %v", err)
		})
	}

	_, err := factory.ParseSnapshot([]byte(`{"pools": [`))
	assert.Error(t, err)
}

func TestSnapshot_Load_EndToEnd(t *testing.T) {
	// GIVEN: The fixture loaded into a memory store, EUR rate 40 and a
	// Kyiv calendar giving 184 hours in January 2025
	ctx := context.Background()
	snap := loadFixture(t)
	m := store.NewMemory()
	require.NoError(t, snap.Load(ctx, m, "UAH"))

	rates, err := snap.RateTable()
	require.NoError(t, err)
	calendars, err := snap.CalendarRegistry(zerolog.Nop())
	require.NoError(t, err)

	e := costing.NewEngine(m, costing.Config{BaseCurrency: snap.Base("USD"), Converter: rates, Hours: calendars})

	// WHEN: January is recalculated
	res, err := e.RecalculatePeriod(ctx, jan, nil)
	require.NoError(t, err)

	// THEN: dev costs 100/h; hosting is 600 UAH over 5 workstations, 120
	// each and 150 with the 25% markup; both clients reach 575 non-admin so
	// the admin 1000 splits evenly
	require.Len(t, res.Allocations, 2)
	a, ok := res.Allocation("A")
	require.True(t, ok)
	assert.Equal(t, "125", a.DirectCost.String())
	assert.Equal(t, "450", a.IndirectCost.String())
	assert.Equal(t, "500", a.AdminCost.String())
	assert.Equal(t, "1075", a.TotalCost.String())
	b, ok := res.Allocation("B")
	require.True(t, ok)
	assert.Equal(t, "275", b.DirectCost.String())
	assert.Equal(t, "300", b.IndirectCost.String())
	assert.Equal(t, "1075", b.TotalCost.String())
	assert.True(t, res.TotalNonAdmin.Equal(decimal.NewFromInt(1150)))
}

func TestSnapshot_Load_RollsBackOnDomainError(t *testing.T) {
	// GIVEN: A valid pool followed by an allocation of 120%
	ctx := context.Background()
	snap, err := factory.ParseSnapshot([]byte(`{
		"pools": [{"id": "p", "kind": "indirect"}],
		"employees": [{"id": "e", "contract_wage": "100"}],
		"employee_allocations": [{"employee_id": "e", "pool_id": "p", "percentage": "120"}]
	}`))
	require.NoError(t, err)
	m := store.NewMemory()

	// WHEN
	err = snap.Load(ctx, m, "UAH")

	// THEN: Nothing is kept
	assert.ErrorIs(t, err, costing.ErrPercentageOutOfRange)
	pools, err := m.ListPools(ctx)
	require.NoError(t, err)
	assert.Empty(t, pools)
}

func TestSnapshot_Load_ReferenceChecks(t *testing.T) {
	ctx := context.Background()

	snap, err := factory.ParseSnapshot([]byte(`{
		"pools": [{"id": "delivery", "kind": "direct"}],
		"overheads": [{"id": "rent", "amount": "10", "pool_id": "delivery"}]
	}`))
	require.NoError(t, err)
	assert.ErrorIs(t, snap.Load(ctx, store.NewMemory(), "UAH"), costing.ErrOverheadPoolKind)

	snap, err = factory.ParseSnapshot([]byte(`{
		"pools": [{"id": "support", "kind": "indirect"}],
		"drivers": [{"id": "m365", "pool_id": "support",
			"purchase": {"cost": "100", "license_type": "quantity_based", "total_purchased_quantity": "10"}}],
		"driver_allocations": [
			{"driver_id": "m365", "client_id": "A", "quantity": "8"},
			{"driver_id": "m365", "client_id": "B", "quantity": "3"}
		]
	}`))
	require.NoError(t, err)
	assert.ErrorIs(t, snap.Load(ctx, store.NewMemory(), "UAH"), costing.ErrLicenseCapExceeded)
}

func TestSnapshot_Load_ClientServices(t *testing.T) {
	// GIVEN: The fixture with workstation lines feeding the ws driver
	ctx := context.Background()
	snap := loadFixture(t)
	m := store.NewMemory()
	require.NoError(t, snap.Load(ctx, m, "UAH"))

	// THEN: Lines are stored with their defaults
	lines, err := m.ListClientServices(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 4)
	byID := map[costing.ClientServiceID]costing.ClientService{}
	for _, l := range lines {
		byID[l.ID] = l
	}
	assert.Equal(t, costing.ServiceActive, byID["a-pcs"].Status, "status defaults to active")
	assert.Equal(t, costing.ServiceRetired, byID["a-old"].Status)
	assert.Equal(t, "1", byID["b-desk"].Quantity.String(), "quantity defaults to 1")

	// AND: The stored allocations already match the active quantities
	changes, err := costing.NewEngine(m, costing.Config{BaseCurrency: "UAH"}).SyncServiceDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestSnapshot_Load_ClientServiceReferences(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"unknown client", `{
			"service_types": [{"id": "s"}],
			"client_services": [{"id": "l", "client_id": "ghost", "service_type_id": "s"}]
		}`, costing.ErrClientNotFound},
		{"unknown service type", `{
			"clients": [{"id": "A"}],
			"client_services": [{"id": "l", "client_id": "A", "service_type_id": "nope"}]
		}`, costing.ErrServiceNotFound},
		{"unknown driver on service type", `{
			"service_types": [{"id": "s", "driver_id": "gone"}]
		}`, costing.ErrDriverNotFound},
		{"zero quantity", `{
			"clients": [{"id": "A"}],
			"service_types": [{"id": "s"}],
			"client_services": [{"id": "l", "client_id": "A", "service_type_id": "s", "quantity": "0"}]
		}`, costing.ErrNonPositiveQuantity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := factory.ParseSnapshot([]byte(tt.doc))
			require.NoError(t, err)
			m := store.NewMemory()

			err = snap.Load(ctx, m, "UAH")

			assert.ErrorIs(t, err, tt.want)
			lines, _ := m.ListClientServices(ctx)
			assert.Empty(t, lines)
		})
	}
}

func TestSnapshot_Rates(t *testing.T) {
	snap := loadFixture(t)
	rates, err := snap.RateTable()
	require.NoError(t, err)

	got, err := rates.Convert(context.Background(), decimal.NewFromInt(2), "EUR", "UAH", jan.Start())
	require.NoError(t, err)
	assert.Equal(t, "80", got.String())

	bad := &factory.Snapshot{Rates: []factory.RateJSON{{From: "EUR", To: "UAH"}}}
	_, err = bad.RateTable()
	assert.True(t, costing.IsValidation(err))
}

func TestSnapshot_Calendars(t *testing.T) {
	snap, err := factory.ParseSnapshot([]byte(`{
		"calendars": [
			{"id": "std"},
			{"id": "short", "default": true,
			 "attendance": [{"weekday": 1, "hour_from": "9", "hour_to": "13"}],
			 "holidays": [{"date": "2025-01-06", "recurring": false}]}
		]
	}`))
	require.NoError(t, err)

	reg, err := snap.CalendarRegistry(zerolog.Nop())
	require.NoError(t, err)

	// Mondays in January 2025: 6, 13, 20, 27; the 6th is a holiday
	hours, err := reg.MonthlyHours(2025, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "12", hours.String())

	hours, err = reg.MonthlyHours(2025, 1, "std")
	require.NoError(t, err)
	assert.Equal(t, "184", hours.String())
}

func TestSnapshot_Load_LayersOnStoredRecords(t *testing.T) {
	// GIVEN: A store that already holds the support pool and a capped driver
	ctx := context.Background()
	m := store.NewMemory()
	base, err := factory.ParseSnapshot([]byte(`{
		"pools": [{"id": "support", "kind": "indirect"}],
		"drivers": [{"id": "m365", "pool_id": "support",
			"purchase": {"cost": "100", "license_type": "quantity_based", "total_purchased_quantity": "10"}}],
		"driver_allocations": [{"driver_id": "m365", "client_id": "A", "quantity": "8"}]
	}`))
	require.NoError(t, err)
	require.NoError(t, base.Load(ctx, m, "UAH"))

	// WHEN: A second document references them
	next, err := factory.ParseSnapshot([]byte(`{
		"overheads": [{"id": "rent", "amount": "10", "pool_id": "support"}]
	}`))
	require.NoError(t, err)
	require.NoError(t, next.Load(ctx, m, "UAH"))

	// THEN: The cap counts allocations already stored
	over, err := factory.ParseSnapshot([]byte(`{
		"driver_allocations": [{"driver_id": "m365", "client_id": "B", "quantity": "3"}]
	}`))
	require.NoError(t, err)
	assert.ErrorIs(t, over.Load(ctx, m, "UAH"), costing.ErrLicenseCapExceeded)

	resize, err := factory.ParseSnapshot([]byte(`{
		"driver_allocations": [{"driver_id": "m365", "client_id": "A", "quantity": "10"}]
	}`))
	require.NoError(t, err)
	assert.NoError(t, resize.Load(ctx, m, "UAH"), "rewriting a client's own quantity replaces it")
}

func TestSnapshot_Load_DriverCapCoversStoredAllocations(t *testing.T) {
	// GIVEN: 500 licenses with 300 + 180 already allocated
	ctx := context.Background()
	m := store.NewMemory()
	base, err := factory.ParseSnapshot([]byte(`{
		"pools": [{"id": "support", "kind": "indirect"}],
		"drivers": [{"id": "m365", "pool_id": "support",
			"purchase": {"cost": "5000", "license_type": "quantity_based", "total_purchased_quantity": "500"}}],
		"driver_allocations": [
			{"driver_id": "m365", "client_id": "A", "quantity": "300"},
			{"driver_id": "m365", "client_id": "B", "quantity": "180"}
		]
	}`))
	require.NoError(t, err)
	require.NoError(t, base.Load(ctx, m, "UAH"))

	// WHEN: The driver is rewritten with 400 licenses
	shrink, err := factory.ParseSnapshot([]byte(`{
		"drivers": [{"id": "m365", "pool_id": "support",
			"purchase": {"cost": "5000", "license_type": "quantity_based", "total_purchased_quantity": "400"}}]
	}`))
	require.NoError(t, err)
	err = shrink.Load(ctx, m, "UAH")

	// THEN: The write is rejected and the old cap stays in place
	assert.ErrorIs(t, err, costing.ErrLicenseCapExceeded)
	drivers, err := m.ListDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	assert.Equal(t, "500", drivers[0].Purchase.TotalPurchasedQuantity.String())

	// AND: Shrinking together with a smaller allocation fits
	both, err := factory.ParseSnapshot([]byte(`{
		"drivers": [{"id": "m365", "pool_id": "support",
			"purchase": {"cost": "5000", "license_type": "quantity_based", "total_purchased_quantity": "400"}}],
		"driver_allocations": [{"driver_id": "m365", "client_id": "A", "quantity": "220"}]
	}`))
	require.NoError(t, err)
	assert.NoError(t, both.Load(ctx, m, "UAH"))
}

func TestExport_ReloadsIntoFreshStore(t *testing.T) {
	// GIVEN: The fixture loaded and exported with January usage
	ctx := context.Background()
	snap := loadFixture(t)
	src := store.NewMemory()
	require.NoError(t, snap.Load(ctx, src, "UAH"))

	exported, err := factory.Export(ctx, src, "UAH", jan)
	require.NoError(t, err)
	data, err := json.Marshal(exported)
	require.NoError(t, err)

	// WHEN: The document is parsed and loaded elsewhere
	again, err := factory.ParseSnapshot(data)
	require.NoError(t, err)
	dst := store.NewMemory()
	require.NoError(t, again.Load(ctx, dst, "UAH"))

	// THEN: Exporting the copy yields the same document
	back, err := factory.Export(ctx, dst, "UAH", jan)
	require.NoError(t, err)
	copied, err := json.Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(copied))
	assert.Len(t, back.Usage, 2)
	assert.Len(t, back.Pools, 3)
	assert.Len(t, back.Lines, 4)
	assert.Equal(t, "ws", back.Services[1].DriverID)
}
