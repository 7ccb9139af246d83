package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
	"github.com/warp/abc-engine/costing/store"
)

var jan = costing.Period{Year: 2025, Month: time.January}

func TestMemory_WithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A store holding one pool
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SavePool(ctx, costing.CostPool{ID: "keep", Kind: costing.PoolDirect, Active: true}))
	boom := errors.New("boom")

	// WHEN: A transaction writes then fails
	err := m.WithTx(ctx, func(tx costing.Store) error {
		require.NoError(t, tx.SavePool(ctx, costing.CostPool{ID: "drop", Kind: costing.PoolAdmin, Active: true}))
		require.NoError(t, tx.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))
		return boom
	})

	// THEN: Only the pre-existing pool survives
	assert.ErrorIs(t, err, boom)
	pools, err := m.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, costing.PoolID("keep"), pools[0].ID)

	allocs, err := m.ListAllocations(ctx, jan)
	require.NoError(t, err)
	assert.Empty(t, allocs)
}

func TestMemory_WithTx_RollsBackClientServices(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	line := costing.ClientService{ID: "l1", ClientID: "A", ServiceTypeID: "s", Quantity: decimal.NewFromInt(2), Status: costing.ServiceActive}
	require.NoError(t, m.SaveClientService(ctx, line))

	err := m.WithTx(ctx, func(tx costing.Store) error {
		retired := line
		retired.Status = costing.ServiceRetired
		require.NoError(t, tx.SaveClientService(ctx, retired))
		return errors.New("boom")
	})

	require.Error(t, err)
	lines, err := m.ListClientServices(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, costing.ServiceActive, lines[0].Status)
}

func TestMemory_WithTx_Commits(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.WithTx(ctx, func(tx costing.Store) error {
		return tx.SaveClient(ctx, costing.Client{ID: "A", Active: true})
	}))

	clients, err := m.ListClients(ctx)
	require.NoError(t, err)
	assert.Len(t, clients, 1)
}

func TestMemory_CreateAllocation_OnePerClientAndPeriod(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))

	err := m.CreateAllocation(ctx, costing.NewAllocation("a2", "A", jan))
	assert.ErrorIs(t, err, costing.ErrDuplicateAllocation)
	assert.True(t, costing.IsConflict(err))

	require.NoError(t, m.CreateAllocation(ctx, costing.NewAllocation("a3", "B", jan)))
	require.NoError(t, m.CreateAllocation(ctx, costing.NewAllocation("a4", "A", jan.Next())))

	history, err := m.ListClientAllocations(ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, jan, history[0].Period)
}

func TestMemory_SavePeriodAllocations_ChecksBeforeWriting(t *testing.T) {
	// GIVEN
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))

	changed := costing.NewAllocation("a1", "A", jan)
	changed.TotalCost = decimal.NewFromInt(10)

	// WHEN: The second record is unknown
	err := m.SavePeriodAllocations(ctx, jan, []costing.ClientCostAllocation{changed, costing.NewAllocation("ghost", "B", jan)})

	// THEN: The first record is untouched
	assert.ErrorIs(t, err, costing.ErrAllocationNotFound)
	got, err := m.GetAllocation(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, got.TotalCost.IsZero())

	err = m.SavePeriodAllocations(ctx, jan, []costing.ClientCostAllocation{costing.NewAllocation("a1", "A", jan.Next())})
	assert.ErrorIs(t, err, costing.ErrInvalidPeriod)
}

func TestMemory_UsageFilteredByPeriod(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	one := decimal.NewFromInt(1)
	require.NoError(t, m.AddUsage(ctx, costing.UsageRecord{ID: "u1", ClientID: "A", Date: jan.End(), Quantity: one}))
	require.NoError(t, m.AddUsage(ctx, costing.UsageRecord{ID: "u2", ClientID: "A", Date: jan.Next().Start(), Quantity: one}))

	got, err := m.ListUsage(ctx, jan)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].ID)

	err = m.AddUsage(ctx, costing.UsageRecord{ID: "u1", ClientID: "B", Date: jan.Start(), Quantity: one})
	assert.True(t, costing.IsValidation(err))
}

func TestMemory_LastRun(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	run, err := m.LastRun(ctx, jan)
	require.NoError(t, err)
	assert.Nil(t, run)

	require.NoError(t, m.RecordRun(ctx, costing.RecalculationRun{ID: "r1", Period: jan}))
	require.NoError(t, m.RecordRun(ctx, costing.RecalculationRun{ID: "r2", Period: jan.Next()}))

	run, err = m.LastRun(ctx, jan)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "r1", run.ID)
}

func TestMemory_Reset(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.SaveClient(ctx, costing.Client{ID: "A", Active: true}))
	require.NoError(t, m.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))

	require.NoError(t, m.Reset(ctx))

	clients, err := m.ListClients(ctx)
	require.NoError(t, err)
	assert.Empty(t, clients)
	// the same pair may be created again
	require.NoError(t, m.SaveClient(ctx, costing.Client{ID: "A", Active: true}))
	assert.NoError(t, m.CreateAllocation(ctx, costing.NewAllocation("a1", "A", jan)))
}
