/*
store.go - Persistence interface for costing inputs and outputs

PURPOSE:
  Defines the boundary between the engine and its host. The engine reads
  pre-fetched snapshots through Repository and writes allocations back
  through Store. Implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  Repository: Read access to every costing input and output
  Store:      Repository plus the write side and transactions

ATOMIC PERIODS:
  SavePeriodAllocations writes every allocation of a period in one unit.
  A recalculation either commits the whole period or nothing.

UNIQUENESS:
  CreateAllocation rejects a second record for the same (client, period)
  with ErrDuplicateAllocation. It is never an upsert.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - costing/store/memory.go: In-memory for tests and the CLI

SEE ALSO:
  - engine.go: The only caller of the write side
*/
package costing

import (
	"context"
	"time"
)

// =============================================================================
// REPOSITORY - Read side
// =============================================================================

type Repository interface {
	ListEmployees(ctx context.Context) ([]EmployeeCost, error)
	ListPools(ctx context.Context) ([]CostPool, error)
	ListEmployeeAllocations(ctx context.Context) ([]EmployeeAllocation, error)
	ListOverheads(ctx context.Context) ([]OverheadCost, error)
	ListDrivers(ctx context.Context) ([]CostDriver, error)
	ListDriverAllocations(ctx context.Context) ([]ClientDriverAllocation, error)
	ListClients(ctx context.Context) ([]Client, error)
	ListServiceTypes(ctx context.Context) ([]ServiceType, error)
	ListCatalogItems(ctx context.Context) ([]CatalogItem, error)
	ListAssignments(ctx context.Context) ([]Assignment, error)
	ListClientServices(ctx context.Context) ([]ClientService, error)

	// ListUsage returns usage records dated inside the period.
	ListUsage(ctx context.Context, period Period) ([]UsageRecord, error)

	// ListAllocations returns every client allocation of the period.
	ListAllocations(ctx context.Context, period Period) ([]ClientCostAllocation, error)

	// ListClientAllocations returns a client's allocations across periods.
	ListClientAllocations(ctx context.Context, client ClientID) ([]ClientCostAllocation, error)

	GetAllocation(ctx context.Context, id AllocationID) (ClientCostAllocation, error)
}

// =============================================================================
// STORE - Write side
// =============================================================================

type Store interface {
	Repository

	SaveEmployee(ctx context.Context, e EmployeeCost) error
	SavePool(ctx context.Context, p CostPool) error
	SaveEmployeeAllocation(ctx context.Context, a EmployeeAllocation) error // upsert on (employee, pool)
	SaveOverhead(ctx context.Context, o OverheadCost) error
	SaveDriver(ctx context.Context, d CostDriver) error
	SaveDriverAllocation(ctx context.Context, a ClientDriverAllocation) error // upsert on (driver, client)
	DeleteDriverAllocation(ctx context.Context, driver DriverID, client ClientID) error
	SaveClient(ctx context.Context, c Client) error
	AddUsage(ctx context.Context, u UsageRecord) error
	SaveServiceType(ctx context.Context, s ServiceType) error
	SaveCatalogItem(ctx context.Context, c CatalogItem) error
	SaveAssignment(ctx context.Context, a Assignment) error
	SaveClientService(ctx context.Context, s ClientService) error

	// CreateAllocation fails with ErrDuplicateAllocation if the
	// (client, period) pair already has a record.
	CreateAllocation(ctx context.Context, a ClientCostAllocation) error

	// UpdateAllocation fails with ErrAllocationNotFound for unknown ids.
	UpdateAllocation(ctx context.Context, a ClientCostAllocation) error

	// SavePeriodAllocations updates every given record of the period
	// atomically. Either all are written or none are.
	SavePeriodAllocations(ctx context.Context, period Period, allocs []ClientCostAllocation) error

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RECALCULATION RUNS - Host bookkeeping of scheduled batches
// =============================================================================

// RecalculationRun records one completed period batch.
type RecalculationRun struct {
	ID         string
	Period     Period
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
	Trigger    string // "scheduler", "api", "cli"
}

// RunLog persists recalculation runs so a scheduled period is processed once.
type RunLog interface {
	RecordRun(ctx context.Context, run RecalculationRun) error
	LastRun(ctx context.Context, period Period) (*RecalculationRun, error)
}
