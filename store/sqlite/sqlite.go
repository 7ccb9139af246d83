/*
Package sqlite provides a SQLite-backed implementation of the costing store.

PURPOSE:
  Implements costing.Store and costing.RunLog on SQLite. Engine inputs
  (employees, pools, drivers, usage) and outputs (client allocations with
  their indirect cost lines) live in one database file.

INTERFACES IMPLEMENTED:
  costing.Store:  Inputs, allocations, transactions
  costing.RunLog: Recalculation runs recorded by the period scheduler

KEY TABLES:
  client_cost_allocations: One row per (client, period), unique index
  indirect_cost_lines:     Snapshot of driver lines per allocation
  usage_records:           Timesheet entries, indexed by day
  client_services:         Service lines feeding workload and driver sync
  recalculation_runs:      Completed period batches

DECIMALS:
  Money and quantities are stored as TEXT and read back with
  decimal.Decimal's sql.Scanner. No figure ever passes through float64.

ATOMIC PERIODS:
  SavePeriodAllocations runs in one SQL transaction. Multi-statement writes
  (allocation + lines, service type + team) are wrapped the same way when
  called outside WithTx.

WAL MODE:
  SQLite is opened with WAL, foreign keys, a busy timeout and immediate
  transactions so concurrent period batches queue instead of failing.
  ":memory:" databases are pinned to a single connection.

MIGRATION:
  Versioned goose migrations are embedded from migrations/ and applied
  on New().

USAGE:
  store, err := sqlite.New("./data/abc.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := costing.NewEngine(store, cfg)

SEE ALSO:
  - costing/store.go: Interface definitions
  - costing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/abc-engine/costing"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	dayLayout  = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// Store implements costing.Store and costing.RunLog using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var (
	_ costing.Store  = (*Store)(nil)
	_ costing.RunLog = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run goose up migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// resetOrder lists tables children first so foreign keys hold while clearing.
var resetOrder = []string{
	"indirect_cost_lines",
	"client_cost_allocations",
	"recalculation_runs",
	"client_services",
	"assignments",
	"catalog_items",
	"service_type_team",
	"service_types",
	"usage_records",
	"client_driver_allocations",
	"cost_drivers",
	"clients",
	"overhead_costs",
	"employee_allocations",
	"employees",
	"cost_pools",
}

// Reset deletes every record. Schema and migration state are kept.
func (s *Store) Reset(ctx context.Context) error {
	return s.atomic(ctx, func(q queries) error {
		for _, table := range resetOrder {
			if err := q.exec(ctx, "reset "+table, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store costing.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) atomic(ctx context.Context, fn func(q queries) error) error {
	return s.WithTx(ctx, func(tx costing.Store) error {
		return fn(tx.(*txStore).queries)
	})
}

// SavePeriodAllocations writes the whole period in one transaction.
func (s *Store) SavePeriodAllocations(ctx context.Context, period costing.Period, allocs []costing.ClientCostAllocation) error {
	return s.atomic(ctx, func(q queries) error { return q.SavePeriodAllocations(ctx, period, allocs) })
}

func (s *Store) CreateAllocation(ctx context.Context, a costing.ClientCostAllocation) error {
	return s.atomic(ctx, func(q queries) error { return q.CreateAllocation(ctx, a) })
}

func (s *Store) UpdateAllocation(ctx context.Context, a costing.ClientCostAllocation) error {
	return s.atomic(ctx, func(q queries) error { return q.UpdateAllocation(ctx, a) })
}

func (s *Store) SaveServiceType(ctx context.Context, st costing.ServiceType) error {
	return s.atomic(ctx, func(q queries) error { return q.SaveServiceType(ctx, st) })
}

// txStore is the costing.Store handed to WithTx callbacks.
type txStore struct {
	queries
}

// WithTx on a transaction-bound store joins the running transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(store costing.Store) error) error {
	return fn(ts)
}

// =============================================================================
// QUERIES - Shared by the database and transaction-bound stores
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

func (q queries) exec(ctx context.Context, what string, query string, args ...any) error {
	if _, err := q.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Employees, pools, overheads
// -----------------------------------------------------------------------------

func (q queries) SaveEmployee(ctx context.Context, e costing.EmployeeCost) error {
	return q.exec(ctx, "employee", `
		INSERT INTO employees (id, name, contract_wage, use_manual, manual_salary, manual_benefits, monthly_hours, calendar_id, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, contract_wage = excluded.contract_wage, use_manual = excluded.use_manual,
			manual_salary = excluded.manual_salary, manual_benefits = excluded.manual_benefits,
			monthly_hours = excluded.monthly_hours, calendar_id = excluded.calendar_id, active = excluded.active
	`, e.EmployeeID, e.Name, nullDecimal(e.ContractWage), e.UseManual, e.ManualSalary, e.ManualBenefits,
		nullDecimal(e.MonthlyHours), e.CalendarID, e.Active)
}

func (q queries) ListEmployees(ctx context.Context) ([]costing.EmployeeCost, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, contract_wage, use_manual, manual_salary, manual_benefits, monthly_hours, calendar_id, active
		FROM employees ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []costing.EmployeeCost
	for rows.Next() {
		var (
			e           costing.EmployeeCost
			wage, hours decimal.NullDecimal
		)
		if err := rows.Scan(&e.EmployeeID, &e.Name, &wage, &e.UseManual, &e.ManualSalary, &e.ManualBenefits,
			&hours, &e.CalendarID, &e.Active); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		e.ContractWage = ptr(wage)
		e.MonthlyHours = ptr(hours)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) SavePool(ctx context.Context, p costing.CostPool) error {
	return q.exec(ctx, "pool", `
		INSERT INTO cost_pools (id, name, kind, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind, active = excluded.active
	`, p.ID, p.Name, p.Kind, p.Active)
}

func (q queries) ListPools(ctx context.Context) ([]costing.CostPool, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, name, kind, active FROM cost_pools ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var out []costing.CostPool
	for rows.Next() {
		var p costing.CostPool
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan pool: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) SaveEmployeeAllocation(ctx context.Context, a costing.EmployeeAllocation) error {
	return q.exec(ctx, "employee allocation", `
		INSERT INTO employee_allocations (employee_id, pool_id, percentage) VALUES (?, ?, ?)
		ON CONFLICT(employee_id, pool_id) DO UPDATE SET percentage = excluded.percentage
	`, a.EmployeeID, a.PoolID, a.Percentage)
}

func (q queries) ListEmployeeAllocations(ctx context.Context) ([]costing.EmployeeAllocation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT employee_id, pool_id, percentage FROM employee_allocations ORDER BY pool_id, employee_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employee allocations: %w", err)
	}
	defer rows.Close()

	var out []costing.EmployeeAllocation
	for rows.Next() {
		var a costing.EmployeeAllocation
		if err := rows.Scan(&a.EmployeeID, &a.PoolID, &a.Percentage); err != nil {
			return nil, fmt.Errorf("failed to scan employee allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) SaveOverhead(ctx context.Context, o costing.OverheadCost) error {
	return q.exec(ctx, "overhead", `
		INSERT INTO overhead_costs (id, name, amount, currency, cadence, pool_id, method, percentage, fixed_cost, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, amount = excluded.amount, currency = excluded.currency, cadence = excluded.cadence,
			pool_id = excluded.pool_id, method = excluded.method, percentage = excluded.percentage,
			fixed_cost = excluded.fixed_cost, state = excluded.state
	`, o.ID, o.Name, o.Amount, o.Currency, o.Cadence, o.PoolID, o.Method, o.Percentage, o.FixedCost, o.State)
}

func (q queries) ListOverheads(ctx context.Context) ([]costing.OverheadCost, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, amount, currency, cadence, pool_id, method, percentage, fixed_cost, state
		FROM overhead_costs ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overheads: %w", err)
	}
	defer rows.Close()

	var out []costing.OverheadCost
	for rows.Next() {
		var o costing.OverheadCost
		if err := rows.Scan(&o.ID, &o.Name, &o.Amount, &o.Currency, &o.Cadence, &o.PoolID, &o.Method,
			&o.Percentage, &o.FixedCost, &o.State); err != nil {
			return nil, fmt.Errorf("failed to scan overhead: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Drivers and client driver allocations
// -----------------------------------------------------------------------------

func (q queries) SaveDriver(ctx context.Context, d costing.CostDriver) error {
	var p costing.Purchase
	if d.Purchase != nil {
		p = *d.Purchase
	}
	return q.exec(ctx, "driver", `
		INSERT INTO cost_drivers (id, name, unit, pool_id, markup_percent, is_purchase, purchase_cost, purchase_currency,
			purchase_cadence, license_type, total_purchased_quantity, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, unit = excluded.unit, pool_id = excluded.pool_id, markup_percent = excluded.markup_percent,
			is_purchase = excluded.is_purchase, purchase_cost = excluded.purchase_cost,
			purchase_currency = excluded.purchase_currency, purchase_cadence = excluded.purchase_cadence,
			license_type = excluded.license_type, total_purchased_quantity = excluded.total_purchased_quantity,
			active = excluded.active
	`, d.ID, d.Name, d.Unit, d.PoolID, d.MarkupPercent, d.Purchase != nil, p.Cost, p.Currency,
		p.Cadence, p.LicenseType, p.TotalPurchasedQuantity, d.Active)
}

func (q queries) ListDrivers(ctx context.Context) ([]costing.CostDriver, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, unit, pool_id, markup_percent, is_purchase, purchase_cost, purchase_currency,
			purchase_cadence, license_type, total_purchased_quantity, active
		FROM cost_drivers ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query drivers: %w", err)
	}
	defer rows.Close()

	var out []costing.CostDriver
	for rows.Next() {
		var (
			d          costing.CostDriver
			p          costing.Purchase
			isPurchase bool
		)
		if err := rows.Scan(&d.ID, &d.Name, &d.Unit, &d.PoolID, &d.MarkupPercent, &isPurchase, &p.Cost, &p.Currency,
			&p.Cadence, &p.LicenseType, &p.TotalPurchasedQuantity, &d.Active); err != nil {
			return nil, fmt.Errorf("failed to scan driver: %w", err)
		}
		if isPurchase {
			d.Purchase = &p
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q queries) SaveDriverAllocation(ctx context.Context, a costing.ClientDriverAllocation) error {
	return q.exec(ctx, "driver allocation", `
		INSERT INTO client_driver_allocations (driver_id, client_id, quantity) VALUES (?, ?, ?)
		ON CONFLICT(driver_id, client_id) DO UPDATE SET quantity = excluded.quantity
	`, a.DriverID, a.ClientID, a.Quantity)
}

func (q queries) DeleteDriverAllocation(ctx context.Context, driver costing.DriverID, client costing.ClientID) error {
	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM client_driver_allocations WHERE driver_id = ? AND client_id = ?`, driver, client); err != nil {
		return fmt.Errorf("failed to delete driver allocation: %w", err)
	}
	return nil
}

func (q queries) ListDriverAllocations(ctx context.Context) ([]costing.ClientDriverAllocation, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT driver_id, client_id, quantity FROM client_driver_allocations ORDER BY driver_id, client_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query driver allocations: %w", err)
	}
	defer rows.Close()

	var out []costing.ClientDriverAllocation
	for rows.Next() {
		var a costing.ClientDriverAllocation
		if err := rows.Scan(&a.DriverID, &a.ClientID, &a.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan driver allocation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Clients and usage
// -----------------------------------------------------------------------------

func (q queries) SaveClient(ctx context.Context, c costing.Client) error {
	return q.exec(ctx, "client", `
		INSERT INTO clients (id, name, support_level, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, support_level = excluded.support_level, active = excluded.active
	`, c.ID, c.Name, c.SupportLevel, c.Active)
}

func (q queries) ListClients(ctx context.Context) ([]costing.Client, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, name, support_level, active FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var out []costing.Client
	for rows.Next() {
		var c costing.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.SupportLevel, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q queries) AddUsage(ctx context.Context, u costing.UsageRecord) error {
	err := q.exec(ctx, "usage", `
		INSERT INTO usage_records (id, employee_id, client_id, worked_on, quantity, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`, u.ID, u.EmployeeID, u.ClientID, u.Date.UTC().Format(dayLayout), u.Quantity, u.Description)
	if isUniqueConstraintError(err) {
		return &costing.ValidationError{Field: "id", Err: costing.ErrValidation, Message: fmt.Sprintf("usage %s already recorded", u.ID)}
	}
	return err
}

func (q queries) ListUsage(ctx context.Context, period costing.Period) ([]costing.UsageRecord, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, employee_id, client_id, worked_on, quantity, description
		FROM usage_records
		WHERE worked_on >= ? AND worked_on <= ?
		ORDER BY worked_on, id
	`, period.Start().Format(dayLayout), period.End().Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var out []costing.UsageRecord
	for rows.Next() {
		var (
			u   costing.UsageRecord
			day string
		)
		if err := rows.Scan(&u.ID, &u.EmployeeID, &u.ClientID, &day, &u.Quantity, &u.Description); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		if u.Date, err = time.Parse(dayLayout, day); err != nil {
			return nil, fmt.Errorf("usage %s: %w", u.ID, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Services, catalog, assignments
// -----------------------------------------------------------------------------

// SaveServiceType replaces the service type and its ordered team.
func (q queries) SaveServiceType(ctx context.Context, st costing.ServiceType) error {
	if err := q.exec(ctx, "service type", `
		INSERT INTO service_types (id, name, category, workload_factor, response_hours, resolution_hours, driver_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, category = excluded.category, workload_factor = excluded.workload_factor,
			response_hours = excluded.response_hours, resolution_hours = excluded.resolution_hours,
			driver_id = excluded.driver_id
	`, st.ID, st.Name, st.Category, st.BaseWorkloadFactor, st.ResponseHours, st.ResolutionHours, st.DriverID); err != nil {
		return err
	}
	if err := q.exec(ctx, "service team", `DELETE FROM service_type_team WHERE service_type_id = ?`, st.ID); err != nil {
		return err
	}
	for i, emp := range st.Team {
		if err := q.exec(ctx, "service team", `
			INSERT INTO service_type_team (service_type_id, position, employee_id) VALUES (?, ?, ?)
		`, st.ID, i, emp); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) ListServiceTypes(ctx context.Context) ([]costing.ServiceType, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, category, workload_factor, response_hours, resolution_hours, driver_id FROM service_types ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query service types: %w", err)
	}
	var out []costing.ServiceType
	for rows.Next() {
		var st costing.ServiceType
		if err := rows.Scan(&st.ID, &st.Name, &st.Category, &st.BaseWorkloadFactor, &st.ResponseHours, &st.ResolutionHours, &st.DriverID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan service type: %w", err)
		}
		out = append(out, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Teams are read after the outer rows are closed; ":memory:" stores
	// have a single connection.
	teams, err := q.teams(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Team = teams[out[i].ID]
	}
	return out, nil
}

func (q queries) teams(ctx context.Context) (map[costing.ServiceTypeID][]costing.EmployeeID, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT service_type_id, employee_id FROM service_type_team ORDER BY service_type_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query service teams: %w", err)
	}
	defer rows.Close()

	out := make(map[costing.ServiceTypeID][]costing.EmployeeID)
	for rows.Next() {
		var (
			st  costing.ServiceTypeID
			emp costing.EmployeeID
		)
		if err := rows.Scan(&st, &emp); err != nil {
			return nil, fmt.Errorf("failed to scan service team: %w", err)
		}
		out[st] = append(out[st], emp)
	}
	return out, rows.Err()
}

func (q queries) SaveCatalogItem(ctx context.Context, c costing.CatalogItem) error {
	return q.exec(ctx, "catalog item", `
		INSERT INTO catalog_items (id, name, service_type_id, support_hours_per_unit, markup_percent, manual_base_cost)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, service_type_id = excluded.service_type_id,
			support_hours_per_unit = excluded.support_hours_per_unit, markup_percent = excluded.markup_percent,
			manual_base_cost = excluded.manual_base_cost
	`, c.ID, c.Name, c.ServiceTypeID, c.SupportHoursPerUnit, c.MarkupPercent, nullDecimal(c.ManualBaseCost))
}

func (q queries) ListCatalogItems(ctx context.Context) ([]costing.CatalogItem, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, name, service_type_id, support_hours_per_unit, markup_percent, manual_base_cost
		FROM catalog_items ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var out []costing.CatalogItem
	for rows.Next() {
		var (
			c      costing.CatalogItem
			manual decimal.NullDecimal
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.ServiceTypeID, &c.SupportHoursPerUnit, &c.MarkupPercent, &manual); err != nil {
			return nil, fmt.Errorf("failed to scan catalog item: %w", err)
		}
		c.ManualBaseCost = ptr(manual)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q queries) SaveAssignment(ctx context.Context, a costing.Assignment) error {
	return q.exec(ctx, "assignment", `
		INSERT INTO assignments (employee_id, client_id, service_type_id) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, a.EmployeeID, a.ClientID, a.ServiceTypeID)
}

func (q queries) ListAssignments(ctx context.Context) ([]costing.Assignment, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT employee_id, client_id, service_type_id FROM assignments ORDER BY employee_id, client_id, service_type_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []costing.Assignment
	for rows.Next() {
		var a costing.Assignment
		if err := rows.Scan(&a.EmployeeID, &a.ClientID, &a.ServiceTypeID); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) SaveClientService(ctx context.Context, cs costing.ClientService) error {
	return q.exec(ctx, "client service", `
		INSERT INTO client_services (id, client_id, service_type_id, name, quantity, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			client_id = excluded.client_id, service_type_id = excluded.service_type_id,
			name = excluded.name, quantity = excluded.quantity, status = excluded.status
	`, cs.ID, cs.ClientID, cs.ServiceTypeID, cs.Name, cs.Quantity, cs.Status)
}

func (q queries) ListClientServices(ctx context.Context) ([]costing.ClientService, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, client_id, service_type_id, name, quantity, status FROM client_services ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query client services: %w", err)
	}
	defer rows.Close()

	var out []costing.ClientService
	for rows.Next() {
		var cs costing.ClientService
		if err := rows.Scan(&cs.ID, &cs.ClientID, &cs.ServiceTypeID, &cs.Name, &cs.Quantity, &cs.Status); err != nil {
			return nil, fmt.Errorf("failed to scan client service: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// =============================================================================
// CLIENT COST ALLOCATIONS
// =============================================================================

const allocationColumns = `id, client_id, period, direct_cost, indirect_cost, admin_cost, total_cost, state, calculated_at, confirmed_at`

// CreateAllocation inserts a new record; the unique (client_id, period)
// index turns a second record into ErrDuplicateAllocation.
func (q queries) CreateAllocation(ctx context.Context, a costing.ClientCostAllocation) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO client_cost_allocations (`+allocationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.ClientID, a.Period.String(), a.DirectCost, a.IndirectCost, a.AdminCost, a.TotalCost, a.State,
		nullTime(a.CalculatedAt), nullTime(a.ConfirmedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return &costing.ValidationError{
				Field:   "period",
				Err:     costing.ErrDuplicateAllocation,
				Message: fmt.Sprintf("client %s already has an allocation for %s", a.ClientID, a.Period),
			}
		}
		return fmt.Errorf("failed to create allocation: %w", err)
	}
	return q.replaceLines(ctx, a)
}

func (q queries) UpdateAllocation(ctx context.Context, a costing.ClientCostAllocation) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE client_cost_allocations
		SET direct_cost = ?, indirect_cost = ?, admin_cost = ?, total_cost = ?, state = ?, calculated_at = ?, confirmed_at = ?
		WHERE id = ?
	`, a.DirectCost, a.IndirectCost, a.AdminCost, a.TotalCost, a.State,
		nullTime(a.CalculatedAt), nullTime(a.ConfirmedAt), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", costing.ErrAllocationNotFound, a.ID)
	}
	return q.replaceLines(ctx, a)
}

func (q queries) SavePeriodAllocations(ctx context.Context, period costing.Period, allocs []costing.ClientCostAllocation) error {
	for _, a := range allocs {
		if a.Period != period {
			return fmt.Errorf("%w: allocation %s is in %s, not %s", costing.ErrInvalidPeriod, a.ID, a.Period, period)
		}
		if err := q.UpdateAllocation(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) replaceLines(ctx context.Context, a costing.ClientCostAllocation) error {
	if err := q.exec(ctx, "indirect lines", `DELETE FROM indirect_cost_lines WHERE allocation_id = ?`, a.ID); err != nil {
		return err
	}
	for i, l := range a.Lines {
		if err := q.exec(ctx, "indirect line", `
			INSERT INTO indirect_cost_lines (allocation_id, position, driver_id, quantity, cost_per_unit,
				sales_price_per_unit, allocated_cost, allocated_profit)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, i, l.DriverID, l.Quantity, l.CostPerUnit, l.SalesPricePerUnit, l.AllocatedCost, l.AllocatedProfit); err != nil {
			return err
		}
	}
	return nil
}

func (q queries) ListAllocations(ctx context.Context, period costing.Period) ([]costing.ClientCostAllocation, error) {
	return q.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM client_cost_allocations WHERE period = ? ORDER BY client_id
	`, period.String())
}

func (q queries) ListClientAllocations(ctx context.Context, client costing.ClientID) ([]costing.ClientCostAllocation, error) {
	return q.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM client_cost_allocations WHERE client_id = ? ORDER BY period
	`, client)
}

func (q queries) GetAllocation(ctx context.Context, id costing.AllocationID) (costing.ClientCostAllocation, error) {
	out, err := q.queryAllocations(ctx, `
		SELECT `+allocationColumns+` FROM client_cost_allocations WHERE id = ?
	`, id)
	if err != nil {
		return costing.ClientCostAllocation{}, err
	}
	if len(out) == 0 {
		return costing.ClientCostAllocation{}, fmt.Errorf("%w: %s", costing.ErrAllocationNotFound, id)
	}
	return out[0], nil
}

func (q queries) queryAllocations(ctx context.Context, query string, args ...any) ([]costing.ClientCostAllocation, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	var out []costing.ClientCostAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		lines, err := q.lines(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Lines = lines
	}
	return out, nil
}

func scanAllocation(rows *sql.Rows) (costing.ClientCostAllocation, error) {
	var (
		a                     costing.ClientCostAllocation
		period                string
		calculated, confirmed sql.NullString
	)
	if err := rows.Scan(&a.ID, &a.ClientID, &period, &a.DirectCost, &a.IndirectCost, &a.AdminCost, &a.TotalCost,
		&a.State, &calculated, &confirmed); err != nil {
		return a, fmt.Errorf("failed to scan allocation: %w", err)
	}
	p, err := costing.ParsePeriod(period)
	if err != nil {
		return a, err
	}
	a.Period = p
	if a.CalculatedAt, err = parseTime(calculated); err != nil {
		return a, err
	}
	if a.ConfirmedAt, err = parseTime(confirmed); err != nil {
		return a, err
	}
	return a, nil
}

func (q queries) lines(ctx context.Context, id costing.AllocationID) ([]costing.IndirectCostLine, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT driver_id, quantity, cost_per_unit, sales_price_per_unit, allocated_cost, allocated_profit
		FROM indirect_cost_lines WHERE allocation_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query indirect lines: %w", err)
	}
	defer rows.Close()

	var out []costing.IndirectCostLine
	for rows.Next() {
		var l costing.IndirectCostLine
		if err := rows.Scan(&l.DriverID, &l.Quantity, &l.CostPerUnit, &l.SalesPricePerUnit, &l.AllocatedCost, &l.AllocatedProfit); err != nil {
			return nil, fmt.Errorf("failed to scan indirect line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// =============================================================================
// RUN LOG
// =============================================================================

func (q queries) RecordRun(ctx context.Context, run costing.RecalculationRun) error {
	return q.exec(ctx, "recalculation run", `
		INSERT INTO recalculation_runs (id, period, started_at, finished_at, succeeded, failed, run_trigger)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Period.String(), run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		run.Succeeded, run.Failed, run.Trigger)
}

// LastRun returns the most recent run for the period, or nil.
func (q queries) LastRun(ctx context.Context, period costing.Period) (*costing.RecalculationRun, error) {
	var (
		run                  costing.RecalculationRun
		p, started, finished string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT id, period, started_at, finished_at, succeeded, failed, run_trigger
		FROM recalculation_runs WHERE period = ?
		ORDER BY finished_at DESC LIMIT 1
	`, period.String()).Scan(&run.ID, &p, &started, &finished, &run.Succeeded, &run.Failed, &run.Trigger)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}
	run.Period = period
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, err
	}
	if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return nil, err
	}
	return &run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func ptr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}
	return &t, nil
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
