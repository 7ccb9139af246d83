/*
Package factory provides JSON to engine record conversion.

PURPOSE:
  Converts a JSON configuration document (a "snapshot") into validated
  costing records and loads them into a costing.Store. Finance staff can
  describe pools, drivers, wages and usage in one file and the CLI or the
  API seeds a store from it without code changes.

JSON SCHEMA (abridged):
  {
    "base_currency": "UAH",
    "rates": [{"from": "EUR", "to": "UAH", "rate": "45", "effective": "2025-01-01"}],
    "calendars": [{"id": "kyiv", "holidays": [{"date": "2025-01-01", "recurring": true}]}],
    "pools": [{"id": "support", "name": "Support", "kind": "indirect"}],
    "employees": [{"id": "dev", "contract_wage": "16800"}],
    "employee_allocations": [{"employee_id": "dev", "pool_id": "support", "percentage": "100"}],
    "overheads": [{"id": "rent", "amount": "1200", "cadence": "quarterly", "pool_id": "support"}],
    "drivers": [{"id": "ws", "pool_id": "support", "markup_percent": "25"}],
    "driver_allocations": [{"driver_id": "ws", "client_id": "acme", "quantity": "3"}],
    "clients": [{"id": "acme", "support_level": "premium"}],
    "usage": [{"employee_id": "dev", "client_id": "acme", "date": "2025-01-10", "quantity": "8"}]
  }

KEY FEATURES:
  - Structural validation with struct tags (required fields, enums)
  - Domain validation with the costing package's own rules
  - Sensible defaults (active flags, cadence, overhead method)
  - Loads everything inside one store transaction

USAGE:
  snap, err := factory.ParseSnapshot(data)
  err = snap.Load(ctx, store, "UAH")
  rates, err := snap.RateTable()
  calendars, err := snap.CalendarRegistry(logger)

SEE ALSO:
  - costing/store.go: Store interface the snapshot is written to
  - calendar/calendar.go: Registry built from the calendars section
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/abc-engine/calendar"
	"github.com/warp/abc-engine/costing"
)

const dateLayout = "2006-01-02"

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// Snapshot is the JSON representation of a full costing configuration.
type Snapshot struct {
	BaseCurrency string `json:"base_currency,omitempty"`

	Rates       []RateJSON               `json:"rates,omitempty" validate:"dive"`
	Calendars   []CalendarJSON           `json:"calendars,omitempty" validate:"dive"`
	Pools       []PoolJSON               `json:"pools,omitempty" validate:"dive"`
	Employees   []EmployeeJSON           `json:"employees,omitempty" validate:"dive"`
	EmpAllocs   []EmployeeAllocationJSON `json:"employee_allocations,omitempty" validate:"dive"`
	Overheads   []OverheadJSON           `json:"overheads,omitempty" validate:"dive"`
	Drivers     []DriverJSON             `json:"drivers,omitempty" validate:"dive"`
	DriverAlloc []DriverAllocationJSON   `json:"driver_allocations,omitempty" validate:"dive"`
	Clients     []ClientJSON             `json:"clients,omitempty" validate:"dive"`
	Usage       []UsageJSON              `json:"usage,omitempty" validate:"dive"`
	Services    []ServiceTypeJSON        `json:"service_types,omitempty" validate:"dive"`
	Catalog     []CatalogItemJSON        `json:"catalog,omitempty" validate:"dive"`
	Assignments []AssignmentJSON         `json:"assignments,omitempty" validate:"dive"`
	Lines       []ClientServiceJSON      `json:"client_services,omitempty" validate:"dive"`
}

type RateJSON struct {
	From      string          `json:"from" validate:"required,len=3"`
	To        string          `json:"to" validate:"required,len=3"`
	Rate      decimal.Decimal `json:"rate"`
	Effective string          `json:"effective" validate:"omitempty,datetime=2006-01-02"`
}

type CalendarJSON struct {
	ID         string           `json:"id" validate:"required"`
	Name       string           `json:"name,omitempty"`
	Default    bool             `json:"default,omitempty"`
	Attendance []AttendanceJSON `json:"attendance,omitempty" validate:"dive"`
	Holidays   []HolidayJSON    `json:"holidays,omitempty" validate:"dive"`
}

// AttendanceJSON is one working slot; weekday 0 is Sunday.
type AttendanceJSON struct {
	Weekday  int             `json:"weekday" validate:"min=0,max=6"`
	HourFrom decimal.Decimal `json:"hour_from"`
	HourTo   decimal.Decimal `json:"hour_to"`
}

type HolidayJSON struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	Name      string `json:"name,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`
}

type PoolJSON struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name,omitempty"`
	Kind   string `json:"kind" validate:"required,oneof=direct indirect admin"`
	Active *bool  `json:"active,omitempty"` // default true
}

type EmployeeJSON struct {
	ID             string           `json:"id" validate:"required"`
	Name           string           `json:"name,omitempty"`
	ContractWage   *decimal.Decimal `json:"contract_wage,omitempty"`
	UseManual      bool             `json:"use_manual,omitempty"`
	ManualSalary   decimal.Decimal  `json:"manual_salary,omitempty"`
	ManualBenefits decimal.Decimal  `json:"manual_benefits,omitempty"`
	MonthlyHours   *decimal.Decimal `json:"monthly_hours,omitempty"`
	CalendarID     string           `json:"calendar_id,omitempty"`
	Active         *bool            `json:"active,omitempty"`
}

type EmployeeAllocationJSON struct {
	EmployeeID string          `json:"employee_id" validate:"required"`
	PoolID     string          `json:"pool_id" validate:"required"`
	Percentage decimal.Decimal `json:"percentage"`
}

type OverheadJSON struct {
	ID         string          `json:"id,omitempty"` // generated when empty
	Name       string          `json:"name,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Cadence    string          `json:"cadence,omitempty" validate:"omitempty,oneof=monthly quarterly annual one_time"`
	PoolID     string          `json:"pool_id" validate:"required"`
	Method     string          `json:"method,omitempty" validate:"omitempty,oneof=full percentage fixed"`
	Percentage decimal.Decimal `json:"percentage,omitempty"`
	FixedCost  decimal.Decimal `json:"fixed_cost,omitempty"`
	State      string          `json:"state,omitempty" validate:"omitempty,oneof=draft active expired"` // default active
}

type PurchaseJSON struct {
	Cost                   decimal.Decimal `json:"cost"`
	Currency               string          `json:"currency,omitempty" validate:"omitempty,len=3"`
	Cadence                string          `json:"cadence,omitempty" validate:"omitempty,oneof=monthly quarterly annual one_time"`
	LicenseType            string          `json:"license_type" validate:"required,oneof=quantity_based unlimited"`
	TotalPurchasedQuantity decimal.Decimal `json:"total_purchased_quantity,omitempty"`
}

type DriverJSON struct {
	ID            string          `json:"id" validate:"required"`
	Name          string          `json:"name,omitempty"`
	Unit          string          `json:"unit,omitempty"`
	PoolID        string          `json:"pool_id" validate:"required"`
	MarkupPercent decimal.Decimal `json:"markup_percent,omitempty"`
	Purchase      *PurchaseJSON   `json:"purchase,omitempty"`
	Active        *bool           `json:"active,omitempty"`
}

type DriverAllocationJSON struct {
	DriverID string          `json:"driver_id" validate:"required"`
	ClientID string          `json:"client_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type ClientJSON struct {
	ID           string `json:"id" validate:"required"`
	Name         string `json:"name,omitempty"`
	SupportLevel string `json:"support_level,omitempty" validate:"omitempty,oneof=basic standard premium enterprise"`
	Active       *bool  `json:"active,omitempty"`
}

type UsageJSON struct {
	ID          string          `json:"id,omitempty"`
	EmployeeID  string          `json:"employee_id" validate:"required"`
	ClientID    string          `json:"client_id" validate:"required"`
	Date        string          `json:"date" validate:"required,datetime=2006-01-02"`
	Quantity    decimal.Decimal `json:"quantity"`
	Description string          `json:"description,omitempty"`
}

type ServiceTypeJSON struct {
	ID              string          `json:"id" validate:"required"`
	Name            string          `json:"name,omitempty"`
	Category        string          `json:"category,omitempty"`
	WorkloadFactor  decimal.Decimal `json:"workload_factor,omitempty"`
	ResponseHours   decimal.Decimal `json:"response_hours,omitempty"`
	ResolutionHours decimal.Decimal `json:"resolution_hours,omitempty"`
	Team            []string        `json:"team,omitempty"`
	DriverID        string          `json:"driver_id,omitempty"`
}

type CatalogItemJSON struct {
	ID                  string           `json:"id" validate:"required"`
	Name                string           `json:"name,omitempty"`
	ServiceTypeID       string           `json:"service_type_id" validate:"required"`
	SupportHoursPerUnit *decimal.Decimal `json:"support_hours_per_unit,omitempty"` // default 1
	MarkupPercent       *decimal.Decimal `json:"markup_percent,omitempty"`         // default 20
	ManualBaseCost      *decimal.Decimal `json:"manual_base_cost,omitempty"`
}

type AssignmentJSON struct {
	EmployeeID    string `json:"employee_id" validate:"required"`
	ClientID      string `json:"client_id" validate:"required"`
	ServiceTypeID string `json:"service_type_id" validate:"required"`
}

type ClientServiceJSON struct {
	ID            string           `json:"id" validate:"required"`
	ClientID      string           `json:"client_id" validate:"required"`
	ServiceTypeID string           `json:"service_type_id" validate:"required"`
	Name          string           `json:"name,omitempty"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"` // default 1
	Status        string           `json:"status,omitempty" validate:"omitempty,oneof=active inactive maintenance retired"`
}

// =============================================================================
// PARSING
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseSnapshot decodes and structurally validates a snapshot document.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot JSON: %w", err)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate runs the struct-tag rules and reports the first violation as a
// costing validation error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &costing.ValidationError{
			Field:   fe.Namespace(),
			Message: fmt.Sprintf("failed %q rule (value %v)", fe.Tag(), fe.Value()),
			Err:     costing.ErrValidation,
		}
	}
	return fmt.Errorf("validate: %w", err)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func cadenceOr(s string) costing.Cadence {
	if s == "" {
		return costing.CadenceMonthly
	}
	return costing.Cadence(s)
}

// =============================================================================
// CONVERSION
// =============================================================================

func (p PoolJSON) Pool() costing.CostPool {
	return costing.CostPool{
		ID:     costing.PoolID(p.ID),
		Name:   p.Name,
		Kind:   costing.PoolKind(p.Kind),
		Active: boolOr(p.Active, true),
	}
}

func (e EmployeeJSON) Employee() costing.EmployeeCost {
	return costing.EmployeeCost{
		EmployeeID:     costing.EmployeeID(e.ID),
		Name:           e.Name,
		ContractWage:   e.ContractWage,
		UseManual:      e.UseManual,
		ManualSalary:   e.ManualSalary,
		ManualBenefits: e.ManualBenefits,
		MonthlyHours:   e.MonthlyHours,
		CalendarID:     costing.CalendarID(e.CalendarID),
		Active:         boolOr(e.Active, true),
	}
}

func (a EmployeeAllocationJSON) Allocation() costing.EmployeeAllocation {
	return costing.EmployeeAllocation{
		EmployeeID: costing.EmployeeID(a.EmployeeID),
		PoolID:     costing.PoolID(a.PoolID),
		Percentage: a.Percentage,
	}
}

func (o OverheadJSON) Overhead(base costing.Currency) costing.OverheadCost {
	oc := costing.OverheadCost{
		ID:         costing.OverheadID(o.ID),
		Name:       o.Name,
		Amount:     o.Amount,
		Currency:   costing.Currency(o.Currency),
		Cadence:    cadenceOr(o.Cadence),
		PoolID:     costing.PoolID(o.PoolID),
		Method:     costing.OverheadMethod(o.Method),
		Percentage: o.Percentage,
		FixedCost:  o.FixedCost,
		State:      costing.OverheadState(o.State),
	}
	if oc.ID == "" {
		oc.ID = costing.OverheadID(uuid.NewString())
	}
	if oc.Currency == "" {
		oc.Currency = base
	}
	if oc.Method == "" {
		oc.Method = costing.OverheadFull
	}
	if oc.State == "" {
		oc.State = costing.OverheadActive
	}
	return oc
}

func (d DriverJSON) Driver(base costing.Currency) costing.CostDriver {
	cd := costing.CostDriver{
		ID:            costing.DriverID(d.ID),
		Name:          d.Name,
		Unit:          d.Unit,
		PoolID:        costing.PoolID(d.PoolID),
		MarkupPercent: d.MarkupPercent,
		Active:        boolOr(d.Active, true),
	}
	if p := d.Purchase; p != nil {
		cd.Purchase = &costing.Purchase{
			Cost:                   p.Cost,
			Currency:               costing.Currency(p.Currency),
			Cadence:                cadenceOr(p.Cadence),
			LicenseType:            costing.LicenseType(p.LicenseType),
			TotalPurchasedQuantity: p.TotalPurchasedQuantity,
		}
		if cd.Purchase.Currency == "" {
			cd.Purchase.Currency = base
		}
	}
	return cd
}

func (a DriverAllocationJSON) Allocation() costing.ClientDriverAllocation {
	return costing.ClientDriverAllocation{
		DriverID: costing.DriverID(a.DriverID),
		ClientID: costing.ClientID(a.ClientID),
		Quantity: a.Quantity,
	}
}

func (c ClientJSON) Client() costing.Client {
	level := costing.SupportLevel(c.SupportLevel)
	if level == "" {
		level = costing.SupportStandard
	}
	return costing.Client{
		ID:           costing.ClientID(c.ID),
		Name:         c.Name,
		SupportLevel: level,
		Active:       boolOr(c.Active, true),
	}
}

func (u UsageJSON) Usage() (costing.UsageRecord, error) {
	date, err := parseDate(u.Date)
	if err != nil {
		return costing.UsageRecord{}, err
	}
	id := u.ID
	if id == "" {
		id = uuid.NewString()
	}
	return costing.UsageRecord{
		ID:          id,
		EmployeeID:  costing.EmployeeID(u.EmployeeID),
		ClientID:    costing.ClientID(u.ClientID),
		Date:        date,
		Quantity:    u.Quantity,
		Description: u.Description,
	}, nil
}

func (s ServiceTypeJSON) ServiceType() costing.ServiceType {
	st := costing.ServiceType{
		ID:                 costing.ServiceTypeID(s.ID),
		Name:               s.Name,
		Category:           s.Category,
		BaseWorkloadFactor: s.WorkloadFactor,
		ResponseHours:      s.ResponseHours,
		ResolutionHours:    s.ResolutionHours,
		DriverID:           costing.DriverID(s.DriverID),
	}
	for _, id := range s.Team {
		st.Team = append(st.Team, costing.EmployeeID(id))
	}
	return st
}

func (c CatalogItemJSON) CatalogItem() costing.CatalogItem {
	item := costing.CatalogItem{
		ID:                  costing.CatalogItemID(c.ID),
		Name:                c.Name,
		ServiceTypeID:       costing.ServiceTypeID(c.ServiceTypeID),
		SupportHoursPerUnit: decimal.NewFromInt(1),
		MarkupPercent:       decimal.NewFromInt(20),
		ManualBaseCost:      c.ManualBaseCost,
	}
	if c.SupportHoursPerUnit != nil && c.SupportHoursPerUnit.IsPositive() {
		item.SupportHoursPerUnit = *c.SupportHoursPerUnit
	}
	if c.MarkupPercent != nil {
		item.MarkupPercent = *c.MarkupPercent
	}
	return item
}

func (a AssignmentJSON) Assignment() costing.Assignment {
	return costing.Assignment{
		EmployeeID:    costing.EmployeeID(a.EmployeeID),
		ClientID:      costing.ClientID(a.ClientID),
		ServiceTypeID: costing.ServiceTypeID(a.ServiceTypeID),
	}
}

func (c ClientServiceJSON) ClientService() costing.ClientService {
	cs := costing.ClientService{
		ID:            costing.ClientServiceID(c.ID),
		ClientID:      costing.ClientID(c.ClientID),
		ServiceTypeID: costing.ServiceTypeID(c.ServiceTypeID),
		Name:          c.Name,
		Quantity:      decimal.NewFromInt(1),
		Status:        costing.ServiceActive,
	}
	if c.Quantity != nil {
		cs.Quantity = *c.Quantity
	}
	if c.Status != "" {
		cs.Status = costing.ServiceStatus(c.Status)
	}
	return cs
}

// Base returns the configured base currency or the fallback.
func (s *Snapshot) Base(fallback costing.Currency) costing.Currency {
	if s.BaseCurrency == "" {
		return fallback
	}
	return costing.Currency(s.BaseCurrency)
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// RateTable builds a rate table from the rates section. Rates without an
// effective date apply from the zero time.
func (s *Snapshot) RateTable() (*costing.RateTable, error) {
	table := costing.NewRateTable()
	if err := s.ApplyRates(table); err != nil {
		return nil, err
	}
	return table, nil
}

// ApplyRates adds the rates section to an existing table.
func (s *Snapshot) ApplyRates(table *costing.RateTable) error {
	for _, r := range s.Rates {
		if !r.Rate.IsPositive() {
			return &costing.ValidationError{Field: "rates.rate", Message: fmt.Sprintf("%s->%s rate %s must be positive", r.From, r.To, r.Rate), Err: costing.ErrValidation}
		}
		var effective time.Time
		if r.Effective != "" {
			t, err := parseDate(r.Effective)
			if err != nil {
				return err
			}
			effective = t
		}
		table.Set(costing.Currency(r.From), costing.Currency(r.To), r.Rate, effective)
	}
	return nil
}

// CalendarRegistry builds a calendar registry. Calendars without
// attendance get the standard Monday to Friday schedule.
func (s *Snapshot) CalendarRegistry(log zerolog.Logger) (*calendar.Registry, error) {
	reg := calendar.NewRegistry(log)
	if err := s.ApplyCalendars(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// ApplyCalendars registers the calendars section into an existing
// registry, replacing calendars with the same id.
func (s *Snapshot) ApplyCalendars(reg *calendar.Registry) error {
	var def costing.CalendarID
	for _, cj := range s.Calendars {
		c := calendar.Standard(costing.CalendarID(cj.ID))
		if cj.Name != "" {
			c.Name = cj.Name
		}
		if len(cj.Attendance) > 0 {
			c.Attendance = nil
			for _, a := range cj.Attendance {
				if !a.HourTo.GreaterThan(a.HourFrom) {
					return &costing.ValidationError{Field: "calendars.attendance", Message: fmt.Sprintf("calendar %s: hour_to must be after hour_from", cj.ID), Err: costing.ErrValidation}
				}
				c.Attendance = append(c.Attendance, calendar.Attendance{
					Weekday:  time.Weekday(a.Weekday),
					HourFrom: a.HourFrom,
					HourTo:   a.HourTo,
				})
			}
		}
		for _, h := range cj.Holidays {
			date, err := parseDate(h.Date)
			if err != nil {
				return err
			}
			c.Holidays = append(c.Holidays, calendar.Holiday{Date: date, Name: h.Name, Recurring: h.Recurring})
		}
		reg.Register(c)
		if cj.Default {
			def = c.ID
		}
	}
	if def != "" {
		return reg.SetDefault(def)
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load writes every record of the snapshot into the store in one
// transaction. Records are written in dependency order and validated with
// the engine's own rules; the first failure rolls everything back.
// References may point at pools and drivers already in the store.
func (s *Snapshot) Load(ctx context.Context, store costing.Store, base costing.Currency) error {
	base = s.Base(base)
	return store.WithTx(ctx, func(tx costing.Store) error {
		stored, err := tx.ListPools(ctx)
		if err != nil {
			return err
		}
		pools := make(map[costing.PoolID]costing.CostPool, len(stored)+len(s.Pools))
		for _, p := range stored {
			pools[p.ID] = p
		}
		for _, pj := range s.Pools {
			p := pj.Pool()
			pools[p.ID] = p
			if err := tx.SavePool(ctx, p); err != nil {
				return fmt.Errorf("pool %s: %w", p.ID, err)
			}
		}

		for _, ej := range s.Employees {
			e := ej.Employee()
			if err := e.Validate(); err != nil {
				return err
			}
			if err := tx.SaveEmployee(ctx, e); err != nil {
				return fmt.Errorf("employee %s: %w", e.EmployeeID, err)
			}
		}

		allocs := make([]costing.EmployeeAllocation, 0, len(s.EmpAllocs))
		for _, aj := range s.EmpAllocs {
			allocs = append(allocs, aj.Allocation())
		}
		if err := costing.ValidateEmployeeAllocations(allocs); err != nil {
			return err
		}
		for _, a := range allocs {
			if _, ok := pools[a.PoolID]; !ok {
				return fmt.Errorf("employee allocation %s: %w: %s", a.EmployeeID, costing.ErrPoolNotFound, a.PoolID)
			}
			if err := tx.SaveEmployeeAllocation(ctx, a); err != nil {
				return err
			}
		}

		for _, oj := range s.Overheads {
			o := oj.Overhead(base)
			pool, ok := pools[o.PoolID]
			if !ok {
				return fmt.Errorf("overhead %s: %w: %s", o.ID, costing.ErrPoolNotFound, o.PoolID)
			}
			if err := o.ValidateTarget(pool); err != nil {
				return err
			}
			if err := tx.SaveOverhead(ctx, o); err != nil {
				return err
			}
		}

		for _, cj := range s.Clients {
			if err := tx.SaveClient(ctx, cj.Client()); err != nil {
				return err
			}
		}

		storedDrivers, err := tx.ListDrivers(ctx)
		if err != nil {
			return err
		}
		drivers := make(map[costing.DriverID]costing.CostDriver, len(storedDrivers)+len(s.Drivers))
		for _, d := range storedDrivers {
			drivers[d.ID] = d
		}
		for _, dj := range s.Drivers {
			d := dj.Driver(base)
			if _, ok := pools[d.PoolID]; !ok {
				return fmt.Errorf("driver %s: %w: %s", d.ID, costing.ErrPoolNotFound, d.PoolID)
			}
			if err := d.Validate(); err != nil {
				return err
			}
			drivers[d.ID] = d
			if err := tx.SaveDriver(ctx, d); err != nil {
				return err
			}
		}

		existing, err := tx.ListDriverAllocations(ctx)
		if err != nil {
			return err
		}
		byDriver := make(map[costing.DriverID][]costing.ClientDriverAllocation)
		for _, a := range existing {
			byDriver[a.DriverID] = append(byDriver[a.DriverID], a)
		}
		for _, aj := range s.DriverAlloc {
			a := aj.Allocation()
			d, ok := drivers[a.DriverID]
			if !ok {
				return fmt.Errorf("driver allocation: %w: %s", costing.ErrDriverNotFound, a.DriverID)
			}
			if err := costing.CheckAllocationWrite(d, byDriver[a.DriverID], a); err != nil {
				return err
			}
			byDriver[a.DriverID] = replaceAllocation(byDriver[a.DriverID], a)
			if err := tx.SaveDriverAllocation(ctx, a); err != nil {
				return err
			}
		}
		// a rewritten driver must still cover the allocations already stored
		for _, dj := range s.Drivers {
			if err := costing.CheckDriverCap(drivers[costing.DriverID(dj.ID)], byDriver[costing.DriverID(dj.ID)]); err != nil {
				return err
			}
		}

		for _, uj := range s.Usage {
			u, err := uj.Usage()
			if err != nil {
				return err
			}
			if !u.Quantity.IsPositive() {
				return &costing.ValidationError{Field: "usage.quantity", Message: fmt.Sprintf("usage %s: quantity %s", u.ID, u.Quantity), Err: costing.ErrNonPositiveQuantity}
			}
			if err := tx.AddUsage(ctx, u); err != nil {
				return err
			}
		}

		storedServices, err := tx.ListServiceTypes(ctx)
		if err != nil {
			return err
		}
		services := make(map[costing.ServiceTypeID]bool, len(storedServices)+len(s.Services))
		for _, st := range storedServices {
			services[st.ID] = true
		}
		for _, sj := range s.Services {
			st := sj.ServiceType()
			if st.DriverID != "" {
				if _, ok := drivers[st.DriverID]; !ok {
					return fmt.Errorf("service type %s: %w: %s", st.ID, costing.ErrDriverNotFound, st.DriverID)
				}
			}
			services[st.ID] = true
			if err := tx.SaveServiceType(ctx, st); err != nil {
				return err
			}
		}
		for _, cj := range s.Catalog {
			if err := tx.SaveCatalogItem(ctx, cj.CatalogItem()); err != nil {
				return err
			}
		}
		for _, aj := range s.Assignments {
			if err := tx.SaveAssignment(ctx, aj.Assignment()); err != nil {
				return err
			}
		}

		if len(s.Lines) == 0 {
			return nil
		}
		clients, err := tx.ListClients(ctx)
		if err != nil {
			return err
		}
		known := make(map[costing.ClientID]bool, len(clients))
		for _, c := range clients {
			known[c.ID] = true
		}
		for _, lj := range s.Lines {
			cs := lj.ClientService()
			if err := cs.Validate(); err != nil {
				return err
			}
			if !known[cs.ClientID] {
				return fmt.Errorf("client service %s: %w: %s", cs.ID, costing.ErrClientNotFound, cs.ClientID)
			}
			if !services[cs.ServiceTypeID] {
				return fmt.Errorf("client service %s: %w: %s", cs.ID, costing.ErrServiceNotFound, cs.ServiceTypeID)
			}
			if err := tx.SaveClientService(ctx, cs); err != nil {
				return err
			}
		}
		return nil
	})
}

// replaceAllocation puts a into the list, replacing the row of the same
// client.
func replaceAllocation(list []costing.ClientDriverAllocation, a costing.ClientDriverAllocation) []costing.ClientDriverAllocation {
	for i := range list {
		if list[i].ClientID == a.ClientID {
			list[i] = a
			return list
		}
	}
	return append(list, a)
}
