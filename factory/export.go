package factory

import (
	"context"
	"fmt"

	"github.com/warp/abc-engine/costing"
)

// =============================================================================
// EXPORT - Engine records -> JSON documents
// =============================================================================

func boolRef(b bool) *bool { return &b }

func FromPool(p costing.CostPool) PoolJSON {
	return PoolJSON{ID: string(p.ID), Name: p.Name, Kind: string(p.Kind), Active: boolRef(p.Active)}
}

func FromEmployee(e costing.EmployeeCost) EmployeeJSON {
	return EmployeeJSON{
		ID:             string(e.EmployeeID),
		Name:           e.Name,
		ContractWage:   e.ContractWage,
		UseManual:      e.UseManual,
		ManualSalary:   e.ManualSalary,
		ManualBenefits: e.ManualBenefits,
		MonthlyHours:   e.MonthlyHours,
		CalendarID:     string(e.CalendarID),
		Active:         boolRef(e.Active),
	}
}

func FromEmployeeAllocation(a costing.EmployeeAllocation) EmployeeAllocationJSON {
	return EmployeeAllocationJSON{EmployeeID: string(a.EmployeeID), PoolID: string(a.PoolID), Percentage: a.Percentage}
}

func FromOverhead(o costing.OverheadCost) OverheadJSON {
	return OverheadJSON{
		ID:         string(o.ID),
		Name:       o.Name,
		Amount:     o.Amount,
		Currency:   string(o.Currency),
		Cadence:    string(o.Cadence),
		PoolID:     string(o.PoolID),
		Method:     string(o.Method),
		Percentage: o.Percentage,
		FixedCost:  o.FixedCost,
		State:      string(o.State),
	}
}

func FromDriver(d costing.CostDriver) DriverJSON {
	out := DriverJSON{
		ID:            string(d.ID),
		Name:          d.Name,
		Unit:          d.Unit,
		PoolID:        string(d.PoolID),
		MarkupPercent: d.MarkupPercent,
		Active:        boolRef(d.Active),
	}
	if p := d.Purchase; p != nil {
		out.Purchase = &PurchaseJSON{
			Cost:                   p.Cost,
			Currency:               string(p.Currency),
			Cadence:                string(p.Cadence),
			LicenseType:            string(p.LicenseType),
			TotalPurchasedQuantity: p.TotalPurchasedQuantity,
		}
	}
	return out
}

func FromDriverAllocation(a costing.ClientDriverAllocation) DriverAllocationJSON {
	return DriverAllocationJSON{DriverID: string(a.DriverID), ClientID: string(a.ClientID), Quantity: a.Quantity}
}

func FromClient(c costing.Client) ClientJSON {
	return ClientJSON{ID: string(c.ID), Name: c.Name, SupportLevel: string(c.SupportLevel), Active: boolRef(c.Active)}
}

func FromUsage(u costing.UsageRecord) UsageJSON {
	return UsageJSON{
		ID:          u.ID,
		EmployeeID:  string(u.EmployeeID),
		ClientID:    string(u.ClientID),
		Date:        u.Date.Format(dateLayout),
		Quantity:    u.Quantity,
		Description: u.Description,
	}
}

func FromServiceType(s costing.ServiceType) ServiceTypeJSON {
	team := make([]string, len(s.Team))
	for i, id := range s.Team {
		team[i] = string(id)
	}
	return ServiceTypeJSON{
		ID:              string(s.ID),
		Name:            s.Name,
		Category:        s.Category,
		WorkloadFactor:  s.BaseWorkloadFactor,
		ResponseHours:   s.ResponseHours,
		ResolutionHours: s.ResolutionHours,
		Team:            team,
		DriverID:        string(s.DriverID),
	}
}

func FromCatalogItem(c costing.CatalogItem) CatalogItemJSON {
	hours, markup := c.SupportHoursPerUnit, c.MarkupPercent
	return CatalogItemJSON{
		ID:                  string(c.ID),
		Name:                c.Name,
		ServiceTypeID:       string(c.ServiceTypeID),
		SupportHoursPerUnit: &hours,
		MarkupPercent:       &markup,
		ManualBaseCost:      c.ManualBaseCost,
	}
}

func FromAssignment(a costing.Assignment) AssignmentJSON {
	return AssignmentJSON{EmployeeID: string(a.EmployeeID), ClientID: string(a.ClientID), ServiceTypeID: string(a.ServiceTypeID)}
}

func FromClientService(cs costing.ClientService) ClientServiceJSON {
	qty := cs.Quantity
	return ClientServiceJSON{
		ID:            string(cs.ID),
		ClientID:      string(cs.ClientID),
		ServiceTypeID: string(cs.ServiceTypeID),
		Name:          cs.Name,
		Quantity:      &qty,
		Status:        string(cs.Status),
	}
}

func convertAll[T, J any](in []T, fn func(T) J) []J {
	out := make([]J, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}

// Export reads every configuration record from the repository into a
// snapshot that Load accepts. Usage is included for the given periods only;
// rates and calendars live outside the repository and are left empty.
func Export(ctx context.Context, repo costing.Repository, base costing.Currency, usage ...costing.Period) (*Snapshot, error) {
	s := &Snapshot{BaseCurrency: string(base)}

	pools, err := repo.ListPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("export pools: %w", err)
	}
	s.Pools = convertAll(pools, FromPool)

	employees, err := repo.ListEmployees(ctx)
	if err != nil {
		return nil, fmt.Errorf("export employees: %w", err)
	}
	s.Employees = convertAll(employees, FromEmployee)

	empAllocs, err := repo.ListEmployeeAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("export employee allocations: %w", err)
	}
	s.EmpAllocs = convertAll(empAllocs, FromEmployeeAllocation)

	overheads, err := repo.ListOverheads(ctx)
	if err != nil {
		return nil, fmt.Errorf("export overheads: %w", err)
	}
	s.Overheads = convertAll(overheads, FromOverhead)

	drivers, err := repo.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("export drivers: %w", err)
	}
	s.Drivers = convertAll(drivers, FromDriver)

	driverAllocs, err := repo.ListDriverAllocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("export driver allocations: %w", err)
	}
	s.DriverAlloc = convertAll(driverAllocs, FromDriverAllocation)

	clients, err := repo.ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("export clients: %w", err)
	}
	s.Clients = convertAll(clients, FromClient)

	for _, p := range usage {
		records, err := repo.ListUsage(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("export usage %s: %w", p, err)
		}
		s.Usage = append(s.Usage, convertAll(records, FromUsage)...)
	}

	services, err := repo.ListServiceTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("export service types: %w", err)
	}
	s.Services = convertAll(services, FromServiceType)

	catalog, err := repo.ListCatalogItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("export catalog: %w", err)
	}
	s.Catalog = convertAll(catalog, FromCatalogItem)

	assignments, err := repo.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("export assignments: %w", err)
	}
	s.Assignments = convertAll(assignments, FromAssignment)

	lines, err := repo.ListClientServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("export client services: %w", err)
	}
	s.Lines = convertAll(lines, FromClientService)
	return s, nil
}
