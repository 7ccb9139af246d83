package costing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/abc-engine/costing"
)

func line(id, client, service, qty string, status costing.ServiceStatus) costing.ClientService {
	return costing.ClientService{
		ID:            costing.ClientServiceID(id),
		ClientID:      costing.ClientID(client),
		ServiceTypeID: costing.ServiceTypeID(service),
		Quantity:      dec(qty),
		Status:        status,
	}
}

func TestClientService_Validate(t *testing.T) {
	assert.NoError(t, line("l1", "A", "helpdesk", "2", costing.ServiceMaintenance).Validate())

	err := line("l1", "A", "helpdesk", "0", costing.ServiceActive).Validate()
	assert.ErrorIs(t, err, costing.ErrNonPositiveQuantity)

	err = line("l1", "A", "helpdesk", "1", "broken").Validate()
	assert.ErrorIs(t, err, costing.ErrUnknownServiceStatus)
	assert.True(t, costing.IsValidation(err))
}

func TestClientService_DriverQuantity(t *testing.T) {
	assertDecimal(t, "12", line("l1", "A", "s", "12", costing.ServiceActive).DriverQuantity())
	for _, st := range []costing.ServiceStatus{costing.ServiceInactive, costing.ServiceMaintenance, costing.ServiceRetired} {
		assertDecimal(t, "0", line("l1", "A", "s", "12", st).DriverQuantity(), st)
	}
}

func TestCountedAssignments(t *testing.T) {
	// GIVEN: A's helpdesk has only a retired line, B's helpdesk one active
	// line among others, and C's devops has no line at all
	assignments := []costing.Assignment{
		{EmployeeID: "e1", ClientID: "A", ServiceTypeID: "helpdesk"},
		{EmployeeID: "e1", ClientID: "B", ServiceTypeID: "helpdesk"},
		{EmployeeID: "e1", ClientID: "C", ServiceTypeID: "devops"},
	}
	lines := []costing.ClientService{
		line("a1", "A", "helpdesk", "3", costing.ServiceRetired),
		line("b1", "B", "helpdesk", "1", costing.ServiceInactive),
		line("b2", "B", "helpdesk", "4", costing.ServiceActive),
	}

	// WHEN
	counted := costing.CountedAssignments(assignments, lines)

	// THEN: Only the retired-only pair drops out
	require.Len(t, counted, 2)
	assert.Equal(t, costing.ClientID("B"), counted[0].ClientID)
	assert.Equal(t, costing.ClientID("C"), counted[1].ClientID)
}

func TestWorkloadReport_InactiveServicesDoNotCount(t *testing.T) {
	services := map[costing.ServiceTypeID]costing.ServiceType{
		"helpdesk": {ID: "helpdesk", Category: "support", BaseWorkloadFactor: dec("2")},
	}
	clients := map[costing.ClientID]costing.Client{
		"A": {ID: "A", SupportLevel: costing.SupportStandard},
		"B": {ID: "B", SupportLevel: costing.SupportStandard},
	}
	assignments := []costing.Assignment{
		{EmployeeID: "e1", ClientID: "A", ServiceTypeID: "helpdesk"},
		{EmployeeID: "e1", ClientID: "B", ServiceTypeID: "helpdesk"},
	}
	lines := []costing.ClientService{line("b1", "B", "helpdesk", "1", costing.ServiceMaintenance)}

	rows := costing.WorkloadReport(costing.CountedAssignments(assignments, lines), services, clients, dec("10"))

	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Assignments)
	assertDecimal(t, "2", rows[0].TotalWorkload)
}

// =============================================================================
// DRIVER SYNC
// =============================================================================

func syncFixture() (map[costing.ServiceTypeID]costing.ServiceType, map[costing.DriverID]costing.CostDriver) {
	services := map[costing.ServiceTypeID]costing.ServiceType{
		"workstations": {ID: "workstations", DriverID: "ws"},
		"office365":    {ID: "office365", DriverID: "m365"},
		"consulting":   {ID: "consulting"},
	}
	drivers := map[costing.DriverID]costing.CostDriver{
		"ws":   {ID: "ws", PoolID: "support", Active: true},
		"m365": quantityDriver("500"),
	}
	return services, drivers
}

func TestPlanDriverSync(t *testing.T) {
	// GIVEN: A has 10+5 active workstations and a retired one, B's only
	// workstation line is inactive, C keeps a manual allocation with no
	// service line behind it
	services, drivers := syncFixture()
	lines := []costing.ClientService{
		line("a1", "A", "workstations", "10", costing.ServiceActive),
		line("a2", "A", "workstations", "5", costing.ServiceActive),
		line("a3", "A", "workstations", "7", costing.ServiceRetired),
		line("b1", "B", "workstations", "4", costing.ServiceInactive),
		line("c1", "C", "consulting", "40", costing.ServiceActive),
	}
	existing := []costing.ClientDriverAllocation{
		{DriverID: "ws", ClientID: "A", Quantity: dec("3")},
		{DriverID: "ws", ClientID: "B", Quantity: dec("4")},
		{DriverID: "ws", ClientID: "C", Quantity: dec("2")},
	}

	// WHEN
	plan, err := costing.PlanDriverSync(lines, services, drivers, existing)

	// THEN: A is raised to 15, B is removed, C is untouched
	require.NoError(t, err)
	require.Len(t, plan.Upserts, 1)
	assert.Equal(t, costing.ClientID("A"), plan.Upserts[0].ClientID)
	assertDecimal(t, "15", plan.Upserts[0].Quantity)
	assert.Equal(t, []costing.DriverClientKey{{DriverID: "ws", ClientID: "B"}}, plan.Removes)

	require.Len(t, plan.Changes, 2)
	assertDecimal(t, "3", plan.Changes[0].Previous)
	assertDecimal(t, "15", plan.Changes[0].Quantity)
	assert.Equal(t, costing.ClientID("B"), plan.Changes[1].ClientID)
	assertDecimal(t, "0", plan.Changes[1].Quantity)
}

func TestPlanDriverSync_NoChangeWhenInStep(t *testing.T) {
	services, drivers := syncFixture()
	lines := []costing.ClientService{line("a1", "A", "workstations", "3", costing.ServiceActive)}
	existing := []costing.ClientDriverAllocation{{DriverID: "ws", ClientID: "A", Quantity: dec("3")}}

	plan, err := costing.PlanDriverSync(lines, services, drivers, existing)

	require.NoError(t, err)
	assert.Empty(t, plan.Upserts)
	assert.Empty(t, plan.Removes)
	assert.Empty(t, plan.Changes)
}

func TestPlanDriverSync_EnforcesLicenseCap(t *testing.T) {
	// GIVEN: 500 licenses, B already holds 180 outside any service line
	services, drivers := syncFixture()
	existing := []costing.ClientDriverAllocation{{DriverID: "m365", ClientID: "B", Quantity: dec("180")}}

	// WHEN: A's active lines ask for 300 + 30
	lines := []costing.ClientService{
		line("a1", "A", "office365", "300", costing.ServiceActive),
		line("a2", "A", "office365", "30", costing.ServiceActive),
	}
	_, err := costing.PlanDriverSync(lines, services, drivers, existing)

	// THEN: 510 exceeds the cap
	assert.ErrorIs(t, err, costing.ErrLicenseCapExceeded)

	// AND: Retiring the extra line brings it back under
	lines[1].Status = costing.ServiceRetired
	plan, err := costing.PlanDriverSync(lines, services, drivers, existing)
	require.NoError(t, err)
	require.Len(t, plan.Upserts, 1)
	assertDecimal(t, "300", plan.Upserts[0].Quantity)
}

func TestPlanDriverSync_UnknownReferences(t *testing.T) {
	services, drivers := syncFixture()

	_, err := costing.PlanDriverSync([]costing.ClientService{line("x", "A", "nope", "1", costing.ServiceActive)}, services, drivers, nil)
	assert.ErrorIs(t, err, costing.ErrServiceNotFound)

	services["broken"] = costing.ServiceType{ID: "broken", DriverID: "gone"}
	_, err = costing.PlanDriverSync([]costing.ClientService{line("y", "A", "broken", "1", costing.ServiceActive)}, services, drivers, nil)
	assert.ErrorIs(t, err, costing.ErrDriverNotFound)
}
