package service

import (
	"context"
	"testing"
	"time"

	"machinehub/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDashboard(env *testEnv) *dashboardService {
	return NewDashboardService(env.db).(*dashboardService)
}

func TestDashboard_GroupsByCategory(t *testing.T) {
	env := newTestEnv(t)
	dash := newDashboard(env)

	env.createMachine(t, "Terminal-01")
	env.createMachine(t, "Terminal-02", func(m *model.Machine) { m.Category = "Handhelds" })
	env.createMachine(t, "Terminal-03", func(m *model.Machine) { m.Category = "" })

	res, err := dash.ListDashboard(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, res.MachinesByCategory["Terminals"], 1)
	assert.Len(t, res.MachinesByCategory["Handhelds"], 1)
	assert.Len(t, res.MachinesByCategory["Uncategorized"], 1)
	assert.Equal(t, int64(3), res.AvailableCount)
}

func TestDashboard_PendingAnnotations(t *testing.T) {
	env := newTestEnv(t)
	dash := newDashboard(env)
	alice := env.createUser(t, "alice", model.RoleStaff)
	bob := env.createUser(t, "bob", model.RoleStaff)

	withCode := env.createMachine(t, "Terminal-01")
	withRequest := env.createMachine(t, "Terminal-02")
	idle := env.createMachine(t, "Terminal-03")

	_, err := env.codes.Issue(context.Background(), staffActor(alice), withCode.ID, model.OpKindCheckout)
	require.NoError(t, err)
	_, err = env.requests.Create(context.Background(), staffActor(bob), withRequest.ID, model.OpKindCheckout)
	require.NoError(t, err)

	res, err := dash.ListDashboard(context.Background(), "")
	require.NoError(t, err)

	machines := res.MachinesByCategory["Terminals"]
	require.Len(t, machines, 3)

	byName := make(map[string]DashboardMachine, len(machines))
	for _, m := range machines {
		byName[m.Name] = m
	}

	require.NotNil(t, byName["Terminal-01"].Pending)
	assert.Equal(t, "code", byName["Terminal-01"].Pending.Kind)
	assert.Equal(t, model.OpKindCheckout, byName["Terminal-01"].Pending.Operation)
	assert.Equal(t, "alice", byName["Terminal-01"].Pending.Requester.Name)
	assert.NotNil(t, byName["Terminal-01"].Pending.ExpiresAt)

	require.NotNil(t, byName["Terminal-02"].Pending)
	assert.Equal(t, "request", byName["Terminal-02"].Pending.Kind)
	assert.Equal(t, "bob", byName["Terminal-02"].Pending.Requester.Name)

	assert.Nil(t, byName["Terminal-03"].Pending)
	assert.Equal(t, idle.Name, byName["Terminal-03"].Name)
}

func TestDashboard_ExpiredCodesNotAnnotated(t *testing.T) {
	env := newTestEnv(t)
	dash := newDashboard(env)
	alice := env.createUser(t, "alice", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	issued, err := env.codes.Issue(context.Background(), staffActor(alice), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)

	dash.now = fixedClock(issued.ExpiresAt.Add(time.Second))

	res, err := dash.ListDashboard(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.MachinesByCategory["Terminals"], 1)
	assert.Nil(t, res.MachinesByCategory["Terminals"][0].Pending)
}

func TestDashboard_SearchFilter(t *testing.T) {
	env := newTestEnv(t)
	dash := newDashboard(env)

	env.createMachine(t, "Register-West")
	env.createMachine(t, "Register-East")
	env.createMachine(t, "Kiosk-01", func(m *model.Machine) { m.AssetTag = "REG-77" })

	res, err := dash.ListDashboard(context.Background(), "Register")
	require.NoError(t, err)
	assert.Len(t, res.MachinesByCategory["Terminals"], 2)

	// Asset tags are searchable too.
	res, err = dash.ListDashboard(context.Background(), "REG-77")
	require.NoError(t, err)
	require.Len(t, res.MachinesByCategory["Terminals"], 1)
	assert.Equal(t, "Kiosk-01", res.MachinesByCategory["Terminals"][0].Name)

	// The available count stays fleet-wide while filtering.
	assert.Equal(t, int64(3), res.AvailableCount)
}

func TestDashboard_HolderShown(t *testing.T) {
	env := newTestEnv(t)
	dash := newDashboard(env)
	holder := env.createUser(t, "alice", model.RoleStaff)
	env.createMachine(t, "Terminal-01", func(m *model.Machine) {
		m.Status = model.MachineInUse
		m.HolderID = &holder.ID
	})

	res, err := dash.ListDashboard(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, res.MachinesByCategory["Terminals"], 1)

	m := res.MachinesByCategory["Terminals"][0]
	assert.Equal(t, model.MachineInUse, m.Status)
	require.NotNil(t, m.Holder)
	assert.Equal(t, "alice", m.Holder.Name)
	assert.Equal(t, int64(0), res.AvailableCount)
}
