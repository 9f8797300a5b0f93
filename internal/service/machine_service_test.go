package service

import (
	"context"
	"testing"

	"machinehub/internal/model"
	"machinehub/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineCreate_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	staff := env.createUser(t, "alice", model.RoleStaff)
	admin := env.createUser(t, "root", model.RoleAdmin)

	req := CreateMachineRequest{Name: "Terminal-01", ModelLabel: "T-800"}

	_, err := env.machines.Create(context.Background(), staffActor(staff), req)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	res, err := env.machines.Create(context.Background(), adminActor(admin), req)
	require.NoError(t, err)
	assert.Equal(t, model.MachineAvailable, res.Status)
	assert.Equal(t, model.MachineTypeProduction, res.MachineType)
	assert.Equal(t, int64(1), env.countAudits(t, model.ActionCreateMachine))
}

func TestMachineCreate_DuplicateName(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)

	req := CreateMachineRequest{Name: "Terminal-01", ModelLabel: "T-800"}
	_, err := env.machines.Create(context.Background(), adminActor(admin), req)
	require.NoError(t, err)

	_, err = env.machines.Create(context.Background(), adminActor(admin), req)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestMachineUpdate_MergesNonEmptyFields(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)
	machine := env.createMachine(t, "Terminal-01", func(m *model.Machine) {
		m.AssetTag = "AT-1"
	})

	res, err := env.machines.Update(context.Background(), adminActor(admin), machine.ID, UpdateMachineRequest{
		Category: "Handhelds",
	})
	require.NoError(t, err)
	assert.Equal(t, "Handhelds", res.Category)
	// Untouched fields survive the partial update.
	assert.Equal(t, "Terminal-01", res.Name)
	assert.Equal(t, "AT-1", res.AssetTag)

	_, err = env.machines.Update(context.Background(), adminActor(admin), uuid.New(), UpdateMachineRequest{})
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestMachineUpdate_NeverTouchesPossession(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)
	holder := env.createUser(t, "alice", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01", func(m *model.Machine) {
		m.Status = model.MachineInUse
		m.HolderID = &holder.ID
	})

	_, err := env.machines.Update(context.Background(), adminActor(admin), machine.ID, UpdateMachineRequest{
		Name: "Terminal-01b",
	})
	require.NoError(t, err)

	reloaded := env.reloadMachine(t, machine.ID)
	assert.Equal(t, model.MachineInUse, reloaded.Status)
	require.NotNil(t, reloaded.HolderID)
	assert.Equal(t, holder.ID, *reloaded.HolderID)
}

func TestMachineDelete_RefusedWhilePendingWorkflow(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)
	alice := env.createUser(t, "alice", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	_, err := env.codes.Issue(context.Background(), staffActor(alice), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)

	err = env.machines.Delete(context.Background(), adminActor(admin), machine.ID)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestMachineDelete(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)
	staff := env.createUser(t, "alice", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	err := env.machines.Delete(context.Background(), staffActor(staff), machine.ID)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	require.NoError(t, env.machines.Delete(context.Background(), adminActor(admin), machine.ID))
	assert.Equal(t, int64(1), env.countAudits(t, model.ActionDeleteMachine))

	_, err = env.machines.GetByID(context.Background(), machine.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestMachineList_Search(t *testing.T) {
	env := newTestEnv(t)
	env.createMachine(t, "Register-West")
	env.createMachine(t, "Register-East")
	env.createMachine(t, "Kiosk-01")

	list, total, err := env.machines.List(context.Background(), "Register", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	_, total, err = env.machines.List(context.Background(), "", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
