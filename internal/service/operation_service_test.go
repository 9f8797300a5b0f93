package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"machinehub/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOperations(env *testEnv) *operationService {
	return NewOperationService(env.opRepo, env.auditRepo, env.txManager).(*operationService)
}

func (e *testEnv) appendOperation(t *testing.T, machine *model.Machine, primary, confirmer *model.User, kind string, at time.Time) {
	t.Helper()
	op := &model.Operation{
		MachineID:     machine.ID,
		PrimaryUserID: primary.ID,
		ConfirmerID:   confirmer.ID,
		Kind:          kind,
	}
	require.NoError(t, e.db.Create(op).Error)
	if !at.IsZero() {
		require.NoError(t, e.db.Model(op).Update("created_at", at).Error)
	}
}

func TestOperationList_Filters(t *testing.T) {
	env := newTestEnv(t)
	ops := newOperations(env)
	alice := env.createUser(t, "alice", model.RoleStaff)
	bob := env.createUser(t, "bob", model.RoleStaff)
	carol := env.createUser(t, "carol", model.RoleStaff)
	m1 := env.createMachine(t, "Terminal-01")
	m2 := env.createMachine(t, "Terminal-02")

	env.appendOperation(t, m1, alice, bob, model.OpKindCheckout, time.Time{})
	env.appendOperation(t, m1, alice, bob, model.OpKindReturn, time.Time{})
	env.appendOperation(t, m2, carol, bob, model.OpKindCheckout, time.Time{})

	list, total, err := ops.List(context.Background(), OperationFilter{}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 3)
	assert.NotEmpty(t, list[0].MachineName)

	_, total, err = ops.List(context.Background(), OperationFilter{MachineID: m1.ID}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	_, total, err = ops.List(context.Background(), OperationFilter{Kind: model.OpKindReturn}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// User filter matches both sides of the operation.
	_, total, err = ops.List(context.Background(), OperationFilter{UserID: bob.ID}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	_, total, err = ops.List(context.Background(), OperationFilter{UserID: carol.ID}, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestOperationExportCSV(t *testing.T) {
	env := newTestEnv(t)
	ops := newOperations(env)
	alice := env.createUser(t, "alice", model.RoleStaff)
	bob := env.createUser(t, "bob", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	env.appendOperation(t, machine, alice, bob, model.OpKindCheckout, at)

	var buf bytes.Buffer
	require.NoError(t, ops.ExportCSV(context.Background(), OperationFilter{}, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"Date", "Time", "Operation", "Primary User", "Machine", "Confirming User"}, records[0])
	assert.Equal(t, "14/03/2026", records[1][0])
	assert.Equal(t, "09:30:00", records[1][1])
	assert.Equal(t, model.OpKindCheckout, records[1][2])
	assert.Equal(t, "alice", records[1][3])
	assert.Equal(t, "Terminal-01", records[1][4])
	assert.Equal(t, "bob", records[1][5])
}

func TestOperationPurge(t *testing.T) {
	env := newTestEnv(t)
	ops := newOperations(env)
	alice := env.createUser(t, "alice", model.RoleStaff)
	bob := env.createUser(t, "bob", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	old := time.Now().Add(-150 * 24 * time.Hour)
	env.appendOperation(t, machine, alice, bob, model.OpKindCheckout, old)
	env.appendOperation(t, machine, alice, bob, model.OpKindReturn, time.Time{})

	removed, err := ops.PurgeOlderThan(context.Background(), nil, DefaultRetentionDays*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, int64(1), env.countOperations(t))
	assert.Equal(t, int64(1), env.countAudits(t, model.ActionPurgeOperations))

	_, err = ops.PurgeOlderThan(context.Background(), nil, 0)
	assert.Error(t, err)
}
