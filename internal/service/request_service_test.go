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

func TestCreateRequest_Checkout(t *testing.T) {
	env := newTestEnv(t)
	requester := env.createUser(t, "alice", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)
	assert.Equal(t, model.OpKindCheckout, res.Kind)
	assert.Equal(t, model.RequestPendingAdminApproval, res.Status)

	// Filing a request does not touch the machine.
	reloaded := env.reloadMachine(t, machine.ID)
	assert.Equal(t, model.MachineAvailable, reloaded.Status)

	assert.Equal(t, int64(1), env.countAudits(t, model.ActionCreateRequest))
}

func TestCreateRequest_AdminForbidden(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)
	machine := env.createMachine(t, "Terminal-01")

	_, err := env.requests.Create(context.Background(), adminActor(admin), machine.ID, model.OpKindCheckout)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}

func TestCreateRequest_PendingCaps(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", model.RoleStaff)
	bob := env.createUser(t, "bob", model.RoleStaff)
	m1 := env.createMachine(t, "Terminal-01")
	m2 := env.createMachine(t, "Terminal-02")

	_, err := env.requests.Create(context.Background(), staffActor(alice), m1.ID, model.OpKindCheckout)
	require.NoError(t, err)

	// One pending request per machine.
	_, err = env.requests.Create(context.Background(), staffActor(bob), m1.ID, model.OpKindCheckout)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	// One pending request per requester, fleet-wide.
	_, err = env.requests.Create(context.Background(), staffActor(alice), m2.ID, model.OpKindCheckout)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))

	// A pending code on the machine blocks a request too.
	m3 := env.createMachine(t, "Terminal-03")
	_, err = env.codes.Issue(context.Background(), staffActor(bob), m3.ID, model.OpKindCheckout)
	require.NoError(t, err)
	carol := env.createUser(t, "carol", model.RoleStaff)
	_, err = env.requests.Create(context.Background(), staffActor(carol), m3.ID, model.OpKindCheckout)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestCreateRequest_TransferNeedsHeldMachine(t *testing.T) {
	env := newTestEnv(t)
	holder := env.createUser(t, "alice", model.RoleStaff)
	requester := env.createUser(t, "bob", model.RoleStaff)
	idle := env.createMachine(t, "Terminal-01")

	// Transfer of an available machine is refused.
	_, err := env.requests.Create(context.Background(), staffActor(requester), idle.ID, model.OpKindTransfer)
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))

	held := env.createMachine(t, "Terminal-02", func(m *model.Machine) {
		m.Status = model.MachineInUse
		m.HolderID = &holder.ID
	})

	// The holder cannot request a transfer to themselves.
	_, err = env.requests.Create(context.Background(), staffActor(holder), held.ID, model.OpKindTransfer)
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))

	res, err := env.requests.Create(context.Background(), staffActor(requester), held.ID, model.OpKindTransfer)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPendingPeerConfirmation, res.Status)
	require.NotNil(t, res.PriorHolderID)
	assert.Equal(t, holder.ID.String(), *res.PriorHolderID)
}

func TestConfirmByPeer(t *testing.T) {
	env := newTestEnv(t)
	holder := env.createUser(t, "alice", model.RoleStaff)
	requester := env.createUser(t, "bob", model.RoleStaff)
	outsider := env.createUser(t, "carol", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01", func(m *model.Machine) {
		m.Status = model.MachineInUse
		m.HolderID = &holder.ID
	})

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindTransfer)
	require.NoError(t, err)
	requestID := uuid.MustParse(res.ID)

	// Only the outgoing holder may consent.
	_, err = env.requests.ConfirmByPeer(context.Background(), staffActor(outsider), requestID)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	confirmed, err := env.requests.ConfirmByPeer(context.Background(), staffActor(holder), requestID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPendingAdminApproval, confirmed.Status)

	// Consent is not repeatable.
	_, err = env.requests.ConfirmByPeer(context.Background(), staffActor(holder), requestID)
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))
}

func TestCancelRequest(t *testing.T) {
	env := newTestEnv(t)
	requester := env.createUser(t, "alice", model.RoleStaff)
	other := env.createUser(t, "bob", model.RoleStaff)
	machine := env.createMachine(t, "Terminal-01")

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)
	requestID := uuid.MustParse(res.ID)

	err = env.requests.Cancel(context.Background(), staffActor(other), requestID)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	require.NoError(t, env.requests.Cancel(context.Background(), staffActor(requester), requestID))

	// The row is gone; the audit log keeps the trace.
	var n int64
	require.NoError(t, env.db.Model(&model.LoanRequest{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, int64(1), env.countAudits(t, model.ActionCancelRequest))

	// The requester may file again afterwards.
	_, err = env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)
}

func TestAdjudicate_ApproveCheckout(t *testing.T) {
	env := newTestEnv(t)
	requester := env.createUser(t, "alice", model.RoleStaff)
	admin := env.createUser(t, "root", model.RoleAdmin)
	machine := env.createMachine(t, "Terminal-01")

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)
	requestID := uuid.MustParse(res.ID)

	// Staff cannot adjudicate.
	err = env.requests.Adjudicate(context.Background(), staffActor(requester), requestID, DecisionApprove)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	require.NoError(t, env.requests.Adjudicate(context.Background(), adminActor(admin), requestID, DecisionApprove))

	reloaded := env.reloadMachine(t, machine.ID)
	assert.Equal(t, model.MachineInUse, reloaded.Status)
	require.NotNil(t, reloaded.HolderID)
	assert.Equal(t, requester.ID, *reloaded.HolderID)

	// One ledger entry with the admin as confirmer.
	var op model.Operation
	require.NoError(t, env.db.First(&op).Error)
	assert.Equal(t, requester.ID, op.PrimaryUserID)
	assert.Equal(t, admin.ID, op.ConfirmerID)

	// Second adjudication of the same request loses.
	err = env.requests.Adjudicate(context.Background(), adminActor(admin), requestID, DecisionDeny)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestAdjudicate_ApproveTransfer(t *testing.T) {
	env := newTestEnv(t)
	holder := env.createUser(t, "alice", model.RoleStaff)
	requester := env.createUser(t, "bob", model.RoleStaff)
	admin := env.createUser(t, "root", model.RoleAdmin)
	machine := env.createMachine(t, "Terminal-01", func(m *model.Machine) {
		m.Status = model.MachineInUse
		m.HolderID = &holder.ID
	})

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindTransfer)
	require.NoError(t, err)
	requestID := uuid.MustParse(res.ID)

	// Approval before peer consent is refused.
	err = env.requests.Adjudicate(context.Background(), adminActor(admin), requestID, DecisionApprove)
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))

	_, err = env.requests.ConfirmByPeer(context.Background(), staffActor(holder), requestID)
	require.NoError(t, err)

	require.NoError(t, env.requests.Adjudicate(context.Background(), adminActor(admin), requestID, DecisionApprove))

	reloaded := env.reloadMachine(t, machine.ID)
	assert.Equal(t, model.MachineInUse, reloaded.Status)
	require.NotNil(t, reloaded.HolderID)
	assert.Equal(t, requester.ID, *reloaded.HolderID)
}

func TestAdjudicate_DenyLeavesMachineUntouched(t *testing.T) {
	env := newTestEnv(t)
	requester := env.createUser(t, "alice", model.RoleStaff)
	admin := env.createUser(t, "root", model.RoleAdmin)
	machine := env.createMachine(t, "Terminal-01")

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)
	requestID := uuid.MustParse(res.ID)

	require.NoError(t, env.requests.Adjudicate(context.Background(), adminActor(admin), requestID, DecisionDeny))

	reloaded := env.reloadMachine(t, machine.ID)
	assert.Equal(t, model.MachineAvailable, reloaded.Status)
	assert.Nil(t, reloaded.HolderID)
	assert.Equal(t, int64(0), env.countOperations(t))

	// The denial survives only in the audit log.
	assert.Equal(t, int64(1), env.countAudits(t, model.ActionDenyRequest))
	var n int64
	require.NoError(t, env.db.Model(&model.LoanRequest{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestAdjudicate_UnknownDecision(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", model.RoleAdmin)

	err := env.requests.Adjudicate(context.Background(), adminActor(admin), uuid.New(), "defer")
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))
}

func TestAdjudicate_ApprovalFailsWhenMachineChanged(t *testing.T) {
	env := newTestEnv(t)
	requester := env.createUser(t, "alice", model.RoleStaff)
	holder := env.createUser(t, "bob", model.RoleStaff)
	admin := env.createUser(t, "root", model.RoleAdmin)
	machine := env.createMachine(t, "Terminal-01")

	res, err := env.requests.Create(context.Background(), staffActor(requester), machine.ID, model.OpKindCheckout)
	require.NoError(t, err)
	requestID := uuid.MustParse(res.ID)

	// The machine is handed out behind the request's back.
	require.NoError(t, env.db.Model(&model.Machine{}).Where("id = ?", machine.ID).
		Updates(map[string]interface{}{"status": model.MachineInUse, "holder_id": holder.ID}).Error)

	err = env.requests.Adjudicate(context.Background(), adminActor(admin), requestID, DecisionApprove)
	assert.Equal(t, apperror.KindInvalidState, apperror.KindOf(err))

	// The failed approval rolled back; the request is still pending.
	var n int64
	require.NoError(t, env.db.Model(&model.LoanRequest{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestListPending(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", model.RoleStaff)
	bob := env.createUser(t, "bob", model.RoleStaff)
	m1 := env.createMachine(t, "Terminal-01")
	m2 := env.createMachine(t, "Terminal-02")

	_, err := env.requests.Create(context.Background(), staffActor(alice), m1.ID, model.OpKindCheckout)
	require.NoError(t, err)
	_, err = env.requests.Create(context.Background(), staffActor(bob), m2.ID, model.OpKindCheckout)
	require.NoError(t, err)

	list, total, err := env.requests.ListPending(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)
	assert.NotEmpty(t, list[0].RequesterName)
	assert.NotEmpty(t, list[0].MachineName)
}
