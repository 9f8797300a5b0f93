package repository

import (
	"context"
	"testing"
	"time"

	"machinehub/internal/database"
	"machinehub/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func TestSetPossession_VersionGate(t *testing.T) {
	db := newTestDB(t)
	repo := NewMachineRepository(db)
	ctx := context.Background()

	machine := &model.Machine{Name: "Terminal-01", ModelLabel: "T-800", Status: model.MachineAvailable}
	require.NoError(t, repo.Create(ctx, machine))

	holder := uuid.New()
	require.NoError(t, repo.SetPossession(ctx, machine.ID, machine.Version, model.MachineInUse, &holder))

	updated, err := repo.GetByID(ctx, machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineInUse, updated.Status)
	require.NotNil(t, updated.HolderID)
	assert.Equal(t, holder, *updated.HolderID)
	assert.Equal(t, machine.Version+1, updated.Version)

	// A writer holding the old version loses.
	err = repo.SetPossession(ctx, machine.ID, machine.Version, model.MachineAvailable, nil)
	assert.ErrorIs(t, err, ErrStaleWrite)

	// The row is unchanged by the losing write.
	after, err := repo.GetByID(ctx, machine.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MachineInUse, after.Status)
}

func TestRequestRepo_UniquePendingIndexes(t *testing.T) {
	db := newTestDB(t)
	repo := NewRequestRepository(db)
	ctx := context.Background()

	machineID := uuid.New()
	requesterID := uuid.New()

	first := &model.LoanRequest{
		MachineID:   machineID,
		RequesterID: requesterID,
		Kind:        model.OpKindCheckout,
		Status:      model.RequestPendingAdminApproval,
	}
	require.NoError(t, repo.Create(ctx, first))

	// Same machine, different requester.
	err := repo.Create(ctx, &model.LoanRequest{
		MachineID:   machineID,
		RequesterID: uuid.New(),
		Kind:        model.OpKindCheckout,
		Status:      model.RequestPendingAdminApproval,
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Same requester, different machine.
	err = repo.Create(ctx, &model.LoanRequest{
		MachineID:   uuid.New(),
		RequesterID: requesterID,
		Kind:        model.OpKindCheckout,
		Status:      model.RequestPendingAdminApproval,
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Deleting the pending row frees both slots.
	require.NoError(t, repo.DeleteInStatus(ctx, first.ID, model.RequestPendingAdminApproval))
	require.NoError(t, repo.Create(ctx, &model.LoanRequest{
		MachineID:   machineID,
		RequesterID: requesterID,
		Kind:        model.OpKindCheckout,
		Status:      model.RequestPendingAdminApproval,
	}))
}

func TestCodeRepo_UniquePendingPerMachine(t *testing.T) {
	db := newTestDB(t)
	repo := NewCodeRepository(db)
	ctx := context.Background()

	machineID := uuid.New()
	expires := time.Now().Add(30 * time.Second)

	first := &model.ConfirmationCode{
		Code:        "111111",
		RequesterID: uuid.New(),
		MachineID:   machineID,
		Kind:        model.OpKindCheckout,
		Status:      model.CodePending,
		ExpiresAt:   expires,
	}
	require.NoError(t, repo.Create(ctx, first))

	// A second pending code on the same machine is rejected by storage,
	// below any service-level read.
	err := repo.Create(ctx, &model.ConfirmationCode{
		Code:        "222222",
		RequesterID: uuid.New(),
		MachineID:   machineID,
		Kind:        model.OpKindReturn,
		Status:      model.CodePending,
		ExpiresAt:   expires,
	})
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// Other machines are unaffected.
	require.NoError(t, repo.Create(ctx, &model.ConfirmationCode{
		Code:        "333333",
		RequesterID: uuid.New(),
		MachineID:   uuid.New(),
		Kind:        model.OpKindCheckout,
		Status:      model.CodePending,
		ExpiresAt:   expires,
	}))

	// A terminal transition frees the machine's slot.
	require.NoError(t, repo.TransitionStatus(ctx, first.ID, model.CodeConfirmed))
	second := &model.ConfirmationCode{
		Code:        "444444",
		RequesterID: uuid.New(),
		MachineID:   machineID,
		Kind:        model.OpKindCheckout,
		Status:      model.CodePending,
		ExpiresAt:   time.Now().Add(-time.Second),
	}
	require.NoError(t, repo.Create(ctx, second))

	// So does expiring an overdue pending row.
	require.NoError(t, repo.ExpireOverdue(ctx, machineID, time.Now()))
	require.NoError(t, repo.Create(ctx, &model.ConfirmationCode{
		Code:        "555555",
		RequesterID: uuid.New(),
		MachineID:   machineID,
		Kind:        model.OpKindCheckout,
		Status:      model.CodePending,
		ExpiresAt:   time.Now().Add(30 * time.Second),
	}))
}

func TestMachineRepo_ReserveBumpsVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewMachineRepository(db)
	ctx := context.Background()

	machine := &model.Machine{Name: "Terminal-01", ModelLabel: "T-800", Status: model.MachineAvailable}
	require.NoError(t, repo.Create(ctx, machine))

	require.NoError(t, repo.Reserve(ctx, machine.ID))

	reserved, err := repo.GetByID(ctx, machine.ID)
	require.NoError(t, err)
	assert.Equal(t, machine.Version+1, reserved.Version)

	assert.ErrorIs(t, repo.Reserve(ctx, uuid.New()), gorm.ErrRecordNotFound)
}

func TestCodeRepo_TransitionStatusIsTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewCodeRepository(db)
	ctx := context.Background()

	code := &model.ConfirmationCode{
		Code:        "123456",
		RequesterID: uuid.New(),
		MachineID:   uuid.New(),
		Kind:        model.OpKindCheckout,
		Status:      model.CodePending,
	}
	require.NoError(t, repo.Create(ctx, code))

	require.NoError(t, repo.TransitionStatus(ctx, code.ID, model.CodeConfirmed))

	// Terminal states never transition again.
	err := repo.TransitionStatus(ctx, code.ID, model.CodeExpired)
	assert.ErrorIs(t, err, ErrStaleWrite)

	stored, err := repo.GetByID(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CodeConfirmed, stored.Status)
}
