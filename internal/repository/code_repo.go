package repository

import (
	"context"
	"time"

	"machinehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CodeRepository persists confirmation codes. Terminal transitions are
// conditional on the row still being pending, so two concurrent redeems of the
// same code cannot both observe success.
type CodeRepository interface {
	Create(ctx context.Context, code *model.ConfirmationCode) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ConfirmationCode, error)
	// FindByValue looks up a code row by its 6-digit value for a machine and
	// operation kind, newest first.
	FindByValue(ctx context.Context, value string, machineID uuid.UUID, kind string) (*model.ConfirmationCode, error)
	// PendingCodeValueExists reports whether value collides with any code that
	// is still pending and unexpired. Used by generation-collision retry.
	PendingCodeValueExists(ctx context.Context, value string, now time.Time) (bool, error)
	// FindPendingByMachineAndKind returns the live pending code for the pair,
	// expired ones included (callers decide whether to flip them).
	FindPendingByMachineAndKind(ctx context.Context, machineID uuid.UUID, kind string) (*model.ConfirmationCode, error)
	// TransitionStatus moves a code from pending to a terminal status. Returns
	// ErrStaleWrite if the row is no longer pending.
	TransitionStatus(ctx context.Context, id uuid.UUID, toStatus string) error
	PendingExistsForMachine(ctx context.Context, machineID uuid.UUID, now time.Time) (bool, error)
	// ExpireOverdue materializes expiry for the machine's overdue pending codes,
	// freeing the pending-per-machine unique index slot before a new insert.
	ExpireOverdue(ctx context.Context, machineID uuid.UUID, now time.Time) error
}

type codeRepository struct {
	db *gorm.DB
}

func NewCodeRepository(db *gorm.DB) CodeRepository {
	return &codeRepository{db: db}
}

func (r *codeRepository) Create(ctx context.Context, code *model.ConfirmationCode) error {
	return GetDB(ctx, r.db).Create(code).Error
}

func (r *codeRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ConfirmationCode, error) {
	var code model.ConfirmationCode
	if err := GetDB(ctx, r.db).First(&code, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *codeRepository) FindByValue(ctx context.Context, value string, machineID uuid.UUID, kind string) (*model.ConfirmationCode, error) {
	var code model.ConfirmationCode
	err := GetDB(ctx, r.db).
		Where("code = ? AND machine_id = ? AND kind = ?", value, machineID, kind).
		Order("created_at desc").
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *codeRepository) PendingCodeValueExists(ctx context.Context, value string, now time.Time) (bool, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&model.ConfirmationCode{}).
		Where("code = ? AND status = ? AND expires_at > ?", value, model.CodePending, now).
		Count(&total).Error
	return total > 0, err
}

func (r *codeRepository) FindPendingByMachineAndKind(ctx context.Context, machineID uuid.UUID, kind string) (*model.ConfirmationCode, error) {
	var code model.ConfirmationCode
	err := GetDB(ctx, r.db).
		Where("machine_id = ? AND kind = ? AND status = ?", machineID, kind, model.CodePending).
		Order("created_at desc").
		First(&code).Error
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *codeRepository) TransitionStatus(ctx context.Context, id uuid.UUID, toStatus string) error {
	res := GetDB(ctx, r.db).Model(&model.ConfirmationCode{}).
		Where("id = ? AND status = ?", id, model.CodePending).
		Update("status", toStatus)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *codeRepository) PendingExistsForMachine(ctx context.Context, machineID uuid.UUID, now time.Time) (bool, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&model.ConfirmationCode{}).
		Where("machine_id = ? AND status = ? AND expires_at > ?", machineID, model.CodePending, now).
		Count(&total).Error
	return total > 0, err
}

func (r *codeRepository) ExpireOverdue(ctx context.Context, machineID uuid.UUID, now time.Time) error {
	return GetDB(ctx, r.db).Model(&model.ConfirmationCode{}).
		Where("machine_id = ? AND status = ? AND expires_at <= ?", machineID, model.CodePending, now).
		Update("status", model.CodeExpired).Error
}
