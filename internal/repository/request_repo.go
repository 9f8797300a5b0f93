package repository

import (
	"context"

	"machinehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestRepository persists pending loan requests. Adjudicated rows are
// deleted, and both deletes and status advances are conditional on the expected
// prior status, so replays lose cleanly.
type RequestRepository interface {
	Create(ctx context.Context, req *model.LoanRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.LoanRequest, error)
	GetByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.LoanRequest, error)
	FindPendingByMachine(ctx context.Context, machineID uuid.UUID) (*model.LoanRequest, error)
	ExistsPendingForRequester(ctx context.Context, requesterID uuid.UUID) (bool, error)
	ExistsPendingForMachine(ctx context.Context, machineID uuid.UUID) (bool, error)
	// AdvanceStatus moves a request between pending states; ErrStaleWrite when
	// the row is no longer in fromStatus.
	AdvanceStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) error
	// DeleteInStatus removes a request conditioned on its current status;
	// ErrStaleWrite when another caller already removed or advanced it.
	DeleteInStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context, page, limit int) ([]model.LoanRequest, int64, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.LoanRequest) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.LoanRequest, error) {
	var req model.LoanRequest
	if err := GetDB(ctx, r.db).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetByIDWithRelations(ctx context.Context, id uuid.UUID) (*model.LoanRequest, error) {
	var req model.LoanRequest
	err := GetDB(ctx, r.db).
		Preload("Requester").Preload("PriorHolder").Preload("Machine").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) FindPendingByMachine(ctx context.Context, machineID uuid.UUID) (*model.LoanRequest, error) {
	var req model.LoanRequest
	err := GetDB(ctx, r.db).
		Preload("Requester").Preload("PriorHolder").
		First(&req, "machine_id = ?", machineID).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) ExistsPendingForRequester(ctx context.Context, requesterID uuid.UUID) (bool, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&model.LoanRequest{}).
		Where("requester_id = ?", requesterID).Count(&total).Error
	return total > 0, err
}

func (r *requestRepository) ExistsPendingForMachine(ctx context.Context, machineID uuid.UUID) (bool, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&model.LoanRequest{}).
		Where("machine_id = ?", machineID).Count(&total).Error
	return total > 0, err
}

func (r *requestRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, fromStatus, toStatus string) error {
	res := GetDB(ctx, r.db).Model(&model.LoanRequest{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *requestRepository) DeleteInStatus(ctx context.Context, id uuid.UUID, status string) error {
	res := GetDB(ctx, r.db).
		Where("id = ? AND status = ?", id, status).
		Delete(&model.LoanRequest{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *requestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.LoanRequest{}).Error
}

func (r *requestRepository) ListPending(ctx context.Context, page, limit int) ([]model.LoanRequest, int64, error) {
	var requests []model.LoanRequest
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.LoanRequest{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	err := db.Preload("Requester").Preload("PriorHolder").Preload("Machine").
		Order("created_at desc").Offset(offset).Limit(limit).Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}
