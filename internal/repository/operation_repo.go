package repository

import (
	"context"
	"time"

	"machinehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OperationFilter narrows ledger listings; zero values mean "no filter".
type OperationFilter struct {
	MachineID uuid.UUID
	UserID    uuid.UUID
	Kind      string
}

// OperationRepository is append-only from the engines' perspective; listing,
// export and retention purge are reporting/maintenance concerns.
type OperationRepository interface {
	Append(ctx context.Context, op *model.Operation) error
	List(ctx context.Context, filter OperationFilter, page, limit int) ([]model.Operation, int64, error)
	ListAll(ctx context.Context, filter OperationFilter) ([]model.Operation, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type operationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) Append(ctx context.Context, op *model.Operation) error {
	return GetDB(ctx, r.db).Create(op).Error
}

func applyOperationFilter(db *gorm.DB, filter OperationFilter) *gorm.DB {
	if filter.MachineID != uuid.Nil {
		db = db.Where("machine_id = ?", filter.MachineID)
	}
	if filter.UserID != uuid.Nil {
		db = db.Where("primary_user_id = ? OR confirmer_id = ?", filter.UserID, filter.UserID)
	}
	if filter.Kind != "" {
		db = db.Where("kind = ?", filter.Kind)
	}
	return db
}

func (r *operationRepository) List(ctx context.Context, filter OperationFilter, page, limit int) ([]model.Operation, int64, error) {
	var ops []model.Operation
	var total int64

	db := GetDB(ctx, r.db)
	if err := applyOperationFilter(db.Model(&model.Operation{}), filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := applyOperationFilter(db, filter).
		Preload("Machine").Preload("PrimaryUser").Preload("Confirmer")
	if err := fetch.Order("created_at desc").Offset(offset).Limit(limit).Find(&ops).Error; err != nil {
		return nil, 0, err
	}

	return ops, total, nil
}

func (r *operationRepository) ListAll(ctx context.Context, filter OperationFilter) ([]model.Operation, error) {
	var ops []model.Operation
	fetch := applyOperationFilter(GetDB(ctx, r.db), filter).
		Preload("Machine").Preload("PrimaryUser").Preload("Confirmer")
	if err := fetch.Order("created_at desc").Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *operationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := GetDB(ctx, r.db).Where("created_at < ?", cutoff).Delete(&model.Operation{})
	return res.RowsAffected, res.Error
}
