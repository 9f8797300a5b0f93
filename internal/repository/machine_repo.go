package repository

import (
	"context"

	"machinehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MachineRepository owns the authoritative possession state of each machine.
// SetPossession is the single write path for status/holder; every engine goes
// through it so the status/holder invariant cannot be bypassed.
type MachineRepository interface {
	Create(ctx context.Context, m *model.Machine) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Machine, error)
	GetByIDWithHolder(ctx context.Context, id uuid.UUID) (*model.Machine, error)
	List(ctx context.Context, search string, page, limit int) ([]model.Machine, int64, error)
	ListAllWithHolders(ctx context.Context, search string) ([]model.Machine, error)
	UpdateDescriptive(ctx context.Context, m *model.Machine) error
	Delete(ctx context.Context, id uuid.UUID) error
	// SetPossession atomically writes status+holder, conditioned on the version
	// the caller read. Returns ErrStaleWrite when a concurrent writer got there
	// first.
	SetPossession(ctx context.Context, id uuid.UUID, version int64, status string, holderID *uuid.UUID) error
	// Reserve takes the machine's row write-lock for the rest of the calling
	// transaction by bumping its version. Pending-workflow creation serializes
	// on this write, so checks made after it see committed state.
	Reserve(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context, status string) (int64, error)
}

type machineRepository struct {
	db *gorm.DB
}

func NewMachineRepository(db *gorm.DB) MachineRepository {
	return &machineRepository{db: db}
}

func (r *machineRepository) Create(ctx context.Context, m *model.Machine) error {
	return GetDB(ctx, r.db).Create(m).Error
}

func (r *machineRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Machine, error) {
	var m model.Machine
	if err := GetDB(ctx, r.db).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *machineRepository) GetByIDWithHolder(ctx context.Context, id uuid.UUID) (*model.Machine, error) {
	var m model.Machine
	if err := GetDB(ctx, r.db).Preload("Holder").First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *machineRepository) List(ctx context.Context, search string, page, limit int) ([]model.Machine, int64, error) {
	var machines []model.Machine
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Machine{})
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("name LIKE ? OR model_label LIKE ? OR asset_tag LIKE ?", pattern, pattern, pattern)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Preload("Holder")
	if search != "" {
		pattern := "%" + search + "%"
		fetch = fetch.Where("name LIKE ? OR model_label LIKE ? OR asset_tag LIKE ?", pattern, pattern, pattern)
	}
	if err := fetch.Order("name").Offset(offset).Limit(limit).Find(&machines).Error; err != nil {
		return nil, 0, err
	}

	return machines, total, nil
}

func (r *machineRepository) ListAllWithHolders(ctx context.Context, search string) ([]model.Machine, error) {
	var machines []model.Machine
	query := GetDB(ctx, r.db).Preload("Holder")
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("name LIKE ? OR model_label LIKE ? OR asset_tag LIKE ?", pattern, pattern, pattern)
	}
	if err := query.Order("category, name").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

// UpdateDescriptive persists admin-editable fields only; possession columns are
// deliberately excluded from the update list.
func (r *machineRepository) UpdateDescriptive(ctx context.Context, m *model.Machine) error {
	return GetDB(ctx, r.db).Model(&model.Machine{}).
		Where("id = ?", m.ID).
		Select("name", "model_label", "category", "machine_type", "asset_tag", "serial_number", "binding_number", "photo_url").
		Updates(m).Error
}

func (r *machineRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Machine{}).Error
}

func (r *machineRepository) SetPossession(ctx context.Context, id uuid.UUID, version int64, status string, holderID *uuid.UUID) error {
	res := GetDB(ctx, r.db).Model(&model.Machine{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"status":    status,
			"holder_id": holderID,
			"version":   version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}

func (r *machineRepository) Reserve(ctx context.Context, id uuid.UUID) error {
	res := GetDB(ctx, r.db).Model(&model.Machine{}).
		Where("id = ?", id).
		Update("version", gorm.Expr("version + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *machineRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var total int64
	err := GetDB(ctx, r.db).Model(&model.Machine{}).Where("status = ?", status).Count(&total).Error
	return total, err
}
