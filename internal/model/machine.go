package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Machine status enum constants
const (
	MachineAvailable = "available"
	MachineInUse     = "in_use"
)

// Machine type enum constants
const (
	MachineTypeProduction  = "production"
	MachineTypeDevelopment = "development"
)

// Machine represents a physical payment terminal tracked by the system.
// Possession fields (Status, HolderID, Version) are mutated exclusively by the
// code and request engines; admin CRUD touches only the descriptive fields.
type Machine struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	ModelLabel    string    `gorm:"type:varchar(100);not null" json:"model_label"`
	Category      string    `gorm:"type:varchar(100);index" json:"category"`
	MachineType   string    `gorm:"type:varchar(20);not null;default:'production'" json:"machine_type"` // production, development
	Status        string    `gorm:"type:varchar(20);not null;default:'available';index" json:"status"`
	HolderID      *uuid.UUID `gorm:"type:uuid;index" json:"holder_id"`
	Holder        *User      `gorm:"foreignKey:HolderID" json:"holder,omitempty"`
	AssetTag      string     `gorm:"type:varchar(100)" json:"asset_tag"`
	SerialNumber  string     `gorm:"type:varchar(100)" json:"serial_number"`
	BindingNumber string     `gorm:"type:varchar(100)" json:"binding_number"`
	PhotoURL      string     `gorm:"type:varchar(512)" json:"photo_url"`
	// Version guards possession writes: every status/holder change must be a
	// compare-and-swap on the version the writer last read.
	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Machine) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
