package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Operation is one row of the append-only possession ledger. Exactly one row is
// written per completed transfer, in the same transaction as the machine
// mutation that caused it. Rows are never updated; the retention job may purge
// entries older than a fixed horizon.
type Operation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MachineID     uuid.UUID `gorm:"type:uuid;not null;index" json:"machine_id"`
	Machine       *Machine  `gorm:"foreignKey:MachineID" json:"machine,omitempty"`
	PrimaryUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"primary_user_id"` // who gains/loses possession
	PrimaryUser   *User     `gorm:"foreignKey:PrimaryUserID" json:"primary_user,omitempty"`
	ConfirmerID   uuid.UUID `gorm:"type:uuid;not null" json:"confirmer_id"` // second person or adjudicating admin
	Confirmer     *User     `gorm:"foreignKey:ConfirmerID" json:"confirmer,omitempty"`
	Kind          string    `gorm:"type:varchar(20);not null;index" json:"kind"` // checkout, return, transfer
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (o *Operation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
