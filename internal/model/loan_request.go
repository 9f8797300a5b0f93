package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoanRequest status enum constants. Approval, denial and cancellation delete
// the row, so only the two pending states are ever persisted.
const (
	RequestPendingPeerConfirmation = "pending_peer_confirmation"
	RequestPendingAdminApproval    = "pending_admin_approval"
)

// LoanRequest records a user's intent to change a machine's possession,
// awaiting peer confirmation (transfers) and admin adjudication.
//
// The unique indexes on MachineID and RequesterID are load-bearing: because
// adjudicated rows are deleted, they enforce "at most one pending request per
// machine" and "at most one pending request per user" at the storage level.
type LoanRequest struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MachineID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"machine_id"`
	Machine       *Machine   `gorm:"foreignKey:MachineID" json:"machine,omitempty"`
	RequesterID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"requester_id"`
	Requester     *User      `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	PriorHolderID *uuid.UUID `gorm:"type:uuid" json:"prior_holder_id"` // set for return and transfer
	PriorHolder   *User      `gorm:"foreignKey:PriorHolderID" json:"prior_holder,omitempty"`
	Kind          string     `gorm:"type:varchar(20);not null" json:"kind"`          // checkout, return, transfer
	Status        string     `gorm:"type:varchar(30);not null;index" json:"status"` // pending_peer_confirmation, pending_admin_approval
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

func (r *LoanRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
