package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Operation kind enum constants shared by codes, requests and ledger entries
const (
	OpKindCheckout = "checkout"
	OpKindReturn   = "return"
	OpKindTransfer = "transfer"
)

// ConfirmationCode status enum constants
const (
	CodePending   = "pending"
	CodeConfirmed = "confirmed"
	CodeExpired   = "expired"
)

// ConfirmationCode is a short-lived 6-digit secret a requester shows to a
// second person, who must enter it before the machine's possession changes.
// Confirmed and expired are terminal; rows are never updated past either.
//
// The partial unique index on MachineID mirrors the one on loan requests: it
// enforces "at most one pending code per machine" at the storage level.
// Overdue pending rows must be expired before a new code is inserted, or the
// index would count them against the cap.
type ConfirmationCode struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Code        string    `gorm:"type:varchar(6);not null;index" json:"code"`
	RequesterID uuid.UUID `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester   *User     `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	MachineID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:udx_codes_pending_machine,where:status = 'pending'" json:"machine_id"`
	Machine     *Machine  `gorm:"foreignKey:MachineID" json:"machine,omitempty"`
	Kind        string    `gorm:"type:varchar(20);not null" json:"kind"`                              // checkout, return
	Status      string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"` // pending, confirmed, expired
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt   time.Time `gorm:"not null" json:"expires_at"`
}

func (c *ConfirmationCode) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ExpiredNow reports whether the code's validity window has passed. Expiry is
// materialized lazily: the status flip happens on the next redeem or poll.
func (c *ConfirmationCode) ExpiredNow(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
