package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActionCreateMachine = "CREATE_MACHINE"
	ActionUpdateMachine = "UPDATE_MACHINE"
	ActionDeleteMachine = "DELETE_MACHINE"

	// Confirmation-code workflow actions
	ActionIssueCode  = "ISSUE_CODE"
	ActionRedeemCode = "REDEEM_CODE"

	// Request/approval workflow actions
	ActionCreateRequest  = "CREATE_REQUEST"
	ActionConfirmRequest = "CONFIRM_REQUEST"
	ActionCancelRequest  = "CANCEL_REQUEST"
	ActionApproveRequest = "APPROVE_REQUEST"
	ActionDenyRequest    = "DENY_REQUEST"

	ActionPurgeOperations = "PURGE_OPERATIONS"
)

// AuditLog tracks Who, What, and When for critical system changes.
// Adjudicated requests are deleted from loan_requests, so these rows are the
// only durable record of denials and cancellations.
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable gracefully if automated job
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Reference string (uuid/code)
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable name
	Details    string     `gorm:"type:text" json:"details"`                       // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
