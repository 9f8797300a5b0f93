package service

import (
	"context"
	"fmt"
	"time"

	"machinehub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

// PendingWorkflow summarizes the one active workflow on a machine, whichever
// engine produced it.
type PendingWorkflow struct {
	Kind        string       `json:"kind"` // "code" or "request"
	ID          string       `json:"id"`
	Operation   string       `json:"operation"` // checkout, return, transfer
	Status      string       `json:"status"`
	Requester   UserSummary  `json:"requester"`
	PriorHolder *UserSummary `json:"prior_holder,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"` // codes only
}

type DashboardMachine struct {
	MachineResponse
	Pending *PendingWorkflow `json:"pending,omitempty"`
}

type DashboardResponse struct {
	MachinesByCategory map[string][]DashboardMachine `json:"machines_by_category"`
	AvailableCount     int64                         `json:"available_count"`
}

const uncategorized = "Uncategorized"

// --- Interface ---

// DashboardService is the read-side projection for the polling dashboard:
// machines grouped by category, each annotated with at most one pending
// workflow, plus the fleet-wide available count. Recomputed per query; nothing
// is cached.
type DashboardService interface {
	ListDashboard(ctx context.Context, filterText string) (*DashboardResponse, error)
}

type dashboardService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDashboardService(db *gorm.DB) DashboardService {
	return &dashboardService{db: db, now: time.Now}
}

// --- Implementation ---

func (s *dashboardService) ListDashboard(ctx context.Context, filterText string) (*DashboardResponse, error) {
	var machines []model.Machine
	query := s.db.WithContext(ctx).Preload("Holder")
	if filterText != "" {
		pattern := "%" + filterText + "%"
		query = query.Where("name LIKE ? OR model_label LIKE ? OR asset_tag LIKE ?", pattern, pattern, pattern)
	}
	if err := query.Order("category, name").Find(&machines).Error; err != nil {
		return nil, fmt.Errorf("failed to load machines: %w", err)
	}

	pendingRequests, err := s.pendingRequestsByMachine(ctx)
	if err != nil {
		return nil, err
	}
	pendingCodes, err := s.pendingCodesByMachine(ctx)
	if err != nil {
		return nil, err
	}

	byCategory := make(map[string][]DashboardMachine)
	for _, m := range machines {
		category := m.Category
		if category == "" {
			category = uncategorized
		}

		dm := DashboardMachine{MachineResponse: toMachineResponse(m)}
		if req, ok := pendingRequests[m.ID]; ok {
			dm.Pending = req
		} else if code, ok := pendingCodes[m.ID]; ok {
			dm.Pending = code
		}

		byCategory[category] = append(byCategory[category], dm)
	}

	var available int64
	if err := s.db.WithContext(ctx).Model(&model.Machine{}).
		Where("status = ?", model.MachineAvailable).Count(&available).Error; err != nil {
		return nil, fmt.Errorf("failed to count available machines: %w", err)
	}

	return &DashboardResponse{
		MachinesByCategory: byCategory,
		AvailableCount:     available,
	}, nil
}

func (s *dashboardService) pendingRequestsByMachine(ctx context.Context) (map[uuid.UUID]*PendingWorkflow, error) {
	var requests []model.LoanRequest
	err := s.db.WithContext(ctx).
		Preload("Requester").Preload("PriorHolder").
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending requests: %w", err)
	}

	out := make(map[uuid.UUID]*PendingWorkflow, len(requests))
	for i := range requests {
		r := requests[i]
		pw := &PendingWorkflow{
			Kind:      "request",
			ID:        r.ID.String(),
			Operation: r.Kind,
			Status:    r.Status,
		}
		if r.Requester != nil {
			pw.Requester = UserSummary{ID: r.Requester.ID.String(), Name: r.Requester.DisplayName(), PhotoURL: r.Requester.PhotoURL}
		}
		if r.PriorHolder != nil {
			pw.PriorHolder = &UserSummary{ID: r.PriorHolder.ID.String(), Name: r.PriorHolder.DisplayName()}
		}
		out[r.MachineID] = pw
	}
	return out, nil
}

func (s *dashboardService) pendingCodesByMachine(ctx context.Context) (map[uuid.UUID]*PendingWorkflow, error) {
	var codes []model.ConfirmationCode
	err := s.db.WithContext(ctx).
		Preload("Requester").
		Where("status = ? AND expires_at > ?", model.CodePending, s.now()).
		Find(&codes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending codes: %w", err)
	}

	out := make(map[uuid.UUID]*PendingWorkflow, len(codes))
	for i := range codes {
		c := codes[i]
		expires := c.ExpiresAt
		pw := &PendingWorkflow{
			Kind:      "code",
			ID:        c.ID.String(),
			Operation: c.Kind,
			Status:    c.Status,
			ExpiresAt: &expires,
		}
		if c.Requester != nil {
			pw.Requester = UserSummary{ID: c.Requester.ID.String(), Name: c.Requester.DisplayName(), PhotoURL: c.Requester.PhotoURL}
		}
		out[c.MachineID] = pw
	}
	return out, nil
}
