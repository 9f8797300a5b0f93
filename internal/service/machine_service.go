package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"machinehub/internal/model"
	"machinehub/internal/repository"
	ws "machinehub/internal/websocket"
	"machinehub/pkg/apperror"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// --- DTOs ---

type CreateMachineRequest struct {
	Name          string `json:"name" binding:"required"`
	ModelLabel    string `json:"model_label" binding:"required"`
	Category      string `json:"category"`
	MachineType   string `json:"machine_type" binding:"omitempty,oneof=production development"`
	AssetTag      string `json:"asset_tag"`
	SerialNumber  string `json:"serial_number"`
	BindingNumber string `json:"binding_number"`
	PhotoURL      string `json:"photo_url"`
}

type UpdateMachineRequest struct {
	Name          string `json:"name"`
	ModelLabel    string `json:"model_label"`
	Category      string `json:"category"`
	MachineType   string `json:"machine_type" binding:"omitempty,oneof=production development"`
	AssetTag      string `json:"asset_tag"`
	SerialNumber  string `json:"serial_number"`
	BindingNumber string `json:"binding_number"`
	PhotoURL      string `json:"photo_url"`
}

type MachineResponse struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ModelLabel    string       `json:"model_label"`
	Category      string       `json:"category"`
	MachineType   string       `json:"machine_type"`
	Status        string       `json:"status"`
	Holder        *UserSummary `json:"holder,omitempty"`
	AssetTag      string       `json:"asset_tag"`
	SerialNumber  string       `json:"serial_number"`
	BindingNumber string       `json:"binding_number"`
	PhotoURL      string       `json:"photo_url"`
	CreatedAt     string       `json:"created_at"`
}

// UserSummary is the public projection of a user embedded in machine payloads.
type UserSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// --- Interface ---

// MachineService covers administrative CRUD over the registry. Possession
// columns are out of its reach: they belong to the code and request engines.
type MachineService interface {
	Create(ctx context.Context, actor model.Actor, req CreateMachineRequest) (*MachineResponse, error)
	GetByID(ctx context.Context, id uuid.UUID) (*MachineResponse, error)
	List(ctx context.Context, search string, page, limit int) ([]MachineResponse, int64, error)
	Update(ctx context.Context, actor model.Actor, id uuid.UUID, req UpdateMachineRequest) (*MachineResponse, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type machineService struct {
	machineRepo repository.MachineRepository
	codeRepo    repository.CodeRepository
	requestRepo repository.RequestRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	hub         *ws.Hub
	now         func() time.Time
}

func NewMachineService(
	machineRepo repository.MachineRepository,
	codeRepo repository.CodeRepository,
	requestRepo repository.RequestRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) MachineService {
	return &machineService{
		machineRepo: machineRepo,
		codeRepo:    codeRepo,
		requestRepo: requestRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		hub:         hub,
		now:         time.Now,
	}
}

// --- Implementation ---

func (s *machineService) Create(ctx context.Context, actor model.Actor, req CreateMachineRequest) (*MachineResponse, error) {
	if !actor.IsAdmin {
		return nil, apperror.Forbidden("only administrators may manage machines")
	}

	machineType := req.MachineType
	if machineType == "" {
		machineType = model.MachineTypeProduction
	}

	machine := model.Machine{
		Name:          req.Name,
		ModelLabel:    req.ModelLabel,
		Category:      req.Category,
		MachineType:   machineType,
		Status:        model.MachineAvailable,
		AssetTag:      req.AssetTag,
		SerialNumber:  req.SerialNumber,
		BindingNumber: req.BindingNumber,
		PhotoURL:      req.PhotoURL,
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.machineRepo.Create(txCtx, &machine); createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("a machine named %q already exists", req.Name)
			}
			return fmt.Errorf("failed to create machine: %w", createErr)
		}

		details, _ := json.Marshal(map[string]interface{}{"model": req.ModelLabel, "category": req.Category})
		audit := model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionCreateMachine,
			EntityID:   machine.ID.String(),
			EntityName: machine.Name,
			Details:    string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		return nil, err
	}

	resp := toMachineResponse(machine)
	return &resp, nil
}

func (s *machineService) GetByID(ctx context.Context, id uuid.UUID) (*MachineResponse, error) {
	machine, err := s.machineRepo.GetByIDWithHolder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("machine not found")
		}
		return nil, fmt.Errorf("failed to load machine: %w", err)
	}
	resp := toMachineResponse(*machine)
	return &resp, nil
}

func (s *machineService) List(ctx context.Context, search string, page, limit int) ([]MachineResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	machines, total, err := s.machineRepo.List(ctx, search, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list machines: %w", err)
	}

	res := make([]MachineResponse, 0, len(machines))
	for _, m := range machines {
		res = append(res, toMachineResponse(m))
	}
	return res, total, nil
}

func (s *machineService) Update(ctx context.Context, actor model.Actor, id uuid.UUID, req UpdateMachineRequest) (*MachineResponse, error) {
	if !actor.IsAdmin {
		return nil, apperror.Forbidden("only administrators may manage machines")
	}

	machine, err := s.machineRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("machine not found")
		}
		return nil, fmt.Errorf("failed to load machine: %w", err)
	}

	if req.Name != "" {
		machine.Name = req.Name
	}
	if req.ModelLabel != "" {
		machine.ModelLabel = req.ModelLabel
	}
	if req.Category != "" {
		machine.Category = req.Category
	}
	if req.MachineType != "" {
		machine.MachineType = req.MachineType
	}
	if req.AssetTag != "" {
		machine.AssetTag = req.AssetTag
	}
	if req.SerialNumber != "" {
		machine.SerialNumber = req.SerialNumber
	}
	if req.BindingNumber != "" {
		machine.BindingNumber = req.BindingNumber
	}
	if req.PhotoURL != "" {
		machine.PhotoURL = req.PhotoURL
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if upErr := s.machineRepo.UpdateDescriptive(txCtx, machine); upErr != nil {
			if errors.Is(upErr, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("a machine named %q already exists", machine.Name)
			}
			return fmt.Errorf("failed to update machine: %w", upErr)
		}

		audit := model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionUpdateMachine,
			EntityID:   machine.ID.String(),
			EntityName: machine.Name,
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ws.FleetEvent{Event: ws.EventMachineUpdated, MachineID: machine.ID.String(), Status: machine.Status})
	return s.GetByID(ctx, id)
}

func (s *machineService) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	if !actor.IsAdmin {
		return apperror.Forbidden("only administrators may manage machines")
	}

	machine, err := s.machineRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("machine not found")
		}
		return fmt.Errorf("failed to load machine: %w", err)
	}

	// A machine is never deleted out from under a pending workflow.
	if pending, err := s.requestRepo.ExistsPendingForMachine(ctx, id); err != nil {
		return fmt.Errorf("failed to check pending requests: %w", err)
	} else if pending {
		return apperror.Conflict("machine %q has a pending request", machine.Name)
	}
	if pending, err := s.codeRepo.PendingExistsForMachine(ctx, id, s.now()); err != nil {
		return fmt.Errorf("failed to check pending codes: %w", err)
	} else if pending {
		return apperror.Conflict("machine %q has a pending confirmation code", machine.Name)
	}

	return s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.machineRepo.Delete(txCtx, id); delErr != nil {
			return fmt.Errorf("failed to delete machine: %w", delErr)
		}

		audit := model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionDeleteMachine,
			EntityID:   id.String(),
			EntityName: machine.Name,
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
}

// --- Helpers ---

func toMachineResponse(m model.Machine) MachineResponse {
	resp := MachineResponse{
		ID:            m.ID.String(),
		Name:          m.Name,
		ModelLabel:    m.ModelLabel,
		Category:      m.Category,
		MachineType:   m.MachineType,
		Status:        m.Status,
		AssetTag:      m.AssetTag,
		SerialNumber:  m.SerialNumber,
		BindingNumber: m.BindingNumber,
		PhotoURL:      m.PhotoURL,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
	}
	if m.Holder != nil {
		resp.Holder = &UserSummary{
			ID:       m.Holder.ID.String(),
			Name:     m.Holder.DisplayName(),
			PhotoURL: m.Holder.PhotoURL,
		}
	}
	return resp
}
