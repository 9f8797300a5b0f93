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

// Adjudication decisions
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// --- DTOs ---

type CreateRequestRequest struct {
	Kind string `json:"kind" binding:"required,oneof=checkout return transfer"`
}

type RequestResponse struct {
	ID            string  `json:"id"`
	MachineID     string  `json:"machine_id"`
	MachineName   string  `json:"machine_name,omitempty"`
	RequesterID   string  `json:"requester_id"`
	RequesterName string  `json:"requester_name,omitempty"`
	PriorHolderID *string `json:"prior_holder_id,omitempty"`
	PriorHolder   string  `json:"prior_holder_name,omitempty"`
	Kind          string  `json:"kind"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
}

// --- Interface ---

// RequestService is the request/approval engine. Checkout and return requests
// go straight to admin adjudication; transfers first need the outgoing
// holder's consent, because a transfer reassigns possession away from a third
// party. Approval applies the machine mutation and the ledger append in one
// transaction; denial and cancellation remove the request with no side effect.
type RequestService interface {
	Create(ctx context.Context, actor model.Actor, machineID uuid.UUID, kind string) (*RequestResponse, error)
	ConfirmByPeer(ctx context.Context, actor model.Actor, requestID uuid.UUID) (*RequestResponse, error)
	Cancel(ctx context.Context, actor model.Actor, requestID uuid.UUID) error
	Adjudicate(ctx context.Context, actor model.Actor, requestID uuid.UUID, decision string) error
	ListPending(ctx context.Context, page, limit int) ([]RequestResponse, int64, error)
}

type requestService struct {
	machineRepo repository.MachineRepository
	requestRepo repository.RequestRepository
	codeRepo    repository.CodeRepository
	opRepo      repository.OperationRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	hub         *ws.Hub
	now         func() time.Time
}

func NewRequestService(
	machineRepo repository.MachineRepository,
	requestRepo repository.RequestRepository,
	codeRepo repository.CodeRepository,
	opRepo repository.OperationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
) RequestService {
	return &requestService{
		machineRepo: machineRepo,
		requestRepo: requestRepo,
		codeRepo:    codeRepo,
		opRepo:      opRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		hub:         hub,
		now:         time.Now,
	}
}

// --- Implementation ---

func (s *requestService) Create(ctx context.Context, actor model.Actor, machineID uuid.UUID, kind string) (*RequestResponse, error) {
	// Administrators adjudicate; they never request.
	if actor.IsAdmin {
		return nil, apperror.Forbidden("administrators cannot create possession requests")
	}

	machine, err := s.machineRepo.GetByID(ctx, machineID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("machine not found")
		}
		return nil, fmt.Errorf("failed to load machine: %w", err)
	}

	req := model.LoanRequest{
		MachineID:   machineID,
		RequesterID: actor.ID,
		Kind:        kind,
		Status:      model.RequestPendingAdminApproval,
	}

	switch kind {
	case model.OpKindCheckout:
		if machine.Status != model.MachineAvailable {
			return nil, apperror.InvalidState("machine %q is not available for checkout", machine.Name)
		}
	case model.OpKindReturn:
		if machine.HolderID == nil || *machine.HolderID != actor.ID {
			return nil, apperror.Forbidden("you cannot return a machine that is not in your possession")
		}
		holder := actor.ID
		req.PriorHolderID = &holder
	case model.OpKindTransfer:
		if machine.Status != model.MachineInUse || machine.HolderID == nil {
			return nil, apperror.InvalidState("machine %q is not in use, request a checkout instead", machine.Name)
		}
		if *machine.HolderID == actor.ID {
			return nil, apperror.InvalidState("machine %q is already in your possession", machine.Name)
		}
		req.PriorHolderID = machine.HolderID
		req.Status = model.RequestPendingPeerConfirmation
	default:
		return nil, apperror.InvalidState("unsupported request kind %q", kind)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		// Serialize pending-workflow creation on the machine row, so the code
		// check below cannot race a concurrent issue.
		if resErr := s.machineRepo.Reserve(txCtx, machineID); resErr != nil {
			if errors.Is(resErr, gorm.ErrRecordNotFound) {
				return apperror.NotFound("machine not found")
			}
			return fmt.Errorf("failed to lock machine: %w", resErr)
		}

		if pending, checkErr := s.requestRepo.ExistsPendingForMachine(txCtx, machineID); checkErr != nil {
			return fmt.Errorf("failed to check pending requests: %w", checkErr)
		} else if pending {
			return apperror.Conflict("machine %q already has a pending request", machine.Name)
		}
		if pending, checkErr := s.codeRepo.PendingExistsForMachine(txCtx, machineID, s.now()); checkErr != nil {
			return fmt.Errorf("failed to check pending codes: %w", checkErr)
		} else if pending {
			return apperror.Conflict("machine %q already has a pending confirmation code", machine.Name)
		}
		if pending, checkErr := s.requestRepo.ExistsPendingForRequester(txCtx, actor.ID); checkErr != nil {
			return fmt.Errorf("failed to check requester's pending requests: %w", checkErr)
		} else if pending {
			return apperror.Conflict("you already have a pending request")
		}

		if createErr := s.requestRepo.Create(txCtx, &req); createErr != nil {
			// The unique indexes on machine_id and requester_id close the
			// check-then-act race against a concurrent create.
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("a conflicting pending request was created concurrently")
			}
			return fmt.Errorf("failed to create request: %w", createErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"machine": machine.Name,
			"kind":    kind,
			"status":  req.Status,
		})
		audit := model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionCreateRequest,
			EntityID:   req.ID.String(),
			EntityName: machine.Name,
			Details:    string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ws.FleetEvent{
		Event:     ws.EventRequestPending,
		MachineID: machineID.String(),
		Kind:      kind,
	})

	return s.loadResponse(ctx, req.ID)
}

func (s *requestService) ConfirmByPeer(ctx context.Context, actor model.Actor, requestID uuid.UUID) (*RequestResponse, error) {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("request not found")
		}
		return nil, fmt.Errorf("failed to load request: %w", err)
	}

	if req.Status != model.RequestPendingPeerConfirmation {
		return nil, apperror.InvalidState("request is not awaiting peer confirmation")
	}
	if req.PriorHolderID == nil || *req.PriorHolderID != actor.ID {
		return nil, apperror.Forbidden("only the current holder may confirm this transfer")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if advErr := s.requestRepo.AdvanceStatus(txCtx, req.ID, model.RequestPendingPeerConfirmation, model.RequestPendingAdminApproval); advErr != nil {
			return advErr
		}

		audit := model.AuditLog{
			UserID:   &actor.ID,
			Action:   model.ActionConfirmRequest,
			EntityID: req.ID.String(),
			Details:  fmt.Sprintf(`{"machine_id":%q,"kind":%q}`, req.MachineID.String(), req.Kind),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return nil, apperror.InvalidState("request is no longer awaiting peer confirmation")
		}
		return nil, err
	}

	return s.loadResponse(ctx, req.ID)
}

func (s *requestService) Cancel(ctx context.Context, actor model.Actor, requestID uuid.UUID) error {
	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("request not found")
		}
		return fmt.Errorf("failed to load request: %w", err)
	}

	if req.RequesterID != actor.ID {
		return apperror.Forbidden("only the requester may cancel this request")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if delErr := s.requestRepo.DeleteInStatus(txCtx, req.ID, req.Status); delErr != nil {
			return delErr
		}

		audit := model.AuditLog{
			UserID:   &actor.ID,
			Action:   model.ActionCancelRequest,
			EntityID: req.ID.String(),
			Details:  fmt.Sprintf(`{"machine_id":%q,"kind":%q}`, req.MachineID.String(), req.Kind),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if errors.Is(err, repository.ErrStaleWrite) {
		return apperror.NotFound("request is no longer pending")
	}
	return err
}

func (s *requestService) Adjudicate(ctx context.Context, actor model.Actor, requestID uuid.UUID, decision string) error {
	if !actor.IsAdmin {
		return apperror.Forbidden("only administrators may adjudicate requests")
	}
	if decision != DecisionApprove && decision != DecisionDeny {
		return apperror.InvalidState("unknown decision %q", decision)
	}

	req, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("request not found")
		}
		return fmt.Errorf("failed to load request: %w", err)
	}

	if req.Status != model.RequestPendingAdminApproval {
		return apperror.InvalidState("request is not awaiting admin approval")
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		// The conditional delete is the terminal transition: of two concurrent
		// adjudications only one removes the pending row, the other sees a
		// stale write and no side effects are applied twice.
		if delErr := s.requestRepo.DeleteInStatus(txCtx, req.ID, model.RequestPendingAdminApproval); delErr != nil {
			return delErr
		}

		action := model.ActionDenyRequest
		if decision == DecisionApprove {
			action = model.ActionApproveRequest
			if applyErr := s.applyApproval(txCtx, req, actor); applyErr != nil {
				return applyErr
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"machine_id": req.MachineID.String(),
			"requester":  req.RequesterID.String(),
			"kind":       req.Kind,
		})
		audit := model.AuditLog{
			UserID:   &actor.ID,
			Action:   action,
			EntityID: req.ID.String(),
			Details:  string(details),
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return apperror.InvalidState("request was already adjudicated")
		}
		return err
	}

	if decision == DecisionApprove {
		s.hub.BroadcastEvent(ws.FleetEvent{
			Event:     ws.EventMachineUpdated,
			MachineID: req.MachineID.String(),
			Kind:      req.Kind,
		})
	}
	return nil
}

// applyApproval performs the possession mutation and the ledger append for an
// approved request, inside the adjudication transaction.
func (s *requestService) applyApproval(txCtx context.Context, req *model.LoanRequest, admin model.Actor) error {
	machine, err := s.machineRepo.GetByID(txCtx, req.MachineID)
	if err != nil {
		return fmt.Errorf("failed to load machine: %w", err)
	}

	switch req.Kind {
	case model.OpKindCheckout:
		if machine.Status != model.MachineAvailable {
			return apperror.InvalidState("machine %q is no longer available", machine.Name)
		}
		requester := req.RequesterID
		if err := s.machineRepo.SetPossession(txCtx, machine.ID, machine.Version, model.MachineInUse, &requester); err != nil {
			return err
		}
	case model.OpKindReturn:
		if machine.HolderID == nil || *machine.HolderID != req.RequesterID {
			return apperror.InvalidState("machine %q is not held by the requester", machine.Name)
		}
		if err := s.machineRepo.SetPossession(txCtx, machine.ID, machine.Version, model.MachineAvailable, nil); err != nil {
			return err
		}
	case model.OpKindTransfer:
		if machine.Status != model.MachineInUse {
			return apperror.InvalidState("machine %q is no longer in use", machine.Name)
		}
		requester := req.RequesterID
		if err := s.machineRepo.SetPossession(txCtx, machine.ID, machine.Version, model.MachineInUse, &requester); err != nil {
			return err
		}
	default:
		return apperror.InvalidState("unsupported request kind %q", req.Kind)
	}

	op := model.Operation{
		MachineID:     machine.ID,
		PrimaryUserID: req.RequesterID,
		ConfirmerID:   admin.ID,
		Kind:          req.Kind,
	}
	if err := s.opRepo.Append(txCtx, &op); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// ListPending trusts its pagination params; the handler validates them.
func (s *requestService) ListPending(ctx context.Context, page, limit int) ([]RequestResponse, int64, error) {
	requests, total, err := s.requestRepo.ListPending(ctx, page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	res := make([]RequestResponse, 0, len(requests))
	for _, r := range requests {
		res = append(res, toRequestResponse(r))
	}
	return res, total, nil
}

// --- Helpers ---

func (s *requestService) loadResponse(ctx context.Context, id uuid.UUID) (*RequestResponse, error) {
	req, err := s.requestRepo.GetByIDWithRelations(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload request: %w", err)
	}
	resp := toRequestResponse(*req)
	return &resp, nil
}

func toRequestResponse(r model.LoanRequest) RequestResponse {
	resp := RequestResponse{
		ID:          r.ID.String(),
		MachineID:   r.MachineID.String(),
		RequesterID: r.RequesterID.String(),
		Kind:        r.Kind,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.Format(time.RFC3339),
	}
	if r.Machine != nil {
		resp.MachineName = r.Machine.Name
	}
	if r.Requester != nil {
		resp.RequesterName = r.Requester.DisplayName()
	}
	if r.PriorHolderID != nil {
		id := r.PriorHolderID.String()
		resp.PriorHolderID = &id
	}
	if r.PriorHolder != nil {
		resp.PriorHolder = r.PriorHolder.DisplayName()
	}
	return resp
}
