package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"machinehub/internal/model"
	"machinehub/internal/repository"
	ws "machinehub/internal/websocket"
	"machinehub/pkg/apperror"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// codeGenAttempts bounds the retry loop on code-value collisions.
const codeGenAttempts = 10

// --- DTOs ---

type IssueCodeResponse struct {
	CodeID    string    `json:"code_id"`
	Code      string    `json:"code"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

type RedeemCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
	Kind string `json:"kind" binding:"required,oneof=checkout return"`
}

type RedeemCodeResponse struct {
	Status string `json:"status"` // confirmed, expired
}

type CodeStatusResponse struct {
	Status    string    `json:"status"` // pending, confirmed, expired
	ExpiresAt time.Time `json:"expires_at"`
}

// --- Interface ---

// CodeService is the confirmation-code engine: a requester generates a
// short-lived 6-digit code and a second person must enter it before the
// machine's possession changes. Pending codes move to confirmed on redemption
// or to expired when touched past their deadline; both states are terminal.
type CodeService interface {
	Issue(ctx context.Context, actor model.Actor, machineID uuid.UUID, kind string) (*IssueCodeResponse, error)
	Redeem(ctx context.Context, actor model.Actor, machineID uuid.UUID, req RedeemCodeRequest) (*RedeemCodeResponse, error)
	Poll(ctx context.Context, actor model.Actor, codeID uuid.UUID) (*CodeStatusResponse, error)
}

type codeService struct {
	machineRepo repository.MachineRepository
	codeRepo    repository.CodeRepository
	requestRepo repository.RequestRepository
	opRepo      repository.OperationRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	hub         *ws.Hub
	ttl         time.Duration
	now         func() time.Time
}

func NewCodeService(
	machineRepo repository.MachineRepository,
	codeRepo repository.CodeRepository,
	requestRepo repository.RequestRepository,
	opRepo repository.OperationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	hub *ws.Hub,
	ttl time.Duration,
) CodeService {
	return &codeService{
		machineRepo: machineRepo,
		codeRepo:    codeRepo,
		requestRepo: requestRepo,
		opRepo:      opRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		hub:         hub,
		ttl:         ttl,
		now:         time.Now,
	}
}

// --- Implementation ---

func (s *codeService) Issue(ctx context.Context, actor model.Actor, machineID uuid.UUID, kind string) (*IssueCodeResponse, error) {
	if kind != model.OpKindCheckout && kind != model.OpKindReturn {
		return nil, apperror.InvalidState("unsupported code operation kind %q", kind)
	}

	machine, err := s.machineRepo.GetByID(ctx, machineID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("machine not found")
		}
		return nil, fmt.Errorf("failed to load machine: %w", err)
	}

	now := s.now()
	switch kind {
	case model.OpKindCheckout:
		if machine.Status != model.MachineAvailable {
			return nil, apperror.InvalidState("machine %q is not available for checkout", machine.Name)
		}
	case model.OpKindReturn:
		if machine.HolderID == nil || *machine.HolderID != actor.ID {
			return nil, apperror.InvalidState("machine %q is not in your possession", machine.Name)
		}
	}

	value, err := s.generateCodeValue(ctx, now)
	if err != nil {
		return nil, err
	}

	code := model.ConfirmationCode{
		Code:        value,
		RequesterID: actor.ID,
		MachineID:   machineID,
		Kind:        kind,
		Status:      model.CodePending,
		ExpiresAt:   now.Add(s.ttl),
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		// Serialize pending-workflow creation on the machine row, so the
		// checks below cannot race a concurrent issue or request create.
		if resErr := s.machineRepo.Reserve(txCtx, machineID); resErr != nil {
			if errors.Is(resErr, gorm.ErrRecordNotFound) {
				return apperror.NotFound("machine not found")
			}
			return fmt.Errorf("failed to lock machine: %w", resErr)
		}

		// Overdue pending rows would otherwise hold the unique index slot.
		if expErr := s.codeRepo.ExpireOverdue(txCtx, machineID, now); expErr != nil {
			return fmt.Errorf("failed to expire overdue codes: %w", expErr)
		}

		// One pending workflow per machine, across both engines.
		if pending, checkErr := s.codeRepo.PendingExistsForMachine(txCtx, machineID, now); checkErr != nil {
			return fmt.Errorf("failed to check pending codes: %w", checkErr)
		} else if pending {
			return apperror.Conflict("machine %q already has a pending confirmation code", machine.Name)
		}
		if pending, checkErr := s.requestRepo.ExistsPendingForMachine(txCtx, machineID); checkErr != nil {
			return fmt.Errorf("failed to check pending requests: %w", checkErr)
		} else if pending {
			return apperror.Conflict("machine %q already has a pending request", machine.Name)
		}

		if createErr := s.codeRepo.Create(txCtx, &code); createErr != nil {
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("machine %q already has a pending confirmation code", machine.Name)
			}
			return fmt.Errorf("failed to create confirmation code: %w", createErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"machine": machine.Name,
			"kind":    kind,
		})
		audit := model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionIssueCode,
			EntityID:   code.ID.String(),
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

	return &IssueCodeResponse{
		CodeID:    code.ID.String(),
		Code:      code.Code,
		Kind:      code.Kind,
		ExpiresAt: code.ExpiresAt,
	}, nil
}

func (s *codeService) Redeem(ctx context.Context, actor model.Actor, machineID uuid.UUID, req RedeemCodeRequest) (*RedeemCodeResponse, error) {
	code, err := s.codeRepo.FindByValue(ctx, req.Code, machineID, req.Kind)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("no matching confirmation code")
		}
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}

	// Two-person control: the requester can never confirm their own code.
	if code.RequesterID == actor.ID {
		return nil, apperror.Forbidden("a confirmation code cannot be redeemed by its requester")
	}

	var outcome string
	err = s.txManager.RunInTxRetry(ctx, func(txCtx context.Context) error {
		current, loadErr := s.codeRepo.GetByID(txCtx, code.ID)
		if loadErr != nil {
			return fmt.Errorf("failed to reload code: %w", loadErr)
		}

		// Terminal states are idempotent reads.
		if current.Status != model.CodePending {
			outcome = current.Status
			return nil
		}

		now := s.now()
		if current.ExpiredNow(now) {
			if flipErr := s.codeRepo.TransitionStatus(txCtx, current.ID, model.CodeExpired); flipErr != nil {
				return flipErr
			}
			outcome = model.CodeExpired
			return nil
		}

		if flipErr := s.codeRepo.TransitionStatus(txCtx, current.ID, model.CodeConfirmed); flipErr != nil {
			return flipErr
		}

		machine, loadErr := s.machineRepo.GetByID(txCtx, current.MachineID)
		if loadErr != nil {
			return fmt.Errorf("failed to load machine: %w", loadErr)
		}

		switch current.Kind {
		case model.OpKindCheckout:
			if machine.Status != model.MachineAvailable {
				return apperror.InvalidState("machine %q is no longer available", machine.Name)
			}
			requester := current.RequesterID
			if posErr := s.machineRepo.SetPossession(txCtx, machine.ID, machine.Version, model.MachineInUse, &requester); posErr != nil {
				return posErr
			}
		case model.OpKindReturn:
			if machine.HolderID == nil || *machine.HolderID != current.RequesterID {
				return apperror.InvalidState("machine %q is not held by the requester", machine.Name)
			}
			if posErr := s.machineRepo.SetPossession(txCtx, machine.ID, machine.Version, model.MachineAvailable, nil); posErr != nil {
				return posErr
			}
		}

		op := model.Operation{
			MachineID:     machine.ID,
			PrimaryUserID: current.RequesterID,
			ConfirmerID:   actor.ID,
			Kind:          current.Kind,
		}
		if opErr := s.opRepo.Append(txCtx, &op); opErr != nil {
			return fmt.Errorf("failed to append ledger entry: %w", opErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"machine":   machine.Name,
			"kind":      current.Kind,
			"requester": current.RequesterID.String(),
		})
		audit := model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionRedeemCode,
			EntityID:   current.ID.String(),
			EntityName: machine.Name,
			Details:    string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, &audit); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}

		outcome = model.CodeConfirmed
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return nil, apperror.InvalidState("code was redeemed or expired concurrently")
		}
		return nil, err
	}

	if outcome == model.CodeConfirmed {
		s.hub.BroadcastEvent(ws.FleetEvent{
			Event:     ws.EventCodeRedeemed,
			MachineID: machineID.String(),
			Kind:      req.Kind,
		})
	}

	return &RedeemCodeResponse{Status: outcome}, nil
}

func (s *codeService) Poll(ctx context.Context, actor model.Actor, codeID uuid.UUID) (*CodeStatusResponse, error) {
	code, err := s.codeRepo.GetByID(ctx, codeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("confirmation code not found")
		}
		return nil, fmt.Errorf("failed to load code: %w", err)
	}

	if code.RequesterID != actor.ID {
		return nil, apperror.Forbidden("only the requester may poll this code")
	}

	// Lazy expiry: a poll past the deadline materializes the terminal state.
	// The flip may lose to a concurrent redeem; re-reading settles the winner.
	if code.Status == model.CodePending && code.ExpiredNow(s.now()) {
		if err := s.codeRepo.TransitionStatus(ctx, code.ID, model.CodeExpired); err != nil {
			if !errors.Is(err, repository.ErrStaleWrite) {
				return nil, err
			}
			if code, err = s.codeRepo.GetByID(ctx, codeID); err != nil {
				return nil, fmt.Errorf("failed to reload code: %w", err)
			}
		} else {
			code.Status = model.CodeExpired
		}
	}

	return &CodeStatusResponse{Status: code.Status, ExpiresAt: code.ExpiresAt}, nil
}

// generateCodeValue draws uniformly random 6-digit values until one does not
// collide with a currently-valid pending code.
func (s *codeService) generateCodeValue(ctx context.Context, now time.Time) (string, error) {
	for i := 0; i < codeGenAttempts; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(1000000))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		value := fmt.Sprintf("%06d", n.Int64())

		exists, err := s.codeRepo.PendingCodeValueExists(ctx, value, now)
		if err != nil {
			return "", fmt.Errorf("failed to check code uniqueness: %w", err)
		}
		if !exists {
			return value, nil
		}
	}
	return "", apperror.Conflict("could not generate a unique confirmation code")
}
