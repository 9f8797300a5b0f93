package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"machinehub/internal/model"
	"machinehub/internal/repository"
	"machinehub/pkg/apperror"

	"github.com/google/uuid"
)

// DefaultRetentionDays is the ledger retention horizon used by the cleanup job.
const DefaultRetentionDays = 120

// --- DTOs ---

type OperationResponse struct {
	ID          string `json:"id"`
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
	PrimaryUser string `json:"primary_user"`
	Confirmer   string `json:"confirmer"`
	Kind        string `json:"kind"`
	CreatedAt   string `json:"created_at"`
}

type OperationFilter struct {
	MachineID uuid.UUID
	UserID    uuid.UUID
	Kind      string
}

// --- Interface ---

// OperationService is the reporting and maintenance surface of the ledger.
// The engines themselves append through the repository within their own
// transactions; nothing here mutates existing entries.
type OperationService interface {
	List(ctx context.Context, filter OperationFilter, page, limit int) ([]OperationResponse, int64, error)
	// ExportCSV streams the filtered ledger as CSV to w.
	ExportCSV(ctx context.Context, filter OperationFilter, w io.Writer) error
	// PurgeOlderThan deletes ledger entries older than the horizon and returns
	// the number removed. actor may be nil when run by the batch job.
	PurgeOlderThan(ctx context.Context, actor *model.Actor, horizon time.Duration) (int64, error)
}

type operationService struct {
	opRepo    repository.OperationRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	now       func() time.Time
}

func NewOperationService(
	opRepo repository.OperationRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
) OperationService {
	return &operationService{opRepo: opRepo, auditRepo: auditRepo, txManager: txManager, now: time.Now}
}

// --- Implementation ---

func (s *operationService) List(ctx context.Context, filter OperationFilter, page, limit int) ([]OperationResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	ops, total, err := s.opRepo.List(ctx, repository.OperationFilter(filter), page, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list operations: %w", err)
	}

	res := make([]OperationResponse, 0, len(ops))
	for _, op := range ops {
		res = append(res, toOperationResponse(op))
	}
	return res, total, nil
}

func (s *operationService) ExportCSV(ctx context.Context, filter OperationFilter, w io.Writer) error {
	ops, err := s.opRepo.ListAll(ctx, repository.OperationFilter(filter))
	if err != nil {
		return fmt.Errorf("failed to load operations: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Date", "Time", "Operation", "Primary User", "Machine", "Confirming User"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, op := range ops {
		machineName := ""
		if op.Machine != nil {
			machineName = op.Machine.Name
		}
		primary := ""
		if op.PrimaryUser != nil {
			primary = op.PrimaryUser.DisplayName()
		}
		confirmer := ""
		if op.Confirmer != nil {
			confirmer = op.Confirmer.DisplayName()
		}

		record := []string{
			op.CreatedAt.Format("02/01/2006"),
			op.CreatedAt.Format("15:04:05"),
			op.Kind,
			primary,
			machineName,
			confirmer,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func (s *operationService) PurgeOlderThan(ctx context.Context, actor *model.Actor, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, apperror.InvalidState("retention horizon must be positive")
	}

	cutoff := s.now().Add(-horizon)
	var removed int64
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		n, delErr := s.opRepo.DeleteOlderThan(txCtx, cutoff)
		if delErr != nil {
			return fmt.Errorf("failed to purge operations: %w", delErr)
		}
		removed = n

		details, _ := json.Marshal(map[string]interface{}{
			"cutoff":  cutoff.Format(time.RFC3339),
			"removed": n,
		})
		audit := model.AuditLog{
			Action:  model.ActionPurgeOperations,
			Details: string(details),
		}
		if actor != nil {
			audit.UserID = &actor.ID
		}
		return s.auditRepo.Log(txCtx, &audit)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// --- Helpers ---

func toOperationResponse(op model.Operation) OperationResponse {
	resp := OperationResponse{
		ID:        op.ID.String(),
		MachineID: op.MachineID.String(),
		Kind:      op.Kind,
		CreatedAt: op.CreatedAt.Format(time.RFC3339),
	}
	if op.Machine != nil {
		resp.MachineName = op.Machine.Name
	}
	if op.PrimaryUser != nil {
		resp.PrimaryUser = op.PrimaryUser.DisplayName()
	}
	if op.Confirmer != nil {
		resp.Confirmer = op.Confirmer.DisplayName()
	}
	return resp
}
