package service

import (
	"context"
	"time"

	"machinehub/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StatisticsService interface {
	GetStatistics(ctx context.Context, startDate, endDate time.Time) (model.StatisticsResponse, error)
}

type statisticsService struct {
	db *gorm.DB
}

func NewStatisticsService(db *gorm.DB) StatisticsService {
	return &statisticsService{db: db}
}

// GetStatistics aggregates fleet state plus ledger volume within the time bracket.
func (s *statisticsService) GetStatistics(ctx context.Context, startDate, endDate time.Time) (model.StatisticsResponse, error) {
	var response model.StatisticsResponse
	response.TimeRangeStartDate = startDate
	response.TimeRangeEndDate = endDate

	// Fleet counts reflect current state, not the time bracket.
	s.db.WithContext(ctx).Model(&model.Machine{}).
		Count(&response.TotalMachines)
	s.db.WithContext(ctx).Model(&model.Machine{}).
		Where("status = ?", model.MachineAvailable).
		Count(&response.AvailableMachines)
	s.db.WithContext(ctx).Model(&model.Machine{}).
		Where("status = ?", model.MachineInUse).
		Count(&response.MachinesInUse)

	if response.TotalMachines > 0 {
		response.UtilizationPct = decimal.NewFromInt(response.MachinesInUse).
			Div(decimal.NewFromInt(response.TotalMachines)).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	} else {
		response.UtilizationPct = decimal.Zero
	}

	var byCategory []model.CategoryCount
	s.db.WithContext(ctx).Model(&model.Machine{}).
		Select("category as category, COUNT(*) as total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as in_use", model.MachineInUse).
		Group("category").
		Order("total DESC").
		Scan(&byCategory)
	response.MachinesByCategory = byCategory

	var byKind []model.OperationCount
	s.db.WithContext(ctx).Model(&model.Operation{}).
		Select("kind as kind, COUNT(*) as total").
		Where("created_at >= ? AND created_at <= ?", startDate, endDate).
		Group("kind").
		Order("total DESC").
		Scan(&byKind)
	response.OperationsByKind = byKind

	var topMachines []model.MachineRanking
	s.db.WithContext(ctx).Table("operations").
		Select("machines.id as machine_id, machines.name as machine_name, COUNT(*) as total").
		Joins("JOIN machines ON machines.id = operations.machine_id").
		Where("operations.created_at >= ? AND operations.created_at <= ?", startDate, endDate).
		Group("machines.id, machines.name").
		Order("total DESC").
		Limit(5).
		Scan(&topMachines)
	response.TopMachines = topMachines

	return response, nil
}
