package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatisticsResponse aggregates fleet-wide metrics for the reporting endpoint.
type StatisticsResponse struct {
	TimeRangeStartDate time.Time `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time `json:"time_range_end_date"`

	TotalMachines     int64           `json:"total_machines"`
	AvailableMachines int64           `json:"available_machines"`
	MachinesInUse     int64           `json:"machines_in_use"`
	UtilizationPct    decimal.Decimal `json:"utilization_pct"` // in_use / total, percent, 2dp

	MachinesByCategory []CategoryCount  `json:"machines_by_category"`
	OperationsByKind   []OperationCount `json:"operations_by_kind"`
	TopMachines        []MachineRanking `json:"top_machines"`
}

// CategoryCount is one row of the per-category machine breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Total    int64  `json:"total"`
	InUse    int64  `json:"in_use"`
}

// OperationCount is the ledger volume for one operation kind in the range.
type OperationCount struct {
	Kind  string `json:"kind"`
	Total int64  `json:"total"`
}

// MachineRanking ranks machines by completed operations in the range.
type MachineRanking struct {
	MachineID   string `json:"machine_id"`
	MachineName string `json:"machine_name"`
	Total       int64  `json:"total"`
}
