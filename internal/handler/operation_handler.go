package handler

import (
	"net/http"
	"strconv"
	"time"

	"machinehub/internal/middleware"
	"machinehub/internal/service"
	"machinehub/pkg/pagination"
	"machinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type OperationHandler struct {
	operationService service.OperationService
}

func NewOperationHandler(operationService service.OperationService) *OperationHandler {
	return &OperationHandler{operationService: operationService}
}

func (h *OperationHandler) RegisterRoutes(router *gin.RouterGroup) {
	operations := router.Group("/operations")
	{
		operations.GET("", middleware.RequireAuth(), h.ListOperations)
		operations.GET("/export", middleware.RequireAdmin(), h.ExportOperations)
		operations.DELETE("/purge", middleware.RequireAdmin(), h.PurgeOperations)
	}
}

func parseOperationFilter(c *gin.Context) service.OperationFilter {
	var filter service.OperationFilter
	if v := c.Query("machine_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.MachineID = id
		}
	}
	if v := c.Query("user_id"); v != "" {
		if id, err := uuid.Parse(v); err == nil {
			filter.UserID = id
		}
	}
	filter.Kind = c.Query("kind")
	return filter
}

// ListOperations handles GET /operations
// @Summary      List ledger operations
// @Description  Retrieves the paginated possession ledger, newest first, optionally filtered by machine, user or kind
// @Tags         operations
// @Produce      json
// @Security     BearerAuth
// @Param        machine_id  query     string  false  "Filter by machine ID"
// @Param        user_id     query     string  false  "Filter by user ID (primary or confirmer)"
// @Param        kind        query     string  false  "Filter by operation kind"
// @Param        page        query     int     false  "Page number (default 1)"
// @Param        limit       query     int     false  "Number of items per page (default 20)"
// @Success      200         {object}  response.Response{data=object}
// @Failure      500         {object}  response.Response
// @Router       /operations [get]
func (h *OperationHandler) ListOperations(c *gin.Context) {
	params := pagination.Parse(c)
	filter := parseOperationFilter(c)

	operations, total, err := h.operationService.List(c.Request.Context(), filter, params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to fetch operations"))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"operations": operations,
		"total":      total,
		"page":       params.Page,
		"limit":      params.Limit,
	}))
}

// ExportOperations handles GET /operations/export
// @Summary      Export ledger as CSV
// @Description  Streams the filtered possession ledger as a CSV download. Admin only.
// @Tags         operations
// @Produce      text/csv
// @Security     BearerAuth
// @Param        machine_id  query  string  false  "Filter by machine ID"
// @Param        user_id     query  string  false  "Filter by user ID (primary or confirmer)"
// @Param        kind        query  string  false  "Filter by operation kind"
// @Success      200  {string}  string  "CSV payload"
// @Failure      500  {object}  response.Response
// @Router       /operations/export [get]
func (h *OperationHandler) ExportOperations(c *gin.Context) {
	filter := parseOperationFilter(c)

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="operations.csv"`)

	if err := h.operationService.ExportCSV(c.Request.Context(), filter, c.Writer); err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to export operations"))
		return
	}
}

// PurgeOperations handles DELETE /operations/purge
// @Summary      Purge old ledger entries
// @Description  Deletes ledger entries older than the given number of days (default 120). Admin only.
// @Tags         operations
// @Produce      json
// @Security     BearerAuth
// @Param        days  query     int  false  "Retention horizon in days (default 120)"
// @Success      200   {object}  response.Response{data=object}
// @Failure      401   {object}  response.Response
// @Failure      422   {object}  response.Response
// @Router       /operations/purge [delete]
func (h *OperationHandler) PurgeOperations(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Unauthorized"))
		return
	}

	days := service.DefaultRetentionDays
	if v := c.Query("days"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid days parameter"))
			return
		}
		days = parsed
	}

	removed, err := h.operationService.PurgeOlderThan(c.Request.Context(), &actor, time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"removed": removed,
		"days":    days,
	}))
}
