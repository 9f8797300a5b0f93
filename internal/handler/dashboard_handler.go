package handler

import (
	"net/http"

	"machinehub/internal/middleware"
	"machinehub/internal/service"
	"machinehub/pkg/response"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	dashboardService service.DashboardService
}

func NewDashboardHandler(dashboardService service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

func (h *DashboardHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/dashboard", middleware.RequireAuth(), h.GetDashboard)
}

// GetDashboard handles GET /dashboard
// @Summary      Fleet dashboard
// @Description  Machines grouped by category with holder and pending-workflow annotations, plus the fleet-wide available count
// @Tags         dashboard
// @Produce      json
// @Security     BearerAuth
// @Param        q    query     string  false  "Filter machines by name, model or asset tag"
// @Success      200  {object}  response.Response{data=service.DashboardResponse}
// @Failure      500  {object}  response.Response
// @Router       /dashboard [get]
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	dashboard, err := h.dashboardService.ListDashboard(c.Request.Context(), c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to build dashboard"))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, dashboard))
}
