package handler

import (
	"net/http"

	"machinehub/internal/middleware"
	"machinehub/internal/service"
	"machinehub/pkg/pagination"
	"machinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type MachineHandler struct {
	machineService service.MachineService
}

// NewMachineHandler sets up the routing dependencies for Machine endpoints
func NewMachineHandler(machineService service.MachineService) *MachineHandler {
	return &MachineHandler{machineService: machineService}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *MachineHandler) RegisterRoutes(router *gin.RouterGroup) {
	machines := router.Group("/machines")
	{
		machines.GET("", middleware.RequireAuth(), h.ListMachines)
		machines.GET("/:id", middleware.RequireAuth(), h.GetMachineByID)
		machines.POST("", middleware.RequireAdmin(), h.CreateMachine)
		machines.PUT("/:id", middleware.RequireAdmin(), h.UpdateMachine)
		machines.DELETE("/:id", middleware.RequireAdmin(), h.DeleteMachine)
	}
}

// CreateMachine handles POST /machines
// @Summary      Register a machine
// @Description  Registers a new machine in the fleet. Admin only.
// @Tags         machines
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateMachineRequest  true  "Create Machine Payload"
// @Success      201      {object}  response.Response{data=service.MachineResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /machines [post]
func (h *MachineHandler) CreateMachine(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	var req service.CreateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	machine, err := h.machineService.Create(c.Request.Context(), actor, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, machine))
}

// ListMachines handles GET /machines
// @Summary      List machines
// @Description  Retrieves a paginated list of machines, optionally filtered by search text
// @Tags         machines
// @Produce      json
// @Security     BearerAuth
// @Param        search  query     string  false  "Filter by name, model or asset tag"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Failure      500     {object}  response.Response
// @Router       /machines [get]
func (h *MachineHandler) ListMachines(c *gin.Context) {
	params := pagination.Parse(c)
	search := c.Query("search")

	machines, total, err := h.machineService.List(c.Request.Context(), search, params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to fetch machines"))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"machines": machines,
		"total":    total,
		"page":     params.Page,
		"limit":    params.Limit,
	}))
}

// GetMachineByID handles GET /machines/:id
// @Summary      Get machine by ID
// @Description  Fetch a single machine's detail including the current holder
// @Tags         machines
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Machine ID"
// @Success      200  {object}  response.Response{data=service.MachineResponse}
// @Failure      404  {object}  response.Response
// @Router       /machines/{id} [get]
func (h *MachineHandler) GetMachineByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid machine ID"))
		return
	}

	machine, err := h.machineService.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, machine))
}

// UpdateMachine handles PUT /machines/:id
// @Summary      Update machine
// @Description  Updates a machine's descriptive fields. Admin only. Possession fields are never writable here.
// @Tags         machines
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                        true  "Machine ID"
// @Param        payload  body      service.UpdateMachineRequest  true  "Update Machine Payload"
// @Success      200      {object}  response.Response{data=service.MachineResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /machines/{id} [put]
func (h *MachineHandler) UpdateMachine(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid machine ID"))
		return
	}

	var req service.UpdateMachineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	machine, err := h.machineService.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, machine))
}

// DeleteMachine handles DELETE /machines/:id
// @Summary      Delete machine
// @Description  Removes a machine from the fleet. Admin only. Refused while a pending request or code exists.
// @Tags         machines
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Machine ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /machines/{id} [delete]
func (h *MachineHandler) DeleteMachine(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid machine ID"))
		return
	}

	if err := h.machineService.Delete(c.Request.Context(), actor, id); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Machine deleted successfully"))
}
