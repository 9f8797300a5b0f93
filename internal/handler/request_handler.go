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

type RequestHandler struct {
	requestService service.RequestService
}

// NewRequestHandler sets up the routing dependencies for loan-request endpoints
func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{requestService: requestService}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/requests")
	{
		requests.POST("", middleware.RequireAuth(), h.CreateRequest)
		requests.GET("", middleware.RequireAdmin(), h.ListPending)
		requests.POST("/:id/confirm", middleware.RequireAuth(), h.ConfirmRequest)
		requests.DELETE("/:id", middleware.RequireAuth(), h.CancelRequest)
		requests.POST("/:id/approve", middleware.RequireAdmin(), h.ApproveRequest)
		requests.POST("/:id/deny", middleware.RequireAdmin(), h.DenyRequest)
	}
}

type createRequestRequest struct {
	MachineID string `json:"machine_id" binding:"required,uuid"`
	Kind      string `json:"kind" binding:"required,oneof=checkout return transfer"`
}

// CreateRequest handles POST /requests
// @Summary      Create a loan request
// @Description  Files a checkout, return or transfer request for a machine. One pending request per machine and per requester.
// @Tags         requests
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      createRequestRequest  true  "Request Payload"
// @Success      201      {object}  response.Response{data=service.RequestResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /requests [post]
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	var req createRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	machineID, err := uuid.Parse(req.MachineID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid machine ID"))
		return
	}

	created, err := h.requestService.Create(c.Request.Context(), actor, machineID, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, created))
}

// ListPending handles GET /requests
// @Summary      List pending requests
// @Description  Retrieves the adjudication queue. Admin only.
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=object}
// @Failure      500    {object}  response.Response
// @Router       /requests [get]
func (h *RequestHandler) ListPending(c *gin.Context) {
	params := pagination.Parse(c)

	requests, total, err := h.requestService.ListPending(c.Request.Context(), params.Page, params.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to fetch requests"))
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
		"page":     params.Page,
		"limit":    params.Limit,
	}))
}

// ConfirmRequest handles POST /requests/:id/confirm
// @Summary      Confirm a transfer request
// @Description  The machine's current holder consents to a pending transfer, moving it to the admin queue
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response{data=service.RequestResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /requests/{id}/confirm [post]
func (h *RequestHandler) ConfirmRequest(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request ID"))
		return
	}

	confirmed, err := h.requestService.ConfirmByPeer(c.Request.Context(), actor, requestID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, confirmed))
}

// CancelRequest handles DELETE /requests/:id
// @Summary      Cancel a request
// @Description  The requester withdraws their own pending request
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /requests/{id} [delete]
func (h *RequestHandler) CancelRequest(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request ID"))
		return
	}

	if err := h.requestService.Cancel(c.Request.Context(), actor, requestID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Request cancelled"))
}

// ApproveRequest handles POST /requests/:id/approve
// @Summary      Approve a request
// @Description  An admin approves a pending request, applying the possession change and writing the ledger entry
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /requests/{id}/approve [post]
func (h *RequestHandler) ApproveRequest(c *gin.Context) {
	h.adjudicate(c, service.DecisionApprove, "Request approved")
}

// DenyRequest handles POST /requests/:id/deny
// @Summary      Deny a request
// @Description  An admin denies a pending request; the denial is recorded in the audit log
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Request ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /requests/{id}/deny [post]
func (h *RequestHandler) DenyRequest(c *gin.Context) {
	h.adjudicate(c, service.DecisionDeny, "Request denied")
}

func (h *RequestHandler) adjudicate(c *gin.Context, decision, message string) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request ID"))
		return
	}

	if err := h.requestService.Adjudicate(c.Request.Context(), actor, requestID, decision); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, message))
}
