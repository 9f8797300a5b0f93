package handler

import (
	"net/http"

	"machinehub/internal/middleware"
	"machinehub/internal/service"
	"machinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CodeHandler struct {
	codeService service.CodeService
}

// NewCodeHandler sets up the routing dependencies for confirmation-code endpoints
func NewCodeHandler(codeService service.CodeService) *CodeHandler {
	return &CodeHandler{codeService: codeService}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *CodeHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/machines/:id/codes", middleware.RequireAuth(), h.IssueCode)
	router.POST("/machines/:id/redeem", middleware.RequireAuth(), h.RedeemCode)
	router.GET("/codes/:id", middleware.RequireAuth(), h.PollCode)
}

type issueCodeRequest struct {
	Kind string `json:"kind" binding:"required,oneof=checkout return"`
}

// IssueCode handles POST /machines/:id/codes
// @Summary      Issue a confirmation code
// @Description  Generates a short-lived 6-digit code for a checkout or return; a second person must redeem it
// @Tags         codes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string            true  "Machine ID"
// @Param        payload  body      issueCodeRequest  true  "Code Kind"
// @Success      201      {object}  response.Response{data=service.IssueCodeResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /machines/{id}/codes [post]
func (h *CodeHandler) IssueCode(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	machineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid machine ID"))
		return
	}

	var req issueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	code, err := h.codeService.Issue(c.Request.Context(), actor, machineID, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, code))
}

// RedeemCode handles POST /machines/:id/redeem
// @Summary      Redeem a confirmation code
// @Description  A second person enters the requester's code to complete the checkout or return
// @Tags         codes
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Machine ID"
// @Param        payload  body      service.RedeemCodeRequest  true  "Code Value"
// @Success      200      {object}  response.Response{data=service.RedeemCodeResponse}
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /machines/{id}/redeem [post]
func (h *CodeHandler) RedeemCode(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	machineID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid machine ID"))
		return
	}

	var req service.RedeemCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.codeService.Redeem(c.Request.Context(), actor, machineID, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// PollCode handles GET /codes/:id
// @Summary      Poll a confirmation code
// @Description  Lets the requester observe whether their code is still pending, confirmed or expired
// @Tags         codes
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Code ID"
// @Success      200  {object}  response.Response{data=service.CodeStatusResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /codes/{id} [get]
func (h *CodeHandler) PollCode(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Actor not found in context"))
		return
	}

	codeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid code ID"))
		return
	}

	status, err := h.codeService.Poll(c.Request.Context(), actor, codeID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, status))
}
