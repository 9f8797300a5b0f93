package handler

import (
	"machinehub/pkg/apperror"
	"machinehub/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError maps a service error onto the standard response envelope using
// the apperror kind to pick the HTTP status.
func writeError(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	c.JSON(status, response.Error(status, err.Error()))
}
