// Package handlers implements the admin API endpoints on gin.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/stockscan/pkg/errors"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeAppError maps err's code to an HTTP status. Internal errors are
// masked.
func writeAppError(c *gin.Context, err error) {
	code := errors.GetCode(err)
	status := errors.HTTPStatusForCode(code)
	if status >= http.StatusInternalServerError {
		c.JSON(status, ErrorResponse{Code: string(code), Message: errors.DefaultMessageForCode(code)})
		return
	}
	resp := ErrorResponse{Code: string(code), Message: err.Error()}
	var ae *errors.AppError
	if errors.As(err, &ae) {
		resp.Message, resp.Detail = ae.Message, ae.Detail
	}
	c.JSON(status, resp)
}
