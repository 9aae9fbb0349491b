package httpkit

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ph0rque/MakeDealCRM-sub005/platform/apperr"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func JSON(c *gin.Context, status int, payload any) { c.JSON(status, payload) }
func OK(c *gin.Context, payload any)               { c.JSON(http.StatusOK, payload) }

// Error writes an ErrorResponse without a code.
func Error(c *gin.Context, status int, message string, details any) {
	c.JSON(status, errorBody(c, message, "", details))
}

// HandleError writes err and reports whether there was one. *apperr.Error
// values map through their Kind; anything else is a 500 with a generic
// message and is attached to the gin context for the request logger.
func HandleError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			_ = c.Error(err)
		}
		c.JSON(status, errorBody(c, appErr.Message, appErr.Code, appErr.Details))
		return true
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, errorBody(c, "internal error", "", nil))
	return true
}

func abortStatus(c *gin.Context, status int, message, code string) {
	c.AbortWithStatusJSON(status, errorBody(c, message, code, nil))
}

func errorBody(c *gin.Context, message, code string, details any) ErrorResponse {
	return ErrorResponse{
		Error:     message,
		Code:      code,
		Details:   details,
		RequestID: c.Writer.Header().Get(headerRequestID),
	}
}
