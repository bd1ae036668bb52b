package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/rail-service/payroll_relay/internal/domain/errors"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	c.JSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: getRequestID(c),
	})
}

// respondDomainError maps a domain error to its HTTP status
func respondDomainError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.IsInvalidInput(err):
		status = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsServiceUnavailable(err):
		status = http.StatusServiceUnavailable
	}

	code := apperrors.GetErrorCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		code = "INTERNAL_ERROR"
		message = "internal error"
	}
	respondError(c, status, code, message, apperrors.GetErrorDetails(err))
}

// queryLimit parses ?limit= within [1, max], falling back to def
func queryLimit(c *gin.Context, def, max int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
