package cctp

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a CCTP API error response
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("CCTP API error [%d]: %s (code: %s)", e.StatusCode, e.Message, e.Code)
}

// ErrNoMessages indicates the service has no record for the transaction yet
var ErrNoMessages = errors.New("no messages found for transaction")
