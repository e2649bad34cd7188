package status

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorInfo contains error information returned to the user. The contents of
// the error MUST only contain user visible state, never internal details.
type ErrorInfo struct {
	// StatusCode contains the HTTP status code.
	StatusCode int `json:"-"`

	// Message contains the error message to return to the user.
	Message string `json:"error"`
}

func NewErrorInfo(statusCode int, message string) *ErrorInfo {
	return &ErrorInfo{
		StatusCode: statusCode,
		Message:    message,
	}
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf(
		"%s (%d): %s",
		strings.ToLower(http.StatusText(e.StatusCode)),
		e.StatusCode,
		e.Message,
	)
}
