package destination

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/gyaneshwarpardhi/actionkit/internal/request"
)

// ErrInvalidAuthentication is returned when a partner rejects the
// instance's credentials.
var ErrInvalidAuthentication = errors.New("invalid authentication")

// IntegrationError is a partner-specific failure raised by an action.
type IntegrationError struct {
	Message string
	Code    string
	Status  int
}

func (e *IntegrationError) Error() string {
	return e.Message
}

// NewIntegrationError builds an IntegrationError.
func NewIntegrationError(message, code string, status int) *IntegrationError {
	return &IntegrationError{Message: message, Code: code, Status: status}
}

// PayloadValidationError reports a resolved payload that does not satisfy
// the action's fields. It is never retried.
type PayloadValidationError struct {
	Action string
	Err    error
}

func (e *PayloadValidationError) Error() string {
	return fmt.Sprintf("action %s: invalid payload: %v", e.Action, e.Err)
}

func (e *PayloadValidationError) Unwrap() error { return e.Err }

// ErrorCode classifies err for results and logs.
func ErrorCode(err error) string {
	var (
		ie *IntegrationError
		pe *PayloadValidationError
		he *request.HTTPError
		te *request.TimeoutError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ie) && ie.Code != "":
		return ie.Code
	case errors.As(err, &pe):
		return "PAYLOAD_VALIDATION_FAILED"
	case errors.Is(err, ErrInvalidAuthentication):
		return "INVALID_AUTHENTICATION"
	case errors.As(err, &te):
		return "ETIMEDOUT"
	case errors.As(err, &he):
		text := http.StatusText(he.Response.Status)
		if text == "" {
			return fmt.Sprintf("HTTP_%d", he.Response.Status)
		}
		return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "CIRCUIT_OPEN"
	}
	return "UNKNOWN_ERROR"
}

// errorStatus returns the HTTP status associated with err, if any.
func errorStatus(err error) int {
	var (
		ie *IntegrationError
		he *request.HTTPError
	)
	switch {
	case errors.As(err, &ie):
		return ie.Status
	case errors.As(err, &he):
		return he.Response.Status
	}
	return 0
}
