package request

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPError is returned for non-2xx responses unless ThrowHTTPErrors is false.
type HTTPError struct {
	Request  *http.Request
	Response *Response
	Options  Options
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request %s %s: %d %s", e.Request.Method, e.Request.URL.Redacted(), e.Response.Status, e.Response.StatusText)
}

// TimeoutError is returned when a request exceeds its Options.Timeout.
type TimeoutError struct {
	Request *http.Request
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s %s: timed out after %s", e.Request.Method, e.Request.URL.Redacted(), e.Timeout)
}

// IsRetryable reports whether err is worth another attempt: timeouts,
// transport failures, 429 and 5xx responses.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		s := he.Response.Status
		return s == http.StatusTooManyRequests || s >= 500
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
