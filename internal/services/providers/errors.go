package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkError is a transport failure or a non-2xx upstream answer.
type NetworkError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status code, 0 for transport failures.
func (e *NetworkError) HTTPStatus() int { return e.StatusCode }

// Temporary reports whether retrying later may succeed.
func (e *NetworkError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ValidationError means the upstream answered but the payload was unusable.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid quota response: " + e.Message
}

// IsNetworkError reports whether err wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// upstreamMessage extracts a readable error from an upstream body.
func upstreamMessage(body []byte) string {
	const limit = 200
	msg := strings.TrimSpace(string(body))
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjsonString(body, path); v != "" {
			msg = v
			break
		}
	}
	if len(msg) > limit {
		msg = msg[:limit] + "..."
	}
	return msg
}
