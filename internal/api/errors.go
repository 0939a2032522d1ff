package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// User facing fallbacks when the server gives no usable message
const (
	MsgNetwork    = "Network error. Please check your connection."
	MsgGeneric    = "An unexpected error occurred"
	MsgExpired    = "Your session has expired. Please log in again."
	MsgValidation = "Please check your input and try again."
)

var statusMessages = map[int]string{
	http.StatusBadRequest:          MsgValidation,
	http.StatusUnauthorized:        "You are not authorized to perform this action.",
	http.StatusForbidden:           "Access denied.",
	http.StatusNotFound:            "The requested resource was not found.",
	http.StatusUnprocessableEntity: MsgValidation,
	http.StatusInternalServerError: "Server error. Please try again later.",
	http.StatusBadGateway:          "Server error. Please try again later.",
	http.StatusServiceUnavailable:  "Server error. Please try again later.",
}

// Body paths tried, in order, when looking for a human readable message
var messagePaths = []string{
	"message",
	"error.message",
	"error",
	"errors.0.message",
	"errors.0",
	"detail",
}

// ErrNoRefreshToken is returned by a refresh when no refresh token is stored
var ErrNoRefreshToken = errors.New("no refresh token available")

// NetworkError means no response was received
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response
type HTTPError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// ValidationError is a client-side check that failed before any request was sent
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthExpiredError is a 401 that survived one refresh attempt. The persisted
// session has already been cleared when it is returned.
type AuthExpiredError struct {
	Err error
}

func (e *AuthExpiredError) Error() string {
	if e.Err == nil {
		return "session expired"
	}
	return fmt.Sprintf("session expired: %v", e.Err)
}

func (e *AuthExpiredError) Unwrap() error { return e.Err }

// newHTTPError builds an HTTPError with the best message found in body
func newHTTPError(status int, body []byte) *HTTPError {
	return &HTTPError{Status: status, Message: extractMessage(status, body), Body: body}
}

func extractMessage(status int, body []byte) string {
	if len(body) > 0 && gjson.ValidBytes(body) {
		for _, path := range messagePaths {
			r := gjson.GetBytes(body, path)
			if r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return MsgGeneric
}

// Message turns any error from this package into text fit for display
func Message(err error) string {
	if err == nil {
		return ""
	}

	var (
		httpErr    *HTTPError
		netErr     *NetworkError
		valErr     *ValidationError
		expiredErr *AuthExpiredError
	)
	switch {
	case errors.As(err, &expiredErr):
		return MsgExpired
	case errors.As(err, &valErr):
		return valErr.Message
	case errors.As(err, &httpErr):
		return httpErr.Message
	case errors.As(err, &netErr):
		return MsgNetwork
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return MsgGeneric
}

// IsStatus reports whether err is an HTTPError with the given status
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}

// IsAuthExpired reports whether err ended the session
func IsAuthExpired(err error) bool {
	var expiredErr *AuthExpiredError
	return errors.As(err, &expiredErr)
}
