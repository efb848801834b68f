package whop

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidToken is returned for user tokens that fail verification.
	ErrInvalidToken = errors.New("invalid whop user token")

	// ErrUserAlreadyHasChannel is returned when creating a support channel for a
	// user that already has one. Listing may not have shown it yet.
	ErrUserAlreadyHasChannel = errors.New("user already has a support channel")

	// ErrMissingMessageID is returned when a send succeeded without an id.
	ErrMissingMessageID = errors.New("whop returned no message id")
)

// APIError is a non-2xx response from the Whop API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("whop: %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("whop: %d: %s", e.StatusCode, msg)
}

// StatusCode returns the HTTP status of a wrapped APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from Whop.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// errorBody covers both error shapes Whop returns.
type errorBody struct {
	Message string `json:"message"`
	Error   *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
