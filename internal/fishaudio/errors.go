package fishaudio

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyText is returned when asked to synthesize an empty script.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrModelNotReady is returned when a voice model has not finished training.
	ErrModelNotReady = errors.New("voice model is not ready")

	// ErrModelFailed is returned when vendor-side training failed.
	ErrModelFailed = errors.New("voice model training failed")
)

// APIError is a non-2xx response from Fish Audio.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fish audio: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("fish audio: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Retryable reports whether the request may succeed if retried later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsNotFound reports whether err is a 404 from Fish Audio.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
