package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/identity"
	"github.com/wolfeidau/whopvoice/internal/ledger"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/welcome"
	"github.com/wolfeidau/whopvoice/internal/worker"
)

// requestError is a client error raised by a handler.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string {
	return e.message
}

func badRequest(message string) error {
	return &requestError{status: http.StatusBadRequest, message: message}
}

func notFound(message string) error {
	return &requestError{status: http.StatusNotFound, message: message}
}

type errorMapping struct {
	err     error
	status  int
	message string
}

// errorMappings are checked in order; the first match wins.
var errorMappings = []errorMapping{
	{identity.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	{identity.ErrForbidden, http.StatusForbidden, "You must have admin access to this experience to set up the app"},
	{identity.ErrMissingExperience, http.StatusBadRequest, "experienceId is required"},
	{identity.ErrCompanyUnresolved, http.StatusBadRequest, "Could not determine company ID. Please ensure you're accessing this app through a Whop experience."},
	{identity.ErrCreatorNotFound, http.StatusNotFound, "Creator not found"},
	{store.ErrCreatorNotFound, http.StatusNotFound, "Creator not found"},
	{store.ErrCustomerNotFound, http.StatusNotFound, "Customer not found"},
	{store.ErrAudioMessageNotFound, http.StatusNotFound, "Audio message not found"},
	{welcome.ErrWrongCreator, http.StatusNotFound, "Customer not found"},
	{welcome.ErrModelNotConfigured, http.StatusBadRequest, "No voice model found. Please upload a voice sample."},
	{welcome.ErrTemplateMissing, http.StatusBadRequest, "Message template is empty. Please save a message template."},
	{welcome.ErrAudioUnavailable, http.StatusBadRequest, "Audio URL not available"},
	{ledger.ErrInsufficientCredits, http.StatusBadRequest, "No credits remaining. Upgrade your plan to keep sending welcome messages."},
	{welcome.ErrGenerationInFlight, http.StatusConflict, "A welcome message is already being generated for this member"},
	{worker.ErrQueueFull, http.StatusTooManyRequests, "Generation queue is busy, try again shortly"},
	{worker.ErrPoolClosed, http.StatusServiceUnavailable, "Server is shutting down, try again shortly"},
}

func classify(err error) (int, string, bool) {
	var re *requestError
	if errors.As(err, &re) {
		return re.status, re.message, true
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.message, true
		}
	}
	return http.StatusInternalServerError, "", false
}

// writeError responds with the status mapped from err. Unmapped errors are
// a 500 with fallback as the message and the error text as details.
func writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	respondError(w, r, err, fallback, true)
}

// writeMemberError is writeError for member facing routes; it never exposes
// the underlying error text.
func writeMemberError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	respondError(w, r, err, fallback, false)
}

func respondError(w http.ResponseWriter, r *http.Request, err error, fallback string, details bool) {
	status, message, mapped := classify(err)

	ev := log.Ctx(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		ev = log.Ctx(r.Context()).Error()
	}
	ev.Err(err).Int("status", status).Msg(fallback)

	body := httpmiddleware.ErrorBody{Error: message}
	if !mapped {
		body.Error = fallback
		if details {
			body.Details = err.Error()
		}
	}
	httpmiddleware.WriteJSON(w, status, body)
}
