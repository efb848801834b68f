package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/identity"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

type experienceRequest struct {
	ExperienceID string `json:"experienceId"`
}

type accessResponse struct {
	HasAccess   bool             `json:"hasAccess"`
	AccessLevel whop.AccessLevel `json:"accessLevel"`
	UserID      string           `json:"userId,omitempty"`
	UserName    *string          `json:"userName"`
	Username    *string          `json:"username"`
	CompanyID   *string          `json:"companyId"`
	Error       string           `json:"error,omitempty"`
}

func (s *Server) validateAccess(w http.ResponseWriter, r *http.Request) {
	var req experienceRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, badRequest(err.Error()), "Invalid request")
		return
	}
	if req.ExperienceID == "" {
		writeError(w, r, identity.ErrMissingExperience, "experienceId is required")
		return
	}

	access, err := s.Resolver.CheckAccess(r.Context(), userToken(r), req.ExperienceID)
	if err != nil {
		status := http.StatusInternalServerError
		message := "Failed to validate access: " + err.Error()
		if errors.Is(err, identity.ErrUnauthorized) {
			status = http.StatusUnauthorized
			message = "Missing or invalid " + whop.UserTokenHeader + " header. Ensure you're accessing this app through Whop."
		}
		log.Ctx(r.Context()).Warn().Err(err).Str("experience_id", req.ExperienceID).Msg("Access validation failed")
		httpmiddleware.WriteJSON(w, status, accessResponse{
			HasAccess:   false,
			AccessLevel: whop.AccessNone,
			Error:       message,
		})
		return
	}

	resp := accessResponse{
		HasAccess:   access.HasAccess,
		AccessLevel: access.AccessLevel,
		UserID:      access.UserID,
		CompanyID:   nullable(access.CompanyID),
	}
	if access.User != nil {
		resp.UserName = nullable(access.User.DisplayName())
		resp.Username = nullable(access.User.Username)
	}
	httpmiddleware.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	userID, err := s.Resolver.Authenticate(userToken(r))
	if err != nil {
		writeError(w, r, err, "No user token provided")
		return
	}
	user, err := s.Resolver.User(r.Context(), userID)
	if err != nil {
		writeError(w, r, err, "Failed to fetch user information")
		return
	}
	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{"user": user})
}
