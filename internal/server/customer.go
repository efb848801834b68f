package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/identity"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/welcome"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// Member facing status messages.
const (
	msgSetupPending = "Welcome! Your admin is still setting up the welcome experience 🎵"
	msgGenerating   = "Your personal welcome message is being created... Check your DMs in a moment! 🎵"
	msgPaused       = "Welcome! The admin has paused automatic welcome messages."
	msgInProgress   = "Your personal welcome message is being created... Check back in a moment! 🎵"
	msgSent         = "We just sent you a personal audio message — check your DMs 🎵"
	msgFailed       = "Welcome to our community! 👋"
	msgDefault      = "Check your DMs for a personal message 🎵"

	msgNoSetup = "No admin has completed setup yet. Please ask the admin to upload a voice sample and set a message template first."

	testAudioMessage = "🎵 Your welcome audio message has been generated and sent to your DMs!"
	testVideoMessage = "🎵 Your personalized welcome video has been sent! Check your Whop messages."

	testPlanName = "Test Plan"
)

type welcomeStatus struct {
	HasWelcomeMessage bool                  `json:"hasWelcomeMessage"`
	MessageStatus     *models.MessageStatus `json:"messageStatus"`
	AudioURL          *string               `json:"audioUrl,omitempty"`
	Message           string                `json:"message"`
	UserName          string                `json:"userName"`
	UserID            string                `json:"userId"`
}

// profile fetches the member's Whop profile, using fallback names when the
// lookup fails.
func (s *Server) profile(ctx context.Context, userID, fallbackName, fallbackUsername string) *whop.User {
	u, err := s.Resolver.User(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Failed to fetch user profile")
		u = &whop.User{ID: userID}
	}
	p := *u
	p.ID = userID
	if p.Name = u.DisplayName(); p.Name == "" {
		p.Name = fallbackName
	}
	if p.Username == "" {
		p.Username = fallbackUsername
	}
	return &p
}

func (s *Server) welcomeStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, err := s.Resolver.ForCustomer(ctx, userToken(r), r.URL.Query().Get("experienceId"))
	switch {
	case err == nil:
	case errors.Is(err, identity.ErrUnauthorized):
		writeMemberError(w, r, err, "Unauthorized")
		return
	case errors.Is(err, identity.ErrCreatorNotFound), errors.Is(err, identity.ErrCompanyUnresolved), errors.Is(err, identity.ErrMissingExperience):
		log.Ctx(ctx).Info().Err(err).Msg("No creator for member visit")
		userID, _ := s.Resolver.Authenticate(userToken(r))
		httpmiddleware.WriteJSON(w, http.StatusOK, welcomeStatus{Message: msgSetupPending, UserName: "there", UserID: userID})
		return
	default:
		writeMemberError(w, r, err, "Failed to fetch welcome status")
		return
	}

	creator := tenant.Creator
	user := s.profile(ctx, tenant.UserID, "there", "member")
	status := func(st *models.MessageStatus, msg string) welcomeStatus {
		return welcomeStatus{MessageStatus: st, Message: msg, UserName: user.Name, UserID: tenant.UserID}
	}
	generating := models.StatusGenerating

	customer, err := s.Stores.Customers.GetByWhopUser(ctx, creator.ID, tenant.UserID)
	if err != nil && !errors.Is(err, store.ErrCustomerNotFound) {
		writeMemberError(w, r, err, "Failed to fetch welcome status")
		return
	}

	if customer == nil {
		if !creator.IsSetupComplete {
			httpmiddleware.WriteJSON(w, http.StatusOK, status(nil, msgSetupPending))
			return
		}

		customer, err = s.memberFromVisit(ctx, creator, user)
		if err != nil {
			writeMemberError(w, r, err, "Failed to fetch welcome status")
			return
		}
		if !creator.IsAutomationActive {
			httpmiddleware.WriteJSON(w, http.StatusOK, status(nil, msgPaused))
			return
		}
		httpmiddleware.WriteJSON(w, http.StatusOK, s.startFromVisit(ctx, creator, customer, status(&generating, msgGenerating)))
		return
	}

	jobs, err := s.Stores.AudioMessages.ListByCustomer(ctx, customer.ID)
	if err != nil {
		writeMemberError(w, r, err, "Failed to fetch welcome status")
		return
	}
	jobs = slices.DeleteFunc(jobs, func(j *models.AudioMessage) bool { return j.IsPreview })

	if len(jobs) == 0 {
		if creator.IsSetupComplete && creator.IsAutomationActive {
			httpmiddleware.WriteJSON(w, http.StatusOK, s.startFromVisit(ctx, creator, customer, status(&generating, msgGenerating)))
			return
		}
		resp := status(nil, msgDefault)
		resp.HasWelcomeMessage = customer.FirstMessageSent
		httpmiddleware.WriteJSON(w, http.StatusOK, resp)
		return
	}

	latest := jobs[len(jobs)-1]
	msg := msgDefault
	switch latest.Status {
	case models.StatusPending, models.StatusGenerating:
		msg = msgInProgress
	case models.StatusSent, models.StatusDelivered:
		msg = msgSent
	case models.StatusFailed:
		msg = msgFailed
	}

	resp := status(&latest.Status, msg)
	resp.HasWelcomeMessage = customer.FirstMessageSent
	resp.AudioURL = nullable(s.publicAudioURL(latest))
	httpmiddleware.WriteJSON(w, http.StatusOK, resp)
}

// memberFromVisit records a member seen for the first time in the app.
func (s *Server) memberFromVisit(ctx context.Context, creator *models.Creator, user *whop.User) (*models.Customer, error) {
	customer := &models.Customer{
		CreatorID:     creator.ID,
		WhopUserID:    user.ID,
		WhopMemberID:  "mem_" + user.ID,
		WhopCompanyID: creator.WhopCompanyID,
		Name:          user.Name,
		Email:         user.Email,
		Username:      user.Username,
		JoinedAt:      s.now(),
	}
	err := s.Stores.Customers.Create(ctx, customer)
	if errors.Is(err, store.ErrCustomerAlreadyExists) {
		return s.Stores.Customers.GetByWhopUser(ctx, creator.ID, user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	log.Ctx(ctx).Info().
		Str("creator_id", creator.ID).
		Str("customer_id", customer.ID).
		Msg("Customer created from visit")
	return customer, nil
}

// startFromVisit queues the member's welcome. A generation already running
// reads as in progress; any other failure is reported as a plain welcome.
func (s *Server) startFromVisit(ctx context.Context, creator *models.Creator, customer *models.Customer, resp welcomeStatus) welcomeStatus {
	_, err := s.Orchestrator.Enqueue(ctx, welcome.Request{Creator: creator, Customer: customer})
	switch {
	case err == nil:
	case errors.Is(err, welcome.ErrGenerationInFlight):
		resp.Message = msgInProgress
	default:
		log.Ctx(ctx).Error().Err(err).Str("customer_id", customer.ID).Msg("Failed to queue welcome message")
		failed := models.StatusFailed
		resp.MessageStatus = &failed
		resp.Message = msgFailed
	}
	return resp
}

func (s *Server) resetTestStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenant, err := s.Resolver.ForCustomer(ctx, userToken(r), experienceParam(w, r))
	if err != nil {
		if errors.Is(err, identity.ErrCreatorNotFound) {
			err = badRequest("No admin has completed setup yet.")
		}
		writeMemberError(w, r, err, "Failed to reset test status")
		return
	}

	customer, err := s.Stores.Customers.GetByWhopUser(ctx, tenant.Creator.ID, tenant.UserID)
	switch {
	case err == nil:
		n, rerr := s.Orchestrator.Reset(ctx, customer)
		if rerr != nil {
			writeMemberError(w, r, rerr, "Failed to reset test status")
			return
		}
		log.Ctx(ctx).Info().Str("customer_id", customer.ID).Int("jobs_reset", n).Msg("Test status reset")
	case !errors.Is(err, store.ErrCustomerNotFound):
		writeMemberError(w, r, err, "Failed to reset test status")
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Test status reset successfully",
	})
}

// triggerTestAudio lets a member welcome themselves synchronously.
func (s *Server) triggerTestAudio(success string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tenant, err := s.Resolver.ForCustomer(ctx, userToken(r), experienceParam(w, r))
		if err != nil {
			if errors.Is(err, identity.ErrCreatorNotFound) {
				err = badRequest(msgNoSetup)
			}
			writeMemberError(w, r, err, "Failed to trigger test audio")
			return
		}
		creator := tenant.Creator
		if !creator.IsSetupComplete {
			writeMemberError(w, r, badRequest(msgNoSetup), "Failed to trigger test audio")
			return
		}

		customer, err := s.testMember(ctx, creator, s.profile(ctx, tenant.UserID, "Member", ""))
		if err != nil {
			writeMemberError(w, r, err, "Failed to trigger test audio")
			return
		}

		out, err := s.Orchestrator.Generate(ctx, welcome.Request{Creator: creator, Customer: customer})
		if err != nil {
			writeMemberError(w, r, err, "Failed to trigger test audio")
			return
		}

		resp := map[string]any{
			"success":        out.Delivery.Delivered(),
			"message":        success,
			"audioMessageId": out.Job.ID,
			"messageId":      nullable(out.Delivery.MessageID),
			"script":         out.Script,
		}
		if !out.Delivery.Delivered() {
			resp["message"] = "Your welcome audio was generated but could not be delivered to your DMs."
		}
		httpmiddleware.WriteJSON(w, http.StatusOK, resp)
	}
}

// testMember loads or creates the caller as a member of the creator.
func (s *Server) testMember(ctx context.Context, creator *models.Creator, user *whop.User) (*models.Customer, error) {
	customer, err := s.Stores.Customers.GetByWhopUser(ctx, creator.ID, user.ID)
	if err == nil {
		if customer.WhopCompanyID == "" && creator.WhopCompanyID != "" {
			customer.WhopCompanyID = creator.WhopCompanyID
			if err := s.Stores.Customers.Update(ctx, customer); err != nil {
				return nil, fmt.Errorf("failed to update customer: %w", err)
			}
		}
		return customer, nil
	}
	if !errors.Is(err, store.ErrCustomerNotFound) {
		return nil, err
	}

	now := s.now()
	customer = &models.Customer{
		CreatorID:     creator.ID,
		WhopUserID:    user.ID,
		WhopMemberID:  fmt.Sprintf("member_test_%d", now.UnixMilli()),
		WhopCompanyID: creator.WhopCompanyID,
		Name:          user.Name,
		Email:         user.Email,
		Username:      user.Username,
		PlanName:      testPlanName,
		JoinedAt:      now,
	}
	if err := s.Stores.Customers.Create(ctx, customer); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

// experienceParam reads experienceId from the JSON body or the query string.
func experienceParam(w http.ResponseWriter, r *http.Request) string {
	var req experienceRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		log.Ctx(r.Context()).Debug().Err(err).Msg("Ignoring unreadable request body")
	}
	if req.ExperienceID != "" {
		return req.ExperienceID
	}
	return r.URL.Query().Get("experienceId")
}
