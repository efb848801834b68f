package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/logger"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/welcome"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// Webhook results recorded in metrics.
const (
	webhookWelcomed   = "welcomed"
	webhookSkipped    = "skipped"
	webhookReconciled = "reconciled"
	webhookIgnored    = "ignored"
	webhookFailed     = "failed"
)

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpmiddleware.MaxJSONBody))
	if err != nil {
		writeError(w, r, badRequest("Failed to read webhook body"), "Webhook processing failed")
		return
	}
	ev, err := whop.ParseWebhook(body)
	if err != nil {
		s.recordWebhook(ctx, "unknown", webhookFailed)
		writeError(w, r, badRequest(err.Error()), "Webhook processing failed")
		return
	}

	ctx = logger.WithFields(ctx, "webhook_action", ev.Action)
	log.Ctx(ctx).Info().Msg("Whop webhook received")

	var (
		resp   webhookResponse
		result string
	)
	switch ev.Action {
	case whop.ActionMembershipWentValid, whop.ActionMembershipWentInvalid, whop.ActionPaymentSucceeded:
		data, derr := ev.Membership()
		if derr != nil {
			s.recordWebhook(ctx, ev.Action, webhookFailed)
			writeError(w, r, badRequest(derr.Error()), "Webhook processing failed")
			return
		}
		resp, result, err = s.handleMembership(ctx, ev.Action, data)
	default:
		resp, result = webhookResponse{Success: true}, webhookIgnored
	}
	if err != nil {
		s.recordWebhook(ctx, ev.Action, webhookFailed)
		writeError(w, r, err, "Webhook processing failed")
		return
	}

	s.recordWebhook(ctx, ev.Action, result)
	httpmiddleware.WriteJSON(w, http.StatusOK, resp)
}

// handleMembership routes a membership event. Events for the app's own plans
// are billing updates for a creator; membership.went_valid on any other plan
// is a new member of a creator's community.
func (s *Server) handleMembership(ctx context.Context, action string, data *whop.MembershipEventData) (webhookResponse, string, error) {
	if data.UserID() == "" {
		log.Ctx(ctx).Warn().Msg("No user ID in webhook payload")
		return webhookResponse{Success: true, Message: "Webhook received but no user ID"}, webhookSkipped, nil
	}

	if data.Plan != nil && slices.Contains(s.Catalog.WhopPlanIDs(), data.Plan.ID) {
		return s.reconcileUser(ctx, data.UserID())
	}
	if action != whop.ActionMembershipWentValid {
		return webhookResponse{Success: true}, webhookIgnored, nil
	}
	return s.memberJoined(ctx, data)
}

func (s *Server) reconcileUser(ctx context.Context, userID string) (webhookResponse, string, error) {
	creators, err := s.Stores.Creators.ListByUser(ctx, userID)
	if err != nil {
		return webhookResponse{}, "", err
	}
	for _, c := range creators {
		s.reconcile(ctx, c)
	}
	log.Ctx(ctx).Info().Str("user_id", userID).Int("creators", len(creators)).Msg("Reconciled creator plans from webhook")
	return webhookResponse{Success: true, Message: "Subscription reconciled"}, webhookReconciled, nil
}

func (s *Server) memberJoined(ctx context.Context, data *whop.MembershipEventData) (webhookResponse, string, error) {
	skip := func(msg string) (webhookResponse, string, error) {
		log.Ctx(ctx).Info().Str("company_id", data.CompanyID).Msg(msg)
		return webhookResponse{Success: true, Message: msg}, webhookSkipped, nil
	}

	if data.CompanyID == "" {
		return skip("Webhook received but no company ID")
	}

	creator, err := s.Stores.Creators.GetByCompany(ctx, data.CompanyID)
	if errors.Is(err, store.ErrCreatorNotFound) {
		return skip("No creator found for this company")
	}
	if err != nil {
		return webhookResponse{}, "", err
	}
	if !creator.IsAutomationActive {
		return skip("Automation is paused")
	}
	if !creator.IsSetupComplete {
		return skip("Setup not complete")
	}

	userID := data.UserID()
	if _, err := s.Stores.Customers.GetByWhopUser(ctx, creator.ID, userID); err == nil {
		return skip("Customer already exists")
	} else if !errors.Is(err, store.ErrCustomerNotFound) {
		return webhookResponse{}, "", err
	}

	name := data.User.DisplayName()
	if name == "" {
		name = "Member"
	}
	customer := &models.Customer{
		CreatorID:     creator.ID,
		WhopUserID:    userID,
		WhopMemberID:  data.ID,
		WhopCompanyID: data.CompanyID,
		Name:          name,
		Username:      data.User.Username,
		PlanName:      data.PlanName(),
		JoinedAt:      s.now(),
	}
	if err := s.Stores.Customers.Create(ctx, customer); err != nil {
		if errors.Is(err, store.ErrCustomerAlreadyExists) {
			return skip("Customer already exists")
		}
		return webhookResponse{}, "", err
	}

	log.Ctx(ctx).Info().
		Str("creator_id", creator.ID).
		Str("customer_id", customer.ID).
		Msg("Customer created from webhook")

	// The member is recorded either way; a replay must not welcome them twice.
	if _, err := s.Orchestrator.Enqueue(ctx, welcome.Request{Creator: creator, Customer: customer}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("customer_id", customer.ID).Msg("Failed to queue welcome message")
		return webhookResponse{Success: true, Message: "Customer created, welcome message not queued"}, webhookFailed, nil
	}
	return webhookResponse{Success: true}, webhookWelcomed, nil
}

func (s *Server) recordWebhook(ctx context.Context, action, result string) {
	if s.Metrics != nil {
		s.Metrics.RecordWebhook(ctx, action, result)
	}
}

func (s *Server) webhookTest(w http.ResponseWriter, r *http.Request) {
	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"message": "Webhook endpoint is ready to receive events",
		"endpoints": map[string]string{
			"webhook": "/api/whop/webhook",
		},
		"expectedEvents": []string{
			whop.ActionMembershipWentValid,
			whop.ActionMembershipWentInvalid,
			whop.ActionPaymentSucceeded,
		},
		"instructions": "Send a POST request to /api/whop/webhook with Whop webhook payload",
	})
}
