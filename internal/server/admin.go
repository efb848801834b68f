package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/delivery"
	"github.com/wolfeidau/whopvoice/internal/fishaudio"
	httpmiddleware "github.com/wolfeidau/whopvoice/internal/http"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/util"
	"github.com/wolfeidau/whopvoice/internal/welcome"
)

const recentMessagesLimit = 10

// creator resolves the calling admin's creator. The experience id is taken
// from the argument, falling back to the query string.
func (s *Server) creator(r *http.Request, experienceID string) (*models.Creator, error) {
	if experienceID == "" {
		experienceID = r.URL.Query().Get("experienceId")
	}
	tenant, err := s.Resolver.Lookup(r.Context(), userToken(r), experienceID)
	if err != nil {
		return nil, err
	}
	return tenant.Creator, nil
}

// reconcile brings the creator's plan in line with Whop in place and
// reports whether the subscription is cancelled. Failures are logged.
func (s *Server) reconcile(ctx context.Context, creator *models.Creator) bool {
	if s.Reconciler == nil {
		return false
	}
	res, err := s.Reconciler.Reconcile(ctx, creator)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("creator_id", creator.ID).Msg("Failed to reconcile plan")
	}
	return res.IsCancelled
}

func (s *Server) getCreator(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to fetch creator")
		return
	}
	s.reconcile(r.Context(), creator)
	httpmiddleware.WriteJSON(w, http.StatusOK, creator)
}

func (s *Server) initialize(w http.ResponseWriter, r *http.Request) {
	var req experienceRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, badRequest(err.Error()), "Invalid request")
		return
	}
	if req.ExperienceID == "" {
		writeError(w, r, badRequest("experienceId is required for multi-tenant setup"), "Failed to initialize creator")
		return
	}

	tenant, created, err := s.Resolver.Initialize(r.Context(), userToken(r), req.ExperienceID)
	if err != nil {
		writeError(w, r, err, "Failed to initialize creator")
		return
	}
	if created {
		log.Ctx(r.Context()).Info().Str("creator_id", tenant.Creator.ID).Msg("Created creator")
	}
	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{"creator": tenant.Creator})
}

type saveSettingsRequest struct {
	ExperienceID    string  `json:"experienceId"`
	MessageTemplate *string `json:"messageTemplate"`
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	var req saveSettingsRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, badRequest(err.Error()), "Invalid request")
		return
	}
	creator, err := s.creator(r, req.ExperienceID)
	if err != nil {
		writeError(w, r, err, "Failed to save settings")
		return
	}

	// The company id is set only at initialization.
	if req.MessageTemplate != nil {
		creator.MessageTemplate = *req.MessageTemplate
	}
	creator.IsSetupComplete = creator.SetupReady()

	if err := s.Stores.Creators.Update(r.Context(), creator); err != nil {
		writeError(w, r, err, "Failed to save settings")
		return
	}

	log.Ctx(r.Context()).Info().
		Str("creator_id", creator.ID).
		Bool("setup_complete", creator.IsSetupComplete).
		Msg("Settings saved")
	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{"creator": creator})
}

type toggleRequest struct {
	ExperienceID string `json:"experienceId"`
	IsActive     *bool  `json:"isActive"`
}

func (s *Server) toggleAutomation(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil || req.IsActive == nil {
		writeError(w, r, badRequest("isActive must be a boolean"), "Failed to toggle automation")
		return
	}
	creator, err := s.creator(r, req.ExperienceID)
	if err != nil {
		writeError(w, r, err, "Failed to toggle automation")
		return
	}

	if err := s.Stores.Creators.SetAutomation(r.Context(), creator.ID, *req.IsActive); err != nil {
		writeError(w, r, err, "Failed to toggle automation")
		return
	}
	creator.IsAutomationActive = *req.IsActive

	state := "paused"
	if creator.IsAutomationActive {
		state = "activated"
	}
	log.Ctx(r.Context()).Info().Str("creator_id", creator.ID).Msgf("Automation %s", state)

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"isActive": creator.IsAutomationActive,
		"message":  "Audio message automation " + state,
		"creator":  creator,
	})
}

func (s *Server) resetOnboarding(w http.ResponseWriter, r *http.Request) {
	var req experienceRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, badRequest(err.Error()), "Invalid request")
		return
	}
	creator, err := s.creator(r, req.ExperienceID)
	if err != nil {
		writeError(w, r, err, "Failed to reset onboarding")
		return
	}

	creator.IsSetupComplete = false
	if err := s.Stores.Creators.Update(r.Context(), creator); err != nil {
		writeError(w, r, err, "Failed to reset onboarding")
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Onboarding has been reset. You can now go through the setup wizard again.",
		"creator": creator,
	})
}

func (s *Server) uploadAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := s.Resolver.Authenticate(userToken(r)); err != nil {
		writeError(w, r, err, "Failed to upload audio")
		return
	}

	// Allow room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, badRequest(fmt.Sprintf("Audio file must be %dMB or smaller", s.cfg.MaxUploadBytes>>20)), "Failed to upload audio")
			return
		}
		writeError(w, r, badRequest("No audio file uploaded"), "Failed to upload audio")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		writeError(w, r, badRequest("Only audio files are allowed"), "Failed to upload audio")
		return
	}
	if header.Size > s.cfg.MaxUploadBytes {
		writeError(w, r, badRequest(fmt.Sprintf("Audio file must be %dMB or smaller", s.cfg.MaxUploadBytes>>20)), "Failed to upload audio")
		return
	}

	sample, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, err, "Failed to read audio file")
		return
	}

	creator, err := s.creator(r, r.FormValue("experienceId"))
	if err != nil {
		writeError(w, r, err, "Failed to upload audio")
		return
	}

	model, err := s.Voices.CreateModel(ctx, fishaudio.CreateModelRequest{
		Title:       "Voice model for " + creator.WhopUserID,
		Description: "Voice model for personalized welcome messages",
		Sample:      sample,
		FileName:    header.Filename,
		ContentType: contentType,
	})
	if err != nil {
		writeError(w, r, err, "Failed to upload audio")
		return
	}

	log.Ctx(ctx).Info().
		Str("creator_id", creator.ID).
		Str("model_id", model.ID).
		Str("model_state", string(model.State)).
		Int("bytes", len(sample)).
		Msg("Voice model created")

	creator.FishAudioModelID = model.ID
	creator.AudioFileURL = util.EncodeDataURL(contentType, sample)
	creator.IsSetupComplete = creator.SetupReady()
	if err := s.Stores.Creators.Update(ctx, creator); err != nil {
		writeError(w, r, err, "Failed to update creator")
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"modelId":    model.ID,
		"modelState": model.State,
		"message":    modelMessage(model, "Voice model is being trained. This usually takes a few minutes."),
		"creator":    creator,
	})
}

func modelMessage(model *fishaudio.Model, pending string) string {
	if model.Ready() {
		return "Voice model is ready!"
	}
	return pending
}

func (s *Server) voiceSample(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to serve voice sample")
		return
	}
	if creator.AudioFileURL == "" {
		writeError(w, r, notFound("No voice sample found"), "Failed to serve voice sample")
		return
	}

	contentType, data, err := util.DecodeDataURL(creator.AudioFileURL)
	if err != nil {
		writeError(w, r, err, "Invalid audio data format")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(data)
}

func (s *Server) modelStatus(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to check model status")
		return
	}
	if creator.FishAudioModelID == "" {
		httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
			"hasModel": false,
			"message":  "No voice model found. Please upload a voice sample.",
		})
		return
	}

	model, err := s.Voices.GetModel(r.Context(), creator.FishAudioModelID)
	if err != nil {
		writeError(w, r, err, "Failed to check model status")
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"hasModel":   true,
		"modelId":    model.ID,
		"modelState": model.State,
		"modelTitle": model.Title,
		"isReady":    model.Ready(),
		"message":    modelMessage(model, fmt.Sprintf("Voice model is %s. Please wait...", model.State)),
	})
}

type triggerRequest struct {
	ExperienceID string `json:"experienceId"`
	CustomerID   string `json:"customerId"`
	Preview      bool   `json:"preview"`
}

func (s *Server) triggerAudio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req triggerRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, badRequest(err.Error()), "Invalid request")
		return
	}
	creator, err := s.creator(r, req.ExperienceID)
	if err != nil {
		writeError(w, r, err, "Failed to trigger audio generation")
		return
	}
	if req.CustomerID == "" {
		writeError(w, r, badRequest("customerId is required"), "Failed to trigger audio generation")
		return
	}

	customer, err := s.Stores.Customers.Get(ctx, req.CustomerID)
	if err != nil {
		writeError(w, r, err, "Failed to trigger audio generation")
		return
	}
	if customer.CreatorID != creator.ID {
		writeError(w, r, notFound("Customer not found"), "Failed to trigger audio generation")
		return
	}

	if req.Preview {
		out, err := s.Orchestrator.Generate(ctx, welcome.Request{Creator: creator, Customer: customer, Mode: welcome.ModePreview})
		if err != nil {
			writeError(w, r, err, "Failed to generate preview")
			return
		}
		httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"audioMessageId": out.Job.ID,
			"script":         out.Script,
			"audioUrl":       out.AudioURL,
		})
		return
	}

	job, err := s.Orchestrator.Enqueue(ctx, welcome.Request{Creator: creator, Customer: customer})
	if err != nil {
		writeError(w, r, err, "Failed to trigger audio generation")
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusAccepted, map[string]any{
		"success":        true,
		"message":        "Audio generation started! It will automatically be sent via DM when ready.",
		"audioMessageId": job.ID,
		"script":         job.PersonalizedScript,
	})
}

type sendDMRequest struct {
	ExperienceID   string `json:"experienceId"`
	AudioMessageID string `json:"audioMessageId"`
}

func (s *Server) sendAudioDM(w http.ResponseWriter, r *http.Request) {
	var req sendDMRequest
	if err := httpmiddleware.DecodeJSON(w, r, &req); err != nil {
		writeError(w, r, badRequest(err.Error()), "Invalid request")
		return
	}
	creator, err := s.creator(r, req.ExperienceID)
	if err != nil {
		writeError(w, r, err, "Failed to send DM")
		return
	}
	if req.AudioMessageID == "" {
		writeError(w, r, badRequest("audioMessageId is required"), "Failed to send DM")
		return
	}

	out, err := s.Orchestrator.Redeliver(r.Context(), creator, req.AudioMessageID)
	if err != nil {
		writeError(w, r, err, "Failed to send DM")
		return
	}
	if !out.Delivery.Delivered() {
		httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": out.Delivery.Reason,
		})
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "DM sent successfully",
		"messageId": out.Delivery.MessageID,
	})
}

type audioSummary struct {
	ID            string               `json:"id"`
	Status        models.MessageStatus `json:"status"`
	AudioURL      string               `json:"audioUrl,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	SentAt        *time.Time           `json:"sentAt,omitempty"`
	PlayedAt      *time.Time           `json:"playedAt,omitempty"`
	WhopMessageID string               `json:"whopMessageId,omitempty"`
	ErrorMessage  string               `json:"errorMessage,omitempty"`
	IsPreview     bool                 `json:"isPreview,omitempty"`
}

type customerView struct {
	*models.Customer
	AudioMessages      []audioSummary       `json:"audioMessages"`
	LatestAudioMessage *models.AudioMessage `json:"latestAudioMessage"`
}

// publicAudioURL is the link for a job with audio, or empty.
func (s *Server) publicAudioURL(job *models.AudioMessage) string {
	if job == nil || job.AudioURL == "" {
		return ""
	}
	return delivery.AudioURL(s.cfg.PublicBaseURL, job.ID)
}

func (s *Server) listCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to fetch customers")
		return
	}

	customers, err := s.Stores.Customers.ListByCreator(ctx, creator.ID)
	if err != nil {
		writeError(w, r, err, "Failed to fetch customers")
		return
	}

	views := make([]customerView, 0, len(customers))
	for _, c := range customers {
		jobs, err := s.Stores.AudioMessages.ListByCustomer(ctx, c.ID)
		if err != nil {
			writeError(w, r, err, "Failed to fetch customers")
			return
		}
		v := customerView{Customer: c, AudioMessages: make([]audioSummary, 0, len(jobs))}
		for _, j := range jobs {
			v.AudioMessages = append(v.AudioMessages, audioSummary{
				ID:            j.ID,
				Status:        j.Status,
				AudioURL:      s.publicAudioURL(j),
				CreatedAt:     j.CreatedAt,
				SentAt:        j.SentAt,
				PlayedAt:      j.PlayedAt,
				WhopMessageID: j.WhopMessageID,
				ErrorMessage:  j.ErrorMessage,
				IsPreview:     j.IsPreview,
			})
		}
		if len(jobs) > 0 {
			v.LatestAudioMessage = jobs[len(jobs)-1]
		}
		views = append(views, v)
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{"customers": views})
}

func (s *Server) allMembers(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to fetch all members")
		return
	}
	if creator.WhopCompanyID == "" {
		writeError(w, r, badRequest("Company ID not configured"), "Failed to fetch all members")
		return
	}

	members, _, err := s.Members.ListAllAppMembers(r.Context(), creator.WhopCompanyID)
	if err != nil {
		writeError(w, r, err, "Failed to fetch members from Whop API")
		return
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"total":   len(members),
	})
}

type analyticsResponse struct {
	TotalCustomers         int                    `json:"totalCustomers"`
	NewMembersThisWeek     int                    `json:"newMembersThisWeek"`
	TotalAudioMessages     int                    `json:"totalAudioMessages"`
	MessagesSent           int                    `json:"messagesSent"`
	MessagesPlayed         int                    `json:"messagesPlayed"`
	MessagesPending        int                    `json:"messagesPending"`
	MessagesFailed         int                    `json:"messagesFailed"`
	TotalPlays             int                    `json:"totalPlays"`
	AveragePlaysPerMessage float64                `json:"averagePlaysPerMessage"`
	DeliveryRate           string                 `json:"deliveryRate"`
	RecentMessages         []*models.AudioMessage `json:"recentMessages"`
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to fetch analytics")
		return
	}

	customers, err := s.Stores.Customers.ListByCreator(ctx, creator.ID)
	if err != nil {
		writeError(w, r, err, "Failed to fetch analytics")
		return
	}
	jobs, err := s.Stores.AudioMessages.ListByCreator(ctx, creator.ID)
	if err != nil {
		writeError(w, r, err, "Failed to fetch analytics")
		return
	}

	resp := summarize(customers, jobs, s.now())
	resp.TotalCustomers = s.totalMembers(ctx, creator, len(customers))
	httpmiddleware.WriteJSON(w, http.StatusOK, resp)
}

// totalMembers prefers the platform's member count and falls back to the
// local customer count.
func (s *Server) totalMembers(ctx context.Context, creator *models.Creator, local int) int {
	if creator.WhopCompanyID == "" || s.Members == nil {
		return local
	}
	members, total, err := s.Members.ListAllAppMembers(ctx, creator.WhopCompanyID)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).
			Str("company_id", creator.WhopCompanyID).
			Msg("Failed to fetch members from Whop, using local count")
		return local
	}
	if total == 0 {
		return len(members)
	}
	return total
}

func summarize(customers []*models.Customer, jobs []*models.AudioMessage, now time.Time) analyticsResponse {
	weekAgo := now.AddDate(0, 0, -7)

	resp := analyticsResponse{
		TotalCustomers:     len(customers),
		TotalAudioMessages: len(jobs),
		DeliveryRate:       "0%",
		RecentMessages:     make([]*models.AudioMessage, 0, recentMessagesLimit),
	}
	for _, c := range customers {
		if !c.JoinedAt.Before(weekAgo) {
			resp.NewMembersThisWeek++
		}
	}
	for _, j := range jobs {
		switch {
		case j.Status.IsDelivered():
			resp.MessagesSent++
		case j.Status.IsInProgress():
			resp.MessagesPending++
		case j.Status == models.StatusFailed:
			resp.MessagesFailed++
		}
		if j.Status == models.StatusPlayed {
			resp.MessagesPlayed++
		}
		resp.TotalPlays += j.PlayCount
	}
	if len(jobs) > 0 {
		resp.AveragePlaysPerMessage = float64(resp.TotalPlays) / float64(len(jobs))
		rate := math.Round(float64(resp.MessagesSent) / float64(len(jobs)) * 100)
		resp.DeliveryRate = fmt.Sprintf("%d%%", int(rate))
	}
	for i := len(jobs) - 1; i >= 0 && len(resp.RecentMessages) < recentMessagesLimit; i-- {
		resp.RecentMessages = append(resp.RecentMessages, jobs[i])
	}
	return resp
}

type creditsResponse struct {
	Credits          int             `json:"credits"`
	PlanType         models.PlanType `json:"planType"`
	PlanName         string          `json:"planName"`
	PlanLimit        *int            `json:"planLimit"`
	PlanPrice        string          `json:"planPrice"`
	IsUnlimited      bool            `json:"isUnlimited"`
	LastPurchaseDate *time.Time      `json:"lastPurchaseDate"`
	IsCancelled      bool            `json:"isCancelled"`
}

func (s *Server) credits(w http.ResponseWriter, r *http.Request) {
	creator, err := s.creator(r, "")
	if err != nil {
		writeError(w, r, err, "Failed to fetch credits")
		return
	}
	cancelled := s.reconcile(r.Context(), creator)

	plan, ok := s.Catalog.Get(creator.PlanType)
	if !ok {
		plan = s.Catalog.Free()
	}

	httpmiddleware.WriteJSON(w, http.StatusOK, creditsResponse{
		Credits:          creator.Credits,
		PlanType:         creator.PlanType,
		PlanName:         plan.Name,
		PlanLimit:        plan.Limit(),
		PlanPrice:        plan.Price,
		IsUnlimited:      creator.IsUnlimited(),
		LastPurchaseDate: creator.LastPurchaseDate,
		IsCancelled:      cancelled,
	})
}
