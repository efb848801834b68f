package server

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/util"
)

// serveAudio is the public link target of delivered messages. Every full
// GET counts as a play.
func (s *Server) serveAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, r, &requestError{status: http.StatusMethodNotAllowed, message: "Method not allowed"}, "Method not allowed")
		return
	}

	ctx := r.Context()
	id := r.PathValue("id")

	job, err := s.Stores.AudioMessages.Get(ctx, id)
	if err != nil {
		writeMemberError(w, r, notFoundOr(err, "Audio not found"), "Failed to serve audio")
		return
	}
	if job.AudioURL == "" {
		writeMemberError(w, r, notFound("Audio file not available"), "Failed to serve audio")
		return
	}

	_, data, err := util.DecodeDataURL(job.AudioURL)
	if err != nil {
		writeMemberError(w, r, err, "Invalid audio data format")
		return
	}

	etag := `"` + util.Checksum(data) + `"`
	h := w.Header()
	h.Set("Content-Type", "audio/mpeg")
	h.Set("Content-Disposition", `inline; filename="welcome-message.mp3"`)
	h.Set("Cache-Control", "public, max-age=31536000")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("ETag", etag)

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Length", strconv.Itoa(len(data)))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := s.Stores.AudioMessages.RecordPlay(ctx, job.ID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("audio_message_id", job.ID).Msg("Failed to record play")
	}
	if job.Status.IsDelivered() && job.Status != models.StatusPlayed {
		log.Ctx(ctx).Info().Str("audio_message_id", job.ID).Msg("Welcome message played")
	}

	_, _ = w.Write(data)
}

// notFoundOr replaces a store not found error with a route specific message.
func notFoundOr(err error, message string) error {
	if status, _, _ := classify(err); status == http.StatusNotFound {
		return notFound(message)
	}
	return err
}
