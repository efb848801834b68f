package welcome

import (
	"errors"

	"github.com/wolfeidau/whopvoice/internal/worker"
)

var (
	// ErrModelNotConfigured is returned when the creator has not uploaded a voice sample.
	ErrModelNotConfigured = errors.New("voice model not configured, upload a voice sample in settings")

	// ErrTemplateMissing is returned when the creator has no message template.
	ErrTemplateMissing = errors.New("message template is empty")

	// ErrGenerationInFlight is returned while another generation for the same
	// creator and customer is running.
	ErrGenerationInFlight = errors.New("a welcome message is already being generated for this customer")

	// ErrQueueFull is returned when the background queue cannot take more work.
	ErrQueueFull = worker.ErrQueueFull

	// ErrAudioUnavailable is returned when redelivering a job without audio.
	ErrAudioUnavailable = errors.New("audio not available for this message")

	// ErrWrongCreator is returned when a job or customer belongs to another creator.
	ErrWrongCreator = errors.New("record belongs to another creator")
)
