package store

import (
	"context"
	"errors"

	"github.com/wolfeidau/whopvoice/internal/models"
)

// Sentinel errors for audio message store operations
var (
	ErrAudioMessageNotFound  = errors.New("audio message not found")
	ErrInvalidTransition     = errors.New("invalid audio message status transition")
	ErrAudioMessageImmutable = errors.New("audio message script is immutable")
)

// AudioMessageStore defines the interface for welcome job storage operations.
// Records are never deleted; status only moves forward.
type AudioMessageStore interface {
	// Create stores a new audio message.
	Create(ctx context.Context, msg *models.AudioMessage) error

	// Get retrieves an audio message by ID.
	Get(ctx context.Context, messageID string) (*models.AudioMessage, error)

	// Update replaces a record. Returns ErrInvalidTransition when the status would
	// move backwards and ErrAudioMessageImmutable when the script changes.
	Update(ctx context.Context, msg *models.AudioMessage) error

	// ListByCustomer returns a customer's messages oldest first. The last entry is the latest.
	ListByCustomer(ctx context.Context, customerID string) ([]*models.AudioMessage, error)

	// ListByCreator returns a creator's messages oldest first.
	ListByCreator(ctx context.Context, creatorID string) ([]*models.AudioMessage, error)

	// RecordPlay increments the play count, stamps PlayedAt on the first play and
	// moves a delivered message to played.
	RecordPlay(ctx context.Context, messageID string) (*models.AudioMessage, error)
}

// Stores holds every store the application needs.
type Stores struct {
	Creators      CreatorStore
	Customers     CustomerStore
	AudioMessages AudioMessageStore
}

// CheckUpdate validates an audio message update against the stored record.
// A status equal to the current one is always allowed so that other fields can change.
func CheckUpdate(current, next *models.AudioMessage) error {
	if current.PersonalizedScript != next.PersonalizedScript {
		return ErrAudioMessageImmutable
	}
	if current.Status == next.Status {
		return nil
	}
	if !models.CanTransition(current.Status, next.Status) {
		return ErrInvalidTransition
	}
	return nil
}
