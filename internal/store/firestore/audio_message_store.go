package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/google/uuid"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// AudioMessageStore implements store.AudioMessageStore using Firestore.
// Document IDs are UUIDv7 so ordering by createdAt then ID follows insertion order.
type AudioMessageStore struct {
	client *gcfirestore.Client
}

func (s *AudioMessageStore) col() *gcfirestore.CollectionRef {
	return s.client.Collection(audioMessagesCollection)
}

// Create stores a new audio message document.
func (s *AudioMessageStore) Create(ctx context.Context, msg *models.AudioMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	if _, err := s.col().Doc(msg.ID).Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to create audio message: %w", err)
	}
	return nil
}

// Get retrieves an audio message by document ID.
func (s *AudioMessageStore) Get(ctx context.Context, messageID string) (*models.AudioMessage, error) {
	snap, err := s.col().Doc(messageID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrAudioMessageNotFound
		}
		return nil, fmt.Errorf("failed to get audio message %q: %w", messageID, err)
	}
	return decodeAudioMessage(snap)
}

// Update validates the change against the stored document inside a transaction.
func (s *AudioMessageStore) Update(ctx context.Context, msg *models.AudioMessage) error {
	ref := s.col().Doc(msg.ID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		current, err := s.getTx(tx, ref)
		if err != nil {
			return err
		}
		if err := store.CheckUpdate(current, msg); err != nil {
			return err
		}
		msg.CreatedAt = current.CreatedAt
		msg.UpdatedAt = time.Now().UTC()
		return tx.Set(ref, msg)
	})
	return wrapMessageErr(err, "update", msg.ID)
}

// ListByCustomer returns a customer's messages oldest first.
func (s *AudioMessageStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.AudioMessage, error) {
	return s.list(ctx, "customerId", customerID)
}

// ListByCreator returns a creator's messages oldest first.
func (s *AudioMessageStore) ListByCreator(ctx context.Context, creatorID string) ([]*models.AudioMessage, error) {
	return s.list(ctx, "creatorId", creatorID)
}

// RecordPlay increments the play count inside a transaction.
func (s *AudioMessageStore) RecordPlay(ctx context.Context, messageID string) (*models.AudioMessage, error) {
	ref := s.col().Doc(messageID)

	var updated *models.AudioMessage
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		msg, err := s.getTx(tx, ref)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		msg.PlayCount++
		if msg.PlayedAt == nil {
			msg.PlayedAt = &now
		}
		if msg.Status.IsDelivered() {
			msg.Status = models.StatusPlayed
		}
		msg.UpdatedAt = now

		updated = msg
		return tx.Set(ref, msg)
	})
	if err != nil {
		return nil, wrapMessageErr(err, "record play for", messageID)
	}
	return updated, nil
}

func (s *AudioMessageStore) list(ctx context.Context, field, value string) ([]*models.AudioMessage, error) {
	msgs, err := collect(s.col().Where(field, "==", value).
		OrderBy("createdAt", gcfirestore.Asc).
		OrderBy(gcfirestore.DocumentID, gcfirestore.Asc).
		Documents(ctx), decodeAudioMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio messages by %s: %w", field, err)
	}
	return msgs, nil
}

func (s *AudioMessageStore) getTx(tx *gcfirestore.Transaction, ref *gcfirestore.DocumentRef) (*models.AudioMessage, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrAudioMessageNotFound
		}
		return nil, err
	}
	return decodeAudioMessage(snap)
}

func wrapMessageErr(err error, op, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrAudioMessageNotFound) ||
		errors.Is(err, store.ErrInvalidTransition) ||
		errors.Is(err, store.ErrAudioMessageImmutable) {
		return err
	}
	return fmt.Errorf("failed to %s audio message %q: %w", op, id, err)
}

func decodeAudioMessage(snap *gcfirestore.DocumentSnapshot) (*models.AudioMessage, error) {
	var m models.AudioMessage
	if err := snap.DataTo(&m); err != nil {
		return nil, fmt.Errorf("failed to decode audio message %q: %w", snap.Ref.ID, err)
	}
	m.ID = snap.Ref.ID
	return &m, nil
}
