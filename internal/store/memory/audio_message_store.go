package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// AudioMessageStore implements store.AudioMessageStore using in-memory storage.
type AudioMessageStore struct {
	mu sync.RWMutex

	messages map[string]*models.AudioMessage // message_id -> AudioMessage
	seq      map[string]int64                // message_id -> insertion order
	next     int64
}

// NewAudioMessageStore creates a new in-memory audio message store.
func NewAudioMessageStore() *AudioMessageStore {
	return &AudioMessageStore{
		messages: make(map[string]*models.AudioMessage),
		seq:      make(map[string]int64),
	}
}

// Create stores a new audio message in memory.
func (s *AudioMessageStore) Create(ctx context.Context, msg *models.AudioMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}

	now := time.Now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	clone := *msg
	s.messages[msg.ID] = &clone
	s.seq[msg.ID] = s.next
	s.next++

	return nil
}

// Get retrieves an audio message by ID.
func (s *AudioMessageStore) Get(ctx context.Context, messageID string) (*models.AudioMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, exists := s.messages[messageID]
	if !exists {
		return nil, store.ErrAudioMessageNotFound
	}

	clone := *msg
	return &clone, nil
}

// Update replaces an audio message after validating the status transition.
func (s *AudioMessageStore) Update(ctx context.Context, msg *models.AudioMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.messages[msg.ID]
	if !exists {
		return store.ErrAudioMessageNotFound
	}

	if err := store.CheckUpdate(existing, msg); err != nil {
		return err
	}

	msg.CreatedAt = existing.CreatedAt
	msg.UpdatedAt = time.Now()

	clone := *msg
	s.messages[msg.ID] = &clone

	return nil
}

// ListByCustomer returns a customer's messages oldest first.
func (s *AudioMessageStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.AudioMessage, error) {
	return s.filter(func(m *models.AudioMessage) bool { return m.CustomerID == customerID }), nil
}

// ListByCreator returns a creator's messages oldest first.
func (s *AudioMessageStore) ListByCreator(ctx context.Context, creatorID string) ([]*models.AudioMessage, error) {
	return s.filter(func(m *models.AudioMessage) bool { return m.CreatorID == creatorID }), nil
}

// RecordPlay increments the play counter of a message.
func (s *AudioMessageStore) RecordPlay(ctx context.Context, messageID string) (*models.AudioMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[messageID]
	if !exists {
		return nil, store.ErrAudioMessageNotFound
	}

	now := time.Now()
	msg.PlayCount++
	if msg.PlayedAt == nil {
		msg.PlayedAt = &now
	}
	if msg.Status.IsDelivered() {
		msg.Status = models.StatusPlayed
	}
	msg.UpdatedAt = now

	clone := *msg
	return &clone, nil
}

func (s *AudioMessageStore) filter(match func(*models.AudioMessage) bool) []*models.AudioMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.AudioMessage
	for _, m := range s.messages {
		if match(m) {
			clone := *m
			result = append(result, &clone)
		}
	}

	// Insertion order keeps "last entry is latest" stable even when CreatedAt collides.
	sort.Slice(result, func(i, j int) bool {
		return s.seq[result[i].ID] < s.seq[result[j].ID]
	})

	return result
}
