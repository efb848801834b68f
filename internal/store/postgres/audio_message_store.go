package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// AudioMessageStore implements store.AudioMessageStore using PostgreSQL.
// The seq column preserves insertion order for "latest" lookups.
type AudioMessageStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewAudioMessageStore creates a new PostgreSQL-backed audio message store.
func NewAudioMessageStore(pool *pgxpool.Pool) *AudioMessageStore {
	return &AudioMessageStore{pool: pool}
}

const audioMessageColumns = `
	audio_message_id, customer_id, creator_id,
	personalized_script, status, audio_url,
	whop_chat_id, whop_message_id, error_message, play_count,
	created_at, updated_at, completed_at, sent_at, played_at,
	is_preview`

// Create inserts a new audio message.
func (s *AudioMessageStore) Create(ctx context.Context, msg *models.AudioMessage) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `INSERT INTO audio_messages (`+audioMessageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		msg.ID,
		msg.CustomerID,
		msg.CreatorID,
		msg.PersonalizedScript,
		string(msg.Status),
		msg.AudioURL,
		msg.WhopChatID,
		msg.WhopMessageID,
		msg.ErrorMessage,
		msg.PlayCount,
		msg.CreatedAt,
		msg.UpdatedAt,
		msg.CompletedAt,
		msg.SentAt,
		msg.PlayedAt,
		msg.IsPreview,
	)
	if err != nil {
		return fmt.Errorf("failed to create audio message: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("audio_message_id", msg.ID).
		Str("customer_id", msg.CustomerID).
		Str("status", string(msg.Status)).
		Msg("Created audio message")

	return nil
}

// Get retrieves an audio message by ID.
func (s *AudioMessageStore) Get(ctx context.Context, messageID string) (*models.AudioMessage, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := scanAudioMessage(s.pool.QueryRow(ctx,
		`SELECT `+audioMessageColumns+` FROM audio_messages WHERE audio_message_id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAudioMessageNotFound
		}
		return nil, fmt.Errorf("failed to get audio message: %w", mapPostgresError(err))
	}
	return msg, nil
}

// Update validates the change against the locked row and writes it in one transaction.
func (s *AudioMessageStore) Update(ctx context.Context, msg *models.AudioMessage) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	current, err := scanAudioMessage(tx.QueryRow(ctx,
		`SELECT `+audioMessageColumns+` FROM audio_messages WHERE audio_message_id = $1 FOR UPDATE`, msg.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrAudioMessageNotFound
		}
		return fmt.Errorf("failed to lock audio message: %w", mapPostgresError(err))
	}

	if err := store.CheckUpdate(current, msg); err != nil {
		return err
	}

	msg.CreatedAt = current.CreatedAt
	msg.UpdatedAt = time.Now()

	_, err = tx.Exec(ctx, `
		UPDATE audio_messages SET
			status = $2,
			audio_url = $3,
			whop_chat_id = $4,
			whop_message_id = $5,
			error_message = $6,
			play_count = $7,
			updated_at = $8,
			completed_at = $9,
			sent_at = $10,
			played_at = $11
		WHERE audio_message_id = $1
	`,
		msg.ID,
		string(msg.Status),
		msg.AudioURL,
		msg.WhopChatID,
		msg.WhopMessageID,
		msg.ErrorMessage,
		msg.PlayCount,
		msg.UpdatedAt,
		msg.CompletedAt,
		msg.SentAt,
		msg.PlayedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update audio message: %w", mapPostgresError(err))
	}

	return tx.Commit(ctx)
}

// ListByCustomer returns a customer's messages oldest first.
func (s *AudioMessageStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.AudioMessage, error) {
	return s.queryMany(ctx,
		`SELECT `+audioMessageColumns+` FROM audio_messages WHERE customer_id = $1 ORDER BY seq`, customerID)
}

// ListByCreator returns a creator's messages oldest first.
func (s *AudioMessageStore) ListByCreator(ctx context.Context, creatorID string) ([]*models.AudioMessage, error) {
	return s.queryMany(ctx,
		`SELECT `+audioMessageColumns+` FROM audio_messages WHERE creator_id = $1 ORDER BY seq`, creatorID)
}

// RecordPlay increments the play count in a single statement.
func (s *AudioMessageStore) RecordPlay(ctx context.Context, messageID string) (*models.AudioMessage, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := scanAudioMessage(s.pool.QueryRow(ctx, `
		UPDATE audio_messages SET
			play_count = play_count + 1,
			played_at = COALESCE(played_at, now()),
			status = CASE WHEN status IN ('sent', 'delivered', 'played') THEN 'played' ELSE status END,
			updated_at = now()
		WHERE audio_message_id = $1
		RETURNING `+audioMessageColumns, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrAudioMessageNotFound
		}
		return nil, fmt.Errorf("failed to record play: %w", mapPostgresError(err))
	}
	return msg, nil
}

func (s *AudioMessageStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.AudioMessage, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio messages: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var msgs []*models.AudioMessage
	for rows.Next() {
		m, err := scanAudioMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio message: %w", err)
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func scanAudioMessage(row pgx.Row) (*models.AudioMessage, error) {
	var m models.AudioMessage
	var status string
	err := row.Scan(
		&m.ID,
		&m.CustomerID,
		&m.CreatorID,
		&m.PersonalizedScript,
		&status,
		&m.AudioURL,
		&m.WhopChatID,
		&m.WhopMessageID,
		&m.ErrorMessage,
		&m.PlayCount,
		&m.CreatedAt,
		&m.UpdatedAt,
		&m.CompletedAt,
		&m.SentAt,
		&m.PlayedAt,
		&m.IsPreview,
	)
	if err != nil {
		return nil, err
	}
	m.Status = models.MessageStatus(status)
	return &m, nil
}
