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

// CreatorStore implements store.CreatorStore using PostgreSQL.
type CreatorStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewCreatorStore creates a new PostgreSQL-backed creator store.
func NewCreatorStore(pool *pgxpool.Pool) *CreatorStore {
	return &CreatorStore{pool: pool}
}

const creatorColumns = `
	creator_id, whop_user_id, whop_company_id,
	message_template, audio_file_url, fish_audio_model_id,
	is_setup_complete, is_automation_active,
	credits, plan_type, whop_plan_id, last_purchase_date,
	created_at, updated_at`

// Create inserts a new creator.
func (s *CreatorStore) Create(ctx context.Context, creator *models.Creator) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if creator.ID == "" {
		creator.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now()
	if creator.CreatedAt.IsZero() {
		creator.CreatedAt = now
	}
	creator.UpdatedAt = now
	if creator.PlanType == "" {
		creator.PlanType = models.PlanFree
	}

	query := `INSERT INTO creators (` + creatorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		creator.ID,
		creator.WhopUserID,
		creator.WhopCompanyID,
		creator.MessageTemplate,
		creator.AudioFileURL,
		creator.FishAudioModelID,
		creator.IsSetupComplete,
		creator.IsAutomationActive,
		creator.Credits,
		string(creator.PlanType),
		creator.WhopPlanID,
		creator.LastPurchaseDate,
		creator.CreatedAt,
		creator.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrCreatorAlreadyExists
		}
		return fmt.Errorf("failed to create creator: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("creator_id", creator.ID).
		Str("whop_user_id", creator.WhopUserID).
		Str("whop_company_id", creator.WhopCompanyID).
		Msg("Created creator")

	return nil
}

// Get retrieves a creator by ID.
func (s *CreatorStore) Get(ctx context.Context, creatorID string) (*models.Creator, error) {
	return s.queryOne(ctx, `SELECT `+creatorColumns+` FROM creators WHERE creator_id = $1`, creatorID)
}

// GetByUserAndCompany retrieves the creator for (user, company).
func (s *CreatorStore) GetByUserAndCompany(ctx context.Context, whopUserID, whopCompanyID string) (*models.Creator, error) {
	return s.queryOne(ctx,
		`SELECT `+creatorColumns+` FROM creators WHERE whop_user_id = $1 AND whop_company_id = $2`,
		whopUserID, whopCompanyID)
}

// GetByCompany returns the oldest creator for a company.
func (s *CreatorStore) GetByCompany(ctx context.Context, whopCompanyID string) (*models.Creator, error) {
	return s.queryOne(ctx,
		`SELECT `+creatorColumns+` FROM creators WHERE whop_company_id = $1 ORDER BY created_at, creator_id LIMIT 1`,
		whopCompanyID)
}

// ListByUser returns every creator owned by a Whop user.
func (s *CreatorStore) ListByUser(ctx context.Context, whopUserID string) ([]*models.Creator, error) {
	return s.queryMany(ctx,
		`SELECT `+creatorColumns+` FROM creators WHERE whop_user_id = $1 ORDER BY created_at, creator_id`,
		whopUserID)
}

// ListSetupComplete returns creators that have completed setup.
func (s *CreatorStore) ListSetupComplete(ctx context.Context) ([]*models.Creator, error) {
	return s.queryMany(ctx,
		`SELECT ` + creatorColumns + ` FROM creators WHERE is_setup_complete ORDER BY created_at, creator_id`)
}

// Update writes the profile columns of a creator. Credits, plan and
// automation columns are owned by ApplyPlan, SetAutomation and
// DecrementCredits.
func (s *CreatorStore) Update(ctx context.Context, creator *models.Creator) error {
	query := `
		UPDATE creators SET
			whop_user_id = $2,
			whop_company_id = $3,
			message_template = $4,
			audio_file_url = $5,
			fish_audio_model_id = $6,
			is_setup_complete = $7,
			updated_at = now()
		WHERE creator_id = $1
		RETURNING ` + creatorColumns

	return s.updateReturning(ctx, creator, "update creator", query,
		creator.ID,
		creator.WhopUserID,
		creator.WhopCompanyID,
		creator.MessageTemplate,
		creator.AudioFileURL,
		creator.FishAudioModelID,
		creator.IsSetupComplete,
	)
}

// ApplyPlan writes the billing columns of a creator. A nil change.Credits
// keeps the stored balance.
func (s *CreatorStore) ApplyPlan(ctx context.Context, creatorID string, change store.PlanChange) (*models.Creator, error) {
	query := `
		UPDATE creators SET
			plan_type = $2,
			whop_plan_id = $3,
			last_purchase_date = $4,
			credits = COALESCE($5, credits),
			updated_at = now()
		WHERE creator_id = $1
		RETURNING ` + creatorColumns

	updated := &models.Creator{ID: creatorID}
	err := s.updateReturning(ctx, updated, "apply plan", query,
		creatorID,
		string(change.PlanType),
		change.WhopPlanID,
		change.LastPurchaseDate,
		change.Credits,
	)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetAutomation flips is_automation_active.
func (s *CreatorStore) SetAutomation(ctx context.Context, creatorID string, active bool) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.pool.Exec(ctx,
		`UPDATE creators SET is_automation_active = $2, updated_at = now() WHERE creator_id = $1`,
		creatorID, active)
	if err != nil {
		return fmt.Errorf("failed to set automation: %w", mapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return store.ErrCreatorNotFound
	}
	return nil
}

// updateReturning runs a single-row UPDATE ... RETURNING and copies the stored
// row back into creator.
func (s *CreatorStore) updateReturning(ctx context.Context, creator *models.Creator, op, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	updated, err := scanCreator(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrCreatorNotFound
		}
		if isUniqueViolation(err) {
			return store.ErrCreatorAlreadyExists
		}
		return fmt.Errorf("failed to %s: %w", op, mapPostgresError(err))
	}

	*creator = *updated
	return nil
}

// DecrementCredits subtracts one credit in a single statement and returns the new balance.
func (s *CreatorStore) DecrementCredits(ctx context.Context, creatorID string) (int, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var credits int
	err := s.pool.QueryRow(ctx, `
		UPDATE creators SET credits = credits - 1, updated_at = now()
		WHERE creator_id = $1
		RETURNING credits
	`, creatorID).Scan(&credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrCreatorNotFound
		}
		return 0, fmt.Errorf("failed to decrement credits: %w", mapPostgresError(err))
	}

	return credits, nil
}

func (s *CreatorStore) queryOne(ctx context.Context, query string, args ...any) (*models.Creator, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	creator, err := scanCreator(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to get creator: %w", mapPostgresError(err))
	}
	return creator, nil
}

func (s *CreatorStore) queryMany(ctx context.Context, query string, args ...any) ([]*models.Creator, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var creators []*models.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan creator: %w", err)
		}
		creators = append(creators, c)
	}

	return creators, rows.Err()
}

func scanCreator(row pgx.Row) (*models.Creator, error) {
	var c models.Creator
	var planType string
	err := row.Scan(
		&c.ID,
		&c.WhopUserID,
		&c.WhopCompanyID,
		&c.MessageTemplate,
		&c.AudioFileURL,
		&c.FishAudioModelID,
		&c.IsSetupComplete,
		&c.IsAutomationActive,
		&c.Credits,
		&planType,
		&c.WhopPlanID,
		&c.LastPurchaseDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.PlanType = models.PlanType(planType)
	return &c, nil
}
