package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// CreatorStore implements store.CreatorStore using Firestore.
// The (user, company) uniqueness is enforced inside a transaction.
type CreatorStore struct {
	client *gcfirestore.Client
}

func (s *CreatorStore) col() *gcfirestore.CollectionRef {
	return s.client.Collection(creatorsCollection)
}

func (s *CreatorStore) tenantQuery(whopUserID, whopCompanyID string) gcfirestore.Query {
	return s.col().Where("whopUserId", "==", whopUserID).Where("whopCompanyId", "==", whopCompanyID).Limit(1)
}

// Create stores a new creator document.
func (s *CreatorStore) Create(ctx context.Context, creator *models.Creator) error {
	if creator.ID == "" {
		creator.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := time.Now().UTC()
	if creator.CreatedAt.IsZero() {
		creator.CreatedAt = now
	}
	creator.UpdatedAt = now
	if creator.PlanType == "" {
		creator.PlanType = models.PlanFree
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		existing, err := tx.Documents(s.tenantQuery(creator.WhopUserID, creator.WhopCompanyID)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return store.ErrCreatorAlreadyExists
		}
		return tx.Create(s.col().Doc(creator.ID), creator)
	})
	if err != nil {
		if errors.Is(err, store.ErrCreatorAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to create creator: %w", err)
	}

	log.Debug().
		Str("creator_id", creator.ID).
		Str("whop_user_id", creator.WhopUserID).
		Str("whop_company_id", creator.WhopCompanyID).
		Msg("Created creator")

	return nil
}

// Get retrieves a creator by document ID.
func (s *CreatorStore) Get(ctx context.Context, creatorID string) (*models.Creator, error) {
	snap, err := s.col().Doc(creatorID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to get creator %q: %w", creatorID, err)
	}
	return decodeCreator(snap)
}

// GetByUserAndCompany retrieves the creator for (user, company).
func (s *CreatorStore) GetByUserAndCompany(ctx context.Context, whopUserID, whopCompanyID string) (*models.Creator, error) {
	return s.first(ctx, s.tenantQuery(whopUserID, whopCompanyID))
}

// GetByCompany returns the oldest creator for a company.
func (s *CreatorStore) GetByCompany(ctx context.Context, whopCompanyID string) (*models.Creator, error) {
	return s.first(ctx, s.col().Where("whopCompanyId", "==", whopCompanyID).
		OrderBy("createdAt", gcfirestore.Asc).Limit(1))
}

// ListByUser returns every creator owned by a Whop user.
func (s *CreatorStore) ListByUser(ctx context.Context, whopUserID string) ([]*models.Creator, error) {
	creators, err := collect(s.col().Where("whopUserId", "==", whopUserID).
		OrderBy("createdAt", gcfirestore.Asc).Documents(ctx), decodeCreator)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators for user %q: %w", whopUserID, err)
	}
	return creators, nil
}

// ListSetupComplete returns creators that have completed setup.
func (s *CreatorStore) ListSetupComplete(ctx context.Context) ([]*models.Creator, error) {
	creators, err := collect(s.col().Where("isSetupComplete", "==", true).
		OrderBy("createdAt", gcfirestore.Asc).Documents(ctx), decodeCreator)
	if err != nil {
		return nil, fmt.Errorf("failed to list setup complete creators: %w", err)
	}
	return creators, nil
}

// Update writes the profile fields of a creator document, rejecting a move onto
// a taken (user, company) pair. Credits, plan and automation fields keep their
// stored values.
func (s *CreatorStore) Update(ctx context.Context, creator *models.Creator) error {
	creator.UpdatedAt = time.Now().UTC()
	ref := s.col().Doc(creator.ID)

	var updated *models.Creator
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return store.ErrCreatorNotFound
			}
			return err
		}
		current, err := decodeCreator(snap)
		if err != nil {
			return err
		}

		if current.WhopUserID != creator.WhopUserID || current.WhopCompanyID != creator.WhopCompanyID {
			taken, err := tx.Documents(s.tenantQuery(creator.WhopUserID, creator.WhopCompanyID)).GetAll()
			if err != nil {
				return err
			}
			if len(taken) > 0 {
				return store.ErrCreatorAlreadyExists
			}
		}

		current.WhopUserID = creator.WhopUserID
		current.WhopCompanyID = creator.WhopCompanyID
		current.MessageTemplate = creator.MessageTemplate
		current.AudioFileURL = creator.AudioFileURL
		current.FishAudioModelID = creator.FishAudioModelID
		current.IsSetupComplete = creator.IsSetupComplete
		current.UpdatedAt = creator.UpdatedAt
		updated = current

		return tx.Set(ref, current)
	})
	if err != nil {
		if errors.Is(err, store.ErrCreatorNotFound) || errors.Is(err, store.ErrCreatorAlreadyExists) {
			return err
		}
		return fmt.Errorf("failed to update creator %q: %w", creator.ID, err)
	}
	*creator = *updated
	return nil
}

// ApplyPlan writes the billing fields of a creator document.
func (s *CreatorStore) ApplyPlan(ctx context.Context, creatorID string, change store.PlanChange) (*models.Creator, error) {
	ref := s.col().Doc(creatorID)

	var updated *models.Creator
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return store.ErrCreatorNotFound
			}
			return err
		}
		current, err := decodeCreator(snap)
		if err != nil {
			return err
		}

		current.PlanType = change.PlanType
		current.WhopPlanID = change.WhopPlanID
		current.LastPurchaseDate = change.LastPurchaseDate
		if change.Credits != nil {
			current.Credits = *change.Credits
		}
		current.UpdatedAt = time.Now().UTC()
		updated = current

		return tx.Update(ref, []gcfirestore.Update{
			{Path: "planType", Value: string(current.PlanType)},
			{Path: "whopPlanId", Value: current.WhopPlanID},
			{Path: "lastPurchaseDate", Value: current.LastPurchaseDate},
			{Path: "credits", Value: current.Credits},
			{Path: "updatedAt", Value: current.UpdatedAt},
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrCreatorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply plan for %q: %w", creatorID, err)
	}
	return updated, nil
}

// SetAutomation flips the automation flag of a creator document.
func (s *CreatorStore) SetAutomation(ctx context.Context, creatorID string, active bool) error {
	_, err := s.col().Doc(creatorID).Update(ctx, []gcfirestore.Update{
		{Path: "isAutomationActive", Value: active},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		if isNotFound(err) {
			return store.ErrCreatorNotFound
		}
		return fmt.Errorf("failed to set automation for %q: %w", creatorID, err)
	}
	return nil
}

// DecrementCredits subtracts one credit inside a transaction and returns the new balance.
func (s *CreatorStore) DecrementCredits(ctx context.Context, creatorID string) (int, error) {
	ref := s.col().Doc(creatorID)

	var credits int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcfirestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return store.ErrCreatorNotFound
			}
			return err
		}
		current, err := decodeCreator(snap)
		if err != nil {
			return err
		}
		credits = current.Credits - 1
		return tx.Update(ref, []gcfirestore.Update{
			{Path: "credits", Value: credits},
			{Path: "updatedAt", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrCreatorNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to decrement credits for %q: %w", creatorID, err)
	}
	return credits, nil
}

func (s *CreatorStore) first(ctx context.Context, q gcfirestore.Query) (*models.Creator, error) {
	creators, err := collect(q.Documents(ctx), decodeCreator)
	if err != nil {
		return nil, fmt.Errorf("failed to query creators: %w", err)
	}
	if len(creators) == 0 {
		return nil, store.ErrCreatorNotFound
	}
	return creators[0], nil
}

func decodeCreator(snap *gcfirestore.DocumentSnapshot) (*models.Creator, error) {
	var c models.Creator
	if err := snap.DataTo(&c); err != nil {
		return nil, fmt.Errorf("failed to decode creator %q: %w", snap.Ref.ID, err)
	}
	c.ID = snap.Ref.ID
	return &c, nil
}
