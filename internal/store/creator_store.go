package store

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/whopvoice/internal/models"
)

// Sentinel errors for creator store operations
var (
	ErrCreatorNotFound      = errors.New("creator not found")
	ErrCreatorAlreadyExists = errors.New("creator already exists")
)

// PlanChange is a billing update applied by ApplyPlan.
type PlanChange struct {
	PlanType         models.PlanType
	WhopPlanID       string
	LastPurchaseDate *time.Time
	Credits          *int // nil keeps the current balance
}

// CreatorStore defines the interface for creator (tenant) storage operations.
// Creators are uniquely keyed by the (WhopUserID, WhopCompanyID) pair.
type CreatorStore interface {
	// Create stores a new creator, assigning ID and timestamps when unset.
	// Returns ErrCreatorAlreadyExists if the (user, company) pair is taken.
	Create(ctx context.Context, creator *models.Creator) error

	// Get retrieves a creator by ID.
	// Returns ErrCreatorNotFound if the creator doesn't exist.
	Get(ctx context.Context, creatorID string) (*models.Creator, error)

	// GetByUserAndCompany retrieves the creator for an operator in a specific company.
	GetByUserAndCompany(ctx context.Context, whopUserID, whopCompanyID string) (*models.Creator, error)

	// GetByCompany returns the oldest creator registered for a company.
	// Used by the webhook receiver which only knows the company.
	GetByCompany(ctx context.Context, whopCompanyID string) (*models.Creator, error)

	// ListByUser returns every creator record an operator owns, oldest first.
	ListByUser(ctx context.Context, whopUserID string) ([]*models.Creator, error)

	// ListSetupComplete returns creators that have finished setup, oldest first.
	ListSetupComplete(ctx context.Context) ([]*models.Creator, error)

	// Update writes the profile fields of a creator (company, template, voice
	// sample, model and setup flag) and refreshes UpdatedAt. Credits, plan and
	// automation state are left as stored; use ApplyPlan and SetAutomation.
	// Returns ErrCreatorNotFound if the creator doesn't exist.
	Update(ctx context.Context, creator *models.Creator) error

	// ApplyPlan writes the billing fields of a creator and returns the stored
	// record. The balance is only replaced when change.Credits is set.
	ApplyPlan(ctx context.Context, creatorID string, change PlanChange) (*models.Creator, error)

	// SetAutomation turns automated welcomes on or off.
	SetAutomation(ctx context.Context, creatorID string, active bool) error

	// DecrementCredits atomically subtracts one credit and returns the new balance.
	DecrementCredits(ctx context.Context, creatorID string) (int, error)
}
