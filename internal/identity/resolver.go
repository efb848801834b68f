// Package identity maps an inbound Whop request to the creator record of the
// company it belongs to. One Whop user may administer many companies, so the
// company is always derived from the experience the request came through.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// InitialTemplate is the template a freshly initialized creator starts with.
const InitialTemplate = "Hi {name}! Welcome to our community. We're excited to have you here!"

// TokenVerifier verifies Whop user tokens.
type TokenVerifier interface {
	Verify(token string) (*whop.UserToken, error)
}

// PlatformAPI is the subset of the Whop client the resolver calls.
type PlatformAPI interface {
	GetExperience(ctx context.Context, experienceID string) (*whop.Experience, error)
	CheckAccess(ctx context.Context, resourceID, userID string) (*whop.AccessCheck, error)
	GetUser(ctx context.Context, userID string) (*whop.User, error)
}

// Tenant is a resolved request: the verified caller, the company the
// experience belongs to, and that company's creator record.
type Tenant struct {
	UserID    string
	CompanyID string
	Creator   *models.Creator
}

// Access is the caller's standing in an experience.
type Access struct {
	HasAccess   bool
	AccessLevel whop.AccessLevel
	UserID      string
	User        *whop.User
	CompanyID   string
}

// Config holds defaults for creators created by Initialize.
type Config struct {
	InitialCredits int
	Fallback       Fallback
}

// Resolver resolves callers to creators.
type Resolver struct {
	verifier TokenVerifier
	api      PlatformAPI
	creators store.CreatorStore
	cfg      Config
}

// NewResolver creates a resolver.
func NewResolver(verifier TokenVerifier, api PlatformAPI, creators store.CreatorStore, cfg Config) *Resolver {
	return &Resolver{verifier: verifier, api: api, creators: creators, cfg: cfg}
}

// Authenticate verifies a user token and returns the caller's user id.
func (r *Resolver) Authenticate(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing %s header", ErrUnauthorized, whop.UserTokenHeader)
	}
	ut, err := r.verifier.Verify(token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return ut.UserID, nil
}

// Company returns the company that owns an experience.
func (r *Resolver) Company(ctx context.Context, experienceID string) (string, error) {
	if experienceID == "" {
		return "", ErrMissingExperience
	}
	exp, err := r.api.GetExperience(ctx, experienceID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompanyUnresolved, err)
	}
	if exp.Company.ID == "" {
		return "", ErrCompanyUnresolved
	}
	return exp.Company.ID, nil
}

// User fetches the caller's profile.
func (r *Resolver) User(ctx context.Context, userID string) (*whop.User, error) {
	return r.api.GetUser(ctx, userID)
}

// CheckAccess reports the caller's access to an experience. Company lookup
// failures fall back to the caller's own creator record when they are an
// admin; the company is left empty otherwise.
func (r *Resolver) CheckAccess(ctx context.Context, token, experienceID string) (*Access, error) {
	if experienceID == "" {
		return nil, ErrMissingExperience
	}
	userID, err := r.Authenticate(token)
	if err != nil {
		return nil, err
	}

	ac, err := r.api.CheckAccess(ctx, experienceID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check access: %w", err)
	}

	access := &Access{
		HasAccess:   ac.HasAccess,
		AccessLevel: ac.AccessLevel,
		UserID:      userID,
	}

	if u, err := r.api.GetUser(ctx, userID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("Failed to fetch user profile")
	} else {
		access.User = u
	}

	companyID, err := r.Company(ctx, experienceID)
	switch {
	case err == nil:
		access.CompanyID = companyID
	case ac.AccessLevel == whop.AccessAdmin:
		owned, lerr := r.creators.ListByUser(ctx, userID)
		if lerr == nil && len(owned) > 0 {
			access.CompanyID = owned[0].WhopCompanyID
		}
	default:
		log.Ctx(ctx).Warn().Err(err).Str("experience_id", experienceID).Msg("Failed to resolve company")
	}

	return access, nil
}

// Lookup resolves an admin request to an existing creator. A creator record
// of this user whose company id is missing is healed to the resolved company.
func (r *Resolver) Lookup(ctx context.Context, token, experienceID string) (*Tenant, error) {
	userID, err := r.Authenticate(token)
	if err != nil {
		return nil, err
	}
	companyID, err := r.Company(ctx, experienceID)
	if err != nil {
		return nil, err
	}

	creator, err := r.find(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	return &Tenant{UserID: userID, CompanyID: companyID, Creator: creator}, nil
}

// Initialize returns the caller's creator for the experience's company,
// creating it on first visit. Creation requires admin access to the
// experience. The boolean reports whether a record was created.
func (r *Resolver) Initialize(ctx context.Context, token, experienceID string) (*Tenant, bool, error) {
	if experienceID == "" {
		return nil, false, ErrMissingExperience
	}
	userID, err := r.Authenticate(token)
	if err != nil {
		return nil, false, err
	}
	if err := r.requireAdmin(ctx, userID, experienceID); err != nil {
		return nil, false, err
	}
	companyID, err := r.Company(ctx, experienceID)
	if err != nil {
		return nil, false, err
	}

	tenant := &Tenant{UserID: userID, CompanyID: companyID}

	creator, err := r.find(ctx, userID, companyID)
	if err == nil {
		tenant.Creator = creator
		return tenant, false, nil
	}
	if !errors.Is(err, ErrCreatorNotFound) {
		return nil, false, err
	}

	creator = &models.Creator{
		WhopUserID:         userID,
		WhopCompanyID:      companyID,
		MessageTemplate:    InitialTemplate,
		IsAutomationActive: true,
		Credits:            r.cfg.InitialCredits,
		PlanType:           models.PlanFree,
	}
	if err := r.creators.Create(ctx, creator); err != nil {
		if errors.Is(err, store.ErrCreatorAlreadyExists) {
			existing, gerr := r.creators.GetByUserAndCompany(ctx, userID, companyID)
			if gerr != nil {
				return nil, false, fmt.Errorf("failed to load creator: %w", gerr)
			}
			tenant.Creator = existing
			return tenant, false, nil
		}
		return nil, false, fmt.Errorf("failed to create creator: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("creator_id", creator.ID).
		Str("company_id", companyID).
		Str("user_id", userID).
		Msg("Creator initialized")

	tenant.Creator = creator
	return tenant, true, nil
}

// ForCustomer resolves a member-facing request to the company's creator. The
// configured fallback is used only when the request carries no experience or
// the experience has no company.
func (r *Resolver) ForCustomer(ctx context.Context, token, experienceID string) (*Tenant, error) {
	userID, err := r.Authenticate(token)
	if err != nil {
		return nil, err
	}

	tenant := &Tenant{UserID: userID}

	companyID, err := r.Company(ctx, experienceID)
	if err != nil {
		if r.cfg.Fallback == nil {
			return nil, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("experience_id", experienceID).Msg("Company unresolved, using fallback creator")
		creator, ferr := r.cfg.Fallback.Fallback(ctx)
		if ferr != nil {
			return nil, ferr
		}
		tenant.CompanyID = creator.WhopCompanyID
		tenant.Creator = creator
		return tenant, nil
	}

	creator, err := r.creators.GetByCompany(ctx, companyID)
	if err != nil {
		if errors.Is(err, store.ErrCreatorNotFound) {
			return nil, ErrCreatorNotFound
		}
		return nil, fmt.Errorf("failed to load creator: %w", err)
	}

	tenant.CompanyID = companyID
	tenant.Creator = creator
	return tenant, nil
}

func (r *Resolver) requireAdmin(ctx context.Context, userID, experienceID string) error {
	ac, err := r.api.CheckAccess(ctx, experienceID, userID)
	if err != nil {
		return fmt.Errorf("%w: failed to verify access: %w", ErrForbidden, err)
	}
	if ac.AccessLevel != whop.AccessAdmin {
		log.Ctx(ctx).Warn().
			Str("user_id", userID).
			Str("experience_id", experienceID).
			Str("access_level", string(ac.AccessLevel)).
			Msg("Rejected creator initialization without admin access")
		return ErrForbidden
	}
	return nil
}

func (r *Resolver) find(ctx context.Context, userID, companyID string) (*models.Creator, error) {
	creator, err := r.creators.GetByUserAndCompany(ctx, userID, companyID)
	if err == nil {
		return creator, nil
	}
	if !errors.Is(err, store.ErrCreatorNotFound) {
		return nil, fmt.Errorf("failed to load creator: %w", err)
	}

	healed, err := r.heal(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	if healed == nil {
		return nil, ErrCreatorNotFound
	}
	return healed, nil
}

// heal rewrites the company id of a record created before the company was
// known. Records that already carry a different company are left alone:
// creators are keyed by (user, company), so such a record is the operator's
// tenant in another community, not a stale copy of this one.
func (r *Resolver) heal(ctx context.Context, userID, companyID string) (*models.Creator, error) {
	owned, err := r.creators.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	for _, c := range owned {
		if c.WhopCompanyID != "" {
			continue
		}
		c.WhopCompanyID = companyID
		if err := r.creators.Update(ctx, c); err != nil {
			return nil, fmt.Errorf("failed to heal company id: %w", err)
		}
		log.Ctx(ctx).Info().
			Str("creator_id", c.ID).
			Str("company_id", companyID).
			Msg("Healed creator company id")
		return c, nil
	}
	return nil, nil
}
