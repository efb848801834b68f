package identity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// Fallback picks a default creator when a request cannot be tied to a
// company. It is only consulted when explicitly configured.
type Fallback interface {
	Fallback(ctx context.Context) (*models.Creator, error)
}

// FirstSetupComplete falls back to the oldest creator that finished setup.
// It crosses tenant boundaries and is meant for single-tenant deployments and
// local testing only.
type FirstSetupComplete struct {
	Creators store.CreatorStore
}

func (f FirstSetupComplete) Fallback(ctx context.Context) (*models.Creator, error) {
	creators, err := f.Creators.ListSetupComplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list creators: %w", err)
	}
	if len(creators) == 0 {
		return nil, ErrCreatorNotFound
	}

	log.Ctx(ctx).Warn().Str("creator_id", creators[0].ID).Msg("Using fallback creator for unresolved request")
	return creators[0], nil
}
