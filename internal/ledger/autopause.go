package ledger

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/store"
)

// AutoPauser turns automation off for creators whose credits run out.
type AutoPauser struct {
	creators store.CreatorStore
	onPause  func(creatorID string)
}

// NewAutoPauser creates a pauser. onPause is optional and runs after a
// creator was actually paused.
func NewAutoPauser(creators store.CreatorStore, onPause func(creatorID string)) *AutoPauser {
	return &AutoPauser{creators: creators, onPause: onPause}
}

// Handle implements Subscriber.
func (p *AutoPauser) Handle(ctx context.Context, ev Event) {
	if ev.Type != EventCreditsExhausted {
		return
	}

	creator, err := p.creators.Get(ctx, ev.CreatorID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("creator_id", ev.CreatorID).Msg("Failed to load creator for auto-pause")
		return
	}
	if !creator.IsAutomationActive {
		return
	}

	if err := p.creators.SetAutomation(ctx, creator.ID, false); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("creator_id", ev.CreatorID).Msg("Failed to auto-pause creator")
		return
	}

	log.Ctx(ctx).Info().
		Str("creator_id", ev.CreatorID).
		Int("remaining", ev.Remaining).
		Msg("Automation paused, credits exhausted")

	if p.onPause != nil {
		p.onPause(ev.CreatorID)
	}
}
