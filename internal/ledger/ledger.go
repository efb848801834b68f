// Package ledger gates welcome generation on a creator's credit balance and
// charges credits after confirmed delivery.
//
// The ledger only mutates the credit balance. Reactions such as pausing
// automation subscribe to the events it publishes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/store"
)

// ErrInsufficientCredits is returned when a metered creator has no balance left.
var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsReason is recorded on failed jobs blocked by the credit gate.
const InsufficientCreditsReason = "No credits remaining. Upgrade your plan to keep sending welcome messages."

// EventType identifies a ledger event.
type EventType string

const (
	// EventCreditConsumed is published after every decrement.
	EventCreditConsumed EventType = "credit_consumed"
	// EventCreditsExhausted is published when the balance reaches zero or below,
	// either by a decrement or by a failed availability check.
	EventCreditsExhausted EventType = "credits_exhausted"
)

// Event describes a change in a creator's balance.
type Event struct {
	Type      EventType
	CreatorID string
	Remaining int
	At        time.Time
}

// Subscriber reacts to ledger events. Subscribers run synchronously in
// registration order and must not call back into Publish.
type Subscriber func(ctx context.Context, ev Event)

// Availability is the result of a credit check.
type Availability struct {
	OK     bool
	Reason string
}

// Ledger charges credits against the creator store.
type Ledger struct {
	creators store.CreatorStore

	mu   sync.RWMutex
	subs []Subscriber
}

// New creates a ledger backed by creators.
func New(creators store.CreatorStore) *Ledger {
	return &Ledger{creators: creators}
}

// Subscribe registers fn for every future event.
func (l *Ledger) Subscribe(fn Subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, fn)
}

// CheckAvailability reports whether the creator may start a metered generation.
// Unlimited creators always pass.
func (l *Ledger) CheckAvailability(creator *models.Creator) Availability {
	if creator.IsUnlimited() || creator.Credits > 0 {
		return Availability{OK: true}
	}
	return Availability{OK: false, Reason: InsufficientCreditsReason}
}

// Exhausted publishes EventCreditsExhausted for a creator that failed the gate.
func (l *Ledger) Exhausted(ctx context.Context, creator *models.Creator) {
	l.publish(ctx, Event{
		Type:      EventCreditsExhausted,
		CreatorID: creator.ID,
		Remaining: creator.Credits,
		At:        time.Now(),
	})
}

// Decrement charges one credit. It must only be called after a delivery was
// confirmed with a message id. Unlimited creators are never charged and
// Decrement returns their current balance unchanged.
func (l *Ledger) Decrement(ctx context.Context, creator *models.Creator) (int, error) {
	if creator.IsUnlimited() {
		return creator.Credits, nil
	}

	remaining, err := l.creators.DecrementCredits(ctx, creator.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to decrement credits: %w", err)
	}
	creator.Credits = remaining

	log.Ctx(ctx).Debug().
		Str("creator_id", creator.ID).
		Int("remaining", remaining).
		Msg("Credit consumed")

	now := time.Now()
	l.publish(ctx, Event{Type: EventCreditConsumed, CreatorID: creator.ID, Remaining: remaining, At: now})
	if remaining <= 0 {
		l.publish(ctx, Event{Type: EventCreditsExhausted, CreatorID: creator.ID, Remaining: remaining, At: now})
	}

	return remaining, nil
}

func (l *Ledger) publish(ctx context.Context, ev Event) {
	l.mu.RLock()
	subs := make([]Subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.RUnlock()

	for _, fn := range subs {
		fn(ctx, ev)
	}
}
