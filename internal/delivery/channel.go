package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// ChannelAPI is the subset of the Whop client used for support channels.
type ChannelAPI interface {
	ListSupportChannels(ctx context.Context, companyID string) ([]whop.SupportChannel, error)
	CreateSupportChannel(ctx context.Context, companyID, userID string) (*whop.SupportChannel, error)
	SendMessage(ctx context.Context, channelID, content string) (*whop.Message, error)
}

// ChannelResolver delivers through the member's support channel, creating
// it when the company has none for the member yet.
type ChannelResolver struct {
	api ChannelAPI
}

var _ Deliverer = (*ChannelResolver)(nil)

// NewChannelResolver creates a resolver over api.
func NewChannelResolver(api ChannelAPI) *ChannelResolver {
	return &ChannelResolver{api: api}
}

// Deliver finds or creates the channel and posts content to it.
func (r *ChannelResolver) Deliver(ctx context.Context, creator *models.Creator, customer *models.Customer, content string) (Result, error) {
	logger := log.Ctx(ctx).With().
		Str("company_id", creator.WhopCompanyID).
		Str("customer_id", customer.ID).
		Logger()

	channelID, err := r.resolve(ctx, creator.WhopCompanyID, customer.WhopUserID)
	if err != nil {
		return Result{}, err
	}
	if channelID == "" {
		logger.Warn().Str("whop_user_id", customer.WhopUserID).Msg("No support channel available, skipping delivery")
		return Result{
			Skipped: true,
			Reason:  "Could not open a support channel with this member",
		}, nil
	}

	msg, err := r.api.SendMessage(ctx, channelID, content)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send message to channel %s: %w", channelID, err)
	}

	logger.Info().Str("channel_id", channelID).Str("message_id", msg.ID).Msg("Welcome message delivered")
	return Result{MessageID: msg.ID, ChannelID: channelID}, nil
}

func (r *ChannelResolver) resolve(ctx context.Context, companyID, userID string) (string, error) {
	id, err := r.find(ctx, companyID, userID)
	if err != nil || id != "" {
		return id, err
	}

	ch, err := r.api.CreateSupportChannel(ctx, companyID, userID)
	switch {
	case err == nil:
		return ch.ID, nil
	case errors.Is(err, whop.ErrUserAlreadyHasChannel):
		log.Ctx(ctx).Debug().Str("company_id", companyID).Msg("Channel already exists, listing again")
		return r.find(ctx, companyID, userID)
	default:
		return "", fmt.Errorf("failed to create support channel: %w", err)
	}
}

func (r *ChannelResolver) find(ctx context.Context, companyID, userID string) (string, error) {
	channels, err := r.api.ListSupportChannels(ctx, companyID)
	if err != nil {
		return "", fmt.Errorf("failed to list support channels: %w", err)
	}
	for _, ch := range channels {
		if ch.CustomerUser != nil && ch.CustomerUser.ID == userID {
			return ch.ID, nil
		}
	}
	return "", nil
}
