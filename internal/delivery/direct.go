package delivery

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/whop"
)

// DirectMessageAPI sends platform direct messages.
type DirectMessageAPI interface {
	SendDirectMessage(ctx context.Context, companyID, toUserID, content string) (*whop.Message, error)
}

// DirectMessenger delivers as a direct message from the creator's company.
type DirectMessenger struct {
	api DirectMessageAPI
}

var _ Deliverer = (*DirectMessenger)(nil)

func NewDirectMessenger(api DirectMessageAPI) *DirectMessenger {
	return &DirectMessenger{api: api}
}

func (d *DirectMessenger) Deliver(ctx context.Context, creator *models.Creator, customer *models.Customer, content string) (Result, error) {
	if customer.WhopUserID == "" {
		return Result{Skipped: true, Reason: "Member has no Whop user id"}, nil
	}

	msg, err := d.api.SendDirectMessage(ctx, creator.WhopCompanyID, customer.WhopUserID, content)
	if err != nil {
		return Result{}, fmt.Errorf("failed to send direct message: %w", err)
	}

	log.Ctx(ctx).Info().
		Str("customer_id", customer.ID).
		Str("message_id", msg.ID).
		Msg("Welcome direct message delivered")

	return Result{MessageID: msg.ID}, nil
}
