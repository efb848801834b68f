package whop

import (
	"encoding/json"
	"fmt"
)

// Webhook actions handled by the app.
const (
	ActionMembershipWentValid   = "membership.went_valid"
	ActionMembershipWentInvalid = "membership.went_invalid"
	ActionPaymentSucceeded      = "payment.succeeded"
)

// WebhookEvent is the envelope of every webhook delivery.
type WebhookEvent struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// MembershipEventData is the payload of membership webhooks.
type MembershipEventData struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	User      *User  `json:"user"`
	Plan      *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"plan"`
}

// PlanName returns the plan name or an empty string.
func (d *MembershipEventData) PlanName() string {
	if d.Plan == nil {
		return ""
	}
	return d.Plan.Name
}

// UserID returns the member's user id or an empty string.
func (d *MembershipEventData) UserID() string {
	if d.User == nil {
		return ""
	}
	return d.User.ID
}

// ParseWebhook decodes the envelope of a webhook body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("invalid webhook body: %w", err)
	}
	if ev.Action == "" {
		return nil, fmt.Errorf("webhook has no action")
	}
	return &ev, nil
}

// Membership decodes the data of a membership event.
func (e *WebhookEvent) Membership() (*MembershipEventData, error) {
	var d MembershipEventData
	if len(e.Data) == 0 {
		return &d, nil
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return nil, fmt.Errorf("invalid membership data: %w", err)
	}
	return &d, nil
}
