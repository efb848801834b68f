package models

import (
	"time"
)

// PlanType is the billing tier a creator is on.
type PlanType string

const (
	PlanFree      PlanType = "free"
	PlanTier200   PlanType = "tier200"
	PlanUnlimited PlanType = "unlimited"
)

// Valid reports whether p is one of the known plan tiers.
func (p PlanType) Valid() bool {
	switch p {
	case PlanFree, PlanTier200, PlanUnlimited:
		return true
	}
	return false
}

// DefaultMessageTemplate is used when a creator record is created without a template.
const DefaultMessageTemplate = "Hey {name}! Welcome! I wanted to reach out personally to let you know how excited I am to have you join us. This is a great community, and I think you're going to love it here. If you ever need anything or have questions, don't hesitate to ask. Glad you're here!"

// Creator is one operator's configuration and quota for one Whop company.
// The same Whop user administering two companies has two Creator records.
type Creator struct {
	ID            string `json:"id" firestore:"-"`
	WhopUserID    string `json:"whopUserId" firestore:"whopUserId"`
	WhopCompanyID string `json:"whopCompanyId" firestore:"whopCompanyId"`

	MessageTemplate  string `json:"messageTemplate" firestore:"messageTemplate"`
	AudioFileURL     string `json:"audioFileUrl,omitempty" firestore:"audioFileUrl"` // data URL of the uploaded voice sample
	FishAudioModelID string `json:"fishAudioModelId,omitempty" firestore:"fishAudioModelId"`

	IsSetupComplete    bool `json:"isSetupComplete" firestore:"isSetupComplete"`
	IsAutomationActive bool `json:"isAutomationActive" firestore:"isAutomationActive"`

	// Billing
	Credits          int        `json:"credits" firestore:"credits"`
	PlanType         PlanType   `json:"planType" firestore:"planType"`
	WhopPlanID       string     `json:"whopPlanId,omitempty" firestore:"whopPlanId"`
	LastPurchaseDate *time.Time `json:"lastPurchaseDate,omitempty" firestore:"lastPurchaseDate"`

	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// IsUnlimited returns true when the creator is never charged credits.
func (c *Creator) IsUnlimited() bool {
	return c.PlanType == PlanUnlimited
}

// SetupReady reports whether the creator has everything needed to mark setup complete.
func (c *Creator) SetupReady() bool {
	return c.FishAudioModelID != "" && c.MessageTemplate != ""
}
