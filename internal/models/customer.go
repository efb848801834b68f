package models

import (
	"time"
)

// Customer is an end-user of a creator's community who may receive a welcome message.
// Unique per creator by WhopUserID.
type Customer struct {
	ID            string `json:"id" firestore:"-"`
	CreatorID     string `json:"creatorId" firestore:"creatorId"`
	WhopUserID    string `json:"whopUserId" firestore:"whopUserId"`
	WhopMemberID  string `json:"whopMemberId,omitempty" firestore:"whopMemberId"`
	WhopCompanyID string `json:"whopCompanyId,omitempty" firestore:"whopCompanyId"`

	Name     string `json:"name" firestore:"name"`
	Email    string `json:"email,omitempty" firestore:"email"`
	Username string `json:"username,omitempty" firestore:"username"`
	PlanName string `json:"planName,omitempty" firestore:"planName"`

	JoinedAt         time.Time `json:"joinedAt" firestore:"joinedAt"`
	FirstMessageSent bool      `json:"firstMessageSent" firestore:"firstMessageSent"`

	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}
