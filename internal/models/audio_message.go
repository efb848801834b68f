package models

import (
	"time"
)

// MessageStatus is the lifecycle state of an AudioMessage.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusGenerating MessageStatus = "generating"
	StatusCompleted  MessageStatus = "completed"
	StatusSending    MessageStatus = "sending"
	StatusSent       MessageStatus = "sent"
	StatusDelivered  MessageStatus = "delivered"
	StatusPlayed     MessageStatus = "played"
	StatusFailed     MessageStatus = "failed"
)

// statusRank orders statuses along the success path. Failed is terminal and
// reachable from any non-terminal state.
var statusRank = map[MessageStatus]int{
	StatusPending:    0,
	StatusGenerating: 1,
	StatusCompleted:  2,
	StatusSending:    3,
	StatusSent:       4,
	StatusDelivered:  5,
	StatusPlayed:     6,
}

// CanTransition reports whether a message may move from one status to another.
// Status only moves forward; a failed message is never resurrected.
func CanTransition(from, to MessageStatus) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return statusRank[from] < statusRank[StatusSent]
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// IsDelivered is true for every status at or beyond sent.
func (s MessageStatus) IsDelivered() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusPlayed
}

// IsInProgress is true while generation has not yet produced audio.
func (s MessageStatus) IsInProgress() bool {
	return s == StatusPending || s == StatusGenerating
}

// AudioMessage is one attempt to generate and deliver a personalised welcome audio.
// The script is immutable once created; retries create a new record.
type AudioMessage struct {
	ID         string `json:"id" firestore:"-"`
	CustomerID string `json:"customerId" firestore:"customerId"`
	CreatorID  string `json:"creatorId" firestore:"creatorId"`

	PersonalizedScript string        `json:"personalizedScript" firestore:"personalizedScript"`
	Status             MessageStatus `json:"status" firestore:"status"`
	AudioURL           string        `json:"audioUrl,omitempty" firestore:"audioUrl"` // data:audio/mp3;base64,...

	WhopChatID    string `json:"whopChatId,omitempty" firestore:"whopChatId"`
	WhopMessageID string `json:"whopMessageId,omitempty" firestore:"whopMessageId"`
	ErrorMessage  string `json:"errorMessage,omitempty" firestore:"errorMessage"`
	PlayCount     int    `json:"playCount" firestore:"playCount"`

	// IsPreview marks an operator test run. Previews are never delivered and
	// do not count as the member's welcome.
	IsPreview bool `json:"isPreview,omitempty" firestore:"isPreview"`

	CreatedAt   time.Time  `json:"createdAt" firestore:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" firestore:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" firestore:"completedAt"`
	SentAt      *time.Time `json:"sentAt,omitempty" firestore:"sentAt"`
	PlayedAt    *time.Time `json:"playedAt,omitempty" firestore:"playedAt"`
}
