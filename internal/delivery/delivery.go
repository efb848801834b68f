// Package delivery posts welcome messages to members over Whop messaging.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfeidau/whopvoice/internal/models"
)

// Result is the outcome of a delivery attempt. Exactly one of MessageID or
// Skipped is set.
type Result struct {
	MessageID string
	ChannelID string
	Skipped   bool
	Reason    string
}

// Delivered reports whether the platform confirmed the message.
func (r Result) Delivered() bool {
	return !r.Skipped && r.MessageID != ""
}

// Deliverer sends content from a creator's company to a member.
//
// A Skipped result is a soft failure that callers record without aborting.
// A returned error is a hard failure.
type Deliverer interface {
	Deliver(ctx context.Context, creator *models.Creator, customer *models.Customer, content string) (Result, error)
}

// AudioURL returns the public link to a generated welcome message.
func AudioURL(publicBaseURL, audioMessageID string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/api/audio/" + audioMessageID
}

// WelcomeText is the message body that carries the audio link.
func WelcomeText(name, audioURL string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s! 🎵 I recorded a personal audio message for you.\n\nListen here: %s", name, audioURL)
}
