package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Channel names a delivery route for a reminder.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelInApp    Channel = "in_app"
	ChannelTelegram Channel = "telegram"
)

var knownChannels = map[Channel]struct{}{
	ChannelEmail:    {},
	ChannelInApp:    {},
	ChannelTelegram: {},
}

// ParseChannel normalises and validates a channel name.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownChannels[c]; !ok {
		return "", fmt.Errorf("unknown notification channel %q", s)
	}
	return c, nil
}

// ValidateChannels checks that every channel is known and listed once.
func ValidateChannels(channels []Channel) error {
	seen := make(map[Channel]struct{}, len(channels))
	for _, c := range channels {
		if _, ok := knownChannels[c]; !ok {
			return fmt.Errorf("unknown notification channel %q", c)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("channel %q listed twice", c)
		}
		seen[c] = struct{}{}
	}
	return nil
}

// Message is the rendered reminder handed to a transport.
type Message struct {
	EntryID     string // ledger entry id reserved for this delivery
	UserID      string
	ItemID      string
	OffsetDays  int
	Address     string // channel-specific recipient, resolved from the contact directory
	Subject     string
	Body        string
	Overdue     bool
	TrackingURL string
	RenewalDate time.Time
}

// Sender delivers a message over one channel.
// This keeps the scheduling logic independent from any transport library.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, msg Message) error
}

// ErrDispatchFailed wraps every transport failure, including timeouts.
var ErrDispatchFailed = fmt.Errorf("notification dispatch failed")

// DispatchError carries the channel that failed.
type DispatchError struct {
	Channel Channel
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch via %s failed: %v", e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() []error {
	return []error{ErrDispatchFailed, e.Err}
}
