package contact

import (
	"context"
	"fmt"

	"renewal_reminder/internal/domain/notifier"
)

var ErrNotFound = fmt.Errorf("contact address not found")

// Directory resolves where a user receives messages on a channel,
// e.g. an email address or a Telegram chat id.
type Directory interface {
	Address(ctx context.Context, userID string, channel notifier.Channel) (string, error)
	// UserByAddress maps an inbound address (a Telegram chat id) back to a user.
	UserByAddress(ctx context.Context, channel notifier.Channel, address string) (string, error)
}
