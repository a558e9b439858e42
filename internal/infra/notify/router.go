// Package notify routes rendered reminders to per-channel senders.
package notify

import (
	"context"
	"errors"
	"fmt"

	"renewal_reminder/internal/domain/contact"
	"renewal_reminder/internal/domain/notifier"

	"github.com/sirupsen/logrus"
)

// Router tries the effective channels in order and stops at the first
// sender that accepts the message.
type Router struct {
	senders   map[notifier.Channel]notifier.Sender
	directory contact.Directory
	logger    *logrus.Entry
}

func NewRouter(directory contact.Directory, logger *logrus.Entry, senders ...notifier.Sender) *Router {
	r := &Router{
		senders:   make(map[notifier.Channel]notifier.Sender, len(senders)),
		directory: directory,
		logger:    logger.WithField("component", "notify_router"),
	}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

// Channels lists the channels a sender is registered for.
func (r *Router) Channels() []notifier.Channel {
	out := make([]notifier.Channel, 0, len(r.senders))
	for c := range r.senders {
		out = append(out, c)
	}
	return out
}

// Dispatch returns the channel that delivered msg. When every channel fails
// the error is a *notifier.DispatchError for the last channel attempted.
func (r *Router) Dispatch(ctx context.Context, channels []notifier.Channel, msg notifier.Message) (notifier.Channel, error) {
	var lastErr error
	for _, channel := range channels {
		if err := ctx.Err(); err != nil {
			return "", &notifier.DispatchError{Channel: channel, Err: err}
		}

		logger := r.logger.WithFields(logrus.Fields{"channel": channel, "entry_id": msg.EntryID, "user_id": msg.UserID})
		sender, ok := r.senders[channel]
		if !ok {
			logger.Debug("No sender registered for channel, trying next")
			lastErr = &notifier.DispatchError{Channel: channel, Err: fmt.Errorf("no sender registered")}
			continue
		}

		address, err := r.directory.Address(ctx, msg.UserID, channel)
		if err != nil {
			if !errors.Is(err, contact.ErrNotFound) {
				logger.WithError(err).Warn("Failed to resolve contact address")
			}
			lastErr = &notifier.DispatchError{Channel: channel, Err: err}
			continue
		}

		out := msg
		out.Address = address
		if err := sender.Send(ctx, out); err != nil {
			logger.WithError(err).Warn("Sender rejected reminder")
			lastErr = &notifier.DispatchError{Channel: channel, Err: err}
			continue
		}
		return channel, nil
	}

	if lastErr == nil {
		lastErr = &notifier.DispatchError{Err: fmt.Errorf("no channels configured")}
	}
	return "", lastErr
}
