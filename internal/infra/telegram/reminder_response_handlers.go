package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"renewal_reminder/internal/domain/contact"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"
	dtg "renewal_reminder/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// InteractionTracker is the slice of the ledger the callback handlers need.
type InteractionTracker interface {
	GetEntry(ctx context.Context, entryID string) (*reminder.Entry, error)
	TrackInteraction(ctx context.Context, entryID string, typ reminder.InteractionType, outcome string, occurredAt time.Time) (*reminder.Entry, bool, error)
}

var ErrNotEntryOwner = fmt.Errorf("reminder belongs to another user")

// ProcessAction records an outcome button press made from chatID and returns
// the text for the callback answer.
func ProcessAction(
	ctx context.Context,
	tracker InteractionTracker,
	contacts contact.Directory,
	chatID int64,
	entryID string,
	outcome string,
	at time.Time,
) (string, error) {
	userID, err := contacts.UserByAddress(ctx, notifier.ChannelTelegram, strconv.FormatInt(chatID, 10))
	if err != nil {
		return "", err
	}
	entry, err := tracker.GetEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	if entry.Key.UserID != userID {
		return "", ErrNotEntryOwner
	}

	_, recorded, err := tracker.TrackInteraction(ctx, entryID, reminder.InteractionActed, outcome, at)
	if err != nil {
		return "", err
	}
	if !recorded {
		return "Already noted.", nil
	}
	switch outcome {
	case reminder.OutcomeRenewed:
		return "Marked as renewed.", nil
	case reminder.OutcomeCancelled:
		return "Marked as cancelled.", nil
	default:
		return "Reminder dismissed.", nil
	}
}

func RegisterReminderResponseHandlers(
	ctx context.Context,
	b *telebot.Bot,
	tracker InteractionTracker,
	contacts contact.Directory,
	baseLogger *logrus.Entry,
) {
	for _, a := range actionButtons {
		outcome := a.outcome
		b.Handle(&telebot.Btn{Unique: dtg.ActionUnique(outcome)}, func(c telebot.Context) error {
			entryID := c.Callback().Data
			logCtx := baseLogger.WithFields(logrus.Fields{
				"handler":  "reminder_action",
				"outcome":  outcome,
				"entry_id": entryID,
				"chat_id":  c.Chat().ID,
			})

			text, err := ProcessAction(ctx, tracker, contacts, c.Chat().ID, entryID, outcome, time.Now().UTC())
			if err != nil {
				switch {
				case errors.Is(err, reminder.ErrEntryNotFound):
					logCtx.WithError(err).Warn("Callback for unknown reminder")
					return c.Respond(&telebot.CallbackResponse{Text: "This reminder no longer exists."})
				case errors.Is(err, contact.ErrNotFound), errors.Is(err, ErrNotEntryOwner):
					logCtx.WithError(err).Warn("Callback from unlinked chat")
					return c.Respond(&telebot.CallbackResponse{Text: "This chat is not linked to the reminder's owner."})
				}
				logCtx.WithError(err).Error("Failed to record reminder action")
				return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong, please try again."})
			}

			logCtx.Info("Reminder action processed")
			return c.Respond(&telebot.CallbackResponse{Text: text})
		})
	}
}
