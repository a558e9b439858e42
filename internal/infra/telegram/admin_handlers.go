package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"renewal_reminder/internal/app"
	"renewal_reminder/internal/domain/item"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// maxDueLines caps the /due reply so it stays within one Telegram message.
const maxDueLines = 30

// parseAsOf reads an optional YYYY-MM-DD argument, defaulting to today in loc.
func parseAsOf(args []string, now time.Time, loc *time.Location) (time.Time, error) {
	if len(args) == 0 {
		return item.DateOf(now.In(loc)), nil
	}
	return item.ParseDate(args[0])
}

// FormatTickSummary renders a tick outcome for the operator.
func FormatTickSummary(s app.TickSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tick for %s: scanned %d, due %d, sent %d, duplicates %d, failed %d",
		item.FormatDate(s.AsOf), s.Scanned, s.Due, s.Sent, s.Duplicates, s.Failed)
	if len(s.Skipped) > 0 {
		reasons := make([]string, 0, len(s.Skipped))
		for r, n := range s.Skipped {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(&b, "\nSkipped: %s", strings.Join(reasons, ", "))
	}
	return b.String()
}

// FormatDue renders a due-reminder preview for the operator.
func FormatDue(asOf time.Time, due []app.DueReminder) string {
	if len(due) == 0 {
		return fmt.Sprintf("No reminders due on %s.", item.FormatDate(asOf))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d reminder(s) due on %s:\n", len(due), item.FormatDate(asOf))
	for i, d := range due {
		if i == maxDueLines {
			fmt.Fprintf(&b, "... and %d more", len(due)-maxDueLines)
			break
		}
		fmt.Fprintf(&b, "%s / %s: %s, %s at %d days, renews %s\n",
			d.UserID, d.Item.ID, d.Item.Title, d.Kind, d.OffsetDays, item.FormatDate(d.RenewalDate))
	}
	return strings.TrimRight(b.String(), "\n")
}

// RegisterAdminHandlers registers handlers for operator commands.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, adminService *app.AdminService, loc *time.Location, baseLogger *logrus.Entry) {
	b.Handle("/link", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/link",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		args := c.Args()
		// Expected format: /link <userID> <chatID>
		if len(args) != 2 {
			return c.Send("Usage: /link <userID> <chatID>")
		}
		chatID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return c.Send("Error: chat id must be a number.")
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{"user_id": args[0], "chat_id": chatID})

		if err := adminService.LinkTelegram(ctx, c.Sender().ID, args[0], chatID); err != nil {
			logWithError := handlerLogger.WithError(err)
			switch {
			case errors.Is(err, app.ErrAdminNotAuthorized):
				logWithError.Warn("Unauthorized access attempt")
				return c.Send("Error: you are not allowed to run this command.")
			case errors.Is(err, app.ErrChatAlreadyLinked):
				logWithError.Warn("Chat already linked")
				return c.Send(fmt.Sprintf("Error: chat %d is already linked to another user.", chatID))
			default:
				logWithError.Error("Failed to link chat")
				return c.Send(fmt.Sprintf("Failed to link chat: %s", err.Error()))
			}
		}

		handlerLogger.Info("Chat linked")
		return c.Send(fmt.Sprintf("Chat %d linked to user %s.", chatID, args[0]))
	})

	b.Handle("/tick", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/tick", "sender_id": c.Sender().ID})
		if !adminService.IsAdmin(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}
		asOf, err := parseAsOf(c.Args(), time.Now(), loc)
		if err != nil {
			return c.Send("Usage: /tick [YYYY-MM-DD]")
		}

		summary, err := adminService.RunTick(ctx, c.Sender().ID, asOf)
		if err != nil {
			handlerLogger.WithError(err).Error("Manual tick failed")
			return c.Send(fmt.Sprintf("Tick failed: %s", err.Error()))
		}
		handlerLogger.WithField("sent", summary.Sent).Info("Manual tick completed")
		return c.Send(FormatTickSummary(summary))
	})

	b.Handle("/due", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{"handler": "/due", "sender_id": c.Sender().ID})
		if !adminService.IsAdmin(c.Sender().ID) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Error: you are not allowed to run this command.")
		}
		asOf, err := parseAsOf(c.Args(), time.Now(), loc)
		if err != nil {
			return c.Send("Usage: /due [YYYY-MM-DD]")
		}

		due, _, err := adminService.ListDue(ctx, c.Sender().ID, asOf)
		if err != nil {
			handlerLogger.WithError(err).Error("Failed to list due reminders")
			return c.Send(fmt.Sprintf("Failed to list due reminders: %s", err.Error()))
		}
		return c.Send(FormatDue(asOf, due))
	})
}
