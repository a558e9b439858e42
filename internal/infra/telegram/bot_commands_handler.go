package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"renewal_reminder/internal/app"
	"renewal_reminder/internal/domain/contact"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// StatsProvider returns the delivery rollup for a user.
type StatsProvider interface {
	GetStats(ctx context.Context, userID string) (*app.Stats, error)
}

// FormatStats renders stats as a short plain-text report.
func FormatStats(st *app.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reminders sent: %d\n", st.TotalSent)
	fmt.Fprintf(&b, "Failed attempts: %d\n", st.ByStatus[reminder.StatusFailed])
	fmt.Fprintf(&b, "Interactions: %d (engagement %s%%)\n", st.Interactions, st.EngagementRate.Shift(2).StringFixed(2))

	if len(st.ByChannel) > 0 {
		channels := make([]string, 0, len(st.ByChannel))
		for c, n := range st.ByChannel {
			channels = append(channels, fmt.Sprintf("%s: %d", c, n))
		}
		sort.Strings(channels)
		fmt.Fprintf(&b, "By channel: %s\n", strings.Join(channels, ", "))
	}
	if len(st.ByOutcome) > 0 {
		outcomes := make([]string, 0, len(st.ByOutcome))
		for o, n := range st.ByOutcome {
			outcomes = append(outcomes, fmt.Sprintf("%s: %d", o, n))
		}
		sort.Strings(outcomes)
		fmt.Fprintf(&b, "Outcomes: %s\n", strings.Join(outcomes, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func RegisterBotCommands(
	ctx context.Context,
	b *telebot.Bot,
	contacts contact.Directory,
	stats StatsProvider,
	admin *app.AdminService,
	baseLogger *logrus.Entry,
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	linkedUser := func(chatID int64) (string, error) {
		return contacts.UserByAddress(ctx, notifier.ChannelTelegram, strconv.FormatInt(chatID, 10))
	}

	b.Handle("/start", func(c telebot.Context) error {
		chatID := c.Chat().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("chat_id", chatID)
		logCtx.Info("Processing /start command")

		if admin != nil && admin.IsAdmin(c.Sender().ID) {
			return c.Send("Hello, operator. Use /help for the list of commands.")
		}

		userID, err := linkedUser(chatID)
		if err == nil {
			logCtx.WithField("user_id", userID).Info("Chat is linked")
			return c.Send("Hello! I will send renewal reminders for your tracked items here. Use /stats to see how you are doing.")
		} else if !errors.Is(err, contact.ErrNotFound) {
			logCtx.WithError(err).Error("Error checking chat link for /start command")
			return c.Send("Something went wrong while checking your account. Please try again later.")
		}

		logCtx.Info("Chat is not linked")
		return c.Send(fmt.Sprintf("Hello! This chat is not linked to an account yet. Your chat id is %d; ask the operator to link it.", chatID))
	})

	b.Handle("/help", func(c telebot.Context) error {
		logCtx := startHelpLogger.WithField("command", "/help").WithField("chat_id", c.Chat().ID)
		logCtx.Info("Processing /help command")

		var helpText strings.Builder
		helpText.WriteString("Reminders arrive before each renewal date. Use the buttons under a reminder to mark it Renewed, Cancelled or Ignore.\n\n")
		helpText.WriteString("/stats - delivery and engagement summary\n")
		helpText.WriteString("/help - this message")
		if admin != nil && admin.IsAdmin(c.Sender().ID) {
			helpText.WriteString("\n\nOperator commands:\n")
			helpText.WriteString("/link <userID> <chatID> - link a Telegram chat to a user\n")
			helpText.WriteString("/tick [YYYY-MM-DD] - run the reminder pipeline now\n")
			helpText.WriteString("/due [YYYY-MM-DD] - preview due reminders")
		}
		return c.Send(helpText.String())
	})

	b.Handle("/stats", func(c telebot.Context) error {
		chatID := c.Chat().ID
		logCtx := baseLogger.WithFields(logrus.Fields{"handler": "/stats", "chat_id": chatID})

		userID, err := linkedUser(chatID)
		if err != nil {
			if errors.Is(err, contact.ErrNotFound) {
				return c.Send("This chat is not linked to an account.")
			}
			logCtx.WithError(err).Error("Error resolving chat link")
			return c.Send("Something went wrong. Please try again later.")
		}

		st, err := stats.GetStats(ctx, userID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to load stats")
			return c.Send("Could not load your stats. Please try again later.")
		}
		logCtx.WithField("user_id", userID).Info("Stats sent")
		return c.Send(FormatStats(st))
	})
}
