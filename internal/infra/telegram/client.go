package telegram

import (
	"context"
	"fmt"
	"strings"

	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"
	dtg "renewal_reminder/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified chat.
func (tba *TelebotAdapter) SendMessage(chatID int64, text string, options *telebot.SendOptions) error {
	if options == nil {
		options = &telebot.SendOptions{}
	}
	_, err := tba.bot.Send(&telebot.Chat{ID: chatID}, text, options)
	return err
}

// actionButtons are the outcomes a user can report from a reminder message.
var actionButtons = []struct {
	text    string
	outcome string
}{
	{"Renewed", reminder.OutcomeRenewed},
	{"Cancelled", reminder.OutcomeCancelled},
	{"Ignore", reminder.OutcomeIgnored},
}

// ReminderSender delivers reminders as Telegram messages with inline action
// buttons. The contact address is the chat id.
type ReminderSender struct {
	client dtg.Client
	logger *logrus.Entry
}

func NewReminderSender(client dtg.Client, logger *logrus.Entry) *ReminderSender {
	return &ReminderSender{client: client, logger: logger.WithField("component", "telegram_sender")}
}

func (s *ReminderSender) Channel() notifier.Channel { return notifier.ChannelTelegram }

func (s *ReminderSender) Send(ctx context.Context, msg notifier.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := dtg.ParseChatID(msg.Address)
	if err != nil {
		return err
	}

	// The client call cannot be cancelled; a late result is dropped.
	done := make(chan error, 1)
	go func() {
		done <- s.client.SendMessage(chatID, formatReminder(msg), &telebot.SendOptions{ReplyMarkup: actionMarkup(msg)})
	}()

	select {
	case <-ctx.Done():
		s.logger.WithField("chat_id", chatID).WithError(ctx.Err()).Warn("Telegram send abandoned")
		return &notifier.DispatchError{Channel: notifier.ChannelTelegram, Err: ctx.Err()}
	case err = <-done:
	}
	if err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", chatID, err)
	}
	s.logger.WithFields(logrus.Fields{"chat_id": chatID, "entry_id": msg.EntryID}).Debug("Reminder sent to Telegram")
	return nil
}

func formatReminder(msg notifier.Message) string {
	var b strings.Builder
	if msg.Overdue {
		b.WriteString("⚠️ ")
	} else {
		b.WriteString("🔔 ")
	}
	b.WriteString(msg.Subject)
	if msg.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(msg.Body)
	}
	return b.String()
}

func actionMarkup(msg notifier.Message) *telebot.ReplyMarkup {
	markup := &telebot.ReplyMarkup{}
	var row telebot.Row
	for _, a := range actionButtons {
		row = append(row, markup.Data(a.text, dtg.ActionUnique(a.outcome), msg.EntryID))
	}
	rows := []telebot.Row{row}
	if msg.TrackingURL != "" {
		rows = append(rows, markup.Row(markup.URL("Details", msg.TrackingURL)))
	}
	markup.Inline(rows...)
	return markup
}
