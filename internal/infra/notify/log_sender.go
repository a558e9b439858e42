package notify

import (
	"context"

	"renewal_reminder/internal/domain/notifier"

	"github.com/sirupsen/logrus"
)

// LogSender writes reminders to the log instead of delivering them. It stands
// in for channels with no transport, such as email and in-app.
type LogSender struct {
	channel notifier.Channel
	logger  *logrus.Entry
}

func NewLogSender(channel notifier.Channel, logger *logrus.Entry) *LogSender {
	return &LogSender{channel: channel, logger: logger.WithField("component", "log_sender")}
}

func (s *LogSender) Channel() notifier.Channel { return s.channel }

func (s *LogSender) Send(ctx context.Context, msg notifier.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"channel":      s.channel,
		"address":      msg.Address,
		"entry_id":     msg.EntryID,
		"user_id":      msg.UserID,
		"item_id":      msg.ItemID,
		"offset_days":  msg.OffsetDays,
		"overdue":      msg.Overdue,
		"tracking_url": msg.TrackingURL,
	}).Info(msg.Subject)
	return nil
}
