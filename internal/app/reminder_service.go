package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// Dispatcher delivers a message over the first channel that accepts it and
// reports which one did.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []notifier.Channel, msg notifier.Message) (notifier.Channel, error)
}

// TickRecorder observes tick outcomes, e.g. for Prometheus.
type TickRecorder interface {
	ObserveTick(summary TickSummary)
	ObserveDispatch(channel notifier.Channel, status reminder.Status)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTick(TickSummary)                          {}
func (noopRecorder) ObserveDispatch(notifier.Channel, reminder.Status) {}

// TickSummary is the outcome of one scheduler run.
type TickSummary struct {
	AsOf       time.Time      `json:"as_of"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration_ns"`
	Scanned    int            `json:"scanned"`
	Due        int            `json:"due"`
	Sent       int            `json:"sent"`
	Duplicates int            `json:"duplicates"`
	Failed     int            `json:"failed"`
	Skipped    map[string]int `json:"skipped"`
}

// ReminderService runs the reminder pipeline: find due reminders, check the
// ledger, dispatch, record.
type ReminderService interface {
	RunTick(ctx context.Context, asOf time.Time) (TickSummary, error)
	FindDue(ctx context.Context, asOf time.Time) ([]DueReminder, ScanSummary, error)
}

type ReminderServiceImpl struct {
	finder          *Finder
	ledger          *LedgerService
	dispatcher      Dispatcher
	recorder        TickRecorder
	logger          *logrus.Entry
	notifierTimeout time.Duration
	trackingBaseURL string
}

func NewReminderServiceImpl(
	finder *Finder,
	ledger *LedgerService,
	dispatcher Dispatcher,
	recorder TickRecorder,
	logger *logrus.Entry,
	notifierTimeout time.Duration,
	trackingBaseURL string,
) *ReminderServiceImpl {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if notifierTimeout <= 0 {
		notifierTimeout = 10 * time.Second
	}
	return &ReminderServiceImpl{
		finder:          finder,
		ledger:          ledger,
		dispatcher:      dispatcher,
		recorder:        recorder,
		logger:          logger.WithField("component", "reminder_service"),
		notifierTimeout: notifierTimeout,
		trackingBaseURL: strings.TrimRight(trackingBaseURL, "/"),
	}
}

// FindDue is the read-only half of a tick.
func (s *ReminderServiceImpl) FindDue(ctx context.Context, asOf time.Time) ([]DueReminder, ScanSummary, error) {
	return s.finder.FindItemsNeedingReminders(ctx, asOf)
}

// RunTick delivers every due reminder at most once. A reminder whose
// delivery fails is recorded as a failed attempt and picked up again by the
// next tick; a lost race on the ledger key is counted as a duplicate.
func (s *ReminderServiceImpl) RunTick(ctx context.Context, asOf time.Time) (TickSummary, error) {
	summary := TickSummary{AsOf: item.DateOf(asOf), StartedAt: time.Now().UTC(), Skipped: map[string]int{}}
	s.logger.WithField("as_of", item.FormatDate(asOf)).Info("Starting reminder tick")

	due, scan, err := s.finder.FindItemsNeedingReminders(ctx, asOf)
	if err != nil {
		s.logger.WithError(err).Error("Reminder tick aborted: scan failed")
		return summary, err
	}
	summary.Scanned = scan.Scanned
	summary.Due = scan.Due
	for k, v := range scan.Skipped {
		summary.Skipped[k] = v
	}

	for _, d := range due {
		if err := ctx.Err(); err != nil {
			s.logger.WithError(err).Warn("Reminder tick interrupted")
			break
		}
		switch s.deliver(ctx, d) {
		case reminder.StatusSent:
			summary.Sent++
		case reminder.StatusFailed:
			summary.Failed++
		default:
			summary.Duplicates++
		}
	}

	summary.Duration = time.Since(summary.StartedAt)
	s.recorder.ObserveTick(summary)
	s.logger.WithFields(logrus.Fields{
		"scanned":    summary.Scanned,
		"due":        summary.Due,
		"sent":       summary.Sent,
		"duplicates": summary.Duplicates,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
		"duration":   summary.Duration.String(),
	}).Info("Reminder tick completed")
	return summary, ctx.Err()
}

// deliver handles one reminder and returns sent, failed, or "" for a duplicate.
func (s *ReminderServiceImpl) deliver(ctx context.Context, d DueReminder) reminder.Status {
	key := d.Key()
	logger := s.logger.WithFields(logrus.Fields{
		"item_id":      key.ItemID,
		"user_id":      key.UserID,
		"offset_days":  key.OffsetDays,
		"renewal_date": item.FormatDate(key.RenewalDate),
		"kind":         d.Kind,
	})

	// 1. Ledger check
	sent, err := s.ledger.WasReminderSent(ctx, key)
	if err != nil {
		logger.WithError(err).Error("Ledger check failed, will retry next tick")
		return reminder.StatusFailed
	}
	if sent {
		logger.Debug("Reminder already delivered")
		return ""
	}

	// 2. Dispatch with a bounded timeout
	entry := &reminder.Entry{
		ID:      s.ledger.NewEntryID(),
		Key:     key,
		Content: d.Snapshot(),
	}
	msg := s.renderMessage(d, entry.ID)

	dispatchCtx, cancel := context.WithTimeout(ctx, s.notifierTimeout)
	channel, err := s.dispatcher.Dispatch(dispatchCtx, d.Channels, msg)
	cancel()

	// 3. Record the outcome
	if err != nil {
		var de *notifier.DispatchError
		if errors.As(err, &de) {
			entry.Channel = de.Channel
		}
		s.recorder.ObserveDispatch(entry.Channel, reminder.StatusFailed)
		logger.WithError(err).Warn("Reminder dispatch failed")
		if recErr := s.ledger.RecordFailed(ctx, entry, err); recErr != nil {
			logger.WithError(recErr).Error("Failed to record failed attempt")
		}
		return reminder.StatusFailed
	}

	entry.Channel = channel
	s.recorder.ObserveDispatch(channel, reminder.StatusSent)
	if err := s.ledger.RecordSent(ctx, entry); err != nil {
		if errors.Is(err, reminder.ErrDuplicateKey) {
			logger.Info("Reminder recorded concurrently by another run")
			return ""
		}
		logger.WithError(err).Error("Reminder delivered but not recorded")
		return reminder.StatusFailed
	}
	logger.WithFields(logrus.Fields{"entry_id": entry.ID, "channel": channel}).Info("Reminder delivered")
	return reminder.StatusSent
}

func (s *ReminderServiceImpl) renderMessage(d DueReminder, entryID string) notifier.Message {
	title := d.Item.Title
	if title == "" {
		title = d.Entry.Label
	}
	if d.Item.Provider != "" {
		title = fmt.Sprintf("%s (%s)", title, d.Item.Provider)
	}
	date := d.RenewalDate.Format("2 January 2006")

	var subject string
	var body strings.Builder
	if d.Kind == reminder.KindOverdue {
		subject = fmt.Sprintf("Overdue: %s", title)
		fmt.Fprintf(&body, "%s was due on %s and has not been renewed yet.", title, date)
	} else {
		subject = fmt.Sprintf("%s renews in %s", title, pluralDays(d.OffsetDays))
		fmt.Fprintf(&body, "%s is due on %s.", title, date)
	}
	if d.Cycle.Periodic() {
		fmt.Fprintf(&body, "\nRenewal cycle: %s.", d.Cycle)
	}
	if d.Entry.RequiresAction {
		body.WriteString("\nThis will not renew by itself: please take action.")
	}
	if d.Entry.Urgency == catalog.UrgencyCritical {
		body.WriteString("\nMissing this date can leave you uncovered.")
	}

	msg := notifier.Message{
		EntryID:     entryID,
		UserID:      d.UserID,
		ItemID:      d.Item.ID,
		OffsetDays:  d.OffsetDays,
		Subject:     subject,
		Body:        body.String(),
		Overdue:     d.Kind == reminder.KindOverdue,
		RenewalDate: d.RenewalDate,
	}
	if s.trackingBaseURL != "" {
		msg.TrackingURL = fmt.Sprintf("%s/t/%s/click", s.trackingBaseURL, entryID)
	}
	return msg
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
