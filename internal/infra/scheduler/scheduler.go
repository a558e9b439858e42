package scheduler

import (
	"context"
	"fmt"
	"time"

	"renewal_reminder/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Ticker is the part of the reminder service the scheduler drives.
type Ticker interface {
	RunTick(ctx context.Context, asOf time.Time) (app.TickSummary, error)
}

type ReminderScheduler struct {
	cronEngine   *cron.Cron
	ticker       Ticker
	logger       *logrus.Entry
	cronSpecTick string
	tickTimeout  time.Duration
	location     *time.Location
	now          func() time.Time
}

func NewReminderScheduler(
	ticker Ticker,
	logger *logrus.Entry,
	cronSpecTick string, // e.g. "0 */6 * * *" (every 6 hours)
	tickTimeout time.Duration,
	location *time.Location, // calendar days are taken in this zone
) *ReminderScheduler {
	if location == nil {
		location = time.UTC
	}
	logger = logger.WithField("component", "scheduler")
	return &ReminderScheduler{
		// Overlapping runs in this process are skipped; other processes are
		// fenced by the ledger's unique key.
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		ticker:       ticker,
		logger:       logger,
		cronSpecTick: cronSpecTick,
		tickTimeout:  tickTimeout,
		location:     location,
		now:          time.Now,
	}
}

func (s *ReminderScheduler) Start() error {
	s.logger.Info("Starting reminder scheduler...")

	_, err := s.cronEngine.AddFunc(s.cronSpecTick, func() {
		s.logger.Info("Cron job triggered for reminder tick.")
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.WithError(err).Error("Error during reminder tick")
		}
	})
	if err != nil {
		return fmt.Errorf("could not add reminder tick cron job %q: %w", s.cronSpecTick, err)
	}

	s.cronEngine.Start()
	s.logger.WithField("spec", s.cronSpecTick).Info("Reminder scheduler started.")
	return nil
}

// RunOnce runs a single tick for today's date in the scheduler's zone.
func (s *ReminderScheduler) RunOnce(ctx context.Context) (app.TickSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.tickTimeout)
	defer cancel()
	return s.ticker.RunTick(ctx, s.now().In(s.location))
}

func (s *ReminderScheduler) Stop() {
	s.logger.Info("Stopping reminder scheduler...")
	ctx := s.cronEngine.Stop() // waits for a running tick
	<-ctx.Done()
	s.logger.Info("Reminder scheduler gracefully stopped.")
}
