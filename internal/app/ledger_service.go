package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LedgerService wraps the reminder ledger: dedup checks, delivery records and
// interaction tracking.
type LedgerService struct {
	repo   reminder.Repository
	logger *logrus.Entry
	now    func() time.Time
}

func NewLedgerService(repo reminder.Repository, logger *logrus.Entry) *LedgerService {
	return &LedgerService{
		repo:   repo,
		logger: logger.WithField("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewEntryID reserves an id before dispatch so tracking links can embed it.
func (s *LedgerService) NewEntryID() string {
	return uuid.NewString()
}

// WasReminderSent reports whether a sent entry exists for the key.
func (s *LedgerService) WasReminderSent(ctx context.Context, key reminder.Key) (bool, error) {
	key.RenewalDate = item.DateOf(key.RenewalDate)
	sent, err := s.repo.ExistsSent(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger for %s: %w", key, err)
	}
	return sent, nil
}

// RecordSent stores a successful delivery. It returns reminder.ErrDuplicateKey
// when another run already recorded the key; callers treat that as success.
func (s *LedgerService) RecordSent(ctx context.Context, e *reminder.Entry) error {
	s.prepare(e, reminder.StatusSent)
	e.Error = ""

	if err := s.repo.Insert(ctx, e); err != nil {
		if errors.Is(err, reminder.ErrDuplicateKey) {
			return reminder.ErrDuplicateKey
		}
		return fmt.Errorf("failed to record sent reminder %s: %w", e.Key, err)
	}
	return nil
}

// RecordFailed stores a failed attempt. It does not occupy the dedup key.
func (s *LedgerService) RecordFailed(ctx context.Context, e *reminder.Entry, cause error) error {
	s.prepare(e, reminder.StatusFailed)
	if cause != nil {
		e.Error = cause.Error()
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		return fmt.Errorf("failed to record failed reminder %s: %w", e.Key, err)
	}
	return nil
}

func (s *LedgerService) prepare(e *reminder.Entry, status reminder.Status) {
	if e.ID == "" {
		e.ID = s.NewEntryID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.Status = status
	e.Key.RenewalDate = item.DateOf(e.Key.RenewalDate)
}

// TrackInteraction appends an event to an entry. A repeat of the same event
// within the same minute is accepted but stored once; recorded reports
// whether a row was written. A zero occurredAt means now.
func (s *LedgerService) TrackInteraction(
	ctx context.Context,
	entryID string,
	typ reminder.InteractionType,
	outcome string,
	occurredAt time.Time,
) (entry *reminder.Entry, recorded bool, err error) {
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	in, err := reminder.Interaction{
		ID:         uuid.NewString(),
		EntryID:    entryID,
		Type:       typ,
		Outcome:    outcome,
		OccurredAt: occurredAt.UTC(),
	}.Normalize()
	if err != nil {
		return nil, false, err
	}

	if _, err := s.repo.GetByID(ctx, entryID); err != nil {
		return nil, false, err
	}

	recorded, err = s.repo.AppendInteraction(ctx, in)
	if err != nil {
		return nil, false, fmt.Errorf("failed to store interaction on entry %s: %w", entryID, err)
	}

	logger := s.logger.WithFields(logrus.Fields{"entry_id": entryID, "type": in.Type, "outcome": in.Outcome})
	if recorded {
		logger.Info("Interaction recorded")
	} else {
		logger.Debug("Duplicate interaction ignored")
	}

	entry, err = s.repo.GetByID(ctx, entryID)
	if err != nil {
		return nil, recorded, err
	}
	return entry, recorded, nil
}

// GetEntry returns an entry with its interactions.
func (s *LedgerService) GetEntry(ctx context.Context, entryID string) (*reminder.Entry, error) {
	return s.repo.GetByID(ctx, entryID)
}

// ListForUser returns the user's most recent entries, newest first.
func (s *LedgerService) ListForUser(ctx context.Context, userID string, limit int) ([]*reminder.Entry, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}
