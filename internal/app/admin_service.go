package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"renewal_reminder/internal/domain/contact"
	"renewal_reminder/internal/domain/notifier"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")
var ErrChatAlreadyLinked = fmt.Errorf("telegram chat is already linked to another user")

// ContactLinker stores a user's address on a channel.
type ContactLinker interface {
	contact.Directory
	Upsert(ctx context.Context, userID string, channel notifier.Channel, address string) error
}

// AdminService backs the operator commands of the Telegram bot. Every call
// is checked against the configured admin chat id.
type AdminService struct {
	reminders       ReminderService
	contacts        ContactLinker
	adminTelegramID int64
}

func NewAdminService(reminders ReminderService, contacts ContactLinker, adminID int64) *AdminService {
	return &AdminService{
		reminders:       reminders,
		contacts:        contacts,
		adminTelegramID: adminID,
	}
}

func (s *AdminService) authorize(performingAdminID int64) error {
	if s.adminTelegramID == 0 || performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// IsAdmin reports whether the chat id belongs to the operator.
func (s *AdminService) IsAdmin(telegramID int64) bool {
	return s.authorize(telegramID) == nil
}

// LinkTelegram points userID's Telegram channel at chatID. A chat already
// linked to a different user is rejected.
func (s *AdminService) LinkTelegram(ctx context.Context, performingAdminID int64, userID string, chatID int64) error {
	if err := s.authorize(performingAdminID); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if err := requireUserID(userID); err != nil {
		return err
	}

	address := strconv.FormatInt(chatID, 10)
	owner, err := s.contacts.UserByAddress(ctx, notifier.ChannelTelegram, address)
	switch {
	case err == nil && owner != userID:
		return ErrChatAlreadyLinked
	case err != nil && !errors.Is(err, contact.ErrNotFound):
		return fmt.Errorf("failed to check existing link: %w", err)
	}

	if err := s.contacts.Upsert(ctx, userID, notifier.ChannelTelegram, address); err != nil {
		return fmt.Errorf("failed to link telegram chat: %w", err)
	}
	return nil
}

// RunTick runs the reminder pipeline immediately.
func (s *AdminService) RunTick(ctx context.Context, performingAdminID int64, asOf time.Time) (TickSummary, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return TickSummary{}, err
	}
	return s.reminders.RunTick(ctx, asOf)
}

// ListDue previews the reminders a tick at asOf would consider.
func (s *AdminService) ListDue(ctx context.Context, performingAdminID int64, asOf time.Time) ([]DueReminder, ScanSummary, error) {
	if err := s.authorize(performingAdminID); err != nil {
		return nil, ScanSummary{}, err
	}
	return s.reminders.FindDue(ctx, asOf)
}
