package app

import (
	"context"
	"fmt"

	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"

	"github.com/shopspring/decimal"
)

// Stats is the delivery and engagement rollup for one user.
type Stats struct {
	UserID         string                     `json:"user_id"`
	ByStatus       map[reminder.Status]int64  `json:"by_status"`
	ByChannel      map[notifier.Channel]int64 `json:"by_channel"`
	ByOutcome      map[string]int64           `json:"by_outcome"`
	TotalSent      int64                      `json:"total_sent"`
	Interactions   int64                      `json:"interactions"`
	EngagementRate decimal.Decimal            `json:"engagement_rate"`
}

type StatsService struct {
	repo reminder.Repository
}

func NewStatsService(repo reminder.Repository) *StatsService {
	return &StatsService{repo: repo}
}

// GetStats aggregates the user's ledger. A user with no entries gets zeros.
func (s *StatsService) GetStats(ctx context.Context, userID string) (*Stats, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	tally, err := s.repo.Tally(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate reminders for user %s: %w", userID, err)
	}
	return statsFromTally(userID, tally), nil
}

func statsFromTally(userID string, t *reminder.Tally) *Stats {
	st := &Stats{
		UserID:         userID,
		ByStatus:       map[reminder.Status]int64{reminder.StatusSent: 0, reminder.StatusFailed: 0},
		ByChannel:      map[notifier.Channel]int64{},
		ByOutcome:      map[string]int64{},
		EngagementRate: decimal.Zero,
	}
	if t == nil {
		return st
	}
	for k, v := range t.ByStatus {
		st.ByStatus[k] = v
	}
	for k, v := range t.ByChannel {
		st.ByChannel[k] = v
	}
	for k, v := range t.ByOutcome {
		st.ByOutcome[k] = v
	}
	st.TotalSent = st.ByStatus[reminder.StatusSent]
	st.Interactions = t.InteractionCount
	st.EngagementRate = EngagementRate(t.InteractionCount, st.TotalSent)
	return st
}

// EngagementRate is interactions per sent reminder, rounded to 4 places.
func EngagementRate(interactions, sent int64) decimal.Decimal {
	if sent == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(interactions).
		DivRound(decimal.NewFromInt(sent), 4)
}
