package app

import (
	"context"
	"testing"
	"time"

	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentEntry(key reminder.Key) *reminder.Entry {
	return &reminder.Entry{Key: key, Channel: notifier.ChannelEmail, Content: reminder.ContentSnapshot{Title: "Passport"}}
}

func TestLedger_WasReminderSentBeforeAndAfter(t *testing.T) {
	ledger := NewLedgerService(newFakeLedger(), testLogger())
	ctx := context.Background()
	key := reminder.Key{ItemID: "i1", UserID: "u1", OffsetDays: 30, RenewalDate: time.Date(2025, 6, 1, 15, 4, 0, 0, time.UTC)}

	sent, err := ledger.WasReminderSent(ctx, key)
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, ledger.RecordSent(ctx, sentEntry(key)))

	sent, err = ledger.WasReminderSent(ctx, key)
	require.NoError(t, err)
	assert.True(t, sent)

	other := key
	other.RenewalDate = key.RenewalDate.AddDate(1, 0, 0)
	sent, err = ledger.WasReminderSent(ctx, other)
	require.NoError(t, err)
	assert.False(t, sent, "a new renewal occurrence resets eligibility")
}

func TestLedger_RecordSentTwice(t *testing.T) {
	repo := newFakeLedger()
	ledger := NewLedgerService(repo, testLogger())
	ctx := context.Background()
	key := reminder.Key{ItemID: "i1", UserID: "u1", OffsetDays: 7, RenewalDate: day("2025-06-01")}

	require.NoError(t, ledger.RecordSent(ctx, sentEntry(key)))
	err := ledger.RecordSent(ctx, sentEntry(key))

	assert.ErrorIs(t, err, reminder.ErrDuplicateKey)
	assert.Equal(t, 1, repo.sentCount())
}

func TestLedger_FailedAttemptsDoNotBlock(t *testing.T) {
	repo := newFakeLedger()
	ledger := NewLedgerService(repo, testLogger())
	ctx := context.Background()
	key := reminder.Key{ItemID: "i1", UserID: "u1", OffsetDays: 7, RenewalDate: day("2025-06-01")}

	require.NoError(t, ledger.RecordFailed(ctx, sentEntry(key), context.DeadlineExceeded))
	require.NoError(t, ledger.RecordFailed(ctx, sentEntry(key), context.DeadlineExceeded))

	sent, err := ledger.WasReminderSent(ctx, key)
	require.NoError(t, err)
	assert.False(t, sent)
	require.NoError(t, ledger.RecordSent(ctx, sentEntry(key)))
}

func TestLedger_TrackInteraction(t *testing.T) {
	repo := newFakeLedger()
	ledger := NewLedgerService(repo, testLogger())
	ctx := context.Background()

	e := sentEntry(reminder.Key{ItemID: "i1", UserID: "u1", OffsetDays: 7, RenewalDate: day("2025-06-01")})
	require.NoError(t, ledger.RecordSent(ctx, e))
	at := time.Date(2025, 5, 25, 9, 30, 10, 0, time.UTC)

	entry, recorded, err := ledger.TrackInteraction(ctx, e.ID, reminder.InteractionOpened, "", at)
	require.NoError(t, err)
	assert.True(t, recorded)
	require.Len(t, entry.Interactions, 1)

	// GIVEN a duplicate delivery receipt in the same minute
	_, recorded, err = ledger.TrackInteraction(ctx, e.ID, reminder.InteractionOpened, "", at.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, recorded)

	entry, recorded, err = ledger.TrackInteraction(ctx, e.ID, "ACTED", " Renewed ", at)
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, reminder.OutcomeRenewed, entry.Interactions[1].Outcome)
}

func TestLedger_TrackInteractionErrors(t *testing.T) {
	repo := newFakeLedger()
	ledger := NewLedgerService(repo, testLogger())
	ctx := context.Background()
	e := sentEntry(reminder.Key{ItemID: "i1", UserID: "u1", OffsetDays: 7, RenewalDate: day("2025-06-01")})
	require.NoError(t, ledger.RecordSent(ctx, e))

	_, _, err := ledger.TrackInteraction(ctx, e.ID, reminder.InteractionActed, "", time.Time{})
	assert.ErrorIs(t, err, reminder.ErrInvalidInteraction)

	_, _, err = ledger.TrackInteraction(ctx, e.ID, "forwarded", "", time.Time{})
	assert.ErrorIs(t, err, reminder.ErrInvalidInteraction)

	_, _, err = ledger.TrackInteraction(ctx, "missing", reminder.InteractionClicked, "", time.Time{})
	assert.ErrorIs(t, err, reminder.ErrEntryNotFound)
}

func TestStats(t *testing.T) {
	repo := newFakeLedger()
	ledger := NewLedgerService(repo, testLogger())
	stats := NewStatsService(repo)
	ctx := context.Background()

	// GIVEN three sent reminders, one failure and two interactions
	var ids []string
	for i, offset := range []int{30, 14, 7} {
		e := sentEntry(reminder.Key{ItemID: "i1", UserID: "u1", OffsetDays: offset, RenewalDate: day("2025-06-01")})
		if i == 2 {
			e.Channel = notifier.ChannelTelegram
		}
		require.NoError(t, ledger.RecordSent(ctx, e))
		ids = append(ids, e.ID)
	}
	require.NoError(t, ledger.RecordFailed(ctx, sentEntry(reminder.Key{ItemID: "i2", UserID: "u1", OffsetDays: 7, RenewalDate: day("2025-06-01")}), nil))
	_, _, err := ledger.TrackInteraction(ctx, ids[0], reminder.InteractionOpened, "", time.Time{})
	require.NoError(t, err)
	_, _, err = ledger.TrackInteraction(ctx, ids[2], reminder.InteractionActed, reminder.OutcomeRenewed, time.Time{})
	require.NoError(t, err)

	// WHEN aggregating
	st, err := stats.GetStats(ctx, "u1")
	require.NoError(t, err)

	// THEN
	assert.Equal(t, int64(3), st.TotalSent)
	assert.Equal(t, int64(1), st.ByStatus[reminder.StatusFailed])
	assert.Equal(t, int64(2), st.ByChannel[notifier.ChannelEmail])
	assert.Equal(t, int64(1), st.ByChannel[notifier.ChannelTelegram])
	assert.Equal(t, int64(1), st.ByOutcome[reminder.OutcomeRenewed])
	assert.True(t, decimal.RequireFromString("0.6667").Equal(st.EngagementRate), "got %s", st.EngagementRate)
}

func TestStats_NoEntries(t *testing.T) {
	st, err := NewStatsService(newFakeLedger()).GetStats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalSent)
	assert.True(t, st.EngagementRate.IsZero())
	assert.Empty(t, st.ByChannel)
}
