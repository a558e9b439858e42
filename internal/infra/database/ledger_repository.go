package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/reminder"
)

// LedgerRepository persists reminder_ledger and reminder_interactions. The
// partial unique index uq_reminder_ledger_sent is what makes concurrent
// deliveries of the same key collide.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, item_id, user_id, offset_days, renewal_date, status, channel, content_json, error, created_at`

func scanEntry(row interface{ Scan(...any) error }) (*reminder.Entry, error) {
	e := &reminder.Entry{Interactions: []reminder.Interaction{}}
	var content string
	err := row.Scan(&e.ID, &e.Key.ItemID, &e.Key.UserID, &e.Key.OffsetDays, &e.Key.RenewalDate,
		&e.Status, &e.Channel, &content, &e.Error, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.Key.RenewalDate = item.DateOf(e.Key.RenewalDate)
	if err := json.Unmarshal([]byte(content), &e.Content); err != nil {
		return nil, fmt.Errorf("malformed content_json on entry %s: %w", e.ID, err)
	}
	return e, nil
}

// Renewal dates are bound as YYYY-MM-DD text so both drivers compare the
// DATE column the same way.
func (r *LedgerRepository) ExistsSent(ctx context.Context, key reminder.Key) (bool, error) {
	query := `SELECT EXISTS (
                   SELECT 1 FROM reminder_ledger
                   WHERE item_id = $1 AND user_id = $2 AND offset_days = $3 AND renewal_date = $4 AND status = 'sent'
               )`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, key.ItemID, key.UserID, key.OffsetDays, item.FormatDate(key.RenewalDate)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("error checking ledger key: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepository) Insert(ctx context.Context, e *reminder.Entry) error {
	content, err := json.Marshal(e.Content)
	if err != nil {
		return fmt.Errorf("error encoding content snapshot: %w", err)
	}
	query := `INSERT INTO reminder_ledger (` + ledgerColumns + `)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.db.ExecContext(ctx, query,
		e.ID, e.Key.ItemID, e.Key.UserID, e.Key.OffsetDays, item.FormatDate(e.Key.RenewalDate),
		string(e.Status), string(e.Channel), string(content), e.Error, nowIfZero(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return reminder.ErrDuplicateKey
		}
		return fmt.Errorf("error inserting ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*reminder.Entry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM reminder_ledger WHERE id = $1`
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reminder.ErrEntryNotFound
		}
		return nil, fmt.Errorf("error getting ledger entry by ID: %w", err)
	}

	byEntry, err := r.interactions(ctx, `WHERE i.entry_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if list, ok := byEntry[id]; ok {
		e.Interactions = list
	}
	return e, nil
}

// ListByUser returns the newest entries first, each with its interactions.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*reminder.Entry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM reminder_ledger
               WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing ledger entries: %w", err)
	}
	defer rows.Close()

	entries := []*reminder.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning ledger row: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger rows: %w", err)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	byEntry, err := r.interactions(ctx, `JOIN reminder_ledger l ON l.id = i.entry_id WHERE l.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if list, ok := byEntry[e.ID]; ok {
			e.Interactions = list
		}
	}
	return entries, nil
}

func (r *LedgerRepository) interactions(ctx context.Context, where string, arg any) (map[string][]reminder.Interaction, error) {
	query := `SELECT i.id, i.entry_id, i.type, i.outcome, i.occurred_at
               FROM reminder_interactions i ` + where + ` ORDER BY i.occurred_at, i.id`
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("error listing interactions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]reminder.Interaction)
	for rows.Next() {
		var in reminder.Interaction
		if err := rows.Scan(&in.ID, &in.EntryID, &in.Type, &in.Outcome, &in.OccurredAt); err != nil {
			return nil, fmt.Errorf("error scanning interaction: %w", err)
		}
		in.OccurredAt = in.OccurredAt.UTC()
		out[in.EntryID] = append(out[in.EntryID], in)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interactions: %w", err)
	}
	return out, nil
}

// AppendInteraction stores the event unless the same (type, outcome) already
// landed on the entry within the same minute.
func (r *LedgerRepository) AppendInteraction(ctx context.Context, in reminder.Interaction) (bool, error) {
	query := `INSERT INTO reminder_interactions (id, entry_id, type, outcome, minute_bucket, occurred_at)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT (entry_id, type, outcome, minute_bucket) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		in.ID, in.EntryID, string(in.Type), in.Outcome, in.MinuteBucket(), in.OccurredAt.UTC())
	if err != nil {
		return false, fmt.Errorf("error inserting interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *LedgerRepository) Tally(ctx context.Context, userID string) (*reminder.Tally, error) {
	t := &reminder.Tally{
		ByStatus:  map[reminder.Status]int64{},
		ByChannel: map[notifier.Channel]int64{},
		ByOutcome: map[string]int64{},
	}

	err := r.groupCount(ctx, `SELECT status, COUNT(*) FROM reminder_ledger WHERE user_id = $1 GROUP BY status`,
		userID, func(k string, n int64) { t.ByStatus[reminder.Status(k)] = n })
	if err != nil {
		return nil, err
	}
	err = r.groupCount(ctx, `SELECT channel, COUNT(*) FROM reminder_ledger
               WHERE user_id = $1 AND status = 'sent' GROUP BY channel`,
		userID, func(k string, n int64) { t.ByChannel[notifier.Channel(k)] = n })
	if err != nil {
		return nil, err
	}
	err = r.groupCount(ctx, `SELECT i.outcome, COUNT(*) FROM reminder_interactions i
               JOIN reminder_ledger l ON l.id = i.entry_id
               WHERE l.user_id = $1 AND l.status = 'sent' GROUP BY i.outcome`,
		userID, func(k string, n int64) {
			t.InteractionCount += n
			if k != "" {
				t.ByOutcome[k] = n
			}
		})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *LedgerRepository) groupCount(ctx context.Context, query, userID string, put func(string, int64)) error {
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("error aggregating ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("error scanning aggregate row: %w", err)
		}
		put(key, n)
	}
	return rows.Err()
}
