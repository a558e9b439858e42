package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/preference"
)

// PreferenceRepository stores the global layer in user_preferences and each
// category layer in category_overrides. NULL columns are unset fields.
type PreferenceRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// partialColumns is the column encoding of a PartialSettings.
type partialColumns struct {
	enabled  sql.NullBool
	offsets  sql.NullString
	channels sql.NullString
}

func encodePartial(p preference.PartialSettings) (partialColumns, error) {
	var c partialColumns
	if p.Enabled != nil {
		c.enabled = sql.NullBool{Bool: *p.Enabled, Valid: true}
	}
	if p.Offsets != nil {
		raw, err := json.Marshal(p.Offsets)
		if err != nil {
			return c, err
		}
		c.offsets = sql.NullString{String: string(raw), Valid: true}
	}
	if p.Channels != nil {
		raw, err := json.Marshal(p.Channels)
		if err != nil {
			return c, err
		}
		c.channels = sql.NullString{String: string(raw), Valid: true}
	}
	return c, nil
}

func (c partialColumns) decode() (preference.PartialSettings, error) {
	var p preference.PartialSettings
	if c.enabled.Valid {
		v := c.enabled.Bool
		p.Enabled = &v
	}
	if c.offsets.Valid {
		var offsets leadtime.Offsets
		if err := json.Unmarshal([]byte(c.offsets.String), &offsets); err != nil {
			return p, fmt.Errorf("malformed offsets_json: %w", err)
		}
		p.Offsets = offsets
	}
	if c.channels.Valid {
		var channels []notifier.Channel
		if err := json.Unmarshal([]byte(c.channels.String), &channels); err != nil {
			return p, fmt.Errorf("malformed channels_json: %w", err)
		}
		p.Channels = channels
	}
	return p, nil
}

func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*preference.UserPreference, error) {
	query := `SELECT user_id, enabled, offsets_json, channels_json, created_at, updated_at
               FROM user_preferences WHERE user_id = $1`
	pref := &preference.UserPreference{CategoryOverrides: map[string]preference.PartialSettings{}}
	var cols partialColumns
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&pref.UserID, &cols.enabled, &cols.offsets, &cols.channels, &pref.CreatedAt, &pref.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, preference.ErrNotFound
		}
		return nil, fmt.Errorf("error getting user preference: %w", err)
	}
	if pref.Global, err = cols.decode(); err != nil {
		return nil, fmt.Errorf("user preference %s: %w", userID, err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT category_id, enabled, offsets_json, channels_json
               FROM category_overrides WHERE user_id = $1 ORDER BY category_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing category overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var categoryID string
		var oc partialColumns
		if err := rows.Scan(&categoryID, &oc.enabled, &oc.offsets, &oc.channels); err != nil {
			return nil, fmt.Errorf("error scanning category override: %w", err)
		}
		override, err := oc.decode()
		if err != nil {
			return nil, fmt.Errorf("category override %s/%s: %w", userID, categoryID, err)
		}
		pref.CategoryOverrides[categoryID] = override
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category overrides: %w", err)
	}
	return pref, nil
}

// CreateIfAbsent relies on the primary key: a concurrent insert for the same
// user is a no-op rather than an error.
func (r *PreferenceRepository) CreateIfAbsent(ctx context.Context, pref *preference.UserPreference) error {
	cols, err := encodePartial(pref.Global)
	if err != nil {
		return fmt.Errorf("error encoding preference: %w", err)
	}
	now := r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO user_preferences (user_id, enabled, offsets_json, channels_json, created_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT (user_id) DO NOTHING`,
		pref.UserID, cols.enabled, cols.offsets, cols.channels, now, now)
	if err != nil {
		return fmt.Errorf("error creating user preference: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %w", err)
	}
	if inserted == 1 {
		for categoryID, o := range pref.CategoryOverrides {
			if err := upsertOverride(ctx, tx, pref.UserID, categoryID, o, now); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (r *PreferenceRepository) UpdateGlobal(ctx context.Context, userID string, global preference.PartialSettings) error {
	cols, err := encodePartial(global)
	if err != nil {
		return fmt.Errorf("error encoding preference: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE user_preferences
               SET enabled = $1, offsets_json = $2, channels_json = $3, updated_at = $4
               WHERE user_id = $5`,
		cols.enabled, cols.offsets, cols.channels, r.now(), userID)
	if err != nil {
		return fmt.Errorf("error updating global settings: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return preference.ErrNotFound
	}
	return nil
}

func (r *PreferenceRepository) UpsertCategoryOverride(ctx context.Context, userID, categoryID string, override preference.PartialSettings) error {
	now := r.now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertOverride(ctx, tx, userID, categoryID, override, now); err != nil {
		return err
	}
	if err := touchPreference(ctx, tx, userID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PreferenceRepository) DeleteCategoryOverride(ctx context.Context, userID, categoryID string) error {
	now := r.now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM category_overrides WHERE user_id = $1 AND category_id = $2`, userID, categoryID); err != nil {
		return fmt.Errorf("error deleting category override: %w", err)
	}
	if err := touchPreference(ctx, tx, userID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertOverride(ctx context.Context, tx *sql.Tx, userID, categoryID string, o preference.PartialSettings, now time.Time) error {
	cols, err := encodePartial(o)
	if err != nil {
		return fmt.Errorf("error encoding category override: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO category_overrides (user_id, category_id, enabled, offsets_json, channels_json, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6)
               ON CONFLICT (user_id, category_id) DO UPDATE SET
                   enabled = excluded.enabled, offsets_json = excluded.offsets_json,
                   channels_json = excluded.channels_json, updated_at = excluded.updated_at`,
		userID, categoryID, cols.enabled, cols.offsets, cols.channels, now)
	if err != nil {
		return fmt.Errorf("error upserting category override: %w", err)
	}
	return nil
}

func touchPreference(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE user_preferences SET updated_at = $1 WHERE user_id = $2`, now, userID); err != nil {
		return fmt.Errorf("error touching user preference: %w", err)
	}
	return nil
}
