package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"renewal_reminder/internal/domain/contact"
	"renewal_reminder/internal/domain/notifier"
)

// ContactRepository maps users to per-channel addresses.
type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) Address(ctx context.Context, userID string, channel notifier.Channel) (string, error) {
	query := `SELECT address FROM user_contacts WHERE user_id = $1 AND channel = $2`
	var address string
	err := r.db.QueryRowContext(ctx, query, userID, string(channel)).Scan(&address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", contact.ErrNotFound
		}
		return "", fmt.Errorf("error getting %s address for user %s: %w", channel, userID, err)
	}
	return address, nil
}

func (r *ContactRepository) UserByAddress(ctx context.Context, channel notifier.Channel, address string) (string, error) {
	query := `SELECT user_id FROM user_contacts WHERE channel = $1 AND address = $2`
	var userID string
	err := r.db.QueryRowContext(ctx, query, string(channel), address).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", contact.ErrNotFound
		}
		return "", fmt.Errorf("error getting user by %s address: %w", channel, err)
	}
	return userID, nil
}

// Upsert stores an address for development seeding and tests.
func (r *ContactRepository) Upsert(ctx context.Context, userID string, channel notifier.Channel, address string) error {
	query := `INSERT INTO user_contacts (user_id, channel, address) VALUES ($1, $2, $3)
               ON CONFLICT (user_id, channel) DO UPDATE SET address = excluded.address`
	if _, err := r.db.ExecContext(ctx, query, userID, string(channel), address); err != nil {
		return fmt.Errorf("error upserting contact: %w", err)
	}
	return nil
}
