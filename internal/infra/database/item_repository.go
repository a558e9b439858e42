package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"renewal_reminder/internal/domain/item"
)

// ItemRepository reads the items table written by the record CRUD surface.
type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

const itemColumns = `id, user_id, COALESCE(category_id, ''), item_type, title, provider, is_active, renewal_json, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*item.Item, error) {
	it := &item.Item{}
	var renewal sql.NullString
	if err := row.Scan(&it.ID, &it.UserID, &it.CategoryID, &it.ItemType, &it.Title, &it.Provider, &it.IsActive, &renewal, &it.UpdatedAt); err != nil {
		return nil, err
	}
	if renewal.Valid {
		it.RenewalJSON = []byte(renewal.String)
	}
	return it, nil
}

func (r *ItemRepository) GetByID(ctx context.Context, id string) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	it, err := scanItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, item.ErrNotFound
		}
		return nil, fmt.Errorf("error getting item by ID: %w", err)
	}
	return it, nil
}

// ListActive returns active items of every user in a stable order.
func (r *ItemRepository) ListActive(ctx context.Context) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE is_active = TRUE ORDER BY user_id, id`
	return r.list(ctx, query)
}

func (r *ItemRepository) ListByUser(ctx context.Context, userID string) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = $1 ORDER BY id`
	return r.list(ctx, query, userID)
}

func (r *ItemRepository) list(ctx context.Context, query string, args ...any) ([]*item.Item, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing items: %w", err)
	}
	defer rows.Close()

	var items []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning item row: %w", err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}
	return items, nil
}

// Upsert writes an item. The reminder engine never calls it; it exists for
// seeding development databases and tests.
func (r *ItemRepository) Upsert(ctx context.Context, it *item.Item) error {
	query := `INSERT INTO items (id, user_id, category_id, item_type, title, provider, is_active, renewal_json, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
               ON CONFLICT (id) DO UPDATE SET
                   user_id = excluded.user_id, category_id = excluded.category_id, item_type = excluded.item_type,
                   title = excluded.title, provider = excluded.provider, is_active = excluded.is_active,
                   renewal_json = excluded.renewal_json, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query,
		it.ID, it.UserID, nullString(it.CategoryID), it.ItemType, it.Title, it.Provider, it.IsActive,
		nullBytes(it.RenewalJSON), nowIfZero(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("error upserting item: %w", err)
	}
	return nil
}
