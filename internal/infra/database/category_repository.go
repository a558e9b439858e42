package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"renewal_reminder/internal/domain/category"
)

// maxCategoryDepth stops Lineage on corrupted parent links that form a loop.
const maxCategoryDepth = 32

type CategoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*category.Category, error) {
	query := `SELECT id, user_id, COALESCE(parent_id, ''), name, item_type FROM categories WHERE id = $1`
	c := &category.Category{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.UserID, &c.ParentID, &c.Name, &c.ItemType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, category.ErrNotFound
		}
		return nil, fmt.Errorf("error getting category by ID: %w", err)
	}
	return c, nil
}

// Lineage walks parent links from id to the root.
func (r *CategoryRepository) Lineage(ctx context.Context, id string) ([]string, error) {
	var lineage []string
	seen := make(map[string]struct{})

	for current := id; current != "" && len(lineage) < maxCategoryDepth; {
		if _, loop := seen[current]; loop {
			break
		}
		c, err := r.GetByID(ctx, current)
		if err != nil {
			if errors.Is(err, category.ErrNotFound) && len(lineage) > 0 {
				break // dangling parent link
			}
			return nil, err
		}
		seen[current] = struct{}{}
		lineage = append(lineage, c.ID)
		current = c.ParentID
	}
	return lineage, nil
}

// Upsert writes a category row for development seeding and tests.
func (r *CategoryRepository) Upsert(ctx context.Context, c *category.Category) error {
	query := `INSERT INTO categories (id, user_id, parent_id, name, item_type)
               VALUES ($1, $2, $3, $4, $5)
               ON CONFLICT (id) DO UPDATE SET
                   user_id = excluded.user_id, parent_id = excluded.parent_id,
                   name = excluded.name, item_type = excluded.item_type`
	if _, err := r.db.ExecContext(ctx, query, c.ID, c.UserID, nullString(c.ParentID), c.Name, c.ItemType); err != nil {
		return fmt.Errorf("error upserting category: %w", err)
	}
	return nil
}
