package category

import (
	"context"
	"fmt"
)

// Category groups a user's items. Categories form a tree per user.
type Category struct {
	ID       string
	UserID   string
	ParentID string // empty for root categories
	Name     string
	ItemType string // catalog entry the category defaults to, may be empty
}

var ErrNotFound = fmt.Errorf("category not found")

// Tree is the read-only category view used for override resolution.
type Tree interface {
	GetByID(ctx context.Context, id string) (*Category, error)
	// Lineage returns the category ids from id up to the root, id first.
	Lineage(ctx context.Context, id string) ([]string, error)
}
