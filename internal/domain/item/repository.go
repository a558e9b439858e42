package item

import "context"

// Reader is the read-only view of the item store owned by the CRUD surface.
type Reader interface {
	GetByID(ctx context.Context, id string) (*Item, error)
	ListActive(ctx context.Context) ([]*Item, error) // all users, is_active = TRUE
	ListByUser(ctx context.Context, userID string) ([]*Item, error)
}
