package preference

import "context"

// Repository persists user preferences.
type Repository interface {
	Get(ctx context.Context, userID string) (*UserPreference, error)
	// CreateIfAbsent inserts pref unless a row for the user already exists.
	// Concurrent callers for the same user never produce two rows.
	CreateIfAbsent(ctx context.Context, pref *UserPreference) error
	UpdateGlobal(ctx context.Context, userID string, global PartialSettings) error
	UpsertCategoryOverride(ctx context.Context, userID, categoryID string, override PartialSettings) error
	DeleteCategoryOverride(ctx context.Context, userID, categoryID string) error
}
