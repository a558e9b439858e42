package reminder

import "context"

// Repository is the ledger store. The unique index on the sent Key is the only
// synchronisation point between concurrent scheduler runs.
type Repository interface {
	// ExistsSent reports whether a sent entry exists for key.
	ExistsSent(ctx context.Context, key Key) (bool, error)
	// Insert stores an entry; ErrDuplicateKey when a sent entry for the key exists.
	Insert(ctx context.Context, e *Entry) error
	GetByID(ctx context.Context, id string) (*Entry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Entry, error)
	// AppendInteraction returns false when an identical event in the same
	// minute bucket was already stored.
	AppendInteraction(ctx context.Context, in Interaction) (bool, error)
	Tally(ctx context.Context, userID string) (*Tally, error)
}
