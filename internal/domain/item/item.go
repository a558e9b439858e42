package item

import (
	"fmt"
	"time"
)

// Item is a tracked obligation as stored by the record CRUD surface.
// The scheduler only reads it.
type Item struct {
	ID          string
	UserID      string
	CategoryID  string
	ItemType    string // catalog entry name
	Title       string
	Provider    string
	IsActive    bool
	RenewalJSON []byte
	UpdatedAt   time.Time
}

// Renewal decodes the embedded renewal data.
func (it *Item) Renewal() (RenewalInfo, error) {
	return DecodeRenewal(it.ID, it.RenewalJSON)
}

var ErrNotFound = fmt.Errorf("item not found")

// ErrNoRenewalInfo marks items that carry no renewal data at all.
var ErrNoRenewalInfo = fmt.Errorf("item has no renewal information")

// ErrConfiguration is the sentinel behind every ConfigurationError.
var ErrConfiguration = fmt.Errorf("configuration error")

// ConfigurationError reports malformed cycle, catalog or renewal data for a
// single item. It is fatal to that item only.
type ConfigurationError struct {
	ItemID string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error on item %s (%s): %s", e.ItemID, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
