package preference

import (
	"fmt"
	"time"

	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"
)

// Settings is a fully resolved notification policy.
type Settings struct {
	Enabled  bool               `json:"enabled"`
	Offsets  leadtime.Offsets   `json:"offsets"`
	Channels []notifier.Channel `json:"channels"`
}

// PartialSettings is one layer of the override hierarchy. Nil fields are
// unset and fall through to the next layer.
type PartialSettings struct {
	Enabled  *bool              `json:"enabled,omitempty"`
	Offsets  leadtime.Offsets   `json:"offsets,omitempty"`
	Channels []notifier.Channel `json:"channels,omitempty"`
}

// IsEmpty reports whether no field is set.
func (p PartialSettings) IsEmpty() bool {
	return p.Enabled == nil && p.Offsets == nil && p.Channels == nil
}

// Validate checks the fields that are set. Supplied offsets must be positive
// and strictly descending; supplied lists must not be empty.
func (p PartialSettings) Validate() error {
	if p.Offsets != nil {
		if len(p.Offsets) == 0 {
			return &ValidationError{Field: "offsets", Reason: "must not be empty; disable the category instead"}
		}
		if err := p.Offsets.Validate(); err != nil {
			return &ValidationError{Field: "offsets", Reason: err.Error()}
		}
	}
	if p.Channels != nil {
		if len(p.Channels) == 0 {
			return &ValidationError{Field: "channels", Reason: "must not be empty"}
		}
		if err := notifier.ValidateChannels(p.Channels); err != nil {
			return &ValidationError{Field: "channels", Reason: err.Error()}
		}
	}
	return nil
}

// UserPreference is a user's global settings plus per-category overrides.
type UserPreference struct {
	UserID            string                     `json:"user_id"`
	Global            PartialSettings            `json:"global"`
	CategoryOverrides map[string]PartialSettings `json:"category_overrides"`
	CreatedAt         time.Time                  `json:"created_at"`
	UpdatedAt         time.Time                  `json:"updated_at"`
}

var ErrNotFound = fmt.Errorf("user preference not found")

// ErrValidation is the sentinel behind every ValidationError.
var ErrValidation = fmt.Errorf("invalid preference")

// ValidationError explains why a preference update was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
