package reminder

import (
	"fmt"
	"strings"
	"time"
)

// InteractionType is what the user did with a delivered reminder.
type InteractionType string

const (
	InteractionOpened  InteractionType = "opened"
	InteractionClicked InteractionType = "clicked"
	InteractionActed   InteractionType = "acted"
)

// Common outcomes for InteractionActed.
const (
	OutcomeRenewed   = "renewed"
	OutcomeCancelled = "cancelled"
	OutcomeIgnored   = "ignored"
)

// Interaction is one append-only event on a ledger entry.
type Interaction struct {
	ID         string          `json:"id"`
	EntryID    string          `json:"entry_id"`
	Type       InteractionType `json:"type"`
	Outcome    string          `json:"outcome,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// MinuteBucket is the dedup granularity for repeated delivery receipts.
func (i Interaction) MinuteBucket() int64 {
	return i.OccurredAt.UTC().Unix() / 60
}

// Normalize validates the interaction and lower-cases its outcome.
func (i Interaction) Normalize() (Interaction, error) {
	i.Type = InteractionType(strings.ToLower(strings.TrimSpace(string(i.Type))))
	i.Outcome = strings.ToLower(strings.TrimSpace(i.Outcome))
	switch i.Type {
	case InteractionOpened, InteractionClicked:
	case InteractionActed:
		if i.Outcome == "" {
			return i, &ValidationError{Field: "outcome", Reason: "required when type is acted"}
		}
	default:
		return i, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown interaction type %q", i.Type)}
	}
	if i.EntryID == "" {
		return i, &ValidationError{Field: "entry_id", Reason: "required"}
	}
	return i, nil
}

// ErrInvalidInteraction is the sentinel behind ValidationError.
var ErrInvalidInteraction = fmt.Errorf("invalid interaction")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInteraction }
