// Package reminder defines the delivery ledger: one entry per dispatched
// reminder, keyed so that the same reminder can never be sent twice.
package reminder

import (
	"fmt"
	"time"

	"renewal_reminder/internal/domain/notifier"
)

// Status is the outcome of a dispatch attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Kind separates regular lead-time reminders from the overdue notice.
type Kind string

const (
	KindLeadTime Kind = "lead_time"
	KindOverdue  Kind = "overdue"
)

// OverdueOffsetDays is the ledger offset under which overdue notices are
// recorded, so they never collide with a lead-time reminder for the same date.
const OverdueOffsetDays = 0

// Key identifies one reminder delivery. A new renewal date is a new occurrence
// and resets eligibility for every offset.
type Key struct {
	ItemID      string
	UserID      string
	OffsetDays  int
	RenewalDate time.Time // calendar day, UTC midnight
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d/%s", k.UserID, k.ItemID, k.OffsetDays, k.RenewalDate.Format("2006-01-02"))
}

// ContentSnapshot is the denormalised item data the reminder was rendered from.
type ContentSnapshot struct {
	Title       string `json:"title"`
	Provider    string `json:"provider,omitempty"`
	Cycle       string `json:"cycle"`
	ItemType    string `json:"item_type"`
	Urgency     string `json:"urgency"`
	Kind        Kind   `json:"kind"`
	RenewalDate string `json:"renewal_date"`
}

// Entry is one ledger row. Sent entries are unique per Key; failed entries
// only record an attempt and do not block a retry.
type Entry struct {
	ID           string           `json:"id"`
	Key          Key              `json:"-"`
	Status       Status           `json:"status"`
	Channel      notifier.Channel `json:"channel"`
	Content      ContentSnapshot  `json:"content"`
	Error        string           `json:"error,omitempty"`
	Interactions []Interaction    `json:"interactions"`
	CreatedAt    time.Time        `json:"created_at"`
}

// Tally is the raw aggregate the stats rollup is computed from.
type Tally struct {
	ByStatus         map[Status]int64
	ByChannel        map[notifier.Channel]int64 // sent entries only
	ByOutcome        map[string]int64
	InteractionCount int64
}

var ErrEntryNotFound = fmt.Errorf("reminder ledger entry not found")

// ErrDuplicateKey means a sent entry already exists for the key. Callers treat
// it as "someone else already delivered this reminder".
var ErrDuplicateKey = fmt.Errorf("reminder already recorded for this key")
