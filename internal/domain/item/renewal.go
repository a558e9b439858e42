package item

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"renewal_reminder/internal/domain/leadtime"
)

// CycleKind is the recurrence pattern of an item's end date.
type CycleKind string

const (
	CycleNone      CycleKind = "none"
	CycleMonthly   CycleKind = "monthly"
	CycleQuarterly CycleKind = "quarterly"
	CycleAnnually  CycleKind = "annually"
	CycleCustom    CycleKind = "custom"
)

// RenewalCycle is a CycleKind plus the day count for custom cycles.
type RenewalCycle struct {
	Kind CycleKind
	Days int // only for CycleCustom
}

// Periodic reports whether the end date advances on renewal.
func (c RenewalCycle) Periodic() bool { return c.Kind != CycleNone }

// Months returns the calendar-month step for month-based cycles, 0 otherwise.
func (c RenewalCycle) Months() int {
	switch c.Kind {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleAnnually:
		return 12
	}
	return 0
}

func (c RenewalCycle) String() string {
	if c.Kind == CycleCustom {
		return fmt.Sprintf("custom-%d-days", c.Days)
	}
	return string(c.Kind)
}

var legacyCustomCycle = regexp.MustCompile(`^custom-(\d+)-days?$`)

// ParseCycle validates a stored cycle value. It never falls back to CycleNone:
// an empty or unrecognised value is a configuration error.
func ParseCycle(raw string, customDays int) (RenewalCycle, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch CycleKind(s) {
	case CycleNone, CycleMonthly, CycleQuarterly, CycleAnnually:
		return RenewalCycle{Kind: CycleKind(s)}, nil
	case CycleCustom:
		if customDays <= 0 {
			return RenewalCycle{}, fmt.Errorf("custom cycle needs a positive day count, got %d", customDays)
		}
		return RenewalCycle{Kind: CycleCustom, Days: customDays}, nil
	}
	if m := legacyCustomCycle.FindStringSubmatch(s); m != nil {
		days, err := strconv.Atoi(m[1])
		if err != nil || days <= 0 {
			return RenewalCycle{}, fmt.Errorf("custom cycle %q needs a positive day count", raw)
		}
		return RenewalCycle{Kind: CycleCustom, Days: days}, nil
	}
	return RenewalCycle{}, fmt.Errorf("unknown renewal cycle %q", raw)
}

// RenewalInfo is the renewal data embedded in an item. Dates are UTC midnights.
type RenewalInfo struct {
	StartDate       *time.Time
	EndDate         *time.Time // nil for perpetual items
	Cycle           RenewalCycle
	ReminderOffsets leadtime.Offsets
	IsActive        bool
	AutoRenewal     bool
}

// Validate checks the invariants the scheduler relies on.
func (r RenewalInfo) Validate() error {
	if r.EndDate == nil && (r.Cycle.Periodic() || r.AutoRenewal) {
		return fmt.Errorf("end date is required for %s cycles with auto renewal=%t", r.Cycle, r.AutoRenewal)
	}
	if r.StartDate != nil && r.EndDate != nil && r.EndDate.Before(*r.StartDate) {
		return fmt.Errorf("end date %s is before start date %s", FormatDate(*r.EndDate), FormatDate(*r.StartDate))
	}
	if err := r.ReminderOffsets.Validate(); err != nil {
		return fmt.Errorf("reminder offsets: %w", err)
	}
	return nil
}

// rawRenewal accepts both the current and the legacy JSON shapes written by
// older versions of the item editor.
type rawRenewal struct {
	StartDate       *string `json:"start_date"`
	EndDate         *string `json:"end_date"`
	RenewalCycle    *string `json:"renewal_cycle"`
	CustomCycleDays int     `json:"custom_cycle_days"`
	ReminderOffsets []int   `json:"reminder_offsets"`
	IsActive        *bool   `json:"is_active"`
	AutoRenewal     bool    `json:"auto_renewal"`

	// legacy keys
	ExpiryDate    *string `json:"expiry_date"`
	RenewalPeriod *string `json:"renewal_period"`
	ReminderDays  []int   `json:"reminder_days"`
}

// DecodeRenewal parses stored renewal JSON. Empty input yields ErrNoRenewalInfo;
// anything malformed yields a *ConfigurationError.
func DecodeRenewal(itemID string, raw []byte) (RenewalInfo, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return RenewalInfo{}, ErrNoRenewalInfo
	}

	var rr rawRenewal
	if err := json.Unmarshal(raw, &rr); err != nil {
		return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "renewal", Reason: err.Error()}
	}

	info := RenewalInfo{IsActive: true, AutoRenewal: rr.AutoRenewal}
	if rr.IsActive != nil {
		info.IsActive = *rr.IsActive
	}

	var err error
	if info.StartDate, err = parseOptionalDate(rr.StartDate); err != nil {
		return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "start_date", Reason: err.Error()}
	}
	endRaw := rr.EndDate
	if endRaw == nil {
		endRaw = rr.ExpiryDate
	}
	if info.EndDate, err = parseOptionalDate(endRaw); err != nil {
		return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "end_date", Reason: err.Error()}
	}

	cycleRaw := rr.RenewalCycle
	if cycleRaw == nil {
		cycleRaw = rr.RenewalPeriod
	}
	if cycleRaw == nil {
		return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "renewal_cycle", Reason: "missing"}
	}
	if info.Cycle, err = ParseCycle(*cycleRaw, rr.CustomCycleDays); err != nil {
		return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "renewal_cycle", Reason: err.Error()}
	}

	switch {
	case rr.ReminderOffsets != nil:
		info.ReminderOffsets = leadtime.Offsets(rr.ReminderOffsets)
	case rr.ReminderDays != nil:
		// legacy lists were stored unordered
		for _, d := range rr.ReminderDays {
			if d <= 0 {
				return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "reminder_days", Reason: fmt.Sprintf("non-positive offset %d", d)}
			}
		}
		info.ReminderOffsets = leadtime.Union(rr.ReminderDays)
	}

	if err := info.Validate(); err != nil {
		return RenewalInfo{}, &ConfigurationError{ItemID: itemID, Field: "renewal", Reason: err.Error()}
	}
	return info, nil
}

func parseOptionalDate(s *string) (*time.Time, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	d, err := ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
