package app

import (
	"fmt"
	"time"

	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/leadtime"
)

// RenewalStatus summarises where an item stands relative to asOf.
type RenewalStatus string

const (
	RenewalUpcoming  RenewalStatus = "upcoming"
	RenewalDueToday  RenewalStatus = "due_today"
	RenewalOverdue   RenewalStatus = "overdue"
	RenewalExpired   RenewalStatus = "expired"
	RenewalPerpetual RenewalStatus = "perpetual"
)

// Outlook is the calculator's view of one item.
type Outlook struct {
	NextRenewal *time.Time
	Status      RenewalStatus
	DaysUntil   int // negative when overdue; 0 when there is no next renewal
}

// Active reports whether the item can still produce reminders.
func (o Outlook) Active() bool {
	return o.Status != RenewalExpired && o.Status != RenewalPerpetual
}

// NextRenewalDate returns the item's current renewal date, or nil when the
// item has no end date or has terminally expired.
//
// A missed date on a hard_end or expiry_date item without auto renewal is
// terminal. Otherwise periodic items roll forward by whole cycles from the
// original end date until the result is after asOf, and non-periodic items
// keep their passed date (overdue) until the owner updates them.
func NextRenewalDate(info item.RenewalInfo, endType catalog.EndDateType, asOf time.Time) (*time.Time, error) {
	if err := checkCycle(info.Cycle); err != nil {
		return nil, err
	}
	if info.EndDate == nil {
		return nil, nil
	}
	asOf = item.DateOf(asOf)
	end := item.DateOf(*info.EndDate)
	if !end.Before(asOf) {
		return &end, nil
	}

	if endType.Terminal() && !info.AutoRenewal {
		return nil, nil
	}
	if !info.Cycle.Periodic() {
		return &end, nil
	}

	next := advancePast(end, info.Cycle, asOf)
	return &next, nil
}

// Assess wraps NextRenewalDate with a status.
func Assess(info item.RenewalInfo, endType catalog.EndDateType, asOf time.Time) (Outlook, error) {
	next, err := NextRenewalDate(info, endType, asOf)
	if err != nil {
		return Outlook{}, err
	}
	if info.EndDate == nil {
		return Outlook{Status: RenewalPerpetual}, nil
	}
	if next == nil {
		return Outlook{Status: RenewalExpired}, nil
	}

	days := DaysBetween(asOf, *next)
	out := Outlook{NextRenewal: next, DaysUntil: days}
	switch {
	case days > 0:
		out.Status = RenewalUpcoming
	case days == 0:
		out.Status = RenewalDueToday
	default:
		out.Status = RenewalOverdue
	}
	return out, nil
}

// NeedsReminder reports whether offsetDays fires on asOf: either the renewal
// is exactly offsetDays away, or the renewal has passed and offsetDays is the
// most urgent configured offset, so overdue items do not go silent.
func NeedsReminder(nextRenewal time.Time, offsetDays int, configured leadtime.Offsets, asOf time.Time) bool {
	days := DaysBetween(asOf, nextRenewal)
	if days == offsetDays {
		return true
	}
	return days < 0 && len(configured) > 0 && offsetDays == configured.Smallest()
}

// DaysBetween counts calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	d := item.DateOf(b).Sub(item.DateOf(a))
	return int(d.Round(time.Hour).Hours() / 24)
}

// AddMonthsClamped adds n calendar months, clamping the day to the last day
// of the target month (Jan 31 + 1 month = Feb 28 or 29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	total := int(t.Month()) - 1 + n
	year := t.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)

	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// advancePast returns the first cycle boundary strictly after asOf. Every
// candidate is computed from the original anchor so clamped months do not
// drift (Jan 31 -> Feb 28 -> Mar 31).
func advancePast(anchor time.Time, cycle item.RenewalCycle, asOf time.Time) time.Time {
	if cycle.Kind == item.CycleCustom {
		k := DaysBetween(anchor, asOf)/cycle.Days + 1
		return anchor.AddDate(0, 0, k*cycle.Days)
	}

	step := cycle.Months()
	elapsed := (asOf.Year()-anchor.Year())*12 + int(asOf.Month()) - int(anchor.Month())
	k := elapsed / step
	if k < 1 {
		k = 1
	}
	for {
		candidate := AddMonthsClamped(anchor, k*step)
		if candidate.After(asOf) {
			return candidate
		}
		k++
	}
}

// checkCycle rejects cycles that did not come through item.ParseCycle.
func checkCycle(c item.RenewalCycle) error {
	switch c.Kind {
	case item.CycleNone, item.CycleMonthly, item.CycleQuarterly, item.CycleAnnually:
		return nil
	case item.CycleCustom:
		if c.Days > 0 {
			return nil
		}
		return &item.ConfigurationError{Field: "renewal_cycle", Reason: fmt.Sprintf("custom cycle needs a positive day count, got %d", c.Days)}
	}
	return &item.ConfigurationError{Field: "renewal_cycle", Reason: fmt.Sprintf("unknown renewal cycle %q", c.Kind)}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
