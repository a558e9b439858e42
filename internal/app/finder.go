package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/category"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/preference"
	"renewal_reminder/internal/domain/reminder"

	"github.com/sirupsen/logrus"
)

// Reasons an item is left out of a scan.
const (
	SkipNoRenewalInfo = "no_renewal_info"
	SkipConfiguration = "configuration_error"
	SkipUnknownType   = "unknown_item_type"
	SkipInactive      = "inactive"
	SkipExpired       = "expired"
	SkipPerpetual     = "perpetual"
	SkipDisabled      = "disabled"
	SkipLookupFailed  = "lookup_failed"
)

// DueReminder is one (item, offset) pair that should be delivered on asOf.
type DueReminder struct {
	Item        *item.Item
	UserID      string
	OffsetDays  int // configured lead time; for overdue notices the smallest offset
	Kind        reminder.Kind
	RenewalDate time.Time
	Cycle       item.RenewalCycle
	Entry       catalog.Entry
	Channels    []notifier.Channel
}

// Key is the ledger key the reminder is deduplicated under.
func (d DueReminder) Key() reminder.Key {
	offset := d.OffsetDays
	if d.Kind == reminder.KindOverdue {
		offset = reminder.OverdueOffsetDays
	}
	return reminder.Key{
		ItemID:      d.Item.ID,
		UserID:      d.UserID,
		OffsetDays:  offset,
		RenewalDate: item.DateOf(d.RenewalDate),
	}
}

// Snapshot captures the item content the reminder is rendered from.
func (d DueReminder) Snapshot() reminder.ContentSnapshot {
	return reminder.ContentSnapshot{
		Title:       d.Item.Title,
		Provider:    d.Item.Provider,
		Cycle:       d.Cycle.String(),
		ItemType:    d.Entry.Name,
		Urgency:     string(d.Entry.Urgency),
		Kind:        d.Kind,
		RenewalDate: item.FormatDate(d.RenewalDate),
	}
}

// ScanSummary counts what a scan looked at and why items were skipped.
type ScanSummary struct {
	AsOf    time.Time      `json:"as_of"`
	Scanned int            `json:"scanned"`
	Due     int            `json:"due"`
	Skipped map[string]int `json:"skipped"`
}

func (s *ScanSummary) skip(reason string) {
	if s.Skipped == nil {
		s.Skipped = make(map[string]int)
	}
	s.Skipped[reason]++
}

// Finder decides which reminders are due. It only reads.
type Finder struct {
	items      item.Reader
	prefs      preference.Repository
	categories category.Tree
	catalog    *catalog.Catalog
	logger     *logrus.Entry
}

func NewFinder(items item.Reader, prefs preference.Repository, categories category.Tree, cat *catalog.Catalog, logger *logrus.Entry) *Finder {
	return &Finder{
		items:      items,
		prefs:      prefs,
		categories: categories,
		catalog:    cat,
		logger:     logger.WithField("component", "finder"),
	}
}

// scanCache memoises per-scan reads so a user with many items is loaded once.
type scanCache struct {
	prefs    map[string]*preference.UserPreference
	lineages map[string][]string
}

// FindItemsNeedingReminders scans every active item. Per-item problems are
// counted in the summary and never abort the scan; only a failure to list
// items is returned as an error.
func (f *Finder) FindItemsNeedingReminders(ctx context.Context, asOf time.Time) ([]DueReminder, ScanSummary, error) {
	asOf = item.DateOf(asOf)
	summary := ScanSummary{AsOf: asOf, Skipped: map[string]int{}}

	items, err := f.items.ListActive(ctx)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to list active items: %w", err)
	}

	cache := &scanCache{
		prefs:    make(map[string]*preference.UserPreference),
		lineages: make(map[string][]string),
	}

	var due []DueReminder
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, summary, err
		}
		summary.Scanned++

		found, reason := f.evaluate(ctx, cache, it, asOf)
		if reason != "" {
			summary.skip(reason)
			continue
		}
		due = append(due, found...)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.Item.ID != b.Item.ID {
			return a.Item.ID < b.Item.ID
		}
		return a.OffsetDays > b.OffsetDays
	})
	summary.Due = len(due)

	f.logger.WithFields(logrus.Fields{
		"as_of":   item.FormatDate(asOf),
		"scanned": summary.Scanned,
		"due":     summary.Due,
		"skipped": summary.Skipped,
	}).Info("Scan completed")
	return due, summary, nil
}

// evaluate returns the reminders for one item, or a skip reason.
func (f *Finder) evaluate(ctx context.Context, cache *scanCache, it *item.Item, asOf time.Time) ([]DueReminder, string) {
	logger := f.logger.WithFields(logrus.Fields{"item_id": it.ID, "user_id": it.UserID})

	if !it.IsActive {
		return nil, SkipInactive
	}
	info, err := it.Renewal()
	if err != nil {
		if errors.Is(err, item.ErrNoRenewalInfo) {
			return nil, SkipNoRenewalInfo
		}
		logger.WithError(err).Warn("Skipping item with malformed renewal data")
		return nil, SkipConfiguration
	}
	if !info.IsActive {
		return nil, SkipInactive
	}

	entry, err := f.catalog.Lookup(it.ItemType)
	if err != nil {
		logger.WithError(err).Warn("Skipping item with unknown item type")
		return nil, SkipUnknownType
	}

	outlook, err := Assess(info, entry.EndDateType, asOf)
	if err != nil {
		var cfgErr *item.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.ItemID = it.ID
		}
		logger.WithError(err).Warn("Skipping item with invalid renewal cycle")
		return nil, SkipConfiguration
	}
	switch outlook.Status {
	case RenewalExpired:
		return nil, SkipExpired
	case RenewalPerpetual:
		return nil, SkipPerpetual
	}

	pref, err := f.preferenceFor(ctx, cache, it.UserID)
	if err != nil {
		logger.WithError(err).Error("Skipping item: preference lookup failed")
		return nil, SkipLookupFailed
	}
	lineage, err := f.lineageFor(ctx, cache, it.CategoryID)
	if err != nil {
		logger.WithError(err).Error("Skipping item: category lookup failed")
		return nil, SkipLookupFailed
	}

	settings := EffectiveSettings(pref, lineage, CatalogDefaults(f.catalog, entry), info.ReminderOffsets)
	if !settings.Enabled {
		return nil, SkipDisabled
	}

	return f.firing(it, info, entry, settings.Settings, *outlook.NextRenewal, asOf), ""
}

func (f *Finder) firing(it *item.Item, info item.RenewalInfo, entry catalog.Entry, settings preference.Settings, next, asOf time.Time) []DueReminder {
	overdue := next.Before(asOf)
	var out []DueReminder
	for _, offset := range settings.Offsets {
		if !NeedsReminder(next, offset, settings.Offsets, asOf) {
			continue
		}
		kind := reminder.KindLeadTime
		if overdue {
			kind = reminder.KindOverdue
		}
		out = append(out, DueReminder{
			Item:        it,
			UserID:      it.UserID,
			OffsetDays:  offset,
			Kind:        kind,
			RenewalDate: next,
			Cycle:       info.Cycle,
			Entry:       entry,
			Channels:    append([]notifier.Channel(nil), settings.Channels...),
		})
	}
	return out
}

// preferenceFor returns nil when the user never stored preferences; the scan
// does not create rows.
func (f *Finder) preferenceFor(ctx context.Context, cache *scanCache, userID string) (*preference.UserPreference, error) {
	if pref, ok := cache.prefs[userID]; ok {
		return pref, nil
	}
	pref, err := f.prefs.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, preference.ErrNotFound) {
			return nil, err
		}
		pref = nil
	}
	cache.prefs[userID] = pref
	return pref, nil
}

// lineageFor falls back to the bare id when the category row is gone, so an
// override stored for it still applies.
func (f *Finder) lineageFor(ctx context.Context, cache *scanCache, categoryID string) ([]string, error) {
	if categoryID == "" {
		return nil, nil
	}
	if l, ok := cache.lineages[categoryID]; ok {
		return l, nil
	}
	l, err := f.categories.Lineage(ctx, categoryID)
	if err != nil {
		if !errors.Is(err, category.ErrNotFound) {
			return nil, err
		}
		l = []string{categoryID}
	}
	cache.lineages[categoryID] = l
	return l, nil
}
