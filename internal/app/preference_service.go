package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/category"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/preference"

	"github.com/sirupsen/logrus"
)

// Layer names reported in Resolution.Sources.
const (
	SourceItem     = "item"
	SourceCategory = "category"
	SourceGlobal   = "global"
	SourceCatalog  = "catalog"
)

// Layer is one level of the override hierarchy, most specific first.
type Layer struct {
	Source     string
	CategoryID string // set for category layers
	Settings   preference.PartialSettings
}

// Resolution is a fully populated policy plus the layer each field came from.
type Resolution struct {
	preference.Settings
	Sources map[string]string `json:"sources"`
	// ItemOffsetOverrides lists items in the category whose own
	// reminder_offsets take precedence over the resolved offsets.
	ItemOffsetOverrides []string `json:"item_offset_overrides,omitempty"`
}

// fieldResolver copies one field from the first layer that defines it.
type fieldResolver struct {
	field   string
	defined func(p preference.PartialSettings) bool
	apply   func(dst *preference.Settings, p preference.PartialSettings)
}

// settingsFields is evaluated in order, each field independently of the others.
var settingsFields = []fieldResolver{
	{
		field:   "enabled",
		defined: func(p preference.PartialSettings) bool { return p.Enabled != nil },
		apply:   func(dst *preference.Settings, p preference.PartialSettings) { dst.Enabled = *p.Enabled },
	},
	{
		field:   "offsets",
		defined: func(p preference.PartialSettings) bool { return len(p.Offsets) > 0 },
		apply:   func(dst *preference.Settings, p preference.PartialSettings) { dst.Offsets = p.Offsets.Clone() },
	},
	{
		field:   "channels",
		defined: func(p preference.PartialSettings) bool { return len(p.Channels) > 0 },
		apply: func(dst *preference.Settings, p preference.PartialSettings) {
			dst.Channels = append([]notifier.Channel(nil), p.Channels...)
		},
	},
}

// Resolve walks the layers for every field and falls back to defaults.
// Lists replace each other, they are never merged.
func Resolve(layers []Layer, defaults preference.Settings) Resolution {
	out := Resolution{Sources: make(map[string]string, len(settingsFields))}
	fallback := preference.PartialSettings{
		Enabled:  &defaults.Enabled,
		Offsets:  defaults.Offsets,
		Channels: defaults.Channels,
	}

	for _, f := range settingsFields {
		resolved := false
		for _, l := range layers {
			if !f.defined(l.Settings) {
				continue
			}
			f.apply(&out.Settings, l.Settings)
			out.Sources[f.field] = l.Source
			if l.CategoryID != "" {
				out.Sources[f.field] = l.Source + ":" + l.CategoryID
			}
			resolved = true
			break
		}
		if !resolved && f.defined(fallback) {
			f.apply(&out.Settings, fallback)
			out.Sources[f.field] = SourceCatalog
		}
	}
	return out
}

// EffectiveSettings builds the layer stack for one item: item offsets, then
// the nearest category override along the lineage, then the user's global
// settings, then the catalog defaults. pref may be nil.
func EffectiveSettings(pref *preference.UserPreference, lineage []string, defaults preference.Settings, itemOffsets leadtime.Offsets) Resolution {
	layers := make([]Layer, 0, len(lineage)+2)
	if len(itemOffsets) > 0 {
		layers = append(layers, Layer{Source: SourceItem, Settings: preference.PartialSettings{Offsets: itemOffsets}})
	}
	if pref != nil {
		for _, id := range lineage {
			if o, ok := pref.CategoryOverrides[id]; ok {
				layers = append(layers, Layer{Source: SourceCategory, CategoryID: id, Settings: o})
			}
		}
		layers = append(layers, Layer{Source: SourceGlobal, Settings: pref.Global})
	}
	return Resolve(layers, defaults)
}

// CatalogDefaults is the last layer for an item of the given catalog entry.
func CatalogDefaults(cat *catalog.Catalog, entry catalog.Entry) preference.Settings {
	offsets := entry.DefaultOffsets
	if len(offsets) == 0 {
		offsets = cat.DefaultOffsets()
	}
	return preference.Settings{
		Enabled:  true,
		Offsets:  offsets,
		Channels: cat.DefaultChannels(),
	}
}

// PreferenceService manages per-user reminder settings.
type PreferenceService interface {
	GetOrCreateForUser(ctx context.Context, userID string) (*preference.UserPreference, error)
	UpdateGlobalSettings(ctx context.Context, userID string, settings preference.PartialSettings) (*preference.UserPreference, error)
	SetCategoryOverride(ctx context.Context, userID, categoryID string, settings preference.PartialSettings) (*preference.UserPreference, error)
	GetReminderSettingsForCategory(ctx context.Context, userID, categoryID string) (*Resolution, error)
}

type PreferenceServiceImpl struct {
	prefRepo   preference.Repository
	items      item.Reader
	categories category.Tree
	catalog    *catalog.Catalog
	logger     *logrus.Entry
}

func NewPreferenceServiceImpl(
	pr preference.Repository,
	items item.Reader,
	categories category.Tree,
	cat *catalog.Catalog,
	logger *logrus.Entry,
) *PreferenceServiceImpl {
	return &PreferenceServiceImpl{
		prefRepo:   pr,
		items:      items,
		categories: categories,
		catalog:    cat,
		logger:     logger.WithField("component", "preference_service"),
	}
}

// GetOrCreateForUser returns the stored preference or seeds one from the
// catalog entries of the item types the user tracks.
func (s *PreferenceServiceImpl) GetOrCreateForUser(ctx context.Context, userID string) (*preference.UserPreference, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}

	pref, err := s.prefRepo.Get(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, preference.ErrNotFound) {
		return nil, fmt.Errorf("failed to load preferences for user %s: %w", userID, err)
	}

	seed, err := s.seedPreference(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.prefRepo.CreateIfAbsent(ctx, seed); err != nil {
		return nil, fmt.Errorf("failed to create preferences for user %s: %w", userID, err)
	}

	// Read back: a concurrent caller may have won the insert.
	pref, err = s.prefRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences for user %s after create: %w", userID, err)
	}
	s.logger.WithFields(logrus.Fields{"user_id": userID, "offsets": pref.Global.Offsets}).Info("Seeded reminder preferences")
	return pref, nil
}

func (s *PreferenceServiceImpl) seedPreference(ctx context.Context, userID string) (*preference.UserPreference, error) {
	items, err := s.items.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for user %s: %w", userID, err)
	}

	seen := make(map[string]struct{})
	var lists []leadtime.Offsets
	for _, it := range items {
		if _, ok := seen[it.ItemType]; ok {
			continue
		}
		seen[it.ItemType] = struct{}{}

		entry, err := s.catalog.Lookup(it.ItemType)
		if err != nil || !entry.Enabled() {
			continue
		}
		lists = append(lists, entry.DefaultOffsets)
	}

	offsets := leadtime.Union(lists...)
	if len(offsets) == 0 {
		offsets = s.catalog.DefaultOffsets()
	}
	enabled := true
	return &preference.UserPreference{
		UserID: userID,
		Global: preference.PartialSettings{
			Enabled:  &enabled,
			Offsets:  offsets,
			Channels: s.catalog.DefaultChannels(),
		},
		CategoryOverrides: map[string]preference.PartialSettings{},
	}, nil
}

// UpdateGlobalSettings replaces the fields that are set in settings.
func (s *PreferenceServiceImpl) UpdateGlobalSettings(ctx context.Context, userID string, settings preference.PartialSettings) (*preference.UserPreference, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	pref, err := s.GetOrCreateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := pref.Global
	if settings.Enabled != nil {
		merged.Enabled = settings.Enabled
	}
	if settings.Offsets != nil {
		merged.Offsets = settings.Offsets.Clone()
	}
	if settings.Channels != nil {
		merged.Channels = append([]notifier.Channel(nil), settings.Channels...)
	}

	if err := s.prefRepo.UpdateGlobal(ctx, userID, merged); err != nil {
		return nil, fmt.Errorf("failed to update global settings for user %s: %w", userID, err)
	}
	s.logger.WithField("user_id", userID).Info("Updated global reminder settings")
	return s.prefRepo.Get(ctx, userID)
}

// SetCategoryOverride stores a partial override for one category. An empty
// override removes the category from the hierarchy.
func (s *PreferenceServiceImpl) SetCategoryOverride(ctx context.Context, userID, categoryID string, settings preference.PartialSettings) (*preference.UserPreference, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(categoryID) == "" {
		return nil, &preference.ValidationError{Field: "category_id", Reason: "required"}
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkCategoryOwner(ctx, userID, categoryID); err != nil {
		return nil, err
	}
	if _, err := s.GetOrCreateForUser(ctx, userID); err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(logrus.Fields{"user_id": userID, "category_id": categoryID})
	if settings.IsEmpty() {
		if err := s.prefRepo.DeleteCategoryOverride(ctx, userID, categoryID); err != nil {
			return nil, fmt.Errorf("failed to clear override for category %s: %w", categoryID, err)
		}
		logger.Info("Cleared category override")
	} else {
		if err := s.prefRepo.UpsertCategoryOverride(ctx, userID, categoryID, settings); err != nil {
			return nil, fmt.Errorf("failed to store override for category %s: %w", categoryID, err)
		}
		logger.Info("Stored category override")
	}
	return s.prefRepo.Get(ctx, userID)
}

// GetReminderSettingsForCategory resolves the policy an item in the category
// would get, without item-level offsets. It never writes.
func (s *PreferenceServiceImpl) GetReminderSettingsForCategory(ctx context.Context, userID, categoryID string) (*Resolution, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	cat, err := s.categories.GetByID(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if cat.UserID != userID {
		return nil, category.ErrNotFound
	}
	lineage, err := s.categories.Lineage(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lineage of category %s: %w", categoryID, err)
	}

	pref, err := s.prefRepo.Get(ctx, userID)
	if err != nil && !errors.Is(err, preference.ErrNotFound) {
		return nil, fmt.Errorf("failed to load preferences for user %s: %w", userID, err)
	}

	defaults := preference.Settings{
		Enabled:  true,
		Offsets:  s.catalog.DefaultOffsets(),
		Channels: s.catalog.DefaultChannels(),
	}
	if cat.ItemType != "" {
		if entry, lookupErr := s.catalog.Lookup(cat.ItemType); lookupErr == nil {
			defaults = CatalogDefaults(s.catalog, entry)
		}
	}

	res := EffectiveSettings(pref, lineage, defaults, nil)
	if res.ItemOffsetOverrides, err = s.itemsWithOwnOffsets(ctx, userID, categoryID); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *PreferenceServiceImpl) itemsWithOwnOffsets(ctx context.Context, userID, categoryID string) ([]string, error) {
	items, err := s.items.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items of user %s: %w", userID, err)
	}
	var ids []string
	for _, it := range items {
		if !it.IsActive || it.CategoryID != categoryID {
			continue
		}
		info, err := it.Renewal()
		if err != nil {
			continue // the finder skips and counts these
		}
		if len(info.ReminderOffsets) > 0 {
			ids = append(ids, it.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *PreferenceServiceImpl) checkCategoryOwner(ctx context.Context, userID, categoryID string) error {
	cat, err := s.categories.GetByID(ctx, categoryID)
	if err != nil {
		return err
	}
	if cat.UserID != userID {
		return category.ErrNotFound
	}
	return nil
}

func requireUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return &preference.ValidationError{Field: "user_id", Reason: "required"}
	}
	return nil
}
