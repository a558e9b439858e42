// Package catalog holds the static product policy table: one entry per item
// type with its default lead times, urgency and end-date semantics.
//
// A Catalog is built once at process start and never mutated afterwards, so a
// single *Catalog can be shared by every tick and request.
package catalog

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"

	"gopkg.in/yaml.v3"
)

// Urgency classifies how bad it is to miss a renewal.
type Urgency string

const (
	UrgencyCritical  Urgency = "critical"
	UrgencyImportant Urgency = "important"
	UrgencyStrategic Urgency = "strategic"
	UrgencyStandard  Urgency = "standard"
)

func (u Urgency) valid() bool {
	switch u {
	case UrgencyCritical, UrgencyImportant, UrgencyStrategic, UrgencyStandard:
		return true
	}
	return false
}

// EndDateType describes what happens when the end date passes without action.
type EndDateType string

const (
	EndDateHard        EndDateType = "hard_end"
	EndDateReview      EndDateType = "review_date"
	EndDateExpiry      EndDateType = "expiry_date"
	EndDateAutoRenewal EndDateType = "auto_renewal"
)

func (t EndDateType) valid() bool {
	switch t {
	case EndDateHard, EndDateReview, EndDateExpiry, EndDateAutoRenewal:
		return true
	}
	return false
}

// Terminal reports whether a missed date ends the item (unless it auto-renews).
// Review and auto-renewal dates roll over to the next cycle instead.
func (t EndDateType) Terminal() bool {
	return t == EndDateHard || t == EndDateExpiry
}

// FallbackType is used for items stored without an item type.
const FallbackType = "other"

// Entry is one item-type definition.
type Entry struct {
	Name           string           `yaml:"name" json:"name"`
	Label          string           `yaml:"label" json:"label"`
	DefaultOffsets leadtime.Offsets `yaml:"default_offsets" json:"default_offsets"`
	Urgency        Urgency          `yaml:"urgency" json:"urgency"`
	EndDateType    EndDateType      `yaml:"end_date_type" json:"end_date_type"`
	RequiresAction bool             `yaml:"requires_action" json:"requires_action"`
	Disabled       bool             `yaml:"disabled" json:"disabled"`
}

// Enabled reports whether the entry still seeds new user preferences.
func (e Entry) Enabled() bool { return !e.Disabled }

// ErrUnknownType is returned by Lookup for names the catalog does not define.
var ErrUnknownType = fmt.Errorf("unknown catalog item type")

// ErrInvalidCatalog wraps every load-time validation failure.
var ErrInvalidCatalog = fmt.Errorf("invalid catalog")

// Catalog is the immutable, versioned lookup table.
type Catalog struct {
	version         string
	defaultChannels []notifier.Channel
	defaultOffsets  leadtime.Offsets
	entries         map[string]Entry
	names           []string
}

type document struct {
	Version         string             `yaml:"version"`
	DefaultChannels []notifier.Channel `yaml:"default_channels"`
	DefaultOffsets  leadtime.Offsets   `yaml:"default_offsets"`
	Entries         []Entry            `yaml:"entries"`
}

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// LoadFile reads a catalog document from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a catalog document from r.
func Load(r io.Reader) (*Catalog, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return New(doc.Version, doc.DefaultChannels, doc.DefaultOffsets, doc.Entries)
}

// New builds a catalog from already-decoded parts.
func New(version string, channels []notifier.Channel, offsets leadtime.Offsets, entries []Entry) (*Catalog, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidCatalog)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: at least one default channel is required", ErrInvalidCatalog)
	}
	if err := notifier.ValidateChannels(channels); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(offsets) == 0 {
		return nil, fmt.Errorf("%w: default offsets are required", ErrInvalidCatalog)
	}
	if err := offsets.Validate(); err != nil {
		return nil, fmt.Errorf("%w: default offsets: %v", ErrInvalidCatalog, err)
	}

	c := &Catalog{
		version:         version,
		defaultChannels: append([]notifier.Channel(nil), channels...),
		defaultOffsets:  offsets.Clone(),
		entries:         make(map[string]Entry, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entry without a name", ErrInvalidCatalog)
		}
		if _, dup := c.entries[e.Name]; dup {
			return nil, fmt.Errorf("%w: entry %q defined twice", ErrInvalidCatalog, e.Name)
		}
		if len(e.DefaultOffsets) == 0 {
			return nil, fmt.Errorf("%w: entry %q has no default offsets", ErrInvalidCatalog, e.Name)
		}
		if err := e.DefaultOffsets.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %q: %v", ErrInvalidCatalog, e.Name, err)
		}
		if !e.Urgency.valid() {
			return nil, fmt.Errorf("%w: entry %q has unknown urgency %q", ErrInvalidCatalog, e.Name, e.Urgency)
		}
		if !e.EndDateType.valid() {
			return nil, fmt.Errorf("%w: entry %q has unknown end date type %q", ErrInvalidCatalog, e.Name, e.EndDateType)
		}
		e.DefaultOffsets = e.DefaultOffsets.Clone()
		c.entries[e.Name] = e
		c.names = append(c.names, e.Name)
	}
	if _, ok := c.entries[FallbackType]; !ok {
		return nil, fmt.Errorf("%w: the %q entry is required", ErrInvalidCatalog, FallbackType)
	}
	sort.Strings(c.names)
	return c, nil
}

// Version identifies the catalog revision.
func (c *Catalog) Version() string { return c.version }

// DefaultChannels returns the system default channels.
func (c *Catalog) DefaultChannels() []notifier.Channel {
	return append([]notifier.Channel(nil), c.defaultChannels...)
}

// DefaultOffsets returns the system default lead times.
func (c *Catalog) DefaultOffsets() leadtime.Offsets { return c.defaultOffsets.Clone() }

// Lookup returns the entry for an item type. An empty name maps to FallbackType.
func (c *Catalog) Lookup(name string) (Entry, error) {
	if name == "" {
		name = FallbackType
	}
	e, ok := c.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	e.DefaultOffsets = e.DefaultOffsets.Clone()
	return e, nil
}

// Entries lists every entry ordered by name.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.names))
	for _, n := range c.names {
		e := c.entries[n]
		e.DefaultOffsets = e.DefaultOffsets.Clone()
		out = append(out, e)
	}
	return out
}
