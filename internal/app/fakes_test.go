package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/category"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/preference"
	"renewal_reminder/internal/domain/reminder"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func testCatalog() *catalog.Catalog {
	cat, err := catalog.Default()
	if err != nil {
		panic(err)
	}
	return cat
}

type fakeItems struct {
	items []*item.Item
}

func (f *fakeItems) GetByID(_ context.Context, id string) (*item.Item, error) {
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return nil, item.ErrNotFound
}

func (f *fakeItems) ListActive(context.Context) ([]*item.Item, error) {
	var out []*item.Item
	for _, it := range f.items {
		if it.IsActive {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeItems) ListByUser(_ context.Context, userID string) ([]*item.Item, error) {
	var out []*item.Item
	for _, it := range f.items {
		if it.UserID == userID {
			out = append(out, it)
		}
	}
	return out, nil
}

type fakeCategories struct {
	byID         map[string]*category.Category
	lineageCalls int
}

func newFakeCategories(cats ...*category.Category) *fakeCategories {
	f := &fakeCategories{byID: make(map[string]*category.Category)}
	for _, c := range cats {
		f.byID[c.ID] = c
	}
	return f
}

func (f *fakeCategories) GetByID(_ context.Context, id string) (*category.Category, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, category.ErrNotFound
	}
	return c, nil
}

func (f *fakeCategories) Lineage(_ context.Context, id string) ([]string, error) {
	f.lineageCalls++
	var out []string
	for id != "" {
		c, ok := f.byID[id]
		if !ok {
			if len(out) == 0 {
				return nil, category.ErrNotFound
			}
			break
		}
		out = append(out, c.ID)
		id = c.ParentID
	}
	return out, nil
}

type fakePrefs struct {
	mu       sync.Mutex
	rows     map[string]*preference.UserPreference
	getCalls int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{rows: make(map[string]*preference.UserPreference)}
}

func clonePref(p *preference.UserPreference) *preference.UserPreference {
	cp := *p
	cp.CategoryOverrides = make(map[string]preference.PartialSettings, len(p.CategoryOverrides))
	for k, v := range p.CategoryOverrides {
		cp.CategoryOverrides[k] = v
	}
	return &cp
}

func (f *fakePrefs) Get(_ context.Context, userID string) (*preference.UserPreference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	p, ok := f.rows[userID]
	if !ok {
		return nil, preference.ErrNotFound
	}
	return clonePref(p), nil
}

func (f *fakePrefs) CreateIfAbsent(_ context.Context, pref *preference.UserPreference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[pref.UserID]; !ok {
		f.rows[pref.UserID] = clonePref(pref)
	}
	return nil
}

func (f *fakePrefs) UpdateGlobal(_ context.Context, userID string, global preference.PartialSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[userID]
	if !ok {
		return preference.ErrNotFound
	}
	p.Global = global
	return nil
}

func (f *fakePrefs) UpsertCategoryOverride(_ context.Context, userID, categoryID string, o preference.PartialSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[userID]
	if !ok {
		return preference.ErrNotFound
	}
	p.CategoryOverrides[categoryID] = o
	return nil
}

func (f *fakePrefs) DeleteCategoryOverride(_ context.Context, userID, categoryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.rows[userID]; ok {
		delete(p.CategoryOverrides, categoryID)
	}
	return nil
}

type fakeLedger struct {
	mu           sync.Mutex
	entries      []*reminder.Entry
	interactions map[string]struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{interactions: make(map[string]struct{})}
}

func (f *fakeLedger) ExistsSent(_ context.Context, key reminder.Key) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Status == reminder.StatusSent && e.Key == key {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeLedger) Insert(_ context.Context, e *reminder.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.Status == reminder.StatusSent {
		for _, x := range f.entries {
			if x.Status == reminder.StatusSent && x.Key == e.Key {
				return reminder.ErrDuplicateKey
			}
		}
	}
	cp := *e
	f.entries = append(f.entries, &cp)
	return nil
}

func (f *fakeLedger) GetByID(_ context.Context, id string) (*reminder.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == id {
			cp := *e
			cp.Interactions = append([]reminder.Interaction(nil), e.Interactions...)
			return &cp, nil
		}
	}
	return nil, reminder.ErrEntryNotFound
}

func (f *fakeLedger) ListByUser(_ context.Context, userID string, limit int) ([]*reminder.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*reminder.Entry
	for _, e := range f.entries {
		if e.Key.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) AppendInteraction(_ context.Context, in reminder.Interaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var target *reminder.Entry
	for _, e := range f.entries {
		if e.ID == in.EntryID {
			target = e
		}
	}
	if target == nil {
		return false, reminder.ErrEntryNotFound
	}
	k := fmt.Sprintf("%s|%s|%s|%d", in.EntryID, in.Type, in.Outcome, in.MinuteBucket())
	if _, dup := f.interactions[k]; dup {
		return false, nil
	}
	f.interactions[k] = struct{}{}
	target.Interactions = append(target.Interactions, in)
	return true, nil
}

func (f *fakeLedger) Tally(_ context.Context, userID string) (*reminder.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &reminder.Tally{
		ByStatus:  map[reminder.Status]int64{},
		ByChannel: map[notifier.Channel]int64{},
		ByOutcome: map[string]int64{},
	}
	for _, e := range f.entries {
		if e.Key.UserID != userID {
			continue
		}
		t.ByStatus[e.Status]++
		if e.Status != reminder.StatusSent {
			continue
		}
		t.ByChannel[e.Channel]++
		for _, in := range e.Interactions {
			t.InteractionCount++
			if in.Outcome != "" {
				t.ByOutcome[in.Outcome]++
			}
		}
	}
	return t, nil
}

func (f *fakeLedger) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Status == reminder.StatusSent {
			n++
		}
	}
	return n
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, channels []notifier.Channel, msg notifier.Message) (notifier.Channel, error) {
	args := m.Called(ctx, channels, msg)
	return args.Get(0).(notifier.Channel), args.Error(1)
}
