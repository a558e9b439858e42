package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"renewal_reminder/internal/app"
	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/category"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/preference"
	"renewal_reminder/internal/domain/reminder"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReminders struct{ mock.Mock }

func (m *mockReminders) RunTick(ctx context.Context, asOf time.Time) (app.TickSummary, error) {
	args := m.Called(ctx, asOf)
	return args.Get(0).(app.TickSummary), args.Error(1)
}

func (m *mockReminders) FindDue(ctx context.Context, asOf time.Time) ([]app.DueReminder, app.ScanSummary, error) {
	args := m.Called(ctx, asOf)
	due, _ := args.Get(0).([]app.DueReminder)
	return due, args.Get(1).(app.ScanSummary), args.Error(2)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) WasReminderSent(ctx context.Context, key reminder.Key) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockLedger) GetEntry(ctx context.Context, entryID string) (*reminder.Entry, error) {
	args := m.Called(ctx, entryID)
	e, _ := args.Get(0).(*reminder.Entry)
	return e, args.Error(1)
}

func (m *mockLedger) TrackInteraction(ctx context.Context, entryID string, typ reminder.InteractionType, outcome string, at time.Time) (*reminder.Entry, bool, error) {
	args := m.Called(ctx, entryID, typ, outcome, at)
	e, _ := args.Get(0).(*reminder.Entry)
	return e, args.Bool(1), args.Error(2)
}

func (m *mockLedger) ListForUser(ctx context.Context, userID string, limit int) ([]*reminder.Entry, error) {
	args := m.Called(ctx, userID, limit)
	es, _ := args.Get(0).([]*reminder.Entry)
	return es, args.Error(1)
}

type mockPreferences struct{ mock.Mock }

func (m *mockPreferences) GetOrCreateForUser(ctx context.Context, userID string) (*preference.UserPreference, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*preference.UserPreference)
	return p, args.Error(1)
}

func (m *mockPreferences) UpdateGlobalSettings(ctx context.Context, userID string, s preference.PartialSettings) (*preference.UserPreference, error) {
	args := m.Called(ctx, userID, s)
	p, _ := args.Get(0).(*preference.UserPreference)
	return p, args.Error(1)
}

func (m *mockPreferences) SetCategoryOverride(ctx context.Context, userID, categoryID string, s preference.PartialSettings) (*preference.UserPreference, error) {
	args := m.Called(ctx, userID, categoryID, s)
	p, _ := args.Get(0).(*preference.UserPreference)
	return p, args.Error(1)
}

func (m *mockPreferences) GetReminderSettingsForCategory(ctx context.Context, userID, categoryID string) (*app.Resolution, error) {
	args := m.Called(ctx, userID, categoryID)
	r, _ := args.Get(0).(*app.Resolution)
	return r, args.Error(1)
}

type mockStats struct{ mock.Mock }

func (m *mockStats) GetStats(ctx context.Context, userID string) (*app.Stats, error) {
	args := m.Called(ctx, userID)
	s, _ := args.Get(0).(*app.Stats)
	return s, args.Error(1)
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type testServer struct {
	reminders *mockReminders
	ledger    *mockLedger
	prefs     *mockPreferences
	stats     *mockStats
	handler   *Handler
	router    http.Handler
}

func newTestServer(t *testing.T, db Pinger) *testServer {
	t.Helper()
	cat, err := catalog.Default()
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	logger := logrus.NewEntry(log)

	s := &testServer{
		reminders: &mockReminders{},
		ledger:    &mockLedger{},
		prefs:     &mockPreferences{},
		stats:     &mockStats{},
	}
	s.handler = NewHandler(s.reminders, s.ledger, s.prefs, s.stats, cat, db, time.UTC, logger)
	s.handler.now = func() time.Time { return time.Date(2024, 12, 18, 15, 0, 0, 0, time.UTC) }
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { io.WriteString(w, "# metrics\n") })
	s.router = NewRouter(s.handler, metrics, []string{"https://app.example"}, logger)
	return s
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func sampleEntry() *reminder.Entry {
	return &reminder.Entry{
		ID:      "e1",
		Key:     reminder.Key{ItemID: "car", UserID: "u1", OffsetDays: 14, RenewalDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		Status:  reminder.StatusSent,
		Channel: notifier.ChannelEmail,
		Content: reminder.ContentSnapshot{Title: "Car insurance", Kind: reminder.KindLeadTime},
	}
}

func TestListDue_DefaultsToToday(t *testing.T) {
	s := newTestServer(t, nil)
	today := time.Date(2024, 12, 18, 0, 0, 0, 0, time.UTC)
	s.reminders.On("FindDue", mock.Anything, today).Return([]app.DueReminder{{
		Item:        &item.Item{ID: "car", Title: "Car insurance"},
		UserID:      "u1",
		OffsetDays:  14,
		Kind:        reminder.KindLeadTime,
		RenewalDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Entry:       catalog.Entry{Name: "car_insurance", Urgency: catalog.UrgencyCritical},
		Channels:    []notifier.Channel{notifier.ChannelEmail},
	}}, app.ScanSummary{AsOf: today, Scanned: 3, Due: 1}, nil)

	rec := s.do(http.MethodGet, "/api/reminders/due", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Summary.Scanned)
	require.Len(t, resp.Reminders, 1)
	assert.Equal(t, "2025-01-01", resp.Reminders[0].RenewalDate)
	assert.Equal(t, "car_insurance", resp.Reminders[0].ItemType)

	rec = s.do(http.MethodGet, "/api/reminders/due?as_of=18/12/2024", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunTick(t *testing.T) {
	s := newTestServer(t, nil)
	asOf := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	s.reminders.On("RunTick", mock.Anything, asOf).Return(app.TickSummary{AsOf: asOf, Sent: 2}, nil).Once()

	rec := s.do(http.MethodPost, "/api/reminders/tick?as_of=2025-02-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sent":2`)

	s.reminders.On("RunTick", mock.Anything, asOf).Return(app.TickSummary{}, errors.New("db down")).Once()
	rec = s.do(http.MethodPost, "/api/reminders/tick?as_of=2025-02-01", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down", "internal details stay in the log")
}

func TestWasSent(t *testing.T) {
	s := newTestServer(t, nil)
	key := reminder.Key{ItemID: "car", UserID: "u1", OffsetDays: 14, RenewalDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s.ledger.On("WasReminderSent", mock.Anything, key).Return(true, nil)

	rec := s.do(http.MethodGet, "/api/reminders/sent?item_id=car&user_id=u1&offset_days=14&renewal_date=2025-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":true}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/reminders/sent?item_id=car&user_id=u1&offset_days=-1&renewal_date=2025-01-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/reminders/sent?user_id=u1&offset_days=1&renewal_date=2025-01-01", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntry(t *testing.T) {
	s := newTestServer(t, nil)
	s.ledger.On("GetEntry", mock.Anything, "e1").Return(sampleEntry(), nil)
	s.ledger.On("GetEntry", mock.Anything, "nope").Return(nil, reminder.ErrEntryNotFound)

	rec := s.do(http.MethodGet, "/api/reminders/e1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dto EntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "car", dto.ItemID)
	assert.Equal(t, "2025-01-01", dto.RenewalDate)
	assert.NotNil(t, dto.Interactions)

	rec = s.do(http.MethodGet, "/api/reminders/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrackInteraction(t *testing.T) {
	s := newTestServer(t, nil)
	at := time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)
	s.ledger.On("TrackInteraction", mock.Anything, "e1", reminder.InteractionType("acted"), "renewed", at).Return(sampleEntry(), true, nil).Once()
	s.ledger.On("TrackInteraction", mock.Anything, "e1", reminder.InteractionType("acted"), "renewed", at).Return(sampleEntry(), false, nil).Once()
	s.ledger.On("TrackInteraction", mock.Anything, "e1", reminder.InteractionType("acted"), "", time.Time{}).
		Return(nil, false, &reminder.ValidationError{Field: "outcome", Reason: "required when type is acted"})

	body := `{"type":"acted","outcome":"renewed","occurred_at":"2025-01-02T09:00:00Z"}`
	rec := s.do(http.MethodPost, "/api/reminders/e1/interactions", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, "/api/reminders/e1/interactions", body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"recorded":false`)

	rec = s.do(http.MethodPost, "/api/reminders/e1/interactions", `{"type":"acted"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "required when type is acted")

	rec = s.do(http.MethodPost, "/api/reminders/e1/interactions", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackingLinks(t *testing.T) {
	s := newTestServer(t, nil)
	s.ledger.On("TrackInteraction", mock.Anything, "e1", reminder.InteractionOpened, "", time.Time{}).Return(sampleEntry(), true, nil)
	s.ledger.On("TrackInteraction", mock.Anything, "gone", reminder.InteractionOpened, "", time.Time{}).Return(nil, false, reminder.ErrEntryNotFound)
	s.ledger.On("TrackInteraction", mock.Anything, "e1", reminder.InteractionClicked, "", time.Time{}).Return(sampleEntry(), true, nil)
	s.ledger.On("TrackInteraction", mock.Anything, "gone", reminder.InteractionClicked, "", time.Time{}).Return(nil, false, reminder.ErrEntryNotFound)

	for _, id := range []string{"e1", "gone"} {
		rec := s.do(http.MethodGet, "/t/"+id+"/open.gif", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
		assert.Equal(t, transparentGIF, rec.Body.Bytes())
	}

	rec := s.do(http.MethodGet, "/t/e1/click?to=/items/car", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/items/car", rec.Header().Get("Location"))

	rec = s.do(http.MethodGet, "/t/e1/click?to=https://evil.example", "")
	assert.Equal(t, http.StatusOK, rec.Code, "external targets are not followed")
	assert.Contains(t, rec.Body.String(), "Car insurance")

	rec = s.do(http.MethodGet, "/t/gone/click", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPreferences(t *testing.T) {
	s := newTestServer(t, nil)
	on := true
	pref := &preference.UserPreference{UserID: "u1", Global: preference.PartialSettings{Enabled: &on}}

	s.prefs.On("GetOrCreateForUser", mock.Anything, "u1").Return(pref, nil)
	rec := s.do(http.MethodGet, "/api/users/u1/preferences", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":"u1"`)

	s.prefs.On("UpdateGlobalSettings", mock.Anything, "u1", preference.PartialSettings{Offsets: leadtime.Offsets{30, 7}}).Return(pref, nil)
	rec = s.do(http.MethodPut, "/api/users/u1/preferences/global", `{"offsets":[30,7]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := preference.PartialSettings{Offsets: leadtime.Offsets{7, 30}}
	s.prefs.On("SetCategoryOverride", mock.Anything, "u1", "c1", bad).
		Return(nil, &preference.ValidationError{Field: "offsets", Reason: "must be strictly descending"})
	rec = s.do(http.MethodPut, "/api/users/u1/preferences/categories/c1", `{"offsets":[7,30]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "strictly descending")

	s.prefs.On("SetCategoryOverride", mock.Anything, "u1", "other", preference.PartialSettings{}).Return(nil, category.ErrNotFound)
	rec = s.do(http.MethodPut, "/api/users/u1/preferences/categories/other", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	res := &app.Resolution{
		Settings: preference.Settings{Enabled: true, Offsets: leadtime.Offsets{14}, Channels: []notifier.Channel{notifier.ChannelEmail}},
		Sources:  map[string]string{"offsets": "category:c1"},
	}
	s.prefs.On("GetReminderSettingsForCategory", mock.Anything, "u1", "c1").Return(res, nil)
	rec = s.do(http.MethodGet, "/api/users/u1/preferences/categories/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"category:c1"`)
}

func TestHistoryAndStats(t *testing.T) {
	s := newTestServer(t, nil)
	s.ledger.On("ListForUser", mock.Anything, "u1", 5).Return([]*reminder.Entry{sampleEntry()}, nil)
	s.stats.On("GetStats", mock.Anything, "u1").Return(&app.Stats{UserID: "u1", TotalSent: 3, EngagementRate: decimal.RequireFromString("0.6667")}, nil)

	rec := s.do(http.MethodGet, "/api/users/u1/reminders?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []EntryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = s.do(http.MethodGet, "/api/users/u1/reminders?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/users/u1/reminders/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"engagement_rate":"0.6667"`)
}

func TestSystemEndpoints(t *testing.T) {
	s := newTestServer(t, pinger{})
	rec := s.do(http.MethodGet, "/api/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cat CatalogDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cat))
	assert.NotEmpty(t, cat.Version)
	assert.NotEmpty(t, cat.Entries)

	rec = s.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	down := newTestServer(t, pinger{err: errors.New("connection refused")})
	rec = down.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/catalog", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIsLocalPath(t *testing.T) {
	assert.True(t, isLocalPath("/items/1"))
	assert.False(t, isLocalPath("//evil.example"))
	assert.False(t, isLocalPath("/\\evil.example"))
	assert.False(t, isLocalPath("https://evil.example"))
	assert.False(t, isLocalPath(""))
}
