package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"renewal_reminder/internal/app"
	"renewal_reminder/internal/domain/catalog"
	"renewal_reminder/internal/domain/category"
	"renewal_reminder/internal/domain/item"
	"renewal_reminder/internal/domain/leadtime"
	"renewal_reminder/internal/domain/notifier"
	"renewal_reminder/internal/domain/preference"
	"renewal_reminder/internal/domain/reminder"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// Ledger is the part of the ledger service the API exposes.
type Ledger interface {
	WasReminderSent(ctx context.Context, key reminder.Key) (bool, error)
	GetEntry(ctx context.Context, entryID string) (*reminder.Entry, error)
	TrackInteraction(ctx context.Context, entryID string, typ reminder.InteractionType, outcome string, occurredAt time.Time) (*reminder.Entry, bool, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]*reminder.Entry, error)
}

type StatsProvider interface {
	GetStats(ctx context.Context, userID string) (*app.Stats, error)
}

// Pinger reports database health; *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	reminders   app.ReminderService
	ledger      Ledger
	preferences app.PreferenceService
	stats       StatsProvider
	catalog     *catalog.Catalog
	db          Pinger
	location    *time.Location
	logger      *logrus.Entry
	now         func() time.Time
}

func NewHandler(
	reminders app.ReminderService,
	ledger Ledger,
	preferences app.PreferenceService,
	stats StatsProvider,
	cat *catalog.Catalog,
	db Pinger,
	location *time.Location,
	logger *logrus.Entry,
) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		reminders:   reminders,
		ledger:      ledger,
		preferences: preferences,
		stats:       stats,
		catalog:     cat,
		db:          db,
		location:    location,
		logger:      logger.WithField("component", "http_handler"),
		now:         time.Now,
	}
}

// =============================================================================
// DTOs
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type EntryDTO struct {
	ID           string                   `json:"id"`
	ItemID       string                   `json:"item_id"`
	UserID       string                   `json:"user_id"`
	OffsetDays   int                      `json:"offset_days"`
	RenewalDate  string                   `json:"renewal_date"`
	Status       reminder.Status          `json:"status"`
	Channel      notifier.Channel         `json:"channel,omitempty"`
	Content      reminder.ContentSnapshot `json:"content"`
	Error        string                   `json:"error,omitempty"`
	Interactions []reminder.Interaction   `json:"interactions"`
	CreatedAt    time.Time                `json:"created_at"`
}

func toEntryDTO(e *reminder.Entry) EntryDTO {
	interactions := e.Interactions
	if interactions == nil {
		interactions = []reminder.Interaction{}
	}
	return EntryDTO{
		ID:           e.ID,
		ItemID:       e.Key.ItemID,
		UserID:       e.Key.UserID,
		OffsetDays:   e.Key.OffsetDays,
		RenewalDate:  item.FormatDate(e.Key.RenewalDate),
		Status:       e.Status,
		Channel:      e.Channel,
		Content:      e.Content,
		Error:        e.Error,
		Interactions: interactions,
		CreatedAt:    e.CreatedAt,
	}
}

type DueReminderDTO struct {
	ItemID      string             `json:"item_id"`
	UserID      string             `json:"user_id"`
	Title       string             `json:"title"`
	ItemType    string             `json:"item_type"`
	OffsetDays  int                `json:"offset_days"`
	Kind        reminder.Kind      `json:"kind"`
	RenewalDate string             `json:"renewal_date"`
	Urgency     catalog.Urgency    `json:"urgency"`
	Channels    []notifier.Channel `json:"channels"`
}

type DueResponse struct {
	Summary   app.ScanSummary  `json:"summary"`
	Reminders []DueReminderDTO `json:"reminders"`
}

type InteractionRequest struct {
	Type       string    `json:"type"`
	Outcome    string    `json:"outcome,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type InteractionResponse struct {
	Recorded bool     `json:"recorded"`
	Entry    EntryDTO `json:"entry"`
}

type CatalogDTO struct {
	Version         string             `json:"version"`
	DefaultChannels []notifier.Channel `json:"default_channels"`
	DefaultOffsets  leadtime.Offsets   `json:"default_offsets"`
	Entries         []catalog.Entry    `json:"entries"`
}

// =============================================================================
// REMINDER ENDPOINTS
// =============================================================================

// ListDue previews the reminders that fire on as_of (default today).
// GET /api/reminders/due?as_of=YYYY-MM-DD
func (h *Handler) ListDue(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
		return
	}
	due, summary, err := h.reminders.FindDue(r.Context(), asOf)
	if err != nil {
		h.fail(w, "Failed to scan items", err)
		return
	}

	dtos := make([]DueReminderDTO, 0, len(due))
	for _, d := range due {
		dtos = append(dtos, DueReminderDTO{
			ItemID:      d.Item.ID,
			UserID:      d.UserID,
			Title:       d.Item.Title,
			ItemType:    d.Entry.Name,
			OffsetDays:  d.OffsetDays,
			Kind:        d.Kind,
			RenewalDate: item.FormatDate(d.RenewalDate),
			Urgency:     d.Entry.Urgency,
			Channels:    d.Channels,
		})
	}
	writeJSON(w, http.StatusOK, DueResponse{Summary: summary, Reminders: dtos})
}

// RunTick runs the reminder pipeline now.
// POST /api/reminders/tick?as_of=YYYY-MM-DD
func (h *Handler) RunTick(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOf(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date (use YYYY-MM-DD)", err)
		return
	}
	summary, err := h.reminders.RunTick(r.Context(), asOf)
	if err != nil {
		h.fail(w, "Reminder tick failed", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// WasSent answers the dedup question for one key.
// GET /api/reminders/sent?item_id=&user_id=&offset_days=&renewal_date=
func (h *Handler) WasSent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := reminder.Key{ItemID: q.Get("item_id"), UserID: q.Get("user_id")}
	if key.ItemID == "" || key.UserID == "" {
		writeError(w, http.StatusBadRequest, "item_id and user_id are required", nil)
		return
	}
	offset, err := strconv.Atoi(q.Get("offset_days"))
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset_days must be a non-negative integer", err)
		return
	}
	key.OffsetDays = offset
	if key.RenewalDate, err = item.ParseDate(q.Get("renewal_date")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid renewal_date (use YYYY-MM-DD)", err)
		return
	}

	sent, err := h.ledger.WasReminderSent(r.Context(), key)
	if err != nil {
		h.fail(w, "Failed to check ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": sent})
}

// GetEntry returns a ledger entry with its interactions.
// GET /api/reminders/{entryID}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	e, err := h.ledger.GetEntry(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		h.fail(w, "Failed to get reminder", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

// TrackInteraction appends an interaction event. 201 when stored, 200 when
// it repeated an event already stored in the same minute.
// POST /api/reminders/{entryID}/interactions
func (h *Handler) TrackInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	e, recorded, err := h.ledger.TrackInteraction(r.Context(), chi.URLParam(r, "entryID"),
		reminder.InteractionType(req.Type), req.Outcome, req.OccurredAt)
	if err != nil {
		h.fail(w, "Failed to track interaction", err)
		return
	}
	status := http.StatusOK
	if recorded {
		status = http.StatusCreated
	}
	writeJSON(w, status, InteractionResponse{Recorded: recorded, Entry: toEntryDTO(e)})
}

// =============================================================================
// TRACKING LINKS
// =============================================================================

// transparentGIF is a 1x1 transparent GIF.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackOpen records an open and always serves the pixel, so mail clients
// never show a broken image.
// GET /t/{entryID}/open.gif
func (h *Handler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	h.trackSilently(r, reminder.InteractionOpened)
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(transparentGIF)
}

// TrackClick records a click and redirects to the local path in ?to=, or
// shows the entry when there is none.
// GET /t/{entryID}/click?to=/path
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	e := h.trackSilently(r, reminder.InteractionClicked)

	if to := r.URL.Query().Get("to"); isLocalPath(to) {
		http.Redirect(w, r, to, http.StatusFound)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, "Reminder not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(e))
}

func (h *Handler) trackSilently(r *http.Request, typ reminder.InteractionType) *reminder.Entry {
	entryID := chi.URLParam(r, "entryID")
	e, _, err := h.ledger.TrackInteraction(r.Context(), entryID, typ, "", time.Time{})
	if err != nil {
		logger := h.logger.WithError(err).WithFields(logrus.Fields{"entry_id": entryID, "type": typ})
		if errors.Is(err, reminder.ErrEntryNotFound) {
			logger.Debug("Tracking hit for unknown reminder")
		} else {
			logger.Warn("Failed to record tracking hit")
		}
		return nil
	}
	return e
}

// isLocalPath rejects absolute and scheme-relative URLs.
func isLocalPath(to string) bool {
	return strings.HasPrefix(to, "/") && !strings.HasPrefix(to, "//") && !strings.HasPrefix(to, "/\\")
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// GetPreferences returns the user's preferences, creating defaults on first use.
// GET /api/users/{userID}/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	pref, err := h.preferences.GetOrCreateForUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, "Failed to load preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// UpdateGlobal replaces the fields present in the body.
// PUT /api/users/{userID}/preferences/global
func (h *Handler) UpdateGlobal(w http.ResponseWriter, r *http.Request) {
	var req preference.PartialSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pref, err := h.preferences.UpdateGlobalSettings(r.Context(), chi.URLParam(r, "userID"), req)
	if err != nil {
		h.fail(w, "Failed to update preferences", err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// SetCategoryOverride stores the override; an empty body object clears it.
// PUT /api/users/{userID}/preferences/categories/{categoryID}
func (h *Handler) SetCategoryOverride(w http.ResponseWriter, r *http.Request) {
	var req preference.PartialSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	pref, err := h.preferences.SetCategoryOverride(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "categoryID"), req)
	if err != nil {
		h.fail(w, "Failed to store category override", err)
		return
	}
	writeJSON(w, http.StatusOK, pref)
}

// GetCategorySettings returns the resolved policy for a category.
// GET /api/users/{userID}/preferences/categories/{categoryID}
func (h *Handler) GetCategorySettings(w http.ResponseWriter, r *http.Request) {
	res, err := h.preferences.GetReminderSettingsForCategory(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "categoryID"))
	if err != nil {
		h.fail(w, "Failed to resolve category settings", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListHistory returns the user's most recent ledger entries.
// GET /api/users/{userID}/reminders?limit=N
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer", err)
			return
		}
		limit = n
	}
	entries, err := h.ledger.ListForUser(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.fail(w, "Failed to list reminders", err)
		return
	}
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStats returns delivery and engagement stats.
// GET /api/users/{userID}/reminders/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.GetStats(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.fail(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// =============================================================================
// SYSTEM ENDPOINTS
// =============================================================================

// GetCatalog returns the product policy catalog.
// GET /api/catalog
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CatalogDTO{
		Version:         h.catalog.Version(),
		DefaultChannels: h.catalog.DefaultChannels(),
		DefaultOffsets:  h.catalog.DefaultOffsets(),
		Entries:         h.catalog.Entries(),
	})
}

// Health pings the database.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "catalog_version": h.catalog.Version()})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) asOf(r *http.Request) (time.Time, error) {
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		return item.ParseDate(raw)
	}
	return item.DateOf(h.now().In(h.location)), nil
}

// fail maps domain errors to status codes.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, preference.ErrValidation), errors.Is(err, reminder.ErrInvalidInteraction):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, reminder.ErrEntryNotFound), errors.Is(err, preference.ErrNotFound),
		errors.Is(err, category.ErrNotFound), errors.Is(err, item.ErrNotFound):
		writeError(w, http.StatusNotFound, message, err)
	default:
		h.logger.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
