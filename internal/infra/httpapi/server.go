// Package httpapi exposes the reminder engine over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured. metrics may be
// nil when Prometheus export is disabled.
func NewRouter(h *Handler, metrics http.Handler, allowedOrigins []string, logger *logrus.Entry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger.WithField("component", "http")))
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	// Tracking links embedded in delivered reminders
	r.Route("/t/{entryID}", func(r chi.Router) {
		r.Get("/open.gif", h.TrackOpen)
		r.Get("/click", h.TrackClick)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", h.GetCatalog)

		r.Route("/reminders", func(r chi.Router) {
			r.Get("/due", h.ListDue)
			r.Post("/tick", h.RunTick)
			r.Get("/sent", h.WasSent)
			r.Get("/{entryID}", h.GetEntry)
			r.Post("/{entryID}/interactions", h.TrackInteraction)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/preferences", h.GetPreferences)
			r.Put("/preferences/global", h.UpdateGlobal)
			r.Get("/preferences/categories/{categoryID}", h.GetCategorySettings)
			r.Put("/preferences/categories/{categoryID}", h.SetCategoryOverride)
			r.Get("/reminders", h.ListHistory)
			r.Get("/reminders/stats", h.GetStats)
		})
	})

	return r
}

func requestLogger(logger *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("Request failed")
				return
			}
			entry.Debug("Request served")
		})
	}
}
