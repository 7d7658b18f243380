/**
 * @description
 * HTTP router setup for the subscription API using go-chi/chi.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the subscription routes.
func NewRouter(h *Handler, jwksURL string, internalKey string) *chi.Mux {
	return newRouter(h, ClerkAuthMiddleware(jwksURL), internalKey)
}

func newRouter(h *Handler, authMiddleware func(http.Handler) http.Handler, internalKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Subscription service is healthy"))
	})

	// The sweep is bounded by the scheduler's client timeout, not the request timeout below.
	r.Route("/internal/reminders", func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalKey))
		r.Post("/dispatch", h.handleRunDispatch)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(authMiddleware)
		r.Use(ResolveUserMiddleware(h.service))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", h.handleListSubscriptions)
			r.Post("/", h.handleCreateSubscription)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.handleGetSubscription)
				r.Patch("/", h.handleUpdateSubscription)
				r.Delete("/", h.handleDeleteSubscription)
				r.Post("/renew", h.handleRenewSubscription)
				r.Put("/active", h.handleSetActive)
				r.Get("/history", h.handleListHistory)

				r.Get("/reminders", h.handleListReminders)
				r.Post("/reminders", h.handleAddReminder)
				r.Patch("/reminders/{reminderID}", h.handleUpdateReminder)
				r.Delete("/reminders/{reminderID}", h.handleDeleteReminder)
			})
		})

		r.Get("/reminders/due", h.handleDueReminders)
		r.Get("/history", h.handleListAllHistory)

		r.Get("/notifications", h.handleListNotifications)
		r.Get("/notifications/unread-count", h.handleUnreadCount)
		r.Post("/notifications/read-all", h.handleMarkAllNotificationsRead)
		r.Post("/notifications/{id}/read", h.handleMarkNotificationRead)

		r.Get("/categories", h.handleListCategories)
		r.Post("/categories", h.handleCreateCategory)

		r.Get("/report", h.handleReport)
	})

	return r
}
