package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/lms-notifier/api/controllers"
	"github.com/angelmondragon/lms-notifier/api/middleware"
	"github.com/angelmondragon/lms-notifier/internal/session"
	"github.com/angelmondragon/lms-notifier/pkg/config"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
)

// NewRouter exposes the session, room and notification operations of the
// single notifier session over HTTP. gatherer may be nil, in which case
// /metrics is not mounted.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	sessions session.Service,
	gatherer prometheus.Gatherer,
	deps map[string]controllers.Pinger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, sessions, deps))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", controllers.SessionStatus(sessions))
			r.Post("/", controllers.SessionLogin(sessions, logg))
			r.Delete("/", controllers.SessionLogout(sessions, logg))
		})

		r.Route("/rooms/{roomId}", func(r chi.Router) {
			r.Post("/", controllers.JoinRoom(sessions, logg))
			r.Delete("/", controllers.LeaveRoom(sessions, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(sessions, logg))
			r.Delete("/", controllers.ClearAllNotifications(sessions, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(sessions, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(sessions, logg))
			r.Delete("/{notificationId}", controllers.ClearNotification(sessions, logg))
		})
	})

	return r
}
