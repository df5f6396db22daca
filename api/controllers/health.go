package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/lms-notifier/api/responses"
	"github.com/angelmondragon/lms-notifier/internal/session"
	"github.com/angelmondragon/lms-notifier/pkg/config"
	pkgerrors "github.com/angelmondragon/lms-notifier/pkg/errors"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
)

// Pinger is an optional dependency checked by the readiness probe.
type Pinger interface {
	Ping(context.Context) error
}

type statusProvider interface {
	Status() session.Status
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LMS-Notifier-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports the push connection state and checks the optional
// dependencies. A missing session is not a readiness failure; an
// unreachable dependency is.
func HealthReady(cfg *config.Config, logg *logger.Logger, sessions statusProvider, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-LMS-Notifier-Env", cfg.App.Env)
		ctx := r.Context()

		checks := map[string]string{}
		failed := map[string]any{}
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "error"
				failed[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		if len(failed) > 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency check failed").WithDetails(failed))
			return
		}

		connection := "disconnected"
		if sessions != nil {
			connection = sessions.Status().State
		}
		responses.WriteSuccess(w, map[string]any{
			"status":     "ready",
			"connection": connection,
			"checks":     checks,
		})
	}
}
