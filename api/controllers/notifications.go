package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/lms-notifier/api/responses"
	"github.com/angelmondragon/lms-notifier/api/validators"
	"github.com/angelmondragon/lms-notifier/internal/notifications"
	pkgerrors "github.com/angelmondragon/lms-notifier/pkg/errors"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
)

const maxListLimit = 1000

type storeProvider interface {
	Store() *notifications.Store
}

type listNotificationsResponse struct {
	Items       []notifications.View `json:"items"`
	Total       int                  `json:"total"`
	UnreadCount int                  `json:"unreadCount"`
	Badge       string               `json:"badge"`
}

func notificationParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "notificationId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification id")
	}
	return id, nil
}

// ListNotifications returns the current identity's notifications, newest first.
func ListNotifications(svc storeProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap := svc.Store().Snapshot()
		now := time.Now()
		items := make([]notifications.View, 0, len(snap.Records))
		for _, rec := range snap.Records {
			if unreadOnly && rec.Read {
				continue
			}
			if limit > 0 && len(items) == limit {
				break
			}
			items = append(items, notifications.Present(rec, now, time.Local))
		}

		responses.WriteSuccess(w, listNotificationsResponse{
			Items:       items,
			Total:       len(snap.Records),
			UnreadCount: snap.UnreadCount,
			Badge:       notifications.BadgeLabel(snap.UnreadCount),
		})
	}
}

// MarkNotificationRead is idempotent: unknown or already read ids report
// read=false and leave the store unchanged.
func MarkNotificationRead(svc storeProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := notificationParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		store := svc.Store()
		changed := store.MarkAsRead(id)
		responses.WriteSuccess(w, map[string]any{
			"read":        changed,
			"unreadCount": store.UnreadCount(),
		})
	}
}

func MarkAllNotificationsRead(svc storeProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated := svc.Store().MarkAllAsRead()
		responses.WriteSuccess(w, map[string]int{"updated": updated, "unreadCount": 0})
	}
}

func ClearNotification(svc storeProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := notificationParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		store := svc.Store()
		if !store.ClearNotification(id) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "notification not found"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"cleared":     true,
			"unreadCount": store.UnreadCount(),
		})
	}
}

func ClearAllNotifications(svc storeProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Store().ClearAllNotifications()
		responses.WriteSuccess(w, map[string]any{"cleared": true, "unreadCount": 0})
	}
}
