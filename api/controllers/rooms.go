package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/lms-notifier/api/responses"
	"github.com/angelmondragon/lms-notifier/api/validators"
	pkgerrors "github.com/angelmondragon/lms-notifier/pkg/errors"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
)

type roomService interface {
	JoinCourse(ctx context.Context, roomID string) error
	LeaveCourse(ctx context.Context, roomID string) error
}

func roomParam(r *http.Request) (string, error) {
	roomID := validators.SanitizeString(chi.URLParam(r, "roomId"), 128)
	if roomID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "room id is required")
	}
	return roomID, nil
}

// JoinRoom adds a course room to the live subscription.
func JoinRoom(svc roomService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := roomParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.JoinCourse(r.Context(), roomID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"roomId": roomID, "requested": "join"})
	}
}

func LeaveRoom(svc roomService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID, err := roomParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.LeaveCourse(r.Context(), roomID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"roomId": roomID, "requested": "leave"})
	}
}
