package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/lms-notifier/api/responses"
	"github.com/angelmondragon/lms-notifier/api/validators"
	"github.com/angelmondragon/lms-notifier/internal/session"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/types"
)

type sessionService interface {
	Login(ctx context.Context, creds session.Credentials) (*session.LoginResult, error)
	Logout(ctx context.Context)
	Status() session.Status
}

type loginRequest struct {
	UserID    types.FlexString   `json:"userId" validate:"required_without_all=Token Cookie"`
	Token     string             `json:"token"`
	Cookie    string             `json:"cookie"`
	CourseIDs []types.FlexString `json:"courseIds" validate:"omitempty,max=500,dive,required"`
}

type loginResponse struct {
	Session *session.LoginResult `json:"session"`
	Status  session.Status       `json:"status"`
}

// bearerToken returns the Authorization bearer token, if any.
func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return ""
}

// SessionLogin signs an identity in and connects it to the notification
// service. The access token may come in the body or as a bearer header.
func SessionLogin(svc sessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// body fields override the bearer header; header-only logins send no body
		req := loginRequest{Token: bearerToken(r)}
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		result, err := svc.Login(r.Context(), session.Credentials{
			UserID:    validators.SanitizeString(req.UserID.String(), 128),
			Token:     strings.TrimSpace(req.Token),
			Cookie:    strings.TrimSpace(req.Cookie),
			CourseIDs: types.FlexStrings(req.CourseIDs),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Changed {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, loginResponse{Session: result, Status: svc.Status()})
	}
}

func SessionLogout(svc sessionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.Logout(r.Context())
		responses.WriteSuccess(w, svc.Status())
	}
}

func SessionStatus(svc sessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, svc.Status())
	}
}
