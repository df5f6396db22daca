package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/lms-notifier/internal/session"
	pkgerrors "github.com/angelmondragon/lms-notifier/pkg/errors"
)

type stubSessionService struct {
	loginFn   func(ctx context.Context, creds session.Credentials) (*session.LoginResult, error)
	loggedOut bool
	status    session.Status
	joinErr   error
	joined    []string
	left      []string
}

func (s *stubSessionService) Login(ctx context.Context, creds session.Credentials) (*session.LoginResult, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, creds)
	}
	return &session.LoginResult{Identity: creds.UserID, CourseIDs: creds.CourseIDs, Changed: true}, nil
}

func (s *stubSessionService) Logout(context.Context) { s.loggedOut = true }

func (s *stubSessionService) Status() session.Status { return s.status }

func (s *stubSessionService) JoinCourse(_ context.Context, roomID string) error {
	s.joined = append(s.joined, roomID)
	return s.joinErr
}

func (s *stubSessionService) LeaveCourse(_ context.Context, roomID string) error {
	s.left = append(s.left, roomID)
	return s.joinErr
}

func TestSessionLoginPassesCredentials(t *testing.T) {
	var got session.Credentials
	svc := &stubSessionService{
		loginFn: func(_ context.Context, creds session.Credentials) (*session.LoginResult, error) {
			got = creds
			return &session.LoginResult{Identity: "42", CourseIDs: creds.CourseIDs, Source: session.SourceExplicit, Changed: true}, nil
		},
		status: session.Status{Identity: "42", State: "connecting"},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"userId":42,"courseIds":[5,"6"]}`))
	resp := httptest.NewRecorder()
	SessionLogin(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.UserID != "42" || len(got.CourseIDs) != 2 || got.CourseIDs[1] != "6" {
		t.Fatalf("unexpected credentials %+v", got)
	}
	var body loginResponse
	decodeData(t, resp.Body.Bytes(), &body)
	if body.Session == nil || body.Session.Identity != "42" || body.Status.State != "connecting" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSessionLoginSameIdentityIsOK(t *testing.T) {
	svc := &stubSessionService{
		loginFn: func(_ context.Context, creds session.Credentials) (*session.LoginResult, error) {
			return &session.LoginResult{Identity: creds.UserID}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"userId":"42"}`))
	resp := httptest.NewRecorder()
	SessionLogin(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}

func TestSessionLoginUsesBearerHeader(t *testing.T) {
	var got session.Credentials
	svc := &stubSessionService{
		loginFn: func(_ context.Context, creds session.Credentials) (*session.LoginResult, error) {
			got = creds
			return &session.LoginResult{Identity: "7", Changed: true}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	resp := httptest.NewRecorder()
	SessionLogin(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.Code)
	}
	if got.Token != "abc.def.ghi" {
		t.Fatalf("expected header token, got %q", got.Token)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"courseIds":["5"]}`))
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	resp = httptest.NewRecorder()
	SessionLogin(svc, testLogger())(resp, req)
	if resp.Code != http.StatusCreated || got.Token != "abc.def.ghi" || len(got.CourseIDs) != 1 {
		t.Fatalf("expected header token with body courses, got %d %+v", resp.Code, got)
	}
}

func TestSessionLoginValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no credentials", body: `{"courseIds":["5"]}`},
		{name: "unknown field", body: `{"userId":"42","password":"x"}`},
		{name: "empty course", body: `{"userId":"42","courseIds":[""]}`},
		{name: "malformed", body: `{"userId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(tt.body))
			resp := httptest.NewRecorder()
			SessionLogin(&stubSessionService{}, testLogger())(resp, req)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", resp.Code)
			}
		})
	}
}

func TestSessionLoginSurfacesServiceErrors(t *testing.T) {
	svc := &stubSessionService{
		loginFn: func(context.Context, session.Credentials) (*session.LoginResult, error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, errors.New("signature is invalid"), "invalid access token")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", strings.NewReader(`{"token":"bad"}`))
	resp := httptest.NewRecorder()
	SessionLogin(svc, testLogger())(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeUnauthorized) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestSessionLogoutAndStatus(t *testing.T) {
	svc := &stubSessionService{status: session.Status{State: "disconnected"}}

	resp := httptest.NewRecorder()
	SessionLogout(svc, testLogger())(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/session", nil))
	if resp.Code != http.StatusOK || !svc.loggedOut {
		t.Fatalf("expected logout, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	SessionStatus(svc)(resp, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
	var status session.Status
	decodeData(t, resp.Body.Bytes(), &status)
	if status.State != "disconnected" {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestJoinAndLeaveRoom(t *testing.T) {
	svc := &stubSessionService{}

	req := addRouteParam(httptest.NewRequest(http.MethodPost, "/api/v1/rooms/8", nil), "roomId", " 8 ")
	resp := httptest.NewRecorder()
	JoinRoom(svc, testLogger())(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", resp.Code)
	}

	req = addRouteParam(httptest.NewRequest(http.MethodDelete, "/api/v1/rooms/8", nil), "roomId", "8")
	resp = httptest.NewRecorder()
	LeaveRoom(svc, testLogger())(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", resp.Code)
	}
	if len(svc.joined) != 1 || svc.joined[0] != "8" || len(svc.left) != 1 {
		t.Fatalf("unexpected calls joined=%v left=%v", svc.joined, svc.left)
	}
}

func TestJoinRoomWhileDisconnected(t *testing.T) {
	svc := &stubSessionService{joinErr: pkgerrors.New(pkgerrors.CodeNotConnected, "cannot join course while disconnected")}
	req := addRouteParam(httptest.NewRequest(http.MethodPost, "/api/v1/rooms/8", nil), "roomId", "8")
	resp := httptest.NewRecorder()
	JoinRoom(svc, testLogger())(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeNotConnected) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestJoinRoomRequiresID(t *testing.T) {
	req := addRouteParam(httptest.NewRequest(http.MethodPost, "/api/v1/rooms/", nil), "roomId", "  ")
	resp := httptest.NewRecorder()
	JoinRoom(&stubSessionService{}, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}
