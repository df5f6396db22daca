package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/angelmondragon/lms-notifier/internal/notifications"
	"github.com/angelmondragon/lms-notifier/internal/realtime"
	pkgAuth "github.com/angelmondragon/lms-notifier/pkg/auth"
	"github.com/angelmondragon/lms-notifier/pkg/config"
	pkgerrors "github.com/angelmondragon/lms-notifier/pkg/errors"
	"github.com/angelmondragon/lms-notifier/pkg/lms"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
)

// Service ties the connection manager to the notification store of the
// signed-in identity.
type Service interface {
	Login(ctx context.Context, creds Credentials) (*LoginResult, error)
	Logout(ctx context.Context)
	Store() *notifications.Store
	Identity() string
	Status() Status
	JoinCourse(ctx context.Context, roomID string) error
	LeaveCourse(ctx context.Context, roomID string) error
}

type connection interface {
	Connect(ctx context.Context, identity string, roomIDs []string)
	Disconnect()
	OnNotification(fn realtime.Listener) (unsubscribe func())
	JoinCourse(identity, roomID string) (sent bool)
	LeaveCourse(roomID string) (sent bool)
	Status() realtime.Status
	ListenerCount() int
}

type userLookup interface {
	CurrentUser(ctx context.Context, auth lms.Auth) (*lms.User, error)
}

// ServiceParams bundles the dependencies of a session service. LMS and a JWT
// secret are optional; without them logins must carry an explicit user id.
type ServiceParams struct {
	Connection connection
	LMS        userLookup
	JWTConfig  config.JWTConfig
	Announcer  notifications.Announcer
	Guard      notifications.Guard
	Listeners  []realtime.Listener
	Logger     *logger.Logger
	Metrics    *metrics.NotifierMetrics
}

type service struct {
	conn      connection
	lms       userLookup
	jwtCfg    config.JWTConfig
	announcer notifications.Announcer
	guard     notifications.Guard
	extra     []realtime.Listener
	logg      *logger.Logger
	metrics   *metrics.NotifierMetrics

	mu    sync.Mutex
	store *notifications.Store
}

func NewService(params ServiceParams) (Service, error) {
	if params.Connection == nil {
		return nil, errors.New("connection manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	s := &service{
		conn:      params.Connection,
		lms:       params.LMS,
		jwtCfg:    params.JWTConfig,
		announcer: params.Announcer,
		guard:     params.Guard,
		extra:     params.Listeners,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}
	s.store = s.newStore("")
	return s, nil
}

// Login resolves creds to an identity and room list and connects it. A login
// for the identity already signed in keeps its store; a different identity
// disconnects the previous one and starts from an empty store.
func (s *service) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	result, err := s.resolve(ctx, creds)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id": result.Identity,
		"source":  result.Source,
		"courses": len(result.CourseIDs),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Identity() == result.Identity {
		if s.conn.ListenerCount() == 0 {
			s.register()
		}
		s.conn.Connect(ctx, result.Identity, result.CourseIDs)
		s.logg.Debug(logCtx, "login for active identity")
		return result, nil
	}

	if s.store.Identity() != "" {
		s.conn.Disconnect()
	}
	s.store = s.newStore(result.Identity)
	s.register()
	s.conn.Connect(ctx, result.Identity, result.CourseIDs)
	result.Changed = true
	s.logg.Info(logCtx, "session started")
	return result, nil
}

// Logout disconnects and leaves an empty store bound to no identity.
func (s *service) Logout(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.store.Identity()
	s.conn.Disconnect()
	s.store = s.newStore("")
	if prev != "" {
		s.logg.Info(s.logg.WithUserID(ctx, prev), "session ended")
	}
}

func (s *service) Store() *notifications.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

func (s *service) Identity() string {
	return s.Store().Identity()
}

func (s *service) Status() Status {
	store := s.Store()
	status := statusFrom(s.conn.Status(), store.UnreadCount())
	if status.Identity == "" {
		status.Identity = store.Identity()
	}
	return status
}

func (s *service) JoinCourse(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "room id is required")
	}
	identity := s.Identity()
	if identity == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "no active session")
	}
	if !s.conn.JoinCourse(identity, roomID) {
		return pkgerrors.New(pkgerrors.CodeNotConnected, "cannot join course while disconnected").
			WithDetails(map[string]any{"roomId": roomID})
	}
	return nil
}

func (s *service) LeaveCourse(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "room id is required")
	}
	if s.Identity() == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "no active session")
	}
	if !s.conn.LeaveCourse(roomID) {
		return pkgerrors.New(pkgerrors.CodeNotConnected, "cannot leave course while disconnected").
			WithDetails(map[string]any{"roomId": roomID})
	}
	return nil
}

// caller holds s.mu
func (s *service) register() {
	s.conn.OnNotification(s.store.Listener())
	for _, fn := range s.extra {
		s.conn.OnNotification(fn)
	}
}

func (s *service) newStore(identity string) *notifications.Store {
	s.metrics.SetUnread(0)
	return notifications.NewStore(notifications.StoreParams{
		Identity:  identity,
		Announcer: s.announcer,
		Guard:     s.guard,
		Logger:    s.logg,
		Metrics:   s.metrics,
	})
}

func (s *service) resolve(ctx context.Context, creds Credentials) (*LoginResult, error) {
	result := &LoginResult{
		Identity:  strings.TrimSpace(creds.UserID),
		CourseIDs: cleanRooms(creds.CourseIDs),
		Source:    SourceExplicit,
	}
	token := strings.TrimSpace(creds.Token)
	auth := lms.Auth{Token: token, Cookie: strings.TrimSpace(creds.Cookie)}

	if result.Identity == "" && token != "" && s.jwtCfg.Enabled() {
		claims, err := pkgAuth.ParseAccessToken(s.jwtCfg, token)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token")
		}
		result.Identity = claims.Identity()
		result.Source = SourceToken
		if len(result.CourseIDs) == 0 {
			result.CourseIDs = claims.Courses()
		}
	}

	needUser := result.Identity == "" || len(result.CourseIDs) == 0
	if needUser && s.lms != nil && (auth.Token != "" || auth.Cookie != "") {
		user, err := s.lms.CurrentUser(ctx, auth)
		if err != nil {
			if result.Identity == "" {
				return nil, err
			}
			s.logg.Warn(s.logg.WithField(s.logg.WithUserID(ctx, result.Identity), "error", err.Error()), "course lookup failed; joining no rooms")
		} else {
			if result.Identity == "" {
				result.Identity = strings.TrimSpace(user.ID.String())
				result.Source = SourceLMS
			} else if id := strings.TrimSpace(user.ID.String()); id != "" && id != result.Identity {
				return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "credentials belong to a different user")
			}
			if len(result.CourseIDs) == 0 {
				result.CourseIDs = user.CourseIDs()
			}
		}
	}

	if result.Identity == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id or credentials are required")
	}
	if result.CourseIDs == nil {
		result.CourseIDs = []string{}
	}
	return result, nil
}

func cleanRooms(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
