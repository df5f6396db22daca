package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/lms-notifier/api/controllers"
	"github.com/angelmondragon/lms-notifier/api/routes"
	"github.com/angelmondragon/lms-notifier/internal/notifications"
	"github.com/angelmondragon/lms-notifier/internal/realtime"
	"github.com/angelmondragon/lms-notifier/internal/relay"
	"github.com/angelmondragon/lms-notifier/internal/session"
	"github.com/angelmondragon/lms-notifier/pkg/config"
	"github.com/angelmondragon/lms-notifier/pkg/lms"
	"github.com/angelmondragon/lms-notifier/pkg/logger"
	"github.com/angelmondragon/lms-notifier/pkg/metrics"
	"github.com/angelmondragon/lms-notifier/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

type redisClient interface {
	redis.DedupeStore
	Ping(context.Context) error
	Close() error
}

type pubSubClient interface {
	Ping(context.Context) error
	RelayPublisher() *gcppubsub.Publisher
	Close() error
}

// ServiceParams wires the notifier daemon. Redis and PubSub are optional and
// only consulted when dedupe=redis and a relay topic are configured.
type ServiceParams struct {
	Config *config.Config
	Logger *logger.Logger
	Dialer realtime.Dialer
	Redis  redisClient
	PubSub pubSubClient
	// Relay overrides the publisher built from PubSub; used by tests.
	Relay relay.Publisher
}

// Service owns the connection manager, the session and the local HTTP API.
type Service struct {
	cfg      *config.Config
	logg     *logger.Logger
	registry *prometheus.Registry
	manager  *realtime.Manager
	sessions session.Service
	relay    *relay.Relay
	redis    redisClient
	pubsub   pubSubClient
	server   *http.Server
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	cfg := params.Config
	logg := params.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewNotifierMetrics(reg)

	manager, err := realtime.NewManager(realtime.ManagerParams{
		ServiceURL:       cfg.Notifier.ServiceURL,
		HandshakeTimeout: cfg.Notifier.HandshakeTimeout,
		Dialer:           params.Dialer,
		Logger:           logg,
		Metrics:          m,
	})
	if err != nil {
		return nil, err
	}

	var dedupeStore redis.DedupeStore
	if params.Redis != nil {
		dedupeStore = params.Redis
	}
	guard, err := notifications.NewGuard(cfg.Dedupe.NormalizedMode(), cfg.Dedupe.Window, dedupeStore)
	if err != nil {
		return nil, err
	}

	channels := []notifications.Notifier{
		notifications.NewToastNotifier(logg),
		notifications.NewDesktopNotifier(notifications.NewLogDesktop(logg, notifications.ParsePermission(cfg.Desktop.Permission))),
	}
	if cfg.Desktop.SoundEnabled {
		channels = append(channels, notifications.NewSoundNotifier(notifications.BellPlayer{W: os.Stderr}))
	}
	fanout := notifications.NewFanout(logg, m, channels...)

	lmsClient, err := lms.NewClient(cfg.LMS.BaseURL, lms.WithTimeout(cfg.LMS.Timeout))
	if err != nil {
		return nil, err
	}

	var (
		listeners []realtime.Listener
		forwarder *relay.Relay
	)
	publisher := params.Relay
	if publisher == nil && params.PubSub != nil {
		if p := params.PubSub.RelayPublisher(); p != nil {
			publisher = relay.NewGCPPublisher(p)
		}
	}
	if publisher != nil {
		forwarder, err = relay.New(relay.Params{
			Publisher: publisher,
			Logger:    logg,
			Metrics:   m,
			Timeout:   cfg.PubSub.PublishTimeout,
		})
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, forwarder.Listener())
	}

	sessions, err := session.NewService(session.ServiceParams{
		Connection: manager,
		LMS:        lmsClient,
		JWTConfig:  cfg.JWT,
		Announcer:  fanout,
		Guard:      guard,
		Listeners:  listeners,
		Logger:     logg,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	deps := map[string]controllers.Pinger{}
	if params.Redis != nil {
		deps["redis"] = params.Redis
	}
	if params.PubSub != nil {
		deps["pubsub"] = params.PubSub
	}

	return &Service{
		cfg:      cfg,
		logg:     logg,
		registry: reg,
		manager:  manager,
		sessions: sessions,
		relay:    forwarder,
		redis:    params.Redis,
		pubsub:   params.PubSub,
		server: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           routes.NewRouter(cfg, logg, sessions, reg, deps),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func (s *Service) Addr() string {
	return s.server.Addr
}

func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

func (s *Service) Sessions() session.Service {
	return s.sessions
}

// Run serves the local API until ctx is cancelled, then shuts everything
// down. The push connection is only opened by a session login.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.Close()
	})

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Close stops the API server and releases the connection and clients.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	s.manager.Close()
	if s.relay != nil {
		s.relay.Close()
	}
	if s.redis != nil {
		errs = multierr.Append(errs, s.redis.Close())
	}
	if s.pubsub != nil {
		errs = multierr.Append(errs, s.pubsub.Close())
	}
	if errs != nil {
		s.logg.Error(context.Background(), "error during shutdown", errs)
	}
	return errs
}
