package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Notifier NotifierConfig
	LMS      LMSConfig
	JWT      JWTConfig
	Dedupe   DedupeConfig
	Redis    RedisConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Desktop  DesktopConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"LMSNOTIFY_APP_ENV" default:"dev"`
	Port         string   `envconfig:"LMSNOTIFY_APP_PORT" default:"8085"`
	LogLevel     string   `envconfig:"LMSNOTIFY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"LMSNOTIFY_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"LMSNOTIFY_CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// NotifierConfig locates the push notification server. Reconnection
// parameters are fixed by the realtime client and intentionally absent here.
type NotifierConfig struct {
	ServiceURL       string        `envconfig:"LMSNOTIFY_NOTIFICATION_SERVICE_URL" default:"http://localhost:3001"`
	HandshakeTimeout time.Duration `envconfig:"LMSNOTIFY_HANDSHAKE_TIMEOUT" default:"20s"`
}

type LMSConfig struct {
	BaseURL string        `envconfig:"LMSNOTIFY_LMS_API_URL" default:"http://localhost:8080/api"`
	Timeout time.Duration `envconfig:"LMSNOTIFY_LMS_TIMEOUT" default:"10s"`
}

// JWTConfig verifies access tokens handed to the session endpoint. An empty
// secret disables token-based login.
type JWTConfig struct {
	Secret string `envconfig:"LMSNOTIFY_JWT_SECRET"`
	Issuer string `envconfig:"LMSNOTIFY_JWT_ISSUER"`
}

func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

type DedupeConfig struct {
	Mode   string        `envconfig:"LMSNOTIFY_DEDUPE_MODE" default:"off"`
	Window time.Duration `envconfig:"LMSNOTIFY_DEDUPE_WINDOW" default:"10m"`
}

// NormalizedMode returns the lower-cased dedupe mode, defaulting to off.
func (d DedupeConfig) NormalizedMode() string {
	mode := strings.ToLower(strings.TrimSpace(d.Mode))
	if mode == "" {
		return DedupeModeOff
	}
	return mode
}

type RedisConfig struct {
	URL          string        `envconfig:"LMSNOTIFY_REDIS_URL"`
	Address      string        `envconfig:"LMSNOTIFY_REDIS_ADDR"`
	Password     string        `envconfig:"LMSNOTIFY_REDIS_PASSWORD"`
	DB           int           `envconfig:"LMSNOTIFY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LMSNOTIFY_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"LMSNOTIFY_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"LMSNOTIFY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LMSNOTIFY_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"LMSNOTIFY_REDIS_WRITE_TIMEOUT" default:"3s"`
}

func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type GCPConfig struct {
	ProjectID string `envconfig:"LMSNOTIFY_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	RelayTopic     string        `envconfig:"LMSNOTIFY_PUBSUB_RELAY_TOPIC"`
	PublishTimeout time.Duration `envconfig:"LMSNOTIFY_PUBSUB_PUBLISH_TIMEOUT" default:"15s"`
}

func (p PubSubConfig) RelayEnabled() bool {
	return strings.TrimSpace(p.RelayTopic) != ""
}

type DesktopConfig struct {
	Permission   string `envconfig:"LMSNOTIFY_DESKTOP_PERMISSION" default:"default"`
	SoundEnabled bool   `envconfig:"LMSNOTIFY_SOUND_ENABLED" default:"true"`
}

func (c *Config) validate() error {
	if _, err := url.ParseRequestURI(c.Notifier.ServiceURL); err != nil {
		return fmt.Errorf("%s must be an absolute url: %w", EnvNotificationServiceURL, err)
	}

	switch c.Dedupe.NormalizedMode() {
	case DedupeModeOff, DedupeModeMemory:
	case DedupeModeRedis:
		if !c.Redis.Configured() {
			return fmt.Errorf("either %s or %s is required when %s=%s", EnvRedisURL, EnvRedisAddr, EnvDedupeMode, DedupeModeRedis)
		}
	default:
		return fmt.Errorf("%s must be one of off, memory, redis (got %q)", EnvDedupeMode, c.Dedupe.Mode)
	}
	if mode := c.Dedupe.NormalizedMode(); mode != DedupeModeOff && c.Dedupe.Window <= 0 {
		return fmt.Errorf("%s must be positive when %s=%s (got %s)", EnvDedupeWindow, EnvDedupeMode, mode, c.Dedupe.Window)
	}

	if c.PubSub.RelayEnabled() && strings.TrimSpace(c.GCP.ProjectID) == "" {
		return fmt.Errorf("%s is required when %s is set", EnvGCPProjectID, EnvPubSubRelayTopic)
	}

	switch strings.ToLower(strings.TrimSpace(c.Desktop.Permission)) {
	case "granted", "default", "denied":
	default:
		return fmt.Errorf("%s must be one of granted, default, denied (got %q)", EnvDesktopPermission, c.Desktop.Permission)
	}
	return nil
}
