package config

const EnvPrefix = "LMSNOTIFY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	DedupeModeOff    = "off"
	DedupeModeMemory = "memory"
	DedupeModeRedis  = "redis"
)

const (
	EnvAppEnv                 = "LMSNOTIFY_APP_ENV"
	EnvPort                   = "LMSNOTIFY_APP_PORT"
	EnvLogLevel               = "LMSNOTIFY_LOG_LEVEL"
	EnvCORSOrigins            = "LMSNOTIFY_CORS_ORIGINS"
	EnvNotificationServiceURL = "LMSNOTIFY_NOTIFICATION_SERVICE_URL"
	EnvLMSAPIURL              = "LMSNOTIFY_LMS_API_URL"
	EnvJWTSecret              = "LMSNOTIFY_JWT_SECRET"
	EnvJWTIssuer              = "LMSNOTIFY_JWT_ISSUER"
	EnvDedupeMode             = "LMSNOTIFY_DEDUPE_MODE"
	EnvDedupeWindow           = "LMSNOTIFY_DEDUPE_WINDOW"
	EnvRedisURL               = "LMSNOTIFY_REDIS_URL"
	EnvRedisAddr              = "LMSNOTIFY_REDIS_ADDR"
	EnvGCPProjectID           = "LMSNOTIFY_GCP_PROJECT_ID"
	EnvPubSubRelayTopic       = "LMSNOTIFY_PUBSUB_RELAY_TOPIC"
	EnvDesktopPermission      = "LMSNOTIFY_DESKTOP_PERMISSION"
	EnvSoundEnabled           = "LMSNOTIFY_SOUND_ENABLED"
)
