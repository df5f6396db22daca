package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.App.Env != AppEnvDev {
		t.Fatalf("expected App.Env to default to dev, got %q", cfg.App.Env)
	}
	if cfg.Notifier.ServiceURL != "http://localhost:3001" {
		t.Fatalf("unexpected notification service url %q", cfg.Notifier.ServiceURL)
	}
	if cfg.Dedupe.NormalizedMode() != DedupeModeOff {
		t.Fatalf("expected dedupe off by default, got %q", cfg.Dedupe.Mode)
	}
	if got := cfg.Dedupe.Window; got != 10*time.Minute {
		t.Fatalf("expected dedupe window 10m, got %v", got)
	}
	if len(cfg.App.CORSOrigins) != 2 || cfg.App.CORSOrigins[0] != "http://localhost:5173" {
		t.Fatalf("unexpected default cors origins %v", cfg.App.CORSOrigins)
	}
	if cfg.JWT.Enabled() {
		t.Fatal("token login should be disabled without a secret")
	}
	if cfg.PubSub.RelayEnabled() {
		t.Fatal("relay should be disabled without a topic")
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAppEnv, "prod")
	t.Setenv(EnvNotificationServiceURL, "https://notify.example.edu")
	t.Setenv(EnvDedupeMode, "REDIS")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/2")
	t.Setenv(EnvDedupeWindow, "30s")
	t.Setenv(EnvGCPProjectID, "lms-project")
	t.Setenv(EnvPubSubRelayTopic, "assignments")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if !cfg.App.IsProd() {
		t.Fatalf("expected prod env, got %q", cfg.App.Env)
	}
	if cfg.Notifier.ServiceURL != "https://notify.example.edu" {
		t.Fatalf("unexpected service url %q", cfg.Notifier.ServiceURL)
	}
	if cfg.Dedupe.NormalizedMode() != DedupeModeRedis {
		t.Fatalf("expected redis dedupe, got %q", cfg.Dedupe.Mode)
	}
	if cfg.Dedupe.Window != 30*time.Second {
		t.Fatalf("expected 30s window, got %v", cfg.Dedupe.Window)
	}
	if !cfg.PubSub.RelayEnabled() {
		t.Fatal("expected relay enabled")
	}
}

func TestLoad_RedisDedupeRequiresRedis(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDedupeMode, DedupeModeRedis)

	if _, err := Load(); err == nil {
		t.Fatal("expected redis dedupe without redis config to fail")
	}
}

func TestLoad_DedupeWindowMustBePositive(t *testing.T) {
	for _, mode := range []string{DedupeModeMemory, DedupeModeRedis} {
		for _, window := range []string{"0s", "-5m"} {
			t.Run(mode+"/"+window, func(t *testing.T) {
				clearEnv(t)
				t.Setenv(EnvDedupeMode, mode)
				t.Setenv(EnvDedupeWindow, window)
				t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
				if _, err := Load(); err == nil {
					t.Fatalf("expected %s=%s to be rejected in %s mode", EnvDedupeWindow, window, mode)
				}
			})
		}
	}

	t.Run("off ignores window", func(t *testing.T) {
		clearEnv(t)
		t.Setenv(EnvDedupeMode, DedupeModeOff)
		t.Setenv(EnvDedupeWindow, "0s")
		if _, err := Load(); err != nil {
			t.Fatalf("expected dedupe off to ignore the window, got %v", err)
		}
	})
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "dedupe mode", key: EnvDedupeMode, val: "sometimes"},
		{name: "desktop permission", key: EnvDesktopPermission, val: "maybe"},
		{name: "service url", key: EnvNotificationServiceURL, val: "not a url"},
		{name: "relay without project", key: EnvPubSubRelayTopic, val: "assignments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", tt.key, tt.val)
			}
		})
	}
}

func TestAppConfigEnvHelpers(t *testing.T) {
	devConfig := AppConfig{Env: "DEV"}
	if !devConfig.IsDev() {
		t.Fatalf("expected IsDev true for %q", devConfig.Env)
	}
	if devConfig.IsProd() {
		t.Fatalf("expected IsProd false for %q", devConfig.Env)
	}

	prodConfig := AppConfig{Env: "prod"}
	if !prodConfig.IsProd() {
		t.Fatalf("expected IsProd true for %q", prodConfig.Env)
	}
	if prodConfig.IsDev() {
		t.Fatalf("expected IsDev false for %q", prodConfig.Env)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvAppEnv,
		EnvPort,
		EnvLogLevel,
		EnvCORSOrigins,
		EnvNotificationServiceURL,
		EnvLMSAPIURL,
		EnvJWTSecret,
		EnvJWTIssuer,
		EnvDedupeMode,
		EnvDedupeWindow,
		EnvRedisURL,
		EnvRedisAddr,
		EnvGCPProjectID,
		EnvPubSubRelayTopic,
		EnvDesktopPermission,
		EnvSoundEnabled,
	} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("failed to unset %s: %v", key, err)
		}
	}
}
