//go:build !integration

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"korean-tutor-billing/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("should apply defaults in dev mode without a file", func(t *testing.T) {
		cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.Runtime.Dev || !cfg.Features.Payments {
			t.Errorf("unexpected runtime %+v features %+v", cfg.Runtime, cfg.Features)
		}
		if cfg.HTTP.Addr != ":8080" || cfg.Auth.PaymentPageTTL != 30*time.Minute || cfg.Scheduler.GracePeriod != 5*time.Minute {
			t.Errorf("defaults not applied: %+v", cfg)
		}
	})

	t.Run("should require backends outside dev mode", func(t *testing.T) {
		path := writeConfig(t, "log:\n  level: debug\n")
		if _, err := config.Load(path, false); err == nil {
			t.Fatal("expected a validation error")
		}
	})

	t.Run("should let the environment override secrets", func(t *testing.T) {
		path := writeConfig(t, `
database:
  url: postgres://file
redis:
  url: redis://localhost:6379/0
gateway:
  key_id: rzp_test
  key_secret: from-file
auth:
  session_secret: s1
  payment_page_secret: s2
features:
  payments: true
scheduler:
  recovery_cron: "*/2 * * * *"
`)
		t.Setenv("DATABASE_URL", "postgres://env")
		t.Setenv("GATEWAY_KEY_SECRET", "from-env")
		t.Setenv("FEATURE_PAYMENTS", "false")

		cfg, err := config.Load(path, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Database.URL != "postgres://env" || cfg.Gateway.KeySecret != "from-env" {
			t.Errorf("env overrides not applied: %+v %+v", cfg.Database, cfg.Gateway)
		}
		if cfg.Features.Payments {
			t.Error("expected payments disabled by env")
		}
		if cfg.Scheduler.RecoveryCron != "*/2 * * * *" || cfg.Scheduler.LifecycleCron != "@every 15m" {
			t.Errorf("unexpected scheduler %+v", cfg.Scheduler)
		}
	})

	t.Run("should refuse a shared token secret", func(t *testing.T) {
		path := writeConfig(t, `
database: {url: postgres://x}
redis: {url: redis://x}
gateway: {key_id: a, key_secret: b}
auth: {session_secret: same, payment_page_secret: same}
`)
		if _, err := config.Load(path, false); err == nil {
			t.Fatal("expected a validation error")
		}
	})
}
