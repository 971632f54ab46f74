package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LOCK_TIMEOUT_MS", "EXPIRY_WARNING_DAYS", "DOWNPAYMENT_MINIMUM", "LOG_LEVEL", "SERVICE_NAME", "PORT"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.LockTimeout != 3*time.Second {
		t.Fatalf("expected 3s lock timeout, got %s", cfg.LockTimeout)
	}
	if cfg.ExpiryWarningDays != 2 {
		t.Fatalf("expected 2 warning days, got %d", cfg.ExpiryWarningDays)
	}
	if !cfg.DownpaymentMinimum.Equal(decimal.NewFromInt(10000)) {
		t.Fatalf("expected 10000 down-payment minimum, got %s", cfg.DownpaymentMinimum)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("expected info level, got %s", cfg.LogLevel)
	}
	if cfg.ServiceName != "bloompos" || cfg.Address() != ":8080" {
		t.Fatalf("unexpected defaults %q %q", cfg.ServiceName, cfg.Address())
	}
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT_MS", "750")
	t.Setenv("EXPIRY_WARNING_DAYS", "-3")
	t.Setenv("DOWNPAYMENT_MINIMUM", "5000.50")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.LockTimeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms lock timeout, got %s", cfg.LockTimeout)
	}
	if cfg.ExpiryWarningDays != 2 {
		t.Fatalf("expected invalid warning days to fall back to 2, got %d", cfg.ExpiryWarningDays)
	}
	if !cfg.DownpaymentMinimum.Equal(decimal.RequireFromString("5000.50")) {
		t.Fatalf("expected 5000.50 minimum, got %s", cfg.DownpaymentMinimum)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.LogLevel)
	}
}

func TestExpiryWarningDaysAllowsZero(t *testing.T) {
	t.Setenv("EXPIRY_WARNING_DAYS", "0")

	cfg := Load()
	if cfg.ExpiryWarningDays != 0 {
		t.Fatalf("expected 0 warning days to be kept, got %d", cfg.ExpiryWarningDays)
	}
}
