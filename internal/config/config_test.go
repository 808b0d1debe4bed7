package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	m := cfg.Machine
	if m.Currency != "KRW" {
		t.Errorf("expected KRW, got %q", m.Currency)
	}
	if len(m.Coins) != 2 || m.Coins[0] != 100 || m.Coins[1] != 500 {
		t.Errorf("unexpected coins %v", m.Coins)
	}
	if len(m.Bills) != 3 || m.Bills[2] != 10000 {
		t.Errorf("unexpected bills %v", m.Bills)
	}
	if m.MaxBalance != 10000 {
		t.Errorf("expected cap 10000, got %d", m.MaxBalance)
	}
	if m.CardTimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", m.CardTimeout)
	}
	if m.ReserveCount != 10 {
		t.Errorf("expected reserve 10, got %d", m.ReserveCount)
	}
	if cfg.ServerAddress() != "127.0.0.1:5051" {
		t.Errorf("unexpected address %q", cfg.ServerAddress())
	}
	if cfg.Journal.Path != "" {
		t.Errorf("expected journal disabled by default, got %q", cfg.Journal.Path)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VM_CURRENCY", "USD")
	t.Setenv("VM_COINS", "25,50")
	t.Setenv("VM_BILLS", "1000")
	t.Setenv("VM_MAX_BALANCE", "5000")
	t.Setenv("VM_CARD_TIMEOUT", "30s")
	t.Setenv("VM_CARD_TIERS", "200")
	t.Setenv("SERVER_PORT", "8080")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cashCfg := cfg.Machine.CashConfig()
	if cashCfg.Currency != "USD" || cashCfg.MaxBalance != 5000 || cashCfg.Coins[1] != 50 {
		t.Errorf("unexpected cash config %+v", cashCfg)
	}
	cardCfg := cfg.Machine.CardConfig()
	if cardCfg.Timeout != 30*time.Second || cardCfg.Tiers[0] != 200 {
		t.Errorf("unexpected card config %+v", cardCfg)
	}
	if !strings.HasSuffix(cfg.ServerAddress(), ":8080") {
		t.Errorf("unexpected address %q", cfg.ServerAddress())
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := map[string]string{
		"VM_COINS":        "1500",
		"VM_CARD_TIMEOUT": "100ms",
		"VM_MAX_BALANCE":  "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to fail", key, value)
			}
		})
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("VM_MAX_BALANCE", "lots")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestAllowedOriginFallsBackToEnvironmentSetting(t *testing.T) {
	t.Setenv("ENVIRONMENT", "prod")
	t.Setenv("ALLOWED_ORIGIN_PROD", "https://kiosk.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.AllowedOrigin != "https://kiosk.example" {
		t.Fatalf("expected env-based origin, got %q", cfg.Server.AllowedOrigin)
	}
}

func TestLoadEnvReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("VM_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)
	t.Setenv("VM_TEST_DOTENV", "")
	os.Unsetenv("VM_TEST_DOTENV")

	LoadEnv()
	if got := os.Getenv("VM_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("expected .env value, got %q", got)
	}
}

func TestLoggerConfig(t *testing.T) {
	t.Setenv("LOGS_DIRECTORY", "/var/log/vending")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	lc := cfg.LoggerConfig()
	if lc.LogsDirectory != "/var/log/vending" || lc.Level != "info" {
		t.Fatalf("unexpected logger config %+v", lc)
	}
}
