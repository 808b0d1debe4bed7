package logger

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceCapturesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	defer restore()

	LogInfo("dispensed %s", "cola")
	LogWarn("low stock for %s", "water")
	Named("machine").Info("mode changed", zap.String("mode", "CASH"))

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Message != "dispensed cola" {
		t.Errorf("unexpected message %q", entries[0].Message)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("expected warn level, got %v", entries[1].Level)
	}
	if entries[2].LoggerName != "machine" || entries[2].ContextMap()["mode"] != "CASH" {
		t.Errorf("unexpected structured entry %+v", entries[2])
	}
}

func TestSetupLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	done := make(chan error, 1)
	go func() {
		done <- SetupLogger(Config{LogsDirectory: dir, LogFileFormat: "test_%s.log", TimeZone: "UTC", Level: "info"})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("setup logger: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("SetupLogger did not return")
	}
	defer Close()

	if !IsInitialized() {
		t.Fatal("expected logger to be initialized")
	}
	if err := SetupLogger(Config{LogsDirectory: dir}); err == nil {
		t.Fatal("expected second setup to fail")
	}

	LogInfo("hello %d", 42)
	_ = L().Sync()

	if filepath.Dir(GetLogFilePath()) != dir {
		t.Fatalf("expected log file in %s, got %s", dir, GetLogFilePath())
	}
	data, err := os.ReadFile(GetLogFilePath())
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Logger initialized") {
		t.Errorf("expected the startup line in file, got %q", string(data))
	}
	if !strings.Contains(string(data), "hello 42") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/state", nil)
	r.RemoteAddr = "10.0.0.5:1234"
	if got := GetClientIP(r); got != "10.0.0.5" {
		t.Errorf("expected remote addr host, got %q", got)
	}

	r.Header.Set("X-Real-IP", "10.0.0.9")
	if got := GetClientIP(r); got != "10.0.0.9" {
		t.Errorf("expected X-Real-IP, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	if got := GetClientIP(r); got != "192.168.1.1" {
		t.Errorf("expected first forwarded address, got %q", got)
	}
}
