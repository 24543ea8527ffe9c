package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sifan077/PoolURL/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestFromConfig(t *testing.T) {
	got := FromConfig(&config.Config{
		Server: config.ServerConfig{Env: "production"},
		Log:    config.LogConfig{Level: "warn", Encoding: "json"},
	})
	if got.Development || got.Level != "warn" || got.Encoding != "json" {
		t.Fatalf("unexpected production config %+v", got)
	}

	got = FromConfig(&config.Config{Server: config.ServerConfig{Env: "development"}})
	if !got.Development {
		t.Fatalf("expected development config, got %+v", got)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if _, err := New(Config{Encoding: "xml"}); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "WARN", Encoding: "json", Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	l.Named("pool").Info("dropped")
	l.Named("pool").Warn("pool low", zap.Int("reserved", 1))
	_ = l.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warn line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	if entry["level"] != "warn" || entry["logger"] != "pool" || entry["msg"] != "pool low" || entry["reserved"] != float64(1) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestConsoleOutputWithoutColours(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Development: true, Output: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Debug("claimed", zap.String("token", "aB3dE"))

	out := buf.String()
	if !strings.Contains(out, "DEBUG | ") || !strings.Contains(out, "claimed") || strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected console line %q", out)
	}
}

func TestInitAndSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := Init(Config{Level: "error", Encoding: "json", Output: &buf})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if L() != l {
		t.Fatal("global logger not replaced")
	}
	if Named("pool").Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("warn should be disabled at error level")
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if !Named("pool").Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug should be enabled after SetLevel")
	}
	if err := SetLevel("nope"); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}
