package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEffectiveFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "127.0.0.1"
  port: 9000
  max_frame_bytes: "64KB"
security:
  jwt_secret: "file-secret"
storage:
  messages_path: "/tmp/doc.json"
  read_retry:
    attempts: 3
    delay: "25ms"
llm:
  model: "llama3"
`)
	cfg, source, err := LoadEffective(path)
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if source != "config" {
		t.Fatalf("expected source config, got %q", source)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.Server.MaxFrameBytes.Int64() != 64*1000 && cfg.Server.MaxFrameBytes.Int64() != 64*1024 {
		t.Fatalf("unexpected max frame %d", cfg.Server.MaxFrameBytes.Int64())
	}
	if cfg.Storage.ReadRetry.Attempts != 3 {
		t.Fatalf("attempts = %d", cfg.Storage.ReadRetry.Attempts)
	}
	if cfg.Storage.ReadRetry.Delay.Duration() != 25*time.Millisecond {
		t.Fatalf("delay = %v", cfg.Storage.ReadRetry.Delay.Duration())
	}
	if cfg.LLM.Model != "llama3" {
		t.Fatalf("model = %q", cfg.LLM.Model)
	}
	// defaults fill the rest
	if cfg.LLM.Temperature != 0.7 || cfg.LLM.TopK != 40 {
		t.Fatalf("llm defaults not applied: %+v", cfg.LLM)
	}
}

func TestLoadEffectiveDefaultsWhenFileMissing(t *testing.T) {
	cfg, source, err := LoadEffective(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if source != "defaults" {
		t.Fatalf("expected source defaults, got %q", source)
	}
	if cfg.Addr() != ":8022" {
		t.Fatalf("unexpected default addr %q", cfg.Addr())
	}
	if cfg.Storage.ReadRetry.Attempts != 5 || cfg.Storage.ReadRetry.Delay.Duration() != 100*time.Millisecond {
		t.Fatalf("unexpected default retry %+v", cfg.Storage.ReadRetry)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CHATRELAY_ADDR", "0.0.0.0:7777")
	t.Setenv("CHATRELAY_JWT_SECRET", "env-secret")
	t.Setenv("CHATRELAY_READ_RETRY_DELAY", "5ms")

	cfg, source, err := LoadEffective("")
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if source != "env" {
		t.Fatalf("expected source env, got %q", source)
	}
	if cfg.Addr() != "0.0.0.0:7777" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
	if cfg.Security.JWTSecret != "env-secret" {
		t.Fatalf("jwt secret not applied")
	}
	if cfg.Storage.ReadRetry.Delay.Duration() != 5*time.Millisecond {
		t.Fatalf("retry delay not applied: %v", cfg.Storage.ReadRetry.Delay.Duration())
	}
}
