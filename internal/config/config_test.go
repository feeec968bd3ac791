package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
storage:
  table: companion_memory_test
chat:
  telegram_token: "tok"
llm:
  anthropic_api_key: "key"
users:
  U1:
    chat_id: "chat-1"
    timezone: "America/New_York"
`

func TestLoad_ParsesTopologyAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.Table != "companion_memory_test" {
		t.Fatalf("expected table override to stick, got %q", cfg.Storage.Table)
	}
	if cfg.LLM.Model == "" {
		t.Fatalf("expected default LLM model to be applied")
	}
	if cfg.HTTP.Bind != ":8080" {
		t.Fatalf("expected default bind, got %q", cfg.HTTP.Bind)
	}
	u1, ok := cfg.Users["U1"]
	if !ok || u1.ChatID != "chat-1" {
		t.Fatalf("expected user U1 to be parsed, got %+v", cfg.Users)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadSchedulerConfig_Defaults(t *testing.T) {
	sc := LoadSchedulerConfig(nil)

	if sc.PollInterval != 30*time.Second {
		t.Fatalf("expected default poll interval 30s, got %v", sc.PollInterval)
	}
	if sc.BatchLimit != 25 {
		t.Fatalf("expected default batch limit 25, got %d", sc.BatchLimit)
	}
	if sc.Lease != 60*time.Second {
		t.Fatalf("expected default lease 60s, got %v", sc.Lease)
	}
	if sc.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts 5, got %d", sc.MaxAttempts)
	}
	if sc.Concurrency != 8 {
		t.Fatalf("expected default concurrency 8, got %d", sc.Concurrency)
	}
	if sc.EnableHeartbeat {
		t.Fatalf("expected heartbeat disabled by default")
	}
}

func TestLoadSchedulerConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_SECONDS", "5")
	t.Setenv("BATCH_LIMIT", "10")
	t.Setenv("ENABLE_HEARTBEAT", "true")
	t.Setenv("DAILY_SUMMARY_USERS", "U1, U2")

	sc := LoadSchedulerConfig([]string{"fallback"})

	if sc.PollInterval != 5*time.Second {
		t.Fatalf("expected overridden poll interval 5s, got %v", sc.PollInterval)
	}
	if sc.BatchLimit != 10 {
		t.Fatalf("expected overridden batch limit 10, got %d", sc.BatchLimit)
	}
	if !sc.EnableHeartbeat {
		t.Fatalf("expected heartbeat enabled via env override")
	}
	if len(sc.DailySummaryUsers) != 2 || sc.DailySummaryUsers[0] != "U1" || sc.DailySummaryUsers[1] != "U2" {
		t.Fatalf("expected parsed user list, got %v", sc.DailySummaryUsers)
	}
}

func TestLoadSchedulerConfig_FallsBackToDefaultUsers(t *testing.T) {
	sc := LoadSchedulerConfig([]string{"U1", "U2"})

	if len(sc.WorkSamplingUsers) != 2 {
		t.Fatalf("expected default users to seed work sampling planner, got %v", sc.WorkSamplingUsers)
	}
}
