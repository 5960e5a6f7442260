package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shelfwatch.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	config := NewDefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}

	if config.Monitor.MaxConcurrent != 6 {
		t.Errorf("expected default concurrency cap of 6, got %d", config.Monitor.MaxConcurrent)
	}
	if config.Monitor.AmazonInterval != "15m" || config.Monitor.PopmartInterval != "1m" {
		t.Errorf("unexpected default intervals: %s / %s", config.Monitor.AmazonInterval, config.Monitor.PopmartInterval)
	}
	if config.Pool.JobTimeout != "30s" {
		t.Errorf("expected 30s job timeout, got %s", config.Pool.JobTimeout)
	}
}

func TestLoadFromFilesOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
environment = "production"

[server]
port = 9090

[monitor]
popmart_interval = "30s"
max_concurrent = 4
`)

	config, err := LoadFromFiles(path)
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Environment != "production" {
		t.Errorf("environment not overridden: %s", config.Environment)
	}
	if config.Server.Port != 9090 {
		t.Errorf("port not overridden: %d", config.Server.Port)
	}
	if config.Monitor.PopmartInterval != "30s" {
		t.Errorf("interval not overridden: %s", config.Monitor.PopmartInterval)
	}
	if config.Monitor.MaxConcurrent != 4 {
		t.Errorf("concurrency not overridden: %d", config.Monitor.MaxConcurrent)
	}
	// Untouched values keep their defaults.
	if config.Monitor.AmazonInterval != "15m" {
		t.Errorf("default lost on partial override: %s", config.Monitor.AmazonInterval)
	}
}

func TestLoadFromFilesRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
[monitor]
max_backoff = "five minutes"
`)

	if _, err := LoadFromFiles(path); err == nil {
		t.Error("expected validation failure for a malformed duration")
	}
}

func TestLoadFromFilesRejectsBadLevel(t *testing.T) {
	path := writeConfigFile(t, `
[logging]
level = "loud"
`)

	if _, err := LoadFromFiles(path); err == nil {
		t.Error("expected validation failure for an unknown log level")
	}
}

func TestLoadFromFilesMissingFile(t *testing.T) {
	if _, err := LoadFromFiles("/nonexistent/shelfwatch.toml"); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHELFWATCH_SERVER_PORT", "7070")
	t.Setenv("SHELFWATCH_MONITOR_MAX_CONCURRENT", "3")
	t.Setenv("SHELFWATCH_FETCHER_USER_AGENT_ROTATION", "false")

	config, err := LoadFromFiles()
	if err != nil {
		t.Fatalf("LoadFromFiles failed: %v", err)
	}

	if config.Server.Port != 7070 {
		t.Errorf("env port override not applied: %d", config.Server.Port)
	}
	if config.Monitor.MaxConcurrent != 3 {
		t.Errorf("env concurrency override not applied: %d", config.Monitor.MaxConcurrent)
	}
	if config.Fetcher.UserAgentRotation {
		t.Error("env rotation override not applied")
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()

	ApplyFlagOverrides(config, 6060, "0.0.0.0")
	if config.Server.Port != 6060 || config.Server.Host != "0.0.0.0" {
		t.Errorf("flag overrides not applied: %s:%d", config.Server.Host, config.Server.Port)
	}

	ApplyFlagOverrides(config, 0, "")
	if config.Server.Port != 6060 || config.Server.Host != "0.0.0.0" {
		t.Error("zero-value flags must not clobber existing values")
	}
}

func TestDurationHelper(t *testing.T) {
	if d := Duration("90s", time.Minute); d != 90*time.Second {
		t.Errorf("expected 90s, got %s", d)
	}
	if d := Duration("", time.Minute); d != time.Minute {
		t.Errorf("empty string must fall back, got %s", d)
	}
	if d := Duration("garbage", time.Minute); d != time.Minute {
		t.Errorf("malformed string must fall back, got %s", d)
	}
}
